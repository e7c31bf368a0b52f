package api

import (
	"encoding/json"
	"net/http"
)

// errorBody is the JSON envelope for every failed request. Error repeats
// Message for clients that only read that key.
type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
}

var statusCodes = map[int]string{
	http.StatusBadRequest:         "invalid_request",
	http.StatusForbidden:          "forbidden",
	http.StatusNotFound:           "not_found",
	http.StatusMethodNotAllowed:   "method_not_allowed",
	http.StatusConflict:           "conflict",
	http.StatusServiceUnavailable: "service_unavailable",
}

func errorCode(status int) string {
	if code, ok := statusCodes[status]; ok {
		return code
	}
	if status >= http.StatusInternalServerError {
		return "internal_error"
	}
	return ""
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, apiErr *apiError) {
	if apiErr == nil {
		return
	}
	code := apiErr.Code
	if code == "" {
		code = errorCode(apiErr.Status)
	}
	writeJSON(w, apiErr.Status, errorBody{Message: apiErr.Message, Error: apiErr.Message, Code: code})
}
