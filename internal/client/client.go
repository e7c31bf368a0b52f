// Package client talks to a running instance's control API.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"awdesk/internal/modules"
)

// AppName identifies this application in /api/status responses.
const AppName = "awdesk"

// Status is the /api/status payload.
type Status struct {
	App          string  `json:"app" yaml:"app"`
	Version      string  `json:"version" yaml:"version"`
	InstanceID   string  `json:"instance_id" yaml:"instance_id"`
	Port         int     `json:"port" yaml:"port"`
	ControlPort  int     `json:"control_port" yaml:"control_port"`
	DashboardURL string  `json:"dashboard_url" yaml:"dashboard_url"`
	FirstRun     bool    `json:"first_run" yaml:"first_run"`
	Uptime       float64 `json:"uptime_seconds" yaml:"uptime_seconds"`
}

type HTTPError struct {
	StatusCode int
	Message    string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPClient returns a client with a timeout suited to localhost calls.
func NewHTTPClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

// BaseURL returns the control API root for port.
func BaseURL(port int) string {
	return fmt.Sprintf("http://127.0.0.1:%d", port)
}

func FetchStatus(ctx context.Context, client *http.Client, baseURL string) (Status, error) {
	var status Status
	if err := doJSON(ctx, client, http.MethodGet, baseURL, "/api/status", http.StatusOK, &status); err != nil {
		return Status{}, err
	}
	return status, nil
}

// IsInstance reports whether baseURL is served by this application.
func IsInstance(ctx context.Context, client *http.Client, baseURL string) bool {
	status, err := FetchStatus(ctx, client, baseURL)
	return err == nil && status.App == AppName
}

func FetchModules(ctx context.Context, client *http.Client, baseURL string) ([]modules.Status, error) {
	var statuses []modules.Status
	if err := doJSON(ctx, client, http.MethodGet, baseURL, "/api/modules", http.StatusOK, &statuses); err != nil {
		return nil, err
	}
	return statuses, nil
}

func StartModule(ctx context.Context, client *http.Client, baseURL, name string) (modules.Status, error) {
	return moduleAction(ctx, client, baseURL, name, "start")
}

func StopModule(ctx context.Context, client *http.Client, baseURL, name string) (modules.Status, error) {
	return moduleAction(ctx, client, baseURL, name, "stop")
}

// RefreshModules asks the instance to rescan its discovery directories.
func RefreshModules(ctx context.Context, client *http.Client, baseURL string) ([]string, error) {
	var payload struct {
		Modules []string `json:"modules"`
	}
	if err := doJSON(ctx, client, http.MethodPost, baseURL, "/api/modules/refresh", http.StatusOK, &payload); err != nil {
		return nil, err
	}
	return payload.Modules, nil
}

func moduleAction(ctx context.Context, client *http.Client, baseURL, name, action string) (modules.Status, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return modules.Status{}, errors.New("module name is required")
	}
	var status modules.Status
	path := "/api/modules/" + url.PathEscape(name) + "/" + action
	if err := doJSON(ctx, client, http.MethodPost, baseURL, path, http.StatusAccepted, &status); err != nil {
		return modules.Status{}, err
	}
	return status, nil
}

func doJSON(ctx context.Context, client *http.Client, method, baseURL, path string, want int, out any) error {
	client = ensureClient(client)
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		return errors.New("base URL is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	request, err := http.NewRequestWithContext(ctx, method, baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	request.Header.Set("Accept", "application/json")

	response, err := client.Do(request)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", path, err)
	}
	defer response.Body.Close()

	if response.StatusCode != want {
		message := readErrorMessage(response)
		return &HTTPError{StatusCode: response.StatusCode, Message: message}
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(response.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func ensureClient(client *http.Client) *http.Client {
	if client != nil {
		return client
	}
	return http.DefaultClient
}

func readErrorMessage(response *http.Response) string {
	if response == nil {
		return "request failed"
	}
	body, _ := io.ReadAll(response.Body)
	text := strings.TrimSpace(string(body))
	if text == "" {
		return response.Status
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if strings.TrimSpace(payload.Message) != "" {
			return payload.Message
		}
		if strings.TrimSpace(payload.Error) != "" {
			return payload.Error
		}
	}
	return text
}
