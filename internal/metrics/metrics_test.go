package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestModuleCounters(t *testing.T) {
	registry := NewRegistry()
	registry.IncModuleStart("aw-watcher-afk")
	registry.IncModuleStart("aw-watcher-afk")
	registry.IncModuleCrash("aw-watcher-afk")
	registry.SetModulesRunning(2)

	if got := testutil.ToFloat64(registry.moduleStarts.WithLabelValues("aw-watcher-afk")); got != 2 {
		t.Fatalf("expected 2 starts, got %v", got)
	}
	if got := testutil.ToFloat64(registry.moduleCrashes.WithLabelValues("aw-watcher-afk")); got != 1 {
		t.Fatalf("expected 1 crash, got %v", got)
	}
	if got := testutil.ToFloat64(registry.modulesRunning); got != 2 {
		t.Fatalf("expected 2 running, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	registry := NewRegistry()
	registry.IncBusDropped("modules", "module_started")

	recorder := httptest.NewRecorder()
	registry.Handler().ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(recorder.Body)
	if !strings.Contains(string(body), `awdesk_event_bus_dropped_total{bus="modules",type="module_started"} 1`) {
		t.Fatalf("expected dropped counter in exposition, got:\n%s", body)
	}
}

func TestNilRegistryIsSafe(t *testing.T) {
	var registry *Registry
	registry.IncModuleStart("x")
	registry.SetModulesDiscovered(1)
	registry.SetBusSubscribers("modules", 1)
}
