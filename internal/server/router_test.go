package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vidforge/devsup/internal/registry"
	"github.com/vidforge/devsup/internal/supervisor"
)

func newTestRouter(t *testing.T) *Router {
	t.Helper()
	reg, err := registry.New([]registry.ServiceSpec{
		{Name: "backend", Patterns: []string{"no-such-process-router-test"}},
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return NewRouter(supervisor.New(reg), "/api")
}

func TestHealthzEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz: HTTP %d", resp.StatusCode)
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Fatalf("status: %q", body.Status)
	}
}

func TestStatusEndpointListsServices(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: HTTP %d", resp.StatusCode)
	}
	var statuses []supervisor.ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&statuses); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(statuses) != 1 || statuses[0].Name != "backend" {
		t.Fatalf("unexpected statuses: %+v", statuses)
	}
	if statuses[0].Overall != supervisor.StateStopped {
		t.Fatalf("expected stopped, got %s", statuses[0].Overall)
	}
}

func TestStatusEndpointSingleService(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/status?name=backend")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: HTTP %d", resp.StatusCode)
	}
	var st supervisor.ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if st.Name != "backend" {
		t.Fatalf("name: %q", st.Name)
	}

	resp2, err := http.Get(srv.URL + "/api/status?name=nosuch")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp2.Body.Close() }()
	if resp2.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown service: HTTP %d", resp2.StatusCode)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := httptest.NewServer(newTestRouter(t).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics: HTTP %d", resp.StatusCode)
	}
}

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":      "",
		"api":   "/api",
		"/api":  "/api",
		"/api/": "/api",
		"/":     "/",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Errorf("sanitizeBase(%q) = %q, want %q", in, got, want)
		}
	}
}
