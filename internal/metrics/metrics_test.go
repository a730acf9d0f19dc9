package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestHelpersNoopBeforeRegister(t *testing.T) {
	// Must not panic or register anything implicitly.
	IncStart("svc", "healthy")
	IncStop("svc", "graceful")
	IncPortFree("freed")
	IncHealthProbe("svc", "unknown")
	SetServiceUp("svc", true)
}

func TestRegisterAndRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("Register: %v", err)
	}
	// Second call is a no-op.
	if err := Register(reg); err != nil {
		t.Fatalf("Register twice: %v", err)
	}

	IncStart("backend", "healthy")
	IncStop("backend", "graceful")
	IncPortFree("freed")
	SetServiceUp("backend", true)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	found := map[string]bool{}
	for _, mf := range mfs {
		found[mf.GetName()] = true
	}
	for _, want := range []string{
		"devsup_service_starts_total",
		"devsup_service_stops_total",
		"devsup_port_frees_total",
		"devsup_service_up",
	} {
		if !found[want] {
			t.Errorf("metric %s not gathered; have %v", want, found)
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	srv := httptest.NewServer(Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("metrics handler: HTTP %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
}
