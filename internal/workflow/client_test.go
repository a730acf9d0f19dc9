package workflow

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/workflow/workflow/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":{
			"topics":{"total":12,"approved":5},
			"scripts":{"total":5,"produced":3},
			"projects":{"total":3,"produced":2},
			"publishing":{"total":2,"published":2}
		}}`))
	})
	mux.HandleFunc("POST /api/workflow/workflow/run-full", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"message":"workflow started"}`))
	})
	return httptest.NewServer(mux)
}

func TestStatusCounts(t *testing.T) {
	srv := fakeBackend(t)
	defer srv.Close()

	ws, err := NewClient(srv.URL, time.Second).Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if ws.Topics.Total != 12 || ws.Topics.Approved != 5 {
		t.Fatalf("topics: %+v", ws.Topics)
	}
	// Scripts progress by produced, not approved.
	if ws.Scripts.Total != 5 || ws.Scripts.Produced != 3 {
		t.Fatalf("scripts: %+v", ws.Scripts)
	}
	if ws.Projects.Produced != 2 {
		t.Fatalf("projects: %+v", ws.Projects)
	}
	if ws.Publishing.Published != 2 {
		t.Fatalf("publishing: %+v", ws.Publishing)
	}
}

func TestStatusRejectsNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	if _, err := NewClient(srv.URL, time.Second).Status(); err == nil {
		t.Fatalf("expected error on HTTP 500")
	}
}

func TestRunFull(t *testing.T) {
	srv := fakeBackend(t)
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).RunFull()
	if err != nil {
		t.Fatalf("RunFull: %v", err)
	}
	if !res.Success || res.Message != "workflow started" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestRunFullReportsBackendFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"success":false,"message":"workflow already running"}`))
	}))
	defer srv.Close()

	res, err := NewClient(srv.URL, time.Second).RunFull()
	if err != nil {
		t.Fatalf("a structured failure is not a transport error: %v", err)
	}
	if res.Success {
		t.Fatalf("expected success=false")
	}
	if res.Message != "workflow already running" {
		t.Fatalf("message: %q", res.Message)
	}
}

func TestRunFullUnreachable(t *testing.T) {
	if _, err := NewClient("http://127.0.0.1:1", 200*time.Millisecond).RunFull(); err == nil {
		t.Fatalf("expected transport error against a dead backend")
	}
}
