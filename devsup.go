package devsup

import (
	"net/http"

	cfg "github.com/vidforge/devsup/internal/config"
	"github.com/vidforge/devsup/internal/history"
	"github.com/vidforge/devsup/internal/history/factory"
	"github.com/vidforge/devsup/internal/probe"
	"github.com/vidforge/devsup/internal/registry"
	isrv "github.com/vidforge/devsup/internal/server"
	"github.com/vidforge/devsup/internal/supervisor"
	"github.com/vidforge/devsup/internal/workflow"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type ServiceSpec = registry.ServiceSpec

type ServiceStatus = supervisor.ServiceStatus

type ShutdownResult = supervisor.ShutdownResult

type StartResult = supervisor.StartResult

type HealthState = probe.HealthState

type HistorySink = history.Sink

type WorkflowStatus = workflow.Status

// Supervisor is a thin facade over internal/supervisor.Supervisor.
// It provides a stable public API for embedding.
type Supervisor struct{ inner *supervisor.Supervisor }

// New builds a supervisor over the given service specs.
func New(specs []ServiceSpec) (*Supervisor, error) {
	reg, err := registry.New(specs)
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: supervisor.New(reg)}, nil
}

// NewDefault builds a supervisor over the built-in backend/frontend registry.
func NewDefault() *Supervisor {
	return &Supervisor{inner: supervisor.New(registry.Default())}
}

// NewFromConfig builds a supervisor from a TOML config file.
func NewFromConfig(path string) (*Supervisor, error) {
	fc, err := cfg.Load(path)
	if err != nil {
		return nil, err
	}
	reg, err := fc.Registry()
	if err != nil {
		return nil, err
	}
	return &Supervisor{inner: supervisor.New(reg)}, nil
}

func (s *Supervisor) SetHistorySink(sink HistorySink) { s.inner.SetHistorySink(sink) }

func (s *Supervisor) Status() []ServiceStatus { return s.inner.Status() }

func (s *Supervisor) Start(name string) (StartResult, error) {
	spec, ok := s.inner.Registry().Find(name)
	if !ok {
		return StartResult{}, unknownService(name)
	}
	return s.inner.Start(&spec), nil
}

func (s *Supervisor) Stop(name string) (ShutdownResult, error) {
	spec, ok := s.inner.Registry().Find(name)
	if !ok {
		return ShutdownResult{}, unknownService(name)
	}
	return s.inner.Stop(&spec), nil
}

func (s *Supervisor) FreePort(port int) bool { return s.inner.FreePort(port) }

func (s *Supervisor) ResolvePortConflict(primary, alternative int) int {
	return s.inner.ResolvePortConflict(primary, alternative)
}

// Handler exposes the supervisor's read-only HTTP API for embedding into an
// existing server.
func (s *Supervisor) Handler(basePath string) http.Handler {
	return isrv.NewRouter(s.inner, basePath).Handler()
}

// NewHistorySink creates an audit sink from a DSN (sqlite path or
// postgres:// URL).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

// NewWorkflowClient returns a client for the supervised backend's workflow
// API.
func NewWorkflowClient(baseURL string) *workflow.Client {
	return workflow.NewClient(baseURL, 0)
}

type errUnknownService struct{ name string }

func (e errUnknownService) Error() string { return "unknown service: " + e.name }

func unknownService(name string) error { return errUnknownService{name: name} }
