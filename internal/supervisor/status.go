package supervisor

import (
	"github.com/vidforge/devsup/internal/probe"
)

// OverallState is the derived per-service state for one status check.
type OverallState string

const (
	StateStopped          OverallState = "stopped"
	StateRunningUnhealthy OverallState = "running-unhealthy"
	StateRunningHealthy   OverallState = "running-healthy"
)

func (s OverallState) String() string { return string(s) }

// ServiceStatus is computed fresh on every invocation from the live OS
// tables; it is never persisted and has no identity beyond the current run.
type ServiceStatus struct {
	Name           string            `json:"name"`
	ProcessRunning bool              `json:"process_running"`
	PIDs           []int32           `json:"pids,omitempty"`
	PortOccupied   map[int]bool      `json:"port_occupied"`
	Health         probe.HealthState `json:"health"`
	HealthMessage  string            `json:"health_message,omitempty"`
	Overall        OverallState      `json:"overall"`
	AccessURL      string            `json:"access_url,omitempty"`
}

// ShutdownResult reports one stop sequence. StillRunning is true only when
// both the graceful and the forced attempt left matching processes behind.
type ShutdownResult struct {
	Service           string `json:"service"`
	Attempted         bool   `json:"attempted"`
	SucceededGraceful bool   `json:"succeeded_graceful"`
	SucceededForced   bool   `json:"succeeded_forced"`
	StillRunning      bool   `json:"still_running"`
}

// Stopped reports whether the service ended in a stopped state.
func (r ShutdownResult) Stopped() bool { return !r.StillRunning }

// StartResult reports one launch attempt. When Launched is true but Healthy
// is false the process was left running for diagnosis; a false-negative
// health check during slow startup is more likely than a genuinely dead
// service, and killing on suspicion would be worse.
type StartResult struct {
	Service  string `json:"service"`
	Launched bool   `json:"launched"`
	PID      int    `json:"pid,omitempty"`
	Port     int    `json:"port"`
	Healthy  bool   `json:"healthy"`
	Err      error  `json:"-"`
}
