// Package supervisor orchestrates start, stop, status and port-conflict
// resolution for the registered dev services. It holds no state of its own:
// the OS process and socket tables are the single source of truth, re-read
// on every check.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/vidforge/devsup/internal/history"
	"github.com/vidforge/devsup/internal/metrics"
	"github.com/vidforge/devsup/internal/probe"
	"github.com/vidforge/devsup/internal/proctable"
	"github.com/vidforge/devsup/internal/reaper"
	"github.com/vidforge/devsup/internal/registry"
)

// Health retry policy for start. Kept small: a service that needs more than
// five probes is reported unconfirmed and left running for diagnosis.
const (
	startProbeAttempts = 5
	startProbeBackoff  = 1 * time.Second
)

type Supervisor struct {
	reg  *registry.Registry
	log  *slog.Logger
	sink history.Sink

	mu      sync.Mutex
	spawned []int32 // PIDs launched by this invocation, for interrupt cleanup
}

func New(reg *registry.Registry) *Supervisor {
	return &Supervisor{reg: reg, log: slog.Default()}
}

func (s *Supervisor) SetLogger(l *slog.Logger) {
	if l != nil {
		s.log = l
	}
}

// SetHistorySink wires an optional audit sink. Auditing is best-effort and
// never alters supervisor behavior.
func (s *Supervisor) SetHistorySink(sink history.Sink) { s.sink = sink }

// Registry returns the registry this supervisor operates on.
func (s *Supervisor) Registry() *registry.Registry { return s.reg }

// Status computes a fresh ServiceStatus for every registered service.
// Read-only: two back-to-back calls with no intervening process changes
// return identical results.
func (s *Supervisor) Status() []ServiceStatus {
	specs := s.reg.Services()
	out := make([]ServiceStatus, 0, len(specs))
	for i := range specs {
		out = append(out, s.StatusOf(&specs[i]))
	}
	return out
}

// StatusOf computes the status of one service from the live OS tables plus
// a bounded health probe. Port occupation by a foreign process does not
// imply the service is running; only a command-line pattern match does.
func (s *Supervisor) StatusOf(spec *registry.ServiceSpec) ServiceStatus {
	st := ServiceStatus{
		Name:         spec.Name,
		PortOccupied: make(map[int]bool, len(spec.Ports)),
		Health:       probe.Unknown,
		AccessURL:    spec.AccessURL,
	}

	pids, err := proctable.MatchingPIDs(proctable.NewMatcher(spec.Patterns))
	if err != nil {
		s.log.Warn("process table scan failed", "service", spec.Name, "error", err)
	}
	st.PIDs = pids
	st.ProcessRunning = len(pids) > 0

	for _, port := range spec.Ports {
		occupied, err := proctable.PortOccupied(port)
		if err != nil {
			s.log.Warn("socket table scan failed", "port", port, "error", err)
		}
		st.PortOccupied[port] = occupied
	}

	if spec.HealthURL != "" {
		state, body := probe.Health(spec.HealthURL, spec.Timeout())
		st.Health = state
		st.HealthMessage = body.Message
	} else if st.ProcessRunning && probe.Port(spec.PrimaryPort(), spec.Timeout()) {
		// No health endpoint: bare port connectivity is the best liveness
		// signal available.
		st.Health = probe.Healthy
	}
	metrics.IncHealthProbe(spec.Name, st.Health.String())

	switch {
	case !st.ProcessRunning:
		st.Overall = StateStopped
	case st.Health == probe.Healthy:
		st.Overall = StateRunningHealthy
	default:
		st.Overall = StateRunningUnhealthy
	}
	metrics.SetServiceUp(spec.Name, st.Overall == StateRunningHealthy)
	return st
}

// Stop runs the two-phase shutdown for one service: graceful signal to every
// matching process, a grace period, then a forced signal to the survivors
// and a settle period. The graceful phase is never skipped; it is what lets
// the target flush state and close sockets cleanly.
func (s *Supervisor) Stop(spec *registry.ServiceSpec) ShutdownResult {
	res := ShutdownResult{Service: spec.Name}
	m := proctable.NewMatcher(spec.Patterns)

	pids, err := proctable.MatchingPIDs(m)
	if err != nil {
		s.log.Warn("process table scan failed", "service", spec.Name, "error", err)
	}
	if len(pids) == 0 {
		// Idempotent no-op: already stopped is success.
		metrics.IncStop(spec.Name, "noop")
		return res
	}
	res.Attempted = true

	s.log.Info("stopping service", "service", spec.Name, "pids", pids)
	for _, pid := range pids {
		if err := reaper.Kill(pid, reaper.Graceful); err != nil {
			s.log.Warn("graceful signal failed", "service", spec.Name, "pid", pid, "error", err)
		}
	}
	if waitMatchClear(m, spec.Grace()) {
		res.SucceededGraceful = true
		metrics.IncStop(spec.Name, "graceful")
		s.recordStop(spec.Name, "graceful")
		return res
	}

	pids, _ = proctable.MatchingPIDs(m)
	s.log.Warn("service survived graceful stop, forcing", "service", spec.Name, "pids", pids)
	for _, pid := range pids {
		if err := reaper.Kill(pid, reaper.Forced); err != nil {
			s.log.Warn("forced signal failed", "service", spec.Name, "pid", pid, "error", err)
		}
	}
	if waitMatchClear(m, spec.Settle()) {
		res.SucceededForced = true
		metrics.IncStop(spec.Name, "forced")
		s.recordStop(spec.Name, "forced")
		return res
	}

	res.StillRunning = true
	metrics.IncStop(spec.Name, "survived")
	s.recordStop(spec.Name, "survived")
	return res
}

// FreePort makes a TCP port available. Idempotent: a free port returns true
// with no side effects. Occupied ports get their owners force-killed without
// a graceful phase; the goal here is port availability, not process
// lifecycle courtesy.
func (s *Supervisor) FreePort(port int) bool {
	occupied, err := proctable.PortOccupied(port)
	if err != nil {
		s.log.Warn("socket table scan failed", "port", port, "error", err)
	}
	if !occupied {
		return true
	}

	killed, err := reaper.KillPort(port, reaper.Forced)
	if err != nil {
		s.log.Warn("port reap failed", "port", port, "error", err)
	}
	if len(killed) > 0 {
		s.log.Info("killed port owners", "port", port, "pids", killed)
	}
	time.Sleep(registry.DefaultSettlePeriod)

	occupied, _ = proctable.PortOccupied(port)
	outcome := "freed"
	if occupied {
		outcome = "occupied"
	}
	metrics.IncPortFree(outcome)
	history.Record(context.Background(), s.sink, history.Event{
		Action: history.ActionFreePort, Port: port, Outcome: outcome,
	})
	return !occupied
}

// ResolvePortConflict tries to free the primary port exactly once, then
// falls back to the alternative. The single attempt is deliberate: some port
// squatters (platform services claiming common ports) are unfreeable by
// design, and looping on them would hang the tool. Returns the selected
// port, or 0 when the primary is unfreeable and no alternative exists.
func (s *Supervisor) ResolvePortConflict(primaryPort, alternativePort int) int {
	// Exactly one free attempt; the fallback decision is pure after that.
	selected := selectPort(s.FreePort(primaryPort), primaryPort, alternativePort)
	switch selected {
	case primaryPort:
	case alternativePort:
		s.log.Warn("port unfreeable, falling back",
			"port", primaryPort, "fallback", alternativePort)
	default:
		s.log.Error("port unfreeable and no alternative registered", "port", primaryPort)
	}
	history.Record(context.Background(), s.sink, history.Event{
		Action: history.ActionResolve, Port: primaryPort,
		Outcome: strconv.Itoa(selected),
	})
	return selected
}

// Start launches a service detached from this process and confirms liveness
// with bounded health retries. When the primary port is held by a foreign
// process it is freed or the spec's alternative is selected. On exhausted
// retries the spawned process is left running for diagnosis.
func (s *Supervisor) Start(spec *registry.ServiceSpec) StartResult {
	res := StartResult{Service: spec.Name, Port: spec.PrimaryPort()}

	st := s.StatusOf(spec)
	if st.ProcessRunning {
		res.Healthy = st.Overall == StateRunningHealthy
		s.log.Info("service already running", "service", spec.Name, "healthy", res.Healthy)
		return res
	}

	port := spec.PrimaryPort()
	if port > 0 && st.PortOccupied[port] {
		// Not our process (no pattern match above), so the port holder is
		// foreign. Free it or degrade to the alternative.
		port = s.ResolvePortConflict(port, spec.AlternatePort())
		if port == 0 {
			res.Err = fmt.Errorf("no usable port for %s: %d occupied and unfreeable", spec.Name, spec.PrimaryPort())
			metrics.IncStart(spec.Name, "no-port")
			return res
		}
	}
	res.Port = port

	pid, err := s.launch(spec, port)
	if err != nil {
		res.Err = fmt.Errorf("launch %s: %w", spec.Name, err)
		metrics.IncStart(spec.Name, "launch-failed")
		s.recordStart(spec.Name, port, "launch-failed")
		return res
	}
	res.Launched = true
	res.PID = pid
	s.log.Info("service launched", "service", spec.Name, "pid", pid, "port", port)

	healthURL := healthURLForPort(spec.HealthURL, spec.PrimaryPort(), port)
	state := probe.WaitHealthy(healthURL, port, startProbeAttempts, startProbeBackoff, spec.Timeout())
	res.Healthy = state == probe.Healthy
	if res.Healthy {
		metrics.IncStart(spec.Name, "healthy")
		s.recordStart(spec.Name, port, "healthy")
	} else {
		// Left running on purpose; see StartResult doc.
		s.log.Warn("health unconfirmed after retries, leaving process up",
			"service", spec.Name, "pid", pid, "state", state.String())
		metrics.IncStart(spec.Name, "unconfirmed")
		s.recordStart(spec.Name, port, "unconfirmed")
	}
	return res
}

// launch spawns the service command detached, with stdout/stderr captured to
// the spec's rotated log files when configured.
func (s *Supervisor) launch(spec *registry.ServiceSpec, port int) (int, error) {
	if strings.TrimSpace(spec.Command) == "" {
		return 0, fmt.Errorf("service %s has no launch command", spec.Name)
	}
	cmd := buildCommand(spec.Command)
	if spec.WorkDir != "" {
		cmd.Dir = spec.WorkDir
	}
	env := append(os.Environ(), spec.Env...)
	if port > 0 {
		// The selected port travels by environment; launch commands are
		// expected to honor PORT when they bind.
		env = append(env, fmt.Sprintf("PORT=%d", port))
	}
	cmd.Env = env
	detachSysAttrs(cmd)

	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Name)
		if outW != nil {
			cmd.Stdout = outW
		}
		if errW != nil {
			cmd.Stderr = errW
		}
	}
	if cmd.Stdout == nil {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if cmd.Stderr == nil {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid

	s.mu.Lock()
	s.spawned = append(s.spawned, int32(pid))
	s.mu.Unlock()

	// Reap the child in the background so a quick exit does not leave a
	// zombie while this invocation is still running.
	go func() { _ = cmd.Wait() }()

	return pid, nil
}

// SpawnedPIDs returns the PIDs launched by this invocation.
func (s *Supervisor) SpawnedPIDs() []int32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int32(nil), s.spawned...)
}

// StopSpawned runs the graceful-then-forced sequence against only the
// processes this invocation launched. Used on operator interrupt so no
// child is orphaned; pre-existing pattern-matched processes are never
// touched by this cleanup.
func (s *Supervisor) StopSpawned() {
	pids := s.SpawnedPIDs()
	if len(pids) == 0 {
		return
	}
	s.log.Info("interrupt: stopping processes spawned by this run", "pids", pids)
	for _, pid := range pids {
		_ = reaper.Kill(pid, reaper.Graceful)
	}
	deadline := time.Now().Add(registry.DefaultGracePeriod)
	for time.Now().Before(deadline) {
		if !anyAlive(pids) {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
	for _, pid := range pids {
		if proctable.Alive(pid) {
			_ = reaper.Kill(pid, reaper.Forced)
		}
	}
}

func anyAlive(pids []int32) bool {
	for _, pid := range pids {
		if proctable.Alive(pid) {
			return true
		}
	}
	return false
}

// selectPort implements the bounded fallback: primary when freed, otherwise
// the alternative, otherwise nothing. Never loops.
func selectPort(freed bool, primary, alternative int) int {
	if freed {
		return primary
	}
	if alternative > 0 {
		return alternative
	}
	return 0
}

// waitMatchClear polls the process table until no process matches or the
// deadline passes. Returns true when the table is clear.
func waitMatchClear(m *proctable.Matcher, d time.Duration) bool {
	deadline := time.Now().Add(d)
	for {
		pids, err := proctable.MatchingPIDs(m)
		if err == nil && len(pids) == 0 {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// healthURLForPort rewrites the port in a health URL when the service was
// started on a fallback port.
func healthURLForPort(healthURL string, primary, selected int) string {
	if healthURL == "" || primary == selected || selected == 0 {
		return healthURL
	}
	u, err := url.Parse(healthURL)
	if err != nil {
		return healthURL
	}
	u.Host = u.Hostname() + ":" + strconv.Itoa(selected)
	return u.String()
}

func (s *Supervisor) recordStop(name, outcome string) {
	history.Record(context.Background(), s.sink, history.Event{
		Action: history.ActionStop, Service: name, Outcome: outcome,
	})
}

func (s *Supervisor) recordStart(name string, port int, outcome string) {
	history.Record(context.Background(), s.sink, history.Event{
		Action: history.ActionStart, Service: name, Port: port, Outcome: outcome,
	})
}
