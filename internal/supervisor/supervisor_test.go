package supervisor

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"reflect"
	"runtime"
	"testing"
	"time"

	"github.com/vidforge/devsup/internal/probe"
	"github.com/vidforge/devsup/internal/proctable"
	"github.com/vidforge/devsup/internal/registry"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

// marker returns a command-line token unlikely to collide with anything else
// in the process table.
func marker(t *testing.T) string {
	t.Helper()
	return fmt.Sprintf("297.%d", time.Now().UnixNano()%1000000)
}

func spawnSleeper(t *testing.T, mark string) *exec.Cmd {
	t.Helper()
	cmd := exec.Command("sleep", mark)
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn sleeper: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	waitVisible(t, "sleep "+mark)
	return cmd
}

func waitVisible(t *testing.T, pattern string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		pids, _ := proctable.MatchingPIDs(proctable.NewMatcher([]string{pattern}))
		if len(pids) > 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("sleeper %s never appeared in process table", pattern)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func newTestSupervisor(t *testing.T, specs ...registry.ServiceSpec) *Supervisor {
	t.Helper()
	reg, err := registry.New(specs)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return New(reg)
}

func freeTCPPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestStopIdempotentWhenNotRunning(t *testing.T) {
	spec := registry.ServiceSpec{
		Name:     "ghost",
		Patterns: []string{"no-such-process-" + marker(t)},
	}
	s := newTestSupervisor(t, spec)

	first := s.Stop(&spec)
	second := s.Stop(&spec)
	want := ShutdownResult{Service: "ghost"}
	if first != want || second != want {
		t.Fatalf("stop on stopped service must be identical no-ops: %+v / %+v", first, second)
	}
}

func TestStopGracefulSucceeds(t *testing.T) {
	requireUnix(t)
	mark := marker(t)
	spawnSleeper(t, mark)

	spec := registry.ServiceSpec{
		Name:        "sleeper",
		Patterns:    []string{"sleep " + mark},
		GracePeriod: 2 * time.Second,
	}
	s := newTestSupervisor(t, spec)

	res := s.Stop(&spec)
	if !res.Attempted {
		t.Fatalf("stop should have found the running process")
	}
	if !res.SucceededGraceful || res.SucceededForced || res.StillRunning {
		t.Fatalf("expected clean graceful stop, got %+v", res)
	}
}

func TestStopEscalatesToForcedAfterGrace(t *testing.T) {
	requireUnix(t)
	mark := "stubborn-" + marker(t)
	// The marker lives in the shell's own command line; the inner sleeps do
	// not match, so the TERM-ignoring shell is the only matched process.
	script := fmt.Sprintf("trap '' TERM; : %s; while :; do sleep 1; done", mark)
	cmd := exec.Command("/bin/sh", "-c", script)
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	waitVisible(t, mark)

	spec := registry.ServiceSpec{
		Name:         "stubborn",
		Patterns:     []string{mark},
		GracePeriod:  300 * time.Millisecond,
		SettlePeriod: 2 * time.Second,
	}
	s := newTestSupervisor(t, spec)

	// A background reaper keeps the killed child from lingering as a zombie,
	// which would still match the process table scan.
	go func() { _ = cmd.Wait() }()

	res := s.Stop(&spec)
	if !res.Attempted || res.SucceededGraceful {
		t.Fatalf("graceful phase should have failed against a TERM trap: %+v", res)
	}
	if !res.SucceededForced || res.StillRunning {
		t.Fatalf("forced phase should have ended the process: %+v", res)
	}
}

func TestStatusIsReadOnlyAndRepeatable(t *testing.T) {
	port := freeTCPPort(t)
	spec := registry.ServiceSpec{
		Name:     "quiet",
		Patterns: []string{"no-such-process-" + marker(t)},
		Ports:    []int{port},
	}
	s := newTestSupervisor(t, spec)

	first := s.StatusOf(&spec)
	second := s.StatusOf(&spec)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("status must be repeatable with no process changes:\n%+v\n%+v", first, second)
	}
}

func TestStatusForeignPortOccupation(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	spec := registry.ServiceSpec{
		Name:      "backend",
		Patterns:  []string{"backend-proc-" + marker(t)},
		Ports:     []int{port},
		HealthURL: fmt.Sprintf("http://localhost:%d/health", port),
	}
	s := newTestSupervisor(t, spec)

	st := s.StatusOf(&spec)
	if st.ProcessRunning {
		t.Fatalf("no matching process exists, yet ProcessRunning=true")
	}
	if !st.PortOccupied[port] {
		t.Fatalf("port %d is held by a foreign process and must read occupied", port)
	}
	if st.Health == probe.Healthy {
		t.Fatalf("bare listener must not probe healthy")
	}
	// Port occupation by a foreign process does not imply the service runs.
	if st.Overall != StateStopped {
		t.Fatalf("expected stopped, got %s", st.Overall)
	}
}

func TestFreePortIdempotentOnFreePort(t *testing.T) {
	port := freeTCPPort(t)
	s := newTestSupervisor(t, registry.ServiceSpec{Name: "x", Patterns: []string{"y"}})

	start := time.Now()
	if !s.FreePort(port) {
		t.Fatalf("free port must report freed")
	}
	// No termination attempt and no settle wait on the idempotent path.
	if time.Since(start) > 500*time.Millisecond {
		t.Fatalf("idempotent FreePort should not wait a settle period")
	}
}

func TestFreePortKillsOwner(t *testing.T) {
	requireUnix(t)
	port := freeTCPPort(t)
	cmd := exec.Command(os.Args[0], "-test.run", "TestHelperListener", "--", fmt.Sprint(port))
	cmd.Env = append(os.Environ(), "DEVSUP_HELPER_LISTENER=1")
	if err := cmd.Start(); err != nil {
		t.Fatalf("spawn helper: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})
	go func() { _ = cmd.Wait() }()

	deadline := time.Now().Add(3 * time.Second)
	for {
		occupied, _ := proctable.PortOccupied(port)
		if occupied {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("helper never bound port %d", port)
		}
		time.Sleep(50 * time.Millisecond)
	}

	s := newTestSupervisor(t, registry.ServiceSpec{Name: "x", Patterns: []string{"y"}})
	if !s.FreePort(port) {
		t.Fatalf("FreePort failed to reap the helper listener")
	}
	if occupied, _ := proctable.PortOccupied(port); occupied {
		t.Fatalf("port %d still occupied after FreePort", port)
	}
}

// TestHelperListener is not a real test; it is re-executed as a child
// process that binds a port and blocks until killed.
func TestHelperListener(t *testing.T) {
	if os.Getenv("DEVSUP_HELPER_LISTENER") != "1" {
		t.Skip("helper process only")
	}
	args := os.Args
	port := args[len(args)-1]
	ln, err := net.Listen("tcp", "127.0.0.1:"+port)
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = ln.Close() }()
	// Block on the listener rather than select{}: an empty select trips the
	// runtime deadlock detector and crashes the helper, freeing the port.
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		_ = conn.Close()
	}
}

func TestSelectPortBoundedFallback(t *testing.T) {
	if got := selectPort(true, 5000, 5001); got != 5000 {
		t.Fatalf("freed primary must be selected, got %d", got)
	}
	if got := selectPort(false, 5000, 5001); got != 5001 {
		t.Fatalf("unfreeable primary must fall back, got %d", got)
	}
	if got := selectPort(false, 5000, 0); got != 0 {
		t.Fatalf("no alternative must yield 0, got %d", got)
	}
}

func TestResolvePortConflictOnFreePort(t *testing.T) {
	port := freeTCPPort(t)
	s := newTestSupervisor(t, registry.ServiceSpec{Name: "x", Patterns: []string{"y"}})
	if got := s.ResolvePortConflict(port, port+1); got != port {
		t.Fatalf("free primary port must be selected, got %d", got)
	}
}

func TestStartConfirmsHealth(t *testing.T) {
	requireUnix(t)
	mark := marker(t)
	health := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy","message":"ok"}`))
	}))
	defer health.Close()

	spec := registry.ServiceSpec{
		Name:      "fake-backend",
		Patterns:  []string{"sleep " + mark},
		Ports:     []int{freeTCPPort(t)},
		Command:   "sleep " + mark,
		HealthURL: health.URL,
	}
	s := newTestSupervisor(t, spec)
	t.Cleanup(s.StopSpawned)

	res := s.Start(&spec)
	if res.Err != nil {
		t.Fatalf("start: %v", res.Err)
	}
	if !res.Launched || res.PID <= 0 {
		t.Fatalf("expected a launch, got %+v", res)
	}
	if !res.Healthy {
		t.Fatalf("health probe should have confirmed the service: %+v", res)
	}
	if pids := s.SpawnedPIDs(); len(pids) != 1 || int(pids[0]) != res.PID {
		t.Fatalf("spawned PID not tracked: %v vs %d", pids, res.PID)
	}
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	spec := registry.ServiceSpec{
		Name:     "configless",
		Patterns: []string{"no-such-process-" + marker(t)},
		Ports:    []int{freeTCPPort(t)},
	}
	s := newTestSupervisor(t, spec)

	res := s.Start(&spec)
	if res.Err == nil {
		t.Fatalf("a spec without a launch command must fail to start")
	}
	if res.Launched || res.PID != 0 {
		t.Fatalf("nothing must be launched for an empty command: %+v", res)
	}
	if len(s.SpawnedPIDs()) != 0 {
		t.Fatalf("no PID should be tracked")
	}
}

func TestStartSkipsAlreadyRunningService(t *testing.T) {
	requireUnix(t)
	mark := marker(t)
	spawnSleeper(t, mark)

	spec := registry.ServiceSpec{
		Name:     "already",
		Patterns: []string{"sleep " + mark},
		Ports:    []int{freeTCPPort(t)},
		Command:  "sleep " + mark,
	}
	s := newTestSupervisor(t, spec)

	res := s.Start(&spec)
	if res.Launched {
		t.Fatalf("a pattern-matched running service must not be relaunched")
	}
	if len(s.SpawnedPIDs()) != 0 {
		t.Fatalf("nothing should have been spawned")
	}
}

func TestStartLeavesUnconfirmedProcessRunning(t *testing.T) {
	requireUnix(t)
	mark := marker(t)
	spec := registry.ServiceSpec{
		Name:      "slow",
		Patterns:  []string{"sleep " + mark},
		Ports:     []int{freeTCPPort(t)},
		Command:   "sleep " + mark,
		HealthURL: "http://127.0.0.1:1/health", // nothing listens here
	}
	s := newTestSupervisor(t, spec)
	t.Cleanup(s.StopSpawned)

	res := s.Start(&spec)
	if !res.Launched {
		t.Fatalf("launch should have succeeded: %+v", res)
	}
	if res.Healthy {
		t.Fatalf("health cannot be confirmed against a dead endpoint")
	}
	// The spawned process must be left running for diagnosis.
	if !proctable.Alive(int32(res.PID)) {
		t.Fatalf("process was killed on suspicion; it must be left up")
	}
}

func TestStopSpawnedTouchesOnlyOwnedProcesses(t *testing.T) {
	requireUnix(t)
	foreignMark := marker(t)
	foreign := spawnSleeper(t, foreignMark)

	ownMark := fmt.Sprintf("298.%d", time.Now().UnixNano()%1000000)
	spec := registry.ServiceSpec{
		Name:     "owned",
		Patterns: []string{"sleep " + ownMark},
		Command:  "sleep " + ownMark,
	}
	s := newTestSupervisor(t, spec)

	pid, err := s.launch(&spec, 0)
	if err != nil {
		t.Fatalf("launch: %v", err)
	}
	waitVisible(t, "sleep "+ownMark)

	s.StopSpawned()

	deadline := time.Now().Add(3 * time.Second)
	for proctable.Alive(int32(pid)) {
		if time.Now().After(deadline) {
			t.Fatalf("owned process %d survived StopSpawned", pid)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if !proctable.Alive(int32(foreign.Process.Pid)) {
		t.Fatalf("foreign process was killed; cleanup must only touch spawned PIDs")
	}
}

func TestHealthURLForPort(t *testing.T) {
	got := healthURLForPort("http://localhost:5000/health", 5000, 5001)
	if got != "http://localhost:5001/health" {
		t.Fatalf("port not rewritten: %s", got)
	}
	if got := healthURLForPort("http://localhost:5000/health", 5000, 5000); got != "http://localhost:5000/health" {
		t.Fatalf("same port must not rewrite: %s", got)
	}
	if got := healthURLForPort("", 5000, 5001); got != "" {
		t.Fatalf("empty URL must stay empty")
	}
}
