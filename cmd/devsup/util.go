package main

import (
	"fmt"
	"sort"
	"time"

	"github.com/vidforge/devsup/internal/probe"
	"github.com/vidforge/devsup/internal/registry"
	"github.com/vidforge/devsup/internal/supervisor"
	"github.com/vidforge/devsup/internal/workflow"
)

func printServiceStatus(st supervisor.ServiceStatus) {
	fmt.Printf("%s: %s\n", st.Name, st.Overall)
	fmt.Printf("  process running: %v", st.ProcessRunning)
	if len(st.PIDs) > 0 {
		fmt.Printf(" (pids %v)", st.PIDs)
	}
	fmt.Println()

	ports := make([]int, 0, len(st.PortOccupied))
	for port := range st.PortOccupied {
		ports = append(ports, port)
	}
	sort.Ints(ports)
	for _, port := range ports {
		state := "free"
		if st.PortOccupied[port] {
			state = "occupied"
		}
		fmt.Printf("  port %d: %s\n", port, state)
	}
	if st.HealthMessage != "" {
		fmt.Printf("  health: %s (%s)\n", st.Health, st.HealthMessage)
	} else {
		fmt.Printf("  health: %s\n", st.Health)
	}
}

// overallSummary derives RUNNING / NOT RUNNING / PARTIAL across services.
// Optional services do not demote RUNNING on their own.
func overallSummary(reg *registry.Registry, statuses []supervisor.ServiceStatus) string {
	anyRunning := false
	mandatoryHealthy := true
	for _, st := range statuses {
		if st.ProcessRunning {
			anyRunning = true
		}
		spec, ok := reg.Find(st.Name)
		if ok && !spec.Optional && st.Overall != supervisor.StateRunningHealthy {
			mandatoryHealthy = false
		}
	}
	switch {
	case !anyRunning:
		return "NOT RUNNING"
	case mandatoryHealthy:
		return "RUNNING"
	default:
		return "PARTIAL"
	}
}

func printReachableURLs(statuses []supervisor.ServiceStatus) {
	printed := false
	for _, st := range statuses {
		if st.Overall == supervisor.StateRunningHealthy && st.AccessURL != "" {
			if !printed {
				fmt.Println("\nReachable:")
				printed = true
			}
			fmt.Printf("  %s: %s\n", st.Name, st.AccessURL)
		}
	}
}

// printWorkflowCounts shows pipeline progress when the backend is up.
func printWorkflowCounts(rt *runtime, statuses []supervisor.ServiceStatus) {
	backend, ok := mandatoryService(rt.reg)
	if !ok {
		return
	}
	for _, st := range statuses {
		if st.Name != backend.Name || st.Health != probe.Healthy {
			continue
		}
		ws, err := workflow.NewClient(backendBaseURL(rt.reg), 5*time.Second).Status()
		if err != nil {
			rt.log.Debug("workflow status unavailable", "error", err)
			return
		}
		fmt.Println("\nWorkflow:")
		for _, line := range workflowCountLines(ws) {
			fmt.Println(line)
		}
		return
	}
}

// workflowCountLines renders the per-stage progress. The stage vocabularies
// differ: topics are approved, scripts and projects are produced, publishing
// is published.
func workflowCountLines(ws *workflow.Status) []string {
	return []string{
		fmt.Sprintf("  topics:     %d total, %d approved", ws.Topics.Total, ws.Topics.Approved),
		fmt.Sprintf("  scripts:    %d total, %d produced", ws.Scripts.Total, ws.Scripts.Produced),
		fmt.Sprintf("  projects:   %d total, %d produced", ws.Projects.Total, ws.Projects.Produced),
		fmt.Sprintf("  publishing: %d total, %d published", ws.Publishing.Total, ws.Publishing.Published),
	}
}

func printAccessURLs(reg *registry.Registry, results []supervisor.StartResult) {
	printed := false
	for _, res := range results {
		if !res.Healthy {
			continue
		}
		spec, ok := reg.Find(res.Service)
		if !ok || spec.AccessURL == "" {
			continue
		}
		if !printed {
			fmt.Println("\nAccess:")
			printed = true
		}
		fmt.Printf("  %s: %s\n", res.Service, spec.AccessURL)
	}
}

func anyStartTrouble(results []supervisor.StartResult) bool {
	for _, res := range results {
		if res.Err != nil || !res.Healthy {
			return true
		}
	}
	return false
}

// printStartRemediation gives the operator concrete next steps for every
// service that did not come up clean.
func printStartRemediation(reg *registry.Registry, results []supervisor.StartResult) {
	fmt.Println("\nRemediation:")
	for _, res := range results {
		if res.Err == nil && res.Healthy {
			continue
		}
		spec, _ := reg.Find(res.Service)
		if res.Launched {
			fmt.Printf("  %s was launched (pid %d) but never confirmed healthy; inspect its logs, then:\n", res.Service, res.PID)
			fmt.Printf("    curl -v %s\n", healthHint(spec, res.Port))
		} else {
			fmt.Printf("  %s failed to launch; check the command and port, then retry:\n", res.Service)
			fmt.Printf("    devsup fix-port-conflict\n")
		}
	}
}

func printStopSummary(results []supervisor.ShutdownResult, clean bool) {
	fmt.Println("\nShutdown summary:")
	for _, res := range results {
		switch {
		case !res.Attempted:
			fmt.Printf("  %s: was not running\n", res.Service)
		case res.SucceededGraceful:
			fmt.Printf("  %s: stopped gracefully\n", res.Service)
		case res.SucceededForced:
			fmt.Printf("  %s: stopped after forced kill\n", res.Service)
		default:
			fmt.Printf("  %s: STILL RUNNING after graceful and forced attempts\n", res.Service)
		}
	}
	if clean {
		fmt.Println("All services stopped.")
	}
}

func printStopRemediation(reg *registry.Registry) {
	fmt.Println("\nRemediation (manual):")
	for _, spec := range reg.Services() {
		for _, pat := range spec.Patterns {
			fmt.Printf("  pkill -9 -f '%s'\n", pat)
		}
		for _, port := range spec.Ports {
			fmt.Printf("  lsof -ti tcp:%d | xargs -r kill -9\n", port)
		}
	}
}

func healthHint(spec registry.ServiceSpec, port int) string {
	if spec.HealthURL != "" {
		return spec.HealthURL
	}
	return fmt.Sprintf("http://localhost:%d/", port)
}
