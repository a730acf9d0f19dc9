package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/vidforge/devsup/internal/metrics"
	"github.com/vidforge/devsup/internal/registry"
	"github.com/vidforge/devsup/internal/server"
	"github.com/vidforge/devsup/internal/supervisor"
	"github.com/vidforge/devsup/internal/workflow"
)

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Launch all registered services and confirm health",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()
			return runStart(rt)
		},
	}
}

func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop all registered services, then sweep their ports",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()
			runStop(rt)
			// Best-effort tool: surviving processes are warnings, never a
			// non-zero exit for the caller's script.
			return nil
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report the live state of every registered service",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()
			runStatus(rt)
			return nil
		},
	}
}

func createFixPortConflictCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "fix-port-conflict",
		Short: "Free or fall back from the backend's primary port, then start",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()
			backend, ok := mandatoryService(rt.reg)
			if !ok {
				return errors.New("no mandatory service registered")
			}
			selected := rt.sup.ResolvePortConflict(backend.PrimaryPort(), backend.AlternatePort())
			if selected == 0 {
				return fmt.Errorf("port %d is unfreeable and %s has no alternative port",
					backend.PrimaryPort(), backend.Name)
			}
			fmt.Printf("Selected port %d for %s\n", selected, backend.Name)
			return runStart(rt)
		},
	}
}

func createRunWorkflowCommand(flags *GlobalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "run-workflow",
		Short: "Trigger the backend's full content pipeline",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()
			client := workflow.NewClient(backendBaseURL(rt.reg), timeout)
			res, err := client.RunFull()
			if err != nil {
				return fmt.Errorf("backend unreachable: %w", err)
			}
			if !res.Success {
				return fmt.Errorf("workflow run failed: %s", res.Message)
			}
			fmt.Printf("Workflow started: %s\n", res.Message)
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout for the workflow trigger")
	return cmd
}

func createServeCommand(flags *GlobalFlags) *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve supervisor status and metrics over HTTP for the dashboard",
		RunE: func(_ *cobra.Command, _ []string) error {
			rt, err := newRuntime(flags)
			if err != nil {
				return err
			}
			defer rt.close()

			if listen == "" && rt.cfg != nil {
				listen = rt.cfg.Serve.Listen
			}
			if listen == "" {
				listen = "127.0.0.1:9090"
			}
			if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
				return err
			}

			srv := server.NewServer(listen, "/api", rt.sup)
			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			rt.log.Info("serving supervisor API", "addr", listen)

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
			case <-sigCh:
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (default from config or 127.0.0.1:9090)")
	return cmd
}

// runStart launches every registered service in order. An operator interrupt
// during startup stops the processes this invocation spawned, and only those.
func runStart(rt *runtime) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		if _, ok := <-sigCh; ok {
			rt.log.Warn("interrupted, cleaning up spawned processes")
			rt.sup.StopSpawned()
			os.Exit(130)
		}
	}()

	var results []supervisor.StartResult
	mandatoryFailed := false
	for _, spec := range rt.reg.Services() {
		fmt.Printf("Starting %s ...\n", spec.Name)
		res := rt.sup.Start(&spec)
		results = append(results, res)
		switch {
		case res.Err != nil:
			rt.log.Error("start failed", "service", spec.Name, "error", res.Err)
		case res.Healthy:
			rt.log.Info("service healthy", "service", spec.Name, "port", res.Port)
		default:
			rt.log.Warn("service health unconfirmed", "service", spec.Name, "port", res.Port)
		}
		if (res.Err != nil || !res.Healthy) && !spec.Optional {
			mandatoryFailed = true
		}
	}

	printAccessURLs(rt.reg, results)
	if anyStartTrouble(results) {
		printStartRemediation(rt.reg, results)
	}
	if mandatoryFailed {
		return errors.New("one or more mandatory services failed to start")
	}
	return nil
}

// runStop is the full teardown: per-service two-phase stop, a best-effort
// port sweep, then a final status verification.
func runStop(rt *runtime) {
	var results []supervisor.ShutdownResult
	for _, spec := range rt.reg.Services() {
		fmt.Printf("Stopping %s ...\n", spec.Name)
		results = append(results, rt.sup.Stop(&spec))
	}

	for _, spec := range rt.reg.Services() {
		for _, port := range spec.Ports {
			if !rt.sup.FreePort(port) {
				rt.log.Warn("port still occupied after sweep", "port", port)
			}
		}
	}

	clean := true
	for _, st := range rt.sup.Status() {
		if st.ProcessRunning {
			clean = false
			rt.log.Warn("service still running after stop", "service", st.Name, "pids", st.PIDs)
		}
	}

	printStopSummary(results, clean)
	if !clean {
		printStopRemediation(rt.reg)
	}
}

func runStatus(rt *runtime) {
	statuses := rt.sup.Status()
	for _, st := range statuses {
		printServiceStatus(st)
	}
	fmt.Printf("\nOverall: %s\n", overallSummary(rt.reg, statuses))
	printReachableURLs(statuses)
	printWorkflowCounts(rt, statuses)
}

// mandatoryService returns the first non-optional service; by convention the
// backend leads the registry.
func mandatoryService(reg *registry.Registry) (registry.ServiceSpec, bool) {
	for _, spec := range reg.Services() {
		if !spec.Optional {
			return spec, true
		}
	}
	return registry.ServiceSpec{}, false
}

func backendBaseURL(reg *registry.Registry) string {
	if spec, ok := mandatoryService(reg); ok && spec.AccessURL != "" {
		return spec.AccessURL
	}
	return "http://localhost:5000"
}
