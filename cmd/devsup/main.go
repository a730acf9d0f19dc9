package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/vidforge/devsup/internal/config"
	"github.com/vidforge/devsup/internal/history"
	"github.com/vidforge/devsup/internal/history/factory"
	"github.com/vidforge/devsup/internal/logger"
	"github.com/vidforge/devsup/internal/registry"
	"github.com/vidforge/devsup/internal/supervisor"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds the persistent flags shared by all subcommands.
type GlobalFlags struct {
	ConfigPath string
	Verbose    bool
}

// runtime bundles everything a subcommand needs, built once per invocation.
type runtime struct {
	sup  *supervisor.Supervisor
	reg  *registry.Registry
	cfg  *config.FileConfig
	log  *slog.Logger
	sink history.Sink
}

func (rt *runtime) close() {
	if rt.sink != nil {
		_ = rt.sink.Close()
	}
}

// newRuntime loads the config (or falls back to the built-in registry) and
// wires the supervisor, logger and optional history sink.
func newRuntime(flags *GlobalFlags) (*runtime, error) {
	level := slog.LevelInfo
	if flags.Verbose {
		level = slog.LevelDebug
	}
	log := logger.New(level)

	rt := &runtime{log: log}
	if flags.ConfigPath != "" {
		fc, err := config.Load(flags.ConfigPath)
		if err != nil {
			return nil, err
		}
		reg, err := fc.Registry()
		if err != nil {
			return nil, err
		}
		rt.cfg = fc
		rt.reg = reg
	} else {
		rt.reg = registry.Default()
	}

	rt.sup = supervisor.New(rt.reg)
	rt.sup.SetLogger(log)

	if rt.cfg != nil && rt.cfg.History.DSN != "" {
		sink, err := factory.NewSinkFromDSN(rt.cfg.History.DSN)
		if err != nil {
			// Auditing is optional; a bad DSN degrades to a warning.
			log.Warn("history sink unavailable", "dsn", rt.cfg.History.DSN, "error", err)
		} else {
			rt.sink = sink
			rt.sup.SetHistorySink(sink)
		}
	}
	return rt, nil
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}

	root := &cobra.Command{
		Use:   "devsup",
		Short: "Local dev-service supervisor for the content-production stack",
		Long: "devsup starts, stops, health-checks and tears down the locally run\n" +
			"backend and frontend services, resolving port conflicts along the way.",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&flags.ConfigPath, "config", "c", "", "path to TOML config (default: built-in backend/frontend registry)")
	root.PersistentFlags().BoolVarP(&flags.Verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		createStartCommand(flags),
		createStopCommand(flags),
		createStatusCommand(flags),
		createFixPortConflictCommand(flags),
		createRunWorkflowCommand(flags),
		createServeCommand(flags),
	)
	return root
}
