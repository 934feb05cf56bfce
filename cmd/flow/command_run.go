package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/flowscript/flow/internal/bytecode"
	"github.com/flowscript/flow/internal/config"
	"github.com/flowscript/flow/internal/ctxlog"
	"github.com/flowscript/flow/internal/engine"
	"github.com/spf13/cobra"
)

var (
	runConfigPath string
	runWorkers    int
	runMemLimit   string
	runWorkdir    string
	runNotifyLog  string
	runVerbose    bool
)

var runCmd = &cobra.Command{
	Use:   "run <bytecode file>",
	Short: "Execute compiled workflow bytecode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBytecode(cmd, args[0])
	},
}

func init() {
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "Engine config file (YAML)")
	runCmd.Flags().IntVar(&runWorkers, "workers", 0, "Worker pool size (0 = host concurrency)")
	runCmd.Flags().StringVar(&runMemLimit, "mem-limit", "", "Default per-step memory limit, e.g. 256mb")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", "", "Working directory for step commands")
	runCmd.Flags().StringVar(&runNotifyLog, "notify-log", "notifications.log", "Notifications log file")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Enable debug logging")
}

func runBytecode(cmd *cobra.Command, path string) error {
	cfg := &config.Config{}
	if runConfigPath != "" {
		loaded, err := config.Load(runConfigPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if cmd.Flags().Changed("workers") {
		cfg.Workers = runWorkers
	}
	if cmd.Flags().Changed("mem-limit") {
		n, err := config.ParseByteSize(runMemLimit)
		if err != nil {
			return err
		}
		cfg.DefaultMemoryLimit = config.ByteSize(n)
	}
	if cmd.Flags().Changed("workdir") {
		cfg.Workdir = runWorkdir
	}
	if cmd.Flags().Changed("notify-log") || cfg.NotificationsLog == "" {
		cfg.NotificationsLog = runNotifyLog
	}

	level := slog.LevelInfo
	if runVerbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = ctxlog.WithLogger(ctx, logger)

	doc, err := bytecode.Load(path)
	if err != nil {
		return err
	}
	graph := engine.NewGraph(doc)
	fmt.Printf("□ Executing workflow %q (%d steps)...\n", graph.Workflow, len(graph.Steps))

	eng := engine.New(engine.Options{
		Workers:            cfg.Workers,
		RetryBackoff:       time.Duration(cfg.RetryBackoff),
		DefaultMemoryLimit: int64(cfg.DefaultMemoryLimit),
		Workdir:            cfg.Workdir,
		Stdout:             os.Stdout,
		Stderr:             os.Stderr,
	}, nil, &engine.LogNotifier{Path: cfg.NotificationsLog})

	events := eng.Events().Subscribe()
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		for ev := range events {
			switch e := ev.(type) {
			case engine.StepEvent:
				fmt.Printf("  [%s] %s: %s -> %s\n",
					e.Timestamp.Format("15:04:05"), e.Step, e.From, e.To)
			case engine.RunEvent:
				return
			}
		}
	}()

	record, execErr := eng.Execute(ctx, graph)
	<-watcherDone

	states := record.StepStates()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %s\n", name, states[name])
	}
	for _, n := range record.Notifications() {
		fmt.Printf("  notified %s (%s) for failed step %s\n", n.Rule, n.Recipient, n.FailedStep)
	}

	if execErr != nil {
		return execErr
	}
	switch record.Outcome() {
	case engine.RunSucceeded:
		fmt.Printf("✓ Run %s succeeded in %s\n", record.ID, record.FinishedAt().Sub(record.StartedAt()).Round(time.Millisecond))
		return nil
	case engine.RunCancelled:
		return fmt.Errorf("run %s was cancelled", record.ID)
	default:
		return fmt.Errorf("run %s failed", record.ID)
	}
}
