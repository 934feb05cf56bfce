// Package sandbox is the bounded process launcher: it runs a step's command
// in an isolated child process with a hard wall-clock timeout and a
// resident-memory ceiling enforced by external monitoring. Exceeding either
// bound kills the process tree; the two violations are reported as distinct
// outcomes.
package sandbox

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/flowscript/flow/internal/ctxlog"
)

// Outcome classifies how a launched process ended.
type Outcome int

const (
	// Succeeded means the process exited zero within its limits.
	Succeeded Outcome = iota
	// ExitFailure means the process exited non-zero.
	ExitFailure
	// TimedOut means the process was killed for exceeding its wall-clock
	// timeout.
	TimedOut
	// MemoryExceeded means the process was killed for exceeding its
	// resident-memory ceiling.
	MemoryExceeded
	// Cancelled means the process was killed because the run was cancelled.
	Cancelled
	// StartFailed means the process could not be started at all.
	StartFailed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case ExitFailure:
		return "exit failure"
	case TimedOut:
		return "timed out"
	case MemoryExceeded:
		return "memory exceeded"
	case Cancelled:
		return "cancelled"
	case StartFailed:
		return "start failed"
	}
	return "unknown"
}

// Spec describes one bounded command execution.
type Spec struct {
	Command string
	Env     map[string]string
	Dir     string
	// Timeout is the wall-clock bound; 0 means unbounded.
	Timeout time.Duration
	// MemoryLimit is the RSS ceiling in bytes; 0 means unlimited.
	MemoryLimit int64
	Stdout      io.Writer
	Stderr      io.Writer
}

// Result reports one completed execution.
type Result struct {
	Outcome  Outcome
	ExitCode int
	Err      error
	Duration time.Duration
}

// Launcher starts a command under the spec's limits and blocks until it
// reaches a terminal outcome. Cancelling the context kills the process
// promptly; output already written is preserved.
type Launcher interface {
	Launch(ctx context.Context, spec Spec) Result
}

// ShellLauncher runs commands through `sh -c` in their own process group.
type ShellLauncher struct {
	// PollInterval is the memory-monitor sampling period. Zero selects the
	// 100ms default.
	PollInterval time.Duration
}

// Launch implements Launcher.
func (l *ShellLauncher) Launch(ctx context.Context, spec Spec) Result {
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	cmd := exec.Command("sh", "-c", spec.Command)
	cmd.Dir = spec.Dir
	cmd.Stdout = spec.Stdout
	cmd.Stderr = spec.Stderr
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	setProcessGroup(cmd)

	if err := cmd.Start(); err != nil {
		return Result{Outcome: StartFailed, ExitCode: -1, Err: err, Duration: time.Since(start)}
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var deadline <-chan time.Time
	if spec.Timeout > 0 {
		timer := time.NewTimer(spec.Timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	poll := l.PollInterval
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	var sample <-chan time.Time
	if spec.MemoryLimit > 0 {
		ticker := time.NewTicker(poll)
		defer ticker.Stop()
		sample = ticker.C
	}

	for {
		select {
		case err := <-done:
			return exitResult(err, time.Since(start))
		case <-ctx.Done():
			logger.Debug("killing process on cancellation", "pid", cmd.Process.Pid)
			killProcessGroup(cmd)
			<-done
			return Result{Outcome: Cancelled, ExitCode: -1, Err: ctx.Err(), Duration: time.Since(start)}
		case <-deadline:
			logger.Debug("killing process on timeout", "pid", cmd.Process.Pid, "timeout", spec.Timeout)
			killProcessGroup(cmd)
			<-done
			return Result{Outcome: TimedOut, ExitCode: -1, Duration: time.Since(start)}
		case <-sample:
			rss, err := residentSetSize(cmd.Process.Pid)
			if err != nil {
				continue // process may have just exited; Wait will tell
			}
			if rss > spec.MemoryLimit {
				logger.Debug("killing process on memory ceiling", "pid", cmd.Process.Pid, "rss", rss, "limit", spec.MemoryLimit)
				killProcessGroup(cmd)
				<-done
				return Result{Outcome: MemoryExceeded, ExitCode: -1, Duration: time.Since(start)}
			}
		}
	}
}

func exitResult(err error, elapsed time.Duration) Result {
	if err == nil {
		return Result{Outcome: Succeeded, Duration: elapsed}
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return Result{Outcome: ExitFailure, ExitCode: exitErr.ExitCode(), Err: err, Duration: elapsed}
	}
	return Result{Outcome: ExitFailure, ExitCode: -1, Err: err, Duration: elapsed}
}
