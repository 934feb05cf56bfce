// Package engine executes a loaded ExecutionGraph: a single coordinating
// loop owns every state transition while a bounded worker pool runs step
// commands through the sandbox. Workers report completions over a result
// channel; they never mutate graph state themselves. This single-writer
// discipline removes the need for fine-grained locking on the graph.
package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/flowscript/flow/internal/ctxlog"
	"github.com/flowscript/flow/internal/sandbox"
)

// Options tunes one engine instance.
type Options struct {
	// Workers bounds the worker pool; 0 means runtime.NumCPU().
	Workers int
	// RetryBackoff is the pause before re-dispatching a failed attempt;
	// 0 means immediate.
	RetryBackoff time.Duration
	// DefaultMemoryLimit applies to steps without their own limit; 0 means
	// unlimited.
	DefaultMemoryLimit int64
	// Workdir is the working directory for step commands.
	Workdir string
	// Stdout and Stderr receive step command output. Nil discards.
	Stdout io.Writer
	Stderr io.Writer
}

// StepExecutionError describes a step's unrecoverable failure after all
// retry attempts were spent.
type StepExecutionError struct {
	Step     string
	Attempts int
	Outcome  sandbox.Outcome
	ExitCode int
	Err      error
}

func (e *StepExecutionError) Error() string {
	return fmt.Sprintf("step %q %s after %d attempt(s)", e.Step, e.Outcome, e.Attempts)
}

// Engine drives runs. One engine may execute many graphs; each run gets its
// own coordinating loop and RunRecord.
type Engine struct {
	opts     Options
	launcher sandbox.Launcher
	notifier Notifier
	bus      *Bus
	registry *Registry
}

// New creates an engine. A nil launcher selects the shell sandbox; a nil
// notifier drops notifications.
func New(opts Options, launcher sandbox.Launcher, notifier Notifier) *Engine {
	if launcher == nil {
		launcher = &sandbox.ShellLauncher{}
	}
	return &Engine{
		opts:     opts,
		launcher: launcher,
		notifier: notifier,
		bus:      &Bus{},
		registry: NewRegistry(),
	}
}

// Events returns the engine's event bus.
func (e *Engine) Events() *Bus { return e.bus }

// Registry returns the engine's run registry.
func (e *Engine) Registry() *Registry { return e.registry }

type stepResult struct {
	index int
	res   sandbox.Result
}

// Execute runs the graph to completion or cancellation and returns its
// RunRecord. A failed run is not an error: inspect the record's Outcome.
// The returned error reports engine-level problems only, such as a graph
// whose remaining steps can never become ready.
func (e *Engine) Execute(ctx context.Context, g *ExecutionGraph) (*RunRecord, error) {
	run := newRunRecord(g)
	e.registry.add(run)
	logger := ctxlog.FromContext(ctx).With("run", run.ID, "workflow", g.Workflow)
	logger.Info("run starting", "steps", len(g.Steps))

	n := len(g.Steps)
	if n == 0 {
		run.finalize(RunSucceeded)
		e.bus.publish(RunEvent{RunID: run.ID, Outcome: RunSucceeded, Timestamp: time.Now()})
		return run, nil
	}

	workers := e.opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	loop := &runLoop{
		engine:     e,
		graph:      g,
		run:        run,
		logger:     logger,
		dispatchCh: make(chan *StepNode, n),
		resultCh:   make(chan stepResult, workers),
		retryCh:    make(chan *StepNode, n),
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			e.worker(ctx, id, g, loop.dispatchCh, loop.resultCh)
		}(i)
	}

	err := loop.execute(ctx)

	close(loop.dispatchCh)
	drained := make(chan struct{})
	go func() {
		for range loop.resultCh {
		}
		close(drained)
	}()
	wg.Wait()
	close(loop.resultCh)
	<-drained

	outcome := loop.outcome()
	run.finalize(outcome)
	e.bus.publish(RunEvent{RunID: run.ID, Outcome: outcome, Timestamp: time.Now()})
	logger.Info("run finished", "outcome", outcome)
	return run, err
}

// worker pulls dispatched steps and launches their commands. All state
// bookkeeping stays with the coordinating loop.
func (e *Engine) worker(ctx context.Context, id int, g *ExecutionGraph, in <-chan *StepNode, out chan<- stepResult) {
	logger := ctxlog.FromContext(ctx).With("worker", id)
	for node := range in {
		if ctx.Err() != nil {
			out <- stepResult{index: node.Index, res: sandbox.Result{Outcome: sandbox.Cancelled, Err: ctx.Err()}}
			continue
		}
		logger.Debug("worker picked up step", "step", node.Name, "attempt", node.attempts)

		memory := node.Memory
		if memory == 0 {
			memory = e.opts.DefaultMemoryLimit
		}
		res := e.launcher.Launch(ctx, sandbox.Spec{
			Command:     expand(node.Command, envLookup(g.Env)),
			Env:         g.Env,
			Dir:         e.opts.Workdir,
			Timeout:     node.Timeout,
			MemoryLimit: memory,
			Stdout:      e.opts.Stdout,
			Stderr:      e.opts.Stderr,
		})
		out <- stepResult{index: node.Index, res: res}
	}
}

// runLoop is the coordinating loop's state for one run.
type runLoop struct {
	engine *Engine
	graph  *ExecutionGraph
	run    *RunRecord
	logger *slog.Logger

	dispatchCh chan *StepNode
	resultCh   chan stepResult
	retryCh    chan *StepNode

	terminal       int
	inflight       int
	pendingRetries int
	cancelled      bool
	anyFailed      bool
	notified       bool
}

func (l *runLoop) execute(ctx context.Context) error {
	for _, node := range l.graph.Steps {
		if node.remaining == 0 {
			l.dispatch(node)
		}
	}
	if err := l.checkStalled(); err != nil {
		return err
	}

	cancelC := ctx.Done()
	n := len(l.graph.Steps)
	for l.terminal < n {
		select {
		case res := <-l.resultCh:
			l.inflight--
			l.handleResult(ctx, res)
		case node := <-l.retryCh:
			l.pendingRetries--
			if !l.cancelled && node.state == Retrying {
				l.dispatch(node)
			}
		case <-cancelC:
			cancelC = nil
			l.handleCancellation()
		}
		if err := l.checkStalled(); err != nil {
			return err
		}
	}
	return nil
}

// dispatch moves a step to Running and hands it to the worker pool. The
// first dispatch passes through Ready so observers see the full lifecycle.
func (l *runLoop) dispatch(node *StepNode) {
	if node.attempts == 0 {
		l.transition(node, Ready)
		node.startedAt = time.Now()
	}
	node.attempts++
	l.transition(node, Running)
	l.inflight++
	l.dispatchCh <- node
}

func (l *runLoop) handleResult(ctx context.Context, r stepResult) {
	node := l.graph.Steps[r.index]
	if node.state.Terminal() {
		return // late result after cancellation bookkeeping
	}

	switch r.res.Outcome {
	case sandbox.Succeeded:
		l.markTerminal(node, Succeeded)
		for _, di := range node.Dependents {
			dep := l.graph.Steps[di]
			dep.remaining--
			if dep.remaining == 0 && dep.state == Pending && !l.cancelled {
				l.dispatch(dep)
			}
		}
	case sandbox.Cancelled:
		l.handleCancellation()
		if !node.state.Terminal() {
			l.markTerminal(node, Cancelled)
		}
	default:
		l.handleFailure(ctx, node, r.res)
	}
}

// handleFailure re-dispatches while retry attempts remain, otherwise marks the
// step Failed, cascades Skipped through its transitive dependents and fires
// the run's notifications.
func (l *runLoop) handleFailure(ctx context.Context, node *StepNode, res sandbox.Result) {
	if node.attempts <= node.Retries {
		l.logger.Warn("step attempt failed, retrying",
			"step", node.Name, "attempt", node.attempts, "retries", node.Retries, "outcome", res.Outcome.String())
		l.transition(node, Retrying)
		l.pendingRetries++
		if backoff := l.engine.opts.RetryBackoff; backoff > 0 {
			retry := l.retryCh
			time.AfterFunc(backoff, func() { retry <- node })
		} else {
			l.retryCh <- node
		}
		return
	}

	node.err = &StepExecutionError{
		Step:     node.Name,
		Attempts: node.attempts,
		Outcome:  res.Outcome,
		ExitCode: res.ExitCode,
		Err:      res.Err,
	}
	l.logger.Error("step failed", "step", node.Name, "attempts", node.attempts, "outcome", res.Outcome.String())
	l.anyFailed = true
	l.markTerminal(node, Failed)
	l.cascadeSkip(node)
	l.notifyFailure(ctx, node)
}

// cascadeSkip marks every transitive dependent of a failed step Skipped.
// Such steps were necessarily still Pending: they could not have been
// dispatched with an unmet dependency.
func (l *runLoop) cascadeSkip(failed *StepNode) {
	queue := append([]int(nil), failed.Dependents...)
	for len(queue) > 0 {
		node := l.graph.Steps[queue[0]]
		queue = queue[1:]
		if node.state != Pending {
			continue
		}
		l.markTerminal(node, Skipped)
		queue = append(queue, node.Dependents...)
	}
}

// notifyFailure fires every notify rule exactly once per run, bound to the
// step whose failure first triggered them. The failing step's own on_error
// rule, if any, is dispatched first.
func (l *runLoop) notifyFailure(ctx context.Context, failed *StepNode) {
	if l.notified || l.engine.notifier == nil {
		return
	}
	l.notified = true

	rules := l.graph.Notify
	ordered := make([]int, 0, len(rules))
	for i, r := range rules {
		if r.Name == failed.OnError {
			ordered = append([]int{i}, ordered...)
		} else {
			ordered = append(ordered, i)
		}
	}

	lookup := func(name string) (string, bool) {
		if name == "failed_step" {
			return failed.Name, true
		}
		v, ok := l.graph.Env[name]
		return v, ok
	}
	for _, i := range ordered {
		rule := rules[i]
		notification := Notification{
			Rule:       rule.Name,
			Recipient:  rule.Email,
			Subject:    expand(rule.Subject, lookup),
			Body:       expand(rule.Body, lookup),
			RunID:      l.run.ID,
			FailedStep: failed.Name,
		}
		if err := l.engine.notifier.Dispatch(ctx, notification); err != nil {
			l.logger.Error("notification dispatch failed", "rule", rule.Name, "error", err)
		}
		l.run.addNotification(notification)
	}
}

// handleCancellation is idempotent and irreversible: every non-terminal step
// becomes Cancelled. Running processes are killed by the sandbox through
// context propagation; their late results are ignored.
func (l *runLoop) handleCancellation() {
	if l.cancelled {
		return
	}
	l.cancelled = true
	l.logger.Warn("run cancelled")
	for _, node := range l.graph.Steps {
		if !node.state.Terminal() {
			l.markTerminal(node, Cancelled)
		}
	}
}

// checkStalled guards against graphs whose remaining steps can never run.
// The loader rejects cyclic bytecode, so this fires only on a defective
// launcher or hand-built graph.
func (l *runLoop) checkStalled() error {
	if l.cancelled || l.terminal >= len(l.graph.Steps) {
		return nil
	}
	if l.inflight == 0 && l.pendingRetries == 0 {
		for _, node := range l.graph.Steps {
			if !node.state.Terminal() {
				l.markTerminal(node, Skipped)
			}
		}
		l.anyFailed = true
		return fmt.Errorf("no runnable steps remain: dependency graph cannot make progress")
	}
	return nil
}

func (l *runLoop) markTerminal(node *StepNode, state StepState) {
	l.transition(node, state)
	node.finishedAt = time.Now()
	l.terminal++
}

// transition is the single place a step's state changes.
func (l *runLoop) transition(node *StepNode, to StepState) {
	from := node.state
	node.state = to
	l.run.setState(node.Name, to)
	l.engine.bus.publish(StepEvent{
		RunID:     l.run.ID,
		Step:      node.Name,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
	})
}

func (l *runLoop) outcome() RunOutcome {
	switch {
	case l.anyFailed:
		return RunFailed
	case l.cancelled:
		return RunCancelled
	default:
		return RunSucceeded
	}
}
