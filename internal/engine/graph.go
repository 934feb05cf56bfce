package engine

import (
	"time"

	"github.com/flowscript/flow/internal/bytecode"
)

// ExecutionGraph is the run-time reconstruction of a bytecode document. Each
// node carries mutable state owned by exactly one run's coordinating loop;
// loading the same document twice yields independent graphs.
type ExecutionGraph struct {
	Workflow string
	Env      map[string]string
	Steps    []*StepNode
	Notify   []bytecode.NotifyRule
}

// StepNode is one step plus its mutable run state. Dependency edges are
// index lists into the graph's step arena, avoiding back-references.
type StepNode struct {
	Index      int
	Name       string
	Command    string
	DependsOn  []int
	Dependents []int
	Retries    int
	Timeout    time.Duration
	Memory     int64
	OnError    string

	// Mutable fields below are touched only by the coordinating loop.
	state      StepState
	remaining  int // unmet dependencies
	attempts   int
	startedAt  time.Time
	finishedAt time.Time
	err        error
}

// State returns the node's current state. Meaningful to callers only once
// the run has finished; during a run, observe through events or RunRecord.
func (n *StepNode) State() StepState { return n.state }

// Attempts returns how many times the step's command was launched.
func (n *StepNode) Attempts() int { return n.attempts }

// Err returns the failure recorded for the step, if any.
func (n *StepNode) Err() error { return n.err }

// NewGraph builds an ExecutionGraph from a verified bytecode document.
// Verify has sorted steps by index and bounded all references, so
// construction is mechanical.
func NewGraph(doc *bytecode.Document) *ExecutionGraph {
	g := &ExecutionGraph{
		Workflow: doc.Workflow.Name,
		Env:      make(map[string]string, len(doc.Env)),
		Steps:    make([]*StepNode, 0, len(doc.Steps)),
		Notify:   append([]bytecode.NotifyRule(nil), doc.Notify...),
	}
	for k, v := range doc.Env {
		g.Env[k] = v
	}
	for _, rec := range doc.Steps {
		g.Steps = append(g.Steps, &StepNode{
			Index:     rec.Index,
			Name:      rec.Name,
			Command:   rec.Command,
			DependsOn: append([]int(nil), rec.DependsOn...),
			Retries:   rec.Retries,
			Timeout:   time.Duration(rec.TimeoutSeconds) * time.Second,
			Memory:    rec.MemoryLimitBytes,
			OnError:   rec.OnError,
			state:     Pending,
			remaining: len(rec.DependsOn),
		})
	}
	for _, n := range g.Steps {
		for _, dep := range n.DependsOn {
			g.Steps[dep].Dependents = append(g.Steps[dep].Dependents, n.Index)
		}
	}
	return g
}
