// Package ir lowers a validated workflow AST into a flat, index-addressed
// program: steps keyed by a stable integer index with dependency names
// rewritten to index sets, env bindings resolved to final strings, and notify
// rules bound. The program is written once by Build and read-only afterward.
package ir

import (
	"fmt"
	"sort"
	"time"

	"github.com/flowscript/flow/internal/ast"
	"github.com/flowscript/flow/internal/semantic"
)

// Program is the compiler's intermediate representation of one workflow.
type Program struct {
	Workflow string
	Triggers []Trigger
	Env      map[string]string
	Steps    []Step
	Notifies []Notify
}

// Trigger mirrors ast.Trigger without source positions.
type Trigger struct {
	Kind string
	Spec string
}

// Step is one flattened step record. Index equals the step's declaration
// order in the source, not its execution order.
type Step struct {
	Index     int
	Name      string
	Command   string // template text; ${var} expanded at run time
	DependsOn []int  // sorted, no duplicates
	Retries   int
	Timeout   time.Duration
	Memory    int64
	OnError   string
}

// Notify is a resolved notification rule. Email is expanded against the env
// at build time; Subject and Body keep their ${failed_step} references for
// run-time substitution.
type Notify struct {
	Name    string
	Email   string
	Subject string
	Body    string
}

// Build lowers a semantically valid workflow. The AST must have passed
// semantic.Analyze; unresolved references here indicate a skipped analysis
// and are returned as errors rather than silently dropped.
func Build(wf *ast.Workflow) (*Program, error) {
	prog := &Program{
		Workflow: wf.Name,
		Env:      make(map[string]string, len(wf.Env)),
	}

	for _, t := range wf.Triggers {
		prog.Triggers = append(prog.Triggers, Trigger{Kind: t.Kind, Spec: t.Spec})
	}

	// Env bindings resolve in declaration order, so a value may reference
	// keys declared before it. Later duplicate keys overwrite earlier ones.
	for _, b := range wf.Env {
		prog.Env[b.Key] = b.Value.Expand(func(name string) (string, bool) {
			v, ok := prog.Env[name]
			return v, ok
		})
	}

	index := make(map[string]int, len(wf.Steps))
	for i, s := range wf.Steps {
		index[s.Name] = i
	}

	for i, s := range wf.Steps {
		deps, err := resolveDeps(s, index)
		if err != nil {
			return nil, err
		}
		prog.Steps = append(prog.Steps, Step{
			Index:     i,
			Name:      s.Name,
			Command:   s.Run.Raw,
			DependsOn: deps,
			Retries:   s.Retries,
			Timeout:   s.Timeout,
			Memory:    s.Memory,
			OnError:   s.OnError,
		})
	}

	for _, n := range wf.Notifies {
		prog.Notifies = append(prog.Notifies, Notify{
			Name: n.Name,
			Email: n.Email.Expand(func(name string) (string, bool) {
				v, ok := prog.Env[name]
				return v, ok
			}),
			Subject: n.Subject.Raw,
			Body:    n.Body.Raw,
		})
	}

	return prog, nil
}

func resolveDeps(s *ast.Step, index map[string]int) ([]int, error) {
	seen := make(map[int]bool)
	deps := make([]int, 0, len(s.DependsOn))
	for _, dep := range s.DependsOn {
		di, ok := index[dep.Name]
		if !ok {
			return nil, fmt.Errorf("step %q depends on unresolved step %q: workflow was not semantically analyzed", s.Name, dep.Name)
		}
		if seen[di] {
			continue
		}
		seen[di] = true
		deps = append(deps, di)
	}
	sort.Ints(deps)
	return deps, nil
}

// Compile runs semantic analysis and IR construction in one call, the unit
// the bytecode generator consumes.
func Compile(wf *ast.Workflow) (*Program, error) {
	if err := semantic.Analyze(wf); err != nil {
		return nil, err
	}
	return Build(wf)
}
