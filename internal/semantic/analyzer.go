// Package semantic validates a workflow AST before lowering. All checks run
// independently and every problem found is collected, so a single pass shows
// the user the full list instead of one error at a time.
package semantic

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flowscript/flow/internal/ast"
)

// FailedStepVar is the reserved run-time substitution bound to the name of
// the step whose failure triggered a notification.
const FailedStepVar = "failed_step"

// unsafePatterns are command shapes rejected outright. Workflow commands run
// under a shell, so composition operators that escape the per-step sandbox
// are not allowed.
var unsafePatterns = []struct {
	re   *regexp.Regexp
	what string
}{
	{regexp.MustCompile(`rm\s+-rf`), "recursive force remove"},
	{regexp.MustCompile(`(^|;|\s)\|(\s|$)`), "pipe"},
	{regexp.MustCompile(`>>`), "append redirect"},
	{regexp.MustCompile(`(^|;|\s)&(\s|$)`), "background execution"},
	{regexp.MustCompile("`"), "backticks"},
}

// Analyze validates the workflow and returns nil or a non-empty ErrorList.
func Analyze(wf *ast.Workflow) error {
	a := &analyzer{wf: wf}
	a.checkSteps()
	a.checkNotifies()
	a.checkEnv()
	a.checkCycles()
	if len(a.errs) > 0 {
		return a.errs
	}
	return nil
}

type analyzer struct {
	wf   *ast.Workflow
	errs ErrorList
}

func (a *analyzer) add(e Error) {
	a.errs = append(a.errs, e)
}

func (a *analyzer) envKeys() map[string]bool {
	keys := make(map[string]bool, len(a.wf.Env))
	for _, b := range a.wf.Env {
		keys[b.Key] = true
	}
	return keys
}

func (a *analyzer) notifyNames() map[string]bool {
	names := make(map[string]bool, len(a.wf.Notifies))
	for _, n := range a.wf.Notifies {
		names[n.Name] = true
	}
	return names
}

func (a *analyzer) checkSteps() {
	seen := make(map[string]bool)
	env := a.envKeys()
	notifies := a.notifyNames()
	declared := make(map[string]bool)
	for _, s := range a.wf.Steps {
		declared[s.Name] = true
	}

	for _, s := range a.wf.Steps {
		if seen[s.Name] {
			a.add(Error{Name: s.Name, Pos: s.Pos, Message: fmt.Sprintf("duplicate step name %q", s.Name)})
		}
		seen[s.Name] = true

		if !s.RunSet {
			a.add(Error{Name: s.Name, Pos: s.Pos, Message: fmt.Sprintf("step %q has no run command", s.Name)})
		}

		for _, dep := range s.DependsOn {
			if !declared[dep.Name] {
				a.add(Error{Name: s.Name, Pos: dep.Pos, Message: fmt.Sprintf("step %q depends on undeclared step %q", s.Name, dep.Name)})
			}
		}

		if s.Retries < 0 {
			a.add(Error{Name: s.Name, Pos: s.RetryPos, Message: fmt.Sprintf("step %q has negative retries %d", s.Name, s.Retries)})
		}
		if s.TimeoutSet && s.Timeout <= 0 {
			a.add(Error{Name: s.Name, Pos: s.TimeoutPos, Message: fmt.Sprintf("step %q has non-positive timeout", s.Name)})
		}
		if s.MemorySet && s.Memory <= 0 {
			a.add(Error{Name: s.Name, Pos: s.MemoryPos, Message: fmt.Sprintf("step %q has non-positive memory limit", s.Name)})
		}

		if s.OnError != "" && !notifies[s.OnError] {
			a.add(Error{Name: s.Name, Pos: s.OnErrPos, Message: fmt.Sprintf("step %q names undeclared notify rule %q in on_error", s.Name, s.OnError)})
		}

		for _, v := range s.Run.Vars() {
			if !env[v] {
				a.add(Error{Name: s.Name, Pos: s.Run.Pos, Message: fmt.Sprintf("step %q references undeclared variable ${%s}", s.Name, v)})
			}
		}

		if s.RunSet {
			for _, p := range unsafePatterns {
				if p.re.MatchString(s.Run.Raw) {
					a.add(Error{Name: s.Name, Pos: s.Run.Pos, Message: fmt.Sprintf("step %q uses an unsafe command construct (%s)", s.Name, p.what)})
				}
			}
		}
	}
}

func (a *analyzer) checkNotifies() {
	seen := make(map[string]bool)
	env := a.envKeys()
	for _, n := range a.wf.Notifies {
		if seen[n.Name] {
			a.add(Error{Name: n.Name, Pos: n.Pos, Message: fmt.Sprintf("duplicate notify rule %q", n.Name)})
		}
		seen[n.Name] = true

		for _, v := range n.Email.Vars() {
			if !env[v] {
				a.add(Error{Name: n.Name, Pos: n.Email.Pos, Message: fmt.Sprintf("notify %q references undeclared variable ${%s}", n.Name, v)})
			}
		}
		// failed_step is a reserved run-time substitution, valid only in the
		// subject and body of a notify rule.
		for _, tmpl := range []ast.Template{n.Subject, n.Body} {
			for _, v := range tmpl.Vars() {
				if v != FailedStepVar && !env[v] {
					a.add(Error{Name: n.Name, Pos: tmpl.Pos, Message: fmt.Sprintf("notify %q references undeclared variable ${%s}", n.Name, v)})
				}
			}
		}
	}
}

func (a *analyzer) checkEnv() {
	env := a.envKeys()
	for _, b := range a.wf.Env {
		for _, v := range b.Value.Vars() {
			if !env[v] {
				a.add(Error{Name: b.Key, Pos: b.Pos, Message: fmt.Sprintf("env key %q references undeclared variable ${%s}", b.Key, v)})
			}
		}
	}
}

// checkCycles runs a depth-first traversal over the depends_on relation with
// an active-path set. Any edge back into the active path is a cycle; the
// cycle's member names are reported in dependency order.
func (a *analyzer) checkCycles() {
	steps := make(map[string]*ast.Step, len(a.wf.Steps))
	for _, s := range a.wf.Steps {
		steps[s.Name] = s
	}

	visited := make(map[string]bool)
	onPath := make(map[string]bool)
	var path []string

	var visit func(name string)
	visit = func(name string) {
		visited[name] = true
		onPath[name] = true
		path = append(path, name)

		step := steps[name]
		for _, dep := range step.DependsOn {
			target, declared := steps[dep.Name]
			if !declared {
				continue // reported by checkSteps
			}
			if onPath[dep.Name] {
				a.reportCycle(path, dep.Name, step)
				continue
			}
			if !visited[dep.Name] {
				visit(target.Name)
			}
		}

		onPath[name] = false
		path = path[:len(path)-1]
	}

	for _, s := range a.wf.Steps {
		if !visited[s.Name] {
			visit(s.Name)
		}
	}
}

// reportCycle emits one error naming every step on the cycle closed by the
// back-edge from the current step to start.
func (a *analyzer) reportCycle(path []string, start string, from *ast.Step) {
	i := 0
	for ; i < len(path); i++ {
		if path[i] == start {
			break
		}
	}
	members := append(append([]string{}, path[i:]...), start)
	a.add(Error{
		Name:    from.Name,
		Pos:     from.Pos,
		Message: fmt.Sprintf("dependency cycle: %s", strings.Join(members, " -> ")),
	})
}
