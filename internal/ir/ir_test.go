package ir

import (
	"reflect"
	"testing"
	"time"

	"github.com/flowscript/flow/internal/ast"
)

func compile(t *testing.T, src string) *Program {
	t.Helper()
	wf, err := ast.Parse(src)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	prog, err := Compile(wf)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	return prog
}

func TestBuildIndexesByDeclarationOrder(t *testing.T) {
	prog := compile(t, `workflow w {
		step fetch { run "true" }
		step build { run "true"; depends_on fetch }
		step publish { run "true"; depends_on build, fetch }
	}`)
	if len(prog.Steps) != 3 {
		t.Fatalf("got %d steps", len(prog.Steps))
	}
	for i, name := range []string{"fetch", "build", "publish"} {
		if prog.Steps[i].Index != i || prog.Steps[i].Name != name {
			t.Errorf("step %d = %q index %d", i, prog.Steps[i].Name, prog.Steps[i].Index)
		}
	}
	if !reflect.DeepEqual(prog.Steps[2].DependsOn, []int{0, 1}) {
		t.Errorf("publish deps = %v, want sorted [0 1]", prog.Steps[2].DependsOn)
	}
}

func TestBuildDeduplicatesDependencies(t *testing.T) {
	prog := compile(t, `workflow w {
		step a { run "true" }
		step b { run "true"; depends_on a, a }
	}`)
	if !reflect.DeepEqual(prog.Steps[1].DependsOn, []int{0}) {
		t.Errorf("deps = %v", prog.Steps[1].DependsOn)
	}
}

func TestBuildResolvesEnvInOrder(t *testing.T) {
	prog := compile(t, `workflow w {
		env vars {
			REGION = "eu-west-1"
			BUCKET = "releases-${REGION}"
		}
		step a { run "sync ${BUCKET}" }
	}`)
	if prog.Env["BUCKET"] != "releases-eu-west-1" {
		t.Errorf("BUCKET = %q", prog.Env["BUCKET"])
	}
	// Commands stay templated for run-time expansion.
	if prog.Steps[0].Command != "sync ${BUCKET}" {
		t.Errorf("command = %q", prog.Steps[0].Command)
	}
}

func TestBuildStepAttributes(t *testing.T) {
	prog := compile(t, `workflow w {
		step a { run "make"; retries 3; timeout 2m; memory 64mb; on_error ops }
		notify ops { email "ops@example.com" }
	}`)
	s := prog.Steps[0]
	if s.Retries != 3 {
		t.Errorf("retries = %d", s.Retries)
	}
	if s.Timeout != 2*time.Minute {
		t.Errorf("timeout = %v", s.Timeout)
	}
	if s.Memory != 64*1024*1024 {
		t.Errorf("memory = %d", s.Memory)
	}
	if s.OnError != "ops" {
		t.Errorf("on_error = %q", s.OnError)
	}
}

func TestBuildExpandsNotifyEmailOnly(t *testing.T) {
	prog := compile(t, `workflow w {
		env vars { TEAM = "platform" }
		step a { run "true" }
		notify oncall {
			email "${TEAM}@example.com"
			subject "step ${failed_step} failed in ${TEAM}"
			body "failed: ${failed_step}"
		}
	}`)
	n := prog.Notifies[0]
	if n.Email != "platform@example.com" {
		t.Errorf("email = %q", n.Email)
	}
	// failed_step is a run-time binding; subject and body keep templates.
	if n.Subject != "step ${failed_step} failed in ${TEAM}" {
		t.Errorf("subject = %q", n.Subject)
	}
	if n.Body != "failed: ${failed_step}" {
		t.Errorf("body = %q", n.Body)
	}
}

func TestCompileRejectsInvalidWorkflow(t *testing.T) {
	wf, err := ast.Parse(`workflow w {
		step a { run "true"; depends_on a }
	}`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if _, err := Compile(wf); err == nil {
		t.Fatal("Compile accepted a cyclic workflow")
	}
}
