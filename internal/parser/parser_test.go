package parser

import (
	"strings"
	"testing"

	"github.com/flowscript/flow/internal/lexer"
)

const sampleSource = `
workflow release {
	trigger push "main"
	trigger schedule "0 4 * * *"

	env build {
		TARGET = "prod"
		REGION = "eu-west-1"
	}

	step build {
		run "make build TARGET=${TARGET}"
		retries 2
		timeout 5m
		memory 512mb
	}

	step deploy {
		run "make deploy"
		depends_on build
		on_error oncall
	}

	notify oncall {
		email "oncall@example.com"
		subject "step ${failed_step} failed"
		body "see the run log"
	}
}
`

func TestParseWorkflow(t *testing.T) {
	tree, err := Parse(sampleSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	wf := tree.Workflow
	if wf.Label != "release" {
		t.Errorf("workflow label = %q", wf.Label)
	}
	if len(wf.Stmts) != 2 {
		t.Fatalf("got %d triggers, want 2", len(wf.Stmts))
	}
	if wf.Stmts[0].ArgText(0) != "push" || wf.Stmts[0].ArgText(1) != "main" {
		t.Errorf("trigger = %v", wf.Stmts[0].Args)
	}
	if len(wf.Blocks) != 4 {
		t.Fatalf("got %d blocks, want 4", len(wf.Blocks))
	}
}

func TestParseStepStatements(t *testing.T) {
	tree, err := Parse(sampleSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	var build *Block
	for _, blk := range tree.Workflow.Blocks {
		if blk.Keyword == "step" && blk.Label == "build" {
			build = blk
		}
	}
	if build == nil {
		t.Fatal("step build not found")
	}
	want := map[string]string{
		"run":     "make build TARGET=${TARGET}",
		"retries": "2",
		"timeout": "5m",
		"memory":  "512mb",
	}
	for _, stmt := range build.Stmts {
		if w, ok := want[stmt.Keyword]; ok && stmt.ArgText(0) != w {
			t.Errorf("%s = %q, want %q", stmt.Keyword, stmt.ArgText(0), w)
		}
		delete(want, stmt.Keyword)
	}
	for kw := range want {
		t.Errorf("statement %q missing", kw)
	}
}

func TestParseDependsOnList(t *testing.T) {
	src := `workflow w {
		step a { run "true" }
		step b { run "true" }
		step c { run "true"; depends_on a, b }
	}`
	tree, err := Parse(src)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	c := tree.Workflow.Blocks[2]
	var deps []string
	for _, stmt := range c.Stmts {
		if stmt.Keyword == "depends_on" {
			for i := range stmt.Args {
				deps = append(deps, stmt.ArgText(i))
			}
		}
	}
	if len(deps) != 2 || deps[0] != "a" || deps[1] != "b" {
		t.Errorf("deps = %v", deps)
	}
}

func TestParseEnvAssignments(t *testing.T) {
	tree, err := Parse(sampleSource)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	env := tree.Workflow.Blocks[0]
	if env.Keyword != "env" || env.Label != "build" {
		t.Fatalf("first block = %s %s", env.Keyword, env.Label)
	}
	if len(env.Stmts) != 2 {
		t.Fatalf("got %d env entries", len(env.Stmts))
	}
	if !env.Stmts[0].Assign || env.Stmts[0].Keyword != "TARGET" || env.Stmts[0].ArgText(0) != "prod" {
		t.Errorf("first entry = %+v", env.Stmts[0])
	}
}

func TestParseOptionalSemicolons(t *testing.T) {
	withSemis := `workflow w { step a { run "true"; retries 1; }; };`
	withoutSemis := `workflow w {
		step a {
			run "true"
			retries 1
		}
	}`
	for _, src := range []string{withSemis, withoutSemis} {
		if _, err := Parse(src); err != nil {
			t.Errorf("Parse(%q) failed: %v", src, err)
		}
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name     string
		src      string
		line     int
		col      int
		expected string
	}{
		{
			name:     "missing workflow keyword",
			src:      `pipeline w {}`,
			line:     1, col: 1,
			expected: "'workflow'",
		},
		{
			name:     "unknown step statement",
			src:      "workflow w {\n\tstep a {\n\t\tshell \"true\"\n\t}\n}",
			line:     3, col: 3,
			expected: "'run'",
		},
		{
			name:     "timeout needs duration",
			src:      "workflow w {\n\tstep a { run \"true\"; timeout 30 }\n}",
			line:     2, col: 31,
			expected: "duration",
		},
		{
			name:     "memory needs size",
			src:      "workflow w {\n\tstep a { run \"true\"; memory 10s }\n}",
			line:     2, col: 30,
			expected: "size",
		},
		{
			name:     "trailing garbage",
			src:      `workflow w {} extra`,
			line:     1, col: 15,
			expected: "end of file",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.src)
			if err == nil {
				t.Fatal("expected a syntax error")
			}
			syn, ok := err.(*lexer.SyntaxError)
			if !ok {
				t.Fatalf("error type = %T: %v", err, err)
			}
			if syn.Pos.Line != tc.line || syn.Pos.Col != tc.col {
				t.Errorf("position = %s, want %d:%d (%v)", syn.Pos, tc.line, tc.col, syn)
			}
			if !strings.Contains(syn.Expected, tc.expected) {
				t.Errorf("expected clause %q does not mention %q", syn.Expected, tc.expected)
			}
		})
	}
}
