// Package ast defines the typed abstract syntax tree for a workflow
// definition and lowers parse trees into it. The builder is purely
// structural; all reference and range checks belong to the semantic package.
package ast

import (
	"strings"
	"time"

	"github.com/flowscript/flow/internal/lexer"
)

// Workflow is a complete, immutable workflow definition.
type Workflow struct {
	Name     string
	Pos      lexer.Pos
	Triggers []Trigger
	Env      []EnvBinding
	Steps    []*Step
	Notifies []*Notify
}

// Trigger describes how a workflow is initiated, e.g. kind "cron" with a
// crontab expression, or kind "manual".
type Trigger struct {
	Kind string
	Spec string
	Pos  lexer.Pos
}

// EnvBinding is one KEY = "value" pair, kept in declaration order.
type EnvBinding struct {
	Group string // env block label
	Key   string
	Value Template
	Pos   lexer.Pos
}

// Step is a single executable unit of a workflow.
type Step struct {
	Name       string
	Pos        lexer.Pos
	Run        Template
	RunSet     bool
	DependsOn  []Dependency
	Retries    int
	RetryPos   lexer.Pos
	Timeout    time.Duration // 0 means unbounded
	TimeoutSet bool
	TimeoutPos lexer.Pos
	Memory     int64 // bytes, 0 means unlimited
	MemorySet  bool
	MemoryPos  lexer.Pos
	OnError    string // notify rule name, empty when unset
	OnErrPos   lexer.Pos
}

// Dependency is one depends_on target with its source position.
type Dependency struct {
	Name string
	Pos  lexer.Pos
}

// Notify is a notification rule, evaluated on step failure at run time.
type Notify struct {
	Name    string
	Pos     lexer.Pos
	Email   Template
	Subject Template
	Body    Template
}

// Template is a string literal split into literal and ${variable} segments.
type Template struct {
	Raw      string
	Segments []Segment
	Pos      lexer.Pos
}

// Segment is either literal text or an interpolated variable reference.
type Segment struct {
	Literal string
	Var     string // set when the segment is a ${Var} reference
}

// Vars returns the names of all variable references in the template.
func (t Template) Vars() []string {
	var vars []string
	for _, seg := range t.Segments {
		if seg.Var != "" {
			vars = append(vars, seg.Var)
		}
	}
	return vars
}

// Expand substitutes variable references using the lookup function. Unknown
// variables are kept verbatim so a partially resolved template stays legible.
func (t Template) Expand(lookup func(string) (string, bool)) string {
	var sb strings.Builder
	for _, seg := range t.Segments {
		if seg.Var == "" {
			sb.WriteString(seg.Literal)
			continue
		}
		if val, ok := lookup(seg.Var); ok {
			sb.WriteString(val)
		} else {
			sb.WriteString("${" + seg.Var + "}")
		}
	}
	return sb.String()
}

// newTemplate splits raw string text into segments. The lexer has already
// validated interpolation shape, so malformed markers cannot occur here.
func newTemplate(raw string, pos lexer.Pos) Template {
	t := Template{Raw: raw, Pos: pos}
	rest := raw
	for {
		i := strings.Index(rest, "${")
		if i < 0 {
			break
		}
		j := strings.Index(rest[i:], "}")
		if j < 0 {
			break
		}
		if i > 0 {
			t.Segments = append(t.Segments, Segment{Literal: rest[:i]})
		}
		t.Segments = append(t.Segments, Segment{Var: rest[i+2 : i+j]})
		rest = rest[i+j+1:]
	}
	if rest != "" {
		t.Segments = append(t.Segments, Segment{Literal: rest})
	}
	return t
}
