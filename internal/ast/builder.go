package ast

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/flowscript/flow/internal/parser"
)

// Build lowers a parse tree into a typed Workflow. Errors indicate a parse
// tree shape the grammar should have rejected; given a correct parser they
// are unreachable and treated as internal invariant violations.
func Build(tree *parser.Tree) (*Workflow, error) {
	if tree == nil || tree.Workflow == nil {
		return nil, fmt.Errorf("internal: parse tree has no workflow block")
	}
	root := tree.Workflow
	wf := &Workflow{Name: root.Label, Pos: root.Pos}

	for _, stmt := range root.Stmts {
		if stmt.Keyword != "trigger" || len(stmt.Args) != 2 {
			return nil, fmt.Errorf("internal: unexpected workflow statement %q at %s", stmt.Keyword, stmt.Pos)
		}
		wf.Triggers = append(wf.Triggers, Trigger{
			Kind: stmt.Args[0].Text,
			Spec: stmt.Args[1].Text,
			Pos:  stmt.Pos,
		})
	}

	for _, blk := range root.Blocks {
		switch blk.Keyword {
		case "env":
			for _, stmt := range blk.Stmts {
				if !stmt.Assign || len(stmt.Args) != 1 {
					return nil, fmt.Errorf("internal: malformed env statement at %s", stmt.Pos)
				}
				wf.Env = append(wf.Env, EnvBinding{
					Group: blk.Label,
					Key:   stmt.Keyword,
					Value: newTemplate(stmt.Args[0].Text, stmt.Args[0].Pos),
					Pos:   stmt.Pos,
				})
			}
		case "step":
			step, err := buildStep(blk)
			if err != nil {
				return nil, err
			}
			wf.Steps = append(wf.Steps, step)
		case "notify":
			notify, err := buildNotify(blk)
			if err != nil {
				return nil, err
			}
			wf.Notifies = append(wf.Notifies, notify)
		default:
			return nil, fmt.Errorf("internal: unexpected block %q at %s", blk.Keyword, blk.Pos)
		}
	}
	return wf, nil
}

func buildStep(blk *parser.Block) (*Step, error) {
	step := &Step{Name: blk.Label, Pos: blk.Pos}
	for _, stmt := range blk.Stmts {
		switch stmt.Keyword {
		case "run":
			step.Run = newTemplate(stmt.ArgText(0), stmt.Args[0].Pos)
			step.RunSet = true
		case "depends_on":
			for _, arg := range stmt.Args {
				step.DependsOn = append(step.DependsOn, Dependency{Name: arg.Text, Pos: arg.Pos})
			}
		case "retries":
			n, err := strconv.Atoi(stmt.ArgText(0))
			if err != nil {
				return nil, fmt.Errorf("internal: bad retries literal at %s: %w", stmt.Pos, err)
			}
			step.Retries = n
			step.RetryPos = stmt.Pos
		case "timeout":
			d, err := parseDuration(stmt.ArgText(0))
			if err != nil {
				return nil, fmt.Errorf("internal: bad timeout literal at %s: %w", stmt.Pos, err)
			}
			step.Timeout = d
			step.TimeoutSet = true
			step.TimeoutPos = stmt.Pos
		case "memory":
			n, err := parseSize(stmt.ArgText(0))
			if err != nil {
				return nil, fmt.Errorf("internal: bad memory literal at %s: %w", stmt.Pos, err)
			}
			step.Memory = n
			step.MemorySet = true
			step.MemoryPos = stmt.Pos
		case "on_error":
			step.OnError = stmt.ArgText(0)
			step.OnErrPos = stmt.Pos
		default:
			return nil, fmt.Errorf("internal: unexpected step statement %q at %s", stmt.Keyword, stmt.Pos)
		}
	}
	return step, nil
}

func buildNotify(blk *parser.Block) (*Notify, error) {
	notify := &Notify{Name: blk.Label, Pos: blk.Pos}
	for _, stmt := range blk.Stmts {
		tmpl := newTemplate(stmt.ArgText(0), stmt.Args[0].Pos)
		switch stmt.Keyword {
		case "email":
			notify.Email = tmpl
		case "subject":
			notify.Subject = tmpl
		case "body":
			notify.Body = tmpl
		default:
			return nil, fmt.Errorf("internal: unexpected notify statement %q at %s", stmt.Keyword, stmt.Pos)
		}
	}
	return notify, nil
}

// parseDuration converts a duration literal (30s, 5m, 1h) to a
// time.Duration. Magnitude sign and range are checked semantically.
func parseDuration(text string) (time.Duration, error) {
	unit := text[len(text)-1:]
	n, err := strconv.ParseInt(text[:len(text)-1], 10, 64)
	if err != nil {
		return 0, err
	}
	switch unit {
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	case "h":
		return time.Duration(n) * time.Hour, nil
	}
	return 0, fmt.Errorf("unknown duration unit %q", unit)
}

// parseSize converts a size literal (512b, 64kb, 256mb, 1gb) to bytes.
func parseSize(text string) (int64, error) {
	lower := strings.ToLower(text)
	mult := int64(1)
	digits := lower
	switch {
	case strings.HasSuffix(lower, "kb"):
		mult, digits = 1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "mb"):
		mult, digits = 1024*1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "gb"):
		mult, digits = 1024*1024*1024, lower[:len(lower)-2]
	case strings.HasSuffix(lower, "b"):
		digits = lower[:len(lower)-1]
	}
	n, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, err
	}
	return n * mult, nil
}

// Parse is a convenience helper running the lexer, parser and AST builder in
// sequence.
func Parse(src string) (*Workflow, error) {
	tree, err := parser.Parse(src)
	if err != nil {
		return nil, err
	}
	return Build(tree)
}
