// Package parser builds a parse tree from .flow source text. The grammar is
// fixed: a single workflow block containing trigger, env, step and notify
// declarations. Parsing stops at the first error, which is reported as a
// lexer.SyntaxError with position and an expected-token description.
package parser

import (
	"fmt"

	"github.com/flowscript/flow/internal/lexer"
)

// Parse scans and parses source text into a parse tree.
func Parse(src string) (*Tree, error) {
	toks, err := lexer.Scan(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	wf, err := p.parseWorkflow()
	if err != nil {
		return nil, err
	}
	p.skipSeparators()
	if p.peek().Kind != lexer.EOF {
		return nil, p.errExpected("end of file after workflow block")
	}
	return &Tree{Workflow: wf}, nil
}

type parser struct {
	toks []lexer.Token
	pos  int
}

func (p *parser) peek() lexer.Token {
	return p.toks[p.pos]
}

func (p *parser) next() lexer.Token {
	tok := p.toks[p.pos]
	if tok.Kind != lexer.EOF {
		p.pos++
	}
	return tok
}

// skipSeparators consumes optional statement separators.
func (p *parser) skipSeparators() {
	for p.peek().Kind == lexer.Semicolon {
		p.next()
	}
}

func (p *parser) errExpected(expected string) error {
	tok := p.peek()
	return &lexer.SyntaxError{
		Pos:      tok.Pos,
		Message:  fmt.Sprintf("unexpected %s", tok),
		Expected: expected,
	}
}

// expect consumes one token of the given kind or fails with context.
func (p *parser) expect(kind lexer.Kind, context string) (lexer.Token, error) {
	if p.peek().Kind != kind {
		return lexer.Token{}, p.errExpected(fmt.Sprintf("%s %s", kind, context))
	}
	return p.next(), nil
}

func (p *parser) parseWorkflow() (*Block, error) {
	p.skipSeparators()
	kw := p.peek()
	if kw.Kind != lexer.Ident || kw.Text != "workflow" {
		return nil, p.errExpected("'workflow'")
	}
	p.next()
	name, err := p.expect(lexer.Ident, "naming the workflow")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace, "opening the workflow body"); err != nil {
		return nil, err
	}

	wf := &Block{Keyword: "workflow", Label: name.Text, Pos: kw.Pos}
	for {
		p.skipSeparators()
		tok := p.peek()
		if tok.Kind == lexer.RBrace {
			p.next()
			return wf, nil
		}
		if tok.Kind != lexer.Ident {
			return nil, p.errExpected("'trigger', 'env', 'step', 'notify' or '}'")
		}
		switch tok.Text {
		case "trigger":
			stmt, err := p.parseTrigger()
			if err != nil {
				return nil, err
			}
			wf.Stmts = append(wf.Stmts, stmt)
		case "env":
			blk, err := p.parseEnv()
			if err != nil {
				return nil, err
			}
			wf.Blocks = append(wf.Blocks, blk)
		case "step":
			blk, err := p.parseStep()
			if err != nil {
				return nil, err
			}
			wf.Blocks = append(wf.Blocks, blk)
		case "notify":
			blk, err := p.parseNotify()
			if err != nil {
				return nil, err
			}
			wf.Blocks = append(wf.Blocks, blk)
		default:
			return nil, p.errExpected("'trigger', 'env', 'step', 'notify' or '}'")
		}
	}
}

// trigger <kind> "<literal>"
func (p *parser) parseTrigger() (*Stmt, error) {
	kw := p.next()
	kind, err := p.expect(lexer.Ident, "naming the trigger kind")
	if err != nil {
		return nil, err
	}
	spec, err := p.expect(lexer.String, "with the trigger specification")
	if err != nil {
		return nil, err
	}
	return &Stmt{Keyword: "trigger", Pos: kw.Pos, Args: []lexer.Token{kind, spec}}, nil
}

// env <name> { KEY = "value" ... }
func (p *parser) parseEnv() (*Block, error) {
	kw := p.next()
	name, err := p.expect(lexer.Ident, "naming the env block")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace, "opening the env body"); err != nil {
		return nil, err
	}
	blk := &Block{Keyword: "env", Label: name.Text, Pos: kw.Pos}
	for {
		p.skipSeparators()
		if p.peek().Kind == lexer.RBrace {
			p.next()
			return blk, nil
		}
		key, err := p.expect(lexer.Ident, "as an env key or '}'")
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(lexer.Equals, "after the env key"); err != nil {
			return nil, err
		}
		val, err := p.expect(lexer.String, "as the env value")
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, &Stmt{Keyword: key.Text, Assign: true, Pos: key.Pos, Args: []lexer.Token{val}})
	}
}

// stepStmts maps step statement keywords to their argument grammar.
var stepStmts = map[string]struct {
	arg  lexer.Kind
	list bool
	desc string
}{
	"run":        {arg: lexer.String, desc: "with the command to run"},
	"depends_on": {arg: lexer.Ident, list: true, desc: "naming a step"},
	"retries":    {arg: lexer.Number, desc: "with the retry count"},
	"timeout":    {arg: lexer.Duration, desc: "such as 30s, 5m or 1h"},
	"memory":     {arg: lexer.Size, desc: "such as 256mb or 1gb"},
	"on_error":   {arg: lexer.Ident, desc: "naming a notify rule"},
}

// step <name> { run "<cmd>"; depends_on a, b; retries <int>; timeout <dur>; memory <size>; on_error <name> }
func (p *parser) parseStep() (*Block, error) {
	kw := p.next()
	name, err := p.expect(lexer.Ident, "naming the step")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace, "opening the step body"); err != nil {
		return nil, err
	}
	blk := &Block{Keyword: "step", Label: name.Text, Pos: kw.Pos}
	for {
		p.skipSeparators()
		tok := p.peek()
		if tok.Kind == lexer.RBrace {
			p.next()
			return blk, nil
		}
		if tok.Kind != lexer.Ident {
			return nil, p.errExpected("a step statement or '}'")
		}
		spec, ok := stepStmts[tok.Text]
		if !ok {
			return nil, p.errExpected("'run', 'depends_on', 'retries', 'timeout', 'memory', 'on_error' or '}'")
		}
		p.next()
		stmt := &Stmt{Keyword: tok.Text, Pos: tok.Pos}
		arg, err := p.expect(spec.arg, spec.desc)
		if err != nil {
			return nil, err
		}
		stmt.Args = append(stmt.Args, arg)
		if spec.list {
			for p.peek().Kind == lexer.Comma {
				p.next()
				arg, err := p.expect(spec.arg, spec.desc)
				if err != nil {
					return nil, err
				}
				stmt.Args = append(stmt.Args, arg)
			}
		}
		blk.Stmts = append(blk.Stmts, stmt)
	}
}

// notify <name> { email "<recipient>"; subject "<template>"; body "<template>" }
func (p *parser) parseNotify() (*Block, error) {
	kw := p.next()
	name, err := p.expect(lexer.Ident, "naming the notify rule")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(lexer.LBrace, "opening the notify body"); err != nil {
		return nil, err
	}
	blk := &Block{Keyword: "notify", Label: name.Text, Pos: kw.Pos}
	for {
		p.skipSeparators()
		tok := p.peek()
		if tok.Kind == lexer.RBrace {
			p.next()
			return blk, nil
		}
		if tok.Kind != lexer.Ident {
			return nil, p.errExpected("'email', 'subject', 'body' or '}'")
		}
		switch tok.Text {
		case "email", "subject", "body":
		default:
			return nil, p.errExpected("'email', 'subject', 'body' or '}'")
		}
		p.next()
		val, err := p.expect(lexer.String, fmt.Sprintf("with the %s text", tok.Text))
		if err != nil {
			return nil, err
		}
		blk.Stmts = append(blk.Stmts, &Stmt{Keyword: tok.Text, Pos: tok.Pos, Args: []lexer.Token{val}})
	}
}
