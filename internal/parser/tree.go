package parser

import "github.com/flowscript/flow/internal/lexer"

// Tree is the parse tree for one .flow source file. It preserves the source
// shape (blocks, statements, raw tokens) without interpreting literals; the
// ast package lowers it into typed declarations.
type Tree struct {
	Workflow *Block
}

// Block is a labeled brace-delimited region: workflow, env, step or notify.
type Block struct {
	Keyword string
	Label   string
	Pos     lexer.Pos
	Stmts   []*Stmt
	Blocks  []*Block
}

// Stmt is a single statement inside a block. For env assignments Assign is
// true and Keyword holds the key name; otherwise Keyword is the statement's
// leading keyword (run, depends_on, trigger, ...).
type Stmt struct {
	Keyword string
	Assign  bool
	Pos     lexer.Pos
	Args    []lexer.Token
}

// ArgText returns the text of argument i, or the empty string when absent.
func (s *Stmt) ArgText(i int) string {
	if i < 0 || i >= len(s.Args) {
		return ""
	}
	return s.Args[i].Text
}
