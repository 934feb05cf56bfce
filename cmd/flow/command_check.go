package main

import (
	"fmt"
	"os"

	"github.com/flowscript/flow/internal/ast"
	"github.com/flowscript/flow/internal/lexer"
	"github.com/flowscript/flow/internal/semantic"
	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "check <file.flow>",
	Short: "Parse and semantically validate a workflow definition",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, err := checkFile(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("✓ %s: workflow %q with %d step(s) is valid\n", args[0], wf.Name, len(wf.Steps))
		return nil
	},
}

// checkFile runs the front half of the pipeline and reports every error as
// file:line:col: message.
func checkFile(path string) (*ast.Workflow, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read source file: %w", err)
	}

	wf, err := ast.Parse(string(src))
	if err != nil {
		if syn, ok := err.(*lexer.SyntaxError); ok {
			fmt.Fprintf(os.Stderr, "%s:%s: %s\n", path, syn.Pos, syntaxMessage(syn))
			return nil, fmt.Errorf("syntax error")
		}
		return nil, err
	}

	if err := semantic.Analyze(wf); err != nil {
		errs, ok := err.(semantic.ErrorList)
		if !ok {
			return nil, err
		}
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "%s:%s: %s\n", path, e.Pos, e.Message)
		}
		return nil, fmt.Errorf("%d semantic error(s) found", len(errs))
	}
	return wf, nil
}

func syntaxMessage(e *lexer.SyntaxError) string {
	if e.Expected != "" {
		return fmt.Sprintf("%s (expected %s)", e.Message, e.Expected)
	}
	return e.Message
}
