package main

import (
	"fmt"

	"github.com/flowscript/flow/internal/bytecode"
	"github.com/flowscript/flow/internal/ir"
	"github.com/spf13/cobra"
)

var (
	compileOutput string
	compileDebug  bool
)

var compileCmd = &cobra.Command{
	Use:   "compile <file.flow>",
	Short: "Compile a workflow definition to bytecode",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return compileFile(args[0])
	},
}

func init() {
	compileCmd.Flags().StringVarP(&compileOutput, "output", "o", "out.bc.json", "Output bytecode path (.json or .yaml)")
	compileCmd.Flags().BoolVar(&compileDebug, "debug", false, "Dump the compiled program")
}

func compileFile(path string) error {
	fmt.Println("□ Checking source...")
	wf, err := checkFile(path)
	if err != nil {
		return err
	}

	fmt.Println("□ Lowering to IR...")
	prog, err := ir.Build(wf)
	if err != nil {
		return fmt.Errorf("failed to build IR: %w", err)
	}

	fmt.Println("□ Generating bytecode...")
	doc := bytecode.Generate(prog)

	if compileDebug {
		for _, s := range doc.Steps {
			fmt.Printf("  [%d] %s deps=%v retries=%d timeout=%ds\n",
				s.Index, s.Name, s.DependsOn, s.Retries, s.TimeoutSeconds)
		}
	}

	if err := bytecode.Write(doc, compileOutput); err != nil {
		return err
	}
	fmt.Printf("✓ Bytecode with %d step(s) saved to: %s\n", len(doc.Steps), compileOutput)
	return nil
}
