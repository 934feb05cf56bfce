package bytecode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/flowscript/flow/internal/ir"
	"gopkg.in/yaml.v3"
)

// Generate serializes an IR program into a bytecode document.
func Generate(prog *ir.Program) *Document {
	doc := &Document{
		Version:  Version,
		Workflow: WorkflowMeta{Name: prog.Workflow},
		Env:      prog.Env,
		Steps:    make([]StepRecord, 0, len(prog.Steps)),
	}
	for _, t := range prog.Triggers {
		doc.Workflow.Triggers = append(doc.Workflow.Triggers, TriggerMeta{Kind: t.Kind, Spec: t.Spec})
	}
	for _, s := range prog.Steps {
		deps := s.DependsOn
		if deps == nil {
			deps = []int{}
		}
		doc.Steps = append(doc.Steps, StepRecord{
			Index:            s.Index,
			Name:             s.Name,
			Command:          s.Command,
			DependsOn:        deps,
			Retries:          s.Retries,
			TimeoutSeconds:   int64(s.Timeout / time.Second),
			MemoryLimitBytes: s.Memory,
			OnError:          s.OnError,
		})
	}
	for _, n := range prog.Notifies {
		doc.Notify = append(doc.Notify, NotifyRule{
			Name:    n.Name,
			Email:   n.Email,
			Subject: n.Subject,
			Body:    n.Body,
		})
	}
	return doc
}

// Write persists a document to path, as YAML when the extension is
// .yaml/.yml and as indented JSON otherwise.
func Write(doc *Document, path string) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory: %w", err)
		}
	}

	var data []byte
	var err error
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(doc)
	default:
		data, err = json.MarshalIndent(doc, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("failed to render bytecode: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write bytecode to %s: %w", path, err)
	}
	return nil
}
