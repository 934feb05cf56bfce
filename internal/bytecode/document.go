// Package bytecode defines the versioned document that decouples the
// compiler from the execution engine, the generator that serializes an IR
// program into it, and the loader that reconstructs it with independent
// validation. The document is JSON by convention; YAML is accepted by file
// extension.
package bytecode

import "fmt"

// Version is the current bytecode format version. The loader rejects
// documents carrying any other version; unknown optional fields inside a
// supported version are ignored for forward compatibility.
const Version = 1

// Document is the top-level bytecode structure.
type Document struct {
	Version  int               `json:"version" yaml:"version"`
	Workflow WorkflowMeta      `json:"workflow" yaml:"workflow"`
	Env      map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Steps    []StepRecord      `json:"steps" yaml:"steps"`
	Notify   []NotifyRule      `json:"notify,omitempty" yaml:"notify,omitempty"`
}

// WorkflowMeta carries workflow identity and trigger metadata.
type WorkflowMeta struct {
	Name     string        `json:"name" yaml:"name"`
	Triggers []TriggerMeta `json:"triggers,omitempty" yaml:"triggers,omitempty"`
}

// TriggerMeta is one trigger declaration, e.g. kind "cron" with a crontab
// spec. The engine treats triggers as metadata; initiating a run is the
// caller's concern.
type TriggerMeta struct {
	Kind string `json:"kind" yaml:"kind"`
	Spec string `json:"spec" yaml:"spec"`
}

// StepRecord is one indexed step.
type StepRecord struct {
	Index            int    `json:"index" yaml:"index"`
	Name             string `json:"name" yaml:"name"`
	Command          string `json:"command" yaml:"command"`
	DependsOn        []int  `json:"depends_on" yaml:"depends_on"`
	Retries          int    `json:"retries,omitempty" yaml:"retries,omitempty"`
	TimeoutSeconds   int64  `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
	MemoryLimitBytes int64  `json:"memory_limit_bytes,omitempty" yaml:"memory_limit_bytes,omitempty"`
	OnError          string `json:"on_error,omitempty" yaml:"on_error,omitempty"`
}

// NotifyRule is one on-failure notification rule.
type NotifyRule struct {
	Name    string `json:"name" yaml:"name"`
	Email   string `json:"email" yaml:"email"`
	Subject string `json:"subject,omitempty" yaml:"subject,omitempty"`
	Body    string `json:"body,omitempty" yaml:"body,omitempty"`
}

// IntegrityError reports malformed or incompatible bytecode. It is fatal to
// loading and never coerced into a best-effort document.
type IntegrityError struct {
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("bytecode integrity: %s", e.Reason)
}

func integrityf(format string, args ...any) *IntegrityError {
	return &IntegrityError{Reason: fmt.Sprintf(format, args...)}
}
