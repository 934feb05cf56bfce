package bytecode

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

// documentSchema constrains the structural shape of a bytecode document.
// Additional properties are allowed everywhere so documents written by newer
// minor revisions still load.
const documentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["version", "workflow", "steps"],
  "properties": {
    "version": {"type": "integer"},
    "workflow": {
      "type": "object",
      "required": ["name"],
      "properties": {
        "name": {"type": "string", "minLength": 1},
        "triggers": {
          "type": "array",
          "items": {
            "type": "object",
            "required": ["kind"],
            "properties": {
              "kind": {"type": "string"},
              "spec": {"type": "string"}
            }
          }
        }
      }
    },
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["index", "name", "command", "depends_on"],
        "properties": {
          "index": {"type": "integer", "minimum": 0},
          "name": {"type": "string", "minLength": 1},
          "command": {"type": "string", "minLength": 1},
          "depends_on": {"type": "array", "items": {"type": "integer", "minimum": 0}},
          "retries": {"type": "integer", "minimum": 0},
          "timeout_seconds": {"type": "integer", "minimum": 1},
          "memory_limit_bytes": {"type": "integer", "minimum": 1},
          "on_error": {"type": "string"}
        }
      }
    },
    "notify": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "email"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "email": {"type": "string"},
          "subject": {"type": "string"},
          "body": {"type": "string"}
        }
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("bytecode.schema.json", documentSchema)

// Load reads, schema-validates and integrity-checks a bytecode document.
// Validation is independent of the compiler: a document is never trusted to
// have been produced by a compatible generator.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bytecode file: %w", err)
	}

	// Normalize YAML input to JSON so one schema and one decoder serve both.
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		var raw interface{}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, integrityf("malformed YAML: %v", err)
		}
		data, err = json.Marshal(raw)
		if err != nil {
			return nil, integrityf("document is not JSON-compatible: %v", err)
		}
	}

	return Decode(data)
}

// Decode validates and decodes a JSON bytecode document.
func Decode(data []byte) (*Document, error) {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, integrityf("malformed JSON: %v", err)
	}
	if err := compiledSchema.Validate(raw); err != nil {
		return nil, integrityf("schema violation: %v", err)
	}

	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, integrityf("failed to decode document: %v", err)
	}
	if err := Verify(&doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Verify performs structural integrity checks beyond the schema: version
// compatibility, dense in-range indexes, dependency bounds, no
// self-references, unique names and resolvable notify bindings. On success
// the step array is left sorted by index.
func Verify(doc *Document) error {
	if doc.Version != Version {
		return integrityf("unsupported version %d (this engine supports version %d)", doc.Version, Version)
	}

	n := len(doc.Steps)
	seenIndex := make(map[int]bool, n)
	seenName := make(map[string]bool, n)
	for _, s := range doc.Steps {
		if s.Index < 0 || s.Index >= n {
			return integrityf("step %q has index %d outside [0,%d)", s.Name, s.Index, n)
		}
		if seenIndex[s.Index] {
			return integrityf("duplicate step index %d", s.Index)
		}
		seenIndex[s.Index] = true
		if seenName[s.Name] {
			return integrityf("duplicate step name %q", s.Name)
		}
		seenName[s.Name] = true

		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= n {
				return integrityf("step %q depends on index %d outside [0,%d)", s.Name, dep, n)
			}
			if dep == s.Index {
				return integrityf("step %q depends on itself", s.Name)
			}
		}
	}

	rules := make(map[string]bool, len(doc.Notify))
	for _, r := range doc.Notify {
		if rules[r.Name] {
			return integrityf("duplicate notify rule %q", r.Name)
		}
		rules[r.Name] = true
	}
	for _, s := range doc.Steps {
		if s.OnError != "" && !rules[s.OnError] {
			return integrityf("step %q binds on_error to unknown notify rule %q", s.Name, s.OnError)
		}
	}

	sort.Slice(doc.Steps, func(i, j int) bool { return doc.Steps[i].Index < doc.Steps[j].Index })
	return nil
}
