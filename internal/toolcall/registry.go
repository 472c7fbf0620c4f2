// Package toolcall implements the Tool Registry and Executor (C4.6.1):
// name-keyed handler registration, JSON-Schema-subset argument validation,
// and a sequential-then-bounded-parallel execution policy. The
// measure/tier pattern is grounded on the MCP host's tool-entry bookkeeping
// in the retrieval pack, adapted here to a purely in-process registry (no
// MCP client/server wire protocol is involved).
package toolcall

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Policy controls how a tool's calls are scheduled relative to others in
// the same batch.
type Policy int

const (
	// Parallel is the default: calls run concurrently, bounded by the
	// executor's worker pool size.
	Parallel Policy = iota
	// Sequential calls run first, in input order, one at a time.
	Sequential
)

// Handler executes one tool call. args is the raw JSON arguments string;
// the handler decodes whatever shape it expects.
type Handler func(ctx Context, args string) (any, error)

// Schema is a JSON-Schema subset: type, required, enum, integer-vs-number.
type Schema struct {
	Type       string             // "object" (the only top-level shape tools accept)
	Properties map[string]Property
	Required   []string
}

type Property struct {
	Type string // "string" | "number" | "integer" | "boolean" | "array" | "object"
	Enum []string
}

type entry struct {
	schema  Schema
	handler Handler
	policy  Policy
}

// Registry is a name -> (schema, handler, policy) map. Duplicate
// registration rejects, matching the spec's exact wording.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. It returns an error if name is already registered.
// Safe to call concurrently and intended to be called before the server
// begins accepting connections (it stays read-mostly after that).
func (r *Registry) Register(name string, schema Schema, handler Handler, policy Policy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("toolcall: tool %q already registered", name)
	}
	r.entries[name] = entry{schema: schema, handler: handler, policy: policy}
	return nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

func (r *Registry) lookup(name string) (entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// Validate checks args (a JSON object string) against schema's subset:
// required properties present, types match (including integer-vs-number),
// and enum membership for string properties.
func Validate(schema Schema, args string) error {
	if schema.Properties == nil && len(schema.Required) == 0 {
		return nil
	}
	var decoded map[string]any
	if args == "" {
		args = "{}"
	}
	if err := json.Unmarshal([]byte(args), &decoded); err != nil {
		return fmt.Errorf("arguments are not a JSON object: %w", err)
	}
	for _, req := range schema.Required {
		if _, ok := decoded[req]; !ok {
			return fmt.Errorf("missing required argument %q", req)
		}
	}
	for name, prop := range schema.Properties {
		v, ok := decoded[name]
		if !ok {
			continue
		}
		if err := validateType(name, prop, v); err != nil {
			return err
		}
	}
	return nil
}

func validateType(name string, prop Property, v any) error {
	switch prop.Type {
	case "string":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("argument %q must be a string", name)
		}
		if len(prop.Enum) > 0 {
			for _, e := range prop.Enum {
				if e == s {
					return nil
				}
			}
			return fmt.Errorf("argument %q must be one of %v", name, prop.Enum)
		}
	case "integer":
		f, ok := v.(float64)
		if !ok || f != float64(int64(f)) {
			return fmt.Errorf("argument %q must be an integer", name)
		}
	case "number":
		if _, ok := v.(float64); !ok {
			return fmt.Errorf("argument %q must be a number", name)
		}
	case "boolean":
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("argument %q must be a boolean", name)
		}
	case "array":
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("argument %q must be an array", name)
		}
	case "object":
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("argument %q must be an object", name)
		}
	}
	return nil
}
