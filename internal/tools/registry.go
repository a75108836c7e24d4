package tools

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Registry is an insertion-irrelevant mapping from unique tool names to
// Tools, O(1) lookup, shared read-only across requests after startup. When
// built with validation enabled, it compiles each tool's input_schema at
// registration time so a malformed schema fails fast instead of silently
// accepting any ToolUse.Input at dispatch.
type Registry struct {
	mu          sync.RWMutex
	tools       map[string]Tool
	schemas     map[string]*jsonschema.Schema
	validateUse bool
}

// NewRegistry constructs an empty Registry. When validateToolUse is true,
// Dispatch (via internal/engine) is expected to call ValidateInput before
// executing a tool; registries used only for definitions/listing can pass
// false to skip schema compilation cost.
func NewRegistry(validateToolUse bool) *Registry {
	return &Registry{
		tools:       make(map[string]Tool),
		schemas:     make(map[string]*jsonschema.Schema),
		validateUse: validateToolUse,
	}
}

// Register adds a tool to the registry. It returns an error if the name is
// already registered or if the tool's input_schema does not compile as a
// JSON-Schema document.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if name == "" {
		return fmt.Errorf("tools: tool has empty name")
	}
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tools: tool %q already registered", name)
	}

	schema := t.InputSchema()
	if r.validateUse && len(schema) > 0 {
		compiled, err := compileSchema(name, schema)
		if err != nil {
			return fmt.Errorf("tools: compile input_schema for %q: %w", name, err)
		}
		r.schemas[name] = compiled
	}

	r.tools[name] = t
	return nil
}

// Lookup returns the tool registered under name, or false if none exists.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// ListDefinitions returns every registered Tool; each one's model-facing
// ToolDefinition is obtained separately. Order is unspecified, matching
// the registry's insertion-irrelevance.
func (r *Registry) ListDefinitions() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// ValidateInput validates input against the compiled input_schema for name,
// converting a schema violation into an error the engine folds into the
// same is_error ToolResult path as an unknown tool. A no-op if the registry
// wasn't built with validation enabled or the tool declared no schema.
func (r *Registry) ValidateInput(name string, input any) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	raw, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("tools: marshal input for validation: %w", err)
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("tools: unmarshal input for validation: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("tools: input for %q failed schema validation: %w", name, err)
	}
	return nil
}

func compileSchema(name string, schema map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, schema); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}
