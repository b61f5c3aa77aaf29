// Package toolregistry is the named operation registry the reasoning
// driver selects from. The driver only ever sees names and schemas, never
// references to mutable internals.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/pranavk/stockpilot/internal/observability"
)

// Parameter defines a parameter for an operation
type Parameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
	// Items holds the element type for array parameters
	Items string `json:"items,omitempty"`
}

// Handler is the function signature for operation execution
type Handler func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Definition defines an operation's metadata and handler
type Definition struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// Result represents the outcome of an operation execution
type Result struct {
	Success bool        `json:"success"`
	Output  interface{} `json:"output,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Registry manages and executes named operations
type Registry struct {
	tools   map[string]*Definition
	schemas map[string]*gojsonschema.Schema
	mu      sync.RWMutex
}

// New creates an empty registry
func New() *Registry {
	observability.EnsureRegistered()
	return &Registry{
		tools:   make(map[string]*Definition),
		schemas: make(map[string]*gojsonschema.Schema),
	}
}

// Register adds an operation to the registry
func (r *Registry) Register(def Definition) error {
	if err := validateDefinition(def); err != nil {
		return fmt.Errorf("invalid operation definition: %w", err)
	}

	schema, err := compileSchema(def)
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("operation already registered: %s", def.Name)
	}

	r.tools[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("operation", def.Name).Msg("Operation registered")
	return nil
}

// Get returns the definition for a name, or nil
func (r *Registry) Get(name string) *Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns all registered operation names
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// Specs returns the name/description/input-schema view handed to the
// reasoning driver.
func (r *Registry) Specs() []map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]map[string]interface{}, 0, len(r.tools))
	for _, def := range r.tools {
		specs = append(specs, map[string]interface{}{
			"name":         def.Name,
			"description":  def.Description,
			"input_schema": inputSchema(def),
		})
	}
	return specs
}

// Execute validates parameters against the operation schema and runs the
// handler. Handler errors become result errors; they never panic the turn.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) Result {
	start := time.Now()

	r.mu.RLock()
	def := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()

	if def == nil {
		observability.RecordOperation(name, time.Since(start), false)
		return Result{Success: false, Error: fmt.Sprintf("unknown operation: %s", name)}
	}

	if params == nil {
		params = map[string]interface{}{}
	}

	if err := validateParams(schema, params); err != nil {
		observability.RecordOperation(name, time.Since(start), false)
		return Result{Success: false, Error: err.Error()}
	}

	output, err := def.Handler(ctx, params)
	if err != nil {
		observability.RecordOperation(name, time.Since(start), false)
		return Result{Success: false, Error: err.Error()}
	}

	observability.RecordOperation(name, time.Since(start), true)
	return Result{Success: true, Output: output}
}

func validateDefinition(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	for _, p := range def.Parameters {
		switch p.Type {
		case "string", "number", "integer", "boolean", "array":
		default:
			return fmt.Errorf("parameter %s has unsupported type %q", p.Name, p.Type)
		}
		if p.Type == "array" && p.Items == "" {
			return fmt.Errorf("array parameter %s must declare an item type", p.Name)
		}
	}
	return nil
}

// inputSchema builds the JSON schema document for a definition
func inputSchema(def *Definition) map[string]interface{} {
	properties := make(map[string]interface{}, len(def.Parameters))
	var required []string

	for _, p := range def.Parameters {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Type == "array" {
			prop["items"] = map[string]interface{}{"type": p.Items}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func compileSchema(def Definition) (*gojsonschema.Schema, error) {
	doc, err := json.Marshal(inputSchema(&def))
	if err != nil {
		return nil, err
	}
	return gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc))
}

func validateParams(schema *gojsonschema.Schema, params map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return fmt.Errorf("parameter validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid parameters: %v", msgs)
	}
	return nil
}
