// Package tools provides a registry for external data tools.
//
// Tools are discrete functions an agent can call before prompting the
// model: search the web, pull keyword volumes, look up podcasts. Each
// tool has a name, a schema describing its inputs and outputs, and an
// execution function.
//
// Every tool degrades gracefully when its upstream API is not
// configured: it returns canned demo output flagged with "mock": true
// instead of failing, so pipelines run end to end without credentials.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/draftforge/draftforge/pkg/errors"
)

// Tool represents an executable tool that agents can call.
type Tool interface {
	// Name returns the unique identifier for this tool
	Name() string

	// Description returns a human-readable description of what the tool does
	Description() string

	// Schema returns the JSON schema defining the tool's inputs and outputs
	Schema() *Schema

	// Execute runs the tool with the given inputs and returns outputs
	Execute(ctx context.Context, inputs map[string]interface{}) (map[string]interface{}, error)
}

// Schema defines the input and output schema for a tool using JSON Schema.
type Schema struct {
	// Inputs defines the expected input parameters
	Inputs *ParameterSchema `json:"inputs"`

	// Outputs defines the structure of returned data
	Outputs *ParameterSchema `json:"outputs"`
}

// ParameterSchema defines a set of parameters using JSON Schema conventions.
type ParameterSchema struct {
	// Type is the JSON type (e.g., "object", "string", "number")
	Type string `json:"type"`

	// Properties defines nested properties (for type="object")
	Properties map[string]*Property `json:"properties,omitempty"`

	// Required lists the required property names
	Required []string `json:"required,omitempty"`

	// Description provides human-readable context
	Description string `json:"description,omitempty"`
}

// Property defines a single property in a parameter schema.
type Property struct {
	// Type is the JSON type of this property
	Type string `json:"type"`

	// Description explains what this property represents
	Description string `json:"description,omitempty"`

	// Enum lists allowed values (for validation)
	Enum []interface{} `json:"enum,omitempty"`

	// Default provides a default value if not specified
	Default interface{} `json:"default,omitempty"`

	// Format specifies a format hint (e.g., "uri", "email", "date-time")
	Format string `json:"format,omitempty"`
}

// Registry maintains a collection of registered tools.
// It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a new tool registry.
func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry.
// Returns an error if a tool with the same name is already registered.
func (r *Registry) Register(tool Tool) error {
	if tool == nil {
		return fmt.Errorf("cannot register nil tool")
	}

	name := tool.Name()
	if name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool already registered: %s", name)
	}

	if tool.Schema() == nil {
		return fmt.Errorf("tool schema cannot be nil: %s", name)
	}

	r.tools[name] = tool
	return nil
}

// Unregister removes a tool from the registry.
func (r *Registry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}

	delete(r.tools, name)
	return nil
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, &errors.NotFoundError{
			Resource: "tool",
			ID:       name,
		}
	}

	return tool, nil
}

// Has checks if a tool is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

// List returns all registered tool names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}

	return names
}

// ListTools returns all registered tools.
func (r *Registry) ListTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]Tool, 0, len(r.tools))
	for _, tool := range r.tools {
		tools = append(tools, tool)
	}

	return tools
}

// Execute executes a tool by name with the given inputs.
func (r *Registry) Execute(ctx context.Context, name string, inputs map[string]interface{}) (map[string]interface{}, error) {
	tool, err := r.Get(name)
	if err != nil {
		return nil, err
	}

	if err := r.validateInputs(tool, inputs); err != nil {
		return nil, &errors.ValidationError{
			Field:      "inputs",
			Message:    fmt.Sprintf("input validation failed for tool %s: %v", name, err),
			Suggestion: "Check the tool schema for required inputs and correct types",
		}
	}

	outputs, err := tool.Execute(ctx, inputs)
	if err != nil {
		return nil, fmt.Errorf("tool execution failed for %s: %w", name, err)
	}

	return outputs, nil
}

// validateInputs checks required fields against the tool's schema.
func (r *Registry) validateInputs(tool Tool, inputs map[string]interface{}) error {
	schema := tool.Schema()
	if schema == nil || schema.Inputs == nil {
		return nil
	}

	for _, required := range schema.Inputs.Required {
		if _, exists := inputs[required]; !exists {
			return fmt.Errorf("required input missing: %s", required)
		}
	}

	return nil
}

// Filter creates a new registry containing only the specified tools.
// Returns an error if the tools array is empty or if any tool name is not found.
func (r *Registry) Filter(allowedNames []string) (*Registry, error) {
	if len(allowedNames) == 0 {
		return nil, &errors.ValidationError{
			Field:      "tools",
			Message:    "tools array cannot be empty",
			Suggestion: "specify at least one tool name",
		}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	filtered := NewRegistry()
	for _, name := range allowedNames {
		tool, exists := r.tools[name]
		if !exists {
			return nil, &errors.ValidationError{
				Field:      "tools",
				Message:    fmt.Sprintf("unknown tool: %s", name),
				Suggestion: fmt.Sprintf("tool %s is not registered in the tool registry", name),
			}
		}
		_ = filtered.Register(tool)
	}

	return filtered, nil
}

// ToolDescriptor summarizes a tool for prompt construction.
type ToolDescriptor struct {
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Schema      *Schema `json:"schema"`
}

// GetToolDescriptors returns descriptors for all registered tools.
func (r *Registry) GetToolDescriptors() []ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	descriptors := make([]ToolDescriptor, 0, len(r.tools))
	for _, tool := range r.tools {
		descriptors = append(descriptors, ToolDescriptor{
			Name:        tool.Name(),
			Description: tool.Description(),
			Schema:      tool.Schema(),
		})
	}

	return descriptors
}
