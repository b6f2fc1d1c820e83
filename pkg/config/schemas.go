package config

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

// SchemaRegistry manages CUE schemas plugins register for their application
// configurations.
type SchemaRegistry struct {
	ctx     *cue.Context
	schemas map[string]cue.Value
	mu      sync.RWMutex
}

// SchemaError reports a failed schema validation with per-field messages.
type SchemaError struct {
	// Schema is the name of the schema that rejected the data.
	Schema string

	// Fields maps configuration field paths to messages.
	Fields map[string]string
}

// Error implements the error interface.
func (e *SchemaError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for path, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", path, msg))
	}
	return fmt.Sprintf("schema %s rejected configuration (%s)", e.Schema, strings.Join(parts, "; "))
}

// NewSchemaRegistry creates an empty schema registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		ctx:     cuecontext.New(),
		schemas: make(map[string]cue.Value),
	}
}

// RegisterSchema registers a CUE schema with the given name.
func (sr *SchemaRegistry) RegisterSchema(name, schema string) error {
	sr.mu.Lock()
	defer sr.mu.Unlock()

	val := sr.ctx.CompileString(schema)
	if err := val.Err(); err != nil {
		return fmt.Errorf("failed to compile schema %s: %w", name, err)
	}

	sr.schemas[name] = val
	return nil
}

// GetSchema retrieves a schema by name.
func (sr *SchemaRegistry) GetSchema(name string) (cue.Value, bool) {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	val, ok := sr.schemas[name]
	return val, ok
}

// Validate checks data against a named schema. On rejection the returned
// error is a *SchemaError carrying field-level messages.
func (sr *SchemaRegistry) Validate(schemaName string, data interface{}) error {
	schema, ok := sr.GetSchema(schemaName)
	if !ok {
		return fmt.Errorf("schema %s not found", schemaName)
	}

	sr.mu.RLock()
	dataVal := sr.ctx.Encode(data)
	sr.mu.RUnlock()
	if err := dataVal.Err(); err != nil {
		return fmt.Errorf("failed to encode data: %w", err)
	}

	unified := schema.Unify(dataVal)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return &SchemaError{
			Schema: schemaName,
			Fields: fieldMessages(err),
		}
	}

	return nil
}

// ListSchemas returns all registered schema names.
func (sr *SchemaRegistry) ListSchemas() []string {
	sr.mu.RLock()
	defer sr.mu.RUnlock()

	names := make([]string, 0, len(sr.schemas))
	for name := range sr.schemas {
		names = append(names, name)
	}
	return names
}

// fieldMessages flattens CUE validation errors into path -> message.
func fieldMessages(err error) map[string]string {
	fields := make(map[string]string)
	for _, e := range cueerrors.Errors(err) {
		path := strings.Join(e.Path(), ".")
		if path == "" {
			path = "(root)"
		}
		format, args := e.Msg()
		fields[path] = fmt.Sprintf(format, args...)
	}
	return fields
}
