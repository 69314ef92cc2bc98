package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrUnknownSchema is returned when Validate names a schema that was never registered.
var ErrUnknownSchema = errors.New("unknown schema")

// SchemaValidator validates webhook payloads against named JSON Schemas.
type SchemaValidator struct {
	mu      sync.RWMutex
	sources map[string][]byte
	cache   map[string]*jsonschema.Schema
}

func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{
		sources: make(map[string][]byte),
		cache:   make(map[string]*jsonschema.Schema),
	}
}

// Register compiles the schema eagerly so a broken document fails at startup.
func (v *SchemaValidator) Register(name string, definition []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.sources[name] = append([]byte(nil), definition...)
	delete(v.cache, name)
	if _, err := v.compileLocked(name); err != nil {
		delete(v.sources, name)
		return err
	}
	return nil
}

// Validate decodes payload and checks it against the named schema.
func (v *SchemaValidator) Validate(name string, payload []byte) error {
	if len(payload) == 0 {
		return fmt.Errorf("payload is required for validation")
	}

	compiled, err := v.getOrCompile(name)
	if err != nil {
		return err
	}

	var document any
	if err := json.Unmarshal(payload, &document); err != nil {
		return fmt.Errorf("decode payload: %w", err)
	}
	if err := compiled.Validate(document); err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	return nil
}

func (v *SchemaValidator) getOrCompile(name string) (*jsonschema.Schema, error) {
	v.mu.RLock()
	compiled, ok := v.cache[name]
	v.mu.RUnlock()
	if ok {
		return compiled, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	return v.compileLocked(name)
}

func (v *SchemaValidator) compileLocked(name string) (*jsonschema.Schema, error) {
	if compiled, ok := v.cache[name]; ok {
		return compiled, nil
	}
	source, ok := v.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSchema, name)
	}

	key := "mem://webhook/" + name + ".json"
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(key, bytes.NewReader(source)); err != nil {
		return nil, fmt.Errorf("register schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(key)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	v.cache[name] = compiled
	return compiled, nil
}
