package types

import (
	"fmt"
	"sort"
	"sync"
)

// SchemaRegistry interface for centralized shape management
type SchemaRegistry interface {
	// GetShape retrieves a shape by name
	GetShape(name string) (Shape, bool)

	// ListShapes returns all registered shape names, sorted
	ListShapes() []string

	// RegisterShape adds or replaces a shape under its Name()
	RegisterShape(shape Shape) error
}

// StandardSchemaRegistry is the default implementation of SchemaRegistry
type StandardSchemaRegistry struct {
	mu     sync.RWMutex
	shapes map[string]Shape
}

// NewStandardSchemaRegistry creates a registry preloaded with the analysis schema
func NewStandardSchemaRegistry() *StandardSchemaRegistry {
	registry := &StandardSchemaRegistry{
		shapes: make(map[string]Shape),
	}
	registry.shapes[AnalysisSchemaName] = AnalysisSchema()
	return registry
}

// GetShape retrieves a shape by name
func (r *StandardSchemaRegistry) GetShape(name string) (Shape, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	shape, exists := r.shapes[name]
	return shape, exists
}

// ListShapes returns all registered shape names
func (r *StandardSchemaRegistry) ListShapes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.shapes))
	for name := range r.shapes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RegisterShape adds or updates a shape
func (r *StandardSchemaRegistry) RegisterShape(shape Shape) error {
	if shape == nil {
		return fmt.Errorf("cannot register nil shape")
	}
	if shape.Name() == "" {
		return fmt.Errorf("shape must have a name")
	}
	r.mu.Lock()
	r.shapes[shape.Name()] = shape
	r.mu.Unlock()
	return nil
}
