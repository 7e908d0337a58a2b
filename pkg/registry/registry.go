// Package registry provides the static catalog of workflow node types and their parameter schemas.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// ErrUnknownNodeType is returned when a node type is not part of the catalog.
var ErrUnknownNodeType = errors.New("unknown node type")

// IsUnknownNodeType checks if an error indicates an unknown node type.
func IsUnknownNodeType(err error) bool {
	return errors.Is(err, ErrUnknownNodeType)
}

// Descriptor describes one node type: its parameters and the JSON Schema
// its params block must satisfy to be considered configured.
type Descriptor struct {
	Type           models.NodeType `json:"type"`
	Name           string          `json:"name"`
	Description    string          `json:"description"`
	RequiredParams []string        `json:"requiredParams"`
	OptionalParams []string        `json:"optionalParams"`
	Schema         map[string]any  `json:"schema"`
}

type Registry struct {
	logger      *slog.Logger
	order       []models.NodeType
	descriptors map[models.NodeType]Descriptor
	schemas     map[models.NodeType]*gojsonschema.Schema
}

// NewRegistry builds the registry holding the built-in node catalog.
func NewRegistry(logger *slog.Logger) *Registry {
	r := &Registry{
		logger:      logger,
		descriptors: make(map[models.NodeType]Descriptor),
		schemas:     make(map[models.NodeType]*gojsonschema.Schema),
	}

	for _, d := range catalog() {
		if err := r.register(d); err != nil {
			// the built-in catalog is static; a bad schema is a programming error
			panic(err)
		}
	}

	return r
}

func (r *Registry) register(d Descriptor) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(d.Schema))
	if err != nil {
		return fmt.Errorf("failed to compile schema for node type %s: %w", d.Type, err)
	}

	if _, exists := r.descriptors[d.Type]; !exists {
		r.order = append(r.order, d.Type)
	}

	r.descriptors[d.Type] = d
	r.schemas[d.Type] = schema

	return nil
}

// Describe returns the descriptor of a node type.
func (r *Registry) Describe(nodeType models.NodeType) (Descriptor, error) {
	d, ok := r.descriptors[nodeType]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}

	d.RequiredParams = slices.Clone(d.RequiredParams)
	d.OptionalParams = slices.Clone(d.OptionalParams)

	return d, nil
}

// Has reports whether the node type is registered.
func (r *Registry) Has(nodeType models.NodeType) bool {
	_, ok := r.descriptors[nodeType]

	return ok
}

// Types returns the registered node types in catalog order.
func (r *Registry) Types() []models.NodeType {
	return slices.Clone(r.order)
}

// Descriptors returns every descriptor in catalog order.
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.order))
	for _, t := range r.order {
		d, _ := r.Describe(t)
		out = append(out, d)
	}

	return out
}

// CheckParams validates a params block against the schema of its node type
// and returns the problems found. An empty result means the node is configured.
func (r *Registry) CheckParams(nodeType models.NodeType, params map[string]any) ([]string, error) {
	schema, ok := r.schemas[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}

	normalized, err := models.NormalizeParams(params)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize params: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(Canonicalize(nodeType, normalized)))
	if err != nil {
		return nil, fmt.Errorf("failed to validate params: %w", err)
	}

	if !result.Valid() {
		problems := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}

		return problems, nil
	}

	// limits such as unit-dependent duration bounds live on the typed payload
	if _, err := decodePayload(nodeType, normalized); err != nil {
		return []string{err.Error()}, nil
	}

	return nil, nil
}

// HealthCheck reports whether the catalog is loaded.
func (r *Registry) HealthCheck() (string, bool) {
	if len(r.descriptors) == 0 {
		return "no node types registered", false
	}

	return fmt.Sprintf("%d node types registered", len(r.descriptors)), true
}
