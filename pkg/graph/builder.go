// Package graph provides the mutable workflow graph used by the designer and its canonical serialized form.
package graph

import (
	"fmt"
	"slices"
	"sync"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/google/uuid"
)

// DuplicateOffset is the canvas offset applied to duplicated nodes.
const DuplicateOffset = 20.0

// NodePatch carries the mutable fields of a node. Nil fields are left
// untouched. Params are merged key by key; a nil value removes the key.
type NodePatch struct {
	Name        *string
	Description *string
	Position    *models.Position
	Params      map[string]any
}

// Builder owns the nodes and edges of one graph. All methods are safe for
// concurrent use, but a builder is meant to have a single editing session.
type Builder struct {
	mu       sync.RWMutex
	registry *registry.Registry
	nodes    []*models.Node
	edges    []*models.Edge
	newID    func(prefix string) string
}

type Option func(*Builder)

// WithIDGenerator overrides how node and edge ids are generated.
func WithIDGenerator(fn func(prefix string) string) Option {
	return func(b *Builder) {
		b.newID = fn
	}
}

// NewBuilder creates an empty graph.
func NewBuilder(reg *registry.Registry, opts ...Option) *Builder {
	b := &Builder{
		registry: reg,
		nodes:    make([]*models.Node, 0),
		newID:    defaultID,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// defaultID yields "<prefix>-<uuidv7>": the prefix keeps ids readable and the
// time-ordered uuid keeps them unique for the lifetime of the graph.
func defaultID(prefix string) string {
	return prefix + "-" + uuid.Must(uuid.NewV7()).String()
}

// AddNode appends a node of the given type with empty params.
func (b *Builder) AddNode(nodeType models.NodeType, position models.Position) (*models.Node, error) {
	if !b.registry.Has(nodeType) {
		return nil, &GraphError{Op: "AddNode", Err: fmt.Errorf("%w: %q", registry.ErrUnknownNodeType, nodeType)}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	node := &models.Node{
		ID:       b.newID(string(nodeType)),
		Type:     nodeType,
		Position: position,
		Params:   map[string]any{},
	}
	b.nodes = append(b.nodes, node)

	return node.Clone(), nil
}

// UpdateNode merges patch into the node. The node type is never changed.
func (b *Builder) UpdateNode(id string, patch NodePatch) (*models.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node := b.find(id)
	if node == nil {
		return nil, &GraphError{Op: "UpdateNode", NodeID: id, Err: ErrNodeNotFound}
	}

	params := node.Params
	if patch.Params != nil {
		merged := make(map[string]any, len(node.Params)+len(patch.Params))
		for k, v := range node.Params {
			merged[k] = v
		}

		for k, v := range patch.Params {
			if v == nil {
				delete(merged, k)

				continue
			}

			merged[k] = v
		}

		normalized, err := models.NormalizeParams(merged)
		if err != nil {
			return nil, &GraphError{Op: "UpdateNode", NodeID: id, Err: fmt.Errorf("params are not JSON encodable: %w", err)}
		}

		params = normalized
	}

	if patch.Name != nil {
		node.Name = *patch.Name
	}

	if patch.Description != nil {
		node.Description = *patch.Description
	}

	if patch.Position != nil {
		node.Position = *patch.Position
	}

	node.Params = params

	return node.Clone(), nil
}

// RemoveNode deletes a node together with every edge touching it.
func (b *Builder) RemoveNode(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.nodes, func(n *models.Node) bool { return n.ID == id })
	if idx < 0 {
		return &GraphError{Op: "RemoveNode", NodeID: id, Err: ErrNodeNotFound}
	}

	b.nodes = slices.Delete(b.nodes, idx, idx+1)
	b.edges = slices.DeleteFunc(b.edges, func(e *models.Edge) bool {
		return e.Source == id || e.Target == id
	})

	return nil
}

// DuplicateNode clones a node under a fresh id, offset on the canvas.
// Edges are not duplicated.
func (b *Builder) DuplicateNode(id string) (*models.Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	original := b.find(id)
	if original == nil {
		return nil, &GraphError{Op: "DuplicateNode", NodeID: id, Err: ErrNodeNotFound}
	}

	clone := original.Clone()
	clone.ID = b.newID(string(original.Type))
	clone.X += DuplicateOffset
	clone.Y += DuplicateOffset

	b.nodes = append(b.nodes, clone)

	return clone.Clone(), nil
}

// Connect adds an edge from source to target taken for the given outcome
// handle. Branching nodes accept "true", "false" or "default"; other nodes
// accept an empty handle or "default".
func (b *Builder) Connect(source, target, handle string) (*models.Edge, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.find(source)
	if src == nil {
		return nil, &GraphError{Op: "Connect", NodeID: source, Err: ErrNodeNotFound}
	}

	if b.find(target) == nil {
		return nil, &GraphError{Op: "Connect", NodeID: target, Err: ErrNodeNotFound}
	}

	if !validHandle(src.Type, handle) {
		return nil, &GraphError{Op: "Connect", NodeID: source, Err: fmt.Errorf("%w: %q", ErrInvalidHandle, handle)}
	}

	for _, e := range b.edges {
		if e.Source == source && e.Target == target && e.SourceHandle == handle {
			return nil, &GraphError{Op: "Connect", EdgeID: e.ID, Err: ErrDuplicateEdge}
		}
	}

	edge := &models.Edge{
		ID:           b.newID("edge"),
		Source:       source,
		Target:       target,
		SourceHandle: handle,
	}
	b.edges = append(b.edges, edge)

	e := *edge

	return &e, nil
}

// Disconnect removes an edge.
func (b *Builder) Disconnect(edgeID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := slices.IndexFunc(b.edges, func(e *models.Edge) bool { return e.ID == edgeID })
	if idx < 0 {
		return &GraphError{Op: "Disconnect", EdgeID: edgeID, Err: ErrEdgeNotFound}
	}

	b.edges = slices.Delete(b.edges, idx, idx+1)

	return nil
}

// Node returns a copy of the node with the given id.
func (b *Builder) Node(id string) (*models.Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	node := b.find(id)
	if node == nil {
		return nil, &GraphError{Op: "Node", NodeID: id, Err: ErrNodeNotFound}
	}

	return node.Clone(), nil
}

// Nodes returns copies of the nodes in graph order.
func (b *Builder) Nodes() []*models.Node {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*models.Node, 0, len(b.nodes))
	for _, node := range b.nodes {
		out = append(out, node.Clone())
	}

	return out
}

// Edges returns copies of the edges in declaration order.
func (b *Builder) Edges() []*models.Edge {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]*models.Edge, 0, len(b.edges))
	for _, edge := range b.edges {
		e := *edge
		out = append(out, &e)
	}

	return out
}

// Len returns the number of nodes.
func (b *Builder) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return len(b.nodes)
}

// Snapshot returns a deep copy of the current graph.
func (b *Builder) Snapshot() *models.Graph {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return (&models.Graph{Nodes: b.nodes, Edges: b.edges}).Clone()
}

// Serialize encodes the graph into its canonical graph_json form.
func (b *Builder) Serialize() ([]byte, error) {
	return Encode(b.Snapshot())
}

func (b *Builder) find(id string) *models.Node {
	for _, node := range b.nodes {
		if node.ID == id {
			return node
		}
	}

	return nil
}

func validHandle(sourceType models.NodeType, handle string) bool {
	switch handle {
	case "", models.HandleDefault:
		return true
	case models.HandleTrue, models.HandleFalse:
		return sourceType.Branches()
	default:
		return false
	}
}
