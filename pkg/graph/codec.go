package graph

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
)

// Encode renders a graph as graph_json. Output is deterministic: nodes and
// edges keep their order and params keys are sorted by encoding/json.
func Encode(g *models.Graph) ([]byte, error) {
	if g == nil {
		g = &models.Graph{}
	}

	out := models.Graph{Nodes: g.Nodes, Edges: g.Edges}
	if out.Nodes == nil {
		out.Nodes = []*models.Node{}
	}

	data, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode graph: %w", err)
	}

	return data, nil
}

// Decode parses graph_json. Any defect (invalid JSON, missing or duplicate
// ids, an unknown node type, an edge naming a missing node or carrying a
// handle its source cannot emit) rejects the whole document. Numeric params
// decode as json.Number.
func Decode(data []byte, reg *registry.Registry) (*models.Graph, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, malformed("empty document")
	}

	var g models.Graph
	if err := unmarshal(trimmed, &g); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedGraph, err)
	}

	if err := check(&g, reg); err != nil {
		return nil, err
	}

	return &g, nil
}

// Deserialize parses graph_json into a new builder.
func Deserialize(data []byte, reg *registry.Registry, opts ...Option) (*Builder, error) {
	g, err := Decode(data, reg)
	if err != nil {
		return nil, err
	}

	return FromGraph(g, reg, opts...), nil
}

// FromGraph creates a builder owning a copy of an already checked graph.
func FromGraph(g *models.Graph, reg *registry.Registry, opts ...Option) *Builder {
	b := NewBuilder(reg, opts...)

	snapshot := g.Clone()
	b.nodes = snapshot.Nodes
	b.edges = snapshot.Edges

	return b
}

// unmarshal keeps numbers as json.Number so integer params beyond 2^53
// survive a decode and re-encode unchanged.
func unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	if err := dec.Decode(v); err != nil {
		return err
	}

	if dec.More() {
		return fmt.Errorf("unexpected data after the document")
	}

	return nil
}

func check(g *models.Graph, reg *registry.Registry) error {
	if g.Nodes == nil {
		g.Nodes = []*models.Node{}
	}

	ids := make(map[string]models.NodeType, len(g.Nodes))

	for i, node := range g.Nodes {
		if node == nil {
			return malformed("node at index %d is null", i)
		}

		if node.ID == "" {
			return malformed("node at index %d has no id", i)
		}

		if _, dup := ids[node.ID]; dup {
			return malformed("duplicate node id %q", node.ID)
		}

		ids[node.ID] = node.Type

		if !reg.Has(node.Type) {
			return fmt.Errorf("%w: node %q: %w: %q", ErrMalformedGraph, node.ID, registry.ErrUnknownNodeType, node.Type)
		}

		if node.Params == nil {
			node.Params = map[string]any{}
		}
	}

	edgeIDs := make(map[string]struct{}, len(g.Edges))

	for i, edge := range g.Edges {
		if edge == nil {
			return malformed("edge at index %d is null", i)
		}

		if edge.ID == "" {
			return malformed("edge at index %d has no id", i)
		}

		if _, dup := edgeIDs[edge.ID]; dup {
			return malformed("duplicate edge id %q", edge.ID)
		}

		edgeIDs[edge.ID] = struct{}{}

		sourceType, ok := ids[edge.Source]
		if !ok {
			return malformed("edge %q references missing source node %q", edge.ID, edge.Source)
		}

		if _, ok := ids[edge.Target]; !ok {
			return malformed("edge %q references missing target node %q", edge.ID, edge.Target)
		}

		if !validHandle(sourceType, edge.SourceHandle) {
			return fmt.Errorf("%w: edge %q: %w: %q not allowed on a %s node",
				ErrMalformedGraph, edge.ID, ErrInvalidHandle, edge.SourceHandle, sourceType)
		}
	}

	if len(g.Edges) == 0 {
		g.Edges = nil
	}

	return nil
}

// ExportFile renders a graph as a workflow.json document.
func ExportFile(g *models.Graph, name string, created time.Time) ([]byte, error) {
	if g == nil {
		g = &models.Graph{}
	}

	file := models.WorkflowFile{
		Elements: g.Nodes,
		Edges:    g.Edges,
		Metadata: models.WorkflowFileMetadata{
			Name:    name,
			Version: models.WorkflowFileVersion,
			Created: created.UTC(),
		},
	}

	if file.Elements == nil {
		file.Elements = []*models.Node{}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode workflow file: %w", err)
	}

	return data, nil
}

// ImportFile parses a workflow.json document. Files without an elements list
// or with any graph defect are rejected.
func ImportFile(data []byte, reg *registry.Registry) (*models.WorkflowFile, *models.Graph, error) {
	var raw struct {
		Elements *[]*models.Node             `json:"elements"`
		Edges    []*models.Edge              `json:"edges"`
		Metadata models.WorkflowFileMetadata `json:"metadata"`
	}

	if err := unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrMalformedGraph, err)
	}

	if raw.Elements == nil {
		return nil, nil, malformed("workflow file has no elements")
	}

	g := &models.Graph{Nodes: *raw.Elements, Edges: raw.Edges}
	if err := check(g, reg); err != nil {
		return nil, nil, err
	}

	file := &models.WorkflowFile{
		Elements: g.Nodes,
		Edges:    g.Edges,
		Metadata: raw.Metadata,
	}

	return file, g, nil
}
