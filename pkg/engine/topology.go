package engine

import (
	"fmt"

	"github.com/deskflow/deskflow/pkg/models"
)

// successor picks the node that follows node for the given route.
//
// With explicit edges, branching nodes follow the edge whose handle equals
// the route and fall back to a "default" edge; other nodes follow their first
// plain or default edge. Without edges the graph is linear: the next node in
// order follows "next" and "true", and "false" has no successor.
func successor(g *models.Graph, node *models.Node, route string) (*models.Node, error) {
	if !g.HasEdges() {
		if route == models.HandleFalse {
			return nil, fmt.Errorf("%w: node %s has no successor for outcome %q", ErrUnresolvedBranch, node.ID, route)
		}

		idx := g.IndexOf(node.ID)
		if idx < 0 || idx+1 >= len(g.Nodes) {
			return nil, fmt.Errorf("%w: node %s is the last node", ErrUnresolvedBranch, node.ID)
		}

		return g.Nodes[idx+1], nil
	}

	var match, fallback *models.Edge

	for _, edge := range g.Outgoing(node.ID) {
		switch {
		case node.Type.Branches() && edge.SourceHandle == route && match == nil:
			match = edge
		case !node.Type.Branches() && edge.SourceHandle == "" && match == nil:
			match = edge
		case edge.SourceHandle == models.HandleDefault && fallback == nil:
			fallback = edge
		}
	}

	if match == nil {
		match = fallback
	}

	if match == nil {
		return nil, fmt.Errorf("%w: node %s has no successor for outcome %q", ErrUnresolvedBranch, node.ID, route)
	}

	next, ok := g.Node(match.Target)
	if !ok {
		return nil, fmt.Errorf("%w: edge %s targets missing node %s", ErrUnresolvedBranch, match.ID, match.Target)
	}

	return next, nil
}
