package models

// Branch handles carried by edges leaving decision and verification nodes.
const (
	HandleTrue    = "true"
	HandleFalse   = "false"
	HandleDefault = "default"
)

// Edge connects the output of one node to the input of another. SourceHandle
// names the outcome the edge is taken for; an empty handle is a plain sequence
// edge.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
}

// Graph is the ordered set of nodes and edges making up one workflow. A graph
// without edges is connected linearly in node order.
type Graph struct {
	Nodes []*Node `json:"nodes"`
	Edges []*Edge `json:"edges,omitempty"`
}

// Node looks up a node by id.
func (g *Graph) Node(id string) (*Node, bool) {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node, true
		}
	}

	return nil, false
}

// IndexOf returns the position of a node in the ordered node list, or -1.
func (g *Graph) IndexOf(id string) int {
	for i, node := range g.Nodes {
		if node.ID == id {
			return i
		}
	}

	return -1
}

// NodesOfType returns the nodes of type t in graph order.
func (g *Graph) NodesOfType(t NodeType) []*Node {
	var nodes []*Node

	for _, node := range g.Nodes {
		if node.Type == t {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// StartNode returns the first start node of the graph.
func (g *Graph) StartNode() (*Node, bool) {
	starts := g.NodesOfType(NodeTypeStart)
	if len(starts) == 0 {
		return nil, false
	}

	return starts[0], true
}

// HasEdges reports whether the graph declares explicit connectivity.
func (g *Graph) HasEdges() bool {
	return len(g.Edges) > 0
}

// Outgoing returns the edges leaving the given node in declaration order.
func (g *Graph) Outgoing(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Incoming returns the edges entering the given node in declaration order.
func (g *Graph) Incoming(nodeID string) []*Edge {
	var edges []*Edge

	for _, edge := range g.Edges {
		if edge.Target == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}

// Clone returns a deep copy of the graph. Engines snapshot graphs with it so
// edits made after a run starts are never observed by that run.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return &Graph{Nodes: []*Node{}}
	}

	clone := &Graph{Nodes: make([]*Node, 0, len(g.Nodes))}
	for _, node := range g.Nodes {
		clone.Nodes = append(clone.Nodes, node.Clone())
	}

	if len(g.Edges) > 0 {
		clone.Edges = make([]*Edge, 0, len(g.Edges))
		for _, edge := range g.Edges {
			e := *edge
			clone.Edges = append(clone.Edges, &e)
		}
	}

	return clone
}
