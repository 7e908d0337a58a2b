package graph

import (
	"errors"
	"fmt"
)

var (
	// ErrNodeNotFound indicates a node was not found by the given identifier.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates an edge was not found by the given identifier.
	ErrEdgeNotFound = errors.New("edge not found")

	// ErrDuplicateEdge indicates an identical edge already connects the two nodes.
	ErrDuplicateEdge = errors.New("edge already exists")

	// ErrInvalidHandle indicates a source handle the source node cannot emit.
	ErrInvalidHandle = errors.New("invalid source handle")

	// ErrMalformedGraph indicates serialized graph data could not be decoded.
	ErrMalformedGraph = errors.New("malformed graph")
)

// GraphError wraps builder errors with the operation and element involved.
type GraphError struct {
	Op     string // Builder operation (e.g. "UpdateNode", "Connect")
	NodeID string // Node ID if applicable
	EdgeID string // Edge ID if applicable
	Err    error
}

func (e *GraphError) Error() string {
	switch {
	case e.EdgeID != "":
		return fmt.Sprintf("%s failed for edge %s: %v", e.Op, e.EdgeID, e.Err)
	case e.NodeID != "":
		return fmt.Sprintf("%s failed for node %s: %v", e.Op, e.NodeID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *GraphError) Unwrap() error {
	return e.Err
}

func (e *GraphError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedGraph, fmt.Sprintf(format, args...))
}

// IsNodeNotFound checks if an error indicates a node was not found.
func IsNodeNotFound(err error) bool {
	return errors.Is(err, ErrNodeNotFound)
}

// IsEdgeNotFound checks if an error indicates an edge was not found.
func IsEdgeNotFound(err error) bool {
	return errors.Is(err, ErrEdgeNotFound)
}

// IsMalformedGraph checks if an error indicates undecodable graph data.
func IsMalformedGraph(err error) bool {
	return errors.Is(err, ErrMalformedGraph)
}
