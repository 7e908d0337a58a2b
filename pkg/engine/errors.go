package engine

import (
	"errors"
	"fmt"

	"github.com/deskflow/deskflow/pkg/models"
)

var (
	// ErrNoStartNode indicates the graph has no start node to begin a run from.
	ErrNoStartNode = errors.New("workflow has no start node")

	// ErrUnresolvedBranch indicates no successor is declared for a node outcome.
	ErrUnresolvedBranch = errors.New("unresolved branch")

	// ErrStepBudgetExceeded indicates a run did not reach an end node within its step budget.
	ErrStepBudgetExceeded = errors.New("step budget exceeded")

	// ErrCancelled indicates the run was cancelled before reaching a terminal state.
	ErrCancelled = errors.New("run cancelled")

	// ErrInvalidCondition indicates a decision condition could not be parsed or evaluated.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrMissingCollaborator indicates a node needs a collaborator the engine was not given.
	ErrMissingCollaborator = errors.New("collaborator not configured")

	// ErrInvalidTransition indicates an illegal run state change.
	ErrInvalidTransition = errors.New("invalid run state transition")

	// ErrEngineClosed indicates the engine no longer accepts runs.
	ErrEngineClosed = errors.New("engine is closed")

	// ErrInvalidInputs indicates run inputs that cannot seed the run context.
	ErrInvalidInputs = errors.New("invalid run inputs")

	// ErrTemplate indicates a node param template could not be rendered against the run context.
	ErrTemplate = errors.New("template error")
)

// NodeError wraps a handler failure with the node it happened on.
type NodeError struct {
	RunID    string
	NodeID   string
	NodeType models.NodeType
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s) failed in run %s: %v", e.NodeID, e.NodeType, e.RunID, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

func (e *NodeError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsNoStartNode checks if an error indicates a missing start node.
func IsNoStartNode(err error) bool {
	return errors.Is(err, ErrNoStartNode)
}

// IsUnresolvedBranch checks if an error indicates a missing successor.
func IsUnresolvedBranch(err error) bool {
	return errors.Is(err, ErrUnresolvedBranch)
}

// IsStepBudgetExceeded checks if an error indicates an exhausted step budget.
func IsStepBudgetExceeded(err error) bool {
	return errors.Is(err, ErrStepBudgetExceeded)
}

// IsCancelled checks if an error indicates a cancelled run.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
