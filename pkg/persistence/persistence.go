// Package persistence defines how workflows and run records are stored.
package persistence

import (
	"context"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository stores named workflow graphs.
type WorkflowRepository interface {
	List(ctx context.Context, opts ListWorkflowsOptions) (*WorkflowListResult, error)
	// GetByID returns ErrWorkflowNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	// Save inserts or replaces the workflow with the same id.
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ExecutionRepository stores finished run records.
type ExecutionRepository interface {
	Save(ctx context.Context, execution *models.Execution) error
	// GetByID returns ErrExecutionNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*models.Execution, error)
	// ListByWorkflow returns the newest executions of a workflow first.
	ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error)
	// DeleteFinishedBefore removes executions that finished before cutoff.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

type ListWorkflowsOptions struct {
	Limit        int
	Offset       int
	SortBy       string // created_at, updated_at or name
	SortOrder    string // asc or desc
	NameContains string
}

type WorkflowListResult struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

var allowedSorts = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"name":       true,
}

// Normalize applies defaults and rejects unknown sort fields.
func (o *ListWorkflowsOptions) Normalize() error {
	if o.Limit <= 0 || o.Limit > MaxListLimit {
		o.Limit = DefaultListLimit
	}

	if o.Offset < 0 {
		o.Offset = 0
	}

	if o.SortBy == "" {
		o.SortBy = "created_at"
	}

	if o.SortOrder == "" {
		o.SortOrder = "desc"
	}

	if !allowedSorts[o.SortBy] {
		return NewInvalidOptionError("sort_by", o.SortBy)
	}

	if o.SortOrder != "asc" && o.SortOrder != "desc" {
		return NewInvalidOptionError("sort_order", o.SortOrder)
	}

	return nil
}
