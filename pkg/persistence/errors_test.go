package persistence_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/deskflow/deskflow/pkg/persistence"
)

func TestStandardizedErrors(t *testing.T) {
	t.Parallel()

	t.Run("error checking functions work correctly", func(t *testing.T) {
		workflowErr := persistence.NewWorkflowError("GetByID", "workflow-123", persistence.ErrWorkflowNotFound)
		executionErr := persistence.NewExecutionError("GetByID", "run-456", persistence.ErrExecutionNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(workflowErr))
		assert.False(t, persistence.IsWorkflowNotFound(executionErr))
		assert.True(t, persistence.IsExecutionNotFound(executionErr))

		assert.True(t, errors.Is(workflowErr, persistence.ErrWorkflowNotFound))
		assert.True(t, errors.Is(executionErr, persistence.ErrExecutionNotFound))
	})

	t.Run("workflow error contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Delete", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.Contains(t, err.Error(), "Delete")
		assert.Contains(t, err.Error(), "workflow-123")
		assert.Contains(t, err.Error(), "workflow not found")
	})

	t.Run("execution error contains context", func(t *testing.T) {
		err := persistence.NewExecutionError("Save", "run-456", errors.New("disk full"))

		assert.Contains(t, err.Error(), "Save")
		assert.Contains(t, err.Error(), "run-456")
		assert.Contains(t, err.Error(), "disk full")
	})
}

func TestListWorkflowsOptions_Normalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      persistence.ListWorkflowsOptions
		want    persistence.ListWorkflowsOptions
		wantErr bool
	}{
		{
			name: "defaults",
			in:   persistence.ListWorkflowsOptions{},
			want: persistence.ListWorkflowsOptions{Limit: 20, SortBy: "created_at", SortOrder: "desc"},
		},
		{
			name: "limit above max resets",
			in:   persistence.ListWorkflowsOptions{Limit: 500, Offset: -3, SortBy: "name", SortOrder: "asc"},
			want: persistence.ListWorkflowsOptions{Limit: 20, Offset: 0, SortBy: "name", SortOrder: "asc"},
		},
		{
			name:    "unknown sort field",
			in:      persistence.ListWorkflowsOptions{SortBy: "graph_json"},
			wantErr: true,
		},
		{
			name:    "unknown sort order",
			in:      persistence.ListWorkflowsOptions{SortOrder: "sideways"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			opts := tt.in
			err := opts.Normalize()

			if tt.wantErr {
				assert.True(t, persistence.IsInvalidOption(err))

				return
			}

			assert.NoError(t, err)
			assert.Equal(t, tt.want, opts)
		})
	}
}
