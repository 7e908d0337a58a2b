package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/persistence"
)

// ExecutionRepository handles run record database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const selectExecution = `
	SELECT
		id
	  , workflow_id
	  , ticket_id
	  , state
	  , trace
	  , context
	  , output
	  , error
	  , started_at
	  , finished_at
	FROM executions
`

func scanExecution(row rowScanner) (*models.Execution, error) {
	var (
		execution   models.Execution
		traceJSON   []byte
		contextJSON []byte
		outputJSON  []byte
		finishedAt  sql.NullTime
	)

	err := row.Scan(
		&execution.ID,
		&execution.WorkflowID,
		&execution.TicketID,
		&execution.State,
		&traceJSON,
		&contextJSON,
		&outputJSON,
		&execution.Error,
		&execution.StartedAt,
		&finishedAt,
	)
	if err != nil {
		return nil, err
	}

	err = json.Unmarshal(traceJSON, &execution.Trace)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal trace: %w", err)
	}

	if len(contextJSON) > 0 {
		if err := json.Unmarshal(contextJSON, &execution.Context); err != nil {
			return nil, fmt.Errorf("failed to unmarshal context: %w", err)
		}
	}

	if len(outputJSON) > 0 {
		if err := json.Unmarshal(outputJSON, &execution.Output); err != nil {
			return nil, fmt.Errorf("failed to unmarshal output: %w", err)
		}
	}

	execution.StartedAt = execution.StartedAt.UTC()
	if finishedAt.Valid {
		execution.FinishedAt = finishedAt.Time.UTC()
	}

	return &execution, nil
}

func (r *ExecutionRepository) Save(ctx context.Context, execution *models.Execution) error {
	if execution.ID == "" {
		return persistence.NewExecutionError("Save", execution.ID, persistence.ErrInvalidIdentifier)
	}

	trace := execution.Trace
	if trace == nil {
		trace = []models.TraceEntry{}
	}

	traceJSON, err := json.Marshal(trace)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal trace: %w", err))
	}

	runContext := execution.Context
	if runContext == nil {
		runContext = map[string]any{}
	}

	contextJSON, err := json.Marshal(runContext)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal context: %w", err))
	}

	// a run without end-node outputs stores NULL
	var outputJSON any
	if execution.Output != nil {
		data, err := json.Marshal(execution.Output)
		if err != nil {
			return persistence.NewExecutionError("Save", execution.ID, fmt.Errorf("failed to marshal output: %w", err))
		}

		outputJSON = data
	}

	var finishedAt sql.NullTime
	if !execution.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: execution.FinishedAt, Valid: true}
	}

	query := `
		INSERT INTO executions (id, workflow_id, ticket_id, state, trace, context, output, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			state = EXCLUDED.state,
			trace = EXCLUDED.trace,
			context = EXCLUDED.context,
			output = EXCLUDED.output,
			error = EXCLUDED.error,
			finished_at = EXCLUDED.finished_at
	`

	_, err = r.db.ExecContext(ctx, query,
		execution.ID,
		execution.WorkflowID,
		execution.TicketID,
		string(execution.State),
		traceJSON,
		contextJSON,
		outputJSON,
		execution.Error,
		execution.StartedAt,
		finishedAt,
	)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.Execution, error) {
	execution, err := scanExecution(r.db.QueryRowContext(ctx, selectExecution+" WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (r *ExecutionRepository) ListByWorkflow(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	query := selectExecution + " WHERE workflow_id = $1 ORDER BY started_at DESC, id ASC"
	args := []any{workflowID}

	if limit > 0 {
		query += " LIMIT $2"

		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	executions := make([]*models.Execution, 0)

	for rows.Next() {
		execution, err := scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		executions = append(executions, execution)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return executions, nil
}

func (r *ExecutionRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM executions WHERE finished_at IS NOT NULL AND finished_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete executions: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted executions: %w", err)
	}

	r.logger.InfoContext(ctx, "deleted finished executions", "count", deleted, "cutoff", cutoff)

	return deleted, nil
}
