package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/persistence"
)

// ExecutionRepository stores one JSON document per run under root/executions.
type ExecutionRepository struct {
	root string
	mu   sync.RWMutex
}

func NewExecutionRepository(root string) *ExecutionRepository {
	return &ExecutionRepository{root: root}
}

func (er *ExecutionRepository) dir() string {
	return filepath.Join(er.root, executionsDir)
}

func (er *ExecutionRepository) Save(_ context.Context, execution *models.Execution) error {
	if err := validateID(execution.ID); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	toSave := *execution
	if toSave.Trace == nil {
		toSave.Trace = []models.TraceEntry{}
	}

	data, err := json.Marshal(toSave)
	if err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	er.mu.Lock()
	defer er.mu.Unlock()

	if err := os.MkdirAll(er.dir(), 0o750); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	if err := writeFileAtomic(filepath.Join(er.dir(), execution.ID+".json"), data); err != nil {
		return persistence.NewExecutionError("Save", execution.ID, err)
	}

	return nil
}

func (er *ExecutionRepository) GetByID(_ context.Context, id string) (*models.Execution, error) {
	if err := validateID(id); err != nil {
		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	er.mu.RLock()
	defer er.mu.RUnlock()

	execution, err := er.read(id)
	if err != nil {
		if isNotExist(err) {
			return nil, persistence.NewExecutionError("GetByID", id, persistence.ErrExecutionNotFound)
		}

		return nil, persistence.NewExecutionError("GetByID", id, err)
	}

	return execution, nil
}

func (er *ExecutionRepository) read(id string) (*models.Execution, error) {
	data, err := os.ReadFile(filepath.Join(er.dir(), id+".json")) // #nosec G304 -- id is validated
	if err != nil {
		return nil, err
	}

	var execution models.Execution
	if err := json.Unmarshal(data, &execution); err != nil {
		return nil, fmt.Errorf("failed to unmarshal execution %s: %w", id, err)
	}

	return &execution, nil
}

func (er *ExecutionRepository) all() ([]*models.Execution, error) {
	jsonFiles, err := fs.Glob(os.DirFS(er.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list execution files: %w", err)
	}

	executions := make([]*models.Execution, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		execution, err := er.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			if isNotExist(err) {
				continue
			}

			return nil, err
		}

		executions = append(executions, execution)
	}

	return executions, nil
}

func (er *ExecutionRepository) ListByWorkflow(_ context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	er.mu.RLock()
	defer er.mu.RUnlock()

	all, err := er.all()
	if err != nil {
		return nil, err
	}

	matching := make([]*models.Execution, 0)

	for _, execution := range all {
		if execution.WorkflowID == workflowID {
			matching = append(matching, execution)
		}
	}

	sort.SliceStable(matching, func(i, j int) bool {
		return matching[i].StartedAt.After(matching[j].StartedAt)
	})

	if limit > 0 && len(matching) > limit {
		matching = matching[:limit]
	}

	return matching, nil
}

func (er *ExecutionRepository) DeleteFinishedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	er.mu.Lock()
	defer er.mu.Unlock()

	all, err := er.all()
	if err != nil {
		return 0, err
	}

	var deleted int64

	for _, execution := range all {
		if execution.FinishedAt.IsZero() || !execution.FinishedAt.Before(cutoff) {
			continue
		}

		err := os.Remove(filepath.Join(er.dir(), execution.ID+".json"))
		if err != nil && !isNotExist(err) {
			return deleted, persistence.NewExecutionError("DeleteFinishedBefore", execution.ID, err)
		}

		deleted++
	}

	return deleted, nil
}
