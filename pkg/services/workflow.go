package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/deskflow/deskflow/pkg/engine"
	"github.com/deskflow/deskflow/pkg/eventbus"
	"github.com/deskflow/deskflow/pkg/events"
	"github.com/deskflow/deskflow/pkg/graph"
	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/persistence"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/validation"
)

// ErrWorkflowNotFound is returned when a workflow is not found.
var ErrWorkflowNotFound = persistence.ErrWorkflowNotFound

const defaultImportedName = "Imported workflow"

// Workflow stores workflow graphs and runs them through the engine.
type Workflow struct {
	persistence persistence.Persistence
	registry    *registry.Registry
	validator   *validation.Validator
	engine      *engine.Engine
	publisher   eventbus.EventPublisher
	clock       clockwork.Clock
	newID       func() string
	logger      *slog.Logger

	background sync.WaitGroup
}

type Option func(*Workflow)

// WithEventPublisher publishes workflow.created, workflow.updated and
// workflow.deleted events.
func WithEventPublisher(publisher eventbus.EventPublisher) Option {
	return func(w *Workflow) {
		w.publisher = publisher
	}
}

func WithClock(clock clockwork.Clock) Option {
	return func(w *Workflow) {
		w.clock = clock
	}
}

func WithIDGenerator(fn func() string) Option {
	return func(w *Workflow) {
		w.newID = fn
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(w *Workflow) {
		w.logger = logger
	}
}

// NewWorkflow creates a new workflow service.
func NewWorkflow(p persistence.Persistence, reg *registry.Registry, eng *engine.Engine, opts ...Option) *Workflow {
	w := &Workflow{
		persistence: p,
		registry:    reg,
		validator:   validation.New(reg),
		engine:      eng,
		clock:       clockwork.NewRealClock(),
		newID:       uuid.NewString,
		logger:      slog.Default(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With("module", "workflow_service")

	return w
}

// HealthCheck checks the health of the persistence layer.
func (w *Workflow) HealthCheck(ctx context.Context) (string, bool) {
	if w.persistence == nil {
		return "Persistence layer not initialized", false
	}

	err := w.persistence.HealthCheck(ctx)
	if err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

// ListWorkflowsRequest contains options for listing workflows.
type ListWorkflowsRequest struct {
	Limit  int `validate:"min=1,max=100"`
	Offset int `validate:"min=0"`

	NameContains string

	SortBy    string `validate:"oneof=created_at updated_at name"`
	SortOrder string `validate:"oneof=asc desc"`
}

// ListWorkflowsResponse contains the result of listing workflows.
type ListWorkflowsResponse struct {
	Workflows   []*models.Workflow `json:"workflows"`
	TotalCount  int64              `json:"total_count"`
	HasNextPage bool               `json:"has_next_page"`
}

// ListWorkflows retrieves workflows with filtering, sorting, and pagination.
func (w *Workflow) ListWorkflows(ctx context.Context, req ListWorkflowsRequest) (*ListWorkflowsResponse, error) {
	if err := w.validateListWorkflowsRequest(&req); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	result, err := w.persistence.WorkflowRepository().List(ctx, persistence.ListWorkflowsOptions{
		Limit:        req.Limit,
		Offset:       req.Offset,
		SortBy:       req.SortBy,
		SortOrder:    req.SortOrder,
		NameContains: req.NameContains,
	})
	if err != nil {
		if persistence.IsInvalidOption(err) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}

		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	return &ListWorkflowsResponse{
		Workflows:   result.Workflows,
		TotalCount:  result.TotalCount,
		HasNextPage: result.HasNextPage,
	}, nil
}

// validateListWorkflowsRequest validates and sets defaults for the request.
func (w *Workflow) validateListWorkflowsRequest(req *ListWorkflowsRequest) error {
	if req.Limit <= 0 {
		req.Limit = persistence.DefaultListLimit
	}

	if req.Limit > persistence.MaxListLimit {
		req.Limit = persistence.MaxListLimit
	}

	if req.Offset < 0 {
		req.Offset = 0
	}

	if req.SortBy == "" {
		req.SortBy = "created_at"
	}

	if req.SortOrder == "" {
		req.SortOrder = "desc"
	}

	allowedSorts := []string{"created_at", "updated_at", "name"}

	if !slices.Contains(allowedSorts, req.SortBy) {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_FIELD",
			fmt.Sprintf("invalid sort field '%s', allowed: %s", req.SortBy, strings.Join(allowedSorts, ", ")),
			ErrInvalidSortField,
		)
	}

	if req.SortOrder != "asc" && req.SortOrder != "desc" {
		return NewValidationError(
			"validateListWorkflowsRequest",
			"INVALID_SORT_ORDER",
			fmt.Sprintf("invalid sort order '%s', allowed: asc, desc", req.SortOrder),
			ErrInvalidSortOrder,
		)
	}

	req.NameContains = strings.TrimSpace(req.NameContains)

	return nil
}

// FetchByID retrieves a workflow by its ID.
func (w *Workflow) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	return w.persistence.WorkflowRepository().GetByID(ctx, id)
}

// decodeGraph parses graph_json, mapping every decode failure to ErrInvalidGraph.
func (w *Workflow) decodeGraph(op, graphJSON string) (*models.Graph, error) {
	if strings.TrimSpace(graphJSON) == "" {
		return nil, NewValidationError(op, "GRAPH_REQUIRED", "graph_json is required", ErrGraphRequired)
	}

	g, err := graph.Decode([]byte(graphJSON), w.registry)
	if err != nil {
		return nil, NewValidationError(op, "INVALID_GRAPH", err.Error(), fmt.Errorf("%w: %w", ErrInvalidGraph, err))
	}

	return g, nil
}

// Create stores a new workflow. The graph is stored in canonical encoding.
func (w *Workflow) Create(ctx context.Context, name, graphJSON string) (*models.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("Create", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	g, err := w.decodeGraph("Create", graphJSON)
	if err != nil {
		return nil, err
	}

	return w.create(ctx, name, g)
}

func (w *Workflow) create(ctx context.Context, name string, g *models.Graph) (*models.Workflow, error) {
	encoded, err := graph.Encode(g)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	now := w.clock.Now().UTC()
	workflow := &models.Workflow{
		ID:        w.newID(),
		Name:      name,
		GraphJSON: string(encoded),
		CreatedAt: now,
		UpdatedAt: now,
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to create workflow: %w", err)
	}

	w.publish(ctx, workflow.ID, events.WorkflowCreated{
		BaseEvent: events.NewBaseEvent(events.WorkflowCreatedEvent, workflow.ID),
		Name:      workflow.Name,
	})

	w.logger.InfoContext(ctx, "workflow created", "workflow_id", workflow.ID, "nodes", len(g.Nodes))

	return workflow, nil
}

// Update replaces the name and graph of an existing workflow.
func (w *Workflow) Update(ctx context.Context, workflowID, name, graphJSON string) (*models.Workflow, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, NewValidationError("Update", "NAME_REQUIRED", "workflow name is required", ErrWorkflowNameRequired)
	}

	g, err := w.decodeGraph("Update", graphJSON)
	if err != nil {
		return nil, err
	}

	existing, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	encoded, err := graph.Encode(g)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	workflow := &models.Workflow{
		ID:        workflowID,
		Name:      name,
		GraphJSON: string(encoded),
		CreatedAt: existing.CreatedAt,
		UpdatedAt: w.clock.Now().UTC(),
	}

	err = w.persistence.WorkflowRepository().Save(ctx, workflow)
	if err != nil {
		return nil, fmt.Errorf("failed to update workflow: %w", err)
	}

	w.publish(ctx, workflow.ID, events.WorkflowUpdated{
		BaseEvent: events.NewBaseEvent(events.WorkflowUpdatedEvent, workflow.ID),
		Name:      workflow.Name,
	})

	return workflow, nil
}

// Delete removes a workflow by its ID.
func (w *Workflow) Delete(ctx context.Context, workflowID string) error {
	err := w.persistence.WorkflowRepository().Delete(ctx, workflowID)
	if err != nil {
		if persistence.IsWorkflowNotFound(err) {
			return err
		}

		return fmt.Errorf("failed to delete workflow: %w", err)
	}

	w.publish(ctx, workflowID, events.WorkflowDeleted{
		BaseEvent: events.NewBaseEvent(events.WorkflowDeletedEvent, workflowID),
	})

	return nil
}

// Validate decodes graph_json and runs the validator over it.
func (w *Workflow) Validate(_ context.Context, graphJSON string) ([]models.Finding, error) {
	g, err := w.decodeGraph("Validate", graphJSON)
	if err != nil {
		return nil, err
	}

	return w.validator.Validate(g), nil
}

// Export renders a stored workflow as a workflow.json document.
func (w *Workflow) Export(ctx context.Context, workflowID string) ([]byte, *models.Workflow, error) {
	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID)
	if err != nil {
		return nil, nil, err
	}

	g, err := w.decodeGraph("Export", workflow.GraphJSON)
	if err != nil {
		return nil, nil, fmt.Errorf("stored workflow %s is unreadable: %w", workflowID, err)
	}

	data, err := graph.ExportFile(g, workflow.Name, workflow.CreatedAt)
	if err != nil {
		return nil, nil, err
	}

	return data, workflow, nil
}

// Import creates a new workflow from a workflow.json document.
func (w *Workflow) Import(ctx context.Context, data []byte) (*models.Workflow, error) {
	file, g, err := graph.ImportFile(data, w.registry)
	if err != nil {
		return nil, NewValidationError("Import", "INVALID_WORKFLOW_FILE", err.Error(), fmt.Errorf("%w: %w", ErrInvalidWorkflowFile, err))
	}

	name := strings.TrimSpace(file.Metadata.Name)
	if name == "" {
		name = defaultImportedName
	}

	return w.create(ctx, name, g)
}

// ExecuteRequest describes a run. Exactly one of GraphJSON or WorkflowID is used;
// WorkflowID takes precedence.
type ExecuteRequest struct {
	WorkflowID string
	GraphJSON  string
	Ticket     models.Ticket
	// Inputs seed the run context.
	Inputs map[string]any
}

func (w *Workflow) resolveGraph(ctx context.Context, req ExecuteRequest) (*models.Graph, error) {
	if req.WorkflowID == "" {
		return w.decodeGraph("Execute", req.GraphJSON)
	}

	workflow, err := w.persistence.WorkflowRepository().GetByID(ctx, req.WorkflowID)
	if err != nil {
		return nil, err
	}

	return w.decodeGraph("Execute", workflow.GraphJSON)
}

// Execute runs a graph to completion and stores the run record. A run that
// fails is still a successful call: the failure is reported in the result.
func (w *Workflow) Execute(ctx context.Context, req ExecuteRequest) (*engine.Result, error) {
	g, err := w.resolveGraph(ctx, req)
	if err != nil {
		return nil, err
	}

	res, runErr := w.engine.Execute(ctx, g, req.Ticket, runOptions(w.newID(), req)...)
	if errors.Is(runErr, engine.ErrEngineClosed) {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, runErr)
	}

	execution := res.Execution()

	err = w.persistence.ExecutionRepository().Save(context.WithoutCancel(ctx), &execution)
	if err != nil {
		return nil, fmt.Errorf("failed to store execution %s: %w", res.RunID, err)
	}

	return res, nil
}

// Start begins a run in the background and returns its initial record. The
// run outlives ctx; it is stored once it finishes.
func (w *Workflow) Start(ctx context.Context, req ExecuteRequest) (*models.Execution, error) {
	g, err := w.resolveGraph(ctx, req)
	if err != nil {
		return nil, err
	}

	runID := w.newID()

	run, err := w.engine.Start(context.WithoutCancel(ctx), g, req.Ticket, runOptions(runID, req)...)
	if err != nil {
		if errors.Is(err, engine.ErrEngineClosed) {
			return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
		}

		// no start node: record the failed run like a synchronous execution
		res, _ := w.engine.Execute(ctx, g, req.Ticket, runOptions(runID, req)...)
		execution := res.Execution()

		if err := w.persistence.ExecutionRepository().Save(ctx, &execution); err != nil {
			return nil, fmt.Errorf("failed to store execution %s: %w", runID, err)
		}

		return &execution, nil
	}

	w.background.Add(1)

	go func() {
		defer w.background.Done()

		<-run.Done()

		execution := run.Result().Execution()

		err := w.persistence.ExecutionRepository().Save(context.Background(), &execution)
		if err != nil {
			w.logger.Error("failed to store execution", "run_id", execution.ID, "error", err)
		}
	}()

	return liveExecution(run), nil
}

func runOptions(runID string, req ExecuteRequest) []engine.RunOption {
	return []engine.RunOption{
		engine.WithRunID(runID),
		engine.WithWorkflowID(req.WorkflowID),
		engine.WithInputs(req.Inputs),
	}
}

func liveExecution(run *engine.Run) *models.Execution {
	if res := run.Result(); res != nil {
		execution := res.Execution()

		return &execution
	}

	return &models.Execution{
		ID:         run.ID(),
		WorkflowID: run.WorkflowID(),
		TicketID:   run.TicketID(),
		State:      run.State(),
		Trace:      run.Trace(),
		Context:    run.Context(),
		StartedAt:  run.StartedAt(),
	}
}

// GetExecution returns a run record, preferring the live state of runs still
// in flight.
func (w *Workflow) GetExecution(ctx context.Context, id string) (*models.Execution, error) {
	if run, ok := w.engine.Run(id); ok {
		return liveExecution(run), nil
	}

	return w.persistence.ExecutionRepository().GetByID(ctx, id)
}

// ListExecutions returns the newest run records of a workflow.
func (w *Workflow) ListExecutions(ctx context.Context, workflowID string, limit int) ([]*models.Execution, error) {
	if limit <= 0 || limit > persistence.MaxListLimit {
		limit = persistence.DefaultListLimit
	}

	if _, err := w.persistence.WorkflowRepository().GetByID(ctx, workflowID); err != nil {
		return nil, err
	}

	return w.persistence.ExecutionRepository().ListByWorkflow(ctx, workflowID, limit)
}

// CancelExecution cancels an in-flight run.
func (w *Workflow) CancelExecution(ctx context.Context, id string) error {
	if w.engine.Cancel(id) {
		return nil
	}

	_, err := w.persistence.ExecutionRepository().GetByID(ctx, id)
	if err != nil {
		return err
	}

	return fmt.Errorf("%w: %s", ErrExecutionFinished, id)
}

// Wait blocks until every background run started through Start is stored.
func (w *Workflow) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		w.background.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workflow) publish(ctx context.Context, key string, event eventbus.Event) {
	if w.publisher == nil {
		return
	}

	err := w.publisher.Publish(ctx, key, event)
	if err != nil {
		w.logger.WarnContext(ctx, "failed to publish event", "type", event.GetType(), "workflow_id", key, "error", err)
	}
}
