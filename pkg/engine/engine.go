// Package engine executes support workflow graphs against tickets.
//
// Each run is a small state machine (pending, running, suspended, completed,
// failed) advanced in slices on a bounded worker pool. Delay nodes suspend a
// run on a timer instead of holding a worker, so the number of waiting runs
// is independent of the pool size.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/template"
)

// DefaultMaxSteps bounds the nodes a single run may visit.
const DefaultMaxSteps = 1000

const tracerName = "github.com/deskflow/deskflow/pkg/engine"

// Config holds the engine tunables.
type Config struct {
	// MaxSteps is the step budget of every run. Zero means DefaultMaxSteps.
	MaxSteps int
	// Workers bounds concurrently executing run slices. Zero means 4 * GOMAXPROCS.
	Workers int
	// EscalationPolicy applies to escalation nodes that set no mode of their own.
	EscalationPolicy EscalationPolicy
}

// Stats is a point-in-time view of the engine load.
type Stats struct {
	InFlight  int64       `json:"in_flight"`
	Suspended int64       `json:"suspended"`
	Busy      int64       `json:"busy"`
	Pool      PoolMetrics `json:"pool"`
}

type Option func(*Engine)

func WithClock(clock clockwork.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		e.tracer = tracer
	}
}

func WithObserver(observer Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, observer)
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithRunIDGenerator overrides how run identifiers are minted.
func WithRunIDGenerator(fn func() string) Option {
	return func(e *Engine) {
		e.newID = fn
	}
}

// Engine runs workflow graphs. It is safe for concurrent use; every run gets
// its own snapshot of the graph and ticket.
type Engine struct {
	config    Config
	collab    Collaborators
	clock     clockwork.Clock
	tracer    trace.Tracer
	observers []Observer
	logger    *slog.Logger
	newID     func() string

	pool      *workerPool
	rules     *ruleEngine
	queries   *queryEngine
	templates *template.Renderer

	mu     sync.Mutex
	runs   map[string]*Run
	closed bool

	inFlight  atomic.Int64
	suspended atomic.Int64
}

func New(config Config, collab Collaborators, opts ...Option) *Engine {
	if config.MaxSteps <= 0 {
		config.MaxSteps = DefaultMaxSteps
	}

	if config.Workers <= 0 {
		config.Workers = 4 * runtime.GOMAXPROCS(0)
	}

	if config.EscalationPolicy == "" {
		config.EscalationPolicy = EscalationContinue
	}

	e := &Engine{
		config:  config,
		collab:  collab,
		clock:   clockwork.NewRealClock(),
		tracer:  otel.Tracer(tracerName),
		logger:  slog.Default(),
		newID:   uuid.NewString,
		rules:   newRuleEngine(),
		queries: newQueryEngine(),
		runs:    make(map[string]*Run),
	}

	for _, opt := range opts {
		opt(e)
	}

	e.logger = e.logger.With("module", "engine")
	e.pool = newWorkerPool(config.Workers)
	e.templates = template.NewRenderer(e.clock.Now)

	return e
}

// RunOption customizes a single run.
type RunOption func(*runOptions)

type runOptions struct {
	workflowID string
	runID      string
	inputs     map[string]any
}

// WithWorkflowID tags the run with the stored workflow it was started from.
func WithWorkflowID(id string) RunOption {
	return func(o *runOptions) {
		o.workflowID = id
	}
}

// WithRunID sets the run identifier instead of generating one.
func WithRunID(id string) RunOption {
	return func(o *runOptions) {
		o.runID = id
	}
}

// WithInputs seeds the run context. Inputs are copied in their plain JSON
// form and are visible to conditions, queries and param templates.
func WithInputs(inputs map[string]any) RunOption {
	return func(o *runOptions) {
		o.inputs = inputs
	}
}

// Start begins executing g against ticket and returns immediately. The run
// works on snapshots: later edits to g or ticket do not affect it. Cancelling
// ctx cancels the run.
func (e *Engine) Start(ctx context.Context, g *models.Graph, ticket models.Ticket, opts ...RunOption) (*Run, error) {
	options := runOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	snapshot := g.Clone()

	start, ok := snapshot.StartNode()
	if !ok {
		return nil, ErrNoStartNode
	}

	if options.runID == "" {
		options.runID = e.newID()
	}

	inputs, err := plainMap(options.inputs)
	if err != nil {
		return nil, fmt.Errorf("%w: inputs are not JSON encodable: %w", ErrInvalidInputs, err)
	}

	options.inputs = inputs

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()

		return nil, ErrEngineClosed
	}

	if _, exists := e.runs[options.runID]; exists {
		e.mu.Unlock()

		return nil, fmt.Errorf("run %s already exists", options.runID)
	}

	r := newRun(ctx, e, options, snapshot, cloneTicket(ticket), start.ID)
	e.runs[r.id] = r
	e.mu.Unlock()

	e.inFlight.Add(1)
	r.begin()

	return r, nil
}

// Execute runs g to completion. A graph without a start node yields a failed
// result with an empty trace.
func (e *Engine) Execute(ctx context.Context, g *models.Graph, ticket models.Ticket, opts ...RunOption) (*Result, error) {
	r, err := e.Start(ctx, g, ticket, opts...)
	if err != nil {
		now := e.clock.Now()
		options := runOptions{}
		for _, opt := range opts {
			opt(&options)
		}

		return &Result{
			RunID:      options.runID,
			WorkflowID: options.workflowID,
			TicketID:   ticket.ID,
			State:      models.RunStateFailed,
			Trace:      []models.TraceEntry{},
			Context:    maps.Clone(options.inputs),
			Err:        err,
			StartedAt:  now,
			FinishedAt: now,
		}, err
	}

	<-r.Done()

	res := r.Result()

	return res, res.Err
}

// Run returns an in-flight run by id.
func (e *Engine) Run(id string) (*Run, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	r, ok := e.runs[id]

	return r, ok
}

// Cancel cancels an in-flight run by id.
func (e *Engine) Cancel(id string) bool {
	r, ok := e.Run(id)
	if !ok {
		return false
	}

	r.Cancel()

	return true
}

func (e *Engine) Stats() Stats {
	pool := e.pool.snapshot()

	return Stats{
		InFlight:  e.inFlight.Load(),
		Suspended: e.suspended.Load(),
		Busy:      pool.Active,
		Pool:      pool,
	}
}

// Close stops accepting runs, cancels the in-flight ones and waits for them
// to settle or for ctx to expire.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	runs := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	for _, r := range runs {
		r.Cancel()
	}

	for _, r := range runs {
		select {
		case <-r.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	e.pool.shutdown()

	return nil
}

func (e *Engine) forget(r *Run) {
	e.mu.Lock()
	delete(e.runs, r.id)
	e.mu.Unlock()

	e.inFlight.Add(-1)
}

func (e *Engine) notify(ctx context.Context, n Notification) {
	for _, o := range e.observers {
		o.Observe(ctx, n)
	}
}

// cloneTicket copies custom fields in their plain JSON form so numeric
// fields stay float64 for comparisons and rules.
func cloneTicket(t models.Ticket) models.Ticket {
	if t.Fields == nil {
		return t
	}

	fields, err := plainMap(t.Fields)
	if err != nil {
		t.Fields = models.CloneParams(t.Fields)

		return t
	}

	t.Fields = fields

	return t
}

// plainMap deep-copies m through JSON. A nil map yields an empty one.
func plainMap(m map[string]any) (map[string]any, error) {
	if len(m) == 0 {
		return map[string]any{}, nil
	}

	return jsonValue(m)
}
