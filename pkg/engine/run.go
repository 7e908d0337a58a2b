package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/otelhelper"
)

// Result is the outcome of a finished run.
type Result struct {
	RunID      string              `json:"runId"`
	WorkflowID string              `json:"workflowId,omitempty"`
	TicketID   string              `json:"ticketId,omitempty"`
	State      models.RunState     `json:"finalState"`
	Trace      []models.TraceEntry `json:"trace"`
	// Context holds the run inputs plus every node output, keyed by
	// OutputKey(nodeID).
	Context map[string]any `json:"context"`
	// Output is rendered by the outputs param of the end node reached.
	Output     map[string]any `json:"output,omitempty"`
	Err        error          `json:"-"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// ErrorMessage returns the failure reason, or "" for completed runs.
func (r *Result) ErrorMessage() string {
	if r.Err == nil {
		return ""
	}

	return r.Err.Error()
}

// Execution converts the result into its persisted form.
func (r *Result) Execution() models.Execution {
	return models.Execution{
		ID:         r.RunID,
		WorkflowID: r.WorkflowID,
		TicketID:   r.TicketID,
		State:      r.State,
		Trace:      r.Trace,
		Context:    r.Context,
		Output:     r.Output,
		Error:      r.ErrorMessage(),
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// pendingDelay is the delay node a suspended run is waiting on.
type pendingDelay struct {
	node      *models.Node
	enteredAt time.Time
	detail    map[string]any
	timer     clockwork.Timer
}

// Run is one execution of a graph against a ticket.
type Run struct {
	id         string
	workflowID string
	engine     *Engine
	graph      *models.Graph
	ticket     models.Ticket

	ctx        context.Context
	cancel     context.CancelCauseFunc
	stopCancel func() bool
	span       trace.Span

	mu        sync.Mutex
	state     models.RunState
	current   string
	steps     int
	trace     []models.TraceEntry
	vars      map[string]any
	output    map[string]any
	pending   *pendingDelay
	result    *Result
	startedAt time.Time
	done      chan struct{}
}

func newRun(ctx context.Context, e *Engine, opts runOptions, g *models.Graph, ticket models.Ticket, startID string) *Run {
	r := &Run{
		id:         opts.runID,
		workflowID: opts.workflowID,
		engine:     e,
		graph:      g,
		ticket:     ticket,
		state:      models.RunStatePending,
		current:    startID,
		trace:      []models.TraceEntry{},
		vars:       opts.inputs,
		startedAt:  e.clock.Now(),
		done:       make(chan struct{}),
	}

	ctx, r.span = e.tracer.Start(ctx, "engine.run", trace.WithAttributes(
		otelhelper.RunIDKey.String(r.id),
		otelhelper.WorkflowIDKey.String(r.workflowID),
		otelhelper.TicketIDKey.String(ticket.ID),
		otelhelper.GraphNodesKey.Int(len(g.Nodes)),
	))
	r.ctx, r.cancel = context.WithCancelCause(ctx)

	return r
}

func (r *Run) ID() string {
	return r.id
}

func (r *Run) WorkflowID() string {
	return r.workflowID
}

func (r *Run) TicketID() string {
	return r.ticket.ID
}

func (r *Run) StartedAt() time.Time {
	return r.startedAt
}

func (r *Run) State() models.RunState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Trace returns a copy of the entries recorded so far.
func (r *Run) Trace() []models.TraceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.TraceEntry, len(r.trace))
	copy(out, r.trace)

	return out
}

// Context returns a copy of the run context built so far.
func (r *Run) Context() map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	return maps.Clone(r.vars)
}

// Done is closed once the run reaches a terminal state.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Result is nil until Done is closed.
func (r *Run) Result() *Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.result
}

// Wait blocks until the run finishes or ctx is done.
func (r *Run) Wait(ctx context.Context) (*Result, error) {
	select {
	case <-r.done:
		res := r.Result()

		return res, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cancellation. A run between nodes stops before the next
// node; a suspended run fails right away.
func (r *Run) Cancel() {
	r.cancel(ErrCancelled)
}

func (r *Run) begin() {
	r.mu.Lock()
	r.setState(models.RunStateRunning)
	r.mu.Unlock()

	r.engine.logger.DebugContext(r.ctx, "run started", "run_id", r.id, "workflow_id", r.workflowID, "ticket_id", r.ticket.ID)
	r.engine.notify(r.ctx, r.notification(NotifyRunStarted))

	r.stopCancel = context.AfterFunc(r.ctx, r.onCancel)

	r.schedule()
}

// schedule queues the next slice on the worker pool.
func (r *Run) schedule() {
	if err := r.engine.pool.submit(r.ctx, r.slice); err != nil {
		r.fail(cancelCause(r.ctx, err))
	}
}

// slice advances the run until it suspends or finishes.
func (r *Run) slice() (sliceErr error) {
	defer func() {
		if p := recover(); p != nil {
			sliceErr = fmt.Errorf("panic while executing run: %v", p)
			r.fail(sliceErr)
		}
	}()

	for {
		if context.Cause(r.ctx) != nil {
			err := cancelCause(r.ctx, nil)
			r.fail(err)

			return err
		}

		r.mu.Lock()
		if r.state != models.RunStateRunning {
			r.mu.Unlock()

			return nil
		}

		if r.steps >= r.engine.config.MaxSteps {
			r.mu.Unlock()
			err := fmt.Errorf("%w: %d nodes visited", ErrStepBudgetExceeded, r.engine.config.MaxSteps)
			r.fail(err)

			return err
		}

		r.steps++
		node, ok := r.graph.Node(r.current)
		r.mu.Unlock()

		if !ok {
			err := fmt.Errorf("%w: node %s does not exist", ErrUnresolvedBranch, r.current)
			r.fail(err)

			return err
		}

		done, err := r.step(node)
		if err != nil || done {
			return err
		}
	}
}

// step executes a single node and moves the cursor. It reports done when the
// run suspended or reached a terminal state.
func (r *Run) step(node *models.Node) (bool, error) {
	ctx, span := r.engine.tracer.Start(r.ctx, "engine.node", trace.WithAttributes(
		otelhelper.RunIDKey.String(r.id),
		otelhelper.NodeIDKey.String(node.ID),
		otelhelper.NodeTypeKey.String(string(node.Type)),
	))
	defer span.End()

	entered := r.engine.clock.Now()

	res, err := r.engine.handle(ctx, r, node)
	if err != nil {
		if context.Cause(r.ctx) != nil {
			err = cancelCause(r.ctx, err)
		}

		otelhelper.SetError(span, err)

		nodeErr := &NodeError{RunID: r.id, NodeID: node.ID, NodeType: node.Type, Err: err}
		r.record(models.TraceEntry{
			NodeID:    node.ID,
			NodeType:  node.Type,
			EnteredAt: entered,
			ExitedAt:  r.engine.clock.Now(),
			Outcome:   models.OutcomeError,
			Error:     err.Error(),
		})
		r.fail(nodeErr)

		return true, nodeErr
	}

	span.SetAttributes(otelhelper.NodeOutcomeKey.String(res.outcome))

	r.remember(node, res)

	if res.delay > 0 {
		r.suspend(node, entered, res)

		return true, nil
	}

	r.record(models.TraceEntry{
		NodeID:    node.ID,
		NodeType:  node.Type,
		EnteredAt: entered,
		ExitedAt:  r.engine.clock.Now(),
		Outcome:   res.outcome,
		Detail:    res.detail,
	})

	if res.terminal {
		r.complete()

		return true, nil
	}

	if err := r.advance(node, res.route); err != nil {
		return true, err
	}

	return false, nil
}

// advance moves the cursor to the successor of node, failing the run when
// there is none.
func (r *Run) advance(node *models.Node, route string) error {
	nextNode, err := successor(r.graph, node, route)
	if err != nil {
		nodeErr := &NodeError{RunID: r.id, NodeID: node.ID, NodeType: node.Type, Err: err}
		r.fail(nodeErr)

		return nodeErr
	}

	r.mu.Lock()
	r.current = nextNode.ID
	r.mu.Unlock()

	return nil
}

// scope is read by handlers on the goroutine executing the run; the context
// only changes there, under r.mu.
func (r *Run) scope() *scope {
	return &scope{
		ticket: &r.ticket,
		vars:   r.vars,
		run:    map[string]any{"id": r.id, "workflow_id": r.workflowID},
	}
}

// remember stores what a node produced in the run context.
func (r *Run) remember(node *models.Node, res stepResult) {
	if res.output == nil && res.vars == nil && res.final == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if res.output != nil {
		r.vars[OutputKey(node.ID)] = res.output
	}

	for k, v := range res.vars {
		r.vars[k] = v
	}

	if res.final != nil {
		r.output = res.final
	}
}

func (r *Run) record(entry models.TraceEntry) {
	r.mu.Lock()
	r.trace = append(r.trace, entry)
	r.mu.Unlock()

	r.engine.notify(r.ctx, Notification{
		Kind:       NotifyNodeCompleted,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		TicketID:   r.ticket.ID,
		State:      r.State(),
		NodeID:     entry.NodeID,
		Entry:      &entry,
		At:         entry.ExitedAt,
	})
}

// suspend parks the run on a timer. No worker is held while it waits.
func (r *Run) suspend(node *models.Node, entered time.Time, res stepResult) {
	r.mu.Lock()
	if err := checkTransition(r.state, models.RunStateSuspended); err != nil {
		r.mu.Unlock()
		r.fail(err)

		return
	}

	r.setState(models.RunStateSuspended)
	r.pending = &pendingDelay{node: node, enteredAt: entered, detail: res.detail}
	r.pending.timer = r.engine.clock.AfterFunc(res.delay, r.resume)
	r.mu.Unlock()

	resumeAt := entered.Add(res.delay)
	r.engine.logger.DebugContext(r.ctx, "run suspended", "run_id", r.id, "node_id", node.ID, "resume_at", resumeAt)

	n := r.notification(NotifyRunSuspended)
	n.NodeID = node.ID
	n.ResumeAt = resumeAt
	r.engine.notify(r.ctx, n)
}

// resume is the timer callback of a delay node.
func (r *Run) resume() {
	r.mu.Lock()
	if r.state != models.RunStateSuspended || r.pending == nil {
		r.mu.Unlock()

		return
	}

	p := r.pending
	r.pending = nil

	if context.Cause(r.ctx) != nil {
		r.mu.Unlock()
		r.abandonDelay(p)

		return
	}

	r.setState(models.RunStateRunning)
	r.mu.Unlock()

	r.engine.notify(r.ctx, r.notification(NotifyRunResumed))

	r.record(models.TraceEntry{
		NodeID:    p.node.ID,
		NodeType:  p.node.Type,
		EnteredAt: p.enteredAt,
		ExitedAt:  r.engine.clock.Now(),
		Outcome:   models.OutcomeDelayed,
		Detail:    p.detail,
	})

	if err := r.advance(p.node, models.OutcomeNext); err != nil {
		return
	}

	r.schedule()
}

// onCancel fails a suspended run as soon as its context is cancelled. Runs
// that are executing notice cancellation themselves between nodes.
func (r *Run) onCancel() {
	r.mu.Lock()
	if r.state != models.RunStateSuspended || r.pending == nil {
		r.mu.Unlock()

		return
	}

	if !r.pending.timer.Stop() {
		// the timer already fired; resume sees the cancellation
		r.mu.Unlock()

		return
	}

	p := r.pending
	r.pending = nil
	r.mu.Unlock()

	r.abandonDelay(p)
}

func (r *Run) abandonDelay(p *pendingDelay) {
	err := cancelCause(r.ctx, nil)

	r.record(models.TraceEntry{
		NodeID:    p.node.ID,
		NodeType:  p.node.Type,
		EnteredAt: p.enteredAt,
		ExitedAt:  r.engine.clock.Now(),
		Outcome:   models.OutcomeError,
		Detail:    p.detail,
		Error:     err.Error(),
	})

	r.fail(&NodeError{RunID: r.id, NodeID: p.node.ID, NodeType: p.node.Type, Err: err})
}

func (r *Run) complete() {
	r.finish(models.RunStateCompleted, nil)
}

func (r *Run) fail(err error) {
	r.finish(models.RunStateFailed, err)
}

// finish moves the run to a terminal state once; later calls are ignored.
func (r *Run) finish(state models.RunState, err error) {
	r.mu.Lock()
	if r.state.IsTerminal() {
		r.mu.Unlock()

		return
	}

	r.setState(state)
	entries := make([]models.TraceEntry, len(r.trace))
	copy(entries, r.trace)
	r.result = &Result{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		TicketID:   r.ticket.ID,
		State:      state,
		Trace:      entries,
		Context:    maps.Clone(r.vars),
		Output:     maps.Clone(r.output),
		Err:        err,
		StartedAt:  r.startedAt,
		FinishedAt: r.engine.clock.Now(),
	}
	res := r.result
	r.mu.Unlock()

	if r.stopCancel != nil {
		r.stopCancel()
	}

	kind := NotifyRunCompleted
	if state == models.RunStateFailed {
		kind = NotifyRunFailed
		otelhelper.SetError(r.span, err)
		r.engine.logger.WarnContext(r.ctx, "run failed", "run_id", r.id, "workflow_id", r.workflowID, "steps", len(entries), "error", err)
	} else {
		r.engine.logger.InfoContext(r.ctx, "run completed", "run_id", r.id, "workflow_id", r.workflowID, "steps", len(entries))
	}

	r.span.SetAttributes(otelhelper.RunStateKey.String(string(state)))

	n := r.notification(kind)
	n.Err = err
	n.At = res.FinishedAt
	r.engine.notify(context.WithoutCancel(r.ctx), n)

	r.span.End()
	r.engine.forget(r)
	close(r.done)
	r.cancel(context.Canceled)
}

// setState must be called with r.mu held.
func (r *Run) setState(to models.RunState) {
	from := r.state
	if from == to {
		return
	}

	if from == models.RunStateSuspended {
		r.engine.suspended.Add(-1)
	}

	if to == models.RunStateSuspended {
		r.engine.suspended.Add(1)
	}

	r.state = to
}

func (r *Run) notification(kind NotificationKind) Notification {
	return Notification{
		Kind:       kind,
		RunID:      r.id,
		WorkflowID: r.workflowID,
		TicketID:   r.ticket.ID,
		State:      r.State(),
		At:         r.engine.clock.Now(),
	}
}

// cancelCause maps a cancelled run context to ErrCancelled, keeping the
// original cause when it is something else.
func cancelCause(ctx context.Context, fallback error) error {
	cause := context.Cause(ctx)
	switch {
	case cause == nil:
		if fallback == nil {
			return ErrCancelled
		}

		return fallback
	case errors.Is(cause, ErrCancelled):
		return ErrCancelled
	default:
		return fmt.Errorf("%w: %w", ErrCancelled, cause)
	}
}
