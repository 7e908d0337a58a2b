package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
	"github.com/deskflow/deskflow/pkg/template"
)

// EscalationPolicy decides what a run does after handing a ticket to an
// expert queue.
type EscalationPolicy string

const (
	// EscalationContinue records the hand-off and advances to the next node.
	EscalationContinue EscalationPolicy = "continue"
	// EscalationHalt records the hand-off and completes the run at the escalation node.
	EscalationHalt EscalationPolicy = "halt"
)

// stepResult is what a node handler reports back to the run loop.
type stepResult struct {
	outcome  string
	route    string
	detail   map[string]any
	terminal bool
	delay    time.Duration

	// output is stored in the run context under OutputKey(node.ID).
	output map[string]any
	// vars are merged into the run context as top-level keys.
	vars map[string]any
	// final becomes the run output.
	final map[string]any
}

// render expands the templates of a string param against the run scope.
func (e *Engine) render(r *Run, param, value string) (string, error) {
	if !template.IsTemplate(value) {
		return value, nil
	}

	out, err := e.templates.RenderString(value, r.scope().Env())
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrTemplate, param, err)
	}

	return out, nil
}

func next(detail map[string]any) stepResult {
	return stepResult{outcome: models.OutcomeNext, route: models.OutcomeNext, detail: detail}
}

func branch(passed bool, detail map[string]any) stepResult {
	outcome := models.OutcomeFalse
	if passed {
		outcome = models.OutcomeTrue
	}

	return stepResult{outcome: outcome, route: outcome, detail: detail}
}

// handle executes one node. Handlers are atomic from the run's point of view:
// they either return a result or an error, never a partial state.
func (e *Engine) handle(ctx context.Context, r *Run, node *models.Node) (stepResult, error) {
	payload, err := registry.Decode(node)
	if err != nil {
		return stepResult{}, err
	}

	switch p := payload.(type) {
	case *registry.StartParams:
		return next(nil), nil
	case *registry.EndParams:
		return e.handleEnd(r, p), nil
	case *registry.DecisionParams:
		return e.handleDecision(r, node, p)
	case *registry.ActionParams:
		return e.handleAction(ctx, r, node, p)
	case *registry.EscalationParams:
		return e.handleEscalation(ctx, r, node, p)
	case *registry.DelayParams:
		d := p.Duration()
		if d <= 0 {
			return stepResult{}, fmt.Errorf("%w: node %s: delay must be positive", registry.ErrInvalidParams, node.ID)
		}

		return stepResult{
			outcome: models.OutcomeDelayed,
			route:   models.OutcomeNext,
			delay:   d,
			detail:  map[string]any{"delay": d.String()},
		}, nil
	case *registry.AgentParams:
		return e.handleAgent(ctx, r, node, p)
	case *registry.RoomCreationParams:
		return e.handleRoomCreation(ctx, r, node, p)
	case *registry.VerificationParams:
		return e.handleVerification(ctx, r, node, p)
	default:
		return stepResult{}, fmt.Errorf("no handler for node type %s", node.Type)
	}
}

func (e *Engine) handleDecision(r *Run, node *models.Node, p *registry.DecisionParams) (stepResult, error) {
	if strings.TrimSpace(p.ConditionValue) == "" {
		return stepResult{}, fmt.Errorf("%w: decision %s has no condition value", ErrUnresolvedBranch, node.ID)
	}

	passed, err := e.evaluateCondition(p.ConditionType, p.ConditionValue, r.scope(), e.clock.Now())
	if err != nil {
		return stepResult{}, err
	}

	conditionType := p.ConditionType
	if conditionType == "" {
		conditionType = ConditionFieldComparison
	}

	res := branch(passed, map[string]any{
		"conditionType":  conditionType,
		"conditionValue": p.ConditionValue,
	})
	res.output = map[string]any{"result": passed}

	return res, nil
}

// handleEnd completes the run. Output templates that cannot be rendered
// yield nil rather than failing a run that already reached its end.
func (e *Engine) handleEnd(r *Run, p *registry.EndParams) stepResult {
	var detail map[string]any
	if p.Outcome != "" {
		detail = map[string]any{"outcome": p.Outcome}
	}

	res := stepResult{outcome: models.OutcomeCompleted, detail: detail, terminal: true}

	if len(p.Outputs) > 0 {
		env := r.scope().Env()
		res.final = make(map[string]any, len(p.Outputs))

		for name, tmpl := range p.Outputs {
			value, err := e.templates.Render(tmpl, env)
			if err != nil {
				e.logger.DebugContext(r.ctx, "output not rendered", "run_id", r.id, "output", name, "error", err)

				value = nil
			}

			res.final[name] = value
		}
	}

	return res
}

func (e *Engine) handleAction(ctx context.Context, r *Run, node *models.Node, p *registry.ActionParams) (stepResult, error) {
	if e.collab.Actions == nil {
		return stepResult{}, fmt.Errorf("%w: action dispatcher", ErrMissingCollaborator)
	}

	target, err := e.render(r, "target", p.Target)
	if err != nil {
		return stepResult{}, err
	}

	message, err := e.render(r, "message", p.Message)
	if err != nil {
		return stepResult{}, err
	}

	outcome, err := e.collab.Actions.Dispatch(ctx, ActionIntent{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		NodeID:     node.ID,
		ActionType: p.ActionType,
		Target:     target,
		Message:    message,
		Fields:     p.Fields,
		Ticket:     r.ticket,
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to dispatch %s action: %w", p.ActionType, err)
	}

	detail := map[string]any{
		"actionType": p.ActionType,
		"target":     target,
		"status":     outcome.Status,
	}
	if outcome.Reference != "" {
		detail["reference"] = outcome.Reference
	}

	res := next(detail)
	res.output = map[string]any{
		"action_type": p.ActionType,
		"target":      target,
		"status":      outcome.Status,
		"reference":   outcome.Reference,
	}
	if outcome.Data != nil {
		res.output["data"] = outcome.Data
	}

	return res, nil
}

func (e *Engine) handleEscalation(ctx context.Context, r *Run, node *models.Node, p *registry.EscalationParams) (stepResult, error) {
	if e.collab.Escalations == nil {
		return stepResult{}, fmt.Errorf("%w: escalator", ErrMissingCollaborator)
	}

	policy := EscalationPolicy(p.Mode)
	if policy == "" {
		policy = e.config.EscalationPolicy
	}

	reason, err := e.render(r, "reason", p.Reason)
	if err != nil {
		return stepResult{}, err
	}

	err = e.collab.Escalations.Escalate(ctx, Escalation{
		RunID:      r.id,
		WorkflowID: r.workflowID,
		NodeID:     node.ID,
		Level:      p.EscalationLevel,
		Timeout:    p.TimeoutDuration(),
		Reason:     reason,
		Ticket:     r.ticket,
		CreatedAt:  e.clock.Now(),
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to escalate to %s: %w", p.EscalationLevel, err)
	}

	return stepResult{
		outcome:  models.OutcomeEscalated,
		route:    models.OutcomeNext,
		terminal: policy == EscalationHalt,
		detail: map[string]any{
			"escalationLevel": p.EscalationLevel,
			"timeout":         p.TimeoutDuration().String(),
			"policy":          string(policy),
		},
		output: map[string]any{
			"level":   p.EscalationLevel,
			"timeout": p.TimeoutDuration().String(),
			"reason":  reason,
		},
		vars: map[string]any{EscalationReasonKey: reason},
	}, nil
}

func (e *Engine) handleAgent(ctx context.Context, r *Run, node *models.Node, p *registry.AgentParams) (stepResult, error) {
	if e.collab.Agents == nil {
		return stepResult{}, fmt.Errorf("%w: agent dispatcher", ErrMissingCollaborator)
	}

	instructions, err := e.render(r, "instructions", p.Instructions)
	if err != nil {
		return stepResult{}, err
	}

	assignment, err := e.collab.Agents.Assign(ctx, AgentTask{
		RunID:        r.id,
		WorkflowID:   r.workflowID,
		NodeID:       node.ID,
		PresetKey:    p.AgentPresetKey,
		Instructions: instructions,
		Ticket:       r.ticket,
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to assign agent %s: %w", p.AgentPresetKey, err)
	}

	res := next(map[string]any{
		"agentPresetKey": p.AgentPresetKey,
		"assignmentId":   assignment.AssignmentID,
	})
	res.output = map[string]any{
		"preset_key":    p.AgentPresetKey,
		"assignment_id": assignment.AssignmentID,
	}

	return res, nil
}

func (e *Engine) handleRoomCreation(ctx context.Context, r *Run, node *models.Node, p *registry.RoomCreationParams) (stepResult, error) {
	if e.collab.ChatRooms == nil {
		return stepResult{}, fmt.Errorf("%w: chat rooms", ErrMissingCollaborator)
	}

	name, err := e.render(r, "roomName", p.RoomName)
	if err != nil {
		return stepResult{}, err
	}

	if name == "" {
		name = "ticket-" + r.ticket.ID
	}

	room, err := e.collab.ChatRooms.CreateRoom(ctx, RoomRequest{
		RunID:        r.id,
		WorkflowID:   r.workflowID,
		NodeID:       node.ID,
		Name:         name,
		Participants: p.Participants,
		Ticket:       r.ticket,
	})
	if err != nil {
		return stepResult{}, fmt.Errorf("failed to create room %s: %w", name, err)
	}

	res := next(map[string]any{"roomId": room.ID, "roomName": room.Name})
	res.output = map[string]any{
		"status":    "created",
		"room_id":   room.ID,
		"room_name": room.Name,
	}

	return res, nil
}

// handleVerification passes when the jq query (if any) yields a truthy value
// and the external verifier (if a document or prompt is set) accepts the ticket.
func (e *Engine) handleVerification(ctx context.Context, r *Run, node *models.Node, p *registry.VerificationParams) (stepResult, error) {
	passed := true
	detail := map[string]any{}

	documentPath, err := e.render(r, "documentPath", p.DocumentPath)
	if err != nil {
		return stepResult{}, err
	}

	prompt, err := e.render(r, "verificationPrompt", p.VerificationPrompt)
	if err != nil {
		return stepResult{}, err
	}

	if p.Query != "" {
		ok, err := e.queries.Check(ctx, p.Query, r.scope().Env())
		if err != nil {
			return stepResult{}, err
		}

		passed = ok
		detail["query"] = p.Query
	}

	if passed && (documentPath != "" || prompt != "") {
		if e.collab.Verifier == nil {
			return stepResult{}, fmt.Errorf("%w: verifier", ErrMissingCollaborator)
		}

		ok, err := e.collab.Verifier.Verify(ctx, VerificationRequest{
			RunID:        r.id,
			WorkflowID:   r.workflowID,
			NodeID:       node.ID,
			DocumentPath: documentPath,
			Prompt:       prompt,
			Ticket:       r.ticket,
		})
		if err != nil {
			return stepResult{}, fmt.Errorf("failed to verify ticket: %w", err)
		}

		passed = ok
		detail["documentPath"] = documentPath
	}

	res := branch(passed, detail)
	res.output = map[string]any{"verified": passed, "document": documentPath}

	return res, nil
}
