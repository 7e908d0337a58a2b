// Package dispatch provides collaborators the engine hands side effects to:
// an in-memory Recorder for dry runs and tests, an HTTP action dispatcher, a
// Redis-backed escalation queue and an event bus escalator.
package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/deskflow/deskflow/pkg/engine"
)

const StatusRecorded = "recorded"

// Recorder implements every engine collaborator by remembering the calls it
// receives. Verification requests pass unless VerifyResult is set to false.
type Recorder struct {
	mu          sync.Mutex
	actions     []engine.ActionIntent
	agents      []engine.AgentTask
	escalations []engine.Escalation
	rooms       []engine.RoomRequest
	verifies    []engine.VerificationRequest

	// VerifyResult is returned by Verify; nil means true.
	VerifyResult *bool
	// Err, when set, is returned by every call.
	Err error
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

// Collaborators wires the recorder into every engine slot.
func (r *Recorder) Collaborators() engine.Collaborators {
	return engine.Collaborators{
		Actions:     r,
		Agents:      r,
		Escalations: r,
		ChatRooms:   r,
		Verifier:    r,
	}
}

func (r *Recorder) Dispatch(_ context.Context, intent engine.ActionIntent) (engine.ActionOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return engine.ActionOutcome{}, r.Err
	}

	r.actions = append(r.actions, intent)

	return engine.ActionOutcome{
		Status:    StatusRecorded,
		Reference: fmt.Sprintf("action-%d", len(r.actions)),
	}, nil
}

func (r *Recorder) Assign(_ context.Context, task engine.AgentTask) (engine.AgentAssignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return engine.AgentAssignment{}, r.Err
	}

	r.agents = append(r.agents, task)

	return engine.AgentAssignment{AssignmentID: fmt.Sprintf("assignment-%d", len(r.agents))}, nil
}

func (r *Recorder) Escalate(_ context.Context, escalation engine.Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return r.Err
	}

	r.escalations = append(r.escalations, escalation)

	return nil
}

func (r *Recorder) CreateRoom(_ context.Context, req engine.RoomRequest) (engine.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return engine.Room{}, r.Err
	}

	r.rooms = append(r.rooms, req)

	return engine.Room{ID: fmt.Sprintf("room-%d", len(r.rooms)), Name: req.Name}, nil
}

func (r *Recorder) Verify(_ context.Context, req engine.VerificationRequest) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.Err != nil {
		return false, r.Err
	}

	r.verifies = append(r.verifies, req)

	if r.VerifyResult == nil {
		return true, nil
	}

	return *r.VerifyResult, nil
}

func (r *Recorder) Actions() []engine.ActionIntent {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]engine.ActionIntent(nil), r.actions...)
}

func (r *Recorder) AgentTasks() []engine.AgentTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]engine.AgentTask(nil), r.agents...)
}

func (r *Recorder) Escalations() []engine.Escalation {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]engine.Escalation(nil), r.escalations...)
}

func (r *Recorder) Rooms() []engine.RoomRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]engine.RoomRequest(nil), r.rooms...)
}

func (r *Recorder) Verifications() []engine.VerificationRequest {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]engine.VerificationRequest(nil), r.verifies...)
}
