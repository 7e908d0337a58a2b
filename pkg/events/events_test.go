package events

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/models"
)

func TestEventTypes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		event interface{ GetType() EventType }
		want  EventType
	}{
		{WorkflowCreated{}, WorkflowCreatedEvent},
		{WorkflowUpdated{}, WorkflowUpdatedEvent},
		{WorkflowDeleted{}, WorkflowDeletedEvent},
		{RunStarted{}, RunStartedEvent},
		{RunSuspended{}, RunSuspendedEvent},
		{RunResumed{}, RunResumedEvent},
		{NodeCompleted{}, NodeCompletedEvent},
		{RunCompleted{}, RunCompletedEvent},
		{RunFailed{}, RunFailedEvent},
		{EscalationRequested{}, EscalationRequestedEvent},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.event.GetType())
		assert.Contains(t, Types(), tt.want)
	}

	assert.Len(t, Types(), len(tests))
}

func TestRunSuspended_JSON(t *testing.T) {
	t.Parallel()

	resumeAt := time.Date(2026, 4, 2, 10, 5, 0, 0, time.UTC)
	event := RunSuspended{
		RunEvent: NewRunEvent(RunSuspendedEvent, "wf-1", "run-1", "T-1", models.RunStateSuspended),
		NodeID:   "wait",
		ResumeAt: resumeAt,
	}

	data, err := json.Marshal(event)
	require.NoError(t, err)

	assert.Contains(t, string(data), `"type":"run.suspended"`)
	assert.Contains(t, string(data), `"run_id":"run-1"`)
	assert.Contains(t, string(data), `"state":"suspended"`)
	assert.Contains(t, string(data), `"node_id":"wait"`)

	var decoded RunSuspended
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "wf-1", decoded.WorkflowID)
	assert.True(t, resumeAt.Equal(decoded.ResumeAt))
}

func TestNewBaseEvent(t *testing.T) {
	t.Parallel()

	a := NewBaseEvent(WorkflowCreatedEvent, "wf-1")
	b := NewBaseEvent(WorkflowCreatedEvent, "wf-1")

	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, "wf-1", a.WorkflowID)
	assert.Equal(t, time.UTC, a.Timestamp.Location())
	assert.NotNil(t, a.Metadata)
}
