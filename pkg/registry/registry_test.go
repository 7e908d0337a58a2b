package registry_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
)

func newRegistry() *registry.Registry {
	return registry.NewRegistry(slog.Default())
}

func TestRegistry_Catalog(t *testing.T) {
	t.Parallel()

	reg := newRegistry()

	assert.Equal(t, models.NodeTypes, reg.Types())
	assert.Len(t, reg.Descriptors(), len(models.NodeTypes))

	for _, nodeType := range models.NodeTypes {
		assert.True(t, reg.Has(nodeType), nodeType)
	}

	assert.False(t, reg.Has("teleport"))

	msg, ok := reg.HealthCheck()
	assert.True(t, ok)
	assert.Equal(t, "9 node types registered", msg)
}

func TestRegistry_Describe(t *testing.T) {
	t.Parallel()

	reg := newRegistry()

	tests := []struct {
		nodeType models.NodeType
		required []string
	}{
		{models.NodeTypeStart, []string{}},
		{models.NodeTypeDecision, []string{"conditionType", "conditionValue"}},
		{models.NodeTypeAction, []string{"actionType", "target"}},
		{models.NodeTypeEscalation, []string{"escalationLevel", "timeout"}},
		{models.NodeTypeDelay, []string{"delayValue", "delayUnit"}},
		{models.NodeTypeAgent, []string{"agentPresetKey"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.nodeType), func(t *testing.T) {
			t.Parallel()

			d, err := reg.Describe(tt.nodeType)
			require.NoError(t, err)
			assert.Equal(t, tt.nodeType, d.Type)
			assert.Equal(t, tt.required, d.RequiredParams)
			assert.NotEmpty(t, d.Name)
			assert.Equal(t, "object", d.Schema["type"])
		})
	}

	_, err := reg.Describe("teleport")
	require.Error(t, err)
	assert.True(t, registry.IsUnknownNodeType(err))
}

func TestRegistry_DescribeReturnsCopies(t *testing.T) {
	t.Parallel()

	reg := newRegistry()

	d, err := reg.Describe(models.NodeTypeAction)
	require.NoError(t, err)

	d.RequiredParams[0] = "mutated"

	again, err := reg.Describe(models.NodeTypeAction)
	require.NoError(t, err)
	assert.Equal(t, "actionType", again.RequiredParams[0])
}

func TestRegistry_CheckParams(t *testing.T) {
	t.Parallel()

	reg := newRegistry()

	tests := []struct {
		name     string
		nodeType models.NodeType
		params   map[string]any
		valid    bool
	}{
		{name: "start needs nothing", nodeType: models.NodeTypeStart, params: nil, valid: true},
		{name: "room creation needs nothing", nodeType: models.NodeTypeRoomCreation, params: map[string]any{}, valid: true},
		{name: "decision configured", nodeType: models.NodeTypeDecision, params: map[string]any{"conditionType": "priority-level", "conditionValue": "priority=high"}, valid: true},
		{name: "decision alias", nodeType: models.NodeTypeDecision, params: map[string]any{"conditionType": "custom-rule", "condition": "status == 'open'"}, valid: true},
		{name: "decision empty value", nodeType: models.NodeTypeDecision, params: map[string]any{"conditionType": "priority-level", "conditionValue": ""}, valid: false},
		{name: "decision bad type", nodeType: models.NodeTypeDecision, params: map[string]any{"conditionType": "astrology", "conditionValue": "x"}, valid: false},
		{name: "escalation numeric timeout", nodeType: models.NodeTypeEscalation, params: map[string]any{"escalationLevel": "manager", "timeout": 10}, valid: true},
		{name: "escalation string timeout", nodeType: models.NodeTypeEscalation, params: map[string]any{"escalationLevel": "level-2", "timeout": "15"}, valid: true},
		{name: "escalation level alias", nodeType: models.NodeTypeEscalation, params: map[string]any{"level": "level-1", "timeout": 5}, valid: true},
		{name: "escalation garbage timeout", nodeType: models.NodeTypeEscalation, params: map[string]any{"escalationLevel": "manager", "timeout": "soon"}, valid: false},
		{name: "escalation missing level", nodeType: models.NodeTypeEscalation, params: map[string]any{"timeout": 5}, valid: false},
		{name: "delay configured", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": 2, "delayUnit": "hours"}, valid: true},
		{name: "delay bad unit", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": 2, "delayUnit": "fortnights"}, valid: false},
		{name: "delay beyond any unit", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": 1e12, "delayUnit": "seconds"}, valid: false},
		{name: "delay overflows in days", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": 1e7, "delayUnit": "days"}, valid: false},
		{name: "delay string overflows in days", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": "99999999", "delayUnit": "days"}, valid: false},
		{name: "delay infinite", nodeType: models.NodeTypeDelay, params: map[string]any{"delayValue": "Inf", "delayUnit": "days"}, valid: false},
		{name: "escalation timeout too long", nodeType: models.NodeTypeEscalation, params: map[string]any{"escalationLevel": "manager", "timeout": 1e8}, valid: false},
		{name: "end outputs", nodeType: models.NodeTypeEnd, params: map[string]any{"outputs": map[string]any{"room": "{{ .context.output_room.room_name }}"}}, valid: true},
		{name: "end outputs must be templates", nodeType: models.NodeTypeEnd, params: map[string]any{"outputs": map[string]any{"room": 1}}, valid: false},
		{name: "action missing target", nodeType: models.NodeTypeAction, params: map[string]any{"actionType": "send-notification"}, valid: false},
		{name: "agent preset", nodeType: models.NodeTypeAgent, params: map[string]any{"preset": "triage-bot"}, valid: true},
		{name: "unknown keys kept", nodeType: models.NodeTypeEnd, params: map[string]any{"color": "red"}, valid: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			problems, err := reg.CheckParams(tt.nodeType, tt.params)
			require.NoError(t, err)

			if tt.valid {
				assert.Empty(t, problems)
			} else {
				assert.NotEmpty(t, problems)
			}
		})
	}

	_, err := reg.CheckParams("teleport", nil)
	assert.True(t, registry.IsUnknownNodeType(err))
}

func TestCanonicalize(t *testing.T) {
	t.Parallel()

	in := map[string]any{"level": "manager", "timeout": 10}
	out := registry.Canonicalize(models.NodeTypeEscalation, in)

	assert.Equal(t, "manager", out["escalationLevel"])
	assert.Equal(t, "manager", out["level"])
	assert.NotContains(t, in, "escalationLevel")

	// a canonical key already present wins over its alias
	out = registry.Canonicalize(models.NodeTypeDelay, map[string]any{"unit": "days", "delayUnit": "hours"})
	assert.Equal(t, "hours", out["delayUnit"])

	// aliases are scoped per node type
	out = registry.Canonicalize(models.NodeTypeAction, map[string]any{"level": "manager"})
	assert.NotContains(t, out, "escalationLevel")
}

func TestDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		node    *models.Node
		check   func(t *testing.T, p registry.Payload)
		wantErr bool
	}{
		{
			name: "escalation",
			node: &models.Node{ID: "esc", Type: models.NodeTypeEscalation, Params: map[string]any{"level": "manager", "timeout": "10", "mode": "halt"}},
			check: func(t *testing.T, p registry.Payload) {
				params, ok := p.(*registry.EscalationParams)
				require.True(t, ok)
				assert.Equal(t, "manager", params.EscalationLevel)
				assert.Equal(t, 10*time.Minute, params.TimeoutDuration())
				assert.Equal(t, "halt", params.Mode)
			},
		},
		{
			name: "delay",
			node: &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": 1.5, "delayUnit": "hours"}},
			check: func(t *testing.T, p registry.Payload) {
				params, ok := p.(*registry.DelayParams)
				require.True(t, ok)
				assert.Equal(t, 90*time.Minute, params.Duration())
			},
		},
		{
			name: "delay in days",
			node: &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"value": 2, "unit": "days"}},
			check: func(t *testing.T, p registry.Payload) {
				params, ok := p.(*registry.DelayParams)
				require.True(t, ok)
				assert.Equal(t, 48*time.Hour, params.Duration())
			},
		},
		{
			name: "action",
			node: &models.Node{ID: "notify", Type: models.NodeTypeAction, Params: map[string]any{"actionType": "assign-agent", "target": "tier-2"}},
			check: func(t *testing.T, p registry.Payload) {
				assert.Equal(t, models.NodeTypeAction, p.NodeType())
			},
		},
		{
			name:    "zero timeout",
			node:    &models.Node{ID: "esc", Type: models.NodeTypeEscalation, Params: map[string]any{"escalationLevel": "manager", "timeout": 0}},
			wantErr: true,
		},
		{
			name:    "delay overflowing time.Duration",
			node:    &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": 1e7, "delayUnit": "days"}},
			wantErr: true,
		},
		{
			name:    "infinite delay",
			node:    &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": "Inf", "delayUnit": "days"}},
			wantErr: true,
		},
		{
			name:    "not a number delay",
			node:    &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": "NaN", "delayUnit": "minutes"}},
			wantErr: true,
		},
		{
			name:    "escalation timeout beyond the maximum",
			node:    &models.Node{ID: "esc", Type: models.NodeTypeEscalation, Params: map[string]any{"escalationLevel": "manager", "timeout": "1e300"}},
			wantErr: true,
		},
		{
			name: "delay at the maximum",
			node: &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": 3650, "delayUnit": "days"}},
			check: func(t *testing.T, p registry.Payload) {
				params, ok := p.(*registry.DelayParams)
				require.True(t, ok)
				assert.Equal(t, registry.MaxDuration, params.Duration())
			},
		},
		{
			name: "end outputs",
			node: &models.Node{ID: "end", Type: models.NodeTypeEnd, Params: map[string]any{"outputs": map[string]any{"room": "{{ .room_name }}"}}},
			check: func(t *testing.T, p registry.Payload) {
				params, ok := p.(*registry.EndParams)
				require.True(t, ok)
				assert.Equal(t, map[string]string{"room": "{{ .room_name }}"}, params.Outputs)
			},
		},
		{
			name:    "non numeric delay",
			node:    &models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": "later", "delayUnit": "hours"}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			node:    &models.Node{ID: "x", Type: "teleport"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			payload, err := registry.Decode(tt.node)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			tt.check(t, payload)
		})
	}
}

func TestDecode_ErrorKinds(t *testing.T) {
	t.Parallel()

	_, err := registry.Decode(&models.Node{ID: "x", Type: "teleport"})
	assert.ErrorIs(t, err, registry.ErrUnknownNodeType)

	_, err = registry.Decode(&models.Node{ID: "a", Type: models.NodeTypeAgent, Params: map[string]any{}})
	assert.ErrorIs(t, err, registry.ErrInvalidParams)

	_, err = registry.Decode(&models.Node{ID: "wait", Type: models.NodeTypeDelay, Params: map[string]any{"delayValue": 1e7, "delayUnit": "days"}})
	assert.ErrorIs(t, err, registry.ErrInvalidParams)
	assert.Contains(t, err.Error(), "node wait")
}

func TestDurations_ClampInsteadOfOverflowing(t *testing.T) {
	t.Parallel()

	delay := registry.DelayParams{DelayValue: 1e7, DelayUnit: "days"}
	assert.Equal(t, registry.MaxDuration, delay.Duration())

	escalation := registry.EscalationParams{Timeout: 1e18}
	assert.Equal(t, registry.MaxDuration, escalation.TimeoutDuration())

	var n registry.Number
	require.Error(t, n.UnmarshalJSON([]byte(`"Inf"`)))
	require.Error(t, n.UnmarshalJSON([]byte(`"-Inf"`)))
	require.Error(t, n.UnmarshalJSON([]byte(`"NaN"`)))
	require.NoError(t, n.UnmarshalJSON([]byte(`"2.5"`)))
	assert.Equal(t, registry.Number(2.5), n)
}
