package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/go-playground/validator/v10"
)

// ErrInvalidParams is returned when a params block cannot be decoded into its typed payload.
var ErrInvalidParams = errors.New("invalid node params")

// MaxDuration bounds delays and escalation timeouts.
const MaxDuration = 10 * 365 * 24 * time.Hour

var validate = validator.New(validator.WithRequiredStructEnabled())

// Payload is the typed params block of one node type.
type Payload interface {
	NodeType() models.NodeType
}

// Number is a non-negative quantity that may be encoded as a JSON number or
// a numeric string.
type Number float64

func (n *Number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" || raw == `""` {
		*n = 0

		return nil
	}

	raw = strings.Trim(raw, `"`)

	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("%q is not a number", raw)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("%q is not a finite number", raw)
	}

	*n = Number(v)

	return nil
}

type StartParams struct {
	Label string `json:"label"`
}

type EndParams struct {
	Outcome string `json:"outcome"`
	// Outputs maps each output name to a template rendered against the run
	// context when the run ends.
	Outputs map[string]string `json:"outputs"`
}

type DecisionParams struct {
	ConditionType  string `json:"conditionType"  validate:"omitempty,oneof=field-comparison time-based priority-level custom-rule"`
	ConditionValue string `json:"conditionValue"`
	TrueLabel      string `json:"trueLabel"`
	FalseLabel     string `json:"falseLabel"`
}

type ActionParams struct {
	ActionType string         `json:"actionType" validate:"required,oneof=send-notification update-ticket assign-agent create-task"`
	Target     string         `json:"target"     validate:"required"`
	Message    string         `json:"message"`
	Fields     map[string]any `json:"fields"`
}

type EscalationParams struct {
	EscalationLevel string `json:"escalationLevel" validate:"required,oneof=level-1 level-2 level-3 manager"`
	Timeout         Number `json:"timeout"         validate:"gt=0"`
	Reason          string `json:"reason"`
	Mode            string `json:"mode"            validate:"omitempty,oneof=continue halt"`
}

// TimeoutDuration returns the hand-off timeout; timeouts are expressed in
// minutes. Values beyond MaxDuration are clamped.
func (p EscalationParams) TimeoutDuration() time.Duration {
	d, _ := durationOf(p.Timeout, time.Minute)

	return d
}

func (p EscalationParams) checkBounds() error {
	if _, err := durationOf(p.Timeout, time.Minute); err != nil {
		return fmt.Errorf("timeout: %w", err)
	}

	return nil
}

type DelayParams struct {
	DelayValue Number `json:"delayValue" validate:"gt=0"`
	DelayUnit  string `json:"delayUnit"  validate:"required,oneof=seconds minutes hours days"`
}

// Duration converts the delay into a time.Duration. Values beyond
// MaxDuration are clamped.
func (p DelayParams) Duration() time.Duration {
	d, _ := durationOf(p.DelayValue, p.unit())

	return d
}

func (p DelayParams) checkBounds() error {
	if _, err := durationOf(p.DelayValue, p.unit()); err != nil {
		return fmt.Errorf("delayValue: %w", err)
	}

	return nil
}

func (p DelayParams) unit() time.Duration {
	var unit time.Duration

	switch p.DelayUnit {
	case "seconds":
		unit = time.Second
	case "minutes":
		unit = time.Minute
	case "hours":
		unit = time.Hour
	case "days":
		unit = 24 * time.Hour
	}

	return unit
}

// durationOf multiplies value by unit without overflowing time.Duration.
func durationOf(value Number, unit time.Duration) (time.Duration, error) {
	d := float64(value) * float64(unit)
	if d > float64(MaxDuration) {
		return MaxDuration, fmt.Errorf("%v x %s exceeds the maximum of %s", float64(value), unit, MaxDuration)
	}

	return time.Duration(d), nil
}

// bounded payloads carry limits that struct tags cannot express.
type bounded interface {
	checkBounds() error
}

type AgentParams struct {
	AgentPresetKey string `json:"agentPresetKey" validate:"required"`
	Instructions   string `json:"instructions"`
}

type RoomCreationParams struct {
	RoomName     string   `json:"roomName"`
	Participants []string `json:"participants"`
}

type VerificationParams struct {
	Query              string `json:"query"`
	DocumentPath       string `json:"documentPath"`
	VerificationPrompt string `json:"verificationPrompt"`
}

func (StartParams) NodeType() models.NodeType        { return models.NodeTypeStart }
func (EndParams) NodeType() models.NodeType          { return models.NodeTypeEnd }
func (DecisionParams) NodeType() models.NodeType     { return models.NodeTypeDecision }
func (ActionParams) NodeType() models.NodeType       { return models.NodeTypeAction }
func (EscalationParams) NodeType() models.NodeType   { return models.NodeTypeEscalation }
func (DelayParams) NodeType() models.NodeType        { return models.NodeTypeDelay }
func (AgentParams) NodeType() models.NodeType        { return models.NodeTypeAgent }
func (RoomCreationParams) NodeType() models.NodeType { return models.NodeTypeRoomCreation }
func (VerificationParams) NodeType() models.NodeType { return models.NodeTypeVerification }

// Decode converts the loosely typed params of a node into its typed payload
// and checks the payload constraints.
func Decode(node *models.Node) (Payload, error) {
	payload, err := decodePayload(node.Type, node.Params)
	if err != nil {
		if errors.Is(err, ErrUnknownNodeType) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: node %s: %w", ErrInvalidParams, node.ID, err)
	}

	return payload, nil
}

func decodePayload(nodeType models.NodeType, params map[string]any) (Payload, error) {
	var payload Payload

	switch nodeType {
	case models.NodeTypeStart:
		payload = &StartParams{}
	case models.NodeTypeEnd:
		payload = &EndParams{}
	case models.NodeTypeDecision:
		payload = &DecisionParams{}
	case models.NodeTypeAction:
		payload = &ActionParams{}
	case models.NodeTypeEscalation:
		payload = &EscalationParams{}
	case models.NodeTypeDelay:
		payload = &DelayParams{}
	case models.NodeTypeAgent:
		payload = &AgentParams{}
	case models.NodeTypeRoomCreation:
		payload = &RoomCreationParams{}
	case models.NodeTypeVerification:
		payload = &VerificationParams{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, nodeType)
	}

	data, err := json.Marshal(Canonicalize(nodeType, params))
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(data, payload); err != nil {
		return nil, err
	}

	if err := validate.Struct(payload); err != nil {
		return nil, err
	}

	if b, ok := payload.(bounded); ok {
		if err := b.checkBounds(); err != nil {
			return nil, err
		}
	}

	return payload, nil
}
