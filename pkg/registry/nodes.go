package registry

import (
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

// Enumerations accepted by the node catalog.
var (
	ConditionTypes   = []string{"field-comparison", "time-based", "priority-level", "custom-rule"}
	ActionTypes      = []string{"send-notification", "update-ticket", "assign-agent", "create-task"}
	EscalationLevels = []string{"level-1", "level-2", "level-3", "manager"}
	DelayUnits       = []string{"seconds", "minutes", "hours", "days"}
	EscalationModes  = []string{"continue", "halt"}
)

// aliases maps shorthand keys accepted from hand-written graphs to their
// canonical names.
var aliases = map[models.NodeType]map[string]string{
	models.NodeTypeEscalation: {"level": "escalationLevel"},
	models.NodeTypeDelay:      {"value": "delayValue", "unit": "delayUnit"},
	models.NodeTypeDecision:   {"condition": "conditionValue"},
	models.NodeTypeAgent:      {"preset": "agentPresetKey"},
}

// Canonicalize returns a copy of params where shorthand keys are mirrored
// under their canonical name. Canonical keys already present win; the
// shorthand key itself is kept so unknown-key preservation holds.
func Canonicalize(nodeType models.NodeType, params map[string]any) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
	}

	for alias, canonical := range aliases[nodeType] {
		v, ok := out[alias]
		if !ok {
			continue
		}

		if _, exists := out[canonical]; !exists {
			out[canonical] = v
		}
	}

	return out
}

func stringProp(description string, enum []string) map[string]any {
	prop := map[string]any{
		"type":        "string",
		"description": description,
	}
	if len(enum) > 0 {
		prop["enum"] = enum
	}

	return prop
}

func requiredString(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"minLength":   1,
		"description": description,
	}
}

// maxNumeric is MaxDuration in seconds, the smallest unit a duration param
// accepts; no larger value is valid in any unit.
const maxNumeric = int64(MaxDuration / time.Second)

// numeric accepts either a JSON number or a numeric string, as designer form
// inputs produce both.
func numeric(description string) map[string]any {
	return map[string]any{
		"type":        []string{"number", "string"},
		"minimum":     0,
		"maximum":     maxNumeric,
		"pattern":     `^[0-9]+(\.[0-9]+)?$`,
		"description": description,
	}
}

func objectSchema(required []string, properties map[string]any) map[string]any {
	schema := map[string]any{
		"$schema":    "http://json-schema.org/draft-07/schema#",
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

func catalog() []Descriptor {
	return []Descriptor{
		{
			Type:           models.NodeTypeStart,
			Name:           "Start",
			Description:    "Entry point of the workflow",
			RequiredParams: []string{},
			OptionalParams: []string{"label"},
			Schema: objectSchema(nil, map[string]any{
				"label": stringProp("Display label", nil),
			}),
		},
		{
			Type:           models.NodeTypeEnd,
			Name:           "End",
			Description:    "Terminates the workflow",
			RequiredParams: []string{},
			OptionalParams: []string{"outcome", "outputs"},
			Schema: objectSchema(nil, map[string]any{
				"outcome": stringProp("Resolution recorded when the run ends", nil),
				"outputs": map[string]any{
					"type":                 "object",
					"additionalProperties": map[string]any{"type": "string"},
					"description":          "Final outputs rendered from the run context",
				},
			}),
		},
		{
			Type:           models.NodeTypeDecision,
			Name:           "Decision",
			Description:    "Branch on a ticket condition",
			RequiredParams: []string{"conditionType", "conditionValue"},
			OptionalParams: []string{"trueLabel", "falseLabel"},
			Schema: objectSchema([]string{"conditionType", "conditionValue"}, map[string]any{
				"conditionType":  stringProp("How conditionValue is evaluated", ConditionTypes),
				"conditionValue": requiredString("Condition evaluated against the ticket"),
				"trueLabel":      stringProp("Label of the true branch", nil),
				"falseLabel":     stringProp("Label of the false branch", nil),
			}),
		},
		{
			Type:           models.NodeTypeAction,
			Name:           "Action",
			Description:    "Perform an automated action",
			RequiredParams: []string{"actionType", "target"},
			OptionalParams: []string{"message", "fields"},
			Schema: objectSchema([]string{"actionType", "target"}, map[string]any{
				"actionType": stringProp("Kind of action to dispatch", ActionTypes),
				"target":     requiredString("Recipient, ticket field or queue the action applies to"),
				"message":    stringProp("Message body", nil),
				"fields":     map[string]any{"type": "object"},
			}),
		},
		{
			Type:           models.NodeTypeEscalation,
			Name:           "Escalation",
			Description:    "Hand the ticket to a human expert queue",
			RequiredParams: []string{"escalationLevel", "timeout"},
			OptionalParams: []string{"reason", "mode"},
			Schema: objectSchema([]string{"escalationLevel", "timeout"}, map[string]any{
				"escalationLevel": stringProp("Expert queue receiving the ticket", EscalationLevels),
				"timeout":         numeric("Minutes the queue has to pick the ticket up"),
				"reason":          stringProp("Reason shown to the expert", nil),
				"mode":            stringProp("Whether the run continues or halts after the hand-off", EscalationModes),
			}),
		},
		{
			Type:           models.NodeTypeDelay,
			Name:           "Delay",
			Description:    "Wait before continuing",
			RequiredParams: []string{"delayValue", "delayUnit"},
			OptionalParams: []string{},
			Schema: objectSchema([]string{"delayValue", "delayUnit"}, map[string]any{
				"delayValue": numeric("Amount of time to wait"),
				"delayUnit":  stringProp("Unit of delayValue", DelayUnits),
			}),
		},
		{
			Type:           models.NodeTypeAgent,
			Name:           "AI Agent",
			Description:    "Assign the ticket to an agent preset",
			RequiredParams: []string{"agentPresetKey"},
			OptionalParams: []string{"instructions"},
			Schema: objectSchema([]string{"agentPresetKey"}, map[string]any{
				"agentPresetKey": requiredString("Agent preset handling the ticket"),
				"instructions":   stringProp("Extra instructions for the agent", nil),
			}),
		},
		{
			Type:           models.NodeTypeRoomCreation,
			Name:           "Room Creation",
			Description:    "Open a support chat room for the ticket",
			RequiredParams: []string{},
			OptionalParams: []string{"roomName", "participants"},
			Schema: objectSchema(nil, map[string]any{
				"roomName": stringProp("Name of the chat room", nil),
				"participants": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "string"},
				},
			}),
		},
		{
			Type:           models.NodeTypeVerification,
			Name:           "Verification",
			Description:    "Verify ticket data against a query or reference document",
			RequiredParams: []string{},
			OptionalParams: []string{"query", "documentPath", "verificationPrompt"},
			Schema: objectSchema(nil, map[string]any{
				"query":              stringProp("jq query that must yield true for the ticket", nil),
				"documentPath":       stringProp("Reference document checked by the verifier", nil),
				"verificationPrompt": stringProp("Instructions for the verifier", nil),
			}),
		},
	}
}
