// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"encoding/json"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

// CreateTestNode creates a node of the given type with default values that can be overridden.
func CreateTestNode(id string, nodeType models.NodeType, overrides ...func(*models.Node)) *models.Node {
	node := &models.Node{
		ID:       id,
		Type:     nodeType,
		Name:     string(nodeType),
		Position: models.Position{X: 100, Y: 200},
		Params:   map[string]any{},
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithParams sets the node params.
func WithParams(params map[string]any) func(*models.Node) {
	return func(n *models.Node) {
		n.Params = params
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.Node) {
	return func(n *models.Node) {
		n.Name = name
	}
}

// CreateCriticalEscalationGraph is start → decision(priority=critical) → escalation → end.
func CreateCriticalEscalationGraph() *models.Graph {
	return &models.Graph{Nodes: []*models.Node{
		CreateTestNode("start", models.NodeTypeStart),
		CreateTestNode("check", models.NodeTypeDecision, WithParams(map[string]any{
			"conditionType":  "priority-level",
			"conditionValue": "priority=critical",
		})),
		CreateTestNode("escalate", models.NodeTypeEscalation, WithParams(map[string]any{
			"escalationLevel": "manager",
			"timeout":         json.Number("10"),
		})),
		CreateTestNode("end", models.NodeTypeEnd),
	}}
}

// CreateConnectedEscalationGraph is the critical escalation flow with explicit
// edges; non-critical tickets go straight to the end node.
func CreateConnectedEscalationGraph() *models.Graph {
	g := CreateCriticalEscalationGraph()
	g.Edges = []*models.Edge{
		{ID: "e1", Source: "start", Target: "check"},
		{ID: "e2", Source: "check", Target: "escalate", SourceHandle: models.HandleTrue},
		{ID: "e3", Source: "check", Target: "end", SourceHandle: models.HandleFalse},
		{ID: "e4", Source: "escalate", Target: "end"},
	}

	return g
}

// CreateLinearGraph is start → action → end.
func CreateLinearGraph() *models.Graph {
	return &models.Graph{Nodes: []*models.Node{
		CreateTestNode("start", models.NodeTypeStart),
		CreateTestNode("notify", models.NodeTypeAction, WithParams(map[string]any{
			"actionType": "send-notification",
			"target":     "oncall",
		})),
		CreateTestNode("end", models.NodeTypeEnd),
	}}
}

// CreateTestWorkflow creates a workflow record with default values that can be overridden.
func CreateTestWorkflow(id string, overrides ...func(*models.Workflow)) *models.Workflow {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	workflow := &models.Workflow{
		ID:        id,
		Name:      "Test Workflow",
		GraphJSON: `{"nodes":[{"id":"start","type":"start","name":"","description":"","x":0,"y":0,"params":{}},{"id":"end","type":"end","name":"","description":"","x":0,"y":0,"params":{}}]}`,
		CreatedAt: now,
		UpdatedAt: now,
	}

	for _, override := range overrides {
		override(workflow)
	}

	return workflow
}

// CreateTestTicket creates a ticket with the given priority.
func CreateTestTicket(id string, priority models.Priority) models.Ticket {
	return models.Ticket{
		ID:       id,
		Subject:  "Printer on fire",
		Priority: priority,
		Status:   "open",
	}
}
