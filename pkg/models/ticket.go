package models

import (
	"strings"
	"time"
)

// Priority is the service-desk urgency of a ticket.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

var priorityRank = map[Priority]int{
	PriorityLow:      1,
	PriorityMedium:   2,
	PriorityHigh:     3,
	PriorityCritical: 4,
}

// Rank orders priorities from low (1) to critical (4). Unknown priorities rank 0.
func (p Priority) Rank() int {
	return priorityRank[Priority(strings.ToLower(string(p)))]
}

// Ticket is the read-only service-desk case a workflow run operates on.
type Ticket struct {
	ID        string         `json:"id"`
	Subject   string         `json:"subject,omitempty"`
	Priority  Priority       `json:"priority,omitempty"`
	Status    string         `json:"status,omitempty"`
	Category  string         `json:"category,omitempty"`
	Assignee  string         `json:"assignee,omitempty"`
	CreatedAt time.Time      `json:"created_at,omitzero"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Lookup resolves a field name against the ticket's well-known attributes
// first and its custom fields second.
func (t *Ticket) Lookup(field string) (any, bool) {
	if t == nil {
		return nil, false
	}

	switch strings.ToLower(field) {
	case "id":
		return t.ID, true
	case "subject":
		return t.Subject, true
	case "priority":
		return string(t.Priority), true
	case "status":
		return t.Status, true
	case "category":
		return t.Category, true
	case "assignee":
		return t.Assignee, true
	}

	v, ok := t.Fields[field]

	return v, ok
}

// Env renders the ticket as a plain map for expression and query evaluation.
// Custom fields are exposed both under "fields" and at the top level when
// they do not shadow a well-known attribute.
func (t *Ticket) Env() map[string]any {
	env := map[string]any{}
	if t == nil {
		return env
	}

	fields := make(map[string]any, len(t.Fields))
	for k, v := range t.Fields {
		fields[k] = v
		env[k] = v
	}

	env["id"] = t.ID
	env["subject"] = t.Subject
	env["priority"] = string(t.Priority)
	env["status"] = t.Status
	env["category"] = t.Category
	env["assignee"] = t.Assignee
	env["fields"] = fields

	if !t.CreatedAt.IsZero() {
		env["created_at"] = t.CreatedAt.UTC().Format(time.RFC3339)
	}

	return env
}
