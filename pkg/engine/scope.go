package engine

import (
	"strings"

	"github.com/deskflow/deskflow/pkg/models"
)

// OutputKey is the run context key a node's result is stored under.
func OutputKey(nodeID string) string {
	return "output_" + nodeID
}

// EscalationReasonKey holds the reason of the latest escalation of a run.
const EscalationReasonKey = "escalation_reason"

// scope is what conditions, queries and templates of a run read: the ticket
// plus the run context.
type scope struct {
	ticket *models.Ticket
	vars   map[string]any
	run    map[string]any
}

// Lookup resolves a field against the ticket first, then the run context.
// Dotted names walk nested objects, so "output_notify.status" and
// "context.output_notify.status" name the same value.
func (s *scope) Lookup(field string) (any, bool) {
	if v, ok := s.ticket.Lookup(field); ok {
		return v, true
	}

	if rest, ok := strings.CutPrefix(field, "context."); ok {
		field = rest
	}

	return walk(s.vars, field)
}

// Env merges the ticket environment with the run context. Ticket attributes
// win on a clash; the whole context is always reachable as "context".
func (s *scope) Env() map[string]any {
	env := s.ticket.Env()

	for k, v := range s.vars {
		if _, taken := env[k]; !taken {
			env[k] = v
		}
	}

	env["context"] = s.vars
	if s.run != nil {
		env["run"] = s.run
	}

	return env
}

func walk(root map[string]any, path string) (any, bool) {
	var current any = root

	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}

		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}

	return current, true
}
