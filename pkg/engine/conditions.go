package engine

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/deskflow/deskflow/pkg/models"
)

// Decision condition types.
const (
	ConditionFieldComparison = "field-comparison"
	ConditionTimeBased       = "time-based"
	ConditionPriorityLevel   = "priority-level"
	ConditionCustomRule      = "custom-rule"
)

// comparison operators in matching order; two-character operators first so
// ">=" is never read as ">".
var operators = []string{"!=", ">=", "<=", "==", "=", ">", "<"}

type comparison struct {
	field string
	op    string
	value string
}

func parseComparison(condition string) (comparison, error) {
	for i := 0; i < len(condition); i++ {
		for _, op := range operators {
			if strings.HasPrefix(condition[i:], op) {
				c := comparison{
					field: strings.TrimSpace(condition[:i]),
					op:    op,
					value: unquote(strings.TrimSpace(condition[i+len(op):])),
				}
				if c.field == "" {
					return comparison{}, fmt.Errorf("%w: %q has no field", ErrInvalidCondition, condition)
				}

				return c, nil
			}
		}
	}

	return comparison{}, fmt.Errorf("%w: %q has no comparison operator", ErrInvalidCondition, condition)
}

func unquote(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		return s[1 : len(s)-1]
	}

	return s
}

// evaluateCondition decides a decision node against the ticket and run
// context at time now. An empty condition type means field-comparison.
func (e *Engine) evaluateCondition(conditionType, condition string, s *scope, now time.Time) (bool, error) {
	ticket := s.ticket

	switch conditionType {
	case "", ConditionFieldComparison:
		c, err := parseComparison(condition)
		if err != nil {
			return false, err
		}

		return compareField(s, c)
	case ConditionPriorityLevel:
		if c, err := parseComparison(condition); err == nil {
			return compareField(s, c)
		}

		threshold := models.Priority(strings.TrimSpace(condition))
		if threshold.Rank() == 0 {
			return false, fmt.Errorf("%w: unknown priority %q", ErrInvalidCondition, condition)
		}

		return ticket.Priority.Rank() >= threshold.Rank(), nil
	case ConditionTimeBased:
		limit, err := parseAge(condition)
		if err != nil {
			return false, err
		}

		if ticket.CreatedAt.IsZero() {
			return false, nil
		}

		return now.Sub(ticket.CreatedAt) >= limit, nil
	case ConditionCustomRule:
		return e.rules.Eval(condition, s.Env())
	default:
		return false, fmt.Errorf("%w: unsupported condition type %q", ErrInvalidCondition, conditionType)
	}
}

// parseAge accepts a Go duration ("90m", "2h30m") or a bare number of minutes.
func parseAge(condition string) (time.Duration, error) {
	raw := strings.TrimSpace(condition)
	raw = strings.TrimSpace(strings.TrimPrefix(raw, ">="))
	raw = strings.TrimSpace(strings.TrimPrefix(raw, ">"))

	if minutes, err := strconv.ParseFloat(raw, 64); err == nil {
		return time.Duration(minutes * float64(time.Minute)), nil
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a duration", ErrInvalidCondition, condition)
	}

	return d, nil
}

func compareField(s *scope, c comparison) (bool, error) {
	raw, _ := s.Lookup(c.field)
	actual := stringify(raw)

	if strings.EqualFold(c.field, "priority") && c.op != "=" && c.op != "==" && c.op != "!=" {
		want := models.Priority(c.value).Rank()
		if want == 0 {
			return false, fmt.Errorf("%w: unknown priority %q", ErrInvalidCondition, c.value)
		}

		return ordered(c.op, models.Priority(actual).Rank()-want), nil
	}

	actualNum, errA := strconv.ParseFloat(actual, 64)
	wantNum, errW := strconv.ParseFloat(c.value, 64)
	numeric := errA == nil && errW == nil

	switch c.op {
	case "=", "==":
		if numeric {
			return actualNum == wantNum, nil
		}

		return strings.EqualFold(actual, c.value), nil
	case "!=":
		if numeric {
			return actualNum != wantNum, nil
		}

		return !strings.EqualFold(actual, c.value), nil
	}

	if numeric {
		switch {
		case actualNum < wantNum:
			return ordered(c.op, -1), nil
		case actualNum > wantNum:
			return ordered(c.op, 1), nil
		default:
			return ordered(c.op, 0), nil
		}
	}

	return ordered(c.op, strings.Compare(actual, c.value)), nil
}

// ordered applies an ordering operator to the sign of a comparison.
func ordered(op string, cmp int) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	default:
		return false
	}
}

func stringify(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case json.Number:
		return value.String()
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64)
	case int:
		return strconv.Itoa(value)
	case bool:
		return strconv.FormatBool(value)
	default:
		return fmt.Sprint(value)
	}
}
