// Package validation provides static analysis of workflow graphs.
package validation

import (
	"fmt"
	"strings"

	"github.com/deskflow/deskflow/pkg/models"
	"github.com/deskflow/deskflow/pkg/registry"
)

// Finding identifiers.
const (
	FindingNoStart               = "no-start"
	FindingNoEnd                 = "no-end"
	FindingOrphanedElements      = "orphaned-elements"
	FindingUnconfiguredDecisions = "unconfigured-decisions"
	FindingUnconfiguredElements  = "unconfigured-elements"
	FindingValid                 = "valid"
)

type rule func(g *models.Graph) *models.Finding

// Validator checks graphs against the workflow rule set. It holds no state
// beyond the registry and is safe for concurrent use.
type Validator struct {
	rules []rule
}

// New creates a validator. When reg is nil the params schema rule is skipped.
func New(reg *registry.Registry) *Validator {
	v := &Validator{
		rules: []rule{
			noStart,
			noEnd,
			orphanedElements,
			unconfiguredDecisions,
		},
	}

	if reg != nil {
		v.rules = append(v.rules, unconfiguredElements(reg))
	}

	return v
}

// Validate runs every rule and returns the findings in rule order. When no
// rule reports an error or warning a single success finding is returned.
func (v *Validator) Validate(g *models.Graph) []models.Finding {
	if g == nil {
		g = &models.Graph{}
	}

	findings := make([]models.Finding, 0, len(v.rules))

	for _, r := range v.rules {
		if f := r(g); f != nil {
			findings = append(findings, *f)
		}
	}

	if !hasIssues(findings) {
		findings = append(findings, models.Finding{
			ID:         FindingValid,
			Severity:   models.SeveritySuccess,
			Message:    "Workflow validation passed successfully.",
			Suggestion: "Your workflow is ready to be saved and deployed.",
		})
	}

	return findings
}

// Validate checks a graph against the structural rules only, without
// consulting a node registry.
func Validate(g *models.Graph) []models.Finding {
	return New(nil).Validate(g)
}

// HasErrors reports whether any finding has error severity.
func HasErrors(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityError {
			return true
		}
	}

	return false
}

func hasIssues(findings []models.Finding) bool {
	for _, f := range findings {
		if f.Severity == models.SeverityError || f.Severity == models.SeverityWarning {
			return true
		}
	}

	return false
}

func noStart(g *models.Graph) *models.Finding {
	if len(g.NodesOfType(models.NodeTypeStart)) > 0 {
		return nil
	}

	return &models.Finding{
		ID:         FindingNoStart,
		Severity:   models.SeverityError,
		Message:    "Workflow must have a start node.",
		Suggestion: "Add a Start node to define where the workflow begins.",
	}
}

func noEnd(g *models.Graph) *models.Finding {
	if len(g.NodesOfType(models.NodeTypeEnd)) > 0 {
		return nil
	}

	return &models.Finding{
		ID:         FindingNoEnd,
		Severity:   models.SeverityWarning,
		Message:    "Workflow should have an end node.",
		Suggestion: "Add an End node to mark where the workflow completes.",
	}
}

// orphanedElements flags nodes that may not take part in the flow. Without
// edges every node other than start and end is suspect; with edges the check
// becomes exact: nodes unreachable from a start node and non-end nodes
// without an outgoing edge are flagged.
func orphanedElements(g *models.Graph) *models.Finding {
	if len(g.Nodes) <= 1 {
		return nil
	}

	var ids []string

	if !g.HasEdges() {
		for _, node := range g.Nodes {
			if node.Type != models.NodeTypeStart && node.Type != models.NodeTypeEnd {
				ids = append(ids, node.ID)
			}
		}
	} else {
		reachable := reachableFromStart(g)

		for _, node := range g.Nodes {
			if _, ok := reachable[node.ID]; !ok {
				ids = append(ids, node.ID)

				continue
			}

			if node.Type != models.NodeTypeEnd && len(g.Outgoing(node.ID)) == 0 {
				ids = append(ids, node.ID)
			}
		}
	}

	if len(ids) == 0 {
		return nil
	}

	return &models.Finding{
		ID:         FindingOrphanedElements,
		Severity:   models.SeverityWarning,
		Message:    fmt.Sprintf("%d %s may not be connected to the workflow flow.", len(ids), plural(len(ids), "element", "elements")),
		Suggestion: "Ensure all elements are properly connected in the workflow sequence.",
		NodeIDs:    ids,
	}
}

func reachableFromStart(g *models.Graph) map[string]struct{} {
	seen := make(map[string]struct{}, len(g.Nodes))

	var queue []string

	for _, start := range g.NodesOfType(models.NodeTypeStart) {
		seen[start.ID] = struct{}{}
		queue = append(queue, start.ID)
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range g.Outgoing(current) {
			if _, ok := seen[edge.Target]; ok {
				continue
			}

			seen[edge.Target] = struct{}{}
			queue = append(queue, edge.Target)
		}
	}

	return seen
}

func unconfiguredDecisions(g *models.Graph) *models.Finding {
	var ids []string

	for _, node := range g.NodesOfType(models.NodeTypeDecision) {
		if strings.TrimSpace(conditionValue(node)) == "" {
			ids = append(ids, node.ID)
		}
	}

	if len(ids) == 0 {
		return nil
	}

	return &models.Finding{
		ID:         FindingUnconfiguredDecisions,
		Severity:   models.SeverityError,
		Message:    fmt.Sprintf("%d decision %s need%s configuration.", len(ids), plural(len(ids), "point", "points"), plural(len(ids), "s", "")),
		Suggestion: "Configure conditions for all decision points in the properties panel.",
		NodeIDs:    ids,
	}
}

// unconfiguredElements flags nodes whose params fail their registry schema.
// A decision whose only gap is its condition value is already covered by the
// unconfigured-decisions error.
func unconfiguredElements(reg *registry.Registry) rule {
	return func(g *models.Graph) *models.Finding {
		var ids []string

		for _, node := range g.Nodes {
			problems, err := reg.CheckParams(node.Type, node.Params)
			if err != nil || len(problems) == 0 {
				continue
			}

			if node.Type == models.NodeTypeDecision && strings.TrimSpace(conditionValue(node)) == "" && onlyConditionValue(problems) {
				continue
			}

			ids = append(ids, node.ID)
		}

		if len(ids) == 0 {
			return nil
		}

		return &models.Finding{
			ID:         FindingUnconfiguredElements,
			Severity:   models.SeverityWarning,
			Message:    fmt.Sprintf("%d %s missing required parameters.", len(ids), plural(len(ids), "element is", "elements are")),
			Suggestion: "Fill in the required fields of each element in the properties panel.",
			NodeIDs:    ids,
		}
	}
}

func conditionValue(node *models.Node) string {
	canonical := &models.Node{Params: registry.Canonicalize(node.Type, node.Params)}

	return canonical.StringParam("conditionValue")
}

func onlyConditionValue(problems []string) bool {
	for _, p := range problems {
		if !strings.Contains(p, "conditionValue") {
			return false
		}
	}

	return true
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}

	return many
}
