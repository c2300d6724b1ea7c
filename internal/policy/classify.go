package policy

import (
	"strings"

	"apiary/internal/plan"
)

// irreversiblePatterns mark goals whose effects cannot be rolled back.
// They take precedence over read-only patterns.
var irreversiblePatterns = []string{
	"deploy", "production", "migrat", "delete", "drop ",
	"publish", "release", "send ",
}

// readOnlyPatterns mark purely observational goals.
var readOnlyPatterns = []string{
	"read ", "list ", "view ", "analyze", "analyse", "inspect",
	"report", "audit", "search", "summarize", "summarise", "investigate",
}

// ClassifyGoal classifies a goal's risk by keyword. Anything neither clearly
// irreversible nor clearly read-only defaults to reversible.
func ClassifyGoal(goal string) ActionClass {
	lowered := strings.ToLower(goal)
	for _, p := range irreversiblePatterns {
		if strings.Contains(lowered, p) {
			return Irreversible
		}
	}
	for _, p := range readOnlyPatterns {
		if strings.Contains(lowered, p) {
			return ReadOnly
		}
	}
	return Reversible
}

// ClassifyPlan returns the maximum risk across all tasks in the plan.
func ClassifyPlan(p plan.Plan) ActionClass {
	class := ReadOnly
	if len(p.Tasks) == 0 {
		return Reversible
	}
	for _, t := range p.Tasks {
		class = MaxClass(class, ClassifyGoal(t.Goal))
	}
	return class
}

// EvaluatePlan classifies the plan and runs the verdict through the gate.
func (g Gate) EvaluatePlan(p plan.Plan, trust TrustLevel) (ActionClass, Decision) {
	class := ClassifyPlan(p)
	return class, g.Evaluate(class, trust)
}
