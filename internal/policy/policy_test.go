package policy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"apiary/internal/plan"
	"apiary/internal/policy"
)

func TestGateReadOnlyAlwaysAllowed(t *testing.T) {
	g := policy.Gate{}
	for _, trust := range []policy.TrustLevel{
		policy.TrustSupervised, policy.TrustProposeConfirm, policy.TrustDelegated,
	} {
		assert.Equal(t, policy.Allow, g.Evaluate(policy.ReadOnly, trust), trust)
	}
}

func TestGateReversible(t *testing.T) {
	g := policy.Gate{}
	assert.Equal(t, policy.RequireApproval, g.Evaluate(policy.Reversible, policy.TrustSupervised))
	assert.Equal(t, policy.Allow, g.Evaluate(policy.Reversible, policy.TrustProposeConfirm))
	assert.Equal(t, policy.Allow, g.Evaluate(policy.Reversible, policy.TrustDelegated))
}

func TestGateIrreversible(t *testing.T) {
	g := policy.Gate{}
	assert.Equal(t, policy.Deny, g.Evaluate(policy.Irreversible, policy.TrustSupervised))
	assert.Equal(t, policy.RequireApproval, g.Evaluate(policy.Irreversible, policy.TrustProposeConfirm))
	assert.Equal(t, policy.Allow, g.Evaluate(policy.Irreversible, policy.TrustDelegated))

	strict := policy.Gate{DelegatedRequiresApproval: true}
	assert.Equal(t, policy.RequireApproval, strict.Evaluate(policy.Irreversible, policy.TrustDelegated))
}

func TestGateUnknownCombinationsConservative(t *testing.T) {
	g := policy.Gate{}
	assert.Equal(t, policy.RequireApproval, g.Evaluate("mystery", policy.TrustDelegated))
	assert.Equal(t, policy.RequireApproval, g.Evaluate(policy.Reversible, "mystery"))
}

func TestClassifyGoal(t *testing.T) {
	cases := map[string]policy.ActionClass{
		"deploy service to production":     policy.Irreversible,
		"run the database migration":       policy.Irreversible,
		"delete stale records":             policy.Irreversible,
		"publish the new release":          policy.Irreversible,
		"send the announcement email":      policy.Irreversible,
		"list open pull requests":          policy.ReadOnly,
		"analyze test coverage":            policy.ReadOnly,
		"inspect the scheduler internals":  policy.ReadOnly,
		"refactor the retry logic":         policy.Reversible,
		"write unit tests for the parser":  policy.Reversible,
		"deploy a read only status report": policy.Irreversible, // irreversible wins
	}
	for goal, want := range cases {
		assert.Equal(t, want, policy.ClassifyGoal(goal), goal)
	}
}

func TestClassifyPlanIsMaxRisk(t *testing.T) {
	p := plan.Plan{Tasks: []plan.Task{
		{ID: "a", Goal: "list services"},
		{ID: "b", Goal: "refactor handler"},
		{ID: "c", Goal: "deploy to production"},
	}}
	assert.Equal(t, policy.Irreversible, policy.ClassifyPlan(p))

	p.Tasks = p.Tasks[:2]
	assert.Equal(t, policy.Reversible, policy.ClassifyPlan(p))

	p.Tasks = p.Tasks[:1]
	assert.Equal(t, policy.ReadOnly, policy.ClassifyPlan(p))
}

func TestEvaluatePlan(t *testing.T) {
	g := policy.Gate{}
	p := plan.Plan{Tasks: []plan.Task{{ID: "a", Goal: "deploy to production"}}}
	class, decision := g.EvaluatePlan(p, policy.TrustSupervised)
	assert.Equal(t, policy.Irreversible, class)
	assert.Equal(t, policy.Deny, decision)
}
