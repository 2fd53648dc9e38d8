// Package policy implements the workflow access-control check on top of
// OPA. The engine answers one question: may this actor perform this
// action on this workflow.
package policy

import (
	"context"
	"fmt"

	"github.com/open-policy-agent/opa/rego"
)

// Engine is the OPA policy engine backing the workflow ACL.
type Engine struct {
	query rego.PreparedEvalQuery
}

// NewEngine creates a new policy engine with the given rego policy content.
func NewEngine(ctx context.Context, policyContent string) (*Engine, error) {
	r := rego.New(
		rego.Query("data.workflow_acl.allow"),
		rego.Module("workflow_acl.rego", policyContent),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare rego: %w", err)
	}

	return &Engine{query: query}, nil
}

// evaluate runs the allow rule for one action. A policy with no matching
// rule denies; the shipped default policy allows everything.
func (e *Engine) evaluate(ctx context.Context, action, workflowID, actor string) (bool, error) {
	input := map[string]interface{}{
		"action":      action,
		"workflow_id": workflowID,
		"actor":       actor,
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, fmt.Errorf("failed to evaluate policy: %w", err)
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return false, nil
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok {
		return false, fmt.Errorf("policy returned non-boolean decision")
	}
	return allowed, nil
}

// CanStart reports whether the actor may start runs of the workflow.
func (e *Engine) CanStart(ctx context.Context, workflowID, actor string) (bool, error) {
	return e.evaluate(ctx, "start", workflowID, actor)
}

// CanResume reports whether the actor may resume blocked runs of the
// workflow.
func (e *Engine) CanResume(ctx context.Context, workflowID, actor string) (bool, error) {
	return e.evaluate(ctx, "resume", workflowID, actor)
}

// DefaultPolicy is the default ACL content: everyone may start and
// resume. Deployments override it via ACL_POLICY_FILE.
const DefaultPolicy = `
package workflow_acl

import rego.v1

default allow := false

allow if input.action == "start"

allow if input.action == "resume"
`
