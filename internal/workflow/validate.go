// Package workflow implements the workflow definition store, the step
// evaluator, and the run state machine.
package workflow

import (
	"github.com/agentboard/orchestrator/internal/domain"
)

// Validate checks the structural invariants of a definition. A definition
// that fails validation is never persisted or cached. The returned error
// is a *domain.ValidationError naming the violated invariant.
func Validate(def *domain.WorkflowDefinition) error {
	if def.ID == "" {
		return domain.Validation("id", "is required")
	}
	if def.Name == "" {
		return domain.Validation("name", "is required")
	}
	if def.Version <= 0 {
		return domain.Validation("version", "must be a positive integer")
	}
	if len(def.Agents) == 0 {
		return domain.Validation("agents", "at least one agent must be declared")
	}
	if len(def.Steps) == 0 {
		return domain.Validation("steps", "at least one step must be declared")
	}

	agents := make(map[string]bool, len(def.Agents))
	for _, a := range def.Agents {
		if a.ID == "" {
			return domain.Validation("agents", "agent id is required")
		}
		if agents[a.ID] {
			return domain.Validation("agents", "duplicate agent id %q", a.ID)
		}
		agents[a.ID] = true
	}

	steps := make(map[string]int, len(def.Steps))
	for i, s := range def.Steps {
		if s.ID == "" {
			return domain.Validation("steps", "step id is required")
		}
		if _, ok := steps[s.ID]; ok {
			return domain.Validation("steps", "duplicate step id %q", s.ID)
		}
		steps[s.ID] = i
	}

	for i := range def.Steps {
		if err := validateStep(&def.Steps[i], i, agents, steps); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(s *domain.Step, pos int, agents map[string]bool, steps map[string]int) error {
	switch s.Type {
	case domain.StepTypeAgent:
		if s.Loop != nil {
			return domain.Validation("steps."+s.ID, "agent step must not carry a loop policy")
		}
		if s.Gate != nil {
			return domain.Validation("steps."+s.ID, "agent step must not carry a gate policy")
		}
	case domain.StepTypeLoop:
		if s.Loop == nil {
			return domain.Validation("steps."+s.ID, "loop step requires a loop policy")
		}
		if s.Gate != nil {
			return domain.Validation("steps."+s.ID, "loop step must not carry a gate policy")
		}
	case domain.StepTypeGate:
		if s.Agent != "" {
			return domain.Validation("steps."+s.ID, "gate step must not reference an agent")
		}
		if s.Loop != nil {
			return domain.Validation("steps."+s.ID, "gate step must not carry a loop policy")
		}
		if s.OnFail != nil {
			return domain.Validation("steps."+s.ID, "gate step must not carry an on_fail policy")
		}
	default:
		return domain.Validation("steps."+s.ID, "unknown step type %q", s.Type)
	}

	if s.Type == domain.StepTypeAgent || s.Type == domain.StepTypeLoop {
		if s.Agent == "" {
			return domain.Validation("steps."+s.ID, "agent is required")
		}
		if !agents[s.Agent] {
			return domain.Validation("steps."+s.ID, "references undeclared agent %q", s.Agent)
		}
	}
	if s.OnFail != nil {
		if s.OnFail.RetryStep == "" {
			return domain.Validation("steps."+s.ID, "on_fail.retry_step is required")
		}
		retryPos, ok := steps[s.OnFail.RetryStep]
		if !ok {
			return domain.Validation("steps."+s.ID, "on_fail.retry_step references unknown step %q", s.OnFail.RetryStep)
		}
		// Retrying forward would skip steps and leave the failed record
		// non-terminal.
		if retryPos > pos {
			return domain.Validation("steps."+s.ID, "on_fail.retry_step must be the step itself or an earlier step")
		}
		if s.OnFail.MaxRetries < 0 {
			return domain.Validation("steps."+s.ID, "on_fail.max_retries must not be negative")
		}
	}
	if s.Loop != nil {
		if s.Loop.VerifyStep == "" {
			return domain.Validation("steps."+s.ID, "loop.verify_step is required")
		}
		if _, ok := steps[s.Loop.VerifyStep]; !ok {
			return domain.Validation("steps."+s.ID, "loop.verify_step references unknown step %q", s.Loop.VerifyStep)
		}
		if s.Loop.VerifyStep == s.ID {
			return domain.Validation("steps."+s.ID, "loop.verify_step must not reference the loop itself")
		}
		if s.Loop.MaxIterations <= 0 {
			return domain.Validation("steps."+s.ID, "loop.max_iterations must be positive")
		}
	}
	return nil
}
