// Package domain defines the core domain models for the workflow engine.
package domain

// StepType identifies the kind of a workflow step. The enum is open:
// unknown types are rejected at validation time, not at parse time.
type StepType string

const (
	StepTypeAgent StepType = "agent"
	StepTypeLoop  StepType = "loop"
	StepTypeGate  StepType = "gate"
)

// AgentDef is a named actor a step may delegate work to.
type AgentDef struct {
	ID     string `json:"id" yaml:"id"`
	Role   string `json:"role,omitempty" yaml:"role,omitempty"`
	Model  string `json:"model,omitempty" yaml:"model,omitempty"`
	Prompt string `json:"prompt,omitempty" yaml:"prompt,omitempty"`
}

// OnFailPolicy controls what happens when a step's invocation fails.
// RetryStep may name the step itself (in-place retry) or an earlier step
// (re-run a preceding stage). MaxRetries is the number of retries on top
// of the initial attempt; zero means fail on the first failure.
type OnFailPolicy struct {
	RetryStep  string `json:"retry_step" yaml:"retry_step"`
	MaxRetries int    `json:"max_retries" yaml:"max_retries"`
	Backoff    string `json:"backoff,omitempty" yaml:"backoff,omitempty"`
}

// LoopPolicy is present only on loop steps. After each invocation of the
// loop's agent, VerifyStep is executed; the loop repeats until it verifies
// or MaxIterations is exhausted.
type LoopPolicy struct {
	VerifyStep    string `json:"verify_step" yaml:"verify_step"`
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"`
}

// GatePolicy is present only on gate steps. A gate halts the run until an
// external actor resumes it.
type GatePolicy struct {
	Approvers []string `json:"approvers,omitempty" yaml:"approvers,omitempty"`
	Message   string   `json:"message,omitempty" yaml:"message,omitempty"`
}

// Step is one unit of work in a workflow. Variant payloads (OnFail, Loop,
// Gate) are pointers; validation rejects combinations that do not belong
// to the declared Type, so an accepted definition never carries loop
// fields on a gate step.
type Step struct {
	ID     string        `json:"id" yaml:"id"`
	Type   StepType      `json:"type" yaml:"type"`
	Agent  string        `json:"agent,omitempty" yaml:"agent,omitempty"`
	Prompt string        `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	OnFail *OnFailPolicy `json:"on_fail,omitempty" yaml:"on_fail,omitempty"`
	Loop   *LoopPolicy   `json:"loop,omitempty" yaml:"loop,omitempty"`
	Gate   *GatePolicy   `json:"gate,omitempty" yaml:"gate,omitempty"`
}

// WorkflowDefinition is a declarative multi-step pipeline spec. It is
// immutable once versioned: updates replace the whole document and bump
// Version.
type WorkflowDefinition struct {
	ID      string     `json:"id" yaml:"id"`
	Name    string     `json:"name" yaml:"name"`
	Version int        `json:"version" yaml:"version"`
	Agents  []AgentDef `json:"agents" yaml:"agents"`
	Steps   []Step     `json:"steps" yaml:"steps"`
}

// StepByID returns the step with the given id, or nil.
func (d *WorkflowDefinition) StepByID(id string) *Step {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i]
		}
	}
	return nil
}

// AgentByID returns the agent with the given id, or nil.
func (d *WorkflowDefinition) AgentByID(id string) *AgentDef {
	for i := range d.Agents {
		if d.Agents[i].ID == id {
			return &d.Agents[i]
		}
	}
	return nil
}

// StepIndex returns a step id -> position lookup table so runtime
// reference resolution never re-scans the step array.
func (d *WorkflowDefinition) StepIndex() map[string]int {
	idx := make(map[string]int, len(d.Steps))
	for i, s := range d.Steps {
		idx[s.ID] = i
	}
	return idx
}
