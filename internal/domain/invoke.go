package domain

// InvokeResult is the structured outcome of one agent invocation. A
// failure here is a step failure handled by the run policy, not an
// infrastructure error.
type InvokeResult struct {
	Success      bool           `json:"success"`
	Output       map[string]any `json:"output,omitempty"`
	ErrorMessage string         `json:"error,omitempty"`
}
