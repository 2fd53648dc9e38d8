package workflow

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/valyala/fasttemplate"

	"github.com/agentboard/orchestrator/internal/domain"
)

// IsReady reports whether the run's current step can be attempted now.
// A run parked behind a retry backoff is not ready until NotBefore; the
// second return value carries that deadline so the scheduler can re-poll
// instead of spinning.
func IsReady(run *domain.WorkflowRun, now time.Time) (bool, *time.Time) {
	if run.NotBefore != nil && now.Before(*run.NotBefore) {
		return false, run.NotBefore
	}
	return true, nil
}

// Render substitutes named context values into a step's prompt template.
// Placeholders use {{key}} syntax; an unresolved placeholder is an error,
// so an agent is never handed a prompt with literal template tokens.
// Pure function: retried steps re-render from the current context.
func Render(template string, ctx map[string]any) (string, error) {
	if template == "" {
		return "", nil
	}
	t, err := fasttemplate.NewTemplate(template, "{{", "}}")
	if err != nil {
		return "", fmt.Errorf("bad prompt template: %w", err)
	}
	return t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		tag = strings.TrimSpace(tag)
		val, ok := ctx[tag]
		if !ok {
			return 0, fmt.Errorf("unresolved placeholder {{%s}}", tag)
		}
		return fmt.Fprintf(w, "%v", val)
	})
}
