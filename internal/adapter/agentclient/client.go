// Package agentclient provides the HTTP implementation of the agent
// invocation adapter: it hands a rendered prompt to the agent runner
// service and streams SSE events until the invocation settles.
package agentclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/agentboard/orchestrator/internal/domain"
)

// SSEEvent represents a parsed SSE event.
type SSEEvent struct {
	Event string
	Data  string
}

// InvokeRequest is the body posted to the agent runner's /invoke endpoint.
type InvokeRequest struct {
	AgentID string         `json:"agent_id"`
	Role    string         `json:"role,omitempty"`
	Model   string         `json:"model,omitempty"`
	Prompt  string         `json:"prompt"`
	Context map[string]any `json:"context,omitempty"`
}

type doneEventData struct {
	Output       map[string]any `json:"output,omitempty"`
	FinalMessage string         `json:"final_message,omitempty"`
}

type errorEventData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Client invokes agents over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new agent client for the given runner base URL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Invoke posts the prompt to the agent runner and consumes its SSE stream.
// A structured agent failure comes back as an unsuccessful result; only
// transport-level problems are returned as errors (the state machine
// converts both into step failures).
func (c *Client) Invoke(ctx context.Context, agent domain.AgentDef, prompt string, runCtx map[string]any) (*domain.InvokeResult, error) {
	body, err := json.Marshal(&InvokeRequest{
		AgentID: agent.ID,
		Role:    agent.Role,
		Model:   agent.Model,
		Prompt:  prompt,
		Context: runCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/invoke", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("X-Agent-ID", agent.ID)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to invoke agent: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("agent runner returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	result := &domain.InvokeResult{}
	var finalMessage strings.Builder
	err = parseSSE(resp.Body, func(event SSEEvent) error {
		switch event.Event {
		case "delta":
			finalMessage.WriteString(event.Data)
		case "done":
			var done doneEventData
			if err := json.Unmarshal([]byte(event.Data), &done); err != nil {
				return fmt.Errorf("failed to parse done event: %w", err)
			}
			result.Success = true
			result.Output = done.Output
			if result.Output == nil {
				msg := done.FinalMessage
				if msg == "" {
					msg = finalMessage.String()
				}
				result.Output = map[string]any{agent.ID + "_output": msg}
			}
		case "error":
			var errEvt errorEventData
			if err := json.Unmarshal([]byte(event.Data), &errEvt); err != nil {
				return fmt.Errorf("failed to parse error event: %w", err)
			}
			result.Success = false
			result.ErrorMessage = errEvt.Message
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !result.Success && result.ErrorMessage == "" {
		return nil, fmt.Errorf("agent stream ended without done or error event")
	}
	return result, nil
}

// parseSSE parses an SSE stream and calls the handler for each event.
func parseSSE(reader io.Reader, handler func(SSEEvent) error) error {
	scanner := bufio.NewScanner(reader)
	var event SSEEvent

	for scanner.Scan() {
		line := scanner.Text()

		// Empty line marks end of event
		if line == "" {
			if event.Event != "" || event.Data != "" {
				if err := handler(event); err != nil {
					return err
				}
				event = SSEEvent{}
			}
			continue
		}

		if strings.HasPrefix(line, "event:") {
			event.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		} else if strings.HasPrefix(line, "data:") {
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if event.Data != "" {
				event.Data += "\n" + data
			} else {
				event.Data = data
			}
		}
		// Ignore comments (lines starting with :) and other fields
	}

	if event.Event != "" || event.Data != "" {
		if err := handler(event); err != nil {
			return err
		}
	}

	return scanner.Err()
}
