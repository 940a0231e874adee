// Package jobs holds the per-queue processing logic: workflow rule
// evaluation, maintenance cleanup, and account-deletion handling. Each
// handler is a hookq.JobHandler over external collaborators.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// RulesEngine matches a normalized event against organization-scoped
// automation rules. It owns all business-rule semantics.
type RulesEngine interface {
	Evaluate(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error)
}

// RulesEngineFunc adapts a function to the RulesEngine interface.
type RulesEngineFunc func(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error)

func (f RulesEngineFunc) Evaluate(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
	return f(ctx, event)
}

// HTTPRulesEngine calls the host application's internal evaluation endpoint.
type HTTPRulesEngine struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRulesEngine creates an engine posting events to
// <baseURL>/internal/automations/evaluate.
func NewHTTPRulesEngine(baseURL string, client *http.Client) (*HTTPRulesEngine, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPRulesEngine{baseURL: baseURL, client: client}, nil
}

func (e *HTTPRulesEngine) Evaluate(ctx context.Context, event *hookq.NormalizedEvent) (hookq.WorkflowResult, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return hookq.WorkflowResult{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/internal/automations/evaluate", bytes.NewReader(body))
	if err != nil {
		return hookq.WorkflowResult{}, fmt.Errorf("failed to build evaluate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return hookq.WorkflowResult{}, fmt.Errorf("evaluate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return hookq.WorkflowResult{}, fmt.Errorf("rules engine returned %d: %s", resp.StatusCode, snippet)
	}

	var result hookq.WorkflowResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return hookq.WorkflowResult{}, fmt.Errorf("failed to decode evaluation result: %w", err)
	}
	return result, nil
}
