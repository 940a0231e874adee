package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// WorkflowConfig configures the workflow queue handler.
type WorkflowConfig struct {
	// Engine evaluates events (required).
	Engine RulesEngine

	// GCInterval triggers a garbage-collection hint every N completed
	// jobs, bounding per-job memory growth in long-running workers.
	// 0 disables the hint; it is not a correctness requirement.
	GCInterval int

	Logger hookq.Logger
}

// WorkflowHandler processes evaluate-event jobs from the workflow queue.
type WorkflowHandler struct {
	cfg       WorkflowConfig
	completed atomic.Uint64
}

// NewWorkflowHandler creates the workflow handler.
func NewWorkflowHandler(cfg WorkflowConfig) (*WorkflowHandler, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("rules engine is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = &hookq.NoopLogger{}
	}
	return &WorkflowHandler{cfg: cfg}, nil
}

// Handle evaluates one normalized event against the rules engine and
// reports evaluation counts.
func (h *WorkflowHandler) Handle(ctx context.Context, job *hookq.Job) (any, error) {
	var event hookq.NormalizedEvent
	if err := json.Unmarshal(job.Payload, &event); err != nil {
		return nil, fmt.Errorf("failed to unmarshal event payload: %w", err)
	}

	result, err := h.cfg.Engine.Evaluate(ctx, &event)
	if err != nil {
		return nil, fmt.Errorf("rule evaluation failed for organization %s: %w", event.OrganizationID, err)
	}

	h.cfg.Logger.Debug("event evaluated",
		hookq.Field{Key: "organization_id", Value: event.OrganizationID},
		hookq.Field{Key: "event_type", Value: event.EventType},
		hookq.Field{Key: "rules_evaluated", Value: result.RulesEvaluated},
		hookq.Field{Key: "rules_matched", Value: result.RulesMatched},
	)

	if h.cfg.GCInterval > 0 && h.completed.Add(1)%uint64(h.cfg.GCInterval) == 0 {
		runtime.GC()
	}

	return result, nil
}
