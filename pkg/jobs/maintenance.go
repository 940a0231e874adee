package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// DefaultLogRetention is how long automation logs are kept before the daily
// purge removes them.
const DefaultLogRetention = 7 * 24 * time.Hour

// MaintenanceConfig configures the maintenance queue handler.
type MaintenanceConfig struct {
	// Store is the persistence collaborator (required).
	Store hookq.Store

	// Retention overrides DefaultLogRetention when positive.
	Retention time.Duration

	Logger hookq.Logger
}

// MaintenanceHandler processes purge-automation-logs jobs. It mutates
// shared log tables in bulk, so its worker runs with concurrency 1.
type MaintenanceHandler struct {
	cfg MaintenanceConfig
}

// NewMaintenanceHandler creates the maintenance handler.
func NewMaintenanceHandler(cfg MaintenanceConfig) (*MaintenanceHandler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultLogRetention
	}
	if cfg.Logger == nil {
		cfg.Logger = &hookq.NoopLogger{}
	}
	return &MaintenanceHandler{cfg: cfg}, nil
}

// Handle purges automation logs older than the retention window and reports
// the deleted-row count.
func (h *MaintenanceHandler) Handle(ctx context.Context, job *hookq.Job) (any, error) {
	cutoff := time.Now().UTC().Add(-h.cfg.Retention)
	deleted, err := h.cfg.Store.PurgeAutomationLogs(ctx, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to purge automation logs: %w", err)
	}

	h.cfg.Logger.Info("automation logs purged",
		hookq.Field{Key: "job_id", Value: job.ID},
		hookq.Field{Key: "cutoff", Value: cutoff},
		hookq.Field{Key: "deleted", Value: deleted},
	)
	return hookq.MaintenanceResult{LogsDeleted: deleted}, nil
}
