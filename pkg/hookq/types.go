package hookq

import (
	"context"
	"time"
)

// Provider identifies the external system that delivered a webhook.
type Provider string

const (
	// ProviderStripe is the Stripe billing provider
	ProviderStripe Provider = "stripe"
	// ProviderAsaas is the Asaas payment provider
	ProviderAsaas Provider = "asaas"
	// ProviderCustom is the generic shared-secret webhook provider
	ProviderCustom Provider = "custom"
)

// Queue names. Each name maps to exactly one worker process type.
const (
	QueueWorkflow    = "workflow"
	QueueMaintenance = "maintenance"
	QueueDeletion    = "deletion"
)

// Job names recognized by the handlers in pkg/jobs.
const (
	JobEvaluateEvent       = "evaluate-event"
	JobPurgeAutomationLogs = "purge-automation-logs"
	JobProcessDeletions    = "process-deletions"
	JobSendReminders       = "send-reminders"
)

// NormalizedEvent is the canonical unit handed to the workflow queue.
// OrganizationID is always a resolved tenant identifier by the time this
// struct exists; attribution failures are handled at the router and never
// produce an event.
type NormalizedEvent struct {
	OrganizationID string            `json:"organizationId"`
	Provider       Provider          `json:"provider"`
	EventType      string            `json:"eventType"`
	Payload        map[string]any    `json:"payload"`
	Headers        map[string]string `json:"headers"`
	ReceivedAt     time.Time         `json:"receivedAt"`
}

// Job is a unit of durable work owned by a queue backend. Workers never
// mutate a job's identity, only report outcomes through Complete/Fail.
type Job struct {
	ID           string
	Queue        string
	Name         string
	Payload      []byte
	AttemptsMade int
	MaxAttempts  int
	CreatedAt    time.Time
	ScheduledFor time.Time // zero for immediate jobs
	LastError    string
}

// WorkflowResult is the success payload of an evaluate-event job.
type WorkflowResult struct {
	RulesEvaluated int `json:"rulesEvaluated"`
	RulesMatched   int `json:"rulesMatched"`
}

// MaintenanceResult is the success payload of a purge-automation-logs job.
type MaintenanceResult struct {
	LogsDeleted int64 `json:"logsDeleted"`
}

// DeletionResult is the success payload of the deletion queue jobs.
type DeletionResult struct {
	AccountsDeleted int `json:"accountsDeleted"`
	EmailsSent      int `json:"emailsSent"`
	EmailsSkipped   int `json:"emailsSkipped"`
}

// Organization is the tenant record exposed by the persistence collaborator.
type Organization struct {
	ID   string
	Name string
}

// AccountDeletion describes an account scheduled for deletion after a grace
// period.
type AccountDeletion struct {
	UserID         string
	OrganizationID string
	Email          string
	ScheduledFor   time.Time
	ReminderSentAt *time.Time
}

// Store is the persistence collaborator the job handlers call into. The
// schema behind it belongs to the host application; this subsystem only
// reads organizations and mutates maintenance/deletion bookkeeping.
type Store interface {
	// GetOrganization returns ErrOrganizationNotFound for unknown ids.
	GetOrganization(ctx context.Context, id string) (*Organization, error)

	// PurgeAutomationLogs deletes automation log rows older than the cutoff
	// and returns the number of rows removed.
	PurgeAutomationLogs(ctx context.Context, olderThan time.Time) (int64, error)

	// DueAccountDeletions lists accounts whose deletion grace period has
	// elapsed as of now.
	DueAccountDeletions(ctx context.Context, now time.Time) ([]AccountDeletion, error)

	// MarkAccountDeleted finalizes a due deletion.
	MarkAccountDeleted(ctx context.Context, userID string) error

	// UpcomingAccountDeletions lists accounts whose deletion falls inside
	// (now, now+window] and that have not been reminded yet.
	UpcomingAccountDeletions(ctx context.Context, now time.Time, window time.Duration) ([]AccountDeletion, error)

	// MarkReminderSent records that a reminder email went out.
	MarkReminderSent(ctx context.Context, userID string, at time.Time) error
}
