package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/hookq/pkg/email"
	"github.com/mihaimyh/hookq/pkg/hookq"
)

// DefaultReminderWindow is how far ahead of a scheduled deletion the
// reminder email goes out.
const DefaultReminderWindow = 3 * 24 * time.Hour

// EmailSender is the optional outbound email collaborator.
type EmailSender interface {
	Send(ctx context.Context, msg email.Message) error
}

// DeletionConfig configures the deletion queue handler.
type DeletionConfig struct {
	// Store is the persistence collaborator (required).
	Store hookq.Store

	// Email is nil when no API key is configured; reminder sending then
	// degrades to a counted skip instead of failing the job.
	Email EmailSender

	// AppBaseURL is linked from reminder emails.
	AppBaseURL string

	// ReminderWindow overrides DefaultReminderWindow when positive.
	ReminderWindow time.Duration

	Logger hookq.Logger
}

// DeletionHandler processes the two deletion queue jobs. Like maintenance,
// it mutates shared tables and runs with concurrency 1.
type DeletionHandler struct {
	cfg DeletionConfig
}

// NewDeletionHandler creates the deletion handler.
func NewDeletionHandler(cfg DeletionConfig) (*DeletionHandler, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.ReminderWindow <= 0 {
		cfg.ReminderWindow = DefaultReminderWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = &hookq.NoopLogger{}
	}
	return &DeletionHandler{cfg: cfg}, nil
}

// Handle dispatches on the job name.
func (h *DeletionHandler) Handle(ctx context.Context, job *hookq.Job) (any, error) {
	switch job.Name {
	case hookq.JobProcessDeletions:
		return h.processDeletions(ctx)
	case hookq.JobSendReminders:
		return h.sendReminders(ctx)
	default:
		return nil, fmt.Errorf("unknown deletion job %q", job.Name)
	}
}

// processDeletions finalizes accounts whose grace period has elapsed and
// sends a deletion notice where email is configured.
func (h *DeletionHandler) processDeletions(ctx context.Context) (any, error) {
	now := time.Now().UTC()
	due, err := h.cfg.Store.DueAccountDeletions(ctx, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deletions: %w", err)
	}

	result := hookq.DeletionResult{}
	for _, d := range due {
		if err := h.cfg.Store.MarkAccountDeleted(ctx, d.UserID); err != nil {
			return nil, fmt.Errorf("failed to delete account %s: %w", d.UserID, err)
		}
		result.AccountsDeleted++

		if h.cfg.Email == nil || d.Email == "" {
			result.EmailsSkipped++
			continue
		}
		msg := email.Message{
			To:      d.Email,
			Subject: "Your account has been deleted",
			HTML:    fmt.Sprintf("<p>Your account and its data were permanently deleted as requested.</p><p><a href=%q>%s</a></p>", h.cfg.AppBaseURL, h.cfg.AppBaseURL),
		}
		if err := h.cfg.Email.Send(ctx, msg); err != nil {
			// The account is already gone; a failed notice is logged,
			// not retried through the whole job.
			h.cfg.Logger.Warn("deletion notice failed",
				hookq.Field{Key: "user_id", Value: d.UserID},
				hookq.Field{Key: "error", Value: err.Error()},
			)
			result.EmailsSkipped++
			continue
		}
		result.EmailsSent++
	}

	h.cfg.Logger.Info("deletions processed",
		hookq.Field{Key: "deleted", Value: result.AccountsDeleted},
		hookq.Field{Key: "emails_sent", Value: result.EmailsSent},
	)
	return result, nil
}

// sendReminders emails accounts approaching their deletion date.
func (h *DeletionHandler) sendReminders(ctx context.Context) (any, error) {
	now := time.Now().UTC()
	upcoming, err := h.cfg.Store.UpcomingAccountDeletions(ctx, now, h.cfg.ReminderWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming deletions: %w", err)
	}

	result := hookq.DeletionResult{}
	for _, d := range upcoming {
		if h.cfg.Email == nil || d.Email == "" {
			result.EmailsSkipped++
			continue
		}
		msg := email.Message{
			To:      d.Email,
			Subject: "Your account is scheduled for deletion",
			HTML: fmt.Sprintf(
				"<p>Your account will be permanently deleted on %s. Sign in to cancel: <a href=%q>%s</a></p>",
				d.ScheduledFor.Format("2006-01-02"), h.cfg.AppBaseURL, h.cfg.AppBaseURL,
			),
		}
		if err := h.cfg.Email.Send(ctx, msg); err != nil {
			return nil, fmt.Errorf("failed to send reminder to %s: %w", d.UserID, err)
		}
		if err := h.cfg.Store.MarkReminderSent(ctx, d.UserID, now); err != nil {
			return nil, fmt.Errorf("failed to mark reminder for %s: %w", d.UserID, err)
		}
		result.EmailsSent++
	}

	h.cfg.Logger.Info("deletion reminders sent",
		hookq.Field{Key: "emails_sent", Value: result.EmailsSent},
		hookq.Field{Key: "emails_skipped", Value: result.EmailsSkipped},
	)
	return result, nil
}
