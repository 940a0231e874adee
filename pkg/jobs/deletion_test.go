package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/hookq/pkg/email"
	"github.com/mihaimyh/hookq/pkg/hookq"
	memorystore "github.com/mihaimyh/hookq/store/memory"
)

type fakeSender struct {
	sent []email.Message
	err  error
}

func (f *fakeSender) Send(ctx context.Context, msg email.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func TestDeletionHandler_ProcessDeletions(t *testing.T) {
	store := memorystore.New()
	now := time.Now().UTC()
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_due",
		Email:        "due@example.com",
		ScheduledFor: now.Add(-time.Hour),
	})
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_future",
		Email:        "future@example.com",
		ScheduledFor: now.Add(24 * time.Hour),
	})

	sender := &fakeSender{}
	h, err := NewDeletionHandler(DeletionConfig{Store: store, Email: sender, AppBaseURL: "https://app.example.com"})
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), &hookq.Job{Name: hookq.JobProcessDeletions})
	require.NoError(t, err)
	assert.Equal(t, hookq.DeletionResult{AccountsDeleted: 1, EmailsSent: 1}, result)

	assert.Equal(t, []string{"user_due"}, store.DeletedAccounts())
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "due@example.com", sender.sent[0].To)
}

func TestDeletionHandler_NilSenderSkipsEmails(t *testing.T) {
	store := memorystore.New()
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_due",
		Email:        "due@example.com",
		ScheduledFor: time.Now().UTC().Add(-time.Hour),
	})

	h, err := NewDeletionHandler(DeletionConfig{Store: store})
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), &hookq.Job{Name: hookq.JobProcessDeletions})
	require.NoError(t, err)
	assert.Equal(t, hookq.DeletionResult{AccountsDeleted: 1, EmailsSkipped: 1}, result)
	assert.Equal(t, []string{"user_due"}, store.DeletedAccounts())
}

func TestDeletionHandler_NoticeFailureDoesNotFailJob(t *testing.T) {
	store := memorystore.New()
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_due",
		Email:        "due@example.com",
		ScheduledFor: time.Now().UTC().Add(-time.Hour),
	})

	sender := &fakeSender{err: errors.New("smtp down")}
	h, err := NewDeletionHandler(DeletionConfig{Store: store, Email: sender})
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), &hookq.Job{Name: hookq.JobProcessDeletions})
	require.NoError(t, err, "the account is already deleted; a failed notice must not retry the job")
	assert.Equal(t, hookq.DeletionResult{AccountsDeleted: 1, EmailsSkipped: 1}, result)
}

func TestDeletionHandler_SendReminders(t *testing.T) {
	store := memorystore.New()
	now := time.Now().UTC()
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_soon",
		Email:        "soon@example.com",
		ScheduledFor: now.Add(2 * 24 * time.Hour),
	})
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_far",
		Email:        "far@example.com",
		ScheduledFor: now.Add(10 * 24 * time.Hour),
	})

	sender := &fakeSender{}
	h, err := NewDeletionHandler(DeletionConfig{Store: store, Email: sender, AppBaseURL: "https://app.example.com"})
	require.NoError(t, err)

	result, err := h.Handle(context.Background(), &hookq.Job{Name: hookq.JobSendReminders})
	require.NoError(t, err)
	assert.Equal(t, hookq.DeletionResult{EmailsSent: 1}, result)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "soon@example.com", sender.sent[0].To)

	// Reminded accounts are not reminded again on the next run.
	result, err = h.Handle(context.Background(), &hookq.Job{Name: hookq.JobSendReminders})
	require.NoError(t, err)
	assert.Equal(t, hookq.DeletionResult{}, result)
	assert.Len(t, sender.sent, 1)
}

func TestDeletionHandler_ReminderFailureFailsJob(t *testing.T) {
	store := memorystore.New()
	store.AddAccountDeletion(hookq.AccountDeletion{
		UserID:       "user_soon",
		Email:        "soon@example.com",
		ScheduledFor: time.Now().UTC().Add(2 * 24 * time.Hour),
	})

	sender := &fakeSender{err: errors.New("smtp down")}
	h, err := NewDeletionHandler(DeletionConfig{Store: store, Email: sender})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &hookq.Job{Name: hookq.JobSendReminders})
	assert.ErrorContains(t, err, "smtp down")
}

func TestDeletionHandler_UnknownJobName(t *testing.T) {
	h, err := NewDeletionHandler(DeletionConfig{Store: memorystore.New()})
	require.NoError(t, err)

	_, err = h.Handle(context.Background(), &hookq.Job{Name: "mystery"})
	assert.Error(t, err)
}
