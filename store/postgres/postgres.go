// Package postgres implements hookq.Store on PostgreSQL via pgx. The schema
// belongs to the host application; this package only touches the
// organizations, automation_logs, and account_deletions tables.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

// Store implements hookq.Store using a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a postgres store over an existing pool. The pool is owned by
// the caller.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pgx pool is required")
	}
	return &Store{pool: pool}, nil
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*hookq.Organization, error) {
	var org hookq.Organization
	err := s.pool.QueryRow(ctx,
		`SELECT id, name FROM organizations WHERE id = $1`,
		id,
	).Scan(&org.ID, &org.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, hookq.ErrOrganizationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up organization: %w", err)
	}
	return &org, nil
}

func (s *Store) PurgeAutomationLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM automation_logs WHERE created_at < $1`,
		olderThan,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge automation logs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) DueAccountDeletions(ctx context.Context, now time.Time) ([]hookq.AccountDeletion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, organization_id, email, scheduled_for, reminder_sent_at
		 FROM account_deletions
		 WHERE scheduled_for <= $1 AND deleted_at IS NULL`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list due deletions: %w", err)
	}
	defer rows.Close()
	return scanDeletions(rows)
}

func (s *Store) MarkAccountDeleted(ctx context.Context, userID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE account_deletions SET deleted_at = now() WHERE user_id = $1 AND deleted_at IS NULL`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("failed to mark account deleted: %w", err)
	}
	return nil
}

func (s *Store) UpcomingAccountDeletions(ctx context.Context, now time.Time, window time.Duration) ([]hookq.AccountDeletion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, organization_id, email, scheduled_for, reminder_sent_at
		 FROM account_deletions
		 WHERE scheduled_for > $1 AND scheduled_for <= $2
		   AND reminder_sent_at IS NULL AND deleted_at IS NULL`,
		now, now.Add(window),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list upcoming deletions: %w", err)
	}
	defer rows.Close()
	return scanDeletions(rows)
}

func (s *Store) MarkReminderSent(ctx context.Context, userID string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE account_deletions SET reminder_sent_at = $2 WHERE user_id = $1`,
		userID, at,
	)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}
	return nil
}

func scanDeletions(rows pgx.Rows) ([]hookq.AccountDeletion, error) {
	var out []hookq.AccountDeletion
	for rows.Next() {
		var d hookq.AccountDeletion
		if err := rows.Scan(&d.UserID, &d.OrganizationID, &d.Email, &d.ScheduledFor, &d.ReminderSentAt); err != nil {
			return nil, fmt.Errorf("failed to scan deletion row: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read deletion rows: %w", err)
	}
	return out, nil
}
