// Package memory provides an in-memory hookq.Store for tests and local
// development.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/mihaimyh/hookq/pkg/hookq"
)

type logEntry struct {
	createdAt time.Time
}

type deletionEntry struct {
	deletion hookq.AccountDeletion
	deleted  bool
}

// Store implements hookq.Store in memory.
type Store struct {
	mu        sync.Mutex
	orgs      map[string]hookq.Organization
	logs      []logEntry
	deletions map[string]*deletionEntry
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		orgs:      make(map[string]hookq.Organization),
		deletions: make(map[string]*deletionEntry),
	}
}

// AddOrganization seeds a tenant. Test helper.
func (s *Store) AddOrganization(org hookq.Organization) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orgs[org.ID] = org
}

// AddAutomationLog seeds a log row with the given creation time. Test helper.
func (s *Store) AddAutomationLog(createdAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, logEntry{createdAt: createdAt})
}

// AddAccountDeletion seeds a scheduled deletion. Test helper.
func (s *Store) AddAccountDeletion(d hookq.AccountDeletion) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletions[d.UserID] = &deletionEntry{deletion: d}
}

// DeletedAccounts lists finalized deletions. Test helper.
func (s *Store) DeletedAccounts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for id, entry := range s.deletions {
		if entry.deleted {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) GetOrganization(ctx context.Context, id string) (*hookq.Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return nil, hookq.ErrOrganizationNotFound
	}
	return &org, nil
}

func (s *Store) PurgeAutomationLogs(ctx context.Context, olderThan time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var kept []logEntry
	var purged int64
	for _, entry := range s.logs {
		if entry.createdAt.Before(olderThan) {
			purged++
		} else {
			kept = append(kept, entry)
		}
	}
	s.logs = kept
	return purged, nil
}

func (s *Store) DueAccountDeletions(ctx context.Context, now time.Time) ([]hookq.AccountDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []hookq.AccountDeletion
	for _, entry := range s.deletions {
		if !entry.deleted && !entry.deletion.ScheduledFor.After(now) {
			out = append(out, entry.deletion)
		}
	}
	return out, nil
}

func (s *Store) MarkAccountDeleted(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.deletions[userID]; ok {
		entry.deleted = true
	}
	return nil
}

func (s *Store) UpcomingAccountDeletions(ctx context.Context, now time.Time, window time.Duration) ([]hookq.AccountDeletion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	limit := now.Add(window)
	var out []hookq.AccountDeletion
	for _, entry := range s.deletions {
		d := entry.deletion
		if entry.deleted || d.ReminderSentAt != nil {
			continue
		}
		if d.ScheduledFor.After(now) && !d.ScheduledFor.After(limit) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.deletions[userID]; ok {
		at := at
		entry.deletion.ReminderSentAt = &at
	}
	return nil
}
