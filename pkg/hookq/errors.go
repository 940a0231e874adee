package hookq

import "errors"

var (
	// ErrQueueClosed is returned when operating on a closed queue
	ErrQueueClosed = errors.New("queue closed")

	// ErrJobNotFound is returned when a job id has no backing record
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidSchedule is returned for a malformed cron pattern
	ErrInvalidSchedule = errors.New("invalid schedule pattern")

	// ErrOrganizationNotFound is returned when a tenant lookup misses
	ErrOrganizationNotFound = errors.New("organization not found")

	// ErrShutdownTimeout is returned when a graceful drain exceeds its deadline
	ErrShutdownTimeout = errors.New("shutdown timeout exceeded")

	// ErrWorkerClosed is returned when starting or closing an already-closed worker
	ErrWorkerClosed = errors.New("worker closed")
)
