package ports

import (
	"context"
	"time"
)

// AttemptState is the current brute-force envelope for one identity key.
type AttemptState struct {
	// FailureCount is the number of failures inside the sliding window after
	// lazy pruning.
	FailureCount int
	// LockedUntil is non-nil while the identity is locked.
	LockedUntil *time.Time
}

// Locked reports whether the identity is locked at the given instant.
func (s AttemptState) Locked(now time.Time) bool {
	return s.LockedUntil != nil && now.Before(*s.LockedUntil)
}

// AttemptGuard is the per-identity failed-attempt counter with time-boxed
// lockout. Mutations are atomic per key: two concurrent failures may
// double-lock harmlessly but can never lose an increment.
type AttemptGuard interface {
	// Check is called before password verification; a locked result rejects
	// the attempt without touching the hasher.
	Check(ctx context.Context, identity string) (AttemptState, error)
	// RecordFailure prunes failures older than the window, appends now, and
	// locks the identity once the pruned count reaches the threshold.
	RecordFailure(ctx context.Context, identity string, now time.Time) (AttemptState, error)
	// RecordSuccess clears all failure history and any lock.
	RecordSuccess(ctx context.Context, identity string) error
}
