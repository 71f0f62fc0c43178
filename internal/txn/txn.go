// Package txn coordinates atomic units of work against the batch ledger with
// bounded retry on commit conflicts.
package txn

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bodegapos/backend/internal/store"
)

const (
	DefaultMaxAttempts = 5
	DefaultBackoff     = 25 * time.Millisecond
)

// Runner retries a unit of work from a fresh read whenever the ledger reports
// a conflict at commit. Exhausting the attempt budget surfaces a wrapped
// store.ErrConflict; callers should treat that as transient, not as success.
type Runner struct {
	atomic      store.Atomic
	maxAttempts int
	backoff     time.Duration
}

func NewRunner(atomic store.Atomic, maxAttempts int, backoff time.Duration) *Runner {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}
	if backoff < 0 {
		backoff = DefaultBackoff
	}
	return &Runner{atomic: atomic, maxAttempts: maxAttempts, backoff: backoff}
}

// Run executes fn inside RunAtomic. fn must be safe to re-execute: on each
// attempt it starts from a fresh consistent read and any writes from a failed
// attempt were never committed.
func (r *Runner) Run(ctx context.Context, fn func(store.Tx) error) error {
	for attempt := 1; ; attempt++ {
		err := r.atomic.RunAtomic(ctx, fn)
		if err == nil || !errors.Is(err, store.ErrConflict) {
			return err
		}
		if attempt >= r.maxAttempts {
			return fmt.Errorf("transaction conflict after %d attempts: %w", attempt, store.ErrConflict)
		}

		// Linear backoff keeps two colliding callers from re-colliding in
		// lockstep without stretching the worst case far.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.backoff * time.Duration(attempt)):
		}
	}
}
