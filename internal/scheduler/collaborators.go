package scheduler

import (
	"context"

	"soundd/pkg/types"
)

// TierResolver maps a caller identity to its subscription tier profile.
type TierResolver interface {
	Resolve(ctx context.Context, caller types.Caller) (types.TierInfo, error)
}

// QuotaCounter is the stateful hourly rate limiter consulted at admission.
// CheckAndIncrement returns false when the caller's quota window is spent;
// on true the submission has been counted.
type QuotaCounter interface {
	CheckAndIncrement(ctx context.Context, ownerKey string, tier types.TierInfo) (bool, error)
}

// BalanceLedger funds skip-to-front. Reserve holds the fee without debiting;
// the scheduler commits after the queue promotion succeeds and releases the
// hold when it does not.
type BalanceLedger interface {
	Reserve(ctx context.Context, ownerKey string, amount int64) (Reservation, error)
}

// Reservation is a held balance amount. Exactly one of Commit or Release is
// called per reservation.
type Reservation interface {
	// Commit debits the held amount and returns the remaining balance.
	Commit(ctx context.Context) (int64, error)
	Release(ctx context.Context) error
}

// Archiver consumes terminal job records for durable storage. The scheduler
// hands off and forgets; Archive errors are logged, never propagated to the
// job outcome.
type Archiver interface {
	Archive(ctx context.Context, snap types.JobSnapshot) error
}

// DiscardArchiver drops terminal records. Default when persistence is not
// wired.
type DiscardArchiver struct{}

func (DiscardArchiver) Archive(context.Context, types.JobSnapshot) error { return nil }
