// Package ledger is the in-memory credit balance backing skip-to-front.
// Reservations hold funds without debiting so the scheduler can roll back
// when the queue promotion cannot happen.
package ledger

import (
	"context"
	"errors"
	"sync"

	"soundd/internal/scheduler"
)

// ErrInsufficientFunds is returned by Reserve when the balance cannot cover
// the hold.
var ErrInsufficientFunds = errors.New("insufficient funds")

// Memory is a process-local balance ledger keyed by owner key.
type Memory struct {
	mu       sync.Mutex
	balances map[string]int64
	reserved map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		balances: make(map[string]int64),
		reserved: make(map[string]int64),
	}
}

// Deposit credits an owner's balance.
func (m *Memory) Deposit(ownerKey string, amount int64) {
	m.mu.Lock()
	m.balances[ownerKey] += amount
	m.mu.Unlock()
}

// Balance returns the available (unreserved) balance.
func (m *Memory) Balance(ownerKey string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[ownerKey] - m.reserved[ownerKey]
}

// Reserve holds amount against the owner's available balance. The hold is
// resolved by exactly one Commit or Release on the returned reservation.
func (m *Memory) Reserve(_ context.Context, ownerKey string, amount int64) (scheduler.Reservation, error) {
	if amount < 0 {
		return nil, errors.New("negative reservation")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.balances[ownerKey]-m.reserved[ownerKey] < amount {
		return nil, ErrInsufficientFunds
	}
	m.reserved[ownerKey] += amount
	return &reservation{ledger: m, ownerKey: ownerKey, amount: amount}, nil
}

type reservation struct {
	ledger   *Memory
	ownerKey string
	amount   int64
	resolved bool
}

func (r *reservation) Commit(context.Context) (int64, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.resolved {
		return 0, errors.New("reservation already resolved")
	}
	r.resolved = true
	r.ledger.reserved[r.ownerKey] -= r.amount
	r.ledger.balances[r.ownerKey] -= r.amount
	return r.ledger.balances[r.ownerKey] - r.ledger.reserved[r.ownerKey], nil
}

func (r *reservation) Release(context.Context) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	if r.resolved {
		return errors.New("reservation already resolved")
	}
	r.resolved = true
	r.ledger.reserved[r.ownerKey] -= r.amount
	return nil
}
