// Package tier holds the static subscription tier table and the resolver
// that maps caller identities onto it.
package tier

import (
	"context"
	"sync"

	"soundd/pkg/types"
)

// Built-in tier names.
const (
	Anonymous = "anonymous"
	Free      = "free"
	Plus      = "plus"
	Pro       = "pro"
)

// Defaults returns the built-in tier table. Values can be overridden from
// config.
func Defaults() []types.TierInfo {
	return []types.TierInfo{
		{Name: Anonymous, HourlyQuota: 5, MaxDurationSec: 15, QueueSlots: 2, PriorityWeight: 1},
		{Name: Free, HourlyQuota: 10, MaxDurationSec: 30, QueueSlots: 3, PriorityWeight: 1},
		{Name: Plus, HourlyQuota: 30, MaxDurationSec: 60, QueueSlots: 5, PriorityWeight: 3},
		{Name: Pro, HourlyQuota: 100, MaxDurationSec: 120, QueueSlots: 10, PriorityWeight: 5},
	}
}

// Policy is a pure lookup from tier name to its profile.
type Policy struct {
	tiers map[string]types.TierInfo
}

// NewPolicy builds a Policy from a tier table. Later entries with the same
// name win, so callers can append overrides to Defaults().
func NewPolicy(tiers []types.TierInfo) *Policy {
	m := make(map[string]types.TierInfo, len(tiers))
	for _, t := range tiers {
		m[t.Name] = t
	}
	return &Policy{tiers: m}
}

// Lookup returns the profile for name, falling back to the free tier and
// then to a minimal profile when the table is empty.
func (p *Policy) Lookup(name string) types.TierInfo {
	if t, ok := p.tiers[name]; ok {
		return t
	}
	if t, ok := p.tiers[Free]; ok {
		return t
	}
	return types.TierInfo{Name: Free, HourlyQuota: 10, MaxDurationSec: 30, QueueSlots: 3, PriorityWeight: 1}
}

// Resolver implements the scheduler's tier resolution contract against the
// static policy plus an assignment map of owner key to tier name. Anonymous
// callers always get the anonymous tier.
type Resolver struct {
	policy *Policy

	mu          sync.RWMutex
	assignments map[string]string
}

func NewResolver(policy *Policy, assignments map[string]string) *Resolver {
	if assignments == nil {
		assignments = make(map[string]string)
	}
	return &Resolver{policy: policy, assignments: assignments}
}

// Assign binds an owner key to a tier name.
func (r *Resolver) Assign(ownerKey, tierName string) {
	r.mu.Lock()
	r.assignments[ownerKey] = tierName
	r.mu.Unlock()
}

func (r *Resolver) Resolve(_ context.Context, caller types.Caller) (types.TierInfo, error) {
	if caller.Anonymous() {
		return r.policy.Lookup(Anonymous), nil
	}
	r.mu.RLock()
	name, ok := r.assignments[caller.Key()]
	r.mu.RUnlock()
	if !ok {
		name = Free
	}
	return r.policy.Lookup(name), nil
}
