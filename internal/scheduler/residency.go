package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"soundd/pkg/types"
)

// residencyEntry tracks one model currently loaded in accelerator memory.
type residencyEntry struct {
	kind     types.ModelKind
	lastUsed time.Time
	memMB    int
}

// residency decides which models live in accelerator memory. EnsureLoaded is
// called only from the worker's critical path, so at most one load/evict
// sequence runs at a time; the mutex protects concurrent snapshot reads from
// stats/status callers.
type residency struct {
	mu       sync.Mutex
	engine   Engine
	costs    map[types.ModelKind]int
	budgetMB int
	marginMB int
	idleTTL  time.Duration
	entries  map[types.ModelKind]*residencyEntry
	usedMB   int
	pub      EventPublisher
	log      zerolog.Logger
	now      func() time.Time
}

func newResidency(engine Engine, catalog []types.ModelSpec, budgetMB, marginMB int, idleTTL time.Duration, pub EventPublisher, log zerolog.Logger) *residency {
	costs := make(map[types.ModelKind]int, len(catalog))
	for _, m := range catalog {
		costs[m.Kind] = m.MemMB
	}
	return &residency{
		engine:   engine,
		costs:    costs,
		budgetMB: budgetMB,
		marginMB: marginMB,
		idleTTL:  idleTTL,
		entries:  make(map[types.ModelKind]*residencyEntry),
		pub:      pub,
		log:      log,
		now:      time.Now,
	}
}

// EnsureLoaded makes kind resident before a generation runs, evicting LRU
// idle models as needed. The required kind is never evicted to make room for
// itself; if it cannot fit even with everything else gone, the call fails
// fast instead of thrashing.
func (r *residency) EnsureLoaded(ctx context.Context, kind types.ModelKind) error {
	cost, ok := r.costs[kind]
	if !ok {
		return badRequestError{msg: fmt.Sprintf("model kind %q not in catalog", kind)}
	}
	if r.budgetMB > 0 && cost+r.marginMB > r.budgetMB {
		return modelTooLargeError{kind: kind, needMB: cost + r.marginMB, budgetMB: r.budgetMB}
	}

	r.mu.Lock()
	if e, resident := r.entries[kind]; resident {
		e.lastUsed = r.now()
		r.mu.Unlock()
		return nil
	}
	evicted := r.evictUntilFitsLocked(kind, cost)
	r.mu.Unlock()

	// Unloads and the load itself happen outside the lock; only the worker
	// reaches here, so the accounting above cannot race another load.
	for _, ev := range evicted {
		if err := r.engine.UnloadModel(ctx, ev); err != nil {
			r.log.Warn().Str("kind", string(ev)).Err(err).Msg("model unload failed")
		}
		modelEvictionsTotal.WithLabelValues(string(ev)).Inc()
		r.pub.Publish(Event{Name: "model_evicted", Kind: string(ev)})
	}

	start := r.now()
	if err := r.engine.LoadModel(ctx, kind); err != nil {
		return err
	}
	r.mu.Lock()
	r.entries[kind] = &residencyEntry{kind: kind, lastUsed: r.now(), memMB: cost}
	r.usedMB += cost
	residentMemMB.Set(float64(r.usedMB))
	r.mu.Unlock()
	modelLoadsTotal.WithLabelValues(string(kind)).Inc()
	r.pub.Publish(Event{Name: "model_loaded", Kind: string(kind), Fields: map[string]any{
		"mem_mb": cost,
		"dur_ms": int(r.now().Sub(start) / time.Millisecond),
	}})
	return nil
}

// evictUntilFitsLocked removes LRU entries (never the required kind) from the
// accounting until cost fits within budget+margin, returning the kinds whose
// engine unload is still owed. Caller holds r.mu.
func (r *residency) evictUntilFitsLocked(required types.ModelKind, cost int) []types.ModelKind {
	if r.budgetMB <= 0 {
		return nil
	}
	var evicted []types.ModelKind
	for r.usedMB+cost+r.marginMB > r.budgetMB {
		var lru *residencyEntry
		for _, e := range r.entries {
			if e.kind == required {
				continue
			}
			if lru == nil || e.lastUsed.Before(lru.lastUsed) {
				lru = e
			}
		}
		if lru == nil {
			break
		}
		delete(r.entries, lru.kind)
		r.usedMB -= lru.memMB
		evicted = append(evicted, lru.kind)
	}
	residentMemMB.Set(float64(r.usedMB))
	return evicted
}

// Touch refreshes the LRU clock for kind after a generation finished with it.
func (r *residency) Touch(kind types.ModelKind) {
	r.mu.Lock()
	if e, ok := r.entries[kind]; ok {
		e.lastUsed = r.now()
	}
	r.mu.Unlock()
}

// UnloadIdle opportunistically drops models unused for longer than the idle
// TTL. Called by the worker between jobs; correctness never depends on it.
func (r *residency) UnloadIdle(ctx context.Context) {
	if r.idleTTL <= 0 {
		return
	}
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	var stale []types.ModelKind
	for _, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			stale = append(stale, e.kind)
		}
	}
	for _, k := range stale {
		r.usedMB -= r.entries[k].memMB
		delete(r.entries, k)
	}
	residentMemMB.Set(float64(r.usedMB))
	r.mu.Unlock()
	for _, k := range stale {
		if err := r.engine.UnloadModel(ctx, k); err != nil {
			r.log.Warn().Str("kind", string(k)).Err(err).Msg("idle unload failed")
		}
		r.pub.Publish(Event{Name: "model_idle_unloaded", Kind: string(k)})
	}
}

// Snapshot lists resident models, oldest first.
func (r *residency) Snapshot() []types.ResidentModel {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.ResidentModel, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, types.ResidentModel{
			Kind:     e.kind,
			LastUsed: e.lastUsed.Unix(),
			MemMB:    e.memMB,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastUsed < out[j].LastUsed })
	return out
}
