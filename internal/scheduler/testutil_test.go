package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soundd/pkg/types"
)

// fakeEngine is a controllable generation engine. generateFn decides the
// outcome per call; block, when set, makes Generate wait until released so
// tests can pin the worker mid-job.
type fakeEngine struct {
	mu       sync.Mutex
	loads    []types.ModelKind
	unloads  []types.ModelKind
	genCalls int

	generateFn func(call int, req GenerateRequest) (*types.GenerationResult, error)
	block      chan struct{}
	started    chan string

	loadErr error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{started: make(chan string, 16)}
}

func (f *fakeEngine) LoadModel(_ context.Context, kind types.ModelKind) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return f.loadErr
	}
	f.loads = append(f.loads, kind)
	return nil
}

func (f *fakeEngine) UnloadModel(_ context.Context, kind types.ModelKind) error {
	f.mu.Lock()
	f.unloads = append(f.unloads, kind)
	f.mu.Unlock()
	return nil
}

func (f *fakeEngine) Generate(ctx context.Context, req GenerateRequest) (*types.GenerationResult, error) {
	f.mu.Lock()
	f.genCalls++
	call := f.genCalls
	fn := f.generateFn
	block := f.block
	f.mu.Unlock()

	select {
	case f.started <- req.JobID:
	default:
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if fn != nil {
		return fn(call, req)
	}
	return &types.GenerationResult{ArtifactRef: "artifact/" + req.JobID}, nil
}

func (f *fakeEngine) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.genCalls
}

// staticTiers resolves every caller to the same tier unless an override is
// registered for the owner key.
type staticTiers struct {
	def       types.TierInfo
	overrides map[string]types.TierInfo
}

func (s staticTiers) Resolve(_ context.Context, caller types.Caller) (types.TierInfo, error) {
	if t, ok := s.overrides[caller.Key()]; ok {
		return t, nil
	}
	return s.def, nil
}

// countingQuota admits everything (or nothing) and records how often it was
// consulted.
type countingQuota struct {
	mu    sync.Mutex
	calls int
	deny  bool
}

func (q *countingQuota) CheckAndIncrement(context.Context, string, types.TierInfo) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.calls++
	return !q.deny, nil
}

func (q *countingQuota) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// fakeLedger tracks reservations so tests can assert exactly-once debits.
type fakeLedger struct {
	mu       sync.Mutex
	balance  int64
	commits  int
	releases int
}

func (l *fakeLedger) Reserve(_ context.Context, _ string, amount int64) (Reservation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.balance < amount {
		return nil, errors.New("broke")
	}
	return &fakeReservation{ledger: l, amount: amount}, nil
}

type fakeReservation struct {
	ledger *fakeLedger
	amount int64
}

func (r *fakeReservation) Commit(context.Context) (int64, error) {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	r.ledger.commits++
	r.ledger.balance -= r.amount
	return r.ledger.balance, nil
}

func (r *fakeReservation) Release(context.Context) error {
	r.ledger.mu.Lock()
	defer r.ledger.mu.Unlock()
	r.ledger.releases++
	return nil
}

func testTier(weight int) types.TierInfo {
	return types.TierInfo{
		Name:           "test",
		HourlyQuota:    1000,
		MaxDurationSec: 60,
		QueueSlots:     100,
		PriorityWeight: weight,
	}
}

func testCatalog() []types.ModelSpec {
	return []types.ModelSpec{
		{Kind: types.KindMusic, MemMB: 10},
		{Kind: types.KindAudio, MemMB: 10},
		{Kind: types.KindMagnet, MemMB: 10},
		{Kind: types.KindVoice, MemMB: 10},
	}
}

type testDeps struct {
	engine *fakeEngine
	quota  *countingQuota
	ledger *fakeLedger
	tiers  staticTiers
}

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *testDeps) {
	t.Helper()
	deps := &testDeps{
		engine: newFakeEngine(),
		quota:  &countingQuota{},
		ledger: &fakeLedger{balance: 1000},
		tiers:  staticTiers{def: testTier(1), overrides: map[string]types.TierInfo{}},
	}
	if cfg.Catalog == nil {
		cfg.Catalog = testCatalog()
	}
	s := New(deps.engine, deps.tiers, deps.quota, deps.ledger, nil, cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	return s, deps
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func mustSubmit(t *testing.T, s *Scheduler, caller types.Caller, req types.SubmitRequest) types.SubmitResponse {
	t.Helper()
	resp, err := s.Submit(context.Background(), caller, req)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return resp
}

func musicReq() types.SubmitRequest {
	return types.SubmitRequest{Kind: types.KindMusic, Prompt: "lofi beats", DurationSec: 10}
}
