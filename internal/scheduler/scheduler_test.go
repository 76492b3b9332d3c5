package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"soundd/pkg/types"
)

func TestSubmitValidationOrder(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	ctx := context.Background()
	owner := types.Caller{OwnerID: "u1"}

	_, err := s.Submit(ctx, owner, types.SubmitRequest{Kind: types.KindMusic, Prompt: "  ", DurationSec: 10})
	if !IsBadRequest(err) {
		t.Fatalf("empty prompt: want bad request, got %v", err)
	}
	_, err = s.Submit(ctx, owner, types.SubmitRequest{Kind: types.KindMusic, Prompt: "x", DurationSec: 0})
	if !IsBadRequest(err) {
		t.Fatalf("zero duration: want bad request, got %v", err)
	}
	_, err = s.Submit(ctx, owner, types.SubmitRequest{Kind: "theremin", Prompt: "x", DurationSec: 10})
	if !IsBadRequest(err) {
		t.Fatalf("unknown kind: want bad request, got %v", err)
	}
	_, err = s.Submit(ctx, types.Caller{}, musicReq())
	if !IsBadRequest(err) {
		t.Fatalf("missing identity: want bad request, got %v", err)
	}

	// Over the tier's 60s cap: rejected before the quota counter is touched.
	_, err = s.Submit(ctx, owner, types.SubmitRequest{Kind: types.KindMusic, Prompt: "x", DurationSec: 200})
	if !IsDurationLimit(err) {
		t.Fatalf("want duration limit, got %v", err)
	}
	if deps.quota.count() != 0 {
		t.Fatalf("rejected request consumed quota: %d calls", deps.quota.count())
	}

	if _, err := s.Submit(ctx, owner, musicReq()); err != nil {
		t.Fatalf("valid submit: %v", err)
	}
	if deps.quota.count() != 1 {
		t.Fatalf("quota calls: want 1 got %d", deps.quota.count())
	}
}

func TestSubmitQuotaExceeded(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.quota.deny = true
	_, err := s.Submit(context.Background(), types.Caller{OwnerID: "u1"}, musicReq())
	if !IsQuotaExceeded(err) {
		t.Fatalf("want quota exceeded, got %v", err)
	}
}

func TestSubmitSlotBudget(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.tiers.overrides["limited-user"] = types.TierInfo{
		Name: "limited", HourlyQuota: 100, MaxDurationSec: 60, QueueSlots: 1, PriorityWeight: 1,
	}
	caller := types.Caller{OwnerID: "limited-user"}
	ctx := context.Background()

	if _, err := s.Submit(ctx, caller, musicReq()); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err := s.Submit(ctx, caller, musicReq())
	if !IsSlotBudgetExhausted(err) {
		t.Fatalf("want slot budget exhausted, got %v", err)
	}
}

func TestSubmitAnonymousDeviceScoped(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	resp, err := s.Submit(context.Background(), types.Caller{DeviceID: "dev-7"}, musicReq())
	if err != nil {
		t.Fatalf("device submit: %v", err)
	}
	snap, err := s.Status(resp.JobID)
	if err != nil || snap.State != types.StateQueued {
		t.Fatalf("status: %+v err=%v", snap, err)
	}
}

func TestCancelQueuedReleasesSlot(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.tiers.overrides["limited-user"] = types.TierInfo{
		Name: "limited", HourlyQuota: 100, MaxDurationSec: 60, QueueSlots: 1, PriorityWeight: 1,
	}
	caller := types.Caller{OwnerID: "limited-user"}
	ctx := context.Background()

	resp := mustSubmit(t, s, caller, musicReq())
	if err := s.Cancel(ctx, resp.JobID, caller); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	snap, err := s.Status(resp.JobID)
	if err != nil || snap.State != types.StateCancelled {
		t.Fatalf("want cancelled snapshot, got %+v err=%v", snap, err)
	}
	// The slot freed by the cancel admits the next job.
	if _, err := s.Submit(ctx, caller, musicReq()); err != nil {
		t.Fatalf("submit after cancel: %v", err)
	}
}

func TestCancelErrors(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	ctx := context.Background()
	owner := types.Caller{OwnerID: "u1"}

	if err := s.Cancel(ctx, "missing", owner); !IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	resp := mustSubmit(t, s, owner, musicReq())
	if err := s.Cancel(ctx, resp.JobID, types.Caller{OwnerID: "intruder"}); !IsNotOwner(err) {
		t.Fatalf("want not owner, got %v", err)
	}
	if err := s.Cancel(ctx, resp.JobID, owner); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	// Terminal jobs are absorbing.
	if err := s.Cancel(ctx, resp.JobID, owner); !IsInvalidState(err) {
		t.Fatalf("cancel terminal: want invalid state, got %v", err)
	}
}

func TestCancelProcessingIsAdvisory(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.engine.block = make(chan struct{})
	s.Start()
	owner := types.Caller{OwnerID: "u1"}
	resp := mustSubmit(t, s, owner, musicReq())

	select {
	case <-deps.engine.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("generation never started")
	}

	if err := s.Cancel(context.Background(), resp.JobID, owner); err != nil {
		t.Fatalf("advisory cancel: %v", err)
	}
	snap, _ := s.Status(resp.JobID)
	if snap.State != types.StateProcessing || !snap.CancelRequested {
		t.Fatalf("want processing with cancel_requested, got %+v", snap)
	}

	close(deps.engine.block)
	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State == types.StateCompleted
	}, "job completion")

	snap, _ = s.Status(resp.JobID)
	if !snap.CancelRequested || snap.Result == nil {
		t.Fatalf("advisory cancel changed the outcome: %+v", snap)
	}
}

func TestWorkerProcessesByPriorityWithSkip(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.tiers.overrides["vip"] = types.TierInfo{
		Name: "vip", HourlyQuota: 100, MaxDurationSec: 60, QueueSlots: 10, PriorityWeight: 5,
	}
	ctx := context.Background()

	a := mustSubmit(t, s, types.Caller{OwnerID: "alice"}, musicReq())
	b := mustSubmit(t, s, types.Caller{OwnerID: "vip"}, musicReq())
	c := mustSubmit(t, s, types.Caller{OwnerID: "carol"}, musicReq())
	if _, err := s.Skip(ctx, c.JobID, types.Caller{OwnerID: "carol"}); err != nil {
		t.Fatalf("skip: %v", err)
	}

	s.Start()
	want := []string{c.JobID, b.JobID, a.JobID}
	for i, id := range want {
		select {
		case got := <-deps.engine.started:
			if got != id {
				t.Fatalf("processing order[%d]: want %s got %s", i, id, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("job %d never started", i)
		}
	}
}

func TestSkipDebitsExactlyOnce(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	ctx := context.Background()
	owner := types.Caller{OwnerID: "u1"}
	resp := mustSubmit(t, s, owner, musicReq()) // 10s clip: 5 credit fee

	ack, err := s.Skip(ctx, resp.JobID, owner)
	if err != nil {
		t.Fatalf("skip: %v", err)
	}
	if ack.Fee != 5 || ack.NewBalance != 995 || ack.Position != 1 {
		t.Fatalf("unexpected skip ack: %+v", ack)
	}

	if _, err := s.Skip(ctx, resp.JobID, owner); !IsAlreadySkipped(err) {
		t.Fatalf("second skip: want already skipped, got %v", err)
	}
	deps.ledger.mu.Lock()
	commits := deps.ledger.commits
	deps.ledger.mu.Unlock()
	if commits != 1 {
		t.Fatalf("balance debited %d times", commits)
	}
}

func TestSkipInsufficientBalance(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.ledger.balance = 1
	owner := types.Caller{OwnerID: "u1"}
	resp := mustSubmit(t, s, owner, musicReq())
	_, err := s.Skip(context.Background(), resp.JobID, owner)
	if !IsInsufficientBalance(err) {
		t.Fatalf("want insufficient balance, got %v", err)
	}
}

func TestSkipProcessingRejectedBeforeReserve(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.engine.block = make(chan struct{})
	defer close(deps.engine.block)
	s.Start()
	owner := types.Caller{OwnerID: "u1"}
	resp := mustSubmit(t, s, owner, musicReq())
	select {
	case <-deps.engine.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("generation never started")
	}

	_, err := s.Skip(context.Background(), resp.JobID, owner)
	if !IsInvalidState(err) {
		t.Fatalf("skip processing: want invalid state, got %v", err)
	}
	deps.ledger.mu.Lock()
	touched := deps.ledger.commits + deps.ledger.releases
	deps.ledger.mu.Unlock()
	if touched != 0 {
		t.Fatalf("ledger touched for an unpromotable job")
	}
}

func TestSkipNotOwner(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, musicReq())
	_, err := s.Skip(context.Background(), resp.JobID, types.Caller{OwnerID: "intruder"})
	if !IsNotOwner(err) {
		t.Fatalf("want not owner, got %v", err)
	}
}

func TestQueueFullThenRetrySucceeds(t *testing.T) {
	s, deps := newTestScheduler(t, Config{QueueCap: 2})
	deps.engine.block = make(chan struct{})
	s.Start()
	ctx := context.Background()
	owner := types.Caller{OwnerID: "u1"}

	first := mustSubmit(t, s, owner, musicReq())
	select {
	case <-deps.engine.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("first job never started")
	}

	mustSubmit(t, s, owner, musicReq())
	mustSubmit(t, s, owner, musicReq())
	if _, err := s.Submit(ctx, owner, musicReq()); !IsQueueFull(err) {
		t.Fatalf("want queue full, got %v", err)
	}

	close(deps.engine.block)
	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(first.JobID)
		return err == nil && snap.State == types.StateCompleted
	}, "first job completion")

	resp, err := s.Submit(ctx, owner, musicReq())
	if err != nil {
		t.Fatalf("retried submit after capacity freed: %v", err)
	}
	if resp.Position < 1 {
		t.Fatalf("retried submit got position %d", resp.Position)
	}
}

func TestRetryTransientThenSuccess(t *testing.T) {
	s, deps := newTestScheduler(t, Config{MaxRetries: 2})
	deps.engine.generateFn = func(call int, req GenerateRequest) (*types.GenerationResult, error) {
		if call <= 2 {
			return nil, Transient(errors.New("accelerator busy"))
		}
		return &types.GenerationResult{ArtifactRef: "ok"}, nil
	}
	s.Start()
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, musicReq())

	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State.Terminal()
	}, "terminal state")

	snap, _ := s.Status(resp.JobID)
	if snap.State != types.StateCompleted {
		t.Fatalf("want completed, got %+v", snap)
	}
	if snap.RetryCount != 2 {
		t.Fatalf("retry count: want 2 got %d", snap.RetryCount)
	}
}

func TestRetryLimitExhausted(t *testing.T) {
	s, deps := newTestScheduler(t, Config{MaxRetries: 1})
	deps.engine.generateFn = func(call int, req GenerateRequest) (*types.GenerationResult, error) {
		if call <= 2 {
			return nil, Transient(errors.New("accelerator busy"))
		}
		return &types.GenerationResult{ArtifactRef: "too late"}, nil
	}
	s.Start()
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, musicReq())

	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State.Terminal()
	}, "terminal state")

	snap, _ := s.Status(resp.JobID)
	if snap.State != types.StateFailed || snap.RetryCount != 1 {
		t.Fatalf("want failed with 1 retry, got %+v", snap)
	}
	if deps.engine.calls() != 2 {
		t.Fatalf("generate calls: want 2 got %d", deps.engine.calls())
	}
}

func TestPermanentFailureDoesNotRetry(t *testing.T) {
	s, deps := newTestScheduler(t, Config{MaxRetries: 3})
	deps.engine.generateFn = func(call int, req GenerateRequest) (*types.GenerationResult, error) {
		return nil, Permanent(errors.New("prompt rejected"))
	}
	s.Start()
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, musicReq())

	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State == types.StateFailed
	}, "failed state")

	if deps.engine.calls() != 1 {
		t.Fatalf("permanent error retried: %d calls", deps.engine.calls())
	}
}

func TestResidencyFailureFailsFast(t *testing.T) {
	s, deps := newTestScheduler(t, Config{
		BudgetMB: 20,
		Catalog: []types.ModelSpec{
			{Kind: types.KindMusic, MemMB: 10},
			{Kind: types.KindVoice, MemMB: 25},
		},
	})
	s.Start()
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, types.SubmitRequest{
		Kind: types.KindVoice, Prompt: "hello", DurationSec: 10,
	})

	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State == types.StateFailed
	}, "failed state")

	if deps.engine.calls() != 0 {
		t.Fatalf("generate invoked despite residency failure")
	}
}

func TestSingleProcessingInvariant(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	var mu sync.Mutex
	inflight, peak := 0, 0
	deps.engine.generateFn = func(call int, req GenerateRequest) (*types.GenerationResult, error) {
		mu.Lock()
		inflight++
		if inflight > peak {
			peak = inflight
		}
		mu.Unlock()
		time.Sleep(time.Millisecond)
		mu.Lock()
		inflight--
		mu.Unlock()
		return &types.GenerationResult{ArtifactRef: "r"}, nil
	}
	s.Start()

	const jobs = 24
	var wg sync.WaitGroup
	ids := make([]string, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := s.Submit(context.Background(), types.Caller{OwnerID: "u1"}, musicReq())
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			ids[i] = resp.JobID
		}(i)
	}
	wg.Wait()

	waitFor(t, 5*time.Second, func() bool {
		for _, id := range ids {
			if id == "" {
				continue
			}
			snap, err := s.Status(id)
			if err != nil || !snap.State.Terminal() {
				return false
			}
		}
		return true
	}, "all jobs terminal")

	mu.Lock()
	defer mu.Unlock()
	if peak != 1 {
		t.Fatalf("concurrent generations observed: peak=%d", peak)
	}
}

func TestWorkerRestartResolvesOrphans(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	orphan := &Job{
		ID:       "orphan",
		OwnerKey: "u1",
		Kind:     types.KindMusic,
		Tier:     testTier(1),
		State:    types.StateProcessing,
	}
	s.mu.Lock()
	s.jobs[orphan.ID] = orphan
	s.slots[orphan.Tier.Name] = 1
	s.mu.Unlock()

	s.Start()
	snap, err := s.Status("orphan")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.State != types.StateFailed || snap.Error != "worker restarted" {
		t.Fatalf("orphan not resolved: %+v", snap)
	}
	s.mu.Lock()
	slots := s.slots[orphan.Tier.Name]
	s.mu.Unlock()
	if slots != 0 {
		t.Fatalf("orphan slot not released: %d", slots)
	}
}

func TestStatusQueuedPositionAndNotFound(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	owner := types.Caller{OwnerID: "u1"}
	mustSubmit(t, s, owner, musicReq())
	second := mustSubmit(t, s, owner, musicReq())

	snap, err := s.Status(second.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if snap.State != types.StateQueued || snap.Position != 2 {
		t.Fatalf("want queued position 2, got %+v", snap)
	}
	if _, err := s.Status("never-existed"); !IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
}

func TestQueueStats(t *testing.T) {
	s, deps := newTestScheduler(t, Config{})
	deps.engine.block = make(chan struct{})
	defer close(deps.engine.block)
	owner := types.Caller{OwnerID: "u1"}

	current := mustSubmit(t, s, owner, musicReq())
	mustSubmit(t, s, owner, musicReq())
	mustSubmit(t, s, owner, types.SubmitRequest{Kind: types.KindAudio, Prompt: "rain", DurationSec: 10})

	s.Start()
	select {
	case <-deps.engine.started:
	case <-time.After(2 * time.Second):
		t.Fatalf("worker never started a job")
	}

	stats := s.QueueStats()
	if stats.Length != 2 {
		t.Fatalf("stats length: want 2 got %d", stats.Length)
	}
	if stats.CurrentJobID != current.JobID {
		t.Fatalf("current job: want %s got %s", current.JobID, stats.CurrentJobID)
	}
	if stats.PerModelCounts[types.KindMusic] != 1 || stats.PerModelCounts[types.KindAudio] != 1 {
		t.Fatalf("per-model counts: %+v", stats.PerModelCounts)
	}
}

func TestLifecycleEventsPublished(t *testing.T) {
	pub := NewMemoryPublisher()
	s, _ := newTestScheduler(t, Config{Publisher: pub})
	s.Start()
	resp := mustSubmit(t, s, types.Caller{OwnerID: "u1"}, musicReq())

	waitFor(t, 2*time.Second, func() bool {
		snap, err := s.Status(resp.JobID)
		return err == nil && snap.State == types.StateCompleted
	}, "job completion")

	seen := map[string]bool{}
	for _, e := range pub.Events() {
		seen[e.Name] = true
	}
	for _, name := range []string{"job_queued", "job_started", "model_loaded", "job_completed"} {
		if !seen[name] {
			t.Fatalf("event %s not published; got %v", name, pub.Events())
		}
	}
}
