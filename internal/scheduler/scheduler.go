package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"

	"soundd/pkg/types"
)

// Scheduler owns the live queue, the job table and the single worker that
// feeds the accelerator. All mutations of queue and job records happen in
// short critical sections under mu; the mutex is never held across an engine
// call.
type Scheduler struct {
	cfg Config

	engine    Engine
	tiers     TierResolver
	quota     QuotaCounter
	ledger    BalanceLedger
	archiver  Archiver
	residency *residency
	pub       EventPublisher
	log       zerolog.Logger

	mu      sync.Mutex
	queue   *jobQueue
	jobs    map[string]*Job // queued + processing
	done    *expirable.LRU[string, types.JobSnapshot]
	slots   map[string]int // tier name -> queued-or-processing count
	current *Job
	seq     uint64

	wake    chan struct{}
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	// Canceled on Stop; parent of every generation attempt context.
	baseCtx    context.Context
	baseCancel context.CancelFunc

	startTime time.Time
	now       func() time.Time
}

// New constructs a Scheduler. The worker does not run until Start.
func New(engine Engine, tiers TierResolver, quota QuotaCounter, ledger BalanceLedger, archiver Archiver, cfg Config) *Scheduler {
	cfg.withDefaults()
	if archiver == nil {
		archiver = DiscardArchiver{}
	}
	s := &Scheduler{
		cfg:       cfg,
		engine:    engine,
		tiers:     tiers,
		quota:     quota,
		ledger:    ledger,
		archiver:  archiver,
		pub:       cfg.Publisher,
		log:       cfg.Logger,
		queue:     newJobQueue(),
		jobs:      make(map[string]*Job),
		done:      expirable.NewLRU[string, types.JobSnapshot](cfg.GraceMax, nil, cfg.GraceTTL),
		slots:     make(map[string]int),
		wake:      make(chan struct{}, 1),
		startTime: time.Now(),
		now:       time.Now,
	}
	s.residency = newResidency(engine, cfg.Catalog, cfg.BudgetMB, cfg.MarginMB, cfg.IdleUnloadTTL, s.pub, cfg.Logger)
	return s
}

// Start launches the worker loop. Any job found still processing from a
// previous run is resolved to failed rather than silently lost.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.stopCh = make(chan struct{})
	s.baseCtx, s.baseCancel = context.WithCancel(context.Background())
	var orphans []*Job
	for _, j := range s.jobs {
		if j.State == types.StateProcessing {
			orphans = append(orphans, j)
		}
	}
	s.mu.Unlock()

	for _, j := range orphans {
		s.finish(j, nil, "worker restarted", types.StateFailed, j.RetryCount)
	}

	s.wg.Add(1)
	go s.runWorker()
	s.signalWake()
	s.log.Info().Msg("scheduler started")
}

// Stop cancels in-flight generation and waits for the worker to exit, bounded
// by ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	close(s.stopCh)
	s.baseCancel()
	s.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		s.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ready reports whether the worker loop is running.
func (s *Scheduler) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Submit validates and admits a request. Checks run in a fixed order so a
// malformed request never consumes a quota slot: shape, tier duration cap,
// hourly quota, tier slot budget, global cap. The first failing check is the
// rejection reason and nothing has been mutated before it except the quota
// counter its own check increments.
func (s *Scheduler) Submit(ctx context.Context, caller types.Caller, req types.SubmitRequest) (types.SubmitResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return types.SubmitResponse{}, s.reject("bad_request", badRequestError{msg: "prompt is required"})
	}
	if req.DurationSec <= 0 {
		return types.SubmitResponse{}, s.reject("bad_request", badRequestError{msg: "duration_sec must be positive"})
	}
	if !req.Kind.Valid() {
		return types.SubmitResponse{}, s.reject("bad_request", badRequestError{msg: "unknown model kind: " + string(req.Kind)})
	}
	if caller.Key() == "" {
		return types.SubmitResponse{}, s.reject("bad_request", badRequestError{msg: "caller identity is required"})
	}

	tier, err := s.tiers.Resolve(ctx, caller)
	if err != nil {
		return types.SubmitResponse{}, err
	}
	if req.DurationSec > tier.MaxDurationSec {
		return types.SubmitResponse{}, s.reject("duration_limit", durationLimitError{
			tier: tier.Name, limitSec: tier.MaxDurationSec, wantedSec: req.DurationSec,
		})
	}
	ok, err := s.quota.CheckAndIncrement(ctx, caller.Key(), tier)
	if err != nil {
		return types.SubmitResponse{}, err
	}
	if !ok {
		return types.SubmitResponse{}, s.reject("quota", quotaExceededError{tier: tier.Name})
	}

	s.mu.Lock()
	if s.slots[tier.Name] >= tier.QueueSlots {
		s.mu.Unlock()
		return types.SubmitResponse{}, s.reject("slot_budget", slotBudgetError{tier: tier.Name, slots: tier.QueueSlots})
	}
	if s.queue.len() >= s.cfg.QueueCap {
		s.mu.Unlock()
		return types.SubmitResponse{}, s.reject("queue_full", queueFullError{capacity: s.cfg.QueueCap})
	}
	s.seq++
	job := &Job{
		ID:          uuid.NewString(),
		OwnerKey:    caller.Key(),
		Kind:        req.Kind,
		Prompt:      req.Prompt,
		DurationSec: req.DurationSec,
		Loopable:    req.Loopable,
		Seed:        req.Seed,
		Tier:        tier,
		State:       types.StateQueued,
		EnqueuedAt:  s.now(),
		seq:         s.seq,
	}
	pos := s.queue.push(job)
	s.jobs[job.ID] = job
	s.slots[tier.Name]++
	queueDepth.Set(float64(s.queue.len()))
	s.mu.Unlock()

	s.signalWake()
	jobsSubmittedTotal.WithLabelValues(tier.Name, string(req.Kind)).Inc()
	s.pub.Publish(Event{Name: "job_queued", JobID: job.ID, Kind: string(req.Kind), Fields: map[string]any{"position": pos, "tier": tier.Name}})
	s.log.Info().Str("job_id", job.ID).Str("kind", string(req.Kind)).Str("tier", tier.Name).Int("position", pos).Msg("job queued")
	return types.SubmitResponse{JobID: job.ID, Position: pos, Tier: tier.Name}, nil
}

func (s *Scheduler) reject(reason string, err error) error {
	admissionRejectsTotal.WithLabelValues(reason).Inc()
	return err
}

// Cancel removes a queued job immediately. A processing job is never
// interrupted; the request is recorded on the record and the call still acks.
func (s *Scheduler) Cancel(ctx context.Context, jobID string, caller types.Caller) error {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		var err error
		if snap, terminal := s.done.Get(jobID); terminal {
			err = invalidStateError{id: jobID, state: snap.State}
		} else {
			err = notFoundError{id: jobID}
		}
		s.mu.Unlock()
		return err
	}
	if job.OwnerKey != caller.Key() {
		s.mu.Unlock()
		return notOwnerError{id: jobID}
	}
	if job.State == types.StateProcessing {
		job.CancelRequested = true
		s.mu.Unlock()
		s.pub.Publish(Event{Name: "job_cancel_requested", JobID: jobID})
		s.log.Info().Str("job_id", jobID).Msg("cancel requested for processing job (advisory)")
		return nil
	}
	// Queued: the dequeue path may have raced us only up to this critical
	// section; if the job is still in the map it is still pending.
	s.queue.remove(jobID)
	job.State = types.StateCancelled
	job.CancelRequested = true
	job.FinishedAt = s.now()
	s.retireLocked(job)
	queueDepth.Set(float64(s.queue.len()))
	snap := job.snapshot(0, s.now())
	s.mu.Unlock()

	jobsFinishedTotal.WithLabelValues(string(types.StateCancelled)).Inc()
	s.archive(snap)
	s.pub.Publish(Event{Name: "job_cancelled", JobID: jobID})
	s.log.Info().Str("job_id", jobID).Msg("job cancelled")
	return nil
}

// Skip promotes a queued job to the front for a duration-banded fee. The
// balance hold is taken first and committed only after the promotion; a job
// that stopped being pending in between releases the hold untouched.
func (s *Scheduler) Skip(ctx context.Context, jobID string, caller types.Caller) (types.SkipResponse, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	if !ok {
		var err error
		if snap, terminal := s.done.Get(jobID); terminal {
			err = invalidStateError{id: jobID, state: snap.State}
		} else {
			err = notFoundError{id: jobID}
		}
		s.mu.Unlock()
		return types.SkipResponse{}, err
	}
	if job.OwnerKey != caller.Key() {
		s.mu.Unlock()
		return types.SkipResponse{}, notOwnerError{id: jobID}
	}
	if job.SkipApplied {
		s.mu.Unlock()
		return types.SkipResponse{}, alreadySkippedError{id: jobID}
	}
	if job.State != types.StateQueued {
		s.mu.Unlock()
		return types.SkipResponse{}, invalidStateError{id: jobID, state: job.State}
	}
	fee := SkipFee(job.DurationSec)
	owner := job.OwnerKey
	s.mu.Unlock()

	res, err := s.ledger.Reserve(ctx, owner, fee)
	if err != nil {
		return types.SkipResponse{}, insufficientBalanceError{owner: owner, fee: fee}
	}

	s.mu.Lock()
	// Revalidate: the worker may have dequeued, or another caller raced a
	// second skip through, while the reservation was being taken.
	job, ok = s.jobs[jobID]
	if !ok || job.State != types.StateQueued || !s.queue.contains(jobID) {
		state := types.StateProcessing
		if ok {
			state = job.State
		} else if snap, terminal := s.done.Get(jobID); terminal {
			state = snap.State
		}
		s.mu.Unlock()
		_ = res.Release(ctx)
		return types.SkipResponse{}, invalidStateError{id: jobID, state: state}
	}
	if job.SkipApplied {
		s.mu.Unlock()
		_ = res.Release(ctx)
		return types.SkipResponse{}, alreadySkippedError{id: jobID}
	}
	s.seq++
	job.SkipApplied = true
	job.skipSeq = s.seq
	s.queue.promoteToFront(job)
	pos := s.queue.positionOf(jobID)
	s.mu.Unlock()

	newBalance, err := res.Commit(ctx)
	if err != nil {
		// Promotion stands; the hold was validated at reserve time so a
		// commit failure is a ledger fault, not an insufficient balance.
		s.log.Error().Str("job_id", jobID).Err(err).Msg("skip fee commit failed after promotion")
		return types.SkipResponse{}, err
	}

	skipsTotal.Inc()
	s.pub.Publish(Event{Name: "job_skipped", JobID: jobID, Fields: map[string]any{"fee": fee, "position": pos}})
	s.log.Info().Str("job_id", jobID).Int64("fee", fee).Int("position", pos).Msg("job promoted to front")
	return types.SkipResponse{JobID: jobID, Fee: fee, NewBalance: newBalance, Position: pos}, nil
}

// Status returns a definite snapshot: live record, terminal record still in
// the grace cache, or not-found.
func (s *Scheduler) Status(jobID string) (types.JobSnapshot, error) {
	s.mu.Lock()
	if job, ok := s.jobs[jobID]; ok {
		pos := 0
		if job.State == types.StateQueued {
			pos = s.queue.positionOf(jobID)
		}
		snap := job.snapshot(pos, s.now())
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()
	if snap, ok := s.done.Get(jobID); ok {
		return snap, nil
	}
	return types.JobSnapshot{}, notFoundError{id: jobID}
}

// QueueStats summarizes the pending queue and resident models.
func (s *Scheduler) QueueStats() types.QueueStatsResponse {
	s.mu.Lock()
	counts := make(map[types.ModelKind]int)
	s.queue.each(func(j *Job) { counts[j.Kind]++ })
	resp := types.QueueStatsResponse{
		Length:         s.queue.len(),
		PerModelCounts: counts,
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
	}
	if s.current != nil {
		resp.CurrentJobID = s.current.ID
	}
	s.mu.Unlock()
	resp.ResidentModels = s.residency.Snapshot()
	return resp
}

// retireLocked releases the tier slot and moves the record into the grace
// cache. Caller holds s.mu and has already set the terminal state.
func (s *Scheduler) retireLocked(job *Job) {
	if s.slots[job.Tier.Name] > 0 {
		s.slots[job.Tier.Name]--
	}
	delete(s.jobs, job.ID)
	s.done.Add(job.ID, job.snapshot(0, s.now()))
}

func (s *Scheduler) archive(snap types.JobSnapshot) {
	if err := s.archiver.Archive(context.Background(), snap); err != nil {
		s.log.Warn().Str("job_id", snap.ID).Err(err).Msg("archive failed")
	}
}

func (s *Scheduler) signalWake() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
