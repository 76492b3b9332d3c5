package scheduler

import (
	"context"
	"time"

	retry "github.com/avast/retry-go"

	"soundd/pkg/types"
)

// runWorker is the single consumer loop. Exactly one job is in flight at any
// instant; the accelerator is serial. The loop holds no lock while the engine
// generates, so submit/cancel/skip/status run freely against a different job.
func (s *Scheduler) runWorker() {
	defer s.wg.Done()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
		}
		for {
			select {
			case <-s.stopCh:
				return
			default:
			}
			job := s.takeNext()
			if job == nil {
				break
			}
			s.process(job)
			s.residency.UnloadIdle(s.baseCtx)
		}
	}
}

// takeNext pops the highest-priority pending job and transitions it to
// processing in one critical section, so a concurrent cancel either removed
// it first or sees it processing.
func (s *Scheduler) takeNext() *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.queue.popNext()
	if job == nil {
		return nil
	}
	job.State = types.StateProcessing
	job.StartedAt = s.now()
	s.current = job
	queueDepth.Set(float64(s.queue.len()))
	return job
}

// process runs one job to a terminal state: residency, then generation under
// the bounded retry policy. Transient failures retry without added backoff
// (the accelerator is the bottleneck, waiting buys nothing); permanent and
// residency failures fail immediately.
func (s *Scheduler) process(job *Job) {
	s.pub.Publish(Event{Name: "job_started", JobID: job.ID, Kind: string(job.Kind)})
	s.log.Info().Str("job_id", job.ID).Str("kind", string(job.Kind)).Msg("job started")

	if err := s.residency.EnsureLoaded(s.baseCtx, job.Kind); err != nil {
		s.log.Error().Str("job_id", job.ID).Err(err).Msg("model residency failed")
		s.finish(job, nil, err.Error(), types.StateFailed, 0)
		return
	}

	greq := GenerateRequest{
		JobID:       job.ID,
		Kind:        job.Kind,
		Prompt:      job.Prompt,
		DurationSec: job.DurationSec,
		Loopable:    job.Loopable,
		Seed:        job.Seed,
	}
	attempts := 0
	var result *types.GenerationResult
	start := time.Now()
	err := retry.Do(
		func() error {
			attempts++
			ctx, cancel := context.WithTimeout(s.baseCtx, s.cfg.GenerateTimeout)
			defer cancel()
			r, genErr := s.engine.Generate(ctx, greq)
			if genErr != nil {
				return genErr
			}
			result = r
			return nil
		},
		retry.Attempts(uint(s.cfg.MaxRetries)+1),
		retry.Delay(0),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return IsTransient(err) && s.baseCtx.Err() == nil
		}),
		retry.Context(s.baseCtx),
	)
	generationDuration.Observe(time.Since(start).Seconds())

	retries := attempts - 1
	if retries < 0 {
		retries = 0
	}
	if err != nil {
		s.log.Error().Str("job_id", job.ID).Int("retries", retries).Err(err).Msg("job failed")
		s.finish(job, nil, err.Error(), types.StateFailed, retries)
		return
	}
	s.residency.Touch(job.Kind)
	s.finish(job, result, "", types.StateCompleted, retries)
}

// finish commits a terminal state, releases the tier slot and hands the
// record to the archiver and the grace cache.
func (s *Scheduler) finish(job *Job, result *types.GenerationResult, failReason string, state types.JobState, retries int) {
	s.mu.Lock()
	job.State = state
	job.Result = result
	job.FailReason = failReason
	job.RetryCount = retries
	job.FinishedAt = s.now()
	if s.current == job {
		s.current = nil
	}
	s.retireLocked(job)
	snap := job.snapshot(0, s.now())
	s.mu.Unlock()

	jobsFinishedTotal.WithLabelValues(string(state)).Inc()
	s.archive(snap)
	s.pub.Publish(Event{Name: "job_" + string(state), JobID: job.ID, Kind: string(job.Kind), Fields: map[string]any{"retries": retries}})
	if state == types.StateCompleted {
		s.log.Info().Str("job_id", job.ID).Int("retries", retries).Dur("dur", job.FinishedAt.Sub(job.StartedAt)).Msg("job completed")
	}
}
