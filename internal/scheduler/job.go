package scheduler

import (
	"time"

	"soundd/pkg/types"
)

// Job is the live record of one submitted request. All fields are mutated
// only under the scheduler mutex; transitions are monotonic and terminal
// states are absorbing.
type Job struct {
	ID       string
	OwnerKey string

	Kind        types.ModelKind
	Prompt      string
	DurationSec int
	Loopable    bool
	Seed        int64

	// Tier snapshot taken at submission time.
	Tier types.TierInfo

	State      types.JobState
	EnqueuedAt time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	SkipApplied     bool
	CancelRequested bool

	RetryCount int
	Result     *types.GenerationResult
	FailReason string

	// Heap bookkeeping, owned by the queue.
	seq     uint64
	skipSeq uint64
	index   int
}

// snapshot projects the record into the read-only API view. position is the
// live rank for queued jobs, 0 otherwise.
func (j *Job) snapshot(position int, now time.Time) types.JobSnapshot {
	s := types.JobSnapshot{
		ID:              j.ID,
		State:           j.State,
		Kind:            j.Kind,
		Prompt:          j.Prompt,
		DurationSec:     j.DurationSec,
		Loopable:        j.Loopable,
		Tier:            j.Tier.Name,
		Position:        position,
		EnqueuedAt:      j.EnqueuedAt.Unix(),
		SkipApplied:     j.SkipApplied,
		CancelRequested: j.CancelRequested,
		RetryCount:      j.RetryCount,
		Result:          j.Result,
		Error:           j.FailReason,
	}
	if !j.StartedAt.IsZero() {
		s.StartedAt = j.StartedAt.Unix()
	}
	if !j.FinishedAt.IsZero() {
		s.FinishedAt = j.FinishedAt.Unix()
	}
	switch {
	case j.State.Terminal():
		s.Progress = 1
	case j.State == types.StateProcessing && j.DurationSec > 0:
		// Generation wall clock tracks clip length loosely; clamp below 1 so
		// pollers never see a "done" hint before the terminal transition.
		p := now.Sub(j.StartedAt).Seconds() / float64(2*j.DurationSec)
		if p > 0.95 {
			p = 0.95
		}
		if p < 0 {
			p = 0
		}
		s.Progress = p
	}
	return s
}
