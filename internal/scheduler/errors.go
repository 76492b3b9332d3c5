package scheduler

import (
	"fmt"

	"soundd/pkg/types"
)

// Admission and lifecycle errors are unexported concrete types with exported
// Is* predicates so the HTTP layer can map them to status codes without
// depending on internals.

type badRequestError struct{ msg string }

func (e badRequestError) Error() string { return e.msg }

// IsBadRequest reports a malformed submission (empty prompt, bad duration,
// unknown model kind).
func IsBadRequest(err error) bool {
	_, ok := err.(badRequestError)
	return ok
}

type durationLimitError struct {
	tier      string
	limitSec  int
	wantedSec int
}

func (e durationLimitError) Error() string {
	return fmt.Sprintf("duration %ds exceeds tier %q limit of %ds", e.wantedSec, e.tier, e.limitSec)
}

// IsDurationLimit reports a duration over the tier cap.
func IsDurationLimit(err error) bool {
	_, ok := err.(durationLimitError)
	return ok
}

type quotaExceededError struct{ tier string }

func (e quotaExceededError) Error() string { return "hourly quota exceeded for tier " + e.tier }

// IsQuotaExceeded reports an exhausted hourly submission quota.
func IsQuotaExceeded(err error) bool {
	_, ok := err.(quotaExceededError)
	return ok
}

type queueFullError struct{ capacity int }

func (e queueFullError) Error() string { return fmt.Sprintf("queue full (cap %d)", e.capacity) }

// IsQueueFull reports that the global pending cap was hit.
func IsQueueFull(err error) bool {
	_, ok := err.(queueFullError)
	return ok
}

type slotBudgetError struct {
	tier  string
	slots int
}

func (e slotBudgetError) Error() string {
	return fmt.Sprintf("tier %q already holds its %d queue slots", e.tier, e.slots)
}

// IsSlotBudgetExhausted reports that a tier used up its queued-or-processing
// slot allowance.
func IsSlotBudgetExhausted(err error) bool {
	_, ok := err.(slotBudgetError)
	return ok
}

type notFoundError struct{ id string }

func (e notFoundError) Error() string { return "job not found: " + e.id }

// IsNotFound reports an unknown or fully evicted job id.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

type notOwnerError struct{ id string }

func (e notOwnerError) Error() string { return "caller does not own job " + e.id }

// IsNotOwner reports an ownership mismatch on cancel/skip.
func IsNotOwner(err error) bool {
	_, ok := err.(notOwnerError)
	return ok
}

type invalidStateError struct {
	id    string
	state types.JobState
}

func (e invalidStateError) Error() string {
	return fmt.Sprintf("job %s is %s", e.id, e.state)
}

// IsInvalidState reports an operation against a job whose state forbids it
// (terminal, or no longer pending).
func IsInvalidState(err error) bool {
	_, ok := err.(invalidStateError)
	return ok
}

type alreadySkippedError struct{ id string }

func (e alreadySkippedError) Error() string { return "job already skipped: " + e.id }

// IsAlreadySkipped reports a second skip attempt on the same job.
func IsAlreadySkipped(err error) bool {
	_, ok := err.(alreadySkippedError)
	return ok
}

type insufficientBalanceError struct {
	owner string
	fee   int64
}

func (e insufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for %d credit skip", e.fee)
}

// IsInsufficientBalance reports a failed skip fee reservation.
func IsInsufficientBalance(err error) bool {
	_, ok := err.(insufficientBalanceError)
	return ok
}

type modelTooLargeError struct {
	kind     types.ModelKind
	needMB   int
	budgetMB int
}

func (e modelTooLargeError) Error() string {
	return fmt.Sprintf("model %s needs %dMB which exceeds the %dMB budget", e.kind, e.needMB, e.budgetMB)
}

// IsModelTooLarge reports that the required model can never fit the memory
// budget, even with every idle model evicted.
func IsModelTooLarge(err error) bool {
	_, ok := err.(modelTooLargeError)
	return ok
}
