package scheduler

import (
	"context"
	"errors"

	"soundd/pkg/types"
)

// GenerateRequest carries one job's parameters to the generation engine.
type GenerateRequest struct {
	JobID       string
	Kind        types.ModelKind
	Prompt      string
	DurationSec int
	Loopable    bool
	Seed        int64
}

// Engine is the external generation runtime. Generate may take seconds to
// minutes; Load/UnloadModel move models in and out of accelerator memory.
// Implementations classify failures via Transient/Permanent so the worker
// knows what to retry.
type Engine interface {
	LoadModel(ctx context.Context, kind types.ModelKind) error
	UnloadModel(ctx context.Context, kind types.ModelKind) error
	Generate(ctx context.Context, req GenerateRequest) (*types.GenerationResult, error)
}

// engineErrorKind partitions engine failures for the retry policy.
type engineErrorKind int

const (
	kindTransient engineErrorKind = iota
	kindPermanent
)

type engineError struct {
	kind engineErrorKind
	err  error
}

func (e engineError) Error() string { return e.err.Error() }
func (e engineError) Unwrap() error { return e.err }

// Transient wraps err as retryable (resource exhaustion, timeout).
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return engineError{kind: kindTransient, err: err}
}

// Permanent wraps err as non-retryable (input rejected by the engine).
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return engineError{kind: kindPermanent, err: err}
}

// IsTransient reports whether err should be retried by the worker.
// Deadline expiry counts as transient even when unwrapped.
func IsTransient(err error) bool {
	var ee engineError
	if errors.As(err, &ee) {
		return ee.kind == kindTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}
