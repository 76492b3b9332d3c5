package types

// JobState is the lifecycle state of a submitted generation job.
type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateCompleted  JobState = "completed"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether the state is absorbing.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// SubmitRequest is the payload for POST /v1/jobs.
type SubmitRequest struct {
	// Model kind to generate with: music|audio|magnet|voice.
	Kind ModelKind `json:"kind"`
	// Prompt text driving generation. Required.
	Prompt string `json:"prompt"`
	// Declared clip duration in seconds. Must be > 0 and within the tier cap.
	DurationSec int `json:"duration_sec"`
	// Request a seamlessly loopable clip.
	Loopable bool `json:"loopable,omitempty"`
	// Optional seed for reproducibility; 0 lets the engine choose.
	Seed int64 `json:"seed,omitempty"`
}

// SubmitResponse acknowledges an admitted job.
type SubmitResponse struct {
	JobID string `json:"job_id"`
	// 1-based queue position at insertion time. A snapshot, not live-updated.
	Position int `json:"position"`
	Tier     string `json:"tier"`
}

// GenerationResult is the artifact reference plus quality metadata attached
// to a completed job.
type GenerationResult struct {
	// Opaque reference to the stored artifact (object key or URL).
	ArtifactRef string  `json:"artifact_ref"`
	SampleRate  int     `json:"sample_rate,omitempty"`
	Channels    int     `json:"channels,omitempty"`
	DurationSec float64 `json:"duration_sec,omitempty"`
	// Integrated loudness as measured by the engine, if reported.
	LoudnessLUFS float64 `json:"loudness_lufs,omitempty"`
	PeakDB       float64 `json:"peak_db,omitempty"`
}

// JobSnapshot is the non-blocking status view of a job.
type JobSnapshot struct {
	ID          string    `json:"id"`
	State       JobState  `json:"state"`
	Kind        ModelKind `json:"kind"`
	Prompt      string    `json:"prompt"`
	DurationSec int       `json:"duration_sec"`
	Loopable    bool      `json:"loopable,omitempty"`
	Tier        string    `json:"tier"`
	// Live 1-based rank while queued; 0 otherwise.
	Position int `json:"position,omitempty"`
	// Rough completion hint in [0,1]. 0 while queued, 1 when terminal.
	Progress float64 `json:"progress"`
	// Unix seconds; zero when the transition has not happened yet.
	EnqueuedAt int64 `json:"enqueued_at_unix"`
	StartedAt  int64 `json:"started_at_unix,omitempty"`
	FinishedAt int64 `json:"finished_at_unix,omitempty"`

	SkipApplied     bool `json:"skip_applied,omitempty"`
	CancelRequested bool `json:"cancel_requested,omitempty"`
	// Retries consumed while processing (transient failures only).
	RetryCount int `json:"retry_count,omitempty"`

	Result *GenerationResult `json:"result,omitempty"`
	// Failure reason when state is failed.
	Error string `json:"error,omitempty"`
}

// SkipResponse acknowledges a paid skip-to-front.
type SkipResponse struct {
	JobID string `json:"job_id"`
	// Credits charged for the skip.
	Fee int64 `json:"fee"`
	// Remaining balance after the debit.
	NewBalance int64 `json:"new_balance"`
	// Live position after promotion (1 unless another skip is ahead).
	Position int `json:"position"`
}

// QueueStatsResponse is returned by GET /v1/queue/stats.
type QueueStatsResponse struct {
	// Number of queued (pending) jobs.
	Length int `json:"length"`
	// ID of the job currently processing, empty when idle.
	CurrentJobID string `json:"current_job_id,omitempty"`
	// Pending job counts keyed by model kind.
	PerModelCounts map[ModelKind]int `json:"per_model_counts"`
	// Models currently resident in accelerator memory.
	ResidentModels []ResidentModel `json:"resident_models"`
	UptimeSeconds  int64           `json:"uptime_seconds"`
}

// ResidentModel summarizes one loaded model for stats.
type ResidentModel struct {
	Kind ModelKind `json:"kind"`
	// Last time the model served a job (unix seconds).
	LastUsed int64 `json:"last_used_unix"`
	MemMB    int   `json:"mem_mb"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}
