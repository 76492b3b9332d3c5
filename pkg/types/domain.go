package types

// ModelKind identifies one of the generation model families the daemon can
// schedule work for. The set is closed; admission rejects anything else.
type ModelKind string

const (
	KindMusic  ModelKind = "music"
	KindAudio  ModelKind = "audio"
	KindMagnet ModelKind = "magnet"
	KindVoice  ModelKind = "voice"
)

// Valid reports whether k is one of the known model kinds.
func (k ModelKind) Valid() bool {
	switch k {
	case KindMusic, KindAudio, KindMagnet, KindVoice:
		return true
	}
	return false
}

// ModelSpec describes one loadable model in the catalog.
type ModelSpec struct {
	// Kind the model serves.
	Kind ModelKind `json:"kind" yaml:"kind" toml:"kind"`
	// Human-friendly name.
	Name string `json:"name,omitempty" yaml:"name" toml:"name"`
	// Estimated accelerator memory cost in MB when loaded.
	MemMB int `json:"mem_mb" yaml:"mem_mb" toml:"mem_mb"`
}

// TierInfo is the admission/scheduling profile of a subscription tier.
// It is snapshotted onto a job at submission time; later tier changes do not
// reorder already-queued jobs.
type TierInfo struct {
	Name string `json:"name" yaml:"name" toml:"name"`
	// Max submissions per rolling hour.
	HourlyQuota int `json:"hourly_quota" yaml:"hourly_quota" toml:"hourly_quota"`
	// Max declared clip duration in seconds.
	MaxDurationSec int `json:"max_duration_sec" yaml:"max_duration_sec" toml:"max_duration_sec"`
	// Max jobs a tier may hold queued-or-processing at once.
	QueueSlots int `json:"queue_slots" yaml:"queue_slots" toml:"queue_slots"`
	// Higher weight dequeues earlier. FIFO within equal weight.
	PriorityWeight int `json:"priority_weight" yaml:"priority_weight" toml:"priority_weight"`
}

// Caller identifies a submitter. OwnerID is set for signed-in users;
// device-scoped anonymous callers carry only DeviceID.
type Caller struct {
	OwnerID  string
	DeviceID string
}

// Anonymous reports whether the caller has no account identity.
func (c Caller) Anonymous() bool { return c.OwnerID == "" }

// Key returns the stable identity key used for quota, slots and ownership.
func (c Caller) Key() string {
	if c.OwnerID != "" {
		return c.OwnerID
	}
	if c.DeviceID != "" {
		return "device:" + c.DeviceID
	}
	return ""
}
