package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"soundd/pkg/types"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr string `json:"addr" yaml:"addr" toml:"addr"`

	// Synth runtime endpoint.
	EngineURL    string `json:"engine_url" yaml:"engine_url" toml:"engine_url"`
	EngineAPIKey string `json:"engine_api_key" yaml:"engine_api_key" toml:"engine_api_key"`

	// Accelerator memory budgeting.
	MemBudgetMB int `json:"mem_budget_mb" yaml:"mem_budget_mb" toml:"mem_budget_mb"`
	MemMarginMB int `json:"mem_margin_mb" yaml:"mem_margin_mb" toml:"mem_margin_mb"`

	// Scheduling.
	QueueCap           int `json:"queue_cap" yaml:"queue_cap" toml:"queue_cap"`
	MaxRetries         int `json:"max_retries" yaml:"max_retries" toml:"max_retries"`
	GenerateTimeoutSec int `json:"generate_timeout_sec" yaml:"generate_timeout_sec" toml:"generate_timeout_sec"`
	IdleUnloadTTLSec   int `json:"idle_unload_ttl_sec" yaml:"idle_unload_ttl_sec" toml:"idle_unload_ttl_sec"`

	// Model catalog: kinds and their memory costs.
	Models []types.ModelSpec `json:"models" yaml:"models" toml:"models"`

	// Tier overrides merged over the built-in table.
	Tiers []types.TierInfo `json:"tiers" yaml:"tiers" toml:"tiers"`

	// Terminal records append here as JSON lines when set.
	ArchivePath string `json:"archive_path" yaml:"archive_path" toml:"archive_path"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`
}

// Load reads a configuration file based on its extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".json":
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	case ".toml":
		if err := toml.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	return cfg, nil
}

// DefaultModels is the catalog used when the config names none.
func DefaultModels() []types.ModelSpec {
	return []types.ModelSpec{
		{Kind: types.KindMusic, Name: "music-large", MemMB: 6144},
		{Kind: types.KindAudio, Name: "audio-fx", MemMB: 3072},
		{Kind: types.KindMagnet, Name: "magnet-fast", MemMB: 2048},
		{Kind: types.KindVoice, Name: "voice-clone", MemMB: 4096},
	}
}
