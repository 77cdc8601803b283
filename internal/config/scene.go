// Package config loads the scene service configuration.
//
// Configuration is a flat JSON document whose fields are all optional;
// the Get* accessors fall back to built-in defaults. The same JSON keys
// are accepted by POST /api/scene/settings for the runtime-tunable
// subset. Environment variables with the SCENE_ prefix override the file.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/banshee-data/scene.report/internal/scene"
)

// DefaultConfigPath is the path to the canonical defaults file.
const DefaultConfigPath = "config/scene.defaults.json"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCENE_"

// SceneConfig is the root service configuration.
type SceneConfig struct {
	// Acquisition
	BoundingRadiusMeters *float64 `json:"bounding_radius_meters,omitempty" env:"BOUNDING_RADIUS_METERS"`
	LevelOfDetail        *string  `json:"level_of_detail,omitempty" env:"LEVEL_OF_DETAIL"`
	UseInference         *bool    `json:"use_inference,omitempty" env:"USE_INFERENCE"`
	CycleInterval        *string  `json:"cycle_interval,omitempty" env:"CYCLE_INTERVAL"` // duration string like "500ms"
	QueryTimeout         *string  `json:"query_timeout,omitempty" env:"QUERY_TIMEOUT"`   // "0s" disables

	// Persistence
	DBPath            *string `json:"db_path,omitempty" env:"DB_PATH"`
	PersistInterval   *string `json:"persist_interval,omitempty" env:"PERSIST_INTERVAL"`
	SnapshotRetention *int    `json:"snapshot_retention,omitempty" env:"SNAPSHOT_RETENTION"`
	EventRetention    *int    `json:"event_retention,omitempty" env:"EVENT_RETENTION"` // journal rows kept, 0 keeps all

	// Servers
	Listen     *string `json:"listen,omitempty" env:"LISTEN"`
	GRPCListen *string `json:"grpc_listen,omitempty" env:"GRPC_LISTEN"`

	// Synthetic sensor
	SyntheticSeed      *int64   `json:"synthetic_seed,omitempty" env:"SYNTHETIC_SEED"`
	SyntheticLatency   *string  `json:"synthetic_latency,omitempty" env:"SYNTHETIC_LATENCY"`
	SyntheticJitter    *float64 `json:"synthetic_jitter_meters,omitempty" env:"SYNTHETIC_JITTER_METERS"`
	SyntheticFailEvery *int     `json:"synthetic_fail_every,omitempty" env:"SYNTHETIC_FAIL_EVERY"`
}

// Built-in defaults, mirrored by config/scene.defaults.json.
const (
	defaultBoundingRadius    = 10.0
	defaultLevelOfDetail     = "coarse"
	defaultCycleInterval     = 500 * time.Millisecond
	defaultQueryTimeout      = 10 * time.Second
	defaultDBPath            = "scene.db"
	defaultPersistInterval   = 30 * time.Second
	defaultSnapshotRetention = 100
	defaultEventRetention    = 100000
	defaultListen            = ":8090"
	defaultGRPCListen        = ":8091"
	defaultSyntheticSeed     = 1
	defaultSyntheticLatency  = 100 * time.Millisecond
	defaultSyntheticJitter   = 0.01
)

// EmptySceneConfig returns a SceneConfig with all fields unset.
func EmptySceneConfig() *SceneConfig {
	return &SceneConfig{}
}

// LoadSceneConfig loads a SceneConfig from a JSON file. The file must have
// a .json extension and be under 1MB. Omitted fields keep their defaults.
func LoadSceneConfig(path string) (*SceneConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptySceneConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads DefaultConfigPath, searching the current
// directory and its parents. Panics if the file cannot be loaded; intended
// for test setup.
func MustLoadDefaultConfig() *SceneConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/scene/monitor/
		"../../../../" + DefaultConfigPath, // deeper packages
	}
	for _, path := range candidates {
		if cfg, err := LoadSceneConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// ApplyEnv overrides fields from SCENE_* environment variables, then
// re-validates. Unset variables leave fields untouched.
func (c *SceneConfig) ApplyEnv() error {
	return c.applyEnv(env.Options{Prefix: EnvPrefix})
}

// ApplyEnvFrom is ApplyEnv reading from vars instead of the process
// environment. Keys include the SCENE_ prefix.
func (c *SceneConfig) ApplyEnvFrom(vars map[string]string) error {
	return c.applyEnv(env.Options{Prefix: EnvPrefix, Environment: vars})
}

func (c *SceneConfig) applyEnv(opts env.Options) error {
	if err := env.ParseWithOptions(c, opts); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration from env: %w", err)
	}
	return nil
}

// Validate checks that the configuration values are valid.
func (c *SceneConfig) Validate() error {
	if c.BoundingRadiusMeters != nil {
		// Out-of-range radii are clamped per cycle; only non-numbers fail.
		if r := *c.BoundingRadiusMeters; math.IsNaN(r) || math.IsInf(r, 0) {
			return fmt.Errorf("bounding_radius_meters must be a finite number, got %v", r)
		}
	}
	if c.LevelOfDetail != nil {
		if _, err := scene.ParseLevelOfDetail(*c.LevelOfDetail); err != nil {
			return fmt.Errorf("invalid level_of_detail: %w", err)
		}
	}
	durations := []struct {
		name  string
		value *string
	}{
		{"cycle_interval", c.CycleInterval},
		{"query_timeout", c.QueryTimeout},
		{"persist_interval", c.PersistInterval},
		{"synthetic_latency", c.SyntheticLatency},
	}
	for _, d := range durations {
		if d.value == nil || *d.value == "" {
			continue
		}
		v, err := time.ParseDuration(*d.value)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", d.name, *d.value, err)
		}
		if v < 0 {
			return fmt.Errorf("%s must not be negative, got %s", d.name, *d.value)
		}
	}
	if c.SnapshotRetention != nil && *c.SnapshotRetention < 0 {
		return fmt.Errorf("snapshot_retention must not be negative, got %d", *c.SnapshotRetention)
	}
	if c.EventRetention != nil && *c.EventRetention < 0 {
		return fmt.Errorf("event_retention must not be negative, got %d", *c.EventRetention)
	}
	if c.SyntheticJitter != nil && *c.SyntheticJitter < 0 {
		return fmt.Errorf("synthetic_jitter_meters must not be negative, got %v", *c.SyntheticJitter)
	}
	if c.SyntheticFailEvery != nil && *c.SyntheticFailEvery < 0 {
		return fmt.Errorf("synthetic_fail_every must not be negative, got %d", *c.SyntheticFailEvery)
	}
	if c.Listen != nil && *c.Listen == "" {
		return fmt.Errorf("listen must not be empty")
	}
	if c.DBPath != nil && *c.DBPath == "" {
		return fmt.Errorf("db_path must not be empty")
	}
	return nil
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetBoundingRadiusMeters returns the configured radius. The acquisition
// loop clamps it to the accepted range.
func (c *SceneConfig) GetBoundingRadiusMeters() float64 {
	if c.BoundingRadiusMeters == nil {
		return defaultBoundingRadius
	}
	return *c.BoundingRadiusMeters
}

func (c *SceneConfig) GetLevelOfDetail() scene.LevelOfDetail {
	s := defaultLevelOfDetail
	if c.LevelOfDetail != nil {
		s = *c.LevelOfDetail
	}
	lod, err := scene.ParseLevelOfDetail(s)
	if err != nil {
		return scene.LevelCoarse
	}
	return lod
}

func (c *SceneConfig) GetUseInference() bool {
	return c.UseInference != nil && *c.UseInference
}

func (c *SceneConfig) GetCycleInterval() time.Duration {
	return durationOr(c.CycleInterval, defaultCycleInterval)
}

// GetQueryTimeout returns the per-query timeout; zero means none.
func (c *SceneConfig) GetQueryTimeout() time.Duration {
	return durationOr(c.QueryTimeout, defaultQueryTimeout)
}

func (c *SceneConfig) GetDBPath() string {
	if c.DBPath == nil {
		return defaultDBPath
	}
	return *c.DBPath
}

func (c *SceneConfig) GetPersistInterval() time.Duration {
	return durationOr(c.PersistInterval, defaultPersistInterval)
}

func (c *SceneConfig) GetSnapshotRetention() int {
	if c.SnapshotRetention == nil {
		return defaultSnapshotRetention
	}
	return *c.SnapshotRetention
}

func (c *SceneConfig) GetEventRetention() int {
	if c.EventRetention == nil {
		return defaultEventRetention
	}
	return *c.EventRetention
}

func (c *SceneConfig) GetListen() string {
	if c.Listen == nil {
		return defaultListen
	}
	return *c.Listen
}

// GetGRPCListen returns the gRPC health listen address; empty disables it.
func (c *SceneConfig) GetGRPCListen() string {
	if c.GRPCListen == nil {
		return defaultGRPCListen
	}
	return *c.GRPCListen
}

func (c *SceneConfig) GetSyntheticSeed() int64 {
	if c.SyntheticSeed == nil {
		return defaultSyntheticSeed
	}
	return *c.SyntheticSeed
}

func (c *SceneConfig) GetSyntheticLatency() time.Duration {
	return durationOr(c.SyntheticLatency, defaultSyntheticLatency)
}

func (c *SceneConfig) GetSyntheticJitter() float64 {
	if c.SyntheticJitter == nil {
		return defaultSyntheticJitter
	}
	return *c.SyntheticJitter
}

func (c *SceneConfig) GetSyntheticFailEvery() int {
	if c.SyntheticFailEvery == nil {
		return 0
	}
	return *c.SyntheticFailEvery
}
