// Package router implements CLASP's Router Core (spec §4.5): session
// lifecycle, message dispatch, fanout, bundle scheduling, clock sync, rate
// limiting, and gesture coalescing, built on the address, wire, state, and
// subscription packages.
package router

import (
	"os"

	"gopkg.in/yaml.v3"

	"github.com/clasp-io/clasp/state"
)

// SecurityMode selects how sessions are authorized (spec §6).
type SecurityMode string

const (
	SecurityOpen               SecurityMode = "Open"
	SecurityTransportEncrypted SecurityMode = "TransportEncrypted"
	SecurityTokened            SecurityMode = "Tokened"
)

// Config is the Router Core's full configuration (spec §6 "Configuration").
// withDefaults fills in most zero-valued fields; MaxParams, ParamTTLUS, the
// two bool switches and Cluster are left as given, and MaxMessagesPerSecond
// is filled in only when RateLimitingEnabled is set.
type Config struct {
	MaxSessions                int          `yaml:"max_sessions"`
	SessionTimeoutUS           uint64       `yaml:"session_timeout_us"`
	MaxSubscriptionsPerSession int          `yaml:"max_subscriptions_per_session"`
	MaxMessageSize             int          `yaml:"max_message_size"`
	MaxParams                  int          `yaml:"max_params"`
	ParamTTLUS                 uint64       `yaml:"param_ttl_us"`
	Eviction                   string       `yaml:"eviction"`
	DefaultStrategy            string       `yaml:"default_strategy"`
	GestureCoalescing          bool         `yaml:"gesture_coalescing"`
	GestureCoalesceIntervalUS  uint64       `yaml:"gesture_coalesce_interval_us"`
	RateLimitingEnabled        bool         `yaml:"rate_limiting_enabled"`
	MaxMessagesPerSecond       uint32       `yaml:"max_messages_per_second"`
	SecurityMode               SecurityMode `yaml:"security_mode"`
	MaxPayloadSize             int          `yaml:"max_payload_size"`
	BundleSchedulerToleranceUS uint64       `yaml:"bundle_scheduler_tolerance_us"`
	OutboxCapacity             int          `yaml:"outbox_capacity"`

	Cluster ClusterConfig `yaml:"cluster"`
}

// ClusterConfig enables the optional multi-node session directory
// (SPEC_FULL.md §B.1). Disabled by default; a single-node deployment never
// touches Redis.
type ClusterConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Name     string `yaml:"name"`
	RedisURL string `yaml:"redis_url"`
}

// DefaultConfig returns spec §6's defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:                1000,
		SessionTimeoutUS:           300_000_000,
		MaxSubscriptionsPerSession: 1000,
		MaxMessageSize:             65535,
		MaxParams:                  10000,
		ParamTTLUS:                 3_600_000_000,
		Eviction:                   "LRU",
		DefaultStrategy:            "lww",
		GestureCoalescing:          true,
		GestureCoalesceIntervalUS:  16000,
		RateLimitingEnabled:        true,
		MaxMessagesPerSecond:       1000,
		SecurityMode:               SecurityOpen,
		MaxPayloadSize:             65535,
		BundleSchedulerToleranceUS: 1000,
		OutboxCapacity:             1000,
	}
}

// LoadConfig reads and parses a YAML config file and applies withDefaults
// to the result.
func LoadConfig(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Config{}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, err
	}
	return cfg.withDefaults(), nil
}

// withDefaults merges zero-valued fields in cfg with DefaultConfig, mirroring
// the teacher's registry.Config defaulting pass.
func (cfg Config) withDefaults() Config {
	d := DefaultConfig()
	if cfg.MaxSessions == 0 {
		cfg.MaxSessions = d.MaxSessions
	}
	if cfg.SessionTimeoutUS == 0 {
		cfg.SessionTimeoutUS = d.SessionTimeoutUS
	}
	if cfg.MaxSubscriptionsPerSession == 0 {
		cfg.MaxSubscriptionsPerSession = d.MaxSubscriptionsPerSession
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = d.MaxMessageSize
	}
	if cfg.Eviction == "" {
		cfg.Eviction = d.Eviction
	}
	if cfg.DefaultStrategy == "" {
		cfg.DefaultStrategy = d.DefaultStrategy
	}
	if cfg.GestureCoalesceIntervalUS == 0 {
		cfg.GestureCoalesceIntervalUS = d.GestureCoalesceIntervalUS
	}
	if cfg.MaxMessagesPerSecond == 0 && cfg.RateLimitingEnabled {
		cfg.MaxMessagesPerSecond = d.MaxMessagesPerSecond
	}
	if cfg.SecurityMode == "" {
		cfg.SecurityMode = d.SecurityMode
	}
	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = d.MaxPayloadSize
	}
	if cfg.BundleSchedulerToleranceUS == 0 {
		cfg.BundleSchedulerToleranceUS = d.BundleSchedulerToleranceUS
	}
	if cfg.OutboxCapacity == 0 {
		cfg.OutboxCapacity = d.OutboxCapacity
	}
	return cfg
}

func (cfg Config) stateConfig() state.Config {
	eviction := state.EvictLRU
	switch cfg.Eviction {
	case "OldestFirst":
		eviction = state.EvictOldestFirst
	case "RejectNew":
		eviction = state.EvictRejectNew
	}
	return state.Config{MaxParams: cfg.MaxParams, ParamTTLUS: cfg.ParamTTLUS, Eviction: eviction}
}
