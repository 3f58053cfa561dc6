// Package config loads and validates arbiter's YAML configuration file,
// the single source of truth for every pipeline knob: plain structs with
// yaml tags, no defaults baked into zero values, a separate Validate step
// the server calls once at startup.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config is the full recognized configuration surface.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Authz   AuthzConfig   `yaml:"authz"`
	Gate    GateConfig    `yaml:"gate"`
	Planner PlannerConfig `yaml:"planner"`
	Audit   AuditConfig   `yaml:"audit"`
	Policy  PolicyConfig  `yaml:"policy"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// StoreConfig selects the state-store backend.
type StoreConfig struct {
	Type       string `yaml:"type"` // "memory" | "sqlite"
	SQLitePath string `yaml:"sqlite_path,omitempty"`
}

// AuthzCacheConfig is the authorization decision cache's knobs.
type AuthzCacheConfig struct {
	Enabled    bool `yaml:"enabled"`
	TTLMS      int  `yaml:"ttl_ms"`
	MaxEntries int  `yaml:"max_entries"`
}

// AuthzConfig selects and configures the authorization client.
type AuthzConfig struct {
	Mode                   string           `yaml:"mode"` // "builtin" | "external_http"
	Endpoint               string           `yaml:"endpoint,omitempty"`
	TimeoutMS              int              `yaml:"timeout_ms"`
	FailMode               string           `yaml:"fail_mode"` // "deny" | "allow" | "fallback_builtin"
	RetryMaxAttempts       int              `yaml:"retry_max_attempts"`
	RetryBackoffMS         int              `yaml:"retry_backoff_ms"`
	CircuitBreakerFailures int              `yaml:"circuit_breaker_failures"`
	CircuitBreakerOpenMS   int              `yaml:"circuit_breaker_open_ms"`
	Cache                  AuthzCacheConfig `yaml:"cache"`
}

// GateConfig controls the concurrency/rate admission check.
type GateConfig struct {
	CooldownMS            int64 `yaml:"cooldown_ms"`
	MaxQueue              int   `yaml:"max_queue"`
	TenantRateLimitPerMin int   `yaml:"tenant_rate_limit_per_min"`
}

// PlannerConfig controls intent selection and approval escalation.
type PlannerConfig struct {
	ReplyPolicy                 string  `yaml:"reply_policy"`
	ReplyProbability             float64 `yaml:"reply_probability"`
	ApprovalTimeoutMS            int64   `yaml:"approval_timeout_ms"`
	ApprovalEscalationOnExpired  bool    `yaml:"approval_escalation_on_expired"`
}

// AuditConfig controls the audit sink.
type AuditConfig struct {
	Sink                 string `yaml:"sink"` // "jsonl"
	JSONLPath            string `yaml:"jsonl_path"`
	IncludeAuthzDecision bool   `yaml:"include_authz_decision"`
	ImmutableMirrorPath  string `yaml:"immutable_mirror_path,omitempty"`
}

// PolicyConfig restricts which event sources and action types the
// pipeline will process. An empty list leaves that dimension
// unrestricted, matching the allow-list convention used throughout the
// broader policy-enforcement ecosystem this gateway draws from.
type PolicyConfig struct {
	AllowedProviders   []string `yaml:"allowed_providers,omitempty"`
	AllowedActionTypes []string `yaml:"allowed_action_types,omitempty"`
}

// Load reads and parses the YAML file at path. It does not validate;
// callers must call Validate before using the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return &cfg, nil
}

// Validate enforces the configuration's structural invariants. A malformed config is a
// startup failure — the pipeline never runs against an unvalidated Config.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case "memory":
	case "sqlite":
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("config: store.sqlite_path is required when store.type is \"sqlite\"")
		}
	default:
		return fmt.Errorf("config: store.type must be \"memory\" or \"sqlite\", got %q", c.Store.Type)
	}

	switch c.Authz.Mode {
	case "builtin", "external_http":
	default:
		return fmt.Errorf("config: authz.mode must be \"builtin\" or \"external_http\", got %q", c.Authz.Mode)
	}
	switch c.Authz.FailMode {
	case "deny", "allow", "fallback_builtin":
	default:
		return fmt.Errorf("config: authz.fail_mode must be one of deny, allow, fallback_builtin, got %q", c.Authz.FailMode)
	}
	if c.Authz.Mode == "external_http" {
		if c.Authz.RetryMaxAttempts < 1 {
			return fmt.Errorf("config: authz.retry_max_attempts must be >= 1")
		}
		if c.Authz.CircuitBreakerFailures < 1 {
			return fmt.Errorf("config: authz.circuit_breaker_failures must be >= 1")
		}
		if c.Authz.CircuitBreakerOpenMS < 1 {
			return fmt.Errorf("config: authz.circuit_breaker_open_ms must be >= 1")
		}
	}

	switch c.Planner.ReplyPolicy {
	case "all", "reply_only", "mention_first", "probabilistic":
	default:
		return fmt.Errorf("config: planner.reply_policy must be one of all, reply_only, mention_first, probabilistic, got %q", c.Planner.ReplyPolicy)
	}
	if c.Planner.ApprovalTimeoutMS < 1 {
		return fmt.Errorf("config: planner.approval_timeout_ms must be >= 1")
	}

	if c.Audit.Sink != "jsonl" {
		return fmt.Errorf("config: audit.sink must be \"jsonl\", got %q", c.Audit.Sink)
	}
	if c.Audit.JSONLPath == "" {
		return fmt.Errorf("config: audit.jsonl_path must not be empty")
	}

	return nil
}
