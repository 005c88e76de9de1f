// Package config loads agentor's YAML configuration: backend
// selection and failover, capability grants, and the ambient paths
// the audit log and memory store write to.
package config

import (
	"time"
)

// Config is the top-level configuration structure.
type Config struct {
	Version int `yaml:"version"`

	Backends    BackendsConfig    `yaml:"backends"`
	Capability  CapabilityConfig  `yaml:"capability"`
	Audit       AuditConfig       `yaml:"audit"`
	Memory      MemoryConfig      `yaml:"memory"`
	Approval    ApprovalConfig    `yaml:"approval"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// BackendsConfig configures the model backends available to the
// failover layer, in priority order.
type BackendsConfig struct {
	// Order lists backend names (matching a BackendConfig.Name) in the
	// order failover should try them.
	Order []string `yaml:"order"`

	Anthropic BackendConfig `yaml:"anthropic"`
	OpenAI    BackendConfig `yaml:"openai"`
	Bedrock   BackendConfig `yaml:"bedrock"`
	Gemini    BackendConfig `yaml:"gemini"`

	MaxAttemptsPerBackend int           `yaml:"max_attempts_per_backend"`
	BackoffBaseMS         int           `yaml:"backoff_base_ms"`
	BackoffMaxMS          int           `yaml:"backoff_max_ms"`
	RequestTimeout        time.Duration `yaml:"request_timeout"`
}

// BackendConfig configures a single model backend.
type BackendConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	Region  string `yaml:"region"` // bedrock only
}

// CapabilityConfig lists the capability grants an agent run starts
// with, keyed by capability kind (file_read, file_write,
// network_access, shell_exec, browser_access, database_query).
type CapabilityConfig struct {
	FileRead       []string `yaml:"file_read"`
	FileWrite      []string `yaml:"file_write"`
	NetworkAccess  []string `yaml:"network_access"`
	ShellExec      []string `yaml:"shell_exec"`
	BrowserAccess  []string `yaml:"browser_access"`
	DatabaseQuery  []string `yaml:"database_query"`
}

// AuditConfig configures the audit log's JSONL sink.
type AuditConfig struct {
	Path          string        `yaml:"path"`
	BufferSize    int           `yaml:"buffer_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// MemoryConfig configures the hybrid memory store.
type MemoryConfig struct {
	Path  string  `yaml:"path"`
	Alpha float64 `yaml:"alpha"` // RRF fusion weight, vector vs BM25
	K     float64 `yaml:"k"`     // RRF rank-smoothing constant
}

// ApprovalConfig configures the approval channel's default timeout
// and transport.
type ApprovalConfig struct {
	// Transport selects the implementation: "auto", "callback", or
	// "broadcast".
	Transport string        `yaml:"transport"`
	Timeout   time.Duration `yaml:"timeout"`
	// AutoApprove is used only when Transport is "auto".
	AutoApprove bool `yaml:"auto_approve"`
	// JWTSecret authenticates the broadcast gateway's websocket and
	// decision endpoints; used only when Transport is "broadcast". A
	// blank secret leaves the gateway unauthenticated. Supports
	// ${NAME} environment expansion like the backend API keys.
	JWTSecret string `yaml:"jwt_secret"`
}

// OrchestratorConfig overrides role profile defaults for the fixed
// Spec/Coder/Tester/Reviewer pipeline.
type OrchestratorConfig struct {
	MaxDepth            int `yaml:"max_depth"`
	MaxChildrenPerTask int `yaml:"max_children_per_task"`
}

// LoggingConfig configures the slog handler used throughout the
// process.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
}

// sanitize fills in defaults for zero-valued fields.
func sanitize(cfg *Config) {
	if cfg.Version == 0 {
		cfg.Version = CurrentVersion
	}
	if cfg.Backends.MaxAttemptsPerBackend == 0 {
		cfg.Backends.MaxAttemptsPerBackend = 3
	}
	if cfg.Backends.BackoffBaseMS == 0 {
		cfg.Backends.BackoffBaseMS = 250
	}
	if cfg.Backends.BackoffMaxMS == 0 {
		cfg.Backends.BackoffMaxMS = 10_000
	}
	if cfg.Backends.RequestTimeout == 0 {
		cfg.Backends.RequestTimeout = 60 * time.Second
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = 4096
	}
	if cfg.Audit.FlushInterval == 0 {
		cfg.Audit.FlushInterval = 200 * time.Millisecond
	}
	if cfg.Memory.Alpha == 0 {
		cfg.Memory.Alpha = 0.5
	}
	if cfg.Memory.K == 0 {
		cfg.Memory.K = 60
	}
	if cfg.Approval.Transport == "" {
		cfg.Approval.Transport = "callback"
	}
	if cfg.Approval.Timeout == 0 {
		cfg.Approval.Timeout = 5 * time.Minute
	}
	if cfg.Orchestrator.MaxDepth == 0 {
		cfg.Orchestrator.MaxDepth = 3
	}
	if cfg.Orchestrator.MaxChildrenPerTask == 0 {
		cfg.Orchestrator.MaxChildrenPerTask = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// Load reads and parses the config file at path, resolving $include
// directives and expanding ${NAME} environment variables.
func Load(path string) (*Config, error) {
	raw, err := LoadRaw(path)
	if err != nil {
		return nil, err
	}
	cfg, err := decodeRawConfig(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateVersion(cfg.Version); err != nil {
		// A zero version in a freshly authored file is not an error;
		// only a stale or future explicit version number is.
		if cfg.Version != 0 {
			return nil, err
		}
	}
	sanitize(cfg)
	return cfg, nil
}
