// Package config loads the orchestration kernel's YAML configuration,
// overlays environment variables, and validates the result.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kubernaut-labs/agentkernel/internal/database"
	kerrors "github.com/kubernaut-labs/agentkernel/pkg/shared/errors"
)

// ServerConfig controls the kernel's query HTTP API listener.
type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

// RunnerConfig selects and tunes the single TaskRunner adapter that every
// agent runs through, whatever its role.
type RunnerConfig struct {
	Provider    string        `yaml:"provider"` // anthropic, bedrock, langchain
	Endpoint    string        `yaml:"endpoint"`
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryCount  int           `yaml:"retry_count"`
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// KernelConfig controls hierarchy, polling, and workspace behavior.
type KernelConfig struct {
	MaxDepth                int           `yaml:"max_depth"`
	DefaultBudget           int64         `yaml:"default_budget"`
	PollInterval            time.Duration `yaml:"poll_interval"`
	WorkerConcurrency       int           `yaml:"worker_concurrency"`
	MaxConcurrentExecutions int           `yaml:"max_concurrent_executions"`
	AgentTimeout            time.Duration `yaml:"agent_timeout"`
	WorkspaceRoot           string        `yaml:"workspace_root"`
	RepoDir                 string        `yaml:"repo_dir"`
}

// CacheConfig controls the optional Redis read-through cache in front of
// budget reads.
type CacheConfig struct {
	Enabled bool          `yaml:"enabled"`
	Addr    string        `yaml:"addr"`
	TTL     time.Duration `yaml:"ttl"`
}

// NotificationConfig controls best-effort Slack notification on workflow
// termination/failure.
type NotificationConfig struct {
	Enabled    bool   `yaml:"enabled"`
	SlackToken string `yaml:"slack_token"`
	WebhookURL string `yaml:"webhook_url"`
	Channel    string `yaml:"channel"`
}

// PolicyConfig controls the optional OPA policy gate on template
// instantiation.
type PolicyConfig struct {
	Enabled    bool   `yaml:"enabled"`
	BundlePath string `yaml:"bundle_path"`
	Module     string `yaml:"module"`
}

// LoggingConfig controls the kernel's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Config is the root configuration object loaded from YAML plus
// environment overrides.
type Config struct {
	Server       ServerConfig        `yaml:"server"`
	Database     database.Config     `yaml:"database"`
	Kernel       KernelConfig        `yaml:"kernel"`
	Runner       RunnerConfig        `yaml:"runner"`
	Cache        CacheConfig         `yaml:"cache"`
	Notification NotificationConfig  `yaml:"notification"`
	Policy       PolicyConfig        `yaml:"policy"`
	Logging      LoggingConfig       `yaml:"logging"`
}

var supportedProviders = map[string]bool{
	"anthropic":  true,
	"bedrock":    true,
	"langchain":  true,
}

// Load reads path, parses it as YAML, overlays environment variables, and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Kernel.MaxDepth == 0 {
		cfg.Kernel.MaxDepth = 5
	}
	if cfg.Kernel.WorkerConcurrency == 0 {
		cfg.Kernel.WorkerConcurrency = 5
	}
	if cfg.Kernel.PollInterval == 0 {
		cfg.Kernel.PollInterval = 2 * time.Second
	}
	if cfg.Kernel.WorkspaceRoot == "" {
		cfg.Kernel.WorkspaceRoot = "/var/lib/agentkernel/workspaces"
	}
	if cfg.Kernel.RepoDir == "" {
		cfg.Kernel.RepoDir = "."
	}
	if cfg.Kernel.AgentTimeout == 0 {
		cfg.Kernel.AgentTimeout = 30 * time.Minute
	}
	if cfg.Kernel.MaxConcurrentExecutions == 0 {
		cfg.Kernel.MaxConcurrentExecutions = 16
	}
	if cfg.Runner.Provider == "" {
		cfg.Runner.Provider = "anthropic"
	}
	if cfg.Runner.Endpoint == "" {
		cfg.Runner.Endpoint = "http://localhost:8080"
	}
	def := database.DefaultConfig()
	if cfg.Database.Host == "" {
		cfg.Database = *def
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = def.MaxOpenConns
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.Database.ConnMaxLifetime == 0 {
		cfg.Database.ConnMaxLifetime = def.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime == 0 {
		cfg.Database.ConnMaxIdleTime = def.ConnMaxIdleTime
	}
}

func validate(cfg *Config) error {
	if !supportedProviders[cfg.Runner.Provider] {
		return fmt.Errorf("unsupported task runner provider: %s", cfg.Runner.Provider)
	}
	if cfg.Runner.Model == "" {
		return fmt.Errorf("task runner model is required for %s provider", cfg.Runner.Provider)
	}
	if cfg.Runner.Temperature < 0.0 || cfg.Runner.Temperature > 1.0 {
		return fmt.Errorf("task runner temperature must be between 0.0 and 1.0")
	}
	if cfg.Runner.MaxTokens <= 0 {
		return fmt.Errorf("task runner max tokens must be greater than 0")
	}
	if cfg.Kernel.MaxDepth <= 0 {
		return fmt.Errorf("kernel max depth must be greater than 0")
	}
	if cfg.Kernel.WorkerConcurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}
	if err := cfg.Database.Validate(); err != nil {
		return kerrors.Wrapf(err, "invalid database configuration")
	}
	return nil
}

func loadFromEnv(cfg *Config) error {
	if v := os.Getenv("RUNNER_ENDPOINT"); v != "" {
		cfg.Runner.Endpoint = v
	}
	if v := os.Getenv("RUNNER_MODEL"); v != "" {
		cfg.Runner.Model = v
	}
	if v := os.Getenv("RUNNER_PROVIDER"); v != "" {
		cfg.Runner.Provider = v
	}
	if v := os.Getenv("HTTP_PORT"); v != "" {
		cfg.Server.HTTPPort = v
	}
	if v := os.Getenv("METRICS_PORT"); v != "" {
		cfg.Server.MetricsPort = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MAX_DEPTH"); v != "" {
		depth, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid MAX_DEPTH: %w", err)
		}
		cfg.Kernel.MaxDepth = depth
	}
	cfg.Database.LoadFromEnv()
	return nil
}
