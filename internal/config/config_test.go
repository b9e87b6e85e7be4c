package config

import (
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		tempDir    string
		configFile string
	)

	BeforeEach(func() {
		var err error
		tempDir, err = os.MkdirTemp("", "config-test")
		Expect(err).NotTo(HaveOccurred())
		configFile = filepath.Join(tempDir, "config.yaml")
	})

	AfterEach(func() {
		os.RemoveAll(tempDir)
	})

	Describe("Load", func() {
		Context("when config file exists with valid content", func() {
			BeforeEach(func() {
				validConfig := `
server:
  http_port: "8080"
  metrics_port: "9090"

runner:
  provider: "anthropic"
  endpoint: "https://api.anthropic.com"
  model: "claude-sonnet"
  timeout: "30s"
  retry_count: 3
  temperature: 0.3
  max_tokens: 500

kernel:
  max_depth: 4
  default_budget: 100000
  poll_interval: "2s"
  worker_concurrency: 8
  workspace_root: "/tmp/workspaces"

database:
  host: "db.internal"
  port: 5432
  user: "kernel"
  database: "agentkernel"

logging:
  level: "info"
  format: "json"
`
				err := os.WriteFile(configFile, []byte(validConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load configuration successfully", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())
				Expect(cfg).NotTo(BeNil())

				Expect(cfg.Server.HTTPPort).To(Equal("8080"))
				Expect(cfg.Server.MetricsPort).To(Equal("9090"))

				Expect(cfg.Runner.Endpoint).To(Equal("https://api.anthropic.com"))
				Expect(cfg.Runner.Model).To(Equal("claude-sonnet"))
				Expect(cfg.Runner.Timeout).To(Equal(30 * time.Second))
				Expect(cfg.Runner.RetryCount).To(Equal(3))
				Expect(cfg.Runner.Provider).To(Equal("anthropic"))
				Expect(cfg.Runner.Temperature).To(Equal(float32(0.3)))
				Expect(cfg.Runner.MaxTokens).To(Equal(500))

				Expect(cfg.Kernel.MaxDepth).To(Equal(4))
				Expect(cfg.Kernel.WorkerConcurrency).To(Equal(8))
				Expect(cfg.Kernel.PollInterval).To(Equal(2 * time.Second))

				Expect(cfg.Logging.Level).To(Equal("info"))
				Expect(cfg.Logging.Format).To(Equal("json"))
			})
		})

		Context("when config file has minimal content", func() {
			BeforeEach(func() {
				minimalConfig := `
runner:
  provider: "anthropic"
  model: "claude-sonnet"
  max_tokens: 100
  temperature: 0.2
`
				err := os.WriteFile(configFile, []byte(minimalConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should load with defaults for missing values", func() {
				cfg, err := Load(configFile)
				Expect(err).NotTo(HaveOccurred())

				Expect(cfg.Runner.Model).To(Equal("claude-sonnet"))
				Expect(cfg.Kernel.MaxDepth).To(Equal(5))
				Expect(cfg.Kernel.WorkerConcurrency).To(Equal(5))
				Expect(cfg.Runner.Provider).To(Equal("anthropic"))
			})
		})

		Context("when config file does not exist", func() {
			It("should return an error", func() {
				_, err := Load("/nonexistent/config.yaml")
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to read config file"))
			})
		})

		Context("when config file has invalid YAML", func() {
			BeforeEach(func() {
				invalidConfig := `
server:
  http_port: "8080"
  invalid_yaml: [
runner:
  endpoint: "test"
`
				err := os.WriteFile(configFile, []byte(invalidConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})

		Context("when config has invalid duration formats", func() {
			BeforeEach(func() {
				invalidDurationConfig := `
runner:
  provider: "anthropic"
  model: "test"
  timeout: "invalid-duration"
  max_tokens: 100

kernel:
  poll_interval: "not-a-duration"
`
				err := os.WriteFile(configFile, []byte(invalidDurationConfig), 0644)
				Expect(err).NotTo(HaveOccurred())
			})

			It("should return an error", func() {
				_, err := Load(configFile)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("failed to parse config file"))
			})
		})
	})

	Describe("validate", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{
				Server: ServerConfig{HTTPPort: "8080", MetricsPort: "9090"},
				Runner: RunnerConfig{
					Provider:    "anthropic",
					Endpoint:    "https://api.anthropic.com",
					Model:       "claude-sonnet",
					Timeout:     30 * time.Second,
					RetryCount:  3,
					Temperature: 0.3,
					MaxTokens:   500,
				},
				Kernel: KernelConfig{
					MaxDepth:          5,
					WorkerConcurrency: 5,
				},
				Logging: LoggingConfig{Level: "info", Format: "json"},
			}
			cfg.Database.Host = "localhost"
			cfg.Database.Port = 5432
			cfg.Database.User = "kernel"
			cfg.Database.Database = "agentkernel"
			cfg.Database.MaxOpenConns = 25
		})

		Context("when config is valid", func() {
			It("should pass validation", func() {
				Expect(validate(cfg)).NotTo(HaveOccurred())
			})
		})

		Context("when runner provider is invalid", func() {
			BeforeEach(func() { cfg.Runner.Provider = "invalid" })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("unsupported task runner provider"))
			})
		})

		Context("when runner model is missing", func() {
			BeforeEach(func() { cfg.Runner.Model = "" })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("task runner model is required"))
			})
		})

		Context("when runner temperature is out of range", func() {
			BeforeEach(func() { cfg.Runner.Temperature = 1.5 })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("task runner temperature must be between 0.0 and 1.0"))
			})
		})

		Context("when runner max tokens is invalid", func() {
			BeforeEach(func() { cfg.Runner.MaxTokens = 0 })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("task runner max tokens must be greater than 0"))
			})
		})

		Context("when max depth is zero", func() {
			BeforeEach(func() { cfg.Kernel.MaxDepth = 0 })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("kernel max depth must be greater than 0"))
			})
		})

		Context("when worker concurrency is invalid", func() {
			BeforeEach(func() { cfg.Kernel.WorkerConcurrency = 0 })

			It("should return validation error", func() {
				err := validate(cfg)
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("worker concurrency must be greater than 0"))
			})
		})

		Context("when retry count is negative", func() {
			BeforeEach(func() { cfg.Runner.RetryCount = -1 })

			It("should pass validation", func() {
				// retry count is not currently validated
				Expect(validate(cfg)).NotTo(HaveOccurred())
			})
		})
	})

	Describe("loadFromEnv", func() {
		var cfg *Config

		BeforeEach(func() {
			cfg = &Config{}
			os.Clearenv()
		})

		Context("when environment variables are set", func() {
			BeforeEach(func() {
				os.Setenv("RUNNER_ENDPOINT", "http://test:8080")
				os.Setenv("RUNNER_MODEL", "test-model")
				os.Setenv("RUNNER_PROVIDER", "anthropic")
				os.Setenv("HTTP_PORT", "3000")
				os.Setenv("METRICS_PORT", "9999")
				os.Setenv("LOG_LEVEL", "debug")
			})

			AfterEach(func() { os.Clearenv() })

			It("should load values from environment", func() {
				Expect(loadFromEnv(cfg)).NotTo(HaveOccurred())

				Expect(cfg.Runner.Endpoint).To(Equal("http://test:8080"))
				Expect(cfg.Runner.Model).To(Equal("test-model"))
				Expect(cfg.Runner.Provider).To(Equal("anthropic"))
				Expect(cfg.Server.HTTPPort).To(Equal("3000"))
				Expect(cfg.Server.MetricsPort).To(Equal("9999"))
				Expect(cfg.Logging.Level).To(Equal("debug"))
			})
		})

		Context("when no environment variables are set", func() {
			It("should not modify config", func() {
				original := *cfg
				Expect(loadFromEnv(cfg)).NotTo(HaveOccurred())
				Expect(*cfg).To(Equal(original))
			})
		})
	})
})
