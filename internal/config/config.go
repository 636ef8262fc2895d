// Package config provides layered configuration: built-in defaults, an
// optional YAML file, then environment overrides. CLI flags are applied last
// by the commands themselves.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"

	"foldwarden/internal/apperrors"
)

// DefaultFileName is the config location relative to the user's home directory.
const DefaultFileName = ".foldwarden/config.yaml"

// Config is the full tree an operator can set in the config file.
type Config struct {
	ResultsDir   string `yaml:"results_dir"`
	ContactEmail string `yaml:"contact_email"` // sent to UniProt/NCBI per their usage policies

	Safety     SafetyConfig     `yaml:"safety"`
	Fold       FoldConfig       `yaml:"fold"`
	Watch      WatchConfig      `yaml:"watch"`
	Literature LiteratureConfig `yaml:"literature"`
	Summary    SummaryConfig    `yaml:"summary"`
	Notify     NotifyConfig     `yaml:"notify"`
	Status     StatusConfig     `yaml:"status"`
}

// SafetyConfig controls admission and the memory watchdog.
type SafetyConfig struct {
	MinFreeGB               float64  `yaml:"min_free_gb"`               // admission minimum (default: 16)
	KillThresholdGB         float64  `yaml:"kill_threshold_gb"`         // watchdog kill floor (default: 4)
	WatchdogIntervalSeconds int      `yaml:"watchdog_interval_seconds"` // poll period (default: 5)
	WatchdogEnabled         bool     `yaml:"memory_watchdog"`           // default: true
	StaleProcessNames       []string `yaml:"stale_process_names"`

	// StaleSettle is how long admission waits after reaping stale processes
	// for the kernel to reclaim their pages. Env-tunable, not in the file.
	StaleSettle time.Duration `yaml:"-"`
}

// WatchdogInterval returns the watchdog poll period as a duration.
func (s SafetyConfig) WatchdogInterval() time.Duration {
	return time.Duration(s.WatchdogIntervalSeconds) * time.Second
}

// FoldConfig controls the external fold invocation.
type FoldConfig struct {
	Backend      string  `yaml:"backend"` // "local" or "docker"
	Binary       string  `yaml:"binary"`  // local backend executable
	DockerImage  string  `yaml:"docker_image"`
	DockerMemory string  `yaml:"docker_memory"` // container memory cap, e.g. "24g"; empty = unlimited
	GPUDevice    string  `yaml:"gpu_device"`    // e.g. "0"; empty lets the engine pick
	NumModels    int     `yaml:"num_models"`
	TimeoutHours float64 `yaml:"timeout_hours"`
}

// Timeout returns the wall-clock limit as a duration.
func (f FoldConfig) Timeout() time.Duration {
	return time.Duration(f.TimeoutHours * float64(time.Hour))
}

// DockerMemoryBytes returns the container memory cap in bytes, zero when
// unset. The size string is checked during validation.
func (f FoldConfig) DockerMemoryBytes() int64 {
	if f.DockerMemory == "" {
		return 0
	}
	n, err := units.RAMInBytes(f.DockerMemory)
	if err != nil {
		return 0
	}
	return n
}

// WatchConfig controls folder-watch mode.
type WatchConfig struct {
	PollIntervalSeconds int  `yaml:"poll_interval_seconds"` // default: 60
	ArchiveProcessed    bool `yaml:"archive_processed"`
}

// PollInterval returns the directory scan period as a duration.
func (w WatchConfig) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// LiteratureConfig controls the paper search stage.
type LiteratureConfig struct {
	MaxPapers  int    `yaml:"max_papers"`        // default: 20
	APIKeyFile string `yaml:"ncbi_api_key_file"` // optional, raises the NCBI rate limit
	APIKey     string `yaml:"-"`                 // resolved from file or NCBI_API_KEY
}

// SummaryConfig selects and configures the narrative provider.
type SummaryConfig struct {
	Provider    string `yaml:"provider"` // "none", "openai", "anthropic", or "ollama"
	Model       string `yaml:"model"`    // empty = provider default
	BaseURL     string `yaml:"base_url"` // endpoint override; empty = provider default
	APIKeyFile  string `yaml:"api_key_file"`
	APIKey      string `yaml:"-"` // resolved from file or the provider's env var, never persisted
	OllamaURL   string `yaml:"ollama_url"`
	OllamaModel string `yaml:"ollama_model"`
}

// NotifyConfig controls the optional completion webhook.
type NotifyConfig struct {
	URL            string `yaml:"url"`
	SigningKeyFile string `yaml:"signing_key_file"`
	SigningKey     string `yaml:"-"`
	BufferSize     int    `yaml:"buffer_size"`     // default: 64
	Workers        int    `yaml:"workers"`         // default: 2
	TimeoutSeconds int    `yaml:"timeout_seconds"` // default: 10
}

// HTTPTimeout returns the per-delivery HTTP timeout.
func (n NotifyConfig) HTTPTimeout() time.Duration {
	return time.Duration(n.TimeoutSeconds) * time.Second
}

// StatusConfig controls the watch-mode HTTP status server.
type StatusConfig struct {
	Addr string `yaml:"addr"` // default: 127.0.0.1:8750
}

// Default returns a fully populated configuration. Loading overlays the
// YAML file and environment on top, so absent keys keep these values.
func Default() *Config {
	return &Config{
		ResultsDir: "./results",
		Safety: SafetyConfig{
			MinFreeGB:               16,
			KillThresholdGB:         4,
			WatchdogIntervalSeconds: 5,
			WatchdogEnabled:         true,
			StaleProcessNames:       []string{"colabfold_batch", "colabfold-conda"},
			StaleSettle:             3 * time.Second,
		},
		Fold: FoldConfig{
			Backend:      "local",
			Binary:       "colabfold_batch",
			DockerImage:  "ghcr.io/sokrypton/colabfold:latest",
			NumModels:    5,
			TimeoutHours: 4.0,
		},
		Watch: WatchConfig{
			PollIntervalSeconds: 60,
			ArchiveProcessed:    true,
		},
		Literature: LiteratureConfig{
			MaxPapers: 20,
		},
		Summary: SummaryConfig{
			Provider:    "none",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.1:70b",
		},
		Notify: NotifyConfig{
			BufferSize:     64,
			Workers:        2,
			TimeoutSeconds: 10,
		},
		Status: StatusConfig{
			Addr: "127.0.0.1:8750",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (or the default location when path is empty; a missing default file
// is not an error), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, apperrors.Validation("config", fmt.Sprintf("parse %s: %v", path, err))
			}
		case explicit:
			return nil, apperrors.Validation("config", fmt.Sprintf("read %s: %v", path, err))
		}
	}

	cfg.applyEnv()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultPath returns the default config file path, or "" if the home
// directory cannot be determined.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, DefaultFileName)
}

// WriteFile writes the configuration as YAML, creating parent directories.
// Used by the init command to produce a starter file.
func (c *Config) WriteFile(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (c *Config) applyEnv() {
	c.ResultsDir = GetEnv("FOLDWARDEN_RESULTS_DIR", c.ResultsDir)
	c.ContactEmail = GetEnv("FOLDWARDEN_CONTACT_EMAIL", c.ContactEmail)

	c.Safety.MinFreeGB = GetFloatEnv("FOLDWARDEN_MIN_FREE_GB", c.Safety.MinFreeGB)
	c.Safety.KillThresholdGB = GetFloatEnv("FOLDWARDEN_KILL_THRESHOLD_GB", c.Safety.KillThresholdGB)
	c.Safety.WatchdogIntervalSeconds = GetIntEnv("FOLDWARDEN_WATCHDOG_INTERVAL_SECONDS", c.Safety.WatchdogIntervalSeconds)
	c.Safety.WatchdogEnabled = GetBoolEnv("FOLDWARDEN_MEMORY_WATCHDOG", c.Safety.WatchdogEnabled)
	c.Safety.StaleSettle = GetDurationEnv("FOLDWARDEN_STALE_SETTLE", c.Safety.StaleSettle)

	c.Fold.Backend = GetEnv("FOLDWARDEN_FOLD_BACKEND", c.Fold.Backend)
	c.Fold.Binary = GetEnv("FOLDWARDEN_FOLD_BINARY", c.Fold.Binary)
	c.Fold.DockerImage = GetEnv("FOLDWARDEN_FOLD_IMAGE", c.Fold.DockerImage)
	c.Fold.DockerMemory = GetEnv("FOLDWARDEN_FOLD_MEMORY", c.Fold.DockerMemory)
	c.Fold.GPUDevice = GetEnv("FOLDWARDEN_GPU_DEVICE", c.Fold.GPUDevice)
	c.Fold.NumModels = GetIntEnv("FOLDWARDEN_NUM_MODELS", c.Fold.NumModels)
	c.Fold.TimeoutHours = GetFloatEnv("FOLDWARDEN_TIMEOUT_HOURS", c.Fold.TimeoutHours)

	c.Watch.PollIntervalSeconds = GetIntEnv("FOLDWARDEN_POLL_INTERVAL_SECONDS", c.Watch.PollIntervalSeconds)

	c.Literature.APIKey = GetSecretFile(c.Literature.APIKeyFile)
	if c.Literature.APIKey == "" {
		c.Literature.APIKey = os.Getenv("NCBI_API_KEY")
	}

	c.Summary.Provider = GetEnv("FOLDWARDEN_SUMMARY_PROVIDER", c.Summary.Provider)
	c.Summary.APIKey = GetSecretFile(c.Summary.APIKeyFile)
	if c.Summary.APIKey == "" {
		switch c.Summary.Provider {
		case "anthropic":
			c.Summary.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		default:
			c.Summary.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	c.Summary.OllamaURL = GetEnv("FOLDWARDEN_OLLAMA_URL", c.Summary.OllamaURL)

	c.Notify.URL = GetEnv("FOLDWARDEN_NOTIFY_URL", c.Notify.URL)
	c.Notify.SigningKey = GetSecretFile(GetEnv("FOLDWARDEN_NOTIFY_KEY_FILE", c.Notify.SigningKeyFile))

	c.Status.Addr = GetEnv("FOLDWARDEN_STATUS_ADDR", c.Status.Addr)
}

func (c *Config) validate() error {
	if c.Safety.MinFreeGB <= 0 {
		return apperrors.Validation("safety.min_free_gb", "minimum free memory must be positive")
	}
	if c.Safety.KillThresholdGB <= 0 {
		return apperrors.Validation("safety.kill_threshold_gb", "kill threshold must be positive")
	}
	if c.Safety.KillThresholdGB >= c.Safety.MinFreeGB {
		return apperrors.Validation("safety.kill_threshold_gb",
			"kill threshold must be below the admission minimum")
	}
	if c.Safety.WatchdogIntervalSeconds <= 0 {
		return apperrors.Validation("safety.watchdog_interval_seconds", "watchdog interval must be positive")
	}
	if c.Fold.Backend != "local" && c.Fold.Backend != "docker" {
		return apperrors.Validation("fold.backend", fmt.Sprintf("unknown backend %q (use local or docker)", c.Fold.Backend))
	}
	if c.Fold.DockerMemory != "" {
		if _, err := units.RAMInBytes(c.Fold.DockerMemory); err != nil {
			return apperrors.Validation("fold.docker_memory",
				fmt.Sprintf("cannot parse size %q: %v", c.Fold.DockerMemory, err))
		}
	}
	if c.Fold.NumModels < 1 || c.Fold.NumModels > 5 {
		return apperrors.Validation("fold.num_models", "num_models must be between 1 and 5")
	}
	if c.Fold.TimeoutHours <= 0 {
		return apperrors.Validation("fold.timeout_hours", "timeout must be positive")
	}
	if c.Watch.PollIntervalSeconds < 1 {
		return apperrors.Validation("watch.poll_interval_seconds", "poll interval must be at least 1 second")
	}
	switch c.Summary.Provider {
	case "", "none", "openai", "anthropic", "ollama":
	default:
		return apperrors.Validation("summary.provider",
			fmt.Sprintf("unknown provider %q (use none, openai, anthropic or ollama)", c.Summary.Provider))
	}
	return nil
}
