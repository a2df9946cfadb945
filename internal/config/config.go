package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all sleuth configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM configuration
	LLM LLMConfig `yaml:"llm"`

	// Research loop bounds
	Research ResearchConfig `yaml:"research"`

	// Web search acquisition
	Search SearchConfig `yaml:"search"`

	// Report synthesis
	Report ReportConfig `yaml:"report"`

	// Local storage
	Storage StorageConfig `yaml:"storage"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sleuth",
		Version: "0.3.0",

		LLM: LLMConfig{
			Provider:   "anthropic",
			Model:      "claude-sonnet-4-20250514",
			BaseURL:    "https://api.anthropic.com",
			Timeout:    "120s",
			MaxRetries: 3,
		},

		Research: ResearchConfig{
			MaxDepth:           3,
			MaxQueriesPerDepth: 5,
			MaxPlanAttempts:    3,
			StagnationWindow:   2,
			StagnationEpsilon:  0,
		},

		Search: SearchConfig{
			MaxConcurrent:      3,
			PerQueryTimeout:    "45s",
			MaxResultsPerQuery: 5,
			FetchPages:         true,
			Browser: BrowserConfig{
				Enabled: false,
				Timeout: "30s",
			},
		},

		Report: ReportConfig{
			Style:              "due_diligence",
			Format:             "markdown",
			IncludeSources:     true,
			MaxAppendixSources: 40,
		},

		Storage: StorageConfig{
			SnapshotGraphs: true,
		},

		Logging: LoggingConfig{
			Level:     "info",
			DebugMode: false,
		},
	}
}

// DataDir returns the sleuth data directory, honoring SLEUTH_HOME.
func DataDir() string {
	if dir := os.Getenv("SLEUTH_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sleuth"
	}
	return filepath.Join(home, ".sleuth")
}

// DefaultConfigPath returns the default path to the config file.
func DefaultConfigPath() string {
	return filepath.Join(DataDir(), "config.yaml")
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Return defaults if config file doesn't exist
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Override with environment variables
	cfg.applyEnvOverrides()

	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	// LLM API key from environment (check in priority order)
	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.LLM.APIKey = key
		if c.LLM.Provider == "" {
			c.LLM.Provider = "gemini"
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		c.LLM.APIKey = key
		c.LLM.Provider = "anthropic"
	}

	// Search provider keys from environment
	if key := os.Getenv("TAVILY_API_KEY"); key != "" {
		c.Search.TavilyAPIKey = key
	}
	if key := os.Getenv("BRAVE_API_KEY"); key != "" {
		c.Search.BraveAPIKey = key
	}

	// Database path from environment
	if path := os.Getenv("SLEUTH_DB"); path != "" {
		c.Storage.DatabasePath = path
	}
}

// GetLLMTimeout returns the LLM timeout as a duration.
func (c *Config) GetLLMTimeout() time.Duration {
	d, err := time.ParseDuration(c.LLM.Timeout)
	if err != nil {
		return 120 * time.Second
	}
	return d
}

// ValidProviders lists all supported LLM providers.
var ValidProviders = []string{"anthropic", "gemini"}

// ValidSearchProviders lists all supported search providers.
var ValidSearchProviders = []string{"tavily", "brave", "duckduckgo"}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.APIKey == "" {
		return fmt.Errorf("LLM API key not configured (set ANTHROPIC_API_KEY or GEMINI_API_KEY)")
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.LLM.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		return fmt.Errorf("invalid LLM provider: %s (valid: %v)", c.LLM.Provider, ValidProviders)
	}

	// Empty search provider means auto-select by available key
	if c.Search.Provider != "" {
		validSearch := false
		for _, p := range ValidSearchProviders {
			if c.Search.Provider == p {
				validSearch = true
				break
			}
		}
		if !validSearch {
			return fmt.Errorf("invalid search provider: %s (valid: %v)", c.Search.Provider, ValidSearchProviders)
		}
	}

	return c.ValidateResearch()
}
