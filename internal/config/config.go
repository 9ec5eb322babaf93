// ABOUTME: Configuration loading and parsing for adventure-gateway
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete adventure-gateway configuration.
type Config struct {
	Database  DatabaseConfig  `yaml:"database"`
	Logging   LoggingConfig   `yaml:"logging"`
	Adventure AdventureConfig `yaml:"adventure"`
	LLM       LLMConfig       `yaml:"llm"`
	Frontends FrontendsConfig `yaml:"frontends"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AdventureConfig holds the session lifecycle policy.
type AdventureConfig struct {
	DefaultTheme         string `yaml:"default_theme"`
	SystemPromptTemplate string `yaml:"system_prompt_template"`
	MaxCacheDays         int    `yaml:"max_cache_days"`
	DeleteOnShutdown     bool   `yaml:"delete_on_shutdown"`

	IdleTimeout      time.Duration `yaml:"-"`
	AutoSaveInterval time.Duration `yaml:"-"`
	SweepInterval    time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	IdleTimeoutRaw      string `yaml:"idle_timeout"`
	AutoSaveIntervalRaw string `yaml:"auto_save_interval"`
	SweepIntervalRaw    string `yaml:"sweep_interval"`
}

// Retention returns the cache retention window as a duration.
func (a AdventureConfig) Retention() time.Duration {
	return time.Duration(a.MaxCacheDays) * 24 * time.Hour
}

// LLMConfig holds generative provider configuration.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // anthropic, openai, ollama
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	MaxTokens int    `yaml:"max_tokens"`

	RequestTimeout time.Duration `yaml:"-"`

	RequestTimeoutRaw string `yaml:"request_timeout"`
}

// FrontendsConfig holds configuration for all frontend integrations.
type FrontendsConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig holds Matrix integration configuration.
type MatrixConfig struct {
	Enabled         bool     `yaml:"enabled"`
	Homeserver      string   `yaml:"homeserver"`
	UserID          string   `yaml:"user_id"`
	AccessToken     string   `yaml:"access_token"`
	AllowedRooms    []string `yaml:"allowed_rooms"`
	Admins          []string `yaml:"admins"`
	CommandPrefix   string   `yaml:"command_prefix"`
	TypingIndicator bool     `yaml:"typing_indicator"`
}

// defaultPromptTemplate matches the tone of the original game master prompt.
const defaultPromptTemplate = "You are an experienced game master running a text adventure " +
	"set in '{game_theme}'. Generate vivid, logically coherent scenes in direct response " +
	"to the player's actions, and always end by inviting the next move."

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment
// variable values. If the environment variable is not set, it is replaced with
// an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in the lifecycle policy the original plugin shipped with.
func (c *Config) applyDefaults() {
	if c.Adventure.DefaultTheme == "" {
		c.Adventure.DefaultTheme = "a fantasy world"
	}
	if c.Adventure.SystemPromptTemplate == "" {
		c.Adventure.SystemPromptTemplate = defaultPromptTemplate
	}
	if c.Adventure.IdleTimeout == 0 {
		c.Adventure.IdleTimeout = 5 * time.Minute
	}
	if c.Adventure.AutoSaveInterval == 0 {
		c.Adventure.AutoSaveInterval = time.Minute
	}
	if c.Adventure.SweepInterval == 0 {
		c.Adventure.SweepInterval = 30 * time.Second
	}
	if c.Adventure.MaxCacheDays == 0 {
		c.Adventure.MaxCacheDays = 7
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "anthropic"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.RequestTimeout == 0 {
		c.LLM.RequestTimeout = time.Minute
	}
	if c.Frontends.Matrix.CommandPrefix == "" {
		c.Frontends.Matrix.CommandPrefix = "!"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm.model is required")
	}

	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama":
	default:
		return fmt.Errorf("llm.provider must be anthropic, openai, or ollama (got %q)", c.LLM.Provider)
	}

	if c.Adventure.MaxCacheDays < 0 {
		return fmt.Errorf("adventure.max_cache_days must not be negative")
	}

	if c.Frontends.Matrix.Enabled {
		if c.Frontends.Matrix.Homeserver == "" {
			return fmt.Errorf("frontends.matrix.homeserver is required when matrix is enabled")
		}
		if c.Frontends.Matrix.UserID == "" {
			return fmt.Errorf("frontends.matrix.user_id is required when matrix is enabled")
		}
		if c.Frontends.Matrix.AccessToken == "" {
			return fmt.Errorf("frontends.matrix.access_token is required when matrix is enabled")
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values.
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Adventure.IdleTimeoutRaw != "" {
		cfg.Adventure.IdleTimeout, err = time.ParseDuration(cfg.Adventure.IdleTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing idle_timeout %q: %w", cfg.Adventure.IdleTimeoutRaw, err)
		}
	}

	if cfg.Adventure.AutoSaveIntervalRaw != "" {
		cfg.Adventure.AutoSaveInterval, err = time.ParseDuration(cfg.Adventure.AutoSaveIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing auto_save_interval %q: %w", cfg.Adventure.AutoSaveIntervalRaw, err)
		}
	}

	if cfg.Adventure.SweepIntervalRaw != "" {
		cfg.Adventure.SweepInterval, err = time.ParseDuration(cfg.Adventure.SweepIntervalRaw)
		if err != nil {
			return fmt.Errorf("parsing sweep_interval %q: %w", cfg.Adventure.SweepIntervalRaw, err)
		}
	}

	if cfg.LLM.RequestTimeoutRaw != "" {
		cfg.LLM.RequestTimeout, err = time.ParseDuration(cfg.LLM.RequestTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing request_timeout %q: %w", cfg.LLM.RequestTimeoutRaw, err)
		}
	}

	return nil
}
