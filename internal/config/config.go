package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	angelerrors "github.com/ZaguanLabs/angel/internal/errors"
)

const (
	envAPIKey      = "ANGEL_API_KEY"
	envAPIURL      = "ANGEL_API_URL"
	envBackend     = "ANGEL_BACKEND"
	envUpstreamKey = "ANGEL_UPSTREAM_KEY"
	envUpstreamURL = "ANGEL_UPSTREAM_URL"
)

// Backends a client can talk to.
const (
	BackendOpenAI = "openai"
	BackendRelay  = "relay"
	BackendGemini = "gemini"
)

// Config captures runtime configuration for angel.
type Config struct {
	Backend string        `yaml:"backend" toml:"backend"`
	API     APIConfig     `yaml:"api" toml:"api"`
	Model   ModelConfig   `yaml:"model" toml:"model"`
	Relay   RelayConfig   `yaml:"relay" toml:"relay"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	UI      UIConfig      `yaml:"ui" toml:"ui"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
}

// APIConfig holds the endpoint and key of the selected backend.
type APIConfig struct {
	URL string `yaml:"url" toml:"url"`
	Key string `yaml:"key" toml:"key"`
}

// ModelConfig controls default request options.
type ModelConfig struct {
	Name         string  `yaml:"name" toml:"name"`
	Temperature  float64 `yaml:"temperature" toml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens" toml:"max_tokens"`
	Stream       bool    `yaml:"stream" toml:"stream"`
	JSONMode     bool    `yaml:"json_mode" toml:"json_mode"`
	SystemPrompt string  `yaml:"system_prompt" toml:"system_prompt"`
}

// RelayConfig configures `angel relay`.
type RelayConfig struct {
	Listen       string          `yaml:"listen" toml:"listen"`
	UpstreamURL  string          `yaml:"upstream_url" toml:"upstream_url"`
	UpstreamKey  string          `yaml:"upstream_key" toml:"upstream_key"`
	Model        string          `yaml:"model" toml:"model"`
	AccessTokens []string        `yaml:"access_tokens" toml:"access_tokens"`
	AllowOrigins string          `yaml:"allow_origins" toml:"allow_origins"`
	RateLimit    RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
}

// RateLimitConfig bounds requests per client.
type RateLimitConfig struct {
	MaxRequests int           `yaml:"max_requests" toml:"max_requests"`
	Window      time.Duration `yaml:"window" toml:"window"`
}

// LoggingConfig encapsulates logging preferences.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
	File  string `yaml:"file" toml:"file"`
}

// UIConfig defines rendering preferences.
type UIConfig struct {
	ShowTimestamps bool   `yaml:"show_timestamps" toml:"show_timestamps"`
	Markdown       bool   `yaml:"markdown" toml:"markdown"`
	CodeTheme      string `yaml:"code_theme" toml:"code_theme"`
	LineNumbers    bool   `yaml:"line_numbers" toml:"line_numbers"`
	FontSize       int    `yaml:"font_size" toml:"font_size"`
}

// StorageConfig defines persistence options.
type StorageConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// Load reads client configuration from path, or ./config.yaml when path is
// empty, then applies environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, (*Config).validate)
}

// LoadRelay is Load for the relay server; only the relay section has to be
// complete.
func LoadRelay(path string) (*Config, error) {
	return load(path, (*Config).validateRelay)
}

// LoadStorage is Load for commands that only touch saved sessions; backend
// settings are not checked.
func LoadStorage(path string) (*Config, error) {
	return load(path, func(c *Config) error { return joinProblems(c.validateCommon()) })
}

func load(path string, validate func(*Config) error) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := loadFile("config.yaml", &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return err
		}
		return angelerrors.NewConfigError("file", "read config", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return angelerrors.NewConfigError("file", "parse toml config", err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return angelerrors.NewConfigError("file", "parse yaml config", err)
		}
	}

	expandEnv(cfg)
	return nil
}

// expandEnv resolves ${VAR} references in values that commonly hold
// secrets or paths.
func expandEnv(cfg *Config) {
	cfg.API.Key = os.ExpandEnv(cfg.API.Key)
	cfg.API.URL = os.ExpandEnv(cfg.API.URL)
	cfg.Relay.UpstreamKey = os.ExpandEnv(cfg.Relay.UpstreamKey)
	cfg.Relay.UpstreamURL = os.ExpandEnv(cfg.Relay.UpstreamURL)
	for i, tok := range cfg.Relay.AccessTokens {
		cfg.Relay.AccessTokens[i] = os.ExpandEnv(tok)
	}
	cfg.Storage.Path = os.ExpandEnv(cfg.Storage.Path)
	cfg.Logging.File = os.ExpandEnv(cfg.Logging.File)
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv(envAPIURL)); v != "" {
		cfg.API.URL = v
	}
	if v := strings.TrimSpace(os.Getenv(envAPIKey)); v != "" {
		cfg.API.Key = v
	}
	if v := strings.TrimSpace(os.Getenv(envBackend)); v != "" {
		cfg.Backend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(envUpstreamKey)); v != "" {
		cfg.Relay.UpstreamKey = v
	}
	if v := strings.TrimSpace(os.Getenv(envUpstreamURL)); v != "" {
		cfg.Relay.UpstreamURL = v
	}
}

func (c *Config) validate() error {
	var problems []string

	switch c.Backend {
	case BackendOpenAI, BackendRelay:
		problems = append(problems, checkURL("API URL (api.url)", c.API.URL)...)
	case BackendGemini:
		if c.API.URL != "" {
			problems = append(problems, checkURL("API URL (api.url)", c.API.URL)...)
		}
	default:
		problems = append(problems, fmt.Sprintf("Backend (backend) must be one of %s, %s, %s, got %q", BackendOpenAI, BackendRelay, BackendGemini, c.Backend))
	}

	if strings.Contains(c.API.Key, "${") {
		problems = append(problems, "API key contains unexpanded environment variable, set ANGEL_API_KEY or replace ${...} in config")
	}
	// The relay may run without access tokens.
	if c.Backend != BackendRelay && strings.TrimSpace(c.API.Key) == "" {
		problems = append(problems, "API key (api.key) must be set or ANGEL_API_KEY environment variable must be provided")
	}

	problems = append(problems, c.validateModel()...)
	problems = append(problems, c.validateCommon()...)

	return joinProblems(problems)
}

func (c *Config) validateRelay() error {
	var problems []string

	if strings.TrimSpace(c.Relay.Listen) == "" {
		problems = append(problems, "Relay listen address (relay.listen) cannot be empty")
	}
	problems = append(problems, checkURL("Relay upstream URL (relay.upstream_url)", c.Relay.UpstreamURL)...)
	if strings.Contains(c.Relay.UpstreamKey, "${") {
		problems = append(problems, "Relay upstream key contains unexpanded environment variable, set ANGEL_UPSTREAM_KEY")
	}
	if strings.TrimSpace(c.Relay.UpstreamKey) == "" {
		problems = append(problems, "Relay upstream key (relay.upstream_key) must be set or ANGEL_UPSTREAM_KEY environment variable must be provided")
	}
	if strings.TrimSpace(c.Relay.Model) == "" {
		problems = append(problems, "Relay model (relay.model) cannot be empty")
	}
	for i, tok := range c.Relay.AccessTokens {
		if len(strings.TrimSpace(tok)) < 16 {
			problems = append(problems, fmt.Sprintf("Relay access token %d is shorter than 16 characters", i))
		}
	}
	if c.Relay.RateLimit.MaxRequests < 0 {
		problems = append(problems, "Relay rate limit (relay.rate_limit.max_requests) cannot be negative")
	}
	if c.Relay.RateLimit.MaxRequests > 0 && c.Relay.RateLimit.Window <= 0 {
		problems = append(problems, "Relay rate limit window (relay.rate_limit.window) must be positive")
	}

	problems = append(problems, c.validateCommon()...)

	return joinProblems(problems)
}

func (c *Config) validateModel() []string {
	var problems []string

	if c.Backend != BackendRelay {
		if strings.TrimSpace(c.Model.Name) == "" {
			problems = append(problems, "Model name (model.name) cannot be empty")
		} else if len(c.Model.Name) > 200 {
			problems = append(problems, "Model name (model.name) exceeds maximum length of 200 characters")
		}
	}

	if c.Model.Temperature < 0.0 || c.Model.Temperature > 2.0 {
		problems = append(problems, fmt.Sprintf("Model temperature (model.temperature) must be between 0.0 and 2.0, got %.2f", c.Model.Temperature))
	}
	if c.Model.MaxTokens < 0 {
		problems = append(problems, fmt.Sprintf("Model max tokens (model.max_tokens) cannot be negative, got %d", c.Model.MaxTokens))
	}

	return problems
}

func (c *Config) validateCommon() []string {
	var problems []string

	validLevels := []string{"debug", "info", "warn", "error", "fatal"}
	if strings.TrimSpace(c.Logging.Level) == "" {
		problems = append(problems, "Logging level (logging.level) cannot be empty")
	} else {
		valid := false
		for _, l := range validLevels {
			if strings.EqualFold(c.Logging.Level, l) {
				valid = true
				break
			}
		}
		if !valid {
			problems = append(problems, fmt.Sprintf("Logging level (logging.level) must be one of: %v, got %s", validLevels, c.Logging.Level))
		}
	}

	if c.UI.FontSize < 0 || c.UI.FontSize > 72 {
		problems = append(problems, fmt.Sprintf("UI font size (ui.font_size) must be between 0 and 72, got %d", c.UI.FontSize))
	}

	if strings.TrimSpace(c.Storage.Path) != "" {
		if info, statErr := os.Stat(c.Storage.Path); statErr == nil && !info.IsDir() {
			problems = append(problems, fmt.Sprintf("Storage path (%s) must be a directory, not a file", c.Storage.Path))
		}
	}

	return problems
}

func checkURL(name, raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{name + " must be configured"}
	}
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		return []string{name + " must start with http:// or https://"}
	}
	if _, err := url.Parse(raw); err != nil {
		return []string{fmt.Sprintf("%s is invalid: %v", name, err)}
	}
	return nil
}

func joinProblems(problems []string) error {
	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("configuration validation failed:\n\t• %s", strings.Join(problems, "\n\t• "))
}

func defaultConfig() Config {
	return Config{
		Backend: BackendOpenAI,
		Model: ModelConfig{
			Name:        "llama-3.3-70b-versatile",
			Temperature: 0.7,
			MaxTokens:   1024,
			Stream:      true,
		},
		Relay: RelayConfig{
			Listen:       ":8787",
			UpstreamURL:  "https://api.groq.com/openai/v1",
			Model:        "llama-3.3-70b-versatile",
			AllowOrigins: "*",
			RateLimit: RateLimitConfig{
				MaxRequests: 30,
				Window:      time.Minute,
			},
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		UI: UIConfig{
			ShowTimestamps: true,
			Markdown:       true,
			CodeTheme:      "tomorrow",
			LineNumbers:    true,
			FontSize:       14,
		},
	}
}
