// Package config loads client configuration from YAML or TOML files and
// environment overrides.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/entrhq/notebooklm/pkg/auth"
	"github.com/entrhq/notebooklm/pkg/browser"
	"github.com/entrhq/notebooklm/pkg/rpc"
)

// Environment overrides, applied after the file is read.
const (
	EnvMaxRetries = "NOTEBOOKLM_MAX_RETRIES"
	EnvBaseDelay  = "NOTEBOOKLM_BASE_DELAY"
	EnvMaxDelay   = "NOTEBOOKLM_MAX_DELAY"
	EnvHeadless   = "NOTEBOOKLM_HEADLESS"
	EnvTimeout    = "NOTEBOOKLM_TIMEOUT"
	EnvAuthFile   = "NOTEBOOKLM_AUTH_FILE"
)

// Config is the full client configuration.
type Config struct {
	Retry     RetryConfig     `yaml:"retry" toml:"retry"`
	Browser   BrowserConfig   `yaml:"browser" toml:"browser"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry" toml:"telemetry"`
}

// RetryConfig controls backoff for retryable failures.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts" toml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay" toml:"base_delay"`
	MaxDelay    time.Duration `yaml:"max_delay" toml:"max_delay"`
	Base        float64       `yaml:"base" toml:"base"`
	Jitter      bool          `yaml:"jitter" toml:"jitter"`
}

// BrowserConfig controls the automated browser.
type BrowserConfig struct {
	Headless         bool          `yaml:"headless" toml:"headless"`
	Timeout          time.Duration `yaml:"timeout" toml:"timeout"`
	CallTimeout      time.Duration `yaml:"call_timeout" toml:"call_timeout"`
	StreamingTimeout time.Duration `yaml:"streaming_timeout" toml:"streaming_timeout"`
	BlockResources   bool          `yaml:"block_resources" toml:"block_resources"`
	WaitUntil        string        `yaml:"wait_until" toml:"wait_until"`
	CSRFTTL          time.Duration `yaml:"csrf_ttl" toml:"csrf_ttl"`
	MaxContexts      int           `yaml:"max_contexts" toml:"max_contexts"`
	BaseURL          string        `yaml:"base_url" toml:"base_url"`
}

// AuthConfig locates stored credentials.
type AuthConfig struct {
	File        string `yaml:"file" toml:"file"`
	AutoRefresh bool   `yaml:"auto_refresh" toml:"auto_refresh"`

	// ExtraPatterns are additional glob patterns identifying sign-in URLs.
	ExtraPatterns []string `yaml:"extra_patterns,omitempty" toml:"extra_patterns,omitempty"`
}

// LoggingConfig selects the log level.
type LoggingConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// TelemetryConfig toggles metrics collection.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

var validWaitUntil = map[string]bool{
	"load":             true,
	"domcontentloaded": true,
	"networkidle":      true,
	"commit":           true,
}

var validLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// DefaultConfig returns a configuration suitable for most use cases.
func DefaultConfig() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts: rpc.DefaultMaxAttempts,
			BaseDelay:   rpc.DefaultBaseDelay,
			MaxDelay:    rpc.DefaultMaxDelay,
			Base:        rpc.DefaultBackoffBase,
			Jitter:      true,
		},
		Browser: BrowserConfig{
			Headless:         true,
			Timeout:          browser.DefaultTimeout,
			CallTimeout:      browser.DefaultCallTimeout,
			StreamingTimeout: browser.DefaultStreamingTimeout,
			BlockResources:   true,
			WaitUntil:        browser.DefaultWaitUntil,
			CSRFTTL:          browser.DefaultCSRFTTL,
			MaxContexts:      browser.DefaultMaxContexts,
			BaseURL:          browser.DefaultBaseURL,
		},
		Auth: AuthConfig{
			AutoRefresh: true,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the file at path on top of the defaults and applies environment
// overrides. An empty path yields defaults plus overrides. The format is
// chosen by extension: .yaml, .yml or .toml.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := cfg.decode(path, data); err != nil {
			return nil, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(path string, data []byte) error {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, c); err != nil {
			return fmt.Errorf("failed to parse YAML config %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), c); err != nil {
			return fmt.Errorf("failed to parse TOML config %s: %w", path, err)
		}
	default:
		return fmt.Errorf("unsupported config format %q (use .yaml, .yml or .toml)", ext)
	}
	return nil
}

// Encode renders the configuration in the format implied by ext.
func (c *Config) Encode(ext string) ([]byte, error) {
	switch strings.ToLower(strings.TrimPrefix(ext, ".")) {
	case "yaml", "yml", "":
		return yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		if err := toml.NewEncoder(&buf).Encode(c); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported config format %q", ext)
	}
}

func (c *Config) applyEnv() error {
	if v, ok := lookup(EnvMaxRetries); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxRetries, err)
		}
		c.Retry.MaxAttempts = n
	}
	if v, ok := lookup(EnvBaseDelay); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvBaseDelay, err)
		}
		c.Retry.BaseDelay = d
	}
	if v, ok := lookup(EnvMaxDelay); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxDelay, err)
		}
		c.Retry.MaxDelay = d
	}
	if v, ok := lookup(EnvHeadless); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHeadless, err)
		}
		c.Browser.Headless = b
	}
	if v, ok := lookup(EnvTimeout); ok {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvTimeout, err)
		}
		c.Browser.Timeout = d
	}
	if v, ok := lookup(EnvAuthFile); ok {
		c.Auth.File = v
	}
	return nil
}

func lookup(name string) (string, bool) {
	v, ok := os.LookupEnv(name)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// parseSeconds accepts a Go duration ("1.5s") or a bare number of seconds.
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	return time.Duration(secs * float64(time.Second)), nil
}

// Validate checks the configuration for out-of-range values.
func (c *Config) Validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be at least 1")
	}
	if c.Retry.BaseDelay < 0 {
		return fmt.Errorf("retry.base_delay cannot be negative")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("retry.max_delay (%s) must not be less than retry.base_delay (%s)",
			c.Retry.MaxDelay, c.Retry.BaseDelay)
	}
	if c.Retry.Base < 1 {
		return fmt.Errorf("retry.base must be at least 1")
	}
	if c.Browser.Timeout <= 0 {
		return fmt.Errorf("browser.timeout must be positive")
	}
	if c.Browser.CallTimeout < 0 || c.Browser.StreamingTimeout < 0 || c.Browser.CSRFTTL < 0 {
		return fmt.Errorf("browser timeouts cannot be negative")
	}
	if c.Browser.MaxContexts < 1 {
		return fmt.Errorf("browser.max_contexts must be at least 1")
	}
	if c.Browser.WaitUntil != "" && !validWaitUntil[c.Browser.WaitUntil] {
		return fmt.Errorf("invalid browser.wait_until: %s (must be 'load', 'domcontentloaded', 'networkidle', or 'commit')",
			c.Browser.WaitUntil)
	}
	if c.Logging.Level != "" && !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid logging.level: %s (must be 'debug', 'info', 'warn', or 'error')", c.Logging.Level)
	}
	return nil
}

// Policy converts the retry section into an rpc.Policy.
func (c *Config) Policy() rpc.Policy {
	p := rpc.DefaultPolicy()
	p.MaxAttempts = c.Retry.MaxAttempts
	p.BaseDelay = c.Retry.BaseDelay
	p.MaxDelay = c.Retry.MaxDelay
	p.Base = c.Retry.Base
	p.Jitter = c.Retry.Jitter
	return p
}

// BrowserOptions converts the browser section into browser.Options.
func (c *Config) BrowserOptions() browser.Options {
	return browser.Options{
		Headless:         c.Browser.Headless,
		Timeout:          c.Browser.Timeout,
		CallTimeout:      c.Browser.CallTimeout,
		StreamingTimeout: c.Browser.StreamingTimeout,
		BlockResources:   c.Browser.BlockResources,
		WaitUntil:        c.Browser.WaitUntil,
		CSRFTTL:          c.Browser.CSRFTTL,
		BaseURL:          c.Browser.BaseURL,
	}
}

// AuthDetector builds the sign-in detector including any extra patterns.
func (c *Config) AuthDetector() (*rpc.AuthDetector, error) {
	if len(c.Auth.ExtraPatterns) == 0 {
		return rpc.DefaultAuthDetector(), nil
	}
	return rpc.NewAuthDetector(c.Auth.ExtraPatterns...)
}

// AuthFile returns the credential file path, falling back to the default
// location under the home directory.
func (c *Config) AuthFile() (string, error) {
	if c.Auth.File != "" {
		return c.Auth.File, nil
	}
	return auth.DefaultPath()
}
