// Package config provides configuration loading and validation for tag-sync.
//
// Configuration comes from an optional YAML file, a .env file and TAG_SYNC_*
// environment variables, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/stacklok/tag-sync/internal/telemetry"
)

const (
	// EnvPrefix is the prefix of every environment variable read by tag-sync
	EnvPrefix = "TAG_SYNC"

	// DefaultPostHogHost is used when posthogHost is not configured
	DefaultPostHogHost = "app.posthog.com"

	// DefaultBitbucketHost is used when bitbucketHost is not configured
	DefaultBitbucketHost = "bitbucket.org"

	// DefaultSyncInterval is how often the scheduler attempts a pass
	DefaultSyncInterval = time.Minute

	// DefaultGuardWindow is the minimum time between two reconciliation passes
	DefaultGuardWindow = time.Hour

	// DefaultStateDir is where the run guard is persisted
	DefaultStateDir = "./data"

	// DefaultHTTPTimeout is the per-request timeout
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultRetryDelay is the pause before retrying a failed request
	DefaultRetryDelay = 500 * time.Millisecond

	// DefaultCaptureDistinctID identifies tag-sync in captured events
	DefaultCaptureDistinctID = "tag-sync"

	defaultEnvFile = ".env"
)

// envBindings maps configuration keys to the environment variables that override them.
var envBindings = map[string]string{
	"posthogApiKey":      EnvPrefix + "_POSTHOG_API_KEY",
	"posthogApiKeyFile":  EnvPrefix + "_POSTHOG_API_KEY_FILE",
	"posthogHost":        EnvPrefix + "_POSTHOG_HOST",
	"bitbucketHost":      EnvPrefix + "_BITBUCKET_HOST",
	"bitbucketWorkspace": EnvPrefix + "_BITBUCKET_WORKSPACE",
	"repoName":           EnvPrefix + "_REPO_NAME",
	"bitbucketUsername":  EnvPrefix + "_BITBUCKET_USERNAME",
	"bitbucketToken":     EnvPrefix + "_BITBUCKET_TOKEN",
	"bitbucketTokenFile": EnvPrefix + "_BITBUCKET_TOKEN_FILE",
	"capture.apiKey":     EnvPrefix + "_CAPTURE_API_KEY",
}

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path    string
	envFile string
	// envFileRequired is set when the caller named the env file explicitly
	envFileRequired bool
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// WithEnvFile loads environment variables from the given dotenv file.
// Unlike the default .env lookup, a missing file is an error.
func WithEnvFile(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("env file path is required")
		}
		cfg.envFile = path
		cfg.envFileRequired = true
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// PostHogAPIKey is the personal API key used to list and create annotations
	PostHogAPIKey string `mapstructure:"posthogApiKey" yaml:"posthogApiKey,omitempty" validate:"required"`

	// PostHogAPIKeyFile is read when PostHogAPIKey is empty
	PostHogAPIKeyFile string `mapstructure:"posthogApiKeyFile" yaml:"posthogApiKeyFile,omitempty"`

	// PostHogHost is the PostHog host, with or without scheme
	PostHogHost string `mapstructure:"posthogHost" yaml:"posthogHost" validate:"required"`

	// BitbucketHost is the Bitbucket host, with or without scheme
	BitbucketHost string `mapstructure:"bitbucketHost" yaml:"bitbucketHost" validate:"required"`

	BitbucketWorkspace string `mapstructure:"bitbucketWorkspace" yaml:"bitbucketWorkspace" validate:"required"`
	RepoName           string `mapstructure:"repoName" yaml:"repoName" validate:"required"`

	// BitbucketUsername and BitbucketToken are only needed for private repositories.
	// Either both or neither must be set.
	BitbucketUsername  string `mapstructure:"bitbucketUsername" yaml:"bitbucketUsername,omitempty"`
	BitbucketToken     string `mapstructure:"bitbucketToken" yaml:"bitbucketToken,omitempty"`
	BitbucketTokenFile string `mapstructure:"bitbucketTokenFile" yaml:"bitbucketTokenFile,omitempty"`

	SyncPolicy SyncPolicyConfig `mapstructure:"syncPolicy" yaml:"syncPolicy"`
	State      StateConfig      `mapstructure:"state" yaml:"state"`
	HTTP       HTTPConfig       `mapstructure:"http" yaml:"http"`
	Capture    CaptureConfig    `mapstructure:"capture" yaml:"capture"`

	Telemetry *telemetry.Config `mapstructure:"telemetry" yaml:"telemetry,omitempty"`
}

// SyncPolicyConfig defines synchronization settings
type SyncPolicyConfig struct {
	// Interval is how often the scheduler wakes up (e.g. "1m")
	Interval string `mapstructure:"interval" yaml:"interval"`

	// GuardWindow is the minimum time between two passes (e.g. "1h")
	GuardWindow string `mapstructure:"guardWindow" yaml:"guardWindow"`
}

// StateConfig defines where the run guard is kept
type StateConfig struct {
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// HTTPConfig tunes the outbound HTTP client
type HTTPConfig struct {
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
	RetryDelay string `mapstructure:"retryDelay" yaml:"retryDelay"`
}

// CaptureConfig configures where created_tag_annotation events are captured.
// Capture is disabled when APIKey is empty.
type CaptureConfig struct {
	// APIKey is a PostHog project API key (not the personal key)
	APIKey     string `mapstructure:"apiKey" yaml:"apiKey,omitempty"`
	DistinctID string `mapstructure:"distinctId" yaml:"distinctId"`
}

// LoadConfig loads configuration from the optional YAML file, the dotenv file
// and the environment, then validates it.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{envFile: defaultEnvFile}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if err := godotenv.Load(loaderCfg.envFile); err != nil {
		if loaderCfg.envFileRequired || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", loaderCfg.envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if loaderCfg.path != "" {
		v.SetConfigFile(loaderCfg.path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.resolveSecrets(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("posthogHost", DefaultPostHogHost)
	v.SetDefault("bitbucketHost", DefaultBitbucketHost)
	v.SetDefault("syncPolicy.interval", DefaultSyncInterval.String())
	v.SetDefault("syncPolicy.guardWindow", DefaultGuardWindow.String())
	v.SetDefault("state.dir", DefaultStateDir)
	v.SetDefault("http.timeout", DefaultHTTPTimeout.String())
	v.SetDefault("http.retryDelay", DefaultRetryDelay.String())
	v.SetDefault("capture.distinctId", DefaultCaptureDistinctID)
}

// resolveSecrets fills secrets from their *File counterparts. Inline values win.
func (c *Config) resolveSecrets() error {
	if c.PostHogAPIKey == "" && c.PostHogAPIKeyFile != "" {
		key, err := readSecretFile(c.PostHogAPIKeyFile)
		if err != nil {
			return fmt.Errorf("failed to read posthogApiKeyFile: %w", err)
		}
		c.PostHogAPIKey = key
	}
	if c.BitbucketToken == "" && c.BitbucketTokenFile != "" {
		token, err := readSecretFile(c.BitbucketTokenFile)
		if err != nil {
			return fmt.Errorf("failed to read bitbucketTokenFile: %w", err)
		}
		c.BitbucketToken = token
	}
	return nil
}

// readSecretFile returns the trimmed content of a secret file
func readSecretFile(path string) (string, error) {
	// Use filepath.Clean to prevent path traversal attacks
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// Validate performs validation on the configuration.
// The username/token pairing is deliberately left to the session initializer,
// which reports it as InvalidCredentials.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	var errs []error

	validate := validator.New(validator.WithRequiredStructEnabled())
	validate.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("mapstructure"), ",", 2)[0]
		if name == "" {
			return field.Name
		}
		return name
	})
	if err := validate.Struct(c); err != nil {
		var validationErrs validator.ValidationErrors
		if !errors.As(err, &validationErrs) {
			return err
		}
		for _, fieldErr := range validationErrs {
			errs = append(errs, fmt.Errorf("%s is %s", fieldErr.Field(), fieldErr.Tag()))
		}
	}

	durations := map[string]string{
		"syncPolicy.interval":    c.SyncPolicy.Interval,
		"syncPolicy.guardWindow": c.SyncPolicy.GuardWindow,
		"http.timeout":           c.HTTP.Timeout,
		"http.retryDelay":        c.HTTP.RetryDelay,
	}
	for _, key := range []string{"syncPolicy.interval", "syncPolicy.guardWindow", "http.timeout", "http.retryDelay"} {
		value := durations[key]
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", key, err))
			continue
		}
		if d < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", key))
		}
	}

	if c.Telemetry != nil {
		if err := c.Telemetry.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("telemetry: %w", err))
		}
	}

	return errors.Join(errs...)
}

// GetSyncInterval returns the scheduler interval, falling back to the default
func (c *Config) GetSyncInterval() time.Duration {
	return parseDurationOr(c.SyncPolicy.Interval, DefaultSyncInterval)
}

// GetGuardWindow returns the run guard window, falling back to the default
func (c *Config) GetGuardWindow() time.Duration {
	return parseDurationOr(c.SyncPolicy.GuardWindow, DefaultGuardWindow)
}

// GetHTTPTimeout returns the HTTP client timeout, falling back to the default
func (c *Config) GetHTTPTimeout() time.Duration {
	return parseDurationOr(c.HTTP.Timeout, DefaultHTTPTimeout)
}

// GetRetryDelay returns the delay before the single retry, falling back to the default
func (c *Config) GetRetryDelay() time.Duration {
	return parseDurationOr(c.HTTP.RetryDelay, DefaultRetryDelay)
}

// GetStateDir returns the state directory, falling back to the default
func (c *Config) GetStateDir() string {
	if c.State.Dir == "" {
		return DefaultStateDir
	}
	return c.State.Dir
}

// GetCaptureDistinctID returns the distinct id for captured events
func (c *Config) GetCaptureDistinctID() string {
	if c.Capture.DistinctID == "" {
		return DefaultCaptureDistinctID
	}
	return c.Capture.DistinctID
}

// Redacted returns a copy of the configuration with secrets masked
func (c *Config) Redacted() Config {
	redacted := *c
	redacted.PostHogAPIKey = mask(c.PostHogAPIKey)
	redacted.BitbucketToken = mask(c.BitbucketToken)
	redacted.Capture.APIKey = mask(c.Capture.APIKey)
	return redacted
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "********"
}

func parseDurationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}
