// Package config provides configuration management for the mailsift CLI.
// It supports loading configuration from a YAML file and environment
// variables, with environment taking precedence.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/petalo/mailsift/pkg/classify"
	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/folders"
	"github.com/petalo/mailsift/pkg/invoice"
	"github.com/petalo/mailsift/pkg/run"
)

// OutputFormat defines the supported output formats for CLI results.
type OutputFormat string

const (
	// OutputFormatText is human-readable plain text output.
	OutputFormatText OutputFormat = "text"
	// OutputFormatJSON is JSON-formatted output for machine processing.
	OutputFormatJSON OutputFormat = "json"
)

// Default configuration values.
const (
	DefaultConfigDir    = ".mailsift"
	DefaultConfigFile   = "config.yaml"
	DefaultLockMaxHold  = 30 * time.Minute
	DefaultOutputFormat = OutputFormatText
)

// Credential names in the secret store.
const (
	SecretGeminiAPIKey = "gemini_api_key"
	SecretOpenAIAPIKey = "openai_api_key"
)

// RedisConfig holds the coordination-store connection settings. When Addr
// is empty the engine falls back to an in-process store, which is only
// safe for single-machine, non-overlapping schedules.
type RedisConfig struct {
	Addr     string `yaml:"addr,omitempty"`
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db,omitempty"`
}

// IsConfigured returns true if a Redis address is set.
func (c *RedisConfig) IsConfigured() bool {
	return c != nil && c.Addr != ""
}

// LockConfig holds execution-lock settings.
type LockConfig struct {
	// Holder identifies this instance in the lock record. Defaults to
	// hostname + pid.
	Holder string `yaml:"holder,omitempty"`

	// MaxHold is how long a lock record is respected before a new run may
	// take it over.
	MaxHold time.Duration `yaml:"max_hold,omitempty"`
}

// lockConfigYAML mirrors LockConfig with the duration as a string so the
// config file can say "30m".
type lockConfigYAML struct {
	Holder  string `yaml:"holder,omitempty"`
	MaxHold string `yaml:"max_hold,omitempty"`
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (c *LockConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw lockConfigYAML
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Holder != "" {
		c.Holder = raw.Holder
	}
	if raw.MaxHold != "" {
		d, err := time.ParseDuration(raw.MaxHold)
		if err != nil {
			return fmt.Errorf("parsing lock.max_hold: %w", err)
		}
		c.MaxHold = d
	}
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (c LockConfig) MarshalYAML() (interface{}, error) {
	raw := lockConfigYAML{Holder: c.Holder}
	if c.MaxHold > 0 {
		raw.MaxHold = c.MaxHold.String()
	}
	return raw, nil
}

// Config holds the full engine configuration.
type Config struct {
	// MailDir is the directory of .eml files the run command scans.
	MailDir string `yaml:"mail_dir,omitempty"`

	// MailDirs lists additional mailboxes scanned in the same run, one per
	// user. A permission failure on one mailbox skips it; the rest proceed.
	MailDirs []string `yaml:"mail_dirs,omitempty"`

	// RootFolderID is the storage folder under which domain folders are
	// created. Required. With the filesystem store this is a directory path.
	RootFolderID string `yaml:"root_folder_id"`

	// InvoiceRootFolderID is the root for per-domain invoice sub-folders.
	// Empty disables invoice second copies.
	InvoiceRootFolderID string `yaml:"invoice_root_folder_id,omitempty"`

	// JournalDSN is an optional Postgres DSN for the run audit journal.
	JournalDSN string `yaml:"journal_dsn,omitempty"`

	// OutputFormat specifies the default output format for commands.
	OutputFormat OutputFormat `yaml:"output_format,omitempty"`

	// Debug enables verbose debug logging.
	Debug bool `yaml:"debug,omitempty"`

	// MetricsAddr exposes Prometheus metrics when set (host:port).
	MetricsAddr string `yaml:"metrics_addr,omitempty"`

	Redis   RedisConfig          `yaml:"redis,omitempty"`
	Lock    LockConfig           `yaml:"lock,omitempty"`
	Run     run.Config           `yaml:"run,omitempty"`
	Rules   classify.Rules       `yaml:"rules,omitempty"`
	Retry   folders.RetryPolicy  `yaml:"retry,omitempty"`
	Invoice invoice.Config       `yaml:"invoice,omitempty"`
	Gemini  invoice.ScorerConfig `yaml:"gemini,omitempty"`
	OpenAI  invoice.ScorerConfig `yaml:"openai,omitempty"`
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() *Config {
	return &Config{
		OutputFormat: DefaultOutputFormat,
		Lock:         LockConfig{MaxHold: DefaultLockMaxHold},
		Retry:        folders.DefaultRetryPolicy(),
		Invoice:      invoice.DefaultConfig(),
	}
}

// ConfigDir returns the configuration directory path.
// Uses $MAILSIFT_CONFIG_DIR if set, otherwise ~/.mailsift
func ConfigDir() (string, error) {
	if dir := os.Getenv("MAILSIFT_CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DefaultConfigDir), nil
}

// ConfigPath returns the full path to the configuration file.
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, DefaultConfigFile), nil
}

// LoadConfig loads configuration in this order (later overrides earlier):
// 1. Default values
// 2. Config file (~/.mailsift/config.yaml or $MAILSIFT_CONFIG_DIR/config.yaml)
// 3. Environment variables (MAILSIFT_*)
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath, err := ConfigPath()
	if err != nil {
		return nil, fmt.Errorf("getting config path: %w", err)
	}
	if _, err := os.Stat(configPath); err == nil {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	loadFromEnv(cfg)
	return cfg, nil
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}
	return nil
}

// loadFromEnv overlays environment variables onto the configuration.
func loadFromEnv(cfg *Config) {
	if v := os.Getenv("MAILSIFT_MAIL_DIR"); v != "" {
		cfg.MailDir = v
	}
	if v := os.Getenv("MAILSIFT_MAIL_DIRS"); v != "" {
		cfg.MailDirs = nil
		for _, dir := range strings.Split(v, ",") {
			if dir = strings.TrimSpace(dir); dir != "" {
				cfg.MailDirs = append(cfg.MailDirs, dir)
			}
		}
	}
	if v := os.Getenv("MAILSIFT_ROOT_FOLDER_ID"); v != "" {
		cfg.RootFolderID = v
	}
	if v := os.Getenv("MAILSIFT_INVOICE_ROOT_FOLDER_ID"); v != "" {
		cfg.InvoiceRootFolderID = v
	}
	if v := os.Getenv("MAILSIFT_JOURNAL_DSN"); v != "" {
		cfg.JournalDSN = v
	}
	if v := os.Getenv("MAILSIFT_OUTPUT_FORMAT"); v != "" {
		cfg.OutputFormat = OutputFormat(v)
	}
	if v := os.Getenv("MAILSIFT_DEBUG"); v == "true" || v == "1" {
		cfg.Debug = true
	}
	if v := os.Getenv("MAILSIFT_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}

	if v := os.Getenv("MAILSIFT_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("MAILSIFT_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("MAILSIFT_REDIS_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Redis.DB = db
		}
	}

	if v := os.Getenv("MAILSIFT_LOCK_MAX_HOLD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Lock.MaxHold = d
		}
	}
	if v := os.Getenv("MAILSIFT_BATCH_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Run.BatchSize = n
		}
	}
	if v := os.Getenv("MAILSIFT_PROCESSED_LABEL"); v != "" {
		cfg.Run.ProcessedLabel = v
	}

	if v := os.Getenv("MAILSIFT_INVOICE_METHOD"); v != "" {
		cfg.Invoice.Method = v
	}
	if v := os.Getenv("MAILSIFT_GEMINI_API_KEY"); v != "" {
		cfg.Gemini.APIKey = v
	}
	if v := os.Getenv("MAILSIFT_OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
}

// SecretSource resolves named secrets; the credentials store satisfies it.
type SecretSource interface {
	Get(name string) (string, error)
}

// ResolveAPIKeys fills empty scorer API keys from the secret store.
// Missing secrets are left empty; Validate decides whether that is fatal.
func (c *Config) ResolveAPIKeys(secrets SecretSource) {
	if secrets == nil {
		return
	}
	if c.Gemini.APIKey == "" {
		if v, err := secrets.Get(SecretGeminiAPIKey); err == nil {
			c.Gemini.APIKey = v
		}
	}
	if c.OpenAI.APIKey == "" {
		if v, err := secrets.Get(SecretOpenAIAPIKey); err == nil {
			c.OpenAI.APIKey = v
		}
	}
}

// Validate checks that the configuration can support a run. It must pass
// before any lock is taken.
func (c *Config) Validate() error {
	if c.RootFolderID == "" {
		return fmt.Errorf("%w: root_folder_id is required", errors.ErrConfiguration)
	}
	if c.OutputFormat != "" && !c.OutputFormat.IsValid() {
		return fmt.Errorf("%w: invalid output_format %q (must be text or json)",
			errors.ErrConfiguration, c.OutputFormat)
	}
	switch c.Invoice.Method {
	case "", invoice.MethodEmail:
	case invoice.MethodGemini:
		if c.Invoice.Enabled && c.Gemini.APIKey == "" && c.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: invoice method %q needs an API key in config or the credential store",
				errors.ErrConfiguration, c.Invoice.Method)
		}
	case invoice.MethodOpenAI:
		if c.Invoice.Enabled && c.OpenAI.APIKey == "" {
			return fmt.Errorf("%w: invoice method %q needs an API key in config or the credential store",
				errors.ErrConfiguration, c.Invoice.Method)
		}
	default:
		return fmt.Errorf("%w: unknown invoice method %q", errors.ErrConfiguration, c.Invoice.Method)
	}
	return nil
}

// IsValid checks if the output format is valid.
func (f OutputFormat) IsValid() bool {
	switch f {
	case OutputFormatText, OutputFormatJSON:
		return true
	default:
		return false
	}
}

// String returns the string representation of the output format.
func (f OutputFormat) String() string {
	return string(f)
}

// SaveConfig saves the configuration to the config file.
func SaveConfig(cfg *Config) error {
	configDir, err := ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, DefaultConfigFile), data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
