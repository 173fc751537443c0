// Package config provides configuration management for the mailsift CLI.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/petalo/mailsift/pkg/errors"
	"github.com/petalo/mailsift/pkg/invoice"
)

// TestDefaultConfig verifies default configuration values.
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want %v", cfg.OutputFormat, DefaultOutputFormat)
	}
	if cfg.Lock.MaxHold != DefaultLockMaxHold {
		t.Errorf("Lock.MaxHold = %v, want %v", cfg.Lock.MaxHold, DefaultLockMaxHold)
	}
	if !cfg.Invoice.Enabled {
		t.Error("Invoice.Enabled should default to true")
	}
	if cfg.Invoice.Method != invoice.MethodEmail {
		t.Errorf("Invoice.Method = %v, want %v", cfg.Invoice.Method, invoice.MethodEmail)
	}
	if cfg.RootFolderID != "" {
		t.Errorf("RootFolderID = %v, want empty", cfg.RootFolderID)
	}
	if cfg.Debug {
		t.Error("Debug should be false by default")
	}
}

// TestOutputFormat_IsValid verifies output format validation.
func TestOutputFormat_IsValid(t *testing.T) {
	tests := []struct {
		format OutputFormat
		valid  bool
	}{
		{OutputFormatText, true},
		{OutputFormatJSON, true},
		{OutputFormat("yaml"), false},
		{OutputFormat(""), false},
	}

	for _, tt := range tests {
		if got := tt.format.IsValid(); got != tt.valid {
			t.Errorf("IsValid(%q) = %v, want %v", tt.format, got, tt.valid)
		}
	}
}

// TestConfigDir_EnvOverride verifies MAILSIFT_CONFIG_DIR takes precedence.
func TestConfigDir_EnvOverride(t *testing.T) {
	t.Setenv("MAILSIFT_CONFIG_DIR", "/tmp/mailsift-test")

	dir, err := ConfigDir()
	if err != nil {
		t.Fatalf("ConfigDir() error = %v", err)
	}
	if dir != "/tmp/mailsift-test" {
		t.Errorf("ConfigDir() = %v, want /tmp/mailsift-test", dir)
	}
}

// TestLoadConfig_FileAndEnv verifies the load order: defaults, then file,
// then environment.
func TestLoadConfig_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("MAILSIFT_CONFIG_DIR", dir)

	yamlContent := `root_folder_id: folder-from-file
invoice_root_folder_id: invoices-from-file
output_format: json
lock:
  max_hold: 10m
run:
  batch_size: 25
invoice:
  enabled: true
  method: gemini
  confidence_threshold: 0.8
gemini:
  api_key: file-key
`
	if err := os.WriteFile(filepath.Join(dir, DefaultConfigFile), []byte(yamlContent), 0600); err != nil {
		t.Fatalf("writing config file: %v", err)
	}

	t.Setenv("MAILSIFT_ROOT_FOLDER_ID", "folder-from-env")
	t.Setenv("MAILSIFT_GEMINI_API_KEY", "env-key")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.RootFolderID != "folder-from-env" {
		t.Errorf("RootFolderID = %v, want env to win over file", cfg.RootFolderID)
	}
	if cfg.InvoiceRootFolderID != "invoices-from-file" {
		t.Errorf("InvoiceRootFolderID = %v, want invoices-from-file", cfg.InvoiceRootFolderID)
	}
	if cfg.OutputFormat != OutputFormatJSON {
		t.Errorf("OutputFormat = %v, want json", cfg.OutputFormat)
	}
	if cfg.Lock.MaxHold != 10*time.Minute {
		t.Errorf("Lock.MaxHold = %v, want 10m", cfg.Lock.MaxHold)
	}
	if cfg.Run.BatchSize != 25 {
		t.Errorf("Run.BatchSize = %v, want 25", cfg.Run.BatchSize)
	}
	if cfg.Invoice.Method != invoice.MethodGemini {
		t.Errorf("Invoice.Method = %v, want gemini", cfg.Invoice.Method)
	}
	if cfg.Invoice.ConfidenceThreshold != 0.8 {
		t.Errorf("ConfidenceThreshold = %v, want 0.8", cfg.Invoice.ConfidenceThreshold)
	}
	if cfg.Gemini.APIKey != "env-key" {
		t.Errorf("Gemini.APIKey = %v, want env to win over file", cfg.Gemini.APIKey)
	}
}

// TestLoadConfig_MissingFile verifies defaults are used when no file exists.
func TestLoadConfig_MissingFile(t *testing.T) {
	t.Setenv("MAILSIFT_CONFIG_DIR", t.TempDir())

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if cfg.OutputFormat != DefaultOutputFormat {
		t.Errorf("OutputFormat = %v, want default", cfg.OutputFormat)
	}
}

// TestValidate verifies configuration validation rules.
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "valid minimal",
			mutate: func(c *Config) { c.RootFolderID = "root" },
		},
		{
			name:    "missing root folder",
			mutate:  func(c *Config) {},
			wantErr: true,
		},
		{
			name: "invalid output format",
			mutate: func(c *Config) {
				c.RootFolderID = "root"
				c.OutputFormat = "xml"
			},
			wantErr: true,
		},
		{
			name: "gemini method without key",
			mutate: func(c *Config) {
				c.RootFolderID = "root"
				c.Invoice.Method = invoice.MethodGemini
			},
			wantErr: true,
		},
		{
			name: "gemini method with key",
			mutate: func(c *Config) {
				c.RootFolderID = "root"
				c.Invoice.Method = invoice.MethodGemini
				c.Gemini.APIKey = "key"
			},
		},
		{
			name: "ai method disabled needs no key",
			mutate: func(c *Config) {
				c.RootFolderID = "root"
				c.Invoice.Method = invoice.MethodOpenAI
				c.Invoice.Enabled = false
			},
		},
		{
			name: "unknown invoice method",
			mutate: func(c *Config) {
				c.RootFolderID = "root"
				c.Invoice.Method = "oracle"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.IsConfiguration(err) {
				t.Errorf("Validate() error = %v, want configuration error", err)
			}
		})
	}
}

// TestResolveAPIKeys verifies secret-store fallback for scorer keys.
func TestResolveAPIKeys(t *testing.T) {
	cfg := DefaultConfig()
	cfg.OpenAI.APIKey = "explicit"

	cfg.ResolveAPIKeys(secretMap{
		SecretGeminiAPIKey: "from-store",
		SecretOpenAIAPIKey: "ignored",
	})

	if cfg.Gemini.APIKey != "from-store" {
		t.Errorf("Gemini.APIKey = %v, want from-store", cfg.Gemini.APIKey)
	}
	if cfg.OpenAI.APIKey != "explicit" {
		t.Errorf("OpenAI.APIKey = %v, explicit key must not be overwritten", cfg.OpenAI.APIKey)
	}
}

// TestSaveAndLoadConfig verifies round-tripping through the config file.
func TestSaveAndLoadConfig(t *testing.T) {
	t.Setenv("MAILSIFT_CONFIG_DIR", t.TempDir())

	cfg := DefaultConfig()
	cfg.RootFolderID = "root-123"
	cfg.Redis.Addr = "localhost:6379"
	cfg.Run.BatchSize = 5

	if err := SaveConfig(cfg); err != nil {
		t.Fatalf("SaveConfig() error = %v", err)
	}

	loaded, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}
	if loaded.RootFolderID != "root-123" {
		t.Errorf("RootFolderID = %v, want root-123", loaded.RootFolderID)
	}
	if loaded.Redis.Addr != "localhost:6379" {
		t.Errorf("Redis.Addr = %v, want localhost:6379", loaded.Redis.Addr)
	}
	if loaded.Run.BatchSize != 5 {
		t.Errorf("Run.BatchSize = %v, want 5", loaded.Run.BatchSize)
	}
}

type secretMap map[string]string

func (m secretMap) Get(name string) (string, error) {
	if v, ok := m[name]; ok {
		return v, nil
	}
	return "", os.ErrNotExist
}
