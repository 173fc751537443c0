// Package cmd provides CLI commands for the mailsift tool.
package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/pkg/invoice"
	"github.com/petalo/mailsift/pkg/run"
)

// mockRunConfig creates a configuration that validates cleanly.
func mockRunConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.RootFolderID = "/tmp/attachments"
	cfg.MailDir = "/tmp/mail"
	return cfg
}

func sampleResult() *run.Result {
	return &run.Result{
		RunID:              "run-123",
		ThreadsExamined:    5,
		ThreadsProcessed:   3,
		AttachmentsKept:    4,
		AttachmentsSkipped: 7,
		Duplicates:         1,
		InvoiceCopies:      2,
		StartedAt:          time.Date(2024, 4, 1, 10, 0, 0, 0, time.UTC),
		Duration:           1500 * time.Millisecond,
	}
}

func TestNewRunCommand(t *testing.T) {
	cmd := NewRunCommand(nil)
	assert.NotNil(t, cmd)
	assert.Equal(t, "run", cmd.Use)
	assert.NotNil(t, cmd.Flags().Lookup("dry-run"))
	assert.NotNil(t, cmd.Flags().Lookup("batch-size"))
}

func TestRunCommand_FlagsOverrideConfig(t *testing.T) {
	var got *config.Config
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockRunConfig(), nil },
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			got = cfg
			return sampleResult(), nil
		},
	}

	cmd := NewRunCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{"--dry-run", "--batch-size", "25", "--mail-dir", "/somewhere/else"})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.True(t, got.Run.DryRun)
	assert.Equal(t, 25, got.Run.BatchSize)
	assert.Equal(t, "/somewhere/else", got.MailDir)
}

func TestRunCommand_TextOutput(t *testing.T) {
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockRunConfig(), nil },
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			return sampleResult(), nil
		},
	}

	out := &bytes.Buffer{}
	cmd := NewRunCommand(deps)
	cmd.SetOut(out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "run-123")
	assert.Contains(t, out.String(), "attachments kept:    4")
	assert.Contains(t, out.String(), "invoice copies:      2")
}

func TestRunCommand_JSONOutput(t *testing.T) {
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockRunConfig(), nil },
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			return sampleResult(), nil
		},
	}

	out := &bytes.Buffer{}
	cmd := NewRunCommand(deps)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"--output", "json"})
	require.NoError(t, cmd.Execute())

	var decoded run.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, "run-123", decoded.RunID)
	assert.Equal(t, 4, decoded.AttachmentsKept)
}

func TestRunCommand_SkippedRun(t *testing.T) {
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockRunConfig(), nil },
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			return &run.Result{RunID: "run-456", Skipped: true}, nil
		},
	}

	out := &bytes.Buffer{}
	cmd := NewRunCommand(deps)
	cmd.SetOut(out)
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "skipped")
}

// stubSecrets is an in-memory config.SecretSource.
type stubSecrets map[string]string

func (s stubSecrets) Get(name string) (string, error) {
	v, ok := s[name]
	if !ok {
		return "", fmt.Errorf("secret %q not found", name)
	}
	return v, nil
}

func TestRunCommand_ResolvesAPIKeyFromCredentialStore(t *testing.T) {
	var got *config.Config
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			cfg := mockRunConfig()
			cfg.Invoice.Enabled = true
			cfg.Invoice.Method = invoice.MethodGemini
			return cfg, nil
		},
		OpenSecrets: func() (config.SecretSource, error) {
			return stubSecrets{config.SecretGeminiAPIKey: "key-from-store"}, nil
		},
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			got = cfg
			return sampleResult(), nil
		},
	}

	cmd := NewRunCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	require.NoError(t, cmd.Execute())

	require.NotNil(t, got)
	assert.Equal(t, "key-from-store", got.Gemini.APIKey)
}

func TestRunCommand_AIMethodWithoutAnyKeyFails(t *testing.T) {
	executed := false
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			cfg := mockRunConfig()
			cfg.Invoice.Enabled = true
			cfg.Invoice.Method = invoice.MethodGemini
			return cfg, nil
		},
		OpenSecrets: func() (config.SecretSource, error) {
			return stubSecrets{}, nil // store exists but holds no key
		},
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			executed = true
			return sampleResult(), nil
		},
	}

	cmd := NewRunCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
	assert.False(t, executed)
}

func TestRunCommand_InvalidConfigFailsBeforeExecute(t *testing.T) {
	executed := false
	deps := &RunCommandDeps{
		LoadConfig: func() (*config.Config, error) {
			cfg := config.DefaultConfig() // no root folder
			cfg.MailDir = "/tmp/mail"
			return cfg, nil
		},
		Execute: func(ctx context.Context, cfg *config.Config) (*run.Result, error) {
			executed = true
			return sampleResult(), nil
		},
	}

	cmd := NewRunCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{})
	assert.Error(t, cmd.Execute())
	assert.False(t, executed)
}
