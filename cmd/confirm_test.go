package cmd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petalo/mailsift/config"
)

func mockConfirmConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.JournalDSN = "postgres://localhost/mailsift"
	return cfg
}

func TestNewConfirmCommand(t *testing.T) {
	cmd := NewConfirmCommand(nil)
	assert.NotNil(t, cmd)
	assert.Equal(t, "confirm <sender>", cmd.Use)
}

func TestConfirmCommand_MarksSender(t *testing.T) {
	var gotSender string
	deps := &ConfirmCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockConfirmConfig(), nil },
		Confirm: func(ctx context.Context, cfg *config.Config, sender string) (int64, error) {
			gotSender = sender
			return 3, nil
		},
	}

	out := &bytes.Buffer{}
	cmd := NewConfirmCommand(deps)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"billing@acme.example"})
	require.NoError(t, cmd.Execute())

	assert.Equal(t, "billing@acme.example", gotSender)
	assert.Contains(t, out.String(), "Confirmed 3 invoice(s) from billing@acme.example")
}

func TestConfirmCommand_NothingToConfirm(t *testing.T) {
	deps := &ConfirmCommandDeps{
		LoadConfig: func() (*config.Config, error) { return mockConfirmConfig(), nil },
		Confirm: func(ctx context.Context, cfg *config.Config, sender string) (int64, error) {
			return 0, nil
		},
	}

	out := &bytes.Buffer{}
	cmd := NewConfirmCommand(deps)
	cmd.SetOut(out)
	cmd.SetArgs([]string{"quiet@acme.example"})
	require.NoError(t, cmd.Execute())

	assert.Contains(t, out.String(), "No unconfirmed invoices")
}

func TestConfirmCommand_RequiresJournal(t *testing.T) {
	confirmed := false
	deps := &ConfirmCommandDeps{
		LoadConfig: func() (*config.Config, error) { return config.DefaultConfig(), nil },
		Confirm: func(ctx context.Context, cfg *config.Config, sender string) (int64, error) {
			confirmed = true
			return 0, nil
		},
	}

	cmd := NewConfirmCommand(deps)
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"billing@acme.example"})
	assert.Error(t, cmd.Execute())
	assert.False(t, confirmed)
}
