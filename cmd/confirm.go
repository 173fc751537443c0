package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/petalo/mailsift/config"
)

// ConfirmCommandDeps holds the dependencies for the confirm command.
type ConfirmCommandDeps struct {
	LoadConfig func() (*config.Config, error)

	// Confirm marks a sender's filed invoices as confirmed and returns how
	// many rows changed. Overridden in tests.
	Confirm func(ctx context.Context, cfg *config.Config, sender string) (int64, error)
}

// DefaultConfirmDeps returns the default dependencies for production use.
func DefaultConfirmDeps() *ConfirmCommandDeps {
	return &ConfirmCommandDeps{
		LoadConfig: config.LoadConfig,
		Confirm:    confirmSender,
	}
}

// NewConfirmCommand creates the confirm command.
func NewConfirmCommand(deps *ConfirmCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultConfirmDeps()
	}

	cmd := &cobra.Command{
		Use:   "confirm <sender>",
		Short: "Confirm a sender's filed invoices",
		Long: `Mark the invoices already filed from a sender as confirmed.

Confirmed invoices are the only history fed into the AI scorer prompts as
context for future messages from that sender; automatic classifications
never qualify on their own.

Examples:
  mailsift confirm billing@acme.example`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if cfg.JournalDSN == "" {
				return fmt.Errorf("confirm requires a run journal (set journal_dsn)")
			}

			sender := args[0]
			n, err := deps.Confirm(cmd.Context(), cfg, sender)
			if err != nil {
				return err
			}

			if n == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No unconfirmed invoices on file from %s.\n", sender)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Confirmed %d invoice(s) from %s.\n", n, sender)
			return nil
		},
	}

	return cmd
}
