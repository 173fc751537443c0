package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/pkg/run"
)

// Status command flags.
var statusOutput string

// Status is what the status command reports: lock state from the
// coordination store plus the most recent run summary.
type Status struct {
	LockHeld       bool        `json:"lock_held"`
	LockHolder     string      `json:"lock_holder,omitempty"`
	LockAcquiredAt time.Time   `json:"lock_acquired_at,omitempty"`
	LastRun        *run.Result `json:"last_run,omitempty"`
}

// StatusCommandDeps holds the dependencies for the status command.
type StatusCommandDeps struct {
	LoadConfig func() (*config.Config, error)

	// Fetch reads the current status. Overridden in tests.
	Fetch func(ctx context.Context, cfg *config.Config) (*Status, error)
}

// DefaultStatusDeps returns the default dependencies for production use.
func DefaultStatusDeps() *StatusCommandDeps {
	return &StatusCommandDeps{
		LoadConfig: config.LoadConfig,
		Fetch:      fetchStatus,
	}
}

// NewStatusCommand creates the status command.
func NewStatusCommand(deps *StatusCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultStatusDeps()
	}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show lock state and the last run summary",
		Long: `Show whether an execution lock is currently held, by whom and since
when, plus the outcome of the most recent run.

Examples:
  mailsift status
  mailsift status --output json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}
			if statusOutput != "" {
				cfg.OutputFormat = config.OutputFormat(statusOutput)
			}

			status, err := deps.Fetch(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			return printStatus(cmd.OutOrStdout(), cfg.OutputFormat, status)
		},
	}

	cmd.Flags().StringVar(&statusOutput, "output", "", "output format: text or json")

	return cmd
}

// printStatus renders the status in the requested format.
func printStatus(w io.Writer, format config.OutputFormat, status *Status) error {
	if format == config.OutputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if status.LockHeld {
		fmt.Fprintf(w, "Execution lock: held by %s since %s (%s ago)\n",
			status.LockHolder,
			status.LockAcquiredAt.Format(time.RFC3339),
			time.Since(status.LockAcquiredAt).Round(time.Second))
	} else {
		fmt.Fprintln(w, "Execution lock: free")
	}

	if status.LastRun == nil {
		fmt.Fprintln(w, "Last run: none recorded")
		return nil
	}

	last := status.LastRun
	if last.Skipped {
		fmt.Fprintf(w, "Last run: %s skipped (lock held) at %s\n",
			last.RunID, last.StartedAt.Format(time.RFC3339))
		return nil
	}
	fmt.Fprintf(w, "Last run: %s at %s\n", last.RunID, last.StartedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "  threads processed: %d of %d examined\n", last.ThreadsProcessed, last.ThreadsExamined)
	fmt.Fprintf(w, "  attachments: %d kept, %d skipped, %d duplicates\n",
		last.AttachmentsKept, last.AttachmentsSkipped, last.Duplicates)
	fmt.Fprintf(w, "  invoice copies: %d, errors: %d\n", last.InvoiceCopies, last.Errors)
	return nil
}
