package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/credentials"
	"github.com/petalo/mailsift/pkg/run"
)

// Run command flags.
var (
	runDryRun    bool
	runBatchSize int
	runMailDir   string
	runOutput    string
)

// RunCommandDeps holds the dependencies for the run command.
type RunCommandDeps struct {
	LoadConfig func() (*config.Config, error)

	// OpenSecrets opens the credential store backing AI API keys left out
	// of the config file. Nil, or an open error, means keys must come from
	// config; Validate reports when neither source has one.
	OpenSecrets func() (config.SecretSource, error)

	// Execute performs one controller invocation. Overridden in tests.
	Execute func(ctx context.Context, cfg *config.Config) (*run.Result, error)
}

// DefaultRunDeps returns the default dependencies for production use.
func DefaultRunDeps() *RunCommandDeps {
	return &RunCommandDeps{
		LoadConfig:  config.LoadConfig,
		OpenSecrets: func() (config.SecretSource, error) {
			store, err := credentials.NewStore()
			if err != nil {
				return nil, err
			}
			return store, nil
		},
		Execute:     executeRun,
	}
}

// NewRunCommand creates the run command.
func NewRunCommand(deps *RunCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultRunDeps()
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scan the mailbox and file attachments",
		Long: `Run one sorting pass: scan unprocessed threads with attachments,
classify each attachment, file kept ones into per-domain folders, and label
the threads processed.

Overlapping runs are safe: if another invocation holds the execution lock,
this one reports skipped and exits successfully.

Examples:
  mailsift run                         One batch with configured settings
  mailsift run --dry-run               Classify and report, write nothing
  mailsift run --batch-size 25         Larger batch
  mailsift run --output json           Machine-readable result`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := deps.LoadConfig()
			if err != nil {
				return fmt.Errorf("loading configuration: %w", err)
			}

			if runMailDir != "" {
				cfg.MailDir = runMailDir
			}
			if runBatchSize > 0 {
				cfg.Run.BatchSize = runBatchSize
			}
			if runDryRun {
				cfg.Run.DryRun = true
			}
			if runOutput != "" {
				cfg.OutputFormat = config.OutputFormat(runOutput)
			}

			if deps.OpenSecrets != nil {
				if secrets, err := deps.OpenSecrets(); err == nil {
					cfg.ResolveAPIKeys(secrets)
				}
			}

			if err := cfg.Validate(); err != nil {
				return err
			}

			result, err := deps.Execute(cmd.Context(), cfg)
			if err != nil {
				return err
			}

			return printResult(cmd.OutOrStdout(), cfg.OutputFormat, result)
		},
	}

	cmd.Flags().BoolVar(&runDryRun, "dry-run", false, "classify and report without writing files or labels")
	cmd.Flags().IntVar(&runBatchSize, "batch-size", 0, "max threads with kept attachments per run")
	cmd.Flags().StringVar(&runMailDir, "mail-dir", "", "directory of .eml files to scan")
	cmd.Flags().StringVar(&runOutput, "output", "", "output format: text or json")

	return cmd
}

// printResult renders the run outcome in the requested format.
func printResult(w io.Writer, format config.OutputFormat, result *run.Result) error {
	if format == config.OutputFormatJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}

	if result.Skipped {
		fmt.Fprintln(w, "Run skipped: another instance holds the execution lock.")
		return nil
	}

	fmt.Fprintf(w, "Run %s finished in %s\n", result.RunID, result.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  threads examined:    %d\n", result.ThreadsExamined)
	fmt.Fprintf(w, "  threads processed:   %d\n", result.ThreadsProcessed)
	fmt.Fprintf(w, "  attachments kept:    %d\n", result.AttachmentsKept)
	fmt.Fprintf(w, "  attachments skipped: %d\n", result.AttachmentsSkipped)
	fmt.Fprintf(w, "  duplicates:          %d\n", result.Duplicates)
	fmt.Fprintf(w, "  invoice copies:      %d\n", result.InvoiceCopies)
	fmt.Fprintf(w, "  errors:              %d\n", result.Errors)
	return nil
}
