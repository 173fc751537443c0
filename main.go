// Package main provides the mailsift CLI entry point.
// mailsift classifies and files email attachments from a local mailbox.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/petalo/mailsift/cmd"
	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/pkg/buildinfo"
)

// Global flags and state.
var (
	outputFormat string
	debug        bool

	// cfg holds the loaded configuration.
	cfg *config.Config
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mailsift",
	Short: "mailsift - email attachment classification and filing",
	Long: `mailsift scans a mailbox for threads with attachments, classifies each
attachment against an ordered rule set, and files the kept ones into a
sender-named folder tree. Invoices are detected by a scorer chain and
filed a second time under per-domain invoice folders.

COMMON WORKFLOWS:
  Process a mailbox:   mailsift run --mail-dir ./mail
  Preview only:        mailsift run --dry-run
  Check state:         mailsift status
  Store an API key:    mailsift credentials set gemini_api_key

DISCOVERY:
  mailsift <command> --help   Subcommands, flags, and examples
  mailsift config show        Effective configuration
  mailsift status --output json  Machine-readable lock and last-run state`,
	PersistentPreRunE: func(c *cobra.Command, args []string) error {
		// Skip initialization for commands that don't need it.
		if c.Name() == "version" || c.Name() == "help" || c.Name() == "completion" {
			return nil
		}

		// Load configuration.
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("loading configuration: %w", err)
		}

		// Override with command-line flags.
		if outputFormat != "" {
			cfg.OutputFormat = config.OutputFormat(outputFormat)
		}
		if debug {
			cfg.Debug = true
		}

		// Serve metrics and version info while a run is in flight.
		if c.Name() == "run" && cfg.MetricsAddr != "" {
			startMetricsServer(cfg.MetricsAddr)
		}

		return nil
	},
}

// startMetricsServer exposes Prometheus metrics and build info over HTTP.
// Serve errors are reported on stderr; they never fail the command.
func startMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/version", buildinfo.Handler("mailsift"))

	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
			fmt.Fprintf(os.Stderr, "Warning: metrics server: %v\n", err)
		}
	}()
}

// Version command flags.
var (
	versionOutputJSON bool
	versionChangelog  bool
)

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long: `Print the version, commit hash, and build time of the mailsift CLI.

Use --changelog to show commits since the last tag.
Use --output-json for machine-readable output.

Examples:
  mailsift version                         Show CLI version
  mailsift version --changelog             Show commits since last tag
  mailsift version --changelog --output-json  Output changelog as JSON`,
	RunE: func(c *cobra.Command, args []string) error {
		info := buildinfo.Get("mailsift")

		// If --changelog is set, show commits since last tag.
		if versionChangelog {
			tagCmd := exec.Command("git", "describe", "--tags", "--abbrev=0")
			tagOut, err := tagCmd.Output()
			lastTag := strings.TrimSpace(string(tagOut))
			if err != nil || lastTag == "" {
				lastTag = "" // No tags, show all commits
			}

			var logCmd *exec.Cmd
			if lastTag != "" {
				logCmd = exec.Command("git", "log", "--oneline", lastTag+"..HEAD")
			} else {
				logCmd = exec.Command("git", "log", "--oneline")
			}

			logOut, err := logCmd.Output()
			if err != nil {
				return fmt.Errorf("failed to get git log: %w", err)
			}

			changelog := strings.TrimSpace(string(logOut))

			if versionOutputJSON {
				type commit struct {
					Hash    string `json:"hash"`
					Message string `json:"message"`
				}
				commits := []commit{}
				if changelog != "" {
					for _, line := range strings.Split(changelog, "\n") {
						fields := strings.SplitN(line, " ", 2)
						if len(fields) == 2 {
							commits = append(commits, commit{Hash: fields[0], Message: fields[1]})
						}
					}
				}
				enc := json.NewEncoder(c.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(commits)
			}

			out := c.OutOrStdout()
			if changelog == "" {
				fmt.Fprintln(out, "No commits since last tag.")
			} else {
				fmt.Fprintln(out, changelog)
			}
			return nil
		}

		if versionOutputJSON {
			enc := json.NewEncoder(c.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(info)
		}

		out := c.OutOrStdout()
		fmt.Fprintf(out, "mailsift version %s\n", info.Version)
		fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
		fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
		fmt.Fprintf(out, "  go version: %s\n", info.GoVersion)
		return nil
	},
}

// completionCmd generates shell completion scripts.
var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion scripts",
	Long: `Generate shell completion scripts for mailsift.

To load completions:

Bash:
  $ source <(mailsift completion bash)

  # To load completions for each session, execute once:
  # Linux:
  $ mailsift completion bash > /etc/bash_completion.d/mailsift
  # macOS:
  $ mailsift completion bash > $(brew --prefix)/etc/bash_completion.d/mailsift

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # To load completions for each session, execute once:
  $ mailsift completion zsh > "${fpath[1]}/_mailsift"

  # You will need to start a new shell for this setup to take effect.

Fish:
  $ mailsift completion fish | source

  # To load completions for each session, execute once:
  $ mailsift completion fish > ~/.config/fish/completions/mailsift.fish

PowerShell:
  PS> mailsift completion powershell | Out-String | Invoke-Expression

  # To load completions for every new session, run:
  PS> mailsift completion powershell > mailsift.ps1
  # and source this file from your PowerShell profile.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(c *cobra.Command, args []string) error {
		switch args[0] {
		case "bash":
			return rootCmd.GenBashCompletion(os.Stdout)
		case "zsh":
			return rootCmd.GenZshCompletion(os.Stdout)
		case "fish":
			return rootCmd.GenFishCompletion(os.Stdout, true)
		case "powershell":
			return rootCmd.GenPowerShellCompletionWithDesc(os.Stdout)
		}
		return nil
	},
}

func init() {
	// Global flags.
	rootCmd.PersistentFlags().StringVar(&outputFormat, "output", "", "output format: text, json")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	// Add command groups for organized help output.
	rootCmd.AddGroup(
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	// Operations
	runCmd := cmd.NewRunCommand(nil)
	runCmd.GroupID = "ops"
	rootCmd.AddCommand(runCmd)

	statusCmd := cmd.NewStatusCommand(nil)
	statusCmd.GroupID = "ops"
	rootCmd.AddCommand(statusCmd)

	confirmCmd := cmd.NewConfirmCommand(nil)
	confirmCmd.GroupID = "ops"
	rootCmd.AddCommand(confirmCmd)

	// Setup
	configCmd := cmd.NewConfigCommand(nil)
	configCmd.GroupID = "setup"
	rootCmd.AddCommand(configCmd)

	credentialsCmd := cmd.NewCredentialsCommand(nil)
	credentialsCmd.GroupID = "setup"
	rootCmd.AddCommand(credentialsCmd)

	completionCmd.GroupID = "setup"
	rootCmd.AddCommand(completionCmd)

	versionCmd.GroupID = "setup"
	versionCmd.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	versionCmd.Flags().BoolVar(&versionChangelog, "changelog", false, "Show commits since last tag")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	// Set up signal handling for graceful shutdown.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nReceived interrupt signal, shutting down...")
		cancel()

		// A second signal forces exit.
		<-sigChan
		os.Exit(1)
	}()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
