package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/petalo/mailsift/config"
	"github.com/petalo/mailsift/credentials"
)

// SecretStore is the slice of the credential store the commands need.
type SecretStore interface {
	Get(name string) (string, error)
	Set(name, value string) error
	Delete(name string) error
	List() ([]string, error)
}

// CredentialsCommandDeps holds the dependencies for credential commands.
type CredentialsCommandDeps struct {
	OpenStore func() (SecretStore, error)

	// ReadSecret reads a secret without echo. Overridden in tests.
	ReadSecret func() (string, error)
}

// DefaultCredentialsDeps returns the default dependencies for production use.
func DefaultCredentialsDeps() *CredentialsCommandDeps {
	return &CredentialsCommandDeps{
		OpenStore: func() (SecretStore, error) {
			return credentials.NewStore()
		},
		ReadSecret: readSecretFromTerminal,
	}
}

// readSecretFromTerminal prompts for a secret without echoing it.
func readSecretFromTerminal() (string, error) {
	fmt.Fprint(os.Stderr, "Secret value: ")
	value, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading secret: %w", err)
	}
	return strings.TrimSpace(string(value)), nil
}

// knownSecrets are the secret names the engine reads.
var knownSecrets = []string{
	config.SecretGeminiAPIKey,
	config.SecretOpenAIAPIKey,
}

// NewCredentialsCommand creates the credentials command group.
func NewCredentialsCommand(deps *CredentialsCommandDeps) *cobra.Command {
	if deps == nil {
		deps = DefaultCredentialsDeps()
	}

	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage AI provider API keys",
		Long: `Manage the encrypted secret store holding AI provider API keys.

Secrets the engine reads:
  ` + strings.Join(knownSecrets, "\n  ") + `

Examples:
  mailsift credentials set gemini_api_key   Prompt for the key
  mailsift credentials list
  mailsift credentials delete openai_api_key`,
	}

	cmd.AddCommand(newCredentialsSetCommand(deps))
	cmd.AddCommand(newCredentialsListCommand(deps))
	cmd.AddCommand(newCredentialsDeleteCommand(deps))

	return cmd
}

func newCredentialsSetCommand(deps *CredentialsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Store a secret (prompts for the value)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}

			value, err := deps.ReadSecret()
			if err != nil {
				return err
			}
			if value == "" {
				return fmt.Errorf("empty secret value")
			}

			if err := store.Set(args[0], value); err != nil {
				return fmt.Errorf("storing secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored %s (%s)\n", args[0], credentials.MaskSecret(value))
			return nil
		},
	}
}

func newCredentialsListCommand(deps *CredentialsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secret names",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}

			names, err := store.List()
			if err != nil {
				return fmt.Errorf("listing secrets: %w", err)
			}
			if len(names) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No secrets stored.")
				return nil
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func newCredentialsDeleteCommand(deps *CredentialsCommandDeps) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a stored secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := deps.OpenStore()
			if err != nil {
				return fmt.Errorf("opening credential store: %w", err)
			}
			if err := store.Delete(args[0]); err != nil {
				return fmt.Errorf("deleting secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
