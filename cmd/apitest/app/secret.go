package app

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/apitest-cli/apitest/pkg/secrets"
)

func newSecretCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "secret",
		Short: "Manage stored secrets",
		Long: `The secret command provides subcommands to set, get, delete, and list
secrets in the configured credential store (OS keyring by default).`,
	}

	cmd.AddCommand(
		newSecretSetCommand(),
		newSecretGetCommand(),
		newSecretDeleteCommand(),
		newSecretListCommand(),
	)

	return cmd
}

func newSecretSetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "set <name>",
		Short: "Set a secret",
		Long: `Set a secret with the given name.

If data is piped to the command, the value is read from stdin:

  echo "my-secret-value" | apitest secret set my-secret

Otherwise you are prompted to enter the value (input hidden).`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			value, err := readSecretValue()
			if err != nil {
				return err
			}
			if value == "" {
				return errors.New("secret value cannot be empty")
			}

			provider, err := secrets.CreateDefaultProvider()
			if err != nil {
				return fmt.Errorf("failed to create secrets provider: %w", err)
			}

			if err := provider.SetSecret(cmd.Context(), name, value); err != nil {
				return fmt.Errorf("failed to set secret %s: %w", name, err)
			}
			fmt.Printf("Secret %s set successfully\n", name)
			return nil
		},
	}
}

// readSecretValue reads the secret from piped stdin or an interactive
// hidden prompt.
func readSecretValue() (string, error) {
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("error reading secret from stdin: %w", err)
		}
		return strings.TrimSuffix(string(data), "\n"), nil
	}

	fmt.Print("Enter secret value (input will be hidden): ")
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("error reading secret from terminal: %w", err)
	}
	return string(data), nil
}

func newSecretGetCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Get a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			provider, err := secrets.CreateDefaultProvider()
			if err != nil {
				return fmt.Errorf("failed to create secrets provider: %w", err)
			}

			value, err := provider.GetSecret(cmd.Context(), name)
			if err != nil {
				return fmt.Errorf("failed to get secret %s: %w", name, err)
			}
			fmt.Println(value)
			return nil
		},
	}
}

func newSecretDeleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			provider, err := secrets.CreateDefaultProvider()
			if err != nil {
				return fmt.Errorf("failed to create secrets provider: %w", err)
			}

			if err := provider.DeleteSecret(cmd.Context(), name); err != nil {
				return fmt.Errorf("failed to delete secret %s: %w", name, err)
			}
			fmt.Printf("Secret %s deleted\n", name)
			return nil
		},
	}
}

func newSecretListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored secrets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			provider, err := secrets.CreateDefaultProvider()
			if err != nil {
				return fmt.Errorf("failed to create secrets provider: %w", err)
			}

			if !provider.Capabilities().CanList {
				return errors.New("the configured secrets provider does not support listing")
			}

			descriptions, err := provider.ListSecrets(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list secrets: %w", err)
			}
			if len(descriptions) == 0 {
				fmt.Println("No secrets stored")
				return nil
			}
			for _, d := range descriptions {
				if d.Description != "" {
					fmt.Printf("%s\t%s\n", d.Key, d.Description)
				} else {
					fmt.Println(d.Key)
				}
			}
			return nil
		},
	}
}
