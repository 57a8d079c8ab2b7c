// Package app provides the entry point for the apitest command-line application.
package app

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/apitest-cli/apitest/pkg/logger"
)

var rootCmd = &cobra.Command{
	Use:               "apitest",
	DisableAutoGenTag: true,
	Short:             "apitest is a command-line API testing tool with auth chain fallback",
	Long: `apitest sends requests to HTTP APIs and handles authentication for you.

A profile declares one or more auth methods (bearer tokens, API keys, custom
headers, OAuth2 grants). When the target rejects a credential with 401 or 403,
apitest automatically falls back to the next declared method. OAuth2 tokens
are fetched, cached in the OS keyring and refreshed as needed.`,
	PersistentPreRun: func(*cobra.Command, []string) {
		// Reconfigure logging now that the debug flag has been parsed.
		logger.Initialize()
	},
	Run: func(cmd *cobra.Command, _ []string) {
		if err := cmd.Help(); err != nil {
			logger.Errorf("Error displaying help: %v", err)
		}
	},
}

// NewRootCmd creates a new root command for the apitest CLI.
func NewRootCmd() *cobra.Command {
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")
	if err := viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug")); err != nil {
		logger.Errorf("Error binding debug flag: %v", err)
	}

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newSecretCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}
