package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apitest-cli/apitest/pkg/profiles"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the apitest configuration",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigListProfilesCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config file with example profiles",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			target := path
			if target == "" {
				target = profiles.DefaultPath()
			}
			if err := profiles.WriteExample(target); err != nil {
				return err
			}
			fmt.Printf("Wrote example config to %s\n", target)
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to write the config file to")
	return cmd
}

func newConfigListProfilesCommand() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "list-profiles",
		Short: "List profiles from the config file",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			var config *profiles.Config
			var err error
			if path != "" {
				config, err = profiles.Load(path)
			} else {
				config, err = profiles.LoadDefault()
			}
			if err != nil {
				return err
			}

			if len(config.Profiles) == 0 {
				fmt.Println("No profiles configured; run 'apitest config init' to create examples")
				return nil
			}
			for name, profile := range config.Profiles {
				if profile.Description != "" {
					fmt.Printf("%s\t%s\t%s\n", name, profile.BaseURL, profile.Description)
				} else {
					fmt.Printf("%s\t%s\n", name, profile.BaseURL)
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&path, "config", "c", "", "Path to the config file")
	return cmd
}
