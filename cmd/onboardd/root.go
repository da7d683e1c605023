package main

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JakeFAU/onboard-forms/internal/config"
)

// rootOptions are shared by every subcommand.
type rootOptions struct {
	configPath string
	envFile    string
}

// newRootCmd creates the root command and registers the subcommands.
func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "onboardd",
		Short: "Autosave and progress service for onboarding forms.",
		Long: `onboardd hosts live onboarding form sessions. Clients stream field
edits to it; it renders completion progress, debounces autosaves to the
configured store, and restores saved progress when a user returns.`,
		SilenceUsage: true,

		// Runs before every subcommand so .env values are visible to Viper.
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return opts.loadEnv()
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (YAML, JSON or TOML)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return cmd
}

// loadEnv reads the dotenv file when it exists. Variables already set in the
// environment win.
func (o *rootOptions) loadEnv() error {
	if o.envFile == "" {
		return nil
	}
	if err := godotenv.Load(o.envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load env file %s: %w", o.envFile, err)
	}
	return nil
}

func (o *rootOptions) load() (config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
