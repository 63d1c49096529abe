package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/leafscan/leafscan/cmd/health"
	"github.com/leafscan/leafscan/cmd/pending"
	"github.com/leafscan/leafscan/cmd/serve"
	"github.com/leafscan/leafscan/cmd/sync"
	"github.com/leafscan/leafscan/internal/app"
	"github.com/leafscan/leafscan/internal/conf"
	"github.com/leafscan/leafscan/internal/errors"
)

// RootCommand creates the root command. settings is filled in before any
// subcommand runs.
func RootCommand(settings *conf.Settings) *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "leafscan",
		Short:         "Leaf disease scans with offline-first sync",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := conf.Load(configFile)
			if err != nil {
				return err
			}
			*settings = *loaded
			return app.SetupLogging(settings)
		},
	}

	if err := setupFlags(rootCmd, &configFile); err != nil {
		panic(err)
	}

	rootCmd.AddCommand(
		serve.Command(settings),
		sync.Command(settings),
		pending.Command(settings),
		health.Command(settings),
	)
	return rootCmd
}

// setupFlags defines the global flags and binds them to their config keys.
func setupFlags(rootCmd *cobra.Command, configFile *string) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(configFile, "config", "", "Path to config.yaml (default: search ., ~/.config/leafscan, /etc/leafscan)")
	flags.String("env", conf.EnvDevelopment, "Environment: development or production")
	flags.BoolP("debug", "d", false, "Enable debug output")

	for key, flag := range map[string]string{"environment": "env", "debug": "debug"} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return errors.New(err).Component("cmd").Category(errors.CategoryConfiguration).Build()
		}
	}
	return nil
}
