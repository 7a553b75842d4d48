// Package cli handles the command-line interface logic
// using the Cobra library.
package cli

import (
	"github.com/BartekS5/bulkmigrate/internal/config"
	"github.com/BartekS5/bulkmigrate/pkg/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Build variables, set by ldflags.
var (
	version = "dev"
	commit  = "unknown"
)

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "bulkmigrate",
		Short: "bulkmigrate - resumable bulk ingestion of CSV exports into a search index",
		Long: `bulkmigrate streams a delimited export through a document transformer and
bulk-upserts the result into Elasticsearch or MongoDB. Progress is checkpointed,
so an interrupted run resumes where it stopped.`,
		Version:      version + " (" + commit + ")",
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringP("config", "c", "", "Path to a config file (yaml, json or toml)")
	pf.String("log-level", "info", "Log level: debug, info, warn, error")
	pf.String("log-format", "text", "Log format: text or json")
	pf.String("log-file", "", "Also write logs to this file")

	rootCmd.AddCommand(NewMigrateCmd(), newStatusCmd(), newResetCmd())

	return rootCmd
}

// loadConfig resolves configuration for cmd: flags set on the command line
// win over BULKMIGRATE_* variables, which win over the config file and the
// defaults. It also installs the logger.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")
	v, err := config.NewViper(configPath)
	if err != nil {
		return nil, err
	}
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}

	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	if err := logger.Setup(logger.Config{Format: cfg.LogFormat, Level: cfg.LogLevel, File: cfg.LogFile}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	var err error
	flags.VisitAll(func(f *pflag.Flag) {
		if err != nil || f.Name == "config" || f.Name == "help" || f.Name == "version" {
			return
		}
		// Only explicit flags override; unset flags must not mask env or file values.
		if f.Changed {
			err = v.BindPFlag(f.Name, f)
		}
	})
	return err
}
