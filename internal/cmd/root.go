// Package cmd implements the syncrail command line interface.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/syncrail/syncrail/internal/config"
	"github.com/syncrail/syncrail/internal/observability"
)

var (
	cfgFile string
	verbose bool

	// configReadErr records a malformed config file so commands fail loudly
	// instead of silently running on defaults.
	configReadErr error

	// Version info set by the main package via ldflags.
	versionInfo = struct {
		Version   string
		Commit    string
		BuildDate string
	}{
		Version:   "dev",
		Commit:    "unknown",
		BuildDate: "unknown",
	}
)

// SetVersionInfo is called by the main package to inject build information.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var rootCmd = &cobra.Command{
	Use:   "syncrail",
	Short: "Mirror rate-limited upstream API collections into a table store",
	Long: `syncrail pulls paginated resource collections from an upstream HTTP API
and mirrors them as upserted rows into a downstream table store, sending
only records whose content changed since the last run.

Use the subcommands to run syncs, inspect the change cache, manage
persisted rate-limit state, or start the status server.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.syncrail/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output (sets log level to debug)")

	_ = viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))
}

// initConfig wires viper: defaults first, then the config file, then
// SYNCRAIL_* environment variables on top.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".syncrail"))
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("./config")
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("SYNCRAIL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			configReadErr = fmt.Errorf("read config file: %w", err)
		}
	}
}

// loadConfig decodes the merged viper state into the typed config.
func loadConfig() (*config.Config, error) {
	if configReadErr != nil {
		return nil, Exit(ExitConfigError, configReadErr)
	}
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, Exit(ExitConfigError, err)
	}
	return cfg, nil
}

// setupLogger builds the process logger from config, honoring --verbose.
func setupLogger(cfg *config.Config) (*zap.Logger, error) {
	logging := cfg.Logging
	if verbose {
		logging.Level = "debug"
	}
	logger, err := observability.NewLogger(logging)
	if err != nil {
		return nil, Exit(ExitConfigError, err)
	}
	return logger, nil
}
