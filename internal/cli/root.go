package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rshade/mktcache/internal/config"
	"github.com/rshade/mktcache/internal/logging"
)

// annotationSkipConfig marks commands that run without loading the config file.
const annotationSkipConfig = "mktcache/skip-config"

// isTerminal checks if the given file is a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// logger is the package-level logger for CLI operations.
var logger zerolog.Logger //nolint:gochecknoglobals // Required for zerolog context integration

// NewRootCmd creates the root Cobra command for the mktcache CLI.
func NewRootCmd(ver string) *cobra.Command {
	return NewRootCmdWithEnv(ver, os.LookupEnv)
}

// NewRootCmdWithEnv creates the root command with an explicit env lookup for testability.
func NewRootCmdWithEnv(ver string, lookupEnv func(string) (string, bool)) *cobra.Command {
	var logResult *logging.LogPathResult

	cmd := &cobra.Command{
		Use:           "mktcache",
		Short:         "Market-data snapshot cache",
		Long:          "mktcache: keep local copies of remote market datasets fresh against the trading calendar",
		Version:       ver,
		Example:       rootCmdExample,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations[annotationSkipConfig] == "" {
				if err := loadConfig(cmd, lookupEnv); err != nil {
					return err
				}
			}

			result := setupLogging(cmd)
			logResult = &result
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return cleanupLogging(cmd, logResult)
		},
	}

	cmd.PersistentFlags().Bool("debug", false, "enable debug logging")
	cmd.PersistentFlags().String("config", "", "config file (default $MKTCACHE_HOME/config.yaml)")
	cmd.AddCommand(
		NewFetchCmd(), NewStatusCmd(), NewInvalidateCmd(),
		newCalendarCmd(), newStoreCmd(), newConfigCmd(),
	)

	return cmd
}

// loadConfig resolves the config path from --config, MKTCACHE_CONFIG or the
// default location, loads it with the project overlay and installs it globally.
func loadConfig(cmd *cobra.Command, lookupEnv func(string) (string, bool)) error {
	path, err := resolveConfigPath(cmd, lookupEnv)
	if err != nil {
		return err
	}

	var overlays []string
	if wd, wdErr := os.Getwd(); wdErr == nil {
		overlays = append(overlays, filepath.Join(wd, config.ProjectOverlayFile))
	}

	cfg, err := config.Load(path, overlays...)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	config.SetGlobalConfig(cfg)
	return nil
}

func resolveConfigPath(cmd *cobra.Command, lookupEnv func(string) (string, bool)) (string, error) {
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		return path, nil
	}
	if path, ok := lookupEnv("MKTCACHE_CONFIG"); ok && path != "" {
		return path, nil
	}
	return config.GetConfigPath()
}

const rootCmdExample = `  # Refresh every configured dataset
  mktcache fetch

  # Refresh one dataset
  mktcache fetch spot

  # Show whether cached copies are fresh
  mktcache status

  # Is the market open right now?
  mktcache calendar check

  # Most recent trading day on or before a date
  mktcache calendar nearest 2023-10-22

  # Create a default configuration
  mktcache config init`

// newCalendarCmd creates the calendar command group.
func newCalendarCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "calendar", Short: "Trading calendar queries"}
	cmd.AddCommand(NewCalendarCheckCmd(), NewCalendarNearestCmd())
	return cmd
}

// newStoreCmd creates the store command group over the saved-date store.
func newStoreCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "store", Short: "Inspect and edit the saved-date store"}
	cmd.AddCommand(NewStoreListCmd(), NewStoreGetCmd(), NewStoreSetCmd(), NewStoreDeleteCmd())
	return cmd
}

// newConfigCmd creates the config command group.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Configuration management commands"}
	cmd.AddCommand(NewConfigInitCmd(), NewConfigShowCmd())
	return cmd
}
