package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rshade/mktcache/internal/config"
)

// NewConfigInitCmd creates the config init command for initializing configuration.
func NewConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration file with default values",
		Long: `Creates a new configuration file with default values at --config, or at
$MKTCACHE_HOME/config.yaml (default ~/.mktcache/config.yaml), along with the
default cache and data directories.`,
		Example: `  # Create the default configuration
  mktcache config init

  # Overwrite an existing configuration
  mktcache config init --force`,
		Annotations: map[string]string{annotationSkipConfig: "true"},
		Args:        cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := resolveConfigPath(cmd, os.LookupEnv)
			if err != nil {
				return err
			}
			return initConfig(cmd, path, force)
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing configuration file")
	return cmd
}

// initConfig writes the default configuration to path.
func initConfig(cmd *cobra.Command, path string, force bool) error {
	if !force {
		_, err := os.Stat(path)
		if err == nil {
			return errors.New("configuration file already exists, use --force to overwrite")
		}
		if !os.IsNotExist(err) {
			return fmt.Errorf("cannot access config path %s: %w", path, err)
		}
	}

	cfg := config.New()
	if err := cfg.Save(path); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	config.SetGlobalConfig(cfg)
	if err := config.EnsureSubDirs(); err != nil {
		return fmt.Errorf("failed to create cache directories: %w", err)
	}

	cmd.Printf("Configuration initialized at %s\n", path)
	return nil
}

// NewConfigShowCmd creates the config show command.
func NewConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Long:  "Prints the configuration after defaults, the project overlay and MKTCACHE_* overrides.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := yaml.Marshal(config.GetGlobalConfig())
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
