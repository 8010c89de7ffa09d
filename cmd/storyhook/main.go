// Package main is the storyhook CLI entry point.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hyperjump/storyhook/internal/config"
	"github.com/hyperjump/storyhook/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/storyhook/config.yaml"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	debug      bool
}

// loadConfig loads config from path. When path is the default, it first looks for
// config.yaml in the current directory (for development); if that exists it is used.
// Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func newLogger(cfg *config.Config, debug bool) (*zap.Logger, error) {
	if debug || cfg.Debug {
		return utils.NewLogger(true)
	}
	return utils.NewLoggerWithLevel(cfg.Log.Level, cfg.Log.Format)
}

func newRootCmd() *cobra.Command {
	flags := &globalFlags{}
	root := &cobra.Command{
		Use:   "storyhook",
		Short: "storyhook - import documents from Airstory into a local CMS store",
		Long: `storyhook receives Airstory webhook deliveries, fetches the rendered document,
stores it as a draft content record and sideloads its images.

Examples:
  storyhook serve
  storyhook token set alice <token>
  storyhook connect alice
  storyhook import --identity alice <project> <document>
  storyhook search "spring launch"`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.configPath, "config", defaultConfigPath, "config file path")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddCommand(
		newServeCmd(flags),
		newImportCmd(flags),
		newTokenCmd(flags),
		newConnectCmd(flags),
		newDisconnectCmd(flags),
		newSearchCmd(flags),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "storyhook version %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
