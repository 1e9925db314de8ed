package main

import (
	"fmt"
	"os"

	"codeoverlay/internal/config"
	"codeoverlay/internal/version"

	"github.com/spf13/cobra"
)

var (
	// configFlag is the CLI --config flag value
	configFlag string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "codeoverlay",
	Short: "codeoverlay - live annotations and refactoring suggestions for Swift editors",
	Long: `codeoverlay keeps a syntax tree in sync with an open Swift editor buffer,
anchors analysis annotations to declarations across edits and proposes
extract-method refactorings. It talks to the editor overlay over JSON lines
on stdio or over a WebSocket.`,
	Version:       version.Version,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.SetVersionTemplate("codeoverlay version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Path to a config file (default: .codeoverlay/config.toml in the working directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Override logging.level: debug, info, warn or error")
}

// loadConfig resolves configuration.
// Precedence: --config flag > CODEOVERLAY_CONFIG_PATH > ./.codeoverlay/config.* > defaults
func loadConfig() (*config.LoadResult, error) {
	var (
		result *config.LoadResult
		err    error
	)
	if configFlag != "" {
		result, err = config.LoadFile(configFlag)
	} else {
		var root string
		root, err = os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		result, err = config.Load(root)
	}
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		result.Config.Logging.Level = logLevel
	}
	return result, nil
}

// mustLoadConfig loads configuration or exits.
func mustLoadConfig() *config.LoadResult {
	result, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	return result
}
