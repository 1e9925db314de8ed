package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"codeoverlay/internal/config"

	"github.com/spf13/cobra"
)

var (
	configFormat    string
	configInitForce bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage codeoverlay configuration",
	Long:  "View and manage configuration stored in .codeoverlay/config.toml",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Long: `Display the effective configuration after defaults, the config file
and CODEOVERLAY_* environment overrides are applied.

Examples:
  codeoverlay config show
  codeoverlay config show --format yaml
  CODEOVERLAY_ANALYSIS_WORKERS=8 codeoverlay config show --format json`,
	Run: runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default config file",
	Long:  "Write the default configuration to .codeoverlay/config.toml in the working directory",
	Run:   runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (json, yaml, human)")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponseCLI is the response format for config show
type ConfigShowResponseCLI struct {
	ConfigPath   string         `json:"configPath,omitempty" yaml:"configPath,omitempty"`
	UsedDefaults bool           `json:"usedDefaults" yaml:"usedDefaults"`
	EnvOverrides []string       `json:"envOverrides,omitempty" yaml:"envOverrides,omitempty"`
	Config       *config.Config `json:"config" yaml:"config"`
}

func runConfigShow(cmd *cobra.Command, args []string) {
	result := mustLoadConfig()

	resp := &ConfigShowResponseCLI{
		ConfigPath:   result.ConfigPath,
		UsedDefaults: result.UsedDefaults,
		EnvOverrides: envOverrides(os.Environ()),
		Config:       result.Config,
	}
	output, err := FormatResponse(resp, OutputFormat(configFormat))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	path, err := initConfig(root, configInitForce)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", path)
}

// initConfig writes the default configuration under root. An existing file
// is kept unless force is set.
func initConfig(root string, force bool) (string, error) {
	path := filepath.Join(root, config.Dir, "config.toml")
	if _, err := os.Stat(path); err == nil && !force {
		return "", fmt.Errorf("%s already exists (use --force to overwrite)", path)
	}
	return config.DefaultConfig().Save(root)
}

// envOverrides lists the names of CODEOVERLAY_* variables set in env.
func envOverrides(env []string) []string {
	var out []string
	prefix := config.EnvPrefix + "_"
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if ok && strings.HasPrefix(name, prefix) {
			out = append(out, name)
		}
	}
	return out
}
