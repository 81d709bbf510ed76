package main

import (
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/matsen/texharvest/internal/config"
)

var configInitForce bool

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "Overwrite an existing config file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	rootCmd.AddCommand(configCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect or create the configuration file",
	Long: `Inspect or create the configuration file.

Usage:
  texharvest config show     # Effective config (file + env), secrets masked
  texharvest config init     # Write a config file with the defaults
  texharvest config path     # Where the config file is read from`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default values",
	Args:  cobra.NoArgs,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print the config file location",
	Args:  cobra.NoArgs,
	RunE:  runConfigPath,
}

// StatusResponse is a generic response for commands that return status.
type StatusResponse struct {
	Status string `json:"status"`
	Path   string `json:"path,omitempty"`
}

// ConfigPathResponse is the response for config path.
type ConfigPathResponse struct {
	Path   string `json:"path"`
	Exists bool   `json:"exists"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := mustLoadConfig().Redacted()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		exitWithError(ExitError, "encoding config: %v", err)
	}
	if humanOutput {
		outputHuman("%s", data)
		return nil
	}
	// Round-trip through YAML so the JSON keys match the file format.
	var generic map[string]interface{}
	if err := yaml.Unmarshal(data, &generic); err != nil {
		exitWithError(ExitError, "encoding config: %v", err)
	}
	return outputJSON(generic)
}

func resolvedConfigPath() string {
	if configPath != "" {
		return config.ExpandPath(configPath)
	}
	return config.DefaultPath()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	if path == "" {
		exitWithError(ExitConfigError, "cannot determine config location; pass --config")
	}
	if _, err := os.Stat(path); err == nil && !configInitForce {
		exitWithError(ExitConfigError, "%s already exists (use --force to overwrite)", path)
	}
	if err := config.Default().Save(path); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		outputHuman("Wrote default configuration to %s\n", path)
		return nil
	}
	return outputJSON(StatusResponse{Status: "created", Path: path})
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	path := resolvedConfigPath()
	_, err := os.Stat(path)
	resp := ConfigPathResponse{Path: path, Exists: err == nil}
	if humanOutput {
		state := "not present, defaults in use"
		if resp.Exists {
			state = "present"
		}
		outputHuman("%s (%s)\n", resp.Path, state)
		return nil
	}
	return outputJSON(resp)
}
