// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	return map[string]any{
		"image-root": defaultImageRoot(),
		"quiet":      false,
		"json":       false,
	}
}

func configPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "rawpull.json")
}

// loadConfigFile reads a JSON or YAML config file, keyed by extension (JSON
// when unrecognized), same convention the teacher uses in its own config
// loader.
func loadConfigFile(path string) (map[string]any, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("invalid JSON config file: %w", err)
		}
	}
	return cfg, nil
}

// findConfigPath resolves the config file to use: an explicit --config
// flag wins, otherwise the first of rawpull.json / rawpull.yaml /
// rawpull.yml found under ~/.config.
func findConfigPath(explicit string) string {
	if explicit != "" {
		return explicit
	}
	home, _ := os.UserHomeDir()
	for _, name := range []string{"rawpull.json", "rawpull.yaml", "rawpull.yml"} {
		p := filepath.Join(home, ".config", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// applyRootDefaults backfills any RootOpts field the user didn't set via
// flag from the config file, falling back to DefaultConfig() otherwise
// (flags > config file > defaults).
func applyRootDefaults(cmd *cobra.Command, ro *RootOpts) error {
	cfg := DefaultConfig()
	if path := findConfigPath(ro.Config); path != "" {
		fileCfg, err := loadConfigFile(path)
		if err != nil {
			return err
		}
		for k, v := range fileCfg {
			cfg[k] = v
		}
	}

	if !cmd.Flags().Changed("image-root") && ro.ImageRoot == "" {
		if v, ok := cfg["image-root"]; ok {
			ro.ImageRoot = fmt.Sprint(v)
		}
	}
	if !cmd.Flags().Changed("quiet") {
		if v, ok := cfg["quiet"].(bool); ok {
			ro.Quiet = v
		}
	}
	if !cmd.Flags().Changed("json") {
		if v, ok := cfg["json"].(bool); ok {
			ro.JSONOut = v
		}
	}
	return nil
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var (
		force   bool
		useYAML bool
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/rawpull.json (or .yaml)

The configuration file sets default values for the global flags.
CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("could not find home directory: %w", err)
			}

			configDir := filepath.Join(home, ".config")
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			path := filepath.Join(configDir, "rawpull"+ext)

			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", path)
			}
			if err := os.MkdirAll(configDir, 0o755); err != nil {
				return fmt.Errorf("could not create config directory: %w", err)
			}

			cfg := DefaultConfig()
			var data []byte
			if useYAML {
				data, err = yaml.Marshal(cfg)
			} else {
				data, err = json.MarshalIndent(cfg, "", "  ")
			}
			if err != nil {
				return err
			}
			if err := os.WriteFile(path, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Printf("Created config file: %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite existing config file")
	cmd.Flags().BoolVar(&useYAML, "yaml", false, "Create YAML config instead of JSON")

	return cmd
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := findConfigPath("")
			if path == "" {
				fmt.Println("No config file found.")
				fmt.Printf("Run 'rawpull config init' to create one at:\n  %s\n", configPath())
				return nil
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			fmt.Printf("Config file: %s\n\n", path)
			fmt.Println(string(data))
			return nil
		},
	}
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the config file path",
		Run: func(cmd *cobra.Command, args []string) {
			if path := findConfigPath(""); path != "" {
				fmt.Println(path)
				return
			}
			fmt.Println(configPath())
		},
	}
}
