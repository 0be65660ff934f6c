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

const configBase = "modelfetch"

// DefaultConfig returns the default configuration.
func DefaultConfig() map[string]any {
	return map[string]any{
		"connections":         8,
		"max-active":          3,
		"multipart-threshold": "32MiB",
		"verify":              "size",
		"retries":             4,
		"backoff-initial":     "400ms",
		"backoff-max":         "10s",
		"token":               "",
	}
}

// applyConfigDefaults loads flag defaults from --config or
// ~/.config/modelfetch.{json,yaml,yml}. Flags set on the command line win.
func applyConfigDefaults(cmd *cobra.Command, ro *RootOpts) error {
	path := ro.Config
	if path == "" {
		home, _ := os.UserHomeDir()
		for _, ext := range []string{".json", ".yaml", ".yml"} {
			p := filepath.Join(home, ".config", configBase+ext)
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}
	if path == "" {
		return nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var cfg map[string]any
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid YAML config file: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &cfg); err != nil {
			return fmt.Errorf("invalid JSON config file: %w", err)
		}
	}

	setStr := func(flagName string, set func(string)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			set(fmt.Sprint(v))
		}
	}
	setInt := func(flagName string, set func(int)) {
		if cmd.Flags().Changed(flagName) {
			return
		}
		if v, ok := cfg[flagName]; ok && v != nil {
			var x int
			fmt.Sscan(fmt.Sprint(v), &x)
			set(x)
		}
	}

	setInt("connections", func(v int) { ro.Connections = v })
	setInt("max-active", func(v int) { ro.MaxActive = v })
	setStr("multipart-threshold", func(v string) { ro.MultipartThreshold = v })
	setStr("verify", func(v string) { ro.Verify = v })
	setInt("retries", func(v int) { ro.Retries = v })
	setStr("backoff-initial", func(v string) { ro.BackoffInitial = v })
	setStr("backoff-max", func(v string) { ro.BackoffMax = v })

	if !cmd.Flags().Changed("token") && os.Getenv("HF_TOKEN") == "" {
		if v, ok := cfg["token"]; ok && v != nil {
			ro.Token = fmt.Sprint(v)
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
		Long: `Creates a default configuration file at ~/.config/` + configBase + `.json (or .yaml)

The configuration file sets default values for all command flags.
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
			configPath := filepath.Join(configDir, configBase+ext)

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
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

			if err := os.WriteFile(configPath, data, 0o644); err != nil {
				return fmt.Errorf("could not write config file: %w", err)
			}

			fmt.Printf("✓ Created config file: %s\n", configPath)
			fmt.Println()
			fmt.Println("Edit this file to set your defaults. For example:")
			fmt.Println("  - Set your hub access token")
			fmt.Println("  - Adjust connection and retry settings")

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
			home, _ := os.UserHomeDir()
			configPath := filepath.Join(home, ".config", configBase+".json")

			if _, err := os.Stat(configPath); err != nil {
				fmt.Println("No config file found.")
				fmt.Printf("Run 'modelfetch config init' to create one at:\n  %s\n", configPath)
				return nil
			}

			data, err := os.ReadFile(configPath)
			if err != nil {
				return err
			}

			fmt.Printf("Config file: %s\n\n", configPath)
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
			home, _ := os.UserHomeDir()
			fmt.Println(filepath.Join(home, ".config", configBase+".json"))
		},
	}
}
