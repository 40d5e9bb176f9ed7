// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// DefaultConfig returns the default configuration, mirrored against
// cyberdrop.DefaultSettings so `config init` and the flag defaults never
// drift apart.
func DefaultConfig() map[string]any {
	return map[string]any{
		"output":            "Downloads",
		"max-downloads":      15,
		"max-scrapes":        10,
		"retries":            3,
		"backoff-initial":    "400ms",
		"backoff-max":        "10s",
		"hash-mode":          "post",
		"auto-dedupe":        false,
		"min-free-space":     "512MiB",
		"flaresolverr-url":   "",
		"db":                 "cyberdrop.db",
	}
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

func defaultConfigPath(ext string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find home directory: %w", err)
	}
	return filepath.Join(home, ".config", "cyberdrop-dl"+ext), nil
}

func newConfigInitCmd() *cobra.Command {
	var force, useYAML bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create a default configuration file",
		Long: `Creates a default configuration file at ~/.config/cyberdrop-dl.json (or .yaml).

The configuration file sets default values for these flags: output,
max-downloads, max-scrapes, retries, backoff-initial, backoff-max, hash-mode,
flaresolverr-url and db. Other keys in the file are not applied.
CLI flags always override config file values.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ext := ".json"
			if useYAML {
				ext = ".yaml"
			}
			configPath, err := defaultConfigPath(ext)
			if err != nil {
				return err
			}

			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("config file already exists: %s\nUse --force to overwrite", configPath)
			}
			if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
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

			fmt.Printf("Created config file: %s\n", configPath)
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
			configPath, err := defaultConfigPath(".json")
			if err != nil {
				return err
			}
			if _, err := os.Stat(configPath); err != nil {
				fmt.Println("No config file found.")
				fmt.Printf("Run 'cyberdrop-dl config init' to create one at:\n  %s\n", configPath)
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
		RunE: func(cmd *cobra.Command, args []string) error {
			configPath, err := defaultConfigPath(".json")
			if err != nil {
				return err
			}
			fmt.Println(configPath)
			return nil
		},
	}
}
