// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"

	"github.com/cyberdrop-dl-go/cyberdrop/pkg/cyberdrop"
)

func writeConfigFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing config file: %v", err)
	}
	return path
}

func TestApplySettingsDefaults_JSONFillsUnsetFields(t *testing.T) {
	path := writeConfigFile(t, "cfg.json", `{"output": "/data/downloads", "max-downloads": 42, "retries": 7, "backoff-initial": "2s"}`)

	cmd := &cobra.Command{}
	dst := cyberdrop.DefaultSettings()
	cmd.Flags().StringVar(&dst.OutputDir, "output", dst.OutputDir, "")
	cmd.Flags().IntVar(&dst.MaxSimultaneousDownloads, "max-downloads", dst.MaxSimultaneousDownloads, "")
	cmd.Flags().IntVar(&dst.MaxRetries, "retries", dst.MaxRetries, "")
	cmd.Flags().DurationVar(&dst.BackoffInitial, "backoff-initial", dst.BackoffInitial, "")

	ro := &RootOpts{Config: path}
	if err := applySettingsDefaults(cmd, ro, &dst); err != nil {
		t.Fatalf("applySettingsDefaults: %v", err)
	}

	if dst.OutputDir != "/data/downloads" {
		t.Errorf("OutputDir = %q, want /data/downloads", dst.OutputDir)
	}
	if dst.MaxSimultaneousDownloads != 42 {
		t.Errorf("MaxSimultaneousDownloads = %d, want 42", dst.MaxSimultaneousDownloads)
	}
	if dst.MaxRetries != 7 {
		t.Errorf("MaxRetries = %d, want 7", dst.MaxRetries)
	}
}

func TestApplySettingsDefaults_ExplicitFlagWins(t *testing.T) {
	path := writeConfigFile(t, "cfg.json", `{"max-downloads": 42}`)

	cmd := &cobra.Command{}
	dst := cyberdrop.DefaultSettings()
	cmd.Flags().IntVar(&dst.MaxSimultaneousDownloads, "max-downloads", dst.MaxSimultaneousDownloads, "")
	if err := cmd.Flags().Set("max-downloads", "5"); err != nil {
		t.Fatalf("setting flag: %v", err)
	}

	ro := &RootOpts{Config: path}
	if err := applySettingsDefaults(cmd, ro, &dst); err != nil {
		t.Fatalf("applySettingsDefaults: %v", err)
	}

	if dst.MaxSimultaneousDownloads != 5 {
		t.Errorf("expected the explicitly-set flag (5) to win over the config file (42), got %d", dst.MaxSimultaneousDownloads)
	}
}

func TestApplySettingsDefaults_YAMLConfig(t *testing.T) {
	path := writeConfigFile(t, "cfg.yaml", "output: /data/yaml\nretries: 9\n")

	cmd := &cobra.Command{}
	dst := cyberdrop.DefaultSettings()
	cmd.Flags().StringVar(&dst.OutputDir, "output", dst.OutputDir, "")
	cmd.Flags().IntVar(&dst.MaxRetries, "retries", dst.MaxRetries, "")

	ro := &RootOpts{Config: path}
	if err := applySettingsDefaults(cmd, ro, &dst); err != nil {
		t.Fatalf("applySettingsDefaults: %v", err)
	}
	if dst.OutputDir != "/data/yaml" {
		t.Errorf("OutputDir = %q, want /data/yaml", dst.OutputDir)
	}
	if dst.MaxRetries != 9 {
		t.Errorf("MaxRetries = %d, want 9", dst.MaxRetries)
	}
}

func TestApplySettingsDefaults_MissingExplicitConfigErrors(t *testing.T) {
	cmd := &cobra.Command{}
	dst := cyberdrop.DefaultSettings()
	orig := dst.OutputDir

	ro := &RootOpts{Config: filepath.Join(t.TempDir(), "does-not-exist.json")}
	if err := applySettingsDefaults(cmd, ro, &dst); err == nil {
		t.Fatal("expected an error reading a missing, explicitly-requested config file")
	}
	if dst.OutputDir != orig {
		t.Errorf("settings should be untouched on error, got %q", dst.OutputDir)
	}
}
