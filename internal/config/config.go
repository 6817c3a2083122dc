// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and saves cartograph's project configuration
// file, `.cartograph/project.yaml`: project identity plus the File
// Streamer's indexing knobs.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	cgerrors "github.com/kraklabs/cartograph/internal/errors"
)

const (
	defaultConfigDir  = ".cartograph"
	defaultConfigFile = "project.yaml"
	configVersion     = "1"
)

// Config is the `.cartograph/project.yaml` configuration file.
type Config struct {
	Version   string         `yaml:"version"`
	ProjectID string         `yaml:"project_id"`
	Indexing  IndexingConfig `yaml:"indexing"`
	Store     StoreConfig    `yaml:"store"`
}

// IndexingConfig controls the File Streamer's discovery and parsing
// behavior (spec §4.6).
type IndexingConfig struct {
	IncludeGlobs     []string `yaml:"include,omitempty"`
	ExcludeGlobs     []string `yaml:"exclude"`
	MaxFileSizeBytes int64    `yaml:"max_file_size"`
	Workers          int      `yaml:"workers"`
}

// StoreConfig controls the Graph Store's embedded database (spec §4.5).
type StoreConfig struct {
	DataDir string `yaml:"data_dir"`
	Engine  string `yaml:"engine"` // rocksdb, sqlite, mem
}

// Default returns a Config with sensible defaults for a new project.
func Default(projectID string) *Config {
	return &Config{
		Version:   configVersion,
		ProjectID: projectID,
		Indexing: IndexingConfig{
			MaxFileSizeBytes: 1048576, // 1MB, spec §4.6 default cap
			Workers:          0,       // 0 lets the File Streamer pick its default (8)
			ExcludeGlobs: []string{
				".git/**",
				"node_modules/**",
				"vendor/**",
				"dist/**",
				"build/**",
			},
		},
		Store: StoreConfig{
			DataDir: ".cartograph/db",
			Engine:  "rocksdb",
		},
	}
}

// Load loads configuration from configPath, or finds it by walking up
// from the current directory when configPath is empty.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		var err error
		configPath, err = find()
		if err != nil {
			return nil, err
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, cgerrors.Wrap(cgerrors.PathNotFound, "cannot read configuration file "+configPath, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, cgerrors.Wrap(cgerrors.StoreTransactionFailed, "invalid configuration format in "+configPath, err)
	}
	if cfg.Version != configVersion {
		return nil, cgerrors.New(cgerrors.StoreTransactionFailed, "unsupported configuration version "+cfg.Version)
	}
	return &cfg, nil
}

// Save writes cfg to configPath as YAML, creating the parent directory
// if necessary.
func Save(cfg *Config, configPath string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return cgerrors.Wrap(cgerrors.StoreTransactionFailed, "cannot encode configuration", err)
	}
	if err := os.MkdirAll(filepath.Dir(configPath), 0o750); err != nil {
		return cgerrors.Wrap(cgerrors.StoreTransactionFailed, "cannot create configuration directory", err)
	}
	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return cgerrors.Wrap(cgerrors.StoreTransactionFailed, "cannot write configuration file", err)
	}
	return nil
}

// Path returns the config file path under dir.
func Path(dir string) string {
	return filepath.Join(dir, defaultConfigDir, defaultConfigFile)
}

// Dir returns the .cartograph directory path under dir.
func Dir(dir string) string {
	return filepath.Join(dir, defaultConfigDir)
}

// find walks up from the current directory looking for
// .cartograph/project.yaml.
func find() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", cgerrors.Wrap(cgerrors.StoreTransactionFailed, "cannot access working directory", err)
	}
	for {
		candidate := Path(dir)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", cgerrors.New(cgerrors.PathNotFound, "no .cartograph/project.yaml found in current directory or any parent")
}
