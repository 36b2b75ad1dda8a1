// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package pyproject reads the project descriptor (pyproject.toml)
// that names the project's build backend and its static build-time
// requirements.
package pyproject

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"wheelwright.build/pkg/pep508"
)

// Legacy build-system values used when a project has no pyproject.toml
// or no [build-system] table (PEP 517's fallback behavior).
const legacyBackend = "setuptools.build_meta:__legacy__"

var legacyRequires = []string{"setuptools >= 40.8"}

// Config is the build-relevant subset of a project descriptor.
type Config struct {
	// Backend is the build-backend specifier, e.g. "setuptools.build_meta".
	Backend string
	// BackendPaths are in-tree backend directories, resolved against the
	// project root.
	BackendPaths []string
	// Requires are the backend's static build-time requirements,
	// parsed once from the descriptor.
	Requires []*pep508.Requirement
}

type descriptor struct {
	BuildSystem buildSystem `toml:"build-system"`
}

type buildSystem struct {
	Requires     []string `toml:"requires"`
	BuildBackend string   `toml:"build-backend"`
	BackendPath  []string `toml:"backend-path"`
}

// Load reads the descriptor from the project root.
// A missing pyproject.toml or [build-system] table yields the legacy
// setuptools configuration.
func Load(root string) (*Config, error) {
	path := filepath.Join(root, "pyproject.toml")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return legacyConfig()
	}
	if err != nil {
		return nil, fmt.Errorf("load project descriptor: %v", err)
	}

	var desc descriptor
	if err := toml.Unmarshal(data, &desc); err != nil {
		return nil, fmt.Errorf("load project descriptor %s: %v", path, err)
	}
	if desc.BuildSystem.BuildBackend == "" {
		return legacyConfig()
	}

	requires, err := pep508.ParseAll(desc.BuildSystem.Requires)
	if err != nil {
		return nil, fmt.Errorf("load project descriptor %s: %v", path, err)
	}
	cfg := &Config{
		Backend:  desc.BuildSystem.BuildBackend,
		Requires: requires,
	}
	for _, p := range desc.BuildSystem.BackendPath {
		if !filepath.IsAbs(p) {
			p = filepath.Join(root, p)
		}
		cfg.BackendPaths = append(cfg.BackendPaths, p)
	}
	return cfg, nil
}

func legacyConfig() (*Config, error) {
	requires, err := pep508.ParseAll(legacyRequires)
	if err != nil {
		return nil, err
	}
	return &Config{Backend: legacyBackend, Requires: requires}, nil
}
