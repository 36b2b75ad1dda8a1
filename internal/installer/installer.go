// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package installer defines the boundary to the component that installs
// build-time requirements into the active build environment.
package installer

import (
	"context"
	"fmt"
	"os/exec"

	"zombiezen.com/go/log"

	"wheelwright.build/pkg/pep508"
)

// An Installer installs dependency specifications into the active build
// environment. reason is a stable label naming why the installation was
// requested (e.g. "requires_for_build_wheel").
type Installer interface {
	Install(ctx context.Context, reqs []*pep508.Requirement, reason string) error
}

// Pip installs requirements with the environment's pip.
type Pip struct {
	// Python is the interpreter of the build environment.
	// Defaults to "python".
	Python string
}

// Install runs pip install for the given requirements.
// It is a no-op for an empty requirement list.
func (p *Pip) Install(ctx context.Context, reqs []*pep508.Requirement, reason string) error {
	if len(reqs) == 0 {
		return nil
	}
	python := p.Python
	if python == "" {
		python = "python"
	}
	args := []string{"-m", "pip", "install"}
	for _, req := range reqs {
		args = append(args, req.String())
	}
	log.Infof(ctx, "Installing %d requirement(s) (%s)", len(reqs), reason)
	cmd := exec.CommandContext(ctx, python, args...)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("install %s requirements: %v\n%s", reason, err, output)
	}
	return nil
}

// Null discards installation requests.
// It is used when the build environment is managed externally.
type Null struct{}

func (Null) Install(ctx context.Context, reqs []*pep508.Requirement, reason string) error {
	log.Debugf(ctx, "Skipping installation of %d requirement(s) (%s): externally managed environment", len(reqs), reason)
	return nil
}
