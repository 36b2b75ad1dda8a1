// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package packager

import (
	"fmt"

	"wheelwright.build/pkg/pep508"
)

// Kind identifies the kind of package artifact to produce.
type Kind string

// Supported package kinds.
const (
	// Wheel is a prebuilt binary distribution.
	Wheel Kind = "wheel"
	// Sdist is a source distribution archive.
	Sdist Kind = "sdist"
	// DevLegacy is a legacy editable installation:
	// the project root itself stands in for a built artifact.
	DevLegacy Kind = "dev-legacy"
	// External is a package file built outside this session.
	External Kind = "external"
)

// ParseKind validates a package kind string.
func ParseKind(s string) (Kind, error) {
	switch k := Kind(s); k {
	case Wheel, Sdist, DevLegacy, External:
		return k, nil
	default:
		return "", fmt.Errorf("unknown package kind %q", s)
	}
}

// An Artifact is a produced package: its location and the dependency
// specifications a consumer must install alongside it. Artifacts are
// not mutated after construction.
type Artifact struct {
	Kind Kind
	// Path is the built file for wheel, sdist, and external artifacts,
	// or the project root for dev-legacy.
	Path string
	// Deps always includes the extras-expanded requirements appropriate
	// to the environment that requested the package.
	Deps []*pep508.Requirement
}

// UnsupportedKindError reports that a packager was asked to produce a
// kind it does not implement. This is a caller contract violation, not
// a recoverable condition.
type UnsupportedKindError struct {
	Kind Kind
}

func (e *UnsupportedKindError) Error() string {
	return fmt.Sprintf("cannot handle package kind %q", e.Kind)
}
