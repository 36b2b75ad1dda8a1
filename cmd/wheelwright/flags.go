// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package main

import (
	"strings"

	"github.com/spf13/pflag"

	"wheelwright.build/pkg/internal/packager"
)

// kindsFlag is a repeatable --kind flag that validates each value.
type kindsFlag struct {
	kinds *[]packager.Kind
}

var _ pflag.Value = (*kindsFlag)(nil)

func newKindsFlag(kinds *[]packager.Kind) *kindsFlag {
	return &kindsFlag{kinds: kinds}
}

func (f *kindsFlag) Type() string { return "kind" }

func (f *kindsFlag) String() string {
	parts := make([]string, 0, len(*f.kinds))
	for _, k := range *f.kinds {
		parts = append(parts, string(k))
	}
	return strings.Join(parts, ",")
}

func (f *kindsFlag) Set(s string) error {
	kind, err := packager.ParseKind(s)
	if err != nil {
		return err
	}
	*f.kinds = append(*f.kinds, kind)
	return nil
}
