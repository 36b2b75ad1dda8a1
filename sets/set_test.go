// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package sets

import (
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestSet(t *testing.T) {
	s := New("wheel", "sdist")
	if !s.Has("wheel") {
		t.Error(`s.Has("wheel") = false; want true`)
	}
	if s.Has("external") {
		t.Error(`s.Has("external") = true; want false`)
	}
	if got, want := s.Len(), 2; got != want {
		t.Errorf("s.Len() = %d; want %d", got, want)
	}

	s.Add("external")
	s.Delete("sdist")
	want := []string{"external", "wheel"}
	got := slices.Collect(s.All())
	if diff := cmp.Diff(want, got, cmpopts.SortSlices(func(a, b string) bool { return a < b })); diff != "" {
		t.Errorf("s.All() (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, Sorted(s)); diff != "" {
		t.Errorf("Sorted(s) (-want +got):\n%s", diff)
	}
}

func TestSetZeroValue(t *testing.T) {
	var s Set[string]
	if s.Has("anything") {
		t.Error(`zero set Has("anything") = true; want false`)
	}
	if got := s.Len(); got != 0 {
		t.Errorf("zero set Len() = %d; want 0", got)
	}
	if got := s.Clone(); got == nil || got.Len() != 0 {
		t.Errorf("zero set Clone() = %v; want empty non-nil", got)
	}
}

func TestCollect(t *testing.T) {
	s := Collect(slices.Values([]string{"a", "b", "a"}))
	if diff := cmp.Diff([]string{"a", "b"}, Sorted(s)); diff != "" {
		t.Errorf("Collect (-want +got):\n%s", diff)
	}
}
