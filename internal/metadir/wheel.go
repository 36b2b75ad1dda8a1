// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package metadir

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// FromWheel extracts the wheel's .dist-info directory into destDir and
// returns the path of the extracted directory. It is the fallback for
// sessions where metadata-only preparation was skipped in favor of a
// full wheel build.
func FromWheel(wheelPath, destDir string) (string, error) {
	r, err := zip.OpenReader(wheelPath)
	if err != nil {
		return "", fmt.Errorf("read metadata from wheel %s: %v", wheelPath, err)
	}
	defer r.Close()

	distInfo := ""
	for _, f := range r.File {
		name := path.Clean(f.Name)
		if strings.HasPrefix(name, "..") || path.IsAbs(name) {
			return "", fmt.Errorf("read metadata from wheel %s: unsafe member path %q", wheelPath, f.Name)
		}
		top, _, _ := strings.Cut(name, "/")
		if !strings.HasSuffix(top, ".dist-info") {
			continue
		}
		if distInfo == "" {
			distInfo = top
		} else if distInfo != top {
			return "", fmt.Errorf("read metadata from wheel %s: multiple .dist-info directories", wheelPath)
		}
		if err := extractMember(f, filepath.Join(destDir, filepath.FromSlash(name))); err != nil {
			return "", fmt.Errorf("read metadata from wheel %s: %v", wheelPath, err)
		}
	}
	if distInfo == "" {
		return "", fmt.Errorf("read metadata from wheel %s: no .dist-info directory", wheelPath)
	}
	return filepath.Join(destDir, distInfo), nil
}

func extractMember(f *zip.File, dest string) error {
	if f.FileInfo().IsDir() {
		return os.MkdirAll(dest, 0o777)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o777); err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	dst, err := os.Create(dest)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		return err
	}
	return dst.Close()
}
