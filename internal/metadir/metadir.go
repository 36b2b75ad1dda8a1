// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package metadir reads resolved package metadata directories
// (.dist-info) produced by a build backend.
package metadir

import (
	"bufio"
	"fmt"
	"net/textproto"
	"os"
	"path/filepath"
)

// Requires returns the requirement strings declared by the metadata
// directory dir, in declaration order.
func Requires(dir string) ([]string, error) {
	header, err := readMetadata(dir)
	if err != nil {
		return nil, err
	}
	return header.Values("Requires-Dist"), nil
}

// Name returns the distribution name declared by the metadata directory.
func Name(dir string) (string, error) {
	header, err := readMetadata(dir)
	if err != nil {
		return "", err
	}
	name := header.Get("Name")
	if name == "" {
		return "", fmt.Errorf("read metadata %s: missing Name field", dir)
	}
	return name, nil
}

// readMetadata parses the METADATA file's header block.
// Core metadata is an RFC 822-style header section
// optionally followed by a body (the project description).
func readMetadata(dir string) (textproto.MIMEHeader, error) {
	path := filepath.Join(dir, "METADATA")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read metadata: %v", err)
	}
	defer f.Close()
	header, err := textproto.NewReader(bufio.NewReader(f)).ReadMIMEHeader()
	if err != nil {
		// A METADATA file with no trailing blank line ends in io.EOF;
		// the header read up to that point is still usable.
		if len(header) == 0 {
			return nil, fmt.Errorf("read metadata %s: %v", path, err)
		}
	}
	return header, nil
}
