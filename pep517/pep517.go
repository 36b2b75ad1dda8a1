// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package pep517 implements a client for the PEP 517 build-backend
// protocol. A single long-lived backend process serves requests for one
// build session: the client writes one serialized request line to the
// process's standard input, the backend writes the structured result to a
// side-channel file and reports completion by logging a sentinel line on
// its standard output.
package pep517

import (
	"context"
	"encoding/json"
)

// Protocol command names.
const (
	CmdRequiresForBuildWheel        = "get_requires_for_build_wheel"
	CmdRequiresForBuildSdist        = "get_requires_for_build_sdist"
	CmdPrepareMetadataForBuildWheel = "prepare_metadata_for_build_wheel"
	CmdBuildWheel                   = "build_wheel"
	CmdBuildSdist                   = "build_sdist"

	// cmdExit asks the backend process to shut down cooperatively.
	cmdExit = "_exit"
)

// ConfigSettings is the config_settings mapping passed through to the
// backend's build hooks.
type ConfigSettings map[string]any

// commandRequest is the request line written to the backend's standard
// input, one JSON object per line.
type commandRequest struct {
	Cmd    string         `json:"cmd"`
	Kwargs map[string]any `json:"kwargs"`
	// Result is the path of the side-channel file the backend must write
	// its structured result to.
	Result string `json:"result"`
}

// commandResult is the structured result read from the side-channel file.
// Exactly one of Return or the failure fields is populated:
// a non-empty ExcType marks a backend-reported failure.
type commandResult struct {
	Return  json.RawMessage `json:"return"`
	Code    int             `json:"code"`
	ExcType string          `json:"exc_type"`
	ExcMsg  string          `json:"exc_msg"`
}

// Process is a handle to a live build-backend process.
// It is the boundary to the process supervisor:
// implementations own the spawning and stream plumbing.
type Process interface {
	// WriteLine writes a single line of text to the process's standard
	// input, appending the line terminator.
	WriteLine(line string) error
	// ExitCode returns the process's exit code if it has exited.
	ExitCode() (code int, exited bool)
	// Output returns the raw bytes accumulated so far
	// from the process's standard output.
	Output() []byte
	// Stderr returns the raw bytes accumulated so far
	// from the process's standard error.
	Stderr() []byte
	// Close releases the process handle,
	// terminating the process if it is still running.
	// Close must be called exactly once.
	Close() error
}

// StartOptions describes the process to start for a build session.
type StartOptions struct {
	Cmd []string
	Dir string
	Env map[string]string
}

// StartFunc starts a backend process for a [Client].
type StartFunc func(ctx context.Context, opts *StartOptions) (Process, error)
