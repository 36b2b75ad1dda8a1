// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep517

import (
	"errors"
	"fmt"
	"strings"
)

// BackendFailed is the domain failure for a build-backend command.
// Every protocol-level or backend-level error leaves the client wrapped
// in this type, carrying the backend's own diagnostics so they are not
// lost in translation.
type BackendFailed struct {
	// Code is the error code reported by the backend.
	Code int
	// ExcType is the label of the exception type raised in the backend.
	ExcType string
	// ExcMsg is the exception message.
	ExcMsg string
	// Out and Err are the standard output and standard error text
	// captured while the failing command ran.
	Out string
	Err string
}

func (e *BackendFailed) Error() string {
	sb := new(strings.Builder)
	fmt.Fprintf(sb, "backend failed (code %d)", e.Code)
	if e.ExcType != "" {
		fmt.Fprintf(sb, ": %s", e.ExcType)
	}
	if e.ExcMsg != "" {
		fmt.Fprintf(sb, ": %s", e.ExcMsg)
	}
	return sb.String()
}

// WrapFailure translates an error from the protocol layer into a
// [*BackendFailed]. Wrapping is idempotent: an error that already is a
// *BackendFailed is returned unchanged, so diagnostics never get nested
// or duplicated on the way out of the client.
func WrapFailure(err error, out, stderr string) *BackendFailed {
	var backendFailed *BackendFailed
	if errors.As(err, &backendFailed) {
		return backendFailed
	}
	return &BackendFailed{
		Code:    1,
		ExcType: "RuntimeError",
		ExcMsg:  err.Error(),
		Out:     out,
		Err:     stderr,
	}
}

// unexpectedResponse builds the failure for a backend response that does
// not match the expected schema for the command issued.
// It takes the same wrap path as a backend-reported failure.
func unexpectedResponse(cmd string, got []byte, want string, out, stderr string) error {
	err := fmt.Errorf("command %s produced unexpected response %s (expected %s)", cmd, got, want)
	return WrapFailure(err, out, stderr)
}
