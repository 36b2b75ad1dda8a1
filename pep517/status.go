// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep517

import "bytes"

// responseSentinel is the line prefix the backend logs on its standard
// output once it has written a command's structured result to the
// side-channel file. The line is only complete once terminated by a
// newline: the path after the prefix may otherwise still be truncated.
const responseSentinel = "Backend: Wrote response "

// CmdStatus tracks one in-flight protocol command against a live backend
// process and decides when the command has finished. The backend
// interleaves human-readable logging with the completion sentinel, so
// completion is detected by scanning the raw output rather than by
// framing it.
type CmdStatus struct {
	proc     Process
	outStart int
	errStart int
}

// NewCmdStatus returns a status for a command about to be issued against
// proc. Output written before this point is attributed to earlier
// commands.
func NewCmdStatus(proc Process) *CmdStatus {
	return &CmdStatus{
		proc:     proc,
		outStart: len(proc.Output()),
		errStart: len(proc.Stderr()),
	}
}

// Done reports whether the in-flight command has finished:
// either the backend process exited (with any exit code),
// or the output written since the command was issued contains a
// newline-terminated completion sentinel. Sentinels from earlier
// commands are not considered.
func (st *CmdStatus) Done() bool {
	if _, exited := st.proc.ExitCode(); exited {
		return true
	}
	out := st.proc.Output()[st.outStart:]
	i := bytes.LastIndex(out, []byte(responseSentinel))
	if i < 0 {
		return false
	}
	return bytes.IndexByte(out[i+len(responseSentinel):], '\n') >= 0
}

// OutErr returns the standard output and standard error text captured
// for this command. Both strings are empty if the command was
// interrupted before any output was captured.
func (st *CmdStatus) OutErr() (out, stderr string) {
	if st == nil || st.proc == nil {
		return "", ""
	}
	outBytes := st.proc.Output()
	errBytes := st.proc.Stderr()
	if st.outStart <= len(outBytes) {
		out = string(outBytes[st.outStart:])
	}
	if st.errStart <= len(errBytes) {
		stderr = string(errBytes[st.errStart:])
	}
	return out, stderr
}
