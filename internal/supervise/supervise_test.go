// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package supervise

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"wheelwright.build/pkg/pep517"
)

func TestProcess(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on a POSIX shell")
	}

	proc, err := Start(&pep517.StartOptions{
		Cmd: []string{"/bin/sh", "-c", `read line; echo "got $line"; echo "oops" >&2; exit 3`},
		Dir: t.TempDir(),
		Env: map[string]string{"WHEELWRIGHT_TEST": "1"},
	})
	if err != nil {
		t.Fatal(err)
	}
	defer proc.Close()

	if _, exited := proc.ExitCode(); exited {
		t.Error("process reported exited immediately after start")
	}
	if err := proc.WriteLine("hello"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		if _, exited := proc.ExitCode(); exited {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("process did not exit")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if code, _ := proc.ExitCode(); code != 3 {
		t.Errorf("exit code = %d; want 3", code)
	}
	if got := string(proc.Output()); got != "got hello\n" {
		t.Errorf("output = %q; want %q", got, "got hello\n")
	}
	if got := string(proc.Stderr()); got != "oops\n" {
		t.Errorf("stderr = %q; want %q", got, "oops\n")
	}
}

func TestProcessCloseUnresponsive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("test relies on a POSIX shell")
	}

	// The process ignores its closed standard input, so Close must kill it.
	proc, err := Start(&pep517.StartOptions{
		Cmd: []string{"/bin/sh", "-c", "sleep 60"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := proc.Close(); err != nil {
		t.Fatal(err)
	}
	if _, exited := proc.ExitCode(); !exited {
		t.Error("process not reaped after Close")
	}
	// Calls after the first are no-ops.
	if err := proc.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestStartErrors(t *testing.T) {
	if _, err := Start(&pep517.StartOptions{}); err == nil {
		t.Error("Start with empty command line did not return an error")
	}
	if _, err := Start(&pep517.StartOptions{Cmd: []string{"/nonexistent-wheelwright-binary"}}); err == nil {
		t.Error("Start with missing binary did not return an error")
	} else if !strings.Contains(err.Error(), "start process") {
		t.Errorf("Start error = %v", err)
	}
}
