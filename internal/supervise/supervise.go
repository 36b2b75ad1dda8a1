// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package supervise runs build-backend processes on the local machine
// and exposes them through the [pep517.Process] interface.
package supervise

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"wheelwright.build/pkg/pep517"
)

// closeGrace is how long Close waits for the process to exit on its own
// after its standard input is closed before killing it.
const closeGrace = 5 * time.Second

// Process is a local backend process.
// It implements [pep517.Process].
type Process struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout lockedBuffer
	stderr lockedBuffer

	// done is closed once the process has been reaped.
	done chan struct{}

	exitMu   sync.Mutex
	exitCode int
	exited   bool

	writeMu   sync.Mutex
	closeOnce sync.Once
}

var _ pep517.Process = (*Process)(nil)

// Start starts the process described by opts.
// The returned process inherits the supervisor's environment
// with opts.Env applied on top.
func Start(opts *pep517.StartOptions) (*Process, error) {
	if len(opts.Cmd) == 0 {
		return nil, fmt.Errorf("start process: empty command line")
	}
	p := &Process{done: make(chan struct{})}
	p.cmd = exec.Command(opts.Cmd[0], opts.Cmd[1:]...)
	p.cmd.Dir = opts.Dir
	p.cmd.Env = os.Environ()
	for k, v := range opts.Env {
		p.cmd.Env = append(p.cmd.Env, k+"="+v)
	}
	p.cmd.Stdout = &p.stdout
	p.cmd.Stderr = &p.stderr

	stdin, err := p.cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("start process %s: %v", opts.Cmd[0], err)
	}
	p.stdin = stdin

	if err := p.cmd.Start(); err != nil {
		return nil, fmt.Errorf("start process %s: %v", opts.Cmd[0], err)
	}
	go p.monitor()
	return p, nil
}

// monitor reaps the process and records its exit code.
func (p *Process) monitor() {
	defer close(p.done)
	err := p.cmd.Wait()
	code := 0
	if exitErr, ok := err.(*exec.ExitError); ok {
		code = exitErr.ExitCode()
	} else if err != nil {
		code = -1
	}
	p.exitMu.Lock()
	p.exitCode = code
	p.exited = true
	p.exitMu.Unlock()
}

// WriteLine writes one line to the process's standard input.
func (p *Process) WriteLine(line string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	if _, err := io.WriteString(p.stdin, line+"\n"); err != nil {
		return fmt.Errorf("write to process stdin: %v", err)
	}
	return nil
}

// ExitCode returns the process's exit code if it has exited.
func (p *Process) ExitCode() (code int, exited bool) {
	p.exitMu.Lock()
	defer p.exitMu.Unlock()
	return p.exitCode, p.exited
}

// Output returns a snapshot of the raw bytes written
// to the process's standard output so far.
func (p *Process) Output() []byte {
	return p.stdout.bytes()
}

// Stderr returns a snapshot of the raw bytes written
// to the process's standard error so far.
func (p *Process) Stderr() []byte {
	return p.stderr.bytes()
}

// Close closes the process's standard input, waits briefly for it to
// exit on its own, and kills it otherwise. The process is always
// reaped. Calls after the first are no-ops.
func (p *Process) Close() error {
	p.closeOnce.Do(func() {
		p.stdin.Close()
		select {
		case <-p.done:
		case <-time.After(closeGrace):
			p.cmd.Process.Kill()
			<-p.done
		}
	})
	return nil
}

// lockedBuffer is a byte buffer safe for one writer
// and concurrent readers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(data []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(data)
}

func (b *lockedBuffer) bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.buf.Bytes())
}
