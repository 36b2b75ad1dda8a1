// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package backendtest provides an in-memory build backend for tests:
// a [pep517.Process] that decodes request lines, invokes scripted
// handlers, writes result files, and emits the completion sentinel the
// way a real backend process would.
package backendtest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/go-json-experiment/json/jsontext"

	"wheelwright.build/pkg/pep517"
)

// A Failure is a scripted backend-reported failure.
type Failure struct {
	Code    int
	ExcType string
	ExcMsg  string
}

// A Handler produces the result (or failure) for one protocol command.
type Handler func(kwargs map[string]any) (result any, failure *Failure)

// A Backend is a scripted in-memory build backend.
// It implements [pep517.Process] directly:
// the fake "process" lives inside the test.
type Backend struct {
	tb testing.TB

	mu       sync.Mutex
	handlers map[string]Handler
	calls    map[string]int
	requests []jsontext.Value
	output   []byte
	stderr   []byte
	exitCode int
	exited   bool
	started  int
	closed   int
	latency  time.Duration
	queue    chan string

	stopOnce sync.Once
}

// New returns an empty backend. Commands without a registered handler
// report a scripted failure.
func New(tb testing.TB) *Backend {
	return &Backend{
		tb:       tb,
		handlers: make(map[string]Handler),
		calls:    make(map[string]int),
	}
}

// Handle registers the handler for a command.
func (b *Backend) Handle(cmd string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[cmd] = h
}

// SetLatency switches the backend to asynchronous serving: each request
// is handled on a separate goroutine after waiting d. Requests are
// still served one at a time, in arrival order, the way a real backend
// process serves its standard input.
func (b *Backend) SetLatency(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.latency = d
	if b.queue == nil {
		b.queue = make(chan string, 16)
		go b.serveLoop(b.queue)
	}
}

func (b *Backend) serveLoop(queue <-chan string) {
	for line := range queue {
		b.mu.Lock()
		d := b.latency
		b.mu.Unlock()
		time.Sleep(d)
		b.serve(line)
	}
}

// Start is a [pep517.StartFunc] returning the backend itself.
func (b *Backend) Start(ctx context.Context, opts *pep517.StartOptions) (pep517.Process, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.started++
	return b, nil
}

// Calls returns how many times the given command has been received.
func (b *Backend) Calls(cmd string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[cmd]
}

// Requests returns the raw request lines received, in order.
func (b *Backend) Requests() []jsontext.Value {
	b.mu.Lock()
	defer b.mu.Unlock()
	requests := make([]jsontext.Value, len(b.requests))
	for i, req := range b.requests {
		requests[i] = req.Clone()
	}
	return requests
}

// StartCalls returns how many times the backend process was started.
func (b *Backend) StartCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.started
}

// CloseCalls returns how many times the process handle was closed.
func (b *Backend) CloseCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Print appends text to the backend's standard output,
// as interleaved human-readable logging.
func (b *Backend) Print(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.output = append(b.output, s...)
}

// PrintErr appends text to the backend's standard error.
func (b *Backend) PrintErr(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stderr = append(b.stderr, s...)
}

// SetExited marks the process as exited with the given code.
func (b *Backend) SetExited(code int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.exitCode = code
	b.exited = true
}

// WriteLine accepts one request line. In the default synchronous mode
// the request is served before WriteLine returns; after [Backend.SetLatency]
// it is queued for the serving goroutine.
func (b *Backend) WriteLine(line string) error {
	b.mu.Lock()
	queue := b.queue
	b.mu.Unlock()
	if queue != nil {
		queue <- line
		return nil
	}
	b.serve(line)
	return nil
}

// serve handles one request line.
func (b *Backend) serve(line string) {
	var req struct {
		Cmd    string         `json:"cmd"`
		Kwargs map[string]any `json:"kwargs"`
		Result string         `json:"result"`
	}
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		b.tb.Errorf("backendtest: malformed request line %q: %v", line, err)
		return
	}

	b.mu.Lock()
	b.calls[req.Cmd]++
	b.requests = append(b.requests, jsontext.Value(line))
	handler := b.handlers[req.Cmd]
	b.mu.Unlock()

	var response map[string]any
	switch {
	case req.Cmd == "_exit":
		response = map[string]any{"return": 0}
		defer b.SetExited(0)
	case handler == nil:
		response = map[string]any{
			"code":     1,
			"exc_type": "MissingCommandHook",
			"exc_msg":  fmt.Sprintf("no handler for %s", req.Cmd),
		}
	default:
		result, failure := handler(req.Kwargs)
		if failure != nil {
			response = map[string]any{
				"code":     failure.Code,
				"exc_type": failure.ExcType,
				"exc_msg":  failure.ExcMsg,
			}
		} else {
			response = map[string]any{"return": result}
		}
	}

	data, err := json.Marshal(response)
	if err != nil {
		b.tb.Errorf("backendtest: marshal response for %s: %v", req.Cmd, err)
		return
	}
	if err := os.WriteFile(req.Result, data, 0o666); err != nil {
		b.tb.Errorf("backendtest: write result file: %v", err)
		return
	}
	b.Print(fmt.Sprintf("Backend: Wrote response %s\n", req.Result))
}

// ExitCode implements [pep517.Process].
func (b *Backend) ExitCode() (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.exitCode, b.exited
}

// Output implements [pep517.Process].
func (b *Backend) Output() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.output)
}

// Stderr implements [pep517.Process].
func (b *Backend) Stderr() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return bytes.Clone(b.stderr)
}

// Close implements [pep517.Process].
func (b *Backend) Close() error {
	b.mu.Lock()
	queue := b.queue
	b.closed++
	b.mu.Unlock()
	if queue != nil {
		b.stopOnce.Do(func() { close(queue) })
	}
	return nil
}
