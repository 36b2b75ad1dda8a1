// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep517_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"wheelwright.build/pkg/internal/backendtest"
	"wheelwright.build/pkg/internal/testcontext"
	"wheelwright.build/pkg/pep517"
)

// parseRawJSON returns a [cmp.Option] that will compare [jsontext.Value]
// by unmarshalling it.
func parseRawJSON() cmp.Option {
	return cmp.Transformer("jsontext.Value", func(msg jsontext.Value) any {
		var x any
		if err := jsonv2.Unmarshal(msg, &x); err != nil {
			return []byte(msg)
		}
		return x
	})
}

// request mirrors the line protocol for assertions on what the client sent.
type request struct {
	Cmd    string         `json:"cmd"`
	Kwargs jsontext.Value `json:"kwargs"`
	Result string         `json:"result"`
}

func decodeRequests(tb testing.TB, backend *backendtest.Backend) []request {
	var requests []request
	for _, raw := range backend.Requests() {
		var req request
		if err := jsonv2.Unmarshal(raw, &req); err != nil {
			tb.Fatalf("decode request %s: %v", raw, err)
		}
		requests = append(requests, req)
	}
	return requests
}

func newTestClient(tb testing.TB, backend *backendtest.Backend) *pep517.Client {
	return pep517.NewClient(&pep517.Options{
		Root:      tb.TempDir(),
		Backend:   "setuptools.build_meta",
		ResultDir: tb.TempDir(),
		Start:     backend.Start,
	})
}

func TestGetRequiresForBuildWheel(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdRequiresForBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return []string{"wheel", "setuptools >= 40.8"}, nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	got, err := client.GetRequiresForBuildWheel(ctx)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, req := range got {
		names = append(names, req.Name)
	}
	if diff := cmp.Diff([]string{"wheel", "setuptools"}, names); diff != "" {
		t.Errorf("requirement names (-want +got):\n%s", diff)
	}

	requests := decodeRequests(t, backend)
	if len(requests) != 1 {
		t.Fatalf("backend received %d requests; want 1", len(requests))
	}
	if requests[0].Cmd != pep517.CmdRequiresForBuildWheel {
		t.Errorf("request cmd = %q; want %q", requests[0].Cmd, pep517.CmdRequiresForBuildWheel)
	}
	if requests[0].Result == "" {
		t.Error("request has empty result path")
	}
	wantKwargs := jsontext.Value(`{"config_settings":null}`)
	if diff := cmp.Diff(wantKwargs, requests[0].Kwargs, parseRawJSON()); diff != "" {
		t.Errorf("request kwargs (-want +got):\n%s", diff)
	}
}

func TestBackendFailure(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
		backend.Print("compiling...\n")
		backend.PrintErr("error: no such option\n")
		return nil, &backendtest.Failure{Code: 2, ExcType: "ValueError", ExcMsg: "bad config"}
	})
	client := newTestClient(t, backend)
	defer client.Close()

	_, err := client.BuildWheel(ctx, t.TempDir(), "", nil)
	var backendFailed *pep517.BackendFailed
	if !errors.As(err, &backendFailed) {
		t.Fatalf("BuildWheel error = %v; want *BackendFailed", err)
	}
	if backendFailed.Code != 2 || backendFailed.ExcType != "ValueError" || backendFailed.ExcMsg != "bad config" {
		t.Errorf("failure = %+v", backendFailed)
	}
	if !strings.Contains(backendFailed.Out, "compiling...") {
		t.Errorf("failure Out = %q; want backend's standard output", backendFailed.Out)
	}
	if !strings.Contains(backendFailed.Err, "no such option") {
		t.Errorf("failure Err = %q; want backend's standard error", backendFailed.Err)
	}
}

func TestUnexpectedResponse(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdRequiresForBuildSdist, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return 42, nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	_, err := client.GetRequiresForBuildSdist(ctx)
	var backendFailed *pep517.BackendFailed
	if !errors.As(err, &backendFailed) {
		t.Fatalf("GetRequiresForBuildSdist error = %v; want *BackendFailed", err)
	}
	if !strings.Contains(backendFailed.ExcMsg, "unexpected response") {
		t.Errorf("failure message = %q; want mention of unexpected response", backendFailed.ExcMsg)
	}
}

func TestInvalidRequirementString(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdRequiresForBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return []string{"!!!"}, nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	_, err := client.GetRequiresForBuildWheel(ctx)
	if err == nil {
		t.Fatal("GetRequiresForBuildWheel did not return an error")
	}
	var backendFailed *pep517.BackendFailed
	if errors.As(err, &backendFailed) {
		t.Errorf("malformed requirement reported as backend failure: %v", err)
	}
}

func TestExitedWithoutResponse(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	proc := &deadProc{exitCode: 1}
	client := pep517.NewClient(&pep517.Options{
		Root:      t.TempDir(),
		Backend:   "setuptools.build_meta",
		ResultDir: t.TempDir(),
		Start: func(ctx context.Context, opts *pep517.StartOptions) (pep517.Process, error) {
			return proc, nil
		},
	})
	defer client.Close()

	_, err := client.GetRequiresForBuildWheel(ctx)
	var backendFailed *pep517.BackendFailed
	if !errors.As(err, &backendFailed) {
		t.Fatalf("error = %v; want *BackendFailed", err)
	}
	if !strings.Contains(backendFailed.ExcMsg, "without writing a response") {
		t.Errorf("failure message = %q; want mention of missing response", backendFailed.ExcMsg)
	}
}

// deadProc is a process that exits immediately without serving requests.
type deadProc struct {
	exitCode int
}

func (p *deadProc) WriteLine(line string) error { return nil }
func (p *deadProc) ExitCode() (int, bool)       { return p.exitCode, true }
func (p *deadProc) Output() []byte              { return nil }
func (p *deadProc) Stderr() []byte              { return nil }
func (p *deadProc) Close() error                { return nil }

func TestPrepareMetadataForBuildWheel(t *testing.T) {
	t.Run("Normal", func(t *testing.T) {
		ctx, cancel := testcontext.New(t)
		defer cancel()

		backend := backendtest.New(t)
		backend.Handle(pep517.CmdPrepareMetadataForBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
			return "demo-1.0.dist-info", nil
		})
		client := newTestClient(t, backend)
		defer client.Close()

		metaDir := t.TempDir()
		got, err := client.PrepareMetadataForBuildWheel(ctx, metaDir, nil)
		if err != nil {
			t.Fatal(err)
		}
		if got.BuildWheelInstead {
			t.Error("BuildWheelInstead = true; want false")
		}
		if want := filepath.Join(metaDir, "demo-1.0.dist-info"); got.Dir != want {
			t.Errorf("metadata dir = %q; want %q", got.Dir, want)
		}
	})

	t.Run("WheelPlanned", func(t *testing.T) {
		ctx, cancel := testcontext.New(t)
		defer cancel()

		backend := backendtest.New(t)
		client := newTestClient(t, backend)
		defer client.Close()
		client.SetWheelPlanned(true)

		got, err := client.PrepareMetadataForBuildWheel(ctx, t.TempDir(), nil)
		if err != nil {
			t.Fatal(err)
		}
		if !got.BuildWheelInstead {
			t.Error("BuildWheelInstead = false; want true")
		}
		if got.Dir != "" {
			t.Errorf("metadata dir = %q; want empty", got.Dir)
		}
		if n := backend.StartCalls(); n > 0 {
			t.Errorf("backend process started %d times; want 0", n)
		}
	})
}

func TestBuildWheel(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return "demo-1.0-py3-none-any.whl", nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	wheelDir := t.TempDir()
	cfg := pep517.ConfigSettings{"--global-option": []string{"--quiet"}}
	got, err := client.BuildWheel(ctx, wheelDir, "/meta/demo-1.0.dist-info", cfg)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(wheelDir, "demo-1.0-py3-none-any.whl"); got != want {
		t.Errorf("BuildWheel = %q; want %q", got, want)
	}

	requests := decodeRequests(t, backend)
	if len(requests) != 1 {
		t.Fatalf("backend received %d requests; want 1", len(requests))
	}
	wantKwargs, err := jsonv2.Marshal(map[string]any{
		"wheel_directory":    wheelDir,
		"metadata_directory": "/meta/demo-1.0.dist-info",
		"config_settings":    cfg,
	})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(jsontext.Value(wantKwargs), requests[0].Kwargs, parseRawJSON()); diff != "" {
		t.Errorf("request kwargs (-want +got):\n%s", diff)
	}
}

func TestBuildSdist(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdBuildSdist, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return "demo-1.0.tar.gz", nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	sdistDir := t.TempDir()
	got, err := client.BuildSdist(ctx, sdistDir, nil)
	if err != nil {
		t.Fatal(err)
	}
	if want := filepath.Join(sdistDir, "demo-1.0.tar.gz"); got != want {
		t.Errorf("BuildSdist = %q; want %q", got, want)
	}
}

func TestConcurrentCommands(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	// An asynchronous backend keeps commands in flight long enough for
	// concurrent callers to overlap. The client must still issue them
	// one at a time: a detector that observes another command's sentinel
	// reads a result file that was never written.
	backend := backendtest.New(t)
	backend.SetLatency(50 * time.Millisecond)
	backend.Handle(pep517.CmdRequiresForBuildWheel, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return []string{"wheel"}, nil
	})
	backend.Handle(pep517.CmdRequiresForBuildSdist, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return []string{"setuptools"}, nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		got, err := client.GetRequiresForBuildWheel(egCtx)
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].Name != "wheel" {
			t.Errorf("GetRequiresForBuildWheel = %v", got)
		}
		return nil
	})
	eg.Go(func() error {
		got, err := client.GetRequiresForBuildSdist(egCtx)
		if err != nil {
			return err
		}
		if len(got) != 1 || got[0].Name != "setuptools" {
			t.Errorf("GetRequiresForBuildSdist = %v", got)
		}
		return nil
	})
	if err := eg.Wait(); err != nil {
		t.Fatal(err)
	}
}

func TestExit(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()

	backend := backendtest.New(t)
	backend.Handle(pep517.CmdBuildSdist, func(kwargs map[string]any) (any, *backendtest.Failure) {
		return "demo-1.0.tar.gz", nil
	})
	client := newTestClient(t, backend)
	defer client.Close()

	// Exit before the process is started is a no-op.
	if err := client.Exit(ctx); err != nil {
		t.Errorf("Exit before start: %v", err)
	}
	if n := backend.StartCalls(); n > 0 {
		t.Fatalf("Exit started the backend process %d times", n)
	}

	if _, err := client.BuildSdist(ctx, t.TempDir(), nil); err != nil {
		t.Fatal(err)
	}
	if err := client.Exit(ctx); err != nil {
		t.Errorf("Exit: %v", err)
	}
	if n := backend.Calls("_exit"); n != 1 {
		t.Errorf("backend received %d _exit requests; want 1", n)
	}

	// The process has exited: a second Exit must not send anything.
	if err := client.Exit(ctx); err != nil {
		t.Errorf("second Exit: %v", err)
	}
	if n := backend.Calls("_exit"); n != 1 {
		t.Errorf("backend received %d _exit requests after second Exit; want 1", n)
	}
}
