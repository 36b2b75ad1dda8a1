// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package pep517

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/log"

	"wheelwright.build/pkg/pep508"
)

// backendRunnerModule is the Python module executed inside the build
// environment to serve protocol requests over its standard streams.
const backendRunnerModule = "pyproject_api._backend"

// pollInterval is how often an in-flight command's status is re-checked.
const pollInterval = 10 * time.Millisecond

// Options configures a [Client].
type Options struct {
	// Root is the project root directory
	// and the working directory of the backend process.
	Root string
	// Backend is the build-backend specifier from the project descriptor,
	// e.g. "setuptools.build_meta".
	Backend string
	// BackendPaths are in-tree backend directories added to the backend
	// process's PYTHONPATH, in order.
	BackendPaths []string
	// Python is the interpreter used to run the backend.
	// Defaults to "python".
	Python string
	// ResultDir is the directory for side-channel result files.
	// Defaults to the system temporary directory.
	ResultDir string
	// Env is the base environment for the backend process.
	Env map[string]string
	// Colored requests colored backend output.
	Colored bool
	// Start starts the backend process on first use.
	Start StartFunc
}

// A Client issues build-backend protocol commands against a single
// lazily started backend process. Methods on Client are safe to call
// from multiple goroutines: the backend serves one request at a time,
// so the client issues commands to it strictly sequentially.
type Client struct {
	root         string
	backend      string
	backendPaths []string
	python       string
	resultDir    string
	env          map[string]string
	colored      bool
	start        StartFunc

	mu           sync.Mutex
	proc         Process
	wheelPlanned bool

	// cmdMu serializes protocol commands. Completion is detected by
	// scanning the process's shared output stream, so overlapping
	// commands would trip each other's detectors.
	cmdMu sync.Mutex
}

// NewClient returns a new protocol client.
// The backend process is not started until the first command is issued.
func NewClient(opts *Options) *Client {
	c := &Client{
		root:         opts.Root,
		backend:      opts.Backend,
		backendPaths: opts.BackendPaths,
		python:       opts.Python,
		resultDir:    opts.ResultDir,
		env:          maps.Clone(opts.Env),
		colored:      opts.Colored,
		start:        opts.Start,
	}
	if c.python == "" {
		c.python = "python"
	}
	if c.resultDir == "" {
		c.resultDir = os.TempDir()
	}
	return c
}

// SetWheelPlanned records whether a full wheel build is planned for this
// session. When set, metadata-only preparation is skipped in favor of
// the wheel build (see [Client.PrepareMetadataForBuildWheel]).
func (c *Client) SetWheelPlanned(planned bool) {
	c.mu.Lock()
	c.wheelPlanned = planned
	c.mu.Unlock()
}

// GetRequiresForBuildWheel returns the additional build-time
// requirements the backend declares for building a wheel.
func (c *Client) GetRequiresForBuildWheel(ctx context.Context) ([]*pep508.Requirement, error) {
	return c.requires(ctx, CmdRequiresForBuildWheel)
}

// GetRequiresForBuildSdist returns the additional build-time
// requirements the backend declares for building a source distribution.
func (c *Client) GetRequiresForBuildSdist(ctx context.Context) ([]*pep508.Requirement, error) {
	return c.requires(ctx, CmdRequiresForBuildSdist)
}

func (c *Client) requires(ctx context.Context, cmd string) ([]*pep508.Requirement, error) {
	raw, out, stderr, err := c.send(ctx, cmd, map[string]any{
		"config_settings": nil,
	})
	if err != nil {
		return nil, err
	}
	var requires []string
	if err := json.Unmarshal(raw, &requires); err != nil {
		return nil, unexpectedResponse(cmd, raw, "list of requirement strings", out, stderr)
	}
	return pep508.ParseAll(requires)
}

// MetadataResult is the outcome of a metadata preparation request.
type MetadataResult struct {
	// Dir is the path of the produced metadata (.dist-info) directory.
	Dir string
	// BuildWheelInstead reports that the request was not sent because a
	// full wheel build is already planned for this session, which would
	// immediately supersede a metadata-only round trip. The caller must
	// build the wheel and read the metadata out of the built artifact.
	BuildWheelInstead bool
}

// PrepareMetadataForBuildWheel asks the backend to produce the project's
// metadata directory under metadataDir.
func (c *Client) PrepareMetadataForBuildWheel(ctx context.Context, metadataDir string, cfg ConfigSettings) (MetadataResult, error) {
	c.mu.Lock()
	skip := c.wheelPlanned
	c.mu.Unlock()
	if skip {
		// Will need to build the wheel either way: avoid the prepare.
		log.Debugf(ctx, "Skipping %s: wheel build planned for this session", CmdPrepareMetadataForBuildWheel)
		return MetadataResult{BuildWheelInstead: true}, nil
	}
	basename, err := c.pathCommand(ctx, CmdPrepareMetadataForBuildWheel, map[string]any{
		"metadata_directory": metadataDir,
		"config_settings":    cfg,
	})
	if err != nil {
		return MetadataResult{}, err
	}
	return MetadataResult{Dir: filepath.Join(metadataDir, basename)}, nil
}

// BuildWheel builds a wheel into wheelDir and returns its path.
func (c *Client) BuildWheel(ctx context.Context, wheelDir, metadataDir string, cfg ConfigSettings) (string, error) {
	basename, err := c.pathCommand(ctx, CmdBuildWheel, map[string]any{
		"wheel_directory":    wheelDir,
		"metadata_directory": metadataDir,
		"config_settings":    cfg,
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(wheelDir, basename), nil
}

// BuildSdist builds a source distribution into sdistDir and returns its path.
func (c *Client) BuildSdist(ctx context.Context, sdistDir string, cfg ConfigSettings) (string, error) {
	basename, err := c.pathCommand(ctx, CmdBuildSdist, map[string]any{
		"sdist_directory": sdistDir,
		"config_settings": cfg,
	})
	if err != nil {
		return "", err
	}
	return filepath.Join(sdistDir, basename), nil
}

// pathCommand issues a command whose result is a single file or
// directory basename.
func (c *Client) pathCommand(ctx context.Context, cmd string, kwargs map[string]any) (string, error) {
	raw, out, stderr, err := c.send(ctx, cmd, kwargs)
	if err != nil {
		return "", err
	}
	var basename string
	if err := json.Unmarshal(raw, &basename); err != nil || basename == "" {
		return "", unexpectedResponse(cmd, raw, "file name", out, stderr)
	}
	return basename, nil
}

// Exit asks the backend process to shut down cooperatively.
// It is a no-op if the process was never started or has already exited.
// A missing response is not an error: the backend may exit before
// writing one.
func (c *Client) Exit(ctx context.Context) error {
	c.mu.Lock()
	proc := c.proc
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	if _, exited := proc.ExitCode(); exited {
		return nil
	}
	_, _, _, err := c.send(ctx, cmdExit, nil)
	var backendFailed *BackendFailed
	if errors.As(err, &backendFailed) {
		return nil
	}
	return err
}

// Close releases the backend process handle if one was started.
func (c *Client) Close() error {
	c.mu.Lock()
	proc := c.proc
	c.proc = nil
	c.mu.Unlock()
	if proc == nil {
		return nil
	}
	return proc.Close()
}

// send issues a single protocol command and returns the raw result along
// with the standard output and standard error text captured while the
// command ran. Backend-reported failures and unexpected result shapes
// are returned as [*BackendFailed].
func (c *Client) send(ctx context.Context, cmd string, kwargs map[string]any) (result json.RawMessage, out, stderr string, err error) {
	proc, err := c.process(ctx)
	if err != nil {
		return nil, "", "", fmt.Errorf("call backend %s: %w", cmd, err)
	}

	resultFile := filepath.Join(c.resultDir, uuid.NewString()+".json")
	line, err := json.Marshal(commandRequest{Cmd: cmd, Kwargs: kwargs, Result: resultFile})
	if err != nil {
		return nil, "", "", fmt.Errorf("call backend %s: %w", cmd, err)
	}

	// Held through the result-file read: the next command must not start
	// until this one's sentinel and result are fully consumed.
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	status := NewCmdStatus(proc)
	log.Debugf(ctx, "Sending %s to build backend", cmd)
	if err := proc.WriteLine(string(line)); err != nil {
		return nil, "", "", fmt.Errorf("call backend %s: %w", cmd, err)
	}
	if err := c.waitDone(ctx, status); err != nil {
		return nil, "", "", fmt.Errorf("call backend %s: %w", cmd, err)
	}
	out, stderr = status.OutErr()

	data, err := os.ReadFile(resultFile)
	if err != nil {
		err := fmt.Errorf("backend exited without writing a response for %s", cmd)
		return nil, out, stderr, WrapFailure(err, out, stderr)
	}
	defer os.Remove(resultFile)
	var res commandResult
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, out, stderr, unexpectedResponse(cmd, data, "result object", out, stderr)
	}
	if res.ExcType != "" {
		return nil, out, stderr, &BackendFailed{
			Code:    res.Code,
			ExcType: res.ExcType,
			ExcMsg:  res.ExcMsg,
			Out:     out,
			Err:     stderr,
		}
	}
	return res.Return, out, stderr, nil
}

// waitDone blocks until the in-flight command completes
// or ctx is canceled.
func (c *Client) waitDone(ctx context.Context, status *CmdStatus) error {
	tick := time.NewTicker(pollInterval)
	defer tick.Stop()
	for !status.Done() {
		select {
		case <-tick.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// process returns the backend process for this session,
// starting it on first use.
func (c *Client) process(ctx context.Context) (Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.proc != nil {
		return c.proc, nil
	}
	if c.start == nil {
		return nil, fmt.Errorf("start backend process: no process supervisor configured")
	}

	env := maps.Clone(c.env)
	if env == nil {
		env = make(map[string]string)
	}
	if backendPath := strings.Join(c.backendPaths, string(os.PathListSeparator)); backendPath != "" {
		env["PYTHONPATH"] = backendPath
	}
	if c.colored {
		env["FORCE_COLOR"] = "1"
	} else {
		env["NO_COLOR"] = "1"
	}

	log.Debugf(ctx, "Starting build backend %s in %s", c.backend, c.root)
	proc, err := c.start(ctx, &StartOptions{
		Cmd: []string{c.python, "-m", backendRunnerModule, "True", c.backend},
		Dir: c.root,
		Env: env,
	})
	if err != nil {
		return nil, fmt.Errorf("start backend process: %w", err)
	}
	c.proc = proc
	return proc, nil
}
