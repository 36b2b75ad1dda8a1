// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// Package packager coordinates the production of package artifacts for
// one build session: it decides which build-backend protocol commands to
// issue per requested kind, serializes build-producing commands behind a
// session-wide lock, and memoizes the expensive protocol results so each
// executes at most once per session.
package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"

	"wheelwright.build/pkg/internal/installer"
	"wheelwright.build/pkg/internal/metadir"
	"wheelwright.build/pkg/internal/pyproject"
	"wheelwright.build/pkg/pep508"
	"wheelwright.build/pkg/pep517"
	"wheelwright.build/pkg/sets"
)

// exitGrace bounds the cooperative backend shutdown attempt during
// session teardown.
const exitGrace = 10 * time.Second

// Options configures a [Packager].
type Options struct {
	// Root is the project root directory.
	Root string
	// WorkDir is the session's scratch directory. Metadata goes to
	// WorkDir/.meta, built packages to WorkDir/dist, and intermediate
	// build output to WorkDir/build.
	// Defaults to Root/.wheelwright.
	WorkDir string
	// Python is the build environment's interpreter. Defaults to "python".
	Python string
	// Colored requests colored backend output.
	Colored bool
	// Installer installs build-time requirements before the protocol
	// commands that need them. Defaults to [installer.Null].
	Installer installer.Installer
	// Start starts the backend process (see [pep517.StartFunc]).
	Start pep517.StartFunc
	// MarkerEnv provides environment-marker bindings for extras
	// expansion. May be nil.
	MarkerEnv pep508.Environment
	// Prebuilt is the path of an externally built package file,
	// required for producing [External] artifacts.
	Prebuilt string
}

// A Packager is the packaging entry point for one build environment.
// It owns exactly one lazily started backend process, the session's
// build lock, and the session's write-once caches.
type Packager struct {
	root      string
	pkgDir    string
	metaDir   string
	buildDir  string
	cfg       *pyproject.Config
	client    *pep517.Client
	installer installer.Installer
	markerEnv pep508.Environment
	prebuilt  string

	mu sync.Mutex // build lock: one build-producing command at a time
	// wheelEnv is the designated wheel-building packager shared across
	// multiple consumers, if distinct from this one.
	wheelEnv     *Packager
	builds       sets.Set[Kind]
	envDone      bool
	resolvedMeta string
	deps         []*pep508.Requirement
	depsResolved bool
	results      map[Kind]string
}

// New returns a packager for the project at opts.Root.
// The project descriptor is read immediately;
// the backend process is not started until first use.
func New(opts *Options) (*Packager, error) {
	cfg, err := pyproject.Load(opts.Root)
	if err != nil {
		return nil, err
	}
	workDir := opts.WorkDir
	if workDir == "" {
		workDir = filepath.Join(opts.Root, ".wheelwright")
	}
	inst := opts.Installer
	if inst == nil {
		inst = installer.Null{}
	}
	p := &Packager{
		root:      opts.Root,
		pkgDir:    filepath.Join(workDir, "dist"),
		metaDir:   filepath.Join(workDir, ".meta"),
		buildDir:  filepath.Join(workDir, "build"),
		cfg:       cfg,
		installer: inst,
		markerEnv: opts.MarkerEnv,
		prebuilt:  opts.Prebuilt,
		builds:    sets.New[Kind](),
		results:   make(map[Kind]string),
	}
	p.client = pep517.NewClient(&pep517.Options{
		Root:         opts.Root,
		Backend:      cfg.Backend,
		BackendPaths: cfg.BackendPaths,
		Python:       opts.Python,
		ResultDir:    workDir,
		Colored:      opts.Colored,
		Start:        opts.Start,
	})
	return p, nil
}

// SetWheelBuildEnv designates the packager that owns wheel builds for
// this session's consumers. Wheel requests are delegated there when it
// is distinct from p.
func (p *Packager) SetWheelBuildEnv(w *Packager) {
	p.mu.Lock()
	p.wheelEnv = w
	p.mu.Unlock()
}

// RegisterBuild records that artifacts of the given kind will be
// requested this session. Registration drives which build-time
// requirements get installed, and a registered wheel build makes
// metadata-only preparation redundant.
func (p *Packager) RegisterBuild(kind Kind) {
	p.mu.Lock()
	p.builds.Add(kind)
	p.mu.Unlock()
	if kind == Wheel {
		p.client.SetWheelPlanned(true)
	}
}

// Requires returns the backend's static build-time requirements,
// parsed once from the project descriptor.
func (p *Packager) Requires() []*pep508.Requirement {
	return slices.Clone(p.cfg.Requires)
}

// Package produces the requested kind of artifact for a consumer that
// requested the given extras. The result is a one-element list;
// the list form is preserved for future multi-artifact kinds.
func (p *Packager) Package(ctx context.Context, kind Kind, extras sets.Set[string]) ([]*Artifact, error) {
	p.mu.Lock()
	wheelEnv := p.wheelEnv
	p.mu.Unlock()
	if kind == Wheel && wheelEnv != nil && wheelEnv != p {
		// Single point of truth for wheel builds shared across consumers.
		return wheelEnv.Package(ctx, kind, extras)
	}

	reqs, err := p.PackageDependencies(ctx)
	if err != nil {
		return nil, err
	}
	deps := pep508.WithExtras(reqs, extras, p.markerEnv)

	var artifact *Artifact
	switch kind {
	case DevLegacy:
		sdistRequires, err := p.client.GetRequiresForBuildSdist(ctx)
		if err != nil {
			return nil, err
		}
		// Static requires, then sdist build requires, then expanded deps.
		// Duplicates are preserved: ordering matters to the installer.
		all := slices.Concat(p.Requires(), sdistRequires, deps)
		artifact = &Artifact{Kind: DevLegacy, Path: p.root, Deps: all}
	case Sdist:
		p.mu.Lock()
		path, err := p.buildSdistLocked(ctx)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		artifact = &Artifact{Kind: Sdist, Path: path, Deps: deps}
	case Wheel:
		p.mu.Lock()
		path, err := p.buildWheelLocked(ctx)
		p.mu.Unlock()
		if err != nil {
			return nil, err
		}
		artifact = &Artifact{Kind: Wheel, Path: path, Deps: deps}
	case External:
		if p.prebuilt == "" {
			return nil, &UnsupportedKindError{Kind: kind}
		}
		artifact = &Artifact{Kind: External, Path: p.prebuilt, Deps: deps}
	default:
		return nil, &UnsupportedKindError{Kind: kind}
	}
	return []*Artifact{artifact}, nil
}

// PackageDependencies returns the project's declared dependency
// specifications. The first call resolves them through the backend's
// metadata; subsequent calls within the session observe the cached
// result without further protocol commands.
func (p *Packager) PackageDependencies(ctx context.Context) ([]*pep508.Requirement, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.depsResolved {
		if err := p.ensureMetaPresentLocked(ctx); err != nil {
			return nil, err
		}
		requires, err := metadir.Requires(p.resolvedMeta)
		if err != nil {
			return nil, err
		}
		deps, err := pep508.ParseAll(requires)
		if err != nil {
			return nil, err
		}
		p.deps = deps
		p.depsResolved = true
	}
	return p.deps, nil
}

// ensureMetaPresentLocked resolves the session's metadata directory.
// It is idempotent. When a wheel build is planned, metadata preparation
// is skipped and the metadata is read out of the built wheel instead.
func (p *Packager) ensureMetaPresentLocked(ctx context.Context) error {
	if p.resolvedMeta != "" {
		return nil
	}
	if err := p.setupEnvLocked(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(p.metaDir, 0o777); err != nil {
		return fmt.Errorf("prepare metadata: %v", err)
	}
	res, err := p.client.PrepareMetadataForBuildWheel(ctx, p.metaDir, p.wheelConfigSettings())
	if err != nil {
		return err
	}
	if res.BuildWheelInstead {
		wheel, err := p.buildWheelLocked(ctx)
		if err != nil {
			return err
		}
		dir, err := metadir.FromWheel(wheel, p.metaDir)
		if err != nil {
			return err
		}
		p.resolvedMeta = dir
		return nil
	}
	p.resolvedMeta = res.Dir
	return nil
}

// setupEnvLocked installs the build-time requirements declared by the
// backend for every registered build kind. It runs at most once per
// session.
func (p *Packager) setupEnvLocked(ctx context.Context) error {
	if p.envDone {
		return nil
	}
	if p.builds.Has(Wheel) {
		requires, err := p.client.GetRequiresForBuildWheel(ctx)
		if err != nil {
			return err
		}
		if err := p.installer.Install(ctx, requires, "requires_for_build_wheel"); err != nil {
			return err
		}
	}
	if p.builds.Has(Sdist) || p.builds.Has(External) {
		requires, err := p.client.GetRequiresForBuildSdist(ctx)
		if err != nil {
			return err
		}
		if err := p.installer.Install(ctx, requires, "requires_for_build_sdist"); err != nil {
			return err
		}
	}
	p.envDone = true
	return nil
}

// buildWheelLocked builds the session's wheel, at most once.
// The first invocation's result governs all subsequent calls.
func (p *Packager) buildWheelLocked(ctx context.Context) (string, error) {
	if path, ok := p.results[Wheel]; ok {
		return path, nil
	}
	for _, dir := range []string{p.pkgDir, p.metaDir, p.buildDir} {
		if err := os.MkdirAll(dir, 0o777); err != nil {
			return "", fmt.Errorf("build wheel: %v", err)
		}
	}
	path, err := p.client.BuildWheel(ctx, p.pkgDir, p.metaDir, p.wheelConfigSettings())
	if err != nil {
		return "", err
	}
	p.results[Wheel] = path
	return path, nil
}

// buildSdistLocked builds the session's source distribution, at most once.
func (p *Packager) buildSdistLocked(ctx context.Context) (string, error) {
	if path, ok := p.results[Sdist]; ok {
		return path, nil
	}
	if err := os.MkdirAll(p.pkgDir, 0o777); err != nil {
		return "", fmt.Errorf("build sdist: %v", err)
	}
	path, err := p.client.BuildSdist(ctx, p.pkgDir, nil)
	if err != nil {
		return "", err
	}
	p.results[Sdist] = path
	return path, nil
}

func (p *Packager) wheelConfigSettings() pep517.ConfigSettings {
	return pep517.ConfigSettings{
		"--global-option": []string{"--bdist-dir", p.buildDir},
	}
}

// Close tears down the session. If a backend process was started, one
// cooperative shutdown is attempted first; a cancellation during that
// attempt is swallowed because the process is being discarded
// regardless. The process handle is always released.
func (p *Packager) Close(ctx context.Context) error {
	exitCtx, cancelExit := xcontext.KeepAlive(ctx, exitGrace)
	defer cancelExit()
	if err := p.client.Exit(exitCtx); err != nil {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			log.Warnf(ctx, "Backend shutdown request failed: %v", err)
		}
	}
	return p.client.Close()
}
