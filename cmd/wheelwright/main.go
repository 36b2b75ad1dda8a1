// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

// wheelwright packages a Python source project into installable
// distribution artifacts by driving a PEP 517 build backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"zombiezen.com/go/bass/sigterm"
	"zombiezen.com/go/log"

	"wheelwright.build/pkg/internal/installer"
	"wheelwright.build/pkg/internal/packager"
	"wheelwright.build/pkg/internal/supervise"
	"wheelwright.build/pkg/pep517"
)

type globalConfig struct {
	root    string
	workDir string
	python  string
	install bool
}

func (g *globalConfig) newPackager(prebuilt string) (*packager.Packager, error) {
	var inst installer.Installer = installer.Null{}
	if g.install {
		inst = &installer.Pip{Python: g.python}
	}
	return packager.New(&packager.Options{
		Root:      g.root,
		WorkDir:   g.workDir,
		Python:    g.python,
		Colored:   term.IsTerminal(int(os.Stderr.Fd())),
		Installer: inst,
		Prebuilt:  prebuilt,
		Start: func(ctx context.Context, opts *pep517.StartOptions) (pep517.Process, error) {
			return supervise.Start(opts)
		},
	})
}

func main() {
	rootCommand := &cobra.Command{
		Use:           "wheelwright",
		Short:         "package a project by driving its build backend",
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	g := &globalConfig{}
	rootCommand.PersistentFlags().StringVar(&g.root, "root", ".", "`path` to the project root")
	rootCommand.PersistentFlags().StringVar(&g.workDir, "work-dir", "", "`path` to the session scratch directory (defaults to ROOT/.wheelwright)")
	rootCommand.PersistentFlags().StringVar(&g.python, "python", "python", "build environment `interpreter`")
	rootCommand.PersistentFlags().BoolVar(&g.install, "install-build-requires", true, "install backend-declared build requirements before building")
	showDebug := rootCommand.PersistentFlags().Bool("debug", false, "show debugging output")

	rootCommand.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		initLogging(*showDebug)
		return nil
	}

	rootCommand.AddCommand(
		newBuildCommand(g),
		newDepsCommand(g),
		newRequiresCommand(g),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), sigterm.Signals()...)
	err := rootCommand.ExecuteContext(ctx)
	cancel()
	if err != nil {
		initLogging(*showDebug)
		// Show the backend's own diagnostics verbatim:
		// the build tool's output must not be lost in translation.
		var backendFailed *pep517.BackendFailed
		if errors.As(err, &backendFailed) {
			if backendFailed.Out != "" {
				fmt.Fprint(os.Stderr, backendFailed.Out)
			}
			if backendFailed.Err != "" {
				fmt.Fprint(os.Stderr, backendFailed.Err)
			}
		}
		log.Errorf(context.Background(), "%v", err)
		os.Exit(1)
	}
}

var initLogOnce sync.Once

func initLogging(showDebug bool) {
	initLogOnce.Do(func() {
		minLogLevel := log.Info
		if showDebug {
			minLogLevel = log.Debug
		}
		log.SetDefault(&log.LevelFilter{
			Min:    minLogLevel,
			Output: log.New(os.Stderr, "wheelwright: ", log.StdFlags, nil),
		})
	})
}
