// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/log"

	"wheelwright.build/pkg/internal/packager"
	"wheelwright.build/pkg/sets"
)

type buildOptions struct {
	kinds    []packager.Kind
	extras   []string
	prebuilt string
}

func newBuildCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "build [options]",
		Short:                 "build package artifacts",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := new(buildOptions)
	c.Flags().Var(newKindsFlag(&opts.kinds), "kind", "package `kind` to build (wheel, sdist, dev-legacy, or external); may be repeated")
	c.Flags().StringArrayVar(&opts.extras, "extras", nil, "`extra` requested by the consuming environment; may be repeated")
	c.Flags().StringVar(&opts.prebuilt, "prebuilt", "", "`path` to an externally built package (for --kind external)")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context(), g, opts)
	}
	return c
}

func runBuild(ctx context.Context, g *globalConfig, opts *buildOptions) error {
	kinds := opts.kinds
	if len(kinds) == 0 {
		kinds = []packager.Kind{packager.Wheel}
	}
	p, err := g.newPackager(opts.prebuilt)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(ctx); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()
	for _, kind := range kinds {
		p.RegisterBuild(kind)
	}
	extras := sets.New(opts.extras...)

	// Requests may be issued concurrently;
	// the packager's build lock serializes the actual builds.
	results := make([][]*packager.Artifact, len(kinds))
	eg, groupCtx := errgroup.WithContext(ctx)
	for i, kind := range kinds {
		eg.Go(func() error {
			artifacts, err := p.Package(groupCtx, kind, extras)
			if err != nil {
				return err
			}
			results[i] = artifacts
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for _, artifacts := range results {
		for _, a := range artifacts {
			fmt.Printf("%s\t%s\n", a.Kind, a.Path)
		}
	}
	return nil
}
