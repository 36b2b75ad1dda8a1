// Copyright 2025 The Wheelwright Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"zombiezen.com/go/log"

	"wheelwright.build/pkg/pep508"
	"wheelwright.build/pkg/sets"
)

func newDepsCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "deps [options]",
		Short:                 "show the project's declared dependencies",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	extras := c.Flags().StringArray("extras", nil, "`extra` to expand against; may be repeated")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runDeps(cmd.Context(), g, *extras)
	}
	return c
}

func runDeps(ctx context.Context, g *globalConfig, extras []string) error {
	p, err := g.newPackager("")
	if err != nil {
		return err
	}
	defer func() {
		if err := p.Close(ctx); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()
	deps, err := p.PackageDependencies(ctx)
	if err != nil {
		return err
	}
	for _, req := range pep508.WithExtras(deps, sets.New(extras...), nil) {
		fmt.Println(req)
	}
	return nil
}

func newRequiresCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:           "requires",
		Short:         "show the build backend's static build-time requirements",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		p, err := g.newPackager("")
		if err != nil {
			return err
		}
		defer func() {
			if err := p.Close(cmd.Context()); err != nil {
				log.Errorf(cmd.Context(), "%v", err)
			}
		}()
		for _, req := range p.Requires() {
			fmt.Println(req)
		}
		return nil
	}
	return c
}
