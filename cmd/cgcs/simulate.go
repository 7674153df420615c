// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/simulation"
)

func newSimulateCmd(a *app) *cobra.Command {
	var opts simulation.Options
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Drive a synthetic swarm and print a JSON report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if opts.ConsentRatio < 0 || opts.ConsentRatio > 1 {
				return NewInvalidArgumentError("consent-ratio", "must be in [0,1]")
			}
			ctx := cmd.Context()
			k, err := a.newKernel(ctx)
			if err != nil {
				return err
			}
			defer k.Close()
			k.Start(ctx)

			opts.Logger = a.logger
			rep, err := simulation.Run(ctx, k, opts)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.OK() {
				return errors.New(errors.CodeInvariant, fmt.Sprintf("%d invariant violations", len(rep.Violations)), nil)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.Agents, "agents", 8, "Number of agents")
	f.IntVar(&opts.Steps, "steps", 50, "Steps per agent")
	f.IntVar(&opts.Concurrency, "concurrency", 4, "Agents driven at once")
	f.Uint64Var(&opts.Seed, "seed", 1, "Random seed")
	f.Float64Var(&opts.ConsentRatio, "consent-ratio", 0.5, "Share of agents granted role-assignment consent")
	return cmd
}
