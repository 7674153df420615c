// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jllopis/cgcs/pkg/config"
	"github.com/jllopis/cgcs/pkg/consent"
	"github.com/jllopis/cgcs/pkg/kernel"
	"github.com/jllopis/cgcs/pkg/loopguard"
	"github.com/jllopis/cgcs/pkg/telemetry"
)

const safeOptions = "\nOption: pause for a moment." +
	"\nOption: switch to lighter mode." +
	"\nOption: real-world reset (breath, water, step away, talk to someone)."

// demoUtilization is the utilization reported for every active role.
const demoUtilization = 0.7

type demoOptions struct {
	Agent     string
	Role      string
	NoConsent bool
	Watch     bool
}

func newDemoCmd(a *app) *cobra.Command {
	var opts demoOptions
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Interactive loop: type messages, prefix [SYM:a,b] to anchor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			k, err := a.newKernel(ctx)
			if err != nil {
				return err
			}
			defer k.Close()
			k.Start(ctx)

			if opts.Watch && a.flags.ConfigPath != "" {
				w, err := config.NewWatcher(a.flags.ConfigPath,
					config.WithOverrides(a.loadOverrides()...),
					config.WithWatchLogger(a.logger),
				)
				if err != nil {
					return NewConfigError(err, a.flags.ConfigPath)
				}
				w.OnChange(func(c *config.Config) {
					a.level.Set(telemetry.ParseLevel(c.Log.Level))
				})
				w.Start(ctx)
				defer w.Stop()
			}

			if err := prepareDemoAgent(ctx, k, opts); err != nil {
				return err
			}
			return runDemo(ctx, k, opts.Agent, cmd.InOrStdin(), cmd.OutOrStdout(), time.Now)
		},
	}
	f := cmd.Flags()
	f.StringVar(&opts.Agent, "agent", "demo", "Agent id")
	f.StringVar(&opts.Role, "role", "", "Role to activate before the loop starts")
	f.BoolVar(&opts.NoConsent, "no-consent", false, "Do not grant memory and role consent to the agent")
	f.BoolVar(&opts.Watch, "watch", false, "Reload the log level when the config file changes")
	return cmd
}

func prepareDemoAgent(ctx context.Context, k *kernel.Kernel, opts demoOptions) error {
	if err := k.RegisterAgent(ctx, opts.Agent); err != nil {
		return err
	}
	if !opts.NoConsent {
		for _, kind := range []consent.Kind{consent.KindMemoryStore, consent.KindMemoryRetrieve, consent.KindRoleAssignment} {
			rec, err := k.RequestConsent("", kind, opts.Agent, "demo session", 0)
			if err != nil {
				return err
			}
			k.Grant(ctx, rec.ID)
		}
	}
	if opts.Role == "" {
		return nil
	}
	ok, reasons, err := k.ActivateRole(ctx, opts.Agent, opts.Role, "", -1)
	if err != nil {
		return err
	}
	if !ok {
		return NewInvalidArgumentError("role", fmt.Sprintf("%s refused: %s", opts.Role, strings.Join(reasons, ", ")))
	}
	return nil
}

func runDemo(ctx context.Context, k *kernel.Kernel, agent string, in io.Reader, out io.Writer, now func() time.Time) error {
	fmt.Fprintln(out, "cgcs demo: type messages, prefix [SYM:a,b] to anchor, 'exit' to quit")
	sc := bufio.NewScanner(in)
	last := now()
	for {
		fmt.Fprint(out, "\nYou: ")
		if !sc.Scan() {
			break
		}
		raw := sc.Text()
		if cmd := strings.ToLower(strings.TrimSpace(raw)); cmd == "exit" || cmd == "quit" {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		tags, text := parseSymbols(raw)
		t := now()
		dt := t.Sub(last).Seconds()
		last = t

		obs, err := k.Observe(ctx, agent, text, tags)
		if err != nil {
			return err
		}
		pol := loopguard.Policy(obs.Mode)

		active, err := k.Coordinator().ActiveRoles(agent)
		if err != nil {
			return err
		}
		util := make(map[string]float64, len(active))
		for _, r := range active {
			util[r] = demoUtilization
		}
		k.Tick(dt, util, 0)

		anchor, err := k.Anchor(ctx, agent, tags, text)
		if err != nil {
			return err
		}

		gesture := pol.Gesture
		if gesture == "" {
			gesture = "default"
		}
		fmt.Fprintf(out, "\nBot (%s risk %.2f): %s\n", obs.Mode, obs.Risk, respond(pol))
		fmt.Fprintf(out, "Gesture: %s | Anchored: %t\n", gesture, anchor != nil)
	}
	return sc.Err()
}

func respond(pol loopguard.Constraints) string {
	resp := "Acknowledged."
	if pol.Tone == "grounding" {
		resp = "I'm here. We can keep this simple and steady." + safeOptions
	}
	if len(resp) > pol.MaxOutputSize {
		resp = resp[:pol.MaxOutputSize]
	}
	return resp
}

// parseSymbols splits a "[SYM:a,b] text" line into its tags and the text.
// Lines without the prefix have no tags.
func parseSymbols(line string) ([]string, string) {
	const prefix = "[SYM:"
	if !strings.HasPrefix(line, prefix) {
		return nil, line
	}
	head, rest, ok := strings.Cut(line, "]")
	if !ok {
		return nil, line
	}
	var tags []string
	for _, s := range strings.Split(head[len(prefix):], ",") {
		if s = strings.TrimSpace(s); s != "" {
			tags = append(tags, s)
		}
	}
	return tags, strings.TrimLeft(rest, " \t")
}
