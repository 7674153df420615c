// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package main implements the cgcs CLI.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/cgcs/pkg/config"
	"github.com/jllopis/cgcs/pkg/kernel"
	"github.com/jllopis/cgcs/pkg/telemetry"
)

// Set with -ldflags "-X main.version=...".
var version = "dev"

type globalFlags struct {
	ConfigPath string
	Overrides  []string
	LogLevel   string
	LogFormat  string
	JSON       bool
}

// app carries state shared by subcommands once the root pre-run has loaded
// the configuration.
type app struct {
	flags    globalFlags
	cfg      *config.Config
	level    slog.LevelVar
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, a := newRootCmd(os.Stdin, os.Stdout, os.Stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		PrintError(os.Stderr, err, a.flags.JSON)
		os.Exit(1)
	}
}

func newRootCmd(in io.Reader, out, errOut io.Writer) (*cobra.Command, *app) {
	a := &app{}
	root := &cobra.Command{
		Use:           "cgcs",
		Short:         "Consent-gated coordination kernel",
		Long:          "Run and inspect a coordination kernel that gates agent roles and actions on consent, capacity, fatigue and loop detection.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context(), errOut)
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.shutdown == nil {
				return nil
			}
			return a.shutdown(cmd.Context())
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	pf := root.PersistentFlags()
	pf.StringVarP(&a.flags.ConfigPath, "config", "c", "", "Path to a YAML config file")
	pf.StringArrayVar(&a.flags.Overrides, "set", nil, "Override config key=value (repeatable)")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	pf.StringVar(&a.flags.LogFormat, "log-format", "", "Log format: text or json")
	pf.BoolVar(&a.flags.JSON, "json", false, "Print errors and results as JSON")

	root.AddCommand(
		newRolesCmd(a),
		newSimulateCmd(a),
		newDemoCmd(a),
		newVersionCmd(),
	)
	return root, a
}

func (a *app) loadOverrides() []string {
	overrides := append([]string(nil), a.flags.Overrides...)
	if a.flags.LogLevel != "" {
		overrides = append(overrides, "log.level="+a.flags.LogLevel)
	}
	if a.flags.LogFormat != "" {
		overrides = append(overrides, "log.format="+a.flags.LogFormat)
	}
	return overrides
}

func (a *app) setup(ctx context.Context, logOut io.Writer) error {
	cfg, err := config.Load(a.flags.ConfigPath, a.loadOverrides()...)
	if err != nil {
		return NewConfigError(err, a.flags.ConfigPath)
	}
	a.cfg = cfg
	a.level.Set(telemetry.ParseLevel(cfg.Log.Level))
	a.logger = telemetry.NewDynamicLogger(logOut, &a.level, cfg.Log.Format)
	slog.SetDefault(a.logger)

	shutdown, err := telemetry.InitWithConfig("cgcs", version, telemetry.Config{
		Exporter:       cfg.Telemetry.Exporter,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure:   cfg.Telemetry.OTLPInsecure,
		MetricInterval: cfg.Telemetry.MetricInterval,
	})
	if err != nil {
		return NewConfigError(err, a.flags.ConfigPath)
	}
	a.shutdown = shutdown
	a.logger.DebugContext(ctx, "cli.config.loaded", "path", a.flags.ConfigPath, "exporter", cfg.Telemetry.Exporter)
	return nil
}

func (a *app) newKernel(ctx context.Context) (*kernel.Kernel, error) {
	return kernel.New(ctx, a.cfg, kernel.WithLogger(a.logger))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the cgcs version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := io.WriteString(cmd.OutOrStdout(), version+"\n")
			return err
		},
	}
}
