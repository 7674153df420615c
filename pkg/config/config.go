// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads kernel settings from defaults, an optional YAML file,
// CGCS_* environment variables and key=value overrides, in that order.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/cgcs/pkg/errors"
)

// EnvPrefix is the prefix of environment overrides. The first underscore
// after the prefix separates the section: CGCS_FATIGUE_ACTION_COST sets
// fatigue.action_cost.
const EnvPrefix = "CGCS_"

// Audit drivers.
const (
	AuditMemory = "memory"
	AuditSQLite = "sqlite"
)

type Config struct {
	Log         LogConfig         `koanf:"log"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
	Capacity    CapacityConfig    `koanf:"capacity"`
	Fatigue     FatigueConfig     `koanf:"fatigue"`
	Stress      StressConfig      `koanf:"stress"`
	LoopGuard   LoopGuardConfig   `koanf:"loopguard"`
	Memory      MemoryConfig      `koanf:"memory"`
	Coordinator CoordinatorConfig `koanf:"coordinator"`
	Consent     ConsentConfig     `koanf:"consent"`
	Roles       RolesConfig       `koanf:"roles"`
	Audit       AuditConfig       `koanf:"audit"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type TelemetryConfig struct {
	Exporter       string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint   string        `koanf:"otlp_endpoint"`
	OTLPInsecure   bool          `koanf:"otlp_insecure"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

// CapacityConfig bounds role load per agent.
type CapacityConfig struct {
	MaxLoad     float64 `koanf:"max_load"`
	MinResource float64 `koanf:"min_resource"`
}

// FatigueConfig is the action budget of every agent.
type FatigueConfig struct {
	ActionCost           float64       `koanf:"action_cost"`
	MaxActionsBeforeRest int           `koanf:"max_actions_before_rest"`
	MinRest              time.Duration `koanf:"min_rest"`
	ResumeThreshold      float64       `koanf:"resume_threshold"`
	RecoveryPerMinute    float64       `koanf:"recovery_per_minute"`
}

// StressConfig holds the continuous stress coefficients.
type StressConfig struct {
	KUtil   float64 `koanf:"k_util"`
	KGlobal float64 `koanf:"k_global"`
	KDecay  float64 `koanf:"k_decay"`
}

type LoopGuardConfig struct {
	Window    time.Duration `koanf:"window"`
	Cooldown  time.Duration `koanf:"cooldown"`
	MaxEvents int           `koanf:"max_events"`
	// MaxRepeats enables the strike rule when > 0.
	MaxRepeats int `koanf:"max_repeats"`
}

type MemoryConfig struct {
	ThreadTurns int `koanf:"thread_turns"`
}

type CoordinatorConfig struct {
	HistorySize          int  `koanf:"history_size"`
	EscalationCeiling    int  `koanf:"escalation_ceiling"`
	RequireActionConsent bool `koanf:"require_action_consent"`
}

// ConsentConfig drives the background expiry sweeper. A zero interval
// disables it; expiry stays lazy.
type ConsentConfig struct {
	SweepInterval time.Duration `koanf:"sweep_interval"`
	SweepTimeout  time.Duration `koanf:"sweep_timeout"`
}

type RolesConfig struct {
	// Catalog is a YAML role catalog. Empty means the built-in roles.
	Catalog string `koanf:"catalog"`
}

type AuditConfig struct {
	Driver   string `koanf:"driver"` // memory, sqlite
	DSN      string `koanf:"dsn"`
	Capacity int    `koanf:"capacity"`
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"telemetry.exporter":        "none",
	"telemetry.otlp_endpoint":   "localhost:4317",
	"telemetry.otlp_insecure":   true,
	"telemetry.metric_interval": 15 * time.Second,

	"capacity.max_load":     1.0,
	"capacity.min_resource": 0.4,

	"fatigue.action_cost":             5.0,
	"fatigue.max_actions_before_rest": 20,
	"fatigue.min_rest":                5 * time.Minute,
	"fatigue.resume_threshold":        50.0,
	"fatigue.recovery_per_minute":     10.0,

	"stress.k_util":   0.02,
	"stress.k_global": 0.008,
	"stress.k_decay":  0.04,

	"loopguard.window":      120 * time.Second,
	"loopguard.cooldown":    90 * time.Second,
	"loopguard.max_events":  128,
	"loopguard.max_repeats": 0,

	"memory.thread_turns": 50,

	"coordinator.history_size":           64,
	"coordinator.escalation_ceiling":     5,
	"coordinator.require_action_consent": false,

	"consent.sweep_interval": time.Duration(0),
	"consent.sweep_timeout":  5 * time.Second,

	"roles.catalog": "",

	"audit.driver":   AuditMemory,
	"audit.dsn":      "",
	"audit.capacity": 1024,
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := load("", nil)
	if err != nil {
		// Defaults are static and always decode.
		panic(err)
	}
	return cfg
}

// Load reads path (optional), then the environment, then each "key=value"
// override, and validates the result.
func Load(path string, overrides ...string) (*Config, error) {
	cfg, err := load(path, overrides)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func load(path string, overrides []string) (*Config, error) {
	k := koanf.New(".")
	for key, v := range defaults {
		if err := k.Set(key, v); err != nil {
			return nil, err
		}
	}

	// 1. Load from file
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "load config file", err).
				WithContext("path", path)
		}
	}

	// 2. Load from ENV (CGCS_FATIGUE_ACTION_COST -> fatigue.action_cost)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 3. Explicit overrides
	for _, o := range overrides {
		key, value, ok := strings.Cut(o, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("override %q is not key=value", o), nil)
		}
		if err := k.Set(key, strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode config", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	s = strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.Replace(s, "_", ".", 1)
}

// Validate checks ranges and enumerations. All problems are reported in a
// single INVALID_INPUT error.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q unknown", c.Log.Level))
	}
	check(c.Log.Format == "text" || c.Log.Format == "json", "log.format %q must be text or json", c.Log.Format)
	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		problems = append(problems, fmt.Sprintf("telemetry.exporter %q unknown", c.Telemetry.Exporter))
	}

	check(c.Capacity.MaxLoad > 0, "capacity.max_load must be > 0")
	check(c.Capacity.MinResource >= 0 && c.Capacity.MinResource <= 1, "capacity.min_resource must be in [0,1]")

	check(c.Fatigue.ActionCost > 0, "fatigue.action_cost must be > 0")
	check(c.Fatigue.MaxActionsBeforeRest > 0, "fatigue.max_actions_before_rest must be > 0")
	check(c.Fatigue.MinRest >= 0, "fatigue.min_rest must be >= 0")
	check(c.Fatigue.ResumeThreshold >= 0 && c.Fatigue.ResumeThreshold <= 100, "fatigue.resume_threshold must be in [0,100]")
	check(c.Fatigue.RecoveryPerMinute >= 0, "fatigue.recovery_per_minute must be >= 0")

	check(c.Stress.KUtil >= 0 && c.Stress.KGlobal >= 0 && c.Stress.KDecay >= 0, "stress coefficients must be >= 0")

	check(c.LoopGuard.Window > 0, "loopguard.window must be > 0")
	check(c.LoopGuard.Cooldown >= 0, "loopguard.cooldown must be >= 0")
	check(c.LoopGuard.MaxEvents > 0, "loopguard.max_events must be > 0")
	check(c.LoopGuard.MaxRepeats >= 0, "loopguard.max_repeats must be >= 0")

	check(c.Memory.ThreadTurns > 0, "memory.thread_turns must be > 0")

	check(c.Coordinator.HistorySize > 0, "coordinator.history_size must be > 0")
	check(c.Coordinator.EscalationCeiling > 0 && c.Coordinator.EscalationCeiling <= 10,
		"coordinator.escalation_ceiling must be in [1,10]")

	check(c.Consent.SweepInterval >= 0, "consent.sweep_interval must be >= 0")
	check(c.Consent.SweepTimeout >= 0, "consent.sweep_timeout must be >= 0")

	switch c.Audit.Driver {
	case AuditMemory:
		check(c.Audit.Capacity > 0, "audit.capacity must be > 0")
	case AuditSQLite:
		check(c.Audit.DSN != "", "audit.dsn is required for the sqlite driver")
	default:
		problems = append(problems, fmt.Sprintf("audit.driver %q must be memory or sqlite", c.Audit.Driver))
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.CodeInvalidInput, "invalid configuration: "+strings.Join(problems, "; "), nil).
		WithContext("problems", len(problems))
}
