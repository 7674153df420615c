// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/cgcs/pkg/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cgcs.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Fatigue.ActionCost != 5 || cfg.Fatigue.MaxActionsBeforeRest != 20 || cfg.Fatigue.MinRest != 5*time.Minute {
		t.Fatalf("fatigue defaults = %+v", cfg.Fatigue)
	}
	if cfg.LoopGuard.Window != 120*time.Second || cfg.LoopGuard.Cooldown != 90*time.Second || cfg.LoopGuard.MaxEvents != 128 {
		t.Fatalf("loopguard defaults = %+v", cfg.LoopGuard)
	}
	if cfg.Capacity.MaxLoad != 1.0 || cfg.Capacity.MinResource != 0.4 {
		t.Fatalf("capacity defaults = %+v", cfg.Capacity)
	}
	if cfg.Coordinator.EscalationCeiling != 5 || cfg.Memory.ThreadTurns != 50 {
		t.Fatalf("coordinator/memory defaults = %+v %+v", cfg.Coordinator, cfg.Memory)
	}
	if cfg.Audit.Driver != AuditMemory || cfg.Consent.SweepInterval != 0 {
		t.Fatalf("audit/consent defaults = %+v %+v", cfg.Audit, cfg.Consent)
	}
	if *Default() != *cfg {
		t.Fatalf("Default() differs from Load(\"\")")
	}
}

func TestLoadFileEnvAndOverrides(t *testing.T) {
	path := writeConfig(t, `
log:
  level: debug
  format: json
fatigue:
  action_cost: 20
  min_rest: 2m
loopguard:
  window: 30s
  max_repeats: 3
coordinator:
  require_action_consent: true
`)
	t.Setenv("CGCS_FATIGUE_RECOVERY_PER_MINUTE", "4")
	t.Setenv("CGCS_LOG_LEVEL", "warn")

	cfg, err := Load(path, "capacity.max_load=0.8", "loopguard.window=45s")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("env should override file, got level %q", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" {
		t.Fatalf("format = %q", cfg.Log.Format)
	}
	if cfg.Fatigue.ActionCost != 20 || cfg.Fatigue.MinRest != 2*time.Minute || cfg.Fatigue.RecoveryPerMinute != 4 {
		t.Fatalf("fatigue = %+v", cfg.Fatigue)
	}
	if cfg.LoopGuard.Window != 45*time.Second || cfg.LoopGuard.MaxRepeats != 3 {
		t.Fatalf("loopguard = %+v", cfg.LoopGuard)
	}
	if cfg.Capacity.MaxLoad != 0.8 || !cfg.Coordinator.RequireActionConsent {
		t.Fatalf("overrides not applied: %+v %+v", cfg.Capacity, cfg.Coordinator)
	}
	// untouched keys keep defaults
	if cfg.Fatigue.MaxActionsBeforeRest != 20 {
		t.Fatalf("max actions = %d", cfg.Fatigue.MaxActionsBeforeRest)
	}
}

func TestLoadIsolated(t *testing.T) {
	path := writeConfig(t, "memory:\n  thread_turns: 7\n")
	if _, err := Load(path); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Memory.ThreadTurns != 50 {
		t.Fatalf("previous load leaked into a fresh one: %d", cfg.Memory.ThreadTurns)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("missing file err = %v", err)
	}
	if _, err := Load("", "no-equals-sign"); errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("bad override err = %v", err)
	}
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name     string
		override string
		want     string
	}{
		{"log level", "log.level=loud", "log.level"},
		{"log format", "log.format=xml", "log.format"},
		{"exporter", "telemetry.exporter=zipkin", "telemetry.exporter"},
		{"max load", "capacity.max_load=0", "capacity.max_load"},
		{"min resource", "capacity.min_resource=1.5", "capacity.min_resource"},
		{"action cost", "fatigue.action_cost=0", "fatigue.action_cost"},
		{"resume", "fatigue.resume_threshold=120", "fatigue.resume_threshold"},
		{"stress", "stress.k_decay=-1", "stress coefficients"},
		{"window", "loopguard.window=0s", "loopguard.window"},
		{"thread", "memory.thread_turns=0", "memory.thread_turns"},
		{"ceiling", "coordinator.escalation_ceiling=11", "coordinator.escalation_ceiling"},
		{"driver", "audit.driver=postgres", "audit.driver"},
		{"sqlite dsn", "audit.driver=sqlite", "audit.dsn"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load("", c.override)
			if err == nil {
				t.Fatalf("expected validation error")
			}
			var e *errors.Error
			if !stderrors.As(err, &e) || e.Code != errors.CodeInvalidInput {
				t.Fatalf("err = %v, want INVALID_INPUT", err)
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Fatalf("err %q does not mention %q", err, c.want)
			}
		})
	}
}

func TestValidateCollectsAllProblems(t *testing.T) {
	cfg := Default()
	cfg.Capacity.MaxLoad = -1
	cfg.Memory.ThreadTurns = 0
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "capacity.max_load") || !strings.Contains(err.Error(), "memory.thread_turns") {
		t.Fatalf("err = %v", err)
	}
}
