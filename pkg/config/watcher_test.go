// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"os"
	"testing"
	"time"
)

func TestWatcherReload(t *testing.T) {
	path := writeConfig(t, "log:\n  level: info\n")
	w, err := NewWatcher(path, WithWatchInterval(10*time.Millisecond))
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	if w.Config().Log.Level != "info" {
		t.Fatalf("initial level = %q", w.Config().Log.Level)
	}

	changes := make(chan *Config, 1)
	w.OnChange(func(c *Config) {
		select {
		case changes <- c:
		default:
		}
	})
	w.Start(context.Background())
	defer w.Stop()

	if err := os.WriteFile(path, []byte("log:\n  level: debug\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	select {
	case c := <-changes:
		if c.Log.Level != "debug" {
			t.Fatalf("reloaded level = %q", c.Log.Level)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no reload observed")
	}
	if w.Config().Log.Level != "debug" {
		t.Fatalf("Config() not updated")
	}
}

func TestWatcherKeepsConfigOnInvalidReload(t *testing.T) {
	path := writeConfig(t, "memory:\n  thread_turns: 9\n")
	w, err := NewWatcher(path)
	if err != nil {
		t.Fatal(err)
	}
	called := false
	w.OnChange(func(*Config) { called = true })

	if err := os.WriteFile(path, []byte("memory:\n  thread_turns: 0\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if w.Reload() {
		t.Fatal("invalid reload reported success")
	}
	if called || w.Config().Memory.ThreadTurns != 9 {
		t.Fatalf("invalid config applied: called=%v turns=%d", called, w.Config().Memory.ThreadTurns)
	}
}

func TestWatcherOverrides(t *testing.T) {
	path := writeConfig(t, "memory:\n  thread_turns: 9\n")
	w, err := NewWatcher(path, WithOverrides("memory.thread_turns=3"))
	if err != nil {
		t.Fatal(err)
	}
	if w.Config().Memory.ThreadTurns != 3 {
		t.Fatalf("override not applied: %d", w.Config().Memory.ThreadTurns)
	}
}
