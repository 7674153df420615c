// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/cgcs/pkg/errors"
	"github.com/jllopis/cgcs/pkg/roles"
	"github.com/jllopis/cgcs/pkg/simulation"
)

func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root, _ := newRootCmd(strings.NewReader(stdin), &out, &errOut)
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

func TestVersionCmd(t *testing.T) {
	out, _, err := execute(t, "", "version")
	if err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(out) != version {
		t.Fatalf("version output = %q", out)
	}
}

func TestRolesCmd(t *testing.T) {
	out, _, err := execute(t, "", "roles")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(out, "ROLE") || !strings.Contains(out, roles.Transport) {
		t.Fatalf("roles table = %q", out)
	}

	out, _, err = execute(t, "", "--json", "roles")
	if err != nil {
		t.Fatal(err)
	}
	var specs []roles.SpecConfig
	if err := json.Unmarshal([]byte(out), &specs); err != nil {
		t.Fatalf("roles json: %v", err)
	}
	if len(specs) != len(roles.CanonicalSpecs()) {
		t.Fatalf("got %d roles", len(specs))
	}
}

func TestSimulateCmd(t *testing.T) {
	out, _, err := execute(t, "", "simulate", "--agents", "3", "--steps", "20", "--seed", "5")
	if err != nil {
		t.Fatal(err)
	}
	var rep simulation.Report
	if err := json.Unmarshal([]byte(out), &rep); err != nil {
		t.Fatalf("report json: %v (%s)", err, out)
	}
	if rep.Agents != 3 || rep.Steps != 20 || !rep.OK() {
		t.Fatalf("report = %+v", rep)
	}
}

func TestSimulateRejectsBadRatio(t *testing.T) {
	_, _, err := execute(t, "", "simulate", "--consent-ratio", "2")
	if errors.CodeOf(err) != errors.CodeInvalidInput {
		t.Fatalf("err = %v", err)
	}
}

func TestDemoLoop(t *testing.T) {
	input := strings.Join([]string{
		"hello",
		"[SYM:garden] roses need water",
		"HELP!!",
		"HELP!!",
		"HELP!!",
		"exit",
		"never read",
	}, "\n")
	out, _, err := execute(t, input, "demo", "--role", roles.Gardening)
	if err != nil {
		t.Fatal(err)
	}
	replies := strings.Split(out, "Bot (")
	if len(replies) != 6 {
		t.Fatalf("got %d replies:\n%s", len(replies)-1, out)
	}
	if !strings.Contains(replies[2], "Anchored: true") {
		t.Fatalf("tagged line not anchored: %q", replies[2])
	}
	if !strings.Contains(replies[1], "Anchored: false") {
		t.Fatalf("untagged line anchored: %q", replies[1])
	}
	last := replies[5]
	if !strings.HasPrefix(last, "deescalate") || !strings.Contains(last, "Gesture: hold_still_visible") {
		t.Fatalf("third HELP!! not de-escalated: %q", last)
	}
	if !strings.Contains(last, "Option: pause for a moment.") {
		t.Fatalf("grounding reply missing safe options: %q", last)
	}
}

func TestDemoWithoutConsentNeverAnchors(t *testing.T) {
	out, _, err := execute(t, "[SYM:garden] roses\n", "demo", "--no-consent")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Anchored: false") {
		t.Fatalf("anchored without consent: %s", out)
	}
}

func TestConfigErrorIsReported(t *testing.T) {
	_, _, err := execute(t, "", "--set", "capacity.max_load=0", "version")
	if err == nil {
		t.Fatal("expected config error")
	}
	var buf bytes.Buffer
	PrintError(&buf, err, true)
	var payload map[string]map[string]string
	if jerr := json.Unmarshal(buf.Bytes(), &payload); jerr != nil {
		t.Fatalf("error json: %v (%s)", jerr, buf.String())
	}
	if payload["error"]["code"] != string(errors.CodeInvalidInput) || payload["error"]["hint"] == "" {
		t.Fatalf("payload = %v", payload)
	}
}

func TestParseSymbols(t *testing.T) {
	cases := []struct {
		in       string
		wantTags []string
		wantText string
	}{
		{"plain text", nil, "plain text"},
		{"[SYM:a,b] hello", []string{"a", "b"}, "hello"},
		{"[SYM: a , ,b ]   spaced", []string{"a", "b"}, "spaced"},
		{"[SYM:] empty", nil, "empty"},
		{"[SYM:unclosed", nil, "[SYM:unclosed"},
		{"text [SYM:a] later", nil, "text [SYM:a] later"},
	}
	for _, c := range cases {
		tags, text := parseSymbols(c.in)
		if !reflect.DeepEqual(tags, c.wantTags) || text != c.wantText {
			t.Errorf("parseSymbols(%q) = %v, %q; want %v, %q", c.in, tags, text, c.wantTags, c.wantText)
		}
	}
}
