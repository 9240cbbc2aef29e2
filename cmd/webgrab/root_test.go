package main

import (
	"bytes"
	"strings"
	"testing"
)

// TestNewRootCmd tests command wiring.
func TestNewRootCmd(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	if cmd.Use != "webgrab" {
		t.Errorf("unexpected Use %q", cmd.Use)
	}

	var names []string
	for _, sub := range cmd.Commands() {
		names = append(names, sub.Name())
	}
	for _, want := range []string{"crawl", "version"} {
		found := false
		for _, name := range names {
			if name == want {
				found = true
			}
		}
		if !found {
			t.Errorf("missing subcommand %q in %v", want, names)
		}
	}
}

// TestRootHelp tests that help renders without error.
func TestRootHelp(t *testing.T) {
	t.Parallel()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"--help"})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("help failed: %v", err)
	}
	if !strings.Contains(out.String(), "webgrab") {
		t.Errorf("unexpected help output: %s", out.String())
	}
}
