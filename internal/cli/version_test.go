// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"runtime"
	"strings"
	"testing"
)

func TestVersionCommand(t *testing.T) {
	t.Run("full output", func(t *testing.T) {
		cmd := newVersionCmd("1.2.3")
		var err error
		stdout, _ := captureOutput(t, func() { err = cmd.Execute() })
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if !strings.Contains(stdout, "modelfetch 1.2.3") {
			t.Errorf("missing version line, got %q", stdout)
		}
		if !strings.Contains(stdout, runtime.Version()) {
			t.Errorf("missing go runtime version, got %q", stdout)
		}
		if !strings.Contains(stdout, "commit:") {
			t.Errorf("missing commit line, got %q", stdout)
		}
	})

	t.Run("short output", func(t *testing.T) {
		cmd := newVersionCmd("1.2.3")
		cmd.SetArgs([]string{"--short"})
		var err error
		stdout, _ := captureOutput(t, func() { err = cmd.Execute() })
		if err != nil {
			t.Fatalf("Execute failed: %v", err)
		}
		if strings.TrimSpace(stdout) != "1.2.3" {
			t.Errorf("expected bare version, got %q", stdout)
		}
	})
}

func TestVCSStampWithoutCheckout(t *testing.T) {
	// Test binaries carry no vcs settings, so both fields stay "unknown".
	commit, built := vcsStamp()
	if commit == "" || built == "" {
		t.Errorf("vcsStamp must never return empty fields, got %q / %q", commit, built)
	}
}
