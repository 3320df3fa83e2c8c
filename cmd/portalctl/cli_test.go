package main

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"portal/internal/backup"
	"portal/internal/localstore"
	"portal/internal/session"
	"portal/internal/submission"
)

func TestPromptConfirmer(t *testing.T) {
	tests := []struct {
		input string
		want  submission.Decision
	}{
		{"j\n", submission.DecisionSend},
		{"Ja\n", submission.DecisionSend},
		{"y", submission.DecisionSend},
		{"a\n", submission.DecisionEdit},
		{"ändern\n", submission.DecisionEdit},
		{"n\n", submission.DecisionCancel},
		{"\n", submission.DecisionCancel},
		{"", submission.DecisionCancel},
	}
	for _, tt := range tests {
		t.Run(strings.TrimSpace(tt.input), func(t *testing.T) {
			var out bytes.Buffer
			p := promptConfirmer{in: strings.NewReader(tt.input), out: &out}
			got, err := p.Confirm(context.Background(), session.Identity{Klasse: "3a", Name: "Max"})
			if err != nil {
				t.Fatalf("Confirm() error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("Confirm(%q) = %q, want %q", tt.input, got, tt.want)
			}
			if !strings.Contains(out.String(), "Klasse: 3a") || !strings.Contains(out.String(), "Fortfahren?") {
				t.Fatalf("prompt = %q", out.String())
			}
		})
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Setenv("PORTAL_ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("PORTAL_STORE", "memory")
	t.Setenv("PORTAL_ENDPOINT_URL", "")
	t.Setenv("PORTAL_HISTORY_DIR", "")
	t.Setenv("MINIO_ENDPOINT", "")

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestIdentitySet(t *testing.T) {
	out, err := runCLI(t, "identity", "set", "3a", "Max Muster")
	if err != nil {
		t.Fatalf("identity set: %v", err)
	}
	if !strings.Contains(out, "Angemeldet als 3a_Max Muster") {
		t.Fatalf("output = %q", out)
	}

	if _, err := runCLI(t, "identity", "set", " ", "Max"); !errors.Is(err, session.ErrInvalidIdentity) {
		t.Fatalf("blank klasse: err = %v", err)
	}
}

func TestExportEmptyProfile(t *testing.T) {
	_, err := runCLI(t, "export", "--out", t.TempDir())
	if !errors.Is(err, localstore.ErrNothingToExport) {
		t.Fatalf("export err = %v, want ErrNothingToExport", err)
	}
}

func TestHistoryDisabled(t *testing.T) {
	if _, err := runCLI(t, "history"); !errors.Is(err, backup.ErrHistoryDisabled) {
		t.Fatalf("history err = %v", err)
	}
}
