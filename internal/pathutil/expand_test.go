package pathutil

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpand(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Fatalf("user home dir: %v", err)
	}
	t.Setenv("SPENDGUARD_PATH_TEST", "/tmp/spendguard-path")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "empty stays empty", in: "", want: ""},
		{name: "whitespace only", in: "   ", want: ""},
		{name: "home shortcut", in: "~/.spendguard/workspaces", want: filepath.Join(home, ".spendguard", "workspaces")},
		{name: "bare tilde", in: "~", want: home},
		{name: "env var", in: "$SPENDGUARD_PATH_TEST/workspaces", want: "/tmp/spendguard-path/workspaces"},
		{name: "plain path cleaned", in: "/var//data/./spendguard", want: "/var/data/spendguard"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Expand(tt.in)
			if err != nil {
				t.Fatalf("Expand(%q): %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Expand(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestExpandUnresolvableHomeEnv(t *testing.T) {
	// HOME set to "~" must never leak an unexpanded tilde back out; the
	// fallback chain resolves the real home from the user database.
	t.Setenv("HOME", "~")

	got, err := Expand("~/.spendguard/workspaces")
	if err != nil {
		t.Skipf("no resolvable home on this system: %v", err)
	}
	if got == "" || strings.HasPrefix(got, "~") {
		t.Fatalf("path not expanded: %q", got)
	}
}
