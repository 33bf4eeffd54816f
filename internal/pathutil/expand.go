package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and the "~/" home shortcut in a
// configured path. An empty input stays empty so callers can treat the
// value as unset.
func Expand(path string) (string, error) {
	p := os.ExpandEnv(strings.TrimSpace(path))
	if p == "" {
		return "", nil
	}

	if p == "~" || strings.HasPrefix(p, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		p = filepath.Join(home, strings.TrimPrefix(p, "~"))
	}

	return filepath.Clean(p), nil
}

// usable rejects empty values and unresolved "~" so a bad HOME cannot leak
// back into the expansion.
func usable(dir string) bool {
	dir = strings.TrimSpace(dir)
	return dir != "" && dir != "~" && !strings.HasPrefix(dir, "~/")
}

func homeDir() (string, error) {
	if home, err := os.UserHomeDir(); err == nil && usable(home) {
		return strings.TrimSpace(home), nil
	}

	if current, err := user.Current(); err == nil && usable(current.HomeDir) {
		return strings.TrimSpace(current.HomeDir), nil
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !usable(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}
