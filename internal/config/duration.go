package config

import (
	"fmt"
	"strings"
	"time"
)

// DurationOrDefault parses value as a time.Duration, substituting
// defaultValue when value is blank. Config keeps durations as strings so
// yaml, env, and flags all round-trip the same way.
func DurationOrDefault(value, defaultValue string) (time.Duration, error) {
	raw := strings.TrimSpace(value)
	if raw == "" {
		raw = strings.TrimSpace(defaultValue)
	}
	if raw == "" {
		return 0, fmt.Errorf("duration value is empty")
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse duration %q: %w", raw, err)
	}
	return d, nil
}
