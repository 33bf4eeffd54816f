package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ballee/spendguard/internal/errors"
	"github.com/ballee/spendguard/internal/snapshot"
)

// SnapshotProvider supplies the metric snapshots for an evaluation run.
type SnapshotProvider interface {
	Load(ctx context.Context) ([]snapshot.MetricSnapshot, error)
}

// FileProvider reads snapshot JSON files dropped into an inbox directory.
// Each file holds one snapshot or an array of snapshots. Consumed files move
// to processed/, unparseable ones to rejected/, so a crashed run never
// re-executes a decision it already committed.
type FileProvider struct {
	inboxPath string
}

func NewFileProvider(inboxPath string) (*FileProvider, error) {
	if inboxPath == "" {
		return nil, errors.Configuration("snapshot inbox path not set")
	}
	if err := os.MkdirAll(inboxPath, 0755); err != nil {
		return nil, errors.Wrap(err, "failed to create inbox")
	}
	for _, sub := range []string{"processed", "rejected"} {
		if err := os.MkdirAll(filepath.Join(inboxPath, sub), 0755); err != nil {
			return nil, errors.Wrap(err, "failed to create inbox subdir")
		}
	}
	return &FileProvider{inboxPath: inboxPath}, nil
}

func (p *FileProvider) Load(ctx context.Context) ([]snapshot.MetricSnapshot, error) {
	entries, err := os.ReadDir(p.inboxPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read inbox")
	}

	var snaps []snapshot.MetricSnapshot
	for _, entry := range entries {
		select {
		case <-ctx.Done():
			return snaps, ctx.Err()
		default:
		}

		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		path := filepath.Join(p.inboxPath, entry.Name())
		parsed, err := parseSnapshotFile(path)
		if err != nil {
			slog.Warn("Rejecting unparseable snapshot file", "file", entry.Name(), "error", err)
			p.move(path, "rejected")
			continue
		}

		snaps = append(snaps, parsed...)
		p.move(path, "processed")
	}

	return snaps, nil
}

func parseSnapshotFile(path string) ([]snapshot.MetricSnapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	trimmed := strings.TrimSpace(string(data))
	if strings.HasPrefix(trimmed, "[") {
		var snaps []snapshot.MetricSnapshot
		if err := json.Unmarshal(data, &snaps); err != nil {
			return nil, err
		}
		return snaps, nil
	}

	var snap snapshot.MetricSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return []snapshot.MetricSnapshot{snap}, nil
}

func (p *FileProvider) move(path, subdir string) {
	dest := filepath.Join(p.inboxPath, subdir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		slog.Error("Failed to move snapshot file", "from", path, "to", dest, "error", err)
	}
}

// StaticProvider serves a fixed set of snapshots, for one-shot CLI runs.
type StaticProvider struct {
	Snapshots []snapshot.MetricSnapshot
}

func (p *StaticProvider) Load(ctx context.Context) ([]snapshot.MetricSnapshot, error) {
	return p.Snapshots, nil
}
