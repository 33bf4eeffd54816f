package engine

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/ballee/spendguard/internal/snapshot"
)

func writeInboxFile(t *testing.T, inbox, name string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inbox, name), data, 0644); err != nil {
		t.Fatalf("write inbox file: %v", err)
	}
}

func TestFileProviderLoad(t *testing.T) {
	inbox := t.TempDir()
	p, err := NewFileProvider(inbox)
	if err != nil {
		t.Fatalf("new provider: %v", err)
	}

	writeInboxFile(t, inbox, "single.json", nominalSnapshot("google_ads"))
	writeInboxFile(t, inbox, "batch.json", []snapshot.MetricSnapshot{
		nominalSnapshot("meta_ads"),
		nominalSnapshot("tiktok_ads"),
	})
	if err := os.WriteFile(filepath.Join(inbox, "broken.json"), []byte("{nope"), 0644); err != nil {
		t.Fatalf("write broken file: %v", err)
	}
	if err := os.WriteFile(filepath.Join(inbox, "notes.txt"), []byte("ignore me"), 0644); err != nil {
		t.Fatalf("write txt file: %v", err)
	}

	snaps, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if len(snaps) != 3 {
		t.Fatalf("loaded %d snapshots, want 3", len(snaps))
	}

	if _, err := os.Stat(filepath.Join(inbox, "processed", "single.json")); err != nil {
		t.Errorf("expected single.json moved to processed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inbox, "rejected", "broken.json")); err != nil {
		t.Errorf("expected broken.json moved to rejected: %v", err)
	}
	if _, err := os.Stat(filepath.Join(inbox, "notes.txt")); err != nil {
		t.Errorf("non-JSON files must stay in place: %v", err)
	}

	// Second load sees an empty inbox.
	snaps, err = p.Load(context.Background())
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if len(snaps) != 0 {
		t.Errorf("second load returned %d snapshots, want 0", len(snaps))
	}
}

func TestFileProviderRequiresPath(t *testing.T) {
	if _, err := NewFileProvider(""); err == nil {
		t.Error("expected error for empty inbox path")
	}
}
