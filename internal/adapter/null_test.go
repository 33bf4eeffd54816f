package adapter

import (
	"context"
	"testing"
)

func TestNullAdapter(t *testing.T) {
	a := NewNullAdapter("")
	if a.Name() != "null" {
		t.Errorf("expected default name null, got %q", a.Name())
	}

	named := NewNullAdapter("sink")
	if named.Name() != "sink" {
		t.Errorf("expected name sink, got %q", named.Name())
	}

	ctx := context.Background()
	if err := a.Send(ctx, "chan-1", "hello"); err != nil {
		t.Errorf("null send failed: %v", err)
	}
	if err := a.Health(ctx); err != nil {
		t.Errorf("null health failed: %v", err)
	}
}
