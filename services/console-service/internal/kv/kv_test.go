package kv

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	value := []byte(`[{"name":"urgent"}]`)
	if err := s.Set(ctx, "presets:u1", value); err != nil {
		t.Fatalf("set: %v", err)
	}
	value[0] = 'X'

	got, err := s.Get(ctx, "presets:u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != `[{"name":"urgent"}]` {
		t.Fatalf("stored value must not alias the caller's slice, got %s", got)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := Migrations.ReadDir(MigrationsDir)
	if err != nil {
		t.Fatalf("read migrations: %v", err)
	}
	if len(entries) == 0 {
		t.Fatalf("expected at least one migration")
	}
}
