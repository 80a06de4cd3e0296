package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/domainpulse/domainpulse-agent/internal/model"
)

func TestMemoryStore_SaveLoad(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	events := []model.Event{
		model.NewEvent(model.ActivityActive, "example.com"),
		model.NewEvent(model.ActivityInactive, "example.com"),
	}

	if err := store.Save(ctx, KeyQueue, events); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var loaded []model.Event
	if err := store.Load(ctx, KeyQueue, &loaded); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d events, want 2", len(loaded))
	}
	if loaded[0].ID != events[0].ID || loaded[1].Kind != model.ActivityInactive {
		t.Errorf("round trip mismatch: %+v", loaded)
	}
}

func TestMemoryStore_LoadMissing(t *testing.T) {
	store := NewMemory()

	var dest []string
	err := store.Load(context.Background(), KeyExceptions, &dest)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Load missing key = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemory()

	if err := store.Save(ctx, KeyBackendURL, "https://old.example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := store.Save(ctx, KeyBackendURL, "https://new.example.com"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	var url string
	if err := store.Load(ctx, KeyBackendURL, &url); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if url != "https://new.example.com" {
		t.Errorf("url = %q, want the overwritten value", url)
	}
}
