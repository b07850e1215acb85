package proxy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryStoreRoundtrip(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	artifact := Artifact{
		GUID:        "11111111-2222-3333-4444-555555555555",
		Data:        []byte("<html></html>"),
		ContentType: "text/html; charset=utf-8",
		Format:      "html",
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Put(ctx, artifact); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	got, err := store.Get(ctx, artifact.GUID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !bytes.Equal(got.Data, artifact.Data) {
		t.Errorf("data = %q, want %q", got.Data, artifact.Data)
	}
	if got.ContentType != artifact.ContentType || got.Format != artifact.Format {
		t.Errorf("metadata = %s/%s, want %s/%s", got.ContentType, got.Format, artifact.ContentType, artifact.Format)
	}
}

func TestMemoryStoreUnknownGUID(t *testing.T) {
	store := NewMemoryStore()
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestMemoryStorePing(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
}
