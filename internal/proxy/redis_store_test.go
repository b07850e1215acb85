package proxy

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func newTestRedisStore(t *testing.T, retention time.Duration) (*miniredis.Miniredis, *RedisStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	store, err := NewRedisStore("redis://"+mr.Addr(), retention)
	if err != nil {
		t.Fatalf("NewRedisStore() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return mr, store
}

func TestRedisStoreRoundtrip(t *testing.T) {
	_, store := newTestRedisStore(t, time.Hour)
	ctx := context.Background()

	artifact := Artifact{
		GUID:        "11111111-2222-3333-4444-555555555555",
		Data:        []byte("%PDF-1.7"),
		ContentType: "application/pdf",
		Format:      "pdf",
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
	if got.Format != "pdf" || got.ContentType != "application/pdf" {
		t.Errorf("metadata = %s/%s", got.ContentType, got.Format)
	}
}

func TestRedisStoreUnknownGUID(t *testing.T) {
	_, store := newTestRedisStore(t, time.Hour)
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) = %v, want ErrNotFound", err)
	}
}

func TestRedisStoreRetentionExpiry(t *testing.T) {
	mr, store := newTestRedisStore(t, time.Minute)
	ctx := context.Background()

	artifact := Artifact{GUID: "expiring", Data: []byte("x"), Format: "html"}
	if err := store.Put(ctx, artifact); err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	if _, err := store.Get(ctx, artifact.GUID); err != nil {
		t.Fatalf("Get() before expiry error = %v", err)
	}

	mr.FastForward(2 * time.Minute)

	if _, err := store.Get(ctx, artifact.GUID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() after expiry = %v, want ErrNotFound", err)
	}
}

func TestRedisStorePing(t *testing.T) {
	mr, store := newTestRedisStore(t, 0)
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
	mr.Close()
	if err := store.Ping(context.Background()); err == nil {
		t.Fatal("Ping() after server shutdown should fail")
	}
}
