// Package proxy persists rendered documents under their own GUIDs. Artifacts
// carry no reference to the session that produced them; a session abort never
// touches this store, and retention is whatever the configured backend
// enforces.
package proxy

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound indicates the GUID is unknown or the artifact expired.
var ErrNotFound = errors.New("proxy artifact not found")

// Artifact is one rendered document held for later retrieval.
type Artifact struct {
	GUID        string    `json:"guid"`
	Data        []byte    `json:"data"`
	ContentType string    `json:"content_type"`
	Format      string    `json:"format"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store is the artifact backend. Put is atomic: either the artifact is fully
// stored or nothing is.
type Store interface {
	Put(ctx context.Context, artifact Artifact) error
	Get(ctx context.Context, guid string) (Artifact, error)
	Ping(ctx context.Context) error
	Close() error
}
