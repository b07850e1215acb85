package proxy

import (
	"context"
	"sync"
)

// MemoryStore is the default backend: artifacts live for the process
// lifetime. Deployments that need durable or expiring artifacts configure
// the Redis or MinIO backend instead.
type MemoryStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{artifacts: make(map[string]Artifact)}
}

func (s *MemoryStore) Put(_ context.Context, artifact Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[artifact.GUID] = artifact
	return nil
}

func (s *MemoryStore) Get(_ context.Context, guid string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	artifact, ok := s.artifacts[guid]
	if !ok {
		return Artifact{}, ErrNotFound
	}
	return artifact, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
