package securestore

import (
	"context"
	"fmt"
	"sync"
)

var _ Repo = (*InMemoryRepo)(nil)

// InMemoryRepo is a process-local Repo. Nothing survives a restart.
type InMemoryRepo struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewInMemoryRepo creates an empty in-memory repository
func NewInMemoryRepo() *InMemoryRepo {
	return &InMemoryRepo{items: make(map[string][]byte)}
}

// Get returns a copy of the value stored under key
func (r *InMemoryRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	value, ok := r.items[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

// Set stores a copy of value under key
func (r *InMemoryRepo) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = append([]byte(nil), value...)
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (r *InMemoryRepo) Delete(_ context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, key)
	return nil
}

// Close is a no-op
func (r *InMemoryRepo) Close() error {
	return nil
}
