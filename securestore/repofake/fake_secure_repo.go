package fakesecurerepo

import (
	"context"
	"fmt"
	"sync"

	"github.com/jrsteele09/go-auth-session/securestore"
)

var _ securestore.Repo = (*FakeSecureRepo)(nil)

// FakeSecureRepo is an in-memory implementation of securestore.Repo
type FakeSecureRepo struct {
	mu       sync.RWMutex
	items    map[string][]byte
	corrupt  map[string]bool
	readErr  error
	writeErr error
}

// NewFakeSecureRepo creates a new in-memory secure repository
func NewFakeSecureRepo() *FakeSecureRepo {
	return &FakeSecureRepo{
		items:   make(map[string][]byte),
		corrupt: make(map[string]bool),
	}
}

func (r *FakeSecureRepo) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.readErr != nil {
		return nil, r.readErr
	}
	value, ok := r.items[key]
	if !ok {
		return nil, securestore.ErrNotFound
	}
	if r.corrupt[key] {
		return nil, fmt.Errorf("fake corruption: %w", securestore.ErrCorrupt)
	}

	// Return a copy to prevent external modifications
	return append([]byte(nil), value...), nil
}

func (r *FakeSecureRepo) Set(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writeErr != nil {
		return r.writeErr
	}
	r.items[key] = append([]byte(nil), value...)
	delete(r.corrupt, key)
	return nil
}

func (r *FakeSecureRepo) Delete(_ context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.writeErr != nil {
		return r.writeErr
	}
	delete(r.items, key) // Already doesn't exist, no error
	delete(r.corrupt, key)
	return nil
}

// SetRaw stores bytes without any validation, for simulating bad payloads.
func (r *FakeSecureRepo) SetRaw(key string, value []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = value
}

// MarkCorrupt makes subsequent reads of key fail as undecryptable.
func (r *FakeSecureRepo) MarkCorrupt(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.corrupt[key] = true
}

// FailReads makes every Get return err. Pass nil to restore.
func (r *FakeSecureRepo) FailReads(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readErr = err
}

// FailWrites makes every Set and Delete return err. Pass nil to restore.
func (r *FakeSecureRepo) FailWrites(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.writeErr = err
}

// Has reports whether key is currently stored.
func (r *FakeSecureRepo) Has(key string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.items[key]
	return ok
}
