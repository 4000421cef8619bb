package filestore

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jrsteele09/go-auth-session/securestore"
)

const (
	saltFileName = ".salt"
	itemSuffix   = ".sealed"
	dirPerm      = 0o700
	filePerm     = 0o600
)

var _ securestore.Repo = (*Store)(nil)

// Store keeps each key in its own sealed file under a private data folder.
type Store struct {
	dir    string
	sealer *securestore.Sealer
	mu     sync.RWMutex
}

// Open prepares dir (creating it and its salt on first use) and derives the
// sealing key from secret.
func Open(dir string, secret []byte) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("[filestore.Open] data folder is required")
	}
	dir = filepath.Clean(dir)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("[filestore.Open] create data folder: %w", err)
	}

	salt, err := loadOrCreateSalt(filepath.Join(dir, saltFileName))
	if err != nil {
		return nil, fmt.Errorf("[filestore.Open] %w", err)
	}

	sealer, err := securestore.NewSealer(secret, salt)
	if err != nil {
		return nil, fmt.Errorf("[filestore.Open] %w", err)
	}
	return &Store{dir: dir, sealer: sealer}, nil
}

func (s *Store) Get(_ context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	sealed, err := os.ReadFile(path)
	s.mu.RUnlock()
	if errors.Is(err, fs.ErrNotExist) {
		return nil, securestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return s.sealer.Open(key, sealed)
}

func (s *Store) Set(_ context.Context, key string, value []byte) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	sealed, err := s.sealer.Seal(key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return writeFileAtomic(path, sealed)
}

func (s *Store) Delete(_ context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// Close is a no-op; it exists so callers can treat every store the same way.
func (s *Store) Close() error {
	return nil
}

func (s *Store) pathFor(key string) (string, error) {
	if key == "" {
		return "", errors.New("key is required")
	}
	return filepath.Join(s.dir, base64.RawURLEncoding.EncodeToString([]byte(key))+itemSuffix), nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	salt, err := os.ReadFile(path)
	if err == nil && len(salt) >= securestore.SaltLength {
		return salt, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read salt: %w", err)
	}

	// A short salt file would make every existing item unreadable anyway.
	salt, err = securestore.NewSalt()
	if err != nil {
		return nil, err
	}
	if err := writeFileAtomic(path, salt); err != nil {
		return nil, fmt.Errorf("write salt: %w", err)
	}
	return salt, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(filePerm); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmpName, path)
}
