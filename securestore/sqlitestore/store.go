package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jrsteele09/go-auth-session/securestore"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS secure_meta (
	name  TEXT PRIMARY KEY,
	value BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS secure_items (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
);
`

const (
	saltMetaName = "salt"

	selectSaltQuery  = `SELECT value FROM secure_meta WHERE name = ?`
	insertSaltQuery  = `INSERT INTO secure_meta (name, value) VALUES (?, ?)`
	selectItemQuery  = `SELECT value FROM secure_items WHERE key = ?`
	upsertItemQuery  = `INSERT INTO secure_items (key, value, updated_at) VALUES (?1, ?2, ?3)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	deleteItemQuery = `DELETE FROM secure_items WHERE key = ?`
)

var _ securestore.Repo = (*Store)(nil)

// Store implements securestore.Repo over an on-device SQLite file.
type Store struct {
	sqlDB  *sql.DB
	sealer *securestore.Sealer
	now    func() time.Time
}

// Open opens the SQLite file at path, applies the schema and derives the
// sealing key from secret and the salt kept in the database.
func Open(path string, secret []byte) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create data folder: %w", err)
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps writes strictly ordered.
	sqlDB.SetMaxOpenConns(1)

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	salt, err := loadOrCreateSalt(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	sealer, err := securestore.NewSealer(secret, salt)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{sqlDB: sqlDB, sealer: sealer, now: time.Now}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	var sealed []byte
	err := s.sqlDB.QueryRowContext(ctx, selectItemQuery, key).Scan(&sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, securestore.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return s.sealer.Open(key, sealed)
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	sealed, err := s.sealer.Seal(key, value)
	if err != nil {
		return fmt.Errorf("seal %s: %w", key, err)
	}
	if _, err := s.sqlDB.ExecContext(ctx, upsertItemQuery, key, sealed, s.now().UTC().UnixMilli()); err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}
	if _, err := s.sqlDB.ExecContext(ctx, deleteItemQuery, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

func loadOrCreateSalt(sqlDB *sql.DB) ([]byte, error) {
	var salt []byte
	err := sqlDB.QueryRow(selectSaltQuery, saltMetaName).Scan(&salt)
	if err == nil {
		return salt, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("select salt: %w", err)
	}

	salt, err = securestore.NewSalt()
	if err != nil {
		return nil, err
	}
	if _, err := sqlDB.Exec(insertSaltQuery, saltMetaName, salt); err != nil {
		return nil, fmt.Errorf("insert salt: %w", err)
	}
	return salt, nil
}
