// Package store is the client's local SQLite cache: account parameters and
// the last synced copy of the account's sealed wallet blobs.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dmitrijs2005/deglet/internal/client/store/migrations"
	"github.com/dmitrijs2005/deglet/internal/dbx"
	"github.com/dmitrijs2005/deglet/internal/filex"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	DirName  = ".deglet"
	FileName = "wallets.db"
)

// Metadata keys.
const (
	KeyUsername   = "username"
	KeySalt       = "salt"
	KeyIterations = "iterations"
	KeyServerKID  = "server_kid"
)

var ErrNotFound = errors.New("not found in local cache")

// Blob is a cached sealed wallet.
type Blob struct {
	ID        string
	Blob      string
	CreatedAt int64
	SyncedAt  time.Time
}

// Account is what the client needs to derive its keys offline.
type Account struct {
	Username   string
	Salt       string
	Iterations int
	ServerKID  string
}

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// DefaultPath returns ~/.deglet/wallets.db, creating the directory.
func DefaultPath() (string, error) {
	dir, err := filex.HomeSubDir(DirName)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, FileName), nil
}

func RunMigrations(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, ".")
}

// Open opens (creating if needed) the cache at path and migrates it.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", path, err)
	}
	// one writer at a time
	db.SetMaxOpenConns(1)
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getMeta(ctx context.Context, db dbx.DBTX, key string) (string, error) {
	var value []byte
	err := db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get metadata[%s]: %w", key, err)
	}
	return string(value), nil
}

func (s *Store) setMeta(ctx context.Context, db dbx.DBTX, key, value string) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, []byte(value))
	if err != nil {
		return fmt.Errorf("failed to set metadata[%s]: %w", key, err)
	}
	return nil
}

// SaveAccount stores the key derivation parameters. Switching to a different
// username drops the blobs cached for the previous one.
func (s *Store) SaveAccount(ctx context.Context, a Account) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		prev, err := s.getMeta(ctx, tx, KeyUsername)
		if err != nil {
			return err
		}
		if prev != "" && prev != a.Username {
			if _, err := tx.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
				return fmt.Errorf("failed to clear blobs: %w", err)
			}
		}
		for k, v := range map[string]string{
			KeyUsername:   a.Username,
			KeySalt:       a.Salt,
			KeyIterations: strconv.Itoa(a.Iterations),
			KeyServerKID:  a.ServerKID,
		} {
			if err := s.setMeta(ctx, tx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Account returns the saved account or ErrNotFound.
func (s *Store) Account(ctx context.Context) (*Account, error) {
	var a Account
	var iterations string
	for k, dst := range map[string]*string{
		KeyUsername:   &a.Username,
		KeySalt:       &a.Salt,
		KeyIterations: &iterations,
		KeyServerKID:  &a.ServerKID,
	} {
		v, err := s.getMeta(ctx, s.db, k)
		if err != nil {
			return nil, err
		}
		*dst = v
	}
	if a.Username == "" {
		return nil, ErrNotFound
	}
	n, err := strconv.Atoi(iterations)
	if err != nil {
		return nil, fmt.Errorf("bad cached iteration count %q: %w", iterations, err)
	}
	a.Iterations = n
	return &a, nil
}

// ReplaceBlobs makes the cache hold exactly blobs.
func (s *Store) ReplaceBlobs(ctx context.Context, blobs []Blob) error {
	synced := s.now().Unix()
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
			return fmt.Errorf("failed to clear blobs: %w", err)
		}
		for _, b := range blobs {
			if err := putBlob(ctx, tx, b, synced); err != nil {
				return err
			}
		}
		return nil
	})
}

// PutBlob inserts or replaces a single blob.
func (s *Store) PutBlob(ctx context.Context, b Blob) error {
	return putBlob(ctx, s.db, b, s.now().Unix())
}

func putBlob(ctx context.Context, db dbx.DBTX, b Blob, synced int64) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO blobs (id, blob, created_at, synced_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET blob = excluded.blob, synced_at = excluded.synced_at
	`, b.ID, b.Blob, b.CreatedAt, synced)
	if err != nil {
		return fmt.Errorf("failed to put blob %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) Blob(ctx context.Context, id string) (*Blob, error) {
	var b Blob
	var synced int64
	err := s.db.QueryRowContext(ctx, `SELECT id, blob, created_at, synced_at FROM blobs WHERE id = ?`, id).
		Scan(&b.ID, &b.Blob, &b.CreatedAt, &synced)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob %s: %w", id, err)
	}
	b.SyncedAt = time.Unix(synced, 0)
	return &b, nil
}

// Blobs lists cached blobs oldest first.
func (s *Store) Blobs(ctx context.Context) ([]Blob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, blob, created_at, synced_at FROM blobs ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer rows.Close()

	result := make([]Blob, 0)
	for rows.Next() {
		var b Blob
		var synced int64
		if err := rows.Scan(&b.ID, &b.Blob, &b.CreatedAt, &synced); err != nil {
			return nil, fmt.Errorf("failed to scan blob row: %w", err)
		}
		b.SyncedAt = time.Unix(synced, 0)
		result = append(result, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blob rows: %w", err)
	}
	return result, nil
}

// Clear forgets the account and every cached blob.
func (s *Store) Clear(ctx context.Context) error {
	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs`); err != nil {
			return fmt.Errorf("failed to clear blobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM metadata`); err != nil {
			return fmt.Errorf("failed to clear metadata: %w", err)
		}
		return nil
	})
}
