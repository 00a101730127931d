// Package store implements the content store of a mirrored site: an ordered
// index of normalized URI to ContentRecord kept in SQLite, and a directory of
// immutable, hash-verified blob files holding the bodies.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nao1215/sitemirror/internal/model"
)

const (
	// IndexFile is the name of the index database inside a store directory.
	IndexFile = "content.index"

	// ContentDir is the name of the blob directory inside a store directory.
	ContentDir = "content"

	// DefaultLockTimeout bounds every index lock acquisition.
	DefaultLockTimeout = 60 * time.Second

	// rangeBatch is the number of records fetched per Range page.
	rangeBatch = 256
)

// Store is the content store of one site.
// It is safe for concurrent use by multiple goroutines.
type Store struct {
	dir      string
	blobs    string
	db       *sql.DB
	lock     locker
	readOnly bool
	logger   *slog.Logger
}

// Options configures Store behavior.
type Options struct {
	// ReadOnly opens an existing store without write access. Mutations fail
	// with ErrReadOnly and no locking is performed.
	ReadOnly bool

	// LockTimeout bounds index lock acquisition. Zero means
	// DefaultLockTimeout.
	LockTimeout time.Duration

	// Logger receives debug output. Nil means slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns options for a writable store.
func DefaultOptions() Options {
	return Options{LockTimeout: DefaultLockTimeout}
}

// Open opens or creates the store in dir.
// A read-only store must already exist.
func Open(dir string, opts Options) (*Store, error) {
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = DefaultLockTimeout
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	indexPath := filepath.Join(dir, IndexFile)
	blobs := filepath.Join(dir, ContentDir)

	var dsn string
	if opts.ReadOnly {
		if _, err := os.Stat(indexPath); err != nil {
			return nil, fmt.Errorf("failed to open store %s: %w", dir, err)
		}
		dsn = indexPath + "?mode=ro"
	} else {
		if err := os.MkdirAll(blobs, 0750); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
		dsn = indexPath + "?mode=rwc"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open index: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{
		dir:      dir,
		blobs:    blobs,
		db:       db,
		readOnly: opts.ReadOnly,
		logger:   opts.Logger,
	}
	if opts.ReadOnly {
		s.lock = noLock{}
	} else {
		s.lock = newTimedLock(opts.LockTimeout)
		if err := s.createTables(); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return s, nil
}

// createTables creates the index schema if it doesn't exist.
func (s *Store) createTables() error {
	ctx := context.Background()
	if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		uri TEXT PRIMARY KEY,
		record BLOB NOT NULL
	) WITHOUT ROWID;
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close releases the index. The store must not be used afterwards.
func (s *Store) Close() error {
	return s.db.Close()
}

// Dir returns the store directory.
func (s *Store) Dir() string {
	return s.dir
}

// ReadOnly reports whether the store was opened read-only.
func (s *Store) ReadOnly() bool {
	return s.readOnly
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func encodeRecord(rec model.ContentRecord) ([]byte, error) {
	return msgpack.Marshal(&rec)
}

func decodeRecord(data []byte) (model.ContentRecord, error) {
	var rec model.ContentRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("failed to decode record: %w", err)
	}
	return rec, nil
}

func get(ctx context.Context, q querier, key string) (model.ContentRecord, bool, error) {
	var data []byte
	err := q.QueryRowContext(ctx, "SELECT record FROM records WHERE uri = ?", key).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.ContentRecord{}, false, nil
	}
	if err != nil {
		return model.ContentRecord{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	rec, err := decodeRecord(data)
	if err != nil {
		return rec, false, fmt.Errorf("%s: %w", key, err)
	}
	return rec, true, nil
}

func put(ctx context.Context, q querier, key string, rec model.ContentRecord) error {
	data, err := encodeRecord(rec)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO records (uri, record) VALUES (?, ?)
		ON CONFLICT(uri) DO UPDATE SET record = excluded.record
	`, key, data)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

func (s *Store) assertWritable() error {
	if s.readOnly {
		return ErrReadOnly
	}
	return nil
}

// Get returns the record stored under key.
func (s *Store) Get(ctx context.Context, key string) (model.ContentRecord, bool, error) {
	release, err := s.lock.rlock(ctx, "get")
	if err != nil {
		return model.ContentRecord{}, false, err
	}
	defer release()
	return get(ctx, s.db, key)
}

// ContainsKey reports whether key is present.
func (s *Store) ContainsKey(ctx context.Context, key string) (bool, error) {
	release, err := s.lock.rlock(ctx, "contains")
	if err != nil {
		return false, err
	}
	defer release()

	var one int
	err = s.db.QueryRowContext(ctx, "SELECT 1 FROM records WHERE uri = ?", key).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	return true, nil
}

// Count returns the number of records.
func (s *Store) Count(ctx context.Context) (int, error) {
	release, err := s.lock.rlock(ctx, "count")
	if err != nil {
		return 0, err
	}
	defer release()

	var n int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// Put stores rec under key, replacing any existing record.
func (s *Store) Put(ctx context.Context, key string, rec model.ContentRecord) error {
	if err := s.assertWritable(); err != nil {
		return err
	}
	release, err := s.lock.lock(ctx, "put")
	if err != nil {
		return err
	}
	defer release()
	return put(ctx, s.db, key, rec)
}

// Add stores rec only if key is absent and reports whether it did.
func (s *Store) Add(ctx context.Context, key string, rec model.ContentRecord) (bool, error) {
	if err := s.assertWritable(); err != nil {
		return false, err
	}
	data, err := encodeRecord(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", key, err)
	}

	release, err := s.lock.lock(ctx, "add")
	if err != nil {
		return false, err
	}
	defer release()

	res, err := s.db.ExecContext(ctx,
		"INSERT INTO records (uri, record) VALUES (?, ?) ON CONFLICT(uri) DO NOTHING", key, data)
	if err != nil {
		return false, fmt.Errorf("failed to add %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to add %s: %w", key, err)
	}
	return n > 0, nil
}

// AddOrUpdate stores rec under key and reports whether the key was new.
func (s *Store) AddOrUpdate(ctx context.Context, key string, rec model.ContentRecord) (bool, error) {
	if err := s.assertWritable(); err != nil {
		return false, err
	}
	release, err := s.lock.lock(ctx, "add or update")
	if err != nil {
		return false, err
	}
	defer release()

	_, found, err := get(ctx, s.db, key)
	if err != nil {
		return false, err
	}
	if err := put(ctx, s.db, key, rec); err != nil {
		return false, err
	}
	return !found, nil
}

// Update applies fn to the record under key as one read-modify-write.
// fn must not call back into the store. Returning the record unchanged
// skips the write. Update reports whether key was present.
func (s *Store) Update(ctx context.Context, key string, fn func(model.ContentRecord) model.ContentRecord) (bool, error) {
	if err := s.assertWritable(); err != nil {
		return false, err
	}
	release, err := s.lock.lock(ctx, "update")
	if err != nil {
		return false, err
	}
	defer release()

	rec, found, err := get(ctx, s.db, key)
	if err != nil || !found {
		return found, err
	}
	updated := fn(rec)
	if updated == rec {
		return true, nil
	}
	return true, put(ctx, s.db, key, updated)
}

// Remove deletes key and its blob file. Removing an absent key reports
// false without error.
func (s *Store) Remove(ctx context.Context, key string) (bool, error) {
	if err := s.assertWritable(); err != nil {
		return false, err
	}
	release, err := s.lock.lock(ctx, "remove")
	if err != nil {
		return false, err
	}
	defer release()

	rec, found, err := get(ctx, s.db, key)
	if err != nil || !found {
		return false, err
	}
	if _, err := s.db.ExecContext(ctx, "DELETE FROM records WHERE uri = ?", key); err != nil {
		return false, fmt.Errorf("failed to remove %s: %w", key, err)
	}
	if rec.HasContent() {
		if err := os.Remove(s.blobPath(rec.ContentStoreID)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete blob", "path", key, "error", err)
		}
	}
	return true, nil
}

// Rename moves the record under oldKey to newKey, updating its ContentURI.
// It fails with ErrNotFound when oldKey is absent and ErrExists when newKey
// is present.
func (s *Store) Rename(ctx context.Context, oldKey, newKey string) error {
	if err := s.assertWritable(); err != nil {
		return err
	}
	release, err := s.lock.lock(ctx, "rename")
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin rename: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rec, found, err := get(ctx, tx, oldKey)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", oldKey, ErrNotFound)
	}
	if _, exists, err := get(ctx, tx, newKey); err != nil {
		return err
	} else if exists {
		return fmt.Errorf("%s: %w", newKey, ErrExists)
	}

	rec.ContentURI = newKey
	if err := put(ctx, tx, newKey, rec); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM records WHERE uri = ?", oldKey); err != nil {
		return fmt.Errorf("failed to remove %s: %w", oldKey, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit rename: %w", err)
	}
	return nil
}

type entry struct {
	key string
	rec model.ContentRecord
}

// Range calls fn for every record whose key starts with prefix, in key
// order. Records are read in pages and no lock is held while fn runs, so fn
// may modify the store. Range stops at the first error returned by fn.
func (s *Store) Range(ctx context.Context, prefix string, fn func(key string, rec model.ContentRecord) error) error {
	after := prefix
	inclusive := true
	for {
		batch, done, err := s.page(ctx, prefix, after, inclusive)
		if err != nil {
			return err
		}
		for _, e := range batch {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(e.key, e.rec); err != nil {
				return err
			}
		}
		if done || len(batch) == 0 {
			return nil
		}
		after = batch[len(batch)-1].key
		inclusive = false
	}
}

func (s *Store) page(ctx context.Context, prefix, after string, inclusive bool) ([]entry, bool, error) {
	release, err := s.lock.rlock(ctx, "range")
	if err != nil {
		return nil, false, err
	}
	defer release()

	query := "SELECT uri, record FROM records WHERE uri > ? ORDER BY uri LIMIT ?"
	if inclusive {
		query = "SELECT uri, record FROM records WHERE uri >= ? ORDER BY uri LIMIT ?"
	}
	rows, err := s.db.QueryContext(ctx, query, after, rangeBatch)
	if err != nil {
		return nil, false, fmt.Errorf("failed to enumerate records: %w", err)
	}
	defer rows.Close()

	batch := make([]entry, 0, rangeBatch)
	done := false
	for rows.Next() {
		var key string
		var data []byte
		if err := rows.Scan(&key, &data); err != nil {
			return nil, false, fmt.Errorf("failed to scan record: %w", err)
		}
		if !strings.HasPrefix(key, prefix) {
			done = true
			break
		}
		rec, err := decodeRecord(data)
		if err != nil {
			return nil, false, fmt.Errorf("%s: %w", key, err)
		}
		batch = append(batch, entry{key: key, rec: rec})
	}
	if err := rows.Err(); err != nil {
		return nil, false, fmt.Errorf("failed to enumerate records: %w", err)
	}
	if len(batch) < rangeBatch {
		done = true
	}
	return batch, done, nil
}

// Keys returns every key starting with prefix, in order.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := s.Range(ctx, prefix, func(key string, _ model.ContentRecord) error {
		keys = append(keys, key)
		return nil
	})
	return keys, err
}
