package store

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/nao1215/sitemirror/internal/model"
)

// compressionRatio is the largest compressed/original ratio worth keeping.
const compressionRatio = 0.9

// Tx is a staged blob write. Exactly one of Commit or Rollback takes
// effect; Rollback after Commit does nothing, so callers defer Rollback.
type Tx struct {
	tmp  string
	path string
	done bool
}

// Commit atomically moves the staged blob into place. Updating the index is
// left to the caller.
func (t *Tx) Commit() error {
	if t.done {
		return ErrTxDone
	}
	if err := os.Rename(t.tmp, t.path); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}
	t.done = true
	return nil
}

// Rollback discards the staged blob.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := os.Remove(t.tmp); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to discard blob: %w", err)
	}
	return nil
}

// BlobName returns the file name of blob id.
func BlobName(id uint64) string {
	return fmt.Sprintf("%016x", id)
}

func (s *Store) blobPath(id uint64) string {
	return filepath.Join(s.blobs, BlobName(id))
}

// newBlobID mints a random non-zero id that has no file yet.
func (s *Store) newBlobID() uint64 {
	for {
		u := uuid.New()
		id := binary.BigEndian.Uint64(u[:8]) ^ binary.BigEndian.Uint64(u[8:])
		if id == 0 {
			continue
		}
		if _, err := os.Stat(s.blobPath(id)); os.IsNotExist(err) {
			return id
		}
	}
}

// compress returns the gzip form of content when it saves at least 10%.
func compress(content []byte) ([]byte, bool, error) {
	if len(content) == 0 {
		return content, false, nil
	}
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, false, err
	}
	if _, err := zw.Write(content); err != nil {
		return nil, false, err
	}
	if err := zw.Close(); err != nil {
		return nil, false, err
	}
	if float64(buf.Len()) > float64(len(content))*compressionRatio {
		return content, false, nil
	}
	return buf.Bytes(), true, nil
}

// WriteContent stages content as the body of rec. It sets ContentLength,
// CompressedLength and HashContents, and assigns a blob id when rec has
// none. HashOriginal is left to the caller.
func (s *Store) WriteContent(rec *model.ContentRecord, content []byte) (*Tx, error) {
	if err := s.assertWritable(); err != nil {
		return nil, err
	}

	stored, compressed, err := compress(content)
	if err != nil {
		return nil, fmt.Errorf("failed to compress %s: %w", rec.ContentURI, err)
	}

	rec.ContentLength = int64(len(content))
	rec.CompressedLength = 0
	if compressed {
		rec.CompressedLength = int64(len(stored))
	}
	rec.HashContents = model.Hash(stored)
	if rec.ContentStoreID == 0 {
		rec.ContentStoreID = s.newBlobID()
	}

	path := s.blobPath(rec.ContentStoreID)
	f, err := os.CreateTemp(s.blobs, filepath.Base(path)+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to stage blob: %w", err)
	}
	tx := &Tx{tmp: f.Name(), path: path}

	if _, err := f.Write(stored); err != nil {
		_ = f.Close()
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to write blob: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to sync blob: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("failed to close blob: %w", err)
	}
	return tx, nil
}

// ReadContent returns the body of rec after verifying its digest. With
// decompress set, compressed blobs are returned decompressed; otherwise the
// stored bytes are returned as they are.
func (s *Store) ReadContent(rec model.ContentRecord, decompress bool) ([]byte, error) {
	if !rec.HasContent() {
		return nil, fmt.Errorf("%s: %w", rec.ContentURI, ErrNoContent)
	}

	data, err := os.ReadFile(s.blobPath(rec.ContentStoreID))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%s: blob %s missing: %w", rec.ContentURI, BlobName(rec.ContentStoreID), ErrCorrupt)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	if model.Hash(data) != rec.HashContents {
		return nil, fmt.Errorf("%s: digest mismatch: %w", rec.ContentURI, ErrCorrupt)
	}

	if !decompress || !rec.IsCompressed() {
		return data, nil
	}
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", rec.ContentURI, ErrCorrupt, err)
	}
	defer zr.Close()
	out, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %v", rec.ContentURI, ErrCorrupt, err)
	}
	return out, nil
}

// WriteRecordContent replaces the body of the record under key and saves
// the record. The blob is committed before the index is updated.
func (s *Store) WriteRecordContent(ctx context.Context, key string, content []byte) error {
	if err := s.assertWritable(); err != nil {
		return err
	}
	release, err := s.lock.lock(ctx, "write content")
	if err != nil {
		return err
	}
	defer release()

	rec, found, err := get(ctx, s.db, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}

	tx, err := s.WriteContent(&rec, content)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := tx.Commit(); err != nil {
		return err
	}
	return put(ctx, s.db, key, rec)
}

// CopyContent writes content as the body of rec and stores rec under key,
// adding or replacing it. It is used when importing records from another
// store.
func (s *Store) CopyContent(ctx context.Context, key string, rec model.ContentRecord, content []byte) error {
	if err := s.assertWritable(); err != nil {
		return err
	}
	rec.ContentURI = key
	rec.ContentStoreID = 0
	if content != nil {
		tx, err := s.WriteContent(&rec, content)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()
		if err := tx.Commit(); err != nil {
			return err
		}
	} else {
		rec.ContentLength, rec.CompressedLength, rec.HashContents = 0, 0, ""
	}

	release, err := s.lock.lock(ctx, "copy")
	if err != nil {
		return err
	}
	defer release()

	old, found, err := get(ctx, s.db, key)
	if err != nil {
		return err
	}
	if err := put(ctx, s.db, key, rec); err != nil {
		return err
	}
	if found && old.HasContent() && old.ContentStoreID != rec.ContentStoreID {
		_ = os.Remove(s.blobPath(old.ContentStoreID))
	}
	return nil
}

// ClearContent drops the body of the record under key, deleting its blob.
// The record keeps its other metadata.
func (s *Store) ClearContent(ctx context.Context, key string, fn func(model.ContentRecord) model.ContentRecord) error {
	if err := s.assertWritable(); err != nil {
		return err
	}
	release, err := s.lock.lock(ctx, "clear content")
	if err != nil {
		return err
	}
	defer release()

	rec, found, err := get(ctx, s.db, key)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%s: %w", key, ErrNotFound)
	}
	blob := rec.ContentStoreID
	rec.ContentStoreID = 0
	rec.CompressedLength = 0
	rec.HashContents = ""
	if fn != nil {
		rec = fn(rec)
	}
	if err := put(ctx, s.db, key, rec); err != nil {
		return err
	}
	if blob != 0 {
		if err := os.Remove(s.blobPath(blob)); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to delete blob", "path", key, "error", err)
		}
	}
	return nil
}
