// Package queue provides the persistent work queue of a crawl.
//
// The queue is a UTF-8 text file with one path per line. Entries are only
// ever appended; dequeuing advances an in-memory byte offset. A restarted
// crawl reads the file from the beginning again, which is harmless because
// fetch eligibility is re-checked for every dequeued path.
package queue

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// FileName is the queue file name inside a store directory.
const FileName = "workqueue.txt"

// ErrClosed is returned by operations on a closed queue.
var ErrClosed = errors.New("queue is closed")

// readChunk is the read size used when scanning for the next line.
const readChunk = 4096

// TextQueue is an append-only, file-backed FIFO of strings.
//
// Writers serialize on one lock. The reader takes the other lock and also
// holds the writers' lock in shared mode while reading, so it never sees a
// half-written line.
type TextQueue struct {
	wmu    sync.RWMutex
	w      *os.File
	rmu    sync.Mutex
	r      *os.File
	offset int64
	buf    []byte
	closed bool
}

// Open opens or creates the queue file at path with the read cursor at the
// start of the file.
func Open(path string) (*TextQueue, error) {
	return OpenAt(path, 0)
}

// OpenAt opens the queue with the read cursor at offset, as returned by a
// previous Offset call.
func OpenAt(path string, offset int64) (*TextQueue, error) {
	w, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600) //nolint:gosec // store-managed path
	if err != nil {
		return nil, fmt.Errorf("failed to open queue for writing: %w", err)
	}
	r, err := os.Open(path) //nolint:gosec // store-managed path
	if err != nil {
		_ = w.Close()
		return nil, fmt.Errorf("failed to open queue for reading: %w", err)
	}
	return &TextQueue{w: w, r: r, offset: offset}, nil
}

// Enqueue appends items, one line each. Empty items and items containing
// line breaks are rejected.
func (q *TextQueue) Enqueue(items ...string) error {
	var b strings.Builder
	for _, item := range items {
		if item == "" || strings.ContainsAny(item, "\r\n") {
			return fmt.Errorf("invalid queue entry %q", item)
		}
		b.WriteString(item)
		b.WriteByte('\n')
	}

	q.wmu.Lock()
	defer q.wmu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if _, err := q.w.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to append to queue: %w", err)
	}
	return nil
}

// Dequeue returns the next entry. ok is false when no complete entry is
// available yet.
func (q *TextQueue) Dequeue() (item string, ok bool, err error) {
	q.rmu.Lock()
	defer q.rmu.Unlock()
	q.wmu.RLock()
	defer q.wmu.RUnlock()
	if q.closed {
		return "", false, ErrClosed
	}

	for {
		line, found, err := q.readLine()
		if err != nil || !found {
			return "", false, err
		}
		line = strings.TrimRight(line, "\r")
		if line != "" {
			return line, true, nil
		}
	}
}

// readLine consumes one newline-terminated line. A trailing partial line is
// left in place for a later call.
func (q *TextQueue) readLine() (string, bool, error) {
	for {
		if i := bytes.IndexByte(q.buf, '\n'); i >= 0 {
			line := string(q.buf[:i])
			q.buf = q.buf[i+1:]
			q.offset += int64(i + 1)
			return line, true, nil
		}

		chunk := make([]byte, readChunk)
		n, err := q.r.ReadAt(chunk, q.offset+int64(len(q.buf)))
		q.buf = append(q.buf, chunk[:n]...)
		if n == 0 {
			if err == nil || errors.Is(err, io.EOF) {
				return "", false, nil
			}
			return "", false, fmt.Errorf("failed to read queue: %w", err)
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false, fmt.Errorf("failed to read queue: %w", err)
		}
	}
}

// Offset returns the byte offset of the next unread entry.
func (q *TextQueue) Offset() int64 {
	q.rmu.Lock()
	defer q.rmu.Unlock()
	return q.offset
}

// Close closes both file handles.
func (q *TextQueue) Close() error {
	q.rmu.Lock()
	defer q.rmu.Unlock()
	q.wmu.Lock()
	defer q.wmu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	return errors.Join(q.w.Close(), q.r.Close())
}
