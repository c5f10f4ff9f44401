package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Row is implemented by records stored in a table. Rows are keyed by an
// opaque string identifier and must clone themselves so the in-memory cache
// never leaks mutable state to callers.
type Row[T any] interface {
	Clone() T
	RowID() string
	Validate() error
}

// table stores one record collection as a JSONL file with a full in-memory
// cache. Every mutation is flushed to disk before it returns, so a completed
// call is a committed transaction: sequential callers get read-your-writes.
// Safe for concurrent use.
type table[T Row[T]] struct {
	path string

	mu   sync.RWMutex
	rows []T
	byID map[string]int
}

// newTable opens the collection at path, creating an empty one if the file
// does not exist yet.
func newTable[T Row[T]](path string) (*table[T], error) {
	t := &table[T]{path: path}
	if err := t.reload(); err != nil {
		return nil, err
	}
	return t, nil
}

// reload replaces the cache with the current file contents. Used at open
// time and when an external process rewrites the file.
func (t *table[T]) reload() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	f, err := os.Open(t.path)
	if err != nil {
		if os.IsNotExist(err) {
			t.rows = nil
			t.byID = make(map[string]int)
			return nil
		}
		return fmt.Errorf("%w: open table file %s: %w", ErrIO, t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	var rows []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(nil, maxRowBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var row T
		if err := json.Unmarshal(line, &row); err != nil {
			return fmt.Errorf("%w: unmarshal row in %s: %w", ErrIO, t.path, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: read table file %s: %w", ErrIO, t.path, err)
	}

	t.rows = rows
	t.byID = make(map[string]int, len(rows))
	for i, row := range rows {
		t.byID[row.RowID()] = i
	}
	return nil
}

// maxRowBytes bounds a single JSONL line. Rows hold blob references, not
// blob contents, so this is generous.
const maxRowBytes = 16 << 20

// len returns the number of rows.
func (t *table[T]) len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// get returns a clone of the row with the given id, or the zero value if it
// is not present. Absence is not an error.
func (t *table[T]) get(id string) T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if i, ok := t.byID[id]; ok {
		return t.rows[i].Clone()
	}
	var zero T
	return zero
}

// all returns clones of every row in insertion order.
func (t *table[T]) all() []T {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]T, len(t.rows))
	for i, row := range t.rows {
		out[i] = row.Clone()
	}
	return out
}

// put upserts a row by its id: a new id is appended to the file, an existing
// one overwrites the previous row wholesale and rewrites the file.
func (t *table[T]) put(row T) error {
	if err := row.Validate(); err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	stored := row.Clone()
	if i, ok := t.byID[stored.RowID()]; ok {
		prev := t.rows[i]
		t.rows[i] = stored
		if err := t.flushLocked(); err != nil {
			t.rows[i] = prev
			return err
		}
		return nil
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("%w: marshal row: %w", ErrIO, err)
	}
	f, err := os.OpenFile(t.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open table file %s for append: %w", ErrIO, t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("%w: append row to %s: %w", ErrIO, t.path, err)
	}

	t.rows = append(t.rows, stored)
	t.byID[stored.RowID()] = len(t.rows) - 1
	return nil
}

// delete removes the row with the given id and reports whether it existed.
// Deleting an absent id is not an error.
func (t *table[T]) delete(id string) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	i, ok := t.byID[id]
	if !ok {
		return false, nil
	}
	prev := t.rows
	t.rows = append(t.rows[:i:i], t.rows[i+1:]...)
	t.reindexLocked()
	if err := t.flushLocked(); err != nil {
		t.rows = prev
		t.reindexLocked()
		return false, err
	}
	return true, nil
}

// flushLocked rewrites the whole file from the cache. Caller holds the lock.
func (t *table[T]) flushLocked() error {
	f, err := os.Create(t.path)
	if err != nil {
		return fmt.Errorf("%w: create table file %s: %w", ErrIO, t.path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	w := bufio.NewWriter(f)
	for _, row := range t.rows {
		data, err := json.Marshal(row)
		if err != nil {
			return fmt.Errorf("%w: marshal row: %w", ErrIO, err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("%w: write row to %s: %w", ErrIO, t.path, err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fmt.Errorf("%w: write row to %s: %w", ErrIO, t.path, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("%w: flush table file %s: %w", ErrIO, t.path, err)
	}
	return nil
}

func (t *table[T]) reindexLocked() {
	t.byID = make(map[string]int, len(t.rows))
	for i, row := range t.rows {
		t.byID[row.RowID()] = i
	}
}
