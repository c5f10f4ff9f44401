// Package store is the persistent storage engine for the song library: two
// record collections (songs, meta) kept as JSONL files with full in-memory
// caches, plus a content-addressed blob directory for attached files.
//
// Every operation is a single independent transaction: the mutation is
// durable on disk before the call returns, so a sequence of calls from one
// caller observes read-your-writes. There is no cross-operation transaction;
// multi-step callers (save song + grow tags, delete song + sweep playlists)
// must tolerate partial completion, which is documented where it matters.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// schemaVersion is the current on-disk schema. Upgrades are additive-only:
// opening an older directory creates whatever is missing and never deletes
// existing collections or data.
const schemaVersion = 3

const (
	schemaFile = "schema"
	songsFile  = "songs.jsonl"
	metaFile   = "meta.jsonl"
	blobsDir   = "blobs"
)

// Store owns the songs and meta collections of one library directory.
type Store struct {
	dir   string
	songs *table[*Song]
	meta  *table[*metaRecord]
	blobs *blobStore

	titleMu sync.RWMutex
	byTitle []string // song ids ordered by (title, id)
}

// Open opens the library at dir, creating it if absent and upgrading the
// schema marker if it is from an older release. Open once per process and
// share the Store; all operations are safe for concurrent use.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create data directory: %w", ErrUnavailable, err)
	}
	if err := ensureSchema(dir); err != nil {
		return nil, err
	}

	songs, err := newTable[*Song](filepath.Join(dir, songsFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	meta, err := newTable[*metaRecord](filepath.Join(dir, metaFile))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	if err := os.MkdirAll(filepath.Join(dir, blobsDir), 0o755); err != nil {
		return nil, fmt.Errorf("%w: create blobs directory: %w", ErrUnavailable, err)
	}

	s := &Store{
		dir:   dir,
		songs: songs,
		meta:  meta,
		blobs: &blobStore{dir: filepath.Join(dir, blobsDir)},
	}
	s.rebuildTitleIndex()
	return s, nil
}

// ensureSchema reads the version marker and upgrades it if needed. A marker
// from a newer release refuses to open rather than risk mangling data.
func ensureSchema(dir string) error {
	path := filepath.Join(dir, schemaFile)
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Fresh directory.
	case err != nil:
		return fmt.Errorf("%w: read schema marker: %w", ErrUnavailable, err)
	default:
		v, err := strconv.Atoi(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("%w: malformed schema marker %q", ErrUnavailable, string(data))
		}
		if v > schemaVersion {
			return fmt.Errorf("%w: data directory uses schema v%d, this build supports up to v%d", ErrUnavailable, v, schemaVersion)
		}
		if v == schemaVersion {
			return nil
		}
		// Older version: nothing to transform, later opens create any
		// missing collections. Fall through to bump the marker.
	}
	if err := os.WriteFile(path, []byte(strconv.Itoa(schemaVersion)+"\n"), 0o644); err != nil {
		return fmt.Errorf("%w: write schema marker: %w", ErrUnavailable, err)
	}
	return nil
}

// Dir returns the library directory.
func (s *Store) Dir() string {
	return s.dir
}

// ListSongs returns every song, unordered. Ordering is a presentation
// concern; see SongsByTitle.
func (s *Store) ListSongs() ([]*Song, error) {
	return s.songs.all(), nil
}

// CountSongs returns the number of songs.
func (s *Store) CountSongs() int {
	return s.songs.len()
}

// GetSong returns the song with the given id, or nil if it does not exist.
// Absence is a normal result, never an error.
func (s *Store) GetSong(id string) (*Song, error) {
	return s.songs.get(id), nil
}

// SaveSong upserts a song by id. An empty id gets a fresh one assigned
// before the write; the returned record carries it. An existing id is
// overwritten wholesale: callers carry forward any field they want to keep,
// including blob references.
func (s *Store) SaveSong(song *Song) (*Song, error) {
	stored := song.Clone()
	if stored.ID == "" {
		stored.ID = NewSongID()
	}
	if err := s.songs.put(stored); err != nil {
		return nil, err
	}
	s.rebuildTitleIndex()
	return stored, nil
}

// DeleteSong removes the song with the given id. Deleting an id that does
// not exist is a no-op, not an error. Blob payloads are left behind for GC
// (another song saved from the same file may share them).
func (s *Store) DeleteSong(id string) error {
	deleted, err := s.songs.delete(id)
	if err != nil {
		return err
	}
	if deleted {
		s.rebuildTitleIndex()
	}
	return nil
}

// SongsByTitle returns every song ordered by title (ties broken by id),
// served from the maintained title index.
func (s *Store) SongsByTitle() ([]*Song, error) {
	s.titleMu.RLock()
	ids := make([]string, len(s.byTitle))
	copy(ids, s.byTitle)
	s.titleMu.RUnlock()

	out := make([]*Song, 0, len(ids))
	for _, id := range ids {
		if song := s.songs.get(id); song != nil {
			out = append(out, song)
		}
	}
	return out, nil
}

// Reload re-reads both collections from disk and rebuilds the title index.
// Used when another process rewrote the files underneath us.
func (s *Store) Reload() error {
	if err := s.songs.reload(); err != nil {
		return err
	}
	if err := s.meta.reload(); err != nil {
		return err
	}
	s.rebuildTitleIndex()
	return nil
}

// rebuildTitleIndex recomputes the title ordering. The library is small and
// local, so a full rebuild per mutation beats the bookkeeping of an
// incremental index.
func (s *Store) rebuildTitleIndex() {
	rows := s.songs.all()
	type entry struct {
		title string
		id    string
	}
	entries := make([]entry, len(rows))
	for i, row := range rows {
		entries[i] = entry{title: strings.ToLower(row.Title), id: row.ID}
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].title != entries[j].title {
			return entries[i].title < entries[j].title
		}
		return entries[i].id < entries[j].id
	})
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.id
	}

	s.titleMu.Lock()
	s.byTitle = ids
	s.titleMu.Unlock()
}
