package library

import (
	"errors"
	"time"

	"songbook/internal/store"
)

// ErrTitleRequired is returned by SaveSong when the song has no title.
var ErrTitleRequired = errors.New("song title is required")

// Default MIME types assumed when an attachment arrives without one.
const (
	DefaultPDFMime   = "application/pdf"
	DefaultAudioMime = "audio/mp3"
)

// Library is the application facade: song CRUD with its cross-record
// bookkeeping, plus the registry for categories, tags and playlists.
type Library struct {
	store    *store.Store
	registry *Registry
}

// New builds a Library over an opened store.
func New(st *store.Store, cfg *store.Config) *Library {
	return &Library{
		store:    st,
		registry: NewRegistry(st, cfg.DefaultCategories, cfg.DefaultTags),
	}
}

// Store exposes the underlying storage engine, mostly for blob streaming.
func (l *Library) Store() *store.Store {
	return l.store
}

// Registry exposes the categories/tags/playlists registry.
func (l *Library) Registry() *Registry {
	return l.registry
}

// Init ensures the registry defaults exist. Call once at startup.
func (l *Library) Init() error {
	return l.registry.EnsureDefaults()
}

// SaveSong upserts a song through the interactive path: the title must be
// non-empty, createdAt is preserved for an existing id (or stamped now for
// a new one), updatedAt is stamped now, and any tags on the song are grown
// into the tag registry after the song write commits.
//
// The song write and the tag growth are separate transactions. If the
// second fails the song is saved but the registry may lack a tag; the next
// save with that tag repairs it.
func (l *Library) SaveSong(song *store.Song) (*store.Song, error) {
	if song.Title == "" {
		return nil, ErrTitleRequired
	}
	s := song.Clone()
	now := time.Now().UnixMilli()
	if s.ID != "" {
		prev, err := l.store.GetSong(s.ID)
		if err != nil {
			return nil, err
		}
		if prev != nil {
			s.CreatedAt = prev.CreatedAt
		}
	}
	if s.CreatedAt == 0 {
		s.CreatedAt = now
	}
	s.UpdatedAt = now

	stored, err := l.store.SaveSong(s)
	if err != nil {
		return nil, err
	}
	if err := l.registry.GrowTags(stored.Tags); err != nil {
		return stored, err
	}
	return stored, nil
}

// GetSong returns a song by id, or nil if absent.
func (l *Library) GetSong(id string) (*store.Song, error) {
	return l.store.GetSong(id)
}

// ListSongs returns every song, unordered.
func (l *Library) ListSongs() ([]*store.Song, error) {
	return l.store.ListSongs()
}

// ListSongsByTitle returns every song ordered by title.
func (l *Library) ListSongsByTitle() ([]*store.Song, error) {
	return l.store.SongsByTitle()
}

// DeleteSong removes a song and then sweeps its id out of every playlist.
// Two phases, two transactions: if the sweep fails the song is gone and
// playlists may briefly hold a stale id, which readers tolerate (see
// ResolvePlaylist). The phases never run in the other order, so a playlist
// entry always points at either a live song or a deleted one, never at a
// song that was resurrected half-deleted.
func (l *Library) DeleteSong(id string) error {
	if err := l.store.DeleteSong(id); err != nil {
		return err
	}
	return l.registry.RemoveSongFromAllPlaylists(id)
}

// ResolvePlaylist returns a playlist's songs in playlist order, silently
// dropping ids that no longer resolve. Returns nil songs and nil error if
// the playlist itself does not exist.
func (l *Library) ResolvePlaylist(playlistID string) (*Playlist, []*store.Song, error) {
	pl, err := l.registry.GetPlaylist(playlistID)
	if err != nil || pl == nil {
		return nil, nil, err
	}
	songs := make([]*store.Song, 0, len(pl.SongIDs))
	for _, id := range pl.SongIDs {
		song, err := l.store.GetSong(id)
		if err != nil {
			return nil, nil, err
		}
		if song != nil {
			songs = append(songs, song)
		}
	}
	return pl, songs, nil
}

// CompactBlobs deletes every blob payload no song references. Safe to run
// any time no import or save is in flight.
func (l *Library) CompactBlobs() error {
	songs, err := l.store.ListSongs()
	if err != nil {
		return err
	}
	used := make(map[store.BlobRef]bool, len(songs)*2)
	for _, song := range songs {
		if !song.PDF.IsZero() {
			used[song.PDF.Ref] = true
		}
		if !song.Audio.IsZero() {
			used[song.Audio.Ref] = true
		}
	}
	return l.store.GCBlobs(used)
}
