// Package library layers the song library's domain model over the storage
// engine: the metadata registry (categories, tags, playlists), the save and
// delete flows with their cross-record bookkeeping, one-time seeding, and
// JSON backup export/import.
package library

import (
	"errors"
	"slices"

	"github.com/maruel/ksid"
	"songbook/internal/store"
)

// Playlist is a named, ordered collection of song ids. Ids are not
// guaranteed to resolve at read time; ResolvePlaylist drops unknown ones.
type Playlist struct {
	ID      string   `json:"id" jsonschema:"description=Opaque unique playlist identifier"`
	Name    string   `json:"name" jsonschema:"description=Display name"`
	SongIDs []string `json:"songIds" jsonschema:"description=Ordered song identifiers"`
}

// Clone returns a deep copy.
func (p *Playlist) Clone() *Playlist {
	c := *p
	c.SongIDs = slices.Clone(p.SongIDs)
	return &c
}

// NewPlaylistID generates a fresh playlist identifier.
func NewPlaylistID() string {
	return "p_" + ksid.NewID().String()
}

// Registry gives typed access to the three meta-backed documents. Each
// document is an independent record; there is no "value shape depends on
// key" anywhere above the raw meta collection.
type Registry struct {
	store *store.Store

	defaultCategories []string
	defaultTags       []string
}

// NewRegistry creates a registry over st. The default lists are applied by
// EnsureDefaults on first run.
func NewRegistry(st *store.Store, defaultCategories, defaultTags []string) *Registry {
	return &Registry{
		store:             st,
		defaultCategories: defaultCategories,
		defaultTags:       defaultTags,
	}
}

// EnsureDefaults initializes any meta document that has never been set.
// Checked key by key, so a partially initialized library heals
// incrementally; once all defaults exist this is a no-op and is safe to
// call on every startup.
func (r *Registry) EnsureDefaults() error {
	var cats []string
	ok, err := r.store.GetMeta(store.MetaCategories, &cats)
	if err != nil {
		return err
	}
	if !ok {
		if err := r.SetCategories(sortedSet(r.defaultCategories)); err != nil {
			return err
		}
	}

	var tags []string
	if ok, err = r.store.GetMeta(store.MetaTags, &tags); err != nil {
		return err
	}
	if !ok {
		if err := r.SetTags(sortedSet(r.defaultTags)); err != nil {
			return err
		}
	}

	var pls []*Playlist
	if ok, err = r.store.GetMeta(store.MetaPlaylists, &pls); err != nil {
		return err
	}
	if !ok {
		if err := r.SetPlaylists([]*Playlist{}); err != nil {
			return err
		}
	}
	return nil
}

// Categories returns the registered category names, sorted.
func (r *Registry) Categories() ([]string, error) {
	var cats []string
	if _, err := r.store.GetMeta(store.MetaCategories, &cats); err != nil {
		return nil, err
	}
	return cats, nil
}

// SetCategories replaces the category list wholesale.
func (r *Registry) SetCategories(cats []string) error {
	return r.store.SetMeta(store.MetaCategories, cats)
}

// AddCategory inserts a category, keeping the list sorted and free of
// duplicates. Adding an existing name is a no-op.
func (r *Registry) AddCategory(name string) error {
	if name == "" {
		return errEmptyName
	}
	cats, err := r.Categories()
	if err != nil {
		return err
	}
	if slices.Contains(cats, name) {
		return nil
	}
	return r.SetCategories(sortedSet(append(cats, name)))
}

// RemoveCategory deletes a category by exact name. Songs referencing the
// removed category keep the now-orphaned string; there is no cascading
// rename or delete for categories.
func (r *Registry) RemoveCategory(name string) error {
	cats, err := r.Categories()
	if err != nil {
		return err
	}
	next := slices.DeleteFunc(cats, func(c string) bool { return c == name })
	return r.SetCategories(next)
}

// Tags returns the registered tags, sorted.
func (r *Registry) Tags() ([]string, error) {
	var tags []string
	if _, err := r.store.GetMeta(store.MetaTags, &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// SetTags replaces the tag list wholesale.
func (r *Registry) SetTags(tags []string) error {
	return r.store.SetMeta(store.MetaTags, tags)
}

// GrowTags unions the given tags into the registry: deduplicated, sorted,
// add-only. Tags never shrink automatically when they fall out of use.
// A call that adds nothing new performs no write.
func (r *Registry) GrowTags(tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	cur, err := r.Tags()
	if err != nil {
		return err
	}
	next := sortedSet(append(slices.Clone(cur), tags...))
	if slices.Equal(cur, next) {
		return nil
	}
	return r.SetTags(next)
}

// Playlists returns all playlists.
func (r *Registry) Playlists() ([]*Playlist, error) {
	var pls []*Playlist
	if _, err := r.store.GetMeta(store.MetaPlaylists, &pls); err != nil {
		return nil, err
	}
	return pls, nil
}

// SetPlaylists replaces the playlist list wholesale.
func (r *Registry) SetPlaylists(pls []*Playlist) error {
	return r.store.SetMeta(store.MetaPlaylists, pls)
}

// GetPlaylist returns the playlist with the given id, or nil if absent.
func (r *Registry) GetPlaylist(id string) (*Playlist, error) {
	pls, err := r.Playlists()
	if err != nil {
		return nil, err
	}
	for _, pl := range pls {
		if pl.ID == id {
			return pl, nil
		}
	}
	return nil, nil
}

// CreatePlaylist appends a new empty playlist and returns it.
func (r *Registry) CreatePlaylist(name string) (*Playlist, error) {
	if name == "" {
		return nil, errEmptyName
	}
	pls, err := r.Playlists()
	if err != nil {
		return nil, err
	}
	pl := &Playlist{ID: NewPlaylistID(), Name: name, SongIDs: []string{}}
	if err := r.SetPlaylists(append(pls, pl)); err != nil {
		return nil, err
	}
	return pl.Clone(), nil
}

// RenamePlaylist changes a playlist's name in place. Renaming an unknown
// id is a no-op.
func (r *Registry) RenamePlaylist(id, name string) error {
	if name == "" {
		return errEmptyName
	}
	return r.modifyPlaylist(id, func(pl *Playlist) bool {
		if pl.Name == name {
			return false
		}
		pl.Name = name
		return true
	})
}

// DeletePlaylist removes a playlist by id. The songs it referenced are
// untouched. Deleting an unknown id is a no-op.
func (r *Registry) DeletePlaylist(id string) error {
	pls, err := r.Playlists()
	if err != nil {
		return err
	}
	next := slices.DeleteFunc(pls, func(pl *Playlist) bool { return pl.ID == id })
	if len(next) == len(pls) {
		return nil
	}
	return r.SetPlaylists(next)
}

// AddSongToPlaylist appends a song id to a playlist. Idempotent: an id
// already present is not duplicated.
func (r *Registry) AddSongToPlaylist(playlistID, songID string) error {
	return r.modifyPlaylist(playlistID, func(pl *Playlist) bool {
		if slices.Contains(pl.SongIDs, songID) {
			return false
		}
		pl.SongIDs = append(pl.SongIDs, songID)
		return true
	})
}

// RemoveSongFromPlaylist filters a song id out of one playlist.
func (r *Registry) RemoveSongFromPlaylist(playlistID, songID string) error {
	return r.modifyPlaylist(playlistID, func(pl *Playlist) bool {
		next := slices.DeleteFunc(pl.SongIDs, func(id string) bool { return id == songID })
		if len(next) == len(pl.SongIDs) {
			return false
		}
		pl.SongIDs = next
		return true
	})
}

// RemoveSongFromAllPlaylists sweeps a song id out of every playlist in one
// write. This is the second phase of song deletion.
func (r *Registry) RemoveSongFromAllPlaylists(songID string) error {
	pls, err := r.Playlists()
	if err != nil {
		return err
	}
	changed := false
	for _, pl := range pls {
		next := slices.DeleteFunc(pl.SongIDs, func(id string) bool { return id == songID })
		if len(next) != len(pl.SongIDs) {
			pl.SongIDs = next
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return r.SetPlaylists(pls)
}

// SeedApplied reports whether the one-time seed has been applied.
func (r *Registry) SeedApplied() (bool, error) {
	var applied bool
	if _, err := r.store.GetMeta(store.MetaSeedApplied, &applied); err != nil {
		return false, err
	}
	return applied, nil
}

// SetSeedApplied persists the seed flag.
func (r *Registry) SetSeedApplied(applied bool) error {
	return r.store.SetMeta(store.MetaSeedApplied, applied)
}

// modifyPlaylist applies fn to the playlist with the given id and persists
// the list if fn reports a change. Unknown ids are a no-op.
func (r *Registry) modifyPlaylist(id string, fn func(*Playlist) bool) error {
	pls, err := r.Playlists()
	if err != nil {
		return err
	}
	for _, pl := range pls {
		if pl.ID == id {
			if fn(pl) {
				return r.SetPlaylists(pls)
			}
			return nil
		}
	}
	return nil
}

var errEmptyName = errors.New("name is empty")

// sortedSet returns a sorted copy of in with duplicates removed.
func sortedSet(in []string) []string {
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
