package library

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"songbook/internal/store"
)

// BackupVersion tags exported documents. Import accepts any document whose
// songs field is a JSON array, so older exports keep working.
const BackupVersion = "3-pdf-audio-playlists"

// ErrInvalidBackup is returned by Import when the document cannot be a
// backup at all. The store is left untouched.
var ErrInvalidBackup = errors.New("invalid backup document")

// Document is the portable JSON form of an entire library. Also the format
// of seed datasets.
type Document struct {
	Version      string      `json:"version,omitempty" jsonschema:"description=Backup format tag"`
	ExportedAt   string      `json:"exportedAt,omitempty" jsonschema:"description=Export time in RFC 3339"`
	IncludeFiles bool        `json:"includeFiles" jsonschema:"description=Whether song payloads are embedded"`
	Songs        []SongEntry `json:"songs" jsonschema:"description=Every song, payloads inline as base64"`
	Categories   []string    `json:"categories,omitempty" jsonschema:"description=Registered categories"`
	Tags         []string    `json:"tags,omitempty" jsonschema:"description=Registered tags"`
	Playlists    []*Playlist `json:"playlists,omitempty" jsonschema:"description=All playlists"`
}

// SongEntry is one song in a Document. Binary payloads travel inline as
// base64; the B64/Mime pairs are omitted entirely in a lean export.
type SongEntry struct {
	ID        string   `json:"id" jsonschema:"description=Song identifier, preserved across export and import"`
	Title     string   `json:"title" jsonschema:"description=Song title"`
	Artist    string   `json:"artist,omitempty"`
	Category  string   `json:"category,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt int64    `json:"createdAt,omitempty" jsonschema:"description=Creation time in Unix milliseconds"`
	UpdatedAt int64    `json:"updatedAt,omitempty" jsonschema:"description=Last save time in Unix milliseconds"`
	PDFName   string   `json:"pdfName,omitempty"`
	AudioName string   `json:"audioName,omitempty"`
	PDFB64    string   `json:"pdfB64,omitempty" jsonschema:"description=PDF payload, standard base64"`
	PDFMime   string   `json:"pdfMime,omitempty"`
	AudioB64  string   `json:"audioB64,omitempty" jsonschema:"description=Audio payload, standard base64"`
	AudioMime string   `json:"audioMime,omitempty"`
}

// Export builds a backup document from the current library state. Songs
// come out in title order so repeated exports of the same state are
// byte-identical. With includeFiles false the payloads are skipped and
// only metadata travels.
func (l *Library) Export(includeFiles bool) (*Document, error) {
	songs, err := l.store.SongsByTitle()
	if err != nil {
		return nil, err
	}
	cats, err := l.registry.Categories()
	if err != nil {
		return nil, err
	}
	tags, err := l.registry.Tags()
	if err != nil {
		return nil, err
	}
	pls, err := l.registry.Playlists()
	if err != nil {
		return nil, err
	}

	doc := &Document{
		Version:      BackupVersion,
		ExportedAt:   time.Now().UTC().Format(time.RFC3339),
		IncludeFiles: includeFiles,
		Songs:        make([]SongEntry, 0, len(songs)),
		Categories:   cats,
		Tags:         tags,
		Playlists:    pls,
	}
	for _, song := range songs {
		entry := SongEntry{
			ID:        song.ID,
			Title:     song.Title,
			Artist:    song.Artist,
			Category:  song.Category,
			Tags:      song.Tags,
			CreatedAt: song.CreatedAt,
			UpdatedAt: song.UpdatedAt,
			PDFName:   song.PDFName,
			AudioName: song.AudioName,
		}
		if includeFiles {
			if !song.PDF.IsZero() {
				b64, err := l.store.BlobBase64(song.PDF.Ref)
				if err != nil {
					return nil, err
				}
				entry.PDFB64 = b64
				entry.PDFMime = song.PDF.Mime
			}
			if !song.Audio.IsZero() {
				b64, err := l.store.BlobBase64(song.Audio.Ref)
				if err != nil {
					return nil, err
				}
				entry.AudioB64 = b64
				entry.AudioMime = song.Audio.Mime
			}
		}
		doc.Songs = append(doc.Songs, entry)
	}
	return doc, nil
}

// Import merges a backup document into the library: categories and tags
// are unioned with the existing registries, playlists are replaced
// wholesale when the document carries any, and songs are upserted by id.
// Existing songs not present in the document survive.
//
// The document is validated before anything is written. A document whose
// songs field is missing or not an array is rejected with ErrInvalidBackup
// and the store is untouched. Failures during the apply phase (a corrupt
// base64 payload, a disk error) abort mid-way with the completed upserts
// kept, matching the one-transaction-per-record storage model.
func (l *Library) Import(data []byte) error {
	var probe struct {
		Songs json.RawMessage `json:"songs"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	if !isJSONArray(probe.Songs) {
		return fmt.Errorf("%w: songs is not an array", ErrInvalidBackup)
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBackup, err)
	}
	return l.applyDocument(&doc)
}

// applyDocument writes a document's contents into the library. Categories
// and tags are unioned; a playlists array replaces the registry wholesale
// (both seed and import behave this way), while a document without one
// leaves the existing list alone.
func (l *Library) applyDocument(doc *Document) error {
	if len(doc.Categories) > 0 {
		cur, err := l.registry.Categories()
		if err != nil {
			return err
		}
		if err := l.registry.SetCategories(sortedSet(append(cur, doc.Categories...))); err != nil {
			return err
		}
	}
	if err := l.registry.GrowTags(doc.Tags); err != nil {
		return err
	}
	if doc.Playlists != nil {
		if err := l.registry.SetPlaylists(doc.Playlists); err != nil {
			return err
		}
	}

	now := time.Now().UnixMilli()
	for i := range doc.Songs {
		entry := &doc.Songs[i]
		song := &store.Song{
			ID:        entry.ID,
			Title:     entry.Title,
			Artist:    entry.Artist,
			Category:  entry.Category,
			Tags:      entry.Tags,
			CreatedAt: entry.CreatedAt,
			UpdatedAt: entry.UpdatedAt,
			PDFName:   entry.PDFName,
			AudioName: entry.AudioName,
		}
		if song.CreatedAt == 0 {
			song.CreatedAt = now
		}
		if song.UpdatedAt == 0 {
			song.UpdatedAt = song.CreatedAt
		}
		if entry.PDFB64 != "" {
			mime := entry.PDFMime
			if mime == "" {
				mime = DefaultPDFMime
			}
			blob, err := l.store.PutBlobBase64(entry.PDFB64, mime)
			if err != nil {
				return fmt.Errorf("song %q: pdf payload: %w", entry.ID, err)
			}
			song.PDF = blob
		}
		if entry.AudioB64 != "" {
			mime := entry.AudioMime
			if mime == "" {
				mime = DefaultAudioMime
			}
			blob, err := l.store.PutBlobBase64(entry.AudioB64, mime)
			if err != nil {
				return fmt.Errorf("song %q: audio payload: %w", entry.ID, err)
			}
			song.Audio = blob
		}
		// Ids from the document are preserved verbatim so playlists and
		// later re-imports keep lining up. Blob references of an
		// overwritten song are dropped here; CompactBlobs reclaims them.
		if _, err := l.store.SaveSong(song); err != nil {
			return fmt.Errorf("song %q: %w", entry.ID, err)
		}
	}
	return nil
}

// isJSONArray reports whether raw is a JSON array (not null, not absent).
func isJSONArray(raw json.RawMessage) bool {
	for _, c := range raw {
		switch c {
		case ' ', '\t', '\n', '\r':
			continue
		case '[':
			return true
		default:
			return false
		}
	}
	return false
}

// BackupSchema returns the JSON schema of the backup document format,
// mostly for documentation and external validators.
func BackupSchema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	return r.Reflect(&Document{})
}
