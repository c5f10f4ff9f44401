package store

import (
	"errors"
	"slices"

	"github.com/maruel/ksid"
)

// Song is a document-like record: descriptive fields plus up to two attached
// binary payloads (a chart PDF and an audio recording). Payloads are stored
// as blob references; display names travel separately so re-saving a song
// without re-attaching a file keeps both.
type Song struct {
	ID        string   `json:"id" jsonschema:"description=Opaque unique identifier, assigned on first save"`
	Title     string   `json:"title" jsonschema:"description=Song title"`
	Artist    string   `json:"artist,omitempty" jsonschema:"description=Performing or composing artist"`
	Category  string   `json:"category,omitempty" jsonschema:"description=Free-text category, usually one of the registered categories"`
	Tags      []string `json:"tags,omitempty" jsonschema:"description=Ordered tag list"`
	PDFName   string   `json:"pdfName,omitempty" jsonschema:"description=Display name of the attached PDF"`
	AudioName string   `json:"audioName,omitempty" jsonschema:"description=Display name of the attached audio file"`
	PDF       Blob     `json:"pdf,omitzero"`
	Audio     Blob     `json:"audio,omitzero"`
	CreatedAt int64    `json:"createdAt" jsonschema:"description=Creation time in Unix milliseconds"`
	UpdatedAt int64    `json:"updatedAt" jsonschema:"description=Last save time in Unix milliseconds"`
}

// Clone returns a deep copy.
func (s *Song) Clone() *Song {
	c := *s
	c.Tags = slices.Clone(s.Tags)
	return &c
}

// RowID returns the song's id.
func (s *Song) RowID() string {
	return s.ID
}

// Validate checks storage-level integrity. Title is deliberately not
// enforced here: seed datasets and backups may carry untitled songs, and
// only the interactive save path requires a title.
func (s *Song) Validate() error {
	if s.ID == "" {
		return errSongIDEmpty
	}
	if err := s.PDF.Ref.Validate(); err != nil {
		return err
	}
	return s.Audio.Ref.Validate()
}

var errSongIDEmpty = errors.New("song id is empty")

// NewSongID generates a fresh song identifier. The ksid suffix is
// time-sortable and collision-avoiding, so ids sort by creation time.
func NewSongID() string {
	return "s_" + ksid.NewID().String()
}
