package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"
)

// seedFetchTimeout bounds the download of a remote seed dataset.
const seedFetchTimeout = 30 * time.Second

// Seeder loads the default dataset into an empty library exactly once.
type Seeder struct {
	library  *Library
	location string
}

// NewSeeder builds a seeder for the given location: an http(s) URL or a
// filesystem path. An empty location disables seeding.
func NewSeeder(l *Library, location string) *Seeder {
	return &Seeder{library: l, location: location}
}

// Run applies the seed dataset if it has never been applied. The applied
// flag is only set after a successful apply, so a dataset that is missing
// or malformed today is retried on the next startup. A library that
// already holds songs is marked applied without touching it, so the seed
// never overwrites user data.
//
// Fetch and parse failures are logged and swallowed: a broken seed must
// never keep the library from starting.
func (s *Seeder) Run(ctx context.Context) error {
	if s.location == "" {
		return nil
	}
	applied, err := s.library.registry.SeedApplied()
	if err != nil {
		return err
	}
	if applied {
		return nil
	}
	if s.library.store.CountSongs() > 0 {
		return s.library.registry.SetSeedApplied(true)
	}

	data, err := s.fetch(ctx)
	if err != nil {
		slog.WarnContext(ctx, "Skipping seed, dataset unavailable", "location", s.location, "err", err)
		return nil
	}
	doc, err := decodeSeed(data)
	if err != nil {
		slog.WarnContext(ctx, "Skipping seed, dataset malformed", "location", s.location, "err", err)
		return nil
	}

	if err := s.library.applyDocument(doc); err != nil {
		return err
	}
	if err := s.library.registry.SetSeedApplied(true); err != nil {
		return err
	}
	slog.InfoContext(ctx, "Seeded library", "songs", len(doc.Songs), "location", s.location)
	return nil
}

// fetch retrieves the seed dataset bytes from an URL or a local file.
func (s *Seeder) fetch(ctx context.Context) ([]byte, error) {
	if !strings.HasPrefix(s.location, "http://") && !strings.HasPrefix(s.location, "https://") {
		return os.ReadFile(s.location)
	}
	ctx, cancel := context.WithTimeout(ctx, seedFetchTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.location, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch seed: %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}

// decodeSeed parses a seed dataset, which uses the backup document format.
func decodeSeed(data []byte) (*Document, error) {
	var probe struct {
		Songs json.RawMessage `json:"songs"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, err
	}
	if !isJSONArray(probe.Songs) {
		return nil, errors.New("songs is not an array")
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}
