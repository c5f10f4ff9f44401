package library

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"

	"songbook/internal/store"
)

const seedDataset = `{
	"songs": [
		{"id": "s_1700000000000_abc", "title": "Seeded One", "category": "Mass", "tags": ["intro"], "pdfB64": "%s", "pdfName": "one.pdf"},
		{"id": "s_1700000000001_def", "title": "Seeded Two"}
	],
	"categories": ["Seasonal"],
	"tags": ["seeded"],
	"playlists": [{"id": "p_seed", "name": "Starter", "songIds": ["s_1700000000000_abc"]}]
}`

func seedJSON(t *testing.T) string {
	t.Helper()
	b64 := base64.StdEncoding.EncodeToString([]byte("%PDF fake"))
	return strings.Replace(seedDataset, "%s", b64, 1)
}

func TestSeedFromHTTP(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(seedJSON(t)))
	}))
	defer srv.Close()

	l := newTestLibrary(t)
	s := NewSeeder(l, srv.URL)
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if got := l.Store().CountSongs(); got != 2 {
		t.Errorf("CountSongs() = %d, want 2", got)
	}
	song, err := l.GetSong("s_1700000000000_abc")
	if err != nil {
		t.Fatal(err)
	}
	if song == nil {
		t.Fatal("seed did not preserve the dataset id")
	}
	if song.PDF.IsZero() || song.PDF.Mime != DefaultPDFMime {
		t.Errorf("PDF = %+v, want stored payload with default mime", song.PDF)
	}
	cats, _ := l.Registry().Categories()
	if !slices.Contains(cats, "Seasonal") || !slices.Contains(cats, "General") {
		t.Errorf("Categories() = %v, want union with defaults", cats)
	}
	pls, _ := l.Registry().Playlists()
	if len(pls) != 1 || pls[0].ID != "p_seed" {
		t.Errorf("Playlists() = %+v", pls)
	}
	applied, err := l.Registry().SeedApplied()
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Error("seed flag not set after successful seed")
	}

	// A second run must not refetch.
	if err := s.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := hits.Load(); got != 1 {
		t.Errorf("dataset fetched %d times, want 1", got)
	}
}

func TestSeedFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "default_songs.json")
	if err := os.WriteFile(path, []byte(seedJSON(t)), 0o644); err != nil {
		t.Fatal(err)
	}
	l := newTestLibrary(t)
	if err := NewSeeder(l, path).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := l.Store().CountSongs(); got != 2 {
		t.Errorf("CountSongs() = %d, want 2", got)
	}
}

func TestSeedSkipsNonEmptyLibrary(t *testing.T) {
	l := newTestLibrary(t)
	if _, err := l.SaveSong(&store.Song{Title: "Mine"}); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(seedJSON(t)), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := NewSeeder(l, path).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := l.Store().CountSongs(); got != 1 {
		t.Errorf("CountSongs() = %d, want 1 (seed must not touch user data)", got)
	}
	applied, _ := l.Registry().SeedApplied()
	if !applied {
		t.Error("seed flag not set for a non-empty library")
	}
}

func TestSeedOverwritesPlaylists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	if err := os.WriteFile(path, []byte(seedJSON(t)), 0o644); err != nil {
		t.Fatal(err)
	}
	l := newTestLibrary(t)
	// A playlist created before the seed runs, e.g. while earlier fetch
	// attempts were failing. The dataset's playlists replace it.
	if _, err := l.Registry().CreatePlaylist("Mine"); err != nil {
		t.Fatal(err)
	}
	if err := NewSeeder(l, path).Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	pls, err := l.Registry().Playlists()
	if err != nil {
		t.Fatal(err)
	}
	if len(pls) != 1 || pls[0].ID != "p_seed" {
		t.Errorf("Playlists() after seed = %+v, want just p_seed", pls)
	}
}

func TestSeedSoftFailure(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		l := newTestLibrary(t)
		if err := NewSeeder(l, filepath.Join(t.TempDir(), "nope.json")).Run(context.Background()); err != nil {
			t.Fatalf("Run() = %v, want soft failure", err)
		}
		applied, _ := l.Registry().SeedApplied()
		if applied {
			t.Error("seed flag set after failed fetch; must stay unset for retry")
		}
	})
	t.Run("MalformedDataset", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.json")
		if err := os.WriteFile(path, []byte(`{"songs": 42}`), 0o644); err != nil {
			t.Fatal(err)
		}
		l := newTestLibrary(t)
		if err := NewSeeder(l, path).Run(context.Background()); err != nil {
			t.Fatalf("Run() = %v, want soft failure", err)
		}
		if got := l.Store().CountSongs(); got != 0 {
			t.Errorf("CountSongs() = %d, want 0", got)
		}
		applied, _ := l.Registry().SeedApplied()
		if applied {
			t.Error("seed flag set after malformed dataset")
		}
	})
	t.Run("Disabled", func(t *testing.T) {
		l := newTestLibrary(t)
		if err := NewSeeder(l, "").Run(context.Background()); err != nil {
			t.Fatal(err)
		}
	})
}
