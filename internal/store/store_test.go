package store

import (
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestOpenCreatesLayout(t *testing.T) {
	dir := t.TempDir()
	if _, err := Open(dir); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(filepath.Join(dir, schemaFile))
	if err != nil {
		t.Fatal(err)
	}
	if got := string(data); got != "3\n" {
		t.Errorf("schema marker = %q, want %q", got, "3\n")
	}
	if _, err := os.Stat(filepath.Join(dir, blobsDir)); err != nil {
		t.Errorf("blobs directory missing: %v", err)
	}
}

func TestOpenSchemaVersions(t *testing.T) {
	t.Run("OlderIsUpgraded", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, schemaFile), []byte("1\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(dir); err != nil {
			t.Fatal(err)
		}
		data, _ := os.ReadFile(filepath.Join(dir, schemaFile))
		if got := string(data); got != "3\n" {
			t.Errorf("schema marker = %q after upgrade, want %q", got, "3\n")
		}
	})
	t.Run("NewerIsRefused", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, schemaFile), []byte("99\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(dir); err == nil {
			t.Error("Open() accepted a newer schema")
		}
	})
	t.Run("MalformedIsRefused", func(t *testing.T) {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, schemaFile), []byte("banana"), 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(dir); err == nil {
			t.Error("Open() accepted a malformed schema marker")
		}
	})
	t.Run("UpgradeKeepsData", func(t *testing.T) {
		dir := t.TempDir()
		s, err := Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.SaveSong(&Song{Title: "Survivor"}); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(filepath.Join(dir, schemaFile), []byte("2\n"), 0o644); err != nil {
			t.Fatal(err)
		}
		reopened, err := Open(dir)
		if err != nil {
			t.Fatal(err)
		}
		if got := reopened.CountSongs(); got != 1 {
			t.Errorf("CountSongs() = %d after upgrade, want 1", got)
		}
	})
}

func TestSaveSong(t *testing.T) {
	s := newTestStore(t)
	t.Run("AssignsUniqueIDs", func(t *testing.T) {
		a, err := s.SaveSong(&Song{Title: "A"})
		if err != nil {
			t.Fatal(err)
		}
		b, err := s.SaveSong(&Song{Title: "B"})
		if err != nil {
			t.Fatal(err)
		}
		if a.ID == "" || b.ID == "" || a.ID == b.ID {
			t.Errorf("ids = %q, %q, want distinct non-empty", a.ID, b.ID)
		}
	})
	t.Run("KeepsCallerID", func(t *testing.T) {
		saved, err := s.SaveSong(&Song{ID: "s_1700000000000_xyz", Title: "Verbatim"})
		if err != nil {
			t.Fatal(err)
		}
		if saved.ID != "s_1700000000000_xyz" {
			t.Errorf("ID = %q, want caller id preserved", saved.ID)
		}
	})
	t.Run("DoesNotMutateArgument", func(t *testing.T) {
		arg := &Song{Title: "Arg"}
		saved, err := s.SaveSong(arg)
		if err != nil {
			t.Fatal(err)
		}
		if arg.ID != "" {
			t.Errorf("argument mutated: ID = %q", arg.ID)
		}
		if saved.ID == "" {
			t.Error("returned record missing assigned id")
		}
	})
}

func TestGetSongAbsent(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetSong("s_missing")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("GetSong(missing) = %+v, want nil", got)
	}
}

func TestDeleteSong(t *testing.T) {
	s := newTestStore(t)
	saved, err := s.SaveSong(&Song{Title: "Gone"})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.DeleteSong(saved.ID); err != nil {
		t.Fatal(err)
	}
	if got, _ := s.GetSong(saved.ID); got != nil {
		t.Errorf("GetSong() = %+v after delete", got)
	}
	if err := s.DeleteSong(saved.ID); err != nil {
		t.Errorf("second DeleteSong() = %v, want nil", err)
	}
}

func TestSongsByTitle(t *testing.T) {
	s := newTestStore(t)
	for _, title := range []string{"Charlie", "alpha", "Bravo"} {
		if _, err := s.SaveSong(&Song{Title: title}); err != nil {
			t.Fatal(err)
		}
	}
	songs, err := s.SongsByTitle()
	if err != nil {
		t.Fatal(err)
	}
	var titles []string
	for _, song := range songs {
		titles = append(titles, song.Title)
	}
	// Case-insensitive title order.
	if want := []string{"alpha", "Bravo", "Charlie"}; !slices.Equal(titles, want) {
		t.Errorf("SongsByTitle() order = %v, want %v", titles, want)
	}
}

func TestMeta(t *testing.T) {
	s := newTestStore(t)
	t.Run("UnsetIsNotError", func(t *testing.T) {
		var v []string
		ok, err := s.GetMeta(MetaTags, &v)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("GetMeta(unset) = true, want false")
		}
	})
	t.Run("SetGet", func(t *testing.T) {
		if err := s.SetMeta(MetaTags, []string{"a", "b"}); err != nil {
			t.Fatal(err)
		}
		var v []string
		ok, err := s.GetMeta(MetaTags, &v)
		if err != nil {
			t.Fatal(err)
		}
		if !ok || !slices.Equal(v, []string{"a", "b"}) {
			t.Errorf("GetMeta() = %v, %t", v, ok)
		}
	})
	t.Run("Replace", func(t *testing.T) {
		if err := s.SetMeta(MetaTags, []string{"c"}); err != nil {
			t.Fatal(err)
		}
		var v []string
		if _, err := s.GetMeta(MetaTags, &v); err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(v, []string{"c"}) {
			t.Errorf("GetMeta() = %v after replace, want [c]", v)
		}
	})
}

func TestStorePersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := s.SaveSong(&Song{Title: "Durable", Tags: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetMeta(MetaSeedApplied, true); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	got, err := reopened.GetSong(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "Durable" {
		t.Errorf("GetSong() after reopen = %+v", got)
	}
	var applied bool
	ok, err := reopened.GetMeta(MetaSeedApplied, &applied)
	if err != nil {
		t.Fatal(err)
	}
	if !ok || !applied {
		t.Errorf("GetMeta(seedApplied) = %t, %t after reopen", applied, ok)
	}
}

func TestReload(t *testing.T) {
	dir := t.TempDir()
	a, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	saved, err := a.SaveSong(&Song{Title: "Shared"})
	if err != nil {
		t.Fatal(err)
	}

	if got, _ := b.GetSong(saved.ID); got != nil {
		t.Fatal("second handle saw the write before reload")
	}
	if err := b.Reload(); err != nil {
		t.Fatal(err)
	}
	got, err := b.GetSong(saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Title != "Shared" {
		t.Errorf("GetSong() after Reload() = %+v", got)
	}
	songs, err := b.SongsByTitle()
	if err != nil {
		t.Fatal(err)
	}
	if len(songs) != 1 {
		t.Errorf("SongsByTitle() after Reload() = %d songs, want 1", len(songs))
	}
}
