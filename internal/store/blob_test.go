package store

import (
	"errors"
	"io"
	"slices"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestBlobRefValidate(t *testing.T) {
	data := []struct {
		name string
		ref  BlobRef
		ok   bool
	}{
		{"Empty", "", true},
		{"Valid", "sha256:" + hex64 + "-12", true},
		{"NoPrefix", BlobRef(hex64 + "-12"), false},
		{"ShortDigest", "sha256:abc-12", false},
		{"UppercaseHex", BlobRef("sha256:" + "A" + hex64[1:] + "-12"), false},
		{"NoSize", BlobRef("sha256:" + hex64), false},
		{"BadSize", BlobRef("sha256:" + hex64 + "-x"), false},
	}
	for _, tc := range data {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ref.Validate()
			if (err == nil) != tc.ok {
				t.Errorf("Validate(%q) = %v, want ok=%t", tc.ref, err, tc.ok)
			}
		})
	}
}

const hex64 = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func TestBlobRoundtrip(t *testing.T) {
	s := newTestStore(t)
	payload := []byte("binary payload")
	blob, err := s.PutBlob(payload, "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if blob.Mime != "application/pdf" {
		t.Errorf("Mime = %q", blob.Mime)
	}
	if got := blob.Ref.Size(); got != int64(len(payload)) {
		t.Errorf("Size() = %d, want %d", got, len(payload))
	}

	// Same bytes, same ref.
	again, err := s.PutBlob(payload, "application/pdf")
	if err != nil {
		t.Fatal(err)
	}
	if again.Ref != blob.Ref {
		t.Errorf("second put ref = %s, want %s", again.Ref, blob.Ref)
	}

	got, err := s.BlobBytes(blob.Ref)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(got, payload) {
		t.Errorf("BlobBytes() = %q, want %q", got, payload)
	}

	r, err := s.OpenBlob(blob.Ref)
	if err != nil {
		t.Fatal(err)
	}
	streamed, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(streamed, payload) {
		t.Errorf("OpenBlob() = %q, want %q", streamed, payload)
	}
}

func TestBlobBase64(t *testing.T) {
	s := newTestStore(t)
	t.Run("Roundtrip", func(t *testing.T) {
		blob, err := s.PutBlobBase64("aGVsbG8=", "audio/mp3")
		if err != nil {
			t.Fatal(err)
		}
		got, err := s.BlobBase64(blob.Ref)
		if err != nil {
			t.Fatal(err)
		}
		if got != "aGVsbG8=" {
			t.Errorf("BlobBase64() = %q, want %q", got, "aGVsbG8=")
		}
	})
	t.Run("Malformed", func(t *testing.T) {
		if _, err := s.PutBlobBase64("!!!not base64!!!", "audio/mp3"); !errors.Is(err, ErrIO) {
			t.Errorf("PutBlobBase64() err = %v, want ErrIO", err)
		}
	})
}

func TestBlobGC(t *testing.T) {
	s := newTestStore(t)
	keep, err := s.PutBlob([]byte("keep"), "")
	if err != nil {
		t.Fatal(err)
	}
	drop, err := s.PutBlob([]byte("drop"), "")
	if err != nil {
		t.Fatal(err)
	}
	if err := s.GCBlobs(map[BlobRef]bool{keep.Ref: true}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.BlobBytes(keep.Ref); err != nil {
		t.Errorf("referenced blob removed: %v", err)
	}
	if _, err := s.BlobBytes(drop.Ref); err == nil {
		t.Error("unreferenced blob survived gc")
	}
}
