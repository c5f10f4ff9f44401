// Content-addressed storage for the binary payloads attached to songs.

package store

import (
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// BlobRef is a content-addressed blob reference in the form
// "sha256:<hex>-<size>". The empty ref means "no payload".
type BlobRef string

const blobRefPrefix = "sha256:"

// hexDigestLen is the length of a hex-encoded SHA-256 digest.
const hexDigestLen = 64

// Validate checks the reference format. The empty ref is valid (unset).
func (r BlobRef) Validate() error {
	if r == "" {
		return nil
	}
	s := string(r)
	if !strings.HasPrefix(s, blobRefPrefix) {
		return errInvalidBlobRef
	}
	rest := s[len(blobRefPrefix):]
	if len(rest) < hexDigestLen+2 || rest[hexDigestLen] != '-' {
		return errInvalidBlobRef
	}
	for i := range hexDigestLen {
		c := rest[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return errInvalidBlobRef
		}
	}
	if _, err := strconv.ParseInt(rest[hexDigestLen+1:], 10, 64); err != nil {
		return errInvalidBlobRef
	}
	return nil
}

// IsZero returns true if the reference is unset.
func (r BlobRef) IsZero() bool {
	return r == ""
}

// Size returns the payload size recorded in the reference, or 0 if unset.
func (r BlobRef) Size() int64 {
	i := strings.LastIndexByte(string(r), '-')
	if i < 0 {
		return 0
	}
	n, err := strconv.ParseInt(string(r)[i+1:], 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// Blob is what a song record actually persists for an attached file: a
// content-addressed reference plus the MIME type. The bytes live in the
// store's blobs directory, never in the JSONL row.
type Blob struct {
	Ref  BlobRef `json:"ref,omitempty" jsonschema:"description=Content-addressed payload reference"`
	Mime string  `json:"mime,omitempty" jsonschema:"description=MIME type of the payload"`
}

// IsZero reports whether no payload is attached. Implements the contract
// for the json omitzero option.
func (b Blob) IsZero() bool {
	return b.Ref.IsZero()
}

var errInvalidBlobRef = errors.New("invalid blob ref")

// blobStore manages content-addressed files under dir, fanned out by the
// first two hex characters: <dir>/<xx>/<rest>-<size>.
type blobStore struct {
	dir string
}

// put stores data and returns its reference. Storing the same bytes twice
// is a no-op returning the same ref.
func (bs *blobStore) put(data []byte) (BlobRef, error) {
	sum := sha256.Sum256(data)
	ref := BlobRef(fmt.Sprintf("%s%x-%d", blobRefPrefix, sum, len(data)))

	target := bs.pathForRef(ref)
	if _, err := os.Stat(target); err == nil {
		return ref, nil
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", fmt.Errorf("%w: create blob subdirectory: %w", ErrIO, err)
	}
	// Write through a temp file so a crash never leaves a half-written
	// blob at its content address.
	tmp, err := os.CreateTemp(bs.dir, "*.tmp")
	if err != nil {
		return "", fmt.Errorf("%w: create blob temp file: %w", ErrIO, err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: write blob: %w", ErrIO, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: close blob temp file: %w", ErrIO, err)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("%w: rename blob into place: %w", ErrIO, err)
	}
	return ref, nil
}

// open returns a reader over the blob's bytes.
func (bs *blobStore) open(ref BlobRef) (io.ReadCloser, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if ref.IsZero() {
		return nil, errUnsetBlob
	}
	f, err := os.Open(bs.pathForRef(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: open blob %s: %w", ErrIO, ref, err)
	}
	return f, nil
}

// read returns the blob's bytes.
func (bs *blobStore) read(ref BlobRef) ([]byte, error) {
	r, err := bs.open(ref)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = r.Close()
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %w", ErrIO, ref, err)
	}
	return data, nil
}

var errUnsetBlob = errors.New("blob is unset")

// gc removes every blob file whose ref is not in used. Stop-the-world:
// the caller must ensure no blob writes are in flight.
func (bs *blobStore) gc(used map[BlobRef]bool) error {
	entries, err := os.ReadDir(bs.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: read blob directory: %w", ErrIO, err)
	}

	var errs []error
	for _, entry := range entries {
		name := entry.Name()
		if !entry.IsDir() {
			// Stray temp files from interrupted writes.
			if strings.HasSuffix(name, ".tmp") {
				if err := os.Remove(filepath.Join(bs.dir, name)); err != nil {
					errs = append(errs, err)
				}
			}
			continue
		}
		if len(name) != 2 {
			continue
		}
		files, err := os.ReadDir(filepath.Join(bs.dir, name))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		for _, file := range files {
			ref := BlobRef(blobRefPrefix + name + file.Name())
			if ref.Validate() != nil || !used[ref] {
				if err := os.Remove(filepath.Join(bs.dir, name, file.Name())); err != nil {
					errs = append(errs, err)
				}
			}
		}
	}
	return errors.Join(errs...)
}

// pathForRef maps a ref to its on-disk location.
func (bs *blobStore) pathForRef(ref BlobRef) string {
	rest := string(ref)[len(blobRefPrefix):]
	return filepath.Join(bs.dir, rest[:2], rest[2:])
}

// PutBlob stores a binary payload and returns the Blob to embed in a song.
func (s *Store) PutBlob(data []byte, mime string) (Blob, error) {
	ref, err := s.blobs.put(data)
	if err != nil {
		return Blob{}, err
	}
	return Blob{Ref: ref, Mime: mime}, nil
}

// OpenBlob streams a stored payload. The caller closes the reader.
func (s *Store) OpenBlob(ref BlobRef) (io.ReadCloser, error) {
	return s.blobs.open(ref)
}

// BlobBytes returns a stored payload in full.
func (s *Store) BlobBytes(ref BlobRef) ([]byte, error) {
	return s.blobs.read(ref)
}

// PutBlobBase64 decodes a base64 payload (as found in seed datasets and
// backups) and stores it. A malformed encoding is an I/O-class failure.
func (s *Store) PutBlobBase64(b64, mime string) (Blob, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return Blob{}, fmt.Errorf("%w: decode base64 payload: %w", ErrIO, err)
	}
	return s.PutBlob(data, mime)
}

// BlobBase64 returns a stored payload base64-encoded for export.
func (s *Store) BlobBase64(ref BlobRef) (string, error) {
	data, err := s.blobs.read(ref)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// GCBlobs deletes every blob file not referenced in used.
func (s *Store) GCBlobs(used map[BlobRef]bool) error {
	return s.blobs.gc(used)
}
