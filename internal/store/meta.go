package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Logical keys of the meta collection. Each key holds one independent
// document; at most one record exists per key.
const (
	MetaCategories  = "categories"
	MetaTags        = "tags"
	MetaPlaylists   = "playlists"
	MetaSeedApplied = "seedApplied"
)

// metaRecord is one key/value entry in the meta collection. The value is
// kept raw at this layer; the registry on top exposes typed accessors so no
// caller ever touches a RawMessage.
type metaRecord struct {
	Key   string          `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (m *metaRecord) Clone() *metaRecord {
	c := *m
	c.Value = slices.Clone(m.Value)
	return &c
}

func (m *metaRecord) RowID() string {
	return m.Key
}

func (m *metaRecord) Validate() error {
	if m.Key == "" {
		return errMetaKeyEmpty
	}
	return nil
}

var errMetaKeyEmpty = errors.New("meta key is empty")

// GetMeta unmarshals the value stored under key into out and reports
// whether the key was set. An unset key is a normal result, not an error.
func (s *Store) GetMeta(key string, out any) (bool, error) {
	rec := s.meta.get(key)
	if rec == nil {
		return false, nil
	}
	if err := json.Unmarshal(rec.Value, out); err != nil {
		return false, fmt.Errorf("%w: unmarshal meta %q: %w", ErrIO, key, err)
	}
	return true, nil
}

// SetMeta stores value under key, replacing any previous value.
func (s *Store) SetMeta(key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: marshal meta %q: %w", ErrIO, key, err)
	}
	return s.meta.put(&metaRecord{Key: key, Value: data})
}
