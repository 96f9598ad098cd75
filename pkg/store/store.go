// Package store persists named blobs: trained artifacts, ingested datasets and
// label tables. Every Put replaces the blob atomically; readers observe either
// the previous or the new content, never a partial write.
package store

import (
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by Get when no blob exists under the name.
var ErrNotFound = errors.New("blob not found")

// ErrInvalidName is returned for names that could escape the store root.
var ErrInvalidName = errors.New("invalid blob name")

// Store is a named blob store.
type Store interface {
	// Put stores data under name, replacing any previous blob.
	Put(ctx context.Context, name string, data []byte) error

	// Get returns the blob stored under name or an error wrapping ErrNotFound.
	Get(ctx context.Context, name string) ([]byte, error)

	// List returns the names of all stored blobs with the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}

// StorageError is an operational failure of the backing store.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("store %s %q: %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// ValidateName rejects empty, absolute and parent-relative names.
func ValidateName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == "" || seg == "." || seg == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidName, name)
		}
	}
	return nil
}

// PutGob gob-encodes v and stores it under name.
func PutGob(ctx context.Context, s Store, name string, v any) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}
	return s.Put(ctx, name, buf.Bytes())
}

// GetGob loads the blob under name and gob-decodes it into v.
func GetGob(ctx context.Context, s Store, name string, v any) error {
	data, err := s.Get(ctx, name)
	if err != nil {
		return err
	}
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return &StorageError{Op: "decode", Name: name, Err: err}
	}
	return nil
}
