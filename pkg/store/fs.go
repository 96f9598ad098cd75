package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"
)

const tempPattern = ".staged-*"

// FileStore keeps blobs as files below a root directory. Writes are staged
// in a temp file in the destination directory and renamed into place.
type FileStore struct {
	root   string
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.RWMutex
}

// NewFileStore creates the root directory if needed.
func NewFileStore(root string, logger *zap.Logger) (*FileStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, &StorageError{Op: "init", Name: root, Err: err}
	}
	return &FileStore{
		root:   root,
		logger: logger,
		locks:  make(map[string]*sync.RWMutex),
	}, nil
}

// Root returns the directory blobs are stored under.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) lock(name string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		s.locks[name] = l
	}
	return l
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.root, filepath.FromSlash(name))
}

// Put writes data atomically.
func (s *FileStore) Put(ctx context.Context, name string, data []byte) error {
	if err := ValidateName(name); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.lock(name)
	l.Lock()
	defer l.Unlock()

	dst := s.path(name)
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return &StorageError{Op: "put", Name: name, Err: err}
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), tempPattern)
	if err != nil {
		return &StorageError{Op: "put", Name: name, Err: err}
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return &StorageError{Op: "put", Name: name, Err: err}
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return &StorageError{Op: "put", Name: name, Err: err}
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return &StorageError{Op: "put", Name: name, Err: err}
	}
	if err := os.Rename(tmpName, dst); err != nil {
		cleanup()
		return &StorageError{Op: "put", Name: name, Err: err}
	}

	s.logger.Debug("stored blob", zap.String("name", name), zap.Int("bytes", len(data)))
	return nil
}

// Get reads the blob under name.
func (s *FileStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l := s.lock(name)
	l.RLock()
	defer l.RUnlock()

	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, &StorageError{Op: "get", Name: name, Err: err}
	}
	return data, nil
}

// List walks the root and returns blob names in lexical order. Staged temp
// files are skipped.
func (s *FileStore) List(ctx context.Context, prefix string) ([]string, error) {
	var names []string
	err := filepath.WalkDir(s.root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".staged-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, p)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "list", Name: prefix, Err: err}
	}
	sort.Strings(names)
	return names, nil
}
