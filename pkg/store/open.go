package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Backends
const (
	BackendFS = "fs"
	BackendS3 = "s3"
)

// Config selects and configures the blob backend.
type Config struct {
	Backend  string   `yaml:"backend"`
	Path     string   `yaml:"path"`
	Compress bool     `yaml:"compress"`
	S3       S3Config `yaml:"s3"`
}

// Open builds the configured store. The returned close function releases
// the compression codecs, if any, and is never nil.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (Store, func(), error) {
	var (
		backend Store
		err     error
	)
	switch cfg.Backend {
	case "", BackendFS:
		backend, err = NewFileStore(cfg.Path, logger)
	case BackendS3:
		backend, err = NewS3Store(ctx, cfg.S3, logger)
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, nil, err
	}

	if !cfg.Compress {
		return backend, func() {}, nil
	}
	c, err := NewCompressed(backend)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Close, nil
}
