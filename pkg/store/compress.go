package store

import (
	"bytes"
	"context"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// Compressed wraps a Store and zstd-compresses blobs at rest. Blobs written
// without compression are returned unchanged.
type Compressed struct {
	backend Store
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewCompressed wraps backend.
func NewCompressed(backend Store) (*Compressed, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, err
	}
	return &Compressed{backend: backend, encoder: enc, decoder: dec}, nil
}

// Put compresses data and stores it.
func (c *Compressed) Put(ctx context.Context, name string, data []byte) error {
	return c.backend.Put(ctx, name, c.encoder.EncodeAll(data, nil))
}

// Get loads and decompresses a blob.
func (c *Compressed) Get(ctx context.Context, name string) ([]byte, error) {
	data, err := c.backend.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, zstdMagic) {
		return data, nil
	}
	plain, err := c.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, &StorageError{Op: "decompress", Name: name, Err: err}
	}
	return plain, nil
}

// List delegates to the backend.
func (c *Compressed) List(ctx context.Context, prefix string) ([]string, error) {
	return c.backend.List(ctx, prefix)
}

// Close releases the codec resources.
func (c *Compressed) Close() {
	c.encoder.Close()
	c.decoder.Close()
}
