package store

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s, err := NewFileStore(t.TempDir(), zap.NewNop())
	require.NoError(t, err)
	return s
}

func TestFileStorePutGet(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	_, err := s.Get(ctx, "iforest")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, IsStorageError(err))

	require.NoError(t, s.Put(ctx, "iforest", []byte("v1")))
	got, err := s.Get(ctx, "iforest")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	require.NoError(t, s.Put(ctx, "iforest", []byte("v2")))
	got, err = s.Get(ctx, "iforest")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestFileStoreList(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	require.NoError(t, s.Put(ctx, "datasets/2", []byte("b")))
	require.NoError(t, s.Put(ctx, "datasets/1", []byte("a")))
	require.NoError(t, s.Put(ctx, "transform", []byte("t")))

	all, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"datasets/1", "datasets/2", "transform"}, all)

	ds, err := s.List(ctx, "datasets/")
	require.NoError(t, err)
	assert.Equal(t, []string{"datasets/1", "datasets/2"}, ds)
}

func TestValidateName(t *testing.T) {
	tests := []struct {
		name    string
		wantErr bool
	}{
		{"transform", false},
		{"datasets/123-abc", false},
		{"", true},
		{"/etc/passwd", true},
		{"../escape", true},
		{"a//b", true},
		{"a/./b", true},
		{`a\b`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateName(tt.name)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidName)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFileStoreConcurrentReadersSeeWholeBlobs(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	a := bytes.Repeat([]byte("a"), 1<<16)
	b := bytes.Repeat([]byte("b"), 1<<17)
	require.NoError(t, s.Put(ctx, "classifier", a))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				blob := a
				if (i+w)%2 == 0 {
					blob = b
				}
				assert.NoError(t, s.Put(ctx, "classifier", blob))
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				got, err := s.Get(ctx, "classifier")
				if !assert.NoError(t, err) {
					return
				}
				assert.True(t, bytes.Equal(got, a) || bytes.Equal(got, b), "partial blob of %d bytes", len(got))
			}
		}()
	}
	wg.Wait()

	names, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"classifier"}, names, "staged files must not linger")
}

func TestCompressed(t *testing.T) {
	ctx := context.Background()
	fs := newFileStore(t)
	c, err := NewCompressed(fs)
	require.NoError(t, err)
	defer c.Close()

	payload := bytes.Repeat([]byte("isolation forest "), 1000)
	require.NoError(t, c.Put(ctx, "iforest", payload))

	raw, err := fs.Get(ctx, "iforest")
	require.NoError(t, err)
	assert.Less(t, len(raw), len(payload))

	got, err := c.Get(ctx, "iforest")
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// blobs written before compression was enabled still load
	require.NoError(t, fs.Put(ctx, "legacy", []byte("plain")))
	got, err = c.Get(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, []byte("plain"), got)

	_, err = c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGob(t *testing.T) {
	type artifact struct {
		Columns []string
		Mean    []float64
	}
	ctx := context.Background()
	s := newFileStore(t)

	in := artifact{Columns: []string{"hour", "rpm"}, Mean: []float64{11.5, 3}}
	require.NoError(t, PutGob(ctx, s, "transform", in))

	var out artifact
	require.NoError(t, GetGob(ctx, s, "transform", &out))
	assert.Equal(t, in, out)

	require.NoError(t, s.Put(ctx, "broken", []byte("not gob")))
	err := GetGob(ctx, s, "broken", &out)
	require.Error(t, err)
	assert.True(t, IsStorageError(err))

	err = GetGob(ctx, s, "absent", &out)
	assert.ErrorIs(t, err, ErrNotFound)
}
