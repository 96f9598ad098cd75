package io

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	csvSample = "timestamp,source_ip,method,path,status,user_agent\n" +
		"2025-01-01 00:00:00,10.0.0.1,GET,/,200,Mozilla/5.0\n" +
		"2025-01-01 00:00:01,8.8.8.8,POST,/login,401,curl/7.68.0\n"

	accessSample = `10.0.0.1 - - [01/Jan/2025:00:00:00 +0000] "GET /index.html HTTP/1.1" 200 512 "-" "Mozilla/5.0"
not a log line
8.8.8.8 - - [01/Jan/2025:00:00:01 +0000] "POST /login HTTP/1.1" 401 - "-" "curl/7.68.0"
`
)

func TestParseBatchShapes(t *testing.T) {
	tests := []struct {
		name      string
		data      []byte
		wantRows  int
		wantError bool
	}{
		{name: "csv", data: []byte(csvSample), wantRows: 2},
		{name: "access log fallback", data: []byte(accessSample), wantRows: 2},
		{name: "csv with missing column falls back and fails", data: []byte("timestamp,source_ip\n2025-01-01,1.1.1.1\n"), wantError: true},
		{name: "empty input", data: nil, wantError: true},
		{name: "garbage", data: []byte("hello\nworld\n"), wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := ParseBatch(tt.data)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, IsFormatError(err), "expected FormatError, got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, b.Records, tt.wantRows)
		})
	}
}

func TestParseAccessLogFields(t *testing.T) {
	b, err := ParseBatch([]byte(accessSample))
	require.NoError(t, err)
	recs := b.Records
	require.Len(t, recs, 2)
	assert.Equal(t, "/index.html", recs[0].Path)
	assert.Equal(t, 401, recs[1].Status)
	assert.Equal(t, "POST", recs[1].Method)
}

func TestParseGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(csvSample))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	b, err := ParseBatch(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, b.Records, 2)
}

func TestParseCorruptGzip(t *testing.T) {
	_, err := ParseBatch([]byte{0x1f, 0x8b, 0x00, 0x01})
	require.Error(t, err)
	assert.True(t, IsFormatError(err))
}

func TestParseBatch(t *testing.T) {
	b, err := ParseBatch([]byte(csvSample))
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, b.Format)
	assert.Len(t, b.Records, 2)
	assert.Zero(t, b.Skipped)

	long := accessSample + strings.Repeat("x", 2<<20) + "\n" + accessSample
	b, err = ParseBatch([]byte(long))
	require.NoError(t, err)
	assert.Equal(t, FormatAccessLog, b.Format)
	assert.Len(t, b.Records, 4)
	assert.Equal(t, 3, b.Skipped)
}

func TestParseFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "access.log")
	require.NoError(t, os.WriteFile(p, []byte(accessSample), 0o600))

	b, err := ParseFile(p)
	require.NoError(t, err)
	assert.Len(t, b.Records, 2)
	assert.Equal(t, FormatAccessLog, b.Format)
	assert.Equal(t, 1, b.Skipped)

	_, err = ParseFile(filepath.Join(t.TempDir(), "missing.log"))
	require.Error(t, err)
	assert.False(t, IsFormatError(err))
}
