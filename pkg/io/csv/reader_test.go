package csv

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/logids/pkg/record"
)

const header = "timestamp,source_ip,method,path,status,user_agent\n"

func TestReadSingleRow(t *testing.T) {
	recs, err := NewReader(strings.NewReader(header + "2025-01-01 00:00:00,10.0.0.1,GET,/,200,Mozilla/5.0\n")).Read()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	rec := recs[0]
	require.NotNil(t, rec.Timestamp)
	assert.True(t, rec.Timestamp.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, "10.0.0.1", rec.SourceIP)
	assert.Equal(t, "GET", rec.Method)
	assert.Equal(t, "/", rec.Path)
	assert.Equal(t, 200, rec.Status)
	assert.Equal(t, "Mozilla/5.0", rec.UserAgent)
}

func TestReadCoercion(t *testing.T) {
	tests := []struct {
		name       string
		row        string
		wantStatus int
		wantTime   bool
	}{
		{name: "unparseable status", row: "2025-01-01 00:00:00,1.2.3.4,GET,/,abc,x", wantStatus: 0, wantTime: true},
		{name: "float status", row: "2025-01-01 00:00:00,1.2.3.4,GET,/,404.0,x", wantStatus: 404, wantTime: true},
		{name: "unparseable timestamp", row: "not-a-date,1.2.3.4,GET,/,200,x", wantStatus: 200, wantTime: false},
		{name: "empty timestamp", row: ",1.2.3.4,GET,/,200,x", wantStatus: 200, wantTime: false},
		{name: "rfc3339 timestamp", row: "2025-01-01T10:11:12Z,1.2.3.4,GET,/,200,x", wantStatus: 200, wantTime: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := NewReader(strings.NewReader(header + tt.row + "\n")).Read()
			require.NoError(t, err)
			require.Len(t, recs, 1)
			assert.Equal(t, tt.wantStatus, recs[0].Status)
			assert.Equal(t, tt.wantTime, recs[0].Timestamp != nil)
		})
	}
}

func TestReadExtraColumnsIgnored(t *testing.T) {
	input := "referrer,user_agent,status,path,method,source_ip,timestamp\n" +
		"-,curl/7.68.0,503,/api,POST,8.8.8.8,2025-01-01 00:00:00\n"
	recs, err := NewReader(strings.NewReader(input)).Read()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "POST", recs[0].Method)
	assert.Equal(t, 503, recs[0].Status)
	assert.Equal(t, "curl/7.68.0", recs[0].UserAgent)
}

func TestReadMissingColumn(t *testing.T) {
	_, err := NewReader(strings.NewReader("timestamp,source_ip,method,path,status\n")).Read()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMissingColumn))
	assert.Contains(t, err.Error(), "user_agent")
}

func TestReadLabels(t *testing.T) {
	input := "timestamp,source_ip,label\n" +
		"2025-01-01 00:00:00,10.0.0.1,1\n" +
		"garbage,10.0.0.2,1\n" +
		"2025-01-01 00:00:01,10.0.0.3,0\n"

	labels, err := ReadLabels(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, labels, 2)
	assert.Equal(t, 1, labels[0].Label)
	assert.Equal(t, "10.0.0.3", labels[1].SourceIP)

	_, err = ReadLabels(strings.NewReader("timestamp,source_ip,label\n2025-01-01 00:00:00,10.0.0.1,7\n"))
	assert.Error(t, err)

	_, err = ReadLabels(strings.NewReader("timestamp,label\n"))
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestWriteAll(t *testing.T) {
	semi := 0.75
	rows := []record.AlertRow{
		{
			Timestamp:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			SourceIP:        "203.0.113.55",
			Path:            "/etc/passwd",
			Status:          500,
			AnomalyScore:    1,
			IsAnomaly:       true,
			SupervisedScore: &semi,
			Reasons:         []string{"rare_path", "server_errors"},
		},
		{
			Timestamp: time.Date(2025, 1, 1, 0, 0, 1, 0, time.UTC),
			SourceIP:  "10.0.0.1",
			Path:      "/",
			Status:    200,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, NewWriter(&buf).WriteAll(rows))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, strings.Join(AlertColumns, ","), lines[0])
	assert.Equal(t, "2025-01-01T00:00:00Z,203.0.113.55,/etc/passwd,500,1.000000,true,0.750000,rare_path;server_errors", lines[1])
	assert.Equal(t, "2025-01-01T00:00:01Z,10.0.0.1,/,200,0.000000,false,,", lines[2])
}

func TestWriteLogsRoundTrip(t *testing.T) {
	at := time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)
	recs := []record.LogRecord{
		{Timestamp: &at, SourceIP: "10.0.0.1", Method: "POST", Path: "/login", Status: 401, UserAgent: "curl/7.68.0"},
		{SourceIP: "10.0.0.2", Method: "GET", Path: "/search?q=a,b", Status: 200, UserAgent: "Mozilla/5.0 (X11, Linux)"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteLogs(&buf, recs))

	got, err := NewReader(&buf).Read()
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.NotNil(t, got[0].Timestamp)
	assert.True(t, at.Equal(*got[0].Timestamp))
	assert.Nil(t, got[1].Timestamp)
	assert.Equal(t, recs[0].Path, got[0].Path)
	assert.Equal(t, recs[1].Path, got[1].Path)
	assert.Equal(t, recs[1].UserAgent, got[1].UserAgent)
	assert.Equal(t, 401, got[0].Status)
}
