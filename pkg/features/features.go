// Package features derives per-request behavioral features from canonical
// log records.
//
// Aggregates (rpm, path_count) are computed within the batch passed to
// Extract, never across calls: the same request extracted as part of a
// different batch may receive different values.
package features

import (
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/hed1ad/logids/pkg/record"
)

var (
	botSignatures     = []string{"bot", "crawl", "spider", "sqlmap", "nikto"}
	browserSignatures = []string{"mozilla", "chrome", "safari", "edge"}

	privatePrefixes = []netip.Prefix{
		netip.MustParsePrefix("10.0.0.0/8"),
		netip.MustParsePrefix("172.16.0.0/12"),
		netip.MustParsePrefix("192.168.0.0/16"),
	}
)

// rateKey buckets by instant, so equal minutes in different zones match.
type rateKey struct {
	ip     string
	minute int64
}

// Extract enriches records. Records without a timestamp are dropped before
// any aggregate is computed. The input slice is not modified.
func Extract(records []record.LogRecord) []record.EnrichedRecord {
	out := make([]record.EnrichedRecord, 0, len(records))
	for _, rec := range records {
		if rec.Timestamp == nil {
			continue
		}
		ts := *rec.Timestamp
		out = append(out, record.EnrichedRecord{
			LogRecord:  rec,
			Hour:       ts.Hour(),
			Minute:     ts.Truncate(time.Minute),
			PathDepth:  PathDepth(rec.Path),
			StatusCat:  StatusCategory(rec.Status),
			UACat:      CategorizeUserAgent(rec.UserAgent),
			IsPrivate:  IsPrivateIP(rec.SourceIP),
			PayloadLen: len([]rune(rec.Path)) + len([]rune(rec.UserAgent)),
		})
	}

	rpm := make(map[rateKey]int)
	paths := make(map[string]int)
	for i := range out {
		rpm[rateKey{ip: out[i].SourceIP, minute: out[i].Minute.Unix()}]++
		paths[out[i].Path]++
	}
	for i := range out {
		out[i].RPM = rpm[rateKey{ip: out[i].SourceIP, minute: out[i].Minute.Unix()}]
		out[i].PathCount = paths[out[i].Path]
	}
	return out
}

// PathDepth counts the non-empty segments of path.
func PathDepth(path string) int {
	depth := 0
	for _, seg := range strings.Split(path, "/") {
		if seg != "" {
			depth++
		}
	}
	return depth
}

// StatusCategory buckets a status code as "<first digit>xx".
func StatusCategory(status int) string {
	return strconv.Itoa(status/100) + "xx"
}

// CategorizeUserAgent returns record.UABot, record.UABrowser or
// record.UAOther. Bot signatures take precedence over browser ones.
func CategorizeUserAgent(ua string) string {
	s := strings.ToLower(ua)
	for _, sig := range botSignatures {
		if strings.Contains(s, sig) {
			return record.UABot
		}
	}
	for _, sig := range browserSignatures {
		if strings.Contains(s, sig) {
			return record.UABrowser
		}
	}
	return record.UAOther
}

// IsPrivateIP reports whether ip is an IPv4 address in an RFC1918 range.
// Unparseable addresses are not private.
func IsPrivateIP(ip string) bool {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range privatePrefixes {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}
