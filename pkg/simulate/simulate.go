// Package simulate generates synthetic access logs with injected attack
// traffic from a single source.
package simulate

import (
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/hed1ad/logids/pkg/io/csv"
	"github.com/hed1ad/logids/pkg/record"
)

// AttackerIP is the source of all injected attack requests.
const AttackerIP = "203.0.113.55"

// LinesPerSecond is the request cadence of generated traffic.
const LinesPerSecond = 5

var (
	methods = []string{"GET", "POST", "HEAD", "PUT", "DELETE"}
	paths   = []string{
		"/", "/login", "/admin", "/api/data", "/wp-admin", "/search?q=test",
		"/config.php", "/.env", "/api/auth", "/api/v1/items",
	}
	attackPaths = []string{"/etc/passwd", "/admin/login", "/wp-login.php", "/phpmyadmin/"}
	userAgents  = []string{
		"Mozilla/5.0", "curl/7.68.0", "sqlmap/1.4", "Mozilla/5.0 (bot)", "python-requests/2.31.0",
	}
	attackStatuses = []int{200, 401, 403, 404, 500}
)

// Config controls a generated batch.
type Config struct {
	Lines      int
	AttackRate float64
	Seed       int64
	Start      time.Time
}

// DefaultConfig returns 5000 lines with a 0.5% attack rate.
func DefaultConfig() Config {
	return Config{
		Lines:      5000,
		AttackRate: 0.005,
		Seed:       42,
	}
}

// Generate returns cfg.Lines records. A zero Start means now, truncated to
// the second.
func Generate(cfg Config) []record.LogRecord {
	rng := rand.New(rand.NewSource(cfg.Seed))
	start := cfg.Start
	if start.IsZero() {
		start = time.Now().UTC().Truncate(time.Second)
	}

	out := make([]record.LogRecord, cfg.Lines)
	for i := range out {
		ts := start.Add(time.Duration(i/LinesPerSecond) * time.Second)
		rec := record.LogRecord{Timestamp: &ts}

		if rng.Float64() < cfg.AttackRate {
			rec.SourceIP = AttackerIP
			rec.Path = pick(rng, paths, attackPaths)
			rec.Method = methods[rng.Intn(2)]
			rec.Status = attackStatuses[rng.Intn(len(attackStatuses))]
			if rng.Float64() < 0.6 {
				rec.UserAgent = "sqlmap/1.4"
			} else {
				rec.UserAgent = "Mozilla/5.0 (bot)"
			}
		} else {
			if rng.Float64() < 0.7 {
				rec.SourceIP = privateIP(rng)
			} else {
				rec.SourceIP = publicIP(rng)
			}
			rec.Path = paths[rng.Intn(len(paths))]
			rec.Method = methods[rng.Intn(len(methods))]
			rec.Status = benignStatus(rng)
			rec.UserAgent = userAgents[rng.Intn(len(userAgents))]
		}
		out[i] = rec
	}
	return out
}

// WriteCSV generates a batch and writes it in the log CSV shape.
func WriteCSV(w io.Writer, cfg Config) error {
	return csv.WriteLogs(w, Generate(cfg))
}

func pick(rng *rand.Rand, lists ...[]string) string {
	var n int
	for _, l := range lists {
		n += len(l)
	}
	i := rng.Intn(n)
	for _, l := range lists {
		if i < len(l) {
			return l[i]
		}
		i -= len(l)
	}
	return ""
}

func privateIP(rng *rand.Rand) string {
	return fmt.Sprintf("10.%d.%d.%d", rng.Intn(256), rng.Intn(256), 1+rng.Intn(254))
}

func publicIP(rng *rand.Rand) string {
	return fmt.Sprintf("%d.%d.%d.%d", 1+rng.Intn(223), 1+rng.Intn(223), 1+rng.Intn(223), 1+rng.Intn(223))
}

// benignStatus draws 200/404/401/500 with weights 80/10/6/4.
func benignStatus(rng *rand.Rand) int {
	switch p := rng.Float64(); {
	case p < 0.80:
		return 200
	case p < 0.90:
		return 404
	case p < 0.96:
		return 401
	default:
		return 500
	}
}
