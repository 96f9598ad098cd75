package service

import (
	"context"
	"sort"
	"time"
)

// TopIPLimit is the number of sources listed in a report.
const TopIPLimit = 10

// IPCount is the event count of one source IP.
type IPCount struct {
	IP     string `json:"ip"`
	Events int    `json:"events"`
}

// MinuteScore is the mean anomaly score of one minute.
type MinuteScore struct {
	Minute    time.Time `json:"minute"`
	MeanScore float64   `json:"mean_score"`
	Events    int       `json:"events"`
}

// Report summarizes the latest dataset for the dashboard.
type Report struct {
	Dataset     string        `json:"dataset"`
	GeneratedAt time.Time     `json:"generated_at"`
	IP          string        `json:"ip,omitempty"`
	Records     int           `json:"records"`
	Scored      bool          `json:"scored"`
	TopIPs      []IPCount     `json:"top_ips"`
	Timeline    []MinuteScore `json:"timeline"`
}

// Report aggregates event counts per source over the whole batch and the
// mean anomaly score per minute, restricted to ip when given.
func (s *Service) Report(ctx context.Context, ip string) (Report, error) {
	ds, err := s.LatestDataset(ctx)
	if err != nil {
		return Report{}, err
	}
	sc, err := s.score(ctx, ds.Records, false)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Dataset:     ds.Name,
		GeneratedAt: time.Now().UTC(),
		IP:          ip,
		Records:     len(ds.Records),
		Scored:      sc.anomaly != nil,
		TopIPs:      []IPCount{},
		Timeline:    []MinuteScore{},
	}

	counts := make(map[string]int)
	type acc struct {
		minute time.Time
		sum    float64
		n      int
	}
	byMinute := make(map[int64]*acc)
	for i := range ds.Records {
		rec := &ds.Records[i]
		counts[rec.SourceIP]++

		if ip != "" && rec.SourceIP != ip {
			continue
		}
		key := rec.Minute.Unix()
		a, ok := byMinute[key]
		if !ok {
			a = &acc{minute: rec.Minute}
			byMinute[key] = a
		}
		if sc.anomaly != nil {
			a.sum += sc.anomaly[i]
		}
		a.n++
	}

	for addr, n := range counts {
		rep.TopIPs = append(rep.TopIPs, IPCount{IP: addr, Events: n})
	}
	sort.Slice(rep.TopIPs, func(a, b int) bool {
		if rep.TopIPs[a].Events != rep.TopIPs[b].Events {
			return rep.TopIPs[a].Events > rep.TopIPs[b].Events
		}
		return rep.TopIPs[a].IP < rep.TopIPs[b].IP
	})
	if len(rep.TopIPs) > TopIPLimit {
		rep.TopIPs = rep.TopIPs[:TopIPLimit]
	}

	for _, a := range byMinute {
		rep.Timeline = append(rep.Timeline, MinuteScore{
			Minute:    a.minute,
			MeanScore: a.sum / float64(a.n),
			Events:    a.n,
		})
	}
	sort.Slice(rep.Timeline, func(a, b int) bool {
		return rep.Timeline[a].Minute.Before(rep.Timeline[b].Minute)
	})
	return rep, nil
}
