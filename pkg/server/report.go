package server

import (
	"bytes"
	"html/template"
	"net/http"
	"strconv"

	"github.com/hed1ad/logids/pkg/service"
)

// barPixels is the width of a full-scale bar in the HTML report.
const barPixels = 300

var reportTemplate = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>logids report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; }
td, th { padding: 2px 8px; text-align: left; }
.bar { background: #c0392b; height: 12px; }
.bar.score { background: #2c3e50; }
</style>
</head>
<body>
<h1>Log anomaly report</h1>
<p>Dataset {{.Dataset}}, {{.Records}} events, generated {{.GeneratedAt}} UTC.</p>
{{if not .Scored}}<p><em>No trained model: anomaly scores are zero.</em></p>{{end}}
<h2>Top source IPs</h2>
<table>
<tr><th>IP</th><th>Events</th><th></th></tr>
{{range .TopIPs}}<tr><td>{{.Label}}</td><td>{{.Value}}</td><td><div class="bar" style="width: {{.Width}}px"></div></td></tr>
{{end}}</table>
<h2>Mean anomaly score per minute{{if .IP}} for {{.IP}}{{end}}</h2>
<table>
<tr><th>Minute</th><th>Score</th><th>Events</th><th></th></tr>
{{range .Timeline}}<tr><td>{{.Label}}</td><td>{{.Value}}</td><td>{{.Events}}</td><td><div class="bar score" style="width: {{.Width}}px"></div></td></tr>
{{end}}</table>
</body>
</html>
`))

type reportBar struct {
	Label  string
	Value  string
	Events int
	Width  int
}

type reportView struct {
	Dataset     string
	Records     int
	GeneratedAt string
	Scored      bool
	IP          string
	TopIPs      []reportBar
	Timeline    []reportBar
}

// barWidth scales v against max onto a barPixels wide bar.
func barWidth(v, max float64) int {
	if max <= 0 {
		return 0
	}
	return int(barPixels * v / max)
}

func newReportView(rep service.Report) reportView {
	view := reportView{
		Dataset:     rep.Dataset,
		Records:     rep.Records,
		GeneratedAt: rep.GeneratedAt.Format("2006-01-02 15:04:05"),
		Scored:      rep.Scored,
		IP:          rep.IP,
	}

	var maxEvents float64
	for _, c := range rep.TopIPs {
		maxEvents = max(maxEvents, float64(c.Events))
	}
	for _, c := range rep.TopIPs {
		view.TopIPs = append(view.TopIPs, reportBar{
			Label:  c.IP,
			Value:  strconv.Itoa(c.Events),
			Events: c.Events,
			Width:  barWidth(float64(c.Events), maxEvents),
		})
	}
	for _, m := range rep.Timeline {
		view.Timeline = append(view.Timeline, reportBar{
			Label:  m.Minute.Format("2006-01-02 15:04"),
			Value:  strconv.FormatFloat(m.MeanScore, 'f', 3, 64),
			Events: m.Events,
			Width:  barWidth(m.MeanScore, 1),
		})
	}
	return view
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Query().Get("format") {
	case "", "html":
	case "pdf":
		s.respondError(w, r, errPDFUnsupported)
		return
	default:
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "format must be html or pdf"})
		return
	}

	rep, err := s.svc.Report(r.Context(), r.URL.Query().Get("ip"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var buf bytes.Buffer
	if err := reportTemplate.Execute(&buf, newReportView(rep)); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}
