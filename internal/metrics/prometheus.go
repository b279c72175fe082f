package metrics

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/samber/lo"
)

const eventsMetric = "aero_call_signaling_events_total"

// Gauge is a point-in-time value sampled on every scrape.
type Gauge struct {
	Name  string
	Help  string
	Value func() int
}

// PrometheusHandler exposes the event counters as one counter family with an
// `event` label, followed by any gauges, in Prometheus' text format.
func PrometheusHandler(m *Metrics, gauges ...Gauge) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		keys := lo.Keys(snap)
		slices.Sort(keys)

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintf(w, "# HELP %s Signaling relay event counters.\n", eventsMetric)
		_, _ = fmt.Fprintf(w, "# TYPE %s counter\n", eventsMetric)
		escaper := strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")
		for _, k := range keys {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", eventsMetric, escaper.Replace(k), snap[k])
		}

		for _, g := range gauges {
			if g.Value == nil {
				continue
			}
			_, _ = fmt.Fprintf(w, "# HELP %s %s\n", g.Name, g.Help)
			_, _ = fmt.Fprintf(w, "# TYPE %s gauge\n", g.Name)
			_, _ = fmt.Fprintf(w, "%s %d\n", g.Name, g.Value())
		}
	})
}
