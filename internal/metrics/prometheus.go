package metrics

import (
	"fmt"
	"maps"
	"net/http"
	"slices"
	"strings"
)

const promMetricName = "teleop_console_events_total"

var labelEscaper = strings.NewReplacer("\\", "\\\\", "\"", "\\\"", "\n", "\\n")

// PrometheusHandler exposes Metrics in Prometheus' text exposition format as a
// single counter family with an `event` label.
func PrometheusHandler(m *Metrics) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m == nil {
			http.Error(w, "metrics not configured", http.StatusInternalServerError)
			return
		}

		snap := m.Snapshot()
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		_, _ = fmt.Fprintln(w, "# HELP "+promMetricName+" Console negotiation and session event counters.")
		_, _ = fmt.Fprintln(w, "# TYPE "+promMetricName+" counter")
		for _, k := range slices.Sorted(maps.Keys(snap)) {
			_, _ = fmt.Fprintf(w, "%s{event=\"%s\"} %d\n", promMetricName, labelEscaper.Replace(k), snap[k])
		}
	})
}
