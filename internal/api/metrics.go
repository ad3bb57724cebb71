package api

import (
	"net/http"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
)

// metrics returns GET /metrics — store and uploader counters in Prometheus
// text exposition format, consumable by any standard metrics scraper.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count, _ := h.store.Count()
	st := h.store.Stats()

	fams := []*dto.MetricFamily{
		gauge("pingvault_pings_stored", "Ping files currently in the store.", float64(count)),
		gauge("pingvault_store_capacity", "Configured maximum ping count.", float64(h.capacity)),
		counter("pingvault_pings_written_total", "Pings successfully published to disk.", float64(st.Stored)),
		counter("pingvault_pings_pruned_total", "Pings evicted oldest-first by prune passes.", float64(st.Pruned)),
		counter("pingvault_pings_acknowledged_total", "Pings removed by explicit acknowledgment.", float64(st.Acknowledged)),
		counter("pingvault_corrupt_files_total", "Undecodable ping files seen during enumeration.", float64(st.CorruptFiles)),
		counter("pingvault_write_failures_total", "Put calls that failed to publish a file.", float64(st.WriteFailures)),
		counter("pingvault_delete_failures_total", "File deletions that failed during prune or acknowledge.", float64(st.DeleteFailures)),
	}
	if h.uploader != nil {
		us := h.uploader.Stats()
		fams = append(fams,
			counter("pingvault_uploads_delivered_total", "Pings accepted by the collector.", float64(us.Delivered)),
			counter("pingvault_uploads_rejected_total", "Pings permanently rejected by the collector.", float64(us.Rejected)),
			counter("pingvault_uploads_failed_total", "Send attempts that failed transiently.", float64(us.Failed)),
		)
	}

	format := expfmt.NewFormat(expfmt.TypeTextPlain)
	w.Header().Set("Content-Type", string(format))
	enc := expfmt.NewEncoder(w, format)
	for _, mf := range fams {
		if err := enc.Encode(mf); err != nil {
			return // client went away mid-write
		}
	}
}

func gauge(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_GAUGE.Enum(),
		Metric: []*dto.Metric{{Gauge: &dto.Gauge{Value: ptr(v)}}},
	}
}

func counter(name, help string, v float64) *dto.MetricFamily {
	return &dto.MetricFamily{
		Name:   ptr(name),
		Help:   ptr(help),
		Type:   dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{Counter: &dto.Counter{Value: ptr(v)}}},
	}
}

func ptr[T any](v T) *T { return &v }
