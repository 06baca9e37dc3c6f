// Package metrics exposes Prometheus collectors for the processing pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsight_submissions_total",
		Help: "Pipeline runs by terminal status.",
	}, []string{"status"})

	FramesSampled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadsight_frames_sampled_total",
		Help: "Frames extracted and dispatched to the detector.",
	})

	DetectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadsight_detections_total",
		Help: "Detections above the confidence threshold.",
	})

	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "roadsight_resolutions_total",
		Help: "Deduplication outcomes.",
	}, []string{"outcome"}) // "new" or "matched"

	EvidenceWriteErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "roadsight_evidence_write_errors_total",
		Help: "Recoverable evidence store failures.",
	})
)

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
