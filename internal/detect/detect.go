// Package detect wraps the road-defect detection model behind a capability
// interface so the orchestrator never depends on a concrete model runtime.
package detect

import (
	"context"
	"errors"
	"image"
	"sort"
	"time"

	"github.com/roadsight/roadsight/internal/video"
)

// ErrModelUnavailable means the underlying model could not be loaded or
// invoked. It is fatal for a pipeline run.
var ErrModelUnavailable = errors.New("detection model unavailable")

// Detection is one model hit on a single frame, in pixel space.
type Detection struct {
	Box            image.Rectangle
	Class          string
	Confidence     float64
	FrameIndex     int
	FrameTimestamp time.Duration
}

// Detector runs the model on one frame. Implementations are stateless per
// call; model weights are loaded once at construction and shared read-only.
// Results are ordered by descending confidence and already filtered by the
// adapter's confidence threshold.
type Detector interface {
	Detect(ctx context.Context, frame *video.Frame) ([]Detection, error)
}

// finalize applies the adapter contract to raw model output: drop hits below
// the threshold and order the rest by descending confidence (ties by box
// position so output is deterministic for a fixed frame).
func finalize(dets []Detection, threshold float64) []Detection {
	kept := dets[:0]
	for _, d := range dets {
		if d.Confidence >= threshold {
			kept = append(kept, d)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		if kept[i].Box.Min.X != kept[j].Box.Min.X {
			return kept[i].Box.Min.X < kept[j].Box.Min.X
		}
		return kept[i].Box.Min.Y < kept[j].Box.Min.Y
	})
	return kept
}
