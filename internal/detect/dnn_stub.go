//go:build !gocv
// +build !gocv

package detect

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roadsight/roadsight/internal/video"
)

// DNNDetector is a stub compiled without the gocv build tag.
type DNNDetector struct {
	threshold float64
	logger    *slog.Logger
}

// NewDNNDetector succeeds so the server can start; Detect reports the model
// unavailable, which fails the affected run.
func NewDNNDetector(modelPath, configPath string, classes []string, threshold float64, logger *slog.Logger) (*DNNDetector, error) {
	_ = modelPath
	_ = configPath
	_ = classes
	if logger != nil {
		logger.Warn("built without gocv, detection disabled")
	}
	return &DNNDetector{threshold: threshold, logger: logger}, nil
}

func (d *DNNDetector) Detect(ctx context.Context, frame *video.Frame) ([]Detection, error) {
	_ = ctx
	_ = frame
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrModelUnavailable)
}

func (d *DNNDetector) Close() error {
	return nil
}
