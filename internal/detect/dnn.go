//go:build gocv
// +build gocv

package detect

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"os"
	"strings"

	"gocv.io/x/gocv"

	"github.com/roadsight/roadsight/internal/video"
)

// DNNDetector runs an OpenCV DNN object detection network (SSD-style output
// layout) over sampled frames.
type DNNDetector struct {
	net       gocv.Net
	classes   []string
	threshold float64
	logger    *slog.Logger
}

// NewDNNDetector loads the network once; the returned detector is shared
// read-only across all pipeline runs.
func NewDNNDetector(modelPath, configPath string, classes []string, threshold float64, logger *slog.Logger) (*DNNDetector, error) {
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("%w: model file %s: %v", ErrModelUnavailable, modelPath, err)
	}
	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, fmt.Errorf("%w: config file %s: %v", ErrModelUnavailable, configPath, err)
		}
	}

	net := gocv.ReadNet(modelPath, configPath)
	if net.Empty() {
		return nil, fmt.Errorf("%w: failed to load network from %s", ErrModelUnavailable, modelPath)
	}

	if err := net.SetPreferableBackend(gocv.NetBackendDefault); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	if err := net.SetPreferableTarget(gocv.NetTargetCPU); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	if len(classes) == 0 {
		classes = []string{"pothole"}
	}

	if logger != nil {
		logger.Info("detection network loaded", "model", modelPath, "classes", strings.Join(classes, ","))
	}

	return &DNNDetector{net: net, classes: classes, threshold: threshold, logger: logger}, nil
}

func (d *DNNDetector) Detect(ctx context.Context, frame *video.Frame) ([]Detection, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	mat, err := gocv.ImageToMatRGB(frame.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to convert frame %d: %w", frame.Index, err)
	}
	defer mat.Close()

	if mat.Empty() {
		return nil, fmt.Errorf("frame %d is empty", frame.Index)
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(416, 416), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	output := d.net.Forward("")
	defer output.Close()

	// SSD output layout: [1,1,N,7] rows of
	// (batch, classID, confidence, x1, y1, x2, y2) with normalized corners.
	rows := output.Reshape(1, int(output.Total())/7)
	defer rows.Close()

	var dets []Detection
	for i := 0; i < rows.Rows(); i++ {
		confidence := float64(rows.GetFloatAt(i, 2))
		if confidence <= 0 {
			continue
		}

		classID := int(rows.GetFloatAt(i, 1))
		x1 := int(rows.GetFloatAt(i, 3) * float32(frame.Width))
		y1 := int(rows.GetFloatAt(i, 4) * float32(frame.Height))
		x2 := int(rows.GetFloatAt(i, 5) * float32(frame.Width))
		y2 := int(rows.GetFloatAt(i, 6) * float32(frame.Height))

		box := image.Rect(x1, y1, x2, y2).Intersect(image.Rect(0, 0, frame.Width, frame.Height))
		if box.Empty() {
			continue
		}

		dets = append(dets, Detection{
			Box:            box,
			Class:          d.className(classID),
			Confidence:     confidence,
			FrameIndex:     frame.Index,
			FrameTimestamp: frame.Timestamp,
		})
	}

	return finalize(dets, d.threshold), nil
}

func (d *DNNDetector) className(id int) string {
	if id >= 0 && id < len(d.classes) {
		return d.classes[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Close releases the network.
func (d *DNNDetector) Close() error {
	return d.net.Close()
}
