// Package severity buckets detections into discrete severity labels from
// their geometry and confidence.
package severity

import "github.com/roadsight/roadsight/internal/detect"

// Label is a discrete severity bucket, ordered Low < Medium < High.
type Label string

const (
	Low    Label = "low"
	Medium Label = "medium"
	High   Label = "high"
)

// Rank returns the label's position in the severity order. Unknown labels
// rank below Low so corrupt store values can never mask an upgrade.
func (l Label) Rank() int {
	switch l {
	case Low:
		return 1
	case Medium:
		return 2
	case High:
		return 3
	default:
		return 0
	}
}

// Valid reports whether l is one of the defined labels.
func (l Label) Valid() bool {
	return l == Low || l == Medium || l == High
}

// Thresholds on the weighted score. A box covering 5% of the frame at full
// confidence is High, 1% is Medium.
const (
	highScore   = 0.05
	mediumScore = 0.01
)

// Confidence scales the area ratio between these two factors, so a
// low-confidence hit needs a proportionally larger box for the same label.
const (
	minConfidenceWeight = 0.6
	maxConfidenceWeight = 1.0
)

// Estimate maps a detection to a severity label. It is monotonic: for fixed
// confidence a larger box never yields a lower label, and for a fixed box a
// higher confidence never yields a lower label.
func Estimate(d detect.Detection, frameWidth, frameHeight int) Label {
	frameArea := frameWidth * frameHeight
	if frameArea <= 0 {
		return Low
	}

	boxArea := d.Box.Dx() * d.Box.Dy()
	areaRatio := float64(boxArea) / float64(frameArea)

	conf := d.Confidence
	if conf < 0 {
		conf = 0
	}
	if conf > 1 {
		conf = 1
	}

	score := areaRatio * (minConfidenceWeight + (maxConfidenceWeight-minConfidenceWeight)*conf)

	switch {
	case score > highScore:
		return High
	case score > mediumScore:
		return Medium
	default:
		return Low
	}
}

// Max returns the higher of two labels.
func Max(a, b Label) Label {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}
