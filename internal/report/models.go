package report

import (
	"time"

	"github.com/google/uuid"

	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/severity"
)

const (
	SubmissionPending    = "pending"
	SubmissionProcessing = "processing"
	SubmissionComplete   = "complete"
	SubmissionFailed     = "failed"

	StageSampling   = "sampling"
	StageDetecting  = "detecting"
	StageResolving  = "resolving"
	StageFinalizing = "finalizing"

	// Review status, written by the dashboard. The pipeline only ever
	// creates records as "reported".
	DefectReported  = "reported"
	DefectConfirmed = "confirmed"
	DefectDismissed = "dismissed"
)

// DefectRecord is the durable, deduplicated entity: one row per physical
// defect. Severity is monotonically non-decreasing over its lifetime.
type DefectRecord struct {
	ID               string       `json:"id"`
	Location         geo.Location `json:"location"`
	Cell             string       `json:"-"`
	Severity         severity.Label `json:"severity"`
	Status           string       `json:"status"`
	ImageRef         string       `json:"image_reference,omitempty"`
	ObservationCount int          `json:"observation_count"`
	FirstSeenAt      time.Time    `json:"first_seen_at"`
	LastSeenAt       time.Time    `json:"last_seen_at"`
}

// Observation is one detection elevated to candidate-record status.
// Immutable after creation; DefectID is filled in when the resolver binds
// it to the record it created or matched.
type Observation struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	DefectID     string         `json:"defect_id"`
	Location     geo.Location   `json:"location"`
	Severity     severity.Label `json:"severity"`
	Confidence   float64        `json:"confidence"`
	FrameIndex   int            `json:"frame_index"`
	ImageRef     string         `json:"image_reference,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Submission is one user-facing pipeline run.
type Submission struct {
	ID           string       `json:"id"`
	VideoPath    string       `json:"video_path"`
	Location     geo.Location `json:"location"`
	Status       string       `json:"status"`
	Stage        string       `json:"stage,omitempty"`
	Error        string       `json:"error,omitempty"`
	DefectsFound int          `json:"defects_found"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// ValidDefectStatus reports whether s is a status the dashboard may set.
func ValidDefectStatus(s string) bool {
	return s == DefectReported || s == DefectConfirmed || s == DefectDismissed
}

func NewID() string {
	return uuid.NewString()
}
