package api

import (
	"time"

	"github.com/roadsight/roadsight/internal/report"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type DefectResponse struct {
	ID               string  `json:"id"`
	Latitude         float64 `json:"latitude"`
	Longitude        float64 `json:"longitude"`
	Severity         string  `json:"severity"`
	Status           string  `json:"status"`
	ImageReference   string  `json:"imageReference,omitempty"`
	ObservationCount int     `json:"observation_count"`
	FirstSeenAt      string  `json:"first_seen_at"`
	LastSeenAt       string  `json:"last_seen_at"`
}

type DefectsResponse struct {
	Defects []DefectResponse `json:"defects"`
}

type UpdateDefectStatusRequest struct {
	Status string `json:"status"`
}

type SubmissionResponse struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Stage        string `json:"stage,omitempty"`
	Error        string `json:"error,omitempty"`
	DefectsFound int    `json:"defects_found"`
	CreatedAt    string `json:"created_at"`
	UpdatedAt    string `json:"updated_at"`
}

type SubmissionsResponse struct {
	Submissions []SubmissionResponse `json:"submissions"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func DefectToResponse(d *report.DefectRecord) DefectResponse {
	return DefectResponse{
		ID:               d.ID,
		Latitude:         d.Location.Lat,
		Longitude:        d.Location.Lon,
		Severity:         string(d.Severity),
		Status:           d.Status,
		ImageReference:   d.ImageRef,
		ObservationCount: d.ObservationCount,
		FirstSeenAt:      d.FirstSeenAt.UTC().Format(time.RFC3339),
		LastSeenAt:       d.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

func SubmissionToResponse(s *report.Submission) SubmissionResponse {
	return SubmissionResponse{
		ID:           s.ID,
		Status:       s.Status,
		Stage:        s.Stage,
		Error:        s.Error,
		DefectsFound: s.DefectsFound,
		CreatedAt:    s.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:    s.UpdatedAt.UTC().Format(time.RFC3339),
	}
}
