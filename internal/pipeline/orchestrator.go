// Package pipeline coordinates one submission's run: frame sampling,
// detection dispatch, severity scoring, geospatial deduplication and report
// assembly.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/evidence"
	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/metrics"
	"github.com/roadsight/roadsight/internal/report"
	"github.com/roadsight/roadsight/internal/severity"
	"github.com/roadsight/roadsight/internal/video"
)

// Report is the result of one completed run: the unique records this
// submission created or matched, never raw per-frame detections.
type Report struct {
	SubmissionID      string        `json:"submission_id"`
	TotalDefectsFound int           `json:"totalDefectsFound"`
	Details           []ReportEntry `json:"details"`
}

// ReportEntry describes one record touched by the run.
type ReportEntry struct {
	DefectID       string         `json:"defect_id"`
	Location       geo.Location   `json:"location"`
	Severity       severity.Label `json:"severity"`
	ImageReference string         `json:"imageReference,omitempty"`
	New            bool           `json:"new"`
}

// Notifier receives submission status transitions, e.g. for the websocket
// hub. Implementations must not block.
type Notifier func(submissionID, status, stage string)

type Config struct {
	Repo        report.Repository
	Resolver    *report.Resolver
	Detector    detect.Detector
	Evidence    *evidence.Store
	Open        video.Opener
	FrameStride int
	Workers     int
	Logger      *slog.Logger
	Notify      Notifier
}

// Orchestrator runs submissions through the pipeline state machine with a
// bounded worker pool sized to model-inference capacity.
type Orchestrator struct {
	repo     report.Repository
	resolver *report.Resolver
	detector detect.Detector
	evidence *evidence.Store
	open     video.Opener
	stride   int
	sem      chan struct{}
	logger   *slog.Logger
	notify   Notifier
}

func New(cfg Config) *Orchestrator {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	stride := cfg.FrameStride
	if stride < 1 {
		stride = 1
	}
	open := cfg.Open
	if open == nil {
		open = video.Open
	}
	return &Orchestrator{
		repo:     cfg.Repo,
		resolver: cfg.Resolver,
		detector: cfg.Detector,
		evidence: cfg.Evidence,
		open:     open,
		stride:   stride,
		sem:      make(chan struct{}, workers),
		logger:   cfg.Logger,
		notify:   cfg.Notify,
	}
}

// Submit runs the pipeline for one video and blocks until the run reaches a
// terminal state. Runs for different submissions proceed concurrently up to
// the worker pool limit. Cancelling ctx stops the run at the next frame
// boundary; records already committed stand.
func (o *Orchestrator) Submit(ctx context.Context, videoPath string, loc geo.Location) (*Report, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}

	now := time.Now()
	sub := &report.Submission{
		ID:        report.NewID(),
		VideoPath: videoPath,
		Location:  loc,
		Status:    report.SubmissionPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.repo.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to create submission: %w", err)
	}
	o.emit(sub.ID, report.SubmissionPending, "")

	select {
	case o.sem <- struct{}{}:
	case <-ctx.Done():
		o.fail(sub.ID, ctx.Err())
		return nil, ctx.Err()
	}
	defer func() { <-o.sem }()

	if err := o.repo.UpdateSubmissionStatus(ctx, sub.ID, report.SubmissionProcessing, ""); err != nil {
		return nil, fmt.Errorf("failed to mark submission processing: %w", err)
	}
	o.emit(sub.ID, report.SubmissionProcessing, "")

	log := o.logger
	if log != nil {
		log = log.With("submission_id", sub.ID)
		log.Info("pipeline run started", "video", videoPath, "lat", loc.Lat, "lon", loc.Lon)
	}

	rep, err := o.run(ctx, sub, log)
	if err != nil {
		if log != nil {
			log.Error("pipeline run failed", "error", err)
		}
		o.fail(sub.ID, err)
		metrics.SubmissionsTotal.WithLabelValues(report.SubmissionFailed).Inc()
		return nil, err
	}

	if err := o.repo.UpdateSubmissionResult(ctx, sub.ID, rep.TotalDefectsFound); err != nil && log != nil {
		log.Warn("failed to record submission result", "error", err)
	}
	if err := o.repo.UpdateSubmissionStatus(ctx, sub.ID, report.SubmissionComplete, ""); err != nil && log != nil {
		log.Warn("failed to mark submission complete", "error", err)
	}
	o.emit(sub.ID, report.SubmissionComplete, "")
	metrics.SubmissionsTotal.WithLabelValues(report.SubmissionComplete).Inc()

	if log != nil {
		log.Info("pipeline run complete", "defects_found", rep.TotalDefectsFound)
	}
	return rep, nil
}

// run executes the per-frame loop. On any error the accumulated report is
// discarded: the caller gets all-or-nothing results.
func (o *Orchestrator) run(ctx context.Context, sub *report.Submission, log *slog.Logger) (*Report, error) {
	o.setStage(ctx, sub.ID, report.StageSampling)

	src, err := o.open(sub.VideoPath, o.stride)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	touched := make(map[string]*ReportEntry)
	var order []string
	frames := 0
	stage := report.StageSampling

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		frame, err := src.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		frames++
		metrics.FramesSampled.Inc()

		// Sampling and detection interleave per frame so only one decoded
		// frame is in memory at a time.
		if stage != report.StageDetecting {
			stage = report.StageDetecting
			o.setStage(ctx, sub.ID, stage)
		}

		dets, err := o.detector.Detect(ctx, frame)
		if err != nil {
			return nil, err
		}

		for _, det := range dets {
			metrics.DetectionsTotal.Inc()

			if stage != report.StageResolving {
				stage = report.StageResolving
				o.setStage(ctx, sub.ID, stage)
			}

			obs := o.buildObservation(sub, det, frame, log)
			res, err := o.resolver.Resolve(ctx, obs)
			if err != nil {
				return nil, err
			}

			outcome := "matched"
			if res.Created {
				outcome = "new"
			}
			metrics.ResolutionsTotal.WithLabelValues(outcome).Inc()

			entry, seen := touched[res.Record.ID]
			if !seen {
				entry = &ReportEntry{DefectID: res.Record.ID, New: res.Created}
				touched[res.Record.ID] = entry
				order = append(order, res.Record.ID)
			}
			entry.Location = res.Record.Location
			entry.Severity = res.Record.Severity
			entry.ImageReference = res.Record.ImageRef
		}
	}

	if frames == 0 {
		return nil, video.ErrEmptyStream
	}

	o.setStage(ctx, sub.ID, report.StageFinalizing)

	rep := &Report{
		SubmissionID:      sub.ID,
		TotalDefectsFound: len(order),
		Details:           make([]ReportEntry, 0, len(order)),
	}
	for _, id := range order {
		rep.Details = append(rep.Details, *touched[id])
	}
	return rep, nil
}

// buildObservation elevates one detection to candidate-record status. An
// evidence write failure downgrades the observation to "no image" rather
// than failing the run.
func (o *Orchestrator) buildObservation(sub *report.Submission, det detect.Detection, frame *video.Frame, log *slog.Logger) *report.Observation {
	obsID := report.NewID()

	imageRef := ""
	if o.evidence != nil {
		ref, err := o.evidence.Save(frame.Image, det.Box, obsID)
		if err != nil {
			metrics.EvidenceWriteErrors.Inc()
			if log != nil {
				log.Warn("evidence write failed, observation continues without image",
					"observation_id", obsID, "error", err)
			}
		} else {
			imageRef = ref
		}
	}

	return &report.Observation{
		ID:           obsID,
		SubmissionID: sub.ID,
		Location:     sub.Location,
		Severity:     severity.Estimate(det, frame.Width, frame.Height),
		Confidence:   det.Confidence,
		FrameIndex:   det.FrameIndex,
		ImageRef:     imageRef,
		CreatedAt:    time.Now(),
	}
}

func (o *Orchestrator) setStage(ctx context.Context, id, stage string) {
	if err := o.repo.UpdateSubmissionStage(ctx, id, stage); err != nil && o.logger != nil {
		o.logger.Warn("failed to update submission stage", "submission_id", id, "stage", stage, "error", err)
	}
	o.emit(id, report.SubmissionProcessing, stage)
}

// fail marks the submission failed. A background context is used so the
// terminal state is recorded even when the run was cancelled.
func (o *Orchestrator) fail(id string, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if err := o.repo.UpdateSubmissionStatus(ctx, id, report.SubmissionFailed, msg); err != nil && o.logger != nil {
		o.logger.Error("failed to mark submission failed", "submission_id", id, "error", err)
	}
	o.emit(id, report.SubmissionFailed, "")
}

func (o *Orchestrator) emit(id, status, stage string) {
	if o.notify != nil {
		o.notify(id, status, stage)
	}
}
