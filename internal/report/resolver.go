package report

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roadsight/roadsight/internal/geo"
)

// Resolution is the outcome of deduplicating one observation.
type Resolution struct {
	Record  *DefectRecord
	Created bool
}

// Resolver decides whether a candidate observation is a new physical defect
// or a repeat sighting of a recorded one. The query-then-write step is
// serialized per spatial neighborhood via grid-cell advisory locks, so two
// concurrent observations of the same new defect cannot both be classified
// as new.
type Resolver struct {
	repo    Repository
	grid    geo.Grid
	locks   *geo.RegionLock
	radiusM float64
	logger  *slog.Logger
}

func NewResolver(repo Repository, radiusM float64, logger *slog.Logger) *Resolver {
	return &Resolver{
		repo:    repo,
		grid:    geo.NewGrid(radiusM),
		locks:   geo.NewRegionLock(),
		radiusM: radiusM,
		logger:  logger,
	}
}

// Resolve binds obs to the record it creates or matches, persists the
// observation, and returns the touched record. obs.DefectID is filled in.
func (r *Resolver) Resolve(ctx context.Context, obs *Observation) (*Resolution, error) {
	unlock := r.locks.Lock(r.grid.Neighborhood(obs.Location))
	defer unlock()

	matches, err := r.repo.FindDefectsNear(ctx, obs.Location, r.radiusM)
	if err != nil {
		return nil, fmt.Errorf("radius query failed: %w", err)
	}

	if len(matches) == 0 {
		rec := &DefectRecord{
			ID:               NewID(),
			Location:         obs.Location,
			Cell:             r.grid.Cell(obs.Location),
			Severity:         obs.Severity,
			Status:           DefectReported,
			ImageRef:         obs.ImageRef,
			ObservationCount: 1,
			FirstSeenAt:      obs.CreatedAt,
			LastSeenAt:       obs.CreatedAt,
		}
		if err := r.repo.CreateDefect(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to create defect record: %w", err)
		}

		obs.DefectID = rec.ID
		if err := r.repo.CreateObservation(ctx, obs); err != nil {
			return nil, fmt.Errorf("failed to persist observation: %w", err)
		}
		return &Resolution{Record: rec, Created: true}, nil
	}

	// Overlapping radii: take the nearest, ties broken by earliest
	// first-seen. FindDefectsNear already orders that way.
	best := matches[0]
	if len(matches) > 1 && r.logger != nil {
		r.logger.Warn("ambiguous radius query, matched nearest record",
			"candidates", len(matches), "matched", best.ID,
			"lat", obs.Location.Lat, "lon", obs.Location.Lon)
	}

	// Severity never downgrades; the evidence image follows a severity
	// upgrade, and otherwise only fills a missing reference.
	newSeverity := best.Severity
	newImage := best.ImageRef
	if obs.Severity.Rank() > best.Severity.Rank() {
		newSeverity = obs.Severity
		if obs.ImageRef != "" {
			newImage = obs.ImageRef
		}
	}
	if newImage == "" {
		newImage = obs.ImageRef
	}

	lastSeen := obs.CreatedAt
	if lastSeen.Before(best.LastSeenAt) {
		lastSeen = best.LastSeenAt
	}

	if err := r.repo.UpdateDefectMatch(ctx, best.ID, newSeverity, newImage, best.ObservationCount+1, lastSeen); err != nil {
		return nil, fmt.Errorf("failed to update defect record: %w", err)
	}

	best.Severity = newSeverity
	best.ImageRef = newImage
	best.ObservationCount++
	best.LastSeenAt = lastSeen

	obs.DefectID = best.ID
	if err := r.repo.CreateObservation(ctx, obs); err != nil {
		return nil, fmt.Errorf("failed to persist observation: %w", err)
	}

	return &Resolution{Record: best, Created: false}, nil
}
