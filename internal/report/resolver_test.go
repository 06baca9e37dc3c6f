package report

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/severity"
)

func newObservation(subID string, loc geo.Location, sev severity.Label) *Observation {
	return &Observation{
		ID:           NewID(),
		SubmissionID: subID,
		Location:     loc,
		Severity:     sev,
		Confidence:   0.8,
		CreatedAt:    time.Now(),
	}
}

func seedSubmission(t *testing.T, repo Repository, id string) {
	t.Helper()
	err := repo.CreateSubmission(context.Background(), &Submission{
		ID:        id,
		VideoPath: "v",
		Location:  geo.Location{Lat: 26.8467, Lon: 80.9462},
		Status:    SubmissionProcessing,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("seed submission error = %v", err)
	}
}

func TestResolve_NewRecord(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	resolver := NewResolver(repo, 15, nil)

	obs := newObservation("s1", geo.Location{Lat: 26.8467, Lon: 80.9462}, severity.Medium)
	res, err := resolver.Resolve(context.Background(), obs)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	if !res.Created {
		t.Error("first observation should create a record")
	}
	if obs.DefectID != res.Record.ID {
		t.Errorf("observation bound to %q, record is %q", obs.DefectID, res.Record.ID)
	}
	if res.Record.ObservationCount != 1 {
		t.Errorf("observation count = %d, want 1", res.Record.ObservationCount)
	}
	if res.Record.Status != DefectReported {
		t.Errorf("status = %s, want reported", res.Record.Status)
	}
}

func TestResolve_MatchWithinRadius(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	seedSubmission(t, repo, "s2")
	resolver := NewResolver(repo, 15, nil)
	ctx := context.Background()

	first := newObservation("s1", geo.Location{Lat: 26.8467, Lon: 80.9462}, severity.Medium)
	created, err := resolver.Resolve(ctx, first)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	// ~9m away, inside the 15m radius: must match, not create.
	second := newObservation("s2", geo.Location{Lat: 26.8467, Lon: 80.9463}, severity.Low)
	matched, err := resolver.Resolve(ctx, second)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	if matched.Created {
		t.Error("observation within radius should match, not create")
	}
	if matched.Record.ID != created.Record.ID {
		t.Errorf("matched %q, want %q", matched.Record.ID, created.Record.ID)
	}
	if matched.Record.ObservationCount != 2 {
		t.Errorf("observation count = %d, want 2", matched.Record.ObservationCount)
	}
}

func TestResolve_OutsideRadiusCreatesNew(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	resolver := NewResolver(repo, 15, nil)
	ctx := context.Background()

	a, err := resolver.Resolve(ctx, newObservation("s1", geo.Location{Lat: 26.8467, Lon: 80.9462}, severity.Low))
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	// ~370m away: distinct physical defect.
	c, err := resolver.Resolve(ctx, newObservation("s1", geo.Location{Lat: 26.8500, Lon: 80.9462}, severity.Low))
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	if !c.Created {
		t.Error("observation outside radius should create a new record")
	}
	if c.Record.ID == a.Record.ID {
		t.Error("distinct defects share a record id")
	}
}

func TestResolve_SeverityNeverDowngrades(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	resolver := NewResolver(repo, 15, nil)
	ctx := context.Background()

	loc := geo.Location{Lat: 26.8467, Lon: 80.9462}

	if _, err := resolver.Resolve(ctx, newObservation("s1", loc, severity.High)); err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	res, err := resolver.Resolve(ctx, newObservation("s1", loc, severity.Low))
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if res.Record.Severity != severity.High {
		t.Errorf("severity downgraded to %s, want high", res.Record.Severity)
	}

	stored, _ := repo.GetDefect(ctx, res.Record.ID)
	if stored.Severity != severity.High {
		t.Errorf("stored severity = %s, want high", stored.Severity)
	}
}

func TestResolve_SeverityUpgradeReplacesImage(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	resolver := NewResolver(repo, 15, nil)
	ctx := context.Background()

	loc := geo.Location{Lat: 26.8467, Lon: 80.9462}

	first := newObservation("s1", loc, severity.Low)
	first.ImageRef = "/images/first.jpg"
	if _, err := resolver.Resolve(ctx, first); err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	// Same severity: image stays.
	same := newObservation("s1", loc, severity.Low)
	same.ImageRef = "/images/second.jpg"
	res, err := resolver.Resolve(ctx, same)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if res.Record.ImageRef != "/images/first.jpg" {
		t.Errorf("image replaced without severity upgrade: %s", res.Record.ImageRef)
	}

	// Higher severity with an image: image follows the upgrade.
	worse := newObservation("s1", loc, severity.High)
	worse.ImageRef = "/images/worse.jpg"
	res, err = resolver.Resolve(ctx, worse)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if res.Record.ImageRef != "/images/worse.jpg" {
		t.Errorf("image not replaced on severity upgrade: %s", res.Record.ImageRef)
	}
}

func TestResolve_FillsMissingImage(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	resolver := NewResolver(repo, 15, nil)
	ctx := context.Background()

	loc := geo.Location{Lat: 26.8467, Lon: 80.9462}

	// Evidence write failed for the first observation.
	noImage := newObservation("s1", loc, severity.Medium)
	if _, err := resolver.Resolve(ctx, noImage); err != nil {
		t.Fatalf("Resolve error = %v", err)
	}

	withImage := newObservation("s1", loc, severity.Low)
	withImage.ImageRef = "/images/late.jpg"
	res, err := resolver.Resolve(ctx, withImage)
	if err != nil {
		t.Fatalf("Resolve error = %v", err)
	}
	if res.Record.ImageRef != "/images/late.jpg" {
		t.Errorf("missing image not filled: %q", res.Record.ImageRef)
	}
}

func TestResolve_ConcurrentObservationsOneRecord(t *testing.T) {
	repo := setupRepo(t)
	seedSubmission(t, repo, "s1")
	seedSubmission(t, repo, "s2")
	resolver := NewResolver(repo, 15, nil)

	// Two simultaneous submissions observe the same physical defect.
	locs := []geo.Location{
		{Lat: 26.8467, Lon: 80.9462},
		{Lat: 26.8467, Lon: 80.94625}, // ~5m away
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sub := "s1"
			if i == 1 {
				sub = "s2"
			}
			if _, err := resolver.Resolve(context.Background(), newObservation(sub, locs[i], severity.Medium)); err != nil {
				t.Errorf("Resolve error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	records, err := repo.ListDefects(context.Background())
	if err != nil {
		t.Fatalf("ListDefects error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("concurrent observations produced %d records, want 1", len(records))
	}
	if records[0].ObservationCount != 2 {
		t.Errorf("observation count = %d, want 2", records[0].ObservationCount)
	}
}
