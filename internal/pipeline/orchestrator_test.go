package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/roadsight/roadsight/internal/db"
	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/evidence"
	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/report"
	"github.com/roadsight/roadsight/internal/video"
)

var testLocation = geo.Location{Lat: 26.8467, Lon: 80.9462}

func testImage() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func makeFrames(indices ...int) []*video.Frame {
	frames := make([]*video.Frame, len(indices))
	for i, idx := range indices {
		frames[i] = &video.Frame{
			Image:     testImage(),
			Index:     idx,
			Timestamp: time.Duration(idx) * 40 * time.Millisecond,
			Width:     640,
			Height:    480,
		}
	}
	return frames
}

type fakeSource struct {
	frames []*video.Frame
	pos    int
	onNext func(frameIdx int)
}

func (s *fakeSource) Next(ctx context.Context) (*video.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if s.pos >= len(s.frames) {
		if len(s.frames) == 0 {
			return nil, video.ErrEmptyStream
		}
		return nil, io.EOF
	}
	f := s.frames[s.pos]
	s.pos++
	if s.onNext != nil {
		s.onNext(f.Index)
	}
	return f, nil
}

func (s *fakeSource) Close() error { return nil }

func openerFor(src video.FrameSource, err error) video.Opener {
	return func(path string, stride int) (video.FrameSource, error) {
		if err != nil {
			return nil, err
		}
		return src, nil
	}
}

type fakeDetector struct {
	// byFrame maps frame index to detections returned for that frame.
	byFrame map[int][]detect.Detection
	err     error
	calls   atomic.Int32
	inUse   atomic.Int32
	maxUse  atomic.Int32
	seen    []int
	mu      sync.Mutex
}

func (d *fakeDetector) Detect(ctx context.Context, frame *video.Frame) ([]detect.Detection, error) {
	d.calls.Add(1)

	use := d.inUse.Add(1)
	defer d.inUse.Add(-1)
	for {
		max := d.maxUse.Load()
		if use <= max || d.maxUse.CompareAndSwap(max, use) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)

	d.mu.Lock()
	d.seen = append(d.seen, frame.Index)
	d.mu.Unlock()

	if d.err != nil {
		return nil, d.err
	}
	dets := d.byFrame[frame.Index]
	for i := range dets {
		dets[i].FrameIndex = frame.Index
		dets[i].FrameTimestamp = frame.Timestamp
	}
	return dets, nil
}

func setupOrchestrator(t *testing.T, detector detect.Detector, open video.Opener, workers int) (*Orchestrator, report.Repository) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	repo := report.NewRepository(database.Conn())
	resolver := report.NewResolver(repo, 15, nil)

	store, err := evidence.NewStore(filepath.Join(t.TempDir(), "images"), nil)
	if err != nil {
		t.Fatalf("failed to create evidence store: %v", err)
	}

	orch := New(Config{
		Repo:        repo,
		Resolver:    resolver,
		Detector:    detector,
		Evidence:    store,
		Open:        open,
		FrameStride: 1,
		Workers:     workers,
	})
	return orch, repo
}

func singleDetection(conf float64) []detect.Detection {
	return []detect.Detection{{
		Box:        image.Rect(100, 100, 300, 260),
		Class:      "pothole",
		Confidence: conf,
	}}
}

func TestSubmit_CompleteRun(t *testing.T) {
	detector := &fakeDetector{byFrame: map[int][]detect.Detection{
		0: singleDetection(0.9),
		5: singleDetection(0.8),
	}}
	src := &fakeSource{frames: makeFrames(0, 5, 10)}
	orch, repo := setupOrchestrator(t, detector, openerFor(src, nil), 1)

	rep, err := orch.Submit(context.Background(), "/tmp/v.mp4", testLocation)
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	// Both detections share the submission location, so they fold into one
	// unique record observed twice.
	if rep.TotalDefectsFound != 1 {
		t.Errorf("TotalDefectsFound = %d, want 1", rep.TotalDefectsFound)
	}
	if len(rep.Details) != 1 {
		t.Fatalf("details length = %d, want 1", len(rep.Details))
	}
	if !rep.Details[0].New {
		t.Error("record should be reported as new")
	}
	if rep.Details[0].ImageReference == "" {
		t.Error("record should carry an evidence image reference")
	}

	records, err := repo.ListDefects(context.Background())
	if err != nil {
		t.Fatalf("ListDefects error = %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("store holds %d records, want 1", len(records))
	}
	if records[0].ObservationCount != 2 {
		t.Errorf("observation count = %d, want 2", records[0].ObservationCount)
	}

	sub, err := repo.GetSubmission(context.Background(), rep.SubmissionID)
	if err != nil {
		t.Fatalf("GetSubmission error = %v", err)
	}
	if sub.Status != report.SubmissionComplete {
		t.Errorf("submission status = %s, want complete", sub.Status)
	}
	if sub.DefectsFound != 1 {
		t.Errorf("submission defects_found = %d, want 1", sub.DefectsFound)
	}
}

func TestSubmit_SourceUnreadableFailsRun(t *testing.T) {
	detector := &fakeDetector{}
	orch, repo := setupOrchestrator(t, detector,
		openerFor(nil, fmt.Errorf("%w: bad container", video.ErrSourceUnreadable)), 1)

	_, err := orch.Submit(context.Background(), "/tmp/broken.mp4", testLocation)
	if !errors.Is(err, video.ErrSourceUnreadable) {
		t.Fatalf("Submit error = %v, want ErrSourceUnreadable", err)
	}

	subs, _ := repo.ListSubmissions(context.Background(), 10)
	if len(subs) != 1 || subs[0].Status != report.SubmissionFailed {
		t.Errorf("submission not marked failed: %+v", subs)
	}

	records, _ := repo.ListDefects(context.Background())
	if len(records) != 0 {
		t.Errorf("failed run left %d records, want 0", len(records))
	}
}

func TestSubmit_EmptyStreamFailsRun(t *testing.T) {
	detector := &fakeDetector{}
	src := &fakeSource{frames: nil}
	orch, repo := setupOrchestrator(t, detector, openerFor(src, nil), 1)

	_, err := orch.Submit(context.Background(), "/tmp/empty.mp4", testLocation)
	if !errors.Is(err, video.ErrEmptyStream) {
		t.Fatalf("Submit error = %v, want ErrEmptyStream", err)
	}

	subs, _ := repo.ListSubmissions(context.Background(), 10)
	if subs[0].Status != report.SubmissionFailed {
		t.Errorf("submission status = %s, want failed", subs[0].Status)
	}
}

func TestSubmit_ModelUnavailableFailsRun(t *testing.T) {
	detector := &fakeDetector{err: detect.ErrModelUnavailable}
	src := &fakeSource{frames: makeFrames(0, 5)}
	orch, repo := setupOrchestrator(t, detector, openerFor(src, nil), 1)

	_, err := orch.Submit(context.Background(), "/tmp/v.mp4", testLocation)
	if !errors.Is(err, detect.ErrModelUnavailable) {
		t.Fatalf("Submit error = %v, want ErrModelUnavailable", err)
	}

	records, _ := repo.ListDefects(context.Background())
	if len(records) != 0 {
		t.Errorf("failed run left %d records, want 0", len(records))
	}
}

func TestSubmit_EvidenceFailureIsRecoverable(t *testing.T) {
	detector := &fakeDetector{byFrame: map[int][]detect.Detection{0: singleDetection(0.9)}}
	src := &fakeSource{frames: makeFrames(0)}

	dbPath := filepath.Join(t.TempDir(), "test.db")
	database, err := db.New(dbPath, nil)
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	repo := report.NewRepository(database.Conn())

	// The store's directory disappears after construction, so every write
	// fails.
	imgDir := filepath.Join(t.TempDir(), "images")
	store, err := evidence.NewStore(imgDir, nil)
	if err != nil {
		t.Fatalf("failed to create evidence store: %v", err)
	}
	os.RemoveAll(imgDir)

	orch := New(Config{
		Repo:        repo,
		Resolver:    report.NewResolver(repo, 15, nil),
		Detector:    detector,
		Evidence:    store,
		Open:        openerFor(src, nil),
		FrameStride: 1,
		Workers:     1,
	})

	rep, err := orch.Submit(context.Background(), "/tmp/v.mp4", testLocation)
	if err != nil {
		t.Fatalf("Submit error = %v, evidence failure must not fail the run", err)
	}
	if rep.TotalDefectsFound != 1 {
		t.Errorf("TotalDefectsFound = %d, want 1", rep.TotalDefectsFound)
	}
	if rep.Details[0].ImageReference != "" {
		t.Errorf("image reference = %q, want empty after storage failure", rep.Details[0].ImageReference)
	}
}

func TestSubmit_InvalidLocationRejected(t *testing.T) {
	detector := &fakeDetector{}
	orch, repo := setupOrchestrator(t, detector, openerFor(&fakeSource{}, nil), 1)

	_, err := orch.Submit(context.Background(), "/tmp/v.mp4", geo.Location{Lat: 99, Lon: 0})
	if err == nil {
		t.Fatal("Submit with invalid latitude succeeded, want error")
	}

	// Input errors are rejected before a run starts: no job row exists.
	subs, _ := repo.ListSubmissions(context.Background(), 10)
	if len(subs) != 0 {
		t.Errorf("invalid input created %d submissions, want 0", len(subs))
	}
}

func TestSubmit_CancellationStopsAtFrameBoundary(t *testing.T) {
	detector := &fakeDetector{}
	ctx, cancel := context.WithCancel(context.Background())

	src := &fakeSource{frames: makeFrames(0, 5, 10, 15, 20)}
	src.onNext = func(frameIdx int) {
		if frameIdx == 5 {
			cancel()
		}
	}

	orch, repo := setupOrchestrator(t, detector, openerFor(src, nil), 1)

	_, err := orch.Submit(ctx, "/tmp/v.mp4", testLocation)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Submit error = %v, want context.Canceled", err)
	}

	// The run stopped promptly: frames past the cancellation were never read.
	if src.pos > 3 {
		t.Errorf("sampler advanced to position %d after cancellation", src.pos)
	}

	subs, _ := repo.ListSubmissions(context.Background(), 10)
	if subs[0].Status != report.SubmissionFailed {
		t.Errorf("cancelled submission status = %s, want failed", subs[0].Status)
	}
}

func TestSubmit_FrameOrderingNonDecreasing(t *testing.T) {
	detector := &fakeDetector{byFrame: map[int][]detect.Detection{
		0:  singleDetection(0.9),
		5:  singleDetection(0.9),
		10: singleDetection(0.9),
		15: singleDetection(0.9),
	}}
	src := &fakeSource{frames: makeFrames(0, 5, 10, 15)}
	orch, repo := setupOrchestrator(t, detector, openerFor(src, nil), 1)

	rep, err := orch.Submit(context.Background(), "/tmp/v.mp4", testLocation)
	if err != nil {
		t.Fatalf("Submit error = %v", err)
	}

	for i := 1; i < len(detector.seen); i++ {
		if detector.seen[i] < detector.seen[i-1] {
			t.Errorf("frames dispatched out of order: %v", detector.seen)
		}
	}

	obs, err := repo.ListObservationsBySubmission(context.Background(), rep.SubmissionID)
	if err != nil {
		t.Fatalf("ListObservationsBySubmission error = %v", err)
	}
	if len(obs) != 4 {
		t.Fatalf("got %d observations, want 4", len(obs))
	}
	for i := 1; i < len(obs); i++ {
		if obs[i].FrameIndex < obs[i-1].FrameIndex {
			t.Errorf("observation frame indices not non-decreasing: %d then %d",
				obs[i-1].FrameIndex, obs[i].FrameIndex)
		}
	}
}

func TestSubmit_WorkerPoolBoundsConcurrency(t *testing.T) {
	detector := &fakeDetector{byFrame: map[int][]detect.Detection{}}

	orch, _ := setupOrchestrator(t, detector, func(path string, stride int) (video.FrameSource, error) {
		return &fakeSource{frames: makeFrames(0, 1, 2, 3)}, nil
	}, 1)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := orch.Submit(context.Background(), "/tmp/v.mp4", testLocation); err != nil {
				t.Errorf("Submit error = %v", err)
			}
		}()
	}
	wg.Wait()

	if max := detector.maxUse.Load(); max > 1 {
		t.Errorf("detector saw %d concurrent invocations with 1 worker", max)
	}
	if calls := detector.calls.Load(); calls != 16 {
		t.Errorf("detector called %d times, want 16", calls)
	}
}
