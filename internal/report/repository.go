package report

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/severity"
)

type Repository interface {
	CreateDefect(ctx context.Context, d *DefectRecord) error
	GetDefect(ctx context.Context, id string) (*DefectRecord, error)
	ListDefects(ctx context.Context) ([]*DefectRecord, error)
	FindDefectsNear(ctx context.Context, loc geo.Location, radiusM float64) ([]*DefectRecord, error)
	UpdateDefectMatch(ctx context.Context, id string, sev severity.Label, imageRef string, count int, lastSeen time.Time) error
	UpdateDefectStatus(ctx context.Context, id, status string) error

	CreateSubmission(ctx context.Context, s *Submission) error
	GetSubmission(ctx context.Context, id string) (*Submission, error)
	ListSubmissions(ctx context.Context, limit int) ([]*Submission, error)
	UpdateSubmissionStage(ctx context.Context, id, stage string) error
	UpdateSubmissionStatus(ctx context.Context, id, status, errorMsg string) error
	UpdateSubmissionResult(ctx context.Context, id string, defectsFound int) error

	CreateObservation(ctx context.Context, o *Observation) error
	ListObservationsBySubmission(ctx context.Context, submissionID string) ([]*Observation, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

func (r *SQLiteRepository) CreateDefect(ctx context.Context, d *DefectRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO defects (id, lat, lon, cell, severity, status, image_ref, observation_count, first_seen_at, last_seen_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, d.Location.Lat, d.Location.Lon, d.Cell, string(d.Severity), d.Status,
		nullString(d.ImageRef), d.ObservationCount,
		d.FirstSeenAt.UTC().Format(time.RFC3339), d.LastSeenAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetDefect(ctx context.Context, id string) (*DefectRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, lat, lon, cell, severity, status, image_ref, observation_count, first_seen_at, last_seen_at
		FROM defects WHERE id = ?
	`, id)
	return scanDefect(row)
}

func (r *SQLiteRepository) ListDefects(ctx context.Context) ([]*DefectRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lat, lon, cell, severity, status, image_ref, observation_count, first_seen_at, last_seen_at
		FROM defects ORDER BY last_seen_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanDefects(rows)
}

// FindDefectsNear returns records within radiusM of loc ordered nearest
// first; ties break on earliest first-seen, then id, so the result is
// stable. A bounding box narrows the scan before exact haversine checks.
func (r *SQLiteRepository) FindDefectsNear(ctx context.Context, loc geo.Location, radiusM float64) ([]*DefectRecord, error) {
	minLat, maxLat, minLon, maxLon := geo.BoundingBox(loc, radiusM)

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, lat, lon, cell, severity, status, image_ref, observation_count, first_seen_at, last_seen_at
		FROM defects WHERE lat BETWEEN ? AND ? AND lon BETWEEN ? AND ?
	`, minLat, maxLat, minLon, maxLon)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	candidates, err := scanDefects(rows)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec  *DefectRecord
		dist float64
	}
	var within []scored
	for _, c := range candidates {
		if d := geo.Haversine(loc, c.Location); d <= radiusM {
			within = append(within, scored{rec: c, dist: d})
		}
	}

	sort.Slice(within, func(i, j int) bool {
		if within[i].dist != within[j].dist {
			return within[i].dist < within[j].dist
		}
		if !within[i].rec.FirstSeenAt.Equal(within[j].rec.FirstSeenAt) {
			return within[i].rec.FirstSeenAt.Before(within[j].rec.FirstSeenAt)
		}
		return within[i].rec.ID < within[j].rec.ID
	})

	result := make([]*DefectRecord, len(within))
	for i, s := range within {
		result[i] = s.rec
	}
	return result, nil
}

func (r *SQLiteRepository) UpdateDefectMatch(ctx context.Context, id string, sev severity.Label, imageRef string, count int, lastSeen time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE defects SET severity = ?, image_ref = ?, observation_count = ?, last_seen_at = ? WHERE id = ?
	`, string(sev), nullString(imageRef), count, lastSeen.UTC().Format(time.RFC3339), id)
	return err
}

func (r *SQLiteRepository) UpdateDefectStatus(ctx context.Context, id, status string) error {
	res, err := r.db.ExecContext(ctx, "UPDATE defects SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (r *SQLiteRepository) CreateSubmission(ctx context.Context, s *Submission) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO submissions (id, video_path, lat, lon, status, stage, error, defects_found, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.VideoPath, s.Location.Lat, s.Location.Lon, s.Status, s.Stage, nullString(s.Error),
		s.DefectsFound, s.CreatedAt.UTC().Format(time.RFC3339), s.UpdatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetSubmission(ctx context.Context, id string) (*Submission, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, video_path, lat, lon, status, stage, error, defects_found, created_at, updated_at
		FROM submissions WHERE id = ?
	`, id)

	var s Submission
	var errMsg sql.NullString
	var createdAt, updatedAt string
	err := row.Scan(&s.ID, &s.VideoPath, &s.Location.Lat, &s.Location.Lon, &s.Status, &s.Stage, &errMsg, &s.DefectsFound, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	s.Error = errMsg.String
	s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &s, nil
}

func (r *SQLiteRepository) ListSubmissions(ctx context.Context, limit int) ([]*Submission, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, video_path, lat, lon, status, stage, error, defects_found, created_at, updated_at
		FROM submissions ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []*Submission
	for rows.Next() {
		var s Submission
		var errMsg sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&s.ID, &s.VideoPath, &s.Location.Lat, &s.Location.Lon, &s.Status, &s.Stage, &errMsg, &s.DefectsFound, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		s.Error = errMsg.String
		s.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		s.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		subs = append(subs, &s)
	}
	return subs, rows.Err()
}

func (r *SQLiteRepository) UpdateSubmissionStage(ctx context.Context, id, stage string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE submissions SET stage = ?, updated_at = datetime('now') WHERE id = ?
	`, stage, id)
	return err
}

func (r *SQLiteRepository) UpdateSubmissionStatus(ctx context.Context, id, status, errorMsg string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE submissions SET status = ?, error = ?, updated_at = datetime('now') WHERE id = ?
	`, status, nullString(errorMsg), id)
	return err
}

func (r *SQLiteRepository) UpdateSubmissionResult(ctx context.Context, id string, defectsFound int) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE submissions SET defects_found = ?, updated_at = datetime('now') WHERE id = ?
	`, defectsFound, id)
	return err
}

func (r *SQLiteRepository) CreateObservation(ctx context.Context, o *Observation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO observations (id, submission_id, defect_id, frame_index, confidence, severity, image_ref, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, o.ID, o.SubmissionID, o.DefectID, o.FrameIndex, o.Confidence, string(o.Severity),
		nullString(o.ImageRef), o.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) ListObservationsBySubmission(ctx context.Context, submissionID string) ([]*Observation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, submission_id, defect_id, frame_index, confidence, severity, image_ref, created_at
		FROM observations WHERE submission_id = ? ORDER BY frame_index ASC, created_at ASC
	`, submissionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var obs []*Observation
	for rows.Next() {
		var o Observation
		var imageRef sql.NullString
		var createdAt string
		if err := rows.Scan(&o.ID, &o.SubmissionID, &o.DefectID, &o.FrameIndex, &o.Confidence, (*string)(&o.Severity), &imageRef, &createdAt); err != nil {
			return nil, err
		}
		o.ImageRef = imageRef.String
		o.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		obs = append(obs, &o)
	}
	return obs, rows.Err()
}

func scanDefect(row *sql.Row) (*DefectRecord, error) {
	var d DefectRecord
	var imageRef sql.NullString
	var firstSeen, lastSeen string

	err := row.Scan(&d.ID, &d.Location.Lat, &d.Location.Lon, &d.Cell, (*string)(&d.Severity), &d.Status, &imageRef, &d.ObservationCount, &firstSeen, &lastSeen)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	d.ImageRef = imageRef.String
	d.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
	d.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen)
	return &d, nil
}

func scanDefects(rows *sql.Rows) ([]*DefectRecord, error) {
	var defects []*DefectRecord
	for rows.Next() {
		var d DefectRecord
		var imageRef sql.NullString
		var firstSeen, lastSeen string

		if err := rows.Scan(&d.ID, &d.Location.Lat, &d.Location.Lon, &d.Cell, (*string)(&d.Severity), &d.Status, &imageRef, &d.ObservationCount, &firstSeen, &lastSeen); err != nil {
			return nil, err
		}
		d.ImageRef = imageRef.String
		d.FirstSeenAt, _ = time.Parse(time.RFC3339, firstSeen)
		d.LastSeenAt, _ = time.Parse(time.RFC3339, lastSeen)
		defects = append(defects, &d)
	}
	return defects, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
