// Package export renders defect records for downstream consumers: CSV for
// the dashboard and review tooling.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/roadsight/roadsight/internal/report"
)

var csvHeader = []string{
	"id",
	"latitude",
	"longitude",
	"severity",
	"status",
	"observation_count",
	"first_seen_at",
	"last_seen_at",
	"image_reference",
}

// WriteCSV streams records to w. Rows keep the order of the input slice.
func WriteCSV(w io.Writer, records []*report.DefectRecord) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	for _, rec := range records {
		row := []string{
			rec.ID,
			strconv.FormatFloat(rec.Location.Lat, 'f', -1, 64),
			strconv.FormatFloat(rec.Location.Lon, 'f', -1, 64),
			string(rec.Severity),
			rec.Status,
			strconv.Itoa(rec.ObservationCount),
			rec.FirstSeenAt.UTC().Format(time.RFC3339),
			rec.LastSeenAt.UTC().Format(time.RFC3339),
			rec.ImageRef,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FilterByStatus returns the records whose review status equals status. An
// empty status keeps everything.
func FilterByStatus(records []*report.DefectRecord, status string) []*report.DefectRecord {
	if status == "" {
		return records
	}
	out := make([]*report.DefectRecord, 0, len(records))
	for _, rec := range records {
		if rec.Status == status {
			out = append(out, rec)
		}
	}
	return out
}
