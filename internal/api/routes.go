package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roadsight/roadsight/internal/config"
	"github.com/roadsight/roadsight/internal/detect"
	"github.com/roadsight/roadsight/internal/export"
	"github.com/roadsight/roadsight/internal/geo"
	"github.com/roadsight/roadsight/internal/metrics"
	"github.com/roadsight/roadsight/internal/report"
	"github.com/roadsight/roadsight/internal/video"
)

// maxUploadBytes bounds one submitted video.
const maxUploadBytes = 512 << 20

func NewRouter(cfg ServerConfig) *chi.Mux {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware())
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))
	r.Use(CORSMiddleware())

	r.Get("/health", healthHandler(cfg))
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/report", submitReportHandler(cfg))
		r.Get("/defects", listDefectsHandler(cfg))
		r.Get("/defects/export", exportDefectsHandler(cfg))
		r.Patch("/defects/{id}/status", updateDefectStatusHandler(cfg))
		r.Get("/submissions", listSubmissionsHandler(cfg))
		r.Get("/submissions/{id}", getSubmissionHandler(cfg))
	})

	if cfg.ImagesDir != "" {
		fs := http.FileServer(http.Dir(cfg.ImagesDir))
		r.Handle("/images/*", http.StripPrefix("/images/", fs))
	}
	if cfg.Hub != nil {
		r.Handle("/ws/status", cfg.Hub)
	}

	return r
}

func healthHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, HealthResponse{
			Status:  "ok",
			Version: config.Version,
			UptimeS: int64(time.Since(cfg.StartTime).Seconds()),
		})
	}
}

// submitReportHandler accepts a dashcam video plus capture coordinates,
// stages the upload and blocks until the pipeline run reaches a terminal
// state. The response is the run's report.
func submitReportHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid multipart form", "BAD_REQUEST")
			return
		}

		loc, err := parseLocation(r.FormValue("latitude"), r.FormValue("longitude"))
		if err != nil {
			WriteError(w, http.StatusBadRequest, err.Error(), "BAD_REQUEST")
			return
		}

		file, header, err := r.FormFile("video")
		if err != nil {
			WriteError(w, http.StatusBadRequest, "video file is required", "BAD_REQUEST")
			return
		}
		defer file.Close()

		videoPath, err := stageUpload(cfg.VideosDir, header.Filename, file)
		if err != nil {
			cfg.Logger.Error("failed to stage upload", "error", err)
			WriteError(w, http.StatusInternalServerError, "failed to store upload", "INTERNAL_ERROR")
			return
		}
		defer os.Remove(videoPath)

		rep, err := cfg.Submitter.Submit(r.Context(), videoPath, loc)
		if err != nil {
			writeSubmitError(w, err)
			return
		}

		WriteJSON(w, http.StatusOK, rep)
	}
}

func parseLocation(latStr, lonStr string) (geo.Location, error) {
	if latStr == "" || lonStr == "" {
		return geo.Location{}, fmt.Errorf("latitude and longitude are required")
	}
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return geo.Location{}, fmt.Errorf("invalid latitude: %w", err)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return geo.Location{}, fmt.Errorf("invalid longitude: %w", err)
	}
	loc := geo.Location{Lat: lat, Lon: lon}
	if err := loc.Validate(); err != nil {
		return geo.Location{}, err
	}
	return loc, nil
}

func stageUpload(dir, filename string, src io.Reader) (string, error) {
	name := export.SanitizeFilename(filename, 100)
	if name == "" {
		name = "upload.mp4"
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create staging dir: %w", err)
	}

	// Prefix with a fresh id so concurrent uploads of the same filename
	// never collide.
	path := filepath.Join(dir, report.NewID()[:8]+"_"+name)
	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create staged file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write staged file: %w", err)
	}
	return path, nil
}

func writeSubmitError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, video.ErrSourceUnreadable):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "SOURCE_UNREADABLE")
	case errors.Is(err, video.ErrEmptyStream):
		WriteError(w, http.StatusUnprocessableEntity, err.Error(), "EMPTY_STREAM")
	case errors.Is(err, detect.ErrModelUnavailable):
		WriteError(w, http.StatusServiceUnavailable, err.Error(), "MODEL_UNAVAILABLE")
	default:
		WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
	}
}

func listDefectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := cfg.Repository.ListDefects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list defects", "INTERNAL_ERROR")
			return
		}
		records = export.FilterByStatus(records, r.URL.Query().Get("status"))

		resp := DefectsResponse{Defects: make([]DefectResponse, len(records))}
		for i, rec := range records {
			resp.Defects[i] = DefectToResponse(rec)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func exportDefectsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		records, err := cfg.Repository.ListDefects(r.Context())
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list defects", "INTERNAL_ERROR")
			return
		}
		records = export.FilterByStatus(records, r.URL.Query().Get("status"))

		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="defects.csv"`)
		if err := export.WriteCSV(w, records); err != nil {
			cfg.Logger.Error("csv export failed", "error", err)
		}
	}
}

func updateDefectStatusHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		var req UpdateDefectStatusRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			WriteError(w, http.StatusBadRequest, "invalid request body", "BAD_REQUEST")
			return
		}
		if !report.ValidDefectStatus(req.Status) {
			WriteError(w, http.StatusBadRequest, "status must be reported, confirmed or dismissed", "BAD_REQUEST")
			return
		}

		if err := cfg.Repository.UpdateDefectStatus(r.Context(), id, req.Status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				WriteError(w, http.StatusNotFound, "defect not found", "NOT_FOUND")
				return
			}
			WriteError(w, http.StatusInternalServerError, "failed to update status", "INTERNAL_ERROR")
			return
		}

		rec, err := cfg.Repository.GetDefect(r.Context(), id)
		if err != nil || rec == nil {
			WriteError(w, http.StatusInternalServerError, "failed to load defect", "INTERNAL_ERROR")
			return
		}
		WriteJSON(w, http.StatusOK, DefectToResponse(rec))
	}
}

func listSubmissionsHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if l := r.URL.Query().Get("limit"); l != "" {
			n, err := strconv.Atoi(l)
			if err != nil || n < 1 {
				WriteError(w, http.StatusBadRequest, "invalid limit", "BAD_REQUEST")
				return
			}
			limit = n
		}

		subs, err := cfg.Repository.ListSubmissions(r.Context(), limit)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "failed to list submissions", "INTERNAL_ERROR")
			return
		}

		resp := SubmissionsResponse{Submissions: make([]SubmissionResponse, len(subs))}
		for i, s := range subs {
			resp.Submissions[i] = SubmissionToResponse(s)
		}
		WriteJSON(w, http.StatusOK, resp)
	}
}

func getSubmissionHandler(cfg ServerConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		sub, err := cfg.Repository.GetSubmission(r.Context(), id)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, err.Error(), "INTERNAL_ERROR")
			return
		}
		if sub == nil {
			WriteError(w, http.StatusNotFound, "submission not found", "NOT_FOUND")
			return
		}
		WriteJSON(w, http.StatusOK, SubmissionToResponse(sub))
	}
}
