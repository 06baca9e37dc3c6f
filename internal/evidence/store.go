// Package evidence persists cropped detection images on disk and hands out
// URL-path references the dashboard can resolve.
package evidence

import (
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
)

// ErrStorageWrite means an evidence image could not be persisted. It is
// recoverable: the observation proceeds without an image reference.
var ErrStorageWrite = errors.New("evidence storage write failed")

// cropMargin is the pixel padding kept around the detection box so the
// evidence image shows some road context.
const cropMargin = 20

const jpegQuality = 90

// Store writes id-addressed JPEG crops. Saving the same observation twice
// deterministically overwrites the same file.
type Store struct {
	dir    string
	logger *slog.Logger
}

func NewStore(dir string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save crops the detection box (with margin) out of the frame and stores it
// under the observation id. It returns the reference path to serve the
// image under.
func (s *Store) Save(frame image.Image, box image.Rectangle, observationID string) (string, error) {
	bounds := frame.Bounds()
	crop := box.Inset(-cropMargin).Intersect(bounds)
	if crop.Empty() {
		crop = bounds
	}

	out := image.NewRGBA(image.Rect(0, 0, crop.Dx(), crop.Dy()))
	draw.Draw(out, out.Bounds(), frame, crop.Min, draw.Src)

	filename := observationID + ".jpg"
	finalPath := filepath.Join(s.dir, filename)
	tmpPath := finalPath + ".tmp"

	f, err := os.Create(tmpPath)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	if err := jpeg.Encode(f, out, &jpeg.Options{Quality: jpegQuality}); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	// Rename makes the overwrite atomic, so a retry never leaves a second
	// partially written file behind.
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", fmt.Errorf("%w: %v", ErrStorageWrite, err)
	}

	if s.logger != nil {
		s.logger.Debug("evidence saved", "observation_id", observationID, "path", finalPath)
	}

	return "/images/" + filename, nil
}

// Dir returns the directory evidence images are written to.
func (s *Store) Dir() string {
	return s.dir
}
