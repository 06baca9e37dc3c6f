//go:build gocv
// +build gocv

package video

import (
	"context"
	"fmt"
	"io"
	"time"

	"gocv.io/x/gocv"
)

type captureSource struct {
	cap    *gocv.VideoCapture
	mat    gocv.Mat
	stride int
	next   int
	read   int
}

// Open opens a video file for sampling at every strideth frame.
func Open(path string, stride int) (FrameSource, error) {
	if stride < 1 {
		stride = 1
	}

	cap, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceUnreadable, err)
	}
	if !cap.IsOpened() {
		cap.Close()
		return nil, fmt.Errorf("%w: %s", ErrSourceUnreadable, path)
	}

	return &captureSource{cap: cap, mat: gocv.NewMat(), stride: stride}, nil
}

func (s *captureSource) Next(ctx context.Context) (*Frame, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		// Read reuses the same Mat, so only one decoded frame is held at a
		// time; the returned Frame carries an independent Go image.
		if ok := s.cap.Read(&s.mat); !ok || s.mat.Empty() {
			if s.read == 0 {
				return nil, ErrEmptyStream
			}
			return nil, io.EOF
		}

		idx := s.next
		s.next++
		s.read++

		if idx%s.stride != 0 {
			continue
		}

		img, err := s.mat.ToImage()
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", idx, err)
		}

		ts := time.Duration(s.cap.Get(gocv.VideoCapturePosMsec)) * time.Millisecond

		return &Frame{
			Image:     img,
			Index:     idx,
			Timestamp: ts,
			Width:     s.mat.Cols(),
			Height:    s.mat.Rows(),
		}, nil
	}
}

func (s *captureSource) Close() error {
	s.mat.Close()
	return s.cap.Close()
}
