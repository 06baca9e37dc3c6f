// Package video extracts sampled frames from submitted dashcam footage.
//
// The real sampler is built on gocv behind the `gocv` build tag; without the
// tag a stub is compiled so the rest of the server builds on machines
// without OpenCV, the same arrangement the detector uses.
package video

import (
	"context"
	"errors"
	"image"
	"time"
)

var (
	// ErrSourceUnreadable means the container or codec could not be opened.
	ErrSourceUnreadable = errors.New("video source unreadable")

	// ErrEmptyStream means the source opened but produced zero frames.
	ErrEmptyStream = errors.New("video stream contains no frames")
)

// Frame is one sampled video frame. Index and Timestamp refer to the frame's
// position in the original stream, not the sampled subsequence.
type Frame struct {
	Image     image.Image
	Index     int
	Timestamp time.Duration
	Width     int
	Height    int
}

// FrameSource is a lazy, finite sequence of sampled frames. Next returns
// io.EOF after the last frame. Implementations must not hold more than one
// decoded frame in memory at a time.
type FrameSource interface {
	Next(ctx context.Context) (*Frame, error)
	Close() error
}

// Opener opens a video file and yields every strideth frame.
type Opener func(path string, stride int) (FrameSource, error)
