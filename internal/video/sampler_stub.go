//go:build !gocv
// +build !gocv

package video

import "fmt"

// Open reports the source unreadable when built without the gocv tag.
func Open(path string, stride int) (FrameSource, error) {
	_ = stride
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrSourceUnreadable)
}
