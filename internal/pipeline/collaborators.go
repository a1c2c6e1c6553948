package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/repform/internal/types"
)

// FrameSource yields decoded frames of one video in order.
// Next returns io.EOF once the source is exhausted. A source is not
// restartable; Close must be safe to call after a failed Open.
type FrameSource interface {
	Name() string
	Open(ctx context.Context) error
	Next(ctx context.Context) (types.Frame, error)
	Close() error
}

// PoseEstimator extracts landmarks from a single frame. An empty slice means
// nobody was found. Errors wrapping types.ErrFrameRejected skip the frame;
// anything else ends the video.
type PoseEstimator interface {
	Estimate(ctx context.Context, frame types.Frame) ([]types.Landmark, error)
	Close() error
}

// EstimatorFactory builds a dedicated estimator for one video.
type EstimatorFactory func(ctx context.Context, workerID int) (PoseEstimator, error)

// ErrCollaboratorUnavailable means the pose collaborator could not be started.
var ErrCollaboratorUnavailable = errors.New("pose collaborator unavailable")

// VideoError reports which video, and which frame if any, stopped processing.
type VideoError struct {
	Video string
	Frame int // -1 when the failure is not tied to a frame
	Err   error
}

func (e *VideoError) Error() string {
	if e.Frame < 0 {
		return fmt.Sprintf("video %s: %v", e.Video, e.Err)
	}
	return fmt.Sprintf("video %s frame %d: %v", e.Video, e.Frame, e.Err)
}

func (e *VideoError) Unwrap() error { return e.Err }
