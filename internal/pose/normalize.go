// Package pose turns raw body landmarks into comparable pose vectors.
package pose

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/repform/internal/types"
	"gonum.org/v1/gonum/floats"
)

// Epsilon keeps the scale divisor away from zero when both shoulders land on the same pixel.
const Epsilon = 1e-6

// ErrInvalidInput is returned when a keypoint vector cannot be normalized.
var ErrInvalidInput = errors.New("invalid keypoint vector")

// ShoulderPair names the joint indices used as the reference frame.
type ShoulderPair struct {
	Left  int
	Right int
}

// DefaultShoulders are the shoulder joints in the 33-point BlazePose ordering.
var DefaultShoulders = ShoulderPair{Left: 11, Right: 12}

// MinJoints is the number of joints a vector needs so both shoulders can be indexed.
func (s ShoulderPair) MinJoints() int {
	return max(s.Left, s.Right) + 1
}

// Flatten lays landmarks out as [x0, y0, x1, y1, ...] in the order the collaborator returned them.
func Flatten(landmarks []types.Landmark) []float64 {
	out := make([]float64, 0, 2*len(landmarks))
	for _, lm := range landmarks {
		out = append(out, lm.X, lm.Y)
	}
	return out
}

// Normalize moves the origin to the shoulder midpoint and divides every
// coordinate by the shoulder distance (plus Epsilon).
// The input slice is not modified.
func Normalize(points []float64, shoulders ShoulderPair) ([]float64, error) {
	if shoulders.Left < 0 || shoulders.Right < 0 {
		return nil, fmt.Errorf("%w: negative shoulder index (%d, %d)", ErrInvalidInput, shoulders.Left, shoulders.Right)
	}
	if len(points)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidInput, len(points))
	}
	if need := 2 * shoulders.MinJoints(); len(points) < need {
		return nil, fmt.Errorf("%w: need at least %d values to reach joints %d and %d, got %d",
			ErrInvalidInput, need, shoulders.Left, shoulders.Right, len(points))
	}

	left := points[2*shoulders.Left : 2*shoulders.Left+2]
	right := points[2*shoulders.Right : 2*shoulders.Right+2]

	center := [2]float64{(left[0] + right[0]) / 2, (left[1] + right[1]) / 2}
	scale := floats.Distance(right, left, 2) + Epsilon

	out := make([]float64, len(points))
	copy(out, points)
	for i := 0; i < len(out); i += 2 {
		out[i] -= center[0]
		out[i+1] -= center[1]
	}
	floats.Scale(1/scale, out)
	return out, nil
}
