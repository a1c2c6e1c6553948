package types

import (
	"errors"
	"time"
)

// ErrFrameRejected is returned by a pose collaborator when it could not make
// sense of a single frame. The frame is skipped; the video keeps going.
var ErrFrameRejected = errors.New("frame rejected by pose collaborator")

// Frame is one decoded image handed from a frame source to the pose collaborator.
type Frame struct {
	Index int
	Data  []byte
}

// Landmark is a single tracked joint in one frame, in pixel coordinates.
type Landmark struct {
	ID int     `json:"id" yaml:"id"`
	X  float64 `json:"x" yaml:"x"`
	Y  float64 `json:"y" yaml:"y"`
}

// Rep is a fixed-length trajectory of normalized pose vectors.
type Rep [][]float64

// Clone returns a deep copy of the rep.
func (r Rep) Clone() Rep {
	out := make(Rep, len(r))
	for i, v := range r {
		out[i] = append([]float64(nil), v...)
	}
	return out
}

// VideoResult is everything the pipeline produced for one input video.
type VideoResult struct {
	Name    string `yaml:"name"`
	Reps    []Rep  `yaml:"reps"`
	Frames  int    `yaml:"frames"`  // frames read from the source
	Skipped int    `yaml:"skipped"` // frames dropped (no pose, rejected or malformed)
	Pending int    `yaml:"pending"` // frames left in the buffer at end of stream, discarded
	Err     error  `yaml:"-"`
}

// BatchResult holds one VideoResult per input, in input order.
type BatchResult []VideoResult

// Reps flattens the batch into the nested rep sequence, one entry per video.
func (b BatchResult) Reps() [][]Rep {
	out := make([][]Rep, len(b))
	for i, v := range b {
		out[i] = v.Reps
	}
	return out
}

// Failed returns the results that carry an error.
func (b BatchResult) Failed() []VideoResult {
	var out []VideoResult
	for _, v := range b {
		if v.Err != nil {
			out = append(out, v)
		}
	}
	return out
}

// VideoSummary is a stored video as listed by the store.
type VideoSummary struct {
	ID        string
	Path      string
	Label     string
	RepCount  int
	IndexedAt time.Time
}
