// Package segment cuts a stream of normalized poses into fixed-length reps.
package segment

import "github.com/andresmejia3/repform/internal/types"

const (
	// DefaultWindowSize is the number of frames in one rep.
	DefaultWindowSize = 20
	// DefaultMinValues is the minimum keypoint vector length (x and y counted
	// separately) a frame needs before it is buffered.
	DefaultMinValues = 20
)

// Config holds the two gates. They are independent even though the defaults coincide.
type Config struct {
	WindowSize int
	MinValues  int
}

// DefaultConfig returns the reference window and landmark gate.
func DefaultConfig() Config {
	return Config{WindowSize: DefaultWindowSize, MinValues: DefaultMinValues}
}

// Segmenter accumulates vectors until a full window is available, then emits it as a Rep.
// It is not safe for concurrent use; the pipeline owns one per video.
type Segmenter struct {
	cfg       Config
	current   [][]float64
	completed []types.Rep
}

// New creates a Segmenter. A non-positive WindowSize falls back to the default.
func New(cfg Config) *Segmenter {
	if cfg.WindowSize < 1 {
		cfg.WindowSize = DefaultWindowSize
	}
	if cfg.MinValues < 0 {
		cfg.MinValues = 0
	}
	return &Segmenter{
		cfg:     cfg,
		current: make([][]float64, 0, cfg.WindowSize),
	}
}

// Config returns the effective configuration.
func (s *Segmenter) Config() Config {
	return s.cfg
}

// Push buffers v if it passes the minimum-length gate. When the buffer fills
// up it is copied out as a Rep, recorded, returned with ok=true, and cleared.
func (s *Segmenter) Push(v []float64) (rep types.Rep, ok bool) {
	if len(v) < s.cfg.MinValues {
		return nil, false
	}
	s.current = append(s.current, append([]float64(nil), v...))
	if len(s.current) < s.cfg.WindowSize {
		return nil, false
	}

	rep = types.Rep(s.current).Clone()
	s.completed = append(s.completed, rep)
	s.current = s.current[:0]
	return rep.Clone(), true
}

// Pending is the number of buffered frames not yet part of a rep.
func (s *Segmenter) Pending() int {
	return len(s.current)
}

// Completed returns every rep emitted so far, in order.
func (s *Segmenter) Completed() []types.Rep {
	out := make([]types.Rep, len(s.completed))
	for i, r := range s.completed {
		out[i] = r.Clone()
	}
	return out
}

// Reset drops the buffer and the completed reps.
func (s *Segmenter) Reset() {
	s.current = s.current[:0]
	s.completed = nil
}
