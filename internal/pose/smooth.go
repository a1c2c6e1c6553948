package pose

import "gonum.org/v1/gonum/floats"

// DefaultSmoothWindow is the trailing window used when none is configured.
const DefaultSmoothWindow = 3

// Smooth replaces each vector with the mean of itself and up to window-1
// predecessors. There is no lookahead, so the first window-1 outputs average
// over fewer inputs. The result has the same length as seq.
func Smooth(seq [][]float64, window int) [][]float64 {
	s := NewSmoother(window)
	out := make([][]float64, len(seq))
	for i, v := range seq {
		out[i] = s.Push(v)
	}
	return out
}

// Smoother is the streaming form of Smooth: feed vectors one at a time and
// get the same outputs Smooth would produce for the prefix seen so far.
type Smoother struct {
	window int
	recent [][]float64
}

// NewSmoother creates a smoother; a window below 1 is treated as 1.
func NewSmoother(window int) *Smoother {
	if window < 1 {
		window = 1
	}
	return &Smoother{window: window}
}

// Push adds v to the trailing window and returns the current mean.
// Vectors of a different length than the ones already held restart the window.
func (s *Smoother) Push(v []float64) []float64 {
	if len(s.recent) > 0 && len(s.recent[0]) != len(v) {
		s.recent = s.recent[:0]
	}
	s.recent = append(s.recent, append([]float64(nil), v...))
	if len(s.recent) > s.window {
		s.recent = s.recent[len(s.recent)-s.window:]
	}

	mean := make([]float64, len(v))
	for _, r := range s.recent {
		floats.Add(mean, r)
	}
	floats.Scale(1/float64(len(s.recent)), mean)
	return mean
}

// Reset empties the window.
func (s *Smoother) Reset() {
	s.recent = nil
}
