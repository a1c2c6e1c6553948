package pose

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
)

func TestSmooth_TrailingWindow(t *testing.T) {
	seq := [][]float64{{0, 3}, {3, 6}, {6, 9}, {9, 0}}

	got := Smooth(seq, 3)
	want := [][]float64{
		{0, 3},
		{1.5, 4.5},
		{3, 6},
		{6, 5},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("Smooth() mismatch (-want +got):\n%s", diff)
	}
}

func TestSmooth_LengthAndNoMutation(t *testing.T) {
	seq := [][]float64{{1}, {2}, {3}, {4}, {5}}
	orig := [][]float64{{1}, {2}, {3}, {4}, {5}}

	got := Smooth(seq, 2)
	assert.Len(t, got, len(seq))
	assert.Equal(t, orig, seq)
	assert.Empty(t, Smooth(nil, 3))
}

func TestSmooth_WindowOneIsIdentity(t *testing.T) {
	seq := [][]float64{{1, 2}, {5, 7}}
	assert.Equal(t, seq, Smooth(seq, 1))
	assert.Equal(t, seq, Smooth(seq, 0))
}

func TestSmoother_MatchesBatch(t *testing.T) {
	seq := make([][]float64, 12)
	for i := range seq {
		seq[i] = []float64{float64(i * i), float64(-i), 0.1 * float64(i)}
	}

	for _, window := range []int{1, 2, 3, 5, 20} {
		batch := Smooth(seq, window)
		s := NewSmoother(window)
		for i, v := range seq {
			if diff := cmp.Diff(batch[i], s.Push(v)); diff != "" {
				t.Fatalf("window %d index %d (-batch +stream):\n%s", window, i, diff)
			}
		}
	}
}

func TestSmoother_Reset(t *testing.T) {
	s := NewSmoother(3)
	s.Push([]float64{10})
	s.Push([]float64{20})
	s.Reset()
	assert.Equal(t, []float64{4}, s.Push([]float64{4}))
}
