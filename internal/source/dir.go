package source

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/andresmejia3/repform/internal/types"
)

// DirSource replays JPEG frames previously dumped into a directory,
// e.g. frames_15.jpg, frames_30.jpg, ... ordered by their frame number.
type DirSource struct {
	Dir      string
	NthFrame int

	files []string
	pos   int
}

// NewDirSource creates a source over dir. Nothing is read until Open.
func NewDirSource(dir string, nthFrame int) *DirSource {
	if nthFrame < 1 {
		nthFrame = 1
	}
	return &DirSource{Dir: dir, NthFrame: nthFrame}
}

func (s *DirSource) Name() string { return s.Dir }

// Open lists the frames in the directory.
func (s *DirSource) Open(ctx context.Context) error {
	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		return err
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".jpg", ".jpeg":
			files = append(files, e.Name())
		}
	}
	if len(files) == 0 {
		return fmt.Errorf("no JPEG frames in %s", s.Dir)
	}

	slices.SortFunc(files, func(a, b string) int {
		if c := cmp.Compare(frameNumber(a), frameNumber(b)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	s.files = files
	s.pos = 0
	return nil
}

// Next reads the next sampled frame from disk. Frame indexes are 1-based
// positions in the sorted listing.
func (s *DirSource) Next(ctx context.Context) (types.Frame, error) {
	for s.pos < len(s.files) {
		s.pos++
		if s.pos%s.NthFrame != 0 {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.Dir, s.files[s.pos-1]))
		if err != nil {
			return types.Frame{}, err
		}
		return types.Frame{Index: s.pos, Data: data}, nil
	}
	return types.Frame{}, io.EOF
}

func (s *DirSource) Close() error {
	s.files = nil
	return nil
}

// frameNumber extracts the trailing number of a file stem, -1 if there is none.
func frameNumber(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	i := len(stem)
	for i > 0 && unicode.IsDigit(rune(stem[i-1])) {
		i--
	}
	n, err := strconv.Atoi(stem[i:])
	if err != nil {
		return -1
	}
	return n
}
