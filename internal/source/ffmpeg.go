// Package source provides frame sources for the pipeline.
package source

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/andresmejia3/repform/internal/types"
	"github.com/andresmejia3/repform/internal/utils"
)

const megabyte = 1024 * 1024

// FFmpegSource decodes a video file into JPEG frames through an ffmpeg child process.
type FFmpegSource struct {
	Path string
	// NthFrame keeps every nth decoded frame (1 keeps all of them).
	NthFrame int

	cmd     *exec.Cmd
	cancel  context.CancelFunc
	stdout  io.ReadCloser
	stderr  bytes.Buffer
	scanner *bufio.Scanner
	decoded int
	done    bool
}

// NewFFmpegSource creates a source for path. Nothing is started until Open.
func NewFFmpegSource(path string, nthFrame int) *FFmpegSource {
	if nthFrame < 1 {
		nthFrame = 1
	}
	return &FFmpegSource{Path: path, NthFrame: nthFrame}
}

func (s *FFmpegSource) Name() string { return s.Path }

// Open starts ffmpeg. The process is tied to ctx.
func (s *FFmpegSource) Open(ctx context.Context) error {
	if s.cmd != nil {
		return fmt.Errorf("source %s already opened", s.Path)
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return fmt.Errorf("ffmpeg not found: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := utils.NewFFmpegCmd(ctx, s.Path)
	cmd.Stderr = &s.stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create FFmpeg stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return fmt.Errorf("failed to start FFmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)

	s.cmd, s.cancel, s.stdout, s.scanner = cmd, cancel, stdout, scanner
	return nil
}

// Next returns the next sampled frame, or io.EOF once ffmpeg has exited cleanly.
func (s *FFmpegSource) Next(ctx context.Context) (types.Frame, error) {
	if s.scanner == nil {
		return types.Frame{}, fmt.Errorf("source %s not opened", s.Path)
	}
	if s.done {
		return types.Frame{}, io.EOF
	}

	for s.scanner.Scan() {
		s.decoded++
		if s.decoded%s.NthFrame != 0 {
			continue
		}
		data := make([]byte, len(s.scanner.Bytes()))
		copy(data, s.scanner.Bytes())
		return types.Frame{Index: s.decoded, Data: data}, nil
	}

	s.done = true
	if err := s.scanner.Err(); err != nil {
		return types.Frame{}, fmt.Errorf("frame scanner failed: %w", err)
	}
	if err := s.cmd.Wait(); err != nil {
		if s.stderr.Len() > 0 {
			return types.Frame{}, fmt.Errorf("FFmpeg execution failed: %w: %s", err, bytes.TrimSpace(s.stderr.Bytes()))
		}
		return types.Frame{}, fmt.Errorf("FFmpeg execution failed: %w", err)
	}
	return types.Frame{}, io.EOF
}

// Close stops ffmpeg if it is still running and releases the pipe.
func (s *FFmpegSource) Close() error {
	if s.cmd == nil {
		return nil
	}
	s.cancel()
	s.stdout.Close()
	if s.cmd.Process != nil && s.cmd.ProcessState == nil {
		// Killed by cancel; the exit status is expected to be non-zero.
		s.cmd.Wait()
	}
	return nil
}
