package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"github.com/andresmejia3/repform/internal/pipeline"
	"github.com/andresmejia3/repform/internal/types"
	"github.com/andresmejia3/repform/internal/utils" // Using the SafeCommand wrapper
)

const (
	statusOK    = 0
	statusError = 1

	// maxLandmarks bounds a response so a corrupt header cannot trigger a huge allocation.
	maxLandmarks = 1024

	// closeGrace is how long Close waits for the process to exit on its own before killing it.
	closeGrace = 2 * time.Second
)

// Config describes how to launch the pose process.
type Config struct {
	Python      string
	Script      string
	Args        []string
	ReadTimeout time.Duration
}

// DefaultConfig runs python/pose_worker.py with python3.
func DefaultConfig() Config {
	return Config{
		Python:      "python3",
		Script:      "python/pose_worker.py",
		ReadTimeout: 30 * time.Second,
	}
}

// PythonPoseWorker talks to one pose-estimation child process.
// Frames go in on stdin; answers come back on a dedicated pipe (FD 3) so
// library chatter on stdout cannot corrupt the protocol.
type PythonPoseWorker struct {
	ID          int
	Cmd         *utils.SafeCommand
	Stdin       io.WriteCloser
	DataPipe    io.ReadCloser
	ReadTimeout time.Duration
}

// NewPythonPoseWorker starts the child process.
func NewPythonPoseWorker(ctx context.Context, id int, cfg Config) (*PythonPoseWorker, error) {
	args := append([]string{"-u", cfg.Script}, cfg.Args...)
	py := utils.NewSafeCommand(ctx, cfg.Python, args...)

	// Create a side-channel pipe (FD 3) for clean data transfer
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create pipe: %w", err)
	}
	// Pass the write-end to the child process. It will appear as FD 3.
	py.Cmd.ExtraFiles = []*os.File{w}

	stdin, err := py.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := py.Start(); err != nil {
		w.Close()
		r.Close()
		return nil, fmt.Errorf("worker %d failed to start: %w", id, err)
	}

	// Close the write-end in the parent so only the child holds it
	w.Close()

	return &PythonPoseWorker{
		ID:          id,
		Cmd:         py,
		Stdin:       stdin,
		DataPipe:    r,
		ReadTimeout: cfg.ReadTimeout,
	}, nil
}

// NewFactory adapts the worker to the pipeline's estimator factory.
func NewFactory(cfg Config) pipeline.EstimatorFactory {
	return func(ctx context.Context, workerID int) (pipeline.PoseEstimator, error) {
		w, err := NewPythonPoseWorker(ctx, workerID, cfg)
		if err != nil {
			return nil, err
		}
		return w, nil
	}
}

// Communicate sends one length-prefixed request and reads one length-prefixed response.
func (w *PythonPoseWorker) Communicate(data []byte) ([]byte, error) {
	// Protocol: [Length][Data]
	if err := binary.Write(w.Stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := w.Stdin.Write(data); err != nil {
		return nil, err
	}

	if d, ok := w.DataPipe.(interface{ SetReadDeadline(time.Time) error }); ok && w.ReadTimeout > 0 {
		d.SetReadDeadline(time.Now().Add(w.ReadTimeout))
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(w.DataPipe, header); err != nil {
		return nil, err // This is where we catch the "ModuleNotFoundError" crash
	}

	respLen := binary.BigEndian.Uint32(header)
	respBody := make([]byte, respLen)
	_, err := io.ReadFull(w.DataPipe, respBody)
	return respBody, err
}

// ProcessFrame sends a JPEG frame and decodes the landmarks.
// Response: [Status u8] then
//
//	status 0: [Count u32] { [ID i32] [X f32] [Y f32] } * Count
//	status 1: [MsgLen u32] [Msg]
func (w *PythonPoseWorker) ProcessFrame(data []byte) ([]types.Landmark, error) {
	resp, err := w.Communicate(data)
	if err != nil {
		return nil, err
	}
	return decodeLandmarks(resp)
}

// Estimate implements pipeline.PoseEstimator.
func (w *PythonPoseWorker) Estimate(ctx context.Context, frame types.Frame) ([]types.Landmark, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return w.ProcessFrame(frame.Data)
}

func decodeLandmarks(resp []byte) ([]types.Landmark, error) {
	r := bytes.NewReader(resp)

	status, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("empty worker response: %w", err)
	}

	switch status {
	case statusOK:
	case statusError:
		var msgLen uint32
		if err := binary.Read(r, binary.BigEndian, &msgLen); err != nil {
			return nil, fmt.Errorf("truncated error response: %w", err)
		}
		msg := make([]byte, msgLen)
		if _, err := io.ReadFull(r, msg); err != nil {
			return nil, fmt.Errorf("truncated error response: %w", err)
		}
		return nil, fmt.Errorf("python worker error: %s: %w", msg, types.ErrFrameRejected)
	default:
		return nil, fmt.Errorf("unknown worker status %d", status)
	}

	var count uint32
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, fmt.Errorf("truncated landmark count: %w", err)
	}
	if count > maxLandmarks {
		return nil, fmt.Errorf("landmark count %d exceeds limit %d", count, maxLandmarks)
	}

	landmarks := make([]types.Landmark, 0, count)
	for i := uint32(0); i < count; i++ {
		var raw struct {
			ID int32
			X  float32
			Y  float32
		}
		if err := binary.Read(r, binary.BigEndian, &raw); err != nil {
			return nil, fmt.Errorf("truncated landmark %d: %w", i, err)
		}
		if math.IsNaN(float64(raw.X)) || math.IsNaN(float64(raw.Y)) {
			return nil, fmt.Errorf("landmark %d has NaN coordinates: %w", raw.ID, types.ErrFrameRejected)
		}
		landmarks = append(landmarks, types.Landmark{ID: int(raw.ID), X: float64(raw.X), Y: float64(raw.Y)})
	}
	return landmarks, nil
}

// Close shuts down the pipes and waits for the process to exit.
// A process still running after closeGrace (e.g. stuck on a frame that
// already timed out) is killed.
func (w *PythonPoseWorker) Close() error {
	w.Stdin.Close()
	w.DataPipe.Close()
	if w.Cmd == nil {
		return nil
	}

	done := make(chan error, 1)
	go func() { done <- w.Cmd.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-time.After(closeGrace):
		w.Cmd.Process.Kill()
		err = <-done
	}
	if err != nil {
		// Stderr is safe to read once Wait has returned.
		if w.Cmd.Stderr.Len() > 0 {
			return fmt.Errorf("worker %d exited: %w: %s", w.ID, err, bytes.TrimSpace(w.Cmd.Stderr.Bytes()))
		}
		return fmt.Errorf("worker %d exited: %w", w.ID, err)
	}
	return nil
}
