package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/andresmejia3/repform/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// MockCloser wraps a bytes.Buffer to satisfy io.ReadCloser and io.WriteCloser interfaces.
// This allows us to use in-memory buffers as if they were OS Pipes.
type MockCloser struct {
	*bytes.Buffer
}

func (m *MockCloser) Close() error { return nil }

// newMockWorker returns a worker whose DataPipe already holds payload as one framed response.
func newMockWorker(payload []byte) (*PythonPoseWorker, *MockCloser) {
	stdinMock := &MockCloser{Buffer: new(bytes.Buffer)}
	dataPipeMock := &MockCloser{Buffer: new(bytes.Buffer)}

	binary.Write(dataPipeMock, binary.BigEndian, uint32(len(payload)))
	dataPipeMock.Write(payload)

	return &PythonPoseWorker{
		ID:       1,
		Stdin:    stdinMock,
		DataPipe: dataPipeMock,
		// Cmd is nil because we aren't testing process management, just the protocol
	}, stdinMock
}

func landmarkPayload(lms ...[3]float32) []byte {
	payload := new(bytes.Buffer)
	payload.WriteByte(statusOK)
	binary.Write(payload, binary.BigEndian, uint32(len(lms)))
	for _, lm := range lms {
		binary.Write(payload, binary.BigEndian, int32(lm[0]))
		binary.Write(payload, binary.BigEndian, lm[1])
		binary.Write(payload, binary.BigEndian, lm[2])
	}
	return payload.Bytes()
}

func TestProcessFrame(t *testing.T) {
	w, stdinMock := newMockWorker(landmarkPayload(
		[3]float32{11, 100, 200},
		[3]float32{12, 140.5, 200},
	))

	inputFrame := []byte{0xDE, 0xAD, 0xBE, 0xEF} // Fake image bytes
	lms, err := w.ProcessFrame(inputFrame)
	require.NoError(t, err)

	// Go sent [len][frame] to Python
	sent := stdinMock.Bytes()
	require.Len(t, sent, 4+len(inputFrame))
	assert.Equal(t, uint32(len(inputFrame)), binary.BigEndian.Uint32(sent[:4]))
	assert.Equal(t, inputFrame, sent[4:])

	require.Len(t, lms, 2)
	assert.Equal(t, types.Landmark{ID: 11, X: 100, Y: 200}, lms[0])
	assert.Equal(t, 12, lms[1].ID)
	assert.InDelta(t, 140.5, lms[1].X, 1e-6)
}

func TestProcessFrame_NoPerson(t *testing.T) {
	w, _ := newMockWorker(landmarkPayload())
	lms, err := w.Estimate(context.Background(), types.Frame{Index: 3, Data: []byte("frame")})
	require.NoError(t, err)
	assert.Empty(t, lms)
}

func TestProcessFrame_Error(t *testing.T) {
	// Protocol: [Status:1] [MsgLen] [Msg]
	payload := new(bytes.Buffer)
	payload.WriteByte(statusError)
	errMsg := "cv2.error: could not decode image"
	binary.Write(payload, binary.BigEndian, uint32(len(errMsg)))
	payload.WriteString(errMsg)

	w, _ := newMockWorker(payload.Bytes())
	_, err := w.ProcessFrame([]byte("frame"))

	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrFrameRejected)
	assert.Contains(t, err.Error(), "python worker error: "+errMsg)
}

func TestProcessFrame_Malformed(t *testing.T) {
	truncated := landmarkPayload([3]float32{0, 1, 2})
	truncated = truncated[:len(truncated)-2]

	hugeCount := new(bytes.Buffer)
	hugeCount.WriteByte(statusOK)
	binary.Write(hugeCount, binary.BigEndian, uint32(maxLandmarks+1))

	tests := []struct {
		name         string
		payload      []byte
		wantRejected bool
	}{
		{"empty", []byte{}, false},
		{"unknown status", []byte{7}, false},
		{"truncated landmark", truncated, false},
		{"count over limit", hugeCount.Bytes(), false},
		{"NaN coordinate", landmarkPayload([3]float32{0, float32(math.NaN()), 1}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, _ := newMockWorker(tt.payload)
			_, err := w.ProcessFrame([]byte("frame"))
			require.Error(t, err)
			assert.Equal(t, tt.wantRejected, errors.Is(err, types.ErrFrameRejected))
		})
	}
}

func TestEstimate_Canceled(t *testing.T) {
	w, stdinMock := newMockWorker(landmarkPayload())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := w.Estimate(ctx, types.Frame{Data: []byte("frame")})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, stdinMock.Len(), "nothing should be sent after cancellation")
}

// TestPythonPoseWorker_EndToEnd runs a tiny Python echo worker speaking the
// real protocol over stdin and FD 3.
func TestPythonPoseWorker_EndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping process test in short mode")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	script := filepath.Join(t.TempDir(), "echo_worker.py")
	require.NoError(t, os.WriteFile(script, []byte(`import os, struct, sys
out = os.fdopen(3, "wb")
inp = sys.stdin.buffer
while True:
    hdr = inp.read(4)
    if len(hdr) < 4:
        break
    n = struct.unpack(">I", hdr)[0]
    frame = inp.read(n)
    body = bytes([0]) + struct.pack(">I", 2)
    body += struct.pack(">iff", 11, float(n), 10.0)
    body += struct.pack(">iff", 12, float(n) + 40.0, 10.0)
    out.write(struct.pack(">I", len(body)) + body)
    out.flush()
`), 0644))

	cfg := DefaultConfig()
	cfg.Script = script
	cfg.ReadTimeout = 5 * time.Second

	est, err := NewFactory(cfg)(context.Background(), 0)
	require.NoError(t, err)

	for _, frame := range [][]byte{[]byte("abc"), make([]byte, 100)} {
		lms, err := est.Estimate(context.Background(), types.Frame{Data: frame})
		require.NoError(t, err)
		require.Len(t, lms, 2)
		assert.Equal(t, float64(len(frame)), lms[0].X)
		assert.Equal(t, float64(len(frame))+40, lms[1].X)
	}
	assert.NoError(t, est.Close())
}

func TestPythonPoseWorker_StuckWorkerIsKilled(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping process test in short mode")
	}
	if _, err := exec.LookPath("python3"); err != nil {
		t.Skip("python3 not installed")
	}

	// Reads one frame, then never answers.
	script := filepath.Join(t.TempDir(), "stuck_worker.py")
	require.NoError(t, os.WriteFile(script, []byte(`import sys, time
sys.stdin.buffer.read(4)
time.sleep(20)
`), 0644))

	cfg := DefaultConfig()
	cfg.Script = script
	cfg.ReadTimeout = 200 * time.Millisecond

	est, err := NewFactory(cfg)(context.Background(), 0)
	require.NoError(t, err)

	start := time.Now()
	_, err = est.Estimate(context.Background(), types.Frame{Data: []byte("abc")})
	require.Error(t, err)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)

	start = time.Now()
	assert.Error(t, est.Close())
	assert.Less(t, time.Since(start), closeGrace+5*time.Second)
}

func TestNewFactory_MissingInterpreter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Python = filepath.Join(t.TempDir(), "no-such-python")
	_, err := NewFactory(cfg)(context.Background(), 0)
	assert.Error(t, err)
}
