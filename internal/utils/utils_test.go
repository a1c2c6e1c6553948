package utils

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitJpeg(t *testing.T) {
	// Construct a stream containing: [Garbage] [JPEG] [JPEG] [Garbage]
	// SOI (Start of Image): FF D8
	// EOI (End of Image):   FF D9

	first := []byte{0xFF, 0xD8, 0x01, 0x02, 0x03, 0xFF, 0xD9}
	second := []byte{0xFF, 0xD8, 0x04, 0xFF, 0xD9}

	streamData := []byte{0x00, 0x00} // Garbage at start
	streamData = append(streamData, first...)
	streamData = append(streamData, second...)
	streamData = append(streamData, []byte{0x00, 0x00}...) // Garbage at end

	scanner := bufio.NewScanner(bytes.NewReader(streamData))
	scanner.Split(SplitJpeg)

	var tokens [][]byte
	for scanner.Scan() {
		tokens = append(tokens, append([]byte(nil), scanner.Bytes()...))
	}
	require.NoError(t, scanner.Err())
	require.Len(t, tokens, 2)
	assert.Equal(t, first, tokens[0])
	assert.Equal(t, second, tokens[1])
}

func TestGenerateVideoID(t *testing.T) {
	// Integration test using the OS filesystem
	tmp, err := os.CreateTemp("", "video_test")
	if err != nil {
		t.Fatal(err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write([]byte("fake video content")); err != nil {
		t.Fatal(err)
	}
	tmp.Close()

	id, err := GenerateVideoID(tmp.Name())
	if err != nil || id == "" {
		t.Errorf("Failed to generate ID: %v", err)
	}

	// Verify Determinism
	id2, _ := GenerateVideoID(tmp.Name())
	if id != id2 {
		t.Errorf("Hash is not deterministic. Got %s, then %s", id, id2)
	}

	// Verify Sensitivity (Change content -> Change ID)
	f, _ := os.OpenFile(tmp.Name(), os.O_APPEND|os.O_WRONLY, 0644)
	f.Write([]byte(" modification"))
	f.Close()

	id3, _ := GenerateVideoID(tmp.Name())
	if id == id3 {
		t.Error("Hash did not change after file modification")
	}

	if _, err := GenerateVideoID("does/not/exist.mp4"); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"30/1", 30, false},
		{"30000/1001", 29.97002997, false},
		{"25", 25, false},
		{"0/0", 0, true},
		{"abc", 0, true},
		{"30/x", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseFrameRate(tt.in)
		if tt.wantErr {
			assert.Error(t, err, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-6, tt.in)
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := NewLogger(&buf, "debug", "json")
	require.NoError(t, err)
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	log.WithField("video", "good_bench.mp4").Info("Video processed")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "good_bench.mp4", entry["video"])

	_, err = NewLogger(&buf, "loud", "text")
	assert.Error(t, err)
	_, err = NewLogger(&buf, "info", "xml")
	assert.Error(t, err)
}

func TestGetVideoFPS(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping ffprobe integration test in short mode")
	}
	for _, bin := range []string{"ffmpeg", "ffprobe"} {
		if _, err := exec.LookPath(bin); err != nil {
			t.Skipf("%s not installed", bin)
		}
	}

	video := filepath.Join(t.TempDir(), "clip.mp4")
	gen := exec.Command("ffmpeg", "-hide_banner", "-loglevel", "error", "-f", "lavfi",
		"-i", "testsrc=duration=1:size=64x64:rate=25", "-pix_fmt", "yuv420p", video)
	if out, err := gen.CombinedOutput(); err != nil {
		t.Skipf("could not generate test clip: %v: %s", err, out)
	}

	ctx := context.Background()
	fps, err := GetVideoFPS(ctx, video)
	require.NoError(t, err)
	assert.InDelta(t, 25.0, fps, 0.01)
	assert.Equal(t, 25, GetTotalFrames(ctx, video))

	_, err = GetVideoFPS(ctx, filepath.Join(t.TempDir(), "missing.mp4"))
	assert.Error(t, err)
}
