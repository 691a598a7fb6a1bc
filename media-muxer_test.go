package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeRejectsMissingInputs(t *testing.T) {
	dir := t.TempDir()
	muxer := NewFFmpegMuxer(&fakeProber{})

	video := filepath.Join(dir, "video.mp4")
	audio := filepath.Join(dir, "audio.mp3")
	out := filepath.Join(dir, "out.mp4")

	// Both inputs missing.
	_, err := muxer.MergeStrict(context.Background(), video, audio, out)
	require.Error(t, err)
	_, err = muxer.MergeFast(context.Background(), video, audio, out)
	require.Error(t, err)

	// Video present, audio still missing.
	require.NoError(t, writeDummyFile(video))
	_, err = muxer.MergeStrict(context.Background(), video, audio, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing audio input")

	// Nothing should have been produced.
	assert.False(t, fileExists(out))
}

func TestShortestDuration(t *testing.T) {
	tests := []struct {
		name string
		a, b float64
		want float64
	}{
		{"both known", 10.5, 21.0, 10.5},
		{"both known reversed", 30.0, 12.0, 12.0},
		{"only video known", 10.0, 0, 10.0},
		{"only audio known", 0, 25.0, 25.0},
		{"neither known", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, shortestDuration(tt.a, tt.b))
		})
	}
}

func TestLastStderrLine(t *testing.T) {
	assert.Equal(t, "fatal: bad input", lastStderrLine("frame=1\nframe=2\nfatal: bad input\n"))
	assert.Equal(t, "", lastStderrLine(""))
	assert.Equal(t, "single", lastStderrLine("single"))
}
