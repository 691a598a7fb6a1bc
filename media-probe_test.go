package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDurationMissingFileReturnsZero(t *testing.T) {
	probe := NewFFprobe()
	missing := filepath.Join(t.TempDir(), "nope.mp4")

	assert.Equal(t, 0.0, probe.Duration(context.Background(), missing))
}

func TestHasAudioStreamMissingFileReturnsFalse(t *testing.T) {
	probe := NewFFprobe()
	missing := filepath.Join(t.TempDir(), "nope.mp4")

	assert.False(t, probe.HasAudioStream(context.Background(), missing))
}

func TestDurationNonMediaFileReturnsZero(t *testing.T) {
	probe := NewFFprobe()
	path := filepath.Join(t.TempDir(), "not-media.mp4")
	assert.NoError(t, writeDummyFile(path))

	assert.Equal(t, 0.0, probe.Duration(context.Background(), path))
}
