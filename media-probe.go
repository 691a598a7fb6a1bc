package main

import (
	"context"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	probeDurationTimeout = 30 * time.Second
	probeAudioTimeout    = 20 * time.Second
)

// FFprobe inspects media files. Probe results are advisory: every failure
// (missing tool, missing file, timeout, unparsable output) resolves to a
// zero value instead of an error.
type FFprobe struct {
	bin string
}

func NewFFprobe() *FFprobe {
	return &FFprobe{bin: "ffprobe"}
}

// Duration returns the media duration in seconds, or 0.0 when it cannot be
// determined.
func (p *FFprobe) Duration(ctx context.Context, path string) float64 {
	ctx, cancel := context.WithTimeout(ctx, probeDurationTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	).Output()
	if err != nil {
		logrus.Warnf("could not get duration for %s: %v", path, err)
		return 0.0
	}

	seconds, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		logrus.Warnf("could not parse duration %q for %s: %v", strings.TrimSpace(string(out)), path, err)
		return 0.0
	}
	return seconds
}

// HasAudioStream reports whether the file contains at least one audio
// stream. Any probe failure counts as "no audio".
func (p *FFprobe) HasAudioStream(ctx context.Context, path string) bool {
	ctx, cancel := context.WithTimeout(ctx, probeAudioTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, p.bin,
		"-v", "error",
		"-select_streams", "a:0",
		"-show_entries", "stream=codec_type",
		"-of", "csv=p=0",
		path,
	).Output()
	if err != nil {
		logrus.Warnf("audio stream probe failed for %s: %v", path, err)
		return false
	}
	return strings.Contains(string(out), "audio")
}
