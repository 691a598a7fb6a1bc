package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	mergeStrictTimeout = 180 * time.Second
	mergeFastTimeout   = 120 * time.Second
	versionTimeout     = 10 * time.Second
)

// mediaProber is the subset of FFprobe the muxer and pipeline depend on.
type mediaProber interface {
	Duration(ctx context.Context, path string) float64
	HasAudioStream(ctx context.Context, path string) bool
}

// FFmpegMuxer composes a video file's picture track with an audio file's
// sound track. Both strategies are idempotent: re-running with the same
// inputs overwrites the output.
type FFmpegMuxer struct {
	bin   string
	probe mediaProber
}

func NewFFmpegMuxer(probe mediaProber) *FFmpegMuxer {
	return &FFmpegMuxer{bin: "ffmpeg", probe: probe}
}

// MergeStrict re-encodes both streams into fixed codecs, clipping the output
// to the shorter input when both durations are determinable. Broadest
// compatibility, slowest.
func (m *FFmpegMuxer) MergeStrict(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	if err := checkInputs(videoPath, audioPath); err != nil {
		return "", err
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-b:a", "192k",
	}

	videoDuration := m.probe.Duration(ctx, videoPath)
	audioDuration := m.probe.Duration(ctx, audioPath)
	if shortest := shortestDuration(videoDuration, audioDuration); shortest > 0 {
		args = append(args, "-t", strconv.FormatFloat(shortest, 'f', -1, 64))
	}

	args = append(args,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-shortest",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	)

	if err := m.run(ctx, mergeStrictTimeout, args); err != nil {
		return "", errors.Wrap(err, "strict merge failed")
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", errors.New("strict merge produced no output file")
	}
	return outputPath, nil
}

// MergeFast stream-copies the video and re-encodes only the audio, trimmed
// to the shorter stream. Cheaper than MergeStrict but may fail on
// copy-incompatible container/codec combinations.
func (m *FFmpegMuxer) MergeFast(ctx context.Context, videoPath, audioPath, outputPath string) (string, error) {
	if err := checkInputs(videoPath, audioPath); err != nil {
		return "", err
	}

	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outputPath,
	}

	if err := m.run(ctx, mergeFastTimeout, args); err != nil {
		return "", errors.Wrap(err, "fast merge failed")
	}
	if _, err := os.Stat(outputPath); err != nil {
		return "", errors.New("fast merge produced no output file")
	}
	return outputPath, nil
}

// Version reports whether the ffmpeg binary is runnable and its first
// version line.
func (m *FFmpegMuxer) Version(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, versionTimeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, m.bin, "-version").Output()
	if err != nil {
		return "", errors.Wrap(err, "ffmpeg not available")
	}
	lines := strings.SplitN(string(out), "\n", 2)
	return strings.TrimSpace(lines[0]), nil
}

// run executes ffmpeg with a deadline, capturing stderr for diagnostics. A
// timeout surfaces exactly like a non-zero exit.
func (m *FFmpegMuxer) run(ctx context.Context, timeout time.Duration, args []string) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	logrus.Infof("running: %s %s", m.bin, strings.Join(args, " "))

	cmd := exec.CommandContext(ctx, m.bin, args...)
	cmd.Stdin = nil
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "ffmpeg: %s", lastStderrLine(stderr.String()))
	}
	return nil
}

func checkInputs(videoPath, audioPath string) error {
	if _, err := os.Stat(videoPath); err != nil {
		return errors.Errorf("missing video input: %s", videoPath)
	}
	if _, err := os.Stat(audioPath); err != nil {
		return errors.Errorf("missing audio input: %s", audioPath)
	}
	return nil
}

// shortestDuration returns min of the positive durations, or 0 when neither
// is determinable.
func shortestDuration(a, b float64) float64 {
	switch {
	case a > 0 && b > 0:
		if a < b {
			return a
		}
		return b
	case a > 0:
		return a
	case b > 0:
		return b
	default:
		return 0
	}
}

func lastStderrLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) == 0 {
		return ""
	}
	return lines[len(lines)-1]
}
