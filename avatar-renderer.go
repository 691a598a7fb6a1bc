package main

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const renderTimeout = 10 * time.Minute

// RenderRequest carries the inputs for one lip-sync render.
type RenderRequest struct {
	AudioPath  string
	FacePath   string // optional reference face, empty for the default anchor
	OutputPath string
	NewsID     uint
}

// AvatarRenderer produces a lip-synced talking-head video for an audio
// asset. Render is the full-quality variant; RenderSimple is the faster
// fallback tried with identical arguments when the primary yields nothing.
// Both return the output path, or an error when no output file was produced.
type AvatarRenderer interface {
	Render(ctx context.Context, req RenderRequest) (string, error)
	RenderSimple(ctx context.Context, req RenderRequest) (string, error)
}

// CommandRenderer drives an external avatar generator binary. The binary is
// expected to accept --audio/--output/--news-id flags plus an optional
// --face, and a --quality switch selecting the full or simplified model.
type CommandRenderer struct {
	bin     string
	timeout time.Duration
}

// NewCommandRendererFromEnv returns a renderer backed by the binary named in
// AVATAR_GENERATOR_BIN, or nil when the variable is unset. A nil renderer is
// the "not configured" state the pipeline's module check rejects.
func NewCommandRendererFromEnv() *CommandRenderer {
	bin := os.Getenv("AVATAR_GENERATOR_BIN")
	if bin == "" {
		logrus.Warn("AVATAR_GENERATOR_BIN not set, avatar generation unavailable")
		return nil
	}
	return &CommandRenderer{bin: bin, timeout: renderTimeout}
}

func (r *CommandRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	return r.render(ctx, req, "full")
}

func (r *CommandRenderer) RenderSimple(ctx context.Context, req RenderRequest) (string, error) {
	return r.render(ctx, req, "simple")
}

func (r *CommandRenderer) render(ctx context.Context, req RenderRequest, quality string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"--audio", req.AudioPath,
		"--output", req.OutputPath,
		"--news-id", strconv.FormatUint(uint64(req.NewsID), 10),
		"--quality", quality,
	}
	if req.FacePath != "" {
		args = append(args, "--face", req.FacePath)
	}

	logrus.Infof("rendering avatar video (quality=%s) for news_id %d", quality, req.NewsID)

	cmd := exec.CommandContext(ctx, r.bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", errors.Wrapf(err, "avatar generator (%s): %s", quality, lastStderrLine(stderr.String()))
	}
	if _, err := os.Stat(req.OutputPath); err != nil {
		return "", errors.Errorf("avatar generator (%s) exited cleanly but produced no file", quality)
	}
	return req.OutputPath, nil
}
