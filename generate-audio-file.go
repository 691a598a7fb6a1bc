package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
	"github.com/sirupsen/logrus"
)

// AudioBatchConfig holds configuration for audio generation batching.
type AudioBatchConfig struct {
	MaxConcurrent int           // maximum number of concurrent TTS requests
	RetryDelay    time.Duration // delay between retries on failure
	MaxRetries    int           // maximum number of retries per request
}

var defaultAudioBatchConfig = AudioBatchConfig{
	MaxConcurrent: 2, // TTS can be resource-intensive
	RetryDelay:    8 * time.Second,
	MaxRetries:    3,
}

// maxTTSInputChars guards against provider input limits.
const maxTTSInputChars = 4000

// AudioGenerator synthesizes speech for anchoring scripts. Audio files are
// keyed by article id and reused once they exist.
type AudioGenerator struct {
	db        DBClient
	audioDir  string
	config    AudioBatchConfig
	semaphore chan struct{}
}

func NewAudioGenerator(db DBClient, audioDir string) *AudioGenerator {
	return &AudioGenerator{
		db:        db,
		audioDir:  audioDir,
		config:    defaultAudioBatchConfig,
		semaphore: make(chan struct{}, defaultAudioBatchConfig.MaxConcurrent),
	}
}

// AudioPath returns the canonical on-disk location of an article's audio.
func (a *AudioGenerator) AudioPath(newsID uint) string {
	return filepath.Join(a.audioDir, fmt.Sprintf("script_%d.mp3", newsID))
}

// EnsureAudio returns the path to the article's TTS audio, synthesizing and
// persisting it only when no file exists yet.
func (a *AudioGenerator) EnsureAudio(ctx context.Context, newsID uint) (string, error) {
	script, err := a.db.GetScriptByNewsID(newsID)
	if err != nil {
		return "", err
	}
	if script == nil {
		return "", errors.Errorf("no anchoring script found for news ID %d", newsID)
	}

	text := strings.TrimSpace(script.Script)
	if text == "" {
		return "", ErrEmptyScript
	}

	outputPath := a.AudioPath(newsID)
	if _, err := os.Stat(outputPath); err == nil {
		logrus.Infof("using existing audio file for news_id %d", newsID)
		return outputPath, nil
	}

	if len(text) > maxTTSInputChars {
		text = text[:maxTTSInputChars]
	}

	var lastErr error
	for retry := 0; retry <= a.config.MaxRetries; retry++ {
		if retry > 0 {
			select {
			case <-time.After(a.config.RetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		path, err := a.synthesize(ctx, text, outputPath)
		if err == nil {
			return path, nil
		}
		lastErr = err

		// Only rate limit errors are worth waiting out.
		if !strings.Contains(err.Error(), "rate limit") {
			return "", err
		}
		logrus.Warnf("TTS rate limited for news_id %d, retrying: %v", newsID, err)
	}

	return "", errors.Wrap(lastErr, "max retries exceeded")
}

func (a *AudioGenerator) synthesize(ctx context.Context, text, outputPath string) (string, error) {
	select {
	case a.semaphore <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-a.semaphore }()

	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return "", errors.New("OPENAI_API_KEY environment variable is not set")
	}
	client := openai.NewClient(apiKey)

	resp, err := client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.VoiceAlloy,
		ResponseFormat: openai.SpeechResponseFormatMp3,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to synthesize speech")
	}
	defer resp.Close()

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return "", errors.Wrap(err, "failed to create audio directory")
	}

	out, err := os.Create(outputPath)
	if err != nil {
		return "", errors.Wrap(err, "failed to create audio file")
	}
	defer out.Close()

	written, err := io.Copy(out, resp)
	if err != nil {
		os.Remove(outputPath)
		return "", errors.Wrap(err, "failed to write audio file")
	}
	if written == 0 {
		os.Remove(outputPath)
		return "", ErrEmptyAudio
	}

	logrus.Infof("TTS saved: %s (%d bytes)", outputPath, written)
	return outputPath, nil
}
