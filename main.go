package main

import (
	"flag"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

func main() {
	var (
		port          string
		scheduleFetch bool
		fetchInterval time.Duration
	)
	flag.StringVar(&port, "port", ":8000", "listen address")
	flag.BoolVar(&scheduleFetch, "schedule", false, "periodically refresh headlines in the background")
	flag.DurationVar(&fetchInterval, "fetch-interval", 2*time.Hour, "interval between scheduled fetches")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		logrus.Warnf("error loading .env file: %v", err)
	}

	db, err := initDB()
	if err != nil {
		logrus.Fatalf("error initializing database: %v", err)
	}

	mediaDir := os.Getenv("MEDIA_DIR")
	if mediaDir == "" {
		mediaDir = "media"
	}
	audioDir := filepath.Join(mediaDir, "news_audios")
	videoDir := filepath.Join(mediaDir, "news_videos")
	for _, dir := range []string{audioDir, videoDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			logrus.Fatalf("error creating media directory %s: %v", dir, err)
		}
	}

	scripts := NewScriptGenerator(db)
	audio := NewAudioGenerator(db, audioDir)
	probe := NewFFprobe()
	muxer := NewFFmpegMuxer(probe)

	// The renderer is an injected collaborator; nil means the module check
	// stage rejects avatar runs.
	var renderer AvatarRenderer
	if r := NewCommandRendererFromEnv(); r != nil {
		renderer = r
	}

	pipeline := NewAvatarPipeline(db, scripts, audio, renderer, probe, muxer,
		videoDir, os.Getenv("ANCHOR_FACE_PATH"))

	if scheduleFetch {
		scheduler := NewNewsScheduler(db, fetchInterval)
		scheduler.Start()
		defer scheduler.Stop()
	}

	server := NewAppServer(db, NewSummarizer(), scripts, audio, pipeline,
		probe, muxer, NewVoiceCatalog(), videoDir)
	if err := server.Start(port); err != nil {
		logrus.Fatalf("failed to run server: %v", err)
	}
}
