package main

import (
	"fmt"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

func respondError(c *gin.Context, statusCode int, err error) {
	logrus.Errorf("%s %s %d: %v", c.Request.Method, c.Request.URL.Path, statusCode, err)
	c.JSON(statusCode, gin.H{"error": err.Error()})
}

// fetchNewsHandler triggers a headline ingestion round.
// Optional query: ?category=technology
func (s *AppServer) fetchNewsHandler(c *gin.Context) {
	category := c.Query("category")
	created, err := FetchAndStoreNews(c.Request.Context(), s.db, category)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"message": "News fetched and stored successfully!",
		"created": created,
	})
}

type articleResponse struct {
	NewsArticle
	Summary string `json:"summary"`
}

// showNewsHandler lists stored articles, newest first, with AI summaries.
func (s *AppServer) showNewsHandler(c *gin.Context) {
	articles, err := s.db.ListArticles(c.Query("category"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}

	response := make([]articleResponse, 0, len(articles))
	for i := range articles {
		response = append(response, articleResponse{
			NewsArticle: articles[i],
			Summary:     s.summarizer.SummaryFor(c.Request.Context(), &articles[i]),
		})
	}
	c.JSON(http.StatusOK, response)
}

// showNewsScriptHandler lists anchoring scripts.
func (s *AppServer) showNewsScriptHandler(c *gin.Context) {
	scripts, err := s.db.ListScripts(c.Query("category"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, scripts)
}

// askGeminiHandler generates anchoring scripts for one article (?news_id=)
// or for every article missing one.
func (s *AppServer) askGeminiHandler(c *gin.Context) {
	var articles []NewsArticle

	newsID := c.Query("news_id")
	if newsID == "" {
		var body struct {
			NewsID string `json:"news_id"`
		}
		if err := c.ShouldBindJSON(&body); err == nil {
			newsID = body.NewsID
		}
	}

	if newsID != "" {
		id, err := parseNewsID(newsID)
		if err != nil {
			respondError(c, http.StatusBadRequest, err)
			return
		}
		article, err := s.db.GetArticle(id)
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		if article == nil {
			respondError(c, http.StatusNotFound, errors.Errorf("no news article found with ID %d", id))
			return
		}
		articles = []NewsArticle{*article}
	} else {
		all, err := s.db.ListArticles("")
		if err != nil {
			respondError(c, http.StatusInternalServerError, err)
			return
		}
		articles = all
	}

	created, skipped, failed := 0, 0, 0
	for i := range articles {
		_, wasCreated, err := s.scripts.GenerateOrGetScript(c.Request.Context(), &articles[i])
		switch {
		case err != nil:
			failed++
			logrus.Warnf("failed to generate script for article id=%d: %v", articles[i].ID, err)
		case wasCreated:
			created++
		default:
			skipped++
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Script generation completed.",
		"details": gin.H{
			"created":         created,
			"skipped":         skipped,
			"failed":          failed,
			"total_processed": len(articles),
		},
	})
}

// ttsHandler ensures the article's TTS audio exists and returns it as an
// MP3 attachment.
func (s *AppServer) ttsHandler(c *gin.Context) {
	id, err := parseNewsID(c.Param("news_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	article, err := s.db.GetArticle(id)
	if err != nil {
		respondError(c, http.StatusInternalServerError, err)
		return
	}
	if article == nil {
		respondError(c, http.StatusNotFound, errors.Errorf("no news article found with ID %d", id))
		return
	}

	audioPath, err := s.audio.EnsureAudio(c.Request.Context(), id)
	if err != nil {
		respondError(c, http.StatusNotFound, err)
		return
	}

	c.FileAttachment(audioPath, filepath.Base(audioPath))
}

// avatarHandler runs the full avatar video pipeline for one article.
func (s *AppServer) avatarHandler(c *gin.Context) {
	id, err := parseNewsID(c.Param("news_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	result := s.pipeline.Run(c.Request.Context(), id)
	if !result.Succeeded() {
		status := http.StatusInternalServerError
		if errors.Is(result.Err, ErrArticleNotFound) {
			status = http.StatusNotFound
		}
		respondError(c, status, errors.Wrapf(result.Err, "pipeline failed during %q", result.FailedStage))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":           result.Status,
		"news_id":          strconv.FormatUint(uint64(result.NewsID), 10),
		"video_url":        fmt.Sprintf("/news_videos/%d.mp4", result.NewsID),
		"execution_time":   fmt.Sprintf("%.2fs", result.ExecutionTime.Seconds()),
		"has_audio":        result.HasAudio,
		"video_path":       result.VideoPath,
		"file_size_mb":     round2(result.FileSizeMB),
		"duration_seconds": round2(result.DurationSeconds),
		"title":            result.Title,
		"steps":            result.Steps,
	})
}

// videoStatusHandler reports existence, audio presence and metadata of the
// article's rendered video.
func (s *AppServer) videoStatusHandler(c *gin.Context) {
	id, err := parseNewsID(c.Param("news_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	videoPath := s.pipeline.VideoPath(id)
	info, err := os.Stat(videoPath)
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"exists": false})
		return
	}

	hasAudio := s.probe.HasAudioStream(c.Request.Context(), videoPath)
	duration := 0.0
	if hasAudio {
		duration = s.probe.Duration(c.Request.Context(), videoPath)
	}

	c.JSON(http.StatusOK, gin.H{
		"exists":           true,
		"has_audio":        hasAudio,
		"size_mb":          round2(float64(info.Size()) / (1024 * 1024)),
		"duration_seconds": round2(duration),
		"path":             videoPath,
	})
}

// checkVideoHandler is a lightweight on-disk existence check.
func (s *AppServer) checkVideoHandler(c *gin.Context) {
	id, err := parseNewsID(c.Param("news_id"))
	if err != nil {
		respondError(c, http.StatusBadRequest, err)
		return
	}

	videoPath := s.pipeline.VideoPath(id)
	exists := fileExists(videoPath)

	response := gin.H{
		"exists":    exists,
		"file_path": videoPath,
	}
	if exists {
		response["video_url"] = fmt.Sprintf("/news_videos/%d.mp4", id)
	}
	c.JSON(http.StatusOK, response)
}

// checkFFmpegHandler reports availability of the media composition tool.
func (s *AppServer) checkFFmpegHandler(c *gin.Context) {
	version, err := s.muxer.Version(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"available": false, "version": nil})
		return
	}
	c.JSON(http.StatusOK, gin.H{"available": true, "version": version})
}

// voicesHandler lists the TTS voice catalog.
func (s *AppServer) voicesHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"voices": s.voices.GetAvailableVoices(c.Request.Context())})
}

// serveVideoHandler serves a rendered video file from the video directory.
func (s *AppServer) serveVideoHandler(c *gin.Context) {
	// filepath.Base guards against path traversal.
	filename := filepath.Base(c.Param("filename"))
	videoPath := filepath.Join(s.videoDir, filename)
	if !fileExists(videoPath) {
		respondError(c, http.StatusNotFound, errors.New("video not found"))
		return
	}
	c.File(videoPath)
}

func parseNewsID(raw string) (uint, error) {
	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0, errors.Errorf("invalid news id %q", raw)
	}
	return uint(id), nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
