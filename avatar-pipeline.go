package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Pipeline stage names, in execution order.
const (
	stageInitialSetup      = "Initial Setup"
	stageScriptGeneration  = "Script Generation"
	stageAudioGeneration   = "Audio Generation"
	stageModuleCheck       = "Module Check"
	stageVideoGeneration   = "Video Generation"
	stageAudioVerification = "Audio Verification"
	stageFinalValidation   = "Final Validation"
)

// scriptStore ensures an anchoring script exists for an article.
type scriptStore interface {
	GenerateOrGetScript(ctx context.Context, article *NewsArticle) (*AnchoringScript, bool, error)
}

// audioStore ensures a TTS audio asset exists for an article.
type audioStore interface {
	EnsureAudio(ctx context.Context, newsID uint) (string, error)
}

// mediaMuxer recomposes a video's picture track with a separate audio track.
type mediaMuxer interface {
	MergeStrict(ctx context.Context, videoPath, audioPath, outputPath string) (string, error)
	MergeFast(ctx context.Context, videoPath, audioPath, outputPath string) (string, error)
}

// AvatarPipeline drives the end-to-end avatar video generation sequence:
// ensure script, ensure audio, render (primary then simplified), verify the
// result carries audio, remediate by re-muxing when it doesn't, and report a
// single consolidated verdict. Runs for the same article id are serialized;
// runs for different ids are independent.
type AvatarPipeline struct {
	db       DBClient
	scripts  scriptStore
	audio    audioStore
	renderer AvatarRenderer // nil means not configured
	probe    mediaProber
	muxer    mediaMuxer
	videoDir string
	facePath string // optional reference face for the renderer

	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

func NewAvatarPipeline(db DBClient, scripts scriptStore, audio audioStore, renderer AvatarRenderer, probe mediaProber, muxer mediaMuxer, videoDir, facePath string) *AvatarPipeline {
	return &AvatarPipeline{
		db:       db,
		scripts:  scripts,
		audio:    audio,
		renderer: renderer,
		probe:    probe,
		muxer:    muxer,
		videoDir: videoDir,
		facePath: facePath,
		locks:    make(map[uint]*sync.Mutex),
	}
}

// VideoPath returns the canonical output location for an article's video.
func (p *AvatarPipeline) VideoPath(newsID uint) string {
	return filepath.Join(p.videoDir, fmt.Sprintf("%d.mp4", newsID))
}

// lockFor returns the mutex serializing runs for one article id. Asset reuse
// checks are not atomic with creation, so concurrent runs for the same id
// would race on the shared output paths.
func (p *AvatarPipeline) lockFor(newsID uint) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[newsID]
	if !ok {
		l = &sync.Mutex{}
		p.locks[newsID] = l
	}
	return l
}

// Run executes the full pipeline for one article and always returns a
// RunResult: status "error" with the failed stage for fatal failures, or
// status "success" with has_audio possibly false for degraded delivery.
func (p *AvatarPipeline) Run(ctx context.Context, newsID uint) *RunResult {
	lock := p.lockFor(newsID)
	lock.Lock()
	defer lock.Unlock()

	runID := uuid.NewString()
	run := &pipelineRun{
		runID:   runID,
		newsID:  newsID,
		started: time.Now(),
		log:     logrus.WithFields(logrus.Fields{"news_id": newsID, "run_id": runID}),
	}
	run.log.Info("avatar generation started")

	result := p.execute(ctx, run)
	result.ExecutionTime = time.Since(run.started)
	result.Steps = run.steps

	if result.Succeeded() {
		run.log.Infof("avatar generation completed in %.2fs (has_audio=%t)",
			result.ExecutionTime.Seconds(), result.HasAudio)
	} else {
		run.log.Errorf("avatar generation failed during %q: %v", result.FailedStage, result.Err)
	}
	return result
}

// pipelineRun holds the per-invocation step log and identifiers.
type pipelineRun struct {
	runID   string
	newsID  uint
	started time.Time
	steps   []StepRecord
	log     *logrus.Entry
}

func (r *pipelineRun) startStep(name string) int {
	r.log.Infof("STEP STARTED: %s", name)
	r.steps = append(r.steps, StepRecord{Name: name, StartedAt: time.Now()})
	return len(r.steps) - 1
}

func (r *pipelineRun) endStep(idx int, success bool, detail string) {
	step := &r.steps[idx]
	step.EndedAt = time.Now()
	step.Success = success
	step.Detail = detail

	status := "SUCCESS"
	if !success {
		status = "FAILED"
	}
	r.log.Infof("STEP %s: %s (%.2fs) %s", status, step.Name, step.Duration().Seconds(), detail)
}

func (r *pipelineRun) failure(stage string, err error) *RunResult {
	return &RunResult{
		RunID:       r.runID,
		Status:      "error",
		NewsID:      r.newsID,
		FailedStage: stage,
		Err:         err,
	}
}

func (p *AvatarPipeline) execute(ctx context.Context, run *pipelineRun) *RunResult {
	// INITIAL_SETUP: resolve the article.
	idx := run.startStep(stageInitialSetup)
	article, err := p.db.GetArticle(run.newsID)
	if err != nil {
		run.endStep(idx, false, err.Error())
		return run.failure(stageInitialSetup, err)
	}
	if article == nil {
		run.endStep(idx, false, fmt.Sprintf("no article id=%d", run.newsID))
		return run.failure(stageInitialSetup, ErrArticleNotFound)
	}
	run.endStep(idx, true, fmt.Sprintf("processing: %s", article.Title))

	if err := ctx.Err(); err != nil {
		return run.failure(stageInitialSetup, err)
	}

	// SCRIPT_GENERATION: create a script only if none exists.
	idx = run.startStep(stageScriptGeneration)
	_, created, err := p.scripts.GenerateOrGetScript(ctx, article)
	if err != nil {
		run.endStep(idx, false, err.Error())
		return run.failure(stageScriptGeneration, err)
	}
	if created {
		run.endStep(idx, true, "created script")
	} else {
		run.endStep(idx, true, "existing script")
	}

	if err := ctx.Err(); err != nil {
		return run.failure(stageScriptGeneration, err)
	}

	// AUDIO_GENERATION: reuse or synthesize the TTS asset.
	idx = run.startStep(stageAudioGeneration)
	audioPath, err := p.audio.EnsureAudio(ctx, run.newsID)
	if err != nil {
		run.endStep(idx, false, err.Error())
		return run.failure(stageAudioGeneration, err)
	}
	run.endStep(idx, true, fmt.Sprintf("audio at %s", audioPath))

	if err := ctx.Err(); err != nil {
		return run.failure(stageAudioGeneration, err)
	}

	// MODULE_CHECK: no degraded rendering path exists without the renderer.
	idx = run.startStep(stageModuleCheck)
	if p.renderer == nil {
		run.endStep(idx, false, "avatar renderer missing")
		return run.failure(stageModuleCheck, ErrRendererUnavailable)
	}
	run.endStep(idx, true, "avatar renderer ready")

	// VIDEO_GENERATION: primary render, then the simplified variant with
	// identical arguments, then give up.
	idx = run.startStep(stageVideoGeneration)
	outputPath := p.VideoPath(run.newsID)
	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		run.endStep(idx, false, err.Error())
		return run.failure(stageVideoGeneration, errors.Wrap(err, "failed to create video directory"))
	}

	req := RenderRequest{
		AudioPath:  audioPath,
		FacePath:   p.facePath,
		OutputPath: outputPath,
		NewsID:     run.newsID,
	}
	videoPath, renderErr := p.renderer.Render(ctx, req)
	if renderErr != nil || !fileExists(videoPath) {
		run.log.Warnf("primary avatar generation failed, trying simplified method: %v", renderErr)
		videoPath, renderErr = p.renderer.RenderSimple(ctx, req)
	}
	if renderErr != nil || !fileExists(videoPath) {
		run.endStep(idx, false, "no output produced by avatar generators")
		if renderErr == nil {
			renderErr = ErrVideoGenerationFailed
		}
		return run.failure(stageVideoGeneration, renderErr)
	}
	run.endStep(idx, true, fmt.Sprintf("video created: %s", videoPath))

	if err := ctx.Err(); err != nil {
		return run.failure(stageVideoGeneration, err)
	}

	// AUDIO_VERIFICATION: best-effort. A video without audio is degraded
	// but still deliverable.
	idx = run.startStep(stageAudioVerification)
	hasAudio := p.probe.HasAudioStream(ctx, outputPath)
	if hasAudio {
		run.endStep(idx, true, "audio present in generated video")
	} else {
		run.log.Warn("generated video missing audio, attempting emergency merge")
		restored := p.emergencyMerge(ctx, run, outputPath, audioPath)
		if restored {
			hasAudio = p.probe.HasAudioStream(ctx, outputPath)
			run.endStep(idx, true, "audio restored by emergency merge")
		} else {
			run.endStep(idx, false, "audio not restored after merges")
		}
	}

	// FINAL_VALIDATION: guard against external deletion, gather metadata.
	idx = run.startStep(stageFinalValidation)
	info, err := os.Stat(outputPath)
	if err != nil {
		run.endStep(idx, false, "final file missing")
		return run.failure(stageFinalValidation, errors.New("final output file not found"))
	}

	sizeMB := float64(info.Size()) / (1024 * 1024)
	duration := 0.0
	if hasAudio {
		duration = p.probe.Duration(ctx, outputPath)
		if duration == 0 {
			duration = p.probe.Duration(ctx, audioPath)
		}
	}
	run.endStep(idx, true, fmt.Sprintf("size: %.1fMB duration: %.2fs audio: %t", sizeMB, duration, hasAudio))

	return &RunResult{
		RunID:           run.runID,
		Status:          "success",
		NewsID:          run.newsID,
		Title:           article.Title,
		VideoPath:       outputPath,
		HasAudio:        hasAudio,
		FileSizeMB:      sizeMB,
		DurationSeconds: duration,
	}
}

// emergencyMerge re-muxes the rendered video with the standalone audio
// asset, strict strategy first, then fast. On the first success the primary
// output is atomically replaced. Returns whether any merge succeeded.
func (p *AvatarPipeline) emergencyMerge(ctx context.Context, run *pipelineRun, outputPath, audioPath string) bool {
	emergencyPath := outputPath + ".emergency.mp4"
	defer os.Remove(emergencyPath)

	merges := []struct {
		name string
		fn   func(context.Context, string, string, string) (string, error)
	}{
		{"strict", p.muxer.MergeStrict},
		{"fast", p.muxer.MergeFast},
	}

	for _, merge := range merges {
		run.log.Infof("trying %s merge", merge.name)
		merged, err := merge.fn(ctx, outputPath, audioPath, emergencyPath)
		if err != nil || !fileExists(merged) {
			run.log.Warnf("%s merge failed: %v", merge.name, err)
			continue
		}
		if err := os.Rename(emergencyPath, outputPath); err != nil {
			run.log.Warnf("could not replace output with merged file: %v", err)
			continue
		}
		run.log.Infof("emergency merge succeeded with %s strategy", merge.name)
		return true
	}
	return false
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}
