package main

import (
	"context"
	"os"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Fakes shared by the pipeline and handler tests.

type fakeDB struct {
	articles          map[uint]*NewsArticle
	scripts           map[uint]*AnchoringScript
	createScriptCalls int
}

func newFakeDB(articles ...*NewsArticle) *fakeDB {
	db := &fakeDB{
		articles: make(map[uint]*NewsArticle),
		scripts:  make(map[uint]*AnchoringScript),
	}
	for _, a := range articles {
		db.articles[a.ID] = a
	}
	return db
}

func (f *fakeDB) GetArticle(id uint) (*NewsArticle, error) {
	return f.articles[id], nil
}

func (f *fakeDB) ListArticles(category string) ([]NewsArticle, error) {
	var out []NewsArticle
	for _, a := range f.articles {
		if category == "" || a.Category == category {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f *fakeDB) ArticleExistsByURL(url string) (bool, error) {
	for _, a := range f.articles {
		if a.URL == url {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeDB) CreateArticle(article *NewsArticle) error {
	if article.ID == 0 {
		article.ID = uint(len(f.articles) + 1)
	}
	f.articles[article.ID] = article
	return nil
}

func (f *fakeDB) GetScriptByNewsID(newsID uint) (*AnchoringScript, error) {
	return f.scripts[newsID], nil
}

func (f *fakeDB) ListScripts(category string) ([]AnchoringScript, error) {
	var out []AnchoringScript
	for _, s := range f.scripts {
		out = append(out, *s)
	}
	return out, nil
}

func (f *fakeDB) CreateScript(script *AnchoringScript) error {
	f.createScriptCalls++
	f.scripts[script.NewsID] = script
	return nil
}

type fakeScripts struct {
	calls int
	err   error
}

func (f *fakeScripts) GenerateOrGetScript(ctx context.Context, article *NewsArticle) (*AnchoringScript, bool, error) {
	f.calls++
	if f.err != nil {
		return nil, false, f.err
	}
	return &AnchoringScript{NewsID: article.ID, Script: "good evening"}, true, nil
}

type fakeAudio struct {
	calls int
	path  string
	err   error
}

func (f *fakeAudio) EnsureAudio(ctx context.Context, newsID uint) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.path, nil
}

type fakeRenderer struct {
	primaryErr   error
	simpleErr    error
	primaryCalls int
	simpleCalls  int
	primaryReq   RenderRequest
	simpleReq    RenderRequest
}

func (f *fakeRenderer) Render(ctx context.Context, req RenderRequest) (string, error) {
	f.primaryCalls++
	f.primaryReq = req
	if f.primaryErr != nil {
		return "", f.primaryErr
	}
	return req.OutputPath, writeDummyFile(req.OutputPath)
}

func (f *fakeRenderer) RenderSimple(ctx context.Context, req RenderRequest) (string, error) {
	f.simpleCalls++
	f.simpleReq = req
	if f.simpleErr != nil {
		return "", f.simpleErr
	}
	return req.OutputPath, writeDummyFile(req.OutputPath)
}

type fakeProber struct {
	audioPresent bool
	duration     float64
}

func (f *fakeProber) Duration(ctx context.Context, path string) float64 {
	return f.duration
}

func (f *fakeProber) HasAudioStream(ctx context.Context, path string) bool {
	return f.audioPresent
}

// fakeMuxer marks audio as present on the shared prober when a merge
// succeeds, mirroring what a real re-mux does to the output file.
type fakeMuxer struct {
	prober      *fakeProber
	strictErr   error
	fastErr     error
	strictCalls int
	fastCalls   int
}

func (f *fakeMuxer) MergeStrict(ctx context.Context, video, audio, out string) (string, error) {
	f.strictCalls++
	if f.strictErr != nil {
		return "", f.strictErr
	}
	f.prober.audioPresent = true
	return out, writeDummyFile(out)
}

func (f *fakeMuxer) MergeFast(ctx context.Context, video, audio, out string) (string, error) {
	f.fastCalls++
	if f.fastErr != nil {
		return "", f.fastErr
	}
	f.prober.audioPresent = true
	return out, writeDummyFile(out)
}

func writeDummyFile(path string) error {
	return os.WriteFile(path, []byte("media"), 0o644)
}

type pipelineFixture struct {
	db       *fakeDB
	scripts  *fakeScripts
	audio    *fakeAudio
	renderer *fakeRenderer
	prober   *fakeProber
	muxer    *fakeMuxer
	pipeline *AvatarPipeline
}

func newPipelineFixture(t *testing.T, articles ...*NewsArticle) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		db:       newFakeDB(articles...),
		scripts:  &fakeScripts{},
		audio:    &fakeAudio{path: "script_42.mp3"},
		renderer: &fakeRenderer{},
		prober:   &fakeProber{duration: 21.5},
	}
	f.muxer = &fakeMuxer{prober: f.prober}
	f.pipeline = NewAvatarPipeline(f.db, f.scripts, f.audio, f.renderer, f.prober, f.muxer, t.TempDir(), "")
	return f
}

func testArticle() *NewsArticle {
	return &NewsArticle{ID: 42, Title: "Markets rally", Description: "Stocks climbed on Friday.", URL: "https://example.com/markets"}
}

func TestPipelineHappyPath(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.prober.audioPresent = true

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "success", result.Status)
	assert.True(t, result.HasAudio)
	assert.Equal(t, "Markets rally", result.Title)
	assert.Equal(t, 21.5, result.DurationSeconds)
	assert.Greater(t, result.FileSizeMB, 0.0)
	assert.NotEmpty(t, result.RunID)

	// No fallback and no remediation on the happy path.
	assert.Equal(t, 1, f.renderer.primaryCalls)
	assert.Zero(t, f.renderer.simpleCalls)
	assert.Zero(t, f.muxer.strictCalls)
	assert.Zero(t, f.muxer.fastCalls)

	require.Len(t, result.Steps, 7)
	wantOrder := []string{
		stageInitialSetup, stageScriptGeneration, stageAudioGeneration,
		stageModuleCheck, stageVideoGeneration, stageAudioVerification,
		stageFinalValidation,
	}
	for i, step := range result.Steps {
		assert.Equal(t, wantOrder[i], step.Name)
		assert.True(t, step.Success, "step %s should have succeeded", step.Name)
	}
}

func TestPipelineArticleNotFound(t *testing.T) {
	f := newPipelineFixture(t)

	result := f.pipeline.Run(context.Background(), 7)

	require.Equal(t, "error", result.Status)
	assert.Equal(t, stageInitialSetup, result.FailedStage)
	assert.ErrorIs(t, result.Err, ErrArticleNotFound)

	// Nothing beyond the setup stage was started.
	require.Len(t, result.Steps, 1)
	assert.Zero(t, f.scripts.calls)
	assert.Zero(t, f.audio.calls)
}

func TestPipelineSimplifiedFallbackAndStrictMerge(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.renderer.primaryErr = errors.New("cuda out of memory")
	f.prober.audioPresent = false

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "success", result.Status)
	assert.True(t, result.HasAudio, "strict merge should have restored audio")

	// Simplified variant retried exactly once with identical arguments.
	assert.Equal(t, 1, f.renderer.primaryCalls)
	assert.Equal(t, 1, f.renderer.simpleCalls)
	assert.Equal(t, f.renderer.primaryReq, f.renderer.simpleReq)

	// Strict merge succeeded, so fast merge was never invoked.
	assert.Equal(t, 1, f.muxer.strictCalls)
	assert.Zero(t, f.muxer.fastCalls)
}

func TestPipelineFastMergeWhenStrictFails(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.prober.audioPresent = false
	f.muxer.strictErr = errors.New("encoder exploded")

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "success", result.Status)
	assert.True(t, result.HasAudio)
	assert.Equal(t, 1, f.muxer.strictCalls)
	assert.Equal(t, 1, f.muxer.fastCalls)
}

func TestPipelineDegradedWhenBothMergesFail(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.prober.audioPresent = false
	f.muxer.strictErr = errors.New("encoder exploded")
	f.muxer.fastErr = errors.New("copy incompatible")

	result := f.pipeline.Run(context.Background(), 42)

	// Degraded delivery, not failure.
	require.Equal(t, "success", result.Status)
	assert.False(t, result.HasAudio)
	assert.Zero(t, result.DurationSeconds)

	verification := result.Steps[5]
	assert.Equal(t, stageAudioVerification, verification.Name)
	assert.False(t, verification.Success)

	final := result.Steps[6]
	assert.Equal(t, stageFinalValidation, final.Name)
	assert.True(t, final.Success)
}

func TestPipelineBothRenderVariantsFail(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.renderer.primaryErr = errors.New("no output")
	f.renderer.simpleErr = errors.New("still no output")

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "error", result.Status)
	assert.Equal(t, stageVideoGeneration, result.FailedStage)
	assert.Equal(t, 1, f.renderer.primaryCalls)
	assert.Equal(t, 1, f.renderer.simpleCalls)
	assert.Zero(t, f.muxer.strictCalls)
}

func TestPipelineRendererNotConfigured(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.pipeline.renderer = nil

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "error", result.Status)
	assert.Equal(t, stageModuleCheck, result.FailedStage)
	assert.ErrorIs(t, result.Err, ErrRendererUnavailable)
	require.Len(t, result.Steps, 4)
}

func TestPipelineScriptFailureAborts(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.scripts.err = ErrEmptyScript

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "error", result.Status)
	assert.Equal(t, stageScriptGeneration, result.FailedStage)
	assert.Zero(t, f.audio.calls)
	assert.Zero(t, f.renderer.primaryCalls)
}

func TestPipelineAudioFailureAborts(t *testing.T) {
	f := newPipelineFixture(t, testArticle())
	f.audio.err = ErrEmptyAudio

	result := f.pipeline.Run(context.Background(), 42)

	require.Equal(t, "error", result.Status)
	assert.Equal(t, stageAudioGeneration, result.FailedStage)
	assert.Zero(t, f.renderer.primaryCalls)
}

func TestPipelineReportsExecutionTimeOnFailure(t *testing.T) {
	f := newPipelineFixture(t)

	result := f.pipeline.Run(context.Background(), 7)

	assert.Equal(t, "error", result.Status)
	assert.GreaterOrEqual(t, result.ExecutionTime.Nanoseconds(), int64(0))
	assert.NotEmpty(t, result.RunID)
}
