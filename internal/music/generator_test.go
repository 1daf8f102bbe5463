package music_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/music"
	"github.com/book-expert/music-service/internal/music/cache"
	"github.com/book-expert/music-service/internal/music/device"
	"github.com/book-expert/music-service/internal/music/output"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errMockEncode = errors.New("mock encoder unavailable")

// stubPipeline writes a dummy artifact unless failWith is set.
type stubPipeline struct {
	failWith error
	input    core.Input
	params   core.Params
	savePath string
	calls    atomic.Int32
}

func (p *stubPipeline) Generate(_ context.Context, input core.Input, params core.Params, savePath string) error {
	p.calls.Add(1)
	p.input = input
	p.params = params
	p.savePath = savePath

	if p.failWith != nil {
		return p.failWith
	}

	return os.WriteFile(savePath, []byte("RIFF-dummy"), 0o600)
}

type stubFactory struct {
	pipeline      *stubPipeline
	constructions atomic.Int32
	lastConfig    core.PipelineConfig
}

func (f *stubFactory) NewPipeline(_ context.Context, cfg core.PipelineConfig) (core.Pipeline, error) {
	f.constructions.Add(1)
	f.lastConfig = cfg

	return f.pipeline, nil
}

type harness struct {
	generator *music.Generator
	cache     *cache.Cache
	factory   *stubFactory
	pipeline  *stubPipeline
	outputDir string
	detects   *atomic.Int32
}

func newHarness(t *testing.T, accelerator bool) *harness {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "generator-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	detects := &atomic.Int32{}
	resolver := device.NewResolver(func() device.Info {
		detects.Add(1)

		return device.Info{Available: accelerator}
	})

	pipeline := &stubPipeline{}
	factory := &stubFactory{pipeline: pipeline}
	pipelines := cache.New(factory, testLogger)
	outputDir := filepath.Join(t.TempDir(), "outputs")
	outputs := output.NewResolver(outputDir, nil)
	require.NoError(t, outputs.EnsureDir())

	return &harness{
		generator: music.NewGenerator(resolver, pipelines, outputs, testLogger),
		cache:     pipelines,
		factory:   factory,
		pipeline:  pipeline,
		outputDir: outputDir,
		detects:   detects,
	}
}

func validRequest() music.Request {
	req := music.DefaultRequest()
	req.Lyrics = "Hello world"
	req.Tags = "piano,happy"
	req.ModelPath = "./ckpt"
	req.SaveName = ""

	return req
}

func TestGenerate_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	path, err := h.generator.Generate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, h.outputDir, filepath.Dir(path))
	assert.Regexp(t, regexp.MustCompile(`^output_\d+\.wav$`), filepath.Base(path))
	assert.FileExists(t, path)

	assert.Equal(t, core.Input{Lyrics: "Hello world", Tags: "piano,happy"}, h.pipeline.input)
	assert.Equal(t, core.Params{MaxAudioLengthMs: 240000, TopK: 50, Temperature: 1.0, CFGScale: 1.5}, h.pipeline.params)
	assert.Equal(t, core.DeviceCPU, h.factory.lastConfig.Device)
	assert.Equal(t, core.PrecisionFloat32, h.factory.lastConfig.DType)
	assert.Equal(t, "3B", h.factory.lastConfig.Version)
	assert.True(t, filepath.IsAbs(h.factory.lastConfig.PretrainedPath))
}

func TestGenerate_AutoPicksAccelerator(t *testing.T) {
	t.Parallel()

	h := newHarness(t, true)

	_, err := h.generator.Generate(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, core.DeviceCUDA, h.factory.lastConfig.Device)
	assert.Equal(t, core.PrecisionFloat16, h.factory.lastConfig.DType)
}

func TestGenerate_ReusesPipelineAcrossRequests(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	first := validRequest()
	first.SaveName = "a.wav"

	second := validRequest()
	second.SaveName = "b.wav"

	absolute, err := filepath.Abs("ckpt")
	require.NoError(t, err)

	second.ModelPath = "  " + absolute + "  "

	_, err = h.generator.Generate(context.Background(), first)
	require.NoError(t, err)

	_, err = h.generator.Generate(context.Background(), second)
	require.NoError(t, err)

	assert.Equal(t, int32(1), h.factory.constructions.Load())
	assert.Equal(t, int32(2), h.pipeline.calls.Load())
}

func TestGenerate_MissingLyricsTouchesNothing(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	for _, lyrics := range []string{"", "   \n\t"} {
		req := validRequest()
		req.Lyrics = lyrics

		_, err := h.generator.Generate(context.Background(), req)

		var validationErr *music.ValidationError
		require.ErrorAs(t, err, &validationErr)
		require.ErrorIs(t, err, music.ErrLyricsRequired)
		assert.Equal(t, "lyrics", validationErr.Field)
	}

	assert.Zero(t, h.cache.Len())
	assert.Zero(t, h.factory.constructions.Load())
	assert.Zero(t, h.detects.Load())

	entries, err := os.ReadDir(h.outputDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGenerate_MissingModelPath(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	req := validRequest()
	req.ModelPath = "   "

	_, err := h.generator.Generate(context.Background(), req)
	require.ErrorIs(t, err, music.ErrModelPathRequired)
	assert.Equal(t, music.KindValidation, music.ErrorKind(err))
	assert.Zero(t, h.cache.Len())
}

func TestGenerate_InvalidParameters(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(req *music.Request)
		wantErr error
	}{
		{name: "length too short", mutate: func(r *music.Request) { r.MaxAudioLengthMs = 9999 }, wantErr: music.ErrMaxLengthRange},
		{name: "length too long", mutate: func(r *music.Request) { r.MaxAudioLengthMs = 240001 }, wantErr: music.ErrMaxLengthRange},
		{name: "topk zero", mutate: func(r *music.Request) { r.TopK = 0 }, wantErr: music.ErrTopKRange},
		{name: "temperature high", mutate: func(r *music.Request) { r.Temperature = 2.5 }, wantErr: music.ErrTemperatureRange},
		{name: "cfg negative", mutate: func(r *music.Request) { r.CFGScale = -0.1 }, wantErr: music.ErrCFGScaleRange},
		{name: "unknown version", mutate: func(r *music.Request) { r.Version = "7B" }, wantErr: music.ErrUnsupportedVersion},
		{name: "unknown device", mutate: func(r *music.Request) { r.Device = "tpu" }, wantErr: device.ErrUnknownDevice},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			h := newHarness(t, false)
			req := validRequest()
			testCase.mutate(&req)

			_, err := h.generator.Generate(context.Background(), req)
			require.ErrorIs(t, err, testCase.wantErr)
			assert.Equal(t, music.KindValidation, music.ErrorKind(err))
			assert.Zero(t, h.cache.Len())
		})
	}
}

func TestGenerate_BoundaryParametersAccepted(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	req := validRequest()
	req.MaxAudioLengthMs = music.MinMaxAudioLengthMs
	req.TopK = music.MaxTopK
	req.Temperature = music.MinTemperature
	req.CFGScale = music.MinCFGScale

	_, err := h.generator.Generate(context.Background(), req)
	require.NoError(t, err)
}

func TestGenerate_NormalizesTags(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	req := validRequest()
	req.Tags = " piano, happy , wedding "

	_, err := h.generator.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "piano,happy,wedding", h.pipeline.input.Tags)
}

func TestGenerate_FilesTakePrecedence(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	dir := t.TempDir()
	lyricsFile := filepath.Join(dir, "lyrics.txt")
	tagsFile := filepath.Join(dir, "tags.txt")

	require.NoError(t, os.WriteFile(lyricsFile, []byte("  From the file\n"), 0o600))
	require.NoError(t, os.WriteFile(tagsFile, []byte("rock, loud\n"), 0o600))

	req := validRequest()
	req.Lyrics = "inline lyrics"
	req.Tags = "inline"
	req.LyricsFile = lyricsFile
	req.TagsFile = tagsFile

	_, err := h.generator.Generate(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, "From the file", h.pipeline.input.Lyrics)
	assert.Equal(t, "rock,loud", h.pipeline.input.Tags)
}

func TestGenerate_UnreadableLyricsFileOverridesInline(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	req := validRequest()
	req.LyricsFile = filepath.Join(t.TempDir(), "missing.txt")

	_, err := h.generator.Generate(context.Background(), req)
	require.ErrorIs(t, err, music.ErrLyricsRequired)
	assert.Zero(t, h.cache.Len())
}

func TestGenerate_MP3FailureIsRemediable(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.pipeline.failWith = errMockEncode

	req := validRequest()
	req.SaveName = "song.mp3"

	_, err := h.generator.Generate(context.Background(), req)

	var remediable *music.RemediableFailure
	require.ErrorAs(t, err, &remediable)
	require.ErrorIs(t, err, errMockEncode)
	assert.Contains(t, err.Error(), music.MP3Remediation)
	assert.Contains(t, err.Error(), errMockEncode.Error())
	assert.Equal(t, filepath.Join(h.outputDir, "song.mp3"), remediable.Path)
	assert.Equal(t, music.KindRemediable, music.ErrorKind(err))
}

func TestGenerate_WAVFailureIsUnrecovered(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)
	h.pipeline.failWith = errMockEncode

	req := validRequest()
	req.SaveName = "song.wav"

	_, err := h.generator.Generate(context.Background(), req)

	var unrecovered *music.UnrecoveredFailure
	require.ErrorAs(t, err, &unrecovered)
	require.ErrorIs(t, err, errMockEncode)
	assert.Equal(t, errMockEncode.Error(), err.Error())
	assert.False(t, strings.Contains(err.Error(), music.MP3Remediation))
	assert.Equal(t, music.KindUnrecovered, music.ErrorKind(err))
}

func TestGenerate_UnknownExtensionFallsBackToWAV(t *testing.T) {
	t.Parallel()

	h := newHarness(t, false)

	req := validRequest()
	req.SaveName = "track.flac"

	path, err := h.generator.Generate(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(h.outputDir, "track.wav"), path)
	assert.Equal(t, path, h.pipeline.savePath)
}

func TestErrorKind(t *testing.T) {
	t.Parallel()

	assert.Empty(t, music.ErrorKind(nil))
	assert.Equal(t, music.KindUnrecovered, music.ErrorKind(errMockEncode))
	assert.Equal(t, music.KindValidation,
		music.ErrorKind(&music.ValidationError{Field: "lyrics", Err: music.ErrLyricsRequired}))
}
