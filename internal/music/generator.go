// Package music orchestrates a single music generation: it normalizes the
// request, resolves the device, borrows a cached pipeline, picks the output
// path and turns pipeline failures into actionable errors.
package music

import (
	"context"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/metrics"
	"github.com/book-expert/music-service/internal/music/device"
	"github.com/book-expert/music-service/internal/music/output"
	"github.com/book-expert/music-service/internal/music/text"
)

// PipelineProvider hands out pipelines for a resolved device. The provider
// owns the pipelines; callers only borrow them.
type PipelineProvider interface {
	GetOrCreate(ctx context.Context, modelPath, version string, dev core.Device) (core.Pipeline, error)
}

// Generator runs generation requests end to end.
type Generator struct {
	devices   *device.Resolver
	pipelines PipelineProvider
	outputs   *output.Resolver
	log       *logger.Logger
}

// NewGenerator creates a Generator from its collaborators.
func NewGenerator(
	devices *device.Resolver,
	pipelines PipelineProvider,
	outputs *output.Resolver,
	log *logger.Logger,
) *Generator {
	return &Generator{
		devices:   devices,
		pipelines: pipelines,
		outputs:   outputs,
		log:       log,
	}
}

// Generate runs req and returns the path of the written artifact.
//
// Errors are *ValidationError for bad input, *RemediableFailure when an mp3
// artifact could not be produced, and *UnrecoveredFailure otherwise. Nothing
// is retried.
func (g *Generator) Generate(ctx context.Context, req Request) (string, error) {
	path, err := g.generate(ctx, req)

	kind := ErrorKind(err)
	if kind == "" {
		kind = metrics.OutcomeSuccess
	}

	metrics.RecordGeneration(kind)

	return path, err
}

func (g *Generator) generate(ctx context.Context, req Request) (string, error) {
	normalized, pref, err := normalize(req)
	if err != nil {
		g.log.Warn("Rejected generation request: %v", err)

		return "", err
	}

	dev := g.devices.Resolve(pref)

	pipeline, err := g.pipelines.GetOrCreate(ctx, normalized.ModelPath, normalized.Version, dev)
	if err != nil {
		g.log.Error("Failed to obtain pipeline: %v", err)

		return "", &UnrecoveredFailure{Err: err}
	}

	savePath := g.outputs.Resolve(normalized.SaveName)
	input := core.Input{Lyrics: normalized.Lyrics, Tags: normalized.Tags}

	g.log.Info("Generating %s on %s (tags=%q, max_audio_length_ms=%d)",
		savePath, dev, normalized.Tags, normalized.MaxAudioLengthMs)

	start := time.Now()
	invokeErr := pipeline.Generate(ctx, input, normalized.Params(), savePath)
	metrics.ObserveInvocation(string(dev), output.Format(savePath), time.Since(start))

	if invokeErr != nil {
		g.log.Error("Generation failed for %s: %v", savePath, invokeErr)

		if output.IsMP3(savePath) {
			return "", &RemediableFailure{Path: savePath, Err: invokeErr}
		}

		return "", &UnrecoveredFailure{Err: invokeErr}
	}

	g.log.Info("Generated %s in %s", savePath, time.Since(start).Round(time.Millisecond))

	return savePath, nil
}

// normalize applies file precedence and trimming, then validates every field.
// It touches nothing but the optional text files.
func normalize(req Request) (Request, core.Device, error) {
	if req.LyricsFile != "" {
		req.Lyrics = text.Load(req.LyricsFile)
	}

	if req.TagsFile != "" {
		req.Tags = text.Load(req.TagsFile)
	}

	req.Lyrics = strings.TrimSpace(req.Lyrics)
	if req.Lyrics == "" {
		return req, "", &ValidationError{Field: "lyrics", Err: ErrLyricsRequired}
	}

	req.Tags = text.NormalizeTags(req.Tags)

	req.ModelPath = strings.TrimSpace(req.ModelPath)
	if req.ModelPath == "" {
		return req, "", &ValidationError{Field: "model_path", Err: ErrModelPathRequired}
	}

	req.Version = strings.TrimSpace(req.Version)
	if req.Version == "" {
		req.Version = DefaultVersion
	}

	versionErr := validateVersion(req.Version)
	if versionErr != nil {
		return req, "", versionErr
	}

	pref, prefErr := device.ParsePreference(req.Device)
	if prefErr != nil {
		return req, "", &ValidationError{Field: "device", Err: prefErr}
	}

	paramsErr := validateParams(req.Params())
	if paramsErr != nil {
		return req, "", paramsErr
	}

	return req, pref, nil
}
