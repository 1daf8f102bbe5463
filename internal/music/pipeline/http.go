package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/music/output"
)

const (
	filePermissions = 0o600
	dirPermissions  = 0o750

	unloadTimeout = 10 * time.Second
)

// HTTPFactory loads pipelines inside the inference sidecar. The loaded model
// stays resident in the sidecar until the pipeline is closed.
type HTTPFactory struct {
	client *HTTPClient
	log    *logger.Logger
}

// NewHTTPFactory creates a factory that loads pipelines through client.
func NewHTTPFactory(client *HTTPClient, log *logger.Logger) *HTTPFactory {
	return &HTTPFactory{client: client, log: log}
}

// NewPipeline implements core.PipelineFactory.
func (f *HTTPFactory) NewPipeline(ctx context.Context, cfg core.PipelineConfig) (core.Pipeline, error) {
	pipelineID, err := f.client.LoadPipeline(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to load pipeline in sidecar: %w", err)
	}

	f.log.Info("Sidecar loaded pipeline %s (%s, %s, %s)", pipelineID, cfg.Version, cfg.Device, cfg.DType)

	return &HTTPPipeline{client: f.client, id: pipelineID, cfg: cfg, log: f.log}, nil
}

// HTTPPipeline is a pipeline resident in the inference sidecar.
type HTTPPipeline struct {
	client *HTTPClient
	id     string
	cfg    core.PipelineConfig
	log    *logger.Logger
}

// ID returns the sidecar-assigned pipeline id.
func (p *HTTPPipeline) ID() string {
	return p.id
}

// Generate requests audio from the sidecar and writes it to savePath. The
// artifact format is taken from the savePath extension.
func (p *HTTPPipeline) Generate(ctx context.Context, input core.Input, params core.Params, savePath string) error {
	audioData, err := p.client.Generate(ctx, GenerateRequest{
		PipelineID:       p.id,
		Lyrics:           input.Lyrics,
		Tags:             input.Tags,
		Format:           output.Format(savePath),
		MaxAudioLengthMs: params.MaxAudioLengthMs,
		TopK:             params.TopK,
		Temperature:      params.Temperature,
		CFGScale:         params.CFGScale,
	})
	if err != nil {
		return fmt.Errorf("failed to generate audio: %w", err)
	}

	dirErr := os.MkdirAll(filepath.Dir(savePath), dirPermissions)
	if dirErr != nil {
		return fmt.Errorf("failed to create output directory: %w", dirErr)
	}

	writeErr := os.WriteFile(savePath, audioData, filePermissions)
	if writeErr != nil {
		return fmt.Errorf("failed to write audio file: %w", writeErr)
	}

	p.log.Info("Wrote %s (%d bytes)", savePath, len(audioData))

	return nil
}

// Close unloads the pipeline from the sidecar.
func (p *HTTPPipeline) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), unloadTimeout)
	defer cancel()

	return p.client.UnloadPipeline(ctx, p.id)
}
