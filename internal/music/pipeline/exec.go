package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
)

// maxRunnerOutput caps how much runner output is attached to an error.
const maxRunnerOutput = 4 << 10

// Runner errors.
var (
	ErrRunnerNotFound    = errors.New("generation runner not found")
	ErrCheckpointMissing = errors.New("model checkpoint not found")
	ErrNoArtifact        = errors.New("runner finished without writing an artifact")
)

// ExecFactory builds pipelines that drive a local runner binary. The runner
// loads the checkpoint on every call, so constructing a pipeline only checks
// that the binary and the checkpoint are present.
type ExecFactory struct {
	binaryPath string
	log        *logger.Logger
}

// NewExecFactory creates a factory for the runner at binaryPath. A bare name
// is looked up on PATH.
func NewExecFactory(binaryPath string, log *logger.Logger) *ExecFactory {
	return &ExecFactory{binaryPath: binaryPath, log: log}
}

// NewPipeline implements core.PipelineFactory.
func (f *ExecFactory) NewPipeline(_ context.Context, cfg core.PipelineConfig) (core.Pipeline, error) {
	binary, err := exec.LookPath(f.binaryPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRunnerNotFound, f.binaryPath, err)
	}

	_, statErr := os.Stat(cfg.PretrainedPath)
	if statErr != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCheckpointMissing, cfg.PretrainedPath, statErr)
	}

	return &ExecPipeline{binary: binary, cfg: cfg, log: f.log}, nil
}

// ExecPipeline runs one generation per runner invocation.
type ExecPipeline struct {
	binary string
	cfg    core.PipelineConfig
	log    *logger.Logger
}

// Generate stages the lyrics and tags into files, runs the runner and checks
// that it produced a non-empty artifact at savePath.
func (p *ExecPipeline) Generate(ctx context.Context, input core.Input, params core.Params, savePath string) error {
	stagingDir, err := os.MkdirTemp("", "music-input-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}

	defer func() {
		removeErr := os.RemoveAll(stagingDir)
		if removeErr != nil {
			p.log.Warn("Failed to remove staging directory '%s': %v", stagingDir, removeErr)
		}
	}()

	lyricsPath := filepath.Join(stagingDir, "lyrics.txt")
	tagsPath := filepath.Join(stagingDir, "tags.txt")

	writeErr := errors.Join(
		os.WriteFile(lyricsPath, []byte(input.Lyrics), filePermissions),
		os.WriteFile(tagsPath, []byte(input.Tags), filePermissions),
	)
	if writeErr != nil {
		return fmt.Errorf("failed to stage generation input: %w", writeErr)
	}

	// A stale artifact from an earlier run must not be mistaken for success.
	_ = os.Remove(savePath)

	args := []string{
		"--model_path", p.cfg.PretrainedPath,
		"--version", p.cfg.Version,
		"--device", string(p.cfg.Device),
		"--dtype", string(p.cfg.DType),
		"--lyrics", lyricsPath,
		"--tags", tagsPath,
		"--save_path", savePath,
		"--max_audio_length_ms", strconv.Itoa(params.MaxAudioLengthMs),
		"--topk", strconv.Itoa(params.TopK),
		"--temperature", strconv.FormatFloat(params.Temperature, 'f', -1, 64),
		"--cfg_scale", strconv.FormatFloat(params.CFGScale, 'f', -1, 64),
	}

	// #nosec G204 -- the binary comes from LookPath and arguments are validated upstream
	cmd := exec.CommandContext(ctx, p.binary, args...)

	combined, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("runner execution failed: %w - output: %s", err, outputTail(combined))
	}

	info, statErr := os.Stat(savePath)
	if statErr != nil || info.Size() == 0 {
		return fmt.Errorf("%w: %s", ErrNoArtifact, savePath)
	}

	return nil
}

// outputTail returns the last maxRunnerOutput bytes of output, where the
// runner's final error usually is.
func outputTail(output []byte) string {
	if len(output) <= maxRunnerOutput {
		return string(output)
	}

	tail := strings.ToValidUTF8(string(output[len(output)-maxRunnerOutput:]), "")

	return "..." + tail
}
