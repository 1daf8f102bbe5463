package pipeline_test

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/book-expert/logger"
	"github.com/book-expert/music-service/internal/core"
	"github.com/book-expert/music-service/internal/music/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoRunner copies the staged lyrics into the artifact and records its arguments.
const echoRunner = `#!/bin/sh
printf '%s\n' "$@" > "$(dirname "$0")/args.txt"
while [ $# -gt 0 ]; do
  case "$1" in
    --save_path) out="$2"; shift 2 ;;
    --lyrics) lyrics="$2"; shift 2 ;;
    *) shift ;;
  esac
done
cat "$lyrics" > "$out"
`

const failingRunner = `#!/bin/sh
echo "torchaudio: no mp3 encoder available" >&2
exit 3
`

// noisyRunner floods stdout before failing with a short final message.
const noisyRunner = `#!/bin/sh
i=0
while [ $i -lt 2000 ]; do
  echo "step $i: sampling frame data"
  i=$((i + 1))
done
echo "CUDA out of memory" >&2
exit 1
`

const silentRunner = `#!/bin/sh
exit 0
`

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "pipeline-test.log")
	require.NoError(t, err)

	t.Cleanup(func() { _ = testLogger.Close() })

	return testLogger
}

func writeRunner(t *testing.T, script string) string {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("runner scripts need a POSIX shell")
	}

	path := filepath.Join(t.TempDir(), "runner.sh")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o700))

	return path
}

func testConfig(t *testing.T) core.PipelineConfig {
	t.Helper()

	return core.PipelineConfig{
		PretrainedPath: t.TempDir(),
		Device:         core.DeviceCPU,
		DType:          core.PrecisionFloat32,
		Version:        "3B",
	}
}

var testParams = core.Params{MaxAudioLengthMs: 30000, TopK: 50, Temperature: 1.0, CFGScale: 1.5}

func TestExecPipeline_Generate(t *testing.T) {
	t.Parallel()

	runner := writeRunner(t, echoRunner)
	factory := pipeline.NewExecFactory(runner, newTestLogger(t))

	generator, err := factory.NewPipeline(context.Background(), testConfig(t))
	require.NoError(t, err)

	savePath := filepath.Join(t.TempDir(), "song.wav")
	input := core.Input{Lyrics: "Hello world", Tags: "piano,happy"}

	require.NoError(t, generator.Generate(context.Background(), input, testParams, savePath))

	content, err := os.ReadFile(savePath)
	require.NoError(t, err)
	assert.Equal(t, "Hello world", string(content))

	args, err := os.ReadFile(filepath.Join(filepath.Dir(runner), "args.txt"))
	require.NoError(t, err)
	assert.Contains(t, string(args), "--dtype\nfloat32\n")
	assert.Contains(t, string(args), "--cfg_scale\n1.5\n")
	assert.Contains(t, string(args), "--max_audio_length_ms\n30000\n")
}

func TestExecPipeline_RunnerFailureKeepsOutput(t *testing.T) {
	t.Parallel()

	factory := pipeline.NewExecFactory(writeRunner(t, failingRunner), newTestLogger(t))

	generator, err := factory.NewPipeline(context.Background(), testConfig(t))
	require.NoError(t, err)

	err = generator.Generate(context.Background(), core.Input{Lyrics: "la"}, testParams,
		filepath.Join(t.TempDir(), "song.mp3"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no mp3 encoder available")
}

func TestExecPipeline_RunnerFailureKeepsOutputTail(t *testing.T) {
	t.Parallel()

	factory := pipeline.NewExecFactory(writeRunner(t, noisyRunner), newTestLogger(t))

	generator, err := factory.NewPipeline(context.Background(), testConfig(t))
	require.NoError(t, err)

	err = generator.Generate(context.Background(), core.Input{Lyrics: "la"}, testParams,
		filepath.Join(t.TempDir(), "song.wav"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CUDA out of memory")
	assert.NotContains(t, err.Error(), "step 0: sampling", "early output is dropped")
	assert.Less(t, len(err.Error()), 5<<10)
}

func TestExecPipeline_MissingArtifact(t *testing.T) {
	t.Parallel()

	factory := pipeline.NewExecFactory(writeRunner(t, silentRunner), newTestLogger(t))

	generator, err := factory.NewPipeline(context.Background(), testConfig(t))
	require.NoError(t, err)

	err = generator.Generate(context.Background(), core.Input{Lyrics: "la"}, testParams,
		filepath.Join(t.TempDir(), "song.wav"))
	require.ErrorIs(t, err, pipeline.ErrNoArtifact)
}

func TestExecFactory_Preconditions(t *testing.T) {
	t.Parallel()

	testLogger := newTestLogger(t)

	missingBinary := pipeline.NewExecFactory(filepath.Join(t.TempDir(), "absent"), testLogger)
	_, err := missingBinary.NewPipeline(context.Background(), testConfig(t))
	require.ErrorIs(t, err, pipeline.ErrRunnerNotFound)

	cfg := testConfig(t)
	cfg.PretrainedPath = filepath.Join(t.TempDir(), "no-ckpt")

	missingCheckpoint := pipeline.NewExecFactory(writeRunner(t, echoRunner), testLogger)
	_, err = missingCheckpoint.NewPipeline(context.Background(), cfg)
	require.ErrorIs(t, err, pipeline.ErrCheckpointMissing)
}
