// Package core defines the core types and interfaces for the music service.
package core

import "context"

// Device is the compute target a pipeline executes on.
type Device string

// Supported devices. DeviceAuto is a preference, never a resolved device.
const (
	DeviceAuto Device = "auto"
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Precision is the numeric width used during pipeline computation.
type Precision string

// Supported precisions.
const (
	PrecisionFloat16 Precision = "float16"
	PrecisionFloat32 Precision = "float32"
)

// ObjectStore defines the interface for reading from a key-value blob store.
type ObjectStore interface {
	Download(ctx context.Context, key string) ([]byte, error)
}

// ArtifactStore is an ObjectStore that can archive a local artifact file.
type ArtifactStore interface {
	ObjectStore
	Archive(ctx context.Context, key, path string) error
}

// PipelineConfig holds everything needed to load one generation pipeline.
type PipelineConfig struct {
	PretrainedPath string
	Device         Device
	DType          Precision
	Version        string
}

// Input is the conditioning passed to a pipeline for a single generation.
type Input struct {
	Lyrics string
	Tags   string
}

// Params holds the sampling and length parameters of a single generation.
type Params struct {
	MaxAudioLengthMs int
	TopK             int
	Temperature      float64
	CFGScale         float64
}

// Pipeline is a loaded generation engine bound to a checkpoint, device and
// precision. Generate writes an audio file at savePath or returns an error.
type Pipeline interface {
	Generate(ctx context.Context, input Input, params Params, savePath string) error
}

// PipelineFactory constructs pipelines. Construction is expected to be expensive.
type PipelineFactory interface {
	NewPipeline(ctx context.Context, cfg PipelineConfig) (Pipeline, error)
}
