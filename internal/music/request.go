package music

import (
	"fmt"
	"slices"
	"strings"

	"github.com/book-expert/music-service/internal/core"
)

// Parameter bounds.
const (
	MinMaxAudioLengthMs = 10_000
	MaxMaxAudioLengthMs = 240_000
	MinTopK             = 1
	MaxTopK             = 200
	MinTemperature      = 0.1
	MaxTemperature      = 2.0
	MinCFGScale         = 0.0
	MaxCFGScale         = 5.0
)

// Defaults used by the front ends when a field is not supplied.
const (
	DefaultVersion          = "3B"
	DefaultSaveName         = "output.wav"
	DefaultModelPath        = "./ckpt"
	DefaultMaxAudioLengthMs = 240_000
	DefaultTopK             = 50
	DefaultTemperature      = 1.0
	DefaultCFGScale         = 1.5
)

// SupportedVersions lists the model versions a pipeline can be loaded with.
var SupportedVersions = []string{DefaultVersion}

// Request is a single generation request.
//
// LyricsFile and TagsFile are optional local paths; when set, the file
// content replaces Lyrics or Tags respectively.
type Request struct {
	Lyrics           string  `form:"lyrics"                                 json:"lyrics"`
	LyricsFile       string  `form:"-"                                      json:"-"`
	Tags             string  `form:"tags"                                   json:"tags"`
	TagsFile         string  `form:"-"                                      json:"-"`
	ModelPath        string  `form:"model_path"                             json:"model_path"`
	Version          string  `form:"version,default=3B"                     json:"version"`
	Device           string  `form:"device,default=auto"                    json:"device"`
	SaveName         string  `form:"save_name"                              json:"save_name"`
	MaxAudioLengthMs int     `form:"max_audio_length_ms,default=240000"     json:"max_audio_length_ms"`
	TopK             int     `form:"topk,default=50"                        json:"topk"`
	Temperature      float64 `form:"temperature,default=1.0"                json:"temperature"`
	CFGScale         float64 `form:"cfg_scale,default=1.5"                  json:"cfg_scale"`
}

// DefaultRequest returns a Request holding the form defaults.
func DefaultRequest() Request {
	return Request{
		ModelPath:        DefaultModelPath,
		Version:          DefaultVersion,
		Device:           string(core.DeviceAuto),
		SaveName:         DefaultSaveName,
		MaxAudioLengthMs: DefaultMaxAudioLengthMs,
		TopK:             DefaultTopK,
		Temperature:      DefaultTemperature,
		CFGScale:         DefaultCFGScale,
	}
}

// Params returns the sampling parameters of the request.
func (r Request) Params() core.Params {
	return core.Params{
		MaxAudioLengthMs: r.MaxAudioLengthMs,
		TopK:             r.TopK,
		Temperature:      r.Temperature,
		CFGScale:         r.CFGScale,
	}
}

func validateVersion(version string) error {
	if slices.Contains(SupportedVersions, version) {
		return nil
	}

	return &ValidationError{
		Field: "version",
		Err: fmt.Errorf("%w: %q (supported: %s)",
			ErrUnsupportedVersion, version, strings.Join(SupportedVersions, ", ")),
	}
}

func validateParams(params core.Params) error {
	switch {
	case params.MaxAudioLengthMs < MinMaxAudioLengthMs || params.MaxAudioLengthMs > MaxMaxAudioLengthMs:
		return &ValidationError{
			Field: "max_audio_length_ms",
			Err:   fmt.Errorf("%w: got %d", ErrMaxLengthRange, params.MaxAudioLengthMs),
		}
	case params.TopK < MinTopK || params.TopK > MaxTopK:
		return &ValidationError{Field: "topk", Err: fmt.Errorf("%w: got %d", ErrTopKRange, params.TopK)}
	case params.Temperature < MinTemperature || params.Temperature > MaxTemperature:
		return &ValidationError{
			Field: "temperature",
			Err:   fmt.Errorf("%w: got %.2f", ErrTemperatureRange, params.Temperature),
		}
	case params.CFGScale < MinCFGScale || params.CFGScale > MaxCFGScale:
		return &ValidationError{
			Field: "cfg_scale",
			Err:   fmt.Errorf("%w: got %.2f", ErrCFGScaleRange, params.CFGScale),
		}
	}

	return nil
}
