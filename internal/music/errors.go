package music

import (
	"errors"
	"fmt"
)

// Validation failures. Each is wrapped in a *ValidationError.
var (
	ErrLyricsRequired     = errors.New("lyrics are required (paste them or upload a lyrics file)")
	ErrModelPathRequired  = errors.New("model_path is required (e.g. ./ckpt)")
	ErrUnsupportedVersion = errors.New("unsupported model version")
	ErrMaxLengthRange     = errors.New("max_audio_length_ms must be between 10000 and 240000")
	ErrTopKRange          = errors.New("topk must be between 1 and 200")
	ErrTemperatureRange   = errors.New("temperature must be between 0.1 and 2.0")
	ErrCFGScaleRange      = errors.New("cfg_scale must be between 0.0 and 5.0")
)

// MP3Remediation is the guidance attached to failed mp3 generations.
const MP3Remediation = "Generation ran but saving MP3 failed. " +
	"Try a .wav save name (recommended), or add ffmpeg to the environment."

// Error kinds reported to front ends.
const (
	KindValidation  = "validation"
	KindRemediable  = "remediable"
	KindUnrecovered = "unrecovered"
)

// ValidationError reports missing or invalid input. It is raised before any
// device, cache or output work begins.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// RemediableFailure reports a failed invocation that targeted an mp3 artifact.
// The message carries the remediation guidance and the underlying detail.
type RemediableFailure struct {
	Path string
	Err  error
}

func (e *RemediableFailure) Error() string {
	return fmt.Sprintf("%s\n\nError: %v", MP3Remediation, e.Err)
}

func (e *RemediableFailure) Unwrap() error {
	return e.Err
}

// UnrecoveredFailure reports any other failed generation. The message is the
// underlying error, unchanged.
type UnrecoveredFailure struct {
	Err error
}

func (e *UnrecoveredFailure) Error() string {
	return e.Err.Error()
}

func (e *UnrecoveredFailure) Unwrap() error {
	return e.Err
}

// ErrorKind classifies err as one of the Kind constants. Errors that did not
// come from Generate are reported as unrecovered; nil yields "".
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return KindValidation
	}

	var remediableErr *RemediableFailure
	if errors.As(err, &remediableErr) {
		return KindRemediable
	}

	return KindUnrecovered
}
