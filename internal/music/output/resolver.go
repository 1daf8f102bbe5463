// Package output turns user-supplied save names into artifact paths inside
// the outputs directory.
package output

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Artifact extensions the pipeline can encode.
const (
	ExtWAV = ".wav"
	ExtMP3 = ".mp3"
)

const (
	dirPermissions     = 0o750
	timestampedPattern = "output_%d" + ExtWAV
)

// Resolver resolves save names against a fixed outputs directory.
type Resolver struct {
	dir string
	now func() time.Time
}

// NewResolver creates a Resolver for dir. A nil now uses time.Now.
func NewResolver(dir string, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}

	return &Resolver{dir: dir, now: now}
}

// Dir returns the outputs directory.
func (r *Resolver) Dir() string {
	return r.dir
}

// EnsureDir creates the outputs directory if it is absent.
func (r *Resolver) EnsureDir() error {
	err := os.MkdirAll(r.dir, dirPermissions)
	if err != nil {
		return fmt.Errorf("failed to create outputs directory '%s': %w", r.dir, err)
	}

	return nil
}

// Resolve returns the artifact path for saveName.
//
// A blank name becomes output_<unix seconds>.wav. Otherwise the name is used
// as given, except that an extension other than .wav or .mp3 (compared
// case-insensitively) is replaced with .wav. Directory components are
// dropped so the artifact always lands directly inside the outputs directory.
func (r *Resolver) Resolve(saveName string) string {
	name := filepath.Base(strings.TrimSpace(saveName))

	switch name {
	case "", ".", "..", string(filepath.Separator):
		name = fmt.Sprintf(timestampedPattern, r.now().Unix())
	}

	return filepath.Join(r.dir, withAllowedExt(name))
}

func withAllowedExt(name string) string {
	ext := filepath.Ext(name)

	stem := strings.TrimSuffix(name, ext)
	if stem == "" {
		// A leading-dot name such as ".wav" has no suffix of its own.
		return name + ExtWAV
	}

	if IsAllowedExt(ext) {
		return name
	}

	return stem + ExtWAV
}

// IsAllowedExt reports whether ext is .wav or .mp3, ignoring case.
func IsAllowedExt(ext string) bool {
	switch strings.ToLower(ext) {
	case ExtWAV, ExtMP3:
		return true
	default:
		return false
	}
}

// IsMP3 reports whether path targets an mp3 artifact.
func IsMP3(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ExtMP3)
}

// Format returns the lower-case artifact format of path without the dot.
func Format(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
