// Package device maps a device preference to a concrete compute device and
// the numeric precision that is safe on it.
package device

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/book-expert/music-service/internal/core"
)

// ErrUnknownDevice indicates a device preference outside auto, cuda and cpu.
var ErrUnknownDevice = errors.New("unknown device preference")

// Info describes the accelerator found on the host.
type Info struct {
	Available     bool   `json:"available"`
	Type          string `json:"type"`
	DeviceName    string `json:"device_name,omitempty"`
	DriverVersion string `json:"driver_version,omitempty"`
}

// Detector inspects the host for a compatible accelerator.
type Detector func() Info

// Resolver resolves device preferences. Detection runs at most once per
// Resolver and the result is reused for the process lifetime.
type Resolver struct {
	detect Detector
	once   sync.Once
	info   Info
}

// NewResolver creates a Resolver backed by detect. A nil detect uses DetectCUDA.
func NewResolver(detect Detector) *Resolver {
	if detect == nil {
		detect = DetectCUDA
	}

	return &Resolver{detect: detect}
}

// Info returns the cached accelerator detection result.
func (r *Resolver) Info() Info {
	r.once.Do(func() {
		r.info = r.detect()
	})

	return r.info
}

// Resolve maps pref to a concrete device. "auto" becomes cuda when an
// accelerator is available and cpu otherwise. Explicit choices are passed
// through without checking that the device exists; a missing accelerator
// surfaces later when the pipeline is constructed.
func (r *Resolver) Resolve(pref core.Device) core.Device {
	if pref != core.DeviceAuto {
		return pref
	}

	if r.Info().Available {
		return core.DeviceCUDA
	}

	return core.DeviceCPU
}

// PrecisionFor derives the precision from the device type: half precision on
// the accelerator, full precision everywhere else.
func PrecisionFor(dev core.Device) core.Precision {
	if dev == core.DeviceCUDA {
		return core.PrecisionFloat16
	}

	return core.PrecisionFloat32
}

// ParsePreference validates a user-supplied preference. An empty value means auto.
func ParsePreference(value string) (core.Device, error) {
	switch pref := core.Device(strings.ToLower(strings.TrimSpace(value))); pref {
	case "":
		return core.DeviceAuto, nil
	case core.DeviceAuto, core.DeviceCUDA, core.DeviceCPU:
		return pref, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDevice, value)
	}
}
