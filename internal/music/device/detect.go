package device

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

const (
	typeCUDA = "cuda"
	typeNone = "none"
)

// DetectCUDA checks for an NVIDIA accelerator, first through nvidia-smi and
// then by looking for the CUDA runtime library.
func DetectCUDA() Info {
	if info := queryNvidiaSMI(); info.Available {
		return info
	}

	if cudaRuntimeExists() {
		return Info{Available: true, Type: typeCUDA, DeviceName: "CUDA (libraries detected)"}
	}

	return Info{Type: typeNone}
}

func queryNvidiaSMI() Info {
	info := Info{Type: typeNone}

	nvidiaSMI, err := exec.LookPath("nvidia-smi")
	if err != nil {
		return info
	}

	// #nosec G204 -- nvidiaSMI comes from LookPath
	output, err := exec.Command(nvidiaSMI, "--query-gpu=name,driver_version", "--format=csv,noheader,nounits").Output()
	if err != nil {
		return info
	}

	// First line only; multi-GPU hosts list one device per line.
	line, _, _ := strings.Cut(strings.TrimSpace(string(output)), "\n")
	parts := strings.Split(line, ", ")

	info.Available = true
	info.Type = typeCUDA
	info.DeviceName = strings.TrimSpace(parts[0])

	if len(parts) >= 2 {
		info.DriverVersion = strings.TrimSpace(parts[1])
	}

	return info
}

func cudaRuntimeExists() bool {
	searchPaths := []string{
		"/usr/local/cuda/lib64",
		"/usr/lib/x86_64-linux-gnu",
		"/usr/lib64",
	}

	if ldPath := os.Getenv("LD_LIBRARY_PATH"); ldPath != "" {
		searchPaths = append(strings.Split(ldPath, ":"), searchPaths...)
	}

	for _, dir := range searchPaths {
		if dir == "" {
			continue
		}

		matches, _ := filepath.Glob(filepath.Join(dir, "libcudart.so*"))
		if len(matches) > 0 {
			return true
		}
	}

	return false
}
