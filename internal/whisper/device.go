package whisper

import (
	"fmt"
	"os"
	"os/exec"
)

// Device is the compute device inference runs on.
type Device string

const (
	CPU  Device = "cpu"
	CUDA Device = "cuda"
)

// probe hooks, swapped in tests
var (
	lookPath = exec.LookPath
	statFile = os.Stat
)

// DetectDevice resolves a configured preference ("auto", "cpu", "cuda") to a
// concrete device. Called once at startup; the result is never renegotiated.
func DetectDevice(pref string) (Device, error) {
	switch pref {
	case "cpu":
		return CPU, nil
	case "cuda":
		return CUDA, nil
	case "", "auto":
		if hasNvidiaGPU() {
			return CUDA, nil
		}
		return CPU, nil
	default:
		return "", fmt.Errorf("unknown device %q", pref)
	}
}

func hasNvidiaGPU() bool {
	if _, err := lookPath("nvidia-smi"); err == nil {
		return true
	}
	if _, err := statFile("/dev/nvidia0"); err == nil {
		return true
	}
	return false
}
