package search

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultGPUDetectCommand lists one device per line, each starting with "GPU ".
var DefaultGPUDetectCommand = []string{"nvidia-smi", "-L"}

// DetectGPUs runs the detect command and returns the number of devices it lists.
// A missing tool or a failing command means no devices.
func DetectGPUs(ctx context.Context, command []string) (int, error) {
	if len(command) == 0 {
		command = DefaultGPUDetectCommand
	}

	path, err := exec.LookPath(command[0])
	if err != nil {
		return 0, nil
	}

	output, err := exec.CommandContext(ctx, path, command[1:]...).Output()
	if err != nil {
		return 0, fmt.Errorf("gpu detection failed: %w", err)
	}

	return countDevices(output), nil
}

func countDevices(output []byte) int {
	n := 0
	scanner := bufio.NewScanner(bytes.NewReader(output))
	for scanner.Scan() {
		if strings.HasPrefix(strings.TrimSpace(scanner.Text()), "GPU ") {
			n++
		}
	}
	return n
}
