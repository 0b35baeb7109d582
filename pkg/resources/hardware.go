package resources

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var ErrNoGPU = errors.New("no GPU detected")

// GPUProbe lists the names of visible GPUs
type GPUProbe func(ctx context.Context) ([]string, error)

// DetectCapacity probes logical CPUs, memory and NVIDIA GPUs on this host
func DetectCapacity(ctx context.Context, probe GPUProbe) (Capacity, error) {
	var c Capacity

	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil || cpus <= 0 {
		cpus = runtime.NumCPU()
	}
	c.CPUs = float64(cpus)

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		c.MemoryBytes = vm.Total
	}

	if probe == nil {
		probe = NvidiaSMI
	}
	if names, err := probe(ctx); err == nil {
		c.GPUNames = names
		c.GPUs = float64(len(names))
	}
	return c, nil
}

// NvidiaSMI queries nvidia-smi for GPU names
func NvidiaSMI(ctx context.Context) ([]string, error) {
	out, err := exec.CommandContext(ctx, "nvidia-smi", "--query-gpu=name", "--format=csv,noheader").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoGPU, err)
	}
	var names []string
	for _, line := range strings.Split(string(out), "\n") {
		if name := strings.TrimSpace(line); name != "" {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return nil, ErrNoGPU
	}
	return names, nil
}

// Override replaces detected values with positive configured ones.
// A negative gpus hides every detected GPU.
func (c Capacity) Override(cpus, gpus float64) Capacity {
	if cpus > 0 {
		c.CPUs = cpus
	}
	switch {
	case gpus > 0:
		c.GPUs = gpus
	case gpus < 0:
		c.GPUs = 0
		c.GPUNames = nil
	}
	return c
}
