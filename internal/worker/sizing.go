package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"time"

	"github.com/klauspost/cpuid/v2"

	"github.com/cuongbtq/vanity-farm/internal/search"
)

// SizingConfig describes how many units of each kind to plan.
type SizingConfig struct {
	// CPUUnits overrides the default of half the logical cores.
	CPUUnits int
	// UnitBinary, when set, runs CPU units as search-unit child processes.
	UnitBinary    string
	GPUEnabled    bool
	GPUDetect     []string
	GPUCommand    []string
	KillTimeout   time.Duration
	DetectTimeout time.Duration
}

// DefaultCPUUnits is max(1, logical cores / 2).
func DefaultCPUUnits() int {
	cores := cpuid.CPU.LogicalCores
	if cores <= 0 {
		cores = runtime.NumCPU()
	}
	return max(1, cores/2)
}

// PlanUnits decides the unit set once: one process per detected GPU device plus the
// CPU units. GPU detection failures leave the plan CPU-only.
func PlanUnits(ctx context.Context, cfg SizingConfig, logger *slog.Logger) []search.Unit {
	var units []search.Unit

	if cfg.GPUEnabled && len(cfg.GPUCommand) > 0 {
		timeout := cfg.DetectTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		detectCtx, cancel := context.WithTimeout(ctx, timeout)
		devices, err := search.DetectGPUs(detectCtx, cfg.GPUDetect)
		cancel()
		if err != nil {
			logger.Warn("GPU detection failed, continuing with CPU units only", slog.String("error", err.Error()))
		}

		for d := 0; d < devices; d++ {
			args := append(append([]string{}, cfg.GPUCommand[1:]...), "--device", strconv.Itoa(d))
			units = append(units, search.NewProcessUnit(
				fmt.Sprintf("gpu-%d", d),
				cfg.GPUCommand[0],
				logger,
				search.WithArgs(args...),
				search.WithKillTimeout(cfg.KillTimeout),
			))
		}
	}

	cpuUnits := cfg.CPUUnits
	if cpuUnits <= 0 {
		cpuUnits = DefaultCPUUnits()
	}
	for i := 0; i < cpuUnits; i++ {
		name := fmt.Sprintf("cpu-%d", i)
		if cfg.UnitBinary != "" {
			units = append(units, search.NewProcessUnit(name, cfg.UnitBinary, logger,
				search.WithKillTimeout(cfg.KillTimeout),
			))
			continue
		}
		units = append(units, search.NewLocalUnit(name, nil))
	}

	logger.Info("Search units planned",
		slog.String("cpu", cpuid.CPU.BrandName),
		slog.Int("logical_cores", cpuid.CPU.LogicalCores),
		slog.Int("gpu_units", len(units)-cpuUnits),
		slog.Int("cpu_units", cpuUnits),
	)
	return units
}
