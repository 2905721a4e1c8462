package governor

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sys/unix"

	"darkroom/internal/config"
	"darkroom/internal/services"
)

// Sample is one reading of the host resources the governor watches.
type Sample struct {
	CPUPercent  float64
	TempCelsius float64
	FreeMemMB   int64
}

// Sampler produces resource samples. The host implementation reads
// /proc/stat and a hwmon sensor; tests substitute a manual sampler.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

type cpuCounters struct {
	idle  uint64
	total uint64
}

// HostSampler reads CPU utilization, accelerator temperature, and free
// memory from the local machine.
type HostSampler struct {
	statPath   string
	sensorPath string
	memPath    string

	mu   sync.Mutex
	prev *cpuCounters
}

// NewHostSampler builds a sampler from the configured sensor paths.
func NewHostSampler(cfg config.Resources) *HostSampler {
	return &HostSampler{
		statPath:   cfg.CPUStatPath,
		sensorPath: cfg.TempSensorPath,
		memPath:    cfg.MemFreePath,
	}
}

// Sample reads one measurement. The first call reports 0% CPU because
// utilization is a delta between consecutive /proc/stat readings.
func (h *HostSampler) Sample(ctx context.Context) (Sample, error) {
	if err := ctx.Err(); err != nil {
		return Sample{}, err
	}

	counters, err := readCPUCounters(h.statPath)
	if err != nil {
		return Sample{}, services.Wrap(services.ErrTransient, "governor", "sample", "read cpu counters", err)
	}

	h.mu.Lock()
	var cpuPercent float64
	if h.prev != nil {
		totalDelta := counters.total - h.prev.total
		idleDelta := counters.idle - h.prev.idle
		if totalDelta > 0 {
			cpuPercent = 100 * float64(totalDelta-idleDelta) / float64(totalDelta)
		}
	}
	h.prev = &counters
	h.mu.Unlock()

	temp, err := readTemperature(h.sensorPath)
	if err != nil {
		// Not every host exposes the sensor; treat a missing sensor as
		// cool rather than failing the whole sample.
		if !os.IsNotExist(err) {
			return Sample{}, services.Wrap(services.ErrTransient, "governor", "sample", "read temperature", err)
		}
		temp = 0
	}

	freeMB, err := h.readFreeMemoryMB()
	if err != nil {
		return Sample{}, services.Wrap(services.ErrTransient, "governor", "sample", "read memory", err)
	}

	return Sample{CPUPercent: cpuPercent, TempCelsius: temp, FreeMemMB: freeMB}, nil
}

func readCPUCounters(path string) (cpuCounters, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return cpuCounters{}, err
	}
	for _, line := range strings.Split(string(data), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "cpu" {
			continue
		}
		var counters cpuCounters
		for i, field := range fields[1:] {
			value, parseErr := strconv.ParseUint(field, 10, 64)
			if parseErr != nil {
				return cpuCounters{}, fmt.Errorf("parse cpu field %q: %w", field, parseErr)
			}
			counters.total += value
			// idle + iowait
			if i == 3 || i == 4 {
				counters.idle += value
			}
		}
		return counters, nil
	}
	return cpuCounters{}, fmt.Errorf("no aggregate cpu line in %s", path)
}

// readTemperature parses a hwmon-style sensor file reporting millidegrees.
func readTemperature(path string) (float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(data))
	milli, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse sensor value %q: %w", raw, err)
	}
	return float64(milli) / 1000, nil
}

// readFreeMemoryMB prefers a configured accelerator sysfs file reporting
// free bytes; without one it falls back to host RAM via sysinfo.
func (h *HostSampler) readFreeMemoryMB() (int64, error) {
	if h.memPath != "" {
		data, err := os.ReadFile(h.memPath)
		if err != nil {
			return 0, err
		}
		free, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse free memory %q: %w", strings.TrimSpace(string(data)), err)
		}
		return free / (1024 * 1024), nil
	}

	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return 0, err
	}
	unit := uint64(info.Unit)
	if unit == 0 {
		unit = 1
	}
	free := (uint64(info.Freeram) + uint64(info.Bufferram)) * unit
	return int64(free / (1024 * 1024)), nil
}
