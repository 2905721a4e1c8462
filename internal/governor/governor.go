package governor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"darkroom/internal/config"
	"darkroom/internal/logging"
)

// Snapshot is a point-in-time view of the governor for status reporting.
type Snapshot struct {
	CPUPercent       float64
	TempCelsius      float64
	FreeMemMB        int64
	ReservedMemMB    int64
	ConcurrencyLimit int
	Throttled        bool
	Paused           bool
	SampledAt        time.Time
}

// Governor tracks host pressure and decides how many jobs may run and
// whether a particular job's memory requirement can be admitted.
type Governor struct {
	cfg     config.Resources
	workers int
	sampler Sampler
	logger  *slog.Logger

	mu          sync.Mutex
	last        Sample
	sampledAt   time.Time
	throttled   bool
	paused      bool
	reservedMB  int64
	subscribers []chan struct{}
}

// New builds a governor. workers is the configured pool size, which acts
// as the concurrency ceiling when the host is unloaded.
func New(cfg config.Resources, workers int, sampler Sampler, logger *slog.Logger) *Governor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Governor{
		cfg:     cfg,
		workers: workers,
		sampler: sampler,
		logger:  logging.NewComponentLogger(logger, "governor"),
		// Until the first sample lands, assume plenty of headroom so a
		// fresh daemon does not refuse work for one poll interval.
		last: Sample{FreeMemMB: 1 << 20},
	}
}

// Run samples on the configured interval until the context ends.
func (g *Governor) Run(ctx context.Context) error {
	interval := time.Duration(g.cfg.SampleIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sample, err := g.sampler.Sample(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				g.logger.Warn("resource sample failed", logging.Error(err))
				continue
			}
			g.Observe(sample)
		}
	}
}

// Observe applies one sample to the hysteresis state machine. Exposed so
// tests can drive the governor without a ticker.
func (g *Governor) Observe(sample Sample) {
	g.mu.Lock()
	g.last = sample
	g.sampledAt = time.Now().UTC()

	wasThrottled, wasPaused := g.throttled, g.paused

	if sample.CPUPercent > g.cfg.CPUCeilingPercent {
		g.throttled = true
	} else if sample.CPUPercent < g.cfg.CPUFloorPercent {
		g.throttled = false
	}

	if sample.TempCelsius > g.cfg.TempLimitCelsius {
		g.paused = true
	} else if sample.TempCelsius < g.cfg.TempResumeCelsius {
		g.paused = false
	}

	throttled, paused := g.throttled, g.paused
	recovered := (wasThrottled && !throttled) || (wasPaused && !paused)
	g.mu.Unlock()

	if throttled != wasThrottled {
		g.logger.Info("cpu throttle state changed",
			logging.Bool("throttled", throttled),
			logging.Float64("cpu_percent", sample.CPUPercent))
	}
	if paused != wasPaused {
		g.logger.Warn("thermal admission state changed",
			logging.Bool("paused", paused),
			logging.Float64("temp_celsius", sample.TempCelsius))
	}
	if recovered {
		g.notify()
	}
}

// ConcurrencyLimit returns how many jobs may run right now. CPU pressure
// halves the configured pool until utilization falls below the floor.
func (g *Governor) ConcurrencyLimit() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return 0
	}
	if g.throttled {
		limit := g.workers / 2
		if limit < 1 {
			limit = 1
		}
		return limit
	}
	return g.workers
}

// CanAdmit reports whether new jobs may start at all. Thermal pause
// blocks every admission regardless of memory headroom.
func (g *Governor) CanAdmit() (bool, string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return false, "thermal limit exceeded"
	}
	return true, ""
}

// AdmitJob reserves memMB of memory for a job. On success the returned
// release function must be called exactly once when the job finishes.
func (g *Governor) AdmitJob(memMB int64) (release func(), ok bool, reason string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.paused {
		return nil, false, "thermal limit exceeded"
	}
	if memMB > 0 && g.reservedMB+memMB > g.last.FreeMemMB {
		return nil, false, "insufficient free memory"
	}

	g.reservedMB += memMB
	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			g.reservedMB -= memMB
			g.mu.Unlock()
			g.notify()
		})
	}, true, ""
}

// Subscribe returns a channel that receives a signal whenever capacity
// may have returned: a reservation released, or a throttle/pause cleared.
func (g *Governor) Subscribe() <-chan struct{} {
	ch := make(chan struct{}, 1)
	g.mu.Lock()
	g.subscribers = append(g.subscribers, ch)
	g.mu.Unlock()
	return ch
}

func (g *Governor) notify() {
	g.mu.Lock()
	subscribers := g.subscribers
	g.mu.Unlock()
	for _, ch := range subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Snapshot returns the current governor state for the status API.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	limit := g.workers
	if g.paused {
		limit = 0
	} else if g.throttled {
		limit = g.workers / 2
		if limit < 1 {
			limit = 1
		}
	}
	return Snapshot{
		CPUPercent:       g.last.CPUPercent,
		TempCelsius:      g.last.TempCelsius,
		FreeMemMB:        g.last.FreeMemMB,
		ReservedMemMB:    g.reservedMB,
		ConcurrencyLimit: limit,
		Throttled:        g.throttled,
		Paused:           g.paused,
		SampledAt:        g.sampledAt,
	}
}
