// Package monitoring samples process resource usage on a fixed cadence and
// feeds the Prometheus gauges.
package monitoring

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/topichub/topichub/internal/logging"
	"github.com/topichub/topichub/internal/metrics"
)

// SystemMetrics holds one resource measurement.
type SystemMetrics struct {
	CPUPercent float64
	MemoryMB   float64
	Goroutines int
	Timestamp  time.Time
}

// SystemMonitor is the single measurement loop: measure once, query many
// times.
type SystemMonitor struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	current SystemMetrics

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &SystemMonitor{
		logger: logger.With().Str("component", "system_monitor").Logger(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start begins periodic sampling.
func (sm *SystemMonitor) Start(interval time.Duration) {
	sm.wg.Add(1)
	go func() {
		defer sm.wg.Done()
		defer logging.RecoverPanic(sm.logger, "systemMonitor", nil)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		sm.logger.Info().Dur("interval", interval).Msg("System monitor started")
		sm.sample()

		for {
			select {
			case <-ticker.C:
				sm.sample()
			case <-sm.ctx.Done():
				return
			}
		}
	}()
}

func (sm *SystemMonitor) sample() {
	var cpuPercent float64
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		cpuPercent = percents[0]
	} else if err != nil {
		sm.logger.Debug().Err(err).Msg("CPU sample failed")
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	goroutines := runtime.NumGoroutine()

	sm.mu.Lock()
	sm.current = SystemMetrics{
		CPUPercent: cpuPercent,
		MemoryMB:   float64(mem.Alloc) / (1024 * 1024),
		Goroutines: goroutines,
		Timestamp:  time.Now(),
	}
	sm.mu.Unlock()

	metrics.CPUUsagePercent.Set(cpuPercent)
	metrics.MemoryUsageBytes.Set(float64(mem.Alloc))
	metrics.GoroutinesActive.Set(float64(goroutines))

	sm.logger.Debug().
		Float64("cpu_percent", cpuPercent).
		Float64("memory_mb", sm.current.MemoryMB).
		Int("goroutines", goroutines).
		Msg("System metrics updated")
}

// Metrics returns a copy of the latest measurement.
func (sm *SystemMonitor) Metrics() SystemMetrics {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// Shutdown stops the sampling loop and waits for it to exit.
func (sm *SystemMonitor) Shutdown() {
	sm.cancel()
	sm.wg.Wait()
}
