package monitoring

import (
	"context"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// SystemMetrics holds current process resource measurements
type SystemMetrics struct {
	CPUPercent float64   `json:"cpuPercent"`
	MemoryMB   float64   `json:"memoryMb"`
	Goroutines int       `json:"goroutines"`
	Timestamp  time.Time `json:"timestamp"`
}

// SystemMonitor samples CPU and memory of the gateway process on a fixed
// interval. Measure once, query many times: /stats and the Prometheus gauges
// read the cached sample instead of hitting /proc per request.
type SystemMonitor struct {
	logger zerolog.Logger
	proc   *process.Process

	mu      sync.RWMutex
	metrics SystemMetrics
}

// NewSystemMonitor creates a monitor bound to the current process
func NewSystemMonitor(logger zerolog.Logger) *SystemMonitor {
	logger = logger.With().Str("component", "system_monitor").Logger()

	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to open process handle, falling back to host memory")
		proc = nil
	}

	return &SystemMonitor{
		logger:  logger,
		proc:    proc,
		metrics: SystemMetrics{Timestamp: time.Now()},
	}
}

// Run samples until ctx is cancelled
func (m *SystemMonitor) Run(ctx context.Context, interval time.Duration) {
	defer RecoverPanic(m.logger, "systemMonitor", nil)

	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.sample()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sample()
		}
	}
}

func (m *SystemMonitor) sample() {
	sample := SystemMetrics{
		Goroutines: runtime.NumGoroutine(),
		Timestamp:  time.Now(),
	}

	if m.proc != nil {
		// Percent(0) reports usage since the previous call
		if pct, err := m.proc.Percent(0); err == nil {
			sample.CPUPercent = pct
		}
		if memInfo, err := m.proc.MemoryInfo(); err == nil {
			sample.MemoryMB = float64(memInfo.RSS) / 1024 / 1024
		}
	} else if vmem, err := mem.VirtualMemory(); err == nil {
		sample.MemoryMB = float64(vmem.Used) / 1024 / 1024
	}

	m.mu.Lock()
	m.metrics = sample
	m.mu.Unlock()

	CPUUsagePercent.Set(sample.CPUPercent)
	MemoryUsageBytes.Set(sample.MemoryMB * 1024 * 1024)
	GoroutinesActive.Set(float64(sample.Goroutines))

	m.logger.Debug().
		Float64("cpu_percent", sample.CPUPercent).
		Float64("memory_mb", sample.MemoryMB).
		Int("goroutines", sample.Goroutines).
		Msg("System sample")
}

// Current returns the most recent sample
func (m *SystemMonitor) Current() SystemMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.metrics
}
