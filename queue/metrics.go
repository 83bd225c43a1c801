package queue

import (
	"fmt"

	"github.com/shirou/gopsutil/v3/mem"

	"github.com/sentivane/sentivane/errors"
)

// SystemMetrics tracks resource usage for worker pool monitoring.
type SystemMetrics struct {
	WorkersActive int     `json:"workers_active"` // workers currently executing jobs
	WorkersTotal  int     `json:"workers_total"`  // configured worker count
	MemoryUsedGB  float64 `json:"memory_used_gb"`
	MemoryTotalGB float64 `json:"memory_total_gb"`
	MemoryPercent float64 `json:"memory_percent"`
	JobsPending   int     `json:"jobs_pending"`
	JobsRunning   int     `json:"jobs_running"`
}

func getMemoryStats() (total uint64, available uint64, err error) {
	v, err := mem.VirtualMemory()
	if err != nil {
		return 0, 0, errors.Wrap(err, "failed to get memory stats")
	}
	return v.Total, v.Available, nil
}

// calculateSafeWorkerCount recommends a worker count for available memory.
// Collection jobs hold decoded API payloads in memory while scoring, so the
// per-worker budget is modest.
func calculateSafeWorkerCount(availableGB float64) int {
	const memoryPerWorkerGB = 0.25
	const memoryBufferGB = 1.0 // reserved for sqlite cache and the daemon itself

	if availableGB < memoryBufferGB {
		return 1
	}

	recommended := int((availableGB - memoryBufferGB) / memoryPerWorkerGB)
	if recommended < 1 {
		return 1
	}
	if recommended > 32 {
		return 32
	}
	return recommended
}

// GetSystemMetrics returns current system resource usage.
func (wp *WorkerPool) GetSystemMetrics() SystemMetrics {
	total, available, err := getMemoryStats()

	var memUsedGB, memTotalGB, memPercent float64
	if err == nil && total > 0 {
		memTotalGB = float64(total) / 1024 / 1024 / 1024
		memUsedGB = float64(total-available) / 1024 / 1024 / 1024
		memPercent = (memUsedGB / memTotalGB) * 100
	}

	var pending, running int
	if stats, err := wp.queue.GetStats(); err == nil {
		pending = stats.Pending
		running = stats.Running
	}

	wp.mu.Lock()
	active := wp.globalActive
	wp.mu.Unlock()

	return SystemMetrics{
		WorkersActive: active,
		WorkersTotal:  wp.cfg.Workers,
		MemoryUsedGB:  memUsedGB,
		MemoryTotalGB: memTotalGB,
		MemoryPercent: memPercent,
		JobsPending:   pending,
		JobsRunning:   running,
	}
}

// checkMemoryPressure warns when the configured worker count looks too high
// for the machine. Advisory only; the pool still starts.
func (wp *WorkerPool) checkMemoryPressure() string {
	total, available, err := getMemoryStats()
	if err != nil {
		return ""
	}

	availableGB := float64(available) / 1024 / 1024 / 1024
	totalGB := float64(total) / 1024 / 1024 / 1024
	recommended := calculateSafeWorkerCount(availableGB)

	if wp.cfg.Workers > recommended {
		return fmt.Sprintf(
			"worker count (%d) exceeds recommended (%d) for available memory (%.1f/%.1fGB)",
			wp.cfg.Workers, recommended, totalGB-availableGB, totalGB)
	}

	return ""
}
