package monitor

import (
	"runtime"

	"golang.org/x/sys/unix"
)

// SystemStats holds a point-in-time reading of process and host resources
type SystemStats struct {
	CPUPercent        float64
	MemoryPercent     float64
	MemoryAvailableMB float64
	DiskPercent       float64
}

// SystemReader supplies resource readings to the monitor. Implementations
// must be safe for use from the monitor's background loop.
type SystemReader interface {
	ReadStats() (SystemStats, error)
}

// ConnectionCounter reports the number of currently active connections
type ConnectionCounter func() int

// RuntimeReader reads resource stats from the Go runtime and the
// filesystem. CPU usage is approximated from scheduler pressure rather
// than OS counters.
type RuntimeReader struct {
	diskPath string
}

// NewRuntimeReader creates a reader that measures disk usage at path
func NewRuntimeReader(diskPath string) *RuntimeReader {
	if diskPath == "" {
		diskPath = "/"
	}
	return &RuntimeReader{diskPath: diskPath}
}

func (r *RuntimeReader) ReadStats() (SystemStats, error) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	stats := SystemStats{
		CPUPercent:        float64(runtime.NumGoroutine()) / 1000.0 * 100,
		MemoryPercent:     float64(memStats.Alloc) / float64(memStats.Sys) * 100,
		MemoryAvailableMB: float64(memStats.Sys-memStats.Alloc) / (1024 * 1024),
	}

	var fs unix.Statfs_t
	if err := unix.Statfs(r.diskPath, &fs); err != nil {
		return SystemStats{}, err
	}
	total := fs.Blocks * uint64(fs.Bsize)
	free := fs.Bavail * uint64(fs.Bsize)
	if total > 0 {
		stats.DiskPercent = float64(total-free) / float64(total) * 100
	}

	return stats, nil
}
