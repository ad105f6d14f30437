// Package sensor polls disk usage of the data directory so operators see a
// disk-full situation building before commits start failing with
// storage errors.
package sensor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/disk"

	"statehouse/pkg/logger"
)

var diskUsedPct = prometheus.NewGauge(prometheus.GaugeOpts{
	Name: "statehouse_data_disk_used_pct",
	Help: "Used percentage of the volume holding the data directory.",
})

func init() {
	prometheus.MustRegister(diskUsedPct)
}

// Sensor periodically samples disk usage for one path.
type Sensor struct {
	path     string
	interval time.Duration
	highPct  float64

	mu       sync.Mutex
	lastPct  float64
	warning  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(path string, interval time.Duration, highPct int) *Sensor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Sensor{
		path:     path,
		interval: interval,
		highPct:  float64(highPct),
		stopCh:   make(chan struct{}),
	}
}

// Start begins polling in the background.
func (s *Sensor) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.sample()
		for {
			select {
			case <-ticker.C:
				s.sample()
			case <-s.stopCh:
				return
			}
		}
	}()
}

func (s *Sensor) sample() {
	usage, err := disk.Usage(s.path)
	if err != nil {
		logger.Warn("disk_sample_failed", "path", s.path, "error", err)
		return
	}
	diskUsedPct.Set(usage.UsedPercent)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastPct = usage.UsedPercent
	if usage.UsedPercent >= s.highPct && !s.warning {
		s.warning = true
		logger.Warn("data_disk_high", "path", s.path, "used_pct", usage.UsedPercent, "free_bytes", usage.Free)
	} else if usage.UsedPercent < s.highPct && s.warning {
		s.warning = false
		logger.Info("data_disk_recovered", "path", s.path, "used_pct", usage.UsedPercent)
	}
}

// UsedPct returns the most recent sample.
func (s *Sensor) UsedPct() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastPct
}

// Stop halts polling.
func (s *Sensor) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()
	})
}
