package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	gopsproc "github.com/shirou/gopsutil/v4/process"
)

var (
	processCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage of a scenario's process tree.",
		}, []string{"scenario"},
	)
	processMemoryMB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "process",
			Name:      "memory_mb",
			Help:      "Resident memory in MB of a scenario's process tree.",
		}, []string{"scenario"},
	)
)

func resourceCollectors() []prometheus.Collector {
	return []prometheus.Collector{processCPUPercent, processMemoryMB}
}

// Usage is one resource sample summed over a process tree.
type Usage struct {
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	NumThreads int32     `json:"num_threads"`
	Processes  int       `json:"processes"`
	Timestamp  time.Time `json:"timestamp"`
}

// Sampler periodically samples the resource usage of a process tree and
// keeps the peak values seen.
type Sampler struct {
	scenario string
	interval time.Duration
	pids     func() []int

	mu    sync.Mutex
	last  Usage
	peak  Usage
	procs map[int32]*gopsproc.Process

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewSampler returns a sampler for the pids returned by pids. A zero interval defaults to 500ms.
func NewSampler(scenario string, interval time.Duration, pids func() []int) *Sampler {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Sampler{
		scenario: scenario,
		interval: interval,
		pids:     pids,
		procs:    make(map[int32]*gopsproc.Process),
		stopCh:   make(chan struct{}),
	}
}

// Start begins sampling in the background until ctx ends or Stop is called.
func (s *Sampler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.Sample(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.Sample(ctx)
			}
		}
	}()
}

// Stop ends sampling and returns the peak usage.
func (s *Sampler) Stop() Usage {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	if regOK.Load() {
		processCPUPercent.DeleteLabelValues(s.scenario)
		processMemoryMB.DeleteLabelValues(s.scenario)
	}
	return s.Peak()
}

// Sample takes one measurement now.
func (s *Sampler) Sample(ctx context.Context) Usage {
	u := Usage{Timestamp: time.Now()}
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[int32]bool)
	for _, pid := range s.pids() {
		if pid <= 0 {
			continue
		}
		id := int32(pid)
		seen[id] = true
		p, ok := s.procs[id]
		if !ok {
			var err error
			p, err = gopsproc.NewProcessWithContext(ctx, id)
			if err != nil {
				continue
			}
			s.procs[id] = p
		}
		mem, err := p.MemoryInfoWithContext(ctx)
		if err != nil {
			slog.Debug("sample memory", "scenario", s.scenario, "pid", pid, "error", err)
			continue
		}
		// Percent since the previous call on the same handle; zero on the first.
		cpu, _ := p.PercentWithContext(ctx, 0)
		threads, _ := p.NumThreadsWithContext(ctx)
		u.CPUPercent += cpu
		u.MemoryMB += float64(mem.RSS) / 1024 / 1024
		u.NumThreads += threads
		u.Processes++
	}
	for id := range s.procs {
		if !seen[id] {
			delete(s.procs, id)
		}
	}
	s.last = u
	if u.MemoryMB > s.peak.MemoryMB {
		s.peak.MemoryMB = u.MemoryMB
		s.peak.Timestamp = u.Timestamp
	}
	if u.CPUPercent > s.peak.CPUPercent {
		s.peak.CPUPercent = u.CPUPercent
	}
	if u.NumThreads > s.peak.NumThreads {
		s.peak.NumThreads = u.NumThreads
	}
	if u.Processes > s.peak.Processes {
		s.peak.Processes = u.Processes
	}
	if regOK.Load() {
		processCPUPercent.WithLabelValues(s.scenario).Set(u.CPUPercent)
		processMemoryMB.WithLabelValues(s.scenario).Set(u.MemoryMB)
	}
	return u
}

// Last returns the most recent sample.
func (s *Sampler) Last() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Peak returns the per-field maximum over all samples.
func (s *Sampler) Peak() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peak
}
