// Package monitor samples system utilization while a benchmark runs, so
// throughput numbers can be read next to what the machine was doing.
package monitor

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Octogonapus/S3BenchRunner/report"
	"github.com/Octogonapus/S3BenchRunner/util"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	gopsnet "github.com/shirou/gopsutil/v3/net"
)

// Sample is one utilization observation.
type Sample struct {
	Time       time.Time
	CPUPercent float64
	UsedMemory uint64

	// Cumulative interface counters since boot; rates come from deltas.
	NetBytesSent uint64
	NetBytesRecv uint64
}

// Monitor samples utilization on a fixed interval between Start and Stop.
type Monitor struct {
	interval time.Duration
	stop     atomic.Bool
	wg       sync.WaitGroup

	mu      sync.Mutex
	samples []Sample
}

func New(interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 1 * time.Second
	}
	return &Monitor{interval: interval}
}

func (m *Monitor) Start() {
	// CPU percentages are computed against the previous reading, so prime
	// the baseline before the loop records anything.
	cpu.Percent(0, false)

	m.wg.Add(1)
	go m.run()
}

// Stop ends sampling and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.stop.Store(true)
	m.wg.Wait()
}

// Samples returns a copy of everything recorded so far.
func (m *Monitor) Samples() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Sample(nil), m.samples...)
}

func (m *Monitor) run() {
	defer m.wg.Done()
	lastWakeTime := time.Now()
	for !m.stop.Load() {
		jitter := time.Since(lastWakeTime) - m.interval
		if jitter > m.interval {
			slog.Warn("monitor: sampling jitter exceeded the interval",
				slog.Int64("jitterMs", jitter.Milliseconds()))
		}
		lastWakeTime = time.Now()

		m.record()
		time.Sleep(m.interval)
	}
	slog.Debug("monitor: stopped")
}

func (m *Monitor) record() {
	s := Sample{Time: time.Now()}

	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		s.CPUPercent = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		s.UsedMemory = vm.Used
	}
	if counters, err := gopsnet.IOCounters(false); err == nil && len(counters) > 0 {
		s.NetBytesSent = counters[0].BytesSent
		s.NetBytesRecv = counters[0].BytesRecv
	}

	m.mu.Lock()
	m.samples = append(m.samples, s)
	m.mu.Unlock()
}

// LogSummary reports what the machine did across the sampling window.
func (m *Monitor) LogSummary() {
	samples := m.Samples()
	if len(samples) < 2 {
		return
	}

	cpus := make([]float64, 0, len(samples))
	var maxMem uint64
	for _, s := range samples {
		cpus = append(cpus, s.CPUPercent)
		if s.UsedMemory > maxMem {
			maxMem = s.UsedMemory
		}
	}
	cpuStats := report.Summarize(cpus)

	first := samples[0]
	last := samples[len(samples)-1]
	elapsedSecs := last.Time.Sub(first.Time).Seconds()
	var sentGbps, recvGbps float64
	if elapsedSecs > 0 {
		sentGbps = util.BytesToGigabit(int64(last.NetBytesSent-first.NetBytesSent)) / elapsedSecs
		recvGbps = util.BytesToGigabit(int64(last.NetBytesRecv-first.NetBytesRecv)) / elapsedSecs
	}

	slog.Info("system utilization",
		slog.Float64("cpuMeanPercent", cpuStats.Mean),
		slog.Float64("cpuMaxPercent", cpuStats.Max),
		slog.Float64("maxUsedMemoryMiB", util.BytesToMiB(maxMem)),
		slog.Float64("netSentGbps", sentGbps),
		slog.Float64("netRecvGbps", recvGbps))
}
