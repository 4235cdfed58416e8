// Package stats samples resource usage of managed processes.
//
// The supervisor sweep asks for one Sample per alive pid. CPU percent
// is derived from the growth of the process's CPU time between two
// samples, so the first reading for a pid is always zero. Pids that
// cannot be inspected yield zero samples rather than errors; a process
// disappearing mid-sweep is routine, not exceptional.
package stats

import (
	"sync"
	"time"

	ps "github.com/shirou/gopsutil/v4/process"
)

func init() {
	ps.EnableBootTimeCache(true)
}

// Sample holds one resource reading for a process.
type Sample struct {
	CPUPercent  float64
	MemoryBytes uint64
}

type cpuReading struct {
	total float64 // user+system CPU seconds
	at    time.Time
}

// Sampler computes CPU and memory usage for pids across sweeps.
type Sampler struct {
	mu   sync.Mutex
	last map[int]cpuReading
}

// NewSampler creates a sampler.
func NewSampler() *Sampler {
	return &Sampler{
		last: make(map[int]cpuReading),
	}
}

// Sample returns the current resource usage of pid.
func (s *Sampler) Sample(pid int) Sample {
	if pid <= 0 {
		return Sample{}
	}

	proc, err := ps.NewProcess(int32(pid))
	if err != nil {
		s.Forget(pid)
		return Sample{}
	}

	var sample Sample

	if mem, err := proc.MemoryInfo(); err == nil && mem != nil {
		sample.MemoryBytes = mem.RSS
	}

	times, err := proc.Times()
	if err != nil {
		return sample
	}

	now := time.Now()
	total := times.User + times.System

	s.mu.Lock()
	prev, ok := s.last[pid]
	s.last[pid] = cpuReading{total: total, at: now}
	s.mu.Unlock()

	if ok {
		elapsed := now.Sub(prev.at).Seconds()
		if elapsed > 0 && total >= prev.total {
			sample.CPUPercent = (total - prev.total) / elapsed * 100
		}
	}

	return sample
}

// Forget drops the retained CPU reading for pid. Call it when a
// process exits so a reused pid does not inherit stale deltas.
func (s *Sampler) Forget(pid int) {
	s.mu.Lock()
	delete(s.last, pid)
	s.mu.Unlock()
}

// Alive reports whether a process with the given pid exists.
func Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	exists, err := ps.PidExists(int32(pid))
	return err == nil && exists
}

// StartTime returns the creation time of pid for display purposes.
// The zero time is returned when the process cannot be inspected.
func StartTime(pid int) time.Time {
	if pid <= 0 {
		return time.Time{}
	}

	proc, err := ps.NewProcess(int32(pid))
	if err != nil {
		return time.Time{}
	}

	createTimestamp, err := proc.CreateTime()
	if err != nil {
		return time.Time{}
	}

	return time.UnixMilli(createTimestamp)
}
