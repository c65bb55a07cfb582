package cache

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics counts cache activity with atomic counters so the hot path
// never takes a lock.
type Metrics struct {
	hits      atomic.Int64
	misses    atomic.Int64
	stale     atomic.Int64
	writes    atomic.Int64
	deletes   atomic.Int64
	errors    atomic.Int64
	loadNanos atomic.Int64
	loadCount atomic.Int64
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Hits    int64
	Misses  int64
	Stale   int64
	Writes  int64
	Deletes int64
	Errors  int64
	// AvgLoad is the mean duration of loader calls.
	AvgLoad time.Duration
}

// HitRate returns hits over total reads, zero when nothing was read.
func (s Snapshot) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

func (s Snapshot) String() string {
	return fmt.Sprintf("hits=%d misses=%d stale=%d writes=%d deletes=%d errors=%d hit_rate=%.2f avg_load=%s",
		s.Hits, s.Misses, s.Stale, s.Writes, s.Deletes, s.Errors, s.HitRate(), s.AvgLoad)
}

// Snapshot copies the current counter values.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		Hits:    m.hits.Load(),
		Misses:  m.misses.Load(),
		Stale:   m.stale.Load(),
		Writes:  m.writes.Load(),
		Deletes: m.deletes.Load(),
		Errors:  m.errors.Load(),
	}
	if n := m.loadCount.Load(); n > 0 {
		s.AvgLoad = time.Duration(m.loadNanos.Load() / n)
	}
	return s
}

func (m *Metrics) hit()         { m.hits.Add(1) }
func (m *Metrics) miss()        { m.misses.Add(1) }
func (m *Metrics) staled()      { m.stale.Add(1) }
func (m *Metrics) write()       { m.writes.Add(1) }
func (m *Metrics) delete(n int) { m.deletes.Add(int64(n)) }
func (m *Metrics) failed()      { m.errors.Add(1) }

func (m *Metrics) load(d time.Duration) {
	m.loadNanos.Add(int64(d))
	m.loadCount.Add(1)
}
