package cache

import "sync/atomic"

// Metrics is an explicit, test-visible counter set. Counters only grow;
// Reset exists for test isolation and the ops endpoint, never as a side
// effect of other calls.
type Metrics struct {
	hits    atomic.Int64
	misses  atomic.Int64
	sets    atomic.Int64
	deletes atomic.Int64
	errors  atomic.Int64
	gets    atomic.Int64
}

type MetricsSnapshot struct {
	Hits             int64   `json:"hits"`
	Misses           int64   `json:"misses"`
	Sets             int64   `json:"sets"`
	Deletes          int64   `json:"deletes"`
	Errors           int64   `json:"errors"`
	TotalGetRequests int64   `json:"totalGetRequests"`
	HitRate          float64 `json:"hitRate"`
	ErrorRate        float64 `json:"errorRate"`
}

func NewMetrics() *Metrics { return &Metrics{} }

func (m *Metrics) Snapshot() MetricsSnapshot {
	s := MetricsSnapshot{
		Hits:             m.hits.Load(),
		Misses:           m.misses.Load(),
		Sets:             m.sets.Load(),
		Deletes:          m.deletes.Load(),
		Errors:           m.errors.Load(),
		TotalGetRequests: m.gets.Load(),
	}
	if s.TotalGetRequests > 0 {
		s.HitRate = float64(s.Hits) / float64(s.TotalGetRequests)
		s.ErrorRate = float64(s.Errors) / float64(s.TotalGetRequests)
	}
	return s
}

func (m *Metrics) Reset() {
	m.hits.Store(0)
	m.misses.Store(0)
	m.sets.Store(0)
	m.deletes.Store(0)
	m.errors.Store(0)
	m.gets.Store(0)
}
