// Package metrics records executor statistics: instruction and ecall
// counts, paging, and per-segment cycle distributions. Counter and Gauge
// are lock-free; Histogram takes a mutex per observation.
package metrics

import (
	"math"
	"math/bits"
	"sync"
	"sync/atomic"
	"time"
)

// Counter is a monotonically increasing count.
type Counter struct {
	name  string
	value atomic.Uint64
}

// NewCounter returns a zeroed Counter.
func NewCounter(name string) *Counter {
	return &Counter{name: name}
}

func (c *Counter) Inc() { c.value.Add(1) }

// Add increments the counter by n.
func (c *Counter) Add(n uint64) { c.value.Add(n) }

func (c *Counter) Value() uint64 { return c.value.Load() }

func (c *Counter) Name() string { return c.name }

// Gauge holds the latest value of a quantity along with the highest value
// it has been set to.
type Gauge struct {
	name  string
	value atomic.Uint64
	peak  atomic.Uint64
}

// NewGauge returns a zeroed Gauge.
func NewGauge(name string) *Gauge {
	return &Gauge{name: name}
}

// Set stores v and raises the peak if v exceeds it.
func (g *Gauge) Set(v uint64) {
	g.value.Store(v)
	for {
		p := g.peak.Load()
		if v <= p || g.peak.CompareAndSwap(p, v) {
			return
		}
	}
}

func (g *Gauge) Value() uint64 { return g.value.Load() }

// Peak returns the largest value ever passed to Set.
func (g *Gauge) Peak() uint64 { return g.peak.Load() }

func (g *Gauge) Name() string { return g.name }

// numBuckets covers every bit length of a uint64, plus zero.
const numBuckets = 65

// Histogram tracks the distribution of observed values in power-of-two
// buckets: bucket i holds values whose bit length is i, so its upper bound
// is 2^i - 1.
type Histogram struct {
	name    string
	mu      sync.Mutex
	count   uint64
	sum     uint64
	min     uint64
	max     uint64
	buckets [numBuckets]uint64
}

// NewHistogram returns an empty Histogram.
func NewHistogram(name string) *Histogram {
	return &Histogram{name: name, min: math.MaxUint64}
}

// Observe records v.
func (h *Histogram) Observe(v uint64) {
	h.mu.Lock()
	h.count++
	h.sum += v
	h.min = min(h.min, v)
	h.max = max(h.max, v)
	h.buckets[bits.Len64(v)]++
	h.mu.Unlock()
}

func (h *Histogram) Name() string { return h.name }

// Bucket is one non-empty histogram bucket.
type Bucket struct {
	UpperBound uint64 `json:"le"`
	Count      uint64 `json:"count"`
}

// HistogramSnapshot is a point-in-time copy of a Histogram.
type HistogramSnapshot struct {
	Count   uint64   `json:"count"`
	Sum     uint64   `json:"sum"`
	Min     uint64   `json:"min"`
	Max     uint64   `json:"max"`
	Buckets []Bucket `json:"buckets,omitempty"`
}

// Mean returns the average observation, or 0 when there are none.
func (s HistogramSnapshot) Mean() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.Sum) / float64(s.Count)
}

// Snapshot copies the histogram's state. Min and Max are 0 when nothing
// has been observed.
func (h *Histogram) Snapshot() HistogramSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	s := HistogramSnapshot{Count: h.count, Sum: h.sum, Max: h.max}
	if h.count > 0 {
		s.Min = h.min
	}
	for i, n := range h.buckets {
		if n == 0 {
			continue
		}
		upper := uint64(math.MaxUint64)
		if i < 64 {
			upper = 1<<uint(i) - 1
		}
		s.Buckets = append(s.Buckets, Bucket{UpperBound: upper, Count: n})
	}
	return s
}

// Timer observes elapsed wall time, in microseconds, into a Histogram.
type Timer struct {
	start time.Time
	hist  *Histogram
}

// NewTimer starts a timer that records into h when stopped.
func NewTimer(h *Histogram) *Timer {
	return &Timer{start: time.Now(), hist: h}
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.hist != nil {
		t.hist.Observe(uint64(d.Microseconds()))
	}
	return d
}
