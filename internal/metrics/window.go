package metrics

import (
	"math"
	"sort"
	"time"
)

type sample struct {
	value   float64
	queries int
	at      time.Time
}

// window is a fixed-capacity ring of the most recent samples.
type window struct {
	buf  []sample
	next int
	full bool
}

func newWindow(capacity int) *window {
	if capacity <= 0 {
		capacity = 1
	}
	return &window{buf: make([]sample, capacity)}
}

func (w *window) add(s sample) {
	w.buf[w.next] = s
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *window) len() int {
	if w.full {
		return len(w.buf)
	}
	return w.next
}

// samples returns retained samples oldest first.
func (w *window) samples() []sample {
	if !w.full {
		return append([]sample(nil), w.buf[:w.next]...)
	}
	out := make([]sample, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}

func (w *window) reset() {
	clear(w.buf)
	w.next = 0
	w.full = false
}

// distribution is avg and nearest-rank percentiles of a sample set.
type distribution struct {
	avg, p50, p95, p99 float64
}

func distributionOf(ss []sample) distribution {
	if len(ss) == 0 {
		return distribution{}
	}
	values := make([]float64, len(ss))
	sum := 0.0
	for i, s := range ss {
		values[i] = s.value
		sum += s.value
	}
	sort.Float64s(values)
	return distribution{
		avg: sum / float64(len(values)),
		p50: Percentile(values, 50),
		p95: Percentile(values, 95),
		p99: Percentile(values, 99),
	}
}

// Percentile returns the nearest-rank p-th percentile of sorted: the
// smallest value with at least p% of samples <= it. Empty input gives 0.
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	rank := int(math.Ceil(p * float64(n) / 100))
	if rank < 1 {
		rank = 1
	}
	if rank > n {
		rank = n
	}
	return sorted[rank-1]
}
