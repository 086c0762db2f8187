package pool

import (
	"sync"
	"sync/atomic"
)

// SlicePool recycles scratch slices between batches.
type SlicePool[T any] struct {
	pool     sync.Pool
	initSize int

	gets atomic.Int64
	news atomic.Int64
}

// NewSlicePool creates a new slice pool.
func NewSlicePool[T any](initSize int) *SlicePool[T] {
	p := &SlicePool[T]{initSize: initSize}
	p.pool.New = func() any {
		p.news.Add(1)
		s := make([]T, 0, initSize)
		return &s
	}
	return p
}

// Get retrieves an empty slice from the pool.
func (p *SlicePool[T]) Get() []T {
	p.gets.Add(1)
	return (*p.pool.Get().(*[]T))[:0]
}

// Put returns a slice to the pool. Length is reset, capacity kept.
func (p *SlicePool[T]) Put(s []T) {
	if cap(s) == 0 {
		return
	}
	s = s[:0]
	p.pool.Put(&s)
}

// Stats returns pool statistics.
func (p *SlicePool[T]) Stats() SlicePoolStats {
	return SlicePoolStats{Gets: p.gets.Load(), News: p.news.Load()}
}

// SlicePoolStats contains slice pool statistics.
type SlicePoolStats struct {
	Gets int64 `json:"gets"`
	News int64 `json:"news"`
}

// HitRate returns the fraction of gets served without allocating.
func (s SlicePoolStats) HitRate() float64 {
	if s.Gets == 0 {
		return 0
	}
	return float64(s.Gets-s.News) / float64(s.Gets)
}
