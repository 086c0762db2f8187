package batch

import (
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/scoreflow/types"
)

// CloseReason is the trigger that closed a batch.
type CloseReason string

const (
	ReasonSizeReached    CloseReason = "size-reached"
	ReasonTimeoutReached CloseReason = "timeout-reached"
	// ReasonDirect marks a single-unit batch built with batching disabled.
	ReasonDirect CloseReason = "direct"
	// ReasonShutdown marks a forming batch flushed by Former.Close.
	ReasonShutdown CloseReason = "shutdown"
)

// Admittable is a unit of work the former can batch.
type Admittable interface {
	ID() string
	Pairs() []types.Pair
}

// Segment is the part of one unit that landed in a batch. Indices are
// positions in Unit.Pairs(), ascending.
type Segment struct {
	Unit    Admittable
	Indices []int
}

// Batch is a group of pairs dispatched together. Immutable once closed.
type Batch struct {
	ID        string      `json:"id"`
	Segments  []Segment   `json:"-"`
	Size      int         `json:"size"`
	Bucket    int         `json:"bucket"`
	StartedAt time.Time   `json:"started_at"`
	ClosedAt  time.Time   `json:"closed_at"`
	Reason    CloseReason `json:"reason"`
}

func newBatch(bucket int, now time.Time) *Batch {
	return &Batch{
		ID:        uuid.NewString(),
		Bucket:    bucket,
		StartedAt: now,
	}
}

// NewDirect builds the closed single-unit batch used when batching is off.
func NewDirect(unit Admittable) *Batch {
	now := time.Now()
	n := len(unit.Pairs())
	indices := make([]int, n)
	for i := range indices {
		indices[i] = i
	}
	return &Batch{
		ID:        uuid.NewString(),
		Segments:  []Segment{{Unit: unit, Indices: indices}},
		Size:      n,
		Bucket:    -1,
		StartedAt: now,
		ClosedAt:  now,
		Reason:    ReasonDirect,
	}
}

// append adds pair idx of unit, extending the unit's trailing segment when
// it is the most recent one.
func (b *Batch) append(unit Admittable, idx int) {
	if n := len(b.Segments); n > 0 && b.Segments[n-1].Unit.ID() == unit.ID() {
		b.Segments[n-1].Indices = append(b.Segments[n-1].Indices, idx)
	} else {
		b.Segments = append(b.Segments, Segment{Unit: unit, Indices: []int{idx}})
	}
	b.Size++
}

// Pairs returns the batch's pairs in admission order.
func (b *Batch) Pairs() []types.Pair {
	out := make([]types.Pair, 0, b.Size)
	for _, seg := range b.Segments {
		pairs := seg.Unit.Pairs()
		for _, i := range seg.Indices {
			out = append(out, pairs[i])
		}
	}
	return out
}

// Units returns the distinct units in the batch, first appearance order.
func (b *Batch) Units() []Admittable {
	seen := make(map[string]struct{}, len(b.Segments))
	out := make([]Admittable, 0, len(b.Segments))
	for _, seg := range b.Segments {
		if _, ok := seen[seg.Unit.ID()]; ok {
			continue
		}
		seen[seg.Unit.ID()] = struct{}{}
		out = append(out, seg.Unit)
	}
	return out
}

// Wait is the time the batch spent forming.
func (b *Batch) Wait() time.Duration {
	return b.ClosedAt.Sub(b.StartedAt)
}
