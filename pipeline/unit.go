package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BaSui01/scoreflow/types"
)

// WorkUnit is one admitted scoring request. Its result is written exactly
// once: by the batch that delivers its last pending score, or by the first
// failure of any batch it belongs to.
type WorkUnit struct {
	id      string
	pairs   []types.Pair
	arrival time.Time

	mu        sync.Mutex
	scores    []float64
	remaining int

	once        sync.Once
	result      []float64
	err         error
	completedAt time.Time
	done        chan struct{}
}

func newWorkUnit(pairs []types.Pair, arrival time.Time) *WorkUnit {
	return &WorkUnit{
		id:        uuid.NewString(),
		pairs:     pairs,
		arrival:   arrival,
		scores:    make([]float64, len(pairs)),
		remaining: len(pairs),
		done:      make(chan struct{}),
	}
}

func (u *WorkUnit) ID() string            { return u.id }
func (u *WorkUnit) Pairs() []types.Pair   { return u.pairs }
func (u *WorkUnit) Arrival() time.Time    { return u.arrival }
func (u *WorkUnit) Done() <-chan struct{} { return u.done }

// Result returns the resolved scores or error. Valid after Done is closed.
func (u *WorkUnit) Result() ([]float64, error) {
	return u.result, u.err
}

// CompletedAt is the resolution time. Valid after Done is closed.
func (u *WorkUnit) CompletedAt() time.Time {
	return u.completedAt
}

// deliver writes scores into the positions given by indices. It reports
// whether this call resolved the unit.
func (u *WorkUnit) deliver(indices []int, scores []float64) bool {
	u.mu.Lock()
	if u.remaining <= 0 {
		u.mu.Unlock()
		return false
	}
	for j, idx := range indices {
		u.scores[idx] = scores[j]
	}
	u.remaining -= len(indices)
	last := u.remaining <= 0
	u.mu.Unlock()

	if !last {
		return false
	}
	return u.resolve(u.scores, nil)
}

// fail resolves the unit with err unless it already resolved.
func (u *WorkUnit) fail(err error) bool {
	u.mu.Lock()
	u.remaining = 0
	u.mu.Unlock()
	return u.resolve(nil, err)
}

func (u *WorkUnit) resolve(scores []float64, err error) bool {
	resolved := false
	u.once.Do(func() {
		u.result = scores
		u.err = err
		u.completedAt = time.Now()
		close(u.done)
		resolved = true
	})
	return resolved
}
