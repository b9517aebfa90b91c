package loader

import (
	"math"
	"sync"

	"github.com/vertextoedge/modelcache/internal/domain"
)

// ProgressFunc receives aggregated progress for one load. total is -1 while
// the resource length is unknown.
type ProgressFunc func(loaded, total int64)

// Aggregator folds per-chunk byte counts into one (loaded, total) signal.
//
// A chunk update is forwarded only when the chunk's own count crosses a
// threshold boundary or the chunk is complete. Forwarded values never
// decrease: each chunk keeps its high-water mark, so a retried chunk does not
// pull the total back, and the callback runs under the aggregator lock.
type Aggregator struct {
	mu        sync.Mutex
	total     int64
	threshold int64
	sizes     []int64
	progress  []int64
	buckets   []int64
	loaded    int64
	reported  int64
	fn        ProgressFunc
}

// NewAggregator creates an aggregator for a chunk plan
func NewAggregator(chunks []domain.ChunkDescriptor, total, threshold int64, fn ProgressFunc) *Aggregator {
	if threshold <= 0 {
		threshold = DefaultProgressThreshold
	}
	sizes := make([]int64, len(chunks))
	for i, c := range chunks {
		sizes[i] = c.Size
	}
	return &Aggregator{
		total:     total,
		threshold: threshold,
		sizes:     sizes,
		progress:  make([]int64, len(chunks)),
		buckets:   make([]int64, len(chunks)),
		reported:  -1,
		fn:        fn,
	}
}

// newStreamAggregator tracks a single body of unknown length
func newStreamAggregator(threshold int64, fn ProgressFunc) *Aggregator {
	a := NewAggregator(nil, -1, threshold, fn)
	a.sizes = []int64{math.MaxInt64}
	a.progress = []int64{0}
	a.buckets = []int64{0}
	return a
}

// Preload records bytes already present for a chunk without forwarding
func (a *Aggregator) Preload(index int, n int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.advance(index, n)
}

// Report forwards the current totals unconditionally
func (a *Aggregator) Report() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.emit()
}

// Update records the cumulative byte count received for one chunk
func (a *Aggregator) Update(index int, received int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.advance(index, received) {
		return
	}

	bucket := received / a.threshold
	if bucket == a.buckets[index] && received < a.sizes[index] {
		return
	}
	a.buckets[index] = bucket

	if a.loaded > a.reported {
		a.emit()
	}
}

// Complete marks a chunk as fully received
func (a *Aggregator) Complete(index int) {
	a.Update(index, a.sizes[index])
}

// Finish forwards the final (size, size) report if it was not sent yet
func (a *Aggregator) Finish(size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.total = size
	if a.loaded < size {
		a.loaded = size
	}
	if a.reported != size {
		a.emit()
	}
}

// Loaded returns the current aggregated byte count
func (a *Aggregator) Loaded() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.loaded
}

func (a *Aggregator) advance(index int, n int64) bool {
	if index < 0 || index >= len(a.progress) {
		return false
	}
	if n > a.sizes[index] {
		n = a.sizes[index]
	}
	if n <= a.progress[index] {
		return false
	}
	a.loaded += n - a.progress[index]
	a.progress[index] = n
	return true
}

func (a *Aggregator) emit() {
	a.reported = a.loaded
	if a.fn != nil {
		a.fn(a.loaded, a.total)
	}
}
