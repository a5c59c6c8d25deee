package accountant

import (
	"sync"

	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/metrics"
	"github.com/cuemby/ember/pkg/types"
)

// pool holds the counters for a single memory mode. Everything here is only
// ever mutated while mu is held.
type pool struct {
	mu sync.Mutex

	maxTotal      int64
	storageRegion int64 // soft boundary; informational, does not bound storageUsed directly
	storageUsed   int64
	unrollUsed    int64
	executionUsed int64 // observed, never mutated by this package's own logic

	// unrollByTask is the per-task unroll ledger: how much of unrollUsed
	// each task attempt currently holds. The sums always match; the ledger
	// exists so a leaked reservation can be attributed to the task that
	// took it.
	unrollByTask map[types.TaskID]int64
}

func (p *pool) free() int64 {
	return p.maxTotal - p.storageUsed - p.unrollUsed - p.executionUsed
}

// Config sets the per-mode pool ceilings and the initial storage/unroll
// split used only to size the soft boundary reported by Stats.
type Config struct {
	MaxOnHeapBytes      int64
	MaxOffHeapBytes     int64
	OnHeapStorageShare  float64 // 0..1, defaults to 0.6 if zero
	OffHeapStorageShare float64
}

// Accountant tracks, independently for on-heap and off-heap memory, how much
// space is reserved for resident storage versus in-flight unroll buffers. It
// is pure bookkeeping: it never evicts anything itself, it only grants or
// refuses reservation requests so the Memory Store can decide what to do on
// refusal.
type Accountant struct {
	pools [2]*pool // indexed by types.MemoryMode
}

// New builds an Accountant from the given pool ceilings.
func New(cfg Config) *Accountant {
	onShare := cfg.OnHeapStorageShare
	if onShare <= 0 {
		onShare = 0.6
	}
	offShare := cfg.OffHeapStorageShare
	if offShare <= 0 {
		offShare = 0.6
	}
	a := &Accountant{
		pools: [2]*pool{
			types.OnHeap: {
				maxTotal:      cfg.MaxOnHeapBytes,
				storageRegion: int64(float64(cfg.MaxOnHeapBytes) * onShare),
				unrollByTask:  make(map[types.TaskID]int64),
			},
			types.OffHeap: {
				maxTotal:      cfg.MaxOffHeapBytes,
				storageRegion: int64(float64(cfg.MaxOffHeapBytes) * offShare),
				unrollByTask:  make(map[types.TaskID]int64),
			},
		},
	}
	a.report()
	return a
}

func (a *Accountant) pool(mode types.MemoryMode) *pool {
	return a.pools[mode]
}

// AcquireStorage grants n additional bytes of storage reservation for mode
// if doing so would not exceed the mode's ceiling once unroll and execution
// usage are accounted for. It never evicts; refusal is reported to the
// caller for the caller to act on.
func (a *Accountant) AcquireStorage(blockID types.BlockID, n int64, mode types.MemoryMode) bool {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= p.free() {
		p.storageUsed += n
		a.reportLocked(mode, p)
		return true
	}
	logger := log.WithBlockID(blockID.String())
	logger.Debug().Int64("requested", n).Msg("storage acquire refused")
	return false
}

// ReleaseStorage gives back n bytes of storage reservation for mode. It
// must never underflow the counter; a caller releasing more than it holds
// is a bug, and panics immediately rather than letting storageUsed go
// negative and silently corrupt every later admission decision.
func (a *Accountant) ReleaseStorage(n int64, mode types.MemoryMode) {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storageUsed -= n
	if p.storageUsed < 0 {
		panic("accountant: storage release underflow")
	}
	a.reportLocked(mode, p)
}

// AcquireUnroll grants n additional bytes of unroll reservation for mode
// under the same ceiling as storage; the two regions share free space via
// the soft boundary rather than a hard partition.
func (a *Accountant) AcquireUnroll(taskID types.TaskID, n int64, mode types.MemoryMode) bool {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()

	if n <= p.free() {
		p.unrollUsed += n
		p.unrollByTask[taskID] += n
		a.reportLocked(mode, p)
		return true
	}
	return false
}

// ReleaseUnroll gives back n bytes of taskID's unroll reservation for mode.
// Like ReleaseStorage, it panics rather than let either the pool counter or
// the task's ledger entry underflow.
func (a *Accountant) ReleaseUnroll(taskID types.TaskID, n int64, mode types.MemoryMode) {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unrollUsed -= n
	if p.unrollUsed < 0 {
		panic("accountant: unroll release underflow")
	}
	p.debitTaskLocked(taskID, n)
	a.reportLocked(mode, p)
}

func (p *pool) debitTaskLocked(taskID types.TaskID, n int64) {
	held := p.unrollByTask[taskID]
	if n > held {
		panic("accountant: task unroll ledger underflow")
	}
	if n == held {
		delete(p.unrollByTask, taskID)
	} else {
		p.unrollByTask[taskID] = held - n
	}
}

// TransferUnrollToStorage atomically converts heldUnroll bytes of taskID's
// unroll reservation into final bytes of storage reservation, under a single
// lock acquisition so no observer ever sees the storage counter transiently
// drop (which would let a concurrent evictor free space that was never
// actually free). If final exceeds heldUnroll the shortfall must first be
// acquired as storage; if heldUnroll exceeds final the excess is released as
// storage headroom. Returns false, leaving both counters untouched, if the
// net increase cannot be granted.
func (a *Accountant) TransferUnrollToStorage(taskID types.TaskID, heldUnroll, final int64, mode types.MemoryMode) bool {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()

	if final > heldUnroll {
		extra := final - heldUnroll
		if extra > p.free() {
			return false
		}
	}

	p.unrollUsed -= heldUnroll
	if p.unrollUsed < 0 {
		panic("accountant: unroll release underflow")
	}
	p.debitTaskLocked(taskID, heldUnroll)
	p.storageUsed += final
	a.reportLocked(mode, p)
	return true
}

// UnrollHeldByTask reports how much unroll reservation taskID currently holds
// for mode, for invariant checks and leak diagnostics.
func (a *Accountant) UnrollHeldByTask(taskID types.TaskID, mode types.MemoryMode) int64 {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unrollByTask[taskID]
}

// SetExecutionUsed records the current footprint of the peer execution pool,
// which this package only observes and never allocates from or frees on its
// own behalf.
func (a *Accountant) SetExecutionUsed(n int64, mode types.MemoryMode) {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.executionUsed = n
	a.reportLocked(mode, p)
}

// Stats is a point-in-time snapshot of one mode's counters.
type Stats struct {
	MaxTotal      int64
	StorageRegion int64
	StorageUsed   int64
	UnrollUsed    int64
	ExecutionUsed int64
	Free          int64
}

// Stats returns a snapshot for mode.
func (a *Accountant) Stats(mode types.MemoryMode) Stats {
	p := a.pool(mode)
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		MaxTotal:      p.maxTotal,
		StorageRegion: p.storageRegion,
		StorageUsed:   p.storageUsed,
		UnrollUsed:    p.unrollUsed,
		ExecutionUsed: p.executionUsed,
		Free:          p.free(),
	}
}

func (a *Accountant) report() {
	for _, mode := range []types.MemoryMode{types.OnHeap, types.OffHeap} {
		p := a.pool(mode)
		p.mu.Lock()
		a.reportLocked(mode, p)
		p.mu.Unlock()
	}
}

// reportLocked publishes the pool's counters to Prometheus. Callers must
// hold p.mu.
func (a *Accountant) reportLocked(mode types.MemoryMode, p *pool) {
	metrics.StorageUsedBytes.WithLabelValues(mode.String()).Set(float64(p.storageUsed))
	metrics.UnrollUsedBytes.WithLabelValues(mode.String()).Set(float64(p.unrollUsed))
	metrics.MaxTotalBytes.WithLabelValues(mode.String()).Set(float64(p.maxTotal))
}
