package blockindex

import (
	"container/list"
	"context"
	"sync"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/locktable"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/metrics"
	"github.com/cuemby/ember/pkg/types"
)

type indexEntry struct {
	id    types.BlockID
	entry types.Entry
}

// Index is an access-ordered map from block id to resident entry: the
// front of the list is the most recently accessed block, the back is the
// least recently accessed and therefore the first eviction candidate.
type Index struct {
	mu      sync.Mutex
	order   *list.List
	entries map[types.BlockID]*list.Element
	locks   *locktable.Table
	acct    *accountant.Accountant
	handler BlockEvictionHandler
	notify  func(id types.BlockID, mode types.MemoryMode, size int64)
}

// SetEvictionNotifier registers fn to be invoked once per evicted block,
// after the entry has left the index and its reservation is released. It is
// called outside the index mutex, so fn may safely publish to a broker or
// log without ordering constraints. Must be set before the first eviction.
func (ix *Index) SetEvictionNotifier(fn func(id types.BlockID, mode types.MemoryMode, size int64)) {
	ix.notify = fn
}

// New builds an Index over the given lock table, accountant, and eviction
// handler. All three are required collaborators: the index never evicts or
// accounts for bytes on its own behalf.
func New(locks *locktable.Table, acct *accountant.Accountant, handler BlockEvictionHandler) *Index {
	return &Index{
		order:   list.New(),
		entries: make(map[types.BlockID]*list.Element),
		locks:   locks,
		acct:    acct,
		handler: handler,
	}
}

// Insert adds entry to the index at the most-recently-accessed position.
// Callers must have already acquired the corresponding storage reservation;
// Insert only tracks the entry, it does not touch the Accountant.
func (ix *Index) Insert(id types.BlockID, entry types.Entry) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if existing, ok := ix.entries[id]; ok {
		ix.order.Remove(existing)
	}
	elem := ix.order.PushFront(&indexEntry{id: id, entry: entry})
	ix.entries[id] = elem
}

// Get returns the entry for id, promoting it to most-recently-accessed.
func (ix *Index) Get(id types.BlockID) (types.Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	elem, ok := ix.entries[id]
	if !ok {
		return nil, false
	}
	ix.order.MoveToFront(elem)
	return elem.Value.(*indexEntry).entry, true
}

// Contains reports whether id is resident, without affecting access order.
func (ix *Index) Contains(id types.BlockID) bool {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	_, ok := ix.entries[id]
	return ok
}

// Remove drops id from the index unconditionally and returns its entry, for
// the facade's explicit remove operation. It does not release the
// Accountant reservation, call entry.Release, or touch the lock table;
// those are the facade's responsibility since it also needs to coordinate
// with the lock it is already holding on id.
func (ix *Index) Remove(id types.BlockID) (types.Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	elem, ok := ix.entries[id]
	if !ok {
		return nil, false
	}
	ix.order.Remove(elem)
	delete(ix.entries, id)
	return elem.Value.(*indexEntry).entry, true
}

// Clear drops every resident entry for mode and returns them, for the
// facade's clear operation. This is an administrative, whole-store reset:
// unlike eviction, it does not consult the lock table, matching the
// expectation that clear is never called while readers are active.
func (ix *Index) Clear(mode types.MemoryMode) map[types.BlockID]types.Entry {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	removed := make(map[types.BlockID]types.Entry)
	for e := ix.order.Front(); e != nil; {
		next := e.Next()
		ie := e.Value.(*indexEntry)
		if ie.entry.Mode() == mode {
			removed[ie.id] = ie.entry
			ix.order.Remove(e)
			delete(ix.entries, ie.id)
		}
		e = next
	}
	return removed
}

type evictionCandidate struct {
	id   types.BlockID
	elem *list.Element
	size int64
}

// EvictToFree scans the index in access order (least-recently-accessed
// first), skipping entries outside mode, entries sharing requesting's
// dataset, and entries it cannot non-blockingly write-lock, accumulating
// candidates until bytesNeeded is met. It then hands each candidate to the
// eviction handler and removes it from the index, returning the total bytes
// freed. If the scan never accumulates enough, it releases every lock it
// took and returns 0 without evicting anything.
func (ix *Index) EvictToFree(ctx context.Context, requesting *types.BlockID, bytesNeeded int64, mode types.MemoryMode, evictor types.TaskID) int64 {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.EvictionDuration)

	var excluded types.DatasetID
	var hasExcluded bool
	if requesting != nil {
		excluded, hasExcluded = requesting.Dataset()
	}

	ix.mu.Lock()
	var candidates []evictionCandidate
	var accumulated int64
	for e := ix.order.Back(); e != nil && accumulated < bytesNeeded; e = e.Prev() {
		ie := e.Value.(*indexEntry)
		if ie.entry.Mode() != mode {
			continue
		}
		if hasExcluded {
			if ds, ok := ie.id.Dataset(); ok && ds == excluded {
				continue
			}
		}
		if _, ok := ix.locks.LockForWriting(ie.id, evictor, false); !ok {
			continue
		}
		candidates = append(candidates, evictionCandidate{id: ie.id, elem: e, size: ie.entry.Size()})
		accumulated += ie.entry.Size()
	}
	ix.mu.Unlock()

	if accumulated < bytesNeeded {
		for _, c := range candidates {
			ix.locks.Unlock(c.id, evictor)
		}
		return 0
	}

	var freed int64
	processed := 0
	defer func() {
		if r := recover(); r != nil {
			for _, c := range candidates[processed:] {
				ix.locks.Unlock(c.id, evictor)
			}
			panic(r)
		}
	}()

	for _, c := range candidates {
		ie := c.elem.Value.(*indexEntry)
		level := ix.handler.DropFromMemory(ctx, c.id, entrySupplier{entry: ie.entry}, ie.entry.Level())

		ix.mu.Lock()
		ix.order.Remove(c.elem)
		delete(ix.entries, c.id)
		ix.mu.Unlock()

		if level.UseMemory || level.UseDisk {
			ix.locks.Unlock(c.id, evictor)
		} else {
			ie.entry.Release()
			ix.locks.RemoveBlockEntry(c.id, evictor)
		}
		ix.acct.ReleaseStorage(c.size, mode)
		freed += c.size
		processed++

		metrics.BlocksEvictedTotal.WithLabelValues(mode.String()).Inc()
		metrics.EvictionBytesFreedTotal.WithLabelValues(mode.String()).Add(float64(c.size))
		evictedLogger := log.WithBlockID(c.id.String())
		evictedLogger.Debug().Int64("bytes", c.size).Msg("evicted block")
		if ix.notify != nil {
			ix.notify(c.id, mode, c.size)
		}
	}
	return freed
}
