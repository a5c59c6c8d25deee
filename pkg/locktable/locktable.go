package locktable

import (
	"sync"

	"github.com/cuemby/ember/pkg/types"
)

// record is the lock state for a single block: either one writer or any
// number of readers, never both. readers counts locks per owning task so a
// single task attempt can hold nested read locks and release_all_locks_for_task
// removes its share cleanly without disturbing other tasks' counts.
type record struct {
	writer  types.TaskID // "" means unheld
	readers map[types.TaskID]int
}

func newRecord() *record {
	return &record{readers: make(map[types.TaskID]int)}
}

func (r *record) readerCount() int {
	n := 0
	for _, c := range r.readers {
		n += c
	}
	return n
}

func (r *record) writable() bool {
	return r.writer == "" && r.readerCount() == 0
}

func (r *record) readableBy(task types.TaskID) bool {
	if r.writer != "" {
		return false
	}
	return true
}

// Guard is the handle returned by a successful lock acquisition. Callers
// release it through the owning Table's Unlock, Guard only carries the
// identity needed to do so.
type Guard struct {
	ID     types.BlockID
	TaskID types.TaskID
}

// Table tracks one lock record per resident block plus an auxiliary
// task-attempt index, so a task's locks can all be released in one pass when
// it completes or is cancelled without scanning every block.
type Table struct {
	mu      sync.Mutex
	cond    *sync.Cond
	records map[types.BlockID]*record
	byTask  map[types.TaskID]map[types.BlockID]struct{}
}

// New builds an empty lock table.
func New() *Table {
	t := &Table{
		records: make(map[types.BlockID]*record),
		byTask:  make(map[types.TaskID]map[types.BlockID]struct{}),
	}
	t.cond = sync.NewCond(&t.mu)
	return t
}

// NewBlockForWriting creates the lock record for a block id that is not yet
// present anywhere in the store and immediately grants its write lock to
// task. It and CreateIfAbsent are the only ways a lock record comes into
// existence; every other lock call requires the record to already be there. It unconditionally
// overwrites any existing record for id, so callers that have not already
// ruled out a concurrent duplicate put must use CreateIfAbsent instead.
func (t *Table) NewBlockForWriting(id types.BlockID, task types.TaskID) *Guard {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createLocked(id, task)
}

// CreateIfAbsent atomically checks for an existing lock record on id and, if
// none exists, creates one and grants its write lock to task in the same
// critical section. This is the check-and-create a put must use: checking
// HasRecord and calling NewBlockForWriting as two separate lock
// acquisitions lets two concurrent puts for the same id both observe no
// record, both create one, and both proceed, double-counting the
// reservation and leaking one of them. ok is false, and no record is
// touched, if id already has a lock record.
func (t *Table) CreateIfAbsent(id types.BlockID, task types.TaskID) (*Guard, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[id]; exists {
		return nil, false
	}
	return t.createLocked(id, task), true
}

func (t *Table) createLocked(id types.BlockID, task types.TaskID) *Guard {
	r := newRecord()
	r.writer = task
	t.records[id] = r
	t.addToTaskIndexLocked(task, id)
	return &Guard{ID: id, TaskID: task}
}

// LockForWriting acquires the write lock on id. In blocking mode it waits
// for contending readers/writer to clear; otherwise it returns immediately
// with ok=false if the block is currently locked. It also returns ok=false,
// without blocking, if id has no lock record at all.
func (t *Table) LockForWriting(id types.BlockID, task types.TaskID, blocking bool) (*Guard, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		r, exists := t.records[id]
		if !exists {
			return nil, false
		}
		if r.writable() {
			r.writer = task
			t.addToTaskIndexLocked(task, id)
			return &Guard{ID: id, TaskID: task}, true
		}
		if !blocking {
			return nil, false
		}
		t.cond.Wait()
	}
}

// LockForReading acquires a read lock on id, incrementing the read count.
// Same blocking contract as LockForWriting.
func (t *Table) LockForReading(id types.BlockID, task types.TaskID, blocking bool) (*Guard, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		r, exists := t.records[id]
		if !exists {
			return nil, false
		}
		if r.readableBy(task) {
			r.readers[task]++
			t.addToTaskIndexLocked(task, id)
			return &Guard{ID: id, TaskID: task}, true
		}
		if !blocking {
			return nil, false
		}
		t.cond.Wait()
	}
}

// Downgrade converts the write lock held by task on id into a read lock,
// used when a put publishes its entry to readers.
func (t *Table) Downgrade(id types.BlockID, task types.TaskID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	r, exists := t.records[id]
	if !exists || r.writer != task {
		return false
	}
	r.writer = ""
	r.readers[task]++
	t.cond.Broadcast()
	return true
}

// Unlock releases one unit of whatever lock task holds on id: the writer
// slot if task is the writer, otherwise one read count. Waiters are woken
// whether or not the block becomes fully free, since a reader release can
// unblock another reader even while the record stays held.
func (t *Table) Unlock(id types.BlockID, task types.TaskID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.unlockLocked(id, task)
	t.cond.Broadcast()
}

func (t *Table) unlockLocked(id types.BlockID, task types.TaskID) {
	r, exists := t.records[id]
	if !exists {
		return
	}
	if r.writer == task {
		r.writer = ""
	} else if r.readers[task] > 0 {
		r.readers[task]--
		if r.readers[task] == 0 {
			delete(r.readers, task)
		}
	}
	// The task index entry stays while the task still holds further read
	// counts on id, or ReleaseAllLocksForTask would miss them.
	if r.writer != task && r.readers[task] == 0 {
		t.removeFromTaskIndexLocked(task, id)
	}
}

// ReleaseAllLocksForTask drops every lock task holds across every block,
// the sole mechanism that reclaims locks abandoned by a crashed or
// cancelled task.
func (t *Table) ReleaseAllLocksForTask(task types.TaskID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ids := t.byTask[task]
	for id := range ids {
		if r, exists := t.records[id]; exists {
			if r.writer == task {
				r.writer = ""
			}
			delete(r.readers, task)
		}
	}
	delete(t.byTask, task)
	t.cond.Broadcast()
}

// RemoveBlockEntry deletes id's lock record entirely. The caller must
// already hold id's write lock; it is released as part of this call.
func (t *Table) RemoveBlockEntry(id types.BlockID, task types.TaskID) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if r, exists := t.records[id]; exists && r.writer == task {
		t.removeFromTaskIndexLocked(task, id)
	}
	delete(t.records, id)
	t.cond.Broadcast()
}

// HasRecord reports whether id currently has a lock record, for callers
// that need to distinguish "never existed" from "exists but unlocked".
func (t *Table) HasRecord(id types.BlockID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.records[id]
	return ok
}

func (t *Table) addToTaskIndexLocked(task types.TaskID, id types.BlockID) {
	ids, ok := t.byTask[task]
	if !ok {
		ids = make(map[types.BlockID]struct{})
		t.byTask[task] = ids
	}
	ids[id] = struct{}{}
}

func (t *Table) removeFromTaskIndexLocked(task types.TaskID, id types.BlockID) {
	ids, ok := t.byTask[task]
	if !ok {
		return
	}
	delete(ids, id)
	if len(ids) == 0 {
		delete(t.byTask, task)
	}
}
