package blockstore

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/blockindex"
	"github.com/cuemby/ember/pkg/events"
	"github.com/cuemby/ember/pkg/locktable"
	"github.com/cuemby/ember/pkg/log"
	"github.com/cuemby/ember/pkg/metrics"
	"github.com/cuemby/ember/pkg/types"
	"github.com/cuemby/ember/pkg/unroll"
)

type evictionMarkerKey struct{}

// Config collects every tunable the facade and its collaborators need.
type Config struct {
	MaxOnHeapStorageBytes  int64
	MaxOffHeapStorageBytes int64
	UnrollInitialThreshold int64
	UnrollCheckPeriod      int
	UnrollGrowthFactor     float64
	ChunkSizeBytes         int
}

// DefaultConfig mirrors unroll.DefaultConfig for the knobs it shares and
// sizes the chunk buffer at 64 KiB, a reasonable default for network or
// disk-bound downstream consumers.
func DefaultConfig() Config {
	u := unroll.DefaultConfig()
	return Config{
		MaxOnHeapStorageBytes:  512 << 20,
		MaxOffHeapStorageBytes: 0,
		UnrollInitialThreshold: u.InitialThreshold,
		UnrollCheckPeriod:      u.CheckPeriod,
		UnrollGrowthFactor:     u.GrowthFactor,
		ChunkSizeBytes:         64 << 10,
	}
}

// Store is the Memory Store facade: it composes the Accountant, the Lock
// Table, the Block Index (with its eviction scan), and the Unroll Engine
// behind the five operations callers actually use.
type Store struct {
	cfg         Config
	acct        *accountant.Accountant
	locks       *locktable.Table
	index       *blockindex.Index
	values      *unroll.Engine
	bytesEngine *unroll.Engine
	serializers SerializerManager
	chunkSize   int
	events      *events.Broker // optional; nil means no lifecycle events are published

	// putMu serializes PutBytes's acquire-or-evict-then-acquire sequence per
	// mode, so two concurrent PutBytes calls that both trigger eviction
	// cannot each consume part of the freed space and leave both still
	// short. The iterator puts do not take it: their post-eviction retry
	// runs inside the unroll engine through reclaim.
	putMu [2]sync.Mutex
}

// New builds a Store. handler receives every evicted entry; serializers
// resolves the codec and optional compression wrapper PutIteratorAsBytes
// uses to turn records into wire bytes, and may be nil if that entry point
// is unused.
func New(cfg Config, handler BlockEvictionHandler, serializers SerializerManager) *Store {
	acct := accountant.New(accountant.Config{
		MaxOnHeapBytes:  cfg.MaxOnHeapStorageBytes,
		MaxOffHeapBytes: cfg.MaxOffHeapStorageBytes,
	})
	locks := locktable.New()
	index := blockindex.New(locks, acct, handler)

	s := &Store{
		cfg:         cfg,
		acct:        acct,
		locks:       locks,
		index:       index,
		serializers: serializers,
		chunkSize:   cfg.ChunkSizeBytes,
	}

	uc := unroll.Config{
		InitialThreshold: cfg.UnrollInitialThreshold,
		CheckPeriod:      cfg.UnrollCheckPeriod,
		GrowthFactor:     cfg.UnrollGrowthFactor,
	}
	s.values = unroll.New(uc, acct, s.reclaim)
	s.bytesEngine = unroll.New(uc, acct, s.reclaim)
	index.SetEvictionNotifier(func(id types.BlockID, mode types.MemoryMode, size int64) {
		s.publishEvent(events.BlockEvicted, id, mode, "")
	})
	return s
}

// reclaim is the unroll engine's hook back into eviction, used for the
// engine's single post-eviction retry. It does not take putMu, so an
// iterator put's evict-and-retry is not serialized against other puts.
func (s *Store) reclaim(ctx context.Context, id types.BlockID, bytesNeeded int64, mode types.MemoryMode) int64 {
	return s.index.EvictToFree(withEvictionMarker(ctx), &id, bytesNeeded, mode, evictorTask)
}

// evictorTask tags locks taken by the eviction scan itself. No real task
// attempt uses this id, so ReleaseAllLocksForTask for a real task never
// releases a lock the scan holds.
const evictorTask types.TaskID = "__evictor__"

func withEvictionMarker(ctx context.Context) context.Context {
	return context.WithValue(ctx, evictionMarkerKey{}, true)
}

func (s *Store) checkReentrant(ctx context.Context, id types.BlockID) error {
	if ctx.Value(evictionMarkerKey{}) != nil {
		return reentrantEviction(string(id))
	}
	return nil
}

// PutBytes admits size bytes of already-serialized data as the authoritative
// final size of block id: no unroll, a single acquire-or-evict-once cycle.
func (s *Store) PutBytes(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, level types.StorageLevel, data []byte) (int64, error) {
	if err := s.checkReentrant(ctx, id); err != nil {
		return 0, err
	}
	if _, ok := s.locks.CreateIfAbsent(id, task); !ok {
		return 0, duplicateBlock(string(id))
	}
	size := int64(len(data))

	if !s.acquireOrEvict(ctx, id, size, mode) {
		s.locks.RemoveBlockEntry(id, task)
		reason := s.rejectReason(size, mode)
		metrics.AdmissionRejectedTotal.WithLabelValues(mode.String(), string(reason)).Inc()
		s.publishEvent(events.BlockAdmissionRejected, id, mode, string(reason))
		return 0, admissionRejected(string(id), reason)
	}

	chunks := types.NewChunkedBytes(s.chunkSize)
	_, _ = chunks.Write(data)
	entry := types.NewSerializedEntry(chunks, size, mode, level, nil)
	s.index.Insert(id, entry)
	s.locks.Downgrade(id, task)
	s.locks.Unlock(id, task)

	metrics.BlocksAdmittedTotal.WithLabelValues(mode.String(), "bytes").Inc()
	s.publishEvent(events.BlockAdmitted, id, mode, "bytes")
	return size, nil
}

// PutIteratorAsValues delegates to the Values Unroll Engine, returning
// either the completed entry's size or a Partial the caller can recover
// unprocessed records from.
func (s *Store) PutIteratorAsValues(ctx context.Context, id types.BlockID, task types.TaskID, source unroll.Source, estimate unroll.SizeEstimator) (int64, *unroll.Partial, error) {
	if err := s.checkReentrant(ctx, id); err != nil {
		return 0, nil, err
	}
	if _, ok := s.locks.CreateIfAbsent(id, task); !ok {
		return 0, nil, duplicateBlock(string(id))
	}

	entry, partial, err := s.values.PutValues(ctx, id, task, source, estimate)
	if err != nil {
		s.locks.RemoveBlockEntry(id, task)
		return 0, nil, err
	}
	if partial != nil {
		s.locks.RemoveBlockEntry(id, task)
		metrics.AdmissionRejectedTotal.WithLabelValues(types.OnHeap.String(), string(InsufficientMemory)).Inc()
		s.publishEvent(events.BlockPartialUnroll, id, types.OnHeap, "values")
		return 0, partial, nil
	}

	s.index.Insert(id, entry)
	s.locks.Downgrade(id, task)
	s.locks.Unlock(id, task)
	metrics.BlocksAdmittedTotal.WithLabelValues(types.OnHeap.String(), "values").Inc()
	s.publishEvent(events.BlockAdmitted, id, types.OnHeap, "values")
	return entry.Size(), nil, nil
}

// PutIteratorAsBytes is the symmetric bytes-variant entry point. tag
// selects the codec via the Store's configured SerializerManager (autoPick
// lets the manager choose one itself instead of rejecting a tag it does not
// recognize); the manager's
// WrapForCompression result, if any, sits between the codec and the
// chunked buffer so every record is transparently compressed. release is
// invoked if the resulting entry is later evicted or removed.
func (s *Store) PutIteratorAsBytes(ctx context.Context, id types.BlockID, task types.TaskID, mode types.MemoryMode, source unroll.Source, tag string, autoPick bool, release func()) (int64, *unroll.Partial, error) {
	if err := s.checkReentrant(ctx, id); err != nil {
		return 0, nil, err
	}
	if s.serializers == nil {
		return 0, nil, fmt.Errorf("blockstore: PutIteratorAsBytes requires a configured SerializerManager")
	}
	codec, err := s.serializers.GetSerializer(tag, autoPick)
	if err != nil {
		return 0, nil, fmt.Errorf("blockstore: resolve serializer: %w", err)
	}
	encode := func(w io.Writer, record any) error {
		return codec.Encode(w, record)
	}
	wrap := func(w io.Writer) io.Writer {
		return s.serializers.WrapForCompression(string(id), w)
	}

	if _, ok := s.locks.CreateIfAbsent(id, task); !ok {
		return 0, nil, duplicateBlock(string(id))
	}

	entry, partial, err := s.bytesEngine.PutBytes(ctx, id, task, mode, source, encode, s.chunkSize, wrap, release)
	if err != nil {
		s.locks.RemoveBlockEntry(id, task)
		return 0, nil, err
	}
	if partial != nil {
		s.locks.RemoveBlockEntry(id, task)
		metrics.AdmissionRejectedTotal.WithLabelValues(mode.String(), string(InsufficientMemory)).Inc()
		s.publishEvent(events.BlockPartialUnroll, id, mode, "bytes")
		return 0, partial, nil
	}

	s.index.Insert(id, entry)
	s.locks.Downgrade(id, task)
	s.locks.Unlock(id, task)
	metrics.BlocksAdmittedTotal.WithLabelValues(mode.String(), "bytes").Inc()
	s.publishEvent(events.BlockAdmitted, id, mode, "bytes")
	return entry.Size(), nil, nil
}

// GetBytes returns id's chunked byte buffer, promoting it in access order.
// It is WrongVariant if the resident entry is a deserialized values entry.
func (s *Store) GetBytes(ctx context.Context, id types.BlockID, task types.TaskID) (*types.ChunkedBytes, error) {
	if err := s.checkReentrant(ctx, id); err != nil {
		return nil, err
	}
	if _, ok := s.locks.LockForReading(id, task, true); !ok {
		return nil, unknownBlock(string(id))
	}
	defer s.locks.Unlock(id, task)

	entry, ok := s.index.Get(id)
	if !ok {
		return nil, unknownBlock(string(id))
	}
	b, ok := entry.(*types.SerializedEntry)
	if !ok {
		return nil, wrongVariant(string(id))
	}
	return b.Chunks, nil
}

// GetValues returns id's deserialized record slice, promoting it in access
// order. It is WrongVariant if the resident entry is a serialized entry.
func (s *Store) GetValues(ctx context.Context, id types.BlockID, task types.TaskID) ([]any, error) {
	if err := s.checkReentrant(ctx, id); err != nil {
		return nil, err
	}
	if _, ok := s.locks.LockForReading(id, task, true); !ok {
		return nil, unknownBlock(string(id))
	}
	defer s.locks.Unlock(id, task)

	entry, ok := s.index.Get(id)
	if !ok {
		return nil, unknownBlock(string(id))
	}
	d, ok := entry.(*types.DeserializedEntry)
	if !ok {
		return nil, wrongVariant(string(id))
	}
	return d.Records, nil
}

// Contains is a point query that never touches access order.
func (s *Store) Contains(id types.BlockID) bool {
	return s.index.Contains(id)
}

// Remove deletes id under its write lock, releasing its storage reservation
// and off-heap payload if any. Absence is not an error: Remove reports
// whether anything was actually removed.
func (s *Store) Remove(ctx context.Context, id types.BlockID, task types.TaskID) bool {
	if err := s.checkReentrant(ctx, id); err != nil {
		return false
	}
	if _, ok := s.locks.LockForWriting(id, task, true); !ok {
		return false
	}

	entry, ok := s.index.Remove(id)
	if !ok {
		s.locks.Unlock(id, task)
		return false
	}
	entry.Release()
	s.acct.ReleaseStorage(entry.Size(), entry.Mode())
	s.locks.RemoveBlockEntry(id, task)
	s.publishEvent(events.BlockRemoved, id, entry.Mode(), "")
	return true
}

// Clear drops every resident entry across both modes and releases every
// reservation, for use on shutdown. It does not consult per-block locks:
// callers are expected to quiesce readers and writers first.
func (s *Store) Clear() {
	for _, mode := range []types.MemoryMode{types.OnHeap, types.OffHeap} {
		removed := s.index.Clear(mode)
		for id, entry := range removed {
			entry.Release()
			s.acct.ReleaseStorage(entry.Size(), mode)
			s.locks.RemoveBlockEntry(id, evictorTask)
		}
	}
	log.Info("block store cleared")
}

// ReleaseAllLocksForTask is exposed so callers can reclaim locks left behind
// by a crashed or cancelled task.
func (s *Store) ReleaseAllLocksForTask(task types.TaskID) {
	s.locks.ReleaseAllLocksForTask(task)
}

// SetEventBroker attaches an optional lifecycle event broker. When set, the
// facade publishes a best-effort notification on admission, rejection,
// partial unroll, and removal; b may be nil to detach it again.
func (s *Store) SetEventBroker(b *events.Broker) {
	s.events = b
}

func (s *Store) publishEvent(evtType events.EventType, id types.BlockID, mode types.MemoryMode, msg string) {
	if s.events == nil {
		return
	}
	s.events.Publish(&events.Event{Type: evtType, BlockID: string(id), Mode: mode.String(), Message: msg})
}

// acquireOrEvict implements PutBytes's single post-eviction retry: try the
// acquire, and on refusal drive eviction once before trying again. The
// whole sequence runs under putMu[mode] so two concurrent PutBytes calls
// never both observe the same freed space as available.
func (s *Store) acquireOrEvict(ctx context.Context, id types.BlockID, size int64, mode types.MemoryMode) bool {
	s.putMu[mode].Lock()
	defer s.putMu[mode].Unlock()

	if s.acct.AcquireStorage(id, size, mode) {
		return true
	}
	evictCtx := withEvictionMarker(ctx)
	if s.index.EvictToFree(evictCtx, &id, size, mode, evictorTask) == 0 {
		return false
	}
	return s.acct.AcquireStorage(id, size, mode)
}

func (s *Store) rejectReason(size int64, mode types.MemoryMode) Reason {
	if size > s.acct.Stats(mode).MaxTotal {
		return InsufficientMemory
	}
	return EvictionForbidden
}

// Stats exposes the Accountant's per-mode snapshot for monitoring.
func (s *Store) Stats(mode types.MemoryMode) accountant.Stats {
	return s.acct.Stats(mode)
}

// Accountant exposes the underlying Accountant for collaborators, such as
// pkg/monitor's pressure sampler, that need to observe pool occupancy
// directly rather than through a single-mode snapshot.
func (s *Store) Accountant() *accountant.Accountant {
	return s.acct
}
