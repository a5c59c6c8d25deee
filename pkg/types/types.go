package types

import (
	"fmt"
	"io"
)

// BlockID identifies a single immutable block. It is opaque to the store:
// equality and hashing follow the underlying string, and the dataset id is
// derived mechanically rather than carried as a separate field, mirroring
// how partition/shuffle block names encode their owning stage.
type BlockID string

// DatasetID groups blocks produced by the same logical computation. Blocks
// that share a dataset id are never allowed to evict one another.
type DatasetID string

// Dataset derives the coarser dataset identifier for this block: everything
// before the id's second underscore, so ids of the form
// "rdd_<datasetID>_<partition>" yield "rdd_<datasetID>". The prefix itself
// is not checked. Ids with fewer than two underscores have no dataset (an
// empty DatasetID and false), meaning they are never excluded from eviction
// on dataset grounds.
func (b BlockID) Dataset() (DatasetID, bool) {
	s := string(b)
	underscores := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '_' {
			continue
		}
		underscores++
		if underscores == 2 {
			return DatasetID(s[:i]), true
		}
	}
	return "", false
}

func (b BlockID) String() string { return string(b) }

// TaskID identifies the task attempt holding a lock or an unroll reservation.
type TaskID string

// MemoryMode tags every reservation, resident entry, and unroll record with
// which of the two independently-accounted pools it belongs to.
type MemoryMode int

const (
	OnHeap MemoryMode = iota
	OffHeap
)

func (m MemoryMode) String() string {
	if m == OffHeap {
		return "off_heap"
	}
	return "on_heap"
}

// StorageLevel is a descriptor recognized by the store; only UseMemory and
// Deserialized affect core behavior, the rest are recorded for external
// collaborators (disk tier, replication) to act on.
type StorageLevel struct {
	UseMemory    bool
	UseDisk      bool
	Deserialized bool
	Replication  int
}

func (l StorageLevel) String() string {
	return fmt.Sprintf("StorageLevel(memory=%v disk=%v deserialized=%v replication=%d)",
		l.UseMemory, l.UseDisk, l.Deserialized, l.Replication)
}

// MemoryAndDisk is the common default: resident in memory, deserialized,
// with a disk fallback and no replication.
var MemoryAndDisk = StorageLevel{UseMemory: true, UseDisk: true, Deserialized: true, Replication: 1}

// MemoryOnly never falls back to disk.
var MemoryOnly = StorageLevel{UseMemory: true, UseDisk: false, Deserialized: true, Replication: 1}

// None indicates the block is not findable anywhere anymore.
var None = StorageLevel{}

// EntryKind distinguishes the two resident-entry variants.
type EntryKind int

const (
	DeserializedKind EntryKind = iota
	SerializedKind
)

// Entry is a resident block in the index: either a deserialized object
// sequence or a chunked byte buffer, always tagged with a size and a mode.
type Entry interface {
	Kind() EntryKind
	Size() int64
	Mode() MemoryMode
	Level() StorageLevel
	// Release frees any off-heap backing storage. It is a no-op for
	// on-heap entries, where the GC reclaims memory once unreferenced.
	Release()
}

// DeserializedEntry holds an ordered sequence of records plus an estimated
// byte size. Always on-heap per the data model.
type DeserializedEntry struct {
	Records []any
	size    int64
	level   StorageLevel
}

func NewDeserializedEntry(records []any, size int64, level StorageLevel) *DeserializedEntry {
	return &DeserializedEntry{Records: records, size: size, level: level}
}

func (e *DeserializedEntry) Kind() EntryKind    { return DeserializedKind }
func (e *DeserializedEntry) Size() int64        { return e.size }
func (e *DeserializedEntry) Mode() MemoryMode   { return OnHeap }
func (e *DeserializedEntry) Level() StorageLevel { return e.level }
func (e *DeserializedEntry) Release()           {}

// SerializedEntry holds a chunked byte buffer. Mode may be either on-heap or
// off-heap; off-heap entries must be explicitly released since nothing in
// the Go runtime will reclaim the backing allocation for them on its own.
type SerializedEntry struct {
	Chunks  *ChunkedBytes
	size    int64
	mode    MemoryMode
	level   StorageLevel
	release func()
}

func NewSerializedEntry(chunks *ChunkedBytes, size int64, mode MemoryMode, level StorageLevel, release func()) *SerializedEntry {
	return &SerializedEntry{Chunks: chunks, size: size, mode: mode, level: level, release: release}
}

func (e *SerializedEntry) Kind() EntryKind    { return SerializedKind }
func (e *SerializedEntry) Size() int64        { return e.size }
func (e *SerializedEntry) Mode() MemoryMode   { return e.mode }
func (e *SerializedEntry) Level() StorageLevel { return e.level }

func (e *SerializedEntry) Release() {
	if e.release != nil {
		e.release()
	}
}

// ChunkedBytes is a fixed-size-chunk byte buffer, the wire-equivalent of the
// bytes-variant unroll buffer once it has been frozen into a resident entry.
type ChunkedBytes struct {
	ChunkSize int
	chunks    [][]byte
	total     int64
}

func NewChunkedBytes(chunkSize int) *ChunkedBytes {
	if chunkSize <= 0 {
		chunkSize = 64 * 1024
	}
	return &ChunkedBytes{ChunkSize: chunkSize}
}

// Write appends p, splitting across chunk boundaries as needed. It always
// returns len(p), nil: ChunkedBytes never rejects a write on its own, sizing
// decisions belong to the unroll engine.
func (c *ChunkedBytes) Write(p []byte) (int, error) {
	written := 0
	for len(p) > 0 {
		if len(c.chunks) == 0 || len(c.chunks[len(c.chunks)-1]) == c.ChunkSize {
			c.chunks = append(c.chunks, make([]byte, 0, c.ChunkSize))
		}
		last := &c.chunks[len(c.chunks)-1]
		room := c.ChunkSize - len(*last)
		n := len(p)
		if n > room {
			n = room
		}
		*last = append(*last, p[:n]...)
		p = p[n:]
		written += n
		c.total += int64(n)
	}
	return written, nil
}

// Size returns the exact number of bytes written so far.
func (c *ChunkedBytes) Size() int64 { return c.total }

// Chunks returns the underlying chunk slices. Callers must not mutate them.
func (c *ChunkedBytes) Chunks() [][]byte { return c.chunks }

// Reader returns a reader over the chunk sequence in order.
func (c *ChunkedBytes) Reader() *ChunkedBytesReader {
	return &ChunkedBytesReader{all: c.chunks}
}

// ChunkedBytesReader sequentially reads a ChunkedBytes' chunks.
type ChunkedBytesReader struct {
	cur []byte
	idx int
	all [][]byte
}

func (r *ChunkedBytesReader) Read(p []byte) (int, error) {
	total := 0
	for total < len(p) {
		if len(r.cur) == 0 {
			if r.idx >= len(r.all) {
				if total == 0 {
					return 0, io.EOF
				}
				return total, nil
			}
			r.cur = r.all[r.idx]
			r.idx++
		}
		n := copy(p[total:], r.cur)
		r.cur = r.cur[n:]
		total += n
	}
	return total, nil
}
