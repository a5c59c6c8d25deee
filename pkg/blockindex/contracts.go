package blockindex

import (
	"context"

	"github.com/cuemby/ember/pkg/types"
)

// DataSupplier exposes an evicted entry's payload to a BlockEvictionHandler
// without forcing the handler to know which of the two entry variants it
// is looking at; it calls whichever accessor matches and ignores the other.
type DataSupplier interface {
	Values() ([]any, bool)
	Bytes() (*types.ChunkedBytes, bool)
}

// BlockEvictionHandler decides, for each block the eviction scan selects,
// whether it survives in another tier. Returning a level with UseMemory or
// UseDisk true tells the index the block is still findable somewhere, so
// its lock record should be kept; returning types.None tells the index the
// block is gone for good.
//
// ctx carries a marker the facade uses to detect a handler that re-enters
// the store on the same call chain; implementations that call back into the
// store (e.g. to look up a related block) must propagate ctx unchanged for
// that detection to work.
type BlockEvictionHandler interface {
	DropFromMemory(ctx context.Context, id types.BlockID, data DataSupplier, originalLevel types.StorageLevel) types.StorageLevel
}

type entrySupplier struct {
	entry types.Entry
}

func (s entrySupplier) Values() ([]any, bool) {
	d, ok := s.entry.(*types.DeserializedEntry)
	if !ok {
		return nil, false
	}
	return d.Records, true
}

func (s entrySupplier) Bytes() (*types.ChunkedBytes, bool) {
	b, ok := s.entry.(*types.SerializedEntry)
	if !ok {
		return nil, false
	}
	return b.Chunks, true
}
