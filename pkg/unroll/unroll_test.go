package unroll

import (
	"context"
	"fmt"
	"io"

	"testing"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/types"
	"github.com/stretchr/testify/assert"
)

// sliceSource walks a fixed slice of records, implementing Source.
type sliceSource struct {
	records []any
	i       int
}

func (s *sliceSource) Next() (any, bool, error) {
	if s.i >= len(s.records) {
		return nil, false, nil
	}
	r := s.records[s.i]
	s.i++
	return r, true, nil
}

func repeat(n int, v any) []any {
	out := make([]any, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func TestPutValuesSuccess(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1 << 30, MaxOffHeapBytes: 1 << 30})
	e := New(Config{InitialThreshold: 64, CheckPeriod: 4, GrowthFactor: 2}, acct, nil)

	src := &sliceSource{records: repeat(10, "hello")}
	entry, partial, err := e.PutValues(context.Background(), "b1", "t1", src, nil)

	assert.NoError(t, err)
	assert.Nil(t, partial)
	assert.NotNil(t, entry)
	assert.Len(t, entry.Records, 10)

	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, entry.Size(), stats.StorageUsed)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}

func TestPutValuesRefusedInitialReservation(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 10, MaxOffHeapBytes: 10})
	e := New(Config{InitialThreshold: 1000, CheckPeriod: 4, GrowthFactor: 2}, acct, nil)

	src := &sliceSource{records: repeat(5, "hello")}
	entry, partial, err := e.PutValues(context.Background(), "b1", "t1", src, nil)

	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.NotNil(t, partial)
	assert.Empty(t, partial.Values)
	assert.EqualValues(t, 0, partial.ReservationHeld)
}

func TestPutValuesPartialOnGrowthFailure(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 100, MaxOffHeapBytes: 100})
	e := New(Config{InitialThreshold: 32, CheckPeriod: 1, GrowthFactor: 1}, acct, nil)

	// each record costs 42 bytes by DefaultSizeEstimator (26 characters plus
	// 16); the pool cannot keep growing forever so eventually acquire refuses.
	src := &sliceSource{records: repeat(50, "a-fairly-long-record-value")}
	entry, partial, err := e.PutValues(context.Background(), "b1", "t1", src, nil)

	assert.NoError(t, err)
	assert.Nil(t, entry)
	if assert.NotNil(t, partial) {
		assert.True(t, len(partial.Values) < 50, "partial must not have consumed the entire input")
		assert.Equal(t, partial.ReservationHeld > 0, true)
	}

	partial.Discard(acct)
	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}

func TestPutValuesEmptySequence(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1000, MaxOffHeapBytes: 1000})
	e := New(Config{InitialThreshold: 100, CheckPeriod: 4, GrowthFactor: 2}, acct, nil)

	entry, partial, err := e.PutValues(context.Background(), "b1", "t1", &sliceSource{}, nil)
	assert.NoError(t, err)
	assert.Nil(t, partial)
	if assert.NotNil(t, entry) {
		assert.EqualValues(t, 0, entry.Size())
	}

	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, 0, stats.UnrollUsed)
	assert.EqualValues(t, 0, stats.StorageUsed)
}

func TestPutValuesReclaimIsInvokedOnRefusalAndRetriesOnce(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 40, MaxOffHeapBytes: 40})
	assert.True(t, acct.AcquireStorage("occupant", 30, types.OnHeap))

	var reclaimCalls int
	reclaim := func(ctx context.Context, id types.BlockID, bytesNeeded int64, mode types.MemoryMode) int64 {
		reclaimCalls++
		acct.ReleaseStorage(30, mode)
		return 30
	}
	e := New(Config{InitialThreshold: 32, CheckPeriod: 4, GrowthFactor: 2}, acct, reclaim)

	src := &sliceSource{records: repeat(2, "hi")}
	entry, partial, err := e.PutValues(context.Background(), "b1", "t1", src, nil)

	assert.NoError(t, err)
	assert.Nil(t, partial)
	assert.NotNil(t, entry)
	assert.Equal(t, 1, reclaimCalls)
}

func lineEncoder(w io.Writer, record any) error {
	_, err := fmt.Fprintf(w, "%v\n", record)
	return err
}

func TestPutBytesSuccess(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1 << 20, MaxOffHeapBytes: 1 << 20})
	e := New(Config{InitialThreshold: 16, CheckPeriod: 4, GrowthFactor: 2}, acct, nil)

	src := &sliceSource{records: repeat(20, "row")}
	entry, partial, err := e.PutBytes(context.Background(), "b1", "t1", types.OnHeap, src, lineEncoder, 64, nil, nil)

	assert.NoError(t, err)
	assert.Nil(t, partial)
	if assert.NotNil(t, entry) {
		assert.EqualValues(t, entry.Size(), entry.Chunks.Size())
	}

	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, entry.Size(), stats.StorageUsed)
}

func TestPutBytesEncoderErrorReleasesReservation(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1 << 20, MaxOffHeapBytes: 1 << 20})
	e := New(Config{InitialThreshold: 16, CheckPeriod: 1, GrowthFactor: 2}, acct, nil)

	boom := fmt.Errorf("boom")
	src := &sliceSource{records: repeat(3, "row")}
	failing := func(w io.Writer, record any) error { return boom }

	entry, partial, err := e.PutBytes(context.Background(), "b1", "t1", types.OnHeap, src, failing, 64, nil, nil)
	assert.Error(t, err)
	assert.Nil(t, entry)
	assert.Nil(t, partial)

	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}

func TestPutBytesReclaimFailureStillYieldsPartial(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 20, MaxOffHeapBytes: 20})
	reclaim := func(ctx context.Context, id types.BlockID, bytesNeeded int64, mode types.MemoryMode) int64 {
		return 0
	}
	e := New(Config{InitialThreshold: 8, CheckPeriod: 1, GrowthFactor: 3}, acct, reclaim)

	src := &sliceSource{records: repeat(10, "a-longer-row-value")}
	entry, partial, err := e.PutBytes(context.Background(), "b1", "t1", types.OnHeap, src, lineEncoder, 64, nil, nil)

	assert.NoError(t, err)
	assert.Nil(t, entry)
	assert.NotNil(t, partial)

	partial.Discard(acct)
	stats := acct.Stats(types.OnHeap)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}
