package accountant

import (
	"testing"

	"github.com/cuemby/ember/pkg/types"
	"github.com/stretchr/testify/assert"
)

func testConfig() Config {
	return Config{MaxOnHeapBytes: 1000, MaxOffHeapBytes: 500}
}

func TestAcquireStorageWithinLimit(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want bool
	}{
		{"exactly free", 1000, true},
		{"over ceiling", 1001, false},
		{"zero", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := New(testConfig())
			got := a.AcquireStorage("b1", tt.n, types.OnHeap)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAcquireStorageAccountsForUnroll(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 400, types.OnHeap))
	assert.False(t, a.AcquireStorage("b1", 700, types.OnHeap))
	assert.True(t, a.AcquireStorage("b1", 600, types.OnHeap))
}

func TestReleaseStorageFreesSpace(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireStorage("b1", 900, types.OnHeap))
	assert.False(t, a.AcquireStorage("b2", 200, types.OnHeap))
	a.ReleaseStorage(900, types.OnHeap)
	assert.True(t, a.AcquireStorage("b2", 200, types.OnHeap))
}

func TestModesAreIndependent(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireStorage("b1", 500, types.OnHeap))
	assert.True(t, a.AcquireStorage("b2", 500, types.OffHeap))
	assert.False(t, a.AcquireStorage("b3", 1, types.OffHeap))
}

func TestTransferUnrollToStorageGrows(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 300, types.OnHeap))
	assert.True(t, a.TransferUnrollToStorage("t1", 300, 500, types.OnHeap))

	stats := a.Stats(types.OnHeap)
	assert.EqualValues(t, 500, stats.StorageUsed)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}

func TestTransferUnrollToStorageShrinks(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 500, types.OnHeap))
	assert.True(t, a.TransferUnrollToStorage("t1", 500, 300, types.OnHeap))

	stats := a.Stats(types.OnHeap)
	assert.EqualValues(t, 300, stats.StorageUsed)
	assert.EqualValues(t, 0, stats.UnrollUsed)
}

func TestTransferUnrollToStorageRefusesWhenShortfallUnavailable(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 300, types.OnHeap))
	assert.True(t, a.AcquireStorage("other", 700, types.OnHeap))

	ok := a.TransferUnrollToStorage("t1", 300, 900, types.OnHeap)
	assert.False(t, ok)

	stats := a.Stats(types.OnHeap)
	assert.EqualValues(t, 300, stats.UnrollUsed, "unroll reservation must be untouched on a refused transfer")
	assert.EqualValues(t, 700, stats.StorageUsed)
}

func TestUnrollLedgerTracksPerTask(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 300, types.OnHeap))
	assert.True(t, a.AcquireUnroll("t2", 200, types.OnHeap))
	assert.True(t, a.AcquireUnroll("t1", 100, types.OnHeap))

	assert.EqualValues(t, 400, a.UnrollHeldByTask("t1", types.OnHeap))
	assert.EqualValues(t, 200, a.UnrollHeldByTask("t2", types.OnHeap))
	assert.EqualValues(t, 600, a.Stats(types.OnHeap).UnrollUsed)

	a.ReleaseUnroll("t1", 400, types.OnHeap)
	assert.EqualValues(t, 0, a.UnrollHeldByTask("t1", types.OnHeap))
	assert.EqualValues(t, 200, a.Stats(types.OnHeap).UnrollUsed)

	assert.True(t, a.TransferUnrollToStorage("t2", 200, 200, types.OnHeap))
	assert.EqualValues(t, 0, a.UnrollHeldByTask("t2", types.OnHeap))
	assert.EqualValues(t, 200, a.Stats(types.OnHeap).StorageUsed)
}

func TestReleaseUnrollUnderflowPanics(t *testing.T) {
	a := New(testConfig())
	assert.True(t, a.AcquireUnroll("t1", 100, types.OnHeap))
	assert.Panics(t, func() { a.ReleaseUnroll("t2", 100, types.OnHeap) },
		"releasing another task's reservation must trip the ledger check")
}

func TestExecutionUsedReducesFreeSpace(t *testing.T) {
	a := New(testConfig())
	a.SetExecutionUsed(400, types.OnHeap)
	assert.False(t, a.AcquireStorage("b1", 700, types.OnHeap))
	assert.True(t, a.AcquireStorage("b1", 600, types.OnHeap))
}

func TestConcurrentAcquireReleaseStaysConsistent(t *testing.T) {
	a := New(Config{MaxOnHeapBytes: 100000, MaxOffHeapBytes: 1})

	const workers = 50
	done := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer func() { done <- struct{}{} }()
			blockID := types.BlockID("b")
			if a.AcquireStorage(blockID, 1000, types.OnHeap) {
				a.ReleaseStorage(1000, types.OnHeap)
			}
		}(i)
	}
	for i := 0; i < workers; i++ {
		<-done
	}

	stats := a.Stats(types.OnHeap)
	assert.EqualValues(t, 0, stats.StorageUsed)
}
