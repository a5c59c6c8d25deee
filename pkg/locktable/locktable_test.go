package locktable

import (
	"sync"
	"testing"
	"time"

	"github.com/cuemby/ember/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestNewBlockForWritingGrantsWriter(t *testing.T) {
	lt := New()
	g := lt.NewBlockForWriting("b1", "t1")
	assert.NotNil(t, g)
	assert.True(t, lt.HasRecord("b1"))

	_, ok := lt.LockForWriting("b1", "t2", false)
	assert.False(t, ok, "second writer must be refused while first holds the lock")
}

func TestLockForWritingUnknownBlockFails(t *testing.T) {
	lt := New()
	_, ok := lt.LockForWriting("ghost", "t1", false)
	assert.False(t, ok)
	_, ok = lt.LockForReading("ghost", "t1", false)
	assert.False(t, ok)
}

func TestMultipleReadersAllowed(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "writer")
	lt.Downgrade("b1", "writer")

	_, ok1 := lt.LockForReading("b1", "r1", false)
	_, ok2 := lt.LockForReading("b1", "r2", false)
	assert.True(t, ok1)
	assert.True(t, ok2)

	_, okWrite := lt.LockForWriting("b1", "r3", false)
	assert.False(t, okWrite, "writer must wait for all readers")
}

func TestUnlockWakesBlockingWriter(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "writer")
	lt.Downgrade("b1", "writer")
	lt.Unlock("b1", "writer")
	lt.LockForReading("b1", "reader", false)

	done := make(chan bool, 1)
	go func() {
		_, ok := lt.LockForWriting("b1", "w2", true)
		done <- ok
	}()

	time.Sleep(20 * time.Millisecond)
	lt.Unlock("b1", "reader")

	select {
	case ok := <-done:
		assert.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("blocking writer was never woken")
	}
}

func TestReleaseAllLocksForTask(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "t1")
	lt.Downgrade("b1", "t1")
	lt.NewBlockForWriting("b2", "t1")
	lt.Downgrade("b2", "t1")

	lt.ReleaseAllLocksForTask("t1")

	_, ok1 := lt.LockForWriting("b1", "other", false)
	_, ok2 := lt.LockForWriting("b2", "other", false)
	assert.True(t, ok1)
	assert.True(t, ok2)
}

func TestNestedReadLocksSurviveSingleUnlock(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "writer")
	lt.Downgrade("b1", "writer")
	lt.Unlock("b1", "writer")

	_, ok := lt.LockForReading("b1", "t1", false)
	assert.True(t, ok)
	_, ok = lt.LockForReading("b1", "t1", false)
	assert.True(t, ok)

	lt.Unlock("b1", "t1")
	lt.ReleaseAllLocksForTask("t1")

	_, ok = lt.LockForWriting("b1", "other", false)
	assert.True(t, ok, "the task's remaining read count must be swept by ReleaseAllLocksForTask")
}

func TestRemoveBlockEntryRequiresWriteLock(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "t1")
	lt.RemoveBlockEntry("b1", "t1")
	assert.False(t, lt.HasRecord("b1"))
}

func TestConcurrentReadersNoRace(t *testing.T) {
	lt := New()
	lt.NewBlockForWriting("b1", "writer")
	lt.Downgrade("b1", "writer")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			task := types.TaskID("r")
			g, ok := lt.LockForReading("b1", task, true)
			if ok {
				time.Sleep(time.Millisecond)
				lt.Unlock(g.ID, g.TaskID)
			}
		}(i)
	}
	wg.Wait()
}
