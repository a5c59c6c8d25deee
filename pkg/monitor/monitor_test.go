package monitor

import (
	"testing"
	"time"

	"github.com/cuemby/ember/pkg/accountant"
	"github.com/cuemby/ember/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestStartStopDoesNotPanic(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1000, MaxOffHeapBytes: 1000})
	m := New(acct, 10*time.Millisecond)
	m.Start()
	time.Sleep(35 * time.Millisecond)
	m.Stop()
}

func TestSampleDoesNotMutateAccountant(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1000, MaxOffHeapBytes: 1000})
	assert.True(t, acct.AcquireStorage("b1", 200, types.OnHeap))

	m := New(acct, time.Second)
	before := acct.Stats(types.OnHeap)
	m.sample()
	after := acct.Stats(types.OnHeap)

	assert.Equal(t, before, after)
}

func TestNewFallsBackToDefaultInterval(t *testing.T) {
	acct := accountant.New(accountant.Config{MaxOnHeapBytes: 1000, MaxOffHeapBytes: 1000})
	m := New(acct, 0)
	assert.Equal(t, 10*time.Second, m.interval)
}
