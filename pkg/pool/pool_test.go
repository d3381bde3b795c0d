package pool

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_RunsSubmittedTasks(t *testing.T) {
	p := New(4)
	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			ran.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(100), ran.Load())
	require.NoError(t, p.Release())
}

func TestPool_ReleaseRefusedWhileAttached(t *testing.T) {
	p := New(1)
	require.NoError(t, p.Attach())
	require.ErrorIs(t, p.Release(), ErrInUse)

	p.Detach()
	require.NoError(t, p.Release())
	require.ErrorIs(t, p.Release(), ErrReleased)
	require.ErrorIs(t, p.Attach(), ErrReleased)
}

func TestPool_ReleaseDrainsQueue(t *testing.T) {
	p := New(2)
	var ran atomic.Int32
	for i := 0; i < 50; i++ {
		p.Submit(func() { ran.Add(1) })
	}
	require.NoError(t, p.Release())
	assert.Equal(t, int32(50), ran.Load(), "queued work must finish before release returns")
}

func TestPool_AutoDetectThreads(t *testing.T) {
	p := New(0)
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	<-done
	require.NoError(t, p.Release())
}

func TestPool_DefaultIsShared(t *testing.T) {
	assert.Same(t, Default(), Default())
}
