package engine

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebouncerCoalesces(t *testing.T) {
	d := newDebouncer(20 * time.Millisecond)
	defer d.cancel()

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		d.call(func() { calls.Add(1) })
	}

	require.Eventually(t, func() bool {
		return calls.Load() == 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDebouncerZeroRunsInline(t *testing.T) {
	d := newDebouncer(0)
	var calls int
	d.call(func() { calls++ })
	d.call(func() { calls++ })
	assert.Equal(t, 2, calls)
}

func TestDebouncerCancel(t *testing.T) {
	d := newDebouncer(10 * time.Millisecond)
	var calls atomic.Int32
	d.call(func() { calls.Add(1) })
	d.cancel()

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}
