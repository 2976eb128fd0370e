package latch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatchModes(t *testing.T) {
	l := NewLatch()

	l.Acquire(Shared)
	assert.True(t, l.TryAcquire(Shared))
	assert.False(t, l.TryAcquire(Exclusive))
	l.Release(Shared)
	l.Release(Shared)

	l.Acquire(Exclusive)
	assert.False(t, l.TryAcquire(Shared))
	assert.False(t, l.TryAcquire(Exclusive))
	l.Release(Exclusive)

	assert.True(t, l.TryAcquire(Exclusive))
	l.Release(Exclusive)
	assert.Equal(t, "X", Exclusive.String())
	assert.Equal(t, "S", Shared.String())
}
