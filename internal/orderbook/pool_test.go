package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderPool_AllocateReleaseReusesSlots(t *testing.T) {
	pool := newOrderPool(nil, nil)
	h1 := pool.allocate()
	h2 := pool.allocate()
	assert.NotEqual(t, h1, h2)

	pool.release(h1)
	h3 := pool.allocate()
	assert.Equal(t, h1, h3, "freed handle should be reused before growing")
}

func TestOrderPool_GrowsPastInitialBlock(t *testing.T) {
	pool := newOrderPool(nil, nil)
	handles := make([]orderHandle, 0, minPoolBlockSize+10)
	for i := 0; i < minPoolBlockSize+10; i++ {
		handles = append(handles, pool.allocate())
	}
	require.Len(t, handles, minPoolBlockSize+10)
	seen := make(map[orderHandle]bool, len(handles))
	for _, h := range handles {
		assert.False(t, seen[h], "handle reused while still live: %d", h)
		seen[h] = true
	}
	assert.GreaterOrEqual(t, pool.capacity, minPoolBlockSize+10)
}

func TestOrderPool_ReserveAvoidsMidBatchGrowth(t *testing.T) {
	pool := newOrderPool(nil, nil)
	pool.reserve(500)
	capacityAfterReserve := pool.capacity
	for i := 0; i < 500; i++ {
		pool.allocate()
	}
	assert.Equal(t, capacityAfterReserve, pool.capacity, "reserve should have pre-grown enough capacity")
}

func TestOrderPool_ReleaseDoesNotRunDestructor(t *testing.T) {
	pool := newOrderPool(nil, nil)
	h := pool.allocate()
	rec := pool.at(h)
	rec.id = 42
	pool.release(h)
	// release must not zero caller-owned fields; only allocate() resets them.
	assert.EqualValues(t, 42, pool.at(h).id)

	h2 := pool.allocate()
	assert.Equal(t, h, h2)
	assert.EqualValues(t, 0, pool.at(h2).id, "allocate resets the record")
}
