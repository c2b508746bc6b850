package orderbook

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPriceLevelL3_InsertOrderStablePriorityOrder(t *testing.T) {
	pool := newOrderPool(nil, nil)
	level := newPriceLevelL3(100)

	insert := func(id OrderId, priority uint64, qty Quantity) orderHandle {
		h := pool.allocate()
		rec := pool.at(h)
		rec.id, rec.priority, rec.quantity = id, priority, qty
		level.insertOrder(pool, h)
		return h
	}

	insert(1, 5, 10)
	insert(2, 2, 10)
	insert(3, 2, 10) // equal priority: stable tail-append among equals
	insert(4, 8, 10)

	orders := level.orders(pool)
	ids := make([]OrderId, len(orders))
	for i, o := range orders {
		ids[i] = o.OrderId
	}
	assert.Equal(t, []OrderId{2, 3, 1, 4}, ids)
	assert.EqualValues(t, 40, level.totalQuantity)
}

func TestPriceLevelL3_RemoveOrderUnlinksAndAdjustsTotal(t *testing.T) {
	pool := newOrderPool(nil, nil)
	level := newPriceLevelL3(100)

	h1 := pool.allocate()
	pool.at(h1).priority, pool.at(h1).quantity, pool.at(h1).id = 1, 10, 1
	level.insertOrder(pool, h1)

	h2 := pool.allocate()
	pool.at(h2).priority, pool.at(h2).quantity, pool.at(h2).id = 2, 5, 2
	level.insertOrder(pool, h2)

	level.removeOrder(pool, h1)
	assert.EqualValues(t, 5, level.totalQuantity)
	assert.Equal(t, 1, level.count)

	best, ok := level.bestOrder(pool)
	require.True(t, ok)
	assert.EqualValues(t, 2, best.OrderId)

	level.removeOrder(pool, h2)
	assert.True(t, level.isEmpty())
	_, ok = level.bestOrder(pool)
	assert.False(t, ok)
}

func TestPriceLevelL3_UpdateQuantityAdjustsTotal(t *testing.T) {
	pool := newOrderPool(nil, nil)
	level := newPriceLevelL3(100)
	h := pool.allocate()
	pool.at(h).quantity = 10
	level.insertOrder(pool, h)

	level.updateQuantity(10, 25)
	assert.EqualValues(t, 25, level.totalQuantity)
}
