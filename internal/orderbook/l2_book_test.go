package orderbook

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestBookL2_InsertUpdateDeleteToB covers S1: insert/update/delete on the
// best level and the ToB notifications they do and don't produce.
func TestBookL2_InsertUpdateDeleteToB(t *testing.T) {
	book := NewBookL2(1, nil)
	obs := &recordingObserver{}
	book.AddObserver(obs)

	require.True(t, book.UpdateLevel(Bid, 100, 10, 1, 0, true))
	require.Len(t, obs.priceLevelUpdates, 1)
	assert.Equal(t, PriceChanged|QuantityChanged|LastInBatch, obs.priceLevelUpdates[0].ChangeFlags)
	require.Len(t, obs.tobUpdates, 1)
	assert.EqualValues(t, 100, obs.tobUpdates[0].BestBid)
	assert.EqualValues(t, 10, obs.tobUpdates[0].BidQty)

	require.True(t, book.UpdateLevel(Bid, 100, 20, 2, 0, true))
	assert.Equal(t, QuantityChanged|LastInBatch, obs.priceLevelUpdates[1].ChangeFlags)
	require.Len(t, obs.tobUpdates, 2)
	assert.EqualValues(t, 20, obs.tobUpdates[1].BidQty)

	require.True(t, book.UpdateLevel(Bid, 99, 30, 3, 0, true))
	assert.Equal(t, PriceChanged|QuantityChanged|LastInBatch, obs.priceLevelUpdates[2].ChangeFlags)
	assert.EqualValues(t, 1, obs.priceLevelUpdates[2].LevelIndex)
	assert.Len(t, obs.tobUpdates, 2, "best bid untouched, no new ToB update")

	require.True(t, book.UpdateLevel(Bid, 100, 0, 4, 0, true))
	last := obs.priceLevelUpdates[3]
	assert.EqualValues(t, 0, last.Quantity)
	assert.EqualValues(t, 0, last.LevelIndex)
	assert.Equal(t, PriceChanged|QuantityChanged|LastInBatch, last.ChangeFlags)
	require.Len(t, obs.tobUpdates, 3)
	assert.EqualValues(t, 99, obs.tobUpdates[2].BestBid)
	assert.EqualValues(t, 30, obs.tobUpdates[2].BidQty)
}

// TestBookL2_BatchCoalescing covers S5: a batch of updates to the best
// level emits one event per mutation but a single coalesced ToB update.
func TestBookL2_BatchCoalescing(t *testing.T) {
	book := NewBookL2(1, nil)
	obs := &recordingObserver{}
	book.AddObserver(obs)

	book.UpdateLevel(Bid, 100, 10, 1, 0, false)
	book.UpdateLevel(Bid, 100, 20, 2, 0, false)
	book.UpdateLevel(Bid, 100, 30, 3, 0, true)

	require.Len(t, obs.priceLevelUpdates, 3)
	assert.False(t, obs.priceLevelUpdates[0].ChangeFlags.has(LastInBatch))
	assert.False(t, obs.priceLevelUpdates[1].ChangeFlags.has(LastInBatch))
	assert.True(t, obs.priceLevelUpdates[2].ChangeFlags.has(LastInBatch))

	require.Len(t, obs.tobUpdates, 1)
	assert.EqualValues(t, 30, obs.tobUpdates[0].BidQty)
}

// TestBookL2_ToBSuppressedWhenBestNotTouched covers invariant 9: a batch
// that never touches index 0 on either side never emits a ToB update, even
// when it ends the batch.
func TestBookL2_ToBSuppressedWhenBestNotTouched(t *testing.T) {
	book := NewBookL2(1, nil)
	book.UpdateLevel(Bid, 100, 10, 1, 0, true)
	obs := &recordingObserver{}
	book.AddObserver(obs)

	book.UpdateLevel(Bid, 99, 5, 2, 0, true)
	assert.Empty(t, obs.tobUpdates)
}

// TestBookL2_ToBNotRepublishedOnTimestampOnlyTouch covers invariants #8/#9:
// a repeat touch of the best level that leaves price and quantity unchanged
// must not republish the top of book merely because the timestamp advanced.
func TestBookL2_ToBNotRepublishedOnTimestampOnlyTouch(t *testing.T) {
	book := NewBookL2(1, nil)
	obs := &recordingObserver{}
	book.AddObserver(obs)

	require.True(t, book.UpdateLevel(Bid, 100, 10, 1, 0, true))
	require.Len(t, obs.tobUpdates, 1)

	require.True(t, book.UpdateLevel(Bid, 100, 10, 2, 0, true))
	assert.Len(t, obs.tobUpdates, 1, "same price/qty at a newer timestamp must not republish ToB")
}

func TestBookL2_StaleSeqNumRejected(t *testing.T) {
	book := NewBookL2(1, nil)
	require.True(t, book.UpdateLevel(Bid, 100, 10, 1, 100, true))
	ok := book.UpdateLevel(Bid, 101, 20, 2, 99, true)
	assert.False(t, ok)
	assert.EqualValues(t, 100, book.lastSeqNum)
	_, found := book.GetLevel(Bid, 101)
	assert.False(t, found)
}

func TestBookL2_LevelOrderingInvariant(t *testing.T) {
	book := NewBookL2(1, nil)
	for _, px := range []Price{100, 98, 102, 99, 101} {
		book.UpdateLevel(Bid, px, 1, 0, 0, true)
		book.UpdateLevel(Ask, px, 1, 0, 0, true)
	}

	bids := book.GetLevels(Bid, 0)
	for i := 1; i < len(bids); i++ {
		assert.Greater(t, bids[i-1].Price, bids[i].Price)
	}
	asks := book.GetLevels(Ask, 0)
	for i := 1; i < len(asks); i++ {
		assert.Less(t, asks[i-1].Price, asks[i].Price)
	}
	for _, lvl := range append(bids, asks...) {
		assert.Greater(t, lvl.Quantity, Quantity(0))
	}
}

func TestBookL2_SeqlockReadersDuringConcurrentWrites(t *testing.T) {
	book := NewBookL2(1, nil)
	book.UpdateLevel(Bid, 100, 10, 1, 0, true)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				tob := book.GetTopOfBook()
				assert.True(t, tob.BestBid == 0 || tob.BidQty > 0)
			}
		}
	}()

	for i := 0; i < 2000; i++ {
		book.UpdateLevel(Bid, 100, Quantity(i+1), Timestamp(i), 0, true)
	}
	close(stop)
	wg.Wait()
}
