package orderbook

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// BookL2 maintains the aggregated view of a single instrument: one resting
// quantity per price per side, with a seqlock-published top-of-book cache
// that readers can consult without blocking the writer.
type BookL2 struct {
	symbol SymbolId

	bids l2Side
	asks l2Side

	observers observerList

	lastSeqNum          SeqNum
	changeStartingIndex uint16

	// tobSeq brackets writes to cachedToB: odd while a write is in
	// progress, even when the value is stable and safe to read. lastToB
	// is the writer's own shadow copy used purely to detect "did the
	// published value actually change", and is never read by anyone but
	// the single writer.
	tobSeq    atomic.Uint64
	cachedToB TopOfBook
	lastToB   TopOfBook

	logger *zap.Logger
}

// NewBookL2 constructs an empty L2 book for symbol.
func NewBookL2(symbol SymbolId, logger *zap.Logger) *BookL2 {
	return &BookL2{
		symbol:              symbol,
		bids:                l2Side{side: Bid},
		asks:                l2Side{side: Ask},
		changeStartingIndex: changeStartingIndexSentinel,
		logger:              logger,
	}
}

func (b *BookL2) sideContainer(side Side) *l2Side {
	if side == Bid {
		return &b.bids
	}
	return &b.asks
}

func (b *BookL2) acceptSeqNum(seqNum SeqNum) bool {
	if seqNum > 0 && b.lastSeqNum > 0 && seqNum < b.lastSeqNum {
		if b.logger != nil {
			b.logger.Debug("orderbook: stale seq_num rejected",
				zap.Uint16("symbol", b.symbol),
				zap.Uint64("seq_num", seqNum),
				zap.Uint64("last_seq_num", b.lastSeqNum))
		}
		return false
	}
	if seqNum > b.lastSeqNum {
		b.lastSeqNum = seqNum
	}
	return true
}

func (b *BookL2) trackChangeIndex(idx int) {
	if idx < 0 {
		return
	}
	if uint16(idx) < b.changeStartingIndex {
		b.changeStartingIndex = uint16(idx)
	}
}

// UpdateLevel is the hot path: it sets, updates, or deletes the resting
// quantity at price on side, emits a PriceLevelUpdate, and, when it closes
// a batch in which some update touched level index 0 on either side,
// republishes the top of book.
func (b *BookL2) UpdateLevel(side Side, price Price, qty Quantity, ts Timestamp, seqNum SeqNum, isLastInBatch bool) bool {
	if !b.acceptSeqNum(seqNum) {
		return false
	}

	container := b.sideContainer(side)
	var idx int
	var flags ChangeFlags

	if qty <= 0 {
		i, found := container.find(price)
		if !found {
			return true
		}
		idx = i
		container.eraseAt(idx)
		flags = PriceChanged | QuantityChanged
		if isLastInBatch {
			flags |= LastInBatch
		}
		b.notify(func(o Observer) {
			o.OnPriceLevelUpdate(PriceLevelUpdate{
				Symbol: b.symbol, Side: side, Price: price, Quantity: 0,
				Timestamp: ts, LevelIndex: uint16(idx), ChangeFlags: flags, SeqNum: seqNum,
			})
		})
	} else {
		inserted := false
		idx, inserted = container.insertOrUpdate(price, qty, ts)
		flags = QuantityChanged
		if inserted {
			flags |= PriceChanged
		}
		if isLastInBatch {
			flags |= LastInBatch
		}
		b.notify(func(o Observer) {
			o.OnPriceLevelUpdate(PriceLevelUpdate{
				Symbol: b.symbol, Side: side, Price: price, Quantity: qty,
				Timestamp: ts, LevelIndex: uint16(idx), ChangeFlags: flags, SeqNum: seqNum,
			})
		})
	}

	b.trackChangeIndex(idx)
	if isLastInBatch {
		if b.changeStartingIndex == 0 {
			b.publishToB(ts)
		}
		b.changeStartingIndex = changeStartingIndexSentinel
	}
	return true
}

// DeleteLevel removes the level at price on side, if present.
func (b *BookL2) DeleteLevel(side Side, price Price) bool {
	container := b.sideContainer(side)
	if _, found := container.find(price); !found {
		return false
	}
	return b.UpdateLevel(side, price, 0, 0, 0, true)
}

func (b *BookL2) ClearSide(side Side) { b.sideContainer(side).clear() }

func (b *BookL2) Clear() {
	b.bids.clear()
	b.asks.clear()
}

// computeToB derives the current top of book directly from the containers.
// It is only ever called from the writer and is not itself safe for
// concurrent readers; that is what the seqlock-guarded cache is for.
func (b *BookL2) computeToB(ts Timestamp) TopOfBook {
	tob := TopOfBook{Symbol: b.symbol, Timestamp: ts}
	if lvl, ok := b.bids.best(); ok {
		tob.BestBid, tob.BidQty = lvl.Price, lvl.Quantity
	}
	if lvl, ok := b.asks.best(); ok {
		tob.BestAsk, tob.AskQty = lvl.Price, lvl.Quantity
	}
	return tob
}

func (b *BookL2) publishToB(ts Timestamp) {
	candidate := b.computeToB(ts)
	if candidate.sameBestLevels(b.lastToB) {
		return
	}
	seq := b.tobSeq.Load()
	b.tobSeq.Store(seq + 1) // odd: writer in progress
	b.cachedToB = candidate
	b.tobSeq.Store(seq + 2) // even: stable again
	b.lastToB = candidate

	b.notify(func(o Observer) { o.OnTopOfBookUpdate(candidate) })
}

// GetTopOfBook is wait-free for readers: it retries while it observes an
// odd sequence counter or a pre/post mismatch, per the seqlock protocol.
func (b *BookL2) GetTopOfBook() TopOfBook {
	for {
		s1 := b.tobSeq.Load()
		if s1&1 != 0 {
			continue
		}
		tob := b.cachedToB
		s2 := b.tobSeq.Load()
		if s1 != s2 {
			continue
		}
		return tob
	}
}

// GetBest is wait-free for readers, built from the same cached top-of-book.
func (b *BookL2) GetBest(side Side) (PriceLevelL2, bool) {
	tob := b.GetTopOfBook()
	if side == Bid {
		if tob.BidQty <= 0 {
			return PriceLevelL2{}, false
		}
		return PriceLevelL2{Price: tob.BestBid, Quantity: tob.BidQty, Timestamp: tob.Timestamp}, true
	}
	if tob.AskQty <= 0 {
		return PriceLevelL2{}, false
	}
	return PriceLevelL2{Price: tob.BestAsk, Quantity: tob.AskQty, Timestamp: tob.Timestamp}, true
}

// GetLevels is NOT thread-safe relative to a concurrent writer; it requires
// external synchronization or a quiescent writer, per §5.
func (b *BookL2) GetLevels(side Side, depth int) []PriceLevelL2 {
	return b.sideContainer(side).getPrefix(depth)
}

func (b *BookL2) GetLevel(side Side, price Price) (PriceLevelL2, bool) {
	container := b.sideContainer(side)
	idx, found := container.find(price)
	if !found {
		return PriceLevelL2{}, false
	}
	return container.levels[idx], true
}

func (b *BookL2) GetLevelByIndex(side Side, i int) (PriceLevelL2, bool) {
	return b.sideContainer(side).getByIndex(i)
}

func (b *BookL2) LevelCount(side Side) int { return b.sideContainer(side).len() }

func (b *BookL2) IsEmptySide(side Side) bool { return b.sideContainer(side).isEmpty() }

func (b *BookL2) IsEmpty() bool { return b.bids.isEmpty() && b.asks.isEmpty() }

// EmitSnapshot republishes the full current state as a sequence of
// PriceLevelUpdate events bracketed by OnSnapshotBegin/OnSnapshotEnd.
func (b *BookL2) EmitSnapshot(ts Timestamp) {
	b.notify(func(o Observer) { o.OnSnapshotBegin(b.symbol, b.lastSeqNum, ts) })
	for _, side := range []Side{Bid, Ask} {
		container := b.sideContainer(side)
		for idx, lvl := range container.levels {
			b.notify(func(o Observer) {
				o.OnPriceLevelUpdate(PriceLevelUpdate{
					Symbol: b.symbol, Side: side, Price: lvl.Price, Quantity: lvl.Quantity,
					Timestamp: lvl.Timestamp, LevelIndex: uint16(idx),
					ChangeFlags: PriceChanged | QuantityChanged, SeqNum: b.lastSeqNum,
				})
			})
		}
	}
	b.notify(func(o Observer) { o.OnSnapshotEnd(b.symbol, b.lastSeqNum, ts) })
}

func (b *BookL2) AddObserver(o Observer)    { b.observers.Add(o) }
func (b *BookL2) RemoveObserver(o Observer) { b.observers.Remove(o) }
func (b *BookL2) ClearObservers()           { b.observers.Clear() }

func (b *BookL2) notify(fn func(Observer)) {
	for _, o := range b.observers.Snapshot() {
		fn(o)
	}
}
