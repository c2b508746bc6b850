package orderbook

import (
	"sync/atomic"

	"github.com/tidwall/btree"
	"go.uber.org/zap"
)

// btreeMapDegree is the node fan-out for the per-side price->level maps.
// Generalized from the teacher's btree.Map[string, *PriceLevel] usage.
const btreeMapDegree = 32

// PriceLevelL3View is a read-only snapshot of one order-granular price
// level, returned from GetLevel/GetLevelsL3.
type PriceLevelL3View struct {
	Price         Price
	TotalQuantity Quantity
	Orders        []OrderView
}

// BookL3 maintains the order-by-order view of a single instrument. bids and
// asks are both stored in ascending price order (the map's natural Price
// ordering); the bid side is read back via Reverse iteration to present
// best-first (highest price first), the ask side via Scan (lowest first),
// the same pattern the teacher uses for its own bids/asks btree.Map fields.
type BookL3 struct {
	symbol SymbolId

	bids *btree.Map[Price, *priceLevelL3]
	asks *btree.Map[Price, *priceLevelL3]

	orderMap        map[OrderId]orderHandle
	orderCountSide  [sideCount]int
	pool            *orderPool

	observers observerList

	lastSeqNum SeqNum

	tobSeq    atomic.Uint64
	cachedToB TopOfBook
	lastToB   TopOfBook

	logger *zap.Logger
}

// NewBookL3 constructs an empty L3 book for symbol, using pool for order
// storage. logger may be nil; pool metrics, if any, are wired into pool.
func NewBookL3(symbol SymbolId, pool *orderPool, logger *zap.Logger) *BookL3 {
	return &BookL3{
		symbol:   symbol,
		bids:     btree.NewMap[Price, *priceLevelL3](btreeMapDegree),
		asks:     btree.NewMap[Price, *priceLevelL3](btreeMapDegree),
		orderMap: make(map[OrderId]orderHandle),
		pool:     pool,
		logger:   logger,
	}
}

func (b *BookL3) sideMap(side Side) *btree.Map[Price, *priceLevelL3] {
	if side == Bid {
		return b.bids
	}
	return b.asks
}

func (b *BookL3) acceptSeqNum(seqNum SeqNum) bool {
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

func (b *BookL3) levelAt(side Side, price Price) (*priceLevelL3, bool) {
	return b.sideMap(side).Get(price)
}

func (b *BookL3) getOrCreateLevel(side Side, price Price) (*priceLevelL3, bool) {
	m := b.sideMap(side)
	if lvl, ok := m.Get(price); ok {
		return lvl, false
	}
	lvl := newPriceLevelL3(price)
	m.Set(price, lvl)
	return lvl, true
}

func (b *BookL3) removeLevelFromMap(side Side, price Price) {
	b.sideMap(side).Delete(price)
}

// levelIndex returns the 0-based position of price within side's best-first
// order, or InvalidIndex if the level is not present.
func (b *BookL3) levelIndex(side Side, price Price) uint16 {
	idx := 0
	found := false
	visit := func(p Price, _ *priceLevelL3) bool {
		if p == price {
			found = true
			return false
		}
		idx++
		return true
	}
	if side == Ask {
		b.asks.Scan(visit)
	} else {
		b.bids.Reverse(visit)
	}
	if !found {
		return InvalidIndex
	}
	return uint16(idx)
}

func (b *BookL3) bestLevel(side Side) (*priceLevelL3, bool) {
	var result *priceLevelL3
	visit := func(_ Price, lvl *priceLevelL3) bool {
		result = lvl
		return false
	}
	if side == Ask {
		b.asks.Scan(visit)
	} else {
		b.bids.Reverse(visit)
	}
	return result, result != nil
}

// --- mutation operations ---

// AddOrModifyOrder is the general-purpose upsert: unknown ids are inserted,
// known ids are routed to delete (qty==0) or modify.
func (b *BookL3) AddOrModifyOrder(orderId OrderId, side Side, price Price, qty Quantity, ts Timestamp, priority uint64, seqNum SeqNum, isLastInBatch bool) bool {
	if !b.acceptSeqNum(seqNum) {
		return false
	}

	if h, exists := b.orderMap[orderId]; exists {
		rec := b.pool.at(h)
		if rec.side != side {
			if b.logger != nil {
				b.logger.Warn("orderbook: order id reused across sides",
					zap.Uint16("symbol", b.symbol), zap.Uint64("order_id", orderId))
			}
			return false
		}
		if qty == 0 {
			return b.deleteOrderCore(orderId, h, seqNum, isLastInBatch)
		}
		if qty < 0 {
			return false
		}
		if rec.price == price && rec.quantity == qty {
			return true
		}
		rec.timestamp = ts
		return b.applyModify(h, price, qty, seqNum, isLastInBatch)
	}

	if qty <= 0 {
		return false
	}
	return b.insertNewOrder(orderId, side, price, qty, ts, priority, seqNum, isLastInBatch)
}

// AddOrder is the strict-add convenience form: it fails if the id already
// exists rather than routing to modify/delete. priority defaults to ts when
// 0, matching the substitution rule applied by add_or_modify_order.
func (b *BookL3) AddOrder(orderId OrderId, side Side, price Price, qty Quantity, ts Timestamp, priority uint64, seqNum SeqNum, isLastInBatch bool) bool {
	if _, exists := b.orderMap[orderId]; exists {
		return false
	}
	if !b.acceptSeqNum(seqNum) {
		return false
	}
	if qty <= 0 {
		return false
	}
	return b.insertNewOrder(orderId, side, price, qty, ts, priority, seqNum, isLastInBatch)
}

func (b *BookL3) insertNewOrder(orderId OrderId, side Side, price Price, qty Quantity, ts Timestamp, priority uint64, seqNum SeqNum, isLastInBatch bool) bool {
	actualPriority := priority
	if actualPriority == 0 {
		actualPriority = ts
	}

	h := b.pool.allocate()
	rec := b.pool.at(h)
	rec.id, rec.side, rec.price, rec.quantity, rec.timestamp, rec.priority = orderId, side, price, qty, ts, actualPriority

	level, created := b.getOrCreateLevel(side, price)
	level.insertOrder(b.pool, h)
	b.orderMap[orderId] = h
	b.orderCountSide[side]++

	idx := b.levelIndex(side, price)

	orderFlags := PriceChanged | QuantityChanged
	if isLastInBatch {
		orderFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnOrderUpdate(OrderUpdate{
			Symbol: b.symbol, OrderId: orderId, Side: side, Price: price, Quantity: qty,
			Timestamp: ts, PriceLevelIndex: idx, Priority: actualPriority,
			ChangeFlags: orderFlags, SeqNum: seqNum,
		})
	})

	levelFlags := QuantityChanged
	if created {
		levelFlags |= PriceChanged
	}
	if isLastInBatch {
		levelFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnPriceLevelUpdate(PriceLevelUpdate{
			Symbol: b.symbol, Side: side, Price: price, Quantity: level.totalQuantity,
			Timestamp: ts, LevelIndex: idx, ChangeFlags: levelFlags, SeqNum: seqNum,
		})
	})

	b.publishIfNeeded(isLastInBatch, ts)
	return true
}

// ModifyOrder changes the price and/or quantity of a resting order.
func (b *BookL3) ModifyOrder(orderId OrderId, newPrice Price, newQty Quantity, seqNum SeqNum, isLastInBatch bool) bool {
	if !b.acceptSeqNum(seqNum) {
		return false
	}
	h, exists := b.orderMap[orderId]
	if !exists {
		return false
	}
	if newQty == 0 {
		return b.deleteOrderCore(orderId, h, seqNum, isLastInBatch)
	}
	if newQty < 0 {
		return false
	}
	return b.applyModify(h, newPrice, newQty, seqNum, isLastInBatch)
}

// applyModify assumes the seq-num gate has already passed and h refers to a
// live order; newQty is known to be > 0.
func (b *BookL3) applyModify(h orderHandle, newPrice Price, newQty Quantity, seqNum SeqNum, isLastInBatch bool) bool {
	rec := b.pool.at(h)
	priceChanged := newPrice != rec.price
	qtyChanged := newQty != rec.quantity
	if !priceChanged && !qtyChanged {
		return true
	}

	side := rec.side
	orderId := rec.id

	if !priceChanged {
		level, _ := b.levelAt(side, rec.price)
		level.updateQuantity(rec.quantity, newQty)
		rec.quantity = newQty
		idx := b.levelIndex(side, rec.price)

		flags := QuantityChanged
		if isLastInBatch {
			flags |= LastInBatch
		}
		b.notify(func(o Observer) {
			o.OnOrderUpdate(OrderUpdate{
				Symbol: b.symbol, OrderId: orderId, Side: side, Price: rec.price, Quantity: newQty,
				Timestamp: rec.timestamp, PriceLevelIndex: idx, Priority: rec.priority,
				ChangeFlags: flags, SeqNum: seqNum,
			})
		})
		levelUpdateFlags := QuantityChanged
		if isLastInBatch {
			levelUpdateFlags |= LastInBatch
		}
		b.notify(func(o Observer) {
			o.OnPriceLevelUpdate(PriceLevelUpdate{
				Symbol: b.symbol, Side: side, Price: rec.price, Quantity: level.totalQuantity,
				Timestamp: rec.timestamp, LevelIndex: idx, ChangeFlags: levelUpdateFlags, SeqNum: seqNum,
			})
		})
		b.publishIfNeeded(isLastInBatch, rec.timestamp)
		return true
	}

	oldPrice := rec.price
	oldLevel, _ := b.levelAt(side, oldPrice)
	oldIdx := b.levelIndex(side, oldPrice)
	oldLevel.removeOrder(b.pool, h)
	oldDestroyed := oldLevel.isEmpty()

	oldLevelFlags := QuantityChanged
	if oldDestroyed {
		oldLevelFlags |= PriceChanged
	}
	oldQtyReported := oldLevel.totalQuantity
	b.notify(func(o Observer) {
		o.OnPriceLevelUpdate(PriceLevelUpdate{
			Symbol: b.symbol, Side: side, Price: oldPrice, Quantity: oldQtyReported,
			Timestamp: rec.timestamp, LevelIndex: oldIdx, ChangeFlags: oldLevelFlags, SeqNum: seqNum,
		})
	})
	if oldDestroyed {
		b.removeLevelFromMap(side, oldPrice)
	}

	rec.price = newPrice
	if qtyChanged {
		rec.quantity = newQty
	}
	newLevel, created := b.getOrCreateLevel(side, newPrice)
	newLevel.insertOrder(b.pool, h)
	newIdx := b.levelIndex(side, newPrice)

	orderFlags := PriceChanged
	if qtyChanged {
		orderFlags |= QuantityChanged
	}
	if isLastInBatch {
		orderFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnOrderUpdate(OrderUpdate{
			Symbol: b.symbol, OrderId: orderId, Side: side, Price: newPrice, Quantity: rec.quantity,
			Timestamp: rec.timestamp, PriceLevelIndex: newIdx, Priority: rec.priority,
			ChangeFlags: orderFlags, SeqNum: seqNum,
		})
	})

	newLevelFlags := QuantityChanged
	if created {
		newLevelFlags |= PriceChanged
	}
	if isLastInBatch {
		newLevelFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnPriceLevelUpdate(PriceLevelUpdate{
			Symbol: b.symbol, Side: side, Price: newPrice, Quantity: newLevel.totalQuantity,
			Timestamp: rec.timestamp, LevelIndex: newIdx, ChangeFlags: newLevelFlags, SeqNum: seqNum,
		})
	})

	b.publishIfNeeded(isLastInBatch, rec.timestamp)
	return true
}

// DeleteOrder removes a resting order entirely.
func (b *BookL3) DeleteOrder(orderId OrderId, seqNum SeqNum, isLastInBatch bool) bool {
	if !b.acceptSeqNum(seqNum) {
		return false
	}
	h, exists := b.orderMap[orderId]
	if !exists {
		return false
	}
	return b.deleteOrderCore(orderId, h, seqNum, isLastInBatch)
}

func (b *BookL3) deleteOrderCore(orderId OrderId, h orderHandle, seqNum SeqNum, isLastInBatch bool) bool {
	rec := b.pool.at(h)
	side, price, ts, priority := rec.side, rec.price, rec.timestamp, rec.priority

	level, found := b.levelAt(side, price)
	if !found {
		if b.logger != nil {
			b.logger.Warn("orderbook: order indexed but its price level is missing",
				zap.Uint16("symbol", b.symbol), zap.Uint64("order_id", orderId),
				zap.Int64("price", price), zap.String("side", side.String()))
		}
		delete(b.orderMap, orderId)
		b.orderCountSide[side]--
		b.pool.release(h)
		missingOrderFlags := PriceChanged | QuantityChanged
		if isLastInBatch {
			missingOrderFlags |= LastInBatch
		}
		b.notify(func(o Observer) {
			o.OnOrderUpdate(OrderUpdate{
				Symbol: b.symbol, OrderId: orderId, Side: side, Price: price, Quantity: 0,
				Timestamp: ts, PriceLevelIndex: InvalidIndex, Priority: priority,
				ChangeFlags: missingOrderFlags, SeqNum: seqNum,
			})
		})
		return false
	}

	idx := b.levelIndex(side, price)
	level.removeOrder(b.pool, h)
	destroyed := level.isEmpty()
	remaining := level.totalQuantity
	if destroyed {
		b.removeLevelFromMap(side, price)
	}
	delete(b.orderMap, orderId)
	b.orderCountSide[side]--

	orderFlags := PriceChanged | QuantityChanged
	if isLastInBatch {
		orderFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnOrderUpdate(OrderUpdate{
			Symbol: b.symbol, OrderId: orderId, Side: side, Price: price, Quantity: 0,
			Timestamp: ts, PriceLevelIndex: idx, Priority: priority,
			ChangeFlags: orderFlags, SeqNum: seqNum,
		})
	})

	levelFlags := QuantityChanged
	if destroyed {
		levelFlags |= PriceChanged
	}
	if isLastInBatch {
		levelFlags |= LastInBatch
	}
	b.notify(func(o Observer) {
		o.OnPriceLevelUpdate(PriceLevelUpdate{
			Symbol: b.symbol, Side: side, Price: price, Quantity: remaining,
			Timestamp: ts, LevelIndex: idx, ChangeFlags: levelFlags, SeqNum: seqNum,
		})
	})

	b.pool.release(h)
	b.publishIfNeeded(isLastInBatch, ts)
	return true
}

// ExecuteOrder reports a fill against a resting order: a full fill deletes
// it, a partial fill reduces its quantity via the modify path.
func (b *BookL3) ExecuteOrder(orderId OrderId, executedQty Quantity, seqNum SeqNum, isLastInBatch bool) bool {
	if !b.acceptSeqNum(seqNum) {
		return false
	}
	h, exists := b.orderMap[orderId]
	if !exists {
		return false
	}
	rec := b.pool.at(h)
	if executedQty <= 0 || executedQty > rec.quantity {
		if b.logger != nil {
			b.logger.Debug("orderbook: execute_order rejected out-of-range quantity",
				zap.Uint16("symbol", b.symbol), zap.Uint64("order_id", orderId),
				zap.Int64("executed_qty", executedQty), zap.Int64("resting_qty", rec.quantity))
		}
		return false
	}
	if executedQty == rec.quantity {
		return b.deleteOrderCore(orderId, h, seqNum, isLastInBatch)
	}
	return b.applyModify(h, rec.price, rec.quantity-executedQty, seqNum, isLastInBatch)
}

// --- queries ---

func (b *BookL3) FindOrder(orderId OrderId) (OrderView, bool) {
	h, exists := b.orderMap[orderId]
	if !exists {
		return OrderView{}, false
	}
	return orderViewOf(b.pool.at(h)), true
}

func (b *BookL3) GetBest(side Side) (PriceLevelL2, bool) {
	level, ok := b.bestLevel(side)
	if !ok {
		return PriceLevelL2{}, false
	}
	var ts Timestamp
	if head, ok := level.bestOrder(b.pool); ok {
		ts = head.Timestamp
	}
	return PriceLevelL2{Price: level.price, Quantity: level.totalQuantity, Timestamp: ts}, true
}

func (b *BookL3) computeToB() TopOfBook {
	tob := TopOfBook{Symbol: b.symbol}
	var bidTs, askTs Timestamp
	if lvl, ok := b.bestLevel(Bid); ok {
		tob.BestBid, tob.BidQty = lvl.price, lvl.totalQuantity
		if head, ok := lvl.bestOrder(b.pool); ok {
			bidTs = head.Timestamp
		}
	}
	if lvl, ok := b.bestLevel(Ask); ok {
		tob.BestAsk, tob.AskQty = lvl.price, lvl.totalQuantity
		if head, ok := lvl.bestOrder(b.pool); ok {
			askTs = head.Timestamp
		}
	}
	tob.Timestamp = bidTs
	if askTs > tob.Timestamp {
		tob.Timestamp = askTs
	}
	return tob
}

// publishIfNeeded implements L3's batch-coalescing policy: unlike L2, there
// is no best-level-index gate; the only condition is that this mutation
// closed the batch and the cached top-of-book actually changed.
func (b *BookL3) publishIfNeeded(isLastInBatch bool, _ Timestamp) {
	if !isLastInBatch {
		return
	}
	candidate := b.computeToB()
	if candidate.sameBestLevels(b.lastToB) {
		return
	}
	seq := b.tobSeq.Load()
	b.tobSeq.Store(seq + 1)
	b.cachedToB = candidate
	b.tobSeq.Store(seq + 2)
	b.lastToB = candidate
	b.notify(func(o Observer) { o.OnTopOfBookUpdate(candidate) })
}

// GetTopOfBook is wait-free for readers via the same seqlock protocol used
// by BookL2.
func (b *BookL3) GetTopOfBook() TopOfBook {
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

func (b *BookL3) GetLevelsL2(side Side, depth int) []PriceLevelL2 {
	out := make([]PriceLevelL2, 0, 8)
	visit := func(_ Price, lvl *priceLevelL3) bool {
		var ts Timestamp
		if head, ok := lvl.bestOrder(b.pool); ok {
			ts = head.Timestamp
		}
		out = append(out, PriceLevelL2{Price: lvl.price, Quantity: lvl.totalQuantity, Timestamp: ts})
		return depth <= 0 || len(out) < depth
	}
	if side == Ask {
		b.asks.Scan(visit)
	} else {
		b.bids.Reverse(visit)
	}
	return out
}

func (b *BookL3) GetLevelsL3(side Side) []PriceLevelL3View {
	out := make([]PriceLevelL3View, 0, 8)
	visit := func(_ Price, lvl *priceLevelL3) bool {
		out = append(out, PriceLevelL3View{Price: lvl.price, TotalQuantity: lvl.totalQuantity, Orders: lvl.orders(b.pool)})
		return true
	}
	if side == Ask {
		b.asks.Scan(visit)
	} else {
		b.bids.Reverse(visit)
	}
	return out
}

func (b *BookL3) GetLevel(side Side, price Price) (PriceLevelL3View, int, bool) {
	level, found := b.levelAt(side, price)
	if !found {
		return PriceLevelL3View{}, int(InvalidIndex), false
	}
	idx := b.levelIndex(side, price)
	return PriceLevelL3View{Price: level.price, TotalQuantity: level.totalQuantity, Orders: level.orders(b.pool)}, int(idx), true
}

func (b *BookL3) LevelCount(side Side) int { return b.sideMap(side).Len() }

func (b *BookL3) OrderCount() int { return len(b.orderMap) }

func (b *BookL3) OrderCountSide(side Side) int { return b.orderCountSide[side] }

func (b *BookL3) IsEmptySide(side Side) bool { return b.orderCountSide[side] == 0 }

func (b *BookL3) IsEmpty() bool { return len(b.orderMap) == 0 }

func (b *BookL3) ClearSide(side Side) {
	m := b.sideMap(side)
	m.Scan(func(_ Price, lvl *priceLevelL3) bool {
		for h := lvl.head; h != noHandle; {
			rec := b.pool.at(h)
			next := rec.next
			delete(b.orderMap, rec.id)
			b.pool.release(h)
			h = next
		}
		return true
	})
	if side == Bid {
		b.bids = btree.NewMap[Price, *priceLevelL3](btreeMapDegree)
	} else {
		b.asks = btree.NewMap[Price, *priceLevelL3](btreeMapDegree)
	}
	b.orderCountSide[side] = 0
}

func (b *BookL3) Clear() {
	b.ClearSide(Bid)
	b.ClearSide(Ask)
}

// EmitSnapshot republishes the full book as a sequence of OrderUpdate and
// PriceLevelUpdate events bracketed by OnSnapshotBegin/OnSnapshotEnd.
func (b *BookL3) EmitSnapshot(ts Timestamp) {
	b.notify(func(o Observer) { o.OnSnapshotBegin(b.symbol, b.lastSeqNum, ts) })
	for _, side := range []Side{Bid, Ask} {
		idx := 0
		visit := func(_ Price, lvl *priceLevelL3) bool {
			for _, ov := range lvl.orders(b.pool) {
				capturedIdx := idx
				b.notify(func(o Observer) {
					o.OnOrderUpdate(OrderUpdate{
						Symbol: b.symbol, OrderId: ov.OrderId, Side: side, Price: ov.Price,
						Quantity: ov.Quantity, Timestamp: ov.Timestamp, PriceLevelIndex: uint16(capturedIdx),
						Priority: ov.Priority, ChangeFlags: PriceChanged | QuantityChanged, SeqNum: b.lastSeqNum,
					})
				})
			}
			capturedIdx := idx
			b.notify(func(o Observer) {
				o.OnPriceLevelUpdate(PriceLevelUpdate{
					Symbol: b.symbol, Side: side, Price: lvl.price, Quantity: lvl.totalQuantity,
					Timestamp: ts, LevelIndex: uint16(capturedIdx), ChangeFlags: PriceChanged | QuantityChanged, SeqNum: b.lastSeqNum,
				})
			})
			idx++
			return true
		}
		if side == Ask {
			b.asks.Scan(visit)
		} else {
			b.bids.Reverse(visit)
		}
	}
	b.notify(func(o Observer) { o.OnSnapshotEnd(b.symbol, b.lastSeqNum, ts) })
}

func (b *BookL3) AddObserver(o Observer)    { b.observers.Add(o) }
func (b *BookL3) RemoveObserver(o Observer) { b.observers.Remove(o) }
func (b *BookL3) ClearObservers()           { b.observers.Clear() }

func (b *BookL3) notify(fn func(Observer)) {
	for _, o := range b.observers.Snapshot() {
		fn(o)
	}
}
