package orderbook

// ChangeFlags is a bitset describing what a PriceLevelUpdate/OrderUpdate
// reports about the transition it carries.
type ChangeFlags uint8

const (
	// PriceChanged means the level's membership changed: it was created or
	// destroyed by this event.
	PriceChanged ChangeFlags = 0x01
	// QuantityChanged means the reported quantity differs from before.
	QuantityChanged ChangeFlags = 0x02
	// LastInBatch marks the terminal event of a caller-defined batch.
	LastInBatch ChangeFlags = 0x04
)

func (f ChangeFlags) has(bit ChangeFlags) bool { return f&bit != 0 }

// PriceLevelUpdate reports a change to an aggregated price level.
type PriceLevelUpdate struct {
	Symbol      SymbolId
	Side        Side
	Price       Price
	Quantity    Quantity // 0 encodes "delete"
	Timestamp   Timestamp
	LevelIndex  uint16 // 0 = best; InvalidIndex = invalid/unknown
	ChangeFlags ChangeFlags
	SeqNum      SeqNum
}

// OrderUpdate reports a change to a single resting order.
type OrderUpdate struct {
	Symbol          SymbolId
	OrderId         OrderId
	Side            Side
	Price           Price
	Quantity        Quantity
	Timestamp       Timestamp
	PriceLevelIndex uint16
	Priority        uint64
	ChangeFlags     ChangeFlags
	SeqNum          SeqNum
}

// Trade reports an execution. Observer declares OnTrade for it, but neither
// BookL2 nor BookL3 dispatches Trade events: the books never originate one,
// and they have no method that passes a caller-supplied Trade to their
// observers.
type Trade struct {
	Symbol             SymbolId
	Price              Price
	Quantity           Quantity
	Timestamp          Timestamp
	AggressiveOrderId  OrderId
	PassiveOrderId     OrderId
	AggressorSide      Side
}

// TopOfBook is a snapshot of the best bid/ask pair and their quantities.
type TopOfBook struct {
	Symbol    SymbolId
	BestBid   Price
	BidQty    Quantity
	BestAsk   Price
	AskQty    Quantity
	Timestamp Timestamp
}

// Spread returns BestAsk-BestBid. Callers should check HasBid/HasAsk first;
// an empty side reports price 0, which will produce a meaningless spread.
func (t TopOfBook) Spread() Price { return t.BestAsk - t.BestBid }

// MidPrice returns the simple midpoint of the best bid and ask.
func (t TopOfBook) MidPrice() Price { return (t.BestBid + t.BestAsk) / 2 }

// HasBid reports whether a resting bid is present.
func (t TopOfBook) HasBid() bool { return t.BidQty > 0 }

// HasAsk reports whether a resting ask is present.
func (t TopOfBook) HasAsk() bool { return t.AskQty > 0 }

// IsValid reports whether either side is populated.
func (t TopOfBook) IsValid() bool { return t.HasBid() || t.HasAsk() }

// IsCrossed reports a best-bid at or above best-ask, which should never be
// observed from a correctly-fed book but is cheap to expose for callers that
// want to assert on it.
func (t TopOfBook) IsCrossed() bool {
	return t.HasBid() && t.HasAsk() && t.BestBid >= t.BestAsk
}

// sameBestLevels reports whether t and other describe the same best bid/ask
// pair, ignoring Timestamp. A republish is only warranted when the best
// price or quantity on either side actually moves, not on every touch of the
// best level that merely refreshes its timestamp.
func (t TopOfBook) sameBestLevels(other TopOfBook) bool {
	return t.Symbol == other.Symbol &&
		t.BestBid == other.BestBid && t.BidQty == other.BidQty &&
		t.BestAsk == other.BestAsk && t.AskQty == other.AskQty
}

// Observer receives synchronous notifications from a book's writer thread.
// Implementations may leave any method unimplemented by embedding
// NoopObserver. Callbacks run inline on the mutating call and must not
// invoke mutating operations on the same book, nor block.
type Observer interface {
	OnPriceLevelUpdate(u PriceLevelUpdate)
	OnOrderUpdate(u OrderUpdate)
	OnTrade(t Trade)
	OnTopOfBookUpdate(tob TopOfBook)
	OnSnapshotBegin(symbol SymbolId, seqNum SeqNum, ts Timestamp)
	OnSnapshotEnd(symbol SymbolId, seqNum SeqNum, ts Timestamp)
}

// NoopObserver implements Observer with no-op methods so callers can embed
// it and override only the callbacks they care about.
type NoopObserver struct{}

func (NoopObserver) OnPriceLevelUpdate(PriceLevelUpdate)          {}
func (NoopObserver) OnOrderUpdate(OrderUpdate)                    {}
func (NoopObserver) OnTrade(Trade)                                {}
func (NoopObserver) OnTopOfBookUpdate(TopOfBook)                  {}
func (NoopObserver) OnSnapshotBegin(SymbolId, SeqNum, Timestamp)  {}
func (NoopObserver) OnSnapshotEnd(SymbolId, SeqNum, Timestamp)    {}
