package orderbook

// recordingObserver captures every event it receives, in arrival order, for
// assertions in scenario tests. It embeds NoopObserver so it only needs to
// override the callbacks a given test cares about.
type recordingObserver struct {
	NoopObserver
	priceLevelUpdates []PriceLevelUpdate
	orderUpdates      []OrderUpdate
	trades            []Trade
	tobUpdates        []TopOfBook
	snapshotBegins    int
	snapshotEnds      int
}

func (r *recordingObserver) OnPriceLevelUpdate(u PriceLevelUpdate) {
	r.priceLevelUpdates = append(r.priceLevelUpdates, u)
}

func (r *recordingObserver) OnOrderUpdate(u OrderUpdate) {
	r.orderUpdates = append(r.orderUpdates, u)
}

func (r *recordingObserver) OnTrade(t Trade) {
	r.trades = append(r.trades, t)
}

func (r *recordingObserver) OnTopOfBookUpdate(tob TopOfBook) {
	r.tobUpdates = append(r.tobUpdates, tob)
}

func (r *recordingObserver) OnSnapshotBegin(SymbolId, SeqNum, Timestamp) {
	r.snapshotBegins++
}

func (r *recordingObserver) OnSnapshotEnd(SymbolId, SeqNum, Timestamp) {
	r.snapshotEnds++
}
