package orderbook

import "sort"

// PriceLevelL2 is an aggregated resting quantity at one price. A level with
// Quantity 0 is never stored; absence from a container means no resting
// interest at that price.
type PriceLevelL2 struct {
	Price     Price
	Quantity  Quantity
	Timestamp Timestamp
}

func (l PriceLevelL2) isEmpty() bool { return l.Quantity <= 0 }

// l2Side is a price-sorted contiguous sequence of PriceLevelL2 for one side
// of an L2 book: descending for Bid, ascending for Ask, so the best level is
// always at index 0. A plain sorted slice is preferred over a pointer-based
// tree here because n is expected to be small (tens to low hundreds of
// levels) and a contiguous sequence dominates pointer chasing on latency.
type l2Side struct {
	side   Side
	levels []PriceLevelL2
}

// better reports whether price a ranks ahead of price b for this side.
func (s *l2Side) better(a, b Price) bool {
	if s.side == Bid {
		return a > b
	}
	return a < b
}

// searchIndex returns the index of price if present, and the lower-bound
// insertion point otherwise, using this side's ordering.
func (s *l2Side) searchIndex(price Price) (idx int, found bool) {
	n := len(s.levels)
	idx = sort.Search(n, func(i int) bool {
		return !s.better(s.levels[i].Price, price)
	})
	if idx < n && s.levels[idx].Price == price {
		return idx, true
	}
	return idx, false
}

func (s *l2Side) insertOrUpdate(price Price, qty Quantity, ts Timestamp) (index int, inserted bool) {
	idx, found := s.searchIndex(price)
	if found {
		s.levels[idx].Quantity = qty
		s.levels[idx].Timestamp = ts
		return idx, false
	}
	s.levels = append(s.levels, PriceLevelL2{})
	copy(s.levels[idx+1:], s.levels[idx:])
	s.levels[idx] = PriceLevelL2{Price: price, Quantity: qty, Timestamp: ts}
	return idx, true
}

func (s *l2Side) erase(price Price) bool {
	idx, found := s.searchIndex(price)
	if !found {
		return false
	}
	s.eraseAt(idx)
	return true
}

func (s *l2Side) eraseAt(index int) {
	s.levels = append(s.levels[:index], s.levels[index+1:]...)
}

func (s *l2Side) find(price Price) (int, bool) {
	return s.searchIndex(price)
}

func (s *l2Side) best() (PriceLevelL2, bool) {
	if len(s.levels) == 0 {
		return PriceLevelL2{}, false
	}
	return s.levels[0], true
}

func (s *l2Side) getByIndex(i int) (PriceLevelL2, bool) {
	if i < 0 || i >= len(s.levels) {
		return PriceLevelL2{}, false
	}
	return s.levels[i], true
}

func (s *l2Side) getPrefix(depth int) []PriceLevelL2 {
	if depth <= 0 || depth > len(s.levels) {
		depth = len(s.levels)
	}
	out := make([]PriceLevelL2, depth)
	copy(out, s.levels[:depth])
	return out
}

func (s *l2Side) clear() { s.levels = s.levels[:0] }

func (s *l2Side) len() int { return len(s.levels) }

func (s *l2Side) isEmpty() bool { return len(s.levels) == 0 }
