package orderbook

import "sync/atomic"

// observerList is a copy-on-write list of Observers. Add/Remove replace the
// underlying slice wholesale so that a dispatch in flight, which has already
// loaded its own snapshot via Snapshot(), is never mutated out from under it.
// Per the concurrency model, add/remove must still be externally
// serialized with a concurrent mutation on the same book; copy-on-write only
// protects the dispatch walk itself, not the single-writer discipline.
type observerList struct {
	v atomic.Pointer[[]Observer]
}

func (l *observerList) Snapshot() []Observer {
	p := l.v.Load()
	if p == nil {
		return nil
	}
	return *p
}

func (l *observerList) Add(o Observer) {
	cur := l.Snapshot()
	next := make([]Observer, len(cur)+1)
	copy(next, cur)
	next[len(cur)] = o
	l.v.Store(&next)
}

func (l *observerList) Remove(o Observer) {
	cur := l.Snapshot()
	next := make([]Observer, 0, len(cur))
	for _, existing := range cur {
		if existing != o {
			next = append(next, existing)
		}
	}
	l.v.Store(&next)
}

func (l *observerList) Clear() {
	empty := []Observer(nil)
	l.v.Store(&empty)
}
