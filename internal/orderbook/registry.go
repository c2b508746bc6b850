package orderbook

import "sync"

// Book is the minimal surface a Registry needs from a book implementation
// in order to construct and track it. BookL2 and BookL3 both satisfy it.
// The registry builds books through its factory function and never calls
// a book through an interface method in a mutating hot path; per §9,
// dispatch stays monomorphic.
type Book interface {
	Symbol() SymbolId
}

// Symbol returns the book's instrument id.
func (b *BookL2) Symbol() SymbolId { return b.symbol }

// Symbol returns the book's instrument id.
func (b *BookL3) Symbol() SymbolId { return b.symbol }

// Registry maps SymbolId to a per-instrument book of type B. It is
// parameterized by book type via Go generics rather than an interface with
// virtual dispatch, per §9 "Polymorphic over L2/L3 for the registry": a
// Registry[*BookL3] never calls through a vtable to reach BookL3 methods.
//
// The map itself is protected by a shared/exclusive lock; the contract with
// callers is that each Book is single-writer, which the registry does not
// enforce; it only coordinates map-level concurrency (creation, removal,
// lookup).
type Registry[B Book] struct {
	mu      sync.RWMutex
	books   map[SymbolId]B
	factory func(SymbolId) B
}

// NewRegistry constructs an empty registry that builds new books with
// factory on first access to a symbol.
func NewRegistry[B Book](factory func(SymbolId) B) *Registry[B] {
	return &Registry[B]{
		books:   make(map[SymbolId]B),
		factory: factory,
	}
}

// Reserve pre-sizes the registry's map to avoid rehash storms during
// startup population of many symbols, mirroring the original
// OrderBookManager::reserve.
func (r *Registry[B]) Reserve(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	grown := make(map[SymbolId]B, n)
	for k, v := range r.books {
		grown[k] = v
	}
	r.books = grown
}

// GetOrCreate returns the book for symbol, constructing one via the
// registry's factory if this is the first access. It attempts a
// shared-mode lookup first and only upgrades to exclusive mode on a miss,
// re-checking after acquiring the write lock in case another writer raced
// it to the same symbol.
func (r *Registry[B]) GetOrCreate(symbol SymbolId) B {
	r.mu.RLock()
	if b, ok := r.books[symbol]; ok {
		r.mu.RUnlock()
		return b
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.books[symbol]; ok {
		return b
	}
	b := r.factory(symbol)
	r.books[symbol] = b
	return b
}

// Get returns the book for symbol without creating one.
func (r *Registry[B]) Get(symbol SymbolId) (B, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.books[symbol]
	return b, ok
}

// Has reports whether symbol has a registered book.
func (r *Registry[B]) Has(symbol SymbolId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.books[symbol]
	return ok
}

// Remove drops the book for symbol, if present.
func (r *Registry[B]) Remove(symbol SymbolId) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.books[symbol]; !ok {
		return false
	}
	delete(r.books, symbol)
	return true
}

// Symbols returns every registered SymbolId, in no particular order.
func (r *Registry[B]) Symbols() []SymbolId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SymbolId, 0, len(r.books))
	for k := range r.books {
		out = append(out, k)
	}
	return out
}

// Count returns the number of registered books.
func (r *Registry[B]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.books)
}

// Clear removes every registered book.
func (r *Registry[B]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.books = make(map[SymbolId]B)
}
