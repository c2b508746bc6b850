package orderbook

import "go.uber.org/zap"

// orderHandle is a stable reference into an orderPool's slab storage. It
// takes the place of a raw Order pointer: the pool is the single owner of
// every order record, and callers, including the intrusive per-level
// queues in level_l3.go, address orders only by handle. noHandle is the
// sentinel for "no order" (list terminators, unset prev/next).
type orderHandle int32

const noHandle orderHandle = -1

const (
	minPoolBlockSize = 64
	maxPoolBlockSize = 8192
)

// orderRecord is the pooled representation of an L3 resting order plus the
// prev/next handles that splice it into its price level's intrusive list.
// Side and priority are immutable once constructed, per the data model.
type orderRecord struct {
	id        OrderId
	price     Price
	quantity  Quantity
	side      Side
	timestamp Timestamp
	priority  uint64
	prev      orderHandle
	next      orderHandle
	live      bool
}

// orderPool is a slab allocator for orderRecords. Free slots are tracked on
// an intrusive free list threaded through the record's own next field, so
// allocation and release are O(1). Growth allocates a new block sized by
// doubling the previous block up to maxPoolBlockSize, or larger when a
// single reserve asks for more records than that size; it never moves
// existing records, so handles remain stable across growth.
type orderPool struct {
	blocks   [][]orderRecord
	freeHead orderHandle
	capacity int
	inUse    int
	metrics  *poolMetrics
	logger   *zap.Logger
}

func newOrderPool(metrics *poolMetrics, logger *zap.Logger) *orderPool {
	return &orderPool{freeHead: noHandle, metrics: metrics, logger: logger}
}

// reserve grows the pool, if needed, so that at least n records are
// available without a further allocation-time grow.
func (p *orderPool) reserve(n int) {
	if p.capacity-p.inUse >= n {
		return
	}
	p.grow(n - (p.capacity - p.inUse))
}

func (p *orderPool) grow(minCount int) {
	blockSize := minPoolBlockSize
	if len(p.blocks) > 0 {
		blockSize = len(p.blocks[len(p.blocks)-1]) * 2
		if blockSize > maxPoolBlockSize {
			blockSize = maxPoolBlockSize
		}
	}
	if blockSize < minCount {
		blockSize = minCount
	}

	base := p.capacity
	block := make([]orderRecord, blockSize)
	for i := range block {
		if i == blockSize-1 {
			block[i].next = p.freeHead
		} else {
			block[i].next = orderHandle(base + i + 1)
		}
	}
	p.freeHead = orderHandle(base)
	p.blocks = append(p.blocks, block)
	p.capacity += blockSize

	if p.metrics != nil {
		p.metrics.growths.Inc()
		p.metrics.capacity.Set(float64(p.capacity))
	}
	if p.logger != nil {
		p.logger.Debug("orderbook: pool grew",
			zap.Int("block_size", blockSize),
			zap.Int("capacity", p.capacity))
	}
}

// allocate returns a zeroed, live record handle, growing the pool on
// exhaustion of the free list. It never returns noHandle: a host allocator
// failure during grow is treated as fatal per the documented pool
// exhaustion outcome, not as a recoverable condition.
func (p *orderPool) allocate() orderHandle {
	if p.freeHead == noHandle {
		p.grow(1)
	}
	h := p.freeHead
	rec := p.at(h)
	p.freeHead = rec.next
	*rec = orderRecord{live: true}
	p.inUse++
	if p.metrics != nil {
		p.metrics.allocations.Inc()
		p.metrics.inUse.Set(float64(p.inUse))
	}
	return h
}

// release returns a record to the free list. It does not run any
// destructor; callers must have already unlinked the record from any
// intrusive list and index before calling release.
func (p *orderPool) release(h orderHandle) {
	rec := p.at(h)
	rec.live = false
	rec.next = p.freeHead
	rec.prev = noHandle
	p.freeHead = h
	p.inUse--
	if p.metrics != nil {
		p.metrics.releases.Inc()
		p.metrics.inUse.Set(float64(p.inUse))
	}
}

// at dereferences a handle to its backing record. Handles are only ever
// produced by allocate, so the block/offset arithmetic never goes out of
// range for a handle this pool issued.
func (p *orderPool) at(h orderHandle) *orderRecord {
	idx := int(h)
	for _, block := range p.blocks {
		if idx < len(block) {
			return &block[idx]
		}
		idx -= len(block)
	}
	panic("orderbook: invalid order handle")
}
