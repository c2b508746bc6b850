package orderbook

import "github.com/prometheus/client_golang/prometheus"

// poolMetrics tracks slab-allocator activity for a single order pool,
// generalizing the teacher's hand-rolled OrderBookPoolMetrics atomic
// counters into registered Prometheus series so every book's pool behavior
// is observable the same way across a process running many symbols.
type poolMetrics struct {
	allocations prometheus.Counter
	releases    prometheus.Counter
	growths     prometheus.Counter
	inUse       prometheus.Gauge
	capacity    prometheus.Gauge
}

// newPoolMetrics registers (or, on AlreadyRegisteredError, reuses) the
// counters for one book's order pool, labeled by symbol so per-instrument
// pool pressure is distinguishable in a multi-symbol registry.
func newPoolMetrics(reg prometheus.Registerer, symbol SymbolId) *poolMetrics {
	labels := prometheus.Labels{"symbol": symbolLabel(symbol)}
	m := &poolMetrics{
		allocations: mustRegisterCounter(reg, prometheus.CounterOpts{
			Name: "slick_orderbook_pool_allocations_total",
			Help: "Order records allocated from the per-book slab pool.",
		}, labels),
		releases: mustRegisterCounter(reg, prometheus.CounterOpts{
			Name: "slick_orderbook_pool_releases_total",
			Help: "Order records returned to the per-book slab pool.",
		}, labels),
		growths: mustRegisterCounter(reg, prometheus.CounterOpts{
			Name: "slick_orderbook_pool_growths_total",
			Help: "Number of times the per-book slab pool grew a new block.",
		}, labels),
		inUse: mustRegisterGauge(reg, prometheus.GaugeOpts{
			Name: "slick_orderbook_pool_in_use",
			Help: "Order records currently checked out of the per-book slab pool.",
		}, labels),
		capacity: mustRegisterGauge(reg, prometheus.GaugeOpts{
			Name: "slick_orderbook_pool_capacity",
			Help: "Total capacity of the per-book slab pool across all blocks.",
		}, labels),
	}
	return m
}

func mustRegisterCounter(reg prometheus.Registerer, opts prometheus.CounterOpts, labels prometheus.Labels) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{
		Name:        opts.Name,
		Help:        opts.Help,
		ConstLabels: labels,
	})
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Counter)
		}
	}
	return c
}

func mustRegisterGauge(reg prometheus.Registerer, opts prometheus.GaugeOpts, labels prometheus.Labels) prometheus.Gauge {
	g := prometheus.NewGauge(prometheus.GaugeOpts{
		Name:        opts.Name,
		Help:        opts.Help,
		ConstLabels: labels,
	})
	if err := reg.Register(g); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			return are.ExistingCollector.(prometheus.Gauge)
		}
	}
	return g
}

func symbolLabel(symbol SymbolId) string {
	const hexDigits = "0123456789abcdef"
	buf := make([]byte, 0, 6)
	buf = append(buf, '0', 'x')
	for shift := 12; shift >= 0; shift -= 4 {
		buf = append(buf, hexDigits[(symbol>>shift)&0xf])
	}
	return string(buf)
}
