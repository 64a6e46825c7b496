package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RateLimitBlockTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobcore",
			Name:      "ratelimit_block_total",
			Help:      "Total number of rate limit blocks.",
		},
		[]string{"service", "method", "reason"},
	)

	CBRejectTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobcore",
			Name:      "circuitbreaker_reject_total",
			Help:      "Total number of circuit breaker rejections.",
		},
		[]string{"service", "method", "reason"},
	)

	CBState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lobcore",
			Name:      "circuitbreaker_state",
			Help:      "Circuit breaker state (0/1).",
		},
		[]string{"service", "method", "state"}, // state: closed/open/half_open
	)

	// PoolLive/PoolCapacity expose the per-symbol order-node pool's live
	// allocation count against its current capacity; the pool grows by
	// whole blocks when exhausted, so capacity only ever rises.
	PoolLive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lobcore",
			Name:      "pool_live_allocations",
			Help:      "Live order-node allocations per symbol book.",
		},
		[]string{"symbol"},
	)

	PoolCapacity = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lobcore",
			Name:      "pool_capacity",
			Help:      "Total order-node pool capacity per symbol book.",
		},
		[]string{"symbol"},
	)

	MailboxFullTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobcore",
			Name:      "mailbox_full_total",
			Help:      "Total number of commands rejected due to a full actor mailbox.",
		},
		[]string{"symbol"},
	)

	EventsDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobcore",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped by the event bus, by event type.",
		},
		[]string{"event_type"},
	)

	PanicRecoveredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lobcore",
			Name:      "goroutine_panic_recovered_total",
			Help:      "Total number of panics recovered from a safe.Go/safe.GoCtx-supervised goroutine.",
		},
		[]string{"name"},
	)

	WALBytesWritten = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "lobcore",
			Name:      "wal_bytes_written",
			Help:      "Logical byte offset of a symbol's WAL writer, by log (cmd/ev).",
		},
		[]string{"symbol", "wal"},
	)
)

func MustRegister() {
	prometheus.MustRegister(
		RateLimitBlockTotal, CBRejectTotal, CBState,
		PoolLive, PoolCapacity, MailboxFullTotal, EventsDroppedTotal, WALBytesWritten, PanicRecoveredTotal,
	)
}
