package engine

import (
	"sync/atomic"

	"github.com/handikong/lobcore/pkg/metrics"
)

// ChanBus fans the engine's outbound events out to whatever is consuming
// them (publisher readers, a demo log sink); one bus per Engine, shared
// across every symbol's actor.
type ChanBus struct {
	ch      chan Event
	dropped uint64
}

func NewChanBus(size int) *ChanBus {
	if size <= 0 {
		size = 1 << 16
	}
	return &ChanBus{ch: make(chan Event, size)}
}

// TryPublish never blocks: a subscriber that falls behind loses events
// rather than stalling the outbox publisher's cursor advance, which would
// otherwise leave already-durable events stuck unread indefinitely.
func (b *ChanBus) TryPublish(ev Event) bool {
	select {
	case b.ch <- ev:
		return true
	default:
		atomic.AddUint64(&b.dropped, 1)
		metrics.EventsDroppedTotal.WithLabelValues(eventTypeLabel(ev.Type)).Inc()
		return false
	}
}

// eventTypeLabel gives the dropped-events counter a label that tells an
// operator what kind of event is being lost (a dropped Trade is a market-
// data gap; a dropped Rejected is comparatively harmless).
func eventTypeLabel(t EventType) string {
	switch t {
	case EvAccepted:
		return "accepted"
	case EvRejected:
		return "rejected"
	case EvAdded:
		return "added"
	case EvCancelled:
		return "cancelled"
	case EvTrade:
		return "trade"
	case EvCmdEnd:
		return "cmd_end"
	default:
		return "unknown"
	}
}

func (b *ChanBus) C() <-chan Event { return b.ch }
func (b *ChanBus) Dropped() uint64 { return atomic.LoadUint64(&b.dropped) }
