package engine

// noopEmitter rebuilds book state during replay of the already-sealed
// portion of cmd.wal (seq <= lastCompleteSeq) without re-emitting events:
// those events are already durable in the outbox, so replaying them again
// would duplicate what a subscriber has already seen.
type noopEmitter struct{}

func (noopEmitter) Accepted(reqID uint64, orderID, userID uint64)                           {}
func (noopEmitter) Rejected(reqID uint64, orderID, userID uint64, reason string)            {}
func (noopEmitter) Added(reqID uint64, orderID, userID uint64)                              {}
func (noopEmitter) Cancelled(reqID uint64, orderID uint64)                                  {}
func (noopEmitter) Trade(reqID uint64, makerOrderID, takerOrderID uint64, price, qty int64) {}

// replayStats counts how many times each Emitter method fired during one
// replay pass. applyCommandToBook is given a *replayStats-wrapped emitter
// (see countingEmitter) so engine.go can log a single recovery summary
// line instead of one line per replayed command.
type replayStats struct {
	Accepted, Rejected, Added, Cancelled, Trades int
}

// countingEmitter tallies into a replayStats and forwards to an inner
// Emitter — noopEmitter during the no-op portion of replay, an
// *outboxEmitter while backfilling the outbox's missing tail.
type countingEmitter struct {
	inner Emitter
	stats *replayStats
}

func (c countingEmitter) Accepted(reqID uint64, orderID, userID uint64) {
	c.stats.Accepted++
	c.inner.Accepted(reqID, orderID, userID)
}
func (c countingEmitter) Rejected(reqID uint64, orderID, userID uint64, reason string) {
	c.stats.Rejected++
	c.inner.Rejected(reqID, orderID, userID, reason)
}
func (c countingEmitter) Added(reqID uint64, orderID, userID uint64) {
	c.stats.Added++
	c.inner.Added(reqID, orderID, userID)
}
func (c countingEmitter) Cancelled(reqID uint64, orderID uint64) {
	c.stats.Cancelled++
	c.inner.Cancelled(reqID, orderID)
}
func (c countingEmitter) Trade(reqID uint64, makerOrderID, takerOrderID uint64, price, qty int64) {
	c.stats.Trades++
	c.inner.Trade(reqID, makerOrderID, takerOrderID, price, qty)
}
