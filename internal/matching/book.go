package matching

import "errors"

// ErrDuplicateID is returned by Add when the submitted order's id is
// already resting. It is a contract violation, not a benign outcome: the
// operation is refused and the book is left untouched.
var ErrDuplicateID = errors.New("matching: duplicate order id")

// Book is the two-sided price-indexed order book: one unordered
// price -> level map per side, with the best bid (highest) and best ask
// (lowest) cached, plus an id -> resting-node index used by Cancel. The
// maps keep no key order; when the best level empties, the new best is
// found by a linear scan over that side's remaining prices. All resting
// orders are owned by the pool; the maps and index only hold non-owning
// references.
type Book struct {
	pool *nodePool

	bids map[int64]*priceLevel
	asks map[int64]*priceLevel

	index map[uint64]*orderNode

	bestBid int64
	hasBid  bool
	bestAsk int64
	hasAsk  bool
}

// NewBook constructs an empty book backed by a pool that grows in blocks
// of blockSize orderNodes.
func NewBook(blockSize int) *Book {
	return &Book{
		pool:  newNodePool(blockSize),
		bids:  make(map[int64]*priceLevel),
		asks:  make(map[int64]*priceLevel),
		index: make(map[uint64]*orderNode),
	}
}

func (b *Book) sideMap(side Side) map[int64]*priceLevel {
	if side == Buy {
		return b.bids
	}
	return b.asks
}

// Add inserts a new resting order at order.Price on its side. It is not
// checked for crossability here — callers (Submit) are expected to have
// already matched it against the opposite side.
func (b *Book) Add(o Order) error {
	if o.Qty <= 0 {
		return nil // silently a no-op; see SPEC_FULL.md open-question decisions.
	}
	if _, dup := b.index[o.ID]; dup {
		return ErrDuplicateID
	}

	levels := b.sideMap(o.Side)
	lvl, ok := levels[o.Price]
	if !ok {
		lvl = newPriceLevel(o.Price)
		levels[o.Price] = lvl
	}

	node := b.pool.acquire()
	node.Order = o
	lvl.enqueue(node)
	b.index[o.ID] = node

	b.touchBestOnInsert(o.Side, o.Price)
	return nil
}

// Cancel detaches a resting order by id. Returns false if the id is not
// currently resting — a benign, non-error outcome.
func (b *Book) Cancel(id uint64) bool {
	node, ok := b.index[id]
	if !ok {
		return false
	}
	delete(b.index, id)

	levels := b.sideMap(node.Side)
	lvl := levels[node.Price]
	lvl.detach(node)
	if lvl.empty() {
		delete(levels, node.Price)
		b.invalidateBestOnEmpty(node.Side, node.Price)
	}
	b.pool.release(node)
	return true
}

// BestBid returns the highest resting bid price, or 0 if the bid side is
// empty.
func (b *Book) BestBid() int64 {
	if !b.hasBid {
		return 0
	}
	return b.bestBid
}

// BestAsk returns the lowest resting ask price, or 0 if the ask side is
// empty.
func (b *Book) BestAsk() int64 {
	if !b.hasAsk {
		return 0
	}
	return b.bestAsk
}

// InspectLevel returns the aggregate resting quantity at side/price.
func (b *Book) InspectLevel(side Side, price int64) (int64, bool) {
	lvl, ok := b.sideMap(side)[price]
	if !ok {
		return 0, false
	}
	return lvl.totalQty, true
}

// PoolStats exposes the underlying pool's live/capacity accounting.
func (b *Book) PoolStats() PoolStats { return b.pool.Stats() }

func (b *Book) touchBestOnInsert(side Side, price int64) {
	if side == Buy {
		if !b.hasBid || price > b.bestBid {
			b.bestBid, b.hasBid = price, true
		}
		return
	}
	if !b.hasAsk || price < b.bestAsk {
		b.bestAsk, b.hasAsk = price, true
	}
}

// invalidateBestOnEmpty is called once the level at price has just been
// erased. If it was the cached best, recompute by linear scan over the
// remaining keys — cheap in practice since L (distinct active levels) is
// small, and it only runs on a level-emptying event, not per-order.
func (b *Book) invalidateBestOnEmpty(side Side, price int64) {
	if side == Buy {
		if !b.hasBid || price != b.bestBid {
			return
		}
		b.recomputeBestBid()
		return
	}
	if !b.hasAsk || price != b.bestAsk {
		return
	}
	b.recomputeBestAsk()
}

func (b *Book) recomputeBestBid() {
	b.hasBid = false
	for p := range b.bids {
		if !b.hasBid || p > b.bestBid {
			b.bestBid, b.hasBid = p, true
		}
	}
}

func (b *Book) recomputeBestAsk() {
	b.hasAsk = false
	for p := range b.asks {
		if !b.hasAsk || p < b.bestAsk {
			b.bestAsk, b.hasAsk = p, true
		}
	}
}
