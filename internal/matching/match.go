package matching

// Submit is the matching-engine facade (spec §4.6): it runs the match
// loop against the opposite side, emits trades through onTrade, and posts
// whatever remains of the taker as a new resting order. The taker never
// becomes a maker if it fills completely.
//
// Execution price is always the maker's resting price; the taker's price
// only decides crossability. Priority is strictly best-price-first, then
// FIFO within a level.
func (b *Book) Submit(taker *Order, onTrade func(Trade)) error {
	if taker.Qty <= 0 {
		return nil
	}
	// Reject a clashing id before touching the book at all: discovering the
	// clash only at the final Add would mean the match loop has already run
	// and onTrade already fired for makers consumed against a taker that is
	// about to be refused, breaking mass conservation for the request.
	if _, dup := b.index[taker.ID]; dup {
		return ErrDuplicateID
	}

	for taker.Qty > 0 {
		lvl, ok := b.bestOpposite(taker.Side)
		if !ok {
			break
		}
		if !crosses(taker.Side, taker.Price, lvl.price) {
			break
		}
		b.walkLevel(taker, lvl, onTrade)

		if lvl.empty() {
			levels := b.sideMap(opposite(taker.Side))
			delete(levels, lvl.price)
			b.invalidateBestOnEmpty(opposite(taker.Side), lvl.price)
		}
	}

	if taker.Qty > 0 {
		return b.Add(*taker)
	}
	return nil
}

// walkLevel drains lvl from the head while the taker still wants quantity,
// emitting one trade per maker touched.
func (b *Book) walkLevel(taker *Order, lvl *priceLevel, onTrade func(Trade)) {
	for taker.Qty > 0 {
		maker := lvl.head()
		if maker == nil {
			return
		}
		fill := taker.Qty
		if maker.Qty < fill {
			fill = maker.Qty
		}

		if onTrade != nil {
			onTrade(Trade{
				TakerID: taker.ID,
				MakerID: maker.ID,
				Price:   lvl.price,
				Qty:     fill,
			})
		}

		taker.Qty -= fill
		maker.Qty -= fill
		lvl.totalQty -= fill

		if maker.Qty == 0 {
			lvl.orders.popHead()
			delete(b.index, maker.ID)
			b.pool.release(maker)
		}
	}
}

func crosses(takerSide Side, takerPrice, levelPrice int64) bool {
	if takerSide == Buy {
		return takerPrice >= levelPrice
	}
	return takerPrice <= levelPrice
}

func opposite(s Side) Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

// bestOpposite returns the best resting level on the side opposite takerSide.
func (b *Book) bestOpposite(takerSide Side) (*priceLevel, bool) {
	if takerSide == Buy {
		if !b.hasAsk {
			return nil, false
		}
		return b.asks[b.bestAsk], true
	}
	if !b.hasBid {
		return nil, false
	}
	return b.bids[b.bestBid], true
}
