package engine

import (
	"errors"

	"github.com/handikong/lobcore/internal/matching"
	"github.com/handikong/lobcore/pkg/xerr"
)

// BookAdapter adapts a matching.Book to the engine's OrderBook interface,
// translating matching.Trade callbacks into Emitter.Trade calls and
// matching.ErrDuplicateID into a Rejected event instead of a panic.
type BookAdapter struct {
	B *matching.Book
}

func NewBookAdapter(b *matching.Book) *BookAdapter {
	return &BookAdapter{B: b}
}

func (a *BookAdapter) SubmitLimit(reqID, orderID, userID uint64, side uint8, price, qty int64, emit Emitter) {
	emit.Accepted(reqID, orderID, userID)

	taker := &matching.Order{ID: orderID, UserID: userID, Side: matching.Side(side), Price: price, Qty: qty}

	err := a.B.Submit(taker, func(t matching.Trade) {
		emit.Trade(reqID, t.MakerID, t.TakerID, t.Price, t.Qty)
	})
	if err != nil {
		emit.Rejected(reqID, orderID, userID, adaptBookErr(err))
		return
	}
	if taker.Qty == 0 {
		return
	}
	// Submit already posted the residual; tell the caller it now rests.
	emit.Added(reqID, orderID, userID)
}

// PoolStats passes through the underlying node-pool accounting so the host
// engine can export it without reaching into the matching package itself.
func (a *BookAdapter) PoolStats() matching.PoolStats { return a.B.PoolStats() }

// Cancel uses the book's O(1) id index to detach a resting order.
func (a *BookAdapter) Cancel(reqID, orderID uint64, emit Emitter) bool {
	ok := a.B.Cancel(orderID)
	if ok {
		emit.Cancelled(reqID, orderID)
	} else {
		emit.Rejected(reqID, orderID, 0, xerr.NewErrCode(xerr.OrderNotFound).Error())
	}
	return ok
}

// adaptBookErr maps a matching.Book error into an xerr-coded message; any
// error the core does not name explicitly falls back to a generic code
// rather than leaking the core's own error text across the Emitter boundary.
func adaptBookErr(err error) string {
	if errors.Is(err, matching.ErrDuplicateID) {
		return xerr.NewErrCode(xerr.DuplicateOrderID).Error()
	}
	return xerr.New(xerr.UnknownCommand, err.Error()).Error()
}
