package engine

import (
	"errors"

	"github.com/handikong/lobcore/internal/matching"
)

// CmdType distinguishes the two requests a SymbolActor accepts. Both are
// fire-and-forget: the caller never blocks on the match result, it only
// gets TryEnqueue's accept/reject and later reads the resulting Event off
// the bus.
type CmdType uint8

const (
	CmdSubmitLimit CmdType = iota + 1
	CmdCancel
)

// Side mirrors matching.Side on the wire. Command.Side stays a raw uint8
// (not matching.Side) because it round-trips through the binary cmd log and
// JSON transfer codecs verbatim — ToMatchingSide is the one place it gets
// interpreted as a domain value.
const (
	Buy uint8 = uint8(matching.Buy)
	Sell uint8 = uint8(matching.Sell)
)

// ToMatchingSide converts a wire-format side byte into matching.Side,
// reporting false if it is neither Buy nor Sell.
func ToMatchingSide(side uint8) (matching.Side, bool) {
	s := matching.Side(side)
	return s, s == matching.Buy || s == matching.Sell
}

// Command is a single request destined for one symbol's actor. Queuing a
// Command never blocks the caller and never returns the match result
// directly — outcomes only ever surface as Events.
type Command struct {
	Type     CmdType `json:"type"`
	ReqID    uint64  `json:"req_id"`    // caller-chosen correlation id, echoed on every resulting Event
	ClientTs int64   `json:"client_ts"` // caller's wall-clock send time, carried through for audit/replay only

	// SubmitLimit fields. OrderID is caller-assigned rather than engine-
	// generated so a client can reference it in a later Cancel before any
	// Event confirming acceptance has come back.
	OrderID       uint64 `json:"order_id"`
	UserID        uint64 `json:"user_id"`
	Side          uint8  `json:"side"`
	Price         int64  `json:"price"`
	Qty           int64  `json:"qty"`
	CancelOrderID uint64 `json:"cancel_order_id,omitempty"` // only meaningful when Type == CmdCancel
}

type EventType uint8

const (
	EvAccepted  EventType = iota + 1 // command passed validation and reached the book
	EvRejected                       // command failed validation or the book refused it
	EvAdded                          // a SubmitLimit's residual now rests on the book
	EvCancelled                      // a Cancel removed a resting order
	EvTrade                          // a SubmitLimit crossed and produced an execution
)

// Event is the only channel through which a Command's outcome is observed.
// One Command can produce several Events (Accepted, zero or more Trades,
// then Added or nothing if it filled completely) — Idx orders them within
// the same Seq.
type Event struct {
	Type EventType `json:"type"`

	// Seq is this symbol's actor-local monotonic command counter; Idx
	// disambiguates multiple events raised by the same Seq. Together they
	// give every event a stable position for replay and audit.
	Seq   uint64 `json:"seq"`
	ReqID uint64 `json:"req_id"`
	Idx   uint16 `json:"idx"`

	OrderID uint64 `json:"order_id"`
	UserID  uint64 `json:"user_id,omitempty"`

	// Trade-only fields: MakerOrderID/TakerOrderID identify the two sides
	// of the execution, Price is always the maker's resting price.
	MakerOrderID uint64 `json:"maker_order_id,omitempty"`
	TakerOrderID uint64 `json:"taker_order_id,omitempty"`
	Price        int64  `json:"price,omitempty"`
	Qty          int64  `json:"qty,omitempty"`

	// Reason carries a pkg/xerr-coded message on EvRejected; empty otherwise.
	Reason string `json:"reason,omitempty"`
}

var (
	ErrEngineBusy = errors.New("engine busy: mailbox full")
	ErrUnknownSym = errors.New("unknown symbol")
	ErrBadCommand = errors.New("bad command")
)
