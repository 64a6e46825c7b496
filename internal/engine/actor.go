package engine

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/handikong/lobcore/pkg/logger"
	"github.com/handikong/lobcore/pkg/metrics"
	"github.com/handikong/lobcore/pkg/xerr"
)

// ActorConfig bounds one symbol's mailbox depth and per-batch drain size.
// Both need a floor above zero, so NewSymbolActor substitutes defaults for
// non-positive values instead of letting a zero-value config wedge the
// actor's Run loop.
type ActorConfig struct {
	MailboxSize int
	BatchMax    int
}

// walWriter is the subset of *wal.Writer the actor needs to append encoded
// commands durably before applying them to the book.
type walWriter interface {
	Append(payload []byte) error
	Flush() error
	Close() error
	Size() int64
}

// SymbolActor is the single goroutine allowed to touch one symbol's book.
// Every Command reaches the book only through this actor's Run loop, so the
// matching core itself never needs synchronization.
type SymbolActor struct {
	symbol string
	book   OrderBook
	in     chan Command
	cfg    ActorConfig

	seq uint64

	mailboxFull uint64
	eventsDrop  uint64
	wal         walWriter
	outbox      Outbox
	pubNotify   chan struct{} // buffered 1; nudges the publisher after a flush instead of it always polling
	cmdCodec    CmdCodec
	evCodec     EvCodec
	log         *zap.Logger
}

func NewSymbolActor(symbol string, book OrderBook, cfg ActorConfig, wal walWriter,
	ob Outbox,
	pubNotify chan struct{},
	cmdCodec CmdCodec,
	evCodec EvCodec,
) *SymbolActor {
	if cfg.MailboxSize <= 0 {
		cfg.MailboxSize = 4096
	}
	if cfg.BatchMax <= 0 {
		cfg.BatchMax = 258
	}
	if pubNotify == nil {
		pubNotify = make(chan struct{}, 1)
	}

	return &SymbolActor{
		symbol:    symbol,
		book:      book,
		in:        make(chan Command, cfg.MailboxSize),
		cfg:       cfg,
		wal:       wal,
		outbox:    ob,
		pubNotify: pubNotify,
		cmdCodec:  cmdCodec,
		evCodec:   evCodec,
		log:       logger.WithSymbol(symbol),
	}
}

// TryEnqueue never blocks: a full mailbox means the caller backs off (or
// the gateway sheds the request) rather than stalling behind a busy actor.
func (a *SymbolActor) TryEnqueue(cmd Command) error {
	select {
	case a.in <- cmd:
		return nil
	default:
		atomic.AddUint64(&a.mailboxFull, 1)
		metrics.MailboxFullTotal.WithLabelValues(a.symbol).Inc()
		return ErrEngineBusy
	}
}

func (a *SymbolActor) MailboxFull() uint64   { return atomic.LoadUint64(&a.mailboxFull) }
func (a *SymbolActor) EventsDropped() uint64 { return atomic.LoadUint64(&a.eventsDrop) }

func (a *SymbolActor) Run(ctx context.Context) {
	if a.wal != nil {
		defer a.wal.Close()
	}
	if a.outbox != nil {
		defer a.outbox.Close()
	}

	// batch/seqs are reused across iterations: re-slicing to [:0] keeps the
	// backing array instead of allocating a fresh one on every drain.
	batch := make([]Command, 0, a.cfg.BatchMax)
	seqs := make([]uint64, 0, a.cfg.BatchMax) // seqs[i] is the WAL seq assigned to batch[i]
	for {
		var first Command
		// Block for the first command of a batch, then drain whatever else
		// is already queued without blocking — this is what turns a burst
		// of independent TryEnqueue calls into one WAL append + one outbox
		// flush instead of one of each per command.
		select {
		case <-ctx.Done():
			return
		case first = <-a.in:
		}
		batch = batch[:0]
		batch = append(batch, first)
		for len(batch) < a.cfg.BatchMax {
			select {
			case cmd := <-a.in:
				batch = append(batch, cmd)
			default:
				goto PROCESS
			}
		}
	PROCESS:
		seqs = seqs[:0]
		if cap(seqs) < len(batch) {
			seqs = make([]uint64, 0, len(batch))
		}

		// Phase 1: durably append every command in the batch before any of
		// them touches the book. A crash here loses nothing — nothing has
		// been applied yet — so a failed Append can simply abort the actor
		// rather than leave the book and the WAL disagreeing about what
		// happened.
		if a.wal != nil {
			for i := 0; i < len(batch); i++ {
				a.seq++
				cmdSeq := a.seq
				seqs = append(seqs, cmdSeq)
				var rec [cmdRecordLen]byte // stack-allocated: avoid a heap alloc per command
				payload, _ := a.cmdCodec.Encode(rec[:0], cmdSeq, batch[i])
				if err := a.wal.Append(payload); err != nil {
					a.log.Error("cmd wal append failed, stopping actor", zap.Error(err), zap.Uint64("seq", cmdSeq))
					return
				}
			}
			if err := a.wal.Flush(); err != nil {
				a.log.Error("cmd wal flush failed, stopping actor", zap.Error(err))
				return
			}
		} else {
			// WAL disabled: still hand out seqs so event ordering stays
			// consistent with the WAL-enabled path.
			for i := 0; i < len(batch); i++ {
				a.seq++
				seqs = append(seqs, a.seq)
			}
		}

		// Phase 2: apply each command to the book and record its events in
		// the outbox, sealing the command with an EvCmdEnd marker so a
		// crash mid-batch can be told apart from a cleanly committed one.
		for i := 0; i < len(batch); i++ {
			cmd := batch[i]
			seq := seqs[i]
			var emit Emitter
			var obEm *outboxEmitter
			if a.outbox != nil {
				obEm = &outboxEmitter{out: a.outbox, seq: seq, req: cmd.ReqID}
				emit = obEm
			} else {
				emit = noopEmitter{}
			}

			switch cmd.Type {
			case CmdSubmitLimit:
				if code, ok := validateSubmit(cmd); !ok {
					emit.Rejected(cmd.ReqID, cmd.OrderID, cmd.UserID, xerr.NewErrCode(code).Error())
					continue
				}
				a.book.SubmitLimit(cmd.ReqID, cmd.OrderID, cmd.UserID, cmd.Side, cmd.Price, cmd.Qty, emit)
			case CmdCancel:
				if cmd.CancelOrderID == 0 {
					emit.Rejected(cmd.ReqID, 0, 0, xerr.NewErrCode(xerr.BadOrderID).Error())
					continue
				}
				ok := a.book.Cancel(cmd.ReqID, cmd.CancelOrderID, emit)
				if !ok {
					emit.Rejected(cmd.ReqID, cmd.CancelOrderID, 0, xerr.NewErrCode(xerr.OrderNotFound).Error())
				}
			default:
				emit.Rejected(cmd.ReqID, cmd.OrderID, cmd.UserID, xerr.NewErrCode(xerr.UnknownCommand).Error())
			}
			if obEm != nil && obEm.err != nil {
				a.log.Error("outbox append failed, stopping actor", zap.Error(obEm.err), zap.Uint64("seq", seq))
				return
			}
			if a.outbox != nil {
				if err := a.outbox.AppendCmdEnd(seq); err != nil {
					a.log.Error("outbox AppendCmdEnd failed, stopping actor", zap.Error(err), zap.Uint64("seq", seq))
					return
				}
			}
		}
		// Pool accounting and WAL size are reported once per batch commit
		// rather than per command — cheap enough to not need their own
		// cadence.
		if ps, ok := a.book.(PoolStatsProvider); ok {
			stats := ps.PoolStats()
			metrics.PoolLive.WithLabelValues(a.symbol).Set(float64(stats.Live))
			metrics.PoolCapacity.WithLabelValues(a.symbol).Set(float64(stats.Capacity))
		}
		if a.wal != nil {
			metrics.WALBytesWritten.WithLabelValues(a.symbol, "cmd").Set(float64(a.wal.Size()))
		}
		if a.outbox != nil {
			if err := a.outbox.Flush(); err != nil {
				a.log.Error("outbox flush failed, stopping actor", zap.Error(err))
				return
			}
			metrics.WALBytesWritten.WithLabelValues(a.symbol, "ev").Set(float64(a.outbox.Size()))
			select {
			case a.pubNotify <- struct{}{}:
			default:
			}
		}
	}
}

// validateSubmit runs the command-validation boundary the matching core
// itself never performs (matching.Book.Submit only treats Qty<=0 as a
// no-op). Checked in a fixed order so the first violation always wins the
// reported code.
func validateSubmit(cmd Command) (code int, ok bool) {
	if cmd.OrderID == 0 {
		return xerr.BadOrderID, false
	}
	if _, sideOK := ToMatchingSide(cmd.Side); !sideOK {
		return xerr.BadSide, false
	}
	if cmd.Price <= 0 {
		return xerr.BadPrice, false
	}
	if cmd.Qty <= 0 {
		return xerr.BadQty, false
	}
	return 0, true
}

type outboxEmitter struct {
	out Outbox
	seq uint64
	req uint64
	idx uint16
	err error
}

func (e *outboxEmitter) next() uint16 { i := e.idx; e.idx++; return i }
func (e *outboxEmitter) setErr(err error) {
	if e.err == nil && err != nil {
		e.err = err
	}
}

func (e *outboxEmitter) Accepted(reqID uint64, orderID, userID uint64) {
	e.setErr(e.out.Append(Event{
		Type: EvAccepted, Seq: e.seq, Idx: e.next(), ReqID: reqID,
		OrderID: orderID, UserID: userID,
	}))
}
func (e *outboxEmitter) Rejected(reqID uint64, orderID, userID uint64, reason string) {
	e.setErr(e.out.Append(Event{
		Type: EvRejected, Seq: e.seq, Idx: e.next(), ReqID: reqID,
		OrderID: orderID, UserID: userID, Reason: reason,
	}))
}
func (e *outboxEmitter) Added(reqID uint64, orderID, userID uint64) {
	e.setErr(e.out.Append(Event{
		Type: EvAdded, Seq: e.seq, Idx: e.next(), ReqID: reqID,
		OrderID: orderID, UserID: userID,
	}))
}
func (e *outboxEmitter) Cancelled(reqID uint64, orderID uint64) {
	e.setErr(e.out.Append(Event{
		Type: EvCancelled, Seq: e.seq, Idx: e.next(), ReqID: reqID,
		OrderID: orderID,
	}))
}
func (e *outboxEmitter) Trade(reqID uint64, makerOrderID, takerOrderID uint64, price, qty int64) {
	e.setErr(e.out.Append(Event{
		Type: EvTrade, Seq: e.seq, Idx: e.next(), ReqID: reqID,
		MakerOrderID: makerOrderID, TakerOrderID: takerOrderID,
		Price: price, Qty: qty,
	}))
}
