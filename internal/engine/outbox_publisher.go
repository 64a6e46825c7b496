package engine

import (
	"context"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/handikong/lobcore/pkg/logger"
	"github.com/handikong/lobcore/pkg/wal"
)

// OutboxPublisher tails one symbol's durable ev.wal and republishes its
// events onto the shared ChanBus. It runs outside the matching goroutine,
// so a slow or absent subscriber never backs up a SymbolActor — it only
// ever costs this publisher's own cursor some lag.
type OutboxPublisher struct {
	ctx        context.Context
	bus        *ChanBus
	evPath     string
	cursorPath string
	notify     <-chan struct{}
	evCodec    EvCodec
	poll       time.Duration
	log        *zap.Logger
}

func NewOutboxPublisher(ctx context.Context, bus *ChanBus, symbol, evPath, cursorPath string, notify <-chan struct{}, poll time.Duration, evcode EvCodec) *OutboxPublisher {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &OutboxPublisher{
		ctx: ctx, bus: bus,
		evPath:     evPath,
		cursorPath: cursorPath,
		notify:     notify,
		poll:       poll,
		evCodec:    evcode,
		log:        logger.WithSymbol(symbol),
	}
}

func (p *OutboxPublisher) Run() {
	committedOff := loadCursor(p.cursorPath)
	off := committedOff
	// A cursor can point past the file end after a repair/truncate; clamp
	// it back rather than let OpenReader fail forever.
	if st, err := os.Stat(p.evPath); err == nil && off > st.Size() {
		off = st.Size()
		committedOff = off
		if err = storeCursor(p.cursorPath, off); err != nil {
			return
		}
	}
	open := func() (*wal.Reader, error) {
		return wal.OpenReader(p.evPath, off, wal.ReaderOptions{AllowTruncatedTail: true})
	}

	r, err := open()
	if err != nil {
		for err != nil && os.IsNotExist(err) {
			p.wait()
			if p.ctx.Err() != nil {
				return
			}
			r, err = open()
		}
		if err != nil {
			return
		}
	}
	defer func() { _ = r.Close() }()

	// reopen replaces the closed reader with a fresh one positioned at off,
	// so records appended after an EOF (or after a rewind) are read again.
	reopen := func() bool {
		nr, err := open()
		if err != nil {
			return false
		}
		r = nr
		return true
	}

	for {
		select {
		case <-p.ctx.Done():
			return
		default:
		}
		payload, nextOff, err := r.Next()
		if err != nil {
			_ = r.Close()
			if err == io.EOF {
				p.wait()
				if !reopen() {
					return
				}
				continue
			}
			off = committedOff
			p.wait()
			if !reopen() {
				return
			}
			continue
		}

		ev, err := p.evCodec.Decode(payload)
		if err != nil {
			off = committedOff
			_ = r.Close()
			p.wait()
			if !reopen() {
				return
			}
			continue
		}

		// EvCmdEnd is never published — it only seals the previous command's
		// event set — but the cursor still advances past it, since whatever
		// came before is now known complete.
		if ev.Type == EvCmdEnd {
			off = nextOff
			committedOff = off
			_ = storeCursor(p.cursorPath, off)
			continue
		}

		// Best-effort: TryPublish never blocks, so a subscriber that falls
		// behind or disconnects only costs itself the dropped event — it
		// cannot stall this cursor's advance and delay the next repair scan.
		if !p.bus.TryPublish(ev) {
			p.log.Warn("dropped event on full bus", zap.Uint8("type", uint8(ev.Type)), zap.Uint64("seq", ev.Seq))
		}
		off = nextOff
	}
}

func (p *OutboxPublisher) wait() {
	select {
	case <-p.ctx.Done():
		return
	case <-p.notify:
		return
	case <-time.After(p.poll):
		return
	}
}
