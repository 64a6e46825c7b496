package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/handikong/lobcore/pkg/logger"
	"github.com/handikong/lobcore/pkg/safe"
	"github.com/handikong/lobcore/pkg/wal"
)

// BookFactory builds the order book backing a symbol the first time it's
// referenced by a command.
type BookFactory func(symbol string) (OrderBook, error)

type EngineConfig struct {
	EventBusSize    int           // capacity of the default event bus, if Bus is nil
	ActorCfg        ActorConfig   // batching/mailbox config applied to every actor
	BookFactory     BookFactory   // constructs the per-symbol order book
	WALDir          string        // directory holding cmd.wal/ev.wal/cursor files
	EnableCmdWAL    bool          // persist commands before applying them
	WALBufSize      int           // cmd.wal writer buffer size
	EnableOutbox    bool          // persist events before publishing them
	OutboxBufSize   int           // ev.wal writer buffer size
	EnablePublisher bool          // tail ev.wal and publish onto Bus
	PublisherPoll   time.Duration // publisher poll interval when no notify fires
	CmdCodec        CmdCodec
	EvCodec         EvCodec
	Bus             *ChanBus // event sink for EnablePublisher; defaults to a private bus sized EventBusSize
}

type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.RWMutex
	actors map[string]*SymbolActor // one actor per live symbol
	bus    *ChanBus
	cfg    EngineConfig
}

func NewEngine(cfg EngineConfig) *Engine {
	if cfg.EventBusSize <= 0 {
		cfg.EventBusSize = 1 << 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	bus := cfg.Bus
	if bus == nil {
		bus = NewChanBus(cfg.EventBusSize)
	}
	return &Engine{
		ctx:    ctx,
		cancel: cancel,
		mu:     sync.RWMutex{},
		actors: make(map[string]*SymbolActor, cfg.EventBusSize),
		bus:    bus,
		cfg:    cfg,
	}
}

func (e *Engine) Events() <-chan Event { return e.bus.C() }

func (e *Engine) DroppedEvents() uint64 { return e.bus.Dropped() }

func (e *Engine) getOrCreateActor(symbol string) (*SymbolActor, error) {
	e.mu.RLock()
	a := e.actors[symbol]
	e.mu.RUnlock()
	if a != nil {
		return a, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// double-check
	if a = e.actors[symbol]; a != nil {
		return a, nil
	}
	if e.cfg.BookFactory == nil {
		return nil, ErrUnknownSym
	}
	book, err := e.cfg.BookFactory(symbol)
	if err != nil {
		return nil, err
	}

	if (e.cfg.EnableCmdWAL || e.cfg.EnableOutbox || e.cfg.EnablePublisher) && e.cfg.WALDir == "" {
		return nil, fmt.Errorf("WALDir is empty but persistence is enabled")
	}

	if (e.cfg.EnableCmdWAL || e.cfg.EnableOutbox) && e.cfg.WALDir != "" {
		_ = os.MkdirAll(e.cfg.WALDir, 0o755)
	}
	cmdPath := cmdWalPath(e.cfg.WALDir, symbol)       // <sym>.wal
	evPath := outboxWalPath(e.cfg.WALDir, symbol)     // <sym>.ev.wal
	curPath := outboxCursorPath(e.cfg.WALDir, symbol) // <sym>.ev.cursor
	if e.cfg.EnableOutbox && e.cfg.WALDir != "" {
		// Pre-create ev.wal so ScanAndRepairOutbox always has a file to
		// open, even on a symbol's very first startup.
		if _, err = os.Stat(evPath); os.IsNotExist(err) {
			f, err := os.OpenFile(evPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
			if err == nil {
				_ = f.Close()
			}
			if err != nil && !os.IsExist(err) {
				return nil, err
			}
		}
		_ = os.MkdirAll(filepath.Dir(curPath), 0o755)
	}

	// lastCompleteSeq is the seq of the last command whose events are
	// fully durable in the outbox (sealed by an EvCmdEnd record).
	var lastCompleteSeq uint64
	var outboxWriter Outbox
	pubNotify := make(chan struct{}, 1)

	if e.cfg.EnableOutbox && e.cfg.WALDir != "" {
		lastCompleteSeq, _, err = ScanAndRepairOutbox(evPath, e.cfg.EvCodec)
		if err != nil {
			return nil, err
		}
		outboxWriter, err = OpenEventOutbox(evPath, e.cfg.OutboxBufSize, e.cfg.EvCodec)
		if err != nil {
			return nil, err
		}
	}

	// 4) replay cmd.wal to rebuild the book and backfill any outbox tail
	// that crashed before becoming durable (seq > lastCompleteSeq).
	var lastSeq uint64
	if e.cfg.EnableCmdWAL && e.cfg.WALDir != "" {
		lastSeq, _, err = replayCmdWALAndFillOutbox(symbol, cmdPath, book, outboxWriter, lastCompleteSeq, e.cfg.CmdCodec)
		if err != nil {
			_ = closeIfNotNil(outboxWriter)
			return nil, err
		}
	} else {
		// Without cmd.wal there is nothing to rebuild the book from; the
		// actor starts from an empty book and seq 0.
		lastSeq = 0
	}
	// 5) after replay: flush the outbox once if replay backfilled anything.
	if outboxWriter != nil {
		if err := outboxWriter.Flush(); err != nil {
			_ = closeIfNotNil(outboxWriter)
			return nil, err
		}
	}

	// Once replay has caught the cmd.wal writer up to the book's actual
	// state, reopen it for append so every future command lands after
	// what replay just read.
	var cmdWriter walWriter
	if e.cfg.EnableCmdWAL && e.cfg.WALDir != "" {
		cmdWriter, err = wal.OpenWrite(cmdPath, e.cfg.WALBufSize)
		if err != nil {
			_ = closeIfNotNil(outboxWriter)
			return nil, err
		}
	}
	a = NewSymbolActor(symbol, book, e.cfg.ActorCfg, cmdWriter, outboxWriter, pubNotify, e.cfg.CmdCodec, e.cfg.EvCodec)
	a.seq = lastSeq // keeps seq continuous across restarts
	e.actors[symbol] = a
	// A panicked actor would otherwise strand this symbol's mailbox forever
	// with nothing to drain it, so its Run loop is supervised with a few
	// bounded restarts instead of a bare safe.Go.
	safe.Supervised(e.ctx, "actor:"+symbol, 3, time.Second, a.Run)

	// The publisher tails ev.wal independently of the actor: it publishes
	// each event onto the bus and advances the cursor file on EvCmdEnd.
	if e.cfg.EnablePublisher && outboxWriter != nil {
		pub := NewOutboxPublisher(e.ctx, e.bus, symbol, evPath, curPath, pubNotify, e.cfg.PublisherPoll, e.cfg.EvCodec)
		safe.Go(func() {
			pub.Run()
		})
	}
	return a, nil
}

func (e *Engine) TrySubmit(symbol string, cmd Command) error {
	if cmd.Type != CmdSubmitLimit {
		return ErrBadCommand
	}
	a, err := e.getOrCreateActor(symbol)
	if err != nil {
		return err
	}
	return a.TryEnqueue(cmd)

}
func (e *Engine) TryCancel(symbol string, cmd Command) error {
	if cmd.Type != CmdCancel {
		return ErrBadCommand
	}
	a, err := e.getOrCreateActor(symbol)
	if err != nil {
		return err
	}
	return a.TryEnqueue(cmd)
}

func (e *Engine) Stop() { e.cancel() }

func cmdWalPath(dir, symbol string) string {
	// Anything outside [0-9A-Za-z_-] gets swapped for an underscore so the
	// symbol can never escape dir or collide with a reserved filename.
	s := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_' || r == '-' {
			s = append(s, r)
		} else {
			s = append(s, '_')
		}
	}
	return filepath.Join(dir, string(s)+".wal")
}

// replayCmdWALAndFillOutbox rebuilds a symbol's book from its cmd.wal.
// Commands at or before lastCompleteSeq already have a sealed outbox entry
// (ScanAndRepairOutbox found their EvCmdEnd), so replaying them must not
// re-emit — that would duplicate events a subscriber already saw. Commands
// after lastCompleteSeq crashed before their events became durable, so
// replay backfills the outbox for exactly that tail.
func replayCmdWALAndFillOutbox(symbol, cmdPath string, book OrderBook, outbox Outbox, lastCompleteSeq uint64, code CmdCodec) (lastSeq uint64, stats replayStats, err error) {
	_, err = wal.Replay(cmdPath, wal.ReplayOptions{
		AllowTruncatedTail: true,
	}, func(payload []byte) error {
		seq, cmd, err := code.Decode(payload)
		if err != nil {
			return err
		}
		if seq > lastSeq {
			lastSeq = seq
		}

		if outbox == nil || seq <= lastCompleteSeq {
			applyCommandToBook(book, cmd, countingEmitter{inner: noopEmitter{}, stats: &stats})
			return nil
		}

		em := &outboxEmitter{out: outbox, seq: seq, req: cmd.ReqID}
		applyCommandToBook(book, cmd, countingEmitter{inner: em, stats: &stats})
		if em.err != nil {
			return em.err
		}
		return outbox.AppendCmdEnd(seq)
	})
	if err != nil {
		return 0, stats, err
	}
	logger.WithSymbol(symbol).Info("replay complete",
		zap.Uint64("last_seq", lastSeq),
		zap.Int("accepted", stats.Accepted), zap.Int("rejected", stats.Rejected),
		zap.Int("added", stats.Added), zap.Int("cancelled", stats.Cancelled), zap.Int("trades", stats.Trades),
	)
	return lastSeq, stats, nil
}

func applyCommandToBook(book OrderBook, cmd Command, emit Emitter) {
	switch cmd.Type {
	case CmdSubmitLimit:
		book.SubmitLimit(cmd.ReqID, cmd.OrderID, cmd.UserID, cmd.Side, cmd.Price, cmd.Qty, emit)
	case CmdCancel:
		book.Cancel(cmd.ReqID, cmd.CancelOrderID, emit)
	default:
		// ignore or emit reject
	}
}

func closeIfNotNil(ob Outbox) error {
	if ob == nil {
		return nil
	}
	return ob.Close()
}
