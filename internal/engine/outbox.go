package engine

import (
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/handikong/lobcore/pkg/wal"
)

type Outbox interface {
	Append(ev Event) error
	AppendCmdEnd(seq uint64) error
	Flush() error
	Close() error
	Size() int64
}

type EventOutbox struct {
	path   string
	w      *wal.Writer
	codec  EvCodec
	binBuf []byte
}

func OpenEventOutbox(path string, bufSize int, codec EvCodec) (*EventOutbox, error) {
	wr, err := wal.OpenWrite(path, bufSize)
	if err != nil {
		return nil, err
	}
	// Sized past the fixed prefix so a typical Rejected's xerr message (a
	// short constant string from pkg/xerr.MapErrMsg) fits without growing
	// the buffer on the hot reject path.
	boxBuffer := make([]byte, 0, evRecordLen+64)
	return &EventOutbox{path: path, w: wr, codec: codec, binBuf: boxBuffer}, nil
}

func (o *EventOutbox) Append(ev Event) error {
	// The JSON codec sizes its own buffer; the binary codec reuses binBuf
	// and keeps whatever larger capacity Encode grew it to, so an
	// unusually long Reason doesn't force a fresh allocation on every
	// subsequent Rejected event.
	var dst []byte
	switch o.codec.(type) {
	case JSONEvCodec:
		dst = make([]byte, 0, 256)
	default:
		dst = o.binBuf[:0]
	}

	payload, _ := o.codec.Encode(dst, ev)
	if _, ok := o.codec.(JSONEvCodec); !ok {
		o.binBuf = payload[:0]
	}
	return o.w.Append(payload)
}

func (o *EventOutbox) AppendCmdEnd(seq uint64) error {
	ev := Event{Type: EvCmdEnd, Seq: seq, Idx: 0}
	return o.Append(ev)
}

func (o *EventOutbox) Flush() error { return o.w.Flush() }
func (o *EventOutbox) Close() error { return o.w.Close() }
func (o *EventOutbox) Size() int64  { return o.w.Size() }

func ScanAndRepairOutbox(path string, codec EvCodec) (lastCompleteSeq uint64, lastCompleteOffset int64, err error) {
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		return 0, 0, nil
	}
	r, err := wal.OpenReader(path, 0, wal.ReaderOptions{
		AllowTruncatedTail: true,
	})
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()

	for {
		p, nextOff, e := r.Next()
		if e != nil {
			if errors.Is(e, io.EOF) {
				break
			}
			return 0, 0, e
		}

		ev, err := codec.Decode(p)
		if err != nil {
			return 0, 0, err
		}
		if ev.Type == EvCmdEnd {
			lastCompleteSeq = ev.Seq
			lastCompleteOffset = nextOff
		}
	}

	// A torn tail record from a crash mid-write: cut it before the
	// sealed-boundary truncation below, since it never got a chance to
	// become a complete command.
	if r.TruncatedTail() {
		if err := wal.TruncateTo(path, r.LastGoodOffset()); err != nil {
			return 0, 0, err
		}
	}

	// Events for a command that crashed before its EvCmdEnd landed are not
	// safe to republish (the actor will redo that seq from cmd.wal on
	// restart and emit them again) — drop everything past the last sealed
	// command boundary.
	if st, e := os.Stat(path); e == nil && st.Size() > lastCompleteOffset {
		if err := wal.TruncateTo(path, lastCompleteOffset); err != nil {
			return 0, 0, err
		}
	}

	return lastCompleteSeq, lastCompleteOffset, nil
}

func outboxCursorPath(walDir, symbol string) string {
	return filepath.Join(walDir, safeSym(symbol)+".ev.cursor")
}

func outboxWalPath(walDir, symbol string) string {
	return filepath.Join(walDir, safeSym(symbol)+".ev.wal")
}

// cursor file: 8-byte little-endian byte offset into the symbol's ev.wal.
func loadCursor(path string) int64 {
	b, err := os.ReadFile(path)
	if err != nil || len(b) < 8 {
		return 0
	}
	return int64(binary.LittleEndian.Uint64(b[:8]))
}

func storeCursor(path string, off int64) error {
	_ = os.MkdirAll(filepath.Dir(path), 0o755)

	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(off))

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b[:], 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func safeSym(symbol string) string {
	sb := make([]rune, 0, len(symbol))
	for _, r := range symbol {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') || r == '_' || r == '-' {
			sb = append(sb, r)
		} else {
			sb = append(sb, '_')
		}
	}
	return string(sb)
}
