package engine

import (
	"encoding/json"
	"errors"
)

// JSONCmdCodec/JSONEvCodec trade the binary codecs' density for human-
// readable WAL records — meant for local debugging and the dump tooling in
// wal_dump_test.go, not the hot path cmd/lob-engine runs with by default.
// Both still carry the same version byte the binary codecs do, and reject a
// mismatch rather than silently decode a record written by an incompatible
// build.
var (
	ErrBadJSONCmdVersion = errors.New("json cmd wal: version mismatch")
	ErrBadJSONEvVersion  = errors.New("json outbox: version mismatch")
)

type cmdJSON struct {
	V   uint8   `json:"v"`
	Seq uint64  `json:"seq"`
	Cmd Command `json:"cmd"`
}

type JSONCmdCodec struct{ Version uint8 }

func (c JSONCmdCodec) Encode(dst []byte, seq uint64, cmd Command) ([]byte, error) {
	rec := cmdJSON{V: c.Version, Seq: seq, Cmd: cmd}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}
func (c JSONCmdCodec) Decode(payload []byte) (uint64, Command, error) {
	var rec cmdJSON
	if err := json.Unmarshal(payload, &rec); err != nil {
		return 0, Command{}, err
	}
	if rec.V != c.Version {
		return 0, Command{}, ErrBadJSONCmdVersion
	}
	return rec.Seq, rec.Cmd, nil
}

type evJSON struct {
	V  uint8 `json:"v"`
	Ev Event `json:"ev"`
}

type JSONEvCodec struct{ Version uint8 }

func (c JSONEvCodec) Encode(dst []byte, ev Event) ([]byte, error) {
	rec := evJSON{V: c.Version, Ev: ev}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(dst, b...), nil
}
func (c JSONEvCodec) Decode(payload []byte) (Event, error) {
	var rec evJSON
	if err := json.Unmarshal(payload, &rec); err != nil {
		return Event{}, err
	}
	if rec.V != c.Version {
		return Event{}, ErrBadJSONEvVersion
	}
	return rec.Ev, nil
}
