package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/npezzotti/kite-relay/internal/types"
)

const DefaultHistoryLimit = 20

type HistoryMessage struct {
	MemberId  types.MemberId       `json:"member_id"`
	Payload   types.MessagePayload `json:"payload"`
	Direction types.Direction      `json:"direction"`
}

type Lookup int

const (
	LookupBefore Lookup = iota
	LookupAfter
)

// HistoryQuery selects messages of one member. LookupBefore returns the
// messages older than From, newest first; LookupAfter the messages newer
// than From, oldest first.
type HistoryQuery struct {
	MemberId types.MemberId
	From     time.Time
	Lookup   Lookup
	Limit    int
}

func (q HistoryQuery) limit() int {
	if q.Limit <= 0 {
		return DefaultHistoryLimit
	}
	return q.Limit
}

type IdMapping struct {
	From                types.MemberId   `json:"from"`
	DestinationProvider types.ProviderId `json:"destination_provider"`
	OriginId            string           `json:"origin_id"`
	To                  types.MemberId   `json:"to"`
	DestinationId       string           `json:"destination_id"`
}

const (
	kindText   = "text"
	kindBinary = "binary"
	kindDelete = "delete"
)

// encodePayload serializes a message payload with a kind discriminator so
// it can be stored in a single column.
func encodePayload(p types.MessagePayload) (string, []byte, error) {
	var kind string
	switch p.(type) {
	case types.SendText:
		kind = kindText
	case types.SendBinary:
		kind = kindBinary
	case types.DeleteMessage:
		kind = kindDelete
	default:
		return "", nil, fmt.Errorf("unsupported payload %T", p)
	}

	data, err := json.Marshal(p)
	if err != nil {
		return "", nil, fmt.Errorf("marshal payload: %w", err)
	}
	return kind, data, nil
}

func decodePayload(kind string, data []byte) (types.MessagePayload, error) {
	switch kind {
	case kindText:
		var p types.SendText
		err := json.Unmarshal(data, &p)
		return p, err
	case kindBinary:
		var p types.SendBinary
		err := json.Unmarshal(data, &p)
		return p, err
	case kindDelete:
		var p types.DeleteMessage
		err := json.Unmarshal(data, &p)
		return p, err
	}
	return nil, fmt.Errorf("unsupported payload kind %q", kind)
}

type storedMessage struct {
	MemberId  types.MemberId  `json:"member_id"`
	Direction types.Direction `json:"direction"`
	Kind      string          `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
}

func (m HistoryMessage) MarshalJSON() ([]byte, error) {
	kind, data, err := encodePayload(m.Payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(storedMessage{MemberId: m.MemberId, Direction: m.Direction, Kind: kind, Payload: data})
}

func (m *HistoryMessage) UnmarshalJSON(b []byte) error {
	var s storedMessage
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	p, err := decodePayload(s.Kind, s.Payload)
	if err != nil {
		return err
	}
	*m = HistoryMessage{MemberId: s.MemberId, Payload: p, Direction: s.Direction}
	return nil
}
