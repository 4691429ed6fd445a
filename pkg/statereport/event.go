package statereport

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tengyuan2025/xiaozhi-esp32/pkg/jsontime"
)

// Encoding selects the payload format.
type Encoding string

const (
	EncodingMsgpack Encoding = "msgpack"
	EncodingJSON    Encoding = "json"
)

// Event is one state transition as published on the wire.
type Event struct {
	Device string         `json:"device" msgpack:"device"`
	From   string         `json:"from" msgpack:"from"`
	To     string         `json:"to" msgpack:"to"`
	Seq    uint64         `json:"seq" msgpack:"seq"`
	Time   jsontime.Milli `json:"time" msgpack:"time"`
}

// Marshal encodes ev with enc.
func (enc Encoding) Marshal(ev *Event) ([]byte, error) {
	switch enc {
	case EncodingMsgpack, "":
		return msgpack.Marshal(ev)
	case EncodingJSON:
		return json.Marshal(ev)
	default:
		return nil, fmt.Errorf("statereport: unknown encoding %q", enc)
	}
}

// Unmarshal decodes data produced by Marshal.
func (enc Encoding) Unmarshal(data []byte) (*Event, error) {
	var ev Event
	var err error
	switch enc {
	case EncodingMsgpack, "":
		err = msgpack.Unmarshal(data, &ev)
	case EncodingJSON:
		err = json.Unmarshal(data, &ev)
	default:
		return nil, fmt.Errorf("statereport: unknown encoding %q", enc)
	}
	if err != nil {
		return nil, fmt.Errorf("statereport: decode event: %w", err)
	}
	return &ev, nil
}

// ParseEncoding maps a config string to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(s) {
	case "", EncodingMsgpack:
		return EncodingMsgpack, nil
	case EncodingJSON:
		return EncodingJSON, nil
	}
	return "", fmt.Errorf("statereport: unknown encoding %q", s)
}
