package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrInvalidMessage is returned for messages missing required fields.
var ErrInvalidMessage = errors.New("protocol: invalid message")

// MessageType is the discriminator of a downstream control message.
type MessageType string

const (
	TypeTTS    MessageType = "tts"
	TypeSTT    MessageType = "stt"
	TypeLLM    MessageType = "llm"
	TypeMCP    MessageType = "mcp"
	TypeSystem MessageType = "system"
	TypeAlert  MessageType = "alert"
	TypeCustom MessageType = "custom"
)

// TTSState is the state carried by a tts message.
type TTSState string

const (
	TTSStart         TTSState = "start"
	TTSStop          TTSState = "stop"
	TTSSentenceStart TTSState = "sentence_start"
)

// Message is a structured downstream control message, encoded as a JSON
// object with a "type" field.
type Message struct {
	Type      MessageType     `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	State     TTSState        `json:"state,omitempty"`
	Text      string          `json:"text,omitempty"`
	Emotion   string          `json:"emotion,omitempty"`
	Command   string          `json:"command,omitempty"`
	Status    string          `json:"status,omitempty"`
	Message   string          `json:"message,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// ParseMessage decodes and validates a control message.
func ParseMessage(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("protocol: decode message: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields each message type requires. Unknown types are
// accepted; consumers decide whether to ignore them.
func (m *Message) Validate() error {
	switch m.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrInvalidMessage)
	case TypeTTS:
		switch m.State {
		case TTSStart, TTSStop, TTSSentenceStart:
		default:
			return fmt.Errorf("%w: tts state %q", ErrInvalidMessage, m.State)
		}
	case TypeSTT:
		if m.Text == "" {
			return fmt.Errorf("%w: stt without text", ErrInvalidMessage)
		}
	case TypeLLM:
		if m.Emotion == "" && m.Text == "" {
			return fmt.Errorf("%w: llm without emotion or text", ErrInvalidMessage)
		}
	case TypeMCP, TypeCustom:
		if !isObject(m.Payload) {
			return fmt.Errorf("%w: %s payload must be an object", ErrInvalidMessage, m.Type)
		}
	case TypeSystem:
		if m.Command == "" {
			return fmt.Errorf("%w: system without command", ErrInvalidMessage)
		}
	case TypeAlert:
		if m.Status == "" || m.Message == "" || m.Emotion == "" {
			return fmt.Errorf("%w: alert requires status, message and emotion", ErrInvalidMessage)
		}
	}
	return nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}

// TTSMessage builds a tts message.
func TTSMessage(state TTSState, text string) *Message {
	return &Message{Type: TypeTTS, State: state, Text: text}
}

// STTMessage builds an stt message carrying recognized user text.
func STTMessage(text string) *Message {
	return &Message{Type: TypeSTT, Text: text}
}
