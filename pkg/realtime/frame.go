package realtime

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// ================== Frame constants ==================

// MessageType is the high nibble of the second header byte.
type MessageType byte

// Flags is the low nibble of the second header byte.
type Flags byte

// Serialization is the high nibble of the third header byte.
type Serialization byte

// Compression is the low nibble of the third header byte.
type Compression byte

const (
	// Version1 is the only protocol version understood.
	Version1 byte = 0b0001

	MsgFullClient      MessageType = 0b0001
	MsgAudioOnlyClient MessageType = 0b0010
	MsgFullServer      MessageType = 0b1001
	MsgAudioOnlyServer MessageType = 0b1011
	MsgError           MessageType = 0b1111

	FlagNone        Flags = 0b0000
	FlagPosSequence Flags = 0b0001
	FlagNegSequence Flags = 0b0010
	FlagWithEvent   Flags = 0b0100

	SerializationRaw  Serialization = 0b0000
	SerializationJSON Serialization = 0b0001

	CompressionNone Compression = 0b0000
	CompressionGzip Compression = 0b0001
)

// MaxPayloadSize caps a decompressed payload.
const MaxPayloadSize = 8 << 20

var (
	ErrShortFrame     = errors.New("realtime: frame shorter than header")
	ErrBadVersion     = errors.New("realtime: unsupported protocol version")
	ErrBadHeaderSize  = errors.New("realtime: invalid header size")
	ErrTruncated      = errors.New("realtime: truncated frame")
	ErrPayloadOverrun = errors.New("realtime: payload length exceeds frame")
	ErrDecompress     = errors.New("realtime: payload decompression failed")
)

// Frame is one binary message.
//
// Layout:
//
//	byte 0: version(4) | header size in 4-byte words(4)
//	byte 1: message type(4) | flags(4)
//	byte 2: serialization(4) | compression(4)
//	byte 3: reserved
//	[header extension]
//	[sequence, int32 BE]             when flags has a sequence bit
//	[event id, uint32 BE]            when flags has FlagWithEvent
//	[session id, uint32 BE len+data] for session-scoped events
//	[connect id, uint32 BE len+data] for connection-lifecycle server events
//	[error code, uint32 BE]          for MsgError
//	payload length, uint32 BE, then payload
type Frame struct {
	Version       byte
	Extension     []byte // extra header words, len is a multiple of 4
	Type          MessageType
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         EventID
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte // uncompressed
}

// HasSequence reports whether the frame carries a sequence number.
func (f *Frame) HasSequence() bool {
	return f.Flags&(FlagPosSequence|FlagNegSequence) != 0
}

// HasEvent reports whether the frame carries an event id.
func (f *Frame) HasEvent() bool {
	return f.Flags&FlagWithEvent != 0
}

func (f *Frame) hasSessionID() bool {
	return f.HasEvent() && f.Event.IsSessionScoped()
}

func (f *Frame) hasConnectID() bool {
	return f.HasEvent() && f.Event.IsConnectionScoped()
}

// Codec encodes and decodes frames.
type Codec struct {
	// Level is the gzip level used when a frame asks for compression.
	// Zero means gzip.DefaultCompression.
	Level int
}

// Encode serializes f. When f.Compression is CompressionGzip the payload is
// compressed and the length field carries the compressed size.
func (c *Codec) Encode(f *Frame) ([]byte, error) {
	if len(f.Extension)%4 != 0 {
		return nil, fmt.Errorf("%w: extension of %d bytes", ErrBadHeaderSize, len(f.Extension))
	}
	headerWords := 1 + len(f.Extension)/4
	if headerWords > 0x0f {
		return nil, fmt.Errorf("%w: %d words", ErrBadHeaderSize, headerWords)
	}
	version := f.Version
	if version == 0 {
		version = Version1
	}

	payload := f.Payload
	if f.Compression == CompressionGzip && len(payload) > 0 {
		compressed, err := c.compress(payload)
		if err != nil {
			return nil, fmt.Errorf("gzip compress: %w", err)
		}
		payload = compressed
	}

	buf := bytes.NewBuffer(make([]byte, 0, 4+len(f.Extension)+24+len(f.SessionID)+len(payload)))
	buf.WriteByte(version<<4 | byte(headerWords))
	buf.WriteByte(byte(f.Type)<<4 | byte(f.Flags&0x0f))
	buf.WriteByte(byte(f.Serialization)<<4 | byte(f.Compression&0x0f))
	buf.WriteByte(0x00)
	buf.Write(f.Extension)

	var word [4]byte
	putUint32 := func(v uint32) {
		binary.BigEndian.PutUint32(word[:], v)
		buf.Write(word[:])
	}
	if f.HasSequence() {
		putUint32(uint32(f.Sequence))
	}
	if f.HasEvent() {
		putUint32(uint32(f.Event))
	}
	if f.hasSessionID() {
		putUint32(uint32(len(f.SessionID)))
		buf.WriteString(f.SessionID)
	}
	if f.hasConnectID() {
		putUint32(uint32(len(f.ConnectID)))
		buf.WriteString(f.ConnectID)
	}
	if f.Type == MsgError {
		putUint32(f.ErrorCode)
	}
	putUint32(uint32(len(payload)))
	buf.Write(payload)
	return buf.Bytes(), nil
}

// Decode parses one frame. Every length field is checked against the
// remaining bytes before it is used.
func (c *Codec) Decode(data []byte) (*Frame, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrShortFrame, len(data))
	}
	version := data[0] >> 4
	if version != Version1 {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, version)
	}
	headerWords := int(data[0] & 0x0f)
	if headerWords == 0 {
		return nil, fmt.Errorf("%w: 0", ErrBadHeaderSize)
	}
	headerLen := headerWords * 4
	if len(data) < headerLen {
		return nil, fmt.Errorf("%w: header of %d bytes in %d", ErrTruncated, headerLen, len(data))
	}

	f := &Frame{
		Version:       version,
		Type:          MessageType(data[1] >> 4),
		Flags:         Flags(data[1] & 0x0f),
		Serialization: Serialization(data[2] >> 4),
		Compression:   Compression(data[2] & 0x0f),
	}
	if headerLen > 4 {
		f.Extension = bytes.Clone(data[4:headerLen])
	}

	r := reader{buf: data[headerLen:]}
	if f.HasSequence() {
		seq, err := r.uint32("sequence")
		if err != nil {
			return nil, err
		}
		f.Sequence = int32(seq)
	}
	if f.HasEvent() {
		ev, err := r.uint32("event")
		if err != nil {
			return nil, err
		}
		f.Event = EventID(ev)
	}
	if f.hasSessionID() {
		s, err := r.string("session id")
		if err != nil {
			return nil, err
		}
		f.SessionID = s
	}
	if f.hasConnectID() {
		s, err := r.string("connect id")
		if err != nil {
			return nil, err
		}
		f.ConnectID = s
	}
	if f.Type == MsgError {
		code, err := r.uint32("error code")
		if err != nil {
			return nil, err
		}
		f.ErrorCode = code
	}
	size, err := r.uint32("payload size")
	if err != nil {
		return nil, err
	}
	if uint64(size) > uint64(len(r.buf)) {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadOverrun, size, len(r.buf))
	}
	payload := r.buf[:size]

	if f.Compression == CompressionGzip && len(payload) > 0 {
		p, err := decompress(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompress, err)
		}
		f.Payload = p
	} else if len(payload) > 0 {
		f.Payload = bytes.Clone(payload)
	}
	return f, nil
}

type reader struct {
	buf []byte
}

func (r *reader) uint32(field string) (uint32, error) {
	if len(r.buf) < 4 {
		return 0, fmt.Errorf("%w: reading %s", ErrTruncated, field)
	}
	v := binary.BigEndian.Uint32(r.buf)
	r.buf = r.buf[4:]
	return v, nil
}

func (r *reader) string(field string) (string, error) {
	n, err := r.uint32(field + " length")
	if err != nil {
		return "", err
	}
	if uint64(n) > uint64(len(r.buf)) {
		return "", fmt.Errorf("%w: %s of %d bytes", ErrTruncated, field, n)
	}
	s := string(r.buf[:n])
	r.buf = r.buf[n:]
	return s, nil
}

func (c *Codec) compress(data []byte) ([]byte, error) {
	level := c.Level
	if level == 0 {
		level = gzip.DefaultCompression
	}
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	out, err := io.ReadAll(io.LimitReader(r, MaxPayloadSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > MaxPayloadSize {
		return nil, fmt.Errorf("payload exceeds %d bytes", MaxPayloadSize)
	}
	return out, nil
}
