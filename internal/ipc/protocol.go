// Package ipc replicates session state to local processes over a Unix
// domain socket (TCP on localhost under Windows). It is lower latency than
// the Redis path and needs no broker, but only reaches the same host.
package ipc

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"flood-duel/internal/events"
)

const (
	// DefaultSocketPath is the Unix socket path for IPC
	DefaultSocketPath = "/tmp/flood-duel.sock"

	// DefaultTCPPort is used instead of a socket on Windows
	DefaultTCPPort = "127.0.0.1:9736"

	// Message types
	MsgTypeState byte = 0x01
	MsgTypePing  byte = 0x02
	MsgTypePong  byte = 0x03
	MsgTypeHello byte = 0x04
	MsgTypeEvent byte = 0x05

	// Protocol version for compatibility checking
	ProtocolVersion uint16 = 1

	// Connection settings
	MaxMessageSize = 1024 * 1024 // 1MB max message
	WriteTimeout   = 50 * time.Millisecond
	PingInterval   = time.Second
	ReadTimeout    = 3 * PingInterval // Silence this long means the peer is gone
	ReconnectDelay = 500 * time.Millisecond
)

var (
	ErrVersionMismatch = errors.New("ipc protocol version mismatch")
	ErrMessageTooLarge = errors.New("ipc message too large")
)

func init() {
	// Event payloads travel as interface values, so gob needs their types.
	gob.Register(events.PhaseChanged{})
	gob.Register(events.WaterRisen{})
	gob.Register(events.WaterAlert{})
	gob.Register(events.DikeChanged{})
	gob.Register(events.PlayerChanged{})
	gob.Register(events.Outcome{})
	gob.Register(events.Overtime{})
	gob.Register(events.CommandRejected{})
}

// Hello is sent to every client right after it connects.
type Hello struct {
	SessionID string
	TickRate  int
	Materials []string
}

// Header is the message header for framing
type Header struct {
	Version  uint16
	Type     byte
	Reserved byte
	Length   uint32
}

const HeaderSize = 8 // 2 + 1 + 1 + 4

var bufferPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Encode gob-encodes v into a framed message.
func Encode(msgType byte, v any) ([]byte, error) {
	body := bufferPool.Get().(*bytes.Buffer)
	body.Reset()
	defer bufferPool.Put(body)

	if v != nil {
		if err := gob.NewEncoder(body).Encode(v); err != nil {
			return nil, fmt.Errorf("gob encode: %w", err)
		}
	}
	if body.Len() > MaxMessageSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, body.Len(), MaxMessageSize)
	}

	frame := make([]byte, HeaderSize+body.Len())
	binary.LittleEndian.PutUint16(frame[0:2], ProtocolVersion)
	frame[2] = msgType
	binary.LittleEndian.PutUint32(frame[4:8], uint32(body.Len()))
	copy(frame[HeaderSize:], body.Bytes())
	return frame, nil
}

// WriteMessage writes a framed message to w.
func WriteMessage(w io.Writer, msgType byte, v any) error {
	frame, err := Encode(msgType, v)
	if err != nil {
		return err
	}
	if _, err := w.Write(frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return 0, nil, fmt.Errorf("read header: %w", err)
	}

	header := Header{
		Version:  binary.LittleEndian.Uint16(headerBuf[0:2]),
		Type:     headerBuf[2],
		Reserved: headerBuf[3],
		Length:   binary.LittleEndian.Uint32(headerBuf[4:8]),
	}

	if header.Version != ProtocolVersion {
		return 0, nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, header.Version, ProtocolVersion)
	}
	if header.Length > MaxMessageSize {
		return 0, nil, fmt.Errorf("%w: %d > %d", ErrMessageTooLarge, header.Length, MaxMessageSize)
	}

	var body []byte
	if header.Length > 0 {
		body = make([]byte, header.Length)
		if _, err := io.ReadFull(r, body); err != nil {
			return 0, nil, fmt.Errorf("read body: %w", err)
		}
	}
	return header.Type, body, nil
}

// Decode gob-decodes a message body into v.
func Decode(data []byte, v any) error {
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(v); err != nil {
		return fmt.Errorf("gob decode: %w", err)
	}
	return nil
}

// CleanupSocket removes the socket file if it exists
func CleanupSocket(path string) error {
	if _, err := os.Stat(path); err == nil {
		return os.Remove(path)
	}
	return nil
}
