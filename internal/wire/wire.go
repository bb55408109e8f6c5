// Package wire implements the length-prefixed JSON framing used by the
// RPC plane between ringcmh nodes: a 4-byte big-endian length header
// followed by that many bytes of JSON.
package wire

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
)

// MaxFrameSize bounds a single frame to guard against a misbehaving or
// malicious peer forcing an unbounded allocation.
const MaxFrameSize = 16 << 20 // 16MiB

// Request is an RPC invocation envelope. Seq correlates a Response sent
// back over the same connection, allowing a single TCP connection to
// carry multiple concurrent in-flight calls.
type Request struct {
	Seq     uint64          `json:"seq"`
	Method  string          `json:"method"`
	From    string          `json:"from"`
	Clock   uint64          `json:"clock"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Response is the reply envelope for a Request with the same Seq.
type Response struct {
	Seq     uint64          `json:"seq"`
	Clock   uint64          `json:"clock"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// WriteFrame marshals v to JSON and writes it length-prefixed to w.
func WriteFrame(w io.Writer, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wire: marshal: %w", err)
	}
	if len(body) > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", len(body))
	}
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("wire: write header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("wire: write body: %w", err)
	}
	return nil
}

// ReadFrame reads one length-prefixed JSON frame from r and unmarshals
// it into v.
func ReadFrame(r *bufio.Reader, v any) error {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxFrameSize {
		return fmt.Errorf("wire: frame too large: %d bytes", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return fmt.Errorf("wire: read body: %w", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("wire: unmarshal: %w", err)
	}
	return nil
}

// EncodePayload marshals a typed payload for embedding into a Request
// or Response.
func EncodePayload(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		// Payload types are always simple internal structs; a marshal
		// failure here indicates a programming error, not peer input.
		panic(fmt.Sprintf("wire: encode payload: %v", err))
	}
	return b
}

// DecodePayload unmarshals a Request/Response payload into v.
func DecodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
