package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"testing"
)

func TestWriteReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	req := Request{Seq: 7, Method: "heartbeat", From: "10.0.0.1:9000", Clock: 3}
	if err := WriteFrame(&buf, req); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	var got Request
	if err := ReadFrame(bufio.NewReader(&buf), &got); err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if got.Seq != req.Seq || got.Method != req.Method || got.From != req.From || got.Clock != req.Clock {
		t.Errorf("ReadFrame() = %+v, want %+v", got, req)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], MaxFrameSize+1)
	buf.Write(hdr[:])

	var got Request
	if err := ReadFrame(bufio.NewReader(&buf), &got); err == nil {
		t.Error("ReadFrame with oversized length header succeeded, want error")
	}
}

func TestEncodeDecodePayload(t *testing.T) {
	type payload struct {
		Resource string `json:"resource"`
	}
	raw := EncodePayload(payload{Resource: "printer"})

	var got payload
	if err := DecodePayload(raw, &got); err != nil {
		t.Fatalf("DecodePayload failed: %v", err)
	}
	if got.Resource != "printer" {
		t.Errorf("Resource = %q, want %q", got.Resource, "printer")
	}
}

func TestDecodePayloadEmptyIsNoOp(t *testing.T) {
	type payload struct{ Resource string }
	var got payload
	if err := DecodePayload(nil, &got); err != nil {
		t.Errorf("DecodePayload(nil, ...) = %v, want nil", err)
	}
}
