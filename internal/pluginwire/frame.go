package pluginwire

import (
	"bytes"
	"encoding/binary"
)

// FrameHeaderSize is 4 bytes length + 1 byte type, adapted from the
// teacher's frame.go wire header.
const FrameHeaderSize = 4 + 1

const (
	// MsgTypeData carries one ND-JSON-encoded TelemetryFrame.
	MsgTypeData byte = 0x00
	// MsgTypePing is a keep-alive heartbeat.
	MsgTypePing byte = 0x01
	// MsgTypeFin signals a graceful close.
	MsgTypeFin byte = 0x02
)

// Frame is a single plugin-wire message unit.
type Frame struct {
	Payload []byte
	Type    byte
}

// BuildFrame writes a framed message to buf: [4-byte length][1-byte type][payload].
func BuildFrame(buf *bytes.Buffer, f Frame) {
	buf.Grow(FrameHeaderSize + len(f.Payload))
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(f.Payload)))
	buf.Write(lenBuf[:])
	buf.WriteByte(f.Type)
	buf.Write(f.Payload)
}

// ReadFrame attempts to read one framed message from buf without blocking;
// it reports ok=false if a full frame isn't yet buffered.
func ReadFrame(buf *bytes.Buffer) (f Frame, ok bool) {
	if buf.Len() < FrameHeaderSize {
		return Frame{}, false
	}
	header := buf.Bytes()[:FrameHeaderSize]
	length := int(binary.BigEndian.Uint32(header[:4]))
	if buf.Len() < FrameHeaderSize+length {
		return Frame{}, false
	}
	buf.Next(FrameHeaderSize)
	payload := append([]byte(nil), buf.Next(length)...)
	return Frame{Type: header[4], Payload: payload}, true
}
