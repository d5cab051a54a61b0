package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalgrid/tscore/internal/checksum"
)

func TestModbusBuildAndDecodeRTURoundTrip(t *testing.T) {
	d := &modbusDriver{slaveID: 1, function: 0x03, register: 0x0000, count: 2}
	req := d.buildRequest()
	require.Len(t, req, 8) // 6-byte PDU + 2-byte CRC

	// Synthesize a plausible RTU response: slave, function, byte count,
	// 2 registers (4 bytes), CRC.
	payload := []byte{0x00, 0x01, 0x00, 0x02}
	resp := []byte{d.slaveID, d.function, byte(len(payload))}
	resp = append(resp, payload...)
	entry, err := checksum.Lookup("crc-16/modbus")
	require.NoError(t, err)
	resp = append(resp, entry.Compute(resp)...)

	out, ok := d.decodeResponse(resp)
	require.True(t, ok)
	assert.Equal(t, payload, out)
}

func TestModbusDecodeRejectsBadCRC(t *testing.T) {
	d := &modbusDriver{slaveID: 1, function: 0x03}
	resp := []byte{1, 3, 2, 0x00, 0x01, 0xDE, 0xAD}
	_, ok := d.decodeResponse(resp)
	assert.False(t, ok)
}

func TestModbusBuildRequestTCP(t *testing.T) {
	d := &modbusDriver{tcp: true, slaveID: 1, function: 0x04, register: 10, count: 4}
	req := d.buildRequest()
	require.Len(t, req, 12) // 6-byte MBAP header + 6-byte PDU
	assert.Equal(t, byte(0x04), req[7])
}
