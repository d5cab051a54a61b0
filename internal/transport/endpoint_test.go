package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointSerial(t *testing.T) {
	ep, err := ParseEndpoint("serial:///dev/ttyUSB0?baud=115200&databits=8")
	require.NoError(t, err)
	assert.Equal(t, "serial", ep.Scheme)
	assert.Equal(t, "/dev/ttyUSB0", ep.Path)
	assert.Equal(t, 115200, ep.ParamInt("baud", 9600))
}

func TestParseEndpointTCP(t *testing.T) {
	ep, err := ParseEndpoint("tcp://192.168.1.50:23")
	require.NoError(t, err)
	assert.Equal(t, "tcp", ep.Scheme)
	assert.Equal(t, "192.168.1.50:23", ep.Host)
}

func TestParseEndpointUDPMulticast(t *testing.T) {
	ep, err := ParseEndpoint("udp://239.0.0.1:5007?multicast=true")
	require.NoError(t, err)
	assert.True(t, ep.ParamBool("multicast", false))
}

func TestParseEndpointBLEAddress(t *testing.T) {
	ep, err := ParseEndpoint("ble://AA:BB:CC:DD:EE:FF?service=180D&char=2A37")
	require.NoError(t, err)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", ep.Path)
	assert.Equal(t, "2A37", ep.ParamString("char", ""))
}

func TestParseEndpointMissingScheme(t *testing.T) {
	_, err := ParseEndpoint("/dev/ttyUSB0")
	assert.Error(t, err)
}

func TestParamDurationDefault(t *testing.T) {
	ep, err := ParseEndpoint("modbus+tcp://10.0.0.5:502?poll=500ms")
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, ep.ParamDuration("poll", 200*time.Millisecond))
	assert.Equal(t, 200*time.Millisecond, ep.ParamDuration("missing", 200*time.Millisecond))
}
