package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRegisteredSchemesIncludesBuiltins(t *testing.T) {
	schemes := RegisteredSchemes()
	assert.Contains(t, schemes, "serial")
	assert.Contains(t, schemes, "tcp")
	assert.Contains(t, schemes, "udp")
	assert.Contains(t, schemes, "ble")
	assert.Contains(t, schemes, "modbus")
}

func TestResolveUnsupportedScheme(t *testing.T) {
	_, err := Resolve("xbee://somewhere")
	assert.ErrorIs(t, err, ErrUnsupportedScheme)
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "open", Open.String())
	assert.Equal(t, "closed", Closed.String())
	assert.Equal(t, "failing", Failing.String())
}
