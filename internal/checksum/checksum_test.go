package checksum

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCaseInsensitive(t *testing.T) {
	e, err := Lookup("Crc-16/CCITT-False")
	require.NoError(t, err)
	assert.Equal(t, 2, e.DigestLen)
}

func TestLookupUnknown(t *testing.T) {
	_, err := Lookup("not-a-real-checksum")
	assert.ErrorIs(t, err, ErrUnknownChecksum)
}

func TestNoneHasZeroLength(t *testing.T) {
	e, err := Lookup("")
	require.NoError(t, err)
	assert.Equal(t, 0, e.DigestLen)
	assert.Empty(t, e.Compute([]byte("anything")))
}

// TestReferenceVectors checks the CRC-16/CCITT-FALSE, CRC-16/MODBUS and
// CRC-32 entries against the standard "123456789" reference vectors, as §8
// requires. Digests are compared as the bytes Compute returns: CRC-16/MODBUS
// (check value 0x4B37) comes out low byte first.
func TestReferenceVectors(t *testing.T) {
	input := []byte("123456789")
	cases := []struct {
		name string
		want string
	}{
		{"crc-16/ccitt-false", "29b1"},
		{"crc-16/modbus", "374b"},
		{"crc-32", "cbf43926"},
	}
	for _, tc := range cases {
		e, err := Lookup(tc.name)
		require.NoError(t, err)
		got := hex.EncodeToString(e.Compute(input))
		assert.Equal(t, tc.want, got, tc.name)
	}
}

func TestHelloCRC16CCITTFalse(t *testing.T) {
	e, err := Lookup("CRC-16/CCITT-FALSE")
	require.NoError(t, err)
	got := e.Compute([]byte("hello"))
	assert.Equal(t, []byte{0xD2, 0x6E}, got)
}

func TestXOR8AndSum8(t *testing.T) {
	xor, _ := Lookup("xor-8")
	sum, _ := Lookup("sum-8")
	p := []byte{0x01, 0x02, 0x03}
	assert.Equal(t, []byte{0x00}, xor.Compute(p))
	assert.Equal(t, []byte{0x06}, sum.Compute(p))
}

func TestFletcher16KnownVector(t *testing.T) {
	e, err := Lookup("fletcher-16")
	require.NoError(t, err)
	got := e.Compute([]byte("abcde"))
	// Fletcher-16("abcde") = 0xC8F0: sum1 = 0xF0, sum2 = 0xC8, sum1 first.
	assert.Equal(t, []byte{0xF0, 0xC8}, got)
}
