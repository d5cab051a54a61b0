package project

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validDescriptor = `{
  "title": "Weather Station",
  "decoder": { "language": "js", "source": "function parse(s){return s.split(';');}" },
  "frameStart": "",
  "frameEnd": "\n",
  "frameDetection": "EndDelimiter",
  "checksum": "none",
  "payloadEncoding": "PlainText",
  "groups": [
    { "title": "Readings", "widget": "group", "datasets": [
      { "title": "Temp", "units": "C", "widget": "gauge", "index": 1 },
      { "title": "Hum", "units": "%", "widget": "gauge", "index": 2 }
    ]}
  ]
}`

func TestParseValidDescriptor(t *testing.T) {
	d, err := Parse([]byte(validDescriptor))
	require.NoError(t, err)
	assert.Equal(t, "Weather Station", d.Title)
	assert.Equal(t, 2, d.DatasetCount())
}

func TestParseRejectsMissingRequiredField(t *testing.T) {
	_, err := Parse([]byte(`{"title":"x"}`))
	assert.Error(t, err)
	var verr *ErrValidation
	assert.ErrorAs(t, err, &verr)
}

func TestSkeletonBuildsFromDescriptor(t *testing.T) {
	d, err := Parse([]byte(validDescriptor))
	require.NoError(t, err)
	sk := d.Skeleton()
	require.Len(t, sk.Groups, 1)
	require.Len(t, sk.Groups[0].Datasets, 2)
	assert.Equal(t, "Temp", sk.Groups[0].Datasets[0].Title)
}

func TestDecodeByteFieldHexPrefix(t *testing.T) {
	b, err := DecodeByteField("0xD26E")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xD2, 0x6E}, b)
}

func TestDecodeByteFieldLiteral(t *testing.T) {
	b, err := DecodeByteField("\n")
	require.NoError(t, err)
	assert.Equal(t, []byte("\n"), b)
}

func TestDecodePayloadEncodings(t *testing.T) {
	raw := []byte("AB")
	plain, _ := DecodePayload("PlainText", raw)
	assert.Equal(t, "AB", plain)

	hexStr, _ := DecodePayload("Hexadecimal", raw)
	assert.Equal(t, "4142", hexStr)

	b64, _ := DecodePayload("Base64", raw)
	assert.Equal(t, "QUI=", b64)
}

func TestEqualSchemaShape(t *testing.T) {
	a := []GroupDescriptor{{Title: "g", Datasets: []DatasetDescriptor{{Title: "d", Index: 1}}}}
	b := []GroupDescriptor{{Title: "g", Datasets: []DatasetDescriptor{{Title: "d", Index: 1}}}}
	c := []GroupDescriptor{{Title: "g2", Datasets: []DatasetDescriptor{{Title: "d", Index: 1}}}}
	assert.True(t, EqualSchemaShape(a, b))
	assert.False(t, EqualSchemaShape(a, c))
}
