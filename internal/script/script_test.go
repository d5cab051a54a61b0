package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSplitsOnSemicolon(t *testing.T) {
	h, err := Compile(`function parse(s){return s.split(';');}`)
	require.NoError(t, err)

	channels, err := h.Parse("25.4;60.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"25.4", "60.1"}, channels)
}

func TestCompileErrorNoParseFunction(t *testing.T) {
	_, err := Compile(`function notParse(s){return [];}`)
	assert.ErrorIs(t, err, ErrCompile)
}

func TestCompileErrorSyntaxError(t *testing.T) {
	_, err := Compile(`function parse(s) { return`)
	assert.ErrorIs(t, err, ErrCompile)
}

func TestRuntimeErrorIsCaught(t *testing.T) {
	h, err := Compile(`function parse(s){ throw new Error("boom"); }`)
	require.NoError(t, err)
	_, err = h.Parse("x")
	assert.ErrorIs(t, err, ErrRuntime)
}

func TestNonArrayReturnIsRuntimeError(t *testing.T) {
	h, err := Compile(`function parse(s){ return "not-an-array"; }`)
	require.NoError(t, err)
	_, err = h.Parse("x")
	assert.ErrorIs(t, err, ErrRuntime)
}

func TestSandboxHasNoFilesystemAccess(t *testing.T) {
	h, err := Compile(`function parse(s){ return [typeof require, typeof process]; }`)
	require.NoError(t, err)
	channels, err := h.Parse("x")
	require.NoError(t, err)
	assert.Equal(t, []string{"undefined", "undefined"}, channels)
}
