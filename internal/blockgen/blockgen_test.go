package blockgen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lci-cfg/internal/argmap"
)

type fakeConfig struct {
	globals *argmap.ArgMap
}

func (f fakeConfig) Globals() *argmap.ArgMap { return f.globals }

func TestGenerateSubstitutesTemplate(t *testing.T) {
	defs := argmap.New()
	defs.Set("name", "default_name")

	b := NewBlock(defs, "hello `name`, extra: `__VARARGS__`")

	args := argmap.New()
	args.Set("name", "alice")
	args.Set("color", "blue")

	out, err := b.Generate(fakeConfig{globals: argmap.New()}, args, Location{})
	require.NoError(t, err)
	assert.Equal(t, "hello alice, extra: color(blue)", out)
}

func TestGenerateFallsBackToGlobals(t *testing.T) {
	defs := argmap.New()
	globals := argmap.New()
	globals.Set("host", "localhost")

	b := NewBlock(defs, "connect `host`")
	out, err := b.Generate(fakeConfig{globals: globals}, argmap.New(), Location{})
	require.NoError(t, err)
	assert.Equal(t, "connect localhost", out)
}

func TestBlockSuppressesBackticks(t *testing.T) {
	b := NewBlock(argmap.New(), "")
	assert.True(t, b.SuppressesBackticks())
}
