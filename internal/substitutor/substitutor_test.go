package substitutor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lci-cfg/internal/argmap"
)

func testLookup() Lookup {
	args := argmap.New()
	args.Set("arg", "arg_value")
	args.Set("simple_string", "\"simple_string_value\"")
	args.Set("string_with_apostrophe", "\"'foo'\"")

	defs := argmap.New()
	defs.Set("arg", "default_for_arg")
	defs.Set("def", "default_for_def")

	globals := argmap.New()
	globals.Set("include-path", "/etc")

	return ChainLookup(args, defs, globals)
}

func TestS1NoStringContext(t *testing.T) {
	out, err := Invoke("foo `arg` bar", testLookup())
	require.NoError(t, err)
	assert.Equal(t, "foo arg_value bar", out)
}

func TestS2InsideDoubleQuotedLiteralValue(t *testing.T) {
	out, err := Invoke(`foo "x `+"`simple_string`"+` y" bar`, testLookup())
	require.NoError(t, err)
	assert.Equal(t, `foo "x simple_string_value y" bar`, out)
}

func TestS3ApostropheInApostropheContextFails(t *testing.T) {
	_, err := Invoke(`foo 'x `+"`string_with_apostrophe`"+` y' bar`, testLookup())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot represent apostrophes within apostroph-enclosed string")
}

func TestS4UnterminatedBacktick(t *testing.T) {
	_, err := Invoke("foo ` bar", testLookup())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing closing backtick (`) character")
}

func TestEmptyBacktickEmitsLiteral(t *testing.T) {
	out, err := Invoke("foo ``bar", testLookup())
	require.NoError(t, err)
	assert.Equal(t, "foo `bar", out)
}

func TestMissingNameSubstitutesEmpty(t *testing.T) {
	out, err := Invoke("x`nonexistent`y", testLookup())
	require.NoError(t, err)
	assert.Equal(t, "xy", out)
}

func TestBacktickRightAfterEscapeFails(t *testing.T) {
	_, err := Invoke(`"a\`+"`b`"+`"`, testLookup())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot substitute backticked values right after a string quote character")
}

// Invariant 1: no backticks means identity.
func TestInvariantNoBackticksIsIdentity(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		`"a quoted string"`,
		`'an apos string'`,
		"multi\nline\ttext",
	}
	for _, in := range inputs {
		out, err := Invoke(in, testLookup())
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

// Invariant 2: unquoted-safe value substituted verbatim inside a
// double-quoted context.
func TestInvariantVerbatimInsideDoubleQuotes(t *testing.T) {
	args := argmap.New()
	args.Set("name", "safe_value")
	lookup := ChainLookup(args, nil, nil)

	out, err := Invoke(`"before `+"`name`"+` after"`, lookup)
	require.NoError(t, err)
	assert.Equal(t, `"before safe_value after"`, out)
}
