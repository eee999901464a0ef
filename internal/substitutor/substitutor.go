// Package substitutor implements the backtick-substitution layer
// (spec.md §4.3): it scans text for `NAME`-quoted references, looks
// them up across args/defs/globals/environment, and re-encodes the
// replacement to respect the surrounding string-literal syntax.
package substitutor

import (
	"os"
	"strings"

	"github.com/standardbeagle/lci-cfg/internal/argmap"
	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
)

// stringState tracks the quoting context a given byte position falls
// within, per spec.md §4.3 step 1.
type stringState int

const (
	stateOutside stringState = iota
	stateInQuote
	stateInQuoteEscape
	stateInQuoteEscaped
	stateInApos
)

// Lookup resolves a single backtick-quoted name. It is split out so
// callers (e.g. tests, or a future generator wanting custom
// precedence) can supply their own resolution order.
type Lookup func(name string) (string, bool)

// ChainLookup builds the spec's precedence chain: args -> defs ->
// globals -> process environment. Any of args/defs/globals may be nil.
func ChainLookup(args, defs, globals *argmap.ArgMap) Lookup {
	return func(name string) (string, bool) {
		if args != nil {
			if v, ok := args.Get(name); ok {
				return v, true
			}
		}
		if defs != nil {
			if v, ok := defs.Get(name); ok {
				return v, true
			}
		}
		if globals != nil {
			if v, ok := globals.Get(name); ok {
				return v, true
			}
		}
		return os.LookupEnv(name)
	}
}

// Invoke substitutes every `NAME` reference in input using lookup,
// returning substituted text suitable to be relexed. A missing name
// substitutes to the empty string, per spec.md §4.3 step 3.
func Invoke(input string, lookup Lookup) (string, error) {
	var out strings.Builder
	state := stateOutside
	i := 0
	n := len(input)

	for i < n {
		c := input[i]

		switch state {
		case stateOutside:
			switch c {
			case '"':
				state = stateInQuote
				out.WriteByte(c)
				i++
				continue
			case '\'':
				state = stateInApos
				out.WriteByte(c)
				i++
				continue
			case '`':
				sub, consumed, err := consumeReference(input, i, lookup, state)
				if err != nil {
					return "", err
				}
				out.WriteString(sub)
				i += consumed
				continue
			default:
				out.WriteByte(c)
				i++
				continue
			}

		case stateInQuote:
			switch c {
			case '\\':
				state = stateInQuoteEscape
				out.WriteByte(c)
				i++
				continue
			case '"':
				state = stateOutside
				out.WriteByte(c)
				i++
				continue
			case '`':
				sub, consumed, err := consumeReference(input, i, lookup, state)
				if err != nil {
					return "", err
				}
				out.WriteString(sub)
				i += consumed
				continue
			default:
				out.WriteByte(c)
				i++
				continue
			}

		case stateInQuoteEscape:
			if c == '`' {
				return "", cfgerrors.NewLexError(cfgerrors.Location{}, "cannot substitute backticked values right after a string quote character")
			}
			state = stateInQuoteEscaped
			out.WriteByte(c)
			i++
			continue

		case stateInQuoteEscaped:
			// The byte right after an escaped character is back in
			// ordinary quoted-string territory: it can itself open a
			// backtick reference, start a new escape, or close the
			// quote, so re-dispatch it through stateInQuote instead
			// of writing it verbatim.
			state = stateInQuote
			continue

		case stateInApos:
			switch c {
			case '\'':
				state = stateOutside
				out.WriteByte(c)
				i++
				continue
			case '`':
				sub, consumed, err := consumeReference(input, i, lookup, state)
				if err != nil {
					return "", err
				}
				out.WriteString(sub)
				i += consumed
				continue
			default:
				out.WriteByte(c)
				i++
				continue
			}
		}
	}

	return out.String(), nil
}

// consumeReference parses the backtick reference starting at
// input[start] (which must be a backtick) and returns the substituted
// text, the number of input bytes consumed, and any error.
func consumeReference(input string, start int, lookup Lookup, state stringState) (string, int, error) {
	// `` (empty reference) emits a literal backtick.
	if start+1 < len(input) && input[start+1] == '`' {
		return "`", 2, nil
	}

	end := strings.IndexByte(input[start+1:], '`')
	if end < 0 {
		return "", 0, cfgerrors.NewLexError(cfgerrors.Location{}, "missing closing backtick (`) character")
	}
	name := input[start+1 : start+1+end]
	consumed := 1 + end + 1 // opening backtick + name + closing backtick

	value, _ := lookup(name) // missing name substitutes to empty string

	encoded, err := encodeForState(value, state)
	if err != nil {
		return "", 0, err
	}
	return encoded, consumed, nil
}

// encodeForState applies spec.md §4.3 step 4's re-encoding rules.
func encodeForState(value string, state stringState) (string, error) {
	switch state {
	case stateOutside:
		return value, nil

	case stateInQuote:
		if looksLikeSingleQuotedLiteral(value) {
			inner := value[1 : len(value)-1]
			return escapeForDoubleQuote(inner), nil
		}
		return value, nil

	case stateInApos:
		if looksLikeSingleQuotedLiteral(value) {
			inner := value[1 : len(value)-1]
			if strings.ContainsRune(inner, '\'') {
				return "", cfgerrors.NewLexError(cfgerrors.Location{}, "cannot represent apostrophes within apostroph-enclosed string")
			}
			return inner, nil
		}
		if strings.ContainsRune(value, '\'') {
			return "", cfgerrors.NewLexError(cfgerrors.Location{}, "cannot represent apostrophes within apostroph-enclosed string")
		}
		return value, nil

	default:
		return value, nil
	}
}

// looksLikeSingleQuotedLiteral reports whether value is a value that
// is itself a complete double-quoted string literal, e.g. `"foo"`.
// This mirrors spec.md §4.3 step 4's "attempt to parse the value as a
// single quoted string literal" check.
func looksLikeSingleQuotedLiteral(value string) bool {
	return len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"'
}

// escapeForDoubleQuote re-encodes inner content with C-style escapes
// so it can be embedded verbatim inside a double-quoted literal.
func escapeForDoubleQuote(inner string) string {
	var b strings.Builder
	b.Grow(len(inner))
	for i := 0; i < len(inner); i++ {
		switch inner[i] {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		default:
			b.WriteByte(inner[i])
		}
	}
	return b.String()
}
