package lexer

import (
	"strconv"
	"strings"

	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/include"
	"github.com/standardbeagle/lci-cfg/internal/lexertoken"
)

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isIdentStart(b byte) bool {
	return b == '_' || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func isIdentChar(b byte) bool {
	return isIdentStart(b) || isDigit(b) || b == '-' || b == '.'
}

// readByte returns the next raw byte, preferring a previously
// unread-back byte over a fresh read from the include stack.
func (l *Lexer) readByte() (byteAt, bool, error) {
	if l.pushedByte != nil {
		bl := *l.pushedByte
		l.pushedByte = nil
		return bl, true, nil
	}
	b, ok, loc, err := l.includeStack.NextByte()
	if err != nil || !ok {
		return byteAt{}, ok, err
	}
	return byteAt{b: b, loc: loc}, true, nil
}

func (l *Lexer) unreadByte(bl byteAt) {
	l.pushedByte = &bl
}

// peekNonSpace skips whitespace and comments, then returns the next
// byte without consuming it.
func (l *Lexer) peekNonSpace() (byteAt, bool, error) {
	for {
		bl, ok, err := l.readByte()
		if err != nil || !ok {
			return byteAt{}, ok, err
		}
		if isSpace(bl.b) {
			continue
		}
		if bl.b == '#' {
			l.skipLineComment()
			continue
		}
		l.unreadByte(bl)
		return bl, true, nil
	}
}

func (l *Lexer) skipLineComment() {
	for {
		bl, ok, err := l.readByte()
		if err != nil || !ok || bl.b == '\n' {
			return
		}
	}
}

func toLexLoc(loc include.Location) lexertoken.Location {
	return lexertoken.Location{FirstLine: loc.Line, FirstColumn: loc.Column, LastLine: loc.Line, LastColumn: loc.Column, FrameName: loc.FrameName}
}

// scanRaw pulls the next raw lexeme from the input, implementing
// spec.md §4.6 step 2's scanner pull (minus pragma/include dispatch,
// which the caller in Next handles).
func (l *Lexer) scanRaw() (lexertoken.Token, error) {
	bl, ok, err := l.peekNonSpace()
	if err != nil {
		return lexertoken.Token{}, err
	}
	if !ok {
		return lexertoken.EOF(toLexLoc(l.includeStack.TopLocation())), nil
	}
	startLoc := bl.loc

	switch {
	case bl.b == '@':
		l.readByte()
		return l.scanDirective(startLoc)
	case bl.b == '"':
		l.readByte()
		return l.scanString(startLoc, '"')
	case bl.b == '\'':
		l.readByte()
		return l.scanString(startLoc, '\'')
	case isDigit(bl.b) || bl.b == '-':
		return l.scanNumber(startLoc)
	case isIdentStart(bl.b):
		return l.scanIdentifier(startLoc)
	default:
		l.readByte()
		return lexertoken.Token{Kind: lexertoken.KindPunctuation, Punctuation: rune(bl.b), Location: toLexLoc(startLoc)}, nil
	}
}

func (l *Lexer) scanDirective(startLoc include.Location) (lexertoken.Token, error) {
	name, err := l.scanIdentChars()
	if err != nil {
		return lexertoken.Token{}, err
	}
	return lexertoken.Token{Kind: lexertoken.KindIdentifier, Text: "@" + name, Location: toLexLoc(startLoc)}, nil
}

// scanIdentChars consumes a run of identifier characters and returns
// it as plain text, without wrapping it in a Token. Used both for the
// main identifier scan and for sub-scans like directive names and
// block-argument names.
func (l *Lexer) scanIdentChars() (string, error) {
	var b strings.Builder
	for {
		bl, ok, err := l.readByte()
		if err != nil {
			return "", err
		}
		if !ok || !isIdentChar(bl.b) {
			if ok {
				l.unreadByte(bl)
			}
			return b.String(), nil
		}
		b.WriteByte(bl.b)
	}
}

func (l *Lexer) scanIdentifier(startLoc include.Location) (lexertoken.Token, error) {
	text, err := l.scanIdentChars()
	if err != nil {
		return lexertoken.Token{}, err
	}
	return lexertoken.Token{Kind: lexertoken.KindIdentifier, Text: text, Location: toLexLoc(startLoc)}, nil
}

func (l *Lexer) scanNumber(startLoc include.Location) (lexertoken.Token, error) {
	var b strings.Builder
	isFloat := false

	bl, ok, err := l.readByte()
	if err != nil {
		return lexertoken.Token{}, err
	}
	if ok && bl.b == '-' {
		b.WriteByte('-')
	} else if ok {
		l.unreadByte(bl)
	}

	for {
		bl, ok, err := l.readByte()
		if err != nil {
			return lexertoken.Token{}, err
		}
		if !ok {
			break
		}
		if isDigit(bl.b) {
			b.WriteByte(bl.b)
			continue
		}
		if bl.b == '.' && !isFloat {
			isFloat = true
			b.WriteByte(bl.b)
			continue
		}
		l.unreadByte(bl)
		break
	}

	text := b.String()
	if isFloat {
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return lexertoken.Token{}, cfgerrors.NewLexError(toErrLoc(startLoc), "malformed floating point literal")
		}
		return lexertoken.Token{Kind: lexertoken.KindFloat, Float: f, Location: toLexLoc(startLoc)}, nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return lexertoken.Token{}, cfgerrors.NewLexError(toErrLoc(startLoc), "malformed integer literal")
	}
	return lexertoken.Token{Kind: lexertoken.KindNumber, Int: n, Location: toLexLoc(startLoc)}, nil
}

// scanString consumes a quoted literal. Double-quoted strings support
// backslash escapes for the quote, backslash, and common control
// characters; apostrophe-quoted strings are verbatim, matching the
// substitutor's InApos rule that apostrophes cannot be escaped.
func (l *Lexer) scanString(startLoc include.Location, quote byte) (lexertoken.Token, error) {
	var b strings.Builder
	for {
		bl, ok, err := l.readByte()
		if err != nil {
			return lexertoken.Token{}, err
		}
		if !ok {
			return lexertoken.Token{}, cfgerrors.NewLexError(toErrLoc(startLoc), "unterminated string literal")
		}
		if bl.b == quote {
			return lexertoken.Token{Kind: lexertoken.KindString, Text: b.String(), Location: toLexLoc(startLoc)}, nil
		}
		if quote == '"' && bl.b == '\\' {
			esc, ok, err := l.readByte()
			if err != nil {
				return lexertoken.Token{}, err
			}
			if !ok {
				return lexertoken.Token{}, cfgerrors.NewLexError(toErrLoc(startLoc), "unterminated string literal")
			}
			switch esc.b {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			default:
				b.WriteByte(esc.b)
			}
			continue
		}
		b.WriteByte(bl.b)
	}
}

// scanUntilByte consumes and returns text up to (but not including)
// the next occurrence of delim, leaving delim unconsumed.
func (l *Lexer) scanUntilByte(delim byte) (string, error) {
	var b strings.Builder
	for {
		bl, ok, err := l.readByte()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", cfgerrors.NewLexError(cfgerrors.Location{}, "unterminated block argument value")
		}
		if bl.b == delim {
			l.unreadByte(bl)
			return b.String(), nil
		}
		b.WriteByte(bl.b)
	}
}

func toErrLoc(loc include.Location) cfgerrors.Location {
	return cfgerrors.Location{File: loc.FrameName, FirstLine: loc.Line, FirstColumn: loc.Column, LastLine: loc.Line, LastColumn: loc.Column}
}
