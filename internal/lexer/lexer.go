// Package lexer implements the central token dispatcher (spec.md
// §4.6): it drains injected token blocks, pulls raw lexemes from the
// active include frame, handles @pragma/@include directives inline,
// and resolves identifiers against the plug-in registry and the
// active context's keyword set.
package lexer

import (
	"strconv"
	"strings"

	"github.com/hbollon/go-edlib"

	"github.com/standardbeagle/lci-cfg/internal/argmap"
	"github.com/standardbeagle/lci-cfg/internal/blockgen"
	"github.com/standardbeagle/lci-cfg/internal/cfgcontext"
	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
	"github.com/standardbeagle/lci-cfg/internal/include"
	"github.com/standardbeagle/lci-cfg/internal/lexertoken"
	"github.com/standardbeagle/lci-cfg/internal/registry"
	"github.com/standardbeagle/lci-cfg/internal/substitutor"
	"github.com/standardbeagle/lci-cfg/internal/tokenblock"
)

// PreprocessSink receives, outside suppression windows, the Text field
// of each token the lexer returns: identifier and keyword spellings
// and the decoded contents of string literals. Number, float and
// punctuation tokens write nothing, and neither string quotes nor the
// whitespace between tokens are reproduced.
type PreprocessSink interface {
	WriteString(s string) (int, error)
}

// Lexer is the stateful dispatcher described by spec.md's LexerState.
type Lexer struct {
	includeStack *include.Stack
	contextStack *cfgcontext.Stack
	tokenBlocks  tokenblock.Queue
	registry     *registry.Registry
	globals      *argmap.ArgMap

	declaredVersion    string
	versionSeen        bool
	firstNonPragmaSeen bool

	preprocess     PreprocessSink
	suppressDepth  int
	pushedByte     *byteAt
}

type byteAt struct {
	b   byte
	loc include.Location
}

// New creates a Lexer reading from stack, using reg to resolve
// identifiers against block generators, with globals available to the
// substitutor's lookup chain.
func New(stack *include.Stack, reg *registry.Registry, globals *argmap.ArgMap) *Lexer {
	return &Lexer{
		includeStack: stack,
		contextStack: &cfgcontext.Stack{},
		registry:     reg,
		globals:      globals,
	}
}

// Globals implements blockgen.ConfigContext so a Lexer can be passed
// directly as the cfg argument to Generator.Generate.
func (l *Lexer) Globals() *argmap.ArgMap { return l.globals }

// ContextStack exposes the push/pop stack the grammar scopes keyword
// sets and descriptions with.
func (l *Lexer) ContextStack() *cfgcontext.Stack { return l.contextStack }

// InjectBlock pushes a pre-built token block to be drained before any
// further live input is read (used by the grammar to replay
// lookahead).
func (l *Lexer) InjectBlock(b *tokenblock.Block) {
	l.tokenBlocks.Push(b)
}

// SetPreprocessOutput attaches a sink that receives each returned
// token's Text field, except during suppression windows (see
// PreprocessSink for what that text covers).
func (l *Lexer) SetPreprocessOutput(sink PreprocessSink) {
	l.preprocess = sink
}

// DeclaredVersion reports the most recently parsed @version value and
// whether one has been seen at all.
func (l *Lexer) DeclaredVersion() (string, bool) {
	return l.declaredVersion, l.versionSeen
}

// Next implements lex_next_token(): spec.md §4.6's six-step loop.
func (l *Lexer) Next() (lexertoken.Token, error) {
	if tok, ok := l.tokenBlocks.Next(); ok {
		l.emit(tok)
		return tok, nil
	}

	tok, err := l.scanRaw()
	if err != nil {
		return lexertoken.Token{}, err
	}

	if tok.Kind == lexertoken.KindIdentifier && strings.HasPrefix(tok.Text, "@") {
		switch tok.Text {
		case "@include":
			if err := l.handleInclude(); err != nil {
				return lexertoken.Token{}, err
			}
			return l.Next()
		default:
			if err := l.handlePragma(tok); err != nil {
				return lexertoken.Token{}, err
			}
			return l.Next()
		}
	}

	if err := l.checkFirstNonPragma(); err != nil {
		return lexertoken.Token{}, err
	}

	if tok.Kind == lexertoken.KindIdentifier {
		return l.resolveIdentifier(tok)
	}

	l.emit(tok)
	return tok, nil
}

func (l *Lexer) checkFirstNonPragma() error {
	if l.firstNonPragmaSeen {
		return nil
	}
	l.firstNonPragmaSeen = true
	if !l.versionSeen {
		return cfgerrors.NewConfigError(l.errLoc(l.includeStack.TopLocation()), "@version", "configuration never declared a version")
	}
	return nil
}

// resolveIdentifier implements step 3: generator dispatch first, then
// keyword lookup with dash/underscore equivalence, falling back to a
// bare identifier token.
func (l *Lexer) resolveIdentifier(tok lexertoken.Token) (lexertoken.Token, error) {
	if frame, ok := l.contextStack.Top(); ok && frame.HasGeneratorFlag() && l.registry != nil {
		if plugin, err := l.registry.Find(frame.Type, tok.Text); err == nil {
			if gen, ok := plugin.(blockgen.Generator); ok {
				return l.invokeGenerator(gen, tok)
			}
		}
	}

	if kw, found := l.contextStack.LookupKeyword(tok.Text); found {
		if kw.ConsumeObsoleteWarning() {
			cfglog.Warn("keyword %q is obsolete: %s", kw.Name, kw.Explanation)
		}
		tok.Kind = lexertoken.KindKeyword
		tok.KeywordID = kw.TokenID
		l.emit(tok)
		return tok, nil
	}

	l.emit(tok)
	return tok, nil
}

// invokeGenerator implements step 3(a): parse the argument tuple,
// invoke the generator, substitute backticks unless the generator
// already did, and push the result as a buffer frame.
func (l *Lexer) invokeGenerator(gen blockgen.Generator, tok lexertoken.Token) (lexertoken.Token, error) {
	l.suppressDepth++
	args, err := l.parseArgTuple()
	l.suppressDepth--
	if err != nil {
		return lexertoken.Token{}, err
	}

	ref := blockgen.Location{Line: tok.Location.FirstLine, Column: tok.Location.FirstColumn, FrameName: tok.Location.FrameName}
	text, err := gen.Generate(l, args, ref)
	if err != nil {
		return lexertoken.Token{}, cfgerrors.NewPluginError("generate", tok.Text, err)
	}

	if suppressor, ok := gen.(blockgen.BacktickSuppressor); !ok || !suppressor.SuppressesBackticks() {
		lookup := substitutor.ChainLookup(args, nil, l.globals)
		text, err = substitutor.Invoke(text, lookup)
		if err != nil {
			return lexertoken.Token{}, err
		}
	}

	if err := l.includeStack.PushBuffer(tok.Text, []byte(text)); err != nil {
		return lexertoken.Token{}, err
	}
	return l.Next()
}

// parseArgTuple scans an optional "(name(value) name(value) ...)"
// tuple following a generator identifier. No parenthesis means no
// arguments.
func (l *Lexer) parseArgTuple() (*argmap.ArgMap, error) {
	args := argmap.New()

	b, ok, err := l.peekNonSpace()
	if err != nil {
		return nil, err
	}
	if !ok || b.b != '(' {
		return args, nil
	}
	l.readByte() // consume '('

	for {
		b, ok, err := l.peekNonSpace()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, cfgerrors.NewLexError(l.errLoc(l.includeStack.TopLocation()), "unterminated block argument tuple")
		}
		if b.b == ')' {
			l.readByte()
			return args, nil
		}

		name, err := l.scanIdentChars()
		if err != nil {
			return nil, err
		}
		value := ""
		if b2, ok, err := l.peekNonSpace(); err != nil {
			return nil, err
		} else if ok && b2.b == '(' {
			l.readByte()
			value, err = l.scanUntilByte(')')
			if err != nil {
				return nil, err
			}
			l.readByte() // consume ')'
		}
		args.Set(name, value)
	}
}

// handleInclude implements step 2's @include handling: consume the
// filename-or-directory argument and trailing ';', then push the new
// frame and let the caller restart the loop.
func (l *Lexer) handleInclude() error {
	l.suppressDepth++
	defer func() { l.suppressDepth-- }()

	arg, err := l.scanRaw()
	if err != nil {
		return err
	}
	if arg.Kind != lexertoken.KindString && arg.Kind != lexertoken.KindIdentifier {
		return cfgerrors.NewLexError(tokErrLoc(arg.Location), "expected a filename or directory after @include")
	}

	term, err := l.scanRaw()
	if err != nil {
		return err
	}
	if term.Kind != lexertoken.KindPunctuation || term.Punctuation != ';' {
		return cfgerrors.NewLexError(tokErrLoc(term.Location), "expected ';' after @include argument")
	}

	return l.includeStack.PushFileOrDirectory(arg.Text)
}

// handlePragma implements the non-@include half of step 2. Only
// @version is interpreted directly, since it is the one pragma
// spec.md §4.6 step 4 depends on; other pragmas are consumed and
// logged without being surfaced as tokens, since no grammar is wired
// up to interpret them in this front end.
func (l *Lexer) handlePragma(tok lexertoken.Token) error {
	if tok.Text != "@version" {
		cfglog.Lex("ignoring pragma %q", tok.Text)
		l.skipToSemicolonOrNewline()
		return nil
	}

	l.suppressDepth++
	if b, ok, err := l.peekNonSpace(); err != nil {
		l.suppressDepth--
		return err
	} else if ok && b.b == ':' {
		l.readByte()
	}
	value, err := l.scanRaw()
	l.suppressDepth--
	if err != nil {
		return err
	}
	switch value.Kind {
	case lexertoken.KindString:
		l.declaredVersion = value.Text
	case lexertoken.KindIdentifier:
		l.declaredVersion = value.Text
	case lexertoken.KindFloat:
		l.declaredVersion = strconv.FormatFloat(value.Float, 'f', -1, 64)
	case lexertoken.KindNumber:
		l.declaredVersion = strconv.FormatInt(value.Int, 10)
	default:
		return cfgerrors.NewConfigError(tokErrLoc(value.Location), "@version", "expected a version value")
	}
	l.versionSeen = true
	l.skipToSemicolonOrNewline()
	return nil
}

func (l *Lexer) skipToSemicolonOrNewline() {
	for {
		bl, ok, err := l.readByte()
		if err != nil || !ok {
			return
		}
		if bl.b == ';' || bl.b == '\n' {
			return
		}
	}
}

func (l *Lexer) errLoc(loc include.Location) cfgerrors.Location {
	return toErrLoc(loc)
}

func tokErrLoc(loc lexertoken.Location) cfgerrors.Location {
	return cfgerrors.Location{File: loc.FrameName, FirstLine: loc.FirstLine, FirstColumn: loc.FirstColumn, LastLine: loc.LastLine, LastColumn: loc.LastColumn}
}

func (l *Lexer) emit(tok lexertoken.Token) {
	if l.preprocess == nil || l.suppressDepth > 0 {
		return
	}
	l.preprocess.WriteString(tok.Text)
}

// SuggestKeyword returns the nearest keyword name in frame's keyword
// set to word (by Levenshtein distance, capped at 2), for callers that
// need to build a GrammarError annotated with a "did you mean"
// suggestion after their own required-keyword check fails.
func SuggestKeyword(frame cfgcontext.Frame, word string) (string, bool) {
	best := ""
	bestDistance := 3
	for _, kw := range frame.Keywords {
		if kw.Name == cfgcontext.Sentinel {
			break
		}
		d := edlib.LevenshteinDistance(word, kw.Name)
		if d < bestDistance {
			bestDistance = d
			best = kw.Name
		}
	}
	return best, best != ""
}

// NewUnknownKeywordError builds a GrammarError for word, annotated
// with a typo suggestion from frame's keyword set when one is close
// enough.
func NewUnknownKeywordError(loc cfgerrors.Location, frame cfgcontext.Frame, word string) *cfgerrors.GrammarError {
	err := cfgerrors.NewGrammarError(loc, word, "unknown keyword")
	if suggestion, ok := SuggestKeyword(frame, word); ok {
		err = err.WithSuggestion(suggestion)
	}
	return err
}
