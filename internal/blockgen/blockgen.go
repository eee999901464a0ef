// Package blockgen implements the block-generator capability (spec.md
// §4.7): a way to produce configuration text on demand, and the
// built-in variant, a parameterized macro substituted against a
// stored template.
package blockgen

import (
	"github.com/standardbeagle/lci-cfg/internal/argmap"
	"github.com/standardbeagle/lci-cfg/internal/substitutor"
)

// Location identifies the include-stack position a generator was
// invoked from, for error reporting.
type Location struct {
	Line, Column int
	FrameName    string
}

// ConfigContext is the minimal slice of GlobalConfig a generator
// needs: the globals map used in the substitution lookup chain. It is
// satisfied implicitly by the lexer and by internal/cfg.GlobalConfig.
type ConfigContext interface {
	Globals() *argmap.ArgMap
}

// Generator is the capability spec.md §4.7 describes: produce
// configuration text for an instantiation, given its arguments.
type Generator interface {
	Generate(cfg ConfigContext, args *argmap.ArgMap, ref Location) (string, error)
}

// BacktickSuppressor is implemented by generators whose output must
// not be run through the substitutor a second time, because they
// already substituted it internally. The lexer checks for this
// interface after calling Generate.
type BacktickSuppressor interface {
	SuppressesBackticks() bool
}

// Block is the built-in user-defined macro: a declared argument
// default map plus a textual template.
type Block struct {
	ArgDefs  *argmap.ArgMap
	Template string
}

// NewBlock creates a Block with the given argument defaults and
// template text.
func NewBlock(argDefs *argmap.ArgMap, template string) *Block {
	return &Block{ArgDefs: argDefs, Template: template}
}

// Generate implements spec.md §4.7's three numbered steps: fold
// unrecognized instance arguments into a synthetic __VARARGS__ value,
// substitute the template against (instance args, arg defs, globals),
// and return the result. The caller is responsible for pushing the
// result onto the include stack as a buffer frame.
func (b *Block) Generate(cfg ConfigContext, args *argmap.ArgMap, ref Location) (string, error) {
	instance := argmap.New()
	args.ForEach(func(name, value string) {
		instance.Set(name, value)
	})
	instance.Set("__VARARGS__", args.FormatVarargs(b.ArgDefs))

	var globals *argmap.ArgMap
	if cfg != nil {
		globals = cfg.Globals()
	}
	lookup := substitutor.ChainLookup(instance, b.ArgDefs, globals)
	return substitutor.Invoke(b.Template, lookup)
}

// SuppressesBackticks always reports true for Block: its own Generate
// already ran the template through the substitutor, so a second pass
// by the lexer over the same text would double-substitute backticks
// that happened to appear in an argument's value.
func (b *Block) SuppressesBackticks() bool { return true }
