// Package cfg wires the lower-level components (argmap, include,
// lexer, registry, cfgtree, persist) into a single GlobalConfig,
// threaded explicitly through every call rather than held in package
// globals, per spec.md §9's "no global mutable state" design note.
package cfg

import (
	"github.com/standardbeagle/lci-cfg/internal/argmap"
	"github.com/standardbeagle/lci-cfg/internal/cfgcontext"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
	"github.com/standardbeagle/lci-cfg/internal/cfgtree"
	"github.com/standardbeagle/lci-cfg/internal/include"
	"github.com/standardbeagle/lci-cfg/internal/lexer"
	"github.com/standardbeagle/lci-cfg/internal/lexertoken"
	"github.com/standardbeagle/lci-cfg/internal/persist"
	"github.com/standardbeagle/lci-cfg/internal/registry"
	"github.com/standardbeagle/lci-cfg/internal/toolconfig"
)

// GlobalConfig is the top-level handle a CLI command builds once and
// passes down into Validate/Load/persist operations. It implicitly
// satisfies blockgen.ConfigContext via Globals.
type GlobalConfig struct {
	Vars          *argmap.ArgMap
	TargetVersion string
	Registry      *registry.Registry
	Tree          *cfgtree.Tree
	Persist       *persist.Store
	Tool          *toolconfig.Config
}

// New builds a GlobalConfig from tool settings, pre-registering every
// plugin candidate the tool config declared and opening (but not
// loading) the configured persist store.
func New(tool *toolconfig.Config) *GlobalConfig {
	if tool == nil {
		tool = toolconfig.Default()
	}

	reg := registry.New(nil)
	for _, c := range tool.PluginCandidates {
		reg.RegisterCandidate(registry.Key{
			ContextType: contextTypeByName(c.ContextType),
			Name:        c.Name,
		}, c.ModulePath)
	}

	return &GlobalConfig{
		Vars:     argmap.New(),
		Registry: reg,
		Tree:     cfgtree.New(),
		Persist:  persist.NewStore(tool.PersistPath),
		Tool:     tool,
	}
}

// Globals implements blockgen.ConfigContext.
func (g *GlobalConfig) Globals() *argmap.ArgMap { return g.Vars }

// OpenPersist loads the configured persist store from disk, or starts
// an empty one if it doesn't exist yet.
func (g *GlobalConfig) OpenPersist() error {
	s, err := persist.LoadStore(g.Tool.PersistPath, persist.LoadOptions{LoadAll: g.Tool.PersistLoadAll})
	if err != nil {
		return err
	}
	if g.Tool.PersistWriteVersion == "v4" {
		s.SetWriteVersion(persist.VersionV4)
	}
	g.Persist = s
	return nil
}

// NewLexer opens path as the root include frame of a fresh Lexer tied
// to this config's registry and globals.
func (g *GlobalConfig) NewLexer(path string) (*lexer.Lexer, error) {
	stack := include.New(g.Tool.IncludePath)
	stack.SetMaxDepth(g.Tool.MaxIncludeDepth)
	if err := stack.PushFileOrDirectory(path); err != nil {
		return nil, err
	}
	return lexer.New(stack, g.Registry, g.Vars), nil
}

// Validate lexes path to completion (spec.md §4.6's token-producing
// contract, with no grammar above it in this module's scope — see
// DESIGN.md's lexer scope-boundary note): every include, pragma, and
// keyword lookup runs, and the first lexer error is returned. A
// version declaration mismatching TargetVersion is logged, not fatal.
func (g *GlobalConfig) Validate(path string) error {
	lx, err := g.NewLexer(path)
	if err != nil {
		return err
	}

	for {
		tok, err := lx.Next()
		if err != nil {
			return err
		}
		if tok.Kind == lexertoken.KindEOF {
			break
		}
	}

	if g.TargetVersion != "" {
		if declared, seen := lx.DeclaredVersion(); seen && declared != g.TargetVersion {
			cfglog.Warn("configuration declares version %q, tool expects %q", declared, g.TargetVersion)
		}
	}
	return nil
}

// Reload implements spec.md §2's reload data-flow: a brand new Tree
// must start to completion before the old one is ever touched, so a
// failed reload leaves the running config untouched. On success the
// persist store ownership transfers to the new config and the old
// tree is stopped.
func Reload(old *GlobalConfig, path string) (*GlobalConfig, error) {
	next := New(old.Tool)
	next.TargetVersion = old.TargetVersion

	if err := next.Validate(path); err != nil {
		return nil, err
	}
	next.Persist = old.Persist
	if err := next.Tree.Start(); err != nil {
		return nil, err
	}

	if old.Tree != nil {
		old.Tree.Stop()
	}
	return next, nil
}

var contextTypeNames = map[string]cfgcontext.Type{
	"none":        cfgcontext.TypeNone,
	"root":        cfgcontext.TypeRoot,
	"source":      cfgcontext.TypeSource,
	"destination": cfgcontext.TypeDestination,
	"filter":      cfgcontext.TypeFilter,
	"parser":      cfgcontext.TypeParser,
	"rewrite":     cfgcontext.TypeRewrite,
	"log":         cfgcontext.TypeLog,
	"block-def":   cfgcontext.TypeBlockDef,
	"block-ref":   cfgcontext.TypeBlockRef,
	"block-content": cfgcontext.TypeBlockContent,
	"block-arg":   cfgcontext.TypeBlockArg,
	"pragma":      cfgcontext.TypePragma,
	"template-func": cfgcontext.TypeTemplateFunc,
	"inner-dest":  cfgcontext.TypeInnerDest,
	"inner-src":   cfgcontext.TypeInnerSrc,
	"client-proto": cfgcontext.TypeClientProto,
	"server-proto": cfgcontext.TypeServerProto,
}

// contextTypeByName resolves a toolconfig plugin candidate's
// human-written context-type name, defaulting to TypeNone|GeneratorFlag
// for an unrecognized name so the candidate is still registered rather
// than silently dropped.
func contextTypeByName(name string) cfgcontext.Type {
	t, ok := contextTypeNames[name]
	if !ok {
		cfglog.Warn("unknown plugin context type %q in tool config, registering under none", name)
		t = cfgcontext.TypeNone
	}
	return t | cfgcontext.GeneratorFlag
}
