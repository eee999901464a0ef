// Package registry implements the plug-in registry (spec.md §4.8):
// a map from (context-type, name) to a construction capability, with
// lazy discovery of modules holding only-candidate plug-ins.
package registry

import (
	"errors"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/standardbeagle/lci-cfg/internal/cfgcontext"
	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
)

var errUnknownPlugin = errors.New("no registered or candidate plug-in for this name")
var errModuleDidNotRegister = errors.New("module load completed but did not register the requested plug-in")

// Key identifies a plug-in slot. ContextType carries
// cfgcontext.GeneratorFlag when the slot is a block generator rather
// than an ordinary keyword contribution, per spec.md §4.8.
type Key struct {
	ContextType cfgcontext.Type
	Name        string
}

// Loader loads the module at modulePath, which is expected to call
// Register for every concrete plug-in it contributes.
type Loader func(modulePath string) error

// Registry holds registered and candidate plug-ins under a
// GlobalConfig. Find is safe for concurrent use; concurrent misses on
// the same candidate module are deduplicated via a singleflight.Group
// so a directory include that fans out many files in parallel doesn't
// load the same module twice.
type Registry struct {
	mu         sync.RWMutex
	plugins    map[Key]any
	candidates map[Key]string // key -> module path

	loader Loader
	group  singleflight.Group
}

// New creates an empty Registry. loader may be nil, in which case
// candidate-only keys always fail to resolve.
func New(loader Loader) *Registry {
	return &Registry{
		plugins:    make(map[Key]any),
		candidates: make(map[Key]string),
		loader:     loader,
	}
}

// Register adds a ready-to-use plug-in under key, overwriting any
// earlier registration (late registration, e.g. from a just-loaded
// module, always wins).
func (r *Registry) Register(key Key, plugin any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins[key] = plugin
}

// RegisterCandidate records that modulePath is known to provide key,
// without loading it yet.
func (r *Registry) RegisterCandidate(key Key, modulePath string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, already := r.plugins[key]; already {
		return
	}
	r.candidates[key] = modulePath
}

// Find returns the first registered plug-in matching key. If only a
// candidate is known, its module is loaded (deduplicated across
// concurrent callers) and the lookup retried once.
func (r *Registry) Find(ctxType cfgcontext.Type, name string) (any, error) {
	key := Key{ContextType: ctxType, Name: name}

	if p, ok := r.lookup(key); ok {
		return p, nil
	}

	modulePath, isCandidate := r.candidateFor(key)
	if !isCandidate {
		return nil, cfgerrors.NewPluginError("find", name, errUnknownPlugin)
	}

	if r.loader != nil {
		_, err, _ := r.group.Do(modulePath, func() (any, error) {
			cfglog.Plugin("loading module %q for %q", modulePath, name)
			return nil, r.loader(modulePath)
		})
		if err != nil {
			return nil, cfgerrors.NewPluginError("load", modulePath, err)
		}
	}

	if p, ok := r.lookup(key); ok {
		return p, nil
	}
	return nil, cfgerrors.NewPluginError("find", name, errModuleDidNotRegister)
}

func (r *Registry) lookup(key Key) (any, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[key]
	return p, ok
}

func (r *Registry) candidateFor(key Key) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.candidates[key]
	return p, ok
}
