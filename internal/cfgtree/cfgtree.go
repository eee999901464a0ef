// Package cfgtree implements ConfigTree (spec.md §4.9): a
// reference-counted graph of pipeline nodes with a named-object
// store, a template store, and start/stop with rollback.
package cfgtree

import (
	"sync/atomic"

	"github.com/standardbeagle/lci-cfg/internal/cfgerrors"
	"github.com/standardbeagle/lci-cfg/internal/cfglog"
)

// Layout enumerates a ConfigNode's structural role.
type Layout int

const (
	LayoutSingle Layout = iota
	LayoutReference
	LayoutSequence
	LayoutJunction
)

// Content enumerates what kind of pipeline element a node holds.
type Content int

const (
	ContentSource Content = iota
	ContentDestination
	ContentFilter
	ContentParser
	ContentRewrite
	ContentPipe
)

// Flags, a subset of spec.md §3 ConfigNode's flag bits.
type Flags int

const (
	FlagCatchall Flags = 1 << iota
	FlagFallback
	FlagFinal
	FlagFlowControl
	FlagDropUnmatched
)

// Pipe is the init/deinit contract every node content type satisfies.
// init returning false aborts Tree.Start with rollback, per spec.md
// §4.9 and testable properties 9-10.
type Pipe interface {
	Init() bool
	Deinit()
}

// Node is one ConfigNode: spec.md §3 minus parent/sibling pointers,
// which Go's slice-based child list makes unnecessary.
type Node struct {
	refcount int32
	Layout   Layout
	Content  Content
	Flags    Flags
	Name     string
	Location string

	Pipe     Pipe
	Children []*Node

	// RefersTo is set on LayoutReference nodes: the name that must
	// resolve to a named object of matching Content.
	RefersTo string

	started bool
}

// Ref increments the node's reference count.
func (n *Node) Ref() *Node {
	atomic.AddInt32(&n.refcount, 1)
	return n
}

// Unref decrements the node's reference count.
func (n *Node) Unref() int32 {
	return atomic.AddInt32(&n.refcount, -1)
}

// objectKey identifies a named object by content kind, since two
// objects of different kinds (e.g. a source and a destination) may
// share a name.
type objectKey struct {
	content Content
	name    string
}

// Tree is ConfigTree: an object store, a template store, and the list
// of top-level pipes that Start/Stop walk.
type Tree struct {
	AllowConfigDups   bool
	GrandfatherBefore int // config versions below this accept dup names unconditionally
	ConfigVersion     int

	objects   map[objectKey]*Node
	templates map[string]string
	roots     []*Node

	startedInOrder []*Node // exact init-success order, for reverse-order rollback/stop
}

// New creates an empty Tree.
func New() *Tree {
	return &Tree{
		objects:   make(map[objectKey]*Node),
		templates: make(map[string]string),
	}
}

// AddObject registers a named object. It fails on a name+content
// collision unless AllowConfigDups is set, or the tree's
// ConfigVersion predates GrandfatherBefore (spec.md §4.9).
func (t *Tree) AddObject(node *Node) error {
	key := objectKey{content: node.Content, name: node.Name}
	if _, exists := t.objects[key]; exists {
		grandfathered := t.GrandfatherBefore > 0 && t.ConfigVersion < t.GrandfatherBefore
		if !t.AllowConfigDups && !grandfathered {
			return cfgerrors.NewConfigError(cfgerrors.Location{}, node.Name, "duplicate object name for this content kind")
		}
	}
	t.objects[key] = node
	t.roots = append(t.roots, node)
	return nil
}

// Lookup resolves a named object of the given content kind.
func (t *Tree) Lookup(content Content, name string) (*Node, bool) {
	n, ok := t.objects[objectKey{content: content, name: name}]
	return n, ok
}

// AddTemplate registers a template under name, last-writer-wins.
func (t *Tree) AddTemplate(name, body string) {
	t.templates[name] = body
}

// Template returns a previously registered template body.
func (t *Tree) Template(name string) (string, bool) {
	body, ok := t.templates[name]
	return body, ok
}

// resolveReferences fails the compile if any LayoutReference node's
// RefersTo name doesn't resolve to an object of matching content.
func (t *Tree) resolveReferences() error {
	var walk func(n *Node) error
	walk = func(n *Node) error {
		if n.Layout == LayoutReference {
			if _, ok := t.Lookup(n.Content, n.RefersTo); !ok {
				return cfgerrors.NewConfigError(cfgerrors.Location{}, n.RefersTo, "reference does not resolve to a named object of matching content")
			}
		}
		for _, c := range n.Children {
			if err := walk(c); err != nil {
				return err
			}
		}
		return nil
	}
	for _, root := range t.roots {
		if err := walk(root); err != nil {
			return err
		}
	}
	return nil
}

// Start implements cfg_tree_start: topological init of every pipe in
// the graph (a root-then-children walk satisfies topological order
// here, since no node's Pipe may depend on a descendant's Pipe having
// already started). On the first init failure every pipe that already
// succeeded is deinited in reverse order and Start returns the
// triggering error; none of the remaining pipes are ever inited.
func (t *Tree) Start() error {
	if err := t.resolveReferences(); err != nil {
		return err
	}

	t.startedInOrder = t.startedInOrder[:0]
	var fail func(n *Node) error
	fail = func(n *Node) error {
		if n.Pipe != nil {
			if !n.Pipe.Init() {
				return cfgerrors.NewStartError(n.Name)
			}
			n.started = true
			t.startedInOrder = append(t.startedInOrder, n)
		}
		for _, c := range n.Children {
			if err := fail(c); err != nil {
				return err
			}
		}
		return nil
	}

	for _, root := range t.roots {
		if err := fail(root); err != nil {
			t.rollback()
			return err
		}
	}
	return nil
}

// rollback deinits every pipe started so far, in reverse order,
// matching testable property 9.
func (t *Tree) rollback() {
	for i := len(t.startedInOrder) - 1; i >= 0; i-- {
		n := t.startedInOrder[i]
		n.Pipe.Deinit()
		n.started = false
		cfglog.Tree("rolled back %q", n.Name)
	}
	t.startedInOrder = nil
}

// Stop implements cfg_tree_stop: deinit exactly the pipes that
// successfully started, in reverse order; pipes never started or
// whose init failed are untouched (testable property 10).
func (t *Tree) Stop() {
	for i := len(t.startedInOrder) - 1; i >= 0; i-- {
		n := t.startedInOrder[i]
		n.Pipe.Deinit()
		n.started = false
	}
	t.startedInOrder = nil
}
