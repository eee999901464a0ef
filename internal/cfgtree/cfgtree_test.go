package cfgtree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPipe struct {
	name        string
	succeed     bool
	initCount   int
	deinitCount int
}

func (p *countingPipe) Init() bool {
	p.initCount++
	return p.succeed
}

func (p *countingPipe) Deinit() {
	p.deinitCount++
}

func node(name string, p *countingPipe) *Node {
	return &Node{Name: name, Content: ContentPipe, Layout: LayoutSingle, Pipe: p}
}

func TestStartAllSucceed(t *testing.T) {
	a := &countingPipe{name: "A", succeed: true}
	b := &countingPipe{name: "B", succeed: true}
	c := &countingPipe{name: "C", succeed: true}

	tree := New()
	require.NoError(t, tree.AddObject(node("A", a)))
	require.NoError(t, tree.AddObject(node("B", b)))
	require.NoError(t, tree.AddObject(node("C", c)))

	require.NoError(t, tree.Start())
	assert.Equal(t, 1, a.initCount)
	assert.Equal(t, 1, b.initCount)
	assert.Equal(t, 1, c.initCount)

	tree.Stop()
	assert.Equal(t, 1, a.deinitCount)
	assert.Equal(t, 1, b.deinitCount)
	assert.Equal(t, 1, c.deinitCount)
}

func TestStartMiddleFailsRollsBackInReverseOrder(t *testing.T) {
	a := &countingPipe{name: "A", succeed: true}
	b := &countingPipe{name: "B", succeed: false}
	c := &countingPipe{name: "C", succeed: true}

	tree := New()
	require.NoError(t, tree.AddObject(node("A", a)))
	require.NoError(t, tree.AddObject(node("B", b)))
	require.NoError(t, tree.AddObject(node("C", c)))

	err := tree.Start()
	assert.Error(t, err)

	assert.Equal(t, 1, a.initCount)
	assert.Equal(t, 1, b.initCount)
	assert.Equal(t, 0, c.initCount, "C must never be inited once B fails")

	assert.Equal(t, 1, a.deinitCount, "A must be rolled back exactly once")
	assert.Equal(t, 0, b.deinitCount, "B's own failed init must not trigger a deinit")
	assert.Equal(t, 0, c.deinitCount)

	tree.Stop()
	assert.Equal(t, 1, a.deinitCount, "a subsequent Stop after a failed Start must be a no-op")
}

func TestDuplicateObjectNameRejectedByDefault(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddObject(&Node{Name: "dup", Content: ContentSource}))
	err := tree.AddObject(&Node{Name: "dup", Content: ContentSource})
	assert.Error(t, err)
}

func TestDuplicateAllowedWhenOptedIn(t *testing.T) {
	tree := New()
	tree.AllowConfigDups = true
	require.NoError(t, tree.AddObject(&Node{Name: "dup", Content: ContentSource}))
	require.NoError(t, tree.AddObject(&Node{Name: "dup", Content: ContentSource}))
}

func TestDuplicateGrandfatheredByOldVersion(t *testing.T) {
	tree := New()
	tree.GrandfatherBefore = 4
	tree.ConfigVersion = 3
	require.NoError(t, tree.AddObject(&Node{Name: "dup", Content: ContentSource}))
	require.NoError(t, tree.AddObject(&Node{Name: "dup", Content: ContentSource}))
}

func TestDifferentContentKindsMaySharedAName(t *testing.T) {
	tree := New()
	require.NoError(t, tree.AddObject(&Node{Name: "shared", Content: ContentSource}))
	require.NoError(t, tree.AddObject(&Node{Name: "shared", Content: ContentDestination}))
}

func TestUnresolvedReferenceFailsStart(t *testing.T) {
	tree := New()
	ref := &Node{Name: "ref", Layout: LayoutReference, Content: ContentSource, RefersTo: "missing"}
	require.NoError(t, tree.AddObject(ref))

	err := tree.Start()
	assert.Error(t, err)
}

func TestTemplateLastWriterWins(t *testing.T) {
	tree := New()
	tree.AddTemplate("t", "first")
	tree.AddTemplate("t", "second")
	body, ok := tree.Template("t")
	require.True(t, ok)
	assert.Equal(t, "second", body)
}
