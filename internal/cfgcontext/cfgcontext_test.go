package cfgcontext

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPushPopBalanced(t *testing.T) {
	var s Stack
	s.Push(Frame{Type: TypeSource, Description: "source context"})
	assert.Equal(t, "source context", s.Description())
	s.Push(Frame{Type: TypeFilter, Description: "filter context"})
	assert.Equal(t, "filter context", s.Description())

	s.Pop()
	assert.Equal(t, "source context", s.Description())
	s.Pop()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, "configuration", s.Description())
	assert.Equal(t, TypeNone, s.ContextType())
}

func TestPopOnEmptyPanics(t *testing.T) {
	var s Stack
	assert.Panics(t, func() { s.Pop() })
}

func TestSentinelStopsLookup(t *testing.T) {
	var s Stack
	s.Push(Frame{Keywords: []*Keyword{
		{Name: "flags", TokenID: 1},
		{Name: Sentinel},
		{Name: "value", TokenID: 2},
	}})

	_, ok := s.LookupKeyword("flags")
	require.True(t, ok)

	_, ok = s.LookupKeyword("value")
	assert.False(t, ok, "lookup must stop at the sentinel and never reach keywords after it")
}

func TestDashUnderscoreEquivalence(t *testing.T) {
	var s Stack
	s.Push(Frame{Keywords: []*Keyword{{Name: "max-size", TokenID: 1}}})

	kw, ok := s.LookupKeyword("max_size")
	require.True(t, ok)
	assert.Equal(t, 1, kw.TokenID)
}

func TestObsoleteWarningFiresOnce(t *testing.T) {
	kw := &Keyword{Name: "old-thing", Status: StatusObsolete}
	assert.True(t, kw.ConsumeObsoleteWarning())
	assert.False(t, kw.ConsumeObsoleteWarning())
	assert.Equal(t, StatusNormal, kw.Status)
}
