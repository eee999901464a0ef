package registry

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lci-cfg/internal/cfgcontext"
)

func TestFindRegisteredPlugin(t *testing.T) {
	r := New(nil)
	key := Key{ContextType: cfgcontext.TypeSource, Name: "file"}
	r.Register(key, "file-source-plugin")

	p, err := r.Find(cfgcontext.TypeSource, "file")
	require.NoError(t, err)
	assert.Equal(t, "file-source-plugin", p)
}

func TestFindUnknownFails(t *testing.T) {
	r := New(nil)
	_, err := r.Find(cfgcontext.TypeSource, "nope")
	assert.Error(t, err)
}

func TestFindLoadsCandidateOnMiss(t *testing.T) {
	var loadCount int32
	var mu sync.Mutex

	key := Key{ContextType: cfgcontext.TypeDestination, Name: "kafka"}
	r := New(nil)
	// loader must register the plugin as a side effect, like a real module would.
	r.loader = func(modulePath string) error {
		mu.Lock()
		loadCount++
		mu.Unlock()
		r.Register(key, "kafka-destination-plugin")
		return nil
	}
	r.RegisterCandidate(key, "modules/kafka")

	p, err := r.Find(cfgcontext.TypeDestination, "kafka")
	require.NoError(t, err)
	assert.Equal(t, "kafka-destination-plugin", p)
	assert.EqualValues(t, 1, loadCount)
}

func TestFindDedupesConcurrentLoadsOfSameModule(t *testing.T) {
	var loadCount int32
	var mu sync.Mutex

	key := Key{ContextType: cfgcontext.TypeParser, Name: "json"}
	r := New(nil)
	r.loader = func(modulePath string) error {
		mu.Lock()
		loadCount++
		mu.Unlock()
		r.Register(key, "json-parser-plugin")
		return nil
	}
	r.RegisterCandidate(key, "modules/json")

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = r.Find(cfgcontext.TypeParser, "json")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, loadCount, int32(1), "concurrent misses on the same module must be deduplicated")
}

func TestFindPropagatesLoaderError(t *testing.T) {
	key := Key{ContextType: cfgcontext.TypeFilter, Name: "broken"}
	r := New(func(modulePath string) error {
		return errors.New("boom")
	})
	r.RegisterCandidate(key, "modules/broken")

	_, err := r.Find(cfgcontext.TypeFilter, "broken")
	assert.Error(t, err)
}
