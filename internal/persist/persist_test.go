package persist

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocLookupRoundTrip(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.persist"))
	h, err := s.AllocEntry("counter", 8)
	require.NoError(t, err)

	require.NoError(t, s.WriteEntry(h, []byte("12345678")))

	gotHandle, size, version, ok := s.LookupEntry("counter")
	require.True(t, ok)
	assert.Equal(t, h, gotHandle)
	assert.Equal(t, uint32(8), size)
	assert.Equal(t, VersionV5, version)

	buf := make([]byte, size)
	n, err := s.ReadEntry(gotHandle, buf)
	require.NoError(t, err)
	assert.Equal(t, "12345678", string(buf[:n]))
}

func TestRenamePreservesHandle(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.persist"))
	h, err := s.AllocEntry("old", 4)
	require.NoError(t, err)

	require.NoError(t, s.RenameEntry("old", "new"))

	gotHandle, _, _, ok := s.LookupEntry("new")
	require.True(t, ok)
	assert.Equal(t, h, gotHandle)

	_, _, _, ok = s.LookupEntry("old")
	assert.False(t, ok)
}

func TestCommitThenLoadRoundTripsBytes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)

	h1, err := s.AllocEntry("alpha", 5)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h1, []byte("hello")))

	h2, err := s.AllocEntry("beta", 3)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h2, []byte("xyz")))

	require.NoError(t, s.Commit())

	reopened, err := LoadStore(path, LoadOptions{})
	require.NoError(t, err)

	_, size, version, ok := reopened.LookupEntry("alpha")
	require.True(t, ok)
	assert.Equal(t, uint32(8), size, "payload is rounded up to 8 bytes on alloc")
	assert.Equal(t, VersionV5, version)

	h, _, _, _ := reopened.LookupEntry("alpha")
	buf := make([]byte, 5)
	_, err = reopened.ReadEntry(h, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf))

	_, _, _, ok = reopened.LookupEntry("beta")
	assert.True(t, ok)
}

func TestLookupMarksInUseSoCommitKeepsIt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)
	h, err := s.AllocEntry("kept", 4)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h, []byte("abcd")))
	require.NoError(t, s.Commit())

	reopened, err := LoadStore(path, LoadOptions{})
	require.NoError(t, err)
	_, _, _, ok := reopened.LookupEntry("kept")
	require.True(t, ok, "lookup after reopen must still find the entry and flag it in_use")
}

func TestV4DowngradeRoundTripIsByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)
	s.SetWriteVersion(VersionV4)

	h, err := s.AllocEntry("k", 4)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h, []byte("data")))
	require.NoError(t, s.Commit())

	first, err := readFile(path)
	require.NoError(t, err)

	reopened, err := LoadStore(path, LoadOptions{Downgrade: true})
	require.NoError(t, err)
	require.NoError(t, reopened.Commit())

	second, err := readFile(path)
	require.NoError(t, err)

	assert.Equal(t, first, second, "loading a v4 file and immediately recommitting must reproduce it byte-for-byte")
}

func TestManyKeysSpillIntoChainedKeyBlocks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)
	const n = 400
	names := make([]string, 0, n)
	for i := 0; i < n; i++ {
		name := "entry-with-a-moderately-long-name-" + strconv.Itoa(i)
		names = append(names, name)
		h, err := s.AllocEntry(name, 1)
		require.NoError(t, err)
		require.NoError(t, s.WriteEntry(h, []byte{1}))
	}
	require.NoError(t, s.Commit())

	reopened, err := LoadStore(path, LoadOptions{})
	require.NoError(t, err)
	for _, name := range names {
		_, _, _, ok := reopened.LookupEntry(name)
		require.True(t, ok, "entry %q must survive a reload across chained key blocks", name)
	}
}

func TestLoadOfMissingFileReturnsEmptyStore(t *testing.T) {
	s, err := LoadStore(filepath.Join(t.TempDir(), "nope.persist"), LoadOptions{})
	require.NoError(t, err)
	_, _, _, ok := s.LookupEntry("anything")
	assert.False(t, ok)
}

func TestLoadOfCorruptHeaderStartsEmptyWithoutError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	require.NoError(t, writeFile(path, []byte("not a persist file at all")))

	s, err := LoadStore(path, LoadOptions{})
	require.NoError(t, err)
	_, _, _, ok := s.LookupEntry("anything")
	assert.False(t, ok)
}

func TestUnusedEntryDroppedOnLoadUnlessLoadAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)
	h, err := s.AllocEntry("stale", 2)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h, []byte{9, 9}))
	s.entries["stale"].inUse = false
	require.NoError(t, s.Commit())

	dropped, err := LoadStore(path, LoadOptions{})
	require.NoError(t, err)
	_, _, _, ok := dropped.LookupEntry("stale")
	assert.False(t, ok)

	kept, err := LoadStore(path, LoadOptions{LoadAll: true})
	require.NoError(t, err)
	_, _, _, ok = kept.LookupEntry("stale")
	assert.True(t, ok)
}

func TestCancelRemovesTempFileAndClearsStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.persist")
	s := NewStore(path)
	h, err := s.AllocEntry("x", 1)
	require.NoError(t, err)
	require.NoError(t, s.WriteEntry(h, []byte{1}))

	require.NoError(t, s.Cancel())
	_, _, _, ok := s.LookupEntry("x")
	assert.False(t, ok)
}

func TestWriteEntryRejectsOversizedPayload(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "state.persist"))
	h, err := s.AllocEntry("small", 4)
	require.NoError(t, err)
	err = s.WriteEntry(h, []byte("toolarge!"))
	assert.Error(t, err)
}

func readFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func writeFile(path string, data []byte) error {
	return os.WriteFile(path, data, 0o644)
}
