package include

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func drain(t *testing.T, s *Stack) string {
	t.Helper()
	var out []byte
	for {
		b, ok, _, err := s.NextByte()
		require.NoError(t, err)
		if !ok {
			break
		}
		out = append(out, b)
	}
	return string(out)
}

func TestSingleFileDrain(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.conf", "hello")

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(path))
	assert.Equal(t, "hello", drain(t, s))
}

func TestBufferDrain(t *testing.T) {
	s := New("")
	require.NoError(t, s.PushBuffer("gen", []byte("generated")))
	assert.Equal(t, "generated", drain(t, s))
}

func TestDirectoryConcatenatesSortedAdmissibleFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.conf", "B")
	writeFile(t, dir, "a.conf", "A")
	writeFile(t, dir, ".hidden.conf", "H")
	writeFile(t, dir, "bad name.conf", "X")

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(dir))
	assert.Equal(t, "AB", drain(t, s))
}

func TestDirectoryAdvancesWithoutGrowingDepth(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.conf", "A")
	writeFile(t, dir, "b.conf", "B")

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(dir))
	assert.Equal(t, 1, s.Depth())

	_, _, _, err := s.NextByte() // 'A' from a.conf
	require.NoError(t, err)
	b, _, _, err := s.NextByte() // a.conf exhausted: advances to b.conf
	require.NoError(t, err)
	assert.Equal(t, byte('B'), b)
	assert.Equal(t, 1, s.Depth(), "advancing to the next pending path must not push a new frame")
}

func TestRelativeIncludeResolvedViaIncludePath(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "inner.conf", "INNER")

	s := New(dir)
	require.NoError(t, s.PushFileOrDirectory("inner.conf"))
	assert.Equal(t, "INNER", drain(t, s))
}

func TestMissingFileErrors(t *testing.T) {
	s := New("")
	err := s.PushFileOrDirectory("/nonexistent/path/does/not/exist.conf")
	assert.Error(t, err)
}

func TestDepthExceeded(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.conf", "A")

	s := New("")
	s.SetMaxDepth(1)
	require.NoError(t, s.PushFileOrDirectory(path))
	err := s.PushFileOrDirectory(path)
	assert.Error(t, err)
}

func TestLineColumnTracking(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "a.conf", "ab\ncd")

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(path))

	_, _, loc, err := s.NextByte() // 'a'
	require.NoError(t, err)
	assert.Equal(t, Location{Line: 1, Column: 1, FrameName: path}, loc)

	_, _, loc, err = s.NextByte() // 'b'
	require.NoError(t, err)
	assert.Equal(t, 2, loc.Column)

	_, _, _, err = s.NextByte() // '\n'
	require.NoError(t, err)

	_, _, loc, err = s.NextByte() // 'c'
	require.NoError(t, err)
	assert.Equal(t, 2, loc.Line)
	assert.Equal(t, 1, loc.Column)
}

func TestTopLocationFallsBackToBufferLabel(t *testing.T) {
	s := New("")
	require.NoError(t, s.PushBuffer("", []byte("x")))
	assert.Equal(t, "#buffer", s.TopLocation().FrameName)
}

func TestGlobExpandsMatchingFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "one.conf", "1")
	writeFile(t, dir, "two.conf", "2")
	writeFile(t, dir, "ignore.txt", "X")

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(filepath.Join(dir, "*.conf")))
	assert.Equal(t, "12", drain(t, s))
}

func TestEmptyDirectoryGroupIsSkippedWithoutError(t *testing.T) {
	dir := t.TempDir()

	s := New("")
	require.NoError(t, s.PushFileOrDirectory(dir))
	assert.Equal(t, 0, s.Depth(), "an admissible-file-free group must not push a frame")
}

func TestPopOrAdvanceOnEmptyStackIsDone(t *testing.T) {
	s := New("")
	done, err := s.PopOrAdvance()
	require.NoError(t, err)
	assert.True(t, done)
}
