package cfg

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/standardbeagle/lci-cfg/internal/cfgcontext"
	"github.com/standardbeagle/lci-cfg/internal/toolconfig"
)

func writeConf(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewRegistersPluginCandidatesFromToolConfig(t *testing.T) {
	tool := toolconfig.Default()
	tool.PluginCandidates = []toolconfig.PluginCandidate{
		{ContextType: "destination", Name: "kafka", ModulePath: "kafka-destination-plugin"},
	}
	g := New(tool)

	_, err := g.Registry.Find(cfgcontext.TypeDestination|cfgcontext.GeneratorFlag, "kafka")
	assert.Error(t, err, "no loader is configured, so the candidate fails to resolve but must be recognized as a candidate, not unknown")
}

func TestValidateSucceedsOnWellFormedConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "good.conf", "@version: 4.3;\nfoo;\n")

	g := New(toolconfig.Default())
	require.NoError(t, g.Validate(path))
}

func TestValidateFailsWithoutVersionPragma(t *testing.T) {
	dir := t.TempDir()
	path := writeConf(t, dir, "bad.conf", "foo;\n")

	g := New(toolconfig.Default())
	assert.Error(t, g.Validate(path))
}

func TestOpenPersistHonorsDowngradeToV4(t *testing.T) {
	dir := t.TempDir()
	tool := toolconfig.Default()
	tool.PersistPath = filepath.Join(dir, "state.persist")
	tool.PersistWriteVersion = "v4"

	g := New(tool)
	require.NoError(t, g.OpenPersist())

	h, err := g.Persist.AllocEntry("k", 1)
	require.NoError(t, err)
	_, _, version, ok := g.Persist.LookupEntry("k")
	require.True(t, ok)
	assert.EqualValues(t, 4, version)
	require.NoError(t, g.Persist.WriteEntry(h, []byte{1}))
	require.NoError(t, g.Persist.Commit())
}
