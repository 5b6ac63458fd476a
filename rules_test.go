package leakrun

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRulesPath(t *testing.T) {
	assert.Equal(t, "/custom/rules.toml", ResolveRulesPath("/custom/rules.toml", "/opt/leakrun"))
	assert.Equal(t, filepath.Join("/opt/leakrun", DefaultRulesFile), ResolveRulesPath("", "/opt/leakrun"))
}

func TestInstallDirIsExecutableDirectory(t *testing.T) {
	dir, err := InstallDir()
	require.NoError(t, err)
	exe, err := os.Executable()
	require.NoError(t, err)
	resolved, err := filepath.EvalSymlinks(exe)
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(resolved), dir)
}

func TestBundledRulesReturnsCopy(t *testing.T) {
	rules := BundledRules()
	require.NotEmpty(t, rules)
	rules[0] = '#'
	assert.NotEqual(t, byte('#'), BundledRules()[0])
}

func TestMaterializeRules(t *testing.T) {
	rf, err := MaterializeRules()
	require.NoError(t, err)
	name := rf.Name()
	assert.True(t, strings.HasSuffix(name, ".toml"))
	assert.True(t, strings.HasPrefix(filepath.Base(name), rf.SHA256()+"-"))

	content, err := os.ReadFile(name)
	require.NoError(t, err)
	assert.Equal(t, BundledRules(), content)

	require.NoError(t, rf.Close())
	_, err = os.Stat(name)
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, rf.Close())
}

func TestMaterializeEmptyRules(t *testing.T) {
	_, err := materializeRules(nil)
	require.ErrorIs(t, err, ERR_PAYLOAD_IS_EMPTY)
}
