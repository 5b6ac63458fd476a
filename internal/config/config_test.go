package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("leakrun", pflag.ContinueOnError)
	fs.Bool("debug", false, "")
	fs.Bool("fail-on-findings", false, "")
	fs.Duration("timeout", 0, "")
	fs.String("scanner", "gitleaks", "")
	fs.StringArray("scanner-sha256", nil, "")
	fs.Bool("embedded-rules", false, "")
	fs.String("log-level", "info", "")
	fs.String("log-format", "console", "")
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "leakrun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.False(t, cfg.Debug)
	assert.False(t, cfg.FailOnFindings)
	assert.Zero(t, cfg.Timeout)
	assert.Equal(t, "gitleaks", cfg.Scanner.Path)
	assert.Empty(t, cfg.Scanner.SHA256)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Empty(t, cfg.File)
}

func TestLoadFileEnvAndFlagPrecedence(t *testing.T) {
	path := writeConfig(t, `
debug: true
timeout: 90s
scanner:
  path: /usr/local/bin/gitleaks
  sha256:
    - aaaa
rules:
  path: /etc/leakrun/rules.toml
log:
  level: warn
`)
	t.Setenv("LEAKRUN_LOG_LEVEL", "error")
	t.Setenv("LEAKRUN_TIMEOUT", "2m")

	fs := testFlags()
	require.NoError(t, fs.Parse([]string{"--timeout=5s"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.File)
	assert.True(t, cfg.Debug)
	assert.Equal(t, "/usr/local/bin/gitleaks", cfg.Scanner.Path)
	assert.Equal(t, []string{"aaaa"}, cfg.Scanner.SHA256)
	assert.Equal(t, "/etc/leakrun/rules.toml", cfg.Rules.Path)
	assert.Equal(t, "error", cfg.Log.Level, "env overrides file")
	assert.Equal(t, 5*time.Second, cfg.Timeout, "explicit flag overrides env")
}

func TestLoadUnsetFlagsDoNotOverride(t *testing.T) {
	path := writeConfig(t, "fail_on_findings: true\nscanner:\n  path: /opt/gitleaks\n")
	cfg, err := Load(path, testFlags())
	require.NoError(t, err)
	assert.True(t, cfg.FailOnFindings)
	assert.Equal(t, "/opt/gitleaks", cfg.Scanner.Path)
}

func TestLoadFindsFileInWorkingDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "leakrun.yaml"), []byte("rules:\n  embedded: true\n"), 0o644))
	chdir(t, dir)
	t.Setenv("HOME", t.TempDir())
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Rules.Embedded)
	assert.NotEmpty(t, cfg.File)
}

func TestLoadExpandsHome(t *testing.T) {
	path := writeConfig(t, "scanner:\n  path: ~/bin/gitleaks\n")
	home, err := homedir.Dir()
	require.NoError(t, err)
	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "bin", "gitleaks"), cfg.Scanner.Path)
}

func TestLoadDigestsFromEnv(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("LEAKRUN_SCANNER_SHA256", "aaaa,bbbb")
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"aaaa", "bbbb"}, cfg.Scanner.SHA256)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil)
	require.Error(t, err)
}

func TestLoadRejectsNegativeTimeout(t *testing.T) {
	path := writeConfig(t, "timeout: -1s\n")
	_, err := Load(path, nil)
	require.Error(t, err)
}

func TestCompact(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c  gitleaks"}, compact([]string{"a, b", "", " c  gitleaks \n"}))
	assert.Nil(t, compact(nil))
}
