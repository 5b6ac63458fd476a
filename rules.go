package leakrun

import (
	"crypto/sha256"
	_ "embed"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"slices"
)

// DefaultRulesFile is the name of the rules file shipped next to the leakrun
// executable.
const DefaultRulesFile = "gitleaks-custom-rules.toml"

//go:embed gitleaks-custom-rules.toml
var bundledRules []byte

// BundledRules returns a copy of the rules file compiled into leakrun. The
// content is handed to gitleaks as-is.
func BundledRules() []byte {
	return slices.Clone(bundledRules)
}

// InstallDir returns the directory holding the running executable, with
// symlinks resolved.
func InstallDir() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// ResolveRulesPath returns rulesPath unchanged when set, otherwise the
// bundled rules file inside installDir.
func ResolveRulesPath(rulesPath, installDir string) string {
	if rulesPath != "" {
		return rulesPath
	}
	return filepath.Join(installDir, DefaultRulesFile)
}

// RulesFile is a temporary copy of the bundled rules. Close removes it.
type RulesFile struct {
	name   string
	sha256 string
}

// MaterializeRules writes the bundled rules to a temporary file. The name
// keeps the .toml extension because gitleaks picks the config format from it.
func MaterializeRules() (*RulesFile, error) {
	return materializeRules(bundledRules)
}

func materializeRules(content []byte) (*RulesFile, error) {
	if len(content) == 0 {
		return nil, ERR_PAYLOAD_IS_EMPTY
	}
	sum := sha256.Sum256(content)
	rf := &RulesFile{sha256: hex.EncodeToString(sum[:])}
	tmpf, err := os.CreateTemp("", rf.sha256+"-*.toml")
	if err != nil {
		return nil, err
	}
	name := tmpf.Name()
	if _, err := tmpf.Write(content); err != nil {
		tmpf.Close()
		os.Remove(name)
		return nil, fmt.Errorf("unable to write rules file: %w", err)
	}
	if err := tmpf.Close(); err != nil {
		os.Remove(name)
		return nil, fmt.Errorf("close rules file: %w", err)
	}
	rf.name = name
	return rf, nil
}

func (r *RulesFile) Name() string {
	if r == nil {
		return ""
	}
	return r.name
}

// SHA256 returns the hex digest of the rules content.
func (r *RulesFile) SHA256() string {
	if r == nil {
		return ""
	}
	return r.sha256
}

func (r *RulesFile) Close() error {
	if r == nil || r.name == "" {
		return nil
	}
	err := os.Remove(r.name)
	r.name = ""
	return err
}
