// Package config loads leakrun settings from defaults, an optional YAML file,
// LEAKRUN_ environment variables and command line flags, in increasing order
// of precedence.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides; FileName is the config file
// name searched for without extension.
const (
	EnvPrefix = "LEAKRUN"
	FileName  = "leakrun"
)

// Configuration keys. Nested keys map to environment variables with dots
// replaced by underscores, e.g. LEAKRUN_SCANNER_PATH.
const (
	KeyDebug          = "debug"
	KeyFailOnFindings = "fail_on_findings"
	KeyTimeout        = "timeout"
	KeyScannerPath    = "scanner.path"
	KeyScannerSHA256  = "scanner.sha256"
	KeyRulesPath      = "rules.path"
	KeyRulesEmbedded  = "rules.embedded"
	KeyLogLevel       = "log.level"
	KeyLogFormat      = "log.format"
)

// Config is the resolved leakrun configuration.
type Config struct {
	Debug          bool          `mapstructure:"debug"`
	FailOnFindings bool          `mapstructure:"fail_on_findings"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Scanner        Scanner       `mapstructure:"scanner"`
	Rules          Rules         `mapstructure:"rules"`
	Log            Log           `mapstructure:"log"`

	// File is the configuration file that was read, empty if none.
	File string `mapstructure:"-"`
}

// Scanner selects the gitleaks executable and the digests it must match.
type Scanner struct {
	Path   string   `mapstructure:"path"`
	SHA256 []string `mapstructure:"sha256"`
}

// Rules selects the gitleaks rules file.
type Rules struct {
	Path     string `mapstructure:"path"`
	Embedded bool   `mapstructure:"embedded"`
}

// Log configures internal/logging.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"debug":            KeyDebug,
	"fail-on-findings": KeyFailOnFindings,
	"timeout":          KeyTimeout,
	"scanner":          KeyScannerPath,
	"scanner-sha256":   KeyScannerSHA256,
	"embedded-rules":   KeyRulesEmbedded,
	"log-level":        KeyLogLevel,
	"log-format":       KeyLogFormat,
}

func setDefaults(v *viper.Viper) {
	v.SetDefault(KeyDebug, false)
	v.SetDefault(KeyFailOnFindings, false)
	v.SetDefault(KeyTimeout, time.Duration(0))
	v.SetDefault(KeyScannerPath, "gitleaks")
	v.SetDefault(KeyScannerSHA256, []string{})
	v.SetDefault(KeyRulesPath, "")
	v.SetDefault(KeyRulesEmbedded, false)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogFormat, "console")
}

// Load reads configuration. When configPath is empty, leakrun.yaml is looked
// up in the working directory and in ~/.config/leakrun; a missing file is not
// an error. Flags present in FlagKeys are bound when flags is non-nil, and
// only take effect when set explicitly.
func Load(configPath string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		expanded, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("expand config path: %w", err)
		}
		v.SetConfigFile(expanded)
	} else {
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := homedir.Dir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", FileName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			f := flags.Lookup(name)
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, fmt.Errorf("bind flag %s: %w", name, err)
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.File = v.ConfigFileUsed()

	var err error
	if cfg.Scanner.Path, err = homedir.Expand(cfg.Scanner.Path); err != nil {
		return nil, fmt.Errorf("expand scanner.path: %w", err)
	}
	if cfg.Rules.Path, err = homedir.Expand(cfg.Rules.Path); err != nil {
		return nil, fmt.Errorf("expand rules.path: %w", err)
	}
	cfg.Scanner.SHA256 = compact(cfg.Scanner.SHA256)
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must not be negative, got %s", cfg.Timeout)
	}
	return &cfg, nil
}

// compact splits comma or newline separated entries and drops empties, so
// LEAKRUN_SCANNER_SHA256 can hold several digests.
func compact(values []string) []string {
	var out []string
	for _, v := range values {
		for _, field := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == '\n' }) {
			if field = strings.TrimSpace(field); field != "" {
				out = append(out, field)
			}
		}
	}
	return out
}
