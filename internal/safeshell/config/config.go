// Package config implements the daemon and CLI's layered configuration:
// built-in defaults, then a user-global config file, then a project config
// file (or an explicit --config path), then CLI flag overrides — the same
// precedence and hujson/JSONC decoding the teacher's cmd/agent-sandbox/
// config.go uses, extended with a YAML front-end for config.yaml (the
// primary format named in the wire spec) since rule files already require
// gopkg.in/yaml.v3 in this port.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"

	"github.com/spf13/pflag"
	"github.com/tailscale/hujson"
	"gopkg.in/yaml.v3"
)

// UnreachableBehavior controls what the wrapper does when the daemon cannot
// be reached.
type UnreachableBehavior string

const (
	FailClosed UnreachableBehavior = "fail_closed"
	FailOpen   UnreachableBehavior = "fail_open"
)

// Config is the full set of recognized configuration options (spec.md §6),
// plus the shell-builtin-interception booleans supplemented from
// original_source/src/safeshell/config.py and the optional websocket bridge
// address.
type Config struct {
	UnreachableBehavior      UnreachableBehavior `json:"unreachable_behavior,omitempty" yaml:"unreachable_behavior,omitempty"`
	DelegateShell            string              `json:"delegate_shell,omitempty" yaml:"delegate_shell,omitempty"`
	LogLevel                 string              `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	LogFile                  string              `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	ConditionTimeoutMS       int                 `json:"condition_timeout_ms,omitempty" yaml:"condition_timeout_ms,omitempty"`
	ApprovalTimeoutSeconds   int                 `json:"approval_timeout_seconds,omitempty" yaml:"approval_timeout_seconds,omitempty"`
	ApprovalMemoryTTLSeconds int                 `json:"approval_memory_ttl_seconds,omitempty" yaml:"approval_memory_ttl_seconds,omitempty"`

	CheckCD     *bool `json:"check_cd,omitempty" yaml:"check_cd,omitempty"`
	CheckSource *bool `json:"check_source,omitempty" yaml:"check_source,omitempty"`
	CheckEval   *bool `json:"check_eval,omitempty" yaml:"check_eval,omitempty"`

	MonitorWSAddr string `json:"monitor_ws_addr,omitempty" yaml:"monitor_ws_addr,omitempty"`

	// LoadedConfigFiles tracks which files contributed, for `safeshell config` debug output.
	LoadedConfigFiles map[string]string `json:"-" yaml:"-"`
}

// DefaultConfig returns the built-in defaults, the first (lowest-precedence)
// layer of LoadConfig.
func DefaultConfig() Config {
	t := true
	return Config{
		UnreachableBehavior:      FailClosed,
		DelegateShell:            detectDefaultShell(),
		LogLevel:                 "INFO",
		ConditionTimeoutMS:       500,
		ApprovalTimeoutSeconds:   300,
		ApprovalMemoryTTLSeconds: 3600,
		CheckCD:                  &t,
		CheckSource:              &t,
		CheckEval:                &t,
	}
}

// detectDefaultShell resolves $SHELL, falling back to /bin/bash if unset or
// the path does not exist, grounded on original_source's
// detect_default_shell.
func detectDefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		if _, err := os.Stat(sh); err == nil {
			return sh
		}
	}
	return "/bin/bash"
}

// LoadInput holds LoadConfig's inputs.
type LoadInput struct {
	WorkingDir string
	ConfigPath string // explicit --config path; mutually exclusive with project auto-discovery
	Env        map[string]string
	CLIFlags   *pflag.FlagSet
}

// LoadConfig performs the full four-layer load: built-in defaults -> global
// config file -> project config file (or --config) -> CLI flags.
func LoadConfig(input LoadInput) (Config, error) {
	cfg := DefaultConfig()
	cfg.LoadedConfigFiles = make(map[string]string)

	globalBase, err := UserConfigBasePath(input.Env)
	if err != nil {
		return Config{}, err
	}
	if path, ok, err := findConfigFile(globalBase); err != nil {
		return Config{}, err
	} else if ok {
		loaded, err := parseConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, loaded)
		cfg.LoadedConfigFiles["global"] = path
	}

	if input.ConfigPath != "" {
		path := input.ConfigPath
		if !filepath.IsAbs(path) {
			path = filepath.Join(input.WorkingDir, path)
		}
		loaded, err := parseConfigFile(path)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(cfg, loaded)
		cfg.LoadedConfigFiles["explicit"] = path
	} else {
		projectBase := filepath.Join(input.WorkingDir, ".safeshell", "config")
		if path, ok, err := findConfigFile(projectBase); err != nil {
			return Config{}, err
		} else if ok {
			loaded, err := parseConfigFile(path)
			if err != nil {
				return Config{}, err
			}
			cfg = merge(cfg, loaded)
			cfg.LoadedConfigFiles["project"] = path
		}
	}

	if input.CLIFlags != nil {
		applyCLIFlags(&cfg, input.CLIFlags)
	}

	return cfg, nil
}

// merge overlays the non-zero fields of override onto base.
func merge(base, override Config) Config {
	result := base
	loaded := result.LoadedConfigFiles

	if override.UnreachableBehavior != "" {
		result.UnreachableBehavior = override.UnreachableBehavior
	}
	if override.DelegateShell != "" {
		result.DelegateShell = override.DelegateShell
	}
	if override.LogLevel != "" {
		result.LogLevel = override.LogLevel
	}
	if override.LogFile != "" {
		result.LogFile = override.LogFile
	}
	if override.ConditionTimeoutMS != 0 {
		result.ConditionTimeoutMS = override.ConditionTimeoutMS
	}
	if override.ApprovalTimeoutSeconds != 0 {
		result.ApprovalTimeoutSeconds = override.ApprovalTimeoutSeconds
	}
	if override.ApprovalMemoryTTLSeconds != 0 {
		result.ApprovalMemoryTTLSeconds = override.ApprovalMemoryTTLSeconds
	}
	if override.CheckCD != nil {
		result.CheckCD = override.CheckCD
	}
	if override.CheckSource != nil {
		result.CheckSource = override.CheckSource
	}
	if override.CheckEval != nil {
		result.CheckEval = override.CheckEval
	}
	if override.MonitorWSAddr != "" {
		result.MonitorWSAddr = override.MonitorWSAddr
	}

	result.LoadedConfigFiles = loaded
	return result
}

// applyCLIFlags applies the highest-precedence layer: explicitly-changed
// pflag values.
func applyCLIFlags(cfg *Config, flags *pflag.FlagSet) {
	if flags.Changed("unreachable-behavior") {
		v, _ := flags.GetString("unreachable-behavior")
		cfg.UnreachableBehavior = UnreachableBehavior(v)
	}
	if flags.Changed("delegate-shell") {
		v, _ := flags.GetString("delegate-shell")
		cfg.DelegateShell = v
	}
	if flags.Changed("log-level") {
		v, _ := flags.GetString("log-level")
		cfg.LogLevel = v
	}
	if flags.Changed("log-file") {
		v, _ := flags.GetString("log-file")
		cfg.LogFile = v
	}
}

// findConfigFile looks for basePath+".yaml", then ".json", then ".jsonc",
// erroring if more than one exists (ambiguous). basePath carries no
// extension.
func findConfigFile(basePath string) (path string, found bool, err error) {
	candidates := []string{basePath + ".yaml", basePath + ".json", basePath + ".jsonc"}
	var existing []string
	for _, c := range candidates {
		if st, err := os.Stat(c); err == nil && !st.IsDir() {
			existing = append(existing, c)
		}
	}
	switch len(existing) {
	case 0:
		return "", false, nil
	case 1:
		return existing[0], true, nil
	default:
		return "", false, fmt.Errorf("ambiguous config: multiple of %v exist; remove all but one", existing)
	}
}

// parseConfigFile decodes path as YAML or, for .json/.jsonc, standardizes
// JSONC via hujson before strict JSON decoding.
func parseConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("reading config %q: %w", path, err)
	}

	var cfg Config
	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	default:
		standardized, err := hujson.Standardize(data)
		if err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
		decoder := json.NewDecoder(bytes.NewReader(standardized))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config %q: %w", path, err)
		}
	}
	return cfg, nil
}

// UserConfigBasePath returns the per-user config base path (without
// extension), honoring XDG_CONFIG_HOME from env (not os.Getenv, so callers
// can pass a synthetic environment in tests).
func UserConfigBasePath(env map[string]string) (string, error) {
	if xdg := env["XDG_CONFIG_HOME"]; xdg != "" {
		return filepath.Join(xdg, "safeshell", "config"), nil
	}
	home, err := userHomeDir(env)
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "safeshell", "config"), nil
}

// StateDir returns the per-user state directory holding rules.yaml,
// daemon.sock, monitor.sock, daemon.pid, and daemon.log.
func StateDir(env map[string]string) (string, error) {
	if xdg := env["XDG_STATE_HOME"]; xdg != "" {
		return filepath.Join(xdg, "safeshell"), nil
	}
	home, err := userHomeDir(env)
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".local", "state", "safeshell"), nil
}

// ShellConfigPath returns the path of the shell-sourceable configuration
// file the daemon writes on startup (grounded on original_source's
// SHELL_CONFIG_PATH), so the wrapper/shell-shim layer can source
// SAFESHELL_CHECK_CD/SOURCE/EVAL without talking to the daemon.
func ShellConfigPath(env map[string]string) (string, error) {
	dir, err := StateDir(env)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "shell_config"), nil
}

// WriteShellConfig renders cfg's shell-integration booleans to path as a
// bash-sourceable file, mirroring original_source's write_shell_config:
// the daemon calls this on startup so init scripts can gate cd/source/eval
// interception without a round trip to the daemon for every shell builtin.
func WriteShellConfig(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating shell config directory: %w", err)
	}

	content := fmt.Sprintf(`# SafeShell shell configuration (auto-generated by daemon)
# Do not edit - changes will be overwritten on daemon restart

SAFESHELL_CHECK_CD=%s
SAFESHELL_CHECK_SOURCE=%s
SAFESHELL_CHECK_EVAL=%s
`, boolFlag(cfg.CheckCD), boolFlag(cfg.CheckSource), boolFlag(cfg.CheckEval))

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("writing shell config %q: %w", path, err)
	}
	return nil
}

// boolFlag renders a *bool as the "1"/"0" a shell script expects, treating a
// nil pointer (unset) as false.
func boolFlag(b *bool) string {
	if b != nil && *b {
		return "1"
	}
	return "0"
}

func userHomeDir(env map[string]string) (string, error) {
	if h := env["HOME"]; h != "" {
		return h, nil
	}
	if h, err := os.UserHomeDir(); err == nil && h != "" {
		return h, nil
	}
	u, err := user.Current()
	if err != nil {
		return "", errors.New("no home directory available")
	}
	return u.HomeDir, nil
}
