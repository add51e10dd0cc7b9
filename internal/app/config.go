package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
)

const defaultBaseURL = "http://localhost:3000/api"

type fileConfig struct {
	BaseURL   string                `toml:"base_url"`
	TZ        string                `toml:"tz"`
	Output    string                `toml:"output"`
	Fields    string                `toml:"fields"`
	Profile   string                `toml:"profile"`
	Timeout   string                `toml:"timeout"`
	RateLimit float64               `toml:"rate_limit"`
	LogLevel  string                `toml:"log_level"`
	Profiles  map[string]fileConfig `toml:"profiles"`
}

func resolveGlobalOptions(cmd *cobra.Command, defaults *globalOptions) (*globalOptions, error) {
	resolved := *defaults

	profile := firstNonEmpty(env("AGENDA_PROFILE"), defaults.Profile)
	if flagValueChanged(cmd, "profile") {
		profile = defaults.Profile
	}
	if profile == "" {
		profile = "default"
	}
	if strings.ContainsAny(profile, `/\`) || profile == "." || profile == ".." {
		return nil, fmt.Errorf("invalid profile name: %q", profile)
	}
	resolved.Profile = profile

	userPath := defaultUserConfigPath()
	projectPath := ".agenda.toml"
	configPath := firstNonEmpty(env("AGENDA_CONFIG"), userPath)
	if flagValueChanged(cmd, "config") {
		configPath = defaults.Config
	}

	for _, path := range []string{userPath, projectPath} {
		cfg, ok, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if ok {
			if err := applyFileConfig(&resolved, cfg, profile); err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
		}
	}
	if configPath != "" && configPath != userPath && configPath != projectPath {
		cfg, ok, err := readConfigFile(configPath)
		if err != nil {
			return nil, err
		}
		if !ok && flagValueChanged(cmd, "config") {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		if ok {
			if err := applyFileConfig(&resolved, cfg, profile); err != nil {
				return nil, fmt.Errorf("%s: %w", configPath, err)
			}
		}
	}

	if err := applyEnv(&resolved); err != nil {
		return nil, err
	}
	applyFlags(cmd, &resolved, defaults)

	if resolved.Config == "" {
		resolved.Config = configPath
	}
	if resolved.Timeout < 0 {
		return nil, fmt.Errorf("--timeout must not be negative")
	}
	if resolved.RateLimit < 0 {
		return nil, fmt.Errorf("--rate-limit must not be negative")
	}
	return &resolved, nil
}

func applyFileConfig(dst *globalOptions, cfg fileConfig, profile string) error {
	if p, ok := cfg.Profiles[profile]; ok {
		cfg = mergeFileConfig(cfg, p)
	}
	if cfg.BaseURL != "" {
		dst.BaseURL = cfg.BaseURL
	}
	if cfg.TZ != "" {
		dst.TZ = cfg.TZ
	}
	if cfg.Fields != "" {
		dst.Fields = cfg.Fields
	}
	if cfg.Output != "" {
		setOutputMode(dst, cfg.Output)
	}
	if cfg.Timeout != "" {
		d, err := time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fmt.Errorf("invalid timeout %q", cfg.Timeout)
		}
		dst.Timeout = d
	}
	if cfg.RateLimit != 0 {
		dst.RateLimit = cfg.RateLimit
	}
	if cfg.LogLevel != "" {
		dst.LogLevel = cfg.LogLevel
	}
	return nil
}

func mergeFileConfig(base, overlay fileConfig) fileConfig {
	if overlay.BaseURL != "" {
		base.BaseURL = overlay.BaseURL
	}
	if overlay.TZ != "" {
		base.TZ = overlay.TZ
	}
	if overlay.Output != "" {
		base.Output = overlay.Output
	}
	if overlay.Fields != "" {
		base.Fields = overlay.Fields
	}
	if overlay.Profile != "" {
		base.Profile = overlay.Profile
	}
	if overlay.Timeout != "" {
		base.Timeout = overlay.Timeout
	}
	if overlay.RateLimit != 0 {
		base.RateLimit = overlay.RateLimit
	}
	if overlay.LogLevel != "" {
		base.LogLevel = overlay.LogLevel
	}
	return base
}

func setOutputMode(dst *globalOptions, v string) {
	switch strings.ToLower(v) {
	case "json":
		dst.JSON, dst.JSONL, dst.Plain = true, false, false
	case "jsonl":
		dst.JSON, dst.JSONL, dst.Plain = false, true, false
	case "plain":
		dst.JSON, dst.JSONL, dst.Plain = false, false, true
	}
}

func applyEnv(dst *globalOptions) error {
	if v := env("AGENDA_BASE_URL"); v != "" {
		dst.BaseURL = v
	}
	if v := env("AGENDA_TIMEZONE"); v != "" {
		dst.TZ = v
	}
	if v := env("AGENDA_FIELDS"); v != "" {
		dst.Fields = v
	}
	if v := env("AGENDA_OUTPUT"); v != "" {
		setOutputMode(dst, v)
	}
	if v := env("AGENDA_NO_INPUT"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			dst.NoInput = b
		}
	}
	if v := env("AGENDA_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid AGENDA_TIMEOUT: %q", v)
		}
		dst.Timeout = d
	}
	if v := env("AGENDA_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("invalid AGENDA_RATE_LIMIT: %q", v)
		}
		dst.RateLimit = f
	}
	if v := env("AGENDA_LOG_LEVEL"); v != "" {
		dst.LogLevel = v
	}
	return nil
}

func applyFlags(cmd *cobra.Command, dst, fromFlags *globalOptions) {
	copyIfChanged(cmd, "json", func() { dst.JSON = fromFlags.JSON })
	copyIfChanged(cmd, "jsonl", func() { dst.JSONL = fromFlags.JSONL })
	copyIfChanged(cmd, "plain", func() { dst.Plain = fromFlags.Plain })
	copyIfChanged(cmd, "fields", func() { dst.Fields = fromFlags.Fields })
	copyIfChanged(cmd, "quiet", func() { dst.Quiet = fromFlags.Quiet })
	copyIfChanged(cmd, "verbose", func() { dst.Verbose = fromFlags.Verbose })
	copyIfChanged(cmd, "no-color", func() { dst.NoColor = fromFlags.NoColor })
	copyIfChanged(cmd, "no-input", func() { dst.NoInput = fromFlags.NoInput })
	copyIfChanged(cmd, "profile", func() { dst.Profile = fromFlags.Profile })
	copyIfChanged(cmd, "config", func() { dst.Config = fromFlags.Config })
	copyIfChanged(cmd, "base-url", func() { dst.BaseURL = fromFlags.BaseURL })
	copyIfChanged(cmd, "tz", func() { dst.TZ = fromFlags.TZ })
	copyIfChanged(cmd, "timeout", func() { dst.Timeout = fromFlags.Timeout })
	copyIfChanged(cmd, "rate-limit", func() { dst.RateLimit = fromFlags.RateLimit })
	copyIfChanged(cmd, "log-level", func() { dst.LogLevel = fromFlags.LogLevel })
	copyIfChanged(cmd, "schema-version", func() { dst.SchemaVersion = fromFlags.SchemaVersion })

	// If exactly one output mode flag is explicitly set, it overrides env/config output mode.
	modeSet := 0
	if flagValueChanged(cmd, "json") && fromFlags.JSON {
		modeSet++
	}
	if flagValueChanged(cmd, "jsonl") && fromFlags.JSONL {
		modeSet++
	}
	if flagValueChanged(cmd, "plain") && fromFlags.Plain {
		modeSet++
	}
	if modeSet == 1 {
		if flagValueChanged(cmd, "json") && fromFlags.JSON {
			dst.JSON, dst.JSONL, dst.Plain = true, false, false
		}
		if flagValueChanged(cmd, "jsonl") && fromFlags.JSONL {
			dst.JSON, dst.JSONL, dst.Plain = false, true, false
		}
		if flagValueChanged(cmd, "plain") && fromFlags.Plain {
			dst.JSON, dst.JSONL, dst.Plain = false, false, true
		}
	}
}

func copyIfChanged(cmd *cobra.Command, name string, fn func()) {
	if flagValueChanged(cmd, name) {
		fn()
	}
}

func flagValueChanged(cmd *cobra.Command, name string) bool {
	if f := cmd.Flags().Lookup(name); f != nil && f.Changed {
		return true
	}
	if f := cmd.InheritedFlags().Lookup(name); f != nil && f.Changed {
		return true
	}
	return false
}

// readConfigFile reports ok=false for a missing file; a file that exists but
// does not parse is an error.
func readConfigFile(path string) (fileConfig, bool, error) {
	if strings.TrimSpace(path) == "" {
		return fileConfig{}, false, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return fileConfig{}, false, nil
	}
	var cfg fileConfig
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return fileConfig{}, false, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, true, nil
}

func configDir() string {
	if xdg := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, "agenda")
	}
	home := strings.TrimSpace(os.Getenv("HOME"))
	if home == "" {
		return ""
	}
	return filepath.Join(home, ".config", "agenda")
}

func defaultUserConfigPath() string {
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "config.toml")
}

// stateDBPath is the per-profile session database, or "" when no config
// directory can be resolved.
func stateDBPath(profile string) string {
	dir := configDir()
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "state", profile+".db")
}

func env(k string) string { return strings.TrimSpace(os.Getenv(k)) }

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
