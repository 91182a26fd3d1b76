// Package config loads the migration configuration from a TOML or YAML
// file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds the full migration configuration.
type Config struct {
	Source             DatabaseConfig      `toml:"source" yaml:"source"`
	Target             DatabaseConfig      `toml:"target" yaml:"target"`
	Schema             string              `toml:"schema" yaml:"schema"`
	Objects            ObjectsConfig       `toml:"objects" yaml:"objects"`
	Views              ViewsConfig         `toml:"views" yaml:"views"`
	CheckSyntax        bool                `toml:"check_syntax" yaml:"check_syntax"`
	DryRun             bool                `toml:"dry_run" yaml:"dry_run"`
	Simulate           bool                `toml:"simulate" yaml:"simulate"`
	OutputDir          string              `toml:"output_dir" yaml:"output_dir"`
	Diagnostics        DiagnosticsConfig   `toml:"diagnostics" yaml:"diagnostics"`
	Log                LogConfig           `toml:"log" yaml:"log"`
	ConditionOverrides []ConditionOverride `toml:"condition_overrides" yaml:"condition_overrides"`

	// dir is the directory containing the config file, used to resolve
	// relative paths.
	dir string
}

// DatabaseConfig identifies one database.
type DatabaseConfig struct {
	DSN          string `toml:"dsn" yaml:"dsn"`
	MaxOpenConns int    `toml:"max_open_conns" yaml:"max_open_conns"`

	// Dir reads source definitions from .sql files instead of a live
	// server. Only used for the source.
	Dir string `toml:"dir" yaml:"dir"`
}

// ObjectsConfig selects the objects to migrate.
type ObjectsConfig struct {
	Tables     bool     `toml:"tables" yaml:"tables"`
	Views      bool     `toml:"views" yaml:"views"`
	Procedures bool     `toml:"procedures" yaml:"procedures"`
	Include    []string `toml:"include" yaml:"include"`
	Exclude    []string `toml:"exclude" yaml:"exclude"`
}

// ViewsConfig controls view migration.
type ViewsConfig struct {
	ExtraPasses int  `toml:"extra_passes" yaml:"extra_passes"`
	ReplaceOnly bool `toml:"replace_only" yaml:"replace_only"`
}

// DiagnosticsConfig selects where unconverted statements are recorded.
type DiagnosticsConfig struct {
	Sinks     []string `toml:"sinks" yaml:"sinks"` // slog|file|sqlite|postgres|nop
	Path      string   `toml:"path" yaml:"path"`
	Format    string   `toml:"format" yaml:"format"` // json|text
	SQLite    string   `toml:"sqlite" yaml:"sqlite"`
	Table     string   `toml:"table" yaml:"table"`
	BatchSize int      `toml:"batch_size" yaml:"batch_size"`
}

// LogConfig configures the structured logger.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`   // debug|info|warn|error
	Format string `toml:"format" yaml:"format"` // text|json
}

// ConditionOverride replaces one IF condition with fixed PostgreSQL text.
type ConditionOverride struct {
	Match   string `toml:"match" yaml:"match"`
	Replace string `toml:"replace" yaml:"replace"`
}

// Default returns the configuration used before a file is decoded.
func Default() Config {
	return Config{
		Schema: "dbo",
		Objects: ObjectsConfig{
			Tables:     true,
			Views:      true,
			Procedures: true,
		},
		Views: ViewsConfig{ExtraPasses: 5},
		Diagnostics: DiagnosticsConfig{
			Sinks:  []string{"slog"},
			Format: "json",
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads a TOML file, or a YAML file when the extension is .yaml or
// .yml, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read decodes a config file over the defaults without validating it, so
// callers can apply overrides first.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = decodeYAML(data, &cfg)
	default:
		err = decodeTOML(data, &cfg)
	}
	if err != nil {
		return nil, err
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}
	cfg.dir = filepath.Dir(absPath)
	cfg.OutputDir = cfg.ResolvePath(cfg.OutputDir)
	cfg.Source.Dir = cfg.ResolvePath(cfg.Source.Dir)
	cfg.Diagnostics.Path = cfg.ResolvePath(cfg.Diagnostics.Path)
	cfg.Diagnostics.SQLite = cfg.ResolvePath(cfg.Diagnostics.SQLite)
	return &cfg, nil
}

func decodeTOML(data []byte, cfg *Config) error {
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if unknown := md.Undecoded(); len(unknown) > 0 {
		keys := make([]string, len(unknown))
		for i, k := range unknown {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown config keys: %s", strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

// ResolvePath resolves a path relative to the config file directory.
func (c *Config) ResolvePath(p string) string {
	if p == "" || filepath.IsAbs(p) || c.dir == "" {
		return p
	}
	return filepath.Join(c.dir, p)
}

// Validate checks the configuration for a migration run.
func (c *Config) Validate() error {
	c.Schema = strings.TrimSpace(c.Schema)
	if c.Schema == "" {
		return fmt.Errorf("schema is required")
	}
	if c.Source.DSN == "" && c.Source.Dir == "" {
		return fmt.Errorf("source.dsn or source.dir is required")
	}
	if c.Target.Dir != "" {
		return fmt.Errorf("target.dir is not supported")
	}
	if c.Target.DSN == "" && !c.DryRun && !c.Simulate {
		return fmt.Errorf("target.dsn is required unless dry_run or simulate is set")
	}
	if !c.Objects.Tables && !c.Objects.Views && !c.Objects.Procedures {
		return fmt.Errorf("objects: at least one of tables, views, procedures must be enabled")
	}
	if c.Views.ExtraPasses < 0 {
		return fmt.Errorf("views.extra_passes must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: debug, info, warn, error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format must be one of: text, json")
	}

	switch c.Diagnostics.Format {
	case "json", "text":
	default:
		return fmt.Errorf("diagnostics.format must be one of: json, text")
	}
	for _, sink := range c.Diagnostics.Sinks {
		switch sink {
		case "slog", "nop":
		case "file":
			if c.Diagnostics.Path == "" {
				return fmt.Errorf("diagnostics.path is required for the file sink")
			}
		case "sqlite":
			if c.Diagnostics.SQLite == "" {
				return fmt.Errorf("diagnostics.sqlite is required for the sqlite sink")
			}
		case "postgres":
			if c.Target.DSN == "" {
				return fmt.Errorf("the postgres diagnostics sink writes to target.dsn, which is empty")
			}
		default:
			return fmt.Errorf("diagnostics.sinks: unknown sink %q", sink)
		}
	}

	for i, o := range c.ConditionOverrides {
		if strings.TrimSpace(o.Match) == "" || strings.TrimSpace(o.Replace) == "" {
			return fmt.Errorf("condition_overrides[%d]: match and replace are required", i)
		}
	}
	return nil
}

// Selected reports whether an object name passes the include and exclude
// lists. Names compare case-insensitively; patterns use filepath.Match
// syntax.
func (o ObjectsConfig) Selected(name string) bool {
	lower := strings.ToLower(name)
	if len(o.Include) > 0 && !matchAny(o.Include, lower) {
		return false
	}
	return !matchAny(o.Exclude, lower)
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(strings.ToLower(p), name); ok {
			return true
		}
	}
	return false
}
