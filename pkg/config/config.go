// Package config loads the optional YAML configuration file and merges it
// with command line flags. Flags win over the file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/block/pgcutover/pkg/dbconn"
	"gopkg.in/yaml.v3"
)

var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the complete configuration of a command.
type Config struct {
	Source       string        `yaml:"source"`
	Dest         string        `yaml:"dest"`
	Schema       string        `yaml:"schema"`
	PollInterval time.Duration `yaml:"poll_interval"`
	PSQL         string        `yaml:"psql"`
	PgDump       string        `yaml:"pg_dump"`
	Logging      LoggingConfig `yaml:"logging"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// Load reads a configuration file. Unknown keys are an error. The result
// is not validated, since flags may still fill in missing values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var config Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: failed to parse %s: %w", ErrInvalidConfig, path, err)
	}
	return &config, nil
}

// Override replaces every field of c that is set in flags.
func (c *Config) Override(flags Config) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&c.Source, flags.Source)
	set(&c.Dest, flags.Dest)
	set(&c.Schema, flags.Schema)
	set(&c.PSQL, flags.PSQL)
	set(&c.PgDump, flags.PgDump)
	set(&c.Logging.Level, flags.Logging.Level)
	set(&c.Logging.Format, flags.Logging.Format)
	if flags.PollInterval != 0 {
		c.PollInterval = flags.PollInterval
	}
}

// Validate checks required fields and fills in defaults.
func (c *Config) Validate() error {
	if c.Source == "" {
		return fmt.Errorf("%w: source is required", ErrInvalidConfig)
	}
	if c.Dest == "" {
		return fmt.Errorf("%w: dest is required", ErrInvalidConfig)
	}
	if c.Schema == "" {
		return fmt.Errorf("%w: schema is required", ErrInvalidConfig)
	}
	if _, err := dbconn.ParseDSN(c.Source); err != nil {
		return fmt.Errorf("%w: source: %w", ErrInvalidConfig, err)
	}
	if _, err := dbconn.ParseDSN(c.Dest); err != nil {
		return fmt.Errorf("%w: dest: %w", ErrInvalidConfig, err)
	}
	if c.PollInterval < 0 {
		return fmt.Errorf("%w: poll_interval must be positive, got %s", ErrInvalidConfig, c.PollInterval)
	}

	// Set defaults
	if c.PollInterval == 0 {
		c.PollInterval = time.Second
	}
	if c.PSQL == "" {
		c.PSQL = "psql"
	}
	if c.PgDump == "" {
		c.PgDump = "pg_dump"
	}
	return c.Logging.Validate()
}

// SourceDSN and DestDSN must only be called after Validate.
func (c *Config) SourceDSN() dbconn.DSN { return dbconn.MustParseDSN(c.Source) }

func (c *Config) DestDSN() dbconn.DSN { return dbconn.MustParseDSN(c.Dest) }

// Validate fills in defaults: level info, format text.
func (l *LoggingConfig) Validate() error {
	if l.Level == "" {
		l.Level = "info"
	}
	if l.Format == "" {
		l.Format = "text"
	}
	if _, err := l.slogLevel(); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: unsupported log format: %s", ErrInvalidConfig, l.Format)
	}
}

func (l *LoggingConfig) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("%w: unsupported log level: %s", ErrInvalidConfig, l.Level)
	}
	return level, nil
}

// NewLogger builds the slog logger described by l, writing to w.
func (l *LoggingConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	level, _ := l.slogLevel()
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
