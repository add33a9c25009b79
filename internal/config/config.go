// Package config loads the pgcatalog YAML configuration file.
package config

import (
	"os"
	"time"

	"github.com/koustreak/pgcatalog/internal/catalog"
	"github.com/koustreak/pgcatalog/internal/database"
	"github.com/koustreak/pgcatalog/internal/errs"
	"github.com/koustreak/pgcatalog/internal/filestore"
	"github.com/koustreak/pgcatalog/internal/filter"
	"github.com/koustreak/pgcatalog/internal/logger"
	"go.yaml.in/yaml/v3"
)

// Config holds all application configuration.
type Config struct {
	Database database.Config  `yaml:"database"`
	Log      logger.Config    `yaml:"log"`
	Fetch    FetchConfig      `yaml:"fetch"`
	Snapshot filestore.Config `yaml:"snapshot"`
	Server   ServerConfig     `yaml:"server"`
}

// FetchConfig scopes the fetch command. Filter entries keep file order.
type FetchConfig struct {
	Table     string        `yaml:"table,omitempty"`
	Including []FilterEntry `yaml:"including,omitempty"`
	Excluding []FilterEntry `yaml:"excluding,omitempty"`
	RelKinds  []string      `yaml:"relkinds,omitempty"`
}

// FilterEntry lists, for one schema, regular expressions and literal
// table names. Names are turned into anchored, escaped patterns. An entry
// with neither selects the whole schema.
type FilterEntry struct {
	Schema   string   `yaml:"schema"`
	Patterns []string `yaml:"patterns,omitempty"`
	Tables   []string `yaml:"tables,omitempty"`
}

// ServerConfig holds HTTP view settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// DefaultConfig returns a Config populated with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Database: *database.DefaultConfig(""),
		Log:      *logger.DefaultConfig(),
		Server: ServerConfig{
			Addr:         "127.0.0.1:8080",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
}

// Load reads a Config from the YAML file at path. If the file does not
// exist, it returns DefaultConfig without error. ${VAR} references are
// expanded from the environment before parsing, so secrets can stay out
// of the file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config", err)
	}

	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "parse config", err)
	}
	return cfg, nil
}

// Validate reports the first setting a fetch cannot run with.
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return errs.New(errs.ErrKindInvalidInput, "database.dsn is required")
	}
	if c.Database.MaxConns < 1 {
		return errs.New(errs.ErrKindInvalidInput, "database.max_conns must be at least 1")
	}
	if _, err := c.Fetch.Kinds(); err != nil {
		return err
	}
	for _, e := range append(append([]FilterEntry{}, c.Fetch.Including...), c.Fetch.Excluding...) {
		if e.Schema == "" {
			return errs.New(errs.ErrKindInvalidInput, "fetch filter entry without schema")
		}
	}
	return nil
}

// Kinds parses RelKinds; nil when none are configured.
func (f FetchConfig) Kinds() ([]catalog.RelKind, error) {
	var kinds []catalog.RelKind
	for _, s := range f.RelKinds {
		k, err := catalog.ParseRelKind(s)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "fetch.relkinds", err)
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}

// IncludingFilter builds the configured including filter; nil when empty.
func (f FetchConfig) IncludingFilter() *filter.Filter {
	return buildFilter(f.Including)
}

// ExcludingFilter builds the configured excluding filter; nil when empty.
func (f FetchConfig) ExcludingFilter() *filter.Filter {
	return buildFilter(f.Excluding)
}

// TableRef parses Table; nil when no single table is configured.
func (f FetchConfig) TableRef() *filter.TableRef {
	if f.Table == "" {
		return nil
	}
	ref := filter.ParseTableRef(f.Table)
	return &ref
}

func buildFilter(entries []FilterEntry) *filter.Filter {
	if len(entries) == 0 {
		return nil
	}
	flt := filter.New()
	for _, e := range entries {
		if len(e.Patterns) == 0 && len(e.Tables) == 0 {
			flt.Add(e.Schema, ".*")
			continue
		}
		flt.Add(e.Schema, e.Patterns...)
		for _, t := range e.Tables {
			flt.AddTable(e.Schema, t)
		}
	}
	return flt
}
