package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/rshade/mktcache/internal/calendar"
	"github.com/rshade/mktcache/internal/dataset"
	"github.com/rshade/mktcache/internal/engine/cache"
)

// CurrentVersion is the config schema version written by New and Save.
const CurrentVersion = "1.0.0"

// supportedVersions is the schema range this build reads.
const supportedVersions = ">= 1.0.0, < 2.0.0"

// Dataset storage formats.
const (
	FormatCSV    = "csv"
	FormatSQLite = "sqlite"
)

// envPrefix is the prefix of every environment override (MKTCACHE_*).
const envPrefix = "MKTCACHE"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full mktcache configuration.
type Config struct {
	Version  string          `yaml:"version"`
	Logging  LoggingConfig   `yaml:"logging"`
	Calendar CalendarConfig  `yaml:"calendar"`
	Cache    CacheConfig     `yaml:"cache"`
	Datasets []DatasetConfig `yaml:"datasets"`
}

// LoggingConfig controls log level, format and destination.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file,omitempty"`
}

// SessionConfig is one daily trading window.
type SessionConfig struct {
	Open  string `yaml:"open"`
	Close string `yaml:"close"`
}

// CalendarConfig describes the market calendar.
type CalendarConfig struct {
	Timezone string          `yaml:"timezone"`
	Sessions []SessionConfig `yaml:"sessions"`
	// Holidays are extra weekday closures on top of the built-in CN list.
	Holidays []string `yaml:"holidays,omitempty"`
	// SourceURL, when set, replaces the built-in list with a downloaded CSV of trade dates.
	SourceURL       string `yaml:"source_url,omitempty"`
	SourceEncoding  string `yaml:"source_encoding,omitempty"`
	MaxLookbackDays int    `yaml:"max_lookback_days"`
	// CacheFile persists calendar lookups; empty disables the lookup cache.
	CacheFile string `yaml:"cache_file,omitempty"`
}

// CacheConfig holds the shared cache settings.
type CacheConfig struct {
	// StoreFile holds the saved date of every dataset.
	StoreFile string `yaml:"store_file"`
	// DataDir is where relative dataset paths are resolved.
	DataDir string `yaml:"data_dir"`
	// SQLiteFile is the database used by datasets with format sqlite.
	SQLiteFile string `yaml:"sqlite_file"`
	Debounce   string `yaml:"debounce"`
}

// DatasetConfig describes one cached dataset.
type DatasetConfig struct {
	Name     string            `yaml:"name"`
	URL      string            `yaml:"url"`
	Path     string            `yaml:"path"`
	Format   string            `yaml:"format,omitempty"`
	Encoding string            `yaml:"encoding,omitempty"`
	Timeout  string            `yaml:"timeout,omitempty"`
	Debounce string            `yaml:"debounce,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
}

// envOverrides lists the MKTCACHE_* variables applied on top of the file.
type envOverrides struct {
	LogLevel    string `envconfig:"LOG_LEVEL"`
	LogFormat   string `envconfig:"LOG_FORMAT"`
	LogFile     string `envconfig:"LOG_FILE"`
	Debounce    string `envconfig:"DEBOUNCE"`
	StoreFile   string `envconfig:"STORE_FILE"`
	DataDir     string `envconfig:"DATA_DIR"`
	CalendarURL string `envconfig:"CALENDAR_URL"`
}

// New returns the default configuration rooted at the config directory.
// If the directory cannot be determined, paths are relative to ".mktcache".
func New() *Config {
	home, err := GetConfigDir()
	if err != nil {
		home = ".mktcache"
	}

	return &Config{
		Version: CurrentVersion,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Calendar: CalendarConfig{
			Timezone: calendar.DefaultTimezone,
			Sessions: []SessionConfig{
				{Open: "09:30", Close: "11:30"},
				{Open: "13:00", Close: "15:00"},
			},
			MaxLookbackDays: calendar.DefaultMaxLookbackDays,
			CacheFile:       filepath.Join(home, "cache", "trade_dates.json"),
		},
		Cache: CacheConfig{
			StoreFile:  filepath.Join(home, "cache", "saved_dates.json"),
			DataDir:    filepath.Join(home, "data"),
			SQLiteFile: filepath.Join(home, "data", "datasets.sqlite"),
			Debounce:   cache.DefaultDebounce.String(),
		},
	}
}

// Load reads path over the defaults, shallow-merges each existing overlay,
// applies MKTCACHE_* overrides and validates. A missing file or overlay is not
// an error.
func Load(path string, overlays ...string) (*Config, error) {
	cfg := New()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if unmarshalErr := yaml.Unmarshal(data, cfg); unmarshalErr != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, unmarshalErr)
		}
	case os.IsNotExist(err):
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	for _, overlay := range overlays {
		if _, statErr := os.Stat(overlay); statErr != nil {
			continue
		}
		if mergeErr := ShallowMergeYAML(cfg, overlay); mergeErr != nil {
			return nil, mergeErr
		}
	}

	if envErr := cfg.applyEnv(); envErr != nil {
		return nil, envErr
	}
	if validateErr := cfg.Validate(); validateErr != nil {
		return nil, validateErr
	}
	return cfg, nil
}

// Save writes cfg as YAML to path, creating the directory.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if mkdirErr := os.MkdirAll(filepath.Dir(path), 0o700); mkdirErr != nil {
		return fmt.Errorf("creating config directory: %w", mkdirErr)
	}
	if writeErr := os.WriteFile(path, data, 0o600); writeErr != nil {
		return fmt.Errorf("writing config file: %w", writeErr)
	}
	return nil
}

func (c *Config) applyEnv() error {
	var env envOverrides
	if err := envconfig.Process(envPrefix, &env); err != nil {
		return fmt.Errorf("reading %s_* environment: %w", envPrefix, err)
	}

	override := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	override(&c.Logging.Level, env.LogLevel)
	override(&c.Logging.Format, env.LogFormat)
	override(&c.Logging.File, env.LogFile)
	override(&c.Cache.Debounce, env.Debounce)
	override(&c.Cache.StoreFile, env.StoreFile)
	override(&c.Cache.DataDir, env.DataDir)
	override(&c.Calendar.SourceURL, env.CalendarURL)
	return nil
}

// Validate checks the schema version and every section.
func (c *Config) Validate() error {
	if err := validateVersion(c.Version); err != nil {
		return err
	}

	if _, err := c.Schedule(); err != nil {
		return fmt.Errorf("%w: calendar: %w", ErrInvalidConfig, err)
	}
	for _, h := range c.Calendar.Holidays {
		if _, err := time.Parse(calendar.DateLayout, h); err != nil {
			return fmt.Errorf("%w: calendar holiday %q: %w", ErrInvalidConfig, h, err)
		}
	}
	if err := dataset.ValidateEncoding(c.Calendar.SourceEncoding); err != nil {
		return fmt.Errorf("%w: calendar: %w", ErrInvalidConfig, err)
	}

	if c.Cache.StoreFile == "" {
		return fmt.Errorf("%w: cache.store_file cannot be empty", ErrInvalidConfig)
	}
	if _, err := cache.ParseDebounce(c.Cache.Debounce); err != nil {
		return fmt.Errorf("%w: cache.debounce: %w", ErrInvalidConfig, err)
	}

	seen := make(map[string]bool, len(c.Datasets))
	for i := range c.Datasets {
		ds := &c.Datasets[i]
		if err := ds.validate(); err != nil {
			return fmt.Errorf("%w: dataset %d: %w", ErrInvalidConfig, i, err)
		}
		if seen[ds.Name] {
			return fmt.Errorf("%w: duplicate dataset name %q", ErrInvalidConfig, ds.Name)
		}
		seen[ds.Name] = true
	}
	return c.checkSharedFiles()
}

// checkSharedFiles rejects configurations in which two writers would share one
// file or one saved-date key: the saved-date store, the calendar cache, the
// SQLite database and every dataset location must all be distinct.
func (c *Config) checkSharedFiles() error {
	files := make(map[string]string)
	claimFile := func(path, owner string) error {
		if path == "" {
			return nil
		}
		key := filepath.Clean(path)
		if prev, ok := files[key]; ok {
			return fmt.Errorf("%w: %s and %s both use %s", ErrInvalidConfig, prev, owner, key)
		}
		files[key] = owner
		return nil
	}

	if err := claimFile(c.Cache.StoreFile, "cache.store_file"); err != nil {
		return err
	}
	if err := claimFile(c.Calendar.CacheFile, "calendar.cache_file"); err != nil {
		return err
	}
	if err := claimFile(c.Cache.SQLiteFile, "cache.sqlite_file"); err != nil {
		return err
	}

	locations := make(map[string]string, len(c.Datasets))
	for _, ds := range c.Datasets {
		location := c.DatasetLocation(ds)
		if prev, ok := locations[location]; ok {
			return fmt.Errorf("%w: datasets %q and %q share location %s", ErrInvalidConfig, prev, ds.Name, location)
		}
		locations[location] = ds.Name

		if FormatOf(ds) == FormatCSV {
			if err := claimFile(location, fmt.Sprintf("dataset %q", ds.Name)); err != nil {
				return err
			}
		}
	}
	return nil
}

func validateVersion(v string) error {
	version, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("%w: version %q: %w", ErrInvalidConfig, v, err)
	}
	constraint, err := semver.NewConstraint(supportedVersions)
	if err != nil {
		return fmt.Errorf("parsing version constraint: %w", err)
	}
	if !constraint.Check(version) {
		return fmt.Errorf("%w: version %s is not in %s", ErrInvalidConfig, version, supportedVersions)
	}
	return nil
}

func (d *DatasetConfig) validate() error {
	if d.Name == "" {
		return errors.New("name cannot be empty")
	}
	if d.URL == "" {
		return fmt.Errorf("%s: url cannot be empty", d.Name)
	}
	switch strings.ToLower(d.Format) {
	case "", FormatCSV, FormatSQLite:
	default:
		return fmt.Errorf("%s: unknown format %q", d.Name, d.Format)
	}
	if err := dataset.ValidateEncoding(d.Encoding); err != nil {
		return fmt.Errorf("%s: %w", d.Name, err)
	}
	if d.Timeout != "" {
		if _, err := time.ParseDuration(d.Timeout); err != nil {
			return fmt.Errorf("%s: timeout: %w", d.Name, err)
		}
	}
	if d.Debounce != "" {
		if _, err := cache.ParseDebounce(d.Debounce); err != nil {
			return fmt.Errorf("%s: debounce: %w", d.Name, err)
		}
	}
	return nil
}

// Schedule builds the calendar session schedule.
func (c *Config) Schedule() (calendar.Schedule, error) {
	windows := make([][2]string, 0, len(c.Calendar.Sessions))
	for _, s := range c.Calendar.Sessions {
		windows = append(windows, [2]string{s.Open, s.Close})
	}
	return calendar.NewSchedule(c.Calendar.Timezone, windows...)
}

// DebounceFor returns the effective debounce window of a dataset.
func (c *Config) DebounceFor(d DatasetConfig) time.Duration {
	for _, raw := range []string{d.Debounce, c.Cache.Debounce} {
		if raw == "" {
			continue
		}
		if v, err := cache.ParseDebounce(raw); err == nil {
			return v
		}
	}
	return cache.DefaultDebounce
}

// FormatOf returns the storage format of a dataset, defaulting to csv.
func FormatOf(d DatasetConfig) string {
	if d.Format == "" {
		return FormatCSV
	}
	return strings.ToLower(d.Format)
}

// TimeoutOf returns the dataset fetch timeout, or zero when unset.
func TimeoutOf(d DatasetConfig) time.Duration {
	v, err := time.ParseDuration(d.Timeout)
	if err != nil {
		return 0
	}
	return v
}

// DatasetLocation returns the storage location of a dataset. CSV paths are
// resolved against the data directory; SQLite locations are the configured
// path or the dataset name.
func (c *Config) DatasetLocation(d DatasetConfig) string {
	if FormatOf(d) == FormatSQLite {
		if d.Path != "" {
			return d.Path
		}
		return d.Name
	}

	p := d.Path
	if p == "" {
		p = d.Name + ".csv"
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Cache.DataDir, p)
}

// FindDataset returns the dataset with the given name.
func (c *Config) FindDataset(name string) (DatasetConfig, bool) {
	for _, d := range c.Datasets {
		if d.Name == name {
			return d, true
		}
	}
	return DatasetConfig{}, false
}
