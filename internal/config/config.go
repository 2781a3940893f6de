// Package config loads xwindex settings.
//
// Values come from built-in defaults, then a TOML file, then XWINDEX_*
// environment variables. Command-line flags are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/bodul/xwindex/internal/puzzle"
)

// DefaultPath is read when no config file is given and it exists.
const DefaultPath = "xwindex.toml"

// Config is the complete xwindex configuration.
type Config struct {
	// InputDir is walked recursively for puzzle JSON files.
	InputDir string `toml:"input_dir"`
	// OutputDir receives one index file per puzzle.
	OutputDir string `toml:"output_dir"`
	// Workers bounds the number of puzzles converted at once.
	Workers  int    `toml:"workers"`
	LogLevel string `toml:"log_level"`

	Index  IndexConfig  `toml:"index"`
	Watch  WatchConfig  `toml:"watch"`
	Server ServerConfig `toml:"server"`
	Store  StoreConfig  `toml:"store"`
	Gemini GeminiConfig `toml:"gemini"`
}

// IndexConfig selects how indices are computed.
type IndexConfig struct {
	// Matcher is "forward" (single-pass, the historical output) or "restart".
	Matcher string `toml:"matcher"`
	// SquareDownCompat reproduces the legacy down offsets, which are only
	// correct on square grids.
	SquareDownCompat bool `toml:"square_down_compat"`
	// Strict rejects puzzles whose grid or gridnums length disagrees with size.
	Strict bool `toml:"strict"`
	// NormalizeUnicode converts cells and answers to NFC before matching.
	NormalizeUnicode bool `toml:"normalize_unicode"`
}

type WatchConfig struct {
	Debounce time.Duration `toml:"debounce"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
	// UploadsPerMinute limits puzzle and scan uploads per client IP.
	UploadsPerMinute int `toml:"uploads_per_minute"`
}

// StoreConfig selects where indexed puzzles are kept. An empty Path keeps
// them in memory.
type StoreConfig struct {
	Path string `toml:"path"`
}

type GeminiConfig struct {
	ProjectID string `toml:"project_id"`
	Region    string `toml:"region"`
	Model     string `toml:"model"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		InputDir:  "src/crosswords",
		OutputDir: "dist",
		Workers:   runtime.NumCPU(),
		LogLevel:  "info",
		Index: IndexConfig{
			Matcher: "forward",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
		Server: ServerConfig{
			Addr:             ":8080",
			UploadsPerMinute: 5,
		},
		Gemini: GeminiConfig{
			Region: "europe-west1",
			Model:  "gemini-2.5-flash",
		},
	}
}

// Load reads path over the defaults and applies environment overrides.
// With an empty path, DefaultPath is used if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		if _, err := os.Stat(DefaultPath); err == nil {
			path = DefaultPath
		}
	}
	if path != "" {
		md, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("%s: unknown keys %s", path, strings.Join(keys, ", "))
		}
	}

	if err := cfg.ApplyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ApplyEnvOverrides overrides fields from XWINDEX_* variables. PORT,
// GCP_PROJECT_ID and GCP_REGION are honoured for deployments that only set
// those.
func (c *Config) ApplyEnvOverrides() error {
	if v := os.Getenv("XWINDEX_INPUT_DIR"); v != "" {
		c.InputDir = v
	}
	if v := os.Getenv("XWINDEX_OUTPUT_DIR"); v != "" {
		c.OutputDir = v
	}
	if v := os.Getenv("XWINDEX_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("XWINDEX_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := os.Getenv("XWINDEX_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("XWINDEX_MATCHER"); v != "" {
		c.Index.Matcher = v
	}
	if v := os.Getenv("XWINDEX_STORE_PATH"); v != "" {
		c.Store.Path = v
	}
	if v := os.Getenv("PORT"); v != "" {
		c.Server.Addr = ":" + v
	}
	if v := os.Getenv("XWINDEX_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("GCP_PROJECT_ID"); v != "" {
		c.Gemini.ProjectID = v
	}
	if v := os.Getenv("GCP_REGION"); v != "" {
		c.Gemini.Region = v
	}
	return nil
}

// ValidationError reports one invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks every field and joins the failures.
func (c *Config) Validate() error {
	var errs []error

	if c.InputDir == "" {
		errs = append(errs, ValidationError{"input_dir", "must not be empty"})
	}
	if c.OutputDir == "" {
		errs = append(errs, ValidationError{"output_dir", "must not be empty"})
	} else if sameDir(c.InputDir, c.OutputDir) {
		errs = append(errs, ValidationError{"output_dir", "must differ from input_dir"})
	}
	if c.Workers < 1 {
		errs = append(errs, ValidationError{"workers", fmt.Sprintf("must be at least 1, got %d", c.Workers)})
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, ValidationError{"log_level", err.Error()})
	}
	if _, err := puzzle.LocatorByName(c.Index.Matcher); err != nil {
		errs = append(errs, ValidationError{"index.matcher", err.Error()})
	}
	if c.Watch.Debounce < 0 {
		errs = append(errs, ValidationError{"watch.debounce", "must not be negative"})
	}
	if c.Server.UploadsPerMinute < 1 {
		errs = append(errs, ValidationError{"server.uploads_per_minute", "must be at least 1"})
	}

	return errors.Join(errs...)
}

func sameDir(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}

// Builder returns the index builder the configuration describes.
func (c *Config) Builder() (*puzzle.Builder, error) {
	loc, err := puzzle.LocatorByName(c.Index.Matcher)
	if err != nil {
		return nil, err
	}
	return &puzzle.Builder{Locator: loc, SquareDown: c.Index.SquareDownCompat}, nil
}

// ParseLevel maps debug|info|warn|error to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}
