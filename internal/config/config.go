package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for cforge
type Config struct {
	// Sources selects the C files to process
	Sources SourcesConfig `json:"sources,omitempty" yaml:"sources,omitempty"`

	// Tag controls the instrumentation passes
	Tag TagConfig `json:"tag,omitempty" yaml:"tag,omitempty"`

	// Rename controls generated function names
	Rename RenameConfig `json:"rename,omitempty" yaml:"rename,omitempty"`

	// Corpus controls record selection and output
	Corpus CorpusConfig `json:"corpus,omitempty" yaml:"corpus,omitempty"`

	// Analysis contains processing options
	Analysis AnalysisConfig `json:"analysis,omitempty" yaml:"analysis,omitempty"`

	// Logging configures the zap logger
	Logging LoggingConfig `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// SourcesConfig lists glob patterns for input files
type SourcesConfig struct {
	// Files is a list of glob patterns; ** matches any number of directories
	Files []string `json:"files" yaml:"files"`

	// Exclude is a list of glob patterns removed from the match set
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty"`
}

// TagConfig selects which tagging passes run
type TagConfig struct {
	// Style is "expression", "statement" or "both"
	Style string `json:"style,omitempty" yaml:"style,omitempty"`
}

// RenameConfig shapes names produced by the function renamer
type RenameConfig struct {
	Prefix string `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Length int    `json:"length,omitempty" yaml:"length,omitempty"`

	// Seed makes generated names reproducible (0 = random)
	Seed uint64 `json:"seed,omitempty" yaml:"seed,omitempty"`
}

// CorpusConfig controls corpus construction
type CorpusConfig struct {
	// Format is "jsonl", "msgpack" or "sqlite"
	Format string `json:"format,omitempty" yaml:"format,omitempty"`

	// Output is the corpus file; empty writes stream formats to stdout
	Output string `json:"output,omitempty" yaml:"output,omitempty"`

	// MinTokens drops functions whose body has fewer tokens
	MinTokens int `json:"minTokens,omitempty" yaml:"minTokens,omitempty"`

	// DeniedNames are never admitted
	DeniedNames []string `json:"deniedNames,omitempty" yaml:"deniedNames,omitempty"`

	// Policies replaces the embedded admission policy with these .rego files or directories
	Policies []string `json:"policies,omitempty" yaml:"policies,omitempty"`

	// RenameFunctions gives function definitions generated names before selection
	RenameFunctions bool `json:"renameFunctions,omitempty" yaml:"renameFunctions,omitempty"`

	// RenameGlobals suffixes globals with their user's name before selection
	RenameGlobals bool `json:"renameGlobals,omitempty" yaml:"renameGlobals,omitempty"`
}

// CacheConfig controls the extracted record cache
type CacheConfig struct {
	// Enabled turns on cache usage
	Enabled *bool `json:"enabled,omitempty" yaml:"enabled,omitempty"`

	// Dir is the cache directory (relative to project root if not absolute)
	Dir string `json:"dir,omitempty" yaml:"dir,omitempty"`
}

// AnalysisConfig contains processing options
type AnalysisConfig struct {
	// MaxParallelFiles limits concurrent file processing (0 = auto)
	MaxParallelFiles int `json:"maxParallelFiles,omitempty" yaml:"maxParallelFiles,omitempty"`

	// AllowSyntaxErrors processes units even when the parser had to recover
	AllowSyntaxErrors bool `json:"allowSyntaxErrors,omitempty" yaml:"allowSyntaxErrors,omitempty"`

	// Cache controls the extracted record cache
	Cache CacheConfig `json:"cache,omitempty" yaml:"cache,omitempty"`

	// TimingFile receives JSONL timing events when set
	TimingFile string `json:"timingFile,omitempty" yaml:"timingFile,omitempty"`
}

// LoggingConfig configures log output
type LoggingConfig struct {
	// Level is a zap level name: "debug", "info", "warn", "error"
	Level string `json:"level,omitempty" yaml:"level,omitempty"`

	// JSON switches from console to JSON encoding
	JSON bool `json:"json,omitempty" yaml:"json,omitempty"`
}

const (
	DefaultCacheDir = ".cforge_cache"
	DefaultTagStyle = "expression"
	DefaultFormat   = "jsonl"
	DefaultLevel    = "info"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	cfg := &Config{
		Sources: SourcesConfig{
			Files: []string{"*.c", "**/*.c"},
		},
		Corpus: CorpusConfig{
			MinTokens: 10,
		},
	}
	cfg.applyDefaults()
	return cfg
}

func boolPtr(v bool) *bool {
	return &v
}

// configNames are tried in this order in each search directory
var configNames = []string{"cforge.json", ".cforge.json", "cforge.yaml", ".cforge.yaml", "cforge.yml"}

// Load finds and loads the configuration file
// Search order:
//  1. ./cforge.{json,yaml} and dotted variants (current working directory)
//  2. <rootPath>/cforge.{json,yaml} (if different from cwd)
//  3. ~/.config/cforge/config.json
//
// Returns DefaultConfig if no config file is found
func Load(rootPath string) (*Config, error) {
	cwd, _ := os.Getwd()

	var searchPaths []string
	for _, name := range configNames {
		searchPaths = append(searchPaths, filepath.Join(cwd, name))
	}

	if info, err := os.Stat(rootPath); err == nil && info.IsDir() {
		absRoot, _ := filepath.Abs(rootPath)
		if absRoot != cwd {
			for _, name := range configNames {
				searchPaths = append(searchPaths, filepath.Join(rootPath, name))
			}
		}
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths, filepath.Join(home, ".config", "cforge", "config.json"))
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return LoadFile(path)
		}
	}

	return DefaultConfig(), nil
}

// LoadFile loads configuration from a specific file. Files ending in .yaml
// or .yml are read as YAML, everything else as JSON.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if isYAML(path) {
		err = yaml.Unmarshal(data, &cfg)
	} else {
		err = json.Unmarshal(data, &cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}

	return &cfg, nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// applyDefaults fills in missing configuration with defaults
func (c *Config) applyDefaults() {
	if len(c.Sources.Files) == 0 {
		c.Sources.Files = []string{"*.c", "**/*.c"}
	}
	if c.Tag.Style == "" {
		c.Tag.Style = DefaultTagStyle
	}
	if c.Corpus.Format == "" {
		c.Corpus.Format = DefaultFormat
	}
	if c.Analysis.Cache.Dir == "" {
		c.Analysis.Cache.Dir = DefaultCacheDir
	}
	if c.Analysis.Cache.Enabled == nil {
		c.Analysis.Cache.Enabled = boolPtr(true)
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLevel
	}
}

// Validate rejects values no command could act on
func (c *Config) Validate() error {
	switch c.Tag.Style {
	case "expression", "statement", "both":
	default:
		return fmt.Errorf("tag.style %q: want expression, statement or both", c.Tag.Style)
	}
	switch c.Corpus.Format {
	case "jsonl", "msgpack", "sqlite":
	default:
		return fmt.Errorf("corpus.format %q: want jsonl, msgpack or sqlite", c.Corpus.Format)
	}
	if c.Rename.Length < 0 {
		return fmt.Errorf("rename.length must not be negative")
	}
	if c.Corpus.MinTokens < 0 {
		return fmt.Errorf("corpus.minTokens must not be negative")
	}
	return nil
}

// CacheEnabled reports whether the record cache is on
func (c *Config) CacheEnabled() bool {
	return c.Analysis.Cache.Enabled == nil || *c.Analysis.Cache.Enabled
}

// Save writes the configuration to a file, as YAML when the name asks for it
func (c *Config) Save(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}
