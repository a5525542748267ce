package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/par2rename/internal/common"
	"example.com/par2rename/internal/par2"
)

// DefaultPath is read when no --config flag is given. A missing file at
// this path is not an error.
const DefaultPath = "par2rename.yaml"

const mib = 1 << 20

type OutputConfig struct {
	Prefix    string `yaml:"prefix"`
	Directory string `yaml:"directory"`
}

type ScanConfig struct {
	InitialWindowMiB int `yaml:"initialWindowMiB"`
	RefillMiB        int `yaml:"refillMiB"`
	MaxPacketMiB     int `yaml:"maxPacketMiB"`
	MaxIndexMiB      int `yaml:"maxIndexMiB"`
}

type LogConfig struct {
	Directory  string `yaml:"directory"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	MaxBackups int    `yaml:"maxBackups"`
	Compress   bool   `yaml:"compress"`
	Level      string `yaml:"level"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ReportConfig struct {
	Lang string `yaml:"lang"`
}

type Config struct {
	Output OutputConfig `yaml:"output"`
	Scan   ScanConfig   `yaml:"scan"`
	Logs   LogConfig    `yaml:"logs"`
	Audit  AuditConfig  `yaml:"audit"`
	Report ReportConfig `yaml:"report"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.applyDefaults("")
	return cfg
}

// Load decodes the YAML file at path and fills in defaults. Relative paths
// in the file are resolved against its directory. When path is DefaultPath
// and the file does not exist, defaults are returned.
func Load(path string) (Config, error) {
	var cfg Config
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && path == DefaultPath {
			return Default(), nil
		}
		return cfg, err
	}
	defer f.Close()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("decode %s: %w", path, err)
	}
	cfg.applyDefaults(filepath.Dir(path))
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults(baseDir string) {
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" {
			return ""
		}
		if filepath.IsAbs(p) || baseDir == "" {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}
	if c.Output.Prefix == "" {
		c.Output.Prefix = par2.DefaultPrefix
	}
	c.Output.Directory = resolvePath(c.Output.Directory)
	if c.Scan.InitialWindowMiB <= 0 {
		c.Scan.InitialWindowMiB = par2.DefaultInitialWindow / mib
	}
	if c.Scan.RefillMiB <= 0 {
		c.Scan.RefillMiB = par2.DefaultRefillSize / mib
	}
	if c.Scan.MaxPacketMiB <= 0 {
		c.Scan.MaxPacketMiB = par2.DefaultMaxPacketSize / mib
	}
	if c.Scan.MaxIndexMiB <= 0 {
		c.Scan.MaxIndexMiB = par2.DefaultMaxScanBytes / mib
	}
	c.Logs.Directory = resolvePath(c.Logs.Directory)
	if c.Logs.MaxSizeMB <= 0 {
		c.Logs.MaxSizeMB = 25
	}
	if c.Logs.MaxAgeDays <= 0 {
		c.Logs.MaxAgeDays = 7
	}
	if c.Logs.MaxBackups <= 0 {
		c.Logs.MaxBackups = 5
	}
	if c.Logs.Level == "" {
		c.Logs.Level = "info"
	}
	c.Audit.Path = resolvePath(c.Audit.Path)
	if c.Audit.Enabled && c.Audit.Path == "" {
		c.Audit.Path = "par2rename-audit.jsonl"
	}
	if c.Report.Lang == "" {
		c.Report.Lang = "en"
	}
}

// Validate rejects settings the rewriter cannot honor.
func (c Config) Validate() error {
	if strings.ContainsAny(c.Output.Prefix, `/\`) {
		return fmt.Errorf("output.prefix %q must not contain a path separator", c.Output.Prefix)
	}
	if c.Scan.RefillMiB > c.Scan.InitialWindowMiB {
		return fmt.Errorf("scan.refillMiB (%d) exceeds scan.initialWindowMiB (%d)", c.Scan.RefillMiB, c.Scan.InitialWindowMiB)
	}
	return nil
}

// ScanOptions converts the scan section into window sizes.
func (c Config) ScanOptions() par2.ScanOptions {
	return par2.ScanOptions{
		InitialWindow: c.Scan.InitialWindowMiB * mib,
		RefillSize:    c.Scan.RefillMiB * mib,
		MaxPacketSize: c.Scan.MaxPacketMiB * mib,
	}
}

// IndexOptions returns the options for the read-only index pass.
func (c Config) IndexOptions() par2.IndexOptions {
	return par2.IndexOptions{
		Scan:         c.ScanOptions(),
		MaxScanBytes: int64(c.Scan.MaxIndexMiB) * mib,
	}
}

// LogOptions returns the logging section for common.SetupLogging.
func (c Config) LogOptions() common.LogOptions {
	return common.LogOptions{
		Directory:  c.Logs.Directory,
		MaxSizeMB:  c.Logs.MaxSizeMB,
		MaxAgeDays: c.Logs.MaxAgeDays,
		MaxBackups: c.Logs.MaxBackups,
		Compress:   c.Logs.Compress,
		Level:      c.Logs.Level,
	}
}
