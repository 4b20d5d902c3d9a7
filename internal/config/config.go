package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the main configuration for amber.
type Config struct {
	ProjectRoot   string           `toml:"project_root"`
	LogDir        string           `toml:"log_dir"`
	OutputDir     string           `toml:"output_dir"`
	CNAME         string           `toml:"cname,omitempty"`
	ListenAddr    string           `toml:"listen_addr"`
	PollInterval  string           `toml:"poll_interval"`
	OnDelete      string           `toml:"on_delete"` // "ignore", "restrict" or "cascade"
	LenientReload bool             `toml:"lenient_reload"`
	Database      DatabaseConfig   `toml:"database"`
	Filesystem    FilesystemConfig `toml:"filesystem"`
	Site          SiteConfig       `toml:"site"`
	Publish       PublishConfig    `toml:"publish"`
	Models        []ModelConfig    `toml:"models"`
}

// DatabaseConfig represents configuration for the record database.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type DatabaseConfig struct {
	Type    string `toml:"type"`               // "sqlite" or "memory"
	DataDir string `toml:"data_dir,omitempty"` // only used for type=sqlite
}

// FilesystemConfig holds filesystem-related settings.
type FilesystemConfig struct {
	Ignore []string `toml:"ignore"`
}

// SiteConfig configures the preview server.
type SiteConfig struct {
	StaticDir string `toml:"static_dir"`
	StaticURL string `toml:"static_url"`
	Metrics   bool   `toml:"metrics"` // expose /metrics in serve mode
}

// PublishConfig represents the destination of built output.
// This uses a tagged union pattern - the Type field determines which other fields are relevant.
type PublishConfig struct {
	Type string `toml:"type"` // "memory", "filesystem" or "s3"

	// Filesystem-specific fields (only used when Type == "filesystem")
	FSRoot string `toml:"fs_root,omitempty"`

	// S3-specific fields (only used when Type == "s3")
	S3Bucket string `toml:"s3_bucket,omitempty"`
	S3Prefix string `toml:"s3_prefix,omitempty"`
	S3Region string `toml:"s3_region,omitempty"`
}

// ModelConfig declares one synced model.
type ModelConfig struct {
	AppLabel     string        `toml:"app_label"`
	Name         string        `toml:"name"`
	PathTemplate string        `toml:"path_template,omitempty"`
	HasContent   bool          `toml:"has_content"`
	KeyFields    []string      `toml:"key_fields,omitempty"`
	KeyStructure string        `toml:"key_structure,omitempty"`
	Fields       []FieldConfig `toml:"fields,omitempty"`
}

// FieldConfig declares one model field.
type FieldConfig struct {
	Name   string `toml:"name"`
	Kind   string `toml:"kind,omitempty"`   // "scalar" (default), "time", "foreign_key", "many_to_many"
	Target string `toml:"target,omitempty"` // related model for relation kinds
}

// DefaultPollInterval is the reconcile cadence when none is configured.
const DefaultPollInterval = 100 * time.Millisecond

// NewConfig creates a Config for a project rooted at projectRoot, with a
// SQLite database and logs kept under .amber.
func NewConfig(projectRoot string) *Config {
	return &Config{
		ProjectRoot:  projectRoot,
		LogDir:       filepath.Join(projectRoot, ".amber", "log"),
		OutputDir:    filepath.Join(projectRoot, "output"),
		ListenAddr:   "127.0.0.1:8000",
		PollInterval: DefaultPollInterval.String(),
		OnDelete:     "restrict",
		Database: DatabaseConfig{
			Type:    "sqlite",
			DataDir: filepath.Join(projectRoot, ".amber"),
		},
		Site: SiteConfig{
			StaticDir: filepath.Join(projectRoot, "static"),
			StaticURL: "/static/",
		},
		Publish: PublishConfig{
			Type:   "filesystem",
			FSRoot: filepath.Join(projectRoot, "public"),
		},
	}
}

// Poll returns the parsed poll interval.
func (c *Config) Poll() (time.Duration, error) {
	if c.PollInterval == "" {
		return DefaultPollInterval, nil
	}
	d, err := time.ParseDuration(c.PollInterval)
	if err != nil {
		return 0, fmt.Errorf("invalid poll_interval: %w", err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("poll_interval must be positive, got %s", d)
	}
	return d, nil
}

// Validate checks the settings every command depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.ProjectRoot == "" {
		errs = append(errs, errors.New("project_root is required"))
	}
	switch c.OnDelete {
	case "ignore", "restrict", "cascade":
	case "":
		errs = append(errs, errors.New("on_delete is required (ignore, restrict or cascade)"))
	default:
		errs = append(errs, fmt.Errorf("unknown on_delete policy: %q", c.OnDelete))
	}
	switch c.Database.Type {
	case "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown database type: %q", c.Database.Type))
	}
	if _, err := c.Poll(); err != nil {
		errs = append(errs, err)
	}
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("no models configured"))
	}
	return errors.Join(errs...)
}

// Resolve makes a configured path absolute relative to the project root.
func (c *Config) Resolve(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.ProjectRoot, path)
}

// Manager handles reading and writing configuration.
type Manager struct{}

// Read decodes a Config from the provided reader.
func (m *Manager) Read(r io.Reader) (*Config, error) {
	var cfg Config
	if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	return &cfg, nil
}

// Write encodes a Config to the provided writer.
func (m *Manager) Write(w io.Writer, cfg *Config) error {
	if err := toml.NewEncoder(w).Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}

// ReadFromFile reads a Config from the specified file path. A missing or
// relative project_root is taken relative to the config file's directory,
// and the other configured directories relative to the project root.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f)
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	dir, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("resolving config directory: %w", err)
	}
	if cfg.ProjectRoot == "" {
		cfg.ProjectRoot = dir
	} else if !filepath.IsAbs(cfg.ProjectRoot) {
		cfg.ProjectRoot = filepath.Join(dir, cfg.ProjectRoot)
	}
	cfg.LogDir = cfg.Resolve(cfg.LogDir)
	cfg.OutputDir = cfg.Resolve(cfg.OutputDir)
	cfg.Database.DataDir = cfg.Resolve(cfg.Database.DataDir)
	cfg.Site.StaticDir = cfg.Resolve(cfg.Site.StaticDir)
	cfg.Publish.FSRoot = cfg.Resolve(cfg.Publish.FSRoot)

	return cfg, nil
}

func writeToFile(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	if err := m.Write(f, cfg); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

// Init writes a new config file. It refuses to overwrite an existing one.
func Init(path string, cfg *Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := writeToFile(path, cfg); err != nil {
		return fmt.Errorf("initializing config: %w", err)
	}
	return nil
}
