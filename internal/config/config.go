// Package config handles a11ypanel configuration from YAML files.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hazyhaar/a11ypanel/channel"
	"github.com/hazyhaar/a11ypanel/report"
)

// Config is the top-level configuration.
type Config struct {
	Browser  BrowserConfig  `yaml:"browser"`
	Transfer TransferConfig `yaml:"transfer"`
	Blob     BlobConfig     `yaml:"blob"`
	Catalog  CatalogConfig  `yaml:"catalog"`
	Engine   EngineConfig   `yaml:"engine"`
	Settings SettingsConfig `yaml:"settings"`
	Surfaces []string       `yaml:"surfaces"`
	Sinks    []SinkConfig   `yaml:"sinks"`
	Scan     ScanConfig     `yaml:"scan"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string        `yaml:"remote"`
	Headful          bool          `yaml:"headful"`
	MemoryLimit      int64         `yaml:"memory_limit"`
	RecycleInterval  time.Duration `yaml:"recycle_interval"`
	ResourceBlocking []string      `yaml:"resource_blocking"`
	NavTimeout       time.Duration `yaml:"nav_timeout"`
}

// TransferConfig is the blob indirection policy of the channel.
type TransferConfig struct {
	LargeInline   bool          `yaml:"large_inline"`
	BlobThreshold int           `yaml:"blob_threshold"`
	BlobTypes     []string      `yaml:"blob_types"`
	BlobTTL       time.Duration `yaml:"blob_ttl"`
}

// BlobConfig selects where indirected payloads are stored.
type BlobConfig struct {
	Store    string `yaml:"store"` // memory | sqlite | http
	DBPath   string `yaml:"db_path"`
	HTTPAddr string `yaml:"http_addr"`
	BaseURL  string `yaml:"base_url"`
}

// CatalogConfig lists the rule archives offered to surfaces.
type CatalogConfig struct {
	Archives       []report.Archive `yaml:"archives"`
	DefaultArchive string           `yaml:"default_archive"`
	DefaultPolicy  string           `yaml:"default_policy"`
}

// EngineConfig selects the rule engine adapter.
type EngineConfig struct {
	Kind      string        `yaml:"kind"`   // script | remote
	Script    string        `yaml:"script"` // bundle path for kind=script
	URL       string        `yaml:"url"`    // base URL for kind=remote
	Retries   int           `yaml:"retries"`
	Timeout   time.Duration `yaml:"timeout"`
	AllowFile bool          `yaml:"allow_file"`
}

// SettingsConfig locates the persisted user options.
type SettingsConfig struct {
	DBPath string `yaml:"db_path"` // empty: in memory
}

// SinkConfig defines an output backend for rendered views.
type SinkConfig struct {
	Type    string `yaml:"type"` // stdout | webhook
	URL     string `yaml:"url"`  // for webhook
	Retries int    `yaml:"retries"`
}

// ScanConfig tunes the surfaces' scan client.
type ScanConfig struct {
	RetryDelay time.Duration `yaml:"retry_delay"`
	Focused    bool          `yaml:"focused"`
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML configuration and applies defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used without a file.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Policy converts the transfer section to a channel policy.
func (c *Config) Policy() channel.Policy {
	return channel.Policy{
		LargeInline: c.Transfer.LargeInline,
		Threshold:   c.Transfer.BlobThreshold,
		Types:       c.Transfer.BlobTypes,
		Strip:       channel.DefaultPolicy().Strip,
	}
}

func (c *Config) applyDefaults() {
	if c.Browser.MemoryLimit <= 0 {
		c.Browser.MemoryLimit = 1 << 30
	}
	if c.Browser.RecycleInterval <= 0 {
		c.Browser.RecycleInterval = 4 * time.Hour
	}
	if c.Browser.NavTimeout <= 0 {
		c.Browser.NavTimeout = 30 * time.Second
	}
	if c.Transfer.BlobThreshold <= 0 {
		c.Transfer.BlobThreshold = channel.DefaultBlobThreshold
	}
	if len(c.Transfer.BlobTypes) == 0 {
		c.Transfer.BlobTypes = []string{channel.TypeScanComplete}
	}
	if c.Transfer.BlobTTL <= 0 {
		c.Transfer.BlobTTL = 2 * time.Minute
	}
	if c.Blob.Store == "" {
		c.Blob.Store = "memory"
	}
	if c.Blob.HTTPAddr == "" {
		c.Blob.HTTPAddr = "127.0.0.1:8477"
	}
	if c.Blob.BaseURL == "" {
		c.Blob.BaseURL = "http://" + c.Blob.HTTPAddr
	}
	if c.Catalog.DefaultArchive == "" {
		c.Catalog.DefaultArchive = "latest"
	}
	if c.Catalog.DefaultPolicy == "" {
		c.Catalog.DefaultPolicy = "IBM_Accessibility"
	}
	if len(c.Catalog.Archives) == 0 {
		c.Catalog.Archives = []report.Archive{{
			ID:     c.Catalog.DefaultArchive,
			Name:   "Latest deployment",
			Latest: true,
			Policies: []report.Policy{
				{ID: c.Catalog.DefaultPolicy, Name: "IBM Accessibility"},
				{ID: "WCAG_2_1", Name: "WCAG 2.1 (A, AA)"},
			},
		}}
	}
	if c.Engine.Kind == "" {
		c.Engine.Kind = "script"
	}
	if c.Engine.Retries <= 0 {
		c.Engine.Retries = 3
	}
	if c.Engine.Timeout <= 0 {
		c.Engine.Timeout = 60 * time.Second
	}
	if len(c.Surfaces) == 0 {
		c.Surfaces = []string{string(report.SurfaceMain), string(report.SurfaceSub)}
	}
	for i := range c.Sinks {
		if c.Sinks[i].Retries <= 0 {
			c.Sinks[i].Retries = 3
		}
	}
	if c.Scan.RetryDelay <= 0 {
		c.Scan.RetryDelay = 100 * time.Millisecond
	}
}

func (c *Config) validate() error {
	switch c.Blob.Store {
	case "memory", "sqlite", "http":
	default:
		return fmt.Errorf("config: unknown blob store %q", c.Blob.Store)
	}
	if c.Blob.Store == "sqlite" && c.Blob.DBPath == "" {
		return fmt.Errorf("config: blob.db_path required for sqlite store")
	}
	switch c.Engine.Kind {
	case "script", "remote":
	default:
		return fmt.Errorf("config: unknown engine kind %q", c.Engine.Kind)
	}
	if c.Engine.Kind == "remote" && c.Engine.URL == "" {
		return fmt.Errorf("config: engine.url required for remote engine")
	}
	for _, s := range c.Surfaces {
		if s != string(report.SurfaceMain) && s != string(report.SurfaceSub) {
			return fmt.Errorf("config: unknown surface %q", s)
		}
	}
	for _, s := range c.Sinks {
		switch s.Type {
		case "stdout":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("config: webhook sink needs a url")
			}
		default:
			return fmt.Errorf("config: unknown sink type %q", s.Type)
		}
	}
	return nil
}
