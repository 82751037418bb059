// Package config loads the kiosk server configuration: a YAML file written
// with defaults on first run, then overridden by .env and PHOTOCAL_*
// environment variables for secrets.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"photocal/internal/holiday"
)

const DefaultPath = "/etc/photocal/config.yaml"

type LogConfig struct {
	Level     string `yaml:"level"`
	JSON      bool   `yaml:"json"`
	SentryDSN string `yaml:"sentry_dsn,omitempty"`
}

type SlideshowConfig struct {
	Interval time.Duration `yaml:"interval"`
}

type HolidayConfig struct {
	// Denylist names are hidden from the calendar. An empty list shows every
	// generated holiday.
	Denylist []string `yaml:"denylist"`
}

type StoreConfig struct {
	// Driver is "sqlite" or "firestore".
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
	GCPProject string `yaml:"gcp_project,omitempty"`
}

type ObjectsConfig struct {
	// Driver is "gcs", "s3" or "memory" (development only).
	Driver          string        `yaml:"driver"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region,omitempty"`
	Endpoint        string        `yaml:"endpoint,omitempty"`
	AccessKey       string        `yaml:"access_key,omitempty"`
	SecretKey       string        `yaml:"secret_key,omitempty"`
	SignedURLExpiry time.Duration `yaml:"signed_url_expiry"`
	RawPrefix       string        `yaml:"raw_prefix"`
}

type CacheConfig struct {
	// Origin is the image host whose responses are cached, e.g.
	// "storage.googleapis.com".
	Origin string `yaml:"origin"`
	// Driver is "disk" or "badger".
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
}

type AuthConfig struct {
	Allowed []string `yaml:"allowed"`
	// Users maps email to a bcrypt hash.
	Users         map[string]string `yaml:"users"`
	SessionSecret string            `yaml:"session_secret,omitempty"`
	SessionTTL    time.Duration     `yaml:"session_ttl"`
	// CallbackToken authenticates the image processing service.
	CallbackToken string `yaml:"callback_token,omitempty"`
}

type PreviewConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Path    string `yaml:"path"`
}

type PowerConfig struct {
	Bus  string `yaml:"i2c_bus"`
	Addr uint16 `yaml:"i2c_addr"`
}

type FeedConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

type Config struct {
	Listen   string `yaml:"listen"`
	Timezone string `yaml:"timezone"`
	// WeekStart is "sunday" (default) or "monday".
	WeekStart string `yaml:"week_start"`

	Log       LogConfig       `yaml:"log"`
	Refresh   string          `yaml:"refresh"`
	Slideshow SlideshowConfig `yaml:"slideshow"`
	Holidays  HolidayConfig   `yaml:"holidays"`
	Store     StoreConfig     `yaml:"store"`
	Objects   ObjectsConfig   `yaml:"objects"`
	Cache     CacheConfig     `yaml:"cache"`
	Auth      AuthConfig      `yaml:"auth"`
	Preview   PreviewConfig   `yaml:"preview"`
	Power     PowerConfig     `yaml:"power"`
	Feeds     []FeedConfig    `yaml:"feeds"`
}

func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills zero values so partially written files keep working.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = "127.0.0.1:8080"
	}
	if c.Timezone == "" {
		c.Timezone = "America/Los_Angeles"
	}
	switch c.WeekStart {
	case "sunday", "monday":
	default:
		c.WeekStart = "sunday"
	}
	if c.Log.Level == "" {
		c.Log.Level = "INFO"
	}
	if c.Refresh == "" {
		c.Refresh = "*/15 * * * *"
	}
	if c.Slideshow.Interval <= 0 {
		c.Slideshow.Interval = 10 * time.Second
	}
	if c.Holidays.Denylist == nil {
		c.Holidays.Denylist = holiday.DefaultDenylist()
	}
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.SQLitePath == "" {
		c.Store.SQLitePath = "/var/lib/photocal/photocal.db"
	}
	if c.Objects.Driver == "" {
		c.Objects.Driver = "gcs"
	}
	if c.Objects.SignedURLExpiry <= 0 {
		c.Objects.SignedURLExpiry = 7 * 24 * time.Hour
	}
	if c.Objects.RawPrefix == "" {
		c.Objects.RawPrefix = "raw-uploads/"
	}
	if c.Cache.Origin == "" {
		c.Cache.Origin = "storage.googleapis.com"
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = "disk"
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = "/var/lib/photocal/image-cache"
	}
	if c.Auth.Allowed == nil {
		c.Auth.Allowed = []string{}
	}
	if c.Auth.Users == nil {
		c.Auth.Users = map[string]string{}
	}
	if c.Auth.SessionTTL <= 0 {
		c.Auth.SessionTTL = 30 * 24 * time.Hour
	}
	if c.Preview.URL == "" {
		c.Preview.URL = "http://127.0.0.1:8080/"
	}
	if c.Preview.Path == "" {
		c.Preview.Path = "/var/lib/photocal/preview.png"
	}
	if c.Power.Addr == 0 {
		c.Power.Addr = 0x57
	}
	if c.Feeds == nil {
		c.Feeds = []FeedConfig{}
	}
}

// Location resolves Timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Validate checks the settings the server cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone: %w", err))
	}
	switch c.Store.Driver {
	case "sqlite":
	case "firestore":
		if c.Store.GCPProject == "" {
			errs = append(errs, errors.New("store.gcp_project is required for firestore"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver: unknown %q", c.Store.Driver))
	}
	switch c.Objects.Driver {
	case "gcs", "s3", "memory":
	default:
		errs = append(errs, fmt.Errorf("objects.driver: unknown %q", c.Objects.Driver))
	}
	switch c.Cache.Driver {
	case "disk", "badger":
	default:
		errs = append(errs, fmt.Errorf("cache.driver: unknown %q", c.Cache.Driver))
	}
	if c.Auth.SessionSecret == "" {
		errs = append(errs, errors.New("auth.session_secret is empty (set PHOTOCAL_SESSION_SECRET)"))
	}
	return errors.Join(errs...)
}

// Load reads path, creating it with defaults on first run, then applies
// environment overrides. Overrides are never written back to the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	cfg, err := readOrCreate(path)
	if err != nil {
		return cfg, err
	}

	// a missing .env is normal in production
	_ = godotenv.Load()
	cfg.ApplyEnv(os.LookupEnv)
	return cfg, nil
}

func readOrCreate(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			return cfg, Save(path, cfg)
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()
	return &cfg, nil
}

// ApplyEnv overlays PHOTOCAL_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PHOTOCAL_LISTEN", &c.Listen)
	str("PHOTOCAL_TIMEZONE", &c.Timezone)
	str("PHOTOCAL_LOG_LEVEL", &c.Log.Level)
	str("PHOTOCAL_SENTRY_DSN", &c.Log.SentryDSN)
	str("PHOTOCAL_SESSION_SECRET", &c.Auth.SessionSecret)
	str("PHOTOCAL_CALLBACK_TOKEN", &c.Auth.CallbackToken)
	str("PHOTOCAL_S3_ACCESS_KEY", &c.Objects.AccessKey)
	str("PHOTOCAL_S3_SECRET_KEY", &c.Objects.SecretKey)
	str("PHOTOCAL_BUCKET", &c.Objects.Bucket)
	str("PHOTOCAL_GCP_PROJECT", &c.Store.GCPProject)

	if v, ok := lookup("PHOTOCAL_ALLOWED_EMAILS"); ok && v != "" {
		var out []string
		for _, e := range strings.Split(v, ",") {
			if e = strings.TrimSpace(e); e != "" {
				out = append(out, e)
			}
		}
		c.Auth.Allowed = out
	}
	if v, ok := lookup("PHOTOCAL_LOG_JSON"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Log.JSON = b
		}
	}
}

// Save writes cfg atomically with 0600 permissions; the file holds
// password hashes.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}
	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".photocal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
