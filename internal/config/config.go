// Package config handles loading application configuration from a YAML file
// with environment variable overrides.
//
// Config file format (pocali.yaml):
//
//	listen_addr: ":5000"
//	public_url: "https://pocali.example.com"
//	database:
//	  driver: sqlite          # sqlite | postgres
//	  dsn: "user_data.db"
//	storage:
//	  backend: fs             # fs | objectstore | cdn
//	  images_dir: "./static/images"
//	  url_prefix: "/static/images"
//	admin:
//	  password: "change-me"
//	log:
//	  level: info
//	  format: json
//
// Configuration sources, in increasing priority order:
//  1. Built-in defaults
//  2. YAML config file (located by FindConfigFile or explicit path)
//  3. Environment variables (see Load)
package config

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// ListenAddr is the TCP address for the HTTP server (e.g. ":5000").
	ListenAddr string `yaml:"listen_addr"`

	// PublicURL is the scheme and host clients reach the server at
	// (e.g. "https://pocali.example.com"). Absolute links such as the Atom
	// feed's are built from it; when empty they use the request's Host.
	PublicURL string `yaml:"public_url"`

	Database Database `yaml:"database"`
	Storage  Storage  `yaml:"storage"`
	Admin    Admin    `yaml:"admin"`
	Cookie   Cookie   `yaml:"cookie"`
	Log      Log      `yaml:"log"`

	// CORSOrigins lists the browser origins allowed to call the API with
	// credentials. Empty disables CORS handling.
	CORSOrigins []string `yaml:"cors_origins"`

	// SubstitutionsFile is an optional YAML file holding the ordered
	// abbreviation table used by the filename parser.
	SubstitutionsFile string `yaml:"substitutions_file"`

	// CatalogCacheTTLStr is how long an assembled catalog is reused before
	// the storage backend is listed again, as a duration string ("30s").
	// "0" disables caching.
	CatalogCacheTTLStr string `yaml:"catalog_cache_ttl"`

	// CatalogCacheTTL is the parsed form of CatalogCacheTTLStr.
	CatalogCacheTTL time.Duration `yaml:"-"`
}

// Database selects and locates the user/friend store.
type Database struct {
	// Driver is "sqlite" (default) or "postgres".
	Driver string `yaml:"driver"`

	// DSN is a file path for sqlite or a connection URL for postgres.
	DSN string `yaml:"dsn"`
}

// Storage selects where card images live.
type Storage struct {
	// Backend is "fs" (default), "objectstore" or "cdn".
	Backend string `yaml:"backend"`

	// ImagesDir is the root directory of the fs backend.
	ImagesDir string `yaml:"images_dir"`

	// URLPrefix is the public path the fs backend's images are served under.
	URLPrefix string `yaml:"url_prefix"`

	ObjectStore ObjectStore `yaml:"objectstore"`
	CDN         CDN         `yaml:"cdn"`
}

// ObjectStore configures the bucket-listing backend.
type ObjectStore struct {
	BaseURL string `yaml:"base_url"`
	Bucket  string `yaml:"bucket"`
	Prefix  string `yaml:"prefix"`
	Token   string `yaml:"token"`
}

// CDN configures the asset-manifest backend.
type CDN struct {
	BaseURL    string `yaml:"base_url"`
	CloudName  string `yaml:"cloud_name"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	RootFolder string `yaml:"root_folder"`
}

// Admin holds the shared admin credential. PasswordHash (bcrypt) wins over
// Password when both are set. Leave both empty to disable admin
// authentication (development use only).
type Admin struct {
	Password     string `yaml:"password"`
	PasswordHash string `yaml:"password_hash"`
}

// Enabled reports whether an admin credential is configured.
func (a Admin) Enabled() bool {
	return a.Password != "" || a.PasswordHash != ""
}

// Cookie controls attributes of the cookies the server sets.
type Cookie struct {
	Secure bool `yaml:"secure"`

	// SameSite is "lax", "strict" or "none".
	SameSite string `yaml:"same_site"`
}

// SameSiteMode converts SameSite to its net/http value. Unknown values map
// to the browser default.
func (c Cookie) SameSiteMode() http.SameSite {
	switch strings.ToLower(c.SameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	default:
		return http.SameSiteDefaultMode
	}
}

// Log configures the global logger.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a Config populated with sensible defaults.
func Default() Config {
	return Config{
		ListenAddr: ":5000",
		Database: Database{
			Driver: "sqlite",
			DSN:    "user_data.db",
		},
		Storage: Storage{
			Backend:   "fs",
			ImagesDir: "./static/images",
			URLPrefix: "/static/images",
			ObjectStore: ObjectStore{
				BaseURL: "https://firebasestorage.googleapis.com",
				Prefix:  "images",
			},
			CDN: CDN{
				BaseURL:    "https://api.cloudinary.com",
				RootFolder: "pocali",
			},
		},
		Cookie: Cookie{
			Secure:   true,
			SameSite: "none",
		},
		Log: Log{
			Level:  "info",
			Format: "json",
		},
		CatalogCacheTTLStr: "30s",
		CatalogCacheTTL:    30 * time.Second,
	}
}

// Load reads configuration from the YAML file at path (if non-empty), then
// applies environment variable overrides on top. Returns the merged Config.
// If path is empty, only defaults and environment variables are applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if cfg.CatalogCacheTTLStr != "" && cfg.CatalogCacheTTLStr != "0" {
		if d, err := time.ParseDuration(cfg.CatalogCacheTTLStr); err == nil {
			cfg.CatalogCacheTTL = d
		}
		// Invalid strings keep the default.
	} else {
		cfg.CatalogCacheTTL = 0
	}

	return cfg, nil
}

// applyEnv overrides cfg with any non-empty environment variables.
// Environment variables always win over file values so that container and
// PaaS overrides work even when a config file is present.
func applyEnv(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("PORT"); v != "" {
		cfg.ListenAddr = ":" + v
	}
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("PUBLIC_URL", &cfg.PublicURL)

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.DSN)
	str("DATABASE_DSN", &cfg.Database.DSN)

	str("STORAGE_BACKEND", &cfg.Storage.Backend)
	str("IMAGES_DIR", &cfg.Storage.ImagesDir)
	str("IMAGES_URL_PREFIX", &cfg.Storage.URLPrefix)
	str("OBJECTSTORE_BASE_URL", &cfg.Storage.ObjectStore.BaseURL)
	str("OBJECTSTORE_BUCKET", &cfg.Storage.ObjectStore.Bucket)
	str("OBJECTSTORE_PREFIX", &cfg.Storage.ObjectStore.Prefix)
	str("OBJECTSTORE_TOKEN", &cfg.Storage.ObjectStore.Token)
	str("CDN_BASE_URL", &cfg.Storage.CDN.BaseURL)
	str("CDN_CLOUD_NAME", &cfg.Storage.CDN.CloudName)
	str("CDN_API_KEY", &cfg.Storage.CDN.APIKey)
	str("CDN_API_SECRET", &cfg.Storage.CDN.APISecret)
	str("CDN_ROOT_FOLDER", &cfg.Storage.CDN.RootFolder)

	str("ADMIN_PASSWORD", &cfg.Admin.Password)
	str("ADMIN_PASSWORD_HASH", &cfg.Admin.PasswordHash)

	if v := os.Getenv("COOKIE_SECURE"); v != "" {
		cfg.Cookie.Secure = v == "1" || strings.EqualFold(v, "true")
	}
	str("COOKIE_SAMESITE", &cfg.Cookie.SameSite)

	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.CORSOrigins = nil
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.CORSOrigins = append(cfg.CORSOrigins, o)
			}
		}
	}

	str("LOG_LEVEL", &cfg.Log.Level)
	str("LOG_FORMAT", &cfg.Log.Format)
	str("SUBSTITUTIONS_FILE", &cfg.SubstitutionsFile)
	str("CATALOG_CACHE_TTL", &cfg.CatalogCacheTTLStr)
}

// Validate reports the first configuration error that would prevent the
// server from starting.
func (c Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver: unsupported driver %q (want sqlite or postgres)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn: must not be empty")
	}

	switch c.Storage.Backend {
	case "fs":
		if c.Storage.ImagesDir == "" {
			return fmt.Errorf("storage.images_dir: must not be empty for the fs backend")
		}
	case "objectstore":
		if c.Storage.ObjectStore.Bucket == "" {
			return fmt.Errorf("storage.objectstore.bucket: must not be empty")
		}
	case "cdn":
		cdn := c.Storage.CDN
		if cdn.CloudName == "" || cdn.APIKey == "" || cdn.APISecret == "" {
			return fmt.Errorf("storage.cdn: cloud_name, api_key and api_secret are required")
		}
	default:
		return fmt.Errorf("storage.backend: unsupported backend %q (want fs, objectstore or cdn)", c.Storage.Backend)
	}

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("public_url: %q is not an absolute http(s) URL", c.PublicURL)
		}
	}

	switch strings.ToLower(c.Cookie.SameSite) {
	case "lax", "strict", "none", "":
	default:
		return fmt.Errorf("cookie.same_site: unsupported value %q", c.Cookie.SameSite)
	}
	return nil
}

// FindConfigFile returns the path to the first config file found in the
// standard search order, or "" if none is found.
//
// Search order:
//  1. POCALI_CONFIG environment variable (explicit override)
//  2. ./pocali.yaml (current working directory)
//  3. ~/.config/pocali/config.yaml (XDG user config)
func FindConfigFile() string {
	if p := os.Getenv("POCALI_CONFIG"); p != "" {
		return p
	}

	if _, err := os.Stat("pocali.yaml"); err == nil {
		return "pocali.yaml"
	}

	if home, err := os.UserHomeDir(); err == nil {
		p := filepath.Join(home, ".config", "pocali", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	return ""
}
