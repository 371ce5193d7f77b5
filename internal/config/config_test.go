package config_test

import (
	"net/http"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/yawon3/pocali-backend/internal/config"
)

// envKeys lists every variable Load consults.
var envKeys = []string{
	"PORT", "LISTEN_ADDR", "PUBLIC_URL",
	"DATABASE_DRIVER", "DATABASE_URL", "DATABASE_DSN",
	"STORAGE_BACKEND", "IMAGES_DIR", "IMAGES_URL_PREFIX",
	"OBJECTSTORE_BASE_URL", "OBJECTSTORE_BUCKET", "OBJECTSTORE_PREFIX", "OBJECTSTORE_TOKEN",
	"CDN_BASE_URL", "CDN_CLOUD_NAME", "CDN_API_KEY", "CDN_API_SECRET", "CDN_ROOT_FOLDER",
	"ADMIN_PASSWORD", "ADMIN_PASSWORD_HASH",
	"COOKIE_SECURE", "COOKIE_SAMESITE", "CORS_ORIGINS",
	"LOG_LEVEL", "LOG_FORMAT", "SUBSTITUTIONS_FILE", "CATALOG_CACHE_TTL",
}

// clearEnv blanks every variable Load reads so the host environment cannot
// leak into a test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestDefault_Values(t *testing.T) {
	cfg := config.Default()
	if cfg.ListenAddr != ":5000" {
		t.Errorf("ListenAddr: got %q, want :5000", cfg.ListenAddr)
	}
	if cfg.Database.Driver != "sqlite" {
		t.Errorf("Database.Driver: got %q, want sqlite", cfg.Database.Driver)
	}
	if cfg.Storage.Backend != "fs" {
		t.Errorf("Storage.Backend: got %q, want fs", cfg.Storage.Backend)
	}
	if cfg.Admin.Enabled() {
		t.Error("Admin should be disabled by default")
	}
	if !cfg.Cookie.Secure || cfg.Cookie.SameSite != "none" {
		t.Errorf("Cookie: got %+v, want secure/none", cfg.Cookie)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_EmptyPath_UsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error: %v", err)
	}
	if cfg.ListenAddr != ":5000" {
		t.Errorf("ListenAddr: got %q, want :5000", cfg.ListenAddr)
	}
	if cfg.Storage.ImagesDir != "./static/images" {
		t.Errorf("ImagesDir: got %q, want ./static/images", cfg.Storage.ImagesDir)
	}
	if cfg.CatalogCacheTTL != 30*time.Second {
		t.Errorf("CatalogCacheTTL: got %v, want 30s", cfg.CatalogCacheTTL)
	}
}

func TestLoad_FromYAMLFile(t *testing.T) {
	yaml := `
listen_addr: ":9090"
database:
  driver: postgres
  dsn: "postgres://u:p@db/pocali"
storage:
  backend: cdn
  cdn:
    cloud_name: demo
    api_key: key
    api_secret: secret
admin:
  password: topsecret
cors_origins:
  - https://pocali.example
`
	path := writeTemp(t, "config.yaml", yaml)
	clearEnv(t)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Errorf("ListenAddr: got %q, want :9090", cfg.ListenAddr)
	}
	if cfg.Database.Driver != "postgres" || cfg.Database.DSN != "postgres://u:p@db/pocali" {
		t.Errorf("Database: got %+v", cfg.Database)
	}
	if cfg.Storage.Backend != "cdn" || cfg.Storage.CDN.CloudName != "demo" {
		t.Errorf("Storage: got %+v", cfg.Storage)
	}
	// Nested defaults survive a partial nested block.
	if cfg.Storage.CDN.RootFolder != "pocali" {
		t.Errorf("CDN.RootFolder: got %q, want pocali (default)", cfg.Storage.CDN.RootFolder)
	}
	if cfg.Admin.Password != "topsecret" {
		t.Errorf("Admin.Password: got %q, want topsecret", cfg.Admin.Password)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://pocali.example"}) {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoad_EnvVarsOverrideFile(t *testing.T) {
	yaml := `
listen_addr: ":9090"
storage:
  images_dir: "/file/images"
admin:
  password: filepass
`
	path := writeTemp(t, "config.yaml", yaml)
	clearEnv(t)
	t.Setenv("LISTEN_ADDR", ":5555")
	t.Setenv("IMAGES_DIR", "/env/images")
	t.Setenv("ADMIN_PASSWORD", "envpass")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("COOKIE_SECURE", "false")

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":5555" {
		t.Errorf("ListenAddr: got %q, want :5555 (from env)", cfg.ListenAddr)
	}
	if cfg.Storage.ImagesDir != "/env/images" {
		t.Errorf("ImagesDir: got %q, want /env/images (from env)", cfg.Storage.ImagesDir)
	}
	if cfg.Admin.Password != "envpass" {
		t.Errorf("Admin.Password: got %q, want envpass (from env)", cfg.Admin.Password)
	}
	if !reflect.DeepEqual(cfg.CORSOrigins, []string{"https://a.example", "https://b.example"}) {
		t.Errorf("CORSOrigins: got %v", cfg.CORSOrigins)
	}
	if cfg.Cookie.Secure {
		t.Error("Cookie.Secure: expected false from env")
	}
}

func TestLoad_PortFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8123")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.ListenAddr != ":8123" {
		t.Errorf("ListenAddr: got %q, want :8123", cfg.ListenAddr)
	}

	t.Setenv("LISTEN_ADDR", "127.0.0.1:9000")
	cfg, _ = config.Load("")
	if cfg.ListenAddr != "127.0.0.1:9000" {
		t.Errorf("LISTEN_ADDR should win over PORT, got %q", cfg.ListenAddr)
	}
}

func TestLoad_DatabaseDSNWinsOverURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("DATABASE_URL", "postgres://from-url")
	t.Setenv("DATABASE_DSN", "postgres://from-dsn")

	cfg, _ := config.Load("")
	if cfg.Database.DSN != "postgres://from-dsn" {
		t.Errorf("DSN: got %q", cfg.Database.DSN)
	}
}

func TestLoad_NonexistentFile_ReturnsError(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("expected error for nonexistent config file, got nil")
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTemp(t, "bad.yaml", "{ invalid yaml: [")
	_, err := config.Load(path)
	if err == nil {
		t.Error("expected error for invalid YAML, got nil")
	}
}

func TestLoad_CatalogCacheTTL(t *testing.T) {
	clearEnv(t)

	t.Setenv("CATALOG_CACHE_TTL", "2m")
	cfg, _ := config.Load("")
	if cfg.CatalogCacheTTL != 2*time.Minute {
		t.Errorf("from env: got %v, want 2m", cfg.CatalogCacheTTL)
	}

	t.Setenv("CATALOG_CACHE_TTL", "0")
	cfg, _ = config.Load("")
	if cfg.CatalogCacheTTL != 0 {
		t.Errorf("disabled: got %v, want 0", cfg.CatalogCacheTTL)
	}

	t.Setenv("CATALOG_CACHE_TTL", "")
	path := writeTemp(t, "ttl.yaml", `catalog_cache_ttl: "not-a-duration"`)
	cfg, _ = config.Load(path)
	if cfg.CatalogCacheTTL != 30*time.Second {
		t.Errorf("invalid string: got %v, want 30s (preserved default)", cfg.CatalogCacheTTL)
	}
}

func TestValidate_Errors(t *testing.T) {
	cases := map[string]func(*config.Config){
		"unknown driver":        func(c *config.Config) { c.Database.Driver = "mysql" },
		"empty dsn":             func(c *config.Config) { c.Database.DSN = "" },
		"unknown backend":       func(c *config.Config) { c.Storage.Backend = "s3" },
		"fs without dir":        func(c *config.Config) { c.Storage.ImagesDir = "" },
		"objectstore no bucket": func(c *config.Config) { c.Storage.Backend = "objectstore" },
		"cdn no credentials":    func(c *config.Config) { c.Storage.Backend = "cdn" },
		"bad samesite":          func(c *config.Config) { c.Cookie.SameSite = "sometimes" },
		"relative public url":   func(c *config.Config) { c.PublicURL = "pocali.example.com" },
		"ftp public url":        func(c *config.Config) { c.PublicURL = "ftp://pocali.example.com" },
	}
	for name, mutate := range cases {
		cfg := config.Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestFindConfigFile_EnvVar(t *testing.T) {
	path := writeTemp(t, "explicit.yaml", "listen_addr: \":1234\"")
	t.Setenv("POCALI_CONFIG", path)

	found := config.FindConfigFile()
	if found != path {
		t.Errorf("FindConfigFile: got %q, want %q", found, path)
	}
}

func TestFindConfigFile_LocalFile(t *testing.T) {
	t.Setenv("POCALI_CONFIG", "")

	orig, _ := os.Getwd()
	dir := t.TempDir()
	_ = os.Chdir(dir)
	defer func() { _ = os.Chdir(orig) }()

	if err := os.WriteFile(filepath.Join(dir, "pocali.yaml"), []byte("listen_addr: \":1\""), 0644); err != nil {
		t.Fatal(err)
	}
	if found := config.FindConfigFile(); found != "pocali.yaml" {
		t.Errorf("FindConfigFile: got %q, want pocali.yaml", found)
	}
}

func TestCookie_SameSiteMode(t *testing.T) {
	cases := map[string]http.SameSite{
		"lax":    http.SameSiteLaxMode,
		"Strict": http.SameSiteStrictMode,
		"none":   http.SameSiteNoneMode,
		"":       http.SameSiteDefaultMode,
	}
	for in, want := range cases {
		if got := (config.Cookie{SameSite: in}).SameSiteMode(); got != want {
			t.Errorf("SameSiteMode(%q): got %v, want %v", in, got, want)
		}
	}
}

// writeTemp creates a temporary file with the given content and returns its path.
func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writeTemp: %v", err)
	}
	return path
}

func TestLoad_PublicURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("PUBLIC_URL", "https://pocali.example.com")

	cfg, err := config.Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.PublicURL != "https://pocali.example.com" {
		t.Errorf("PublicURL: got %q", cfg.PublicURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("valid public url rejected: %v", err)
	}
}
