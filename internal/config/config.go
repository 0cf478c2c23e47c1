package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"github.com/coachcall/edge/pkg/guard"
	"github.com/coachcall/edge/pkg/proxy"
)

const (
	// ConfigFileName is the name of the configuration file.
	ConfigFileName = "coachcall.json"

	// DefaultListenAddr is the default bind address for the edge server.
	DefaultListenAddr = ":8080"

	// DefaultBackendURL is the default backend API base URL.
	DefaultBackendURL = "http://localhost:8000"

	// DefaultAvatarDir is the default directory for disk avatar storage.
	DefaultAvatarDir = "data/avatars"

	// DefaultAvatarBaseURL is the default public path for stored avatars.
	DefaultAvatarBaseURL = "/media/avatars"

	// DefaultAvatarMaxSize is the default avatar size limit in bytes.
	DefaultAvatarMaxSize int64 = 5 << 20

	// DefaultMetricsNamespace is the default prometheus namespace.
	DefaultMetricsNamespace = "coachcall"
)

// Avatar store kinds.
const (
	AvatarStoreDisk = "disk"
	AvatarStoreS3   = "s3"
)

// envPrefix prefixes all environment override names.
const envPrefix = "COACHCALL_"

// Config is the complete coachcall.json configuration.
type Config struct {
	// ListenAddr is the edge server bind address.
	ListenAddr string `json:"listen_addr,omitempty"`

	// BackendURL is the backend API base URL. All /api traffic and auth
	// operations go here.
	BackendURL string `json:"backend_url,omitempty"`

	// ServerRefresh enables a refresh attempt during server-side render
	// when a refresh cookie is present. Off by default: the server renders
	// unauthenticated and lets the browser establish the session.
	ServerRefresh bool `json:"server_refresh,omitempty"`

	// Cookies controls how backend Set-Cookie headers are rewritten.
	Cookies CookieConfig `json:"cookies,omitempty"`

	// Routes names the page routes the guard decides over.
	Routes RouteConfig `json:"routes,omitempty"`

	// Avatar configures profile image storage.
	Avatar AvatarConfig `json:"avatar,omitempty"`

	// Metrics configures prometheus metric naming.
	Metrics MetricsConfig `json:"metrics,omitempty"`

	// configPath stores the path the config was loaded from.
	configPath string
}

// CookieConfig controls refresh cookie handling at the proxy.
type CookieConfig struct {
	// RefreshName is the refresh credential cookie name.
	RefreshName string `json:"refresh_name,omitempty"`

	// SameSite is the SameSite attribute forced onto backend cookies.
	// "Lax" or "Strict"; the edge serves app and API from one origin, so
	// "None" is rejected.
	SameSite string `json:"same_site,omitempty"`
}

// RouteConfig names the application's page routes.
type RouteConfig struct {
	Login      string `json:"login,omitempty"`
	Register   string `json:"register,omitempty"`
	Landing    string `json:"landing,omitempty"`
	Dashboard  string `json:"dashboard,omitempty"`
	Onboarding string `json:"onboarding,omitempty"`

	// Public lists extra routes reachable without a session.
	Public []string `json:"public,omitempty"`
}

// AvatarConfig configures profile image storage.
type AvatarConfig struct {
	// Store selects the backend: "disk" or "s3".
	Store string `json:"store,omitempty"`

	// Dir is the storage directory for the disk store.
	Dir string `json:"dir,omitempty"`

	// BaseURL is the public URL prefix stored images are served under.
	BaseURL string `json:"base_url,omitempty"`

	// S3Bucket and S3Prefix locate objects for the s3 store.
	S3Bucket string `json:"s3_bucket,omitempty"`
	S3Prefix string `json:"s3_prefix,omitempty"`

	// MaxSizeBytes limits uploads. 0 uses the default.
	MaxSizeBytes int64 `json:"max_size_bytes,omitempty"`
}

// MetricsConfig configures prometheus metric naming.
type MetricsConfig struct {
	Namespace string `json:"namespace,omitempty"`
}

// New returns a Config with defaults applied.
func New() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads coachcall.json from dir. A missing file yields the defaults;
// environment overrides apply either way.
func Load(dir string) (*Config, error) {
	return LoadFile(filepath.Join(dir, ConfigFileName))
}

// LoadFile reads configuration from the specified file path.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// Defaults plus environment only.
	case err != nil:
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
		cfg.configPath = path
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Path returns the path the config was loaded from, or "" when built from
// defaults and environment alone.
func (c *Config) Path() string { return c.configPath }

// applyEnv overlays COACHCALL_* environment variables onto the config.
func (c *Config) applyEnv() {
	if v := os.Getenv(envPrefix + "LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv(envPrefix + "BACKEND_URL"); v != "" {
		c.BackendURL = v
	}
	if v := os.Getenv(envPrefix + "SERVER_REFRESH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.ServerRefresh = b
		}
	}
	if v := os.Getenv(envPrefix + "COOKIE_SAME_SITE"); v != "" {
		c.Cookies.SameSite = v
	}
	if v := os.Getenv(envPrefix + "AVATAR_STORE"); v != "" {
		c.Avatar.Store = v
	}
	if v := os.Getenv(envPrefix + "AVATAR_S3_BUCKET"); v != "" {
		c.Avatar.S3Bucket = v
	}
	if v := os.Getenv(envPrefix + "AVATAR_BASE_URL"); v != "" {
		c.Avatar.BaseURL = v
	}
	if v := os.Getenv(envPrefix + "METRICS_NAMESPACE"); v != "" {
		c.Metrics.Namespace = v
	}
}

// applyDefaults fills in default values for empty fields.
func (c *Config) applyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = DefaultListenAddr
	}
	if c.BackendURL == "" {
		c.BackendURL = DefaultBackendURL
	}

	if c.Cookies.RefreshName == "" {
		c.Cookies.RefreshName = proxy.DefaultRefreshCookieName
	}
	if c.Cookies.SameSite == "" {
		c.Cookies.SameSite = proxy.DefaultSameSite
	}

	defaults := guard.DefaultRoutes()
	if c.Routes.Login == "" {
		c.Routes.Login = defaults.Login
	}
	if c.Routes.Register == "" {
		c.Routes.Register = defaults.Register
	}
	if c.Routes.Landing == "" {
		c.Routes.Landing = defaults.Landing
	}
	if c.Routes.Dashboard == "" {
		c.Routes.Dashboard = defaults.Dashboard
	}
	if c.Routes.Onboarding == "" {
		c.Routes.Onboarding = defaults.Onboarding
	}

	if c.Avatar.Store == "" {
		c.Avatar.Store = AvatarStoreDisk
	}
	if c.Avatar.Dir == "" {
		c.Avatar.Dir = DefaultAvatarDir
	}
	if c.Avatar.BaseURL == "" {
		c.Avatar.BaseURL = DefaultAvatarBaseURL
	}
	if c.Avatar.MaxSizeBytes == 0 {
		c.Avatar.MaxSizeBytes = DefaultAvatarMaxSize
	}

	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = DefaultMetricsNamespace
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BackendURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("config: backend_url %q must be an absolute http(s) URL", c.BackendURL)
	}

	switch c.Cookies.SameSite {
	case "Lax", "Strict":
	default:
		return fmt.Errorf("config: cookies.same_site %q must be Lax or Strict", c.Cookies.SameSite)
	}

	switch c.Avatar.Store {
	case AvatarStoreDisk:
	case AvatarStoreS3:
		if c.Avatar.S3Bucket == "" {
			return fmt.Errorf("config: avatar.s3_bucket is required for the s3 store")
		}
	default:
		return fmt.Errorf("config: avatar.store %q must be %q or %q", c.Avatar.Store, AvatarStoreDisk, AvatarStoreS3)
	}

	return nil
}

// GuardRoutes returns the route table for the navigation guard.
func (c *Config) GuardRoutes() guard.Routes {
	return guard.Routes{
		Login:      c.Routes.Login,
		Register:   c.Routes.Register,
		Landing:    c.Routes.Landing,
		Dashboard:  c.Routes.Dashboard,
		Onboarding: c.Routes.Onboarding,
		Public:     c.Routes.Public,
	}
}

// CookiePolicy returns the proxy cookie rewrite policy.
func (c *Config) CookiePolicy() proxy.CookiePolicy {
	return proxy.CookiePolicy{
		RefreshCookieName: c.Cookies.RefreshName,
		SameSite:          c.Cookies.SameSite,
	}
}
