package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/goccy/go-yaml"

	"github.com/vango-dev/servermanager/internal/errors"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "SM_"

	// DefaultPort is the default web server port.
	DefaultPort = 8080

	// DefaultRoot is the default static file root.
	DefaultRoot = "./web/"

	// DefaultFile is served for directory paths.
	DefaultFile = "index.html"

	// DefaultMessageSizeLimit is the default POST body and frame limit in bytes.
	DefaultMessageSizeLimit = 100000

	// MinMessageSizeLimit is the smallest accepted message size limit.
	MinMessageSizeLimit = 1000
)

// Cache formats.
const (
	CacheOff      = "off"
	CacheFile     = "file"
	CacheSQL      = "sql"
	CacheDocument = "document"
)

// Log formats.
const (
	LogOff    = "off"
	LogStdout = "stdout"
	LogFile   = "file"
	LogSQL    = "sql"
)

// Database kinds.
const (
	DatabaseNone     = "none"
	DatabaseSQL      = "sql"
	DatabaseDocument = "document"
)

// Config is the complete server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server" envPrefix:"SERVER_"`
	Web      WebConfig      `yaml:"web" envPrefix:"WEB_"`
	Cache    CacheConfig    `yaml:"cache" envPrefix:"CACHE_"`
	Log      LogConfig      `yaml:"log" envPrefix:"LOG_"`
	SQL      SQLConfig      `yaml:"sql" envPrefix:"SQL_"`
	Document DocumentConfig `yaml:"document" envPrefix:"DOCUMENT_"`
	Metrics  MetricsConfig  `yaml:"metrics" envPrefix:"METRICS_"`

	// path stores where the config was loaded from.
	path string
}

// ServerConfig contains process-level settings.
type ServerConfig struct {
	// Watch enables reloading the application when watched files change.
	Watch bool `yaml:"watch" env:"WATCH"`

	// WatchDelay is the reload debounce in milliseconds (0-1000).
	WatchDelay int `yaml:"watchDelay" env:"WATCH_DELAY"`

	// Files lists additional files or directories to watch.
	Files []string `yaml:"files" env:"FILES" envSeparator:","`

	// Database selects the application database: none, sql or document.
	Database string `yaml:"database" env:"DATABASE"`
}

// WebConfig contains transport settings.
type WebConfig struct {
	Host string `yaml:"host" env:"HOST"`
	Port int    `yaml:"port" env:"PORT"`

	// Root is the directory static files are served from.
	Root string `yaml:"root" env:"ROOT"`

	// DefaultFile replaces directory paths.
	DefaultFile string `yaml:"defaultFile" env:"DEFAULT_FILE"`

	// Aliases maps request paths to files, relative to Root.
	Aliases map[string]string `yaml:"aliases"`

	// MessageSizeLimit caps POST bodies and WebSocket frames, in bytes.
	MessageSizeLimit int64 `yaml:"messageSizeLimit" env:"MESSAGE_SIZE_LIMIT"`

	// DisablePost turns off the POST endpoint. WebSockets are forced on.
	DisablePost bool `yaml:"disablePost" env:"DISABLE_POST"`

	WebSocket     bool   `yaml:"webSocket" env:"WEBSOCKET"`
	WebSocketPath string `yaml:"webSocketPath" env:"WEBSOCKET_PATH"`

	// TrustedProxies lists IPs or CIDRs whose forwarding headers are honored.
	TrustedProxies []string `yaml:"trustedProxies" env:"TRUSTED_PROXIES" envSeparator:","`

	// SessionTTL is the HTTP session lifetime in seconds.
	SessionTTL int `yaml:"sessionTTL" env:"SESSION_TTL"`

	// ShutdownTimeout is the graceful shutdown limit in seconds.
	ShutdownTimeout int `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// CacheConfig contains cache persistence settings.
type CacheConfig struct {
	Format string `yaml:"format" env:"FORMAT"`
	File   string `yaml:"file" env:"FILE"`
	Table  string `yaml:"table" env:"TABLE"`

	// Interval is the flush period in seconds (1-3600).
	Interval int `yaml:"interval" env:"INTERVAL"`
}

// LogConfig contains process and access log settings.
type LogConfig struct {
	Format string `yaml:"format" env:"FORMAT"`
	Path   string `yaml:"path" env:"PATH"`
	Table  string `yaml:"table" env:"TABLE"`

	// SlowThreshold is the slow-action warning threshold in milliseconds.
	SlowThreshold int `yaml:"slowThreshold" env:"SLOW_THRESHOLD"`

	Level string `yaml:"level" env:"LEVEL"`
	JSON  bool   `yaml:"json" env:"JSON"`
}

// SQLConfig contains the database/sql connection settings shared by the
// sql database, cache and log.
type SQLConfig struct {
	Driver string `yaml:"driver" env:"DRIVER"`
	DSN    string `yaml:"dsn" env:"DSN"`
}

// DocumentConfig contains the S3-compatible object storage settings.
type DocumentConfig struct {
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	Region          string `yaml:"region" env:"REGION"`
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	AccessKeyID     string `yaml:"accessKeyId" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"secretAccessKey" env:"SECRET_ACCESS_KEY"`
	UsePathStyle    bool   `yaml:"usePathStyle" env:"USE_PATH_STYLE"`
}

// MetricsConfig contains Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
	Path    string `yaml:"path" env:"PATH"`
}

// New creates a Config with default values.
func New() *Config {
	return &Config{
		Server: ServerConfig{
			WatchDelay: 250,
			Database:   DatabaseNone,
		},
		Web: WebConfig{
			Port:             DefaultPort,
			Root:             DefaultRoot,
			DefaultFile:      DefaultFile,
			MessageSizeLimit: DefaultMessageSizeLimit,
			WebSocketPath:    "/ws",
			SessionTTL:       1800,
			ShutdownTimeout:  30,
		},
		Cache: CacheConfig{
			Format:   CacheFile,
			File:     "./cache.json",
			Table:    "cache",
			Interval: 60,
		},
		Log: LogConfig{
			Format:        LogFile,
			Path:          "./log/",
			Table:         "log",
			SlowThreshold: 1000,
			Level:         "info",
		},
		SQL: SQLConfig{
			Driver: "sqlite",
		},
		Document: DocumentConfig{
			Region: "us-east-1",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
	}
}

// Load reads the config file at path (YAML or JSON), then applies
// environment overrides and validates the result. An empty path loads
// defaults and the environment only.
func Load(path string) (*Config, error) {
	cfg := New()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.New("SM101").WithDetail(path).Wrap(err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, errors.New("SM102").WithDetail(path).Wrap(err)
		}
		cfg.path = path
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv applies SM_-prefixed overrides, then the bare PORT variable.
func (c *Config) applyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return errors.New("SM103").Wrap(err)
	}

	var port struct {
		Port int `env:"PORT"`
	}
	if err := env.Parse(&port); err != nil {
		return errors.New("SM103").WithDetail("PORT").Wrap(err)
	}
	if port.Port != 0 {
		c.Web.Port = port.Port
	}
	return nil
}

// applyDefaults fills empty values and resolves relative paths against the
// config file's directory.
func (c *Config) applyDefaults() {
	if c.Web.DisablePost {
		c.Web.WebSocket = true
	}
	if c.Web.WebSocketPath == "" {
		c.Web.WebSocketPath = "/ws"
	}
	if c.Web.DefaultFile == "" {
		c.Web.DefaultFile = DefaultFile
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	c.Cache.Format = strings.ToLower(c.Cache.Format)
	c.Log.Format = strings.ToLower(c.Log.Format)
	c.Server.Database = strings.ToLower(c.Server.Database)
	if c.Server.Database == "" {
		c.Server.Database = DatabaseNone
	}

	c.Web.Root = c.resolve(c.Web.Root)
	c.Cache.File = c.resolve(c.Cache.File)
	c.Log.Path = c.resolve(c.Log.Path)
	for i, f := range c.Server.Files {
		c.Server.Files[i] = c.resolve(f)
	}
}

func (c *Config) resolve(p string) string {
	if p == "" || filepath.IsAbs(p) || c.path == "" {
		return p
	}
	return filepath.Join(c.Dir(), p)
}

// Validate checks the configuration. The first problem found is returned
// as a coded error.
func (c *Config) Validate() error {
	if c.Server.WatchDelay < 0 || c.Server.WatchDelay > 1000 {
		return errors.New("SM110").WithDetailf("server.watchDelay %d", c.Server.WatchDelay)
	}
	if c.Web.Port < 1 || c.Web.Port > 65535 {
		return errors.New("SM111").WithDetailf("web.port %d", c.Web.Port)
	}
	if c.Web.MessageSizeLimit < MinMessageSizeLimit {
		return errors.New("SM112").WithDetailf("web.messageSizeLimit %d", c.Web.MessageSizeLimit)
	}
	if _, err := os.Stat(filepath.Join(c.Web.Root, c.Web.DefaultFile)); err != nil {
		return errors.New("SM113").WithDetail(filepath.Join(c.Web.Root, c.Web.DefaultFile)).Wrap(err)
	}

	switch c.Cache.Format {
	case CacheOff:
	case CacheFile, CacheSQL, CacheDocument:
		if c.Cache.Interval < 1 || c.Cache.Interval > 3600 {
			return errors.New("SM115").WithDetailf("cache.interval %d", c.Cache.Interval)
		}
	default:
		return errors.New("SM114").WithDetailf("cache.format %q", c.Cache.Format)
	}

	switch c.Log.Format {
	case LogOff, LogStdout, LogSQL:
	case LogFile:
		info, err := os.Stat(c.Log.Path)
		if err != nil {
			return errors.New("SM117").WithDetail(c.Log.Path).Wrap(err)
		}
		if !info.IsDir() {
			return errors.New("SM117").WithDetailf("%s is not a directory", c.Log.Path)
		}
	default:
		return errors.New("SM116").WithDetailf("log.format %q", c.Log.Format)
	}
	if _, err := c.LogLevel(); err != nil {
		return errors.New("SM121").WithDetailf("log.level %q", c.Log.Level)
	}

	switch c.Server.Database {
	case DatabaseNone, DatabaseSQL, DatabaseDocument:
	default:
		return errors.New("SM118").WithDetailf("server.database %q", c.Server.Database)
	}
	if c.UsesSQL() && (c.SQL.Driver == "" || c.SQL.DSN == "") {
		return errors.New("SM119").WithDetail("sql.driver and sql.dsn are required")
	}
	if c.UsesDocument() && c.Document.Bucket == "" {
		return errors.New("SM119").WithDetail("document.bucket is required")
	}

	if c.Server.Watch {
		for _, f := range c.Server.Files {
			if _, err := os.Stat(f); err != nil {
				return errors.New("SM120").WithDetail(f).Wrap(err)
			}
		}
	}
	return nil
}

// UsesSQL reports whether any component needs the SQL connection.
func (c *Config) UsesSQL() bool {
	return c.Server.Database == DatabaseSQL || c.Cache.Format == CacheSQL || c.Log.Format == LogSQL
}

// UsesDocument reports whether any component needs object storage.
func (c *Config) UsesDocument() bool {
	return c.Server.Database == DatabaseDocument || c.Cache.Format == CacheDocument
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if c.Log.Level == "" {
		return slog.LevelInfo, nil
	}
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return slog.LevelInfo, err
	}
	return level, nil
}

// Address returns the listen address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Web.Host, c.Web.Port)
}

// WatchDelay returns the reload debounce.
func (c *Config) WatchDelay() time.Duration {
	return time.Duration(c.Server.WatchDelay) * time.Millisecond
}

// CacheInterval returns the flush period.
func (c *Config) CacheInterval() time.Duration {
	return time.Duration(c.Cache.Interval) * time.Second
}

// SlowThreshold returns the slow-action warning threshold.
func (c *Config) SlowThreshold() time.Duration {
	return time.Duration(c.Log.SlowThreshold) * time.Millisecond
}

// SessionTTL returns the HTTP session lifetime.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Web.SessionTTL) * time.Second
}

// ShutdownTimeout returns the graceful shutdown limit.
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Web.ShutdownTimeout) * time.Second
}

// Path returns the path the config was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Dir returns the directory containing the config file.
func (c *Config) Dir() string {
	if c.path == "" {
		return "."
	}
	return filepath.Dir(c.path)
}
