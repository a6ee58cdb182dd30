package server

import (
	"net/http"
	"net/url"
	"time"
)

// ClientScriptPath is where the bundled client helper is served unless an
// alias overrides it.
const ClientScriptPath = "/servermanager.js"

// Config holds transport configuration.
type Config struct {
	// Address is the TCP address to listen on (e.g. ":8080").
	Address string

	// Root is the directory static files are served from.
	Root string

	// DefaultFile replaces directory paths.
	// Default: "index.html".
	DefaultFile string

	// Aliases maps request paths to files relative to Root.
	Aliases map[string]string

	// MessageSizeLimit caps POST bodies and WebSocket frames, in bytes.
	// Default: 100000.
	MessageSizeLimit int64

	// DisablePost removes the POST endpoint and forces WebSockets on.
	DisablePost bool

	// EnableWebSocket serves WebSocket upgrades at WebSocketPath.
	EnableWebSocket bool

	// WebSocketPath is the upgrade endpoint.
	// Default: "/ws".
	WebSocketPath string

	// MetricsPath serves Prometheus metrics when a gatherer is configured.
	// Empty disables the endpoint.
	MetricsPath string

	// TrustedProxies lists IPs or CIDRs whose Forwarded and
	// X-Forwarded-For headers are honored for client addresses.
	TrustedProxies []string

	// ReadBufferSize is the WebSocket read buffer size.
	// Default: 4096.
	ReadBufferSize int

	// WriteBufferSize is the WebSocket write buffer size.
	// Default: 4096.
	WriteBufferSize int

	// CheckOrigin validates the WebSocket request origin.
	// Default: SameOriginCheck.
	CheckOrigin func(r *http.Request) bool

	// WriteTimeout bounds each WebSocket write.
	// Default: 10 seconds.
	WriteTimeout time.Duration

	// ReadHeaderTimeout bounds reading request headers.
	// Default: 10 seconds.
	ReadHeaderTimeout time.Duration

	// ShutdownTimeout is the graceful shutdown limit.
	// Default: 30 seconds.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Address:           ":8080",
		Root:              "./web/",
		DefaultFile:       "index.html",
		MessageSizeLimit:  100000,
		WebSocketPath:     "/ws",
		MetricsPath:       "/metrics",
		ReadBufferSize:    4096,
		WriteBufferSize:   4096,
		CheckOrigin:       SameOriginCheck,
		WriteTimeout:      10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		ShutdownTimeout:   30 * time.Second,
	}
}

// withDefaults returns a copy of c with zero values filled from
// DefaultConfig.
func (c *Config) withDefaults() *Config {
	d := DefaultConfig()
	if c == nil {
		return d
	}
	out := *c
	if out.Address == "" {
		out.Address = d.Address
	}
	if out.DefaultFile == "" {
		out.DefaultFile = d.DefaultFile
	}
	if out.MessageSizeLimit <= 0 {
		out.MessageSizeLimit = d.MessageSizeLimit
	}
	if out.WebSocketPath == "" {
		out.WebSocketPath = d.WebSocketPath
	}
	if out.ReadBufferSize <= 0 {
		out.ReadBufferSize = d.ReadBufferSize
	}
	if out.WriteBufferSize <= 0 {
		out.WriteBufferSize = d.WriteBufferSize
	}
	if out.CheckOrigin == nil {
		out.CheckOrigin = d.CheckOrigin
	}
	if out.WriteTimeout <= 0 {
		out.WriteTimeout = d.WriteTimeout
	}
	if out.ReadHeaderTimeout <= 0 {
		out.ReadHeaderTimeout = d.ReadHeaderTimeout
	}
	if out.ShutdownTimeout <= 0 {
		out.ShutdownTimeout = d.ShutdownTimeout
	}
	if out.DisablePost {
		out.EnableWebSocket = true
	}
	return &out
}

// SameOriginCheck accepts WebSocket upgrades without an Origin header or
// whose Origin host matches the request host.
func SameOriginCheck(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := r.Host
	if host == "" {
		return false
	}
	return originURL.Host == host
}
