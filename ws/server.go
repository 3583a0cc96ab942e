package ws

import (
	"net/http"

	"github.com/luciancaetano/wsrtt"
	"github.com/luciancaetano/wsrtt/internal/driver"
	"github.com/luciancaetano/wsrtt/internal/websocket"
)

type RateLimitConfig = websocket.RateLimitConfig
type CheckOriginFn = websocket.CheckOriginFn
type OnConnectFn = websocket.OnConnectFn
type OnSessionCloseFn = websocket.OnSessionCloseFn
type ServerConfig = *websocket.ServerConfig

type Driver = driver.Driver
type DriverConfig = driver.Config
type DriverOptions = driver.Options

// New creates an echo server from cfg.
//
// Parameters left at their zero value fall back to the defaults: the
// /api/messaging route, a 64 KiB message cap, unbounded pipeline buffers,
// unbounded transform parallelism and no rate limit.
//
// Example:
//
//	cfg := ws.NewConfig(":8080", ws.AllOrigins())
//	cfg.OnConnect = func(s wsrtt.Session) {
//	    log.Printf("session %s opened with delay %s", s.ID(), s.Delay())
//	}
//	server := ws.New(cfg)
func New(cfg ServerConfig) wsrtt.EchoServer {
	return websocket.New(cfg)
}

// NewConfig returns a server configuration listening on addr.
func NewConfig(addr string, checkOrigin CheckOriginFn) ServerConfig {
	return &websocket.ServerConfig{
		Addr:        addr,
		CheckOrigin: checkOrigin,
	}
}

// AllOrigins returns the default checkOrigin function that allows all origins
func AllOrigins() CheckOriginFn {
	return func(r *http.Request) bool {
		return true
	}
}

// DefaultRateLimitConfig allows 100 messages per second with a burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return websocket.DefaultRateLimitConfig()
}

// NoRateLimit disables rate limiting, which is the server default.
func NoRateLimit() *RateLimitConfig {
	return websocket.NoRateLimit()
}

// NewDriver creates a load driver for an echo endpoint.
func NewDriver(opts DriverOptions) *Driver {
	return driver.New(opts)
}

// DefaultDriverConfig returns 1024-character requests every 500ms without delay.
func DefaultDriverConfig() DriverConfig {
	return driver.DefaultConfig()
}
