// Package handle provides the client side of the broker: a Handle that
// defers all connection work until the first operation needs it.
//
// New never performs I/O. It records its options verbatim and returns
// immediately, so constructing a Handle is cheap even when no broker is
// running; the first RPC, ping or subscription triggers the actual connect,
// exactly once, and every operation after that shares the connection.
package handle

import (
	"context"
	"sync"
	"time"

	"rmcore/events"
	"rmcore/rpc"
)

const (
	// DefaultURI is where a local broker listens by default.
	DefaultURI = "http://127.0.0.1:8555"

	// DefaultTimeout bounds a single RPC exchange.
	DefaultTimeout = 10 * time.Second
)

// Conn is an established broker connection.
type Conn interface {
	// RPC sends in to topic and decodes the response payload into out.
	// Either may be nil. A service failure is returned as *rpc.Error.
	RPC(ctx context.Context, topic string, in, out any) error

	// Events subscribes to events matching pattern. The channel closes
	// when ctx is cancelled or the stream ends.
	Events(ctx context.Context, pattern string) (<-chan events.Event, error)

	Close() error
}

// Connector establishes a Conn from a configuration. The default dials the
// broker over HTTP; tests substitute their own.
type Connector func(cfg Config) (Conn, error)

// Config collects the settings a Handle connects with.
type Config struct {
	URI       string
	Timeout   time.Duration
	Connector Connector
}

// Option adjusts the configuration a Handle will connect with.
type Option func(*Config)

// WithURI sets the broker address.
func WithURI(uri string) Option {
	return func(c *Config) { c.URI = uri }
}

// WithTimeout sets the per-RPC timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) { c.Timeout = d }
}

// WithConnector replaces the connection factory.
func WithConnector(connect Connector) Option {
	return func(c *Config) { c.Connector = connect }
}

// Handle is a lazily connected broker client. The zero value is not usable;
// construct one with New.
type Handle struct {
	cfg Config

	once sync.Once

	mu      sync.Mutex
	conn    Conn
	connErr error
}

// New builds a Handle without connecting. Options are stored exactly as
// given and only interpreted when the first operation forces a connect.
func New(opts ...Option) *Handle {
	cfg := Config{
		URI:     DefaultURI,
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Connector == nil {
		cfg.Connector = connectHTTP
	}
	return &Handle{cfg: cfg}
}

// Config returns the configuration the Handle was built with.
func (h *Handle) Config() Config {
	return h.cfg
}

// Connected reports whether a connect attempt has happened and succeeded.
// Safe to call while another goroutine is performing the first operation.
func (h *Handle) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn != nil && h.connErr == nil
}

func (h *Handle) connect() (Conn, error) {
	h.once.Do(func() {
		conn, err := h.cfg.Connector(h.cfg)
		h.mu.Lock()
		h.conn, h.connErr = conn, err
		h.mu.Unlock()
	})
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn, h.connErr
}

// RPC connects if necessary and performs one request/response exchange.
func (h *Handle) RPC(ctx context.Context, topic string, in, out any) error {
	conn, err := h.connect()
	if err != nil {
		return err
	}
	if h.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.cfg.Timeout)
		defer cancel()
	}
	return conn.RPC(ctx, topic, in, out)
}

// Ping round-trips payload through the broker.
func (h *Handle) Ping(ctx context.Context, payload string) (rpc.PingResponse, error) {
	var pong rpc.PingResponse
	err := h.RPC(ctx, rpc.TopicPing, rpc.PingRequest{Payload: payload}, &pong)
	return pong, err
}

// Hello fetches the broker's greeting.
func (h *Handle) Hello(ctx context.Context) (rpc.HelloResponse, error) {
	var hello rpc.HelloResponse
	err := h.RPC(ctx, rpc.TopicHello, nil, &hello)
	return hello, err
}

// Stats fetches broker-wide counters.
func (h *Handle) Stats(ctx context.Context) (rpc.StatsResponse, error) {
	var stats rpc.StatsResponse
	err := h.RPC(ctx, rpc.TopicStats, nil, &stats)
	return stats, err
}

// Subscribe streams events matching pattern until ctx is cancelled. Unlike
// RPC it is not bounded by the handle timeout.
func (h *Handle) Subscribe(ctx context.Context, pattern string) (<-chan events.Event, error) {
	conn, err := h.connect()
	if err != nil {
		return nil, err
	}
	return conn.Events(ctx, pattern)
}

// KVS returns the key-value service client.
func (h *Handle) KVS() *KVSClient {
	return &KVSClient{h: h}
}

// Jobs returns the job service client.
func (h *Handle) Jobs() *JobClient {
	return &JobClient{h: h}
}

// Close releases the connection if one was ever established. A Handle that
// never connected closes without any I/O.
func (h *Handle) Close() error {
	// Burn the once so a Close before first use stays disconnected.
	h.once.Do(func() {
		h.mu.Lock()
		h.connErr = errClosed
		h.mu.Unlock()
	})
	h.mu.Lock()
	conn := h.conn
	h.mu.Unlock()
	if conn != nil {
		return conn.Close()
	}
	return nil
}

var errClosed = rpc.Errorf(rpc.ErrCodeInternal, "handle closed before connecting")
