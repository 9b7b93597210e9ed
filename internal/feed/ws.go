package feed

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"ticker-storefront/internal/resilience"
)

// WSConfig holds push channel connection settings.
type WSConfig struct {
	URL              string
	HandshakeTimeout time.Duration
	// PingInterval is how often a keepalive ping is sent. Zero disables it.
	PingInterval time.Duration
	// PongWait is how long the connection may stay silent before it is
	// considered dead. Zero disables the read deadline.
	PongWait     time.Duration
	WriteTimeout time.Duration
}

// DefaultWSConfig returns settings for url.
func DefaultWSConfig(url string) WSConfig {
	return WSConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     30 * time.Second,
		PongWait:         90 * time.Second,
		WriteTimeout:     5 * time.Second,
	}
}

// WSDialer opens push connections with gorilla/websocket.
type WSDialer struct {
	cfg    WSConfig
	logger zerolog.Logger
}

// NewWSDialer creates a dialer.
func NewWSDialer(cfg WSConfig, logger zerolog.Logger) *WSDialer {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	return &WSDialer{cfg: cfg, logger: logger.With().Str("component", "ws").Logger()}
}

var _ resilience.Dialer = (*WSDialer)(nil)

// Dial connects to the push endpoint.
func (d *WSDialer) Dial(ctx context.Context) (resilience.Conn, error) {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: d.cfg.HandshakeTimeout,
	}
	conn, _, err := dialer.DialContext(ctx, d.cfg.URL, header)
	if err != nil {
		return nil, err
	}

	c := &wsConn{
		conn:   conn,
		cfg:    d.cfg,
		logger: d.logger,
		done:   make(chan struct{}),
	}
	c.extendDeadline()

	// Server pings are answered and count as liveness.
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline()
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})
	conn.SetPongHandler(func(string) error {
		c.extendDeadline()
		return nil
	})

	if d.cfg.PingInterval > 0 {
		go c.heartbeatLoop()
	}

	d.logger.Debug().Str("url", d.cfg.URL).Msg("Push channel connected")
	return c, nil
}

// wsConn adapts a websocket connection to resilience.Conn.
type wsConn struct {
	conn   *websocket.Conn
	cfg    WSConfig
	logger zerolog.Logger

	writeMu sync.Mutex
	once    sync.Once
	done    chan struct{}
}

func (c *wsConn) extendDeadline() {
	if c.cfg.PongWait > 0 {
		c.conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	}
}

// ReadMessage returns the next data frame.
func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err == nil {
		c.extendDeadline()
	}
	return data, err
}

// Close sends a close frame and closes the socket.
func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, []byte("keepalive"), time.Now().Add(c.cfg.WriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				c.logger.Debug().Err(err).Msg("Failed to send ping")
				return
			}
		}
	}
}
