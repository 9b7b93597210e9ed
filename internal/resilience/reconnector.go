// Package resilience keeps a push connection alive with bounded reconnects
// and guards the HTTP client with a circuit breaker.
package resilience

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/stream"
)

// Conn is one established push connection.
type Conn interface {
	// ReadMessage blocks until the next message. Any error means the
	// connection is gone.
	ReadMessage() ([]byte, error)
	Close() error
}

// Dialer opens push connections.
type Dialer interface {
	Dial(ctx context.Context) (Conn, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Conn, error)

// Dial calls f.
func (f DialerFunc) Dial(ctx context.Context) (Conn, error) { return f(ctx) }

// State is the connection lifecycle state.
type State string

const (
	StateIdle       State = "idle"
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"   // waiting for a scheduled reconnect
	StateTerminal   State = "terminal" // reconnects exhausted
	StateStopped    State = "stopped"  // torn down by Close
)

// Status is the coarse indicator shown to users.
type Status string

const (
	StatusConnected    Status = "connected"
	StatusDisconnected Status = "disconnected"
)

// Config controls reconnect behaviour.
type Config struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultConfig allows 5 reconnects, 5 seconds apart.
func DefaultConfig() Config {
	return Config{MaxAttempts: 5, Delay: 5 * time.Second}
}

// Handler receives each well-formed JSON message.
type Handler func(payload json.RawMessage)

// Reconnector owns one push connection and its reconnect timer.
//
// On close it schedules a reconnect while fewer than MaxAttempts have been
// made since the last successful open; after that it stays Terminal until
// Restart. Close tears everything down, including a pending timer, and no
// reconnect happens afterwards.
type Reconnector struct {
	dialer  Dialer
	handler Handler
	cfg     Config
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	state    State
	status   Status
	attempts int
	dials    int
	timer    *time.Timer
	conn     Conn
	gen      int // bumped per connection so stale callbacks are ignored
	lastErr  error
	wg       sync.WaitGroup

	statuses *stream.Broadcaster[Status]
}

// NewReconnector creates a reconnector; call Start to connect.
func NewReconnector(dialer Dialer, handler Handler, cfg Config, logger zerolog.Logger) *Reconnector {
	if cfg.MaxAttempts < 0 {
		cfg.MaxAttempts = 0
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Reconnector{
		dialer:   dialer,
		handler:  handler,
		cfg:      cfg,
		logger:   logger.With().Str("component", "resilience").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		state:    StateIdle,
		status:   StatusDisconnected,
		statuses: stream.NewBroadcaster[Status](0),
	}
}

// Start makes the first connection attempt in the background.
func (r *Reconnector) Start() {
	r.mu.Lock()
	if r.state != StateIdle {
		r.mu.Unlock()
		return
	}
	r.state = StateConnecting
	r.mu.Unlock()

	r.spawn(r.connect)
}

// Restart re-initiates connecting after the reconnector gave up. It has no
// effect in any other state.
func (r *Reconnector) Restart() {
	r.mu.Lock()
	if r.state != StateTerminal {
		r.mu.Unlock()
		return
	}
	r.attempts = 0
	r.lastErr = nil
	r.state = StateConnecting
	r.mu.Unlock()

	r.logger.Info().Msg("Reconnect re-initiated")
	r.spawn(r.connect)
}

func (r *Reconnector) spawn(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StateStopped {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *Reconnector) connect() {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	r.state = StateConnecting
	r.dials++
	r.gen++
	gen := r.gen
	r.mu.Unlock()

	conn, err := r.dialer.Dial(r.ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Push connection failed")
		r.onError(gen, err)
		r.onClose(gen)
		return
	}

	r.mu.Lock()
	if r.state == StateStopped || gen != r.gen {
		r.mu.Unlock()
		conn.Close()
		return
	}
	r.conn = conn
	r.state = StateOpen
	r.attempts = 0
	r.lastErr = nil
	r.mu.Unlock()

	r.setStatus(StatusConnected)
	r.logger.Info().Msg("Push connection open")

	r.readLoop(gen, conn)
}

func (r *Reconnector) readLoop(gen int, conn Conn) {
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			r.onError(gen, err)
			r.onClose(gen)
			return
		}

		if !json.Valid(data) {
			perr := apperrors.NewParseError(data, errInvalidJSON)
			r.logger.Warn().Err(perr).Msg("Skipping malformed push message")
			continue
		}
		if r.handler != nil {
			r.handler(json.RawMessage(data))
		}
	}
}

var errInvalidJSON = apperrors.New("invalid JSON")

// onError marks the connection disconnected.
func (r *Reconnector) onError(gen int, err error) {
	r.mu.Lock()
	if gen != r.gen || r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	r.lastErr = err
	r.mu.Unlock()
	r.setStatus(StatusDisconnected)
}

// onClose schedules a reconnect or gives up.
func (r *Reconnector) onClose(gen int) {
	r.mu.Lock()
	if gen != r.gen || r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	if r.conn != nil {
		r.conn.Close()
		r.conn = nil
	}

	if r.attempts >= r.cfg.MaxAttempts {
		r.state = StateTerminal
		r.lastErr = apperrors.ErrConnectionExhausted
		r.mu.Unlock()
		r.setStatus(StatusDisconnected)
		r.logger.Error().Int("max_attempts", r.cfg.MaxAttempts).Msg("Max reconnect attempts reached, giving up")
		return
	}

	r.attempts++
	attempt := r.attempts
	r.state = StateClosed
	r.timer = time.AfterFunc(r.cfg.Delay, func() { r.spawn(r.connect) })
	r.mu.Unlock()

	r.setStatus(StatusDisconnected)
	r.logger.Info().
		Int("attempt", attempt).
		Int("max_attempts", r.cfg.MaxAttempts).
		Dur("delay", r.cfg.Delay).
		Msg("Scheduling reconnect")
}

func (r *Reconnector) setStatus(s Status) {
	r.mu.Lock()
	if r.status == s || r.state == StateStopped {
		r.mu.Unlock()
		return
	}
	r.status = s
	r.mu.Unlock()
	r.statuses.Publish(s)
}

// Status returns the connection indicator.
func (r *Reconnector) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// State returns the lifecycle state.
func (r *Reconnector) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Attempts returns reconnects made since the last successful open.
func (r *Reconnector) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attempts
}

// Dials returns the total number of connection attempts.
func (r *Reconnector) Dials() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dials
}

// Err returns the last connection error; ErrConnectionExhausted once the
// reconnector has given up.
func (r *Reconnector) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

// Subscribe returns a channel of status changes.
func (r *Reconnector) Subscribe() (<-chan Status, func()) {
	return r.statuses.Subscribe()
}

// Close closes the active connection, cancels any pending reconnect and
// waits for background work to finish.
func (r *Reconnector) Close() error {
	r.mu.Lock()
	if r.state == StateStopped {
		r.mu.Unlock()
		return nil
	}
	r.state = StateStopped
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	conn := r.conn
	r.conn = nil
	r.status = StatusDisconnected
	r.mu.Unlock()

	r.cancel()
	var err error
	if conn != nil {
		err = conn.Close()
	}
	r.wg.Wait()
	r.statuses.Close()
	r.logger.Debug().Msg("Push connection torn down")
	return err
}
