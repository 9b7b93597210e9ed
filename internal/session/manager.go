// Package session tracks login state for one client instance and keeps it
// in step with the other instances over the auth bus.
package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"ticker-storefront/internal/bus"
	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/security"
	"ticker-storefront/internal/store"
	"ticker-storefront/internal/stream"
)

// Session storage keys.
const (
	KeyAuthToken  = "authToken"
	KeyIsLoggedIn = "isLoggedIn"
)

// Manager owns the session state of one instance.
//
// Echoed events are absorbed by equality guards: a LOGIN carrying the
// current token changes nothing and nothing is ever rebroadcast from an
// inbound event, so an instance that hears its own broadcast cannot loop.
// State changes are published while mu is held so subscribers see them in
// order.
type Manager struct {
	mu      sync.Mutex
	state   models.SessionState
	storage store.SessionStorage
	bus     bus.Bus
	unsub   func()

	instanceID string
	changes    *stream.Broadcaster[models.SessionState]
	logger     zerolog.Logger

	broadcasts uint64
	closeOnce  sync.Once
}

// NewManager restores state from storage and starts listening on b.
func NewManager(storage store.SessionStorage, b bus.Bus, instanceID string, logger zerolog.Logger) (*Manager, error) {
	m := &Manager{
		storage:    storage,
		bus:        b,
		instanceID: instanceID,
		changes:    stream.NewBroadcaster[models.SessionState](0),
		logger: logger.With().
			Str("component", "session").
			Str("instance", instanceID).
			Logger(),
	}

	token, _ := storage.Get(KeyAuthToken)
	m.state = models.LoggedInAs(token)

	unsub, err := b.Subscribe(m.handle)
	if err != nil {
		return nil, fmt.Errorf("subscribing to auth bus: %w", err)
	}
	m.unsub = unsub

	m.logger.Debug().Bool("logged_in", m.state.IsLoggedIn).Msg("Session restored")
	return m, nil
}

// Login stores token and announces it to the other instances. Logging in
// again with the current token does nothing.
func (m *Manager) Login(ctx context.Context, token string) error {
	if token == "" {
		return apperrors.NewValidationError("token", "", "must not be empty")
	}

	m.mu.Lock()
	if m.state.IsLoggedIn && m.state.Token == token {
		m.mu.Unlock()
		return nil
	}
	if err := m.persist(token); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = models.LoggedInAs(token)
	m.broadcasts++
	m.changes.Publish(m.state)
	m.mu.Unlock()

	m.logger.Info().Str("token", security.MaskCredential(token)).Msg("Logged in")
	m.announce(ctx, models.AuthEvent{Type: models.AuthEventLogin, Token: token, Origin: m.instanceID})
	return nil
}

// Logout clears the stored token and announces it. Logging out while
// already logged out does nothing.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	if !m.state.IsLoggedIn {
		m.mu.Unlock()
		return nil
	}
	if err := m.clear(); err != nil {
		m.mu.Unlock()
		return err
	}
	m.state = models.LoggedOut
	m.broadcasts++
	m.changes.Publish(m.state)
	m.mu.Unlock()

	m.logger.Info().Msg("Logged out")
	m.announce(ctx, models.AuthEvent{Type: models.AuthEventLogout, Origin: m.instanceID})
	return nil
}

// announce publishes ev. The local transition has already happened, so a
// bus failure is logged rather than returned.
func (m *Manager) announce(ctx context.Context, ev models.AuthEvent) {
	if err := m.bus.Publish(ctx, ev); err != nil {
		m.logger.Warn().Err(err).Str("type", string(ev.Type)).Msg("Failed to broadcast auth event")
	}
}

// handle applies an event received from the bus. It never rebroadcasts.
func (m *Manager) handle(ev models.AuthEvent) {
	switch ev.Type {
	case models.AuthEventLogout:
		m.mu.Lock()
		changed := m.state.IsLoggedIn
		if err := m.clear(); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to clear session storage")
		}
		m.state = models.LoggedOut
		if changed {
			m.changes.Publish(m.state)
		}
		m.mu.Unlock()

		if changed {
			m.logger.Info().Str("origin", ev.Origin).Msg("Logged out by another instance")
		}

	case models.AuthEventLogin:
		if ev.Token == "" {
			return
		}
		m.mu.Lock()
		if m.state.Token == ev.Token {
			m.mu.Unlock()
			return
		}
		if err := m.persist(ev.Token); err != nil {
			m.mu.Unlock()
			m.logger.Warn().Err(err).Msg("Failed to store token from another instance")
			return
		}
		m.state = models.LoggedInAs(ev.Token)
		m.changes.Publish(m.state)
		m.mu.Unlock()

		m.logger.Info().Str("origin", ev.Origin).Msg("Logged in by another instance")
	}
}

// persist writes both keys; on failure the storage is rolled back to the
// current state. Caller holds mu.
func (m *Manager) persist(token string) error {
	if err := m.storage.Set(KeyAuthToken, token); err != nil {
		return fmt.Errorf("storing auth token: %w", err)
	}
	if err := m.storage.Set(KeyIsLoggedIn, "true"); err != nil {
		m.restore()
		return fmt.Errorf("storing login flag: %w", err)
	}
	return nil
}

// clear removes both keys. Caller holds mu.
func (m *Manager) clear() error {
	if err := m.storage.Remove(KeyAuthToken); err != nil {
		return fmt.Errorf("removing auth token: %w", err)
	}
	if err := m.storage.Remove(KeyIsLoggedIn); err != nil {
		m.restore()
		return fmt.Errorf("removing login flag: %w", err)
	}
	return nil
}

// restore rewrites storage from the in-memory state. Caller holds mu.
func (m *Manager) restore() {
	if m.state.IsLoggedIn {
		_ = m.storage.Set(KeyAuthToken, m.state.Token)
		_ = m.storage.Set(KeyIsLoggedIn, "true")
		return
	}
	_ = m.storage.Remove(KeyAuthToken)
	_ = m.storage.Remove(KeyIsLoggedIn)
}

// State returns the current session.
func (m *Manager) State() models.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Token returns the current token, or "" when logged out.
func (m *Manager) Token() string {
	return m.State().Token
}

// IsLoggedIn reports whether the instance holds a token.
func (m *Manager) IsLoggedIn() bool {
	return m.State().IsLoggedIn
}

// Broadcasts returns how many auth events this instance has emitted.
func (m *Manager) Broadcasts() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.broadcasts
}

// Subscribe returns a channel of session states, sent after every change.
func (m *Manager) Subscribe() (<-chan models.SessionState, func()) {
	return m.changes.Subscribe()
}

// Close releases the bus subscription and closes subscriber channels.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.unsub != nil {
			m.unsub()
		}
		m.changes.Close()
	})
}
