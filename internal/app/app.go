// Package app wires the storefront components into one application state
// object that is built at startup and released on Close.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ticker-storefront/internal/api"
	"ticker-storefront/internal/bus"
	"ticker-storefront/internal/cart"
	"ticker-storefront/internal/checkout"
	"ticker-storefront/internal/config"
	"ticker-storefront/internal/feed"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/resilience"
	"ticker-storefront/internal/session"
	"ticker-storefront/internal/store"
)

// App holds the application dependencies.
type App struct {
	Config     *config.Config
	Logger     zerolog.Logger
	InstanceID string

	CartStore      store.CartStore
	SessionStorage store.SessionStorage
	Bus            bus.Bus

	Session  *session.Manager
	Cart     *cart.Manager
	API      *api.Client
	Checkout *checkout.Service

	mu     sync.Mutex
	lives  []*feed.Live
	closed bool
}

// New builds the application from cfg. Components opened before a failure
// are closed again.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{
		Config:     cfg,
		InstanceID: uuid.NewString(),
	}
	a.Logger = logger.With().Str("instance", a.InstanceID).Logger()

	var err error
	a.CartStore, err = store.OpenCart(cfg.Store.Driver, cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening cart store: %w", err)
	}

	a.SessionStorage, err = store.OpenSession(cfg.Session.Storage, cfg.Session.Path)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening session storage: %w", err)
	}

	a.Bus, err = bus.Open(ctx, cfg.Bus.Driver, cfg.Bus.RedisURL, cfg.Bus.Channel, a.Logger)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening auth bus: %w", err)
	}

	a.Session, err = session.NewManager(a.SessionStorage, a.Bus, a.InstanceID, a.Logger)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Cart = cart.NewManager(a.CartStore, a.Logger)
	if err := a.Cart.Initialize(ctx); err != nil {
		// The cart starts empty; later writes still go to the store.
		a.Logger.Warn().Err(err).Msg("Loading saved cart failed")
	}

	a.API = api.NewClient(cfg.API.BaseURL,
		api.WithTimeout(cfg.API.Timeout),
		api.WithRetries(cfg.API.MaxRetries, api.DefaultRetryBackoff),
		api.WithLogger(a.Logger),
	)
	a.Checkout = checkout.NewService(a.API, a.Cart, a.Session, a.Logger)

	appLogger := logging.WithComponent(a.Logger, "app")
	appLogger.Debug().
		Str("store", cfg.Store.Driver).
		Str("bus", cfg.Bus.Driver).
		Int("cart_lines", a.Cart.Len()).
		Msg("Application initialized")
	return a, nil
}

// NewLive creates a ticker list fed by the push channel. It is closed with
// the application.
func (a *App) NewLive() *feed.Live {
	dialer := feed.NewWSDialer(feed.DefaultWSConfig(a.Config.WebSocketURL()), a.Logger)
	live := feed.NewLive(a.API, dialer, a.Config.Feed.Limit, resilience.Config{
		MaxAttempts: a.Config.Feed.MaxReconnects,
		Delay:       a.Config.Feed.ReconnectDelay,
	}, a.Logger)

	a.mu.Lock()
	a.lives = append(a.lives, live)
	a.mu.Unlock()
	return live
}

// NewList creates a ticker list without live updates.
func (a *App) NewList() *feed.List {
	return feed.NewList(a.API, a.Config.Feed.Limit, a.Logger)
}

// Close releases subscriptions, drains pending cart writes and closes the
// stores. It is safe to call more than once.
func (a *App) Close() error {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	lives := a.lives
	a.lives = nil
	a.mu.Unlock()

	var errs []error
	for _, l := range lives {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.Session != nil {
		a.Session.Close()
	}
	if a.Cart != nil {
		a.Cart.Close()
	}
	if a.Bus != nil {
		if err := a.Bus.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing bus: %w", err))
		}
	}
	if a.CartStore != nil {
		if err := a.CartStore.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing cart store: %w", err))
		}
	}
	return errors.Join(errs...)
}
