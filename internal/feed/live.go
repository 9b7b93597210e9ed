package feed

import (
	"github.com/rs/zerolog"

	"ticker-storefront/internal/resilience"
)

// Live is a ticker list kept current by the push channel.
type Live struct {
	List       *List
	Reconciler *Reconciler
	Conn       *resilience.Reconnector
}

// NewLive wires a list to a push connection. Call Start to connect.
func NewLive(fetcher Fetcher, dialer resilience.Dialer, limit int, rcfg resilience.Config, logger zerolog.Logger) *Live {
	list := NewList(fetcher, limit, logger)
	rec := NewReconciler(list, logger)
	return &Live{
		List:       list,
		Reconciler: rec,
		Conn:       resilience.NewReconnector(dialer, rec.Handle, rcfg, logger),
	}
}

// Start opens the push connection.
func (l *Live) Start() {
	l.Conn.Start()
}

// Status returns the push connection indicator.
func (l *Live) Status() resilience.Status {
	return l.Conn.Status()
}

// Close tears down the push connection, then the list.
func (l *Live) Close() error {
	err := l.Conn.Close()
	l.List.Close()
	return err
}
