package feed

import (
	"bytes"
	"encoding/json"
	"sync/atomic"

	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/models"
)

// ReconcilerStats counts pushed payloads by outcome.
type ReconcilerStats struct {
	Applied   uint64
	Discarded uint64
	Malformed uint64
}

// Reconciler feeds push-channel payloads into a List.
type Reconciler struct {
	list   *List
	logger zerolog.Logger

	applied   atomic.Uint64
	discarded atomic.Uint64
	malformed atomic.Uint64
}

// NewReconciler creates a reconciler for list.
func NewReconciler(list *List, logger zerolog.Logger) *Reconciler {
	return &Reconciler{
		list:   list,
		logger: logging.WithComponent(logger, "reconciler"),
	}
}

// Apply decodes a payload and merges it. A payload is either one quote
// record or a tickers-list page whose records are merged in order.
// Malformed payloads return a *errors.ParseError and leave the list as is.
func (r *Reconciler) Apply(payload []byte) error {
	updates, err := DecodeUpdates(payload)
	if err != nil {
		r.malformed.Add(1)
		return err
	}
	if len(updates) == 0 {
		return nil
	}
	if !r.list.Apply(updates...) {
		r.discarded.Add(uint64(len(updates)))
		r.logger.Debug().Int("updates", len(updates)).Msg("Not on first page, push update discarded")
		return nil
	}
	r.applied.Add(uint64(len(updates)))
	for _, u := range updates {
		l := logging.WithInstrument(r.logger, int64(u.ID))
		l.Trace().Msg("Quote update merged")
	}
	return nil
}

// Handle is the push-channel message handler. Errors are logged.
func (r *Reconciler) Handle(payload json.RawMessage) {
	if err := r.Apply(payload); err != nil {
		r.logger.Warn().Err(err).Msg("Skipping malformed quote update")
	}
}

// Stats returns payload counters.
func (r *Reconciler) Stats() ReconcilerStats {
	return ReconcilerStats{
		Applied:   r.applied.Load(),
		Discarded: r.discarded.Load(),
		Malformed: r.malformed.Load(),
	}
}

// DecodeUpdates parses a push payload into quote updates.
func DecodeUpdates(payload []byte) ([]models.QuoteUpdate, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return nil, apperrors.NewParseError(payload, err)
	}

	if raw, ok := fields["tickers_with_dates"]; ok {
		if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return nil, nil
		}
		var updates []models.QuoteUpdate
		if err := json.Unmarshal(raw, &updates); err != nil {
			return nil, apperrors.NewParseError(payload, err)
		}
		return updates, nil
	}

	var u models.QuoteUpdate
	if err := json.Unmarshal(payload, &u); err != nil {
		return nil, apperrors.NewParseError(payload, err)
	}
	return []models.QuoteUpdate{u}, nil
}
