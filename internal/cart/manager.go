// Package cart keeps the in-memory cart and mirrors it to the durable store.
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/logging"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/store"
	"ticker-storefront/internal/stream"
)

const writeTimeout = 10 * time.Second

type opKind int

const (
	opPut opKind = iota
	opUpdate
	opRemove
	opClear
	opFlush
)

func (k opKind) String() string {
	switch k {
	case opPut:
		return "put"
	case opUpdate:
		return "update_quantity"
	case opRemove:
		return "remove"
	case opClear:
		return "clear"
	default:
		return "flush"
	}
}

// writeOp is one queued durable write. Put and update carry the full
// resulting record.
type writeOp struct {
	kind opKind
	item models.CartLineItem
	done chan struct{}
}

// Stats reports durable write accounting.
type Stats struct {
	Queued    uint64
	Written   uint64
	Failed    uint64
	LastError string
}

// Manager holds the cart in memory.
//
// Mutations update memory synchronously and return the new snapshot.
// Durable writes are appended to an unbounded queue drained by a single
// goroutine, so they reach the store in call order and a stalled store never
// blocks a mutation. Write failures are logged and counted but never
// returned to the caller; memory stays authoritative for the process.
// Snapshots are published while mu is held, so subscribers see them in
// mutation order.
type Manager struct {
	mu      sync.Mutex
	items   []models.CartLineItem // insertion order
	store   store.CartStore
	pending []writeOp
	wake    chan struct{}
	closed  bool
	wg      sync.WaitGroup

	changes *stream.Broadcaster[[]models.CartLineItem]
	logger  zerolog.Logger

	statsMu sync.Mutex
	stats   Stats
}

// NewManager starts the write goroutine. Call Initialize to load the cart.
func NewManager(s store.CartStore, logger zerolog.Logger) *Manager {
	m := &Manager{
		store:   s,
		wake:    make(chan struct{}, 1),
		changes: stream.NewBroadcaster[[]models.CartLineItem](0),
		logger:  logging.WithComponent(logger, "cart"),
	}
	m.wg.Add(1)
	go m.writeLoop()
	return m
}

// Initialize replaces memory with the durable snapshot. Queued writes are
// flushed first so the snapshot includes them. Calling it again simply
// reloads.
func (m *Manager) Initialize(ctx context.Context) error {
	if err := m.Flush(ctx); err != nil {
		return err
	}
	items, err := m.store.GetAll(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load cart from durable store")
		return err
	}

	m.mu.Lock()
	m.items = items
	m.changes.Publish(m.snapshotLocked())
	m.mu.Unlock()

	m.logger.Debug().Int("items", len(items)).Msg("Cart loaded")
	return nil
}

// AddToCart increments the quantity of an existing line, or adds the item
// with quantity 1.
func (m *Manager) AddToCart(item models.CartLineItem) []models.CartLineItem {
	m.mu.Lock()
	var record models.CartLineItem
	if i := m.indexLocked(item.ID); i >= 0 {
		m.items[i].Quantity++
		record = m.items[i].Clone()
	} else {
		record = item.Clone()
		record.Quantity = 1
		m.items = append(m.items, record.Clone())
	}
	m.enqueueLocked(writeOp{kind: opPut, item: record})
	snapshot := m.snapshotLocked()
	m.changes.Publish(m.snapshotLocked())
	m.mu.Unlock()

	return snapshot
}

// UpdateQuantity sets the quantity of a line. Quantities below 1 are
// rejected; callers clamp. An absent id leaves the cart unchanged.
func (m *Manager) UpdateQuantity(id models.InstrumentID, qty int) ([]models.CartLineItem, error) {
	if qty < 1 {
		return m.CurrentCart(), apperrors.NewValidationError("quantity", qty, "must be at least 1")
	}

	m.mu.Lock()
	i := m.indexLocked(id)
	if i < 0 {
		snapshot := m.snapshotLocked()
		m.mu.Unlock()
		m.logger.Debug().Int64("instrument_id", int64(id)).Msg("Quantity update for item not in cart")
		return snapshot, nil
	}
	m.items[i].Quantity = qty
	m.enqueueLocked(writeOp{kind: opUpdate, item: m.items[i].Clone()})
	snapshot := m.snapshotLocked()
	m.changes.Publish(m.snapshotLocked())
	m.mu.Unlock()

	return snapshot, nil
}

// RemoveFromCart removes a line. Removing an absent id is a no-op in memory
// but still removes any durable record.
func (m *Manager) RemoveFromCart(id models.InstrumentID) []models.CartLineItem {
	m.mu.Lock()
	changed := false
	if i := m.indexLocked(id); i >= 0 {
		m.items = append(m.items[:i], m.items[i+1:]...)
		changed = true
	}
	m.enqueueLocked(writeOp{kind: opRemove, item: models.CartLineItem{ID: id}})
	snapshot := m.snapshotLocked()
	if changed {
		m.changes.Publish(m.snapshotLocked())
	}
	m.mu.Unlock()
	return snapshot
}

// ClearCart empties memory and the durable store.
func (m *Manager) ClearCart() []models.CartLineItem {
	m.mu.Lock()
	m.items = nil
	m.enqueueLocked(writeOp{kind: opClear})
	snapshot := m.snapshotLocked()
	m.changes.Publish(m.snapshotLocked())
	m.mu.Unlock()

	return snapshot
}

// CurrentCart returns a copy of the cart in insertion order.
func (m *Manager) CurrentCart() []models.CartLineItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Total returns Σ quantity × sell price.
func (m *Manager) Total() float64 {
	return models.CartTotal(m.CurrentCart())
}

// LineTotal returns quantity × sell price for one line.
func LineTotal(item models.CartLineItem) float64 {
	return item.LineTotal()
}

// Contains reports whether id has a line in the cart.
func (m *Manager) Contains(id models.InstrumentID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.indexLocked(id) >= 0
}

// Len returns the number of lines.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

// Subscribe returns a channel receiving a snapshot after every change.
func (m *Manager) Subscribe() (<-chan []models.CartLineItem, func()) {
	return m.changes.Subscribe()
}

// Flush waits until every write queued before the call has been attempted.
func (m *Manager) Flush(ctx context.Context) error {
	done := make(chan struct{})
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.pushLocked(writeOp{kind: opFlush, done: done})
	m.mu.Unlock()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns durable write counters.
func (m *Manager) Stats() Stats {
	m.statsMu.Lock()
	defer m.statsMu.Unlock()
	return m.stats
}

// Close drains the write queue, stops the writer and closes subscriber
// channels. The store itself is owned by the caller.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.signal()
	m.mu.Unlock()

	m.wg.Wait()
	m.changes.Close()
}

func (m *Manager) indexLocked(id models.InstrumentID) int {
	for i := range m.items {
		if m.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) snapshotLocked() []models.CartLineItem {
	out := make([]models.CartLineItem, len(m.items))
	for i, it := range m.items {
		out[i] = it.Clone()
	}
	return out
}

// enqueueLocked queues op in mutation order. Caller holds mu.
func (m *Manager) enqueueLocked(op writeOp) {
	if m.closed {
		m.recordFailure(op, apperrors.NewStorageError(op.kind.String(), int64(op.item.ID), apperrors.ErrStoreClosed))
		return
	}
	m.statsMu.Lock()
	m.stats.Queued++
	m.statsMu.Unlock()
	m.pushLocked(op)
}

// pushLocked appends op to the queue and wakes the writer. Caller holds mu.
func (m *Manager) pushLocked(op writeOp) {
	m.pending = append(m.pending, op)
	m.signal()
}

func (m *Manager) signal() {
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// writeLoop drains the queue in batches until Close, then writes what is
// left and exits.
func (m *Manager) writeLoop() {
	defer m.wg.Done()
	for {
		m.mu.Lock()
		batch := m.pending
		m.pending = nil
		closed := m.closed
		m.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-m.wake
			continue
		}
		for _, op := range batch {
			m.write(op)
		}
	}
}

func (m *Manager) write(op writeOp) {
	if op.kind == opFlush {
		close(op.done)
		return
	}
	if err := m.apply(op); err != nil {
		m.recordFailure(op, err)
		return
	}
	m.statsMu.Lock()
	m.stats.Written++
	m.statsMu.Unlock()
	logging.LogCartWrite(m.logger, op.kind.String(), int64(op.item.ID), nil)
}

func (m *Manager) apply(op writeOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	switch op.kind {
	case opPut:
		return m.store.Put(ctx, op.item)
	case opUpdate:
		updated, err := m.store.UpdateQuantity(ctx, op.item.ID, op.item.Quantity)
		if err != nil {
			return err
		}
		if !updated {
			// The durable record is missing, most likely after an earlier
			// failed put; write the full line instead.
			return m.store.Put(ctx, op.item)
		}
		return nil
	case opRemove:
		return m.store.Remove(ctx, op.item.ID)
	case opClear:
		return m.store.Clear(ctx)
	}
	return nil
}

func (m *Manager) recordFailure(op writeOp, err error) {
	m.statsMu.Lock()
	m.stats.Failed++
	m.stats.LastError = err.Error()
	m.statsMu.Unlock()
	logging.LogCartWrite(m.logger, op.kind.String(), int64(op.item.ID), err)
}
