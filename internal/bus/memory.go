package bus

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

const memoryQueueSize = 64

// Memory is an in-process bus. Every subscriber, including ones owned by
// the publisher, receives every event.
type Memory struct {
	mu     sync.Mutex
	subs   map[string]*memorySub
	closed bool
	wg     sync.WaitGroup
	logger zerolog.Logger
}

type memorySub struct {
	queue chan models.AuthEvent
	done  chan struct{}
	once  sync.Once
}

func (s *memorySub) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewMemory creates an in-process bus.
func NewMemory(logger zerolog.Logger) *Memory {
	return &Memory{
		subs:   make(map[string]*memorySub),
		logger: logger.With().Str("component", "bus").Str("driver", "memory").Logger(),
	}
}

// Publish queues ev for every subscriber. It blocks only while a
// subscriber's queue is full.
func (m *Memory) Publish(ctx context.Context, ev models.AuthEvent) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return apperrors.ErrBusClosed
	}
	subs := make([]*memorySub, 0, len(m.subs))
	for _, s := range m.subs {
		subs = append(subs, s)
	}
	m.mu.Unlock()

	for _, s := range subs {
		select {
		case s.queue <- ev:
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Debug().Str("type", string(ev.Type)).Int("subscribers", len(subs)).Msg("Auth event published")
	return nil
}

// Subscribe registers handler. Events are delivered on a dedicated goroutine.
func (m *Memory) Subscribe(handler Handler) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, apperrors.ErrBusClosed
	}

	id := uuid.NewString()
	sub := &memorySub{
		queue: make(chan models.AuthEvent, memoryQueueSize),
		done:  make(chan struct{}),
	}
	m.subs[id] = sub

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		for {
			select {
			case <-sub.done:
				return
			case ev := <-sub.queue:
				handler(ev)
			}
		}
	}()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.stop()
	}, nil
}

// Close stops every subscriber and waits for their goroutines. It must not
// be called from inside a handler.
func (m *Memory) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	for id, s := range m.subs {
		s.stop()
		delete(m.subs, id)
	}
	m.mu.Unlock()

	m.wg.Wait()
	return nil
}
