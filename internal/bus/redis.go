package bus

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
	"ticker-storefront/internal/security"
)

// Compile-time checks
var (
	_ Bus = (*Redis)(nil)
	_ Bus = (*Memory)(nil)
)

// Redis is a bus over Redis pub/sub, shared by instances in different
// processes. Redis delivers to every subscriber of the channel, so the
// publisher hears its own events when it is also subscribed.
type Redis struct {
	client  *redis.Client
	channel string
	logger  zerolog.Logger

	mu     sync.Mutex
	subs   map[*redis.PubSub]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewRedis connects to the server at redisURL and checks it with PING.
func NewRedis(ctx context.Context, redisURL, channel string, logger zerolog.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url %s: %w", security.RedactURL(redisURL), err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis %s: %w", security.RedactURL(redisURL), err)
	}
	return NewRedisWithClient(client, channel, logger), nil
}

// NewRedisWithClient wraps an existing client. The bus takes ownership of it.
func NewRedisWithClient(client *redis.Client, channel string, logger zerolog.Logger) *Redis {
	if channel == "" {
		channel = DefaultChannel
	}
	return &Redis{
		client:  client,
		channel: channel,
		subs:    make(map[*redis.PubSub]struct{}),
		logger: logger.With().
			Str("component", "bus").
			Str("driver", "redis").
			Str("channel", channel).
			Logger(),
	}
}

// Publish sends ev on the channel.
func (r *Redis) Publish(ctx context.Context, ev models.AuthEvent) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return apperrors.ErrBusClosed
	}

	payload, err := Encode(ev)
	if err != nil {
		return fmt.Errorf("encoding auth event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, payload).Err(); err != nil {
		return fmt.Errorf("publishing auth event: %w", err)
	}
	r.logger.Debug().Str("type", string(ev.Type)).Msg("Auth event published")
	return nil
}

// Subscribe listens on the channel and calls handler for each valid event.
// It returns once the subscription is confirmed by the server.
func (r *Redis) Subscribe(handler Handler) (func(), error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, apperrors.ErrBusClosed
	}
	r.mu.Unlock()

	ctx := context.Background()
	ps := r.client.Subscribe(ctx, r.channel)
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, fmt.Errorf("subscribing to %s: %w", r.channel, err)
	}

	r.mu.Lock()
	r.subs[ps] = struct{}{}
	r.mu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for msg := range ps.Channel() {
			ev, err := Decode([]byte(msg.Payload))
			if err != nil {
				r.logger.Warn().Err(err).Msg("Ignoring malformed auth event")
				continue
			}
			handler(ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, ps)
			r.mu.Unlock()
			ps.Close()
		})
	}, nil
}

// Close closes every subscription and the client.
func (r *Redis) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	for ps := range r.subs {
		ps.Close()
		delete(r.subs, ps)
	}
	r.mu.Unlock()

	r.wg.Wait()
	return r.client.Close()
}
