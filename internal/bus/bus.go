// Package bus carries auth events between client instances.
package bus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"ticker-storefront/internal/models"
)

// DefaultChannel is the channel name shared by every instance.
const DefaultChannel = "auth_channel"

// Handler receives events delivered by a Bus. Handlers for one subscription
// are called sequentially in publish order.
type Handler func(models.AuthEvent)

// Bus is a broadcast channel for auth events. A bus may deliver an event
// back to the instance that published it.
type Bus interface {
	Publish(ctx context.Context, ev models.AuthEvent) error
	Subscribe(handler Handler) (unsubscribe func(), err error)
	Close() error
}

// Open returns the bus for the configured driver.
func Open(ctx context.Context, driver, redisURL, channel string, logger zerolog.Logger) (Bus, error) {
	switch driver {
	case "memory", "":
		return NewMemory(logger), nil
	case "redis":
		return NewRedis(ctx, redisURL, channel, logger)
	default:
		return nil, fmt.Errorf("unknown bus driver: %s", driver)
	}
}

// Encode renders an event in the wire form {"type":"LOGIN","token":"..."}.
func Encode(ev models.AuthEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// Decode parses a wire event and checks its type.
func Decode(data []byte) (models.AuthEvent, error) {
	var ev models.AuthEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return ev, err
	}
	switch ev.Type {
	case models.AuthEventLogin, models.AuthEventLogout:
		return ev, nil
	default:
		return ev, fmt.Errorf("unknown auth event type %q", ev.Type)
	}
}
