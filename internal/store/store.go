// Package store provides the durable cart store and per-instance session
// storage.
package store

import (
	"context"
	"fmt"

	"ticker-storefront/internal/models"
)

// CartStore is the durable "cart" collection keyed by instrument id. Every
// method is a single atomic transaction.
type CartStore interface {
	// Put inserts or replaces the record with the item's id.
	Put(ctx context.Context, item models.CartLineItem) error
	// GetAll returns every record ordered by id.
	GetAll(ctx context.Context) ([]models.CartLineItem, error)
	// UpdateQuantity sets the quantity of an existing record. A missing id
	// is not an error; updated reports whether a record was changed.
	UpdateQuantity(ctx context.Context, id models.InstrumentID, qty int) (updated bool, err error)
	// Remove deletes the record with id, if present.
	Remove(ctx context.Context, id models.InstrumentID) error
	// Clear deletes every record.
	Clear(ctx context.Context) error

	Close() error
}

// SessionStorage is a per-instance string key/value store.
type SessionStorage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// Cart store drivers.
const (
	DriverSQLite = "sqlite"
	DriverPebble = "pebble"
)

// OpenCart opens the cart store for the configured driver.
func OpenCart(driver, path string) (CartStore, error) {
	switch driver {
	case DriverSQLite, "":
		return NewSQLiteCart(path)
	case DriverPebble:
		return NewPebbleCart(path)
	default:
		return nil, fmt.Errorf("unknown cart store driver: %s", driver)
	}
}

// OpenSession opens session storage of the given kind.
func OpenSession(kind, path string) (SessionStorage, error) {
	switch kind {
	case "memory":
		return NewMemorySession(), nil
	case "file", "":
		return NewFileSession(path)
	default:
		return nil, fmt.Errorf("unknown session storage: %s", kind)
	}
}
