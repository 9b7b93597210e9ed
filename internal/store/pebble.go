package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

// PebbleCart implements CartStore on a pebble key/value database.
//
// Pebble holds an exclusive lock on its directory, so unlike the sqlite
// driver only one instance can open the store at a time.
type PebbleCart struct {
	db     *pebble.DB
	mu     sync.Mutex // serialises read-modify-write updates
	closed bool
}

// keys: cart:<8-byte big-endian id>
var cartPrefix = []byte("cart:")

func cartKey(id models.InstrumentID) []byte {
	key := make([]byte, len(cartPrefix)+8)
	copy(key, cartPrefix)
	// Flip the sign bit so negative ids sort before positive ones.
	binary.BigEndian.PutUint64(key[len(cartPrefix):], uint64(id)^(1<<63))
	return key
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// NewPebbleCart opens (or creates) the pebble cart store in dir.
func NewPebbleCart(dir string) (*PebbleCart, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &PebbleCart{db: db}, nil
}

// Put inserts or replaces a cart record.
func (s *PebbleCart) Put(ctx context.Context, item models.CartLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewStorageError("put", int64(item.ID), apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}

	val, err := json.Marshal(item)
	if err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}
	if err := s.db.Set(cartKey(item.ID), val, pebble.Sync); err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}
	return nil
}

// GetAll returns every cart record ordered by id.
func (s *PebbleCart) GetAll(ctx context.Context) ([]models.CartLineItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, apperrors.NewStorageError("get_all", 0, apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_all", 0, err)
	}

	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: cartPrefix,
		UpperBound: keyUpperBound(cartPrefix),
	})
	if err != nil {
		return nil, apperrors.NewStorageError("get_all", 0, err)
	}
	defer iter.Close()

	var items []models.CartLineItem
	for iter.First(); iter.Valid(); iter.Next() {
		var item models.CartLineItem
		if err := json.Unmarshal(iter.Value(), &item); err != nil {
			return nil, apperrors.NewStorageError("get_all", 0, err)
		}
		items = append(items, item)
	}
	if err := iter.Error(); err != nil {
		return nil, apperrors.NewStorageError("get_all", 0, err)
	}
	return items, nil
}

// UpdateQuantity rewrites the quantity of an existing record.
func (s *PebbleCart) UpdateQuantity(ctx context.Context, id models.InstrumentID, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, apperrors.NewStorageError("update_quantity", int64(id), apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}

	// Read and write through one indexed batch so the read sees the same
	// view the commit applies to.
	batch := s.db.NewIndexedBatch()
	defer batch.Close()

	key := cartKey(id)
	data, closer, err := batch.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	var item models.CartLineItem
	err = json.Unmarshal(data, &item)
	closer.Close()
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}

	item.Quantity = qty
	val, err := json.Marshal(item)
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	if err := batch.Set(key, val, nil); err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	return true, nil
}

// Remove deletes a cart record.
func (s *PebbleCart) Remove(ctx context.Context, id models.InstrumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewStorageError("remove", int64(id), apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageError("remove", int64(id), err)
	}

	if err := s.db.Delete(cartKey(id), pebble.Sync); err != nil {
		return apperrors.NewStorageError("remove", int64(id), err)
	}
	return nil
}

// Clear deletes every cart record with one range tombstone. The batch is
// write-only, so it is not indexed.
func (s *PebbleCart) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return apperrors.NewStorageError("clear", 0, apperrors.ErrStoreClosed)
	}
	if err := ctx.Err(); err != nil {
		return apperrors.NewStorageError("clear", 0, err)
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.DeleteRange(cartPrefix, keyUpperBound(cartPrefix), nil); err != nil {
		return apperrors.NewStorageError("clear", 0, err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return apperrors.NewStorageError("clear", 0, err)
	}
	return nil
}

// Close closes the database.
func (s *PebbleCart) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
