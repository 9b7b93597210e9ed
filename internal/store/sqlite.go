package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	apperrors "ticker-storefront/internal/errors"
	"ticker-storefront/internal/models"
)

// SQLiteCart implements CartStore using SQLite.
type SQLiteCart struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteCart opens (or creates) the cart database at dbPath.
func NewSQLiteCart(dbPath string) (*SQLiteCart, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	// WAL lets several instances share the file while one of them writes.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	s := &SQLiteCart{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *SQLiteCart) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS cart (
		id INTEGER PRIMARY KEY,
		record TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteCart) checkOpen(op string, id int64) error {
	if s.closed {
		return apperrors.NewStorageError(op, id, apperrors.ErrStoreClosed)
	}
	return nil
}

// Put inserts or replaces a cart record.
func (s *SQLiteCart) Put(ctx context.Context, item models.CartLineItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("put", int64(item.ID)); err != nil {
		return err
	}

	record, err := json.Marshal(item)
	if err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO cart (id, record, updated_at)
		VALUES (?, ?, ?)
	`, int64(item.ID), string(record), time.Now().UTC())
	if err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}

	if err := tx.Commit(); err != nil {
		return apperrors.NewStorageError("put", int64(item.ID), err)
	}
	return nil
}

// GetAll returns every cart record ordered by id.
func (s *SQLiteCart) GetAll(ctx context.Context) ([]models.CartLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.checkOpen("get_all", 0); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, record FROM cart ORDER BY id ASC`)
	if err != nil {
		return nil, apperrors.NewStorageError("get_all", 0, err)
	}
	defer rows.Close()

	var items []models.CartLineItem
	for rows.Next() {
		var id int64
		var record string
		if err := rows.Scan(&id, &record); err != nil {
			return nil, apperrors.NewStorageError("get_all", 0, err)
		}
		var item models.CartLineItem
		if err := json.Unmarshal([]byte(record), &item); err != nil {
			return nil, apperrors.NewStorageError("get_all", id, err)
		}
		item.ID = models.InstrumentID(id)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStorageError("get_all", 0, err)
	}

	return items, nil
}

// UpdateQuantity rewrites the quantity of an existing record.
func (s *SQLiteCart) UpdateQuantity(ctx context.Context, id models.InstrumentID, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("update_quantity", int64(id)); err != nil {
		return false, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	defer tx.Rollback()

	var record string
	err = tx.QueryRowContext(ctx, `SELECT record FROM cart WHERE id = ?`, int64(id)).Scan(&record)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}

	var item models.CartLineItem
	if err := json.Unmarshal([]byte(record), &item); err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	item.Quantity = qty
	updated, err := json.Marshal(item)
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE cart SET record = ?, updated_at = ? WHERE id = ?
	`, string(updated), time.Now().UTC(), int64(id))
	if err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}

	if err := tx.Commit(); err != nil {
		return false, apperrors.NewStorageError("update_quantity", int64(id), err)
	}
	return true, nil
}

// Remove deletes a cart record.
func (s *SQLiteCart) Remove(ctx context.Context, id models.InstrumentID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("remove", int64(id)); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart WHERE id = ?`, int64(id)); err != nil {
		return apperrors.NewStorageError("remove", int64(id), err)
	}
	return nil
}

// Clear deletes every cart record.
func (s *SQLiteCart) Clear(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkOpen("clear", 0); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, `DELETE FROM cart`); err != nil {
		return apperrors.NewStorageError("clear", 0, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteCart) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
