package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/craft-ai/craft-ai-kit-buying-habits/internal/core"
)

// orderNamespace scopes the derived order keys
var orderNamespace = uuid.MustParse("4f1c3a8e-2b7d-5e90-9a61-0c8d2e5b7f13")

// OrderStore keeps the imported purchase history
type OrderStore struct {
	db *DB
}

// NewOrderStore creates a new order store
func NewOrderStore(db *DB) *OrderStore {
	return &OrderStore{db: db}
}

// OrderKey identifies an order by its id, client and date. Source systems
// reuse ids across dates, so the id alone is not enough.
func OrderKey(o core.Order) string {
	name := fmt.Sprintf("%s|%s|%d", o.ID, o.ClientID, o.Date.UTC().UnixNano())
	return uuid.NewSHA1(orderNamespace, []byte(name)).String()
}

// Import stores orders, skipping those already known, and returns how many
// were new.
func (s *OrderStore) Import(ctx context.Context, orders []core.Order) (int, error) {
	imported := 0
	now := time.Now().UTC().Format(timeLayout)

	err := s.db.Transaction(func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO orders (key, id, client_id, date, articles, imported_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(key) DO NOTHING
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, o := range orders {
			if o.ClientID == "" || o.Date.IsZero() {
				return fmt.Errorf("%w: order %q needs a client id and a date", core.ErrInvalidInput, o.ID)
			}
			articles, err := json.Marshal(o.Articles)
			if err != nil {
				return fmt.Errorf("marshal articles of %s: %w", o.ID, err)
			}

			res, err := stmt.ExecContext(ctx, OrderKey(o), o.ID, o.ClientID,
				o.Date.UTC().Format(timeLayout), string(articles), now)
			if err != nil {
				return fmt.Errorf("insert order %s: %w", o.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				imported++
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return imported, nil
}

// All returns every order by ascending date
func (s *OrderStore) All(ctx context.Context) ([]core.Order, error) {
	return s.query(ctx, `SELECT id, client_id, date, articles FROM orders ORDER BY date ASC, rowid ASC`)
}

// ForClients returns the orders of the given clients by ascending date
func (s *OrderStore) ForClients(ctx context.Context, clientIDs []string) ([]core.Order, error) {
	if len(clientIDs) == 0 {
		return []core.Order{}, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(clientIDs)), ",")
	args := make([]interface{}, len(clientIDs))
	for i, id := range clientIDs {
		args[i] = id
	}
	return s.query(ctx, `
		SELECT id, client_id, date, articles FROM orders
		WHERE client_id IN (`+placeholders+`)
		ORDER BY date ASC, rowid ASC
	`, args...)
}

// Between returns the orders dated in [from, to) by ascending date
func (s *OrderStore) Between(ctx context.Context, from, to time.Time) ([]core.Order, error) {
	return s.query(ctx, `
		SELECT id, client_id, date, articles FROM orders
		WHERE date >= ? AND date < ?
		ORDER BY date ASC, rowid ASC
	`, from.UTC().Format(timeLayout), to.UTC().Format(timeLayout))
}

// Count returns the number of stored orders
func (s *OrderStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM orders").Scan(&count)
	return count, err
}

func (s *OrderStore) query(ctx context.Context, query string, args ...interface{}) ([]core.Order, error) {
	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	orders := []core.Order{}
	for rows.Next() {
		var o core.Order
		var date, articles string
		if err := rows.Scan(&o.ID, &o.ClientID, &date, &articles); err != nil {
			return nil, err
		}
		if o.Date, err = time.Parse(timeLayout, date); err != nil {
			return nil, fmt.Errorf("parse date of order %s: %w", o.ID, err)
		}
		if err := json.Unmarshal([]byte(articles), &o.Articles); err != nil {
			return nil, fmt.Errorf("unmarshal articles of order %s: %w", o.ID, err)
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}
