package order

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/coachingcentre/notes-store/database"
	"github.com/jmoiron/sqlx"
)

// PGStore keeps orders in Postgres. Line items, customer, payment and meta
// are stored as JSONB columns.
type PGStore struct {
	db *sqlx.DB
}

func NewPGStore(db *sqlx.DB) *PGStore {
	return &PGStore{db: db}
}

type orderRow struct {
	ID              string         `db:"order_id"`
	Status          string         `db:"status"`
	Amount          int64          `db:"amount"`
	Items           string         `db:"items"`
	Customer        string         `db:"customer"`
	Payment         sql.NullString `db:"payment"`
	Meta            string         `db:"meta"`
	UPIURI          string         `db:"upi_uri"`
	Provider        string         `db:"provider"`
	MerchantOrderID string         `db:"merchant_order_id"`
	CreatedAt       time.Time      `db:"created_at"`
	UpdatedAt       time.Time      `db:"updated_at"`
}

const orderColumns = `order_id, status, amount, items, customer, payment, meta, upi_uri, provider, merchant_order_id, created_at, updated_at`

func toRow(o Order) (orderRow, error) {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return orderRow{}, fmt.Errorf("encoding items: %w", err)
	}
	customer, err := json.Marshal(o.Customer)
	if err != nil {
		return orderRow{}, fmt.Errorf("encoding customer: %w", err)
	}

	r := orderRow{
		ID:              o.ID,
		Status:          string(o.Status),
		Amount:          o.Amount,
		Items:           string(items),
		Customer:        string(customer),
		Meta:            "{}",
		UPIURI:          o.UPIURI,
		Provider:        o.Provider,
		MerchantOrderID: o.MerchantOrderID,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}

	if len(o.Meta) > 0 {
		r.Meta = string(o.Meta)
	}
	if o.Payment != nil {
		p, err := json.Marshal(o.Payment)
		if err != nil {
			return orderRow{}, fmt.Errorf("encoding payment: %w", err)
		}
		r.Payment = sql.NullString{String: string(p), Valid: true}
	}
	return r, nil
}

func (r orderRow) order() (Order, error) {
	o := Order{
		ID:              r.ID,
		Status:          Status(r.Status),
		Amount:          r.Amount,
		UPIURI:          r.UPIURI,
		Provider:        r.Provider,
		MerchantOrderID: r.MerchantOrderID,
		Meta:            json.RawMessage(r.Meta),
		CreatedAt:       r.CreatedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
	}

	if err := json.Unmarshal([]byte(r.Items), &o.Items); err != nil {
		return Order{}, fmt.Errorf("decoding items of order[%s]: %w", r.ID, err)
	}
	if err := json.Unmarshal([]byte(r.Customer), &o.Customer); err != nil {
		return Order{}, fmt.Errorf("decoding customer of order[%s]: %w", r.ID, err)
	}
	if r.Payment.Valid {
		var p Payment
		if err := json.Unmarshal([]byte(r.Payment.String), &p); err != nil {
			return Order{}, fmt.Errorf("decoding payment of order[%s]: %w", r.ID, err)
		}
		o.Payment = &p
	}
	return o, nil
}

func (s *PGStore) Create(ctx context.Context, o Order) error {
	r, err := toRow(o)
	if err != nil {
		return err
	}

	const q = `
	INSERT INTO orders (` + orderColumns + `)
	VALUES (:order_id, :status, :amount, :items, :customer, :payment, :meta, :upi_uri, :provider, :merchant_order_id, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, s.db, q, r); err != nil {
		return fmt.Errorf("inserting order[%s]: %w", o.ID, err)
	}
	return nil
}

func (s *PGStore) Fetch(ctx context.Context, id string) (Order, error) {
	return s.fetch(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1`, id, id)
}

func (s *PGStore) FetchByMerchantID(ctx context.Context, provider, merchantOrderID string) (Order, error) {
	if provider == "" || merchantOrderID == "" {
		return Order{}, fmt.Errorf("order bound to %s payment[%s]: %w", provider, merchantOrderID, ErrNotFound)
	}
	const q = `SELECT ` + orderColumns + ` FROM orders WHERE provider = $1 AND merchant_order_id = $2`
	return s.fetch(ctx, s.db, q, provider+"/"+merchantOrderID, provider, merchantOrderID)
}

func (s *PGStore) fetch(ctx context.Context, q sqlx.QueryerContext, query string, label string, args ...interface{}) (Order, error) {
	var r orderRow
	if err := sqlx.GetContext(ctx, q, &r, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Order{}, fmt.Errorf("order[%s]: %w", label, ErrNotFound)
		}
		return Order{}, fmt.Errorf("selecting order[%s]: %w", label, err)
	}
	return r.order()
}

// Update locks the row for the duration of fn.
func (s *PGStore) Update(ctx context.Context, id string, fn func(*Order) error) (Order, error) {
	var out Order

	err := database.Transaction(ctx, s.db, func(tx sqlx.ExtContext) error {
		o, err := s.fetch(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE order_id = $1 FOR UPDATE`, id, id)
		if err != nil {
			return err
		}

		if err := fn(&o); err != nil {
			return err
		}

		r, err := toRow(o)
		if err != nil {
			return err
		}

		const q = `
		UPDATE orders SET
			status = :status,
			payment = :payment,
			provider = :provider,
			merchant_order_id = :merchant_order_id,
			updated_at = :updated_at
		WHERE order_id = :order_id`

		if _, err := sqlx.NamedExecContext(ctx, tx, q, r); err != nil {
			return fmt.Errorf("updating order[%s]: %w", id, err)
		}

		out = o
		return nil
	})

	return out, err
}

func (s *PGStore) List(ctx context.Context) ([]Order, error) {
	var rows []orderRow
	if err := sqlx.SelectContext(ctx, s.db, &rows, `SELECT `+orderColumns+` FROM orders ORDER BY created_at, order_id`); err != nil {
		return nil, fmt.Errorf("selecting orders: %w", err)
	}

	out := make([]Order, 0, len(rows))
	for _, r := range rows {
		o, err := r.order()
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}
