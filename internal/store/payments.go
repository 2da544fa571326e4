package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-kassa/internal/payment"
)

// PaymentStore persists the gateway payment recorded for each order.
type PaymentStore struct {
	Pool *pgxpool.Pool
}

var _ payment.OrderStore = (*PaymentStore)(nil)

// New returns a store backed by pool.
func New(pool *pgxpool.Pool) *PaymentStore {
	return &PaymentStore{Pool: pool}
}

const upsertPayment = `
INSERT INTO order_payments (order_id, payment_id, status, paid, amount, currency, payload)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (order_id) DO UPDATE SET
    payment_id = EXCLUDED.payment_id,
    status     = EXCLUDED.status,
    paid       = EXCLUDED.paid,
    amount     = EXCLUDED.amount,
    currency   = EXCLUDED.currency,
    payload    = EXCLUDED.payload,
    updated_at = now()
WHERE order_payments.status <> 'succeeded'
  AND (order_payments.payment_id, order_payments.status, order_payments.paid)
      IS DISTINCT FROM (EXCLUDED.payment_id, EXCLUDED.status, EXCLUDED.paid)`

const insertEvent = `
INSERT INTO payment_events (order_id, payment_id, status, payload)
VALUES ($1, $2, $3, $4)`

// GetPaymentIDForOrder returns payment.ErrNoPayment when the order has no attempt.
func (s *PaymentStore) GetPaymentIDForOrder(ctx context.Context, orderID string) (string, error) {
	var id string
	err := s.Pool.QueryRow(ctx, `SELECT payment_id FROM order_payments WHERE order_id = $1`, orderID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", payment.ErrNoPayment
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// SavePayment upserts the payment for the order and appends each state change
// to the event history. Re-saving an unchanged payment is a no-op, and a
// succeeded row is never overwritten.
func (s *PaymentStore) SavePayment(ctx context.Context, orderID string, p payment.Payment) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode payment: %w", err)
	}
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, upsertPayment,
		orderID, p.ID, string(p.Status), p.Paid, p.Amount.Value, p.Amount.Currency, payload)
	if err != nil {
		return fmt.Errorf("upsert order payment: %w", err)
	}
	if tag.RowsAffected() > 0 {
		if _, err := tx.Exec(ctx, insertEvent, orderID, p.ID, string(p.Status), payload); err != nil {
			return fmt.Errorf("insert payment event: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// Record is the stored view of an order payment.
type Record struct {
	OrderID   string
	PaymentID string
	Status    payment.Status
	Paid      bool
	Amount    payment.Amount
	UpdatedAt time.Time
}

// Get returns the stored payment for the order.
func (s *PaymentStore) Get(ctx context.Context, orderID string) (Record, error) {
	var (
		rec    Record
		status string
		amount decimal.Decimal
	)
	err := s.Pool.QueryRow(ctx, `
SELECT order_id, payment_id, status, paid, amount, currency, updated_at
FROM order_payments WHERE order_id = $1`, orderID).
		Scan(&rec.OrderID, &rec.PaymentID, &status, &rec.Paid, &amount, &rec.Amount.Currency, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, payment.ErrNoPayment
	}
	if err != nil {
		return Record{}, err
	}
	rec.Status = payment.Status(status)
	rec.Amount.Value = amount
	return rec, nil
}

// ListOpenOrders returns orders whose payment is still pending or waiting for
// capture and has not been touched since before.
func (s *PaymentStore) ListOpenOrders(ctx context.Context, before time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx, `
SELECT order_id FROM order_payments
WHERE status IN ('pending', 'waiting_for_capture') AND updated_at < $1
ORDER BY updated_at
LIMIT $2`, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
