package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"topup-fulfillment/pkg/models"
)

const orderColumns = `id, game_name, package_name, player_id, server_id, player_name, amount, currency,
	payment_method, external_product_ref, external_order_ref, idempotency_token, card_codes, status,
	status_message, created_at, updated_at`

type MySQLOrderStore struct {
	db *sql.DB
}

func NewMySQLOrderStore(db *sql.DB) *MySQLOrderStore {
	return &MySQLOrderStore{db: db}
}

func (s *MySQLOrderStore) Insert(ctx context.Context, o *models.Order) error {
	cards, err := encodeCards(o.CardCodes)
	if err != nil {
		return err
	}

	query := `INSERT INTO orders (id, game_name, package_name, player_id, server_id, player_name, amount,
		currency, payment_method, external_product_ref, external_order_ref, idempotency_token, card_codes,
		status, status_message, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	createdAt := o.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx, query,
		o.ID, o.GameName, o.PackageName, o.PlayerID, nullString(o.ServerID), nullString(o.PlayerName),
		o.Amount, o.Currency, o.PaymentMethod, nullString(o.ExternalProductRef), nullString(o.ExternalOrderRef),
		nullString(o.IdempotencyToken), cards, o.Status, o.StatusMessage, createdAt, createdAt)
	if err != nil {
		return fmt.Errorf("failed to insert order %s: %w", o.ID, err)
	}
	return nil
}

func (s *MySQLOrderStore) Get(ctx context.Context, id string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	return scanOrder(row)
}

func (s *MySQLOrderStore) GetByExternalRef(ctx context.Context, ref string) (*models.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE external_order_ref = ?`, ref)
	return scanOrder(row)
}

// Transition is a single conditional UPDATE. clientFoundRows is enabled on
// the DSN so a matched row always counts as affected. With ResetDispatch the
// reference and card columns take the new values even when those are NULL.
func (s *MySQLOrderStore) Transition(ctx context.Context, id string, t models.Transition) (bool, error) {
	if len(t.From) == 0 && t.StaleBefore == nil {
		return false, fmt.Errorf("transition to %s for order %s has no precondition", t.To, id)
	}

	cards, err := encodeCards(t.CardCodes)
	if err != nil {
		return false, err
	}

	ref := nullString(t.ExternalOrderRef)
	args := []interface{}{
		t.To, t.Message,
		t.ResetDispatch, ref, ref,
		t.ResetDispatch, cards, cards,
		nullString(t.IdempotencyToken),
		id,
	}

	var conds []string
	if len(t.From) > 0 {
		placeholders := make([]string, len(t.From))
		for i, st := range t.From {
			placeholders[i] = "?"
			args = append(args, st)
		}
		conds = append(conds, "status IN ("+strings.Join(placeholders, ", ")+")")
	}
	if t.StaleBefore != nil {
		conds = append(conds, "(status = ? AND external_order_ref IS NULL AND updated_at < ?)")
		args = append(args, models.StatusProcessing, *t.StaleBefore)
	}

	query := `UPDATE orders SET status = ?, status_message = ?,
		external_order_ref = IF(?, ?, COALESCE(?, external_order_ref)),
		card_codes = IF(?, ?, COALESCE(?, card_codes)),
		idempotency_token = COALESCE(?, idempotency_token),
		updated_at = CURRENT_TIMESTAMP(3)
		WHERE id = ? AND (` + strings.Join(conds, " OR ") + `)`

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("failed to transition order %s to %s: %w", id, t.To, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read rows affected for order %s: %w", id, err)
	}
	return n == 1, nil
}

func (s *MySQLOrderStore) ListStuck(ctx context.Context, before time.Time, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders
		WHERE status = ? AND updated_at < ?
		ORDER BY updated_at ASC LIMIT ?`
	return s.queryOrders(ctx, query, models.StatusProcessing, before, limit)
}

// List returns the most recent orders, newest first.
func (s *MySQLOrderStore) List(ctx context.Context, limit int) ([]*models.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders ORDER BY created_at DESC LIMIT ?`
	return s.queryOrders(ctx, query, limit)
}

func (s *MySQLOrderStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]*models.Order, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate orders: %w", err)
	}
	return orders, nil
}

func (s *MySQLOrderStore) RecordAttempt(ctx context.Context, orderID, operation string, payload []byte) (int, error) {
	var attemptNumber int
	query := `SELECT COUNT(*) FROM fulfillment_attempts WHERE order_id = ?`
	if err := s.db.QueryRowContext(ctx, query, orderID).Scan(&attemptNumber); err != nil {
		return 0, fmt.Errorf("failed to count attempts for order %s: %w", orderID, err)
	}
	attemptNumber++

	query = `INSERT INTO fulfillment_attempts (order_id, attempt_number, operation, payload) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, query, orderID, attemptNumber, operation, string(payload)); err != nil {
		return 0, fmt.Errorf("failed to insert attempt for order %s: %w", orderID, err)
	}
	return attemptNumber, nil
}

func (s *MySQLOrderStore) ListAttempts(ctx context.Context, limit int) ([]models.FulfillmentAttempt, error) {
	query := `SELECT id, order_id, attempt_number, operation, COALESCE(payload, ''), attempted_at
		FROM fulfillment_attempts ORDER BY attempted_at DESC, id DESC LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []models.FulfillmentAttempt
	for rows.Next() {
		var a models.FulfillmentAttempt
		if err := rows.Scan(&a.ID, &a.OrderID, &a.AttemptNumber, &a.Operation, &a.Payload, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row scanner) (*models.Order, error) {
	var (
		o                                models.Order
		serverID, playerName, productRef sql.NullString
		orderRef, token, statusMessage   sql.NullString
		cards                            []byte
	)
	err := row.Scan(&o.ID, &o.GameName, &o.PackageName, &o.PlayerID, &serverID, &playerName, &o.Amount,
		&o.Currency, &o.PaymentMethod, &productRef, &orderRef, &token, &cards, &o.Status, &statusMessage,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan order: %w", err)
	}

	o.ServerID = serverID.String
	o.PlayerName = playerName.String
	o.ExternalProductRef = productRef.String
	o.ExternalOrderRef = orderRef.String
	o.IdempotencyToken = token.String
	o.StatusMessage = statusMessage.String
	if len(cards) > 0 {
		if err := json.Unmarshal(cards, &o.CardCodes); err != nil {
			return nil, fmt.Errorf("failed to decode card codes for order %s: %w", o.ID, err)
		}
	}
	return &o, nil
}

func encodeCards(cards []models.CardCode) (interface{}, error) {
	if cards == nil {
		return nil, nil
	}
	b, err := json.Marshal(cards)
	if err != nil {
		return nil, fmt.Errorf("failed to encode card codes: %w", err)
	}
	return string(b), nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
