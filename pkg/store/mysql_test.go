package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"topup-fulfillment/pkg/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupMockDB(t *testing.T) (*MySQLOrderStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewMySQLOrderStore(db), mock
}

var orderRowColumns = []string{"id", "game_name", "package_name", "player_id", "server_id", "player_name",
	"amount", "currency", "payment_method", "external_product_ref", "external_order_ref",
	"idempotency_token", "card_codes", "status", "status_message", "created_at", "updated_at"}

func TestGet_Success(t *testing.T) {
	s, mock := setupMockDB(t)
	now := time.Now()

	rows := sqlmock.NewRows(orderRowColumns).AddRow(
		"order-1", "Steam Wallet", "IDR 60.000", "7788", nil, nil, int64(65000), "IDR", "qris",
		"voucher_3301", "99001", "order-1", `[{"code":"ABCD-1234","serial":"SN1","expire":"2027-01-01"}]`,
		"completed", "delivered", now, now)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).
		WithArgs("order-1").
		WillReturnRows(rows)

	o, err := s.Get(context.Background(), "order-1")
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, o.Status)
	assert.Equal(t, "99001", o.ExternalOrderRef)
	assert.Equal(t, "order-1", o.IdempotencyToken)
	assert.Empty(t, o.ServerID)
	require.Len(t, o.CardCodes, 1)
	assert.Equal(t, "ABCD-1234", o.CardCodes[0].Code)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGet_NotFound(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM orders WHERE id = ?")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(orderRowColumns))

	o, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, o)
}

func TestTransition_LeaseAcquired(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE orders SET status = ?")).
		WithArgs("processing", "dispatching", false, nil, nil, false, nil, nil, "order-1", "order-1", "paid").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Transition(context.Background(), "order-1", models.Transition{
		From:             []models.Status{models.StatusPaid},
		To:               models.StatusProcessing,
		Message:          "dispatching",
		IdempotencyToken: "order-1",
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_LeaseLost(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND (status IN (?))")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	ok, err := s.Transition(context.Background(), "order-1", models.Transition{
		From: []models.Status{models.StatusPaid},
		To:   models.StatusProcessing,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestTransition_StaleClause(t *testing.T) {
	s, mock := setupMockDB(t)
	before := time.Now().Add(-10 * time.Minute)

	mock.ExpectExec(regexp.QuoteMeta("status IN (?, ?, ?) OR (status = ? AND external_order_ref IS NULL AND updated_at < ?)")).
		WithArgs("processing", "retrying", false, nil, nil, false, nil, nil, nil, "order-1",
			"paid", "failed", "pending_manual", "processing", before).
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Transition(context.Background(), "order-1", models.Transition{
		From:        []models.Status{models.StatusPaid, models.StatusFailed, models.StatusPendingManual},
		To:          models.StatusProcessing,
		Message:     "retrying",
		StaleBefore: &before,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_ResetDispatchClearsReference(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectExec(regexp.QuoteMeta("external_order_ref = IF(?, ?, COALESCE(?, external_order_ref))")).
		WithArgs("processing", "retrying", true, nil, nil, true, nil, nil, "order-1-2", "order-1", "failed").
		WillReturnResult(sqlmock.NewResult(0, 1))

	ok, err := s.Transition(context.Background(), "order-1", models.Transition{
		From:             []models.Status{models.StatusFailed},
		To:               models.StatusProcessing,
		Message:          "retrying",
		IdempotencyToken: "order-1-2",
		ResetDispatch:    true,
	})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTransition_RequiresPrecondition(t *testing.T) {
	s, _ := setupMockDB(t)

	_, err := s.Transition(context.Background(), "order-1", models.Transition{To: models.StatusCompleted})
	assert.Error(t, err)
}

func TestRecordAttempt(t *testing.T) {
	s, mock := setupMockDB(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM fulfillment_attempts WHERE order_id = ?")).
		WithArgs("order-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO fulfillment_attempts")).
		WithArgs("order-1", 2, "voucher", `{"sku_id":"3301"}`).
		WillReturnResult(sqlmock.NewResult(2, 1))

	n, err := s.RecordAttempt(context.Background(), "order-1", "voucher", []byte(`{"sku_id":"3301"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListStuck(t *testing.T) {
	s, mock := setupMockDB(t)
	old := time.Now().Add(-time.Hour)
	before := time.Now().Add(-5 * time.Minute)

	rows := sqlmock.NewRows(orderRowColumns).
		AddRow("order-1", "Mobile Legends", "86 Diamonds", "12345", "6789", nil, int64(21000), "IDR", "qris",
			"recharge_mlbb_42", "99001", nil, nil, "processing", "awaiting provider", old, old)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status = ? AND updated_at < ?")).
		WithArgs("processing", before, 50).
		WillReturnRows(rows)

	orders, err := s.ListStuck(context.Background(), before, 50)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "6789", orders[0].ServerID)
	assert.Nil(t, orders[0].CardCodes)
}
