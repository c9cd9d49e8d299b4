package topup

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
)

func newMockService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s := NewService(database.NewGatewayWithDB(db, database.EngineMySQL))
	s.now = func() time.Time { return time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC) }
	return s, mock
}

func TestRefund(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, amount, status FROM top_ups WHERE id = \?`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(7, 1000, "success"))
	mock.ExpectExec(`UPDATE top_ups SET status = 'REFUNDED' WHERE id = \? AND status IN`).
		WithArgs(int64(42), "success", "completed", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE users SET quota = GREATEST\(quota - \?, 0\) WHERE id = \?`).
		WithArgs(int64(1000), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	out, err := s.Refund(context.Background(), 42)
	require.NoError(t, err)
	assert.True(t, out.Refunded)
	assert.Equal(t, int64(42), out.TopUpID)
	assert.Equal(t, int64(7), out.UserID)
	assert.Equal(t, int64(1000), out.Amount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundTwiceIsRejected(t *testing.T) {
	s, mock := newMockService(t)

	// The status flip matches nothing the second time around.
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, amount, status FROM top_ups WHERE id = \?`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(7, 1000, statusRefunded))
	mock.ExpectExec(`UPDATE top_ups SET status = 'REFUNDED' WHERE id = \? AND status IN`).
		WithArgs(int64(42), "success", "completed", "1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Refund(context.Background(), 42)
	assert.ErrorIs(t, err, ErrAlreadyRefunded)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRefundMissingTopUp(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, amount, status FROM top_ups WHERE id = \?`).
		WithArgs(int64(99)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}))
	mock.ExpectRollback()

	_, err := s.Refund(context.Background(), 99)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRefundPendingNotRefundable(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, amount, status FROM top_ups WHERE id = \?`).
		WithArgs(int64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(3, 500, "pending"))
	mock.ExpectExec(`UPDATE top_ups SET status = 'REFUNDED' WHERE id = \? AND status IN`).
		WithArgs(int64(5), "success", "completed", "1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Refund(context.Background(), 5)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyRefunded)
}

func TestListClampsPaging(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS n FROM top_ups t WHERE 1=1`).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	mock.ExpectQuery(`FROM top_ups t`).
		WithArgs(50, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "username", "amount", "money", "trade_no",
			"payment_method", "create_time", "complete_time", "status",
		}).AddRow(1, 7, "alice", 1000, 9.99, "TN-1", "stripe", 100, 200, "success"))

	out, total, err := s.List(context.Background(), 0, 500, "", 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, out, 1)
	assert.Equal(t, "alice", out[0].Username)
	assert.Equal(t, int64(1000), out[0].Amount)
}

func TestListFilters(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS n FROM top_ups t WHERE 1=1 AND t.status = \? AND t.user_id = \?`).
		WithArgs("success", int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))
	mock.ExpectQuery(`FROM top_ups t`).
		WithArgs("success", int64(7), 20, 0).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "user_id", "username", "amount", "money", "trade_no",
			"payment_method", "create_time", "complete_time", "status",
		}))

	out, total, err := s.List(context.Background(), 1, 20, "success", 7)
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, out)
}
