package modelstatus

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
)

func newMockEngine(t *testing.T, at time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := NewEngine(database.NewGatewayWithDB(db, database.EngineMySQL), nil)
	e.now = func() time.Time { return at }
	return e, mock
}

func TestStatusColor(t *testing.T) {
	assert.Equal(t, "green", statusColor(0, 0))
	assert.Equal(t, "green", statusColor(95, 10))
	assert.Equal(t, "yellow", statusColor(94.9, 10))
	assert.Equal(t, "yellow", statusColor(80, 10))
	assert.Equal(t, "red", statusColor(79.9, 10))
	assert.Equal(t, "red", statusColor(50, 2))
}

func TestStatusEvenSplit(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	end := at.Unix()
	start := end - 3600

	// One success and one failure in every minute slot.
	rows := sqlmock.NewRows([]string{"slot", "total", "success"})
	for i := 0; i < 60; i++ {
		rows.AddRow(i, 2, 1)
	}
	mock.ExpectQuery(`FLOOR\(\(created_at - \?\) / \?\) AS slot`).
		WithArgs(start, int64(60), "gpt-4", start, end).
		WillReturnRows(rows)

	out, err := e.Status(context.Background(), "gpt-4", "1h", true)
	require.NoError(t, err)

	require.Len(t, out.Slots, 60)
	for _, slot := range out.Slots {
		assert.Equal(t, int64(2), slot.TotalRequests)
		assert.Equal(t, int64(1), slot.SuccessCount)
		assert.Equal(t, 50.0, slot.SuccessRate)
		assert.Equal(t, "red", slot.Status)
	}
	assert.Equal(t, int64(120), out.TotalRequests)
	assert.Equal(t, 50.0, out.SuccessRate)
	assert.Equal(t, "red", out.CurrentStatus)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStatusFillsEmptySlots(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	end := at.Unix()
	start := end - 86400

	mock.ExpectQuery(`FLOOR\(\(created_at - \?\) / \?\) AS slot`).
		WithArgs(start, int64(3600), "gpt-4", start, end).
		WillReturnRows(sqlmock.NewRows([]string{"slot", "total", "success"}).
			AddRow(23, 10, 10))

	out, err := e.Status(context.Background(), "gpt-4", "24h", true)
	require.NoError(t, err)

	require.Len(t, out.Slots, 24)
	for i := 0; i < 23; i++ {
		assert.Zero(t, out.Slots[i].TotalRequests)
		assert.Equal(t, "green", out.Slots[i].Status)
	}
	assert.Equal(t, int64(10), out.Slots[23].TotalRequests)
	assert.Equal(t, 100.0, out.Slots[23].SuccessRate)
	assert.Equal(t, "green", out.CurrentStatus)
}

func TestStatusUnknownWindow(t *testing.T) {
	e, _ := newMockEngine(t, time.Now())
	_, err := e.Status(context.Background(), "gpt-4", "2h", true)
	assert.Error(t, err)
}

func TestAvailableModelsFallsBackToLogs(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	mock.ExpectQuery(`FROM abilities`).
		WillReturnRows(sqlmock.NewRows([]string{"model_name"}))
	mock.ExpectQuery(`SELECT DISTINCT model_name FROM logs`).
		WithArgs(at.Unix() - 86400).
		WillReturnRows(sqlmock.NewRows([]string{"model_name"}).
			AddRow("gpt-4o").AddRow("claude-sonnet"))

	models, err := e.AvailableModels(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet", "gpt-4o"}, models)
}
