package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
)

// newMockEngine wires an engine straight onto a sqlmock handle with no
// cache, frozen at the given instant in UTC.
func newMockEngine(t *testing.T, at time.Time) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	e := NewEngine(database.NewGatewayWithDB(db, database.EngineMySQL), nil, nil, nil, time.UTC)
	e.now = func() time.Time { return at }
	return e, mock
}

func TestHourlyTrendsFillsEmptyBuckets(t *testing.T) {
	at := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	endBucket := at.Unix() / 3600
	startTS := (endBucket - 2) * 3600

	mock.ExpectQuery(`SELECT FLOOR\(\(created_at \+ \?\) / \?\) AS bucket`).
		WithArgs(int64(0), int64(3600), startTS).
		WillReturnRows(sqlmock.NewRows([]string{
			"bucket", "request_count", "quota_used", "prompt_tokens",
			"completion_tokens", "failure_count", "avg_use_time",
		}).AddRow(endBucket-1, 5, 120, 900, 300, 1, 2.5))

	out, err := e.HourlyTrends(context.Background(), 3, true)
	require.NoError(t, err)
	require.Len(t, out, 3)

	assert.Equal(t, "2026-01-02 08:00", out[0].Label)
	assert.Equal(t, "2026-01-02 09:00", out[1].Label)
	assert.Equal(t, "2026-01-02 10:00", out[2].Label)

	assert.Zero(t, out[0].RequestCount)
	assert.Equal(t, int64(5), out[1].RequestCount)
	assert.Equal(t, int64(120), out[1].QuotaUsed)
	assert.Equal(t, int64(1), out[1].FailureCount)
	assert.Equal(t, 2.5, out[1].AvgUseTime)
	assert.Zero(t, out[2].RequestCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDailyTrendsUsesQuotaDataWhenPresent(t *testing.T) {
	at := time.Date(2026, 1, 2, 10, 30, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	mock.ExpectQuery(`information_schema.tables`).
		WithArgs("quota_data").
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))

	endBucket := at.Unix() / 86400
	startTS := (endBucket - 1) * 86400
	mock.ExpectQuery(`FROM quota_data`).
		WithArgs(int64(0), startTS).
		WillReturnRows(sqlmock.NewRows([]string{"bucket", "request_count", "quota_used"}).
			AddRow(endBucket, 42, 7000))

	out, err := e.DailyTrends(context.Background(), 2, true)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "2026-01-01", out[0].Label)
	assert.Zero(t, out[0].RequestCount)
	assert.Equal(t, "2026-01-02", out[1].Label)
	assert.Equal(t, int64(42), out[1].RequestCount)
	assert.Equal(t, int64(7000), out[1].QuotaUsed)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestTrendsRangeValidation(t *testing.T) {
	e, _ := newMockEngine(t, time.Now())

	_, err := e.DailyTrends(context.Background(), 0, true)
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = e.DailyTrends(context.Background(), 91, true)
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = e.HourlyTrends(context.Background(), 169, true)
	assert.ErrorIs(t, err, ErrInvalidParam)
}
