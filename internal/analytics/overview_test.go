package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChannelStatsMergesTraffic(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	mock.ExpectQuery(`FROM channels WHERE deleted_at IS NULL`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "name", "type", "status", "priority", "used_quota", "balance",
		}).
			AddRow(1, "primary", 1, 1, 10, 5000, 12.5).
			AddRow(2, "backup", 1, 1, 5, 100, 0.0))

	end := at.Unix()
	mock.ExpectQuery(`GROUP BY channel_id`).
		WithArgs(end-86400, end).
		WillReturnRows(sqlmock.NewRows([]string{
			"channel_id", "request_count", "failure_count", "quota_used",
		}).AddRow(1, 40, 4, 900))

	out, err := e.ChannelStats(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, out, 2)

	assert.Equal(t, "primary", out[0].Name)
	assert.Equal(t, int64(40), out[0].RequestCount)
	assert.Equal(t, int64(4), out[0].FailureCount)
	assert.Equal(t, int64(900), out[0].QuotaUsed)

	// Channels with no traffic in the window keep zero counters.
	assert.Equal(t, "backup", out[1].Name)
	assert.Zero(t, out[1].RequestCount)

	assert.NoError(t, mock.ExpectationsWereMet())
}
