package analytics

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAffiliatedAccountsTruncatesInvitedList(t *testing.T) {
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	e, mock := newMockEngine(t, at)

	mock.ExpectQuery(`GROUP BY inviter_id`).
		WithArgs(5, 20).
		WillReturnRows(sqlmock.NewRows([]string{"inviter_id", "invited_count"}).
			AddRow(3, 25))

	mock.ExpectQuery(`SELECT id, username FROM users WHERE id IN`).
		WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "username"}).
			AddRow(3, "recruiter"))

	invited := sqlmock.NewRows([]string{"inviter_id", "id", "username", "status", "used_quota"})
	for i := 0; i < 25; i++ {
		invited.AddRow(3, 100+i, fmt.Sprintf("sock%d", i), 1, 0)
	}
	mock.ExpectQuery(`WHERE inviter_id IN`).
		WithArgs(int64(3)).
		WillReturnRows(invited)

	out, err := e.AffiliatedAccounts(context.Background(), 5, 20, true)
	require.NoError(t, err)
	require.Len(t, out, 1)

	// The count stays exact while the detail list is capped.
	assert.Equal(t, "recruiter", out[0].InviterUsername)
	assert.Equal(t, int64(25), out[0].InvitedCount)
	assert.Len(t, out[0].InvitedUsers, maxInvitedUsers)
	assert.Equal(t, "sock0", out[0].InvitedUsers[0].Username)

	assert.NoError(t, mock.ExpectationsWereMet())
}
