package redemption

import (
	"context"
	"regexp"
	"strings"
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
	return NewService(database.NewGatewayWithDB(db, database.EngineMySQL)), mock
}

var keyPattern = regexp.MustCompile(`^[A-Za-z0-9]{32}$`)

func TestNewKeyShape(t *testing.T) {
	s := NewService(nil)

	key, err := s.newKey("")
	require.NoError(t, err)
	assert.Len(t, key, keyLength)
	assert.Regexp(t, keyPattern, key)

	key, err = s.newKey("TEST")
	require.NoError(t, err)
	assert.Len(t, key, keyLength)
	assert.True(t, strings.HasPrefix(key, "TEST"))
}

func TestNewKeyLongPrefixTruncated(t *testing.T) {
	s := NewService(nil)

	prefix := strings.Repeat("A", 30)
	key, err := s.newKey(prefix)
	require.NoError(t, err)
	assert.Len(t, key, keyLength)
	assert.True(t, strings.HasPrefix(key, strings.Repeat("A", maxPrefixLen)))
}

func TestNewKeyUniqueness(t *testing.T) {
	s := NewService(nil)
	// Freeze time so uniqueness rests on entropy and the counter alone.
	at := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return at }

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		key, err := s.newKey("TEST")
		require.NoError(t, err)
		_, dup := seen[key]
		require.False(t, dup, "duplicate key %s", key)
		seen[key] = struct{}{}
	}
}

func TestGenerateBatch(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectBegin()
	for i := 0; i < 10; i++ {
		mock.ExpectExec(`INSERT INTO redemptions`).
			WillReturnResult(sqlmock.NewResult(int64(i+1), 1))
	}
	mock.ExpectCommit()

	out, err := s.Generate(context.Background(), GenerateRequest{
		Count:  10,
		Prefix: "TEST",
		Quota:  100,
	})
	require.NoError(t, err)

	assert.Equal(t, 10, out.Count)
	require.Len(t, out.Keys, 10)
	seen := make(map[string]struct{})
	for _, key := range out.Keys {
		assert.Len(t, key, 32)
		assert.True(t, strings.HasPrefix(key, "TEST"))
		_, dup := seen[key]
		assert.False(t, dup)
		seen[key] = struct{}{}
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateRejectsBadCount(t *testing.T) {
	s, _ := newMockService(t)

	_, err := s.Generate(context.Background(), GenerateRequest{Count: 0})
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = s.Generate(context.Background(), GenerateRequest{Count: maxBatch + 1})
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = s.Generate(context.Background(), GenerateRequest{Count: 1, Quota: -5})
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestDelete(t *testing.T) {
	s, mock := newMockService(t)

	mock.ExpectExec(`UPDATE redemptions SET deleted_at`).
		WithArgs(sqlmock.AnyArg(), int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	removed, err := s.Delete(context.Background(), 7)
	require.NoError(t, err)
	assert.True(t, removed)

	mock.ExpectExec(`UPDATE redemptions SET deleted_at`).
		WithArgs(sqlmock.AnyArg(), int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	removed, err = s.Delete(context.Background(), 8)
	require.NoError(t, err)
	assert.False(t, removed)
}
