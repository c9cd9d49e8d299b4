package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
)

func newProfileServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/u/neo.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"user": {"id": 99, "username": "neo", "name": "Neo", "trust_level": 3}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestLinuxDoProfileViaProxy(t *testing.T) {
	srv := newProfileServer(t)
	c := NewLinuxDoClient(srv.URL + "/")

	profile, err := c.Profile(context.Background(), "neo")
	require.NoError(t, err)
	assert.Equal(t, int64(99), profile.ID)
	assert.Equal(t, "neo", profile.Username)
	assert.Equal(t, 3, profile.TrustLevel)
}

func TestLinuxDoProfileErrors(t *testing.T) {
	srv := newProfileServer(t)
	c := NewLinuxDoClient(srv.URL)

	_, err := c.Profile(context.Background(), "missing")
	assert.Error(t, err)

	_, err = c.Profile(context.Background(), "")
	assert.Error(t, err)
}

func TestLinuxDoClientDefaultBase(t *testing.T) {
	c := NewLinuxDoClient("")
	assert.Equal(t, linuxDoBase, c.base)
}

func TestUserDetailEnrichment(t *testing.T) {
	srv := newProfileServer(t)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	s := NewService(database.NewGatewayWithDB(db, database.EngineMySQL), nil, NewLinuxDoClient(srv.URL))

	cols := []string{"id", "username", "display_name", "email", "status",
		"user_group", "quota", "used_quota", "request_count", "inviter_id", "linux_do_id"}
	mock.ExpectQuery(`FROM users WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(7, "alice", "Alice", "a@example.com", 1, "default", 5000, 100, 12, 0, "neo"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS n FROM tokens`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(2))

	out, err := s.User(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, out.LinuxDo)
	assert.Equal(t, 3, out.LinuxDo.TrustLevel)
	assert.Equal(t, int64(2), out.TokenCount)
}

func TestUserDetailEnrichmentBestEffort(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// An unreachable forum never fails the detail view.
	s := NewService(database.NewGatewayWithDB(db, database.EngineMySQL), nil,
		NewLinuxDoClient("http://127.0.0.1:1"))

	cols := []string{"id", "username", "display_name", "email", "status",
		"user_group", "quota", "used_quota", "request_count", "inviter_id", "linux_do_id"}
	mock.ExpectQuery(`FROM users WHERE id = \?`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(cols).
			AddRow(7, "alice", "", "", 1, "default", 5000, 100, 12, 0, "neo"))
	mock.ExpectQuery(`SELECT COUNT\(\*\) AS n FROM tokens`).
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(0))

	out, err := s.User(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, out.LinuxDo)
}
