package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/topup"
)

func newTopUpHandler(t *testing.T) (*TopUpHandler, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewTopUpHandler(topup.NewService(database.NewGatewayWithDB(db, database.EngineMySQL))), mock
}

func refundRequest(id string) *http.Request {
	r := httptest.NewRequest(http.MethodPost, "/api/top-ups/"+id+"/refund", nil)
	return mux.SetURLVars(r, map[string]string{"id": id})
}

func TestRefundHandlerSecondCallIs200(t *testing.T) {
	h, mock := newTopUpHandler(t)

	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT user_id, amount, status FROM top_ups WHERE id = \?`).
		WithArgs(int64(42)).
		WillReturnRows(sqlmock.NewRows([]string{"user_id", "amount", "status"}).
			AddRow(7, 1000, "REFUNDED"))
	mock.ExpectExec(`UPDATE top_ups SET status = 'REFUNDED'`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	rec := httptest.NewRecorder()
	h.Refund(rec, refundRequest("42"))

	assert.Equal(t, http.StatusOK, rec.Code)
	out := decodeEnvelope(t, rec)
	assert.True(t, out.Success)
	assert.Equal(t, "already refunded", out.Message)
}

func TestRefundHandlerBadID(t *testing.T) {
	h, _ := newTopUpHandler(t)

	rec := httptest.NewRecorder()
	h.Refund(rec, refundRequest("abc"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = httptest.NewRecorder()
	h.Refund(rec, refundRequest("-1"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
