package topup

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/gatescope/gatescope/internal/database"
)

// Gateway top-up statuses counted as paid. The refund predicate only
// matches these, which is what makes a double refund impossible.
var successStatuses = []string{"success", "completed", "1"}

const statusRefunded = "REFUNDED"

// ErrNotFound marks an absent top-up; handlers translate to HTTP 404.
var ErrNotFound = fmt.Errorf("top-up not found")

// ErrAlreadyRefunded marks the second refund of the same top-up.
var ErrAlreadyRefunded = fmt.Errorf("already refunded")

// Service reads top-ups and applies refunds against the gateway DB.
type Service struct {
	gw  *database.Gateway
	now func() time.Time
}

func NewService(gw *database.Gateway) *Service {
	return &Service{gw: gw, now: time.Now}
}

// TopUp is one payment row, with the username joined in for listings.
type TopUp struct {
	ID            int64   `json:"id"`
	UserID        int64   `json:"user_id"`
	Username      string  `json:"username,omitempty"`
	Amount        int64   `json:"amount"`
	Money         float64 `json:"money"`
	TradeNo       string  `json:"trade_no"`
	PaymentMethod string  `json:"payment_method"`
	CreateTime    int64   `json:"create_time"`
	CompleteTime  int64   `json:"complete_time"`
	Status        string  `json:"status"`
}

// List pages top-ups newest-first. status filters exactly; userID of zero
// means all users.
func (s *Service) List(ctx context.Context, page, pageSize int, status string, userID int64) ([]TopUp, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	where := "1=1"
	var args []interface{}
	if status != "" {
		where += " AND t.status = ?"
		args = append(args, status)
	}
	if userID > 0 {
		where += " AND t.user_id = ?"
		args = append(args, userID)
	}

	countRow, err := s.gw.QueryOne(ctx, `SELECT COUNT(*) AS n FROM top_ups t WHERE `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("top-up count: %w", err)
	}
	var total int64
	if countRow != nil {
		total = countRow.Int64("n")
	}

	rows, err := s.gw.Query(ctx,
		`SELECT t.id, t.user_id, COALESCE(u.username, '') AS username,
		        t.amount, t.money, t.trade_no, t.payment_method,
		        t.create_time, t.complete_time, t.status
		 FROM top_ups t
		 LEFT JOIN users u ON u.id = t.user_id
		 WHERE `+where+`
		 ORDER BY t.id DESC LIMIT ? OFFSET ?`,
		append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("top-up list: %w", err)
	}

	out := make([]TopUp, 0, len(rows))
	for _, row := range rows {
		out = append(out, TopUp{
			ID:            row.Int64("id"),
			UserID:        row.Int64("user_id"),
			Username:      row.String("username"),
			Amount:        row.Int64("amount"),
			Money:         row.Float64("money"),
			TradeNo:       row.String("trade_no"),
			PaymentMethod: row.String("payment_method"),
			CreateTime:    row.Int64("create_time"),
			CompleteTime:  row.Int64("complete_time"),
			Status:        row.String("status"),
		})
	}
	return out, total, nil
}

// Stats aggregates the payment history.
type Stats struct {
	TotalCount    int64   `json:"total_count"`
	SuccessCount  int64   `json:"success_count"`
	RefundedCount int64   `json:"refunded_count"`
	TotalAmount   int64   `json:"total_amount"`
	TotalMoney    float64 `json:"total_money"`
}

func (s *Service) Statistics(ctx context.Context) (*Stats, error) {
	inList := "'" + strings.Join(successStatuses, "', '") + "'"
	row, err := s.gw.QueryOne(ctx, fmt.Sprintf(
		`SELECT COUNT(*) AS total_count,
		        SUM(CASE WHEN status IN (%s) THEN 1 ELSE 0 END) AS success_count,
		        SUM(CASE WHEN status = '%s' THEN 1 ELSE 0 END) AS refunded_count,
		        COALESCE(SUM(CASE WHEN status IN (%s) THEN amount ELSE 0 END), 0) AS total_amount,
		        COALESCE(SUM(CASE WHEN status IN (%s) THEN money ELSE 0 END), 0) AS total_money
		 FROM top_ups`, inList, statusRefunded, inList, inList))
	if err != nil {
		return nil, fmt.Errorf("top-up stats: %w", err)
	}

	out := &Stats{}
	if row != nil {
		out.TotalCount = row.Int64("total_count")
		out.SuccessCount = row.Int64("success_count")
		out.RefundedCount = row.Int64("refunded_count")
		out.TotalAmount = row.Int64("total_amount")
		out.TotalMoney = row.Float64("total_money")
	}
	return out, nil
}

// RefundResult reports what the refund transaction did.
type RefundResult struct {
	TopUpID  int64 `json:"top_up_id"`
	UserID   int64 `json:"user_id"`
	Amount   int64 `json:"amount"`
	Refunded bool  `json:"refunded"`
}

// Refund marks one top-up REFUNDED and claws the quota back, in a single
// gateway transaction. The status flip carries the idempotence: its WHERE
// clause only matches paid statuses, so of two concurrent refunds exactly
// one sees affected=1. The quota decrement floors at zero.
func (s *Service) Refund(ctx context.Context, id int64) (*RefundResult, error) {
	result := &RefundResult{TopUpID: id}

	err := s.gw.Tx(ctx, func(tx *sql.Tx) error {
		var userID, amount int64
		var status string
		row := tx.QueryRowContext(ctx,
			s.gw.Rebind(`SELECT user_id, amount, status FROM top_ups WHERE id = ?`), id)
		if err := row.Scan(&userID, &amount, &status); err == sql.ErrNoRows {
			return ErrNotFound
		} else if err != nil {
			return fmt.Errorf("refund lookup: %w", err)
		}
		result.UserID = userID
		result.Amount = amount

		placeholders := database.BuildPlaceholders(s.gw.IsPG(), len(successStatuses), 2)
		args := make([]interface{}, 0, len(successStatuses)+1)
		args = append(args, id)
		for _, st := range successStatuses {
			args = append(args, st)
		}
		res, err := tx.ExecContext(ctx, s.gw.Rebind(fmt.Sprintf(
			`UPDATE top_ups SET status = '%s' WHERE id = ? AND status IN (%s)`,
			statusRefunded, placeholders)), args...)
		if err != nil {
			return fmt.Errorf("refund status update: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("refund rows affected: %w", err)
		}
		if affected == 0 {
			if status == statusRefunded {
				return ErrAlreadyRefunded
			}
			return fmt.Errorf("top-up %d is not refundable (status %q)", id, status)
		}

		// GREATEST exists on both engines.
		if _, err := tx.ExecContext(ctx, s.gw.Rebind(
			`UPDATE users SET quota = GREATEST(quota - ?, 0) WHERE id = ?`), amount, userID); err != nil {
			return fmt.Errorf("refund quota decrement: %w", err)
		}

		result.Refunded = true
		return nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}
