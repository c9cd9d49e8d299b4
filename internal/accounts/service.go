package accounts

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/logging"
)

// ErrNotFound marks an absent user or token; handlers translate to 404.
var ErrNotFound = fmt.Errorf("account not found")

// Service covers the manual admin operations on gateway users and tokens:
// detail lookup, ban/unban with an audit trail, and token management.
type Service struct {
	gw      *database.Gateway
	local   *database.LocalStore
	linuxDo *LinuxDoClient
	now     func() time.Time
}

// NewService wires the gateway and local stores; linuxDo may be nil, which
// turns off profile enrichment.
func NewService(gw *database.Gateway, local *database.LocalStore, linuxDo *LinuxDoClient) *Service {
	return &Service{gw: gw, local: local, linuxDo: linuxDo, now: time.Now}
}

// User is the admin detail view of one gateway account.
type User struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name,omitempty"`
	Email        string `json:"email,omitempty"`
	Status       int64  `json:"status"`
	Group        string `json:"group,omitempty"`
	Quota        int64  `json:"quota"`
	UsedQuota    int64  `json:"used_quota"`
	RequestCount int64  `json:"request_count"`
	InviterID    int64  `json:"inviter_id,omitempty"`
	LinuxDoID    string `json:"linux_do_id,omitempty"`
	TokenCount   int64  `json:"token_count"`

	LinuxDo *LinuxDoProfile `json:"linux_do_profile,omitempty"`
}

func (s *Service) User(ctx context.Context, id int64) (*User, error) {
	row, err := s.gw.QueryOne(ctx, fmt.Sprintf(
		`SELECT id, username, display_name, email, status, %s AS user_group,
		        quota, used_quota, request_count, inviter_id, linux_do_id
		 FROM users WHERE id = ? AND deleted_at IS NULL`,
		s.gw.Engine().QuoteIdent("group")), id)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}

	out := &User{
		ID:           row.Int64("id"),
		Username:     row.String("username"),
		DisplayName:  row.String("display_name"),
		Email:        row.String("email"),
		Status:       row.Int64("status"),
		Group:        row.String("user_group"),
		Quota:        row.Int64("quota"),
		UsedQuota:    row.Int64("used_quota"),
		RequestCount: row.Int64("request_count"),
		InviterID:    row.Int64("inviter_id"),
		LinuxDoID:    row.String("linux_do_id"),
	}

	tokens, err := s.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS n FROM tokens WHERE user_id = ? AND deleted_at IS NULL`, id)
	if err == nil && tokens != nil {
		out.TokenCount = tokens.Int64("n")
	}

	// Enrichment is best effort: a slow or blocked forum never fails the
	// detail view.
	if s.linuxDo != nil && out.LinuxDoID != "" {
		if profile, err := s.linuxDo.Profile(ctx, out.LinuxDoID); err == nil {
			out.LinuxDo = profile
		} else {
			logging.Debug("linux.do profile lookup failed", "user_id", id, "error", err)
		}
	}
	return out, nil
}

// BanUser sets status=2 and optionally disables the user's tokens in the
// same gateway transaction, then writes a manual-action audit row locally.
func (s *Service) BanUser(ctx context.Context, userID int64, reason, operator string, disableTokens bool) error {
	username, err := s.username(ctx, userID)
	if err != nil {
		return err
	}

	err = s.gw.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			s.gw.Rebind(`UPDATE users SET status = 2 WHERE id = ? AND deleted_at IS NULL`), userID)
		if err != nil {
			return fmt.Errorf("ban update: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		if disableTokens {
			if _, err := tx.ExecContext(ctx,
				s.gw.Rebind(`UPDATE tokens SET status = 2 WHERE user_id = ? AND deleted_at IS NULL`), userID); err != nil {
				return fmt.Errorf("disable tokens: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.audit(ctx, "banned", userID, username, reason, operator)
	return nil
}

// UnbanUser restores status=1 and audits the action.
func (s *Service) UnbanUser(ctx context.Context, userID int64, reason, operator string) error {
	username, err := s.username(ctx, userID)
	if err != nil {
		return err
	}

	affected, err := s.gw.Execute(ctx,
		`UPDATE users SET status = 1 WHERE id = ? AND deleted_at IS NULL`, userID)
	if err != nil {
		return fmt.Errorf("unban update: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.audit(ctx, "unbanned", userID, username, reason, operator)
	return nil
}

func (s *Service) username(ctx context.Context, userID int64) (string, error) {
	row, err := s.gw.QueryOne(ctx, `SELECT username FROM users WHERE id = ?`, userID)
	if err != nil {
		return "", fmt.Errorf("username lookup: %w", err)
	}
	if row == nil {
		return "", ErrNotFound
	}
	return row.String("username"), nil
}

// audit writes the manual-action trail into the local store. The gateway
// write has already committed; a failed audit only logs.
func (s *Service) audit(ctx context.Context, action string, userID int64, username, reason, operator string) {
	details, _ := json.Marshal(map[string]string{"reason": reason})
	err := s.local.AuditInsert(ctx, database.AuditEntry{
		ScanID:   "manual-" + uuid.NewString(),
		Action:   action,
		UserID:   userID,
		Username: username,
		Details:  string(details),
		Operator: operator,
	})
	if err != nil {
		logging.Error("manual action audit failed", "action", action, "user_id", userID, "error", err)
	}
}

// Token is the admin view of one API token. The key is partially masked.
type Token struct {
	ID             int64  `json:"id"`
	UserID         int64  `json:"user_id"`
	Name           string `json:"name"`
	Key            string `json:"key"`
	Status         int64  `json:"status"`
	RemainQuota    int64  `json:"remain_quota"`
	UnlimitedQuota bool   `json:"unlimited_quota"`
	ModelLimits    string `json:"model_limits,omitempty"`
	AllowIPs       string `json:"allow_ips,omitempty"`
	Group          string `json:"group,omitempty"`
	CreatedTime    int64  `json:"created_time"`
	ExpiredTime    int64  `json:"expired_time"`
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// UserTokens lists one user's undeleted tokens.
func (s *Service) UserTokens(ctx context.Context, userID int64) ([]Token, error) {
	rows, err := s.gw.Query(ctx, fmt.Sprintf(
		`SELECT id, user_id, name, %s AS token_key, status, remain_quota, unlimited_quota,
		        model_limits, allow_ips, %s AS token_group, created_time, expired_time
		 FROM tokens WHERE user_id = ? AND deleted_at IS NULL
		 ORDER BY id DESC`,
		s.gw.Engine().QuoteIdent("key"), s.gw.Engine().QuoteIdent("group")), userID)
	if err != nil {
		return nil, fmt.Errorf("token list: %w", err)
	}

	out := make([]Token, 0, len(rows))
	for _, row := range rows {
		out = append(out, Token{
			ID:             row.Int64("id"),
			UserID:         row.Int64("user_id"),
			Name:           row.String("name"),
			Key:            maskKey(row.String("token_key")),
			Status:         row.Int64("status"),
			RemainQuota:    row.Int64("remain_quota"),
			UnlimitedQuota: row.Int64("unlimited_quota") != 0,
			ModelLimits:    row.String("model_limits"),
			AllowIPs:       row.String("allow_ips"),
			Group:          row.String("token_group"),
			CreatedTime:    row.Int64("created_time"),
			ExpiredTime:    row.Int64("expired_time"),
		})
	}
	return out, nil
}

// DisableToken sets one token inactive. Returns ErrNotFound when absent.
func (s *Service) DisableToken(ctx context.Context, tokenID int64) error {
	affected, err := s.gw.Execute(ctx,
		`UPDATE tokens SET status = 2 WHERE id = ? AND deleted_at IS NULL`, tokenID)
	if err != nil {
		return fmt.Errorf("token disable: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteToken soft-deletes one token.
func (s *Service) DeleteToken(ctx context.Context, tokenID int64) error {
	affected, err := s.gw.Execute(ctx,
		`UPDATE tokens SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		s.now().Unix(), tokenID)
	if err != nil {
		return fmt.Errorf("token delete: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
