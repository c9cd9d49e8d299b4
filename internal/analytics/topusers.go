package analytics

import (
	"context"
	"fmt"
	"strconv"
)

// TopUser is one row of the quota ranking.
type TopUser struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	DisplayName  string `json:"display_name,omitempty"`
	RequestCount int64  `json:"request_count"`
	QuotaUsed    int64  `json:"quota_used"`
}

// TopUsers ranks users by quota consumed over the period. The aggregation
// runs in a subquery so the GROUP BY never joins the users table; usernames
// come from a LEFT JOIN in the outer query, falling back to the numeric id
// for users deleted since. Prefers quota_data when present.
func (e *Engine) TopUsers(ctx context.Context, period string, limit int, noCache bool) ([]TopUser, error) {
	seconds, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}

	key := fmt.Sprintf("dashboard:top_users:%s:%d", period, limit)
	var out []TopUser
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)

	table := "logs"
	countExpr := "COUNT(*)"
	quotaExpr := "COALESCE(SUM(quota), 0)"
	if ok, _ := e.gw.TableExists(ctx, "quota_data"); ok {
		table = "quota_data"
		countExpr = "COALESCE(SUM(count), 0)"
	}

	rows, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT t.user_id, t.request_count, t.quota_used, u.username, u.display_name
		 FROM (SELECT user_id, %s AS request_count, %s AS quota_used
		       FROM %s
		       WHERE created_at >= ? AND created_at <= ?
		       GROUP BY user_id
		       ORDER BY quota_used DESC
		       LIMIT ?) t
		 LEFT JOIN users u ON u.id = t.user_id
		 ORDER BY t.quota_used DESC`,
		countExpr, quotaExpr, table),
		r.Start, r.End, limit)
	if err != nil {
		return nil, fmt.Errorf("top users query: %w", err)
	}

	out = make([]TopUser, 0, len(rows))
	for _, row := range rows {
		u := TopUser{
			UserID:       row.Int64("user_id"),
			Username:     row.String("username"),
			DisplayName:  row.String("display_name"),
			RequestCount: row.Int64("request_count"),
			QuotaUsed:    row.Int64("quota_used"),
		}
		if u.Username == "" {
			u.Username = strconv.FormatInt(u.UserID, 10)
		}
		out = append(out, u)
	}

	e.putCache(ctx, key, out, ttlTopUsers)
	return out, nil
}

// UserListing orders sorted by a whitelisted column; the warmup primes the
// three orders the dashboard offers.
var userListOrders = map[string]string{
	"quota":         "quota DESC",
	"used_quota":    "used_quota DESC",
	"request_count": "request_count DESC",
	"id":            "id ASC",
}

// UserSummary is one row of the user listing.
type UserSummary struct {
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
}

// ListUsers pages users ordered by a whitelisted sort key, optionally
// filtered by a username/email/display-name search.
func (e *Engine) ListUsers(ctx context.Context, orderBy, search string, page, pageSize int, noCache bool) ([]UserSummary, int64, error) {
	order, ok := userListOrders[orderBy]
	if !ok {
		return nil, 0, fmt.Errorf("%w: unsupported order %q", ErrInvalidParam, orderBy)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}

	key := fmt.Sprintf("dashboard:users:%s:%s:%d:%d", orderBy, search, page, pageSize)
	type cached struct {
		Users []UserSummary `json:"users"`
		Total int64         `json:"total"`
	}
	var hit cached
	if !noCache && e.getCached(ctx, key, &hit) {
		return hit.Users, hit.Total, nil
	}

	where := "deleted_at IS NULL"
	var args []interface{}
	if search != "" {
		where += " AND (username LIKE ? OR display_name LIKE ? OR email LIKE ?)"
		pattern := "%" + search + "%"
		args = append(args, pattern, pattern, pattern)
	}

	row, err := e.gw.QueryOne(ctx, `SELECT COUNT(*) AS n FROM users WHERE `+where, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("user count query: %w", err)
	}
	total := int64(0)
	if row != nil {
		total = row.Int64("n")
	}

	groupCol := e.gw.Engine().QuoteIdent("group")
	rows, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT id, username, display_name, email, status, %s AS user_group,
		        quota, used_quota, request_count, inviter_id, linux_do_id
		 FROM users WHERE %s ORDER BY %s LIMIT ? OFFSET ?`,
		groupCol, where, order),
		append(args, pageSize, (page-1)*pageSize)...)
	if err != nil {
		return nil, 0, fmt.Errorf("user list query: %w", err)
	}

	users := make([]UserSummary, 0, len(rows))
	for _, r := range rows {
		users = append(users, UserSummary{
			ID:           r.Int64("id"),
			Username:     r.String("username"),
			DisplayName:  r.String("display_name"),
			Email:        r.String("email"),
			Status:       r.Int64("status"),
			Group:        r.String("user_group"),
			Quota:        r.Int64("quota"),
			UsedQuota:    r.Int64("used_quota"),
			RequestCount: r.Int64("request_count"),
			InviterID:    r.Int64("inviter_id"),
			LinuxDoID:    r.String("linux_do_id"),
		})
	}

	e.putCache(ctx, key, cached{Users: users, Total: total}, ttlUserList)
	return users, total, nil
}
