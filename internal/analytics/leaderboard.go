package analytics

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// sort_by values map to fixed ORDER BY expressions; anything else is
// rejected before it can reach SQL.
var leaderboardOrders = map[string]string{
	"requests":     "request_count DESC",
	"quota":        "quota_used DESC",
	"failure_rate": "failure_rate DESC, request_count DESC",
}

// LeaderboardEntry is one user's aggregate over a single window.
type LeaderboardEntry struct {
	UserID          int64   `json:"user_id"`
	Username        string  `json:"username"`
	RequestCount    int64   `json:"request_count"`
	FailureRequests int64   `json:"failure_requests"`
	FailureRate     float64 `json:"failure_rate"`
	QuotaUsed       int64   `json:"quota_used"`
	TotalTokens     int64   `json:"total_tokens"`
	UniqueIPs       int64   `json:"unique_ips"`
}

// Leaderboards computes the per-user ranking for each requested window.
func (e *Engine) Leaderboards(ctx context.Context, windows []string, limit int, sortBy string, noCache bool) (map[string][]LeaderboardEntry, error) {
	if len(windows) == 0 {
		windows = []string{"1h", "24h"}
	}
	if sortBy == "" {
		sortBy = "requests"
	}
	order, ok := leaderboardOrders[sortBy]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported sort_by %q", ErrInvalidParam, sortBy)
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	for _, w := range windows {
		if _, err := ParseWindow(w); err != nil {
			return nil, err
		}
	}

	key := fmt.Sprintf("risk:leaderboard:%s:%d:%s", strings.Join(windows, ","), limit, sortBy)
	var out map[string][]LeaderboardEntry
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	out = make(map[string][]LeaderboardEntry, len(windows))
	for _, window := range windows {
		entries, err := e.leaderboardWindow(ctx, window, limit, order)
		if err != nil {
			return nil, err
		}
		out[window] = entries
	}

	e.putCache(ctx, key, out, ttlLeaderboard)
	return out, nil
}

func (e *Engine) leaderboardWindow(ctx context.Context, window string, limit int, order string) ([]LeaderboardEntry, error) {
	seconds, _ := ParseWindow(window)
	r := rangeEndingAt(e.now(), seconds)

	rows, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT user_id,
		        MAX(username) AS username,
		        COUNT(*) AS request_count,
		        SUM(CASE WHEN type = 5 THEN 1 ELSE 0 END) AS failure_requests,
		        SUM(CASE WHEN type = 5 THEN 1.0 ELSE 0.0 END) / COUNT(*) AS failure_rate,
		        COALESCE(SUM(quota), 0) AS quota_used,
		        COALESCE(SUM(prompt_tokens + completion_tokens), 0) AS total_tokens,
		        COUNT(DISTINCT ip) AS unique_ips
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND type IN (2, 5)
		 GROUP BY user_id
		 ORDER BY %s
		 LIMIT ?`, order),
		r.Start, r.End, limit)
	if err != nil {
		return nil, fmt.Errorf("leaderboard query (%s): %w", window, err)
	}

	out := make([]LeaderboardEntry, 0, len(rows))
	for _, row := range rows {
		entry := LeaderboardEntry{
			UserID:          row.Int64("user_id"),
			Username:        row.String("username"),
			RequestCount:    row.Int64("request_count"),
			FailureRequests: row.Int64("failure_requests"),
			QuotaUsed:       row.Int64("quota_used"),
			TotalTokens:     row.Int64("total_tokens"),
			UniqueIPs:       row.Int64("unique_ips"),
		}
		if entry.RequestCount > 0 {
			entry.FailureRate = round2(float64(entry.FailureRequests) / float64(entry.RequestCount) * 100)
		}
		if entry.Username == "" {
			entry.Username = strconv.FormatInt(entry.UserID, 10)
		}
		out = append(out, entry)
	}
	return out, nil
}
