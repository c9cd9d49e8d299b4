package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gatescope/gatescope/internal/database"
)

// TokenRotator is a user spreading few requests across many tokens, the
// signature of rotating keys to dodge per-token limits.
type TokenRotator struct {
	UserID              int64   `json:"user_id"`
	Username            string  `json:"username"`
	TokenCount          int64   `json:"token_count"`
	TotalRequests       int64   `json:"total_requests"`
	AvgRequestsPerToken float64 `json:"avg_requests_per_token"`
}

// TokenRotation finds users with at least minTokens distinct tokens in the
// window whose per-token request average stays at or below maxPerToken.
func (e *Engine) TokenRotation(ctx context.Context, window string, minTokens, maxPerToken, limit int, noCache bool) ([]TokenRotator, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if minTokens < 2 {
		minTokens = 5
	}
	if maxPerToken < 1 {
		maxPerToken = 10
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("risk:rotation:%s:%d:%d:%d", window, minTokens, maxPerToken, limit)
	var out []TokenRotator
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	rows, err := e.gw.Query(ctx,
		`SELECT user_id, MAX(username) AS username,
		        COUNT(DISTINCT token_id) AS token_count,
		        COUNT(*) AS total_requests
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ?
		 GROUP BY user_id
		 HAVING COUNT(DISTINCT token_id) >= ?
		    AND COUNT(*) * 1.0 / COUNT(DISTINCT token_id) <= ?
		 ORDER BY token_count DESC, total_requests DESC
		 LIMIT ?`,
		r.Start, r.End, minTokens, maxPerToken, limit)
	if err != nil {
		return nil, fmt.Errorf("token rotation query: %w", err)
	}

	out = make([]TokenRotator, 0, len(rows))
	for _, row := range rows {
		t := TokenRotator{
			UserID:        row.Int64("user_id"),
			Username:      row.String("username"),
			TokenCount:    row.Int64("token_count"),
			TotalRequests: row.Int64("total_requests"),
		}
		if t.TokenCount > 0 {
			t.AvgRequestsPerToken = round2(float64(t.TotalRequests) / float64(t.TokenCount))
		}
		if t.Username == "" {
			t.Username = strconv.FormatInt(t.UserID, 10)
		}
		out = append(out, t)
	}

	e.putCache(ctx, key, out, ttlRisk)
	return out, nil
}

// Detail lists inside one group are truncated; the counts stay exact.
const (
	maxInvitedUsers = 20
	maxClusterUsers = 10
)

// InvitedUser is one account created under an inviter.
type InvitedUser struct {
	ID        int64  `json:"id"`
	Username  string `json:"username"`
	Status    int64  `json:"status"`
	UsedQuota int64  `json:"used_quota"`
}

// AffiliatedGroup is an inviter with a suspicious number of invitees.
type AffiliatedGroup struct {
	InviterID       int64         `json:"inviter_id"`
	InviterUsername string        `json:"inviter_username"`
	InvitedCount    int64         `json:"invited_count"`
	InvitedUsers    []InvitedUser `json:"invited_users"`
}

// AffiliatedAccounts groups users by inviter_id and returns inviters at or
// above minInvited, each with a truncated invited list.
func (e *Engine) AffiliatedAccounts(ctx context.Context, minInvited, limit int, noCache bool) ([]AffiliatedGroup, error) {
	if minInvited < 2 {
		minInvited = 5
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("risk:affiliated:%d:%d", minInvited, limit)
	var out []AffiliatedGroup
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	candidates, err := e.gw.Query(ctx,
		`SELECT inviter_id, COUNT(*) AS invited_count
		 FROM users
		 WHERE inviter_id > 0 AND deleted_at IS NULL
		 GROUP BY inviter_id
		 HAVING COUNT(*) >= ?
		 ORDER BY invited_count DESC
		 LIMIT ?`,
		minInvited, limit)
	if err != nil {
		return nil, fmt.Errorf("affiliated candidates query: %w", err)
	}

	out = make([]AffiliatedGroup, 0, len(candidates))
	byInviter := make(map[int64]*AffiliatedGroup, len(candidates))
	inviterIDs := make([]int64, 0, len(candidates))
	for _, row := range candidates {
		g := AffiliatedGroup{
			InviterID:    row.Int64("inviter_id"),
			InvitedCount: row.Int64("invited_count"),
			InvitedUsers: []InvitedUser{},
		}
		out = append(out, g)
		byInviter[g.InviterID] = &out[len(out)-1]
		inviterIDs = append(inviterIDs, g.InviterID)
	}
	if len(inviterIDs) == 0 {
		e.putCache(ctx, key, out, ttlRisk)
		return out, nil
	}

	args := make([]interface{}, 0, len(inviterIDs))
	for _, id := range inviterIDs {
		args = append(args, id)
	}
	placeholders := database.BuildPlaceholders(e.gw.IsPG(), len(inviterIDs), 1)

	inviters, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT id, username FROM users WHERE id IN (%s)`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("inviter lookup query: %w", err)
	}
	for _, row := range inviters {
		if g, ok := byInviter[row.Int64("id")]; ok {
			g.InviterUsername = row.String("username")
		}
	}

	invited, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT inviter_id, id, username, status, used_quota
		 FROM users
		 WHERE inviter_id IN (%s) AND deleted_at IS NULL
		 ORDER BY id ASC`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("invited lookup query: %w", err)
	}
	for _, row := range invited {
		g, ok := byInviter[row.Int64("inviter_id")]
		if !ok || len(g.InvitedUsers) >= maxInvitedUsers {
			continue
		}
		g.InvitedUsers = append(g.InvitedUsers, InvitedUser{
			ID:        row.Int64("id"),
			Username:  row.String("username"),
			Status:    row.Int64("status"),
			UsedQuota: row.Int64("used_quota"),
		})
	}

	e.putCache(ctx, key, out, ttlRisk)
	return out, nil
}

// SameIPUser is one user first seen on a clustered IP.
type SameIPUser struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	FirstSeen int64 `json:"first_seen"`
}

// SameIPCluster is an IP from which several users made their first request
// inside the window.
type SameIPCluster struct {
	IP        string       `json:"ip"`
	UserCount int64        `json:"user_count"`
	Users     []SameIPUser `json:"users"`
}

// SameIPRegistrations clusters users by the IP of their first logged
// request in the window. Batch account creation shows up as many users
// sharing one first-seen IP.
func (e *Engine) SameIPRegistrations(ctx context.Context, window string, minUsers, limit int, noCache bool) ([]SameIPCluster, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if minUsers < 2 {
		minUsers = 3
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("risk:same_ip:%s:%d:%d", window, minUsers, limit)
	var out []SameIPCluster
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)

	// The inner join pins each user to the log row with their lowest id in
	// the window, which is their first-seen IP.
	candidates, err := e.gw.Query(ctx,
		`SELECT t.ip, COUNT(DISTINCT t.user_id) AS user_count
		 FROM (SELECT l.user_id, l.ip
		       FROM logs l
		       JOIN (SELECT user_id, MIN(id) AS first_id
		             FROM logs
		             WHERE created_at >= ? AND created_at <= ?
		               AND ip IS NOT NULL AND ip <> ''
		             GROUP BY user_id) f ON l.id = f.first_id) t
		 GROUP BY t.ip
		 HAVING COUNT(DISTINCT t.user_id) >= ?
		 ORDER BY user_count DESC
		 LIMIT ?`,
		r.Start, r.End, minUsers, limit)
	if err != nil {
		return nil, fmt.Errorf("same-ip candidates query: %w", err)
	}

	out = make([]SameIPCluster, 0, len(candidates))
	byIP := make(map[string]*SameIPCluster, len(candidates))
	ips := make([]string, 0, len(candidates))
	for _, row := range candidates {
		c := SameIPCluster{
			IP:        row.String("ip"),
			UserCount: row.Int64("user_count"),
			Users:     []SameIPUser{},
		}
		out = append(out, c)
		byIP[c.IP] = &out[len(out)-1]
		ips = append(ips, c.IP)
	}
	if len(ips) == 0 {
		e.putCache(ctx, key, out, ttlRisk)
		return out, nil
	}

	args := []interface{}{r.Start, r.End}
	for _, ip := range ips {
		args = append(args, ip)
	}
	details, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT l.ip, l.user_id, MAX(l.username) AS username, MIN(l.created_at) AS first_seen
		 FROM logs l
		 JOIN (SELECT user_id, MIN(id) AS first_id
		       FROM logs
		       WHERE created_at >= ? AND created_at <= ?
		         AND ip IS NOT NULL AND ip <> ''
		       GROUP BY user_id) f ON l.id = f.first_id
		 WHERE l.ip IN (%s)
		 GROUP BY l.ip, l.user_id
		 ORDER BY first_seen ASC`,
		database.BuildPlaceholders(e.gw.IsPG(), len(ips), 3)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("same-ip details query: %w", err)
	}

	for _, row := range details {
		c, ok := byIP[row.String("ip")]
		if !ok || len(c.Users) >= maxClusterUsers {
			continue
		}
		c.Users = append(c.Users, SameIPUser{
			UserID:    row.Int64("user_id"),
			Username:  row.String("username"),
			FirstSeen: row.Int64("first_seen"),
		})
	}

	e.putCache(ctx, key, out, ttlRisk)
	return out, nil
}
