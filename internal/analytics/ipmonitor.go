package analytics

import (
	"context"
	"fmt"
	"strconv"

	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/geoip"
)

const (
	maxTokensPerIP = 20
	maxIPsPerToken = 10
	maxIPsPerUser  = 10
)

// SharedIPToken is one token observed on a shared IP.
type SharedIPToken struct {
	TokenID      int64  `json:"token_id"`
	TokenName    string `json:"token_name"`
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	RequestCount int64  `json:"request_count"`
}

// SharedIP is an IP used by several distinct tokens inside the window.
type SharedIP struct {
	IP           string          `json:"ip"`
	TokenCount   int64           `json:"token_count"`
	UserCount    int64           `json:"user_count"`
	RequestCount int64           `json:"request_count"`
	Tokens       []SharedIPToken `json:"tokens"`
}

// SharedIPs finds IPs carrying at least minTokens distinct tokens. The
// candidate GROUP BY runs first; details are fetched in one batched query
// with a dialect-correct IN list and truncated per IP.
func (e *Engine) SharedIPs(ctx context.Context, window string, minTokens, limit int, noCache bool) ([]SharedIP, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if minTokens < 2 {
		minTokens = 3
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("ip:shared:%s:%d:%d", window, minTokens, limit)
	var out []SharedIP
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	candidates, err := e.gw.Query(ctx,
		`SELECT ip,
		        COUNT(DISTINCT token_id) AS token_count,
		        COUNT(DISTINCT user_id) AS user_count,
		        COUNT(*) AS request_count
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IS NOT NULL AND ip <> ''
		 GROUP BY ip
		 HAVING COUNT(DISTINCT token_id) >= ?
		 ORDER BY token_count DESC, request_count DESC
		 LIMIT ?`,
		r.Start, r.End, minTokens, limit)
	if err != nil {
		return nil, fmt.Errorf("shared ip candidates query: %w", err)
	}

	out = make([]SharedIP, 0, len(candidates))
	byIP := make(map[string]*SharedIP, len(candidates))
	ips := make([]string, 0, len(candidates))
	for _, row := range candidates {
		s := SharedIP{
			IP:           row.String("ip"),
			TokenCount:   row.Int64("token_count"),
			UserCount:    row.Int64("user_count"),
			RequestCount: row.Int64("request_count"),
			Tokens:       []SharedIPToken{},
		}
		out = append(out, s)
		byIP[s.IP] = &out[len(out)-1]
		ips = append(ips, s.IP)
	}
	if len(ips) == 0 {
		e.putCache(ctx, key, out, ttlIPMonitor)
		return out, nil
	}

	args := []interface{}{r.Start, r.End}
	for _, ip := range ips {
		args = append(args, ip)
	}
	details, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT ip, token_id, MAX(token_name) AS token_name,
		        user_id, MAX(username) AS username, COUNT(*) AS request_count
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IN (%s)
		 GROUP BY ip, token_id, user_id
		 ORDER BY request_count DESC`,
		database.BuildPlaceholders(e.gw.IsPG(), len(ips), 3)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("shared ip details query: %w", err)
	}

	for _, row := range details {
		s, ok := byIP[row.String("ip")]
		if !ok || len(s.Tokens) >= maxTokensPerIP {
			continue
		}
		s.Tokens = append(s.Tokens, SharedIPToken{
			TokenID:      row.Int64("token_id"),
			TokenName:    row.String("token_name"),
			UserID:       row.Int64("user_id"),
			Username:     row.String("username"),
			RequestCount: row.Int64("request_count"),
		})
	}

	e.putCache(ctx, key, out, ttlIPMonitor)
	return out, nil
}

// IPUsage is one IP of a token's or user's address list.
type IPUsage struct {
	IP           string `json:"ip"`
	RequestCount int64  `json:"request_count"`
	FirstSeen    int64  `json:"first_seen"`
	LastSeen     int64  `json:"last_seen"`
}

// MultiIPToken is a token active from several IPs inside the window.
type MultiIPToken struct {
	TokenID      int64     `json:"token_id"`
	TokenName    string    `json:"token_name"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	IPCount      int64     `json:"ip_count"`
	RequestCount int64     `json:"request_count"`
	IPs          []IPUsage `json:"ips"`
}

func (e *Engine) MultiIPTokens(ctx context.Context, window string, minIPs, limit int, noCache bool) ([]MultiIPToken, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if minIPs < 2 {
		minIPs = 3
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("ip:multi_token:%s:%d:%d", window, minIPs, limit)
	var out []MultiIPToken
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	candidates, err := e.gw.Query(ctx,
		`SELECT token_id, MAX(token_name) AS token_name,
		        user_id, MAX(username) AS username,
		        COUNT(DISTINCT ip) AS ip_count, COUNT(*) AS request_count
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IS NOT NULL AND ip <> ''
		 GROUP BY token_id, user_id
		 HAVING COUNT(DISTINCT ip) >= ?
		 ORDER BY ip_count DESC, request_count DESC
		 LIMIT ?`,
		r.Start, r.End, minIPs, limit)
	if err != nil {
		return nil, fmt.Errorf("multi-ip token candidates query: %w", err)
	}

	out = make([]MultiIPToken, 0, len(candidates))
	byToken := make(map[int64]*MultiIPToken, len(candidates))
	tokenIDs := make([]int64, 0, len(candidates))
	for _, row := range candidates {
		t := MultiIPToken{
			TokenID:      row.Int64("token_id"),
			TokenName:    row.String("token_name"),
			UserID:       row.Int64("user_id"),
			Username:     row.String("username"),
			IPCount:      row.Int64("ip_count"),
			RequestCount: row.Int64("request_count"),
			IPs:          []IPUsage{},
		}
		out = append(out, t)
		byToken[t.TokenID] = &out[len(out)-1]
		tokenIDs = append(tokenIDs, t.TokenID)
	}
	if len(tokenIDs) == 0 {
		e.putCache(ctx, key, out, ttlIPMonitor)
		return out, nil
	}

	args := []interface{}{r.Start, r.End}
	for _, id := range tokenIDs {
		args = append(args, id)
	}
	details, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT token_id, ip, COUNT(*) AS request_count,
		        MIN(created_at) AS first_seen, MAX(created_at) AS last_seen
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND token_id IN (%s)
		   AND ip IS NOT NULL AND ip <> ''
		 GROUP BY token_id, ip
		 ORDER BY request_count DESC`,
		database.BuildPlaceholders(e.gw.IsPG(), len(tokenIDs), 3)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("multi-ip token details query: %w", err)
	}

	for _, row := range details {
		t, ok := byToken[row.Int64("token_id")]
		if !ok || len(t.IPs) >= maxIPsPerToken {
			continue
		}
		t.IPs = append(t.IPs, IPUsage{
			IP:           row.String("ip"),
			RequestCount: row.Int64("request_count"),
			FirstSeen:    row.Int64("first_seen"),
			LastSeen:     row.Int64("last_seen"),
		})
	}

	e.putCache(ctx, key, out, ttlIPMonitor)
	return out, nil
}

// MultiIPUser is a user active from several IPs inside the window.
type MultiIPUser struct {
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username"`
	IPCount      int64     `json:"ip_count"`
	RequestCount int64     `json:"request_count"`
	IPs          []IPUsage `json:"ips"`
}

func (e *Engine) MultiIPUsers(ctx context.Context, window string, minIPs, limit int, noCache bool) ([]MultiIPUser, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if minIPs < 2 {
		minIPs = 5
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("ip:multi_user:%s:%d:%d", window, minIPs, limit)
	var out []MultiIPUser
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	candidates, err := e.gw.Query(ctx,
		`SELECT user_id, MAX(username) AS username,
		        COUNT(DISTINCT ip) AS ip_count, COUNT(*) AS request_count
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IS NOT NULL AND ip <> ''
		 GROUP BY user_id
		 HAVING COUNT(DISTINCT ip) >= ?
		 ORDER BY ip_count DESC, request_count DESC
		 LIMIT ?`,
		r.Start, r.End, minIPs, limit)
	if err != nil {
		return nil, fmt.Errorf("multi-ip user candidates query: %w", err)
	}

	out = make([]MultiIPUser, 0, len(candidates))
	byUser := make(map[int64]*MultiIPUser, len(candidates))
	userIDs := make([]int64, 0, len(candidates))
	for _, row := range candidates {
		u := MultiIPUser{
			UserID:       row.Int64("user_id"),
			Username:     row.String("username"),
			IPCount:      row.Int64("ip_count"),
			RequestCount: row.Int64("request_count"),
			IPs:          []IPUsage{},
		}
		if u.Username == "" {
			u.Username = strconv.FormatInt(u.UserID, 10)
		}
		out = append(out, u)
		byUser[u.UserID] = &out[len(out)-1]
		userIDs = append(userIDs, u.UserID)
	}
	if len(userIDs) == 0 {
		e.putCache(ctx, key, out, ttlIPMonitor)
		return out, nil
	}

	args := []interface{}{r.Start, r.End}
	for _, id := range userIDs {
		args = append(args, id)
	}
	details, err := e.gw.Query(ctx, fmt.Sprintf(
		`SELECT user_id, ip, COUNT(*) AS request_count,
		        MIN(created_at) AS first_seen, MAX(created_at) AS last_seen
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND user_id IN (%s)
		   AND ip IS NOT NULL AND ip <> ''
		 GROUP BY user_id, ip
		 ORDER BY request_count DESC`,
		database.BuildPlaceholders(e.gw.IsPG(), len(userIDs), 3)),
		args...)
	if err != nil {
		return nil, fmt.Errorf("multi-ip user details query: %w", err)
	}

	for _, row := range details {
		u, ok := byUser[row.Int64("user_id")]
		if !ok || len(u.IPs) >= maxIPsPerUser {
			continue
		}
		u.IPs = append(u.IPs, IPUsage{
			IP:           row.String("ip"),
			RequestCount: row.Int64("request_count"),
			FirstSeen:    row.Int64("first_seen"),
			LastSeen:     row.Int64("last_seen"),
		})
	}

	e.putCache(ctx, key, out, ttlIPMonitor)
	return out, nil
}

// IPStats is the headline card of the IP monitoring page.
type IPStats struct {
	UniqueIPs24h      int64 `json:"unique_ips_24h"`
	LoggedRequests24h int64 `json:"logged_requests_24h"`
	RecordingEnabled  int64 `json:"recording_enabled_users"`
	RecordingDisabled int64 `json:"recording_disabled_users"`
	SnapshotAt        int64 `json:"snapshot_at"`
}

func (e *Engine) IPStats(ctx context.Context, noCache bool) (*IPStats, error) {
	key := "ip:stats"
	var out IPStats
	if !noCache && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	r := rangeEndingAt(e.now(), 86400)
	row, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(DISTINCT ip) AS unique_ips, COUNT(*) AS logged
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IS NOT NULL AND ip <> ''`,
		r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("ip stats query: %w", err)
	}

	out = IPStats{SnapshotAt: e.now().Unix()}
	if row != nil {
		out.UniqueIPs24h = row.Int64("unique_ips")
		out.LoggedRequests24h = row.Int64("logged")
	}

	engine := e.gw.Engine()
	enabled, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS n FROM users WHERE deleted_at IS NULL AND `+engine.RecordIPEnabledPredicate())
	if err != nil {
		return nil, fmt.Errorf("ip recording count query: %w", err)
	}
	if enabled != nil {
		out.RecordingEnabled = enabled.Int64("n")
	}
	disabled, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS n FROM users WHERE deleted_at IS NULL AND `+engine.RecordIPDisabledPredicate())
	if err != nil {
		return nil, fmt.Errorf("ip recording count query: %w", err)
	}
	if disabled != nil {
		out.RecordingDisabled = disabled.Int64("n")
	}

	e.putCache(ctx, key, out, ttlIPMonitor)
	return &out, nil
}

// UserIPs lists one user's addresses over the window, busiest first.
func (e *Engine) UserIPs(ctx context.Context, userID int64, window string) ([]IPUsage, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", ErrInvalidParam)
	}

	r := rangeEndingAt(e.now(), seconds)
	rows, err := e.gw.Query(ctx,
		`SELECT ip, COUNT(*) AS request_count,
		        MIN(created_at) AS first_seen, MAX(created_at) AS last_seen
		 FROM logs
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		   AND ip IS NOT NULL AND ip <> ''
		 GROUP BY ip
		 ORDER BY request_count DESC`,
		userID, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("user ips query: %w", err)
	}

	out := make([]IPUsage, 0, len(rows))
	for _, row := range rows {
		out = append(out, IPUsage{
			IP:           row.String("ip"),
			RequestCount: row.Int64("request_count"),
			FirstSeen:    row.Int64("first_seen"),
			LastSeen:     row.Int64("last_seen"),
		})
	}
	return out, nil
}

// IPLookupUser is one account observed on a looked-up address.
type IPLookupUser struct {
	UserID       int64  `json:"user_id"`
	Username     string `json:"username"`
	TokenCount   int64  `json:"token_count"`
	RequestCount int64  `json:"request_count"`
	FirstSeen    int64  `json:"first_seen"`
	LastSeen     int64  `json:"last_seen"`
}

// IPLookup is the reverse view: who used this address in the window.
type IPLookup struct {
	IP           string         `json:"ip"`
	UserCount    int64          `json:"user_count"`
	RequestCount int64          `json:"request_count"`
	Users        []IPLookupUser `json:"users"`
	Geo          *geoip.Result  `json:"geo,omitempty"`
}

func (e *Engine) LookupIP(ctx context.Context, ip, window string) (*IPLookup, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if ip == "" {
		return nil, fmt.Errorf("%w: ip is required", ErrInvalidParam)
	}

	r := rangeEndingAt(e.now(), seconds)
	rows, err := e.gw.Query(ctx,
		`SELECT user_id, MAX(username) AS username,
		        COUNT(DISTINCT token_id) AS token_count, COUNT(*) AS request_count,
		        MIN(created_at) AS first_seen, MAX(created_at) AS last_seen
		 FROM logs
		 WHERE ip = ? AND created_at >= ? AND created_at <= ?
		 GROUP BY user_id
		 ORDER BY request_count DESC`,
		ip, r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("ip lookup query: %w", err)
	}

	out := &IPLookup{IP: ip, Users: []IPLookupUser{}}
	for _, row := range rows {
		u := IPLookupUser{
			UserID:       row.Int64("user_id"),
			Username:     row.String("username"),
			TokenCount:   row.Int64("token_count"),
			RequestCount: row.Int64("request_count"),
			FirstSeen:    row.Int64("first_seen"),
			LastSeen:     row.Int64("last_seen"),
		}
		if u.Username == "" {
			u.Username = strconv.FormatInt(u.UserID, 10)
		}
		out.Users = append(out.Users, u)
		out.RequestCount += u.RequestCount
	}
	out.UserCount = int64(len(out.Users))

	if e.geo != nil && e.geo.IsAvailable() {
		geo := e.geo.Query(ip)
		out.Geo = &geo
	}
	return out, nil
}

// EnableAllIPRecording flips record_ip_log on for every user that has it
// off, returning the number of users updated. This is the one write the
// IP layer performs against the gateway.
func (e *Engine) EnableAllIPRecording(ctx context.Context) (int64, error) {
	engine := e.gw.Engine()
	affected, err := e.gw.Execute(ctx, fmt.Sprintf(
		`UPDATE users SET %s WHERE deleted_at IS NULL AND %s`,
		engine.SetRecordIPExpr(), engine.RecordIPDisabledPredicate()))
	if err != nil {
		return 0, fmt.Errorf("enable ip recording: %w", err)
	}
	return affected, nil
}
