package analytics

import (
	"context"
	"fmt"
)

// RiskSummary is the aggregate shape of a user's traffic in the window.
type RiskSummary struct {
	TotalRequests   int64   `json:"total_requests"`
	SuccessRequests int64   `json:"success_requests"`
	FailureRequests int64   `json:"failure_requests"`
	FailureRate     float64 `json:"failure_rate"`
	EmptyResponses  int64   `json:"empty_responses"`
	EmptyRate       float64 `json:"empty_rate"`
	QuotaUsed       int64   `json:"quota_used"`
	PromptTokens    int64   `json:"prompt_tokens"`
	CompletionToken int64   `json:"completion_tokens"`
	AvgUseTime      float64 `json:"avg_use_time"`
}

// RiskIndicators carries the derived rates and flags.
type RiskIndicators struct {
	RequestsPerMinute  float64           `json:"requests_per_minute"`
	AvgQuotaPerRequest float64           `json:"avg_quota_per_request"`
	UniqueIPs          int64             `json:"unique_ips"`
	UniqueTokens       int64             `json:"unique_tokens"`
	RiskFlags          []string          `json:"risk_flags"`
	IPSwitchAnalysis   IPSwitchAnalysis  `json:"ip_switch_analysis"`
	CheckinAnalysis    *CheckinAnalysis  `json:"checkin_analysis,omitempty"`
}

// CheckinAnalysis compares check-in farming against actual usage. Only
// present when the optional checkins table exists.
type CheckinAnalysis struct {
	CheckinCount        int64   `json:"checkin_count"`
	CheckinQuota        int64   `json:"checkin_quota"`
	RequestsPerCheckin  float64 `json:"requests_per_checkin"`
	Anomalous           bool    `json:"anomalous"`
}

// TopDimension is one entry of a per-model / per-channel / per-IP ranking.
type TopDimension struct {
	Name         string `json:"name"`
	RequestCount int64  `json:"request_count"`
	QuotaUsed    int64  `json:"quota_used"`
	FailureCount int64  `json:"failure_count"`
}

// RecentLog is one of the newest raw log rows in the analysis range.
type RecentLog struct {
	ID               int64  `json:"id"`
	CreatedAt        int64  `json:"created_at"`
	Type             int64  `json:"type"`
	ModelName        string `json:"model_name"`
	ChannelName      string `json:"channel_name"`
	TokenName        string `json:"token_name"`
	IP               string `json:"ip"`
	Quota            int64  `json:"quota"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	UseTime          int64  `json:"use_time"`
}

// RiskAnalysis is the full per-user risk view.
type RiskAnalysis struct {
	User        UserSummary    `json:"user"`
	Summary     RiskSummary    `json:"summary"`
	Risk        RiskIndicators `json:"risk"`
	TopModels   []TopDimension `json:"top_models"`
	TopChannels []TopDimension `json:"top_channels"`
	TopIPs      []TopDimension `json:"top_ips"`
	RecentLogs  []RecentLog    `json:"recent_logs"`
	Range       timeRange      `json:"range"`
}

// UserRiskAnalysis builds the complete risk view for one user over the
// window ending at endTime (zero means now).
func (e *Engine) UserRiskAnalysis(ctx context.Context, userID int64, window string, endTime int64, noCache bool) (*RiskAnalysis, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}
	if userID <= 0 {
		return nil, fmt.Errorf("%w: user_id must be positive", ErrInvalidParam)
	}

	end := e.now().Unix()
	if endTime > 0 {
		end = endTime
	}
	r := timeRange{Start: end - seconds, End: end}

	key := fmt.Sprintf("risk:analysis:%d:%s:%d", userID, window, endTime)
	var out RiskAnalysis
	if !noCache && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	user, err := e.userSummary(ctx, userID)
	if err != nil {
		return nil, err
	}

	out = RiskAnalysis{User: *user, Range: r}

	if err := e.riskSummary(ctx, userID, r, &out); err != nil {
		return nil, err
	}
	if err := e.riskDimensions(ctx, userID, r, &out); err != nil {
		return nil, err
	}
	if err := e.riskIPSwitches(ctx, userID, r, &out); err != nil {
		return nil, err
	}
	if err := e.riskCheckins(ctx, userID, r, &out); err != nil {
		return nil, err
	}

	out.Risk.RiskFlags = deriveFlags(&out)

	e.putCache(ctx, key, out, ttlRisk)
	return &out, nil
}

// userSummary loads one user row; missing users surface as nil, nil so the
// handler can translate to 404.
func (e *Engine) userSummary(ctx context.Context, userID int64) (*UserSummary, error) {
	groupCol := e.gw.Engine().QuoteIdent("group")
	row, err := e.gw.QueryOne(ctx, fmt.Sprintf(
		`SELECT id, username, display_name, email, status, %s AS user_group,
		        quota, used_quota, request_count, inviter_id, linux_do_id
		 FROM users WHERE id = ?`, groupCol), userID)
	if err != nil {
		return nil, fmt.Errorf("user lookup: %w", err)
	}
	if row == nil {
		return nil, ErrNotFound
	}
	return &UserSummary{
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
	}, nil
}

func (e *Engine) riskSummary(ctx context.Context, userID int64, r timeRange, out *RiskAnalysis) error {
	row, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS total,
		        SUM(CASE WHEN type = 2 THEN 1 ELSE 0 END) AS success,
		        SUM(CASE WHEN type = 5 THEN 1 ELSE 0 END) AS failure,
		        SUM(CASE WHEN type = 2 AND completion_tokens = 0 THEN 1 ELSE 0 END) AS empty_success,
		        COALESCE(SUM(quota), 0) AS quota_used,
		        COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		        COALESCE(AVG(use_time), 0) AS avg_use_time,
		        COUNT(DISTINCT ip) AS unique_ips,
		        COUNT(DISTINCT token_id) AS unique_tokens
		 FROM logs
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ? AND type IN (2, 5)`,
		userID, r.Start, r.End)
	if err != nil {
		return fmt.Errorf("risk summary query: %w", err)
	}
	if row == nil {
		return nil
	}

	s := &out.Summary
	s.TotalRequests = row.Int64("total")
	s.SuccessRequests = row.Int64("success")
	s.FailureRequests = row.Int64("failure")
	s.EmptyResponses = row.Int64("empty_success")
	s.QuotaUsed = row.Int64("quota_used")
	s.PromptTokens = row.Int64("prompt_tokens")
	s.CompletionToken = row.Int64("completion_tokens")
	s.AvgUseTime = row.Float64("avg_use_time")
	if s.TotalRequests > 0 {
		s.FailureRate = round2(float64(s.FailureRequests) / float64(s.TotalRequests) * 100)
	}
	if s.SuccessRequests > 0 {
		s.EmptyRate = round2(float64(s.EmptyResponses) / float64(s.SuccessRequests) * 100)
	}

	minutes := float64(r.End-r.Start) / 60
	if minutes > 0 {
		out.Risk.RequestsPerMinute = round2(float64(s.TotalRequests) / minutes)
	}
	if s.TotalRequests > 0 {
		out.Risk.AvgQuotaPerRequest = round2(float64(s.QuotaUsed) / float64(s.TotalRequests))
	}
	out.Risk.UniqueIPs = row.Int64("unique_ips")
	out.Risk.UniqueTokens = row.Int64("unique_tokens")
	return nil
}

func (e *Engine) riskDimensions(ctx context.Context, userID int64, r timeRange, out *RiskAnalysis) error {
	for _, dim := range []struct {
		column string
		dest   *[]TopDimension
	}{
		{"model_name", &out.TopModels},
		{"channel_name", &out.TopChannels},
		{"ip", &out.TopIPs},
	} {
		rows, err := e.gw.Query(ctx, fmt.Sprintf(
			`SELECT %s AS name,
			        COUNT(*) AS request_count,
			        COALESCE(SUM(quota), 0) AS quota_used,
			        SUM(CASE WHEN type = 5 THEN 1 ELSE 0 END) AS failure_count
			 FROM logs
			 WHERE user_id = ? AND created_at >= ? AND created_at <= ? AND type IN (2, 5)
			 GROUP BY %s
			 ORDER BY request_count DESC
			 LIMIT 10`, dim.column, dim.column),
			userID, r.Start, r.End)
		if err != nil {
			return fmt.Errorf("risk dimension query (%s): %w", dim.column, err)
		}
		list := make([]TopDimension, 0, len(rows))
		for _, row := range rows {
			list = append(list, TopDimension{
				Name:         row.String("name"),
				RequestCount: row.Int64("request_count"),
				QuotaUsed:    row.Int64("quota_used"),
				FailureCount: row.Int64("failure_count"),
			})
		}
		*dim.dest = list
	}

	rows, err := e.gw.Query(ctx,
		`SELECT id, created_at, type, model_name, channel_name, token_name, ip,
		        quota, prompt_tokens, completion_tokens, use_time
		 FROM logs
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ? AND type IN (2, 5)
		 ORDER BY created_at DESC, id DESC
		 LIMIT 20`,
		userID, r.Start, r.End)
	if err != nil {
		return fmt.Errorf("recent logs query: %w", err)
	}
	out.RecentLogs = make([]RecentLog, 0, len(rows))
	for _, row := range rows {
		out.RecentLogs = append(out.RecentLogs, RecentLog{
			ID:               row.Int64("id"),
			CreatedAt:        row.Int64("created_at"),
			Type:             row.Int64("type"),
			ModelName:        row.String("model_name"),
			ChannelName:      row.String("channel_name"),
			TokenName:        row.String("token_name"),
			IP:               row.String("ip"),
			Quota:            row.Int64("quota"),
			PromptTokens:     row.Int64("prompt_tokens"),
			CompletionTokens: row.Int64("completion_tokens"),
			UseTime:          row.Int64("use_time"),
		})
	}
	return nil
}

func (e *Engine) riskIPSwitches(ctx context.Context, userID int64, r timeRange, out *RiskAnalysis) error {
	rows, err := e.gw.Query(ctx,
		`SELECT created_at, ip FROM logs
		 WHERE user_id = ? AND created_at >= ? AND created_at <= ?
		   AND ip IS NOT NULL AND ip <> ''
		 ORDER BY created_at ASC, id ASC`,
		userID, r.Start, r.End)
	if err != nil {
		return fmt.Errorf("ip sequence query: %w", err)
	}
	events := make([]IPEvent, 0, len(rows))
	for _, row := range rows {
		events = append(events, IPEvent{Time: row.Int64("created_at"), IP: row.String("ip")})
	}
	out.Risk.IPSwitchAnalysis = AnalyzeIPSwitches(events)
	return nil
}

func (e *Engine) riskCheckins(ctx context.Context, userID int64, r timeRange, out *RiskAnalysis) error {
	exists, err := e.gw.TableExists(ctx, "checkins")
	if err != nil || !exists {
		return nil
	}

	row, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS n, COALESCE(SUM(quota), 0) AS quota
		 FROM checkins WHERE user_id = ? AND created_at >= ? AND created_at <= ?`,
		userID, r.Start, r.End)
	if err != nil {
		return fmt.Errorf("checkin query: %w", err)
	}
	if row == nil {
		return nil
	}

	ca := &CheckinAnalysis{
		CheckinCount: row.Int64("n"),
		CheckinQuota: row.Int64("quota"),
	}
	if ca.CheckinCount > 0 {
		ca.RequestsPerCheckin = round2(float64(out.Summary.TotalRequests) / float64(ca.CheckinCount))
	}
	ca.Anomalous = ca.CheckinCount > 3 && ca.RequestsPerCheckin < 5
	out.Risk.CheckinAnalysis = ca
	return nil
}

// deriveFlags applies the summary-level thresholds and folds in the IP and
// check-in analyzer flags.
func deriveFlags(a *RiskAnalysis) []string {
	flags := []string{}
	if a.Risk.RequestsPerMinute > 5 {
		flags = append(flags, FlagHighRPM)
	}
	if a.Risk.UniqueIPs > 10 {
		flags = append(flags, FlagManyIPs)
	}
	if a.Summary.FailureRate > 50 && a.Summary.TotalRequests > 10 {
		flags = append(flags, FlagHighFailureRate)
	}
	if a.Summary.EmptyRate > 50 && a.Summary.SuccessRequests > 10 {
		flags = append(flags, FlagHighEmptyRate)
	}
	flags = append(flags, a.Risk.IPSwitchAnalysis.Flags...)
	if a.Risk.CheckinAnalysis != nil && a.Risk.CheckinAnalysis.Anomalous {
		flags = append(flags, FlagCheckinAnomaly)
	}
	return flags
}
