package analytics

import (
	"context"
	"fmt"

	"github.com/gatescope/gatescope/internal/database"
)

// Overview is the dashboard headline card: live entity counts.
type Overview struct {
	TotalUsers        int64     `json:"total_users"`
	ActiveUsers       int64     `json:"active_users"`
	TotalTokens       int64     `json:"total_tokens"`
	ActiveTokens      int64     `json:"active_tokens"`
	TotalChannels     int64     `json:"total_channels"`
	ActiveChannels    int64     `json:"active_channels"`
	TotalModels       int64     `json:"total_models"`
	TotalRedemptions  int64     `json:"total_redemptions"`
	UnusedRedemptions int64     `json:"unused_redemptions"`
	Period            string    `json:"period"`
	Range             timeRange `json:"range"`
}

func (e *Engine) Overview(ctx context.Context, period string, noCache bool) (*Overview, error) {
	seconds, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	key := "dashboard:overview:" + period
	var out Overview
	if !noCache && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	out = Overview{Period: period, Range: rangeEndingAt(e.now(), seconds)}

	counts := []struct {
		dest  *int64
		query string
	}{
		{&out.TotalUsers, `SELECT COUNT(*) AS n FROM users WHERE deleted_at IS NULL`},
		{&out.ActiveUsers, `SELECT COUNT(*) AS n FROM users WHERE deleted_at IS NULL AND status = 1`},
		{&out.TotalTokens, `SELECT COUNT(*) AS n FROM tokens WHERE deleted_at IS NULL`},
		{&out.ActiveTokens, `SELECT COUNT(*) AS n FROM tokens WHERE deleted_at IS NULL AND status = 1`},
		{&out.TotalChannels, `SELECT COUNT(*) AS n FROM channels WHERE deleted_at IS NULL`},
		{&out.ActiveChannels, `SELECT COUNT(*) AS n FROM channels WHERE deleted_at IS NULL AND status = 1`},
		{&out.TotalRedemptions, `SELECT COUNT(*) AS n FROM redemptions WHERE deleted_at IS NULL`},
		{&out.UnusedRedemptions, `SELECT COUNT(*) AS n FROM redemptions WHERE deleted_at IS NULL AND status = 1`},
	}
	for _, c := range counts {
		row, err := e.gw.QueryOne(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("overview count: %w", err)
		}
		if row != nil {
			*c.dest = row.Int64("n")
		}
	}

	out.TotalModels, err = e.countModels(ctx)
	if err != nil {
		return nil, err
	}

	e.putCache(ctx, key, out, ttlOverview)
	return &out, nil
}

// countModels prefers the abilities mapping of enabled channels; some older
// gateways lack it, so a plain models table is the fallback.
func (e *Engine) countModels(ctx context.Context) (int64, error) {
	row, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(DISTINCT a.model) AS n
		 FROM abilities a JOIN channels c ON a.channel_id = c.id
		 WHERE c.status = 1`)
	if err == nil && row != nil {
		return row.Int64("n"), nil
	}

	row, err = e.gw.QueryOne(ctx, `SELECT COUNT(*) AS n FROM models`)
	if err != nil || row == nil {
		return 0, nil
	}
	return row.Int64("n"), nil
}

// Usage sums successful traffic over the period.
type Usage struct {
	TotalRequests         int64     `json:"total_requests"`
	TotalQuotaUsed        int64     `json:"total_quota_used"`
	TotalPromptTokens     int64     `json:"total_prompt_tokens"`
	TotalCompletionTokens int64     `json:"total_completion_tokens"`
	AverageResponseTime   float64   `json:"average_response_time"`
	Period                string    `json:"period"`
	Range                 timeRange `json:"range"`
}

func (e *Engine) Usage(ctx context.Context, period string, noCache bool) (*Usage, error) {
	seconds, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}

	key := "dashboard:usage:" + period
	var out Usage
	if !noCache && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	row, err := e.gw.QueryOne(ctx,
		`SELECT COUNT(*) AS total_requests,
		        COALESCE(SUM(quota), 0) AS total_quota,
		        COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		        COALESCE(AVG(use_time), 0) AS avg_use_time
		 FROM logs
		 WHERE type = 2 AND created_at >= ? AND created_at <= ?`,
		r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("usage query: %w", err)
	}

	out = Usage{Period: period, Range: r}
	if row != nil {
		out.TotalRequests = row.Int64("total_requests")
		out.TotalQuotaUsed = row.Int64("total_quota")
		out.TotalPromptTokens = row.Int64("prompt_tokens")
		out.TotalCompletionTokens = row.Int64("completion_tokens")
		out.AverageResponseTime = row.Float64("avg_use_time")
	}

	e.putCache(ctx, key, out, ttlUsage)
	return &out, nil
}

// ModelUsage is one row of the per-model ranking.
type ModelUsage struct {
	ModelName        string  `json:"model_name"`
	RequestCount     int64   `json:"request_count"`
	QuotaUsed        int64   `json:"quota_used"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	AvgUseTime       float64 `json:"avg_use_time"`
	Percentage       float64 `json:"percentage"`
}

func (e *Engine) ModelUsageRanking(ctx context.Context, period string, limit int, noCache bool) ([]ModelUsage, error) {
	seconds, err := ParsePeriod(period)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	key := fmt.Sprintf("dashboard:models:%s:%d", period, limit)
	var out []ModelUsage
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	rows, err := e.gw.Query(ctx,
		`SELECT model_name,
		        COUNT(*) AS request_count,
		        COALESCE(SUM(quota), 0) AS quota_used,
		        COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		        COALESCE(AVG(use_time), 0) AS avg_use_time
		 FROM logs
		 WHERE type = 2 AND created_at >= ? AND created_at <= ?
		 GROUP BY model_name
		 ORDER BY request_count DESC
		 LIMIT ?`,
		r.Start, r.End, limit)
	if err != nil {
		return nil, fmt.Errorf("model usage query: %w", err)
	}

	var total int64
	for _, row := range rows {
		total += row.Int64("request_count")
	}

	out = make([]ModelUsage, 0, len(rows))
	for _, row := range rows {
		m := ModelUsage{
			ModelName:        row.String("model_name"),
			RequestCount:     row.Int64("request_count"),
			QuotaUsed:        row.Int64("quota_used"),
			PromptTokens:     row.Int64("prompt_tokens"),
			CompletionTokens: row.Int64("completion_tokens"),
			AvgUseTime:       row.Float64("avg_use_time"),
		}
		if total > 0 {
			m.Percentage = round2(float64(m.RequestCount) / float64(total) * 100)
		}
		out = append(out, m)
	}

	e.putCache(ctx, key, out, ttlModels)
	return out, nil
}

// ChannelStat merges the channels table with its last-24h traffic.
type ChannelStat struct {
	ID           int64   `json:"id"`
	Name         string  `json:"name"`
	Type         int64   `json:"type"`
	Status       int64   `json:"status"`
	Priority     int64   `json:"priority"`
	UsedQuota    int64   `json:"used_quota"`
	Balance      float64 `json:"balance"`
	RequestCount int64   `json:"request_count_24h"`
	FailureCount int64   `json:"failure_count_24h"`
	QuotaUsed    int64   `json:"quota_used_24h"`
}

func (e *Engine) ChannelStats(ctx context.Context, noCache bool) ([]ChannelStat, error) {
	key := "dashboard:channels"
	var out []ChannelStat
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	rows, err := e.gw.Query(ctx,
		`SELECT id, name, type, status, priority, used_quota, balance
		 FROM channels WHERE deleted_at IS NULL
		 ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("channels query: %w", err)
	}

	r := rangeEndingAt(e.now(), 86400)
	traffic, err := e.gw.Query(ctx,
		`SELECT channel_id,
		        COUNT(*) AS request_count,
		        SUM(CASE WHEN type = 5 THEN 1 ELSE 0 END) AS failure_count,
		        COALESCE(SUM(quota), 0) AS quota_used
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ?
		 GROUP BY channel_id`,
		r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("channel traffic query: %w", err)
	}

	byChannel := make(map[int64]database.Row, len(traffic))
	for _, t := range traffic {
		byChannel[t.Int64("channel_id")] = t
	}

	out = make([]ChannelStat, 0, len(rows))
	for _, row := range rows {
		c := ChannelStat{
			ID:        row.Int64("id"),
			Name:      row.String("name"),
			Type:      row.Int64("type"),
			Status:    row.Int64("status"),
			Priority:  row.Int64("priority"),
			UsedQuota: row.Int64("used_quota"),
			Balance:   row.Float64("balance"),
		}
		if t, ok := byChannel[c.ID]; ok {
			c.RequestCount = t.Int64("request_count")
			c.FailureCount = t.Int64("failure_count")
			c.QuotaUsed = t.Int64("quota_used")
		}
		out = append(out, c)
	}

	e.putCache(ctx, key, out, ttlChannels)
	return out, nil
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
