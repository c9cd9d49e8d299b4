package analytics

import (
	"context"
	"fmt"
	"time"
)

// TrendPoint is one bucket of a daily or hourly series. Buckets with no
// traffic are present with zero counts so charts never have gaps.
type TrendPoint struct {
	Bucket           int64   `json:"-"`
	Label            string  `json:"label"`
	RequestCount     int64   `json:"request_count"`
	QuotaUsed        int64   `json:"quota_used"`
	PromptTokens     int64   `json:"prompt_tokens"`
	CompletionTokens int64   `json:"completion_tokens"`
	FailureCount     int64   `json:"failure_count"`
	AvgUseTime       float64 `json:"avg_use_time"`
}

// DailyTrends returns one point per calendar day for the last N days, today
// included. Buckets are computed with pure unix arithmetic shifted by the
// configured timezone offset, so the grouping expression is identical on
// both engines. Prefers the pre-aggregated quota_data table when present.
func (e *Engine) DailyTrends(ctx context.Context, days int, noCache bool) ([]TrendPoint, error) {
	if days < 1 || days > 90 {
		return nil, fmt.Errorf("%w: days must be 1..90", ErrInvalidParam)
	}

	key := fmt.Sprintf("dashboard:trends:daily:%d", days)
	var out []TrendPoint
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	out, err := e.trendSeries(ctx, days, 86400, "2006-01-02")
	if err != nil {
		return nil, err
	}

	e.putCache(ctx, key, out, ttlDailyTrends)
	return out, nil
}

// HourlyTrends returns one point per hour for the last N hours, the current
// hour included.
func (e *Engine) HourlyTrends(ctx context.Context, hours int, noCache bool) ([]TrendPoint, error) {
	if hours < 1 || hours > 168 {
		return nil, fmt.Errorf("%w: hours must be 1..168", ErrInvalidParam)
	}

	key := fmt.Sprintf("dashboard:trends:hourly:%d", hours)
	var out []TrendPoint
	if !noCache && e.getCached(ctx, key, &out) {
		return out, nil
	}

	out, err := e.trendSeries(ctx, hours, 3600, "2006-01-02 15:00")
	if err != nil {
		return nil, err
	}

	e.putCache(ctx, key, out, ttlHourlyTrends)
	return out, nil
}

func (e *Engine) trendSeries(ctx context.Context, buckets int, bucketSeconds int64, labelFormat string) ([]TrendPoint, error) {
	offset := e.tzOffsetSeconds()
	endBucket := (e.now().Unix() + offset) / bucketSeconds
	startBucket := endBucket - int64(buckets) + 1
	startTS := startBucket*bucketSeconds - offset

	byBucket, err := e.trendRows(ctx, startTS, offset, bucketSeconds)
	if err != nil {
		return nil, err
	}

	out := make([]TrendPoint, 0, buckets)
	for b := startBucket; b <= endBucket; b++ {
		p, ok := byBucket[b]
		if !ok {
			p = TrendPoint{Bucket: b}
		}
		p.Label = time.Unix(b*bucketSeconds-offset, 0).In(e.loc).Format(labelFormat)
		out = append(out, p)
	}
	return out, nil
}

// trendRows aggregates logs (or quota_data for daily series when present)
// into bucket-indexed points. The FLOOR expression floors identically on
// MySQL (decimal division) and Postgres (integer division of positives).
func (e *Engine) trendRows(ctx context.Context, startTS, offset, bucketSeconds int64) (map[int64]TrendPoint, error) {
	if bucketSeconds == 86400 {
		if ok, _ := e.gw.TableExists(ctx, "quota_data"); ok {
			return e.trendRowsFromQuotaData(ctx, startTS, offset)
		}
	}

	rows, err := e.gw.Query(ctx,
		`SELECT FLOOR((created_at + ?) / ?) AS bucket,
		        COUNT(*) AS request_count,
		        COALESCE(SUM(quota), 0) AS quota_used,
		        COALESCE(SUM(prompt_tokens), 0) AS prompt_tokens,
		        COALESCE(SUM(completion_tokens), 0) AS completion_tokens,
		        SUM(CASE WHEN type = 5 THEN 1 ELSE 0 END) AS failure_count,
		        COALESCE(AVG(use_time), 0) AS avg_use_time
		 FROM logs
		 WHERE created_at >= ? AND type IN (2, 5)
		 GROUP BY bucket`,
		offset, bucketSeconds, startTS)
	if err != nil {
		return nil, fmt.Errorf("trend query: %w", err)
	}

	byBucket := make(map[int64]TrendPoint, len(rows))
	for _, row := range rows {
		b := row.Int64("bucket")
		byBucket[b] = TrendPoint{
			Bucket:           b,
			RequestCount:     row.Int64("request_count"),
			QuotaUsed:        row.Int64("quota_used"),
			PromptTokens:     row.Int64("prompt_tokens"),
			CompletionTokens: row.Int64("completion_tokens"),
			FailureCount:     row.Int64("failure_count"),
			AvgUseTime:       row.Float64("avg_use_time"),
		}
	}
	return byBucket, nil
}

// trendRowsFromQuotaData is the daily fast path. quota_data only carries
// request counts and quota, so token and latency fields stay zero.
func (e *Engine) trendRowsFromQuotaData(ctx context.Context, startTS, offset int64) (map[int64]TrendPoint, error) {
	rows, err := e.gw.Query(ctx,
		`SELECT FLOOR((created_at + ?) / 86400) AS bucket,
		        COALESCE(SUM(count), 0) AS request_count,
		        COALESCE(SUM(quota), 0) AS quota_used
		 FROM quota_data
		 WHERE created_at >= ?
		 GROUP BY bucket`,
		offset, startTS)
	if err != nil {
		return nil, fmt.Errorf("quota_data trend query: %w", err)
	}

	byBucket := make(map[int64]TrendPoint, len(rows))
	for _, row := range rows {
		b := row.Int64("bucket")
		byBucket[b] = TrendPoint{
			Bucket:       b,
			RequestCount: row.Int64("request_count"),
			QuotaUsed:    row.Int64("quota_used"),
		}
	}
	return byBucket, nil
}
