package analytics

import (
	"context"
	"fmt"
)

// SystemScale classifies the gateway's data volume; the warmup uses it to
// decide whether priming user listings is worth the load.
type SystemScale struct {
	Scale      string `json:"scale"`
	TotalUsers int64  `json:"total_users"`
	TotalLogs  int64  `json:"total_logs"`
	ComputedAt int64  `json:"computed_at"`
}

// Scale returns the cached classification, recomputing on force. Log volume
// is estimated from the maximum log id; a COUNT(*) over a multi-million row
// table is exactly the load this classification exists to avoid.
func (e *Engine) Scale(ctx context.Context, force bool) (*SystemScale, error) {
	key := "dashboard:system_scale"
	var out SystemScale
	if !force && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	users, err := e.gw.QueryOne(ctx, `SELECT COUNT(*) AS n FROM users`)
	if err != nil {
		return nil, fmt.Errorf("scale user count: %w", err)
	}
	logs, err := e.gw.QueryOne(ctx, `SELECT COALESCE(MAX(id), 0) AS n FROM logs`)
	if err != nil {
		return nil, fmt.Errorf("scale log estimate: %w", err)
	}

	out = SystemScale{ComputedAt: e.now().Unix()}
	if users != nil {
		out.TotalUsers = users.Int64("n")
	}
	if logs != nil {
		out.TotalLogs = logs.Int64("n")
	}
	out.Scale = classifyScale(out.TotalUsers, out.TotalLogs)

	e.putCache(ctx, key, out, ttlScale)
	return &out, nil
}

func classifyScale(users, logs int64) string {
	switch {
	case logs > 10_000_000 || users > 100_000:
		return "xlarge"
	case logs > 1_000_000 || users > 10_000:
		return "large"
	case logs > 100_000 || users > 1_000:
		return "medium"
	default:
		return "small"
	}
}
