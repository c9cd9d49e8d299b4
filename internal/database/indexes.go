package database

import (
	"context"
	"fmt"
	"time"
)

// IndexSpec is one index the side-car wants on the gateway database. The
// hot analytical paths group logs by user, model, channel, type and ip over
// created_at ranges, so every index leads with the filter column and ends
// with created_at.
type IndexSpec struct {
	Name    string `json:"name"`
	Table   string `json:"table"`
	Columns string `json:"columns"`
}

// IndexStatus is IndexSpec plus catalog presence, for the status endpoint.
type IndexStatus struct {
	IndexSpec
	Exists bool `json:"exists"`
}

var gatewayIndexes = []IndexSpec{
	{Name: "idx_gs_logs_created_at", Table: "logs", Columns: "created_at"},
	{Name: "idx_gs_logs_user_created", Table: "logs", Columns: "user_id, created_at"},
	{Name: "idx_gs_logs_model_created", Table: "logs", Columns: "model_name, created_at"},
	{Name: "idx_gs_logs_channel_created", Table: "logs", Columns: "channel_id, created_at"},
	{Name: "idx_gs_logs_type_created", Table: "logs", Columns: "type, created_at"},
	{Name: "idx_gs_logs_ip_created", Table: "logs", Columns: "ip, created_at"},
	{Name: "idx_gs_logs_token_created", Table: "logs", Columns: "token_id, created_at"},
	{Name: "idx_gs_users_inviter", Table: "users", Columns: "inviter_id"},
}

// IndexResult reports one EnsureIndexes step.
type IndexResult struct {
	Name    string `json:"name"`
	Created bool   `json:"created"`
	Skipped bool   `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

// EnsureIndexes creates any missing gateway indexes, sleeping pacing between
// statements so index builds do not pile load onto the primary. Individual
// failures are reported per index and do not abort the sweep.
func (g *Gateway) EnsureIndexes(ctx context.Context, pacing time.Duration) ([]IndexResult, error) {
	results := make([]IndexResult, 0, len(gatewayIndexes))

	for i, spec := range gatewayIndexes {
		if i > 0 && pacing > 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(pacing):
			}
		}

		res := IndexResult{Name: spec.Name}

		exists, err := g.indexExists(ctx, spec.Name)
		if err != nil {
			res.Error = err.Error()
			results = append(results, res)
			continue
		}
		if exists {
			res.Skipped = true
			results = append(results, res)
			continue
		}

		stmt := fmt.Sprintf("CREATE INDEX %s ON %s (%s)", spec.Name, spec.Table, spec.Columns)
		if g.IsPG() {
			stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)", spec.Name, spec.Table, spec.Columns)
		}
		// Index builds can far exceed the default query timeout.
		if _, err := g.ExecuteTimeout(10*time.Minute, stmt); err != nil {
			res.Error = err.Error()
		} else {
			res.Created = true
		}
		results = append(results, res)
	}

	return results, nil
}

// IndexStatuses reports the wanted index set against the catalog.
func (g *Gateway) IndexStatuses(ctx context.Context) ([]IndexStatus, error) {
	out := make([]IndexStatus, 0, len(gatewayIndexes))
	for _, spec := range gatewayIndexes {
		exists, err := g.indexExists(ctx, spec.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, IndexStatus{IndexSpec: spec, Exists: exists})
	}
	return out, nil
}

func (g *Gateway) indexExists(ctx context.Context, name string) (bool, error) {
	row, err := g.QueryOne(ctx, g.engine.indexExistsQuery(), name)
	if err != nil {
		return false, err
	}
	return row != nil && row.Int64("n") > 0, nil
}
