package analytics

import (
	"context"
	"fmt"
	"time"
)

// Watermark keys in analytics_state.
const (
	stateLastLogID       = "last_log_id"
	stateLastProcessedAt = "last_processed_at"
	stateTotalProcessed  = "total_processed"

	logSyncBatchSize     = 1000
	logSyncBatchesPerRun = 5
)

// SyncStatus reports the log-sync watermark for the status endpoints.
type SyncStatus struct {
	LastLogID       int64 `json:"last_log_id"`
	LastProcessedAt int64 `json:"last_processed_at"`
	TotalProcessed  int64 `json:"total_processed"`
	MaxLogID        int64 `json:"max_log_id"`
	Lag             int64 `json:"lag"`
}

// SyncLogs advances the last_log_id watermark through the gateway's log
// table in batches, at most five per invocation; the next tick continues
// where this one stopped. On first run the watermark starts at the current
// maximum so a large backlog is never replayed.
func (e *Engine) SyncLogs(ctx context.Context) (int64, error) {
	if e.local == nil {
		return 0, nil
	}

	watermark, found, err := e.local.StateGet(ctx, stateLastLogID)
	if err != nil {
		return 0, fmt.Errorf("read watermark: %w", err)
	}
	if !found {
		row, err := e.gw.QueryOne(ctx, `SELECT COALESCE(MAX(id), 0) AS n FROM logs`)
		if err != nil {
			return 0, fmt.Errorf("initial watermark: %w", err)
		}
		initial := int64(0)
		if row != nil {
			initial = row.Int64("n")
		}
		if err := e.local.StateSet(ctx, stateLastLogID, initial); err != nil {
			return 0, fmt.Errorf("store initial watermark: %w", err)
		}
		if err := e.local.MetaSet(ctx, "initial_sync_cutoff", initial); err != nil {
			return 0, fmt.Errorf("store sync cutoff: %w", err)
		}
		return 0, nil
	}

	var processed int64
	for i := 0; i < logSyncBatchesPerRun; i++ {
		row, err := e.gw.QueryOne(ctx,
			`SELECT COUNT(*) AS n, COALESCE(MAX(id), 0) AS max_id
			 FROM (SELECT id FROM logs WHERE id > ? ORDER BY id ASC LIMIT ?) t`,
			watermark, logSyncBatchSize)
		if err != nil {
			return processed, fmt.Errorf("log sync batch: %w", err)
		}
		if row == nil || row.Int64("n") == 0 {
			break
		}

		n := row.Int64("n")
		watermark = row.Int64("max_id")
		processed += n

		if err := e.local.StateSet(ctx, stateLastLogID, watermark); err != nil {
			return processed, fmt.Errorf("advance watermark: %w", err)
		}
		if _, err := e.local.StateAdd(ctx, stateTotalProcessed, n); err != nil {
			return processed, fmt.Errorf("count processed: %w", err)
		}
		if n < logSyncBatchSize {
			break
		}
	}

	if processed > 0 {
		if err := e.local.StateSet(ctx, stateLastProcessedAt, time.Now().Unix()); err != nil {
			return processed, fmt.Errorf("store processed_at: %w", err)
		}
	}
	return processed, nil
}

// SyncStatus reads the watermark alongside the gateway's current maximum.
func (e *Engine) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	out := &SyncStatus{}
	if e.local != nil {
		out.LastLogID, _, _ = e.local.StateGet(ctx, stateLastLogID)
		out.LastProcessedAt, _, _ = e.local.StateGet(ctx, stateLastProcessedAt)
		out.TotalProcessed, _, _ = e.local.StateGet(ctx, stateTotalProcessed)
	}

	row, err := e.gw.QueryOne(ctx, `SELECT COALESCE(MAX(id), 0) AS n FROM logs`)
	if err != nil {
		return nil, fmt.Errorf("sync status: %w", err)
	}
	if row != nil {
		out.MaxLogID = row.Int64("n")
	}
	if out.MaxLogID > out.LastLogID {
		out.Lag = out.MaxLogID - out.LastLogID
	}
	return out, nil
}
