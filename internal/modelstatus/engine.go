package modelstatus

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/gatescope/gatescope/internal/cache"
	"github.com/gatescope/gatescope/internal/database"
	"github.com/gatescope/gatescope/internal/logging"
)

const (
	ttlStatus = 30 * time.Second
	ttlModels = 5 * time.Minute
)

// slotTable fixes the slot layout per window so the status bars always have
// the same number of cells.
type slotTable struct {
	Window      string `json:"window"`
	Seconds     int64  `json:"seconds"`
	Slots       int    `json:"slots"`
	SlotSeconds int64  `json:"slot_seconds"`
}

var slotTables = []slotTable{
	{Window: "1h", Seconds: 3600, Slots: 60, SlotSeconds: 60},
	{Window: "6h", Seconds: 21600, Slots: 24, SlotSeconds: 900},
	{Window: "12h", Seconds: 43200, Slots: 24, SlotSeconds: 1800},
	{Window: "24h", Seconds: 86400, Slots: 24, SlotSeconds: 3600},
}

func tableFor(window string) (slotTable, error) {
	for _, t := range slotTables {
		if t.Window == window {
			return t, nil
		}
	}
	return slotTable{}, fmt.Errorf("unsupported model-status window %q", window)
}

// TimeWindows lists the supported windows for the dashboard selector.
func TimeWindows() []slotTable {
	out := make([]slotTable, len(slotTables))
	copy(out, slotTables)
	return out
}

// Slot is one cell of a model's availability bar.
type Slot struct {
	Slot          int     `json:"slot"`
	StartTime     int64   `json:"start_time"`
	EndTime       int64   `json:"end_time"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	SuccessRate   float64 `json:"success_rate"`
	Status        string  `json:"status"`
}

// ModelStatus is the availability view of one model over one window.
type ModelStatus struct {
	ModelName     string  `json:"model_name"`
	Window        string  `json:"window"`
	Slots         []Slot  `json:"slots"`
	TotalRequests int64   `json:"total_requests"`
	SuccessCount  int64   `json:"success_count"`
	SuccessRate   float64 `json:"success_rate"`
	CurrentStatus string  `json:"current_status"`
	GeneratedAt   int64   `json:"generated_at"`
}

// Engine computes per-model slotted success-rate history from the gateway's
// log table.
type Engine struct {
	gw    *database.Gateway
	cache *cache.Manager
	now   func() time.Time
}

func NewEngine(gw *database.Gateway, c *cache.Manager) *Engine {
	return &Engine{gw: gw, cache: c, now: time.Now}
}

// statusColor maps a success rate to the dashboard traffic light. Empty
// slots read green: no traffic is not an outage.
func statusColor(successRate float64, total int64) string {
	switch {
	case total == 0:
		return "green"
	case successRate >= 95:
		return "green"
	case successRate >= 80:
		return "yellow"
	default:
		return "red"
	}
}

// Status builds the slotted view for one model. One aggregation query per
// model; missing slots are filled in code.
func (e *Engine) Status(ctx context.Context, model, window string, noCache bool) (*ModelStatus, error) {
	table, err := tableFor(window)
	if err != nil {
		return nil, err
	}
	if model == "" {
		return nil, fmt.Errorf("model name is required")
	}

	key := fmt.Sprintf("model_status:status:%s:%s", model, window)
	var out ModelStatus
	if !noCache && e.cacheGet(ctx, key, &out) {
		return &out, nil
	}

	end := e.now().Unix()
	start := end - table.Seconds

	rows, err := e.gw.Query(ctx,
		`SELECT FLOOR((created_at - ?) / ?) AS slot,
		        COUNT(*) AS total,
		        SUM(CASE WHEN type = 2 THEN 1 ELSE 0 END) AS success
		 FROM logs
		 WHERE model_name = ? AND created_at >= ? AND created_at <= ? AND type IN (2, 5)
		 GROUP BY slot`,
		start, table.SlotSeconds, model, start, end)
	if err != nil {
		return nil, fmt.Errorf("model status query: %w", err)
	}

	bySlot := make(map[int64]database.Row, len(rows))
	for _, row := range rows {
		bySlot[row.Int64("slot")] = row
	}

	out = ModelStatus{
		ModelName:   model,
		Window:      window,
		Slots:       make([]Slot, 0, table.Slots),
		GeneratedAt: end,
	}

	for i := 0; i < table.Slots; i++ {
		s := Slot{
			Slot:      i,
			StartTime: start + int64(i)*table.SlotSeconds,
			EndTime:   start + int64(i+1)*table.SlotSeconds,
		}
		if row, ok := bySlot[int64(i)]; ok {
			s.TotalRequests = row.Int64("total")
			s.SuccessCount = row.Int64("success")
			if s.TotalRequests > 0 {
				s.SuccessRate = round2(float64(s.SuccessCount) / float64(s.TotalRequests) * 100)
			}
		}
		s.Status = statusColor(s.SuccessRate, s.TotalRequests)
		out.Slots = append(out.Slots, s)

		out.TotalRequests += s.TotalRequests
		out.SuccessCount += s.SuccessCount
	}

	if out.TotalRequests > 0 {
		out.SuccessRate = round2(float64(out.SuccessCount) / float64(out.TotalRequests) * 100)
	}
	out.CurrentStatus = statusColor(out.SuccessRate, out.TotalRequests)

	e.cachePut(ctx, key, out, ttlStatus)
	return &out, nil
}

// StatusMultiple resolves several models in one call; a failing model gets
// an empty all-green bar rather than sinking the whole response.
func (e *Engine) StatusMultiple(ctx context.Context, models []string, window string, noCache bool) (map[string]*ModelStatus, error) {
	if _, err := tableFor(window); err != nil {
		return nil, err
	}
	out := make(map[string]*ModelStatus, len(models))
	for _, model := range models {
		status, err := e.Status(ctx, model, window, noCache)
		if err != nil {
			logging.Warn("model status failed", "model", model, "error", err)
			continue
		}
		out[model] = status
	}
	return out, nil
}

// StatusAll resolves every available model over the window.
func (e *Engine) StatusAll(ctx context.Context, window string, noCache bool) (map[string]*ModelStatus, error) {
	models, err := e.AvailableModels(ctx, noCache)
	if err != nil {
		return nil, err
	}
	return e.StatusMultiple(ctx, models, window, noCache)
}

// AvailableModels prefers the abilities mapping of enabled channels and
// falls back to the models seen in the last day of logs.
func (e *Engine) AvailableModels(ctx context.Context, noCache bool) ([]string, error) {
	key := "model_status:models"
	var out []string
	if !noCache && e.cacheGet(ctx, key, &out) {
		return out, nil
	}

	rows, err := e.gw.Query(ctx,
		`SELECT DISTINCT a.model AS model_name
		 FROM abilities a JOIN channels c ON a.channel_id = c.id
		 WHERE c.status = 1`)
	if err != nil || len(rows) == 0 {
		rows, err = e.gw.Query(ctx,
			`SELECT DISTINCT model_name FROM logs
			 WHERE created_at >= ? AND model_name <> ''`,
			e.now().Unix()-86400)
		if err != nil {
			return nil, fmt.Errorf("available models query: %w", err)
		}
	}

	out = make([]string, 0, len(rows))
	for _, row := range rows {
		if name := row.String("model_name"); name != "" {
			out = append(out, name)
		}
	}
	sort.Strings(out)

	e.cachePut(ctx, key, out, ttlModels)
	return out, nil
}

func (e *Engine) cacheGet(ctx context.Context, key string, out interface{}) bool {
	if e.cache == nil {
		return false
	}
	found, err := e.cache.GetJSON(ctx, key, out)
	if err != nil {
		return false
	}
	return found
}

func (e *Engine) cachePut(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, value, ttl); err != nil {
		logging.Warn("model status cache write failed", "key", key, "error", err)
	}
}

func round2(f float64) float64 {
	return float64(int64(f*100+0.5)) / 100
}
