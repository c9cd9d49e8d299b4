package modelstatus

import (
	"context"
	"fmt"
)

// Uptime-kuma compatible views. The status page treats each model as one
// monitor; slots map onto the heartbeat list so existing kuma frontends and
// badge consumers can point at the side-car unchanged.

type KumaMonitor struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

type KumaGroup struct {
	ID          int           `json:"id"`
	Name        string        `json:"name"`
	MonitorList []KumaMonitor `json:"monitorList"`
}

type KumaStatusPage struct {
	Config struct {
		Slug  string `json:"slug"`
		Title string `json:"title"`
		Theme string `json:"theme"`
	} `json:"config"`
	PublicGroupList []KumaGroup `json:"publicGroupList"`
}

type KumaHeartbeat struct {
	Status int     `json:"status"`
	Time   int64   `json:"time"`
	Msg    string  `json:"msg"`
	Ping   float64 `json:"ping"`
}

type KumaHeartbeatPage struct {
	HeartbeatList map[string][]KumaHeartbeat `json:"heartbeatList"`
	UptimeList    map[string]float64         `json:"uptimeList"`
}

type KumaBadge struct {
	SchemaVersion int    `json:"schemaVersion"`
	Label         string `json:"label"`
	Message       string `json:"message"`
	Color         string `json:"color"`
}

type KumaSummaryEntry struct {
	Name        string  `json:"name"`
	Status      string  `json:"status"`
	SuccessRate float64 `json:"success_rate"`
	Requests    int64   `json:"requests"`
}

// StatusPage builds the monitor catalog for a slug. Every slug maps to the
// full model list; the slug only names the page.
func (e *Engine) StatusPage(ctx context.Context, slug string) (*KumaStatusPage, error) {
	models, err := e.AvailableModels(ctx, false)
	if err != nil {
		return nil, err
	}

	theme, _ := e.GetSetting(ctx, "theme")
	themeStr, _ := theme.(string)
	if themeStr == "" {
		themeStr = "light"
	}

	page := &KumaStatusPage{}
	page.Config.Slug = slug
	page.Config.Title = "Model Status"
	page.Config.Theme = themeStr

	group := KumaGroup{ID: 1, Name: "Models"}
	for i, model := range models {
		group.MonitorList = append(group.MonitorList, KumaMonitor{ID: i + 1, Name: model})
	}
	page.PublicGroupList = []KumaGroup{group}
	return page, nil
}

// Heartbeats maps each model's 24h slots onto kuma's heartbeat shape:
// green and yellow slots beat up (1), red beats down (0).
func (e *Engine) Heartbeats(ctx context.Context, slug string) (*KumaHeartbeatPage, error) {
	statuses, err := e.StatusAll(ctx, "24h", false)
	if err != nil {
		return nil, err
	}
	models, err := e.AvailableModels(ctx, false)
	if err != nil {
		return nil, err
	}

	page := &KumaHeartbeatPage{
		HeartbeatList: make(map[string][]KumaHeartbeat, len(models)),
		UptimeList:    make(map[string]float64, len(models)),
	}

	for i, model := range models {
		status, ok := statuses[model]
		if !ok {
			continue
		}
		id := fmt.Sprintf("%d", i+1)

		beats := make([]KumaHeartbeat, 0, len(status.Slots))
		for _, slot := range status.Slots {
			up := 1
			if slot.Status == "red" {
				up = 0
			}
			beats = append(beats, KumaHeartbeat{
				Status: up,
				Time:   slot.EndTime,
				Msg:    fmt.Sprintf("%d/%d ok", slot.SuccessCount, slot.TotalRequests),
			})
		}
		page.HeartbeatList[id] = beats
		page.UptimeList[id+"_24"] = round2(status.SuccessRate) / 100
	}
	return page, nil
}

// Badge renders the shields.io endpoint JSON for one slug's aggregate.
func (e *Engine) Badge(ctx context.Context, slug string) (*KumaBadge, error) {
	statuses, err := e.StatusAll(ctx, "24h", false)
	if err != nil {
		return nil, err
	}

	var total, success int64
	for _, s := range statuses {
		total += s.TotalRequests
		success += s.SuccessCount
	}

	rate := float64(100)
	if total > 0 {
		rate = round2(float64(success) / float64(total) * 100)
	}

	color := "brightgreen"
	switch statusColor(rate, total) {
	case "yellow":
		color = "yellow"
	case "red":
		color = "red"
	}

	return &KumaBadge{
		SchemaVersion: 1,
		Label:         "uptime 24h",
		Message:       fmt.Sprintf("%.2f%%", rate),
		Color:         color,
	}, nil
}

// Summary is the compact per-model list for embedding.
func (e *Engine) Summary(ctx context.Context, slug string) ([]KumaSummaryEntry, error) {
	statuses, err := e.StatusAll(ctx, "24h", false)
	if err != nil {
		return nil, err
	}
	models, err := e.AvailableModels(ctx, false)
	if err != nil {
		return nil, err
	}

	out := make([]KumaSummaryEntry, 0, len(models))
	for _, model := range models {
		s, ok := statuses[model]
		if !ok {
			continue
		}
		out = append(out, KumaSummaryEntry{
			Name:        model,
			Status:      s.CurrentStatus,
			SuccessRate: s.SuccessRate,
			Requests:    s.TotalRequests,
		})
	}
	return out, nil
}
