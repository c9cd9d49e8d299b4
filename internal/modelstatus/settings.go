package modelstatus

import (
	"context"
	"fmt"
	"time"
)

// Display settings persist under the durable model_status: cache prefix, so
// the status page keeps its configuration across restarts.
var settingKeys = map[string]bool{
	"selected":         true,
	"time-window":      true,
	"theme":            true,
	"refresh-interval": true,
	"sort-mode":        true,
	"custom-order":     true,
}

var settingDefaults = map[string]interface{}{
	"selected":         []string{},
	"time-window":      "24h",
	"theme":            "light",
	"refresh-interval": 60,
	"sort-mode":        "name",
	"custom-order":     []string{},
}

func settingCacheKey(name string) string { return "model_status:setting:" + name }

// GetSetting returns the stored value for a display option, or its default.
func (e *Engine) GetSetting(ctx context.Context, name string) (interface{}, error) {
	if !settingKeys[name] {
		return nil, fmt.Errorf("unknown model-status setting %q", name)
	}

	var value interface{}
	found, err := e.cache.GetJSON(ctx, settingCacheKey(name), &value)
	if err != nil {
		return nil, fmt.Errorf("read setting %s: %w", name, err)
	}
	if !found {
		return settingDefaults[name], nil
	}
	return value, nil
}

// SetSetting stores a display option. Values are opaque JSON; only the key
// set is validated, the frontend owns the shapes.
func (e *Engine) SetSetting(ctx context.Context, name string, value interface{}) error {
	if !settingKeys[name] {
		return fmt.Errorf("unknown model-status setting %q", name)
	}
	if err := e.cache.Set(ctx, settingCacheKey(name), value, time.Duration(0)); err != nil {
		return fmt.Errorf("store setting %s: %w", name, err)
	}
	return nil
}

// AllSettings returns every display option with defaults filled in.
func (e *Engine) AllSettings(ctx context.Context) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(settingKeys))
	for name := range settingKeys {
		value, err := e.GetSetting(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = value
	}
	return out, nil
}
