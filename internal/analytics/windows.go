package analytics

import (
	"fmt"
	"sort"
	"time"
)

// ErrInvalidParam marks caller mistakes (bad window, period, sort key).
// Handlers translate it to HTTP 400; it never reaches SQL.
var ErrInvalidParam = fmt.Errorf("invalid parameter")

// ErrNotFound marks lookups of absent records; handlers translate to 404.
var ErrNotFound = fmt.Errorf("record not found")

// Risk and IP paths accept exactly this window set.
var windowSeconds = map[string]int64{
	"1h":  3600,
	"3h":  10800,
	"6h":  21600,
	"12h": 43200,
	"24h": 86400,
	"3d":  259200,
	"7d":  604800,
	"14d": 1209600,
}

// Dashboard periods additionally allow 30d but not 3h/12h.
var periodSeconds = map[string]int64{
	"1h":  3600,
	"6h":  21600,
	"24h": 86400,
	"3d":  259200,
	"7d":  604800,
	"14d": 1209600,
	"30d": 2592000,
}

func ParseWindow(s string) (int64, error) {
	if sec, ok := windowSeconds[s]; ok {
		return sec, nil
	}
	return 0, fmt.Errorf("%w: unsupported window %q", ErrInvalidParam, s)
}

func ParsePeriod(s string) (int64, error) {
	if sec, ok := periodSeconds[s]; ok {
		return sec, nil
	}
	return 0, fmt.Errorf("%w: unsupported period %q", ErrInvalidParam, s)
}

// WindowNames returns the supported windows shortest-first, for discovery
// endpoints.
func WindowNames() []string {
	names := make([]string, 0, len(windowSeconds))
	for name := range windowSeconds {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return windowSeconds[names[i]] < windowSeconds[names[j]]
	})
	return names
}

// timeRange is a closed unix-second interval ending at end.
type timeRange struct {
	Start int64 `json:"start"`
	End   int64 `json:"end"`
}

func rangeEndingAt(end time.Time, seconds int64) timeRange {
	e := end.Unix()
	return timeRange{Start: e - seconds, End: e}
}
