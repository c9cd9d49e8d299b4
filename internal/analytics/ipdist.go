package analytics

import (
	"context"
	"fmt"
	"sort"
)

// domesticCodes decides the domestic/overseas split of the distribution.
var domesticCodes = map[string]bool{"CN": true}

// GeoBucket is one country, province or city slice of the distribution.
type GeoBucket struct {
	Name         string  `json:"name"`
	Code         string  `json:"code,omitempty"`
	RequestCount int64   `json:"request_count"`
	IPCount      int64   `json:"ip_count"`
	UserCount    int64   `json:"user_count"`
	Percentage   float64 `json:"percentage"`
}

// IPDistribution is the geography view of recent traffic.
type IPDistribution struct {
	Window             string      `json:"window"`
	TotalRequests      int64       `json:"total_requests"`
	TotalIPs           int64       `json:"total_ips"`
	ResolvedIPs        int64       `json:"resolved_ips"`
	DomesticPercentage float64     `json:"domestic_percentage"`
	OverseasPercentage float64     `json:"overseas_percentage"`
	Countries          []GeoBucket `json:"countries"`
	Provinces          []GeoBucket `json:"provinces"`
	Cities             []GeoBucket `json:"cities"`
	SnapshotAt         int64       `json:"snapshot_at"`
}

// Distribution aggregates the window's traffic by geography. Only the top
// 3000 IPs by request count are resolved; the long tail contributes little
// and a full scan through the GeoIP reader would dominate the request.
func (e *Engine) Distribution(ctx context.Context, window string, noCache bool) (*IPDistribution, error) {
	seconds, err := ParseWindow(window)
	if err != nil {
		return nil, err
	}

	key := "ip:distribution:" + window
	var out IPDistribution
	if !noCache && e.getCached(ctx, key, &out) {
		return &out, nil
	}

	r := rangeEndingAt(e.now(), seconds)
	rows, err := e.gw.Query(ctx,
		`SELECT ip,
		        COUNT(*) AS request_count,
		        COUNT(DISTINCT user_id) AS user_count
		 FROM logs
		 WHERE created_at >= ? AND created_at <= ? AND ip IS NOT NULL AND ip <> ''
		 GROUP BY ip
		 ORDER BY request_count DESC
		 LIMIT 3000`,
		r.Start, r.End)
	if err != nil {
		return nil, fmt.Errorf("ip aggregation query: %w", err)
	}

	ips := make([]string, 0, len(rows))
	for _, row := range rows {
		ips = append(ips, row.String("ip"))
	}

	var results map[string]geoResult
	if e.geo != nil {
		looked := e.geo.QueryBatch(ctx, ips)
		results = make(map[string]geoResult, len(looked))
		for ip, res := range looked {
			results[ip] = geoResult{
				Success:     res.Success,
				Country:     res.Country,
				CountryCode: res.CountryCode,
				Region:      res.Region,
				City:        res.City,
			}
		}
	}

	out = IPDistribution{Window: window, SnapshotAt: e.now().Unix()}

	countries := make(map[string]*GeoBucket)
	provinces := make(map[string]*GeoBucket)
	cities := make(map[string]*GeoBucket)
	var domesticRequests int64

	for _, row := range rows {
		ip := row.String("ip")
		requests := row.Int64("request_count")
		users := row.Int64("user_count")

		out.TotalRequests += requests
		out.TotalIPs++

		geo, ok := results[ip]
		if !ok || !geo.Success {
			accumulate(countries, "未知", "", requests, users)
			continue
		}
		out.ResolvedIPs++

		accumulate(countries, geo.Country, geo.CountryCode, requests, users)
		if domesticCodes[geo.CountryCode] {
			domesticRequests += requests
			if geo.Region != "" {
				accumulate(provinces, geo.Region, "", requests, users)
			}
		}
		if geo.City != "" {
			accumulate(cities, geo.City, "", requests, users)
		}
	}

	out.Countries = sortBuckets(countries, out.TotalRequests)
	out.Provinces = sortBuckets(provinces, out.TotalRequests)
	out.Cities = sortBuckets(cities, out.TotalRequests)

	if out.TotalRequests > 0 {
		out.DomesticPercentage = round2(float64(domesticRequests) / float64(out.TotalRequests) * 100)
		out.OverseasPercentage = round2(100 - out.DomesticPercentage)
	}

	e.putCache(ctx, key, out, ttlIPDist)
	return &out, nil
}

// geoResult mirrors the geoip fields the distribution needs, keeping this
// package decoupled from the reader's result type for caching.
type geoResult struct {
	Success     bool
	Country     string
	CountryCode string
	Region      string
	City        string
}

func accumulate(m map[string]*GeoBucket, name, code string, requests, users int64) {
	if name == "" {
		name = "未知"
	}
	b, ok := m[name]
	if !ok {
		b = &GeoBucket{Name: name, Code: code}
		m[name] = b
	}
	b.RequestCount += requests
	b.IPCount++
	b.UserCount += users
}

func sortBuckets(m map[string]*GeoBucket, total int64) []GeoBucket {
	out := make([]GeoBucket, 0, len(m))
	for _, b := range m {
		if total > 0 {
			b.Percentage = round2(float64(b.RequestCount) / float64(total) * 100)
		}
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestCount != out[j].RequestCount {
			return out[i].RequestCount > out[j].RequestCount
		}
		return out[i].Name < out[j].Name
	})
	return out
}
