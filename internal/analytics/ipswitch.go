package analytics

import "strings"

// Risk flags derived from traffic shape.
const (
	FlagHighRPM         = "HIGH_RPM"
	FlagManyIPs         = "MANY_IPS"
	FlagHighFailureRate = "HIGH_FAILURE_RATE"
	FlagIPRapidSwitch   = "IP_RAPID_SWITCH"
	FlagIPHopping       = "IP_HOPPING"
	FlagCheckinAnomaly  = "CHECKIN_ANOMALY"
	FlagHighEmptyRate   = "HIGH_EMPTY_RATE"
)

const (
	dualStackWindowSeconds = 60
	rapidSwitchSeconds     = 60
	maxSwitchDetails       = 10
)

// IPEvent is one (timestamp, ip) observation, in ascending time order.
type IPEvent struct {
	Time int64
	IP   string
}

// SwitchDetail records one IP transition.
type SwitchDetail struct {
	Time        int64  `json:"time"`
	FromIP      string `json:"from_ip"`
	ToIP        string `json:"to_ip"`
	Interval    int64  `json:"interval"`
	IsDualStack bool   `json:"is_dual_stack"`
	FromVersion string `json:"from_version"`
	ToVersion   string `json:"to_version"`
}

// IPSwitchAnalysis summarizes how a user moves between IPs. A v4/v6 switch
// inside 60s is the same physical host racing its dual-stack addresses, so
// those transitions are counted separately and excluded from the rapid and
// interval statistics.
type IPSwitchAnalysis struct {
	TotalEvents       int            `json:"total_events"`
	UniqueIPs         int            `json:"unique_ips"`
	RealSwitchCount   int            `json:"real_switch_count"`
	DualStackSwitches int            `json:"dual_stack_switches"`
	RapidSwitchCount  int            `json:"rapid_switch_count"`
	AvgIPDuration     float64        `json:"avg_ip_duration"`
	MinSwitchInterval int64          `json:"min_switch_interval"`
	RecentSwitches    []SwitchDetail `json:"recent_switches"`
	Flags             []string       `json:"flags"`
}

func ipVersion(ip string) string {
	if strings.Contains(ip, ":") {
		return "v6"
	}
	return "v4"
}

// AnalyzeIPSwitches walks a time-ordered IP sequence and derives switch
// statistics and the IP-mobility risk flags.
func AnalyzeIPSwitches(events []IPEvent) IPSwitchAnalysis {
	out := IPSwitchAnalysis{TotalEvents: len(events), Flags: []string{}, RecentSwitches: []SwitchDetail{}}
	if len(events) == 0 {
		return out
	}

	unique := make(map[string]bool)
	var switches []SwitchDetail
	var durations []int64

	prev := events[0]
	firstSeen := events[0].Time
	unique[prev.IP] = true

	for _, ev := range events[1:] {
		unique[ev.IP] = true
		if ev.IP == prev.IP {
			prev = ev
			continue
		}

		interval := ev.Time - prev.Time
		fromVer, toVer := ipVersion(prev.IP), ipVersion(ev.IP)
		detail := SwitchDetail{
			Time:        ev.Time,
			FromIP:      prev.IP,
			ToIP:        ev.IP,
			Interval:    interval,
			IsDualStack: fromVer != toVer && interval <= dualStackWindowSeconds,
			FromVersion: fromVer,
			ToVersion:   toVer,
		}
		switches = append(switches, detail)
		durations = append(durations, prev.Time-firstSeen)

		prev = ev
		firstSeen = ev.Time
	}

	out.UniqueIPs = len(unique)

	var durationSum int64
	minInterval := int64(-1)
	for i, sw := range switches {
		// Duration of the IP that was switched away from: last-seen minus
		// first-seen, plus the gap to the switch itself.
		durationSum += durations[i] + sw.Interval

		if sw.IsDualStack {
			out.DualStackSwitches++
			continue
		}
		out.RealSwitchCount++
		if sw.Interval <= rapidSwitchSeconds {
			out.RapidSwitchCount++
		}
		if minInterval < 0 || sw.Interval < minInterval {
			minInterval = sw.Interval
		}
	}

	if len(switches) > 0 {
		out.AvgIPDuration = round2(float64(durationSum) / float64(len(switches)))
	}
	if minInterval >= 0 {
		out.MinSwitchInterval = minInterval
	}

	if len(switches) > maxSwitchDetails {
		switches = switches[len(switches)-maxSwitchDetails:]
	}
	out.RecentSwitches = switches

	if out.RapidSwitchCount >= 3 && out.AvgIPDuration < 300 {
		out.Flags = append(out.Flags, FlagIPRapidSwitch)
	}
	if out.AvgIPDuration < 30 && out.RealSwitchCount >= 3 {
		out.Flags = append(out.Flags, FlagIPHopping)
	}

	return out
}
