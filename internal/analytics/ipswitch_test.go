package analytics

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAnalyzeIPSwitchesEmpty(t *testing.T) {
	out := AnalyzeIPSwitches(nil)
	assert.Zero(t, out.TotalEvents)
	assert.Zero(t, out.UniqueIPs)
	assert.Empty(t, out.Flags)
	assert.NotNil(t, out.RecentSwitches)
}

func TestAnalyzeIPSwitchesSingleIP(t *testing.T) {
	out := AnalyzeIPSwitches([]IPEvent{
		{Time: 100, IP: "1.1.1.1"},
		{Time: 200, IP: "1.1.1.1"},
		{Time: 300, IP: "1.1.1.1"},
	})
	assert.Equal(t, 3, out.TotalEvents)
	assert.Equal(t, 1, out.UniqueIPs)
	assert.Zero(t, out.RealSwitchCount)
	assert.Empty(t, out.Flags)
}

func TestAnalyzeIPSwitchesDualStackExcluded(t *testing.T) {
	// v4 to v6 inside 60s is the same host racing both addresses.
	out := AnalyzeIPSwitches([]IPEvent{
		{Time: 100, IP: "1.1.1.1"},
		{Time: 110, IP: "2001:db8::1"},
		{Time: 120, IP: "1.1.1.1"},
	})
	assert.Equal(t, 2, out.DualStackSwitches)
	assert.Zero(t, out.RealSwitchCount)
	assert.Zero(t, out.RapidSwitchCount)
	assert.Empty(t, out.Flags)
}

func TestAnalyzeIPSwitchesSlowDualStackCounts(t *testing.T) {
	// The same version change after more than 60s is a real move.
	out := AnalyzeIPSwitches([]IPEvent{
		{Time: 100, IP: "1.1.1.1"},
		{Time: 400, IP: "2001:db8::1"},
	})
	assert.Zero(t, out.DualStackSwitches)
	assert.Equal(t, 1, out.RealSwitchCount)
}

func TestAnalyzeIPSwitchesRapidFlag(t *testing.T) {
	events := []IPEvent{
		{Time: 0, IP: "1.1.1.1"},
		{Time: 10, IP: "2.2.2.2"},
		{Time: 20, IP: "3.3.3.3"},
		{Time: 30, IP: "4.4.4.4"},
	}
	out := AnalyzeIPSwitches(events)
	assert.Equal(t, 3, out.RealSwitchCount)
	assert.Equal(t, 3, out.RapidSwitchCount)
	assert.Contains(t, out.Flags, FlagIPRapidSwitch)
	assert.Contains(t, out.Flags, FlagIPHopping)
	assert.Equal(t, int64(10), out.MinSwitchInterval)
}

func TestAnalyzeIPSwitchesRecentSwitchesCapped(t *testing.T) {
	var events []IPEvent
	for i := 0; i < 30; i++ {
		events = append(events, IPEvent{
			Time: int64(i * 1000),
			IP:   fmt.Sprintf("10.0.0.%d", i),
		})
	}
	out := AnalyzeIPSwitches(events)
	assert.Equal(t, 29, out.RealSwitchCount)
	assert.Len(t, out.RecentSwitches, maxSwitchDetails)
	// The kept details are the most recent transitions.
	last := out.RecentSwitches[len(out.RecentSwitches)-1]
	assert.Equal(t, "10.0.0.29", last.ToIP)
}
