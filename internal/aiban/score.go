package aiban

import (
	"fmt"
	"strings"

	"github.com/gatescope/gatescope/internal/analytics"
)

// defaultFlagWeights score each risk flag; the sum caps at 100. Overridable
// per flag through Settings.FlagWeights.
var defaultFlagWeights = map[string]float64{
	analytics.FlagHighRPM:         25,
	analytics.FlagManyIPs:         20,
	analytics.FlagHighFailureRate: 20,
	analytics.FlagHighEmptyRate:   15,
	analytics.FlagIPRapidSwitch:   25,
	analytics.FlagIPHopping:       30,
	analytics.FlagCheckinAnomaly:  15,
}

// LocalScore is the rule-based stage: a weighted sum of the risk flags.
func LocalScore(flags []string, overrides map[string]float64) float64 {
	var score float64
	for _, flag := range flags {
		w, ok := overrides[flag]
		if !ok {
			w = defaultFlagWeights[flag]
		}
		score += w
	}
	if score > 100 {
		score = 100
	}
	return score
}

// FeatureSummary renders the feature vector for the AI prompt and the
// audit trail.
func FeatureSummary(a *analytics.RiskAnalysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "user: %s (id=%d)\n", a.User.Username, a.User.ID)
	fmt.Fprintf(&b, "window: %d..%d (unix seconds)\n", a.Range.Start, a.Range.End)
	fmt.Fprintf(&b, "requests_per_minute: %.2f\n", a.Risk.RequestsPerMinute)
	fmt.Fprintf(&b, "total_requests: %d\n", a.Summary.TotalRequests)
	fmt.Fprintf(&b, "failure_rate: %.2f%%\n", a.Summary.FailureRate)
	fmt.Fprintf(&b, "empty_rate: %.2f%%\n", a.Summary.EmptyRate)
	fmt.Fprintf(&b, "quota_used: %d\n", a.Summary.QuotaUsed)
	fmt.Fprintf(&b, "unique_ips: %d\n", a.Risk.UniqueIPs)
	fmt.Fprintf(&b, "unique_tokens: %d\n", a.Risk.UniqueTokens)
	sw := a.Risk.IPSwitchAnalysis
	fmt.Fprintf(&b, "ip_switches: real=%d rapid=%d dual_stack=%d avg_ip_duration=%.0fs\n",
		sw.RealSwitchCount, sw.RapidSwitchCount, sw.DualStackSwitches, sw.AvgIPDuration)
	if ca := a.Risk.CheckinAnalysis; ca != nil {
		fmt.Fprintf(&b, "checkins: count=%d requests_per_checkin=%.2f anomalous=%v\n",
			ca.CheckinCount, ca.RequestsPerCheckin, ca.Anomalous)
	}
	fmt.Fprintf(&b, "risk_flags: %s\n", strings.Join(a.Risk.RiskFlags, ", "))
	return b.String()
}

const verdictSystemPrompt = `You are an abuse reviewer for an LLM API gateway.
Given a user's traffic features, decide whether the account should be banned.
Answer with a single JSON object: {"decision": "ban" | "keep", "confidence": 0.0-1.0, "reason": "short explanation"}.
Be conservative: only answer "ban" when the features clearly indicate automated abuse.`
