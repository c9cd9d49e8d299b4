package aiban

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gatescope/gatescope/internal/analytics"
)

func TestLocalScore(t *testing.T) {
	assert.Zero(t, LocalScore(nil, nil))

	score := LocalScore([]string{analytics.FlagHighRPM, analytics.FlagManyIPs}, nil)
	assert.Equal(t, 45.0, score)

	// Unknown flags weigh nothing.
	assert.Zero(t, LocalScore([]string{"made_up_flag"}, nil))
}

func TestLocalScoreCapsAt100(t *testing.T) {
	flags := []string{
		analytics.FlagHighRPM,
		analytics.FlagManyIPs,
		analytics.FlagHighFailureRate,
		analytics.FlagHighEmptyRate,
		analytics.FlagIPRapidSwitch,
		analytics.FlagIPHopping,
	}
	assert.Equal(t, 100.0, LocalScore(flags, nil))
}

func TestLocalScoreOverrides(t *testing.T) {
	score := LocalScore([]string{analytics.FlagHighRPM},
		map[string]float64{analytics.FlagHighRPM: 60})
	assert.Equal(t, 60.0, score)

	// Overrides only replace the named flags.
	score = LocalScore([]string{analytics.FlagHighRPM, analytics.FlagManyIPs},
		map[string]float64{analytics.FlagHighRPM: 10})
	assert.Equal(t, 30.0, score)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{
			name:    "plain json",
			content: `{"decision": "ban", "confidence": 0.9, "reason": "automated abuse"}`,
			want:    "ban",
		},
		{
			name:    "code fence",
			content: "```json\n{\"decision\": \"keep\", \"confidence\": 0.7, \"reason\": \"looks human\"}\n```",
			want:    "keep",
		},
		{
			name:    "prose around object",
			content: `Based on the features, here is my verdict: {"decision": "ban", "confidence": 1.0, "reason": "rapid ip hopping"} Hope that helps.`,
			want:    "ban",
		},
		{
			name:    "no json",
			content: "I cannot decide.",
			wantErr: true,
		},
		{
			name:    "unknown decision",
			content: `{"decision": "maybe", "confidence": 0.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := ParseVerdict(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.Decision)
		})
	}
}

func TestVerdictBan(t *testing.T) {
	assert.True(t, Verdict{Decision: "ban"}.Ban())
	assert.True(t, Verdict{Decision: "BAN"}.Ban())
	assert.False(t, Verdict{Decision: "keep"}.Ban())
}
