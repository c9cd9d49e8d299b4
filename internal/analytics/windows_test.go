package analytics

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseWindow(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "1h", want: 3600},
		{in: "24h", want: 86400},
		{in: "14d", want: 1209600},
		{in: "30d", wantErr: true}, // 30d is a period, not a window
		{in: "2h", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		sec, err := ParseWindow(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, ErrInvalidParam, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, sec, tt.in)
	}
}

func TestParsePeriod(t *testing.T) {
	sec, err := ParsePeriod("30d")
	require.NoError(t, err)
	assert.Equal(t, int64(2592000), sec)

	_, err = ParsePeriod("3h")
	assert.ErrorIs(t, err, ErrInvalidParam)
	_, err = ParsePeriod("12h")
	assert.ErrorIs(t, err, ErrInvalidParam)
}

func TestWindowNamesSorted(t *testing.T) {
	names := WindowNames()
	require.Len(t, names, len(windowSeconds))

	assert.True(t, sort.SliceIsSorted(names, func(i, j int) bool {
		return windowSeconds[names[i]] < windowSeconds[names[j]]
	}))
	assert.Equal(t, "1h", names[0])
	assert.Equal(t, "14d", names[len(names)-1])
}
