package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIntentRateLimiterSlidingWindow(t *testing.T) {
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rl := NewIntentRateLimiter(2, time.Second)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("alice"))
	assert.False(t, rl.Allow("alice"))
	assert.True(t, rl.Allow("bob"), "limits are per user")

	now = now.Add(500 * time.Millisecond)
	assert.False(t, rl.Allow("alice"))

	now = now.Add(600 * time.Millisecond)
	assert.True(t, rl.Allow("alice"))
}

func TestParseVoteValue(t *testing.T) {
	cases := map[string]struct {
		raw  string
		want float64
		ok   bool
	}{
		"number":   {`5`, 5, true},
		"fraction": {`0.5`, 0.5, true},
		"label":    {`"8"`, 8, true},
		"unknown":  {`"?"`, -1, true},
		"break":    {`"break"`, -2, true},
		"negative": {`-3`, 0, false},
		"too big":  {`5000`, 0, false},
		"word":     {`"lots"`, 0, false},
		"object":   {`{}`, 0, false},
		"empty":    {``, 0, false},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			got, err := parseVoteValue([]byte(tc.raw))
			if !tc.ok {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
