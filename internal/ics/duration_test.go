package ics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()

	valid := map[string]time.Duration{
		"-PT15M":       -15 * time.Minute,
		"+PT15M":       15 * time.Minute,
		"P1D":          24 * time.Hour,
		"-P1W":         -7 * 24 * time.Hour,
		"PT1H30M":      90 * time.Minute,
		"-P0DT0H30M0S": -30 * time.Minute,
		"P1DT2H3M4S":   26*time.Hour + 3*time.Minute + 4*time.Second,
		" -pt5m ":      -5 * time.Minute,
		"PT0S":         0,
		"PT3600S":      time.Hour,
	}
	for in, want := range valid {
		got, err := ParseDuration(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "P", "-P", "PT", "15M", "INVALID", "PT15", "P1H", "PT1D", "P1DT", "PTT1M", "P-1D", "20250829T090000Z",
		"-P999999999999W", "PT9223372036854775807S", "P15000W15000W"} {
		_, err := ParseDuration(in)
		require.Error(t, err, in)
	}
}
