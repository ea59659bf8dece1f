package ics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses an RFC 5545 DURATION value such as "-PT15M", "P1D",
// "PT1H30M" or "-P1W". Days are exactly 24 hours.
func ParseDuration(s string) (time.Duration, error) {
	v := strings.ToUpper(strings.TrimSpace(s))
	if v == "" {
		return 0, fmt.Errorf("ics: empty duration")
	}

	sign := time.Duration(1)
	switch v[0] {
	case '-':
		sign = -1
		v = v[1:]
	case '+':
		v = v[1:]
	}
	if !strings.HasPrefix(v, "P") || len(v) < 3 {
		return 0, fmt.Errorf("ics: invalid duration %q", s)
	}
	v = v[1:]

	var total time.Duration
	inTime := false
	seen, timeSeen := false, false
	num := ""
	for _, r := range v {
		switch {
		case r >= '0' && r <= '9':
			num += string(r)
			continue
		case r == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("ics: invalid duration %q", s)
			}
			inTime = true
			continue
		}
		if num == "" {
			return 0, fmt.Errorf("ics: invalid duration %q", s)
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("ics: invalid duration %q: %w", s, err)
		}
		num = ""

		var unit time.Duration
		switch {
		case r == 'W' && !inTime:
			unit = 7 * 24 * time.Hour
		case r == 'D' && !inTime:
			unit = 24 * time.Hour
		case r == 'H' && inTime:
			unit = time.Hour
		case r == 'M' && inTime:
			unit = time.Minute
		case r == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("ics: invalid duration %q", s)
		}
		if n > int64(math.MaxInt64/unit) || total > math.MaxInt64-time.Duration(n)*unit {
			return 0, fmt.Errorf("ics: duration %q out of range", s)
		}
		total += time.Duration(n) * unit
		seen = true
		timeSeen = timeSeen || inTime
	}
	if num != "" || !seen || (inTime && !timeSeen) {
		return 0, fmt.Errorf("ics: invalid duration %q", s)
	}
	return sign * total, nil
}
