package render

import (
	"strings"
	"time"
)

// FormatDuration spells out d in locale, rounded up to the minute, using the
// two most significant units: days and hours, hours and minutes, or minutes
// alone. Zero-valued trailing units are omitted.
//
//	125m -> "2 hours 5 minutes"
//	49h  -> "2 days 1 hour"
//	121s -> "3 minutes"
func FormatDuration(d time.Duration, locale string) string {
	p := printerFor(Match(locale))

	if d < 0 {
		d = 0
	}
	total := int((d + time.Minute - 1) / time.Minute)
	days := total / (24 * 60)
	hours := total % (24 * 60) / 60
	minutes := total % 60

	var parts []string
	switch {
	case days >= 1:
		parts = append(parts, p.Sprintf(keyDays, days))
		if hours > 0 {
			parts = append(parts, p.Sprintf(keyHours, hours))
		}
	case hours >= 1:
		parts = append(parts, p.Sprintf(keyHours, hours))
		if minutes > 0 {
			parts = append(parts, p.Sprintf(keyMinutes, minutes))
		}
	default:
		parts = append(parts, p.Sprintf(keyMinutes, minutes))
	}
	return strings.Join(parts, " ")
}
