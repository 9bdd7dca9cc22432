// Package ist handles the India Standard Time wall-clock values appointments are stored in.
package ist

import (
	"fmt"
	"strings"
	"time"
)

// Location is UTC+05:30. A fixed zone avoids depending on tzdata in the image.
var Location = time.FixedZone("IST", 5*60*60+30*60)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04:05"
)

// NormalizeTime turns "HH:MM" or "HH:MM:SS" into "HH:MM:SS".
func NormalizeTime(s string) (string, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(TimeLayout), nil
		}
	}
	return "", fmt.Errorf("ist: invalid time %q", s)
}

// Parse combines a YYYY-MM-DD date and HH:MM[:SS] time in IST.
func Parse(date, clock string) (time.Time, error) {
	norm, err := NormalizeTime(clock)
	if err != nil {
		return time.Time{}, err
	}
	t, err := time.ParseInLocation(DateLayout+" "+TimeLayout, strings.TrimSpace(date)+" "+norm, Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("ist: invalid date %q: %w", date, err)
	}
	return t, nil
}

// SameMinute compares two date/time pairs ignoring seconds. Unparseable values
// fall back to string comparison of the trimmed inputs.
func SameMinute(dateA, timeA, dateB, timeB string) bool {
	a, errA := Parse(dateA, timeA)
	b, errB := Parse(dateB, timeB)
	if errA != nil || errB != nil {
		return strings.TrimSpace(dateA) == strings.TrimSpace(dateB) &&
			minutePrefix(timeA) == minutePrefix(timeB)
	}
	return a.Truncate(time.Minute).Equal(b.Truncate(time.Minute))
}

func minutePrefix(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 5 {
		return s[:5]
	}
	return s
}

// DisplayDate renders "Friday, 2 January 2026".
func DisplayDate(t time.Time) string {
	return t.In(Location).Format("Monday, 2 January 2006")
}

// DisplayTime renders "3:04 PM".
func DisplayTime(t time.Time) string {
	return t.In(Location).Format("3:04 PM")
}
