package timeparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDateTime accepts absolute layouts, day keywords optionally followed by
// a clock ("tomorrow 09:30"), a bare clock for today, and offsets such as
// "+3d", "+2h" or "-45m".
func ParseDateTime(input string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(strings.ToLower(input))
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time")
	}
	if loc == nil {
		loc = time.Local
	}

	if s == "now" {
		return now.In(loc).Truncate(time.Minute), nil
	}

	day, clock, hasClock := strings.Cut(s, " ")
	if base, ok := dayKeyword(day, now, loc); ok {
		if !hasClock {
			return base, nil
		}
		h, m, err := parseClock(strings.TrimSpace(clock))
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid time of day: %s", input)
		}
		return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
	}

	if h, m, err := parseClock(s); err == nil {
		base, _ := dayKeyword("today", now, loc)
		return base.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute), nil
	}

	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		sign := 1
		if strings.HasPrefix(s, "-") {
			sign = -1
		}
		raw := s[1:]
		if raw == "" {
			return time.Time{}, fmt.Errorf("invalid relative time: %s", input)
		}
		unit := raw[len(raw)-1]
		n, err := strconv.Atoi(raw[:len(raw)-1])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid relative time: %s", input)
		}
		switch unit {
		case 'd':
			base, _ := dayKeyword("today", now, loc)
			return base.AddDate(0, 0, sign*n), nil
		case 'h':
			return now.In(loc).Truncate(time.Minute).Add(time.Duration(sign*n) * time.Hour), nil
		case 'm':
			return now.In(loc).Truncate(time.Minute).Add(time.Duration(sign*n) * time.Minute), nil
		default:
			return time.Time{}, fmt.Errorf("invalid relative unit: %s", input)
		}
	}

	layouts := []string{
		time.RFC3339,
		"2006-01-02T15:04",
		"2006-01-02 15:04",
		"2006-01-02",
	}
	for _, layout := range layouts {
		if ts, err := time.ParseInLocation(layout, strings.TrimSpace(input), loc); err == nil {
			return ts, nil
		}
	}

	return time.Time{}, fmt.Errorf("unsupported datetime format: %s", input)
}

func dayKeyword(s string, now time.Time, loc *time.Location) (time.Time, bool) {
	y, m, d := now.In(loc).Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, loc)
	switch s {
	case "today":
		return today, true
	case "tomorrow":
		return today.AddDate(0, 0, 1), true
	case "yesterday":
		return today.AddDate(0, 0, -1), true
	}
	return time.Time{}, false
}

func parseClock(s string) (int, int, error) {
	hs, ms, ok := strings.Cut(s, ":")
	if !ok || len(ms) != 2 {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour %q", s)
	}
	m, err := strconv.Atoi(ms)
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute %q", s)
	}
	return h, m, nil
}

// ParseDuration accepts Go durations ("45m", "1h30m") and bare minutes ("30").
func ParseDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	if n, err := strconv.Atoi(s); err == nil {
		if n <= 0 {
			return 0, fmt.Errorf("duration must be positive")
		}
		return time.Duration(n) * time.Minute, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration: %s", v)
	}
	if d <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return d, nil
}
