package scheduling

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

const (
	defaultRepeatCount = 10
	MaxOccurrences     = 52
)

// Occurrence is one instance of a repeated booking.
type Occurrence struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ParseRepeat turns a short repeat spec into rrule options anchored at start.
// Accepted forms: "daily", "weekly:mon,wed", "monthly*6", or a raw
// "FREQ=...;..." rule.
func ParseRepeat(v string, start time.Time) (*rrule.ROption, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return nil, nil
	}
	if strings.HasPrefix(strings.ToUpper(s), "FREQ=") || strings.HasPrefix(strings.ToUpper(s), "RRULE:") {
		opt, err := rrule.StrToROption(strings.TrimPrefix(strings.ToUpper(s), "RRULE:"))
		if err != nil {
			return nil, fmt.Errorf("invalid repeat rule: %w", err)
		}
		opt.Dtstart = start
		if opt.Count == 0 && opt.Until.IsZero() {
			opt.Count = defaultRepeatCount
		}
		return opt, nil
	}

	s = strings.ToLower(s)
	opt := &rrule.ROption{Dtstart: start, Count: defaultRepeatCount}
	if head, tail, ok := strings.Cut(s, "*"); ok {
		n, err := strconv.Atoi(strings.TrimSpace(tail))
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("invalid repeat count")
		}
		opt.Count = n
		s = strings.TrimSpace(head)
	}
	freq, days, hasDays := strings.Cut(s, ":")
	switch strings.TrimSpace(freq) {
	case "daily":
		opt.Freq = rrule.DAILY
	case "weekly":
		opt.Freq = rrule.WEEKLY
	case "monthly":
		opt.Freq = rrule.MONTHLY
	case "yearly":
		opt.Freq = rrule.YEARLY
	default:
		return nil, fmt.Errorf("unsupported repeat frequency: %s", freq)
	}
	if hasDays {
		if opt.Freq != rrule.WEEKLY {
			return nil, fmt.Errorf("weekdays are only valid with weekly")
		}
		wds, err := parseWeekdays(days)
		if err != nil {
			return nil, err
		}
		opt.Byweekday = wds
	}
	return opt, nil
}

// ExpandRecurrence lists the occurrences of the repeat spec, each lasting as
// long as [start, end). An empty repeat yields the single original range.
func ExpandRecurrence(start, end time.Time, spec string, max int) ([]Occurrence, error) {
	if !start.Before(end) {
		return nil, fmt.Errorf("end must be after start")
	}
	opt, err := ParseRepeat(spec, start)
	if err != nil {
		return nil, err
	}
	if opt == nil {
		return []Occurrence{{Start: start, End: end}}, nil
	}
	if max <= 0 {
		max = MaxOccurrences
	}
	if opt.Count > max {
		return nil, fmt.Errorf("repeat produces %d occurrences, limit is %d", opt.Count, max)
	}
	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("invalid repeat rule: %w", err)
	}
	length := end.Sub(start)
	out := make([]Occurrence, 0, opt.Count)
	iter := r.Iterator()
	for {
		t, ok := iter()
		if !ok {
			break
		}
		if len(out) == max {
			return nil, fmt.Errorf("repeat produces more than %d occurrences", max)
		}
		out = append(out, Occurrence{Start: t, End: t.Add(length)})
	}
	return out, nil
}

func parseWeekdays(v string) ([]rrule.Weekday, error) {
	var out []rrule.Weekday
	seen := map[rrule.Weekday]bool{}
	for _, p := range strings.Split(v, ",") {
		wd, err := parseWeekday(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		if !seen[wd] {
			seen[wd] = true
			out = append(out, wd)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("weekly repeat requires weekdays")
	}
	return out, nil
}

func parseWeekday(v string) (rrule.Weekday, error) {
	switch strings.ToLower(v) {
	case "mon", "monday":
		return rrule.MO, nil
	case "tue", "tues", "tuesday":
		return rrule.TU, nil
	case "wed", "wednesday":
		return rrule.WE, nil
	case "thu", "thurs", "thursday":
		return rrule.TH, nil
	case "fri", "friday":
		return rrule.FR, nil
	case "sat", "saturday":
		return rrule.SA, nil
	case "sun", "sunday":
		return rrule.SU, nil
	default:
		return rrule.MO, fmt.Errorf("invalid weekday: %s", v)
	}
}
