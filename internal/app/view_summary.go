package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
	"github.com/agis/agenda/internal/timeparse"
)

const dateLayout = "2006-01-02"

// calendarRange is a half-open span of whole local days.
type calendarRange struct {
	Start time.Time
	End   time.Time
}

func dayRange(anchor time.Time) calendarRange {
	start := midnight(anchor)
	return calendarRange{Start: start, End: start.AddDate(0, 0, 1)}
}

func weekRange(anchor time.Time, first time.Weekday) calendarRange {
	day := midnight(anchor)
	back := (int(day.Weekday()) - int(first) + 7) % 7
	start := day.AddDate(0, 0, -back)
	return calendarRange{Start: start, End: start.AddDate(0, 0, 7)}
}

func monthRange(anchor time.Time) calendarRange {
	start := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, anchor.Location())
	return calendarRange{Start: start, End: start.AddDate(0, 1, 0)}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// lastDay is the final calendar day inside the range.
func (r calendarRange) lastDay() time.Time { return r.End.AddDate(0, 0, -1) }

func (r calendarRange) days() []time.Time {
	var out []time.Time
	for d := r.Start; d.Before(r.End); d = d.AddDate(0, 0, 1) {
		out = append(out, d)
	}
	return out
}

type daySummary struct {
	Date          string `json:"date"`
	Total         int    `json:"total"`
	Active        int    `json:"active"`
	Cancelled     int    `json:"cancelled"`
	BookedMinutes int    `json:"booked_minutes"`
}

// summarizeAppointmentsByDay emits one row per day of r, empty days included.
// Cancelled appointments count toward the total but not the booked minutes.
func summarizeAppointmentsByDay(items []contract.Appointment, r calendarRange, loc *time.Location) []daySummary {
	byDay := map[string]daySummary{}
	for _, a := range items {
		key := a.StartDate.In(loc).Format(dateLayout)
		row := byDay[key]
		row.Total++
		if a.Status.Cancelled {
			row.Cancelled++
		} else {
			row.Active++
			row.BookedMinutes += int(a.EndDate.Sub(a.StartDate).Minutes())
		}
		byDay[key] = row
	}
	days := r.days()
	rows := make([]daySummary, 0, len(days))
	for _, d := range days {
		key := d.Format(dateLayout)
		row := byDay[key]
		row.Date = key
		rows = append(rows, row)
	}
	return rows
}

func parseWeekStart(v string) (time.Weekday, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "monday", "mon":
		return time.Monday, nil
	case "sunday", "sun":
		return time.Sunday, nil
	}
	return time.Monday, fmt.Errorf("invalid --week-start: %s", v)
}

// parseDaySelector accepts YYYY-MM as the first of that month and anything
// timeparse understands otherwise.
func parseDaySelector(v string, now time.Time, loc *time.Location) (time.Time, error) {
	s := strings.TrimSpace(v)
	if s == "" {
		return midnight(now.In(loc)), nil
	}
	if ts, err := time.ParseInLocation("2006-01", s, loc); err == nil {
		return ts, nil
	}
	return timeparse.ParseDateTime(s, now, loc)
}
