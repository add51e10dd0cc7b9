package scheduling

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agis/agenda/internal/contract"
)

type Block struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int64     `json:"minutes"`
}

type Slot struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Minutes int64     `json:"minutes"`
}

// Window is a daily opening range such as 09:00-17:00.
type Window struct {
	StartHour, StartMinute int
	EndHour, EndMinute     int
}

var DefaultWindow = Window{StartHour: 9, EndHour: 17}

func (w Window) String() string {
	return fmt.Sprintf("%02d:%02d-%02d:%02d", w.StartHour, w.StartMinute, w.EndHour, w.EndMinute)
}

func ParseWindow(v string) (Window, error) {
	parts := strings.Split(strings.TrimSpace(v), "-")
	if len(parts) != 2 {
		return Window{}, fmt.Errorf("invalid window: %s", v)
	}
	aH, aM, err := parseClock(strings.TrimSpace(parts[0]))
	if err != nil {
		return Window{}, err
	}
	bH, bM, err := parseClock(strings.TrimSpace(parts[1]))
	if err != nil {
		return Window{}, err
	}
	if bH < aH || (bH == aH && bM <= aM) {
		return Window{}, fmt.Errorf("window end must be after start")
	}
	return Window{StartHour: aH, StartMinute: aM, EndHour: bH, EndMinute: bM}, nil
}

func parseClock(s string) (int, int, error) {
	h, m, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock: %s", s)
	}
	hh, err := strconv.Atoi(h)
	if err != nil || hh < 0 || hh > 23 {
		return 0, 0, fmt.Errorf("invalid hour: %s", s)
	}
	mm, err := strconv.Atoi(m)
	if err != nil || mm < 0 || mm > 59 {
		return 0, 0, fmt.Errorf("invalid minute: %s", s)
	}
	return hh, mm, nil
}

// BusyBlocks merges the person's non-cancelled appointments into disjoint
// busy ranges, ordered by start.
func BusyBlocks(personID string, kind PersonKind, appts []contract.Appointment) []Block {
	ranges := make([]contract.Appointment, 0, len(appts))
	for _, a := range appts {
		if a.Status.Cancelled || !a.StartDate.Before(a.EndDate) {
			continue
		}
		owner := a.ProfessionalID
		if kind == PersonPatient {
			owner = a.PatientID
		}
		if owner == personID {
			ranges = append(ranges, a)
		}
	}
	if len(ranges) == 0 {
		return nil
	}
	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].StartDate.Equal(ranges[j].StartDate) {
			return ranges[i].EndDate.Before(ranges[j].EndDate)
		}
		return ranges[i].StartDate.Before(ranges[j].StartDate)
	})
	merged := make([]Block, 0, len(ranges))
	curStart, curEnd := ranges[0].StartDate, ranges[0].EndDate
	for _, r := range ranges[1:] {
		if !r.StartDate.After(curEnd) {
			if r.EndDate.After(curEnd) {
				curEnd = r.EndDate
			}
			continue
		}
		merged = append(merged, newBlock(curStart, curEnd))
		curStart, curEnd = r.StartDate, r.EndDate
	}
	return append(merged, newBlock(curStart, curEnd))
}

func newBlock(start, end time.Time) Block {
	return Block{Start: start, End: end, Minutes: int64(end.Sub(start).Minutes())}
}

// FreeSlots walks each day between from and to inside the window and returns
// every duration-long candidate, advanced by step, that avoids the blocks.
func FreeSlots(blocks []Block, from, to time.Time, w Window, duration, step time.Duration) []Slot {
	slots := make([]Slot, 0)
	if duration <= 0 || step <= 0 || to.Before(from) {
		return slots
	}
	fromDay := startOfDay(from)
	toDay := startOfDay(to)
	for day := fromDay; !day.After(toDay); day = day.AddDate(0, 0, 1) {
		windowStart := time.Date(day.Year(), day.Month(), day.Day(), w.StartHour, w.StartMinute, 0, 0, day.Location())
		windowEnd := time.Date(day.Year(), day.Month(), day.Day(), w.EndHour, w.EndMinute, 0, 0, day.Location())
		if day.Equal(fromDay) && from.After(windowStart) {
			windowStart = from
		}
		if day.Equal(toDay) && to.Before(windowEnd) {
			windowEnd = to
		}
		for c := windowStart; !c.Add(duration).After(windowEnd); c = c.Add(step) {
			end := c.Add(duration)
			if overlapsBusy(c, end, blocks) {
				continue
			}
			slots = append(slots, Slot{Start: c, End: end, Minutes: int64(duration.Minutes())})
		}
	}
	return slots
}

func overlapsBusy(start, end time.Time, blocks []Block) bool {
	for _, b := range blocks {
		if HasTimeOverlap(start, end, b.Start, b.End) {
			return true
		}
	}
	return false
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
