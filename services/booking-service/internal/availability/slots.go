package availability

import (
	"errors"
	"slices"
	"time"

	"github.com/md-rashed-zaman/apptbook/services/booking-service/internal/model"
)

var ErrNoGrain = errors.New("slot grain must be a positive whole number of minutes")

type Interval struct {
	Start time.Time
	End   time.Time
}

// Windows returns the template windows for the local calendar day containing day,
// as absolute intervals in the provider's location. Windows are sorted by start.
func Windows(p model.Provider, day time.Time, loc *time.Location) []Interval {
	local := day.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var out []Interval
	for _, w := range p.Weekly {
		if w.Weekday != local.Weekday() || w.Validate() != nil {
			continue
		}
		out = append(out, Interval{
			Start: atMinute(midnight, w.StartMinute, loc),
			End:   atMinute(midnight, w.EndMinute, loc),
		})
	}
	slices.SortFunc(out, func(a, b Interval) int { return a.Start.Compare(b.Start) })
	return out
}

// atMinute builds wall-clock times so DST days keep their local labels.
func atMinute(midnight time.Time, minute int, loc *time.Location) time.Time {
	return time.Date(midnight.Year(), midnight.Month(), midnight.Day(), minute/60, minute%60, 0, 0, loc)
}

// grid lays grain-wide slots over the template windows of day on the local wall clock.
// A slot whose wall-clock start or end does not exist, or that spans a DST shift and so
// is not grain long, is left out; every slot therefore round-trips through its label.
func grid(p model.Provider, day time.Time, grain time.Duration, loc *time.Location) []Interval {
	step := int(grain / time.Minute)
	if step <= 0 || grain%time.Minute != 0 {
		return nil
	}
	local := day.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	var out []Interval
	for _, w := range p.Weekly {
		if w.Weekday != local.Weekday() || w.Validate() != nil {
			continue
		}
		for m := w.StartMinute; m+step <= w.EndMinute; m += step {
			start, ok := wallClock(midnight, m, loc)
			if !ok {
				continue
			}
			end, ok := wallClock(midnight, m+step, loc)
			if !ok || end.Sub(start) != grain {
				continue
			}
			out = append(out, Interval{Start: start, End: end})
		}
	}
	return out
}

// wallClock is atMinute that also reports whether the local time exists on that day.
func wallClock(midnight time.Time, minute int, loc *time.Location) (time.Time, bool) {
	t := atMinute(midnight, minute, loc)
	local := t.In(loc)
	return t, local.Hour()*60+local.Minute() == minute%(24*60)
}

// Generate lays fixed-width slots of grain over the provider's template windows for date
// and marks each one against occupants and blocks. Slots come back sorted by start
// with duplicate starts dropped. Past dates are not filtered here.
func Generate(p model.Provider, date time.Time, grain time.Duration, occupants []model.Appointment, blocks []model.Block) ([]model.Slot, error) {
	if grain < time.Minute || grain%time.Minute != 0 {
		return nil, ErrNoGrain
	}
	loc, err := p.Location()
	if err != nil {
		return nil, err
	}
	dateStr := date.In(loc).Format(model.DateLayout)

	busy := occupying(occupants)
	slots := []model.Slot{}
	seen := map[int64]bool{}
	for _, iv := range grid(p, date, grain, loc) {
		if seen[iv.Start.Unix()] {
			continue
		}
		seen[iv.Start.Unix()] = true

		slot := model.Slot{
			ProviderID:  p.ID,
			Date:        dateStr,
			Start:       iv.Start,
			End:         iv.End,
			Label:       model.SlotLabel(iv.Start, iv.End, loc),
			IsBooked:    overlapsAny(iv.Start, iv.End, busy),
			IsAvailable: !blocked(iv.Start, iv.End, blocks),
		}
		if st, ok := latestOverlap(iv.Start, iv.End, occupants); ok {
			slot.Status = st
		}
		slots = append(slots, slot)
	}
	slices.SortStableFunc(slots, func(a, b model.Slot) int { return a.Start.Compare(b.Start) })
	return slots, nil
}

// Offered reports whether [start,end) is exactly one of the generated slots for its date.
func Offered(p model.Provider, start, end time.Time, grain time.Duration, loc *time.Location) bool {
	for _, iv := range grid(p, start, grain, loc) {
		if iv.Start.Equal(start) && iv.End.Equal(end) {
			return true
		}
	}
	return false
}

// Within reports whether [start,end) fits inside a single template window of its local date.
func Within(p model.Provider, start, end time.Time, loc *time.Location) bool {
	for _, win := range Windows(p, start, loc) {
		if !start.Before(win.Start) && !end.After(win.End) {
			return true
		}
	}
	return false
}

func blocked(start, end time.Time, blocks []model.Block) bool {
	for _, b := range blocks {
		if b.Overlaps(start, end) {
			return true
		}
	}
	return false
}

// latestOverlap returns the status of the most recently created non-cancelled
// appointment overlapping the slot.
func latestOverlap(start, end time.Time, appts []model.Appointment) (model.Status, bool) {
	var (
		found  bool
		latest model.Appointment
	)
	for _, a := range appts {
		if a.Status == model.StatusCancelled || !a.Overlaps(start, end) {
			continue
		}
		if !found || a.CreatedAt.After(latest.CreatedAt) {
			latest, found = a, true
		}
	}
	return latest.Status, found
}

func occupying(appts []model.Appointment) []Interval {
	var out []Interval
	for _, a := range appts {
		if a.Status.Occupies() {
			out = append(out, Interval{Start: a.StartTime, End: a.EndTime})
		}
	}
	return out
}

func overlapsAny(start, end time.Time, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start.Before(b.End) && b.Start.Before(end) {
			return true
		}
	}
	return false
}
