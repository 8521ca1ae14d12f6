package model

import (
	"fmt"
	"strings"
	"time"
)

const DateLayout = "2006-01-02"

// Slot is a computed bookable window; it is never stored.
type Slot struct {
	ProviderID  string    `json:"providerId"`
	Date        string    `json:"date"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Label       string    `json:"time"`
	IsBooked    bool      `json:"isBooked"`
	IsAvailable bool      `json:"isAvailable"`
	Status      Status    `json:"status,omitempty"`
}

// ParseDate parses a YYYY-MM-DD calendar date as midnight in loc.
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	d, err := time.ParseInLocation(DateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("date %q must be YYYY-MM-DD", s)
	}
	return d, nil
}

// SlotLabel formats start/end as "HH:MM - HH:MM" in loc.
func SlotLabel(start, end time.Time, loc *time.Location) string {
	return start.In(loc).Format("15:04") + " - " + end.In(loc).Format("15:04")
}

// ParseSlotLabel turns a label on a given local date back into instants. It accepts
// "HH:MM - HH:MM" or a bare "HH:MM", in which case the slot is grain long.
// An end at or before the start rolls over to the next day.
func ParseSlotLabel(date, label string, loc *time.Location, grain time.Duration) (time.Time, time.Time, error) {
	day, err := ParseDate(date, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	startPart, endPart, ranged := strings.Cut(label, "-")

	start, err := clockOn(day, startPart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !ranged {
		if grain <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("slot %q has no end", label)
		}
		return start, start.Add(grain), nil
	}

	end, err := clockOn(day, endPart, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	if !end.After(start) {
		end = end.AddDate(0, 0, 1)
	}
	return start, end, nil
}

func clockOn(day time.Time, hhmm string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(hhmm))
	if err != nil {
		return time.Time{}, fmt.Errorf("time %q must be HH:MM", strings.TrimSpace(hhmm))
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, loc), nil
}
