package model

import (
	"fmt"
	"time"
)

// WeeklyWindow is one recurring availability window in the provider's local time.
// Minutes run from 0 to 1440; EndMinute 1440 means midnight at the end of the day.
type WeeklyWindow struct {
	Weekday     time.Weekday `json:"weekday"`
	StartMinute int          `json:"startMinute"`
	EndMinute   int          `json:"endMinute"`
}

func (w WeeklyWindow) Validate() error {
	if w.Weekday < time.Sunday || w.Weekday > time.Saturday {
		return fmt.Errorf("weekday %d out of range", w.Weekday)
	}
	if w.StartMinute < 0 || w.EndMinute > 24*60 || w.StartMinute >= w.EndMinute {
		return fmt.Errorf("window %d-%d is not a valid minute range", w.StartMinute, w.EndMinute)
	}
	return nil
}

type Provider struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Specialty   string         `json:"specialty"`
	Category    string         `json:"category"`
	HourlyPrice float64        `json:"hourlyPrice"`
	Timezone    string         `json:"timezone"`
	Weekly      []WeeklyWindow `json:"availability"`
	UpdatedAt   time.Time      `json:"updatedAt"`
}

// Location resolves the provider timezone, defaulting to UTC.
func (p Provider) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Block is an interval during which the provider takes no bookings.
type Block struct {
	ID         string    `json:"id"`
	ProviderID string    `json:"providerId"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

func (b Block) Overlaps(start, end time.Time) bool {
	return start.Before(b.End) && b.Start.Before(end)
}
