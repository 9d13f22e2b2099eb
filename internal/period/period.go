// Package period computes renewing one-month billing windows anchored to a
// day-of-month in an account's timezone.
package period

import (
	"errors"
	"strings"
	"time"

	"github.com/luisterslim/billing/internal/clock"
)

const (
	MinRenewDay = 1
	MaxRenewDay = 28

	isoMillis = "2006-01-02T15:04:05.000Z"
)

var ErrInvalidTimezone = errors.New("invalid_timezone")

// Period is one billing window. Start is inclusive and End exclusive.
type Period struct {
	ID       string    `json:"period_id"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Timezone string    `json:"timezone"`
	RenewDay int       `json:"renew_day"`
}

// StartISO returns the UTC start instant with millisecond precision.
func (p Period) StartISO() string { return p.Start.UTC().Format(isoMillis) }

// EndISO returns the UTC end instant with millisecond precision.
func (p Period) EndISO() string { return p.End.UTC().Format(isoMillis) }

// Contains reports whether t falls inside the window.
func (p Period) Contains(t time.Time) bool {
	return !t.Before(p.Start) && t.Before(p.End)
}

// ClampRenewDay keeps the anchor inside [1,28] so every month has the day.
func ClampRenewDay(day int) int {
	if day < MinRenewDay {
		return MinRenewDay
	}
	if day > MaxRenewDay {
		return MaxRenewDay
	}
	return day
}

// LoadLocation resolves a timezone name, treating an empty name as UTC.
func LoadLocation(timezone string) (*time.Location, error) {
	timezone = strings.TrimSpace(timezone)
	if timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, ErrInvalidTimezone
	}
	return loc, nil
}

// At returns the period containing now for the given anchor.
func At(now time.Time, timezone string, renewDay int) (Period, error) {
	loc, err := LoadLocation(timezone)
	if err != nil {
		return Period{}, err
	}
	day := ClampRenewDay(renewDay)
	local := now.In(loc)

	start := time.Date(local.Year(), local.Month(), day, 0, 0, 0, 0, loc)
	if local.Before(start) {
		start = time.Date(local.Year(), local.Month()-1, day, 0, 0, 0, 0, loc)
	}
	end := time.Date(start.Year(), start.Month()+1, day, 0, 0, 0, 0, loc)

	return Period{
		ID:       formatID(start, day),
		Start:    start.UTC().Truncate(time.Millisecond),
		End:      end.UTC().Truncate(time.Millisecond),
		Timezone: loc.String(),
		RenewDay: day,
	}, nil
}

func formatID(start time.Time, renewDay int) string {
	if renewDay == 1 {
		return start.Format("2006-01")
	}
	return start.Format("2006-01-02")
}

// Calculator binds At to a clock.
type Calculator struct {
	clock clock.Clock
}

func NewCalculator(c clock.Clock) *Calculator {
	return &Calculator{clock: c}
}

// Current returns the period active at the calculator's now.
func (c *Calculator) Current(timezone string, renewDay int) (Period, error) {
	return At(c.clock.Now(), timezone, renewDay)
}
