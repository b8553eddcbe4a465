// Package simtime converts simulation ticks into hours and days and renders
// human-readable age qualifiers.
package simtime

import "fmt"

// Clock describes the host's tick calendar.
type Clock struct {
	TicksPerHour int64 `json:"ticks_per_hour" yaml:"ticks_per_hour"`
	HoursPerDay  int64 `json:"hours_per_day" yaml:"hours_per_day"`
	DaysPerYear  int64 `json:"days_per_year" yaml:"days_per_year"`
}

// Default returns a 2500 ticks/hour, 24 hours/day, 60 days/year clock.
func Default() Clock {
	return Clock{TicksPerHour: 2500, HoursPerDay: 24, DaysPerYear: 60}
}

func (c Clock) normalized() Clock {
	d := Default()
	if c.TicksPerHour <= 0 {
		c.TicksPerHour = d.TicksPerHour
	}
	if c.HoursPerDay <= 0 {
		c.HoursPerDay = d.HoursPerDay
	}
	if c.DaysPerYear <= 0 {
		c.DaysPerYear = d.DaysPerYear
	}
	return c
}

// TicksPerDay returns the number of ticks in one day.
func (c Clock) TicksPerDay() int64 {
	c = c.normalized()
	return c.TicksPerHour * c.HoursPerDay
}

// Hours converts a tick span to hours.
func (c Clock) Hours(ticks int64) float64 {
	c = c.normalized()
	return float64(ticks) / float64(c.TicksPerHour)
}

// Days converts a tick span to days. Negative spans count as zero.
func (c Clock) Days(ticks int64) float64 {
	if ticks < 0 {
		return 0
	}
	return float64(ticks) / float64(c.TicksPerDay())
}

// Qualifier describes how long ago something at tick then happened, seen
// from tick now: "just now", "3 hours ago", "yesterday", "5 days ago",
// "last year" or "2 years ago".
func (c Clock) Qualifier(now, then int64) string {
	c = c.normalized()
	age := now - then
	if age < 0 {
		age = 0
	}
	hours := age / c.TicksPerHour
	days := age / c.TicksPerDay()
	years := days / c.DaysPerYear

	switch {
	case hours < 1:
		return "just now"
	case days < 1:
		if hours == 1 {
			return "an hour ago"
		}
		return fmt.Sprintf("%d hours ago", hours)
	case days == 1:
		return "yesterday"
	case years < 1:
		return fmt.Sprintf("%d days ago", days)
	case years == 1:
		return "last year"
	default:
		return fmt.Sprintf("%d years ago", years)
	}
}
