package oracle

import (
	"fmt"
	"time"
	_ "time/tzdata" // Europe/Paris must resolve on hosts without a tz database
)

// DefaultTimezone is the timezone orders are bucketed in unless configured
const DefaultTimezone = "Europe/Paris"

var defaultLocation = loadDefaultLocation()

func loadDefaultLocation() *time.Location {
	loc, err := time.LoadLocation(DefaultTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultLocation returns DefaultTimezone, or UTC when the tz database is
// missing
func DefaultLocation() *time.Location {
	return defaultLocation
}

// Time carries the calendar features the service derives from a timestamp
type Time struct {
	Timestamp  int64
	Timezone   string // UTC offset, e.g. "+01:00"
	DayOfMonth int
	MonthOfYr  int
	DayOfWeek  int // 0 = Monday
	TimeOfDay  float64
}

// NewTime computes the calendar features of ts in loc, DefaultLocation if nil
func NewTime(ts int64, loc *time.Location) Time {
	if loc == nil {
		loc = defaultLocation
	}
	t := time.Unix(ts, 0).In(loc)
	return Time{
		Timestamp:  ts,
		Timezone:   offset(t),
		DayOfMonth: t.Day(),
		MonthOfYr:  int(t.Month()),
		DayOfWeek:  (int(t.Weekday()) + 6) % 7,
		TimeOfDay:  float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600,
	}
}

// StartOfDay returns the unix timestamp of the midnight preceding t in loc
func StartOfDay(t time.Time, loc *time.Location) int64 {
	if loc == nil {
		loc = defaultLocation
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc).Unix()
}

// Features returns the time-derived features as a partial context
func (t Time) Features() Context {
	day, month := t.DayOfMonth, t.MonthOfYr
	return Context{Timezone: t.Timezone, Day: &day, Month: &month}
}

func offset(t time.Time) string {
	_, seconds := t.Zone()
	sign := '+'
	if seconds < 0 {
		sign = '-'
		seconds = -seconds
	}
	return fmt.Sprintf("%c%02d:%02d", sign, seconds/3600, (seconds%3600)/60)
}
