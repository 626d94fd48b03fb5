// Package clock contains the shared time arithmetic used by the engines:
// hour bucketing in UTC and site-local time, local dates, and week starts
// keyed by a configurable day of week
package clock

import "time"

// Site is the plant-local timezone used for shift dates, week starts and
// published local timestamps. Defaults to the host zone; mains override it
// from config before any engine starts
var Site = time.Local

// SetSite replaces the site timezone. Call once during bootstrap
func SetSite(loc *time.Location) {
	if loc != nil {
		Site = loc
	}
}

// FloorHourUTC truncates t to the top of its hour in UTC
func FloorHourUTC(t time.Time) time.Time {
	return t.UTC().Truncate(time.Hour)
}

// CeilHourUTC rounds t up to the next top of hour in UTC; a time already
// on the hour is returned unchanged
func CeilHourUTC(t time.Time) time.Time {
	f := FloorHourUTC(t)
	if f.Equal(t.UTC()) {
		return f
	}
	return f.Add(time.Hour)
}

// FloorHourLocal truncates t to the top of its hour in the site zone
func FloorHourLocal(t time.Time) time.Time {
	lt := t.In(Site)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), lt.Hour(), 0, 0, 0, Site)
}

// LocalDate formats t as YYYY-MM-DD in the site zone
func LocalDate(t time.Time) string {
	return t.In(Site).Format("2006-01-02")
}

// LocalHour returns the 0..23 hour of t in the site zone
func LocalHour(t time.Time) int {
	return t.In(Site).Hour()
}

// Midnight returns 00:00:00 of t's local date in the site zone
func Midnight(t time.Time) time.Time {
	lt := t.In(Site)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, Site)
}

// WeekStartLocal returns midnight of the most recent week start on or
// before t. dow is 1..7 with 1 = Sunday, matching the plant calendar;
// out-of-range values clamp to 1
func WeekStartLocal(t time.Time, dow int) time.Time {
	if dow < 1 || dow > 7 {
		dow = 1
	}
	mid := Midnight(t)
	// Go weekday is 0=Sunday; plant dow is 1=Sunday
	back := (int(mid.Weekday()) - (dow - 1) + 7) % 7
	return mid.AddDate(0, 0, -back)
}

// ParseLocalDate parses YYYY-MM-DD as midnight in the site zone
func ParseLocalDate(s string) (time.Time, error) {
	d, err := time.ParseInLocation("2006-01-02", s, Site)
	if err != nil {
		return time.Time{}, err
	}
	return d, nil
}

// AtLocalClock combines a local date with an HH:MM:SS clock reading
func AtLocalClock(date time.Time, hour, minute, sec int) time.Time {
	ld := date.In(Site)
	return time.Date(ld.Year(), ld.Month(), ld.Day(), hour, minute, sec, 0, Site)
}

// Ptr returns a pointer to t or nil if t is zero
func Ptr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
