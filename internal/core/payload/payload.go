package payload

import (
	"fmt"
	"time"
)

// Version stamped into every envelope
const Version = "1.0.0"

// Stamp renders a timestamp the way line dashboards expect it
func Stamp(t time.Time) string {
	return t.Format("2006-01-02T15:04:05")
}

// HourlyProduction is the per-station hourly body
type HourlyProduction struct {
	ProductionDate string `json:"ProductionDate"` // local date at midnight, YYYY-MM-DDT00:00:00
	ProductionHour string `json:"ProductionHour"` // HH:00
	Actual         int    `json:"Actual"`
	HourlyTarget   int    `json:"HourlyTarget"`
	LiveTarget     int    `json:"LiveTarget"`
	BucketID       int    `json:"BucketID"`
}

// HourlyEnvelope wraps HourlyProduction for the wire
type HourlyEnvelope struct {
	Version          string           `json:"Version"`
	Timestamp        string           `json:"Timestamp"`
	HourlyProduction HourlyProduction `json:"HourlyProduction"`
}

// ShiftProduction is the per-station shift body
type ShiftProduction struct {
	ProductionDate   string `json:"ProductionDate"`
	Actual           int    `json:"Actual"`
	ProductionTarget int    `json:"ProductionTarget"`
	LiveTarget       int    `json:"LiveTarget"`
	BucketID         int    `json:"BucketID"`
}

// ShiftEnvelope wraps ShiftProduction for the wire
type ShiftEnvelope struct {
	Version         string          `json:"Version"`
	Timestamp       string          `json:"Timestamp"`
	ShiftProduction ShiftProduction `json:"ShiftProduction"`
}

// WeeklyProduction is the per-station weekly body
type WeeklyProduction struct {
	StnID string `json:"Stn_ID"`
	Value int    `json:"Value"`
}

// WeeklyEnvelope wraps WeeklyProduction for the wire
type WeeklyEnvelope struct {
	Version          string           `json:"Version"`
	Timestamp        string           `json:"Timestamp"`
	ProductionWeekly WeeklyProduction `json:"ProductionWeekly"`
}

// OvercycleEntry is one leaderboard slot, ID 1..5
type OvercycleEntry struct {
	ID    int    `json:"ID"`
	StnID string `json:"StnID"`
	Value string `json:"Value"`
}

// TopOvercycles is the leaderboard body for a line and shift
type TopOvercycles struct {
	Overcycles []OvercycleEntry `json:"Overcycles"`
	LineID     int64            `json:"LineId,omitempty"`
	ShiftID    int64            `json:"ShiftId,omitempty"`
}

// TopOvercyclesEnvelope wraps TopOvercycles for the wire
type TopOvercyclesEnvelope struct {
	Version       string        `json:"Version"`
	Timestamp     string        `json:"Timestamp"`
	TopOvercycles TopOvercycles `json:"TopOvercycles"`
}

// ScalarEnvelope carries node and cycle group snapshots
type ScalarEnvelope struct {
	Version   string `json:"Version"`
	Timestamp string `json:"Timestamp"`
	Value     any    `json:"Value"`
}

// LiveTarget prorates a base target over the elapsed fraction of
// break-aware working time, floored and clamped to [0, base]. Closed
// windows always report 0
func LiveTarget(base int, elapsedWorkSec, totalWorkSec int64, closed bool) int {
	if closed || base <= 0 || totalWorkSec <= 0 {
		return 0
	}
	frac := float64(elapsedWorkSec) / float64(totalWorkSec)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return int(float64(base) * frac)
}

// FormatMSS renders seconds as m:ss for the overcycle time leaderboard
func FormatMSS(sec float64) string {
	if sec < 0 {
		sec = 0
	}
	whole := int(sec)
	return fmt.Sprintf("%d:%02d", whole/60, whole%60)
}

// BucketLocal derives the small chart-alignment integer from a local
// timestamp: its hour of day
func BucketLocal(t time.Time) int {
	return t.Hour()
}

// ShiftBucket derives the shift BucketID: the local hour of
// min(now, shiftEnd) minus one second, never earlier than shift start
func ShiftBucket(now, shiftStart, shiftEnd time.Time) int {
	anchor := now
	if shiftEnd.Before(anchor) {
		anchor = shiftEnd
	}
	anchor = anchor.Add(-time.Second)
	if anchor.Before(shiftStart) {
		anchor = shiftStart
	}
	return anchor.Hour()
}

// ParseWhen parses the date formats rows carry. Unparseable values
// report ok=false; callers substitute current UTC and log
func ParseWhen(s string) (time.Time, bool) {
	for _, layout := range []string{
		"2006-01-02T15:04:05",
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
