// Package events holds the event types that flow through the analysis
// pipeline and the small calendar primitives (facility-local days, clock
// windows) the rest of the engine keys on.
package events

import (
	"fmt"
	"strings"
	"time"

	"github.com/worklens/worklens/pkg/tags"
)

// Day is a facility-local calendar date. It is the unit work items are keyed
// by and is comparable, so it serves directly as a map key in the preloaded
// indexes.
type Day struct {
	Year  int
	Month time.Month
	Date  int
}

// DayOf returns the calendar day of t in the given location.
func DayOf(t time.Time, loc *time.Location) Day {
	lt := t.In(loc)
	return Day{Year: lt.Year(), Month: lt.Month(), Date: lt.Day()}
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Day{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Day{Year: t.Year(), Month: t.Month(), Date: t.Day()}, nil
}

// Start returns local midnight opening the day.
func (d Day) Start(loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Date, 0, 0, 0, 0, loc)
}

// At returns the wall-clock instant hour:minute on this day in loc.
func (d Day) At(hour, minute int, loc *time.Location) time.Time {
	return time.Date(d.Year, d.Month, d.Date, hour, minute, 0, 0, loc)
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	t := time.Date(d.Year, d.Month, d.Date, 12, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
	return Day{Year: t.Year(), Month: t.Month(), Date: t.Day()}
}

// Prev returns the preceding calendar day.
func (d Day) Prev() Day {
	t := time.Date(d.Year, d.Month, d.Date, 12, 0, 0, 0, time.UTC).AddDate(0, 0, -1)
	return Day{Year: t.Year(), Month: t.Month(), Date: t.Day()}
}

// Before reports whether d precedes other.
func (d Day) Before(other Day) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Date < other.Date
}

// IsZero reports whether d is the zero value.
func (d Day) IsZero() bool {
	return d == Day{}
}

func (d Day) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Date)
}

// MarshalJSON renders the day as a YYYY-MM-DD string.
func (d Day) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

// UnmarshalJSON parses a YYYY-MM-DD string.
func (d *Day) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// DaysBetween enumerates the inclusive range [from, to].
func DaysBetween(from, to Day) []Day {
	var days []Day
	for d := from; !to.Before(d); d = d.Next() {
		days = append(days, d)
	}
	return days
}

// ClockWindow is a [Start, End) span in minutes-of-day. A window whose End is
// not after its Start wraps past midnight (e.g. 23:30-01:00, 20:00-08:00).
type ClockWindow struct {
	Start int // minutes from local midnight, inclusive
	End   int // minutes from local midnight, exclusive
}

// Contains reports whether the minute-of-day m falls inside the window.
func (w ClockWindow) Contains(m int) bool {
	if w.Start == w.End {
		return false
	}
	if w.Start < w.End {
		return m >= w.Start && m < w.End
	}
	return m >= w.Start || m < w.End
}

// Wraps reports whether the window crosses local midnight.
func (w ClockWindow) Wraps() bool {
	return w.End <= w.Start
}

// MinuteOfDay returns t's minute offset from local midnight in loc.
func MinuteOfDay(t time.Time, loc *time.Location) int {
	lt := t.In(loc)
	return lt.Hour()*60 + lt.Minute()
}

// ParseMinuteOfDay parses an HH:MM clock string into minutes from midnight.
// 24:00 is accepted as the exclusive end of a day-closing window.
func ParseMinuteOfDay(s string) (int, error) {
	t := strings.TrimSpace(s)
	var hour, minute int
	if _, err := fmt.Sscanf(t, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid clock %q: %w", s, err)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return hour*60 + minute, nil
}

// Source identifies which stream an event came from. When two events tie on
// timestamp or fall inside the duplicate-coalescing window, the
// higher-priority source wins: equipment > meal > gate.
type Source int

const (
	SourceGate Source = iota
	SourceMeal
	SourceEquipment
)

func (s Source) String() string {
	switch s {
	case SourceGate:
		return "gate"
	case SourceMeal:
		return "meal"
	case SourceEquipment:
		return "equipment"
	}
	return "gate"
}

// MarshalJSON renders the source as its stream name.
func (s Source) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// ParseSource resolves a stream name.
func ParseSource(s string) (Source, error) {
	switch s {
	case "gate":
		return SourceGate, nil
	case "meal":
		return SourceMeal, nil
	case "equipment":
		return SourceEquipment, nil
	}
	return SourceGate, fmt.Errorf("unknown source %q", s)
}

// UnmarshalJSON parses a stream name.
func (s *Source) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := ParseSource(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Priority orders sources for tie-breaking; larger wins.
func (s Source) Priority() int {
	switch s {
	case SourceEquipment:
		return 2
	case SourceMeal:
		return 1
	case SourceGate:
		return 0
	}
	return 0
}

// RawEvent is a gate read before tag mapping.
type RawEvent struct {
	EmployeeID   string         `json:"employee_id"`
	Timestamp    time.Time      `json:"timestamp"`
	LocationCode string         `json:"location_code"`
	LocationName string         `json:"location_name"`
	Direction    tags.Direction `json:"-"`
}

// MealTransaction is a cafeteria purchase row.
type MealTransaction struct {
	EmployeeID     string    `json:"employee_id"`
	Timestamp      time.Time `json:"timestamp"`
	ServingCounter string    `json:"serving_counter"`
	RestaurantName string    `json:"restaurant_name"`
	Takeout        bool      `json:"takeout"`
	MealCategory   string    `json:"meal_category"`
}

// EquipmentLog is one equipment-operation or explicit activity log entry.
type EquipmentLog struct {
	EmployeeID      string    `json:"employee_id"`
	Timestamp       time.Time `json:"timestamp"`
	ActivityType    string    `json:"activity_type"`
	DurationMinutes float64   `json:"duration_minutes"`
}

// Employee is one row of the employee directory; the org fields drive scope
// resolution and the center/team/group rollups.
type Employee struct {
	ID     string `json:"employee_id"`
	Name   string `json:"name"`
	Center string `json:"center"`
	Team   string `json:"team"`
	Group  string `json:"group"`
}

// AttendanceClaim is a self-reported work-hours row for one employee-day.
type AttendanceClaim struct {
	EmployeeID   string  `json:"employee_id"`
	ClaimDate    Day     `json:"claim_date"`
	ClaimedHours float64 `json:"claimed_hours"`
}

// TaggedEvent is an event after tag assignment. DurationHint carries the
// source's idea of how long the activity lasts (meal policy minutes, logged
// equipment minutes); zero means no hint. The tag is never invalid.
type TaggedEvent struct {
	EmployeeID   string    `json:"employee_id"`
	Timestamp    time.Time `json:"timestamp"`
	Source       Source    `json:"source"`
	RawLocation  string    `json:"raw_location,omitempty"`
	Tag          tags.Tag  `json:"tag"`
	DurationHint float64   `json:"-"`
}

// SequenceEvent is a TaggedEvent with its resolved duration: the gap to the
// next event in the same logical day, bounded by the per-tag-class rules of
// the sequence builder. GapExceeded marks a raw gap past the idle threshold
// on a transit or amenity tag; the classifier renders those IDLE.
type SequenceEvent struct {
	TaggedEvent
	DurationMinutes float64 `json:"duration_minutes"`
	GapExceeded     bool    `json:"gap_exceeded,omitempty"`
}
