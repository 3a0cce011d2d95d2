// Package metrics derives the per-employee-day measures from a classified
// activity timeline: working hours, per-activity and per-meal minutes, the
// shift type, and the data-reliability score.
package metrics

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/timeline"
)

// ShiftType labels a day as a day or night shift.
type ShiftType int

const (
	ShiftDay ShiftType = iota
	ShiftNight
)

func (s ShiftType) String() string {
	if s == ShiftNight {
		return "night"
	}
	return "day"
}

// ParseShiftType resolves "day" or "night".
func ParseShiftType(s string) (ShiftType, error) {
	switch s {
	case "day":
		return ShiftDay, nil
	case "night":
		return ShiftNight, nil
	}
	return ShiftDay, fmt.Errorf("unknown shift type %q", s)
}

// MarshalJSON renders the shift type as its name.
func (s ShiftType) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a shift type name.
func (s *ShiftType) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := ParseShiftType(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Daily is the persisted result row for one (employee, day) work item.
type Daily struct {
	EmployeeID string     `json:"employee_id"`
	Day        events.Day `json:"analysis_date"`

	TotalHours       float64 `json:"total_hours"`
	ActualWorkHours  float64 `json:"actual_work_hours"`
	FocusedWorkHours float64 `json:"focused_work_hours"`

	WorkMinutes     float64 `json:"work_minutes"`
	MeetingMinutes  float64 `json:"meeting_minutes"`
	MealMinutes     float64 `json:"meal_minutes"`
	MovementMinutes float64 `json:"movement_minutes"`
	RestMinutes     float64 `json:"rest_minutes"`
	IdleMinutes     float64 `json:"idle_minutes"`

	BreakfastMinutes float64 `json:"breakfast_minutes"`
	LunchMinutes     float64 `json:"lunch_minutes"`
	DinnerMinutes    float64 `json:"dinner_minutes"`
	MidnightMinutes  float64 `json:"midnight_meal_minutes"`
	BreakfastCount   int     `json:"breakfast_count"`
	LunchCount       int     `json:"lunch_count"`
	DinnerCount      int     `json:"dinner_count"`
	MidnightCount    int     `json:"midnight_meal_count"`

	ClaimedHours    float64   `json:"claimed_hours"`
	EfficiencyRatio float64   `json:"efficiency_ratio"`
	ShiftType       ShiftType `json:"shift_type"`
	CrossDay        bool      `json:"cross_day"`
	TagCount        int       `json:"tag_count"`
	AnomalyCount    int       `json:"anomaly_count"`
	DataReliability float64   `json:"data_reliability"`

	FirstTagTime time.Time `json:"first_tag_time"`
	LastTagTime  time.Time `json:"last_tag_time"`
}

const (
	// An eight-hour day anchors the efficiency ratio when no claim exists.
	defaultClaimHours = 8.0

	// Full reliability at this many tag events per day.
	fullReliabilityTags = 80.0

	// Accounting stops this far past the first tag; keeps bucket sums
	// inside the capped total even for degenerate multi-day sequences.
	accountingCapHours = 24.0
)

// Deriver computes Daily rows from classified timelines. The night window
// decides shift classification; both it and the zone come from
// configuration.
type Deriver struct {
	night  events.ClockWindow
	loc    *time.Location
	logger *slog.Logger
}

// NewDeriver wires a deriver for the facility zone and night window.
func NewDeriver(night events.ClockWindow, loc *time.Location, logger *slog.Logger) *Deriver {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Deriver{night: night, loc: loc, logger: logger}
}

// Derive computes the day's metrics. The final event's synthetic trailing
// duration lies outside [first tag, last tag] and is excluded from every
// minute bucket; meal counts still include a day-closing swipe.
func (d *Deriver) Derive(tl timeline.DailyTimeline, claimedHours float64) Daily {
	m := Daily{
		EmployeeID:   tl.EmployeeID,
		Day:          tl.Day,
		ClaimedHours: claimedHours,
		CrossDay:     tl.CrossDay,
		TagCount:     len(tl.Events),
		FirstTagTime: tl.FirstTagTime,
		LastTagTime:  tl.LastTagTime,
	}
	m.TotalHours = tl.ElapsedHours()

	var workFamilyMinutes, focusedMinutes, nightWorkMinutes float64
	accountingEnd := tl.FirstTagTime.Add(time.Duration(accountingCapHours * float64(time.Hour)))

	for i, ev := range tl.Events {
		if ev.Anomaly != "" {
			m.AnomalyCount++
		}
		switch ev.State {
		case timeline.StateBreakfast:
			m.BreakfastCount++
		case timeline.StateLunch:
			m.LunchCount++
		case timeline.StateDinner:
			m.DinnerCount++
		case timeline.StateMidnightMeal:
			m.MidnightCount++
		}
		if i == len(tl.Events)-1 {
			break
		}

		dur := ev.DurationMinutes
		if remaining := accountingEnd.Sub(ev.Timestamp).Minutes(); dur > remaining {
			dur = max(remaining, 0)
		}

		if ev.State.IsWorkTime() {
			workFamilyMinutes += dur
			nightWorkMinutes += d.nightOverlap(ev.Timestamp, dur, tl.Day)
			if ev.State == timeline.StateWorkConfirmed {
				focusedMinutes += dur
			}
		}

		switch ev.State {
		case timeline.StateWork, timeline.StateWorkConfirmed, timeline.StatePreparation, timeline.StateEducation:
			m.WorkMinutes += dur
		case timeline.StateMeeting:
			m.MeetingMinutes += dur
		case timeline.StateBreakfast:
			m.MealMinutes += dur
			m.BreakfastMinutes += dur
		case timeline.StateLunch:
			m.MealMinutes += dur
			m.LunchMinutes += dur
		case timeline.StateDinner:
			m.MealMinutes += dur
			m.DinnerMinutes += dur
		case timeline.StateMidnightMeal:
			m.MealMinutes += dur
			m.MidnightMinutes += dur
		case timeline.StateTransit, timeline.StateEntry, timeline.StateExit:
			m.MovementMinutes += dur
		case timeline.StateRest, timeline.StateNonWork:
			m.RestMinutes += dur
		case timeline.StateIdle:
			m.IdleMinutes += dur
		case timeline.StateUnknown:
			// Unknown intervals stay unbucketed.
		}
	}

	m.ActualWorkHours = workFamilyMinutes / 60
	m.FocusedWorkHours = focusedMinutes / 60

	claim := claimedHours
	if claim <= 0 {
		claim = defaultClaimHours
	}
	m.EfficiencyRatio = m.ActualWorkHours / claim

	m.DataReliability = min(100, float64(m.TagCount)/fullReliabilityTags*100)

	switch {
	case tl.CrossDay:
		m.ShiftType = ShiftNight
	case workFamilyMinutes > 0 && nightWorkMinutes >= workFamilyMinutes/2:
		m.ShiftType = ShiftNight
	default:
		m.ShiftType = ShiftDay
	}
	return m
}

// nightOverlap measures how much of [start, start+duration) falls inside the
// night window. The window instance anchored on each neighboring day is
// checked so a wrapped window (20:00-08:00) is covered on both sides of
// midnight; consecutive instances never overlap, so the sum is exact.
func (d *Deriver) nightOverlap(start time.Time, durationMinutes float64, day events.Day) float64 {
	end := start.Add(time.Duration(durationMinutes * float64(time.Minute)))
	var total float64
	for _, base := range []events.Day{day.Prev(), day, day.Next()} {
		ws := base.At(d.night.Start/60, d.night.Start%60, d.loc)
		var we time.Time
		if d.night.Wraps() {
			we = base.Next().At(d.night.End/60, d.night.End%60, d.loc)
		} else {
			we = base.At(d.night.End/60, d.night.End%60, d.loc)
		}
		total += overlapMinutes(start, end, ws, we)
	}
	return total
}

func overlapMinutes(a1, a2, b1, b2 time.Time) float64 {
	lo := a1
	if b1.After(lo) {
		lo = b1
	}
	hi := a2
	if b2.Before(hi) {
		hi = b2
	}
	if !hi.After(lo) {
		return 0
	}
	return hi.Sub(lo).Minutes()
}

// DefaultNightWindow returns the shipped 20:00-08:00 night window.
func DefaultNightWindow() events.ClockWindow {
	return events.ClockWindow{Start: 20 * 60, End: 8 * 60}
}
