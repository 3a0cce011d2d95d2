// Package timeline classifies merged event sequences into activity
// timelines: per event an activity state, a confidence score, and anomaly
// flags, driven by a priority-ordered rule table over
// (prev-tag, cur-tag, time-of-day, duration) with meal-window and
// equipment-evidence overrides.
package timeline

import (
	"fmt"
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
)

// ActivityState is a canonical symbol describing what the employee is doing
// during an event's interval. The set is closed.
type ActivityState int

const (
	StateWork ActivityState = iota
	StateWorkConfirmed
	StatePreparation
	StateMeeting
	StateEducation
	StateRest
	StateBreakfast
	StateLunch
	StateDinner
	StateMidnightMeal
	StateTransit
	StateEntry
	StateExit
	StateNonWork
	StateIdle
	StateUnknown
)

var stateNames = map[ActivityState]string{
	StateWork:          "WORK",
	StateWorkConfirmed: "WORK_CONFIRMED",
	StatePreparation:   "PREPARATION",
	StateMeeting:       "MEETING",
	StateEducation:     "EDUCATION",
	StateRest:          "REST",
	StateBreakfast:     "BREAKFAST",
	StateLunch:         "LUNCH",
	StateDinner:        "DINNER",
	StateMidnightMeal:  "MIDNIGHT_MEAL",
	StateTransit:       "TRANSIT",
	StateEntry:         "ENTRY",
	StateExit:          "EXIT",
	StateNonWork:       "NON_WORK",
	StateIdle:          "IDLE",
	StateUnknown:       "UNKNOWN",
}

func (s ActivityState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ActivityState(%d)", int(s))
}

// ParseActivityState resolves a canonical state name such as "WORK" or
// "MIDNIGHT_MEAL".
func ParseActivityState(name string) (ActivityState, error) {
	for state, n := range stateNames {
		if n == name {
			return state, nil
		}
	}
	return StateUnknown, fmt.Errorf("unknown activity state %q", name)
}

// IsWorkTime reports whether the state counts toward working time. The work
// family is WORK, WORK_CONFIRMED, PREPARATION, MEETING, EDUCATION; meals,
// rest, transit, entry/exit, idle, and unknown do not count.
func (s ActivityState) IsWorkTime() bool {
	switch s {
	case StateWork, StateWorkConfirmed, StatePreparation, StateMeeting, StateEducation:
		return true
	case StateRest, StateBreakfast, StateLunch, StateDinner, StateMidnightMeal,
		StateTransit, StateEntry, StateExit, StateNonWork, StateIdle, StateUnknown:
		return false
	}
	return false
}

// IsMeal reports whether the state is one of the four meal states.
func (s ActivityState) IsMeal() bool {
	switch s {
	case StateBreakfast, StateLunch, StateDinner, StateMidnightMeal:
		return true
	case StateWork, StateWorkConfirmed, StatePreparation, StateMeeting, StateEducation,
		StateRest, StateTransit, StateEntry, StateExit, StateNonWork, StateIdle, StateUnknown:
		return false
	}
	return false
}

// MarshalJSON renders the state as its canonical name.
func (s ActivityState) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a canonical state name.
func (s *ActivityState) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := ParseActivityState(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// mealState maps a meal window kind to its activity state. KindNone falls
// back to LUNCH: a swipe outside every window is still a meal, and lunch is
// the least surprising label for it.
func mealState(kind meals.Kind) ActivityState {
	switch kind {
	case meals.KindBreakfast:
		return StateBreakfast
	case meals.KindLunch:
		return StateLunch
	case meals.KindDinner:
		return StateDinner
	case meals.KindMidnight:
		return StateMidnightMeal
	case meals.KindNone:
		return StateLunch
	}
	return StateLunch
}

// Anomaly flags carried by classified events.
const (
	AnomalyTailgating          = "tailgating"
	AnomalyUnconfirmedLongWork = "unconfirmed_long_work"
)

// ClassifiedEvent is a sequence event with its classification attached.
type ClassifiedEvent struct {
	events.SequenceEvent
	State      ActivityState `json:"state"`
	Confidence float64       `json:"confidence"`
	Anomaly    string        `json:"anomaly,omitempty"`
}

// DailyTimeline is the classified activity timeline of one employee-day.
type DailyTimeline struct {
	EmployeeID   string            `json:"employee_id"`
	Day          events.Day        `json:"day"`
	Events       []ClassifiedEvent `json:"events"`
	FirstTagTime time.Time         `json:"first_tag_time"`
	LastTagTime  time.Time         `json:"last_tag_time"`
	CrossDay     bool              `json:"cross_day"`
}

// NewDailyTimeline assembles the timeline envelope around classified events.
// CrossDay is true when the stitched sequence spans local midnight.
func NewDailyTimeline(employeeID string, day events.Day, evs []ClassifiedEvent, loc *time.Location) DailyTimeline {
	tl := DailyTimeline{EmployeeID: employeeID, Day: day, Events: evs}
	if len(evs) == 0 {
		return tl
	}
	tl.FirstTagTime = evs[0].Timestamp
	tl.LastTagTime = evs[len(evs)-1].Timestamp
	tl.CrossDay = events.DayOf(tl.FirstTagTime, loc) != events.DayOf(tl.LastTagTime, loc)
	return tl
}

// ElapsedHours is the first-to-last tag span, capped at 24.
func (tl DailyTimeline) ElapsedHours() float64 {
	if len(tl.Events) == 0 {
		return 0
	}
	h := tl.LastTagTime.Sub(tl.FirstTagTime).Hours()
	if h < 0 {
		return 0
	}
	return min(h, 24)
}
