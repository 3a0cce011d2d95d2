// Package meals derives meal tag events from cafeteria transactions and owns
// the facility meal-window policy shared with the state classifier.
package meals

import (
	"log/slog"
	"strings"
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/tags"
)

// Kind names which meal window a timestamp falls into.
type Kind int

const (
	KindNone Kind = iota
	KindBreakfast
	KindLunch
	KindDinner
	KindMidnight
)

func (k Kind) String() string {
	switch k {
	case KindBreakfast:
		return "breakfast"
	case KindLunch:
		return "lunch"
	case KindDinner:
		return "dinner"
	case KindMidnight:
		return "midnight_meal"
	case KindNone:
		return "none"
	}
	return "none"
}

// Windows holds the four facility meal windows in minutes-of-day. The
// midnight window wraps local midnight.
type Windows struct {
	Breakfast events.ClockWindow
	Lunch     events.ClockWindow
	Dinner    events.ClockWindow
	Midnight  events.ClockWindow
}

// DefaultWindows returns the shipped meal windows: breakfast 06:30-09:00,
// lunch 11:20-13:20, dinner 17:00-20:00, midnight 23:30-01:00.
func DefaultWindows() Windows {
	return Windows{
		Breakfast: events.ClockWindow{Start: 6*60 + 30, End: 9 * 60},
		Lunch:     events.ClockWindow{Start: 11*60 + 20, End: 13*60 + 20},
		Dinner:    events.ClockWindow{Start: 17 * 60, End: 20 * 60},
		Midnight:  events.ClockWindow{Start: 23*60 + 30, End: 1 * 60},
	}
}

// Kind resolves the meal window containing the minute-of-day m. Midnight is
// checked first so the wrap never shadows breakfast.
func (w Windows) Kind(m int) Kind {
	switch {
	case w.Midnight.Contains(m):
		return KindMidnight
	case w.Breakfast.Contains(m):
		return KindBreakfast
	case w.Lunch.Contains(m):
		return KindLunch
	case w.Dinner.Contains(m):
		return KindDinner
	}
	return KindNone
}

// Durations is the meal duration policy in minutes. These act as duration
// hints for the sequence builder, not fixed spans: a meal's resolved duration
// is min(gap to next event, hint), and the hint itself when the meal closes
// the day.
type Durations struct {
	DineIn   float64
	Takeout  float64
	Midnight float64
}

// DefaultDurations returns the shipped meal duration policy: 30 minutes
// dine-in, 10 take-out, 20 for a dine-in inside the midnight window.
func DefaultDurations() Durations {
	return Durations{DineIn: 30, Takeout: 10, Midnight: 20}
}

// Source derives M1/M2 tag events from cafeteria transactions for one
// employee-day. Take-out detection combines the transaction's own flag with
// keyword matching on the serving counter and restaurant name; timestamps
// are interpreted in the cafeteria zone, which may differ from the facility
// zone on sites where the vendor system clocks separately.
type Source struct {
	windows   Windows
	durations Durations
	takeout   []string
	loc       *time.Location
	logger    *slog.Logger
}

// NewSource builds the meal event source.
func NewSource(windows Windows, durations Durations, takeoutKeywords []string, loc *time.Location, logger *slog.Logger) *Source {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Source{windows: windows, durations: durations, takeout: takeoutKeywords, loc: loc, logger: logger}
}

// Events converts the employee-day's transactions into tagged meal events in
// input order. One transaction yields exactly one event.
func (s *Source) Events(transactions []events.MealTransaction) []events.TaggedEvent {
	if len(transactions) == 0 {
		return nil
	}
	out := make([]events.TaggedEvent, 0, len(transactions))
	for _, tx := range transactions {
		tag := tags.M1
		if s.isTakeout(tx) {
			tag = tags.M2
		}
		ev := events.TaggedEvent{
			EmployeeID:   tx.EmployeeID,
			Timestamp:    tx.Timestamp,
			Source:       events.SourceMeal,
			RawLocation:  tx.RestaurantName,
			Tag:          tag,
			DurationHint: s.hint(tag, tx.Timestamp),
		}
		out = append(out, ev)
	}
	return out
}

func (s *Source) isTakeout(tx events.MealTransaction) bool {
	if tx.Takeout {
		return true
	}
	counter := strings.ToUpper(tx.ServingCounter)
	name := strings.ToUpper(tx.RestaurantName)
	for _, kw := range s.takeout {
		k := strings.ToUpper(strings.TrimSpace(kw))
		if k == "" {
			continue
		}
		if strings.Contains(counter, k) || strings.Contains(name, k) {
			return true
		}
	}
	return false
}

// hint returns the duration policy for a meal at ts: take-out is quick
// regardless of window; a dine-in in the midnight window gets the shorter
// night-canteen figure.
func (s *Source) hint(tag tags.Tag, ts time.Time) float64 {
	if tag == tags.M2 {
		return s.durations.Takeout
	}
	if s.windows.Kind(events.MinuteOfDay(ts, s.loc)) == KindMidnight {
		return s.durations.Midnight
	}
	return s.durations.DineIn
}
