// Package sequence merges gate, meal, and equipment events into one ordered
// per-employee-day sequence with resolved durations, including night-shift
// stitching across local midnight.
package sequence

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/worklens/worklens/pkg/equipment"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
	"github.com/worklens/worklens/pkg/tags"
)

// ErrInputOrder reports a source stream that is not timestamp-sorted. The
// bulk readers return rows ordered by (employee, timestamp); a violation
// means the upstream extract is broken and the item must not be trusted.
var ErrInputOrder = errors.New("source stream out of order")

const (
	coalesceWindow = 60 * time.Second

	// Gaps beyond this on transit/amenity tags mean the employee left the
	// facility; the overrun is dropped and the event is rendered IDLE.
	idleThresholdMinutes = 120.0

	// A day's final event with no source hint is credited this much.
	lastEventDefaultMinutes = 5.0

	// Night-shift stitching: a day ending after eveningEdge whose successor
	// starts before morningEdge is one logical shift.
	eveningEdgeMinute = 20 * 60
	morningEdgeMinute = 8 * 60
)

// DayInputs is one employee's slice of the preloaded source indexes, keyed
// by facility-local day. The builder reads the target day and its two
// neighbors; it never mutates the maps.
type DayInputs struct {
	Gate      map[events.Day][]events.RawEvent
	Meals     map[events.Day][]events.MealTransaction
	Equipment map[events.Day][]events.EquipmentLog
}

// Builder produces the merged, duration-resolved event sequence for a work
// item. It holds read-only references to the tag mapper and the two derived
// event sources; one Builder per worker is the intended shape.
type Builder struct {
	mapper    *tags.Mapper
	meals     *meals.Source
	equipment *equipment.Source
	loc       *time.Location
	logger    *slog.Logger
}

// NewBuilder wires a builder from its collaborators.
func NewBuilder(mapper *tags.Mapper, mealSource *meals.Source, equipmentSource *equipment.Source, loc *time.Location, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Builder{mapper: mapper, meals: mealSource, equipment: equipmentSource, loc: loc, logger: logger}
}

// Build assembles the logical-day sequence for day:
//
//  1. tag gate events, derive meal and equipment events
//  2. merge by timestamp, ties to the higher-priority source
//  3. coalesce same-tag duplicates inside a 60-second window
//  4. shed a leading night tail claimed by the previous day, then append the
//     next day's pre-morning events when this day ends past the evening edge
//  5. resolve durations per tag class and the last-event rule
//
// An empty result means the employee has no events attributable to the day.
func (b *Builder) Build(day events.Day, in DayInputs) ([]events.SequenceEvent, error) {
	for _, d := range []events.Day{day.Prev(), day, day.Next()} {
		if err := b.checkOrder(d, in); err != nil {
			return nil, err
		}
	}

	cur := b.mergedDay(day, in)

	prev := b.mergedDay(day.Prev(), in)
	if stitchable(prev, cur, b.loc) {
		cur = trimBefore(cur, day.At(morningEdgeMinute/60, 0, b.loc))
	}

	next := b.mergedDay(day.Next(), in)
	if stitchable(cur, next, b.loc) {
		boundary := day.Next().At(morningEdgeMinute/60, 0, b.loc)
		for _, ev := range next {
			if ev.Timestamp.Before(boundary) {
				cur = append(cur, ev)
			}
		}
	}

	if len(cur) == 0 {
		return nil, nil
	}
	return b.resolveDurations(cur), nil
}

// mergedDay returns the tag-mapped, merged, coalesced stream for one
// calendar day.
func (b *Builder) mergedDay(day events.Day, in DayInputs) []events.TaggedEvent {
	gate := in.Gate[day]
	merged := make([]events.TaggedEvent, 0, len(gate)+len(in.Meals[day])+len(in.Equipment[day]))
	for _, raw := range gate {
		merged = append(merged, events.TaggedEvent{
			EmployeeID:  raw.EmployeeID,
			Timestamp:   raw.Timestamp,
			Source:      events.SourceGate,
			RawLocation: rawLocation(raw),
			Tag:         b.mapper.Map(raw.LocationCode, raw.LocationName, raw.Direction),
		})
	}
	merged = append(merged, b.meals.Events(in.Meals[day])...)
	merged = append(merged, b.equipment.Events(in.Equipment[day])...)

	sort.SliceStable(merged, func(i, j int) bool {
		if !merged[i].Timestamp.Equal(merged[j].Timestamp) {
			return merged[i].Timestamp.Before(merged[j].Timestamp)
		}
		return merged[i].Source.Priority() > merged[j].Source.Priority()
	})
	return coalesce(merged)
}

// coalesce drops same-tag events inside the duplicate window of the last
// kept event; a higher-priority duplicate replaces the kept event instead.
// Double badge reads and a gate read shadowing an equipment log both land
// here.
func coalesce(evs []events.TaggedEvent) []events.TaggedEvent {
	if len(evs) == 0 {
		return evs
	}
	out := evs[:0:0]
	for _, ev := range evs {
		if n := len(out); n > 0 {
			kept := &out[n-1]
			if ev.Tag == kept.Tag && ev.Timestamp.Sub(kept.Timestamp) <= coalesceWindow {
				if ev.Source.Priority() > kept.Source.Priority() {
					*kept = ev
				}
				continue
			}
		}
		out = append(out, ev)
	}
	return out
}

// stitchable reports whether a and b form one logical night shift: a ends
// after the evening edge and b starts before the morning edge.
func stitchable(a, b []events.TaggedEvent, loc *time.Location) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	last := events.MinuteOfDay(a[len(a)-1].Timestamp, loc)
	first := events.MinuteOfDay(b[0].Timestamp, loc)
	return last >= eveningEdgeMinute && first < morningEdgeMinute
}

func trimBefore(evs []events.TaggedEvent, boundary time.Time) []events.TaggedEvent {
	for i, ev := range evs {
		if !ev.Timestamp.Before(boundary) {
			return evs[i:]
		}
	}
	return nil
}

// resolveDurations assigns per-event durations from inter-event gaps:
// meals are bounded by their policy hint, work-area and equipment events
// keep the full gap (long in-area stays are policed by the classifier's
// anomaly machinery, not truncated here), transit and amenity events cap at
// the idle threshold and carry GapExceeded past it. The final event gets its
// source hint, or the 5-minute default.
func (b *Builder) resolveDurations(evs []events.TaggedEvent) []events.SequenceEvent {
	seq := make([]events.SequenceEvent, len(evs))
	for i, ev := range evs {
		se := events.SequenceEvent{TaggedEvent: ev}
		if i == len(evs)-1 {
			se.DurationMinutes = lastEventDefaultMinutes
			if ev.DurationHint > 0 {
				se.DurationMinutes = min(ev.DurationHint, idleThresholdMinutes)
				if ev.Tag.IsMeal() {
					se.DurationMinutes = ev.DurationHint
				}
			}
			seq[i] = se
			continue
		}

		gap := evs[i+1].Timestamp.Sub(ev.Timestamp).Minutes()
		if gap < 0 {
			gap = 0
		}
		switch {
		case ev.Tag.IsMeal():
			se.DurationMinutes = gap
			if ev.DurationHint > 0 && gap > ev.DurationHint {
				se.DurationMinutes = ev.DurationHint
			}
		case ev.Tag == tags.O || ev.Tag.IsWorkArea():
			se.DurationMinutes = gap
		default:
			se.DurationMinutes = gap
			if gap > idleThresholdMinutes {
				se.DurationMinutes = idleThresholdMinutes
				se.GapExceeded = true
			}
		}
		seq[i] = se
	}
	return seq
}

func (b *Builder) checkOrder(day events.Day, in DayInputs) error {
	for i := 1; i < len(in.Gate[day]); i++ {
		if in.Gate[day][i].Timestamp.Before(in.Gate[day][i-1].Timestamp) {
			return fmt.Errorf("%w: gate stream, day %s, index %d", ErrInputOrder, day, i)
		}
	}
	for i := 1; i < len(in.Meals[day]); i++ {
		if in.Meals[day][i].Timestamp.Before(in.Meals[day][i-1].Timestamp) {
			return fmt.Errorf("%w: meal stream, day %s, index %d", ErrInputOrder, day, i)
		}
	}
	for i := 1; i < len(in.Equipment[day]); i++ {
		if in.Equipment[day][i].Timestamp.Before(in.Equipment[day][i-1].Timestamp) {
			return fmt.Errorf("%w: equipment stream, day %s, index %d", ErrInputOrder, day, i)
		}
	}
	return nil
}

func rawLocation(raw events.RawEvent) string {
	if raw.LocationName == "" {
		return raw.LocationCode
	}
	return strings.TrimSpace(raw.LocationCode + " " + raw.LocationName)
}
