package batch

import (
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/sequence"
	"github.com/worklens/worklens/pkg/timeline"
)

// Context is the read-only working set of one batch: the assembled pipeline
// components and the preloaded source data indexed by (employee, day).
// Workers share it without locks; nothing here mutates after preload.
type Context struct {
	Builder    *sequence.Builder
	Classifier *timeline.Classifier
	Deriver    *metrics.Deriver
	Location   *time.Location

	Directory map[string]events.Employee

	gate      map[string]map[events.Day][]events.RawEvent
	meals     map[string]map[events.Day][]events.MealTransaction
	equipment map[string]map[events.Day][]events.EquipmentLog
	claims    map[string]map[events.Day]float64
}

// InputsFor returns the sequence-builder view of one employee's preloaded
// events. Unknown employees yield empty inputs.
func (c *Context) InputsFor(employeeID string) sequence.DayInputs {
	return sequence.DayInputs{
		Gate:      c.gate[employeeID],
		Meals:     c.meals[employeeID],
		Equipment: c.equipment[employeeID],
	}
}

// ClaimFor returns the claimed hours for a work item, zero when no claim
// row exists.
func (c *Context) ClaimFor(employeeID string, day events.Day) float64 {
	return c.claims[employeeID][day]
}

// HasClaim reports whether a positive attendance claim covers the item.
func (c *Context) HasClaim(employeeID string, day events.Day) bool {
	return c.claims[employeeID][day] > 0
}

// indexByDay groups bulk-read rows by employee and local calendar day,
// preserving the store's timestamp order within each day.
func indexByDay[T any](rows []T, employee func(T) string, ts func(T) time.Time, loc *time.Location) map[string]map[events.Day][]T {
	out := make(map[string]map[events.Day][]T)
	for _, row := range rows {
		id := employee(row)
		day := events.DayOf(ts(row), loc)
		byDay := out[id]
		if byDay == nil {
			byDay = make(map[events.Day][]T)
			out[id] = byDay
		}
		byDay[day] = append(byDay[day], row)
	}
	return out
}
