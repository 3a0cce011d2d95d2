package timeline

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
	"github.com/worklens/worklens/pkg/tags"
)

// ErrOrdering reports classifier input that is not timestamp-sorted. The
// sequence builder guarantees ordering, so hitting this means an item was
// assembled outside the pipeline.
var ErrOrdering = errors.New("classifier input out of order")

const (
	unknownConfidence = 0.50
	idleConfidence    = 0.60

	// Confidence adjustment policy.
	shortEventMinutes  = 2.0
	shortEventFactor   = 0.8
	longWorkMinutes    = 120.0
	longWorkFactor     = 0.7
	tailgateFactor     = 0.5
	proximityBoost     = 1.1
	confidenceCeiling  = 0.99
	equipmentProximity = 30 * time.Minute

	// A tailgating run is this many same-tag transit events spanning more
	// than tailgateSpanMinutes.
	tailgateMinRun      = 3
	tailgateSpanMinutes = 30.0
)

// Classifier turns event sequences into activity timelines. Classification
// is Markov over (prev-tag, cur-tag) with time and duration guards; no state
// is carried between events beyond the previous tag. A single Classifier is
// read-only after construction and shared by all workers.
type Classifier struct {
	table   *RuleTable
	windows meals.Windows
	loc     *time.Location
	logger  *slog.Logger
}

// NewClassifier wires a classifier from the rule table and the meal-window
// policy. loc is the facility zone the guards are evaluated in.
func NewClassifier(table *RuleTable, windows meals.Windows, loc *time.Location, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Classifier{table: table, windows: windows, loc: loc, logger: logger}
}

// Classify labels every sequence event with a state, a confidence, and any
// anomaly flag. Empty input yields empty output; classification itself never
// fails per event.
func (c *Classifier) Classify(seq []events.SequenceEvent) ([]ClassifiedEvent, error) {
	if len(seq) == 0 {
		return nil, nil
	}
	for i := 1; i < len(seq); i++ {
		if seq[i].Timestamp.Before(seq[i-1].Timestamp) {
			return nil, fmt.Errorf("%w: index %d", ErrOrdering, i)
		}
	}

	out := make([]ClassifiedEvent, len(seq))
	for i, ev := range seq {
		state, conf := c.base(i, seq)
		out[i] = ClassifiedEvent{SequenceEvent: ev, State: state, Confidence: conf}
	}
	c.adjust(out)
	return out, nil
}

// base selects the event's state before confidence adjustments. Meal events
// override the table outright: an M1/M2 swipe is a meal no matter what
// transition led into it. A gap-exceeded event is idle time regardless of
// its tag; the employee was off premises for most of it.
func (c *Classifier) base(i int, seq []events.SequenceEvent) (ActivityState, float64) {
	ev := seq[i]
	if ev.GapExceeded {
		return StateIdle, idleConfidence
	}
	if ev.Tag.IsMeal() {
		return mealState(c.windows.Kind(events.MinuteOfDay(ev.Timestamp, c.loc))), 1.0
	}
	var prev *tags.Tag
	if i > 0 {
		prev = &seq[i-1].Tag
	}
	return c.table.Match(prev, ev.Tag, events.MinuteOfDay(ev.Timestamp, c.loc), ev.DurationMinutes)
}

// adjust applies the confidence policy in order: the short-event penalty,
// the unconfirmed-long-work demotion, tailgating runs, and the equipment
// proximity boost. Demotion and boost are mutually exclusive since both key
// on O reach.
func (c *Classifier) adjust(out []ClassifiedEvent) {
	var oTimes []time.Time
	for _, ev := range out {
		if ev.Tag == tags.O {
			oTimes = append(oTimes, ev.Timestamp)
		}
	}
	tailgating := tailgatingRuns(out)

	for i := range out {
		ev := &out[i]

		// Equipment evidence is not weakened by brevity; everything else is.
		if ev.DurationMinutes < shortEventMinutes && ev.State != StateWorkConfirmed {
			ev.Confidence *= shortEventFactor
		}

		if ev.DurationMinutes > longWorkMinutes && ev.State.IsWorkTime() && !oWithinReach(ev.SequenceEvent, oTimes) {
			ev.Confidence *= longWorkFactor
			ev.Anomaly = AnomalyUnconfirmedLongWork
		}

		if tailgating[i] {
			ev.Confidence *= tailgateFactor
			ev.Anomaly = AnomalyTailgating
		}

		if ev.State.IsWorkTime() && ev.Tag != tags.O && oWithinReach(ev.SequenceEvent, oTimes) {
			ev.Confidence = math.Min(ev.Confidence*proximityBoost, confidenceCeiling)
		}
	}
}

// oWithinReach reports whether an equipment event falls inside the event's
// interval widened by the proximity margin on both sides. Reach is measured
// against the interval, not the start instant, so a long stay that contains
// an equipment log deep inside still counts as confirmed.
func oWithinReach(ev events.SequenceEvent, oTimes []time.Time) bool {
	if len(oTimes) == 0 {
		return false
	}
	lo := ev.Timestamp.Add(-equipmentProximity)
	hi := ev.Timestamp.Add(time.Duration(ev.DurationMinutes * float64(time.Minute))).Add(equipmentProximity)
	for _, t := range oTimes {
		if !t.Before(lo) && !t.After(hi) {
			return true
		}
	}
	return false
}

// tailgatingRuns flags maximal runs of consecutive events on one transit
// tag. Repeated reads at the same turnstile with no work area in between
// usually mean the badge is being passed around; every event of the run is
// marked.
func tailgatingRuns(out []ClassifiedEvent) []bool {
	flagged := make([]bool, len(out))
	for start := 0; start < len(out); {
		tag := out[start].Tag
		end := start + 1
		for end < len(out) && out[end].Tag == tag {
			end++
		}
		if tag.IsTransit() && end-start >= tailgateMinRun {
			span := out[end-1].Timestamp.Sub(out[start].Timestamp).Minutes()
			if span > tailgateSpanMinutes {
				for i := start; i < end; i++ {
					flagged[i] = true
				}
			}
		}
		start = end
	}
	return flagged
}
