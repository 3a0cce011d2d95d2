// Package histogram renders a classified employee-day as a half-hour
// activity strip for terminal output.
package histogram

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/worklens/worklens/pkg/timeline"
)

const (
	bucketMinutes = 30
	maxBuckets    = 96 // two calendar days at half-hour resolution
)

type stateStyle struct {
	glyph string
	color *color.Color
}

// One glyph per activity state. Meals keep their own letters so a strip
// shows which meal interrupted the afternoon.
var styles = map[timeline.ActivityState]stateStyle{
	timeline.StateWork:          {"W", color.New(color.FgGreen)},
	timeline.StateWorkConfirmed: {"W", color.New(color.FgHiGreen)},
	timeline.StatePreparation:   {"P", color.New(color.FgCyan)},
	timeline.StateMeeting:       {"M", color.New(color.FgYellow)},
	timeline.StateEducation:     {"E", color.New(color.FgYellow)},
	timeline.StateRest:          {"R", color.New(color.FgBlue)},
	timeline.StateBreakfast:     {"B", color.New(color.FgMagenta)},
	timeline.StateLunch:         {"L", color.New(color.FgMagenta)},
	timeline.StateDinner:        {"D", color.New(color.FgMagenta)},
	timeline.StateMidnightMeal:  {"N", color.New(color.FgMagenta)},
	timeline.StateTransit:       {">", color.New(color.FgWhite)},
	timeline.StateEntry:         {">", color.New(color.FgWhite)},
	timeline.StateExit:          {"<", color.New(color.FgWhite)},
	timeline.StateNonWork:       {"-", color.New(color.FgHiBlack)},
	timeline.StateIdle:          {"z", color.New(color.FgBlue)},
	timeline.StateUnknown:       {"?", color.New(color.FgHiBlack)},
}

// Render draws the timeline as one line per half-hour bucket between the
// first and last tag. Each bucket shows the dominant state's glyph, the
// accounted minutes, and a bar one character per minute. Buckets past local
// midnight follow a separator rule so cross-day shifts stay readable.
func Render(tl timeline.DailyTimeline, loc *time.Location) string {
	var out strings.Builder

	out.WriteString(fmt.Sprintf("📊 Activity strip  %s  %s", tl.EmployeeID, tl.Day))
	if tl.CrossDay {
		out.WriteString("  (crosses midnight)")
	}
	out.WriteString("\n")
	out.WriteString(strings.Repeat("─", 50) + "\n")

	if len(tl.Events) == 0 {
		out.WriteString("no activity recorded\n")
		return out.String()
	}
	if len(tl.Events) < 4 {
		out.WriteString(fmt.Sprintf("⚠️  Sparse day: only %d tag events\n", len(tl.Events)))
		out.WriteString(strings.Repeat("─", 50) + "\n")
	}

	first := tl.FirstTagTime.In(loc)
	base := time.Date(first.Year(), first.Month(), first.Day(),
		first.Hour(), first.Minute()-first.Minute()%bucketMinutes, 0, 0, loc)
	end := stripEnd(tl, loc)

	for i := 0; i < maxBuckets; i++ {
		bStart := base.Add(time.Duration(i) * bucketMinutes * time.Minute)
		if !bStart.Before(end) {
			break
		}
		bEnd := bStart.Add(bucketMinutes * time.Minute)

		if i > 0 && bStart.Hour() == 0 && bStart.Minute() == 0 {
			out.WriteString(strings.Repeat("─", 50) + "\n")
		}

		dominant, total := bucketActivity(tl.Events, bStart, bEnd)

		line := bStart.Format("15:04") + " "
		if total > 0 {
			st := styles[dominant]
			line += st.color.Sprint(st.glyph) + " "
			line += fmt.Sprintf("(%2d) ", total)
			if total == 1 {
				line += st.color.Sprint("·")
			} else {
				line += st.color.Sprint(strings.Repeat("█", total))
			}
		}
		out.WriteString(strings.TrimRight(line, " ") + "\n")
	}

	out.WriteString(strings.Repeat("─", 50) + "\n")
	out.WriteString(Legend() + "\n")
	return out.String()
}

// Legend names the strip glyphs.
func Legend() string {
	return "W work  M meeting  E education  P prep  B/L/D/N meals  R rest  >/< gate  z idle  ? unknown"
}

// stripEnd is the end of the last event's interval, so a long final block
// stays visible past its tag time.
func stripEnd(tl timeline.DailyTimeline, loc *time.Location) time.Time {
	end := tl.LastTagTime.In(loc)
	last := tl.Events[len(tl.Events)-1]
	if last.DurationMinutes > 0 {
		end = end.Add(time.Duration(last.DurationMinutes * float64(time.Minute)))
	}
	return end
}

// bucketActivity sums each state's overlap with [bStart, bEnd) and returns
// the dominant state plus the bucket's total accounted minutes. Ties go to
// the lower-numbered state so output is deterministic.
func bucketActivity(evs []timeline.ClassifiedEvent, bStart, bEnd time.Time) (timeline.ActivityState, int) {
	perState := make(map[timeline.ActivityState]float64)
	var total float64
	for _, ev := range evs {
		if ev.DurationMinutes <= 0 {
			continue
		}
		evStart := ev.Timestamp
		evEnd := evStart.Add(time.Duration(ev.DurationMinutes * float64(time.Minute)))
		overlap := minTime(evEnd, bEnd).Sub(maxTime(evStart, bStart)).Minutes()
		if overlap <= 0 {
			continue
		}
		perState[ev.State] += overlap
		total += overlap
	}

	dominant := timeline.StateUnknown
	best := 0.0
	for st := timeline.StateWork; st <= timeline.StateUnknown; st++ {
		if m, ok := perState[st]; ok && m > best {
			dominant = st
			best = m
		}
	}
	if total > float64(bucketMinutes) {
		total = bucketMinutes
	}
	return dominant, int(total + 0.5)
}

func minTime(a, b time.Time) time.Time {
	if a.Before(b) {
		return a
	}
	return b
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}
	return b
}
