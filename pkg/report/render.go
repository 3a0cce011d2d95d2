// Package report renders analysis results as terminal tables.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/renderer"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/batch"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/store"
	"github.com/worklens/worklens/pkg/tags"
	"github.com/worklens/worklens/pkg/timeline"
)

func newTable(w io.Writer, columns int) *tablewriter.Table {
	alignment := make([]tw.Align, columns)
	for i := range alignment {
		alignment[i] = tw.AlignNone
	}
	return tablewriter.NewTable(w,
		tablewriter.WithRenderer(renderer.NewMarkdown()),
		tablewriter.WithAlignment(alignment),
		tablewriter.WithHeaderAutoFormat(tw.Off),
	)
}

// DailyMetrics writes one row per employee-day.
func DailyMetrics(w io.Writer, rows []metrics.Daily) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no metrics rows")
		return
	}

	headers := []string{"employee", "date", "total_h", "actual_h", "focused_h",
		"meals", "move_m", "shift", "eff", "reliability", "anomalies"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, r := range rows {
		mealCount := r.BreakfastCount + r.LunchCount + r.DinnerCount + r.MidnightCount
		table.Append([]string{
			r.EmployeeID,
			r.Day.String(),
			fmt.Sprintf("%.2f", r.TotalHours),
			fmt.Sprintf("%.2f", r.ActualWorkHours),
			fmt.Sprintf("%.2f", r.FocusedWorkHours),
			fmt.Sprintf("%d/%.0fm", mealCount, r.MealMinutes),
			fmt.Sprintf("%.0f", r.MovementMinutes),
			shiftLabel(r),
			fmt.Sprintf("%.2f", r.EfficiencyRatio),
			fmt.Sprintf("%.0f%%", r.DataReliability),
			fmt.Sprintf("%d", r.AnomalyCount),
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
}

func shiftLabel(r metrics.Daily) string {
	s := r.ShiftType.String()
	if r.CrossDay {
		s += "+"
	}
	return s
}

// Timeline writes the classified events of one employee-day.
func Timeline(w io.Writer, tl timeline.DailyTimeline, loc *time.Location) {
	fmt.Fprintf(w, "%s %s", tl.EmployeeID, tl.Day)
	if tl.CrossDay {
		fmt.Fprint(w, " (crosses midnight)")
	}
	fmt.Fprintln(w)

	if len(tl.Events) == 0 {
		fmt.Fprintln(w, "no events")
		return
	}

	headers := []string{"time", "tag", "state", "dur_m", "conf", "source", "location", "flags"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, ev := range tl.Events {
		flags := ev.Anomaly
		if ev.GapExceeded {
			if flags != "" {
				flags += ","
			}
			flags += "gap"
		}
		table.Append([]string{
			ev.Timestamp.In(loc).Format("01-02 15:04"),
			ev.Tag.String(),
			ev.State.String(),
			fmt.Sprintf("%.0f", ev.DurationMinutes),
			fmt.Sprintf("%.2f", ev.Confidence),
			ev.Source.String(),
			ev.RawLocation,
			flags,
		})
	}
	table.Render()
}

// Batch writes the run summary and, when present, the failure table.
func Batch(w io.Writer, rep *batch.Report) {
	fmt.Fprintf(w, "run %s  %s\n", rep.ID, rep.Status())
	fmt.Fprintf(w, "attempted %d  succeeded %d  failed %d  in %s (%.1f items/s)\n",
		rep.Attempted, rep.Succeeded, rep.Failed,
		rep.Duration().Round(time.Millisecond), rep.Throughput())

	if len(rep.Failures) == 0 {
		return
	}
	headers := []string{"employee", "date", "kind", "error"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, f := range rep.Failures {
		table.Append([]string{f.EmployeeID, f.Day.String(), f.Kind, f.Summary})
	}
	table.Render()
}

// Aggregates writes org rollup rows.
func Aggregates(w io.Writer, rows []aggregate.OrgDaily) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no aggregate rows")
		return
	}
	headers := []string{"scope", "org", "date", "employees",
		"avg_total_h", "avg_actual_h", "avg_eff", "day/night", "cross", "anomalies"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, r := range rows {
		table.Append([]string{
			r.Scope.String(),
			r.OrgID,
			r.Day.String(),
			fmt.Sprintf("%d", r.EmployeeCount),
			fmt.Sprintf("%.2f", r.AvgTotalHours),
			fmt.Sprintf("%.2f", r.AvgActualWorkHours),
			fmt.Sprintf("%.2f", r.AvgEfficiencyRatio),
			fmt.Sprintf("%d/%d", r.DayShiftCount, r.NightShiftCount),
			fmt.Sprintf("%d", r.CrossDayCount),
			fmt.Sprintf("%d", r.AnomalyCount),
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
}

// Mappings writes the location catalog.
func Mappings(w io.Writer, rows []tags.LocationMapping) {
	if len(rows) == 0 {
		fmt.Fprintln(w, "no location mappings")
		return
	}
	headers := []string{"code", "name", "tag", "confidence", "note"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, m := range rows {
		table.Append([]string{
			m.Code, m.Name, m.Tag.String(),
			fmt.Sprintf("%.2f", m.Confidence), m.RuleNote,
		})
	}
	table.Render()
	fmt.Fprintf(w, "\n_%d rows_\n", len(rows))
}

// BatchRuns writes the recent processing log.
func BatchRuns(w io.Writer, runs []store.BatchRun) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no recorded runs")
		return
	}
	headers := []string{"id", "started", "duration", "attempted", "succeeded", "failed", "status"}
	table := newTable(w, len(headers))
	table.Header(headers)
	for _, r := range runs {
		table.Append([]string{
			r.ID,
			r.StartedAt.UTC().Format("2006-01-02 15:04:05"),
			r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String(),
			fmt.Sprintf("%d", r.Attempted),
			fmt.Sprintf("%d", r.Succeeded),
			fmt.Sprintf("%d", r.Failed),
			r.Status,
		})
	}
	table.Render()
}
