package report

import (
	"strings"
	"testing"
	"time"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/batch"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/tags"
	"github.com/worklens/worklens/pkg/timeline"
)

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}()

var day = events.Day{Year: 2025, Month: 6, Date: 16}

func TestDailyMetricsTable(t *testing.T) {
	rows := []metrics.Daily{{
		EmployeeID:      "E100",
		Day:             day,
		TotalHours:      10.05,
		ActualWorkHours: 8.5,
		MealMinutes:     30,
		LunchCount:      1,
		MovementMinutes: 58,
		EfficiencyRatio: 0.94,
		DataReliability: 8.75,
		ShiftType:       metrics.ShiftDay,
		AnomalyCount:    1,
	}}

	var sb strings.Builder
	DailyMetrics(&sb, rows)
	got := sb.String()
	t.Logf("\n%s", got)

	for _, want := range []string{"E100", "2025-06-16", "10.05", "8.50", "1/30m", "day", "| employee"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q", want)
		}
	}
	if !strings.Contains(got, "_1 rows_") {
		t.Error("row count footer missing")
	}

	sb.Reset()
	DailyMetrics(&sb, nil)
	if !strings.Contains(sb.String(), "no metrics rows") {
		t.Error("empty input message missing")
	}
}

func TestShiftLabelMarksCrossDay(t *testing.T) {
	r := metrics.Daily{ShiftType: metrics.ShiftNight, CrossDay: true}
	if got := shiftLabel(r); got != "night+" {
		t.Errorf("shiftLabel = %q, want night+", got)
	}
}

func TestTimelineTable(t *testing.T) {
	evs := []timeline.ClassifiedEvent{{
		SequenceEvent: events.SequenceEvent{
			TaggedEvent: events.TaggedEvent{
				EmployeeID:  "E100",
				Timestamp:   day.At(9, 0, seoul),
				Tag:         tags.G3,
				RawLocation: "CONFERENCE 7F",
			},
			DurationMinutes: 90,
		},
		State:      timeline.StateMeeting,
		Confidence: 0.81,
		Anomaly:    timeline.AnomalyTailgating,
	}}
	tl := timeline.NewDailyTimeline("E100", day, evs, seoul)

	var sb strings.Builder
	Timeline(&sb, tl, seoul)
	got := sb.String()
	t.Logf("\n%s", got)

	for _, want := range []string{"06-16 09:00", "G3", "MEETING", "90", "0.81", "tailgating", "CONFERENCE 7F"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q", want)
		}
	}
}

func TestBatchSummaryAndFailures(t *testing.T) {
	rep := &batch.Report{
		ID:        "run-1",
		Started:   time.Date(2025, 6, 16, 1, 0, 0, 0, time.UTC),
		Attempted: 4,
		Succeeded: 3,
		Failed:    1,
		Failures: []batch.Failure{{
			EmployeeID: "E200", Day: day, Kind: "timeout", Summary: "5m elapsed",
		}},
	}
	rep.Finished = rep.Started.Add(time.Second)

	var sb strings.Builder
	Batch(&sb, rep)
	got := sb.String()
	t.Logf("\n%s", got)

	for _, want := range []string{"run-1", "partial", "attempted 4", "E200", "timeout"} {
		if !strings.Contains(got, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestAggregatesTable(t *testing.T) {
	rows := []aggregate.OrgDaily{{
		Scope: aggregate.ScopeCenter, OrgID: "seoul", Day: day,
		EmployeeCount: 3, AvgTotalHours: 9.2, AvgActualWorkHours: 7.8,
		DayShiftCount: 2, NightShiftCount: 1, CrossDayCount: 1,
	}}

	var sb strings.Builder
	Aggregates(&sb, rows)
	got := sb.String()
	if !strings.Contains(got, "center") || !strings.Contains(got, "2/1") {
		t.Errorf("aggregate table incomplete: %q", got)
	}
}

func TestMappingsTable(t *testing.T) {
	rows := []tags.LocationMapping{
		{Code: "GATE-01", Name: "MAIN GATE A", Tag: tags.T2, Confidence: 0.99},
	}
	var sb strings.Builder
	Mappings(&sb, rows)
	if got := sb.String(); !strings.Contains(got, "GATE-01") || !strings.Contains(got, "T2") {
		t.Errorf("mapping table incomplete: %q", got)
	}
}
