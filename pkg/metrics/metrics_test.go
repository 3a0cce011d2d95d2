package metrics

import (
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/worklens/worklens/pkg/events"
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

func testDeriver(t *testing.T) *Deriver {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewDeriver(DefaultNightWindow(), seoul, logger)
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func at(day events.Day, h, m int) time.Time {
	return day.At(h, m, seoul)
}

func classified(ts time.Time, tag tags.Tag, durationMinutes float64, state timeline.ActivityState, confidence float64) timeline.ClassifiedEvent {
	source := events.SourceGate
	switch {
	case tag == tags.O:
		source = events.SourceEquipment
	case tag.IsMeal():
		source = events.SourceMeal
	}
	return timeline.ClassifiedEvent{
		SequenceEvent: events.SequenceEvent{
			TaggedEvent: events.TaggedEvent{
				EmployeeID: "E100",
				Timestamp:  ts,
				Source:     source,
				Tag:        tag,
			},
			DurationMinutes: durationMinutes,
		},
		State:      state,
		Confidence: confidence,
	}
}

func approx(t *testing.T, name string, got, want float64) {
	t.Helper()
	if math.Abs(got-want) > 1e-6 {
		t.Errorf("%s = %.6f, want %.6f", name, got, want)
	}
}

func TestDeriveDayShift(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	evs := []timeline.ClassifiedEvent{
		classified(at(day, 8, 2), tags.T2, 58, timeline.StateEntry, 0.90),
		classified(at(day, 9, 0), tags.G3, 90, timeline.StateMeeting, 0.85),
		classified(at(day, 10, 30), tags.G3, 0, timeline.StateMeeting, 0.68),
		classified(at(day, 10, 30), tags.G1, 100, timeline.StateWork, 0.70),
		classified(at(day, 12, 10), tags.M1, 30, timeline.StateLunch, 1.0),
		classified(at(day, 12, 45), tags.G1, 320, timeline.StateWork, 0.49),
		classified(at(day, 18, 5), tags.T3, 5, timeline.StateExit, 0.90),
	}
	evs[5].Anomaly = timeline.AnomalyUnconfirmedLongWork

	tl := timeline.NewDailyTimeline("E100", day, evs, seoul)
	m := testDeriver(t).Derive(tl, 9.0)

	approx(t, "total_hours", m.TotalHours, 10.05)
	approx(t, "actual_work_hours", m.ActualWorkHours, 8.5)
	approx(t, "focused_work_hours", m.FocusedWorkHours, 0)
	approx(t, "work_minutes", m.WorkMinutes, 420)
	approx(t, "meeting_minutes", m.MeetingMinutes, 90)
	approx(t, "meal_minutes", m.MealMinutes, 30)
	approx(t, "lunch_minutes", m.LunchMinutes, 30)
	approx(t, "movement_minutes", m.MovementMinutes, 58)
	approx(t, "rest_minutes", m.RestMinutes, 0)
	approx(t, "idle_minutes", m.IdleMinutes, 0)
	approx(t, "efficiency_ratio", m.EfficiencyRatio, 8.5/9.0)
	approx(t, "data_reliability", m.DataReliability, 8.75)
	if m.LunchCount != 1 || m.BreakfastCount != 0 || m.DinnerCount != 0 {
		t.Errorf("meal counts = %d/%d/%d, want lunch only", m.BreakfastCount, m.LunchCount, m.DinnerCount)
	}
	if m.TagCount != 7 {
		t.Errorf("tag_count = %d, want 7", m.TagCount)
	}
	if m.AnomalyCount != 1 {
		t.Errorf("anomaly_count = %d, want 1", m.AnomalyCount)
	}
	if m.ShiftType != ShiftDay {
		t.Errorf("shift_type = %s, want day", m.ShiftType)
	}
	if m.CrossDay {
		t.Error("cross_day = true, want false")
	}
	if !m.FirstTagTime.Equal(at(day, 8, 2)) || !m.LastTagTime.Equal(at(day, 18, 5)) {
		t.Errorf("envelope = %v..%v", m.FirstTagTime, m.LastTagTime)
	}
}

func TestDeriveNightShift(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	next := day.Next()
	evs := []timeline.ClassifiedEvent{
		classified(at(day, 20, 0), tags.T2, 10, timeline.StateEntry, 0.90),
		classified(at(day, 20, 10), tags.G1, 130, timeline.StateWork, 0.70),
		classified(at(day, 22, 20), tags.G1, 220, timeline.StateWork, 0.49),
		classified(at(next, 2, 0), tags.G1, 210, timeline.StateWork, 0.49),
		classified(at(next, 5, 30), tags.G1, 30, timeline.StateWork, 0.70),
		classified(at(next, 6, 0), tags.T3, 5, timeline.StateExit, 0.90),
	}

	tl := timeline.NewDailyTimeline("E200", day, evs, seoul)
	if !tl.CrossDay {
		t.Fatal("expected cross-day timeline")
	}
	m := testDeriver(t).Derive(tl, 0)

	approx(t, "total_hours", m.TotalHours, 10)
	approx(t, "actual_work_hours", m.ActualWorkHours, 590.0/60)
	approx(t, "work_minutes", m.WorkMinutes, 590)
	approx(t, "movement_minutes", m.MovementMinutes, 10)
	if m.ShiftType != ShiftNight {
		t.Errorf("shift_type = %s, want night", m.ShiftType)
	}
	if !m.CrossDay {
		t.Error("cross_day = false, want true")
	}
	// No claim on file: ratio anchors on an eight-hour day.
	approx(t, "efficiency_ratio", m.EfficiencyRatio, 590.0/60/8)
}

func TestDeriveShiftByNightShare(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	tests := []struct {
		name string
		evs  []timeline.ClassifiedEvent
		want ShiftType
	}{
		{
			// Work entirely inside business hours.
			name: "daytime work",
			evs: []timeline.ClassifiedEvent{
				classified(at(day, 9, 0), tags.G1, 240, timeline.StateWork, 0.70),
				classified(at(day, 13, 0), tags.G1, 240, timeline.StateWork, 0.70),
				classified(at(day, 17, 0), tags.T3, 5, timeline.StateExit, 0.90),
			},
			want: ShiftDay,
		},
		{
			// 17:00-19:00 outside the night window, 19:00-23:00 puts
			// three of six work hours past 20:00; the tie counts as night.
			name: "evening-heavy work",
			evs: []timeline.ClassifiedEvent{
				classified(at(day, 17, 0), tags.G1, 120, timeline.StateWork, 0.70),
				classified(at(day, 19, 0), tags.G1, 240, timeline.StateWork, 0.70),
				classified(at(day, 23, 0), tags.T3, 5, timeline.StateExit, 0.90),
			},
			want: ShiftNight,
		},
		{
			// Meals and movement only. No work family minutes at all.
			name: "no work events",
			evs: []timeline.ClassifiedEvent{
				classified(at(day, 21, 0), tags.T2, 30, timeline.StateEntry, 0.90),
				classified(at(day, 21, 30), tags.M1, 20, timeline.StateDinner, 1.0),
				classified(at(day, 21, 50), tags.T3, 5, timeline.StateExit, 0.90),
			},
			want: ShiftDay,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tl := timeline.NewDailyTimeline("E300", day, tc.evs, seoul)
			m := testDeriver(t).Derive(tl, 8)
			if m.ShiftType != tc.want {
				t.Errorf("shift_type = %s, want %s", m.ShiftType, tc.want)
			}
		})
	}
}

func TestDeriveBucketsConserveElapsedTime(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	next := day.Next()
	timelines := [][]timeline.ClassifiedEvent{
		{
			classified(at(day, 8, 2), tags.T2, 58, timeline.StateEntry, 0.90),
			classified(at(day, 9, 0), tags.G3, 90, timeline.StateMeeting, 0.85),
			classified(at(day, 10, 30), tags.G1, 100, timeline.StateWork, 0.70),
			classified(at(day, 12, 10), tags.M1, 30, timeline.StateLunch, 1.0),
			classified(at(day, 12, 45), tags.G1, 320, timeline.StateWork, 0.49),
			classified(at(day, 18, 5), tags.T3, 5, timeline.StateExit, 0.90),
		},
		{
			classified(at(day, 20, 0), tags.T2, 10, timeline.StateEntry, 0.90),
			classified(at(day, 20, 10), tags.G1, 350, timeline.StateWork, 0.49),
			classified(at(next, 2, 0), tags.N1, 120, timeline.StateIdle, 0.60),
			classified(at(next, 4, 0), tags.G1, 120, timeline.StateWork, 0.70),
			classified(at(next, 6, 0), tags.T3, 5, timeline.StateExit, 0.90),
		},
		{
			classified(at(day, 9, 0), tags.G4, 15, timeline.StateUnknown, 0.50),
			classified(at(day, 9, 15), tags.N2, 45, timeline.StateNonWork, 0.85),
			classified(at(day, 10, 0), tags.T1, 5, timeline.StateTransit, 0.75),
		},
	}
	d := testDeriver(t)
	for i, evs := range timelines {
		tl := timeline.NewDailyTimeline("E400", day, evs, seoul)
		m := d.Derive(tl, 8)
		sum := m.WorkMinutes + m.MeetingMinutes + m.MealMinutes +
			m.MovementMinutes + m.RestMinutes + m.IdleMinutes
		if sum > m.TotalHours*60+1 {
			t.Errorf("timeline %d: bucket sum %.2f exceeds elapsed %.2f minutes", i, sum, m.TotalHours*60)
		}
		t.Logf("timeline %d: elapsed=%.1fmin buckets=%.1fmin", i, m.TotalHours*60, sum)
	}
}

func TestDeriveEmptyTimeline(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	tl := timeline.NewDailyTimeline("E500", day, nil, seoul)
	m := testDeriver(t).Derive(tl, 8)
	if m.TagCount != 0 || m.TotalHours != 0 || m.ActualWorkHours != 0 {
		t.Errorf("empty timeline produced non-zero metrics: %+v", m)
	}
	if m.ShiftType != ShiftDay {
		t.Errorf("shift_type = %s, want day", m.ShiftType)
	}
	if m.EfficiencyRatio != 0 {
		t.Errorf("efficiency_ratio = %f, want 0", m.EfficiencyRatio)
	}
}

func TestDeriveReliabilityCap(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	evs := make([]timeline.ClassifiedEvent, 0, 120)
	ts := at(day, 8, 0)
	for i := 0; i < 120; i++ {
		evs = append(evs, classified(ts, tags.G1, 1, timeline.StateWork, 0.70))
		ts = ts.Add(time.Minute)
	}
	tl := timeline.NewDailyTimeline("E600", day, evs, seoul)
	m := testDeriver(t).Derive(tl, 8)
	approx(t, "data_reliability", m.DataReliability, 100)
}

func TestNightOverlap(t *testing.T) {
	day := events.Day{Year: 2025, Month: 6, Date: 16}
	d := testDeriver(t)
	tests := []struct {
		name     string
		start    time.Time
		duration float64
		want     float64
	}{
		{"fully inside evening", at(day, 21, 0), 60, 60},
		{"fully inside early morning", at(day, 2, 0), 120, 120},
		{"straddles evening edge", at(day, 19, 0), 120, 60},
		{"straddles morning edge", at(day, 7, 0), 120, 60},
		{"business hours only", at(day, 10, 0), 300, 0},
		{"across midnight", at(day, 23, 0), 120, 120},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := d.nightOverlap(tc.start, tc.duration, day)
			if math.Abs(got-tc.want) > 1e-6 {
				t.Errorf("nightOverlap(%v, %.0f) = %.2f, want %.2f", tc.start, tc.duration, got, tc.want)
			}
		})
	}
}

func TestShiftTypeRoundTrip(t *testing.T) {
	for _, s := range []ShiftType{ShiftDay, ShiftNight} {
		parsed, err := ParseShiftType(s.String())
		if err != nil {
			t.Fatalf("ParseShiftType(%s): %v", s, err)
		}
		if parsed != s {
			t.Errorf("round trip %s -> %s", s, parsed)
		}
	}
	if _, err := ParseShiftType("swing"); err == nil {
		t.Error("expected error for unknown shift type")
	}
}
