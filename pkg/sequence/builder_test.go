package sequence

import (
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/worklens/worklens/pkg/equipment"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
	"github.com/worklens/worklens/pkg/tags"
)

var seoul = mustLoad("Asia/Seoul")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testBuilder() *Builder {
	kw := tags.DefaultKeywords()
	mapper := tags.NewMapper(nil, kw, testLogger())
	mealSrc := meals.NewSource(meals.DefaultWindows(), meals.DefaultDurations(), kw.Takeout, seoul, testLogger())
	equipSrc := equipment.NewSource(testLogger())
	return NewBuilder(mapper, mealSrc, equipSrc, seoul, testLogger())
}

func ts(day events.Day, hour, minute int) time.Time {
	return day.At(hour, minute, seoul)
}

func gate(day events.Day, hour, minute int, code, name, dir string) events.RawEvent {
	return events.RawEvent{
		EmployeeID:   "E1",
		Timestamp:    ts(day, hour, minute),
		LocationCode: code,
		LocationName: name,
		Direction:    tags.ParseDirection(dir),
	}
}

var june16 = events.Day{Year: 2025, Month: time.June, Date: 16}

func TestBuildSimpleDayShift(t *testing.T) {
	b := testBuilder()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 8, 2, "GA-1", "MAIN GATE 1", "in"),
				gate(june16, 9, 0, "R-301", "MEETING ROOM 301", "in"),
				gate(june16, 10, 30, "R-301", "MEETING ROOM 301", "out"),
				gate(june16, 10, 30, "F-1", "FAB AREA", ""),
				gate(june16, 12, 45, "F-1", "FAB AREA", ""),
				gate(june16, 18, 5, "GA-1", "MAIN GATE 1", "out"),
			},
		},
		Meals: map[events.Day][]events.MealTransaction{
			june16: {{EmployeeID: "E1", Timestamp: ts(june16, 12, 10), RestaurantName: "WEST CAFETERIA"}},
		},
	}

	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	wantTags := []tags.Tag{tags.T2, tags.G3, tags.G3, tags.G1, tags.M1, tags.G1, tags.T3}
	if len(seq) != len(wantTags) {
		for i, ev := range seq {
			t.Logf("seq[%d] = %s %v %.0fm", i, ev.Timestamp.In(seoul).Format("15:04"), ev.Tag, ev.DurationMinutes)
		}
		t.Fatalf("got %d events, want %d", len(seq), len(wantTags))
	}
	for i, want := range wantTags {
		if seq[i].Tag != want {
			t.Errorf("seq[%d].Tag = %v, want %v", i, seq[i].Tag, want)
		}
	}

	wantDur := []float64{58, 90, 0, 100, 30, 320, 5}
	for i, want := range wantDur {
		if seq[i].DurationMinutes != want {
			t.Errorf("seq[%d].DurationMinutes = %v, want %v", i, seq[i].DurationMinutes, want)
		}
	}

	// The meal gap was 35 minutes; the dine-in hint bounds it at 30.
	if seq[4].Tag != tags.M1 || seq[4].DurationMinutes != 30 {
		t.Errorf("meal event = %v %.0fm, want M1 30m", seq[4].Tag, seq[4].DurationMinutes)
	}
	// The 320-minute stay on a work-area tag is kept whole.
	if seq[5].GapExceeded {
		t.Error("work-area gap must not be marked exceeded")
	}
}

func TestBuildOrderingAndGaps(t *testing.T) {
	b := testBuilder()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 9, 0, "F-1", "FAB AREA", ""),
				gate(june16, 11, 0, "CO-1", "CORRIDOR 1", ""),
				gate(june16, 11, 20, "F-1", "FAB AREA", ""),
			},
		},
	}
	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i := 1; i < len(seq); i++ {
		if seq[i].Timestamp.Before(seq[i-1].Timestamp) {
			t.Errorf("sequence out of order at %d", i)
		}
	}
	for i := 0; i < len(seq)-1; i++ {
		gap := seq[i+1].Timestamp.Sub(seq[i].Timestamp).Minutes()
		if seq[i].DurationMinutes > gap {
			t.Errorf("seq[%d] duration %v exceeds gap %v", i, seq[i].DurationMinutes, gap)
		}
	}
}

func TestCoalesceDuplicates(t *testing.T) {
	b := testBuilder()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 9, 0, "F-1", "FAB AREA", ""),
				{EmployeeID: "E1", Timestamp: ts(june16, 9, 0).Add(40 * time.Second), LocationCode: "F-1", LocationName: "FAB AREA"},
				gate(june16, 9, 5, "F-1", "FAB AREA", ""),
			},
		},
	}
	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(seq) != 2 {
		t.Fatalf("double badge read should coalesce: got %d events, want 2", len(seq))
	}
}

func TestCoalescePriorityReplacement(t *testing.T) {
	b := testBuilder()
	// A dine-in swipe followed 30 seconds later by a second swipe at the
	// same tag: the duplicate is dropped, the first timestamp stays.
	in := DayInputs{
		Meals: map[events.Day][]events.MealTransaction{
			june16: {
				{EmployeeID: "E1", Timestamp: ts(june16, 12, 0), RestaurantName: "WEST CAFETERIA"},
				{EmployeeID: "E1", Timestamp: ts(june16, 12, 0).Add(30 * time.Second), RestaurantName: "WEST CAFETERIA"},
			},
		},
		Gate: map[events.Day][]events.RawEvent{
			june16: {gate(june16, 13, 0, "F-1", "FAB AREA", "")},
		},
	}
	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(seq) != 2 {
		t.Fatalf("got %d events, want 2 (meal + gate)", len(seq))
	}
	if seq[0].Tag != tags.M1 || !seq[0].Timestamp.Equal(ts(june16, 12, 0)) {
		t.Errorf("kept meal = %v at %v, want M1 at 12:00", seq[0].Tag, seq[0].Timestamp)
	}
}

func TestTransitGapCapped(t *testing.T) {
	b := testBuilder()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 9, 0, "CO-1", "CORRIDOR 1", ""),
				gate(june16, 13, 0, "F-1", "FAB AREA", ""), // 240 min later
				gate(june16, 14, 0, "GA-1", "MAIN GATE", "out"),
			},
		},
	}
	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(seq) != 3 {
		t.Fatalf("got %d events, want 3", len(seq))
	}
	if seq[0].DurationMinutes != idleThresholdMinutes || !seq[0].GapExceeded {
		t.Errorf("transit gap: got %.0fm exceeded=%v, want %.0fm exceeded=true",
			seq[0].DurationMinutes, seq[0].GapExceeded, idleThresholdMinutes)
	}
	if seq[1].DurationMinutes != 60 || seq[1].GapExceeded {
		t.Errorf("work-area gap: got %.0fm exceeded=%v, want 60m exceeded=false",
			seq[1].DurationMinutes, seq[1].GapExceeded)
	}
}

func TestLastEventDurations(t *testing.T) {
	b := testBuilder()
	tests := []struct {
		name string
		in   DayInputs
		want float64
	}{
		{
			name: "gate event defaults to five minutes",
			in: DayInputs{Gate: map[events.Day][]events.RawEvent{
				june16: {gate(june16, 9, 0, "F-1", "FAB AREA", ""), gate(june16, 18, 0, "GA-1", "MAIN GATE", "out")},
			}},
			want: lastEventDefaultMinutes,
		},
		{
			name: "closing dine-in keeps its thirty-minute hint",
			in: DayInputs{
				Gate: map[events.Day][]events.RawEvent{june16: {gate(june16, 9, 0, "F-1", "FAB AREA", "")}},
				Meals: map[events.Day][]events.MealTransaction{
					june16: {{EmployeeID: "E1", Timestamp: ts(june16, 12, 10), RestaurantName: "WEST CAFETERIA"}},
				},
			},
			want: 30,
		},
		{
			name: "closing takeout keeps ten minutes",
			in: DayInputs{
				Gate: map[events.Day][]events.RawEvent{june16: {gate(june16, 9, 0, "F-1", "FAB AREA", "")}},
				Meals: map[events.Day][]events.MealTransaction{
					june16: {{EmployeeID: "E1", Timestamp: ts(june16, 11, 50), Takeout: true}},
				},
			},
			want: 10,
		},
		{
			name: "closing equipment hint capped at the idle threshold",
			in: DayInputs{
				Gate: map[events.Day][]events.RawEvent{june16: {gate(june16, 9, 0, "F-1", "FAB AREA", "")}},
				Equipment: map[events.Day][]events.EquipmentLog{
					june16: {{EmployeeID: "E1", Timestamp: ts(june16, 10, 0), ActivityType: "RUN", DurationMinutes: 480}},
				},
			},
			want: idleThresholdMinutes,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seq, err := b.Build(june16, tt.in)
			if err != nil {
				t.Fatalf("Build: %v", err)
			}
			if len(seq) == 0 {
				t.Fatal("empty sequence")
			}
			last := seq[len(seq)-1]
			if last.DurationMinutes != tt.want {
				t.Errorf("last duration = %v, want %v", last.DurationMinutes, tt.want)
			}
		})
	}
}

func TestNightShiftStitching(t *testing.T) {
	b := testBuilder()
	june17 := june16.Next()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 20, 0, "GA-1", "MAIN GATE 1", "in"),
				gate(june16, 20, 15, "F-1", "FAB AREA", ""),
				gate(june16, 23, 50, "F-1", "FAB AREA", ""),
			},
			june17: {
				gate(june17, 2, 0, "F-1", "FAB AREA", ""),
				gate(june17, 5, 30, "F-1", "FAB AREA", ""),
				gate(june17, 6, 0, "GA-1", "MAIN GATE 1", "out"),
			},
		},
	}

	seq, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build(june16): %v", err)
	}
	if len(seq) != 6 {
		t.Fatalf("stitched night shift: got %d events, want 6", len(seq))
	}
	first, last := seq[0], seq[len(seq)-1]
	if events.DayOf(first.Timestamp, seoul) != june16 {
		t.Errorf("first event day = %v, want %v", events.DayOf(first.Timestamp, seoul), june16)
	}
	if events.DayOf(last.Timestamp, seoul) != june17 {
		t.Errorf("last event day = %v, want %v", events.DayOf(last.Timestamp, seoul), june17)
	}
	// Gap across midnight (23:50 -> 02:00) is a work-area stay, kept whole.
	if seq[2].DurationMinutes != 130 {
		t.Errorf("midnight-crossing gap = %v, want 130", seq[2].DurationMinutes)
	}

	// The successor day sheds the claimed tail and keeps nothing.
	seq17, err := b.Build(june17, in)
	if err != nil {
		t.Fatalf("Build(june17): %v", err)
	}
	if len(seq17) != 0 {
		t.Errorf("june17 should shed its pre-morning tail, got %d events", len(seq17))
	}
}

func TestNoStitchForDayShifts(t *testing.T) {
	b := testBuilder()
	june17 := june16.Next()
	// Late leaver on the 16th, early arriver on the 17th: both are day
	// shifts and stay separate because the successor starts after 08:00.
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 9, 0, "F-1", "FAB AREA", ""),
				gate(june16, 20, 30, "GA-1", "MAIN GATE 1", "out"),
			},
			june17: {
				gate(june17, 8, 10, "GA-1", "MAIN GATE 1", "in"),
				gate(june17, 17, 0, "GA-1", "MAIN GATE 1", "out"),
			},
		},
	}
	seq16, err := b.Build(june16, in)
	if err != nil {
		t.Fatalf("Build(june16): %v", err)
	}
	if len(seq16) != 2 {
		t.Errorf("june16: got %d events, want 2", len(seq16))
	}
	seq17, err := b.Build(june17, in)
	if err != nil {
		t.Fatalf("Build(june17): %v", err)
	}
	if len(seq17) != 2 {
		t.Errorf("june17: got %d events, want 2", len(seq17))
	}
}

func TestInputOrderError(t *testing.T) {
	b := testBuilder()
	in := DayInputs{
		Gate: map[events.Day][]events.RawEvent{
			june16: {
				gate(june16, 10, 0, "F-1", "FAB AREA", ""),
				gate(june16, 9, 0, "F-1", "FAB AREA", ""),
			},
		},
	}
	_, err := b.Build(june16, in)
	if !errors.Is(err, ErrInputOrder) {
		t.Fatalf("err = %v, want ErrInputOrder", err)
	}
}

func TestEmptyDay(t *testing.T) {
	b := testBuilder()
	seq, err := b.Build(june16, DayInputs{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(seq) != 0 {
		t.Errorf("empty inputs should produce empty sequence, got %d", len(seq))
	}
}
