package store

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/tags"
)

var seoul = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		panic(err)
	}
	return loc
}()

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", p)
	return len(p), nil
}

func testStore(t *testing.T) *Store {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	s, err := Open(filepath.Join(t.TempDir(), "analytics.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Init(context.Background()))
	return s
}

var day = events.Day{Year: 2025, Month: 6, Date: 16}

func at(d events.Day, h, m int) time.Time {
	return d.At(h, m, seoul)
}

func TestGateEventRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	in := []events.RawEvent{
		{EmployeeID: "E200", Timestamp: at(day, 9, 30), LocationCode: "B1-CORRIDOR", Direction: tags.DirectionNone},
		{EmployeeID: "E100", Timestamp: at(day, 8, 2), LocationCode: "GATE-01", LocationName: "MAIN GATE A", Direction: tags.DirectionEntry},
		{EmployeeID: "E100", Timestamp: at(day.Next(), 18, 5), LocationCode: "GATE-01", Direction: tags.DirectionExit},
		// Outside the queried range.
		{EmployeeID: "E100", Timestamp: at(day.Prev().Prev(), 12, 0), LocationCode: "GATE-01", Direction: tags.DirectionEntry},
	}
	require.NoError(t, s.InsertGateEvents(ctx, in))

	got, err := s.GateEvents(ctx, day, day.Next(), seoul)
	require.NoError(t, err)
	require.Len(t, got, 3)

	// Ordered by employee then timestamp.
	assert.Equal(t, "E100", got[0].EmployeeID)
	assert.True(t, got[0].Timestamp.Equal(at(day, 8, 2)))
	assert.Equal(t, tags.DirectionEntry, got[0].Direction)
	assert.Equal(t, "MAIN GATE A", got[0].LocationName)
	assert.Equal(t, "E100", got[1].EmployeeID)
	assert.True(t, got[1].Timestamp.Equal(at(day.Next(), 18, 5)))
	assert.Equal(t, "E200", got[2].EmployeeID)

	// Timestamps come back in UTC.
	assert.Equal(t, time.UTC, got[0].Timestamp.Location())
}

func TestMealAndEquipmentRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	meals := []events.MealTransaction{
		{EmployeeID: "E100", Timestamp: at(day, 12, 10), ServingCounter: "COUNTER-3", RestaurantName: "Main Cafeteria", MealCategory: "lunch"},
		{EmployeeID: "E100", Timestamp: at(day, 18, 40), ServingCounter: "TAKEOUT-1", RestaurantName: "Deli", Takeout: true, MealCategory: "dinner"},
	}
	require.NoError(t, s.InsertMealTransactions(ctx, meals))

	logs := []events.EquipmentLog{
		{EmployeeID: "E100", Timestamp: at(day, 14, 0), ActivityType: "CNC-OPERATE", DurationMinutes: 45},
	}
	require.NoError(t, s.InsertEquipmentLogs(ctx, logs))

	gotMeals, err := s.MealTransactions(ctx, day, day, seoul)
	require.NoError(t, err)
	require.Len(t, gotMeals, 2)
	assert.False(t, gotMeals[0].Takeout)
	assert.True(t, gotMeals[1].Takeout)
	assert.Equal(t, "COUNTER-3", gotMeals[0].ServingCounter)

	gotLogs, err := s.EquipmentLogs(ctx, day, day, seoul)
	require.NoError(t, err)
	require.Len(t, gotLogs, 1)
	assert.Equal(t, 45.0, gotLogs[0].DurationMinutes)
	assert.Equal(t, "CNC-OPERATE", gotLogs[0].ActivityType)
}

func TestClaimsAndEmployees(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	claims := []events.AttendanceClaim{
		{EmployeeID: "E100", ClaimDate: day, ClaimedHours: 9},
		{EmployeeID: "E100", ClaimDate: day.Next(), ClaimedHours: 8},
		{EmployeeID: "E200", ClaimDate: day.Prev(), ClaimedHours: 8},
	}
	require.NoError(t, s.UpsertAttendanceClaims(ctx, claims))

	got, err := s.AttendanceClaims(ctx, day, day.Next())
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, day, got[0].ClaimDate)
	assert.Equal(t, 9.0, got[0].ClaimedHours)

	// Overwriting the same day replaces the value.
	claims[0].ClaimedHours = 7.5
	require.NoError(t, s.UpsertAttendanceClaims(ctx, claims[:1]))
	got, err = s.AttendanceClaims(ctx, day, day)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 7.5, got[0].ClaimedHours)

	emps := []events.Employee{
		{ID: "E200", Name: "Lee", Center: "seoul", Team: "assembly", Group: "line-b"},
		{ID: "E100", Name: "Kim", Center: "seoul", Team: "assembly", Group: "line-a"},
	}
	require.NoError(t, s.UpsertEmployees(ctx, emps))
	dir, err := s.Employees(ctx)
	require.NoError(t, err)
	require.Len(t, dir, 2)
	assert.Equal(t, "E100", dir[0].ID)
	assert.Equal(t, "line-a", dir[0].Group)
}

func TestLocationCatalogReplace(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := []tags.LocationMapping{
		{Code: "GATE-01", Name: "MAIN GATE A", Tag: tags.T2, Confidence: 0.95, RuleNote: "perimeter"},
		{Code: "MTG-7F", Tag: tags.G3, Confidence: 0.9},
	}
	require.NoError(t, s.ReplaceLocationMappings(ctx, first))

	got, err := s.LocationMappings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, tags.T2, got[0].Tag)
	assert.Equal(t, "perimeter", got[0].RuleNote)

	second := []tags.LocationMapping{
		{Code: "LAB-2", Tag: tags.G1, Confidence: 0.8},
	}
	require.NoError(t, s.ReplaceLocationMappings(ctx, second))
	got, err = s.LocationMappings(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "LAB-2", got[0].Code)
}

func metricsRow(id string, d events.Day) metrics.Daily {
	return metrics.Daily{
		EmployeeID:       id,
		Day:              d,
		TotalHours:       10.05,
		ActualWorkHours:  8.5,
		FocusedWorkHours: 1.25,
		WorkMinutes:      420,
		MeetingMinutes:   90,
		MealMinutes:      30,
		MovementMinutes:  58,
		LunchMinutes:     30,
		LunchCount:       1,
		ClaimedHours:     9,
		EfficiencyRatio:  8.5 / 9,
		ShiftType:        metrics.ShiftDay,
		TagCount:         7,
		AnomalyCount:     1,
		DataReliability:  8.75,
		FirstTagTime:     at(d, 8, 2).UTC(),
		LastTagTime:      at(d, 18, 5).UTC(),
	}
}

func TestDailyMetricsUpsertAndRead(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := metricsRow("E100", day)
	require.NoError(t, s.UpsertDailyMetrics(ctx, []metrics.Daily{row}))

	got, err := s.DailyMetricsFor(ctx, "E100", day)
	require.NoError(t, err)
	assert.Equal(t, row, got)

	// Second write with changed figures replaces, not duplicates.
	row.ActualWorkHours = 7
	row.ShiftType = metrics.ShiftNight
	require.NoError(t, s.UpsertDailyMetrics(ctx, []metrics.Daily{row}))

	got, err = s.DailyMetricsFor(ctx, "E100", day)
	require.NoError(t, err)
	assert.Equal(t, 7.0, got.ActualWorkHours)
	assert.Equal(t, metrics.ShiftNight, got.ShiftType)

	all, err := s.DailyMetricsRange(ctx, day, day)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDailyMetricsIdempotentRewrite(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	row := metricsRow("E100", day)
	require.NoError(t, s.UpsertDailyMetrics(ctx, []metrics.Daily{row}))
	first, err := s.DailyMetricsFor(ctx, "E100", day)
	require.NoError(t, err)

	require.NoError(t, s.UpsertDailyMetrics(ctx, []metrics.Daily{row}))
	second, err := s.DailyMetricsFor(ctx, "E100", day)
	require.NoError(t, err)

	// updated_at is not surfaced; everything read back must be identical.
	assert.Equal(t, first, second)
}

func TestDailyMetricsRangeOrdering(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := []metrics.Daily{
		metricsRow("E200", day.Next()),
		metricsRow("E100", day.Next()),
		metricsRow("E100", day),
	}
	require.NoError(t, s.UpsertDailyMetrics(ctx, rows))

	got, err := s.DailyMetricsRange(ctx, day, day.Next())
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, day, got[0].Day)
	assert.Equal(t, "E100", got[1].EmployeeID)
	assert.Equal(t, "E200", got[2].EmployeeID)
}

func TestDailyMetricsNotFound(t *testing.T) {
	s := testStore(t)
	_, err := s.DailyMetricsFor(context.Background(), "GHOST", day)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestOrgAggregates(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	rows := []aggregate.OrgDaily{
		{Scope: aggregate.ScopeCenter, OrgID: "seoul", Day: day, EmployeeCount: 3, AvgActualWorkHours: 8, DayShiftCount: 2, NightShiftCount: 1},
		{Scope: aggregate.ScopeTeam, OrgID: "assembly", Day: day, EmployeeCount: 2, AvgActualWorkHours: 9, DayShiftCount: 1, NightShiftCount: 1, CrossDayCount: 1},
	}
	require.NoError(t, s.ReplaceOrgAggregates(ctx, rows))

	got, err := s.OrgAggregateFor(ctx, aggregate.ScopeTeam, "assembly", day)
	require.NoError(t, err)
	assert.Equal(t, rows[1], got)

	// Republish overwrites in place.
	rows[1].AvgActualWorkHours = 8.5
	require.NoError(t, s.ReplaceOrgAggregates(ctx, rows[1:]))
	got, err = s.OrgAggregateFor(ctx, aggregate.ScopeTeam, "assembly", day)
	require.NoError(t, err)
	assert.Equal(t, 8.5, got.AvgActualWorkHours)

	_, err = s.OrgAggregateFor(ctx, aggregate.ScopeGroup, "line-z", day)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBatchRunLog(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	base := time.Date(2025, 6, 16, 10, 0, 0, 0, time.UTC)
	runs := []BatchRun{
		{ID: "run-a", StartedAt: base, FinishedAt: base.Add(time.Minute), Attempted: 10, Succeeded: 10, Status: "ok"},
		{ID: "run-b", StartedAt: base.Add(time.Hour), FinishedAt: base.Add(61 * time.Minute), Attempted: 5, Succeeded: 4, Failed: 1, Status: "partial"},
	}
	for _, run := range runs {
		require.NoError(t, s.RecordBatchRun(ctx, run))
	}

	got, err := s.RecentBatchRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "run-b", got[0].ID)

	got, err = s.RecentBatchRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, runs[1], got[0])
	assert.Equal(t, runs[0], got[1])
}
