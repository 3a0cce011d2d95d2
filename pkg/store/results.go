package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
)

// UpsertDailyMetrics writes result rows keyed by (employee_id,
// analysis_date) in one transaction. Re-running a work item rewrites the
// same values; only updated_at moves.
func (s *Store) UpsertDailyMetrics(ctx context.Context, rows []metrics.Daily) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin metrics upsert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO daily_metrics (
			employee_id, analysis_date,
			total_hours, actual_work_hours, focused_work_hours,
			work_minutes, meeting_minutes, meal_minutes, movement_minutes, rest_minutes, idle_minutes,
			breakfast_minutes, lunch_minutes, dinner_minutes, midnight_meal_minutes,
			breakfast_count, lunch_count, dinner_count, midnight_meal_count,
			claimed_hours, efficiency_ratio, shift_type, cross_day,
			tag_count, anomaly_count, data_reliability,
			first_tag_time, last_tag_time, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (employee_id, analysis_date) DO UPDATE SET
			total_hours = excluded.total_hours,
			actual_work_hours = excluded.actual_work_hours,
			focused_work_hours = excluded.focused_work_hours,
			work_minutes = excluded.work_minutes,
			meeting_minutes = excluded.meeting_minutes,
			meal_minutes = excluded.meal_minutes,
			movement_minutes = excluded.movement_minutes,
			rest_minutes = excluded.rest_minutes,
			idle_minutes = excluded.idle_minutes,
			breakfast_minutes = excluded.breakfast_minutes,
			lunch_minutes = excluded.lunch_minutes,
			dinner_minutes = excluded.dinner_minutes,
			midnight_meal_minutes = excluded.midnight_meal_minutes,
			breakfast_count = excluded.breakfast_count,
			lunch_count = excluded.lunch_count,
			dinner_count = excluded.dinner_count,
			midnight_meal_count = excluded.midnight_meal_count,
			claimed_hours = excluded.claimed_hours,
			efficiency_ratio = excluded.efficiency_ratio,
			shift_type = excluded.shift_type,
			cross_day = excluded.cross_day,
			tag_count = excluded.tag_count,
			anomaly_count = excluded.anomaly_count,
			data_reliability = excluded.data_reliability,
			first_tag_time = excluded.first_tag_time,
			last_tag_time = excluded.last_tag_time,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare metrics upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Unix()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.EmployeeID, row.Day.String(),
			row.TotalHours, row.ActualWorkHours, row.FocusedWorkHours,
			row.WorkMinutes, row.MeetingMinutes, row.MealMinutes, row.MovementMinutes, row.RestMinutes, row.IdleMinutes,
			row.BreakfastMinutes, row.LunchMinutes, row.DinnerMinutes, row.MidnightMinutes,
			row.BreakfastCount, row.LunchCount, row.DinnerCount, row.MidnightCount,
			row.ClaimedHours, row.EfficiencyRatio, row.ShiftType.String(), row.CrossDay,
			row.TagCount, row.AnomalyCount, row.DataReliability,
			row.FirstTagTime.UTC().Unix(), row.LastTagTime.UTC().Unix(), now,
		); err != nil {
			return fmt.Errorf("upsert metrics %s/%s: %w", row.EmployeeID, row.Day, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit metrics upsert: %w", err)
	}
	return nil
}

const dailyMetricsColumns = `
	employee_id, analysis_date,
	total_hours, actual_work_hours, focused_work_hours,
	work_minutes, meeting_minutes, meal_minutes, movement_minutes, rest_minutes, idle_minutes,
	breakfast_minutes, lunch_minutes, dinner_minutes, midnight_meal_minutes,
	breakfast_count, lunch_count, dinner_count, midnight_meal_count,
	claimed_hours, efficiency_ratio, shift_type, cross_day,
	tag_count, anomaly_count, data_reliability,
	first_tag_time, last_tag_time`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDailyMetrics(sc rowScanner) (metrics.Daily, error) {
	var row metrics.Daily
	var date, shift string
	var first, last int64
	err := sc.Scan(
		&row.EmployeeID, &date,
		&row.TotalHours, &row.ActualWorkHours, &row.FocusedWorkHours,
		&row.WorkMinutes, &row.MeetingMinutes, &row.MealMinutes, &row.MovementMinutes, &row.RestMinutes, &row.IdleMinutes,
		&row.BreakfastMinutes, &row.LunchMinutes, &row.DinnerMinutes, &row.MidnightMinutes,
		&row.BreakfastCount, &row.LunchCount, &row.DinnerCount, &row.MidnightCount,
		&row.ClaimedHours, &row.EfficiencyRatio, &shift, &row.CrossDay,
		&row.TagCount, &row.AnomalyCount, &row.DataReliability,
		&first, &last,
	)
	if err != nil {
		return row, err
	}
	if row.Day, err = events.ParseDay(date); err != nil {
		return row, fmt.Errorf("analysis date: %w", err)
	}
	if row.ShiftType, err = metrics.ParseShiftType(shift); err != nil {
		return row, fmt.Errorf("shift type: %w", err)
	}
	row.FirstTagTime = time.Unix(first, 0).UTC()
	row.LastTagTime = time.Unix(last, 0).UTC()
	return row, nil
}

// DailyMetricsFor reads the persisted row for one work item. Returns
// ErrNotFound when the item has never been analyzed.
func (s *Store) DailyMetricsFor(ctx context.Context, employeeID string, day events.Day) (metrics.Daily, error) {
	row, err := scanDailyMetrics(s.db.QueryRowContext(ctx, `
		SELECT `+dailyMetricsColumns+`
		FROM daily_metrics
		WHERE employee_id = ? AND analysis_date = ?`, employeeID, day.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("metrics %s/%s: %w", employeeID, day, ErrNotFound)
	}
	if err != nil {
		return row, fmt.Errorf("query metrics %s/%s: %w", employeeID, day, err)
	}
	return row, nil
}

// DailyMetricsRange reads all rows in the inclusive date range ordered by
// (date, employee). Feeds aggregation and export.
func (s *Store) DailyMetricsRange(ctx context.Context, from, to events.Day) ([]metrics.Daily, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+dailyMetricsColumns+`
		FROM daily_metrics
		WHERE analysis_date >= ? AND analysis_date <= ?
		ORDER BY analysis_date, employee_id`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("query metrics range: %w", err)
	}
	defer rows.Close()

	var out []metrics.Daily
	for rows.Next() {
		row, err := scanDailyMetrics(rows)
		if err != nil {
			return nil, fmt.Errorf("scan metrics row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate metrics range: %w", err)
	}
	return out, nil
}

// ReplaceOrgAggregates writes aggregate rows in one transaction so readers
// never observe a half-published rollup.
func (s *Store) ReplaceOrgAggregates(ctx context.Context, rows []aggregate.OrgDaily) error {
	if len(rows) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin aggregate replace: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO org_daily_aggregates (
			org_scope, org_id, analysis_date, employee_count,
			avg_total_hours, avg_actual_work_hours, avg_focused_work_hours,
			avg_efficiency_ratio, avg_meal_minutes, avg_data_reliability,
			day_shift_count, night_shift_count, cross_day_count, anomaly_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare aggregate replace: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.Scope.String(), row.OrgID, row.Day.String(), row.EmployeeCount,
			row.AvgTotalHours, row.AvgActualWorkHours, row.AvgFocusedWorkHours,
			row.AvgEfficiencyRatio, row.AvgMealMinutes, row.AvgDataReliability,
			row.DayShiftCount, row.NightShiftCount, row.CrossDayCount, row.AnomalyCount,
		); err != nil {
			return fmt.Errorf("replace aggregate %s/%s/%s: %w", row.Scope, row.OrgID, row.Day, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit aggregate replace: %w", err)
	}
	return nil
}

// OrgAggregateFor reads one aggregate row. Returns ErrNotFound when the
// unit has no published rollup for that date.
func (s *Store) OrgAggregateFor(ctx context.Context, scope aggregate.Scope, orgID string, day events.Day) (aggregate.OrgDaily, error) {
	var row aggregate.OrgDaily
	var scopeName, date string
	err := s.db.QueryRowContext(ctx, `
		SELECT org_scope, org_id, analysis_date, employee_count,
			avg_total_hours, avg_actual_work_hours, avg_focused_work_hours,
			avg_efficiency_ratio, avg_meal_minutes, avg_data_reliability,
			day_shift_count, night_shift_count, cross_day_count, anomaly_count
		FROM org_daily_aggregates
		WHERE org_scope = ? AND org_id = ? AND analysis_date = ?`,
		scope.String(), orgID, day.String()).Scan(
		&scopeName, &row.OrgID, &date, &row.EmployeeCount,
		&row.AvgTotalHours, &row.AvgActualWorkHours, &row.AvgFocusedWorkHours,
		&row.AvgEfficiencyRatio, &row.AvgMealMinutes, &row.AvgDataReliability,
		&row.DayShiftCount, &row.NightShiftCount, &row.CrossDayCount, &row.AnomalyCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return row, fmt.Errorf("aggregate %s/%s/%s: %w", scope, orgID, day, ErrNotFound)
	}
	if err != nil {
		return row, fmt.Errorf("query aggregate: %w", err)
	}
	if row.Scope, err = aggregate.ParseScope(scopeName); err != nil {
		return row, fmt.Errorf("aggregate scope: %w", err)
	}
	if row.Day, err = events.ParseDay(date); err != nil {
		return row, fmt.Errorf("aggregate date: %w", err)
	}
	return row, nil
}

// BatchRun is one row of the processing log.
type BatchRun struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Attempted  int       `json:"attempted"`
	Succeeded  int       `json:"succeeded"`
	Failed     int       `json:"failed"`
	Status     string    `json:"status"`
}

// RecordBatchRun appends one processing-log row.
func (s *Store) RecordBatchRun(ctx context.Context, run BatchRun) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO batch_runs (id, started_at, finished_at, attempted, succeeded, failed, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt.UTC().Unix(), run.FinishedAt.UTC().Unix(),
		run.Attempted, run.Succeeded, run.Failed, run.Status)
	if err != nil {
		return fmt.Errorf("record batch run %s: %w", run.ID, err)
	}
	return nil
}

// RecentBatchRuns reads the newest processing-log rows.
func (s *Store) RecentBatchRuns(ctx context.Context, limit int) ([]BatchRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, attempted, succeeded, failed, status
		FROM batch_runs
		ORDER BY started_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query batch runs: %w", err)
	}
	defer rows.Close()

	var out []BatchRun
	for rows.Next() {
		var run BatchRun
		var started, finished int64
		if err := rows.Scan(&run.ID, &started, &finished, &run.Attempted, &run.Succeeded, &run.Failed, &run.Status); err != nil {
			return nil, fmt.Errorf("scan batch run: %w", err)
		}
		run.StartedAt = time.Unix(started, 0).UTC()
		run.FinishedAt = time.Unix(finished, 0).UTC()
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch runs: %w", err)
	}
	return out, nil
}
