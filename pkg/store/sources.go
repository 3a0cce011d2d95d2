package store

import (
	"context"
	"fmt"
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/tags"
)

// GateEvents bulk-reads gate reads whose timestamps fall inside the
// inclusive local date range, ordered by (employee, timestamp).
func (s *Store) GateEvents(ctx context.Context, from, to events.Day, loc *time.Location) ([]events.RawEvent, error) {
	lo, hi := dayRange(from, to, loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, ts, location_code, location_name, direction
		FROM gate_events
		WHERE ts >= ? AND ts < ?
		ORDER BY employee_id, ts`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query gate events: %w", err)
	}
	defer rows.Close()

	var out []events.RawEvent
	for rows.Next() {
		var ev events.RawEvent
		var ts int64
		var direction string
		if err := rows.Scan(&ev.EmployeeID, &ts, &ev.LocationCode, &ev.LocationName, &direction); err != nil {
			return nil, fmt.Errorf("scan gate event: %w", err)
		}
		ev.Timestamp = time.Unix(ts, 0).UTC()
		ev.Direction = tags.ParseDirection(direction)
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate gate events: %w", err)
	}
	return out, nil
}

// MealTransactions bulk-reads cafeteria purchases for the date range,
// ordered by (employee, timestamp).
func (s *Store) MealTransactions(ctx context.Context, from, to events.Day, loc *time.Location) ([]events.MealTransaction, error) {
	lo, hi := dayRange(from, to, loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, ts, serving_counter, restaurant_name, takeout_flag, meal_category
		FROM meal_transactions
		WHERE ts >= ? AND ts < ?
		ORDER BY employee_id, ts`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query meal transactions: %w", err)
	}
	defer rows.Close()

	var out []events.MealTransaction
	for rows.Next() {
		var tx events.MealTransaction
		var ts int64
		if err := rows.Scan(&tx.EmployeeID, &ts, &tx.ServingCounter, &tx.RestaurantName, &tx.Takeout, &tx.MealCategory); err != nil {
			return nil, fmt.Errorf("scan meal transaction: %w", err)
		}
		tx.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meal transactions: %w", err)
	}
	return out, nil
}

// EquipmentLogs bulk-reads equipment operation rows for the date range,
// ordered by (employee, timestamp).
func (s *Store) EquipmentLogs(ctx context.Context, from, to events.Day, loc *time.Location) ([]events.EquipmentLog, error) {
	lo, hi := dayRange(from, to, loc)
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, ts, activity_type, duration_minutes
		FROM equipment_logs
		WHERE ts >= ? AND ts < ?
		ORDER BY employee_id, ts`, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("query equipment logs: %w", err)
	}
	defer rows.Close()

	var out []events.EquipmentLog
	for rows.Next() {
		var log events.EquipmentLog
		var ts int64
		if err := rows.Scan(&log.EmployeeID, &ts, &log.ActivityType, &log.DurationMinutes); err != nil {
			return nil, fmt.Errorf("scan equipment log: %w", err)
		}
		log.Timestamp = time.Unix(ts, 0).UTC()
		out = append(out, log)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate equipment logs: %w", err)
	}
	return out, nil
}

// AttendanceClaims reads claim rows for the inclusive date range.
// YYYY-MM-DD text compares chronologically.
func (s *Store) AttendanceClaims(ctx context.Context, from, to events.Day) ([]events.AttendanceClaim, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, claim_date, claimed_hours
		FROM attendance_claims
		WHERE claim_date >= ? AND claim_date <= ?
		ORDER BY employee_id, claim_date`, from.String(), to.String())
	if err != nil {
		return nil, fmt.Errorf("query attendance claims: %w", err)
	}
	defer rows.Close()

	var out []events.AttendanceClaim
	for rows.Next() {
		var claim events.AttendanceClaim
		var date string
		if err := rows.Scan(&claim.EmployeeID, &date, &claim.ClaimedHours); err != nil {
			return nil, fmt.Errorf("scan attendance claim: %w", err)
		}
		if claim.ClaimDate, err = events.ParseDay(date); err != nil {
			return nil, fmt.Errorf("claim date: %w", err)
		}
		out = append(out, claim)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attendance claims: %w", err)
	}
	return out, nil
}

// Employees reads the whole directory ordered by employee ID.
func (s *Store) Employees(ctx context.Context) ([]events.Employee, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT employee_id, name, center, team, org_group
		FROM employees
		ORDER BY employee_id`)
	if err != nil {
		return nil, fmt.Errorf("query employees: %w", err)
	}
	defer rows.Close()

	var out []events.Employee
	for rows.Next() {
		var emp events.Employee
		if err := rows.Scan(&emp.ID, &emp.Name, &emp.Center, &emp.Team, &emp.Group); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, emp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate employees: %w", err)
	}
	return out, nil
}

// LocationMappings reads the full location catalog.
func (s *Store) LocationMappings(ctx context.Context) ([]tags.LocationMapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT location_code, location_name, tag, confidence, rule_note
		FROM location_mappings
		ORDER BY location_code, location_name`)
	if err != nil {
		return nil, fmt.Errorf("query location mappings: %w", err)
	}
	defer rows.Close()

	var out []tags.LocationMapping
	for rows.Next() {
		var row tags.LocationMapping
		var tag string
		if err := rows.Scan(&row.Code, &row.Name, &tag, &row.Confidence, &row.RuleNote); err != nil {
			return nil, fmt.Errorf("scan location mapping: %w", err)
		}
		if row.Tag, err = tags.ParseTag(tag); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", row.Code, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate location mappings: %w", err)
	}
	return out, nil
}

// ReplaceLocationMappings swaps the whole catalog in one transaction, so a
// half-imported file never becomes visible.
func (s *Store) ReplaceLocationMappings(ctx context.Context, rows []tags.LocationMapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin catalog replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM location_mappings`); err != nil {
		return fmt.Errorf("clear location mappings: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO location_mappings (location_code, location_name, tag, confidence, rule_note)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare catalog insert: %w", err)
	}
	defer stmt.Close()
	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx, row.Code, row.Name, row.Tag.String(), row.Confidence, row.RuleNote); err != nil {
			return fmt.Errorf("insert mapping %s: %w", row.Code, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit catalog replace: %w", err)
	}
	s.logger.Info("location catalog replaced", "rows", len(rows))
	return nil
}

// InsertGateEvents appends gate reads. Intended for loaders and tests.
func (s *Store) InsertGateEvents(ctx context.Context, evs []events.RawEvent) error {
	return s.bulkInsert(ctx, `
		INSERT INTO gate_events (employee_id, ts, location_code, location_name, direction)
		VALUES (?, ?, ?, ?, ?)`,
		len(evs), func(i int) []any {
			ev := evs[i]
			return []any{ev.EmployeeID, ev.Timestamp.UTC().Unix(), ev.LocationCode, ev.LocationName, ev.Direction.String()}
		})
}

// InsertMealTransactions appends cafeteria purchases.
func (s *Store) InsertMealTransactions(ctx context.Context, txs []events.MealTransaction) error {
	return s.bulkInsert(ctx, `
		INSERT INTO meal_transactions (employee_id, ts, serving_counter, restaurant_name, takeout_flag, meal_category)
		VALUES (?, ?, ?, ?, ?, ?)`,
		len(txs), func(i int) []any {
			tx := txs[i]
			return []any{tx.EmployeeID, tx.Timestamp.UTC().Unix(), tx.ServingCounter, tx.RestaurantName, tx.Takeout, tx.MealCategory}
		})
}

// InsertEquipmentLogs appends equipment operation rows.
func (s *Store) InsertEquipmentLogs(ctx context.Context, logs []events.EquipmentLog) error {
	return s.bulkInsert(ctx, `
		INSERT INTO equipment_logs (employee_id, ts, activity_type, duration_minutes)
		VALUES (?, ?, ?, ?)`,
		len(logs), func(i int) []any {
			log := logs[i]
			return []any{log.EmployeeID, log.Timestamp.UTC().Unix(), log.ActivityType, log.DurationMinutes}
		})
}

// UpsertEmployees writes directory rows, replacing existing IDs.
func (s *Store) UpsertEmployees(ctx context.Context, emps []events.Employee) error {
	return s.bulkInsert(ctx, `
		INSERT OR REPLACE INTO employees (employee_id, name, center, team, org_group)
		VALUES (?, ?, ?, ?, ?)`,
		len(emps), func(i int) []any {
			emp := emps[i]
			return []any{emp.ID, emp.Name, emp.Center, emp.Team, emp.Group}
		})
}

// UpsertAttendanceClaims writes claim rows, replacing existing days.
func (s *Store) UpsertAttendanceClaims(ctx context.Context, claims []events.AttendanceClaim) error {
	return s.bulkInsert(ctx, `
		INSERT OR REPLACE INTO attendance_claims (employee_id, claim_date, claimed_hours)
		VALUES (?, ?, ?)`,
		len(claims), func(i int) []any {
			claim := claims[i]
			return []any{claim.EmployeeID, claim.ClaimDate.String(), claim.ClaimedHours}
		})
}

func (s *Store) bulkInsert(ctx context.Context, query string, n int, args func(int) []any) error {
	if n == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for i := 0; i < n; i++ {
		if _, err := stmt.ExecContext(ctx, args(i)...); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit insert: %w", err)
	}
	return nil
}
