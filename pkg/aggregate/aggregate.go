// Package aggregate rolls per-employee daily metrics up to organizational
// units. Aggregates are pure functions of the daily rows, so recomputing
// them after a batch always lands on the same values.
package aggregate

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
)

// Scope names an organizational grouping level.
type Scope int

const (
	ScopeCenter Scope = iota
	ScopeTeam
	ScopeGroup
)

func (s Scope) String() string {
	switch s {
	case ScopeCenter:
		return "center"
	case ScopeTeam:
		return "team"
	case ScopeGroup:
		return "group"
	}
	return fmt.Sprintf("Scope(%d)", int(s))
}

// ParseScope resolves "center", "team", or "group".
func ParseScope(s string) (Scope, error) {
	switch s {
	case "center":
		return ScopeCenter, nil
	case "team":
		return ScopeTeam, nil
	case "group":
		return ScopeGroup, nil
	}
	return ScopeCenter, fmt.Errorf("unknown scope %q", s)
}

// MarshalJSON renders the scope as its name.
func (s Scope) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// UnmarshalJSON parses a scope name.
func (s *Scope) UnmarshalJSON(data []byte) error {
	raw := string(data)
	if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
		raw = raw[1 : len(raw)-1]
	}
	parsed, err := ParseScope(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Scopes lists all grouping levels in rollup order.
func Scopes() []Scope {
	return []Scope{ScopeCenter, ScopeTeam, ScopeGroup}
}

// OrgDaily is one aggregate row for (scope, org, date).
type OrgDaily struct {
	Scope Scope      `json:"org_scope"`
	OrgID string     `json:"org_id"`
	Day   events.Day `json:"analysis_date"`

	EmployeeCount int `json:"employee_count"`

	AvgTotalHours       float64 `json:"avg_total_hours"`
	AvgActualWorkHours  float64 `json:"avg_actual_work_hours"`
	AvgFocusedWorkHours float64 `json:"avg_focused_work_hours"`
	AvgEfficiencyRatio  float64 `json:"avg_efficiency_ratio"`
	AvgMealMinutes      float64 `json:"avg_meal_minutes"`
	AvgDataReliability  float64 `json:"avg_data_reliability"`

	DayShiftCount   int `json:"day_shift_count"`
	NightShiftCount int `json:"night_shift_count"`
	CrossDayCount   int `json:"cross_day_count"`
	AnomalyCount    int `json:"anomaly_count"`
}

type orgKey struct {
	scope Scope
	orgID string
	day   events.Day
}

func unitFor(emp events.Employee, scope Scope) string {
	switch scope {
	case ScopeCenter:
		return emp.Center
	case ScopeTeam:
		return emp.Team
	case ScopeGroup:
		return emp.Group
	}
	return ""
}

// Compute groups daily rows by center, team, and group membership and
// averages each bucket. Rows for employees absent from the directory, or
// with a blank unit at some level, are skipped at that level.
func Compute(rows []metrics.Daily, directory map[string]events.Employee, logger *slog.Logger) []OrgDaily {
	if logger == nil {
		logger = slog.Default()
	}
	sums := make(map[orgKey]*OrgDaily)

	for _, row := range rows {
		emp, ok := directory[row.EmployeeID]
		if !ok {
			logger.Debug("employee missing from directory, excluded from aggregates",
				"employee_id", row.EmployeeID, "date", row.Day)
			continue
		}
		for _, scope := range Scopes() {
			orgID := unitFor(emp, scope)
			if orgID == "" {
				continue
			}
			key := orgKey{scope: scope, orgID: orgID, day: row.Day}
			agg := sums[key]
			if agg == nil {
				agg = &OrgDaily{Scope: scope, OrgID: orgID, Day: row.Day}
				sums[key] = agg
			}
			agg.EmployeeCount++
			agg.AvgTotalHours += row.TotalHours
			agg.AvgActualWorkHours += row.ActualWorkHours
			agg.AvgFocusedWorkHours += row.FocusedWorkHours
			agg.AvgEfficiencyRatio += row.EfficiencyRatio
			agg.AvgMealMinutes += row.MealMinutes
			agg.AvgDataReliability += row.DataReliability
			if row.ShiftType == metrics.ShiftNight {
				agg.NightShiftCount++
			} else {
				agg.DayShiftCount++
			}
			if row.CrossDay {
				agg.CrossDayCount++
			}
			agg.AnomalyCount += row.AnomalyCount
		}
	}

	out := make([]OrgDaily, 0, len(sums))
	for _, agg := range sums {
		n := float64(agg.EmployeeCount)
		agg.AvgTotalHours /= n
		agg.AvgActualWorkHours /= n
		agg.AvgFocusedWorkHours /= n
		agg.AvgEfficiencyRatio /= n
		agg.AvgMealMinutes /= n
		agg.AvgDataReliability /= n
		out = append(out, *agg)
	}

	// Deterministic order so repeated runs write identical rows.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Scope != out[j].Scope {
			return out[i].Scope < out[j].Scope
		}
		if out[i].OrgID != out[j].OrgID {
			return out[i].OrgID < out[j].OrgID
		}
		return out[i].Day.Before(out[j].Day)
	})
	return out
}
