package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/metrics"
)

var (
	exportFrom string
	exportTo   string
	exportOut  string

	exportCmd = &cobra.Command{
		Use:   "export",
		Short: "Export daily metrics for a date range as CSV",
		RunE:  exportCSV,
	}
)

func init() {
	exportCmd.Flags().StringVar(&exportFrom, "from", "", "start date YYYY-MM-DD (required)")
	exportCmd.Flags().StringVar(&exportTo, "to", "", "end date YYYY-MM-DD (defaults to --from)")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "-", "output file, - for stdout")
	if err := exportCmd.MarkFlagRequired("from"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(exportCmd)
}

var csvHeader = []string{
	"employee_id", "analysis_date",
	"total_hours", "actual_work_hours", "focused_work_hours",
	"work_minutes", "meeting_minutes", "meal_minutes", "movement_minutes",
	"rest_minutes", "idle_minutes",
	"breakfast_minutes", "lunch_minutes", "dinner_minutes", "midnight_meal_minutes",
	"breakfast_count", "lunch_count", "dinner_count", "midnight_meal_count",
	"claimed_hours", "efficiency_ratio", "shift_type", "cross_day",
	"tag_count", "anomaly_count", "data_reliability",
	"first_tag_time", "last_tag_time",
}

func csvRecord(r metrics.Daily) []string {
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	return []string{
		r.EmployeeID, r.Day.String(),
		f(r.TotalHours), f(r.ActualWorkHours), f(r.FocusedWorkHours),
		f(r.WorkMinutes), f(r.MeetingMinutes), f(r.MealMinutes), f(r.MovementMinutes),
		f(r.RestMinutes), f(r.IdleMinutes),
		f(r.BreakfastMinutes), f(r.LunchMinutes), f(r.DinnerMinutes), f(r.MidnightMinutes),
		strconv.Itoa(r.BreakfastCount), strconv.Itoa(r.LunchCount),
		strconv.Itoa(r.DinnerCount), strconv.Itoa(r.MidnightCount),
		f(r.ClaimedHours), f(r.EfficiencyRatio), r.ShiftType.String(),
		strconv.FormatBool(r.CrossDay),
		strconv.Itoa(r.TagCount), strconv.Itoa(r.AnomalyCount), f(r.DataReliability),
		r.FirstTagTime.UTC().Format(time.RFC3339), r.LastTagTime.UTC().Format(time.RFC3339),
	}
}

func exportCSV(cmd *cobra.Command, _ []string) error {
	from, err := events.ParseDay(exportFrom)
	if err != nil {
		return err
	}
	to := from
	if exportTo != "" {
		if to, err = events.ParseDay(exportTo); err != nil {
			return err
		}
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	rows, err := app.store.DailyMetricsRange(cmd.Context(), from, to)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	var f *os.File
	if exportOut != "" && exportOut != "-" {
		if f, err = os.Create(exportOut); err != nil {
			return fmt.Errorf("create %s: %w", exportOut, err)
		}
		out = f
	}

	w := csv.NewWriter(out)
	if err := w.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range rows {
		if err := w.Write(csvRecord(r)); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	if f != nil {
		if err := f.Close(); err != nil {
			return fmt.Errorf("close %s: %w", exportOut, err)
		}
		app.logger.Info("metrics exported", "rows", len(rows), "path", exportOut)
	}
	return nil
}
