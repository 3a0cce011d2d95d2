package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/worklens/worklens/pkg/batch"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/histogram"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/report"
)

var (
	analyzeDate string
	analyzeJSON bool

	analyzeCmd = &cobra.Command{
		Use:   "analyze EMPLOYEE",
		Short: "Analyze one employee-day and print the strip, timeline, and metrics",
		Args:  cobra.ExactArgs(1),
		RunE:  analyzeOne,
	}
)

func init() {
	analyzeCmd.Flags().StringVar(&analyzeDate, "date", "", "date YYYY-MM-DD (required)")
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "emit JSON instead of tables")
	if err := analyzeCmd.MarkFlagRequired("date"); err != nil {
		panic(err)
	}
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeOne(cmd *cobra.Command, args []string) error {
	day, err := events.ParseDay(analyzeDate)
	if err != nil {
		return err
	}

	app, err := newApp()
	if err != nil {
		return err
	}
	defer app.Close()

	analyzer := batch.NewAnalyzer(app.store, app.rt, app.logger)
	res, err := analyzer.AnalyzeOne(cmd.Context(), args[0], day)
	if err != nil {
		return err
	}

	if analyzeJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	fmt.Println(histogram.Render(res.Timeline, app.rt.Location))
	report.Timeline(os.Stdout, res.Timeline, app.rt.Location)
	fmt.Println()
	report.DailyMetrics(os.Stdout, []metrics.Daily{res.Metrics})
	return nil
}
