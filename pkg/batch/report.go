package batch

import (
	"time"

	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/store"
)

// Failure records one work item that did not make it to the sink.
type Failure struct {
	EmployeeID string     `json:"employee_id"`
	Day        events.Day `json:"date"`
	Kind       string     `json:"kind"`
	Summary    string     `json:"summary"`
}

// Report is the outcome of one batch run.
type Report struct {
	ID        string    `json:"id"`
	Started   time.Time `json:"started_at"`
	Finished  time.Time `json:"finished_at"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Failed    int       `json:"failed"`
	Cancelled bool      `json:"cancelled"`
	Failures  []Failure `json:"failures,omitempty"`
}

func (r *Report) addFailure(item workItem, err error) {
	r.Failed++
	r.Failures = append(r.Failures, Failure{
		EmployeeID: item.employeeID,
		Day:        item.day,
		Kind:       failureKind(err),
		Summary:    err.Error(),
	})
}

// Duration is the wall-clock span of the run.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Throughput is attempted items per second; zero for an instant run.
func (r *Report) Throughput() float64 {
	d := r.Duration().Seconds()
	if d <= 0 {
		return 0
	}
	return float64(r.Attempted) / d
}

// Status summarizes the run for the processing log.
func (r *Report) Status() string {
	switch {
	case r.Cancelled:
		return "cancelled"
	case r.Failed > 0:
		return "partial"
	}
	return "ok"
}

// ExitCode maps the report to the process exit convention: 0 full success,
// 1 any per-item failure or cancellation.
func (r *Report) ExitCode() int {
	if r.Failed > 0 || r.Cancelled {
		return 1
	}
	return 0
}

// Run converts the report into its processing-log row.
func (r *Report) Run() store.BatchRun {
	return store.BatchRun{
		ID:         r.ID,
		StartedAt:  r.Started,
		FinishedAt: r.Finished,
		Attempted:  r.Attempted,
		Succeeded:  r.Succeeded,
		Failed:     r.Failed,
		Status:     r.Status(),
	}
}
