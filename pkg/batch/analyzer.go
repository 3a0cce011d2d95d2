// Package batch orchestrates analysis runs: it resolves (employee, date)
// work items, preloads the source tables once, fans the items out to a
// worker pool, persists the results with retries, and recomputes the org
// rollups. Per-item failures are collected into the report; only config
// and preload errors abort a run.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/worklens/worklens/pkg/aggregate"
	"github.com/worklens/worklens/pkg/config"
	"github.com/worklens/worklens/pkg/equipment"
	"github.com/worklens/worklens/pkg/events"
	"github.com/worklens/worklens/pkg/meals"
	"github.com/worklens/worklens/pkg/metrics"
	"github.com/worklens/worklens/pkg/sequence"
	"github.com/worklens/worklens/pkg/store"
	"github.com/worklens/worklens/pkg/tags"
	"github.com/worklens/worklens/pkg/timeline"
)

// Analyzer runs the analysis pipeline over work items.
type Analyzer struct {
	store  *store.Store
	rt     *config.Runtime
	logger *slog.Logger
}

// NewAnalyzer wires an analyzer onto the store with resolved configuration.
func NewAnalyzer(st *store.Store, rt *config.Runtime, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Analyzer{store: st, rt: rt, logger: logger}
}

// Scope selects which employees a batch covers. At most one selector may be
// set; the zero value means the whole facility.
type Scope struct {
	Center    string
	Team      string
	Group     string
	Employees []string
}

func (s Scope) String() string {
	switch {
	case s.Center != "":
		return "center=" + s.Center
	case s.Team != "":
		return "team=" + s.Team
	case s.Group != "":
		return "group=" + s.Group
	case len(s.Employees) > 0:
		return fmt.Sprintf("employees=%d", len(s.Employees))
	}
	return "whole"
}

func (s Scope) validate() error {
	n := 0
	if s.Center != "" {
		n++
	}
	if s.Team != "" {
		n++
	}
	if s.Group != "" {
		n++
	}
	if len(s.Employees) > 0 {
		n++
	}
	if n > 1 {
		return fmt.Errorf("%w: more than one scope selector", ErrConfig)
	}
	return nil
}

func (s Scope) matches(emp events.Employee) bool {
	switch {
	case s.Center != "":
		return emp.Center == s.Center
	case s.Team != "":
		return emp.Team == s.Team
	case s.Group != "":
		return emp.Group == s.Group
	}
	return true
}

// workItem is one (employee, date) unit of work.
type workItem struct {
	employeeID string
	day        events.Day
}

type itemResult struct {
	item workItem
	row  *metrics.Daily // nil with nil err means an empty day
	err  error
}

// Run executes a batch over the inclusive date range. The returned report
// is non-nil whenever processing started; a non-nil error alongside it
// means a batch-wide stage (aggregation) failed after item processing.
func (a *Analyzer) Run(ctx context.Context, from, to events.Day, scope Scope) (*Report, error) {
	if from.IsZero() || to.IsZero() || to.Before(from) {
		return nil, fmt.Errorf("%w: bad date range %s..%s", ErrConfig, from, to)
	}
	if err := scope.validate(); err != nil {
		return nil, err
	}

	rep := &Report{ID: uuid.NewString(), Started: time.Now()}

	bc, err := a.preload(ctx, from, to)
	if err != nil {
		return nil, err
	}

	items := a.resolveItems(bc, from, to, scope)
	rep.Attempted = len(items)
	a.logger.Info("batch starting",
		"run_id", rep.ID, "from", from, "to", to, "scope", scope.String(),
		"items", len(items), "workers", a.rt.Config.WorkerCount(), "chunk_size", a.rt.Config.ChunkSize)

	if len(items) > 0 {
		a.process(ctx, bc, items, rep)
	}

	var aggErr error
	if rep.Succeeded > 0 {
		if aggErr = a.recomputeAggregates(ctx, bc, from, to); aggErr != nil {
			a.logger.Error("aggregate recompute failed", "run_id", rep.ID, "error", aggErr)
		}
	}

	rep.Finished = time.Now()
	if err := a.store.RecordBatchRun(context.WithoutCancel(ctx), rep.Run()); err != nil {
		a.logger.Error("record batch run failed", "run_id", rep.ID, "error", err)
	}
	a.logger.Info("batch finished",
		"run_id", rep.ID, "status", rep.Status(),
		"attempted", rep.Attempted, "succeeded", rep.Succeeded, "failed", rep.Failed,
		"duration", rep.Duration().Round(time.Millisecond), "throughput_per_s", fmt.Sprintf("%.1f", rep.Throughput()))
	return rep, aggErr
}

// ItemResult is the in-memory outcome of a single-item run.
type ItemResult struct {
	Timeline timeline.DailyTimeline `json:"timeline"`
	Metrics  metrics.Daily          `json:"metrics"`
}

// AnalyzeOne runs the full pipeline for one employee-day without touching
// the sink tables. Backs the analyze command and the timeline endpoint.
func (a *Analyzer) AnalyzeOne(ctx context.Context, employeeID string, day events.Day) (*ItemResult, error) {
	if day.IsZero() {
		return nil, fmt.Errorf("%w: missing date", ErrConfig)
	}
	bc, err := a.preload(ctx, day, day)
	if err != nil {
		return nil, err
	}
	seq, err := bc.Builder.Build(day, bc.InputsFor(employeeID))
	if err != nil {
		return nil, err
	}
	classified, err := bc.Classifier.Classify(seq)
	if err != nil {
		return nil, err
	}
	tl := timeline.NewDailyTimeline(employeeID, day, classified, bc.Location)
	return &ItemResult{
		Timeline: tl,
		Metrics:  bc.Deriver.Derive(tl, bc.ClaimFor(employeeID, day)),
	}, nil
}

// preload bulk-reads every source table for [from-1, to+1] and assembles
// the shared pipeline components. The one-day margin feeds the night-shift
// stitching at both edges of the range.
func (a *Analyzer) preload(ctx context.Context, from, to events.Day) (*Context, error) {
	loc := a.rt.Location
	lo, hi := from.Prev(), to.Next()

	catalog, err := a.store.LocationMappings(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: location catalog: %w", ErrPreload, err)
	}
	gate, err := a.store.GateEvents(ctx, lo, hi, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: gate events: %w", ErrPreload, err)
	}
	mealRows, err := a.store.MealTransactions(ctx, lo, hi, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: meal transactions: %w", ErrPreload, err)
	}
	equipmentRows, err := a.store.EquipmentLogs(ctx, lo, hi, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: equipment logs: %w", ErrPreload, err)
	}
	claimRows, err := a.store.AttendanceClaims(ctx, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("%w: attendance claims: %w", ErrPreload, err)
	}
	emps, err := a.store.Employees(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: employee directory: %w", ErrPreload, err)
	}

	mapper := tags.NewMapper(catalog, a.rt.Config.Keywords, a.logger)
	mealSource := meals.NewSource(a.rt.Meals, a.rt.MealPlan, a.rt.Config.Keywords.Takeout, a.rt.Cafeteria, a.logger)
	builder := sequence.NewBuilder(mapper, mealSource, equipment.NewSource(a.logger), loc, a.logger)

	bc := &Context{
		Builder:    builder,
		Classifier: timeline.NewClassifier(a.rt.Rules, a.rt.Meals, loc, a.logger),
		Deriver:    metrics.NewDeriver(a.rt.Night, loc, a.logger),
		Location:   loc,
		Directory:  make(map[string]events.Employee, len(emps)),
		gate: indexByDay(gate,
			func(e events.RawEvent) string { return e.EmployeeID },
			func(e events.RawEvent) time.Time { return e.Timestamp }, loc),
		meals: indexByDay(mealRows,
			func(e events.MealTransaction) string { return e.EmployeeID },
			func(e events.MealTransaction) time.Time { return e.Timestamp }, loc),
		equipment: indexByDay(equipmentRows,
			func(e events.EquipmentLog) string { return e.EmployeeID },
			func(e events.EquipmentLog) time.Time { return e.Timestamp }, loc),
		claims: make(map[string]map[events.Day]float64),
	}
	for _, emp := range emps {
		bc.Directory[emp.ID] = emp
	}
	for _, claim := range claimRows {
		byDay := bc.claims[claim.EmployeeID]
		if byDay == nil {
			byDay = make(map[events.Day]float64)
			bc.claims[claim.EmployeeID] = byDay
		}
		byDay[claim.ClaimDate] = claim.ClaimedHours
	}

	a.logger.Debug("preload complete",
		"gate", len(gate), "meals", len(mealRows), "equipment", len(equipmentRows),
		"claims", len(claimRows), "employees", len(emps), "catalog", len(catalog))
	return bc, nil
}

// resolveItems crosses the in-scope employees with the date range, applying
// the claim filter when configured. Items come out sorted so chunking is
// deterministic.
func (a *Analyzer) resolveItems(bc *Context, from, to events.Day, scope Scope) []workItem {
	var ids []string
	if len(scope.Employees) > 0 {
		for _, id := range scope.Employees {
			if _, ok := bc.Directory[id]; !ok {
				a.logger.Warn("employee not in directory, skipped", "employee_id", id)
				continue
			}
			ids = append(ids, id)
		}
	} else {
		for id, emp := range bc.Directory {
			if scope.matches(emp) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)

	days := events.DaysBetween(from, to)
	items := make([]workItem, 0, len(ids)*len(days))
	for _, id := range ids {
		for _, day := range days {
			if a.rt.Config.ClaimFilter && !bc.HasClaim(id, day) {
				continue
			}
			items = append(items, workItem{employeeID: id, day: day})
		}
	}
	return items
}

// process fans the items out to the worker pool and persists results as
// they arrive. Cancellation stops dispatch; whatever the workers already
// produced is drained and written before the undispatched remainder is
// marked failed.
func (a *Analyzer) process(ctx context.Context, bc *Context, items []workItem, rep *Report) {
	chunks := chunkItems(items, a.rt.Config.ChunkSize)
	workers := a.rt.Config.WorkerCount()
	if workers > len(chunks) {
		workers = len(chunks)
	}

	workCh := make(chan []workItem, workers)
	resultCh := make(chan itemResult, a.rt.Config.ChunkSize)

	go func() {
		defer close(workCh)
		for _, chunk := range chunks {
			select {
			case <-ctx.Done():
				return
			case workCh <- chunk:
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range workCh {
				a.processChunk(bc, chunk, resultCh)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(resultCh)
	}()

	done := make(map[workItem]bool, len(items))
	var pendingRows []metrics.Daily
	var pendingItems []workItem
	flush := func() {
		if len(pendingRows) == 0 {
			return
		}
		if err := a.persist(ctx, pendingRows); err != nil {
			for _, item := range pendingItems {
				rep.addFailure(item, err)
			}
		} else {
			rep.Succeeded += len(pendingItems)
		}
		pendingRows = pendingRows[:0]
		pendingItems = pendingItems[:0]
	}

	for res := range resultCh {
		done[res.item] = true
		switch {
		case res.err != nil:
			a.logger.Debug("work item failed",
				"employee_id", res.item.employeeID, "date", res.item.day, "error", res.err)
			rep.addFailure(res.item, res.err)
		case res.row == nil:
			// No events that day. Counts as processed, nothing to write.
			rep.Succeeded++
		default:
			pendingRows = append(pendingRows, *res.row)
			pendingItems = append(pendingItems, res.item)
			if len(pendingRows) >= a.rt.Config.ChunkSize {
				flush()
			}
		}
	}
	flush()

	if ctx.Err() != nil {
		rep.Cancelled = true
		for _, item := range items {
			if !done[item] {
				rep.addFailure(item, fmt.Errorf("%w: not dispatched", ErrCancelled))
			}
		}
	}
}

// processChunk runs one chunk under its deadline. Work items are pure CPU,
// so the deadline is checked between items; once blown, the remainder of
// the chunk fails without running.
func (a *Analyzer) processChunk(bc *Context, chunk []workItem, out chan<- itemResult) {
	timeout := a.rt.Config.ChunkTimeout.Std()
	deadline := time.Now().Add(timeout)
	for i, item := range chunk {
		if time.Now().After(deadline) {
			err := fmt.Errorf("%w: %s elapsed after %d of %d items", ErrChunkTimeout, timeout, i, len(chunk))
			for _, rest := range chunk[i:] {
				out <- itemResult{item: rest, err: err}
			}
			return
		}
		out <- a.processItem(bc, item)
	}
}

// processItem runs the pipeline for one work item. Panics stay inside the
// worker and come back as classification failures.
func (a *Analyzer) processItem(bc *Context, item workItem) (res itemResult) {
	res.item = item
	defer func() {
		if r := recover(); r != nil {
			res.row = nil
			res.err = fmt.Errorf("%w: panic: %v", ErrClassification, r)
		}
	}()

	seq, err := bc.Builder.Build(item.day, bc.InputsFor(item.employeeID))
	if err != nil {
		res.err = err
		return res
	}
	if len(seq) == 0 {
		return res
	}
	classified, err := bc.Classifier.Classify(seq)
	if err != nil {
		res.err = err
		return res
	}
	tl := timeline.NewDailyTimeline(item.employeeID, item.day, classified, bc.Location)
	row := bc.Deriver.Derive(tl, bc.ClaimFor(item.employeeID, item.day))
	res.row = &row
	return res
}

// persist writes one chunk of result rows. It runs on a detached context so
// work finished before a cancel still lands, with exponential backoff up to
// the configured attempt budget.
func (a *Analyzer) persist(ctx context.Context, rows []metrics.Daily) error {
	dctx := context.WithoutCancel(ctx)
	err := retry.Do(
		func() error {
			return a.store.UpsertDailyMetrics(dctx, rows)
		},
		retry.Context(dctx),
		retry.Attempts(a.rt.Config.PersistRetries),
		retry.Delay(200*time.Millisecond),
		retry.MaxDelay(5*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.OnRetry(func(n uint, err error) {
			a.logger.Warn("persist retry", "attempt", n+1, "rows", len(rows), "error", err)
		}),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	return nil
}

// recomputeAggregates rereads the range's persisted rows and republishes
// every org rollup they cover.
func (a *Analyzer) recomputeAggregates(ctx context.Context, bc *Context, from, to events.Day) error {
	dctx := context.WithoutCancel(ctx)
	rows, err := a.store.DailyMetricsRange(dctx, from, to)
	if err != nil {
		return fmt.Errorf("%w: read rollup input: %w", ErrPersistence, err)
	}
	aggs := aggregate.Compute(rows, bc.Directory, a.logger)
	if err := a.store.ReplaceOrgAggregates(dctx, aggs); err != nil {
		return fmt.Errorf("%w: %w", ErrPersistence, err)
	}
	a.logger.Info("aggregates recomputed", "rows", len(aggs), "from", from, "to", to)
	return nil
}

func chunkItems(items []workItem, size int) [][]workItem {
	if size <= 0 {
		size = 1
	}
	var chunks [][]workItem
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
