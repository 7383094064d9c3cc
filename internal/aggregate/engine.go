package aggregate

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Engine answers aggregation queries against a metrics sink. When the sink
// also implements repo.StatsSource the reduction is pushed down to it.
type Engine struct {
	sink  repo.MetricsSink
	stats repo.StatsSource
	now   func() time.Time
}

func NewEngine(sink repo.MetricsSink) *Engine {
	e := &Engine{sink: sink, now: func() time.Time { return time.Now().UTC() }}
	if ss, ok := sink.(repo.StatsSource); ok {
		e.stats = ss
	}
	return e
}

// Summary aggregates one endpoint, or all of them when name is empty.
func (e *Engine) Summary(ctx context.Context, name string, w domain.Window) (domain.Summary, error) {
	st, err := e.windowStats(ctx, name, w)
	if err != nil {
		return domain.Summary{}, err
	}
	return BuildSummary(name, w, st, e.now()), nil
}

// Report aggregates one endpoint. url, when set, replaces the url taken from
// the records.
func (e *Engine) Report(ctx context.Context, name, url string, w domain.Window) (domain.Report, error) {
	st, err := e.windowStats(ctx, name, w)
	if err != nil {
		return domain.Report{}, err
	}
	return BuildReport(name, url, w, st), nil
}

// Reports returns one report per endpoint name present in the window,
// sorted by name.
func (e *Engine) Reports(ctx context.Context, w domain.Window) ([]domain.Report, error) {
	if e.stats == nil {
		records, err := e.sink.Query(ctx, "", w)
		if err != nil {
			return nil, readErr("aggregate.reports.query", err)
		}
		return BuildReports(records, w), nil
	}

	names, err := e.sink.DistinctEndpointNames(ctx, w)
	if err != nil {
		return nil, readErr("aggregate.reports.names", err)
	}
	sort.Strings(names)
	out := make([]domain.Report, 0, len(names))
	for _, n := range names {
		r, err := e.Report(ctx, n, "", w)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Engine) windowStats(ctx context.Context, name string, w domain.Window) (domain.WindowStats, error) {
	if e.stats != nil {
		st, err := e.stats.WindowStats(ctx, name, w)
		if err != nil {
			return domain.WindowStats{}, readErr("aggregate.stats.window", err)
		}
		if st.StatusCounts == nil {
			st.StatusCounts = map[int]int64{}
		}
		return st, nil
	}
	records, err := e.sink.Query(ctx, name, w)
	if err != nil {
		return domain.WindowStats{}, readErr("aggregate.stats.query", err)
	}
	return Accumulate(records), nil
}

// readErr keeps the kind of errors the store already classified and marks
// anything else as a dependency failure.
func readErr(op string, err error) error {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperror.New(apperror.Dependency, op, err).WithMessage("metrics store unavailable")
}
