// Package monitor is the query surface used by the HTTP API and the CLI:
// summaries, reports, endpoint and record listings, and manual sweeps.
package monitor

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/aggregate"
	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Sweeper triggers a sweep without waiting for it.
type Sweeper interface {
	RunSweepNow()
}

type Service struct {
	registry repo.EndpointRegistry
	sink     repo.MetricsSink
	engine   *aggregate.Engine
	sweeper  Sweeper
	log      *zap.Logger
}

func NewService(registry repo.EndpointRegistry, sink repo.MetricsSink, sweeper Sweeper, log *zap.Logger) *Service {
	return &Service{
		registry: registry,
		sink:     sink,
		engine:   aggregate.NewEngine(sink),
		sweeper:  sweeper,
		log:      log,
	}
}

// RecordFilter narrows ListRecords. Zero fields do not filter.
type RecordFilter struct {
	APIName string
	From    *time.Time
	To      *time.Time
}

// GetSummary aggregates apiName (all endpoints when empty) over [from, to).
// An endpoint with no records yields a zeroed summary.
func (s *Service) GetSummary(ctx context.Context, apiName string, from, to time.Time) (domain.Summary, error) {
	w, err := window("monitor.summary.get", from, to)
	if err != nil {
		return domain.Summary{}, err
	}
	sum, err := s.engine.Summary(ctx, apiName, w.Clamp())
	if err != nil {
		return domain.Summary{}, err
	}
	sum.From, sum.To = w.From, w.To
	return sum, nil
}

// GetDetailedReports returns one report per endpoint that has records in
// [from, to), sorted by name.
func (s *Service) GetDetailedReports(ctx context.Context, from, to time.Time) ([]domain.Report, error) {
	w, err := window("monitor.reports.list", from, to)
	if err != nil {
		return nil, err
	}
	reports, err := s.engine.Reports(ctx, w.Clamp())
	if err != nil {
		return nil, err
	}
	for i := range reports {
		reports[i].From, reports[i].To = w.From, w.To
	}
	return reports, nil
}

// GetEndpointReport builds the report for a registered endpoint. An unknown
// id is a not_found error; a known endpoint without records gets a zeroed
// report carrying its registered url.
func (s *Service) GetEndpointReport(ctx context.Context, id domain.EndpointID, from, to time.Time) (domain.Report, error) {
	const op = "monitor.reports.endpoint"
	w, err := window(op, from, to)
	if err != nil {
		return domain.Report{}, err
	}
	ep, err := s.registry.Get(ctx, id)
	if err != nil {
		return domain.Report{}, registryErr(op, err)
	}
	r, err := s.engine.Report(ctx, ep.Name, ep.URL, w.Clamp())
	if err != nil {
		return domain.Report{}, err
	}
	r.From, r.To = w.From, w.To
	return r, nil
}

func (s *Service) ListEndpoints(ctx context.Context) ([]domain.Endpoint, error) {
	eps, err := s.registry.List(ctx)
	if err != nil {
		return nil, registryErr("monitor.endpoints.list", err)
	}
	if eps == nil {
		eps = []domain.Endpoint{}
	}
	return eps, nil
}

// ListRecords returns raw probe records. Missing bounds default to the full
// time range.
func (s *Service) ListRecords(ctx context.Context, f RecordFilter) ([]domain.ProbeRecord, error) {
	const op = "monitor.records.list"
	w := domain.AllTime()
	if f.From != nil {
		w.From = *f.From
	}
	if f.To != nil {
		w.To = *f.To
	}
	w, err := window(op, w.From, w.To)
	if err != nil {
		return nil, err
	}
	recs, err := s.sink.Query(ctx, f.APIName, w.Clamp())
	if err != nil {
		var ae *apperror.Error
		if errors.As(err, &ae) {
			return nil, err
		}
		return nil, apperror.New(apperror.Dependency, op, err).WithMessage("metrics store unavailable")
	}
	if recs == nil {
		recs = []domain.ProbeRecord{}
	}
	return recs, nil
}

// RunSweepNow dispatches a sweep of every endpoint and returns at once.
func (s *Service) RunSweepNow() {
	s.log.Info("manual_sweep_requested")
	s.sweeper.RunSweepNow()
}

func window(op string, from, to time.Time) (domain.Window, error) {
	w, err := domain.NewWindow(from, to)
	if err != nil {
		return domain.Window{}, apperror.New(apperror.InvalidInput, op, err).
			WithMessage("'from' must not be after 'to'")
	}
	return w, nil
}

func registryErr(op string, err error) error {
	var ae *apperror.Error
	if errors.As(err, &ae) {
		return err
	}
	return apperror.New(apperror.Dependency, op, err).WithMessage("endpoint registry unavailable")
}
