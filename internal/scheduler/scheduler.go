package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/metrics"
	"github.com/hamed0406/apimonitor/internal/repo"
)

// Prober runs one probe. An error means the endpoint itself was unusable;
// probe failures are carried by the record.
type Prober interface {
	Probe(ctx context.Context, ep domain.Endpoint) (domain.ProbeRecord, error)
}

type Config struct {
	Interval    time.Duration
	Concurrency int
	RunOnStart  bool
}

// SweepResult counts what a sweep did with each registered endpoint.
type SweepResult struct {
	Endpoints int
	Probed    int
	Dropped   int // endpoint already had a probe in flight
	NotDue    int // frequency not yet elapsed (periodic sweeps only)
	Invalid   int
}

type Scheduler struct {
	log      *zap.Logger
	registry repo.EndpointRegistry
	prober   Prober
	metrics  *metrics.Collector

	interval   time.Duration
	runOnStart bool
	sem        *semaphore.Weighted
	now        func() time.Time

	sweeping atomic.Bool // a periodic sweep is running

	mu        sync.Mutex
	inFlight  map[string]struct{}
	lastStart map[string]time.Time

	lifeMu  sync.Mutex
	lifeCtx context.Context
	stopped bool // Run has returned; no new manual sweeps
	manual  sync.WaitGroup
}

func New(log *zap.Logger, registry repo.EndpointRegistry, prober Prober, cfg Config, m *metrics.Collector) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Interval < 0 {
		cfg.Interval = 0
	}
	return &Scheduler{
		log:        log,
		registry:   registry,
		prober:     prober,
		metrics:    m,
		interval:   cfg.Interval,
		runOnStart: cfg.RunOnStart,
		sem:        semaphore.NewWeighted(int64(cfg.Concurrency)),
		now:        time.Now,
		inFlight:   make(map[string]struct{}),
		lastStart:  make(map[string]time.Time),
		lifeCtx:    context.Background(),
	}
}

// Run drives periodic sweeps until ctx is cancelled. The tick loop never
// waits on a probe; each sweep runs in its own goroutine and a tick that
// finds the previous sweep still running is skipped.
func (s *Scheduler) Run(ctx context.Context) {
	s.lifeMu.Lock()
	s.lifeCtx = ctx
	s.lifeMu.Unlock()

	if s.interval == 0 {
		// disabled
		s.log.Info("scheduler_disabled")
		<-ctx.Done()
		s.stop()
		return
	}

	var periodic sync.WaitGroup
	defer func() {
		periodic.Wait()
		s.stop()
		s.log.Info("scheduler_stopped")
	}()

	t := time.NewTicker(s.interval)
	defer t.Stop()

	s.log.Info("scheduler_started", zap.Duration("interval", s.interval))
	if s.runOnStart {
		s.tick(ctx, &periodic)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick(ctx, &periodic)
		}
	}
}

// tick starts a periodic sweep unless one is still running.
func (s *Scheduler) tick(ctx context.Context, wg *sync.WaitGroup) bool {
	if !s.sweeping.CompareAndSwap(false, true) {
		s.metrics.SweepSkipped()
		s.log.Warn("sweep_skipped_overlap")
		return false
	}
	at := s.now()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer s.sweeping.Store(false)
		_, _ = s.sweep(ctx, metrics.TriggerPeriodic, at)
	}()
	return true
}

// Sweep probes every registered endpoint now, ignoring frequencies, and
// returns when all probes have finished.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	return s.sweep(ctx, metrics.TriggerManual, s.now())
}

// RunSweepNow dispatches a manual sweep and returns immediately. The sweep
// runs on the scheduler's lifetime context, not the caller's. It is a no-op
// once the scheduler is shutting down.
func (s *Scheduler) RunSweepNow() {
	s.lifeMu.Lock()
	if s.stopped || s.lifeCtx.Err() != nil {
		s.lifeMu.Unlock()
		s.log.Warn("manual_sweep_ignored_shutdown")
		return
	}
	ctx := s.lifeCtx
	s.manual.Add(1)
	s.lifeMu.Unlock()

	go func() {
		defer s.manual.Done()
		_, _ = s.sweep(ctx, metrics.TriggerManual, s.now())
	}()
}

// stop refuses further manual sweeps and waits for the running ones.
func (s *Scheduler) stop() {
	s.lifeMu.Lock()
	s.stopped = true
	s.lifeMu.Unlock()
	s.manual.Wait()
}

// Wait blocks until every sweep dispatched by RunSweepNow has finished.
func (s *Scheduler) Wait() {
	s.manual.Wait()
}

// sweep probes the registered endpoints. at is the sweep's reference time:
// the tick for periodic sweeps, used for frequency checks.
func (s *Scheduler) sweep(ctx context.Context, trigger string, at time.Time) (SweepResult, error) {
	started := s.now()
	eps, err := s.registry.List(ctx)
	if err != nil {
		s.log.Error("registry_list_error", zap.String("trigger", trigger), zap.Error(err))
		return SweepResult{}, apperror.New(apperror.Dependency, "scheduler.sweep.list", err).
			WithMessage("endpoint registry unavailable")
	}
	s.metrics.SweepStarted(trigger, len(eps))
	s.log.Debug("sweep_started", zap.String("trigger", trigger), zap.Int("endpoints", len(eps)))

	res := SweepResult{Endpoints: len(eps)}
	var probed, invalid atomic.Int64
	var g errgroup.Group

	for _, ep := range eps {
		switch s.tryStart(ep, at, trigger == metrics.TriggerPeriodic) {
		case notDue:
			res.NotDue++
			continue
		case busy:
			res.Dropped++
			s.metrics.ProbeDropped(ep.Name)
			s.log.Warn("probe_skipped_in_flight", zap.String("endpoint", ep.Name), zap.String("trigger", trigger))
			continue
		}

		if err := s.sem.Acquire(ctx, 1); err != nil {
			// cancelled while waiting for a slot
			s.finish(ep.Name)
			break
		}
		ep := ep
		g.Go(func() error {
			defer s.sem.Release(1)
			defer s.finish(ep.Name)

			if _, err := s.prober.Probe(ctx, ep); err != nil {
				if ctx.Err() != nil {
					// shutting down; nothing was recorded
					return nil
				}
				invalid.Add(1)
				s.log.Warn("probe_invalid_endpoint", zap.String("endpoint", ep.Name), zap.Error(err))
				return nil
			}
			probed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res.Probed = int(probed.Load())
	res.Invalid = int(invalid.Load())
	s.log.Info("sweep_finished",
		zap.String("trigger", trigger),
		zap.Int("endpoints", res.Endpoints),
		zap.Int("probed", res.Probed),
		zap.Int("dropped", res.Dropped),
		zap.Int("not_due", res.NotDue),
		zap.Int("invalid", res.Invalid),
		zap.Duration("took", s.now().Sub(started)),
	)
	return res, nil
}

type startState int

const (
	started startState = iota
	notDue
	busy
)

// tryStart moves an endpoint from Idle to Probing. checkDue applies the
// endpoint's own frequency, rounded to the nearest tick: an endpoint is due
// once at most half an interval of its frequency remains.
func (s *Scheduler) tryStart(ep domain.Endpoint, at time.Time, checkDue bool) startState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inFlight[ep.Name]; ok {
		return busy
	}
	if checkDue {
		if last, ok := s.lastStart[ep.Name]; ok && at.Sub(last)+s.interval/2 < ep.Frequency() {
			return notDue
		}
	}
	s.inFlight[ep.Name] = struct{}{}
	s.lastStart[ep.Name] = at
	return started
}

func (s *Scheduler) finish(name string) {
	s.mu.Lock()
	delete(s.inFlight, name)
	s.mu.Unlock()
}
