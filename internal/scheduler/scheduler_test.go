package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/metrics"
)

// --- fakes ---

type fakeRegistry struct {
	mu  sync.Mutex
	eps []domain.Endpoint
	err error
	n   int
}

func (f *fakeRegistry) List(ctx context.Context) ([]domain.Endpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.n++
	if f.err != nil {
		return nil, f.err
	}
	return append([]domain.Endpoint(nil), f.eps...), nil
}

func (f *fakeRegistry) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	return nil, apperror.New(apperror.NotFound, "fake", nil)
}

func (f *fakeRegistry) set(eps ...domain.Endpoint) {
	f.mu.Lock()
	f.eps = eps
	f.mu.Unlock()
}

// fakeProber counts calls per endpoint and can hold probes until released.
type fakeProber struct {
	mu      sync.Mutex
	calls   map[string]int
	gate    chan struct{} // nil: return immediately
	entered chan string
	active  atomic.Int64
	peak    atomic.Int64
	invalid map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{calls: map[string]int{}, entered: make(chan string, 64), invalid: map[string]bool{}}
}

func (p *fakeProber) Probe(ctx context.Context, ep domain.Endpoint) (domain.ProbeRecord, error) {
	if p.invalid[ep.Name] {
		return domain.ProbeRecord{}, apperror.New(apperror.InvalidInput, "fake", errors.New("bad endpoint"))
	}
	n := p.active.Add(1)
	defer p.active.Add(-1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}

	p.mu.Lock()
	p.calls[ep.Name]++
	p.mu.Unlock()

	p.entered <- ep.Name
	if p.gate != nil {
		select {
		case <-p.gate:
		case <-ctx.Done():
		}
	}
	return domain.ProbeRecord{EndpointName: ep.Name, StatusCode: 200, Success: true}, nil
}

func (p *fakeProber) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func ep(name string) domain.Endpoint {
	return domain.Endpoint{ID: domain.EndpointID(name), Name: name, URL: "http://x/" + name, HTTPMethod: "GET"}
}

func newScheduler(reg *fakeRegistry, p *fakeProber, cfg Config) *Scheduler {
	return New(zap.NewNop(), reg, p, cfg, nil)
}

func waitEntered(t *testing.T, p *fakeProber, want string) {
	t.Helper()
	select {
	case got := <-p.entered:
		if got != want {
			t.Fatalf("want probe for %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("probe for %s never started", want)
	}
}

// --- tests ---

func TestSweep_ProbesEveryEndpoint(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a"), ep("b"), ep("c")}}
	p := newFakeProber()
	s := newScheduler(reg, p, Config{Concurrency: 2})

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Endpoints != 3 || res.Probed != 3 || res.Dropped != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}
	for _, n := range []string{"a", "b", "c"} {
		if p.count(n) != 1 {
			t.Fatalf("%s probed %d times", n, p.count(n))
		}
	}
}

func TestSweep_InFlightEndpointIsDropped(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("A")}}
	p := newFakeProber()
	p.gate = make(chan struct{})
	s := newScheduler(reg, p, Config{Concurrency: 4})

	first := make(chan SweepResult, 1)
	go func() {
		res, _ := s.Sweep(context.Background())
		first <- res
	}()
	waitEntered(t, p, "A")

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("second Sweep: %v", err)
	}
	if res.Dropped != 1 || res.Probed != 0 {
		t.Fatalf("second sweep should drop A, got %+v", res)
	}

	close(p.gate)
	if r := <-first; r.Probed != 1 {
		t.Fatalf("first sweep should probe A once, got %+v", r)
	}
	if p.count("A") != 1 {
		t.Fatalf("want exactly one probe for A, got %d", p.count("A"))
	}

	// Idle again: the next sweep probes it.
	p.gate = nil
	if res, _ := s.Sweep(context.Background()); res.Probed != 1 {
		t.Fatalf("endpoint should be idle after its probe finished, got %+v", res)
	}
}

func TestTick_SkipsWhileSweepRunning(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("A")}}
	p := newFakeProber()
	p.gate = make(chan struct{})
	s := newScheduler(reg, p, Config{Interval: time.Hour, Concurrency: 1})

	var wg sync.WaitGroup
	if !s.tick(context.Background(), &wg) {
		t.Fatalf("first tick should start a sweep")
	}
	waitEntered(t, p, "A")
	if s.tick(context.Background(), &wg) {
		t.Fatalf("second tick should be skipped while the first sweep runs")
	}
	close(p.gate)
	wg.Wait()

	if !s.tick(context.Background(), &wg) {
		t.Fatalf("tick after completion should start a sweep")
	}
	wg.Wait()
}

func TestSweep_ConcurrencyBound(t *testing.T) {
	var eps []domain.Endpoint
	for i := 0; i < 20; i++ {
		eps = append(eps, ep(fmt.Sprintf("ep-%02d", i)))
	}
	reg := &fakeRegistry{eps: eps}
	p := newFakeProber()
	p.entered = make(chan string, len(eps))
	s := newScheduler(reg, p, Config{Concurrency: 3})

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Probed != 20 {
		t.Fatalf("want 20 probes, got %+v", res)
	}
	if peak := p.peak.Load(); peak > 3 {
		t.Fatalf("concurrency bound exceeded: peak %d", peak)
	}
}

func TestSweep_RegistryErrorAbortsSweep(t *testing.T) {
	reg := &fakeRegistry{err: errors.New("registry down")}
	p := newFakeProber()
	s := newScheduler(reg, p, Config{Concurrency: 1})

	_, err := s.Sweep(context.Background())
	if !apperror.IsKind(err, apperror.Dependency) {
		t.Fatalf("want dependency error, got %v", err)
	}
	if len(p.calls) != 0 {
		t.Fatalf("no probes expected when the registry fails")
	}

	// next sweep retries independently
	reg.mu.Lock()
	reg.err = nil
	reg.eps = []domain.Endpoint{ep("a")}
	reg.mu.Unlock()
	if res, err := s.Sweep(context.Background()); err != nil || res.Probed != 1 {
		t.Fatalf("recovery sweep: %+v %v", res, err)
	}
}

func TestSweep_InvalidEndpointDoesNotStopOthers(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a"), ep("broken"), ep("c")}}
	p := newFakeProber()
	p.invalid["broken"] = true
	s := newScheduler(reg, p, Config{Concurrency: 1})

	res, err := s.Sweep(context.Background())
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.Probed != 2 || res.Invalid != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestSweep_RegistryReReadEachSweep(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a")}}
	p := newFakeProber()
	s := newScheduler(reg, p, Config{Concurrency: 2})

	_, _ = s.Sweep(context.Background())
	reg.set(ep("a"), ep("b"))
	_, _ = s.Sweep(context.Background())

	if p.count("b") != 1 || p.count("a") != 2 || reg.n != 2 {
		t.Fatalf("registry change not picked up: a=%d b=%d lists=%d", p.count("a"), p.count("b"), reg.n)
	}
}

func TestPeriodicSweep_HonoursFrequency(t *testing.T) {
	slow := ep("slow")
	slow.FrequencyMS = int64(time.Minute / time.Millisecond)
	reg := &fakeRegistry{eps: []domain.Endpoint{slow, ep("every")}}
	p := newFakeProber()
	s := newScheduler(reg, p, Config{Interval: 5 * time.Second, Concurrency: 2})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	sweep := func() SweepResult {
		res, err := s.sweep(context.Background(), metrics.TriggerPeriodic, now)
		if err != nil {
			t.Fatalf("sweep: %v", err)
		}
		return res
	}

	sweep()
	now = now.Add(5 * time.Second)
	if res := sweep(); res.NotDue != 1 {
		t.Fatalf("slow endpoint should not be due yet: %+v", res)
	}
	now = now.Add(time.Minute)
	sweep()

	if p.count("slow") != 2 || p.count("every") != 3 {
		t.Fatalf("want slow=2 every=3, got slow=%d every=%d", p.count("slow"), p.count("every"))
	}

	// Manual sweeps ignore frequency.
	if res, _ := s.Sweep(context.Background()); res.Probed != 2 {
		t.Fatalf("manual sweep should probe all endpoints, got %+v", res)
	}
}

func TestRunSweepNow_IsAsynchronous(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a")}}
	p := newFakeProber()
	p.gate = make(chan struct{})
	s := newScheduler(reg, p, Config{Concurrency: 1})

	done := make(chan struct{})
	go func() {
		s.RunSweepNow()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("RunSweepNow blocked on the sweep")
	}

	waitEntered(t, p, "a")
	close(p.gate)
	s.Wait()
	if p.count("a") != 1 {
		t.Fatalf("want one probe, got %d", p.count("a"))
	}
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a")}}
	p := newFakeProber()
	p.entered = make(chan string, 1024)
	s := newScheduler(reg, p, Config{Interval: 10 * time.Millisecond, Concurrency: 1, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(2 * time.Second)
	for p.count("a") < 3 {
		select {
		case <-deadline:
			t.Fatalf("scheduler did not tick, probes=%d", p.count("a"))
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return after cancel")
	}
}

func TestRun_FrequencyEqualToIntervalProbesEveryTick(t *testing.T) {
	a := ep("a")
	a.FrequencyMS = 20
	reg := &fakeRegistry{eps: []domain.Endpoint{a}}
	p := newFakeProber()
	p.entered = make(chan string, 1024)
	s := newScheduler(reg, p, Config{Interval: 20 * time.Millisecond, Concurrency: 1, RunOnStart: true})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()

	deadline := time.After(5 * time.Second)
	for {
		reg.mu.Lock()
		n := reg.n
		reg.mu.Unlock()
		if n >= 15 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("scheduler ticked only %d times", n)
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-stopped

	// the last sweep may have been cancelled before it could probe
	if got := p.count("a"); got < reg.n-1 {
		t.Fatalf("endpoint due every tick was probed %d times in %d sweeps", got, reg.n)
	}
}

func TestRunSweepNow_IgnoredAfterStop(t *testing.T) {
	reg := &fakeRegistry{eps: []domain.Endpoint{ep("a")}}
	p := newFakeProber()
	s := newScheduler(reg, p, Config{Concurrency: 1})

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(stopped)
	}()
	cancel()
	<-stopped

	s.RunSweepNow()
	s.Wait()
	if reg.n != 0 || p.count("a") != 0 {
		t.Fatalf("sweep ran after stop: lists=%d probes=%d", reg.n, p.count("a"))
	}
}
