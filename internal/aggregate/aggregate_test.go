package aggregate

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	"github.com/hamed0406/apimonitor/internal/repo/sqlite"
)

var t0 = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func rec(name string, code int, latency int64, at time.Time) domain.ProbeRecord {
	return domain.ProbeRecord{
		EndpointName: name,
		EndpointURL:  "http://x/" + name,
		StatusCode:   code,
		LatencyMS:    latency,
		Timestamp:    at,
		Success:      domain.IsSuccessStatus(code),
	}
}

func seed(t *testing.T, sink repo.MetricsSink, recs []domain.ProbeRecord) {
	t.Helper()
	for i := range recs {
		if err := sink.Append(context.Background(), &recs[i]); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

// 9 x 200 in 10ms and 1 x 500 in 20ms.
func scenarioA() []domain.ProbeRecord {
	var out []domain.ProbeRecord
	for i := 0; i < 9; i++ {
		out = append(out, rec("A", 200, 10, t0.Add(time.Duration(i)*time.Second)))
	}
	return append(out, rec("A", 500, 20, t0.Add(9*time.Second)))
}

func TestSummary_ScenarioA(t *testing.T) {
	sink := memory.New()
	seed(t, sink, scenarioA())
	e := NewEngine(sink)

	s, err := e.Summary(context.Background(), "A", domain.Window{From: t0, To: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalRequests != 10 || s.SuccessfulRequests != 9 || s.FailedRequests != 1 {
		t.Fatalf("unexpected counts: %+v", s)
	}
	if s.AvgLatencyMS != 11.0 {
		t.Fatalf("want avg 11.0, got %v", s.AvgLatencyMS)
	}
	if s.SuccessRate != 90.0 {
		t.Fatalf("want success rate 90.0, got %v", s.SuccessRate)
	}
}

func TestSummary_UnknownEndpointIsZeroed(t *testing.T) {
	sink := memory.New()
	seed(t, sink, scenarioA())
	e := NewEngine(sink)

	s, err := e.Summary(context.Background(), "B", domain.Window{From: t0, To: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalRequests != 0 || s.SuccessRate != 0 || s.AvgLatencyMS != 0 {
		t.Fatalf("expected zeroed summary, got %+v", s)
	}
}

func TestSummary_AllEndpointsAndBoundary(t *testing.T) {
	sink := memory.New()
	seed(t, sink, []domain.ProbeRecord{
		rec("A", 200, 10, t0),
		rec("B", 0, 3000, t0.Add(time.Second)),
		rec("C", 200, 10, t0.Add(time.Minute)), // on the exclusive upper bound
	})
	e := NewEngine(sink)

	s, err := e.Summary(context.Background(), "", domain.Window{From: t0, To: t0.Add(time.Minute)})
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.TotalRequests != 2 || s.FailedRequests != 1 || s.SuccessRate != 50 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.SuccessfulRequests+s.FailedRequests != s.TotalRequests {
		t.Fatalf("successful + failed != total: %+v", s)
	}
}

func TestReports_DistinctSortedAndDistributionSums(t *testing.T) {
	sink := memory.New()
	recs := scenarioA()
	recs = append(recs,
		rec("C", 404, 5, t0.Add(2*time.Second)),
		rec("B", 0, 5000, t0.Add(3*time.Second)),
		rec("B", 200, 40, t0.Add(4*time.Second)),
	)
	seed(t, sink, recs)
	e := NewEngine(sink)

	reports, err := e.Reports(context.Background(), domain.Window{From: t0, To: t0.Add(time.Hour)})
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(reports) != 3 {
		t.Fatalf("want 3 reports, got %d", len(reports))
	}
	seen := map[string]bool{}
	for i, r := range reports {
		if seen[r.APIName] {
			t.Fatalf("duplicate report row for %s", r.APIName)
		}
		seen[r.APIName] = true
		if i > 0 && reports[i-1].APIName > r.APIName {
			t.Fatalf("reports not sorted by name")
		}
		var sum int64
		for _, n := range r.StatusCodeDistribution {
			sum += n
		}
		if sum != r.TotalRequests {
			t.Fatalf("%s: distribution sums to %d, total %d", r.APIName, sum, r.TotalRequests)
		}
	}

	a := reports[0]
	if a.APIName != "A" || a.APIURL != "http://x/A" || a.ErrorCount != 1 || a.MinLatencyMS != 10 || a.MaxLatencyMS != 20 {
		t.Fatalf("unexpected report for A: %+v", a)
	}
	b := reports[1]
	if b.StatusCodeDistribution[domain.StatusNoResponse] != 1 || b.StatusCodeDistribution[200] != 1 {
		t.Fatalf("unexpected distribution for B: %v", b.StatusCodeDistribution)
	}

	again, _ := e.Reports(context.Background(), domain.Window{From: t0, To: t0.Add(time.Hour)})
	if !reflect.DeepEqual(reports, again) {
		t.Fatalf("reports not deterministic across calls")
	}
}

func TestReports_EmptyWindow(t *testing.T) {
	sink := memory.New()
	seed(t, sink, scenarioA())
	e := NewEngine(sink)

	reports, err := e.Reports(context.Background(), domain.Window{From: t0.Add(time.Hour), To: t0.Add(2 * time.Hour)})
	if err != nil {
		t.Fatalf("Reports: %v", err)
	}
	if len(reports) != 0 {
		t.Fatalf("want no reports, got %d", len(reports))
	}

	r := BuildReport("A", "http://x/A", domain.Window{}, Accumulate(nil))
	if r.TotalRequests != 0 || r.AvgLatencyMS != 0 || r.MinLatencyMS != 0 || len(r.StatusCodeDistribution) != 0 {
		t.Fatalf("expected zeroed report, got %+v", r)
	}
}

// Stores with SQL push-down must agree with reducing the raw records.
func TestEngine_PushDownMatchesReduction(t *testing.T) {
	ctx := context.Background()
	db, err := sqlite.New(ctx, filepath.Join(t.TempDir(), "agg.db"))
	if err != nil {
		t.Fatalf("sqlite.New: %v", err)
	}
	defer db.Close()
	mem := memory.New()

	rng := rand.New(rand.NewSource(42))
	codes := []int{200, 201, 204, 301, 404, 500, 503, domain.StatusNoResponse}
	names := []string{"alpha", "beta", "gamma"}
	var recs []domain.ProbeRecord
	for i := 0; i < 200; i++ {
		recs = append(recs, rec(names[rng.Intn(len(names))], codes[rng.Intn(len(codes))],
			int64(rng.Intn(900)+1), t0.Add(time.Duration(rng.Intn(3600))*time.Second)))
	}
	seed(t, db, append([]domain.ProbeRecord(nil), recs...))
	seed(t, mem, append([]domain.ProbeRecord(nil), recs...))

	pushed, reduced := NewEngine(db), NewEngine(mem)
	if pushed.stats == nil {
		t.Fatalf("sqlite store should be used as a stats source")
	}
	w := domain.Window{From: t0.Add(10 * time.Minute), To: t0.Add(50 * time.Minute)}

	for _, name := range append(names, "") {
		a, err := pushed.Summary(ctx, name, w)
		if err != nil {
			t.Fatalf("pushed Summary(%q): %v", name, err)
		}
		b, err := reduced.Summary(ctx, name, w)
		if err != nil {
			t.Fatalf("reduced Summary(%q): %v", name, err)
		}
		a.GeneratedAt, b.GeneratedAt = time.Time{}, time.Time{}
		if a != b {
			t.Fatalf("summary mismatch for %q:\n pushed  %+v\n reduced %+v", name, a, b)
		}
	}

	ra, err := pushed.Reports(ctx, w)
	if err != nil {
		t.Fatalf("pushed Reports: %v", err)
	}
	rb, err := reduced.Reports(ctx, w)
	if err != nil {
		t.Fatalf("reduced Reports: %v", err)
	}
	if !reflect.DeepEqual(ra, rb) {
		t.Fatalf("reports mismatch:\n pushed  %+v\n reduced %+v", ra, rb)
	}
}

type failingSink struct{ repo.MetricsSink }

func (failingSink) Query(context.Context, string, domain.Window) ([]domain.ProbeRecord, error) {
	return nil, errors.New("disk on fire")
}

func (failingSink) DistinctEndpointNames(context.Context, domain.Window) ([]string, error) {
	return nil, errors.New("disk on fire")
}

func TestEngine_ReadFailureSurfaces(t *testing.T) {
	e := NewEngine(failingSink{})
	w := domain.Window{From: t0, To: t0.Add(time.Hour)}

	if _, err := e.Summary(context.Background(), "A", w); !apperror.IsKind(err, apperror.Dependency) {
		t.Fatalf("expected dependency error from Summary, got %v", err)
	}
	if _, err := e.Reports(context.Background(), w); !apperror.IsKind(err, apperror.Dependency) {
		t.Fatalf("expected dependency error from Reports, got %v", err)
	}
}
