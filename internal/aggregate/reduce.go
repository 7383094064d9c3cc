// Package aggregate turns probe records into summaries and reports. The
// reductions in this file are pure; Engine binds them to a metrics sink.
package aggregate

import (
	"sort"
	"time"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// Accumulate reduces records into window statistics. EndpointURL is taken
// from the first record.
func Accumulate(records []domain.ProbeRecord) domain.WindowStats {
	st := domain.WindowStats{StatusCounts: make(map[int]int64)}
	for i, r := range records {
		if i == 0 {
			st.EndpointURL = r.EndpointURL
			st.MinLatencyMS = r.LatencyMS
			st.MaxLatencyMS = r.LatencyMS
		}
		st.Total++
		if !r.Success {
			st.Failed++
		}
		st.LatencySumMS += r.LatencyMS
		if r.LatencyMS < st.MinLatencyMS {
			st.MinLatencyMS = r.LatencyMS
		}
		if r.LatencyMS > st.MaxLatencyMS {
			st.MaxLatencyMS = r.LatencyMS
		}
		st.StatusCounts[r.StatusCode]++
	}
	return st
}

// BuildSummary derives a Summary. An empty name means all endpoints.
func BuildSummary(name string, w domain.Window, st domain.WindowStats, now time.Time) domain.Summary {
	s := domain.Summary{
		APIName:            name,
		From:               w.From,
		To:                 w.To,
		TotalRequests:      st.Total,
		SuccessfulRequests: st.Total - st.Failed,
		FailedRequests:     st.Failed,
		AvgLatencyMS:       st.AvgLatencyMS(),
		GeneratedAt:        now,
	}
	if st.Total > 0 {
		s.SuccessRate = float64(s.SuccessfulRequests) / float64(st.Total) * 100
	}
	return s
}

// BuildReport derives a Report. url overrides the one carried by st when set.
func BuildReport(name, url string, w domain.Window, st domain.WindowStats) domain.Report {
	if url == "" {
		url = st.EndpointURL
	}
	dist := make(map[int]int64, len(st.StatusCounts))
	for code, n := range st.StatusCounts {
		dist[code] = n
	}
	return domain.Report{
		APIName:                name,
		APIURL:                 url,
		TotalRequests:          st.Total,
		ErrorCount:             st.Failed,
		AvgLatencyMS:           st.AvgLatencyMS(),
		MinLatencyMS:           st.MinLatencyMS,
		MaxLatencyMS:           st.MaxLatencyMS,
		StatusCodeDistribution: dist,
		From:                   w.From,
		To:                     w.To,
	}
}

// GroupByEndpoint splits records per endpoint name, keeping record order
// inside each group. Names come back sorted.
func GroupByEndpoint(records []domain.ProbeRecord) ([]string, map[string][]domain.ProbeRecord) {
	groups := make(map[string][]domain.ProbeRecord)
	for _, r := range records {
		groups[r.EndpointName] = append(groups[r.EndpointName], r)
	}
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, groups
}

// BuildReports computes one report per distinct endpoint name in records,
// sorted by name.
func BuildReports(records []domain.ProbeRecord, w domain.Window) []domain.Report {
	names, groups := GroupByEndpoint(records)
	out := make([]domain.Report, 0, len(names))
	for _, n := range names {
		out = append(out, BuildReport(n, "", w, Accumulate(groups[n])))
	}
	return out
}
