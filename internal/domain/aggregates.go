package domain

import "time"

// Summary is a coarse aggregate over one endpoint (or all of them) in a
// window. It is derived on demand and never stored.
type Summary struct {
	APIName            string    `json:"api_name,omitempty"`
	From               time.Time `json:"from"`
	To                 time.Time `json:"to"`
	TotalRequests      int64     `json:"total_requests"`
	SuccessfulRequests int64     `json:"successful_requests"`
	FailedRequests     int64     `json:"failed_requests"`
	AvgLatencyMS       float64   `json:"avg_latency_ms"`
	SuccessRate        float64   `json:"success_rate"`
	GeneratedAt        time.Time `json:"generated_at"`
}

// Report is the per-endpoint detailed aggregate.
type Report struct {
	APIName                string        `json:"api_name"`
	APIURL                 string        `json:"api_url"`
	TotalRequests          int64         `json:"total_requests"`
	ErrorCount             int64         `json:"error_count"`
	AvgLatencyMS           float64       `json:"avg_latency_ms"`
	MinLatencyMS           int64         `json:"min_latency_ms"`
	MaxLatencyMS           int64         `json:"max_latency_ms"`
	StatusCodeDistribution map[int]int64 `json:"status_code_distribution"`
	From                   time.Time     `json:"from"`
	To                     time.Time     `json:"to"`
}

// WindowStats is the reduction both Summary and Report are built from. Stores
// that can aggregate natively return it directly.
type WindowStats struct {
	Total        int64
	Failed       int64
	LatencySumMS int64
	MinLatencyMS int64
	MaxLatencyMS int64
	StatusCounts map[int]int64
	// EndpointURL is the url of the first record seen, empty when Total is 0.
	EndpointURL string
}

func (s WindowStats) AvgLatencyMS() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.LatencySumMS) / float64(s.Total)
}
