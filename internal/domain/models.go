package domain

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type EndpointID string

// Endpoint is a monitored HTTP target. Name is unique across the registry and
// is the key every aggregation query joins on; ID is only the storage key.
type Endpoint struct {
	ID          EndpointID        `json:"id"`
	Name        string            `json:"name"`
	URL         string            `json:"url"`
	HTTPMethod  string            `json:"http_method"`
	Headers     map[string]string `json:"headers,omitempty"`
	FrequencyMS int64             `json:"frequency_ms"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

var ErrInvalidEndpoint = errors.New("invalid endpoint")

var httpMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

func (e Endpoint) Frequency() time.Duration {
	return time.Duration(e.FrequencyMS) * time.Millisecond
}

// Normalize upper-cases the method and defaults it to GET.
func (e *Endpoint) Normalize() {
	e.Name = strings.TrimSpace(e.Name)
	e.URL = strings.TrimSpace(e.URL)
	e.HTTPMethod = strings.ToUpper(strings.TrimSpace(e.HTTPMethod))
	if e.HTTPMethod == "" {
		e.HTTPMethod = http.MethodGet
	}
	if e.FrequencyMS < 0 {
		e.FrequencyMS = 0
	}
}

// Validate reports whether the endpoint can be probed. A failure here is a
// caller error, never a probe failure.
func (e Endpoint) Validate() error {
	if e.Name == "" {
		return fmt.Errorf("%w: empty name", ErrInvalidEndpoint)
	}
	if e.URL == "" {
		return fmt.Errorf("%w: %s: empty url", ErrInvalidEndpoint, e.Name)
	}
	u, err := url.Parse(e.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s: url %q is not an absolute http(s) url", ErrInvalidEndpoint, e.Name, e.URL)
	}
	if _, ok := httpMethods[e.HTTPMethod]; !ok {
		return fmt.Errorf("%w: %s: unsupported method %q", ErrInvalidEndpoint, e.Name, e.HTTPMethod)
	}
	return nil
}

// StatusNoResponse is stored as the status code when no HTTP response was
// received (DNS failure, refused connection, timeout).
const StatusNoResponse = 0

func IsSuccessStatus(code int) bool {
	return code >= 200 && code < 300
}

// ProbeRecord is one observation of one endpoint. Records are append-only.
// EndpointURL is copied at probe time so history survives endpoint edits.
type ProbeRecord struct {
	ID              string            `json:"id"`
	EndpointName    string            `json:"endpoint_name"`
	EndpointURL     string            `json:"endpoint_url"`
	StatusCode      int               `json:"status_code"`
	LatencyMS       int64             `json:"latency_ms"`
	Timestamp       time.Time         `json:"timestamp"`
	Success         bool              `json:"success"`
	ErrorMessage    string            `json:"error_message,omitempty"`
	ResponseBody    string            `json:"response_body,omitempty"`
	ResponseHeaders map[string]string `json:"response_headers,omitempty"`
}
