// Package probe executes one HTTP round trip against one endpoint and turns
// the outcome into a probe record.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/metrics"
	"github.com/hamed0406/apimonitor/internal/repo"
)

const (
	DefaultTimeout      = 10 * time.Second
	DefaultMaxBodyBytes = 64 << 10
	appendTimeout       = 5 * time.Second
)

type Options struct {
	Timeout         time.Duration
	MaxBodyBytes    int64
	CaptureResponse bool
	UserAgent       string
}

type Executor struct {
	client  *http.Client
	sink    repo.MetricsSink
	opts    Options
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

func NewExecutor(sink repo.MetricsSink, opts Options, log *zap.Logger, m *metrics.Collector) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Executor{
		client:  &http.Client{Timeout: opts.Timeout},
		sink:    sink,
		opts:    opts,
		log:     log,
		metrics: m,
		now:     time.Now,
	}
}

// Probe performs exactly one request and appends exactly one record. Every
// network or HTTP outcome, including the per-probe timeout, is reported
// through the record. Errors are returned only for an endpoint that cannot be
// probed at all (InvalidInput) and for a ctx cancelled before the endpoint
// answered, which records nothing. A failed append is logged and counted,
// not returned.
func (e *Executor) Probe(ctx context.Context, ep domain.Endpoint) (domain.ProbeRecord, error) {
	ep.Normalize()
	if err := ep.Validate(); err != nil {
		return domain.ProbeRecord{}, apperror.New(apperror.InvalidInput, "probe.endpoint.validate", err).
			WithMessage(err.Error())
	}

	rec, err := e.execute(ctx, ep)
	if err != nil {
		e.log.Debug("request_cancelled", zap.String("endpoint", ep.Name), zap.Error(err))
		return domain.ProbeRecord{}, err
	}

	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), appendTimeout)
	defer cancel()
	if err := e.sink.Append(actx, &rec); err != nil {
		e.metrics.SinkWriteError()
		e.log.Error("probe_append_error",
			zap.String("endpoint", ep.Name),
			zap.Int("status_code", rec.StatusCode),
			zap.Error(err),
		)
	}
	return rec, nil
}

// execute runs the request. A non-nil error means the caller's ctx ended
// before the outcome was known.
func (e *Executor) execute(parent context.Context, ep domain.Endpoint) (domain.ProbeRecord, error) {
	start := e.now()
	rec := domain.ProbeRecord{
		EndpointName: ep.Name,
		EndpointURL:  ep.URL,
		Timestamp:    start.UTC(),
	}

	ctx, cancel := context.WithTimeout(parent, e.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, ep.HTTPMethod, ep.URL, nil)
	if err != nil {
		return e.transportFailure(rec, ep, start, err), nil
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}
	if e.opts.UserAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.opts.UserAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if parent.Err() != nil {
			return domain.ProbeRecord{}, apperror.New(apperror.RequestTimeout, "probe.request.do", parent.Err())
		}
		return e.transportFailure(rec, ep, start, err), nil
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, e.opts.MaxBodyBytes))
	elapsed := e.now().Sub(start)
	if readErr != nil && parent.Err() != nil {
		return domain.ProbeRecord{}, apperror.New(apperror.RequestTimeout, "probe.response.read", parent.Err())
	}

	rec.StatusCode = resp.StatusCode
	rec.LatencyMS = elapsed.Milliseconds()
	rec.Success = domain.IsSuccessStatus(resp.StatusCode)
	text := strings.ToValidUTF8(string(body), "")

	if e.opts.CaptureResponse {
		rec.ResponseBody = text
		rec.ResponseHeaders = firstValues(resp.Header)
	}

	// a 2xx stays a success even if the body read failed; the status line is
	// the observation and errorMessage is only set on failures
	outcome := metrics.OutcomeSuccess
	if !rec.Success {
		outcome = metrics.OutcomeHTTPError
		switch {
		case strings.TrimSpace(text) != "":
			rec.ErrorMessage = text
		case readErr != nil:
			rec.ErrorMessage = fmt.Sprintf("%s (reading body: %v)", resp.Status, readErr)
		default:
			rec.ErrorMessage = resp.Status
		}
		e.log.Info("probe_http_error",
			zap.String("endpoint", ep.Name),
			zap.Int("status_code", resp.StatusCode),
			zap.Int64("latency_ms", rec.LatencyMS),
		)
	} else {
		e.log.Debug("probe_ok",
			zap.String("endpoint", ep.Name),
			zap.Int("status_code", resp.StatusCode),
			zap.Int64("latency_ms", rec.LatencyMS),
		)
	}
	e.metrics.RecordProbe(ep.Name, outcome, elapsed)
	return rec, nil
}

func (e *Executor) transportFailure(rec domain.ProbeRecord, ep domain.Endpoint, start time.Time, err error) domain.ProbeRecord {
	elapsed := e.now().Sub(start)
	kind, msg := ClassifyTransportError(err)

	rec.StatusCode = domain.StatusNoResponse
	rec.LatencyMS = elapsed.Milliseconds()
	rec.Success = false
	rec.ErrorMessage = msg

	e.metrics.RecordProbe(ep.Name, metrics.OutcomeTransportError, elapsed)
	e.log.Warn("probe_transport_error",
		zap.String("endpoint", ep.Name),
		zap.String("url", ep.URL),
		zap.String("kind", string(kind)),
		zap.Int64("latency_ms", rec.LatencyMS),
		zap.Error(err),
	)
	return rec
}

// firstValues keeps the first value of each header.
func firstValues(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}
