package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/domain"
	apimw "github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/monitor"
)

// Monitor is the query surface the API exposes.
type Monitor interface {
	GetSummary(ctx context.Context, apiName string, from, to time.Time) (domain.Summary, error)
	GetDetailedReports(ctx context.Context, from, to time.Time) ([]domain.Report, error)
	GetEndpointReport(ctx context.Context, id domain.EndpointID, from, to time.Time) (domain.Report, error)
	ListEndpoints(ctx context.Context) ([]domain.Endpoint, error)
	ListRecords(ctx context.Context, f monitor.RecordFilter) ([]domain.ProbeRecord, error)
	RunSweepNow()
}

type Options struct {
	Keys           apimw.Keys
	AllowedOrigins []string
	PublicRPM      int
	PublicBurst    int
	AdminRPM       int
	AdminBurst     int
	// MetricsHandler is mounted at MetricsPath when set.
	MetricsHandler http.Handler
	MetricsPath    string
}

type Server struct {
	Logger  *zap.Logger
	Monitor Monitor
	now     func() time.Time
}

func NewServer(l *zap.Logger, m Monitor) *Server {
	return &Server{Logger: l, Monitor: m, now: time.Now}
}

func (s *Server) Router(opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(apimw.RequestLogger(s.Logger))
	r.Use(chimw.Recoverer)
	r.Use(corsHandler(opts.AllowedOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if opts.MetricsHandler != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.MetricsHandler)
	}

	r.Route("/api", func(r chi.Router) {
		// read routes: public or admin key
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAny(opts.Keys))
			r.Use(apimw.RateLimit(opts.PublicRPM, opts.PublicBurst))

			r.Get("/monitor/endpoints", s.handleListEndpoints)
			r.Get("/metrics", s.handleListRecords)
			r.Get("/reports/summary", s.handleSummary)
			r.Get("/reports/detailed", s.handleDetailedReports)
			r.Get("/reports/endpoints/{id}", s.handleEndpointReport)
		})

		// admin routes
		r.Group(func(r chi.Router) {
			r.Use(apimw.RequireAdmin(opts.Keys))
			r.Use(apimw.RateLimit(opts.AdminRPM, opts.AdminBurst))

			r.Post("/monitor/run", s.handleRunSweep)
		})
	})

	return r
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		return cors.AllowAll().Handler
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		ExposedHeaders: []string{"X-Request-Id"},
		MaxAge:         300,
	})
}
