package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	apimw "github.com/hamed0406/apimonitor/internal/httpapi/middleware"
	"github.com/hamed0406/apimonitor/internal/monitor"
)

// DefaultWindow is used for report routes when from/to are omitted.
const DefaultWindow = 24 * time.Hour

func (s *Server) handleListEndpoints(w http.ResponseWriter, r *http.Request) {
	eps, err := s.Monitor.ListEndpoints(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, eps)
}

func (s *Server) handleListRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := monitor.RecordFilter{APIName: q.Get("apiName")}
	from, err := parseTime(q.Get("from"), "from")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	to, err := parseTime(q.Get("to"), "to")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	f.From, f.To = from, to

	recs, err := s.Monitor.ListRecords(r.Context(), f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.window(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	sum, err := s.Monitor.GetSummary(r.Context(), r.URL.Query().Get("apiName"), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDetailedReports(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.window(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	reports, err := s.Monitor.GetDetailedReports(r.Context(), from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleEndpointReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := s.window(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id := domain.EndpointID(chi.URLParam(r, "id"))
	rep, err := s.Monitor.GetEndpointReport(r.Context(), id, from, to)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (s *Server) handleRunSweep(w http.ResponseWriter, r *http.Request) {
	s.Monitor.RunSweepNow()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

// window reads from/to, defaulting to the DefaultWindow ending now.
func (s *Server) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from, err := parseTime(q.Get("from"), "from")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	to, err := parseTime(q.Get("to"), "to")
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end := s.now().UTC()
	if to != nil {
		end = *to
	}
	start := end.Add(-DefaultWindow)
	if from != nil {
		start = *from
	}
	return start, end, nil
}

func parseTime(raw, name string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil, apperror.New(apperror.InvalidInput, "httpapi.query.parse_time", err).
			WithMessage("'" + name + "' must be an RFC 3339 timestamp")
	}
	return &t, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperror.HTTPStatus(err)
	if status >= 500 {
		s.Logger.Error("request_failed",
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.String("kind", string(apperror.KindOf(err))),
			zap.Error(err),
		)
	}
	apimw.WriteError(w, r, status, apperror.KindOf(err), apperror.MessageOf(err))
}
