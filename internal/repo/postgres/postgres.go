package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var (
	_ repo.EndpointRegistry = (*Store)(nil)
	_ repo.EndpointWriter   = (*Store)(nil)
	_ repo.MetricsSink      = (*Store)(nil)
	_ repo.StatsSource      = (*Store)(nil)
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS endpoints (
  id           TEXT PRIMARY KEY,
  name         TEXT NOT NULL UNIQUE,
  url          TEXT NOT NULL,
  http_method  TEXT NOT NULL,
  headers      JSONB NOT NULL DEFAULT '{}'::jsonb,
  frequency_ms BIGINT NOT NULL DEFAULT 0,
  created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS probe_records (
  seq              BIGSERIAL PRIMARY KEY,
  id               TEXT NOT NULL UNIQUE,
  endpoint_name    TEXT NOT NULL,
  endpoint_url     TEXT NOT NULL,
  status_code      INTEGER NOT NULL,
  latency_ms       BIGINT NOT NULL,
  ts               TIMESTAMPTZ NOT NULL,
  success          BOOLEAN NOT NULL,
  error_message    TEXT NOT NULL DEFAULT '',
  response_body    TEXT NOT NULL DEFAULT '',
  response_headers JSONB
);

CREATE INDEX IF NOT EXISTS idx_probe_records_name_ts ON probe_records (endpoint_name, ts);
CREATE INDEX IF NOT EXISTS idx_probe_records_ts      ON probe_records (ts);
`

type Store struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func New(ctx context.Context, dsn string, log *zap.Logger) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Store{pool: pool, log: log}, nil
}

// Migrate creates the schema if it does not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// ---- EndpointRegistry ----

func (s *Store) Upsert(ctx context.Context, ep *domain.Endpoint) error {
	const op = "repo.postgres.endpoint.upsert"
	if ep.ID == "" {
		ep.ID = domain.EndpointID(uuid.NewString())
	}
	headers, err := marshalHeaders(ep.Headers)
	if err != nil {
		return apperror.New(apperror.InvalidInput, op, err)
	}
	row := s.pool.QueryRow(ctx, `
INSERT INTO endpoints (id, name, url, http_method, headers, frequency_ms)
VALUES ($1, $2, $3, $4, $5::jsonb, $6)
ON CONFLICT (name) DO UPDATE
   SET url = EXCLUDED.url,
       http_method = EXCLUDED.http_method,
       headers = EXCLUDED.headers,
       frequency_ms = EXCLUDED.frequency_ms,
       updated_at = now()
RETURNING id, created_at, updated_at`,
		string(ep.ID), ep.Name, ep.URL, ep.HTTPMethod, headers, ep.FrequencyMS)
	var id string
	if err := row.Scan(&id, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return s.wrapErr(op, err)
	}
	ep.ID = domain.EndpointID(id)
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Endpoint, error) {
	const op = "repo.postgres.endpoint.list"
	rows, err := s.pool.Query(ctx, `
SELECT id, name, url, http_method, headers, frequency_ms, created_at, updated_at
  FROM endpoints
 ORDER BY name`)
	if err != nil {
		return nil, s.wrapErr(op, err)
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, s.wrapErr(op, err)
		}
		out = append(out, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr(op, err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	const op = "repo.postgres.endpoint.get"
	row := s.pool.QueryRow(ctx, `
SELECT id, name, url, http_method, headers, frequency_ms, created_at, updated_at
  FROM endpoints
 WHERE id = $1`, string(id))
	ep, err := scanEndpoint(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, op, err).WithMessage("endpoint not found")
	}
	if err != nil {
		return nil, s.wrapErr(op, err)
	}
	return ep, nil
}

// ---- MetricsSink ----

func (s *Store) Append(ctx context.Context, r *domain.ProbeRecord) error {
	const op = "repo.postgres.record.append"
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var headers *string
	if r.ResponseHeaders != nil {
		h, err := marshalHeaders(r.ResponseHeaders)
		if err != nil {
			return apperror.New(apperror.InvalidInput, op, err)
		}
		headers = &h
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO probe_records
  (id, endpoint_name, endpoint_url, status_code, latency_ms, ts, success, error_message, response_body, response_headers)
VALUES
  ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb)`,
		r.ID, r.EndpointName, r.EndpointURL, r.StatusCode, r.LatencyMS, r.Timestamp.UTC(),
		r.Success, r.ErrorMessage, r.ResponseBody, headers)
	if err != nil {
		return s.wrapErr(op, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error) {
	const op = "repo.postgres.record.query"
	rows, err := s.pool.Query(ctx, `
SELECT id, endpoint_name, endpoint_url, status_code, latency_ms, ts, success, error_message, response_body, response_headers
  FROM probe_records
 WHERE ($1 = '' OR endpoint_name = $1)
   AND ts >= $2 AND ts < $3
 ORDER BY seq`, endpointName, w.From.UTC(), w.To.UTC())
	if err != nil {
		return nil, s.wrapErr(op, err)
	}
	defer rows.Close()

	var out []domain.ProbeRecord
	for rows.Next() {
		var (
			r       domain.ProbeRecord
			headers []byte
		)
		if err := rows.Scan(&r.ID, &r.EndpointName, &r.EndpointURL, &r.StatusCode, &r.LatencyMS,
			&r.Timestamp, &r.Success, &r.ErrorMessage, &r.ResponseBody, &headers); err != nil {
			return nil, s.wrapErr(op, err)
		}
		if len(headers) > 0 {
			if err := json.Unmarshal(headers, &r.ResponseHeaders); err != nil {
				return nil, s.wrapErr(op, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr(op, err)
	}
	return out, nil
}

func (s *Store) DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error) {
	const op = "repo.postgres.record.distinct_names"
	rows, err := s.pool.Query(ctx, `
SELECT DISTINCT endpoint_name
  FROM probe_records
 WHERE ts >= $1 AND ts < $2
 ORDER BY endpoint_name`, w.From.UTC(), w.To.UTC())
	if err != nil {
		return nil, s.wrapErr(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, s.wrapErr(op, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, s.wrapErr(op, err)
	}
	return out, nil
}

// ---- StatsSource ----

func (s *Store) WindowStats(ctx context.Context, endpointName string, w domain.Window) (domain.WindowStats, error) {
	const op = "repo.postgres.record.window_stats"
	st := domain.WindowStats{StatusCounts: map[int]int64{}}

	// one snapshot for the counts and the histogram
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return domain.WindowStats{}, s.wrapErr(op, err)
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
SELECT COUNT(*),
       COUNT(*) FILTER (WHERE NOT success),
       COALESCE(SUM(latency_ms), 0),
       COALESCE(MIN(latency_ms), 0),
       COALESCE(MAX(latency_ms), 0)
  FROM probe_records
 WHERE ($1 = '' OR endpoint_name = $1)
   AND ts >= $2 AND ts < $3`, endpointName, w.From.UTC(), w.To.UTC()).
		Scan(&st.Total, &st.Failed, &st.LatencySumMS, &st.MinLatencyMS, &st.MaxLatencyMS)
	if err != nil {
		return domain.WindowStats{}, s.wrapErr(op, err)
	}
	if st.Total == 0 {
		return st, nil
	}

	rows, err := tx.Query(ctx, `
SELECT status_code, COUNT(*)
  FROM probe_records
 WHERE ($1 = '' OR endpoint_name = $1)
   AND ts >= $2 AND ts < $3
 GROUP BY status_code`, endpointName, w.From.UTC(), w.To.UTC())
	if err != nil {
		return domain.WindowStats{}, s.wrapErr(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var code int
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return domain.WindowStats{}, s.wrapErr(op, err)
		}
		st.StatusCounts[code] = n
	}
	if err := rows.Err(); err != nil {
		return domain.WindowStats{}, s.wrapErr(op, err)
	}

	err = tx.QueryRow(ctx, `
SELECT endpoint_url
  FROM probe_records
 WHERE ($1 = '' OR endpoint_name = $1)
   AND ts >= $2 AND ts < $3
 ORDER BY seq
 LIMIT 1`, endpointName, w.From.UTC(), w.To.UTC()).Scan(&st.EndpointURL)
	if err != nil {
		return domain.WindowStats{}, s.wrapErr(op, err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*domain.Endpoint, error) {
	var (
		ep      domain.Endpoint
		id      string
		headers []byte
	)
	if err := row.Scan(&id, &ep.Name, &ep.URL, &ep.HTTPMethod, &headers, &ep.FrequencyMS, &ep.CreatedAt, &ep.UpdatedAt); err != nil {
		return nil, err
	}
	ep.ID = domain.EndpointID(id)
	if len(headers) > 0 {
		if err := json.Unmarshal(headers, &ep.Headers); err != nil {
			return nil, fmt.Errorf("decode headers: %w", err)
		}
	}
	return &ep, nil
}

func marshalHeaders(h map[string]string) (string, error) {
	if h == nil {
		h = map[string]string{}
	}
	b, err := json.Marshal(h)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *Store) wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.New(apperror.RequestTimeout, op, err).WithMessage("request cancelled or timed out")
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperror.New(apperror.NotFound, op, err).WithMessage("resource not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		s.log.Error("postgres_error",
			zap.String("op", op),
			zap.String("pg_code", pgErr.Code),
			zap.String("pg_constraint", pgErr.ConstraintName),
			zap.String("pg_table", pgErr.TableName),
			zap.Error(err),
		)
	}
	return apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
}
