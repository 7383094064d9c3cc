package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

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

// Store keeps endpoints and probe records in a single SQLite file.
// Timestamps are stored as unix nanoseconds so range scans compare numerically.
type Store struct {
	db *sql.DB
}

// New opens (or creates) the database at path and runs migrations.
func New(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// one writer at a time; probes append concurrently
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	s := &Store{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS endpoints (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL UNIQUE,
	url          TEXT NOT NULL,
	http_method  TEXT NOT NULL,
	headers      TEXT NOT NULL DEFAULT '{}',
	frequency_ms INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS probe_records (
	seq              INTEGER PRIMARY KEY AUTOINCREMENT,
	id               TEXT NOT NULL UNIQUE,
	endpoint_name    TEXT NOT NULL,
	endpoint_url     TEXT NOT NULL,
	status_code      INTEGER NOT NULL,
	latency_ms       INTEGER NOT NULL,
	ts               INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	response_body    TEXT NOT NULL DEFAULT '',
	response_headers TEXT
);
CREATE INDEX IF NOT EXISTS idx_probe_records_name_ts ON probe_records (endpoint_name, ts);
CREATE INDEX IF NOT EXISTS idx_probe_records_ts ON probe_records (ts);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

func (s *Store) Upsert(ctx context.Context, ep *domain.Endpoint) error {
	const op = "repo.sqlite.endpoint.upsert"
	if ep.ID == "" {
		ep.ID = domain.EndpointID(uuid.NewString())
	}
	headers, err := json.Marshal(nonNil(ep.Headers))
	if err != nil {
		return apperror.New(apperror.InvalidInput, op, err)
	}
	now := time.Now().UTC().UnixNano()
	var id string
	var created, updated int64
	err = s.db.QueryRowContext(ctx, `
INSERT INTO endpoints (id, name, url, http_method, headers, frequency_ms, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(name) DO UPDATE SET
	url = excluded.url,
	http_method = excluded.http_method,
	headers = excluded.headers,
	frequency_ms = excluded.frequency_ms,
	updated_at = excluded.updated_at
RETURNING id, created_at, updated_at`,
		string(ep.ID), ep.Name, ep.URL, ep.HTTPMethod, string(headers), ep.FrequencyMS, now, now).
		Scan(&id, &created, &updated)
	if err != nil {
		return wrapErr(op, err)
	}
	ep.ID = domain.EndpointID(id)
	ep.CreatedAt = time.Unix(0, created).UTC()
	ep.UpdatedAt = time.Unix(0, updated).UTC()
	return nil
}

func (s *Store) List(ctx context.Context) ([]domain.Endpoint, error) {
	const op = "repo.sqlite.endpoint.list"
	rows, err := s.db.QueryContext(ctx, `
SELECT id, name, url, http_method, headers, frequency_ms, created_at, updated_at
FROM endpoints ORDER BY name`)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		ep, err := scanEndpoint(rows)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, *ep)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func (s *Store) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	const op = "repo.sqlite.endpoint.get"
	row := s.db.QueryRowContext(ctx, `
SELECT id, name, url, http_method, headers, frequency_ms, created_at, updated_at
FROM endpoints WHERE id = ?`, string(id))
	ep, err := scanEndpoint(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.New(apperror.NotFound, op, err).WithMessage("endpoint not found")
	}
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return ep, nil
}

func (s *Store) Append(ctx context.Context, r *domain.ProbeRecord) error {
	const op = "repo.sqlite.record.append"
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	var headers sql.NullString
	if r.ResponseHeaders != nil {
		b, err := json.Marshal(r.ResponseHeaders)
		if err != nil {
			return apperror.New(apperror.InvalidInput, op, err)
		}
		headers = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO probe_records
	(id, endpoint_name, endpoint_url, status_code, latency_ms, ts, success, error_message, response_body, response_headers)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.EndpointName, r.EndpointURL, r.StatusCode, r.LatencyMS, r.Timestamp.UnixNano(),
		r.Success, r.ErrorMessage, r.ResponseBody, headers)
	if err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error) {
	const op = "repo.sqlite.record.query"
	rows, err := s.db.QueryContext(ctx, `
SELECT id, endpoint_name, endpoint_url, status_code, latency_ms, ts, success, error_message, response_body, response_headers
FROM probe_records
WHERE (? = '' OR endpoint_name = ?) AND ts >= ? AND ts < ?
ORDER BY seq`, endpointName, endpointName, w.From.UnixNano(), w.To.UnixNano())
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []domain.ProbeRecord
	for rows.Next() {
		var (
			r       domain.ProbeRecord
			ts      int64
			headers sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.EndpointName, &r.EndpointURL, &r.StatusCode, &r.LatencyMS,
			&ts, &r.Success, &r.ErrorMessage, &r.ResponseBody, &headers); err != nil {
			return nil, wrapErr(op, err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		if headers.Valid {
			if err := json.Unmarshal([]byte(headers.String), &r.ResponseHeaders); err != nil {
				return nil, wrapErr(op, err)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func (s *Store) DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error) {
	const op = "repo.sqlite.record.distinct_names"
	rows, err := s.db.QueryContext(ctx, `
SELECT DISTINCT endpoint_name FROM probe_records
WHERE ts >= ? AND ts < ?
ORDER BY endpoint_name`, w.From.UnixNano(), w.To.UnixNano())
	if err != nil {
		return nil, wrapErr(op, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(op, err)
	}
	return out, nil
}

func (s *Store) WindowStats(ctx context.Context, endpointName string, w domain.Window) (domain.WindowStats, error) {
	const op = "repo.sqlite.record.window_stats"
	st := domain.WindowStats{StatusCounts: map[int]int64{}}
	args := []any{endpointName, endpointName, w.From.UnixNano(), w.To.UnixNano()}
	const where = `WHERE (? = '' OR endpoint_name = ?) AND ts >= ? AND ts < ?`

	// one transaction so the counts and the histogram see the same rows
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.WindowStats{}, wrapErr(op, err)
	}
	defer tx.Rollback()

	err = tx.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(SUM(CASE WHEN success = 0 THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(latency_ms), 0),
	COALESCE(MIN(latency_ms), 0),
	COALESCE(MAX(latency_ms), 0)
FROM probe_records `+where, args...).
		Scan(&st.Total, &st.Failed, &st.LatencySumMS, &st.MinLatencyMS, &st.MaxLatencyMS)
	if err != nil {
		return domain.WindowStats{}, wrapErr(op, err)
	}
	if st.Total == 0 {
		return st, nil
	}

	rows, err := tx.QueryContext(ctx, `
SELECT status_code, COUNT(*) FROM probe_records `+where+` GROUP BY status_code`, args...)
	if err != nil {
		return domain.WindowStats{}, wrapErr(op, err)
	}
	defer rows.Close()
	for rows.Next() {
		var code int
		var n int64
		if err := rows.Scan(&code, &n); err != nil {
			return domain.WindowStats{}, wrapErr(op, err)
		}
		st.StatusCounts[code] = n
	}
	if err := rows.Err(); err != nil {
		return domain.WindowStats{}, wrapErr(op, err)
	}

	err = tx.QueryRowContext(ctx, `
SELECT endpoint_url FROM probe_records `+where+` ORDER BY seq LIMIT 1`, args...).Scan(&st.EndpointURL)
	if err != nil {
		return domain.WindowStats{}, wrapErr(op, err)
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEndpoint(row rowScanner) (*domain.Endpoint, error) {
	var (
		ep               domain.Endpoint
		id, headers      string
		created, updated int64
	)
	if err := row.Scan(&id, &ep.Name, &ep.URL, &ep.HTTPMethod, &headers, &ep.FrequencyMS, &created, &updated); err != nil {
		return nil, err
	}
	ep.ID = domain.EndpointID(id)
	ep.CreatedAt = time.Unix(0, created).UTC()
	ep.UpdatedAt = time.Unix(0, updated).UTC()
	if err := json.Unmarshal([]byte(headers), &ep.Headers); err != nil {
		return nil, fmt.Errorf("decode headers: %w", err)
	}
	if len(ep.Headers) == 0 {
		ep.Headers = nil
	}
	return &ep, nil
}

func nonNil(h map[string]string) map[string]string {
	if h == nil {
		return map[string]string{}
	}
	return h
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.New(apperror.RequestTimeout, op, err).WithMessage("request cancelled or timed out")
	}
	return apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
}
