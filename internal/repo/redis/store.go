package redis

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.MetricsSink = (*Store)(nil)

const (
	namesKey      = "apimonitor:endpoints"
	recordsPrefix = "apimonitor:records:"
)

type Options struct {
	Addr     string
	Password string
	DB       int
}

// Store keeps one sorted set per endpoint. Scores are unix microseconds,
// which float64 represents exactly; window edges are then checked in Go.
type Store struct {
	rdb *redis.Client
}

func New(ctx context.Context, o Options) (*Store, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:            o.Addr,
		Password:        o.Password,
		DB:              o.DB,
		DialTimeout:     5 * time.Second,
		ReadTimeout:     3 * time.Second,
		WriteTimeout:    3 * time.Second,
		PoolSize:        10,
		MinIdleConns:    2,
		ConnMaxIdleTime: 30 * time.Second,
	})

	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctxPing).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return &Store{rdb: rdb}, nil
}

func (s *Store) Close() error { return s.rdb.Close() }

func (s *Store) Append(ctx context.Context, r *domain.ProbeRecord) error {
	const op = "repo.redis.record.append"
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	member, err := json.Marshal(r)
	if err != nil {
		return apperror.New(apperror.InvalidInput, op, err)
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZAdd(ctx, recordsPrefix+r.EndpointName, redis.Z{Score: float64(r.Timestamp.UnixMicro()), Member: member})
		p.SAdd(ctx, namesKey, r.EndpointName)
		return nil
	})
	if err != nil {
		return wrapErr(op, err)
	}
	return nil
}

func (s *Store) Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error) {
	const op = "repo.redis.record.query"
	if endpointName != "" {
		out, err := s.queryOne(ctx, endpointName, w)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		return out, nil
	}

	names, err := s.rdb.SMembers(ctx, namesKey).Result()
	if err != nil {
		return nil, wrapErr(op, err)
	}
	var out []domain.ProbeRecord
	for _, name := range names {
		recs, err := s.queryOne(ctx, name, w)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Store) DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error) {
	const op = "repo.redis.record.distinct_names"
	names, err := s.rdb.SMembers(ctx, namesKey).Result()
	if err != nil {
		return nil, wrapErr(op, err)
	}
	var out []string
	for _, name := range names {
		recs, err := s.queryOne(ctx, name, w)
		if err != nil {
			return nil, wrapErr(op, err)
		}
		if len(recs) > 0 {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) queryOne(ctx context.Context, name string, w domain.Window) ([]domain.ProbeRecord, error) {
	if w.Empty() {
		return nil, nil
	}
	members, err := s.rdb.ZRangeByScore(ctx, recordsPrefix+name, &redis.ZRangeBy{
		Min: strconv.FormatInt(w.From.UnixMicro(), 10),
		Max: strconv.FormatInt(w.To.UnixMicro(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ProbeRecord, 0, len(members))
	for _, m := range members {
		var r domain.ProbeRecord
		if err := json.Unmarshal([]byte(m), &r); err != nil {
			return nil, err
		}
		if w.Contains(r.Timestamp) {
			out = append(out, r)
		}
	}
	return out, nil
}

func wrapErr(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperror.New(apperror.RequestTimeout, op, err).WithMessage("request cancelled or timed out")
	}
	return apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
}
