package bolt

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.MetricsSink = (*Store)(nil)

// RecordsBucket holds one nested bucket per endpoint name. Keys inside are
// big-endian unix nanos followed by the bucket sequence, so a cursor walks a
// window in time order.
var RecordsBucket = []byte("records")

type Store struct {
	db *bbolt.DB
}

func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open BoltDB: %w", err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(RecordsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize buckets: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Append(ctx context.Context, r *domain.ProbeRecord) error {
	const op = "repo.bolt.record.append"
	if err := ctx.Err(); err != nil {
		return apperror.New(apperror.RequestTimeout, op, err)
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	val, err := json.Marshal(r)
	if err != nil {
		return apperror.New(apperror.InvalidInput, op, err)
	}
	err = s.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(RecordsBucket).CreateBucketIfNotExists([]byte(r.EndpointName))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(recordKey(r.Timestamp, seq), val)
	})
	if err != nil {
		return apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
	}
	return nil
}

func (s *Store) Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error) {
	const op = "repo.bolt.record.query"
	if err := ctx.Err(); err != nil {
		return nil, apperror.New(apperror.RequestTimeout, op, err)
	}
	var out []domain.ProbeRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(RecordsBucket)
		if endpointName != "" {
			b := root.Bucket([]byte(endpointName))
			if b == nil {
				return nil
			}
			return scanWindow(b, w, func(v []byte) error {
				var r domain.ProbeRecord
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
		}
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil
			}
			return scanWindow(root.Bucket(name), w, func(v []byte) error {
				var r domain.ProbeRecord
				if err := json.Unmarshal(v, &r); err != nil {
					return err
				}
				out = append(out, r)
				return nil
			})
		})
	})
	if err != nil {
		return nil, apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
	}
	if endpointName == "" {
		sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	}
	return out, nil
}

func (s *Store) DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error) {
	const op = "repo.bolt.record.distinct_names"
	if err := ctx.Err(); err != nil {
		return nil, apperror.New(apperror.RequestTimeout, op, err)
	}
	var names []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		root := tx.Bucket(RecordsBucket)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil
			}
			c := root.Bucket(name).Cursor()
			k, _ := c.Seek(timeKey(w.From))
			if k != nil && bytes.Compare(k[:8], timeKey(w.To)) < 0 {
				names = append(names, string(name))
			}
			return nil
		})
	})
	if err != nil {
		return nil, apperror.New(apperror.DatabaseErr, op, err).WithMessage("storage unavailable")
	}
	sort.Strings(names)
	return names, nil
}

func scanWindow(b *bbolt.Bucket, w domain.Window, fn func(v []byte) error) error {
	upper := timeKey(w.To)
	c := b.Cursor()
	for k, v := c.Seek(timeKey(w.From)); k != nil && bytes.Compare(k[:8], upper) < 0; k, v = c.Next() {
		if err := fn(v); err != nil {
			return err
		}
	}
	return nil
}

func timeKey(t time.Time) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(t.UnixNano()))
	return k
}

func recordKey(t time.Time, seq uint64) []byte {
	k := make([]byte, 16)
	binary.BigEndian.PutUint64(k[:8], uint64(t.UnixNano()))
	binary.BigEndian.PutUint64(k[8:], seq)
	return k
}
