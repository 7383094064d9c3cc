package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var (
	_ repo.EndpointRegistry = (*Store)(nil)
	_ repo.EndpointWriter   = (*Store)(nil)
	_ repo.MetricsSink      = (*Store)(nil)
)

type Store struct {
	mu        sync.RWMutex
	endpoints map[domain.EndpointID]*domain.Endpoint
	byName    map[string]domain.EndpointID
	records   []domain.ProbeRecord
}

func New() *Store {
	return &Store{
		endpoints: make(map[domain.EndpointID]*domain.Endpoint),
		byName:    make(map[string]domain.EndpointID),
		records:   make([]domain.ProbeRecord, 0, 128),
	}
}

// ---- EndpointRegistry ----

func (m *Store) Upsert(ctx context.Context, ep *domain.Endpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if id, ok := m.byName[ep.Name]; ok {
		ep.ID = id
		ep.CreatedAt = m.endpoints[id].CreatedAt
	} else {
		if ep.ID == "" {
			ep.ID = domain.EndpointID(uuid.NewString())
		}
		ep.CreatedAt = now
	}
	ep.UpdatedAt = now
	cp := cloneEndpoint(*ep)
	m.endpoints[ep.ID] = &cp
	m.byName[ep.Name] = ep.ID
	return nil
}

func (m *Store) List(ctx context.Context) ([]domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Endpoint, 0, len(m.endpoints))
	for _, ep := range m.endpoints {
		out = append(out, cloneEndpoint(*ep))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *Store) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ep, ok := m.endpoints[id]
	if !ok {
		return nil, apperror.New(apperror.NotFound, "repo.memory.endpoint.get", nil).
			WithMessage("endpoint not found")
	}
	cp := cloneEndpoint(*ep)
	return &cp, nil
}

// ---- MetricsSink ----

func (m *Store) Append(ctx context.Context, r *domain.ProbeRecord) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *r)
	return nil
}

func (m *Store) Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []domain.ProbeRecord
	for _, r := range m.records {
		if endpointName != "" && r.EndpointName != endpointName {
			continue
		}
		if !w.Contains(r.Timestamp) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *Store) DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, r := range m.records {
		if w.Contains(r.Timestamp) {
			seen[r.EndpointName] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

func cloneEndpoint(ep domain.Endpoint) domain.Endpoint {
	if ep.Headers != nil {
		h := make(map[string]string, len(ep.Headers))
		for k, v := range ep.Headers {
			h[k] = v
		}
		ep.Headers = h
	}
	return ep
}
