package repo

import (
	"context"

	"github.com/hamed0406/apimonitor/internal/domain"
)

// Ports (interfaces). Every storage adapter implements some of these.

// EndpointRegistry supplies the endpoints to monitor. List must reflect the
// latest known configuration; Get returns an apperror NotFound when the id is
// unknown.
type EndpointRegistry interface {
	List(ctx context.Context) ([]domain.Endpoint, error)
	Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error)
}

// EndpointWriter is implemented by registries that persist endpoints.
// Upsert is keyed by Name: an existing endpoint keeps its ID.
type EndpointWriter interface {
	Upsert(ctx context.Context, ep *domain.Endpoint) error
}

// MetricsSink is the append-only store of probe records. Query and
// DistinctEndpointNames use the half-open window [from, to); an empty name
// in Query means every endpoint.
type MetricsSink interface {
	Append(ctx context.Context, r *domain.ProbeRecord) error
	Query(ctx context.Context, endpointName string, w domain.Window) ([]domain.ProbeRecord, error)
	DistinctEndpointNames(ctx context.Context, w domain.Window) ([]string, error)
}

// StatsSource is an optional push-down a sink may implement. Results must be
// identical to reducing Query(ctx, endpointName, w).
type StatsSource interface {
	WindowStats(ctx context.Context, endpointName string, w domain.Window) (domain.WindowStats, error)
}
