// Package filereg reads the endpoint registry from a YAML file. The file is
// re-read on every List so edits apply on the next sweep.
package filereg

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/hamed0406/apimonitor/internal/apperror"
	"github.com/hamed0406/apimonitor/internal/domain"
	"github.com/hamed0406/apimonitor/internal/repo"
)

var _ repo.EndpointRegistry = (*Registry)(nil)

type fileEndpoint struct {
	Name      string            `yaml:"name"`
	URL       string            `yaml:"url"`
	Method    string            `yaml:"method"`
	Headers   map[string]string `yaml:"headers"`
	Frequency time.Duration     `yaml:"frequency"`
}

type file struct {
	Endpoints []fileEndpoint `yaml:"endpoints"`
}

type Registry struct {
	path string
	log  *zap.Logger
}

func New(path string, log *zap.Logger) *Registry {
	return &Registry{path: path, log: log}
}

// Load parses the file. Invalid entries and duplicate names are skipped with
// a warning; an unreadable or malformed file is an error.
func Load(path string, log *zap.Logger) ([]domain.Endpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read endpoints file: %w", err)
	}
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Endpoints))
	out := make([]domain.Endpoint, 0, len(f.Endpoints))
	for i, fe := range f.Endpoints {
		ep := domain.Endpoint{
			Name:        fe.Name,
			URL:         fe.URL,
			HTTPMethod:  fe.Method,
			Headers:     fe.Headers,
			FrequencyMS: fe.Frequency.Milliseconds(),
		}
		ep.Normalize()
		if err := ep.Validate(); err != nil {
			log.Warn("registry_entry_invalid", zap.Int("index", i), zap.Error(err))
			continue
		}
		if _, dup := seen[ep.Name]; dup {
			log.Warn("registry_entry_duplicate", zap.String("endpoint", ep.Name))
			continue
		}
		seen[ep.Name] = struct{}{}
		ep.ID = domain.EndpointID(ep.Name)
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *Registry) List(ctx context.Context) ([]domain.Endpoint, error) {
	eps, err := Load(r.path, r.log)
	if err != nil {
		return nil, apperror.New(apperror.Dependency, "repo.filereg.endpoint.list", err).
			WithMessage("endpoint registry unavailable")
	}
	return eps, nil
}

// Get looks an endpoint up by id, which for file entries is the name.
func (r *Registry) Get(ctx context.Context, id domain.EndpointID) (*domain.Endpoint, error) {
	const op = "repo.filereg.endpoint.get"
	eps, err := Load(r.path, r.log)
	if err != nil {
		return nil, apperror.New(apperror.Dependency, op, err).WithMessage("endpoint registry unavailable")
	}
	for i := range eps {
		if eps[i].ID == id {
			return &eps[i], nil
		}
	}
	return nil, apperror.New(apperror.NotFound, op, nil).WithMessage("endpoint not found")
}
