package repo_test

import (
	"testing"

	"github.com/hamed0406/apimonitor/internal/repo"
	"github.com/hamed0406/apimonitor/internal/repo/bolt"
	"github.com/hamed0406/apimonitor/internal/repo/filereg"
	"github.com/hamed0406/apimonitor/internal/repo/memory"
	pg "github.com/hamed0406/apimonitor/internal/repo/postgres"
	rds "github.com/hamed0406/apimonitor/internal/repo/redis"
	"github.com/hamed0406/apimonitor/internal/repo/sqlite"
)

// Compile-time interface satisfaction checks.
// Using external test package avoids import cycle.
func TestInterfaceSatisfaction(t *testing.T) {
	var _ repo.EndpointRegistry = memory.New()
	var _ repo.EndpointWriter = memory.New()
	var _ repo.MetricsSink = memory.New()

	var _ repo.EndpointRegistry = (*pg.Store)(nil)
	var _ repo.EndpointWriter = (*pg.Store)(nil)
	var _ repo.MetricsSink = (*pg.Store)(nil)
	var _ repo.StatsSource = (*pg.Store)(nil)

	var _ repo.EndpointRegistry = (*sqlite.Store)(nil)
	var _ repo.EndpointWriter = (*sqlite.Store)(nil)
	var _ repo.MetricsSink = (*sqlite.Store)(nil)
	var _ repo.StatsSource = (*sqlite.Store)(nil)

	var _ repo.MetricsSink = (*bolt.Store)(nil)
	var _ repo.MetricsSink = (*rds.Store)(nil)

	var _ repo.EndpointRegistry = (*filereg.Registry)(nil)
}
