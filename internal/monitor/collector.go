package monitor

import (
	"context"
	"time"

	"github.com/rileyhilliard/meshctl/internal/backup"
	"github.com/rileyhilliard/meshctl/internal/service"
	"github.com/rileyhilliard/meshctl/internal/status"
)

// SnapshotsKey is the status cache key for the snapshot listing.
const SnapshotsKey = "backup:snapshots"

// SnapshotLister lists stored snapshots, oldest first.
type SnapshotLister interface {
	ListSnapshots() ([]backup.Snapshot, error)
}

// ServiceStatus is one service's row in a report.
type ServiceStatus struct {
	Name    string
	State   service.State
	Version string
	Err     error
}

// Report is a point-in-time view of the node.
type Report struct {
	Services    []ServiceStatus
	Snapshots   []backup.Snapshot
	SnapshotErr error
	CollectedAt time.Time
}

// Running counts services reported as running.
func (r Report) Running() int {
	n := 0
	for _, s := range r.Services {
		if s.State == service.StateRunning {
			n++
		}
	}
	return n
}

// Latest returns the newest snapshot, if any.
func (r Report) Latest() (backup.Snapshot, bool) {
	if len(r.Snapshots) == 0 {
		return backup.Snapshot{}, false
	}
	return r.Snapshots[len(r.Snapshots)-1], true
}

// Collector produces Reports from the service controllers and the
// snapshot store.
type Collector struct {
	services []*service.Controller
	backups  SnapshotLister
	cache    *status.Cache
	now      func() time.Time
}

// NewCollector creates a collector. backups may be nil when no snapshot
// store is configured.
func NewCollector(cache *status.Cache, backups SnapshotLister, services ...*service.Controller) *Collector {
	return &Collector{
		services: services,
		backups:  backups,
		cache:    cache,
		now:      time.Now,
	}
}

// Services returns the names of the services the collector reports on.
func (c *Collector) Services() []string {
	names := make([]string, len(c.services))
	for i, s := range c.services {
		names[i] = s.Name()
	}
	return names
}

// Collect reads every service and the snapshot listing. A failing reading
// is recorded in the report rather than aborting the rest.
func (c *Collector) Collect(ctx context.Context) Report {
	r := Report{CollectedAt: c.now()}

	for _, svc := range c.services {
		st := ServiceStatus{Name: svc.Name()}
		st.State, st.Err = svc.Status(ctx)
		if st.Err == nil && len(svc.Descriptor().VersionCommand) > 0 {
			if v, err := svc.Version(ctx); err == nil {
				st.Version = v
			}
		}
		r.Services = append(r.Services, st)
	}

	if c.backups != nil {
		r.Snapshots, r.SnapshotErr = status.Fetch(c.cache, SnapshotsKey, c.cache.DefaultTTL(), c.backups.ListSnapshots)
	}
	return r
}

// Invalidate drops every cached reading so the next Collect probes afresh.
func (c *Collector) Invalidate() {
	c.cache.InvalidateAll()
}
