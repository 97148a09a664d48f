// Package export publishes the dashboard snapshot to Redis so external
// dashboards can read the fleet state without hitting the hub. Write-only:
// the hub never reads the key back, so the registry stays in-memory only.
package export

import (
	"context"
	"time"

	"github.com/carlossalguero/hub/internal/shared/cache"
	"github.com/carlossalguero/hub/internal/shared/logger"
)

// SnapshotKey is the Redis key (under the client's prefix) holding the
// exported dashboard JSON.
const SnapshotKey = "dashboard:snapshot"

// DefaultTTL bounds how long a snapshot outlives a dead hub.
const DefaultTTL = 5 * time.Minute

// Exporter writes dashboard snapshots to Redis.
type Exporter struct {
	cache    *cache.Client
	snapshot func() any
	ttl      time.Duration
	logger   *logger.Logger
}

// Config holds exporter configuration.
type Config struct {
	Cache    *cache.Client
	Snapshot func() any
	TTL      time.Duration
	Logger   *logger.Logger
}

// New creates an Exporter.
func New(cfg Config) *Exporter {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Exporter{
		cache:    cfg.Cache,
		snapshot: cfg.Snapshot,
		ttl:      ttl,
		logger:   log.WithComponent("export"),
	}
}

// Publish stores the current snapshot. Failures are logged and swallowed;
// the export is advisory and never affects request handling.
func (e *Exporter) Publish(ctx context.Context) {
	if e.cache == nil || e.snapshot == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := e.cache.SetJSON(ctx, SnapshotKey, e.snapshot(), e.ttl); err != nil {
		e.logger.Warn("snapshot export failed", "error", err)
	}
}
