// Package sweeper runs the periodic stale/evict pass over the registry.
// Liveness is defined solely by incoming heartbeats; the sweeper never probes
// services.
package sweeper

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/carlossalguero/hub/internal/hub/logring"
	"github.com/carlossalguero/hub/internal/hub/registry"
	"github.com/carlossalguero/hub/internal/shared/events"
	"github.com/carlossalguero/hub/internal/shared/logger"
	"github.com/carlossalguero/hub/internal/shared/metrics"
)

// Default thresholds. Stale tolerates three missed 5-minute heartbeats.
const (
	DefaultStaleThreshold = 15 * time.Minute
	DefaultEvictThreshold = 60 * time.Minute
	DefaultTick           = 60 * time.Second
)

// Config holds sweeper configuration.
type Config struct {
	Registry       *registry.Registry
	Ring           *logring.Ring
	Metrics        *metrics.Metrics
	Events         *events.Client
	Logger         *logger.Logger
	StaleThreshold time.Duration
	EvictThreshold time.Duration
	Tick           time.Duration
	// OnChange runs after a pass that evicted at least one service.
	OnChange func(ctx context.Context)
}

// Sweeper marks stale and evicts dead services on a fixed cadence.
type Sweeper struct {
	registry *registry.Registry
	ring     *logring.Ring
	metrics  *metrics.Metrics
	events   *events.Client
	logger   *logger.Logger
	stale    time.Duration
	evict    time.Duration
	tick     time.Duration
	onChange func(ctx context.Context)
	cron     *cron.Cron
}

// New creates a Sweeper with defaults filled in.
func New(cfg Config) *Sweeper {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	if cfg.StaleThreshold <= 0 {
		cfg.StaleThreshold = DefaultStaleThreshold
	}
	if cfg.EvictThreshold <= 0 {
		cfg.EvictThreshold = DefaultEvictThreshold
	}
	if cfg.Tick <= 0 {
		cfg.Tick = DefaultTick
	}

	return &Sweeper{
		registry: cfg.Registry,
		ring:     cfg.Ring,
		metrics:  cfg.Metrics,
		events:   cfg.Events,
		logger:   log.WithComponent("sweeper"),
		stale:    cfg.StaleThreshold,
		evict:    cfg.EvictThreshold,
		tick:     cfg.Tick,
		onChange: cfg.OnChange,
	}
}

// Start schedules the periodic pass. Returns an error if the schedule cannot
// be installed.
func (s *Sweeper) Start() error {
	s.cron = cron.New()
	spec := fmt.Sprintf("@every %s", s.tick)
	if _, err := s.cron.AddFunc(spec, func() {
		s.Sweep(context.Background())
	}); err != nil {
		return fmt.Errorf("scheduling sweeper: %w", err)
	}
	s.cron.Start()
	s.logger.Info("sweeper started",
		"tick", s.tick.String(),
		"stale_threshold", s.stale.String(),
		"evict_threshold", s.evict.String(),
	)
	return nil
}

// Stop cancels the schedule and waits for an in-flight pass to finish.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
}

// Sweep performs one pass: stale marking first, then unconditional eviction
// of records past the evict threshold. Each transition is logged as SWEEP.
func (s *Sweeper) Sweep(ctx context.Context) {
	for _, name := range s.registry.MarkStaleOlderThan(s.stale) {
		s.note(name, "marked stale")
		if s.metrics != nil {
			s.metrics.RecordSweepTransition("stale")
		}
		s.publish(ctx, events.EventServiceStale, name)
	}

	evicted := s.registry.EvictOlderThan(s.evict)
	for _, name := range evicted {
		s.note(name, "evicted")
		if s.metrics != nil {
			s.metrics.RecordSweepTransition("evict")
		}
		s.publish(ctx, events.EventServiceEvicted, name)
	}

	if s.metrics != nil {
		s.metrics.SetRegisteredServices(s.registry.Len())
	}
	if len(evicted) > 0 && s.onChange != nil {
		s.onChange(ctx)
	}
}

func (s *Sweeper) note(name, what string) {
	if s.ring != nil {
		s.ring.Append(logring.Entry{
			Timestamp: time.Now().UTC(),
			Level:     "INFO",
			Category:  logring.CategorySweep,
			Message:   fmt.Sprintf("Service '%s' %s", name, what),
			Context:   &logring.Context{Service: name},
		})
	}
	s.logger.Info("sweep transition", "service", name, "action", what)
}

func (s *Sweeper) publish(ctx context.Context, eventType, name string) {
	if s.events == nil {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.events.PublishRegistryEvent(pubCtx, eventType, name, nil); err != nil {
		s.logger.Debug("sweep event publish failed", "error", err)
	}
}
