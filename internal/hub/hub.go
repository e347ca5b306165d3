package hub

import (
	"context"
	"sync"
	"time"

	"classpulse/internal/websocket"
	"classpulse/pkg/logger"
	"classpulse/pkg/metrics"
)

// RateLimitCleaner drops idle per-connection rate-limit state
type RateLimitCleaner interface {
	CleanupRateLimits() int
}

// GroupStats reports the size of the connection-group registry
type GroupStats interface {
	Stats() websocket.RegistryStats
}

// Hub runs periodic housekeeping for the connection side of the service
// ARCHITECTURAL DISCOVERY: Per-message work happens on each connection's read goroutine;
// the hub only owns what no single connection is responsible for
type Hub struct {
	limits   RateLimitCleaner
	groups   GroupStats
	interval time.Duration
	log      logger.Logger

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	mu       sync.RWMutex
	running  bool
	shutdown chan struct{}
	done     chan struct{}
}

// NewHub creates a hub that sweeps every interval
func NewHub(limits RateLimitCleaner, groups GroupStats, interval time.Duration, log logger.Logger) (*Hub, error) {
	if interval <= 0 {
		return nil, ErrInvalidInterval
	}
	return &Hub{
		limits:   limits,
		groups:   groups,
		interval: interval,
		log:      log,
	}, nil
}

// Start launches the sweep goroutine
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	h.log.Info(ctx, "Starting housekeeping hub", logger.Duration("interval", h.interval))
	go h.run(ctx, h.shutdown, h.done)
	return nil
}

// Stop signals the sweep goroutine and waits for it to exit
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)
	done := h.done
	h.mu.Unlock()

	<-done
	return nil
}

// Running reports whether the sweep goroutine is active
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.Sweep(ctx)
		case <-shutdown:
			h.log.Info(ctx, "Housekeeping hub stopped")
			return
		case <-ctx.Done():
			h.log.Info(ctx, "Housekeeping hub context cancelled")
			return
		}
	}
}

// Sweep runs one housekeeping pass and returns the number of rate-limit entries dropped
func (h *Hub) Sweep(ctx context.Context) int {
	removed := 0
	if h.limits != nil {
		removed = h.limits.CleanupRateLimits()
	}

	if h.groups != nil {
		stats := h.groups.Stats()
		metrics.UpdateGroupsActive(stats.Groups)
		h.log.Debug(ctx, "Housekeeping sweep",
			logger.Int("groups", stats.Groups),
			logger.Int("connections", stats.Connections),
			logger.Int("rate_limits_dropped", removed))
	}
	return removed
}
