// Package health aggregates component probes into a single service flag
// served by the health endpoint.
package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Pinger is implemented by components that can answer a liveness probe.
type Pinger interface {
	HealthPing(ctx context.Context) error
}

// Checker is implemented by component-level checkers.
type Checker interface {
	Name() string
	IsHealthy() bool
	Start(ctx context.Context, interval time.Duration)
}

// ServiceHealthChecker aggregates component checkers into one flag.
type ServiceHealthChecker struct {
	healthy atomic.Int32
	deps    []Checker
	log     zerolog.Logger
}

// NewServiceHealthChecker constructs the aggregate checker. The service
// starts unhealthy until the first evaluation passes.
func NewServiceHealthChecker(log zerolog.Logger, deps ...Checker) *ServiceHealthChecker {
	h := &ServiceHealthChecker{deps: deps, log: log}
	h.healthy.Store(0)
	return h
}

// IsHealthy returns cached service health.
func (h *ServiceHealthChecker) IsHealthy() bool { return h.healthy.Load() == 1 }

// Start periodically evaluates dependency health and updates the flag.
func (h *ServiceHealthChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := int32(0)
	eval := func() {
		all := true
		for _, c := range h.deps {
			if !c.IsHealthy() {
				all = false
			}
		}
		if all {
			h.healthy.Store(1)
		} else {
			h.healthy.Store(0)
		}
		cur := h.healthy.Load()
		if cur != prev {
			if cur == 1 {
				h.log.Info().Msg("service health: UP")
			} else {
				h.log.Error().Msg("service health: DOWN")
			}
			prev = cur
		}
	}

	eval()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			eval()
		}
	}
}

// PingChecker probes one Pinger on an interval and caches the result.
type PingChecker struct {
	name         string
	target       Pinger
	healthy      atomic.Int32
	probeTimeout time.Duration
	log          zerolog.Logger
}

// NewPingChecker constructs a PingChecker. It starts unhealthy until the
// first successful probe.
func NewPingChecker(name string, target Pinger, probeTimeout time.Duration, log zerolog.Logger) *PingChecker {
	c := &PingChecker{
		name:         name,
		target:       target,
		probeTimeout: probeTimeout,
		log:          log,
	}
	c.healthy.Store(0)
	return c
}

// Name returns the checker name.
func (c *PingChecker) Name() string { return c.name }

// IsHealthy returns the cached probe result without blocking.
func (c *PingChecker) IsHealthy() bool { return c.healthy.Load() == 1 }

// Start begins periodic probing until ctx is canceled.
func (c *PingChecker) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	check := func() {
		to := c.probeTimeout
		if to <= 0 {
			to = 2 * time.Second
		}
		probeCtx, cancel := context.WithTimeout(ctx, to)
		defer cancel()

		if err := c.target.HealthPing(probeCtx); err != nil {
			if c.healthy.Swap(0) == 1 {
				c.log.Warn().Err(err).Str("checker", c.name).Msg("health probe failed")
			}
			return
		}
		c.healthy.Store(1)
	}

	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}
