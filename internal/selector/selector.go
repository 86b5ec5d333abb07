// Package selector chooses the target instance for a service type from
// healthy, lightly-loaded candidates.
package selector

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/load"
)

// InstanceLister supplies the current instance list for a service type.
type InstanceLister interface {
	ListInstances(ctx context.Context, serviceType string) []string
}

// HealthChecker answers whether an instance's last probe succeeded.
type HealthChecker interface {
	IsHealthy(serviceType, instance string) bool
}

// LoadSampler scrapes an instance's current load, nil when unknown.
type LoadSampler interface {
	SampleLoad(ctx context.Context, serviceType, instance string) *load.Sample
}

// Selector combines the registry list, health view, and load samples into a
// single choice. It never mutates breaker state; outcome attribution belongs
// to the router.
type Selector struct {
	lister  InstanceLister
	health  HealthChecker
	sampler LoadSampler
	logger  *zap.Logger
}

// New creates a selector.
func New(lister InstanceLister, health HealthChecker, sampler LoadSampler, logger *zap.Logger) *Selector {
	return &Selector{
		lister:  lister,
		health:  health,
		sampler: sampler,
		logger:  logger,
	}
}

// Select returns the chosen instance for a service type, or "" when the
// registry has none. Candidates are the registered instances that are
// currently healthy, ordered by sampled load ascending with unknown load
// last; registry order breaks ties. When no candidate is healthy the first
// registered instance is returned as a last resort, which keeps traffic
// flowing when the health view is stale or universally negative.
func (s *Selector) Select(ctx context.Context, serviceType string) string {
	list := s.lister.ListInstances(ctx, serviceType)
	if len(list) == 0 {
		return ""
	}

	healthy := make([]string, 0, len(list))
	for _, instance := range list {
		if s.health.IsHealthy(serviceType, instance) {
			healthy = append(healthy, instance)
		}
	}

	if len(healthy) == 0 {
		s.logger.Warn("no healthy instances, falling back to first registered",
			zap.String("service_type", serviceType),
			zap.String("instance", list[0]))
		return list[0]
	}

	samples := make([]*load.Sample, len(healthy))
	var wg sync.WaitGroup
	for i, instance := range healthy {
		wg.Add(1)
		go func(i int, instance string) {
			defer wg.Done()
			samples[i] = s.sampler.SampleLoad(ctx, serviceType, instance)
		}(i, instance)
	}
	wg.Wait()

	// Stable sort: known load ascending, unknown last, registry order as
	// the tie-break.
	order := make([]int, len(healthy))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		sa, sb := samples[order[a]], samples[order[b]]
		switch {
		case sa == nil:
			return false
		case sb == nil:
			return true
		default:
			return sa.RequestsPerSecond < sb.RequestsPerSecond
		}
	})

	return healthy[order[0]]
}
