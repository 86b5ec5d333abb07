// Package health runs the background liveness monitor for registered
// backend instances.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
	"github.com/In5al/pad-labs-onethree/internal/metrics"
)

// InstanceLister supplies the current instance list for a service type.
type InstanceLister interface {
	ListInstances(ctx context.Context, serviceType string) []string
}

// InstanceHealth is one instance's entry in the health view.
type InstanceHealth struct {
	Instance  string
	Healthy   bool
	LastError string
	CheckedAt time.Time
}

// Monitor probes every registered instance on a fixed interval and keeps a
// boolean health view. Missing entries read as unhealthy. Entries for
// instances that left the registry may linger; readers intersect with the
// current instance list.
type Monitor struct {
	lister       InstanceLister
	serviceTypes []string
	interval     time.Duration
	client       *http.Client
	logger       *zap.Logger
	metrics      *metrics.Metrics

	mu   sync.RWMutex
	view map[string]map[string]InstanceHealth
}

// NewMonitor creates a health monitor. Probes use the backend timeout as a
// hard deadline.
func NewMonitor(lister InstanceLister, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		lister:       lister,
		serviceTypes: cfg.Backend.ServiceTypes,
		interval:     cfg.Health.Interval,
		client: &http.Client{
			Timeout: cfg.Backend.Timeout,
		},
		logger:  logger,
		metrics: m,
		view:    make(map[string]map[string]InstanceHealth),
	}
}

// Run drives probe cycles until ctx is cancelled. An overrunning cycle is
// followed immediately by the next one; cycles are never queued.
func (m *Monitor) Run(ctx context.Context) {
	for {
		start := time.Now()
		m.RunCycle(ctx)

		remaining := m.interval - time.Since(start)
		if remaining <= 0 {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunCycle probes the union of current instance lists once, concurrently.
func (m *Monitor) RunCycle(ctx context.Context) {
	var wg sync.WaitGroup

	for _, serviceType := range m.serviceTypes {
		instances := m.lister.ListInstances(ctx, serviceType)
		for _, instance := range instances {
			wg.Add(1)
			go func(serviceType, instance string) {
				defer wg.Done()
				m.probe(ctx, serviceType, instance)
			}(serviceType, instance)
		}
	}

	wg.Wait()
}

// probe issues one liveness check and records the result.
func (m *Monitor) probe(ctx context.Context, serviceType, instance string) {
	url := fmt.Sprintf("http://%s/ping", instance)

	healthy := false
	var lastError string

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		lastError = err.Error()
	} else {
		resp, err := m.client.Do(req)
		if err != nil {
			lastError = err.Error()
		} else {
			resp.Body.Close()
			healthy = resp.StatusCode == http.StatusOK
			if !healthy {
				lastError = fmt.Sprintf("unexpected status %d", resp.StatusCode)
			}
		}
	}

	if !healthy {
		m.logger.Warn("instance health probe failed",
			zap.String("service_type", serviceType),
			zap.String("instance", instance),
			zap.String("error", lastError))
	}

	m.mu.Lock()
	instances, ok := m.view[serviceType]
	if !ok {
		instances = make(map[string]InstanceHealth)
		m.view[serviceType] = instances
	}
	instances[instance] = InstanceHealth{
		Instance:  instance,
		Healthy:   healthy,
		LastError: lastError,
		CheckedAt: time.Now(),
	}
	m.mu.Unlock()

	m.metrics.SetInstanceHealth(serviceType, instance, healthy)
}

// IsHealthy returns the last recorded probe result; unknown reads as
// unhealthy.
func (m *Monitor) IsHealthy(serviceType, instance string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	instances, ok := m.view[serviceType]
	if !ok {
		return false
	}
	return instances[instance].Healthy
}

// Snapshot returns the recorded health entries for the given instances, in
// the given order. Instances never probed appear unhealthy with no error.
func (m *Monitor) Snapshot(serviceType string, instances []string) []InstanceHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]InstanceHealth, 0, len(instances))
	recorded := m.view[serviceType]
	for _, instance := range instances {
		entry, ok := recorded[instance]
		if !ok {
			entry = InstanceHealth{Instance: instance}
		}
		result = append(result, entry)
	}
	return result
}
