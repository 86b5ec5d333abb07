// Package load scrapes per-instance load metrics on demand.
package load

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
)

// Sample is one freshness-stamped load reading for an instance.
type Sample struct {
	RequestsPerSecond float64   `json:"requestsPerSecond"`
	SampledAt         time.Time `json:"-"`
}

// RESTAddress resolves the host:port an instance serves REST traffic on.
// Registered addresses that already carry a port are used verbatim;
// otherwise the configured backend REST port is appended.
func RESTAddress(instance string, restPort int) string {
	if _, _, err := net.SplitHostPort(instance); err == nil {
		return instance
	}
	return net.JoinHostPort(instance, strconv.Itoa(restPort))
}

// Sampler scrapes instance metrics endpoints and keeps the latest sample
// per instance. Selection threads write their own keys concurrently.
type Sampler struct {
	client            *http.Client
	restPort          int
	criticalThreshold float64
	freshness         time.Duration
	logger            *zap.Logger

	mu      sync.RWMutex
	samples map[string]Sample
}

// NewSampler creates a load sampler. Samples older than one health interval
// read as unknown.
func NewSampler(cfg *config.Config, logger *zap.Logger) *Sampler {
	return &Sampler{
		client: &http.Client{
			Timeout: cfg.Backend.Timeout,
		},
		restPort:          cfg.Backend.RestPort,
		criticalThreshold: cfg.Backend.CriticalLoadThreshold,
		freshness:         cfg.Health.Interval,
		logger:            logger,
		samples:           make(map[string]Sample),
	}
}

// SampleLoad scrapes one instance's metrics endpoint. On any failure it
// returns nil; the caller treats the instance's load as unknown.
func (s *Sampler) SampleLoad(ctx context.Context, serviceType, instance string) *Sample {
	url := fmt.Sprintf("http://%s/metrics", RESTAddress(instance, s.restPort))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		s.logger.Warn("failed to build load sample request",
			zap.String("instance", instance),
			zap.Error(err))
		return nil
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Warn("load sample failed",
			zap.String("service_type", serviceType),
			zap.String("instance", instance),
			zap.Error(err))
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.logger.Warn("load sample returned unexpected status",
			zap.String("instance", instance),
			zap.Int("status", resp.StatusCode))
		return nil
	}

	var sample Sample
	if err := json.NewDecoder(resp.Body).Decode(&sample); err != nil {
		s.logger.Warn("failed to decode load sample",
			zap.String("instance", instance),
			zap.Error(err))
		return nil
	}
	sample.SampledAt = time.Now()

	if sample.RequestsPerSecond > s.criticalThreshold {
		s.logger.Warn("instance under critical load",
			zap.String("service_type", serviceType),
			zap.String("instance", instance),
			zap.Float64("requests_per_second", sample.RequestsPerSecond),
			zap.Float64("threshold", s.criticalThreshold))
	}

	s.mu.Lock()
	s.samples[instance] = sample
	s.mu.Unlock()

	return &sample
}

// Lookup returns the stored sample for an instance if it is still fresh.
func (s *Sampler) Lookup(instance string) (Sample, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.samples[instance]
	if !ok || time.Since(sample.SampledAt) > s.freshness {
		return Sample{}, false
	}
	return sample, true
}
