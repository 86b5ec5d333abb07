package breaker

import (
	"go.uber.org/zap"

	"github.com/In5al/pad-labs-onethree/internal/config"
)

// Manager owns one breaker per recognized service type for the process
// lifetime. The set is fixed at startup; lookups never allocate.
type Manager struct {
	breakers map[string]*Breaker
}

// NewManager creates breakers for the given service types.
func NewManager(serviceTypes []string, cfg *config.BreakerConfig, logger *zap.Logger) *Manager {
	breakers := make(map[string]*Breaker, len(serviceTypes))
	for _, serviceType := range serviceTypes {
		breakers[serviceType] = New(serviceType, cfg, logger)
	}

	return &Manager{breakers: breakers}
}

// Get returns the breaker for a service type, or nil for unrecognized types.
func (m *Manager) Get(serviceType string) *Breaker {
	return m.breakers[serviceType]
}

// SetStateChangeCallback installs the transition hook on every breaker.
func (m *Manager) SetStateChangeCallback(callback StateChangeCallback) {
	for _, b := range m.breakers {
		b.SetStateChangeCallback(callback)
	}
}

// Snapshots returns point-in-time copies of all breakers.
func (m *Manager) Snapshots() map[string]Snapshot {
	snapshots := make(map[string]Snapshot, len(m.breakers))
	for serviceType, b := range m.breakers {
		snapshots[serviceType] = b.GetSnapshot()
	}
	return snapshots
}
