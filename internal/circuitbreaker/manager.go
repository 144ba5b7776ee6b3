package circuitbreaker

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Manager keeps one breaker per named upstream.
type Manager struct {
	breakers map[string]*CircuitBreaker
	mutex    sync.RWMutex
	logger   *logrus.Logger
}

func NewManager(logger *logrus.Logger) *Manager {
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		logger:   logger,
	}
}

// GetOrCreate returns the breaker registered under name. config is only
// used the first time the name is seen.
func (m *Manager) GetOrCreate(name string, config Config) *CircuitBreaker {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if breaker, exists := m.breakers[name]; exists {
		return breaker
	}

	config.Name = name
	breaker := New(config, m.logger)
	m.breakers[name] = breaker

	m.logger.WithFields(logrus.Fields{
		"circuit_breaker": name,
		"max_failures":    breaker.maxFailures,
		"timeout":         breaker.timeout.String(),
		"max_requests":    breaker.maxRequests,
	}).Info("Circuit breaker created")

	return breaker
}

func (m *Manager) Get(name string) *CircuitBreaker {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.breakers[name]
}

// Snapshots reports every registered breaker keyed by name.
func (m *Manager) Snapshots() map[string]Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]Snapshot, len(m.breakers))
	for name, breaker := range m.breakers {
		out[name] = breaker.Snapshot()
	}
	return out
}

// States reports the current state of every registered breaker.
func (m *Manager) States() map[string]State {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	out := make(map[string]State, len(m.breakers))
	for name, breaker := range m.breakers {
		out[name] = breaker.State()
	}
	return out
}

func (m *Manager) Reset(name string) bool {
	m.mutex.RLock()
	breaker, exists := m.breakers[name]
	m.mutex.RUnlock()

	if !exists {
		return false
	}
	breaker.Reset()
	m.logger.WithField("circuit_breaker", name).Info("Circuit breaker reset")
	return true
}

func (m *Manager) ResetAll() {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	for _, breaker := range m.breakers {
		breaker.Reset()
	}
	m.logger.Info("All circuit breakers reset")
}
