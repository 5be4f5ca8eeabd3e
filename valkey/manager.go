package valkey

import (
	"context"
	"errors"
	"sync"

	"clxtag/config"
	"clxtag/mirror"
)

// Manager manages multiple Valkey publishers.
type Manager struct {
	publishers []*Publisher
	mu         sync.RWMutex

	writer mirror.Writer
}

// NewManager creates a new Valkey manager. writer serves write-back for
// publishers that enable it; it may be nil.
func NewManager(writer mirror.Writer) *Manager {
	return &Manager{
		publishers: make([]*Publisher, 0),
		writer:     writer,
	}
}

// LoadFromConfig creates a publisher for every enabled configuration.
func (m *Manager) LoadFromConfig(configs []config.ValkeyConfig) {
	for i := range configs {
		if configs[i].Enabled {
			m.Add(&configs[i])
		}
	}
}

// Add adds a new publisher.
func (m *Manager) Add(cfg *config.ValkeyConfig) *Publisher {
	m.mu.Lock()
	defer m.mu.Unlock()

	pub := NewPublisher(cfg)
	pub.SetWriter(m.writer)
	m.publishers = append(m.publishers, pub)
	return pub
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	var pubToStop *Publisher
	for i, pub := range m.publishers {
		if pub.config.Name == name {
			pubToStop = pub
			m.publishers = append(m.publishers[:i], m.publishers[i+1:]...)
			break
		}
	}
	m.mu.Unlock()

	// Stop outside the lock
	if pubToStop != nil {
		pubToStop.Stop()
		return true
	}
	return false
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, pub := range m.publishers {
		if pub.config.Name == name {
			return pub
		}
	}
	return nil
}

// List returns all publishers.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*Publisher(nil), m.publishers...)
}

// Sinks returns the publishers as mirror sinks.
func (m *Manager) Sinks() []mirror.Sink {
	pubs := m.List()
	sinks := make([]mirror.Sink, len(pubs))
	for i, p := range pubs {
		sinks[i] = p
	}
	return sinks
}

// StartAll connects every publisher. Failures are joined; publishers that
// connected stay running.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, pub := range m.List() {
		if err := pub.Start(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll disconnects every publisher.
func (m *Manager) StopAll() {
	var wg sync.WaitGroup
	for _, pub := range m.List() {
		wg.Add(1)
		go func(p *Publisher) {
			defer wg.Done()
			p.Stop()
		}(pub)
	}
	wg.Wait()
}
