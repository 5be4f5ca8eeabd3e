package mqtt

import (
	"sort"
	"sync"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/mirror"
)

// Manager manages multiple MQTT publishers.
type Manager struct {
	publishers map[string]*Publisher
	mu         sync.RWMutex
	writer     mirror.Writer
}

// NewManager creates a new MQTT manager. writer serves write requests for
// publishers that enable write-back; it may be nil.
func NewManager(writer mirror.Writer) *Manager {
	return &Manager{
		publishers: make(map[string]*Publisher),
		writer:     writer,
	}
}

// LoadFromConfig creates a publisher for every enabled configuration.
func (m *Manager) LoadFromConfig(configs []config.MQTTConfig) {
	for i := range configs {
		if configs[i].Enabled {
			m.Add(NewPublisher(&configs[i]))
		}
	}
}

// Add adds a publisher to the manager.
func (m *Manager) Add(pub *Publisher) {
	m.mu.Lock()
	m.publishers[pub.Name()] = pub
	w := m.writer
	m.mu.Unlock()

	if w != nil {
		pub.SetWriter(w)
	}
}

// Remove stops and removes a publisher by name.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	pub, exists := m.publishers[name]
	if exists {
		delete(m.publishers, name)
	}
	m.mu.Unlock()

	if exists {
		pub.Stop()
	}
}

// Get returns a publisher by name.
func (m *Manager) Get(name string) *Publisher {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.publishers[name]
}

// List returns all publishers sorted by name.
func (m *Manager) List() []*Publisher {
	m.mu.RLock()
	result := make([]*Publisher, 0, len(m.publishers))
	for _, pub := range m.publishers {
		result = append(result, pub)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
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

// StartAll starts every publisher that is not running.
// Returns the number of publishers successfully started.
func (m *Manager) StartAll() int {
	started := 0
	for _, pub := range m.List() {
		if pub.IsRunning() {
			continue
		}
		if err := pub.Start(); err != nil {
			logging.DebugError("mqtt", "start "+pub.Name(), err)
			continue
		}
		started++
	}
	return started
}

// StopAll stops all publishers.
func (m *Manager) StopAll() {
	for _, pub := range m.List() {
		pub.Stop()
	}
}
