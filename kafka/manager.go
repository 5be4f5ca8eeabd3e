package kafka

import (
	"context"
	"errors"
	"sort"
	"sync"

	"clxtag/config"
	"clxtag/mirror"
)

// Cluster is one configured Kafka cluster: its producer and, when write-back
// is enabled, its consumer.
type Cluster struct {
	Config   *config.KafkaConfig
	Producer *Producer
	Consumer *Consumer
}

// Manager manages the configured Kafka clusters.
type Manager struct {
	clusters map[string]*Cluster
	mu       sync.RWMutex
	writer   mirror.Writer
}

// NewManager creates a new Kafka manager. writer serves write-back; it may
// be nil.
func NewManager(writer mirror.Writer) *Manager {
	return &Manager{
		clusters: make(map[string]*Cluster),
		writer:   writer,
	}
}

// LoadFromConfig adds every enabled cluster.
func (m *Manager) LoadFromConfig(configs []config.KafkaConfig) {
	for i := range configs {
		if configs[i].Enabled {
			m.AddCluster(&configs[i])
		}
	}
}

// AddCluster registers a cluster, replacing one of the same name.
func (m *Manager) AddCluster(cfg *config.KafkaConfig) *Cluster {
	producer := NewProducer(cfg)
	c := &Cluster{Config: cfg, Producer: producer}
	if cfg.EnableWriteback {
		c.Consumer = NewConsumer(cfg, producer, m.writer)
	}

	m.mu.Lock()
	old := m.clusters[cfg.Name]
	m.clusters[cfg.Name] = c
	m.mu.Unlock()

	if old != nil {
		stopCluster(old)
	}
	return c
}

// RemoveCluster stops and removes a cluster.
func (m *Manager) RemoveCluster(name string) bool {
	m.mu.Lock()
	c, ok := m.clusters[name]
	delete(m.clusters, name)
	m.mu.Unlock()

	if ok {
		stopCluster(c)
	}
	return ok
}

// GetCluster returns a cluster by name.
func (m *Manager) GetCluster(name string) *Cluster {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.clusters[name]
}

// ListClusters returns all clusters sorted by name.
func (m *Manager) ListClusters() []*Cluster {
	m.mu.RLock()
	out := make([]*Cluster, 0, len(m.clusters))
	for _, c := range m.clusters {
		out = append(out, c)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Config.Name < out[j].Config.Name })
	return out
}

// Sinks returns the producers as mirror sinks.
func (m *Manager) Sinks() []mirror.Sink {
	clusters := m.ListClusters()
	sinks := make([]mirror.Sink, len(clusters))
	for i, c := range clusters {
		sinks[i] = c.Producer
	}
	return sinks
}

// StartAll connects every producer and starts the consumers of the clusters
// that connected. Failures are joined.
func (m *Manager) StartAll(ctx context.Context) error {
	var errs []error
	for _, c := range m.ListClusters() {
		if err := c.Producer.Connect(ctx); err != nil {
			errs = append(errs, err)
			continue
		}
		if c.Consumer != nil {
			if err := c.Consumer.Start(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every consumer and disconnects every producer.
func (m *Manager) StopAll() {
	for _, c := range m.ListClusters() {
		stopCluster(c)
	}
}

func stopCluster(c *Cluster) {
	if c.Consumer != nil {
		c.Consumer.Stop()
	}
	c.Producer.Disconnect()
}
