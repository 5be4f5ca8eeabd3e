// Package config handles configuration persistence for the clxtag gateway.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"clxtag/tag"
)

// Defaults applied to PLC entries that leave the field empty.
const (
	DefaultTimeout = 5 * time.Second
	DefaultRoute   = "1,0"
)

// Config holds the complete gateway configuration.
type Config struct {
	PLCs     []PLCConfig    `yaml:"plcs"`
	API      APIConfig      `yaml:"api"`
	Mirror   MirrorConfig   `yaml:"mirror"`
	Valkey   []ValkeyConfig `yaml:"valkey,omitempty"`
	MQTT     []MQTTConfig   `yaml:"mqtt,omitempty"`
	Kafka    []KafkaConfig  `yaml:"kafka,omitempty"`
	DebugLog DebugLogConfig `yaml:"debug_log,omitempty"`

	// dataMu guards the fields above while a copy is marshalled.
	dataMu sync.Mutex `yaml:"-"`
}

// PLCConfig describes one logical controller connection.
type PLCConfig struct {
	Name    string        `yaml:"name"`
	Address string        `yaml:"address"`
	Path    string        `yaml:"path,omitempty"` // port,link route, e.g. "1,0"
	Slot    int           `yaml:"slot,omitempty"` // shorthand for path "1,<slot>"
	PLC     string        `yaml:"plc,omitempty"`  // controllogix, compactlogix, micro800
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Route returns the configured route, falling back to the backplane slot.
func (p *PLCConfig) Route() string {
	if p.Path != "" {
		return p.Path
	}
	if p.Slot > 0 {
		return fmt.Sprintf("1,%d", p.Slot)
	}
	return DefaultRoute
}

// Family returns the controller family, defaulting to ControlLogix.
func (p *PLCConfig) Family() string {
	if p.PLC == "" {
		return tag.PLCControlLogix
	}
	return strings.ToLower(p.PLC)
}

// GetTimeout returns the per-operation timeout, defaulting to 5s.
func (p *PLCConfig) GetTimeout() time.Duration {
	if p.Timeout <= 0 {
		return DefaultTimeout
	}
	return p.Timeout
}

// APIConfig holds the REST server configuration.
type APIConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Host       string `yaml:"host"`
	Port       int    `yaml:"port"`
	APIKeyHash string `yaml:"api_key_hash,omitempty"` // bcrypt hash of the X-API-Key value
}

// Address returns host:port for net.Listen.
func (a APIConfig) Address() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// MirrorConfig tunes the fan-out of tag activity to the configured sinks.
type MirrorConfig struct {
	Workers   int  `yaml:"workers"`
	QueueSize int  `yaml:"queue_size"`
	Reads     bool `yaml:"reads"` // mirror successful reads as well as writes
}

// ValkeyConfig holds Valkey/Redis publisher configuration.
type ValkeyConfig struct {
	Name            string        `yaml:"name"`
	Enabled         bool          `yaml:"enabled"`
	Address         string        `yaml:"address"` // host:port
	Password        string        `yaml:"password,omitempty"`
	Database        int           `yaml:"database"`
	UseTLS          bool          `yaml:"use_tls,omitempty"`
	KeyPrefix       string        `yaml:"key_prefix,omitempty"`
	KeyTTL          time.Duration `yaml:"key_ttl,omitempty"` // 0 = no expiry
	PublishChanges  bool          `yaml:"publish_changes,omitempty"`
	EnableWriteback bool          `yaml:"enable_writeback,omitempty"`
}

// MQTTConfig holds MQTT publisher configuration.
type MQTTConfig struct {
	Name            string `yaml:"name"`
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	Port            int    `yaml:"port"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	UseTLS          bool   `yaml:"use_tls,omitempty"`
	RootTopic       string `yaml:"root_topic"`
	EnableWriteback bool   `yaml:"enable_writeback,omitempty"`
}

// KafkaConfig holds Kafka cluster configuration.
type KafkaConfig struct {
	Name          string   `yaml:"name"`
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	Topic         string   `yaml:"topic"`
	UseTLS        bool     `yaml:"use_tls,omitempty"`
	TLSSkipVerify bool     `yaml:"tls_skip_verify,omitempty"`
	SASLMechanism string   `yaml:"sasl_mechanism,omitempty"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username      string   `yaml:"username,omitempty"`
	Password      string   `yaml:"password,omitempty"`
	RequiredAcks  int      `yaml:"required_acks,omitempty"` // 1=leader, anything else=all replicas
	MaxRetries    int      `yaml:"max_retries,omitempty"`

	EnableWriteback bool   `yaml:"enable_writeback,omitempty"`
	WriteTopic      string `yaml:"write_topic,omitempty"`    // default <topic>.writes
	ConsumerGroup   string `yaml:"consumer_group,omitempty"` // default clxtag-<name>-writers
}

// GetWriteTopic returns the topic consumed for write requests.
func (k *KafkaConfig) GetWriteTopic() string {
	if k.WriteTopic != "" {
		return k.WriteTopic
	}
	return k.Topic + ".writes"
}

// GetConsumerGroup returns the consumer group for write requests.
func (k *KafkaConfig) GetConsumerGroup() string {
	if k.ConsumerGroup != "" {
		return k.ConsumerGroup
	}
	return "clxtag-" + k.Name + "-writers"
}

// DebugLogConfig enables the protocol debug log.
type DebugLogConfig struct {
	Path   string `yaml:"path,omitempty"`
	Filter string `yaml:"filter,omitempty"` // comma separated protocols, empty = all
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		PLCs: []PLCConfig{},
		API: APIConfig{
			Enabled: true,
			Host:    "0.0.0.0",
			Port:    8080,
		},
		Mirror: MirrorConfig{
			Workers:   4,
			QueueSize: 1000,
			Reads:     true,
		},
	}
}

// DefaultPath returns the default configuration file path (~/.clxtag/config.yaml).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".clxtag", "config.yaml")
}

// Load reads configuration from a YAML file. A missing file yields the
// defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to path, creating its directory.
func (c *Config) Save(path string) error {
	c.dataMu.Lock()
	data, err := yaml.Marshal(c)
	c.dataMu.Unlock()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// FindPLC returns the PLC config with the given name, or nil if not found.
func (c *Config) FindPLC(name string) *PLCConfig {
	for i := range c.PLCs {
		if c.PLCs[i].Name == name {
			return &c.PLCs[i]
		}
	}
	return nil
}

// AddPLC adds a new PLC configuration.
func (c *Config) AddPLC(plc PLCConfig) {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	c.PLCs = append(c.PLCs, plc)
}

// RemovePLC removes a PLC by name.
func (c *Config) RemovePLC(name string) bool {
	c.dataMu.Lock()
	defer c.dataMu.Unlock()
	for i, plc := range c.PLCs {
		if plc.Name == name {
			c.PLCs = append(c.PLCs[:i], c.PLCs[i+1:]...)
			return true
		}
	}
	return false
}

// FindValkey returns the Valkey config with the given name, or nil if not found.
func (c *Config) FindValkey(name string) *ValkeyConfig {
	for i := range c.Valkey {
		if c.Valkey[i].Name == name {
			return &c.Valkey[i]
		}
	}
	return nil
}

// FindMQTT returns the MQTT config with the given name, or nil if not found.
func (c *Config) FindMQTT(name string) *MQTTConfig {
	for i := range c.MQTT {
		if c.MQTT[i].Name == name {
			return &c.MQTT[i]
		}
	}
	return nil
}

// FindKafka returns the Kafka config with the given name, or nil if not found.
func (c *Config) FindKafka(name string) *KafkaConfig {
	for i := range c.Kafka {
		if c.Kafka[i].Name == name {
			return &c.Kafka[i]
		}
	}
	return nil
}

// Validate checks the configuration for errors. All problems are reported
// together.
func (c *Config) Validate() error {
	var errs []error
	seen := make(map[string]bool)

	for i, p := range c.PLCs {
		switch {
		case p.Name == "":
			errs = append(errs, fmt.Errorf("plcs[%d]: name is required", i))
		case !IsValidName(p.Name):
			errs = append(errs, fmt.Errorf("plc %q: name may contain only letters, digits, '-', '_' and '.'", p.Name))
		case seen[p.Name]:
			errs = append(errs, fmt.Errorf("plc %q: duplicate name", p.Name))
		}
		seen[p.Name] = true
		if p.Address == "" {
			errs = append(errs, fmt.Errorf("plc %q: address is required", p.Name))
		}
		switch p.Family() {
		case tag.PLCControlLogix, tag.PLCCompactLogix, tag.PLCMicro800:
		default:
			errs = append(errs, fmt.Errorf("plc %q: unsupported controller %q", p.Name, p.PLC))
		}
		if p.Timeout < 0 {
			errs = append(errs, fmt.Errorf("plc %q: negative timeout", p.Name))
		}
	}

	if c.API.Enabled && (c.API.Port < 0 || c.API.Port > 65535) {
		errs = append(errs, fmt.Errorf("api: port %d out of range", c.API.Port))
	}
	if c.API.APIKeyHash != "" && !strings.HasPrefix(c.API.APIKeyHash, "$2") {
		errs = append(errs, fmt.Errorf("api: api_key_hash is not a bcrypt hash"))
	}
	if c.Mirror.Workers < 0 || c.Mirror.QueueSize < 0 {
		errs = append(errs, fmt.Errorf("mirror: workers and queue_size must not be negative"))
	}

	for _, v := range c.Valkey {
		if v.Enabled && v.Address == "" {
			errs = append(errs, fmt.Errorf("valkey %q: address is required", v.Name))
		}
	}
	for _, m := range c.MQTT {
		if m.Enabled && m.Broker == "" {
			errs = append(errs, fmt.Errorf("mqtt %q: broker is required", m.Name))
		}
	}
	for _, k := range c.Kafka {
		if !k.Enabled {
			continue
		}
		if len(k.Brokers) == 0 {
			errs = append(errs, fmt.Errorf("kafka %q: at least one broker is required", k.Name))
		}
		if k.Topic == "" {
			errs = append(errs, fmt.Errorf("kafka %q: topic is required", k.Name))
		}
		switch strings.ToUpper(k.SASLMechanism) {
		case "", "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			errs = append(errs, fmt.Errorf("kafka %q: unsupported sasl_mechanism %q", k.Name, k.SASLMechanism))
		}
	}
	return errors.Join(errs...)
}

// IsValidName reports whether name is usable as a PLC name in URLs, topics
// and keys.
func IsValidName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '.') {
			return false
		}
	}
	return true
}
