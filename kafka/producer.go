package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/mirror"
	"clxtag/namespace"
)

// ConnectionStatus represents the state of a Kafka connection.
type ConnectionStatus int

const (
	StatusDisconnected ConnectionStatus = iota
	StatusConnecting
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// messageWriter is the subset of *kafka.Writer used by the producer.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer writes messages to the topics of one Kafka cluster. It keeps one
// writer per topic.
type Producer struct {
	config  *config.KafkaConfig
	writers map[string]messageWriter
	status  ConnectionStatus
	lastErr error
	mu      sync.RWMutex

	// Stats
	messagesSent  int64
	messagesError int64
	lastSendTime  time.Time

	probe     func(ctx context.Context) error
	newWriter func(topic string) (messageWriter, error)
}

var _ mirror.Sink = (*Producer)(nil)

// NewProducer creates a new Kafka producer.
func NewProducer(cfg *config.KafkaConfig) *Producer {
	p := &Producer{
		config:  cfg,
		writers: make(map[string]messageWriter),
		status:  StatusDisconnected,
	}
	p.probe = p.dialBroker
	p.newWriter = p.createWriter
	return p
}

// Name identifies the sink in logs.
func (p *Producer) Name() string {
	return "kafka:" + p.config.Name
}

// GetStatus returns the current connection status.
func (p *Producer) GetStatus() ConnectionStatus {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.status
}

// GetError returns the last error.
func (p *Producer) GetError() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastErr
}

// GetStats returns producer statistics.
func (p *Producer) GetStats() (sent, errors int64, lastSend time.Time) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.messagesSent, p.messagesError, p.lastSendTime
}

// Connect verifies that a broker is reachable.
func (p *Producer) Connect(ctx context.Context) error {
	p.mu.Lock()
	p.status = StatusConnecting
	p.lastErr = nil
	p.mu.Unlock()

	addr := strings.Join(p.config.Brokers, ",")
	logging.DebugConnect("kafka", addr)

	if err := p.probe(ctx); err != nil {
		err = fmt.Errorf("failed to connect: %w", err)
		p.mu.Lock()
		p.status = StatusError
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugConnectError("kafka", addr, err)
		return err
	}

	p.mu.Lock()
	p.status = StatusConnected
	p.mu.Unlock()
	logging.DebugConnectSuccess("kafka", addr, "cluster "+p.config.Name)
	return nil
}

func (p *Producer) dialBroker(ctx context.Context) error {
	if len(p.config.Brokers) == 0 {
		return fmt.Errorf("no brokers configured")
	}
	dialer, err := createDialer(p.config)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	var lastErr error
	for _, broker := range p.config.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err != nil {
			lastErr = err
			continue
		}
		conn.Close()
		return nil
	}
	return lastErr
}

// Disconnect closes all writers.
func (p *Producer) Disconnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for topic, writer := range p.writers {
		writer.Close()
		delete(p.writers, topic)
	}
	p.status = StatusDisconnected
	p.lastErr = nil
	logging.DebugDisconnect("kafka", strings.Join(p.config.Brokers, ","), "cluster "+p.config.Name)
}

// Publish produces the message to the configured topic keyed by plc.tag.
// A disconnected producer discards.
func (p *Producer) Publish(ctx context.Context, msg mirror.Message) error {
	if p.GetStatus() != StatusConnected {
		return nil
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.Produce(ctx, p.config.Topic, []byte(namespace.KafkaKey(msg.PLC, msg.Tag)), payload)
}

// Produce sends a message to the specified topic. The call blocks until the
// message is acknowledged per RequiredAcks.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	return p.ProduceBatch(ctx, topic, []kafka.Message{{
		Key:   key,
		Value: value,
		Time:  time.Now(),
	}})
}

// ProduceBatch sends multiple messages to the specified topic in a single call.
func (p *Producer) ProduceBatch(ctx context.Context, topic string, messages []kafka.Message) error {
	if len(messages) == 0 {
		return nil
	}

	writer, err := p.getWriter(topic)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := writer.WriteMessages(ctx, messages...); err != nil {
		p.mu.Lock()
		p.messagesError += int64(len(messages))
		p.lastErr = err
		p.mu.Unlock()
		logging.DebugLog("kafka", "PRODUCE %s: FAILED topic '%s' (%d msgs) after %v: %v",
			p.config.Name, topic, len(messages), time.Since(start), err)
		return fmt.Errorf("kafka produce failed: %w", err)
	}

	if d := time.Since(start); d > 100*time.Millisecond {
		logging.DebugLog("kafka", "PRODUCE %s: topic '%s' sent %d msgs in %v", p.config.Name, topic, len(messages), d)
	}

	p.mu.Lock()
	p.messagesSent += int64(len(messages))
	p.lastSendTime = time.Now()
	p.lastErr = nil
	p.mu.Unlock()
	return nil
}

// getWriter returns or creates a writer for the given topic.
func (p *Producer) getWriter(topic string) (messageWriter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.status != StatusConnected {
		return nil, fmt.Errorf("kafka cluster '%s' not connected", p.config.Name)
	}
	if writer, exists := p.writers[topic]; exists {
		return writer, nil
	}

	writer, err := p.newWriter(topic)
	if err != nil {
		return nil, err
	}
	p.writers[topic] = writer
	logging.DebugLog("kafka", "TOPIC %s: created writer for topic '%s'", p.config.Name, topic)
	return writer, nil
}

func (p *Producer) createWriter(topic string) (messageWriter, error) {
	transport, err := createTransport(p.config)
	if err != nil {
		return nil, err
	}

	// Unset means all replicas.
	acks := kafka.RequireAll
	if p.config.RequiredAcks == 1 {
		acks = kafka.RequireOne
	}
	attempts := p.config.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}

	return &kafka.Writer{
		Addr:      kafka.TCP(p.config.Brokers...),
		Topic:     topic,
		Balancer:  &kafka.Hash{},
		Transport: transport,

		RequiredAcks: acks,
		Async:        false,
		MaxAttempts:  attempts,

		BatchSize:    100,
		BatchBytes:   1048576,
		BatchTimeout: 10 * time.Millisecond,

		AllowAutoTopicCreation: true,
	}, nil
}
