package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/mirror"
)

const (
	// WriteBackBatchInterval is how often collected write requests run.
	WriteBackBatchInterval = 250 * time.Millisecond

	// WriteMaxAge is the oldest request that is still executed.
	WriteMaxAge = 30 * time.Second
)

// messageReader is the subset of *kafka.Reader used by the consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// pendingWrite represents a write request waiting to be processed.
type pendingWrite struct {
	request     mirror.WriteRequest
	messageTime time.Time
	offset      int64
}

// Consumer reads write requests from the write topic. Requests for the same
// key collected within one batch interval are deduplicated, latest wins;
// superseded and expired requests are answered without a write.
type Consumer struct {
	config   *config.KafkaConfig
	producer *Producer // for responses
	writer   mirror.Writer
	reader   messageReader
	running  bool
	mu       sync.RWMutex

	newReader func() (messageReader, error)

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsumer creates a consumer for cfg's write topic. Responses are
// produced through producer.
func NewConsumer(cfg *config.KafkaConfig, producer *Producer, writer mirror.Writer) *Consumer {
	c := &Consumer{
		config:   cfg,
		producer: producer,
		writer:   writer,
		stopChan: make(chan struct{}),
	}
	c.newReader = c.createReader
	return c
}

func (c *Consumer) createReader() (messageReader, error) {
	dialer, err := createDialer(c.config)
	if err != nil {
		return nil, err
	}
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:        c.config.Brokers,
		Topic:          c.config.GetWriteTopic(),
		GroupID:        c.config.GetConsumerGroup(),
		MinBytes:       1,
		MaxBytes:       1e6,
		MaxWait:        100 * time.Millisecond,
		StartOffset:    kafka.LastOffset,
		CommitInterval: time.Second,
		Dialer:         dialer,
	}), nil
}

// Start begins consuming write requests.
func (c *Consumer) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}

	reader, err := c.newReader()
	if err != nil {
		c.mu.Unlock()
		return err
	}
	c.reader = reader
	c.running = true
	c.stopChan = make(chan struct{})
	c.mu.Unlock()

	logConsumer("started for topic '%s' with group '%s'", c.config.GetWriteTopic(), c.config.GetConsumerGroup())
	c.wg.Add(1)
	go c.consumeLoop(reader)
	return nil
}

// Stop stops the consumer. Writes already collected are executed first.
func (c *Consumer) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	close(c.stopChan)
	reader := c.reader
	c.reader = nil
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		logConsumer("stop timeout")
	}

	if reader != nil {
		reader.Close()
	}
}

// IsRunning returns whether the consumer is running.
func (c *Consumer) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

func (c *Consumer) consumeLoop(reader messageReader) {
	defer c.wg.Done()

	ticker := time.NewTicker(WriteBackBatchInterval)
	defer ticker.Stop()

	// Pending writes keyed by message key or "plc.tag"
	pending := make(map[string]pendingWrite)
	var discarded []pendingWrite

	for {
		select {
		case <-c.stopChan:
			if len(pending) > 0 || len(discarded) > 0 {
				c.processBatch(pending, discarded)
			}
			return

		case <-ticker.C:
			if len(pending) > 0 || len(discarded) > 0 {
				c.processBatch(pending, discarded)
				pending = make(map[string]pendingWrite)
				discarded = nil
			}

		default:
			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			msg, err := reader.FetchMessage(ctx)
			cancel()
			if err != nil {
				if !errors.Is(err, context.DeadlineExceeded) {
					logConsumer("fetch: %v", err)
					time.Sleep(50 * time.Millisecond)
				}
				continue
			}

			var req mirror.WriteRequest
			if err := json.Unmarshal(msg.Value, &req); err != nil {
				logConsumer("JSON parse error at offset %d: %v", msg.Offset, err)
				c.commitMessage(reader, msg)
				continue
			}

			key := string(msg.Key)
			if key == "" {
				key = req.PLC + "." + req.Tag
			}
			if existing, exists := pending[key]; exists {
				discarded = append(discarded, existing)
			}
			pending[key] = pendingWrite{
				request:     req,
				messageTime: msg.Time,
				offset:      msg.Offset,
			}
			c.commitMessage(reader, msg)
		}
	}
}

// processBatch executes the deduplicated batch and answers every request.
func (c *Consumer) processBatch(pending map[string]pendingWrite, discarded []pendingWrite) {
	now := time.Now().UTC()

	for _, pw := range discarded {
		c.sendResponse(rejected(pw.request, "request superseded by newer write to same tag", now))
	}

	for _, pw := range pending {
		req := pw.request
		if !pw.messageTime.IsZero() {
			if age := now.Sub(pw.messageTime); age > WriteMaxAge {
				c.sendResponse(rejected(req, fmt.Sprintf("request expired (age: %v, max: %v)", age.Round(time.Millisecond), WriteMaxAge), now))
				continue
			}
		}

		if c.writer == nil {
			c.sendResponse(rejected(req, "no write handler configured", now))
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp := c.writer.Write(ctx, req)
		cancel()
		c.sendResponse(resp)
	}
	logConsumer("batch complete: %d executed, %d superseded", len(pending), len(discarded))
}

func rejected(req mirror.WriteRequest, msg string, now time.Time) mirror.WriteResponse {
	return mirror.WriteResponse{
		ID:        req.ID,
		PLC:       req.PLC,
		Tag:       req.Tag,
		Type:      req.Type,
		Value:     req.Value,
		Status:    msg,
		Error:     msg,
		Timestamp: now,
	}
}

// sendResponse publishes a write response to the response topic.
func (c *Consumer) sendResponse(resp mirror.WriteResponse) {
	if c.producer == nil || c.producer.GetStatus() != StatusConnected {
		logConsumer("cannot send response: producer not connected")
		return
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.producer.Produce(ctx, responseTopic(c.config), []byte(resp.PLC+"."+resp.Tag), payload); err != nil {
		logConsumer("failed to publish response: %v", err)
	}
}

// commitMessage commits a message offset.
func (c *Consumer) commitMessage(reader messageReader, msg kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := reader.CommitMessages(ctx, msg); err != nil {
		logConsumer("failed to commit message: %v", err)
	}
}

func logConsumer(format string, args ...interface{}) {
	logging.DebugLog("kafka", "[consumer] "+format, args...)
}
