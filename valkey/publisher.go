// Package valkey mirrors tag values into Valkey/Redis and serves write
// requests pushed onto a Valkey list.
package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/mirror"
	"clxtag/namespace"
)

// client is the subset of *redis.Client used by the publisher.
type client interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	BLPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	Close() error
}

// Publisher stores mirrored tag values in a Valkey server.
//
// Keys:
//
//	<prefix>:<plc>:tags:<tag>      latest value (optional TTL)
//	<prefix>:<plc>:changes          pub/sub channel per PLC
//	<prefix>:_all:changes           pub/sub channel for every PLC
//	<prefix>:writes                 list of pending write requests (BLPOP)
//	<prefix>:write:responses        pub/sub channel for write responses
type Publisher struct {
	config  *config.ValkeyConfig
	client  client
	running bool
	mu      sync.RWMutex

	writer mirror.Writer
	dial   func(*redis.Options) client

	stopChan chan struct{}
	wg       sync.WaitGroup
}

var _ mirror.Sink = (*Publisher)(nil)

// NewPublisher creates a new Valkey publisher.
func NewPublisher(cfg *config.ValkeyConfig) *Publisher {
	return &Publisher{
		config:   cfg,
		stopChan: make(chan struct{}),
		dial:     func(o *redis.Options) client { return redis.NewClient(o) },
	}
}

// SetWriter sets the executor for write-back requests.
func (p *Publisher) SetWriter(w mirror.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string {
	return "valkey:" + p.config.Name
}

// Start connects to the Valkey server.
func (p *Publisher) Start(ctx context.Context) error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	opts := &redis.Options{
		Addr:         p.config.Address,
		Password:     p.config.Password,
		DB:           p.config.Database,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	}
	if p.config.UseTLS {
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Connect without holding the lock
	c := p.dial(opts)
	logging.DebugConnect("valkey", p.Address())

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		logging.DebugConnectError("valkey", p.Address(), err)
		c.Close()
		return fmt.Errorf("failed to connect to Valkey at %s: %w", p.config.Address, err)
	}
	logging.DebugConnectSuccess("valkey", p.Address(), fmt.Sprintf("db %d", p.config.Database))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		c.Close()
		return nil
	}
	p.client = c
	p.running = true
	p.stopChan = make(chan struct{})

	if p.config.EnableWriteback {
		p.wg.Add(1)
		go p.writebackListener(c)
	}
	return nil
}

// Stop disconnects from the Valkey server.
func (p *Publisher) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	close(p.stopChan)
	c := p.client
	p.client = nil
	p.mu.Unlock()

	// The listener wakes at least once per BLPOP timeout.
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1500 * time.Millisecond):
	}

	logging.DebugDisconnect("valkey", p.Address(), "stopped")
	if c != nil {
		return c.Close()
	}
	return nil
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.ValkeyConfig {
	return p.config
}

// Address returns the server address.
func (p *Publisher) Address() string {
	scheme := "redis"
	if p.config.UseTLS {
		scheme = "rediss"
	}
	return fmt.Sprintf("%s://%s", scheme, p.config.Address)
}

// TagKey returns the key holding the latest value of plc/tag.
func (p *Publisher) TagKey(plcName, tagName string) string {
	return namespace.New(p.config.KeyPrefix).ValkeyTagKey(plcName, tagName)
}

// Publish stores the message under its tag key and, when configured,
// announces it on the change channels. A stopped publisher discards.
func (p *Publisher) Publish(ctx context.Context, msg mirror.Message) error {
	p.mu.RLock()
	if !p.running || p.client == nil {
		p.mu.RUnlock()
		return nil
	}
	c := p.client
	cfg := p.config
	p.mu.RUnlock()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal tag value: %w", err)
	}

	if err := c.Set(ctx, p.TagKey(msg.PLC, msg.Tag), data, cfg.KeyTTL).Err(); err != nil {
		return fmt.Errorf("failed to set key: %w", err)
	}

	if cfg.PublishChanges {
		names := namespace.New(cfg.KeyPrefix)
		c.Publish(ctx, names.ValkeyChangesChannel(msg.PLC), data)
		c.Publish(ctx, names.ValkeyAllChangesChannel(), data)
	}
	return nil
}

// writebackListener pops write requests until Stop.
func (p *Publisher) writebackListener(c client) {
	defer p.wg.Done()

	names := namespace.New(p.config.KeyPrefix)
	queueKey := names.ValkeyWriteQueue()
	responseChannel := names.ValkeyWriteResponseChannel()
	logging.DebugLog("valkey", "listening for writes on %s", queueKey)

	for {
		select {
		case <-p.stopChan:
			return
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		result, err := c.BLPop(ctx, time.Second, queueKey).Result()
		cancel()
		if err != nil {
			if !errors.Is(err, redis.Nil) && !errors.Is(err, context.DeadlineExceeded) {
				logging.DebugError("valkey", "write queue", err)
				select {
				case <-p.stopChan:
					return
				case <-time.After(100 * time.Millisecond):
				}
			}
			continue
		}
		if len(result) < 2 {
			continue
		}

		var req mirror.WriteRequest
		if err := json.Unmarshal([]byte(result[1]), &req); err != nil {
			logging.DebugError("valkey", "parse write request", err)
			continue
		}
		p.processWriteRequest(c, req, responseChannel)
	}
}

// processWriteRequest handles a single write request.
func (p *Publisher) processWriteRequest(c client, req mirror.WriteRequest, responseChannel string) {
	p.mu.RLock()
	w := p.writer
	p.mu.RUnlock()

	var resp mirror.WriteResponse
	if w == nil {
		resp = mirror.WriteResponse{
			ID: req.ID, PLC: req.PLC, Tag: req.Tag, Type: req.Type, Value: req.Value,
			Status: "no write handler configured", Error: "no write handler configured",
			Timestamp: time.Now().UTC(),
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		resp = w.Write(ctx, req)
		cancel()
	}

	data, _ := json.Marshal(resp)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c.Publish(ctx, responseChannel, data)

	logging.DebugLog("valkey", "write %s:%s = %v -> success=%v", req.PLC, req.Tag, req.Value, resp.Success)
}
