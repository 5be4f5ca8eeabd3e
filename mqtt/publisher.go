// Package mqtt mirrors tag values to an MQTT broker and accepts write
// requests on per-PLC write topics.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"clxtag/config"
	"clxtag/logging"
	"clxtag/mirror"
	"clxtag/namespace"
)

// MaxWriteWorkers is the maximum number of concurrent write goroutines per publisher.
const MaxWriteWorkers = 5

// MaxWriteQueueSize is the maximum number of pending write jobs per publisher.
const MaxWriteQueueSize = 100

// client is the subset of pahomqtt.Client used by the publisher.
type client interface {
	Connect() pahomqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Subscribe(topic string, qos byte, callback pahomqtt.MessageHandler) pahomqtt.Token
}

// writeJob represents a pending write operation.
type writeJob struct {
	client client
	req    mirror.WriteRequest
}

// Publisher handles the connection to a single broker.
//
// Topics:
//
//	<root>/<plc>/tags/<tag>         retained latest value, QoS 1
//	<root>/<plc>/write              write requests (subscribed)
//	<root>/<plc>/write/response     write responses
type Publisher struct {
	config  *config.MQTTConfig
	client  client
	running bool
	mu      sync.RWMutex

	// Track last published read values to suppress repeats
	lastValues map[string]string
	lastMu     sync.Mutex

	writer     mirror.Writer
	writeQueue chan writeJob
	wg         sync.WaitGroup
	stopChan   chan struct{}

	newClient func(*pahomqtt.ClientOptions) client
}

var _ mirror.Sink = (*Publisher)(nil)

// NewPublisher creates a new MQTT publisher.
func NewPublisher(cfg *config.MQTTConfig) *Publisher {
	return &Publisher{
		config:     cfg,
		lastValues: make(map[string]string),
		writeQueue: make(chan writeJob, MaxWriteQueueSize),
		stopChan:   make(chan struct{}),
		newClient:  func(o *pahomqtt.ClientOptions) client { return pahomqtt.NewClient(o) },
	}
}

// Name identifies the sink in logs.
func (p *Publisher) Name() string {
	return "mqtt:" + p.config.Name
}

// SetWriter sets the executor for write requests.
func (p *Publisher) SetWriter(w mirror.Writer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.writer = w
}

// IsRunning returns whether the publisher is connected.
func (p *Publisher) IsRunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.running
}

// Config returns the publisher's configuration.
func (p *Publisher) Config() *config.MQTTConfig {
	return p.config
}

// Address returns the broker address string.
func (p *Publisher) Address() string {
	if p.config.UseTLS {
		return fmt.Sprintf("ssl://%s:%d", p.config.Broker, p.port())
	}
	return fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.port())
}

func (p *Publisher) port() int {
	if p.config.Port > 0 {
		return p.config.Port
	}
	if p.config.UseTLS {
		return 8883
	}
	return 1883
}

func (p *Publisher) options() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(p.Address())
	if p.config.UseTLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tls.VersionTLS12,
		})
	}

	clientID := p.config.ClientID
	if clientID == "" {
		clientID = "clxtag-" + p.config.Name
	}
	opts.SetClientID(clientID)

	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		// Subscriptions do not survive a reconnect with a clean session.
		if p.config.EnableWriteback && p.IsRunning() {
			p.subscribeWriteTopic()
		}
	})
	return opts
}

// Start connects to the broker.
func (p *Publisher) Start() error {
	p.mu.RLock()
	if p.running {
		p.mu.RUnlock()
		return nil
	}
	p.mu.RUnlock()

	// Connect without holding the lock
	c := p.newClient(p.options())
	logging.DebugConnect("mqtt", p.Address())

	token := c.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		logging.DebugConnectError("mqtt", p.Address(), fmt.Errorf("timeout"))
		return fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		logging.DebugConnectError("mqtt", p.Address(), err)
		return err
	}
	logging.DebugConnectSuccess("mqtt", p.Address(), "root "+p.config.RootTopic)

	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		c.Disconnect(100)
		return nil
	}
	p.client = c
	p.running = true
	stop := p.stopChan
	queue := p.writeQueue
	p.mu.Unlock()

	// Force a republish of every value
	p.lastMu.Lock()
	p.lastValues = make(map[string]string)
	p.lastMu.Unlock()

	if p.config.EnableWriteback {
		for i := 0; i < MaxWriteWorkers; i++ {
			p.wg.Add(1)
			go p.writeWorker(stop, queue)
		}
		p.subscribeWriteTopic()
	}
	return nil
}

// Stop disconnects from the MQTT broker.
func (p *Publisher) Stop() {
	p.mu.Lock()
	if !p.running || p.client == nil {
		p.mu.Unlock()
		return
	}
	p.running = false
	c := p.client
	p.client = nil

	oldStopChan := p.stopChan
	p.stopChan = make(chan struct{})
	p.writeQueue = make(chan writeJob, MaxWriteQueueSize)
	p.mu.Unlock()

	close(oldStopChan)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		logging.DebugLog("mqtt", "timeout waiting for write workers to stop")
	}

	// Disconnect outside the lock
	c.Disconnect(500)
	logging.DebugDisconnect("mqtt", p.Address(), "stopped")
}

// BuildTopic constructs the full topic path.
func (p *Publisher) BuildTopic(plcName, tagName string) string {
	return p.names().MQTTTagTopic(plcName, tagName)
}

// Publish sends the message as a retained QoS 1 publish. Reads whose value
// matches the last published one are skipped. A stopped publisher discards.
func (p *Publisher) Publish(ctx context.Context, msg mirror.Message) error {
	p.mu.RLock()
	running := p.running
	c := p.client
	p.mu.RUnlock()
	if !running || c == nil {
		return nil
	}

	cacheKey := msg.PLC + "/" + msg.Tag
	rendered := fmt.Sprintf("%v", msg.Value)
	if msg.Op == "read" {
		p.lastMu.Lock()
		last, exists := p.lastValues[cacheKey]
		p.lastMu.Unlock()
		if exists && last == rendered {
			return nil
		}
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	token := c.Publish(p.BuildTopic(msg.PLC, msg.Tag), 1, true, payload)
	if err := wait(ctx, token); err != nil {
		return err
	}

	p.lastMu.Lock()
	p.lastValues[cacheKey] = rendered
	p.lastMu.Unlock()
	return nil
}

// wait blocks until the token completes or ctx ends.
func wait(ctx context.Context, token pahomqtt.Token) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// subscribeWriteTopic subscribes to <root>/+/write.
func (p *Publisher) subscribeWriteTopic() {
	p.mu.RLock()
	c := p.client
	p.mu.RUnlock()
	if c == nil {
		return
	}

	topic := p.names().MQTTWriteSubscription()
	token := c.Subscribe(topic, 1, p.handleWriteMessage)
	if !token.WaitTimeout(2 * time.Second) {
		logging.DebugLog("mqtt", "subscribe timeout for %s", topic)
		return
	}
	if err := token.Error(); err != nil {
		logging.DebugError("mqtt", "subscribe "+topic, err)
		return
	}
	logging.DebugLog("mqtt", "subscribed to %s", topic)
}

func (p *Publisher) names() *namespace.Builder {
	return namespace.New(p.config.RootTopic)
}

// handleWriteMessage queues an incoming write request. Runs on the paho
// router goroutine and must not block.
func (p *Publisher) handleWriteMessage(_ pahomqtt.Client, msg pahomqtt.Message) {
	plcName, ok := p.names().PLCFromWriteTopic(msg.Topic())
	if !ok {
		return
	}

	p.mu.RLock()
	c := p.client
	queue := p.writeQueue
	p.mu.RUnlock()
	if c == nil {
		return
	}

	var req mirror.WriteRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		logging.DebugError("mqtt", "parse write request", err)
		p.publishWriteResponse(c, errorResponse(mirror.WriteRequest{PLC: plcName}, "invalid JSON: "+err.Error()))
		return
	}
	// The topic names the PLC
	req.PLC = plcName

	select {
	case queue <- writeJob{client: c, req: req}:
	default:
		p.publishWriteResponse(c, errorResponse(req, "write queue full"))
	}
}

// writeWorker processes write jobs from the queue.
func (p *Publisher) writeWorker(stop <-chan struct{}, queue <-chan writeJob) {
	defer p.wg.Done()
	for {
		select {
		case <-stop:
			return
		case job := <-queue:
			p.mu.RLock()
			w := p.writer
			p.mu.RUnlock()

			var resp mirror.WriteResponse
			if w == nil {
				resp = errorResponse(job.req, "no write handler configured")
			} else {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				resp = w.Write(ctx, job.req)
				cancel()
			}
			p.publishWriteResponse(job.client, resp)
		}
	}
}

func errorResponse(req mirror.WriteRequest, msg string) mirror.WriteResponse {
	return mirror.WriteResponse{
		ID:        req.ID,
		PLC:       req.PLC,
		Tag:       req.Tag,
		Type:      req.Type,
		Value:     req.Value,
		Status:    msg,
		Error:     msg,
		Timestamp: time.Now().UTC(),
	}
}

func (p *Publisher) publishWriteResponse(c client, resp mirror.WriteResponse) {
	payload, err := json.Marshal(resp)
	if err != nil {
		return
	}
	topic := p.names().MQTTWriteResponseTopic(resp.PLC)
	token := c.Publish(topic, 1, false, payload)
	token.WaitTimeout(2 * time.Second)
	logging.DebugLog("mqtt", "write %s/%s -> success=%v", resp.PLC, resp.Tag, resp.Success)
}
