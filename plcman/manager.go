// Package plcman manages the named PLC clients of a gateway.
package plcman

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"clxtag/config"
	"clxtag/eip"
	"clxtag/logging"
	"clxtag/plc"
)

// ErrNotFound is returned for an unknown PLC name.
var ErrNotFound = errors.New("plc not found")

// ErrExists is returned when adding a name that is already managed.
var ErrExists = errors.New("plc already exists")

// ConnectionStatus represents the last known reachability of a PLC.
type ConnectionStatus int

const (
	StatusUnknown ConnectionStatus = iota
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusConnected:
		return "Connected"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

// IdentifyFunc fetches the identity object of the device at address.
type IdentifyFunc func(ctx context.Context, address string, timeout time.Duration) (*eip.Identity, error)

// Identify opens a session to address and issues List Identity.
func Identify(ctx context.Context, address string, timeout time.Duration) (*eip.Identity, error) {
	c, err := eip.Dial(ctx, address, timeout)
	if err != nil {
		return nil, err
	}
	defer c.Close()
	return c.Identify(ctx)
}

// ManagedPLC is one configured controller and its client.
type ManagedPLC struct {
	Config config.PLCConfig
	Client *plc.PLC

	mu        sync.RWMutex
	status    ConnectionStatus
	identity  *eip.Identity
	lastError error
	lastCheck time.Time
}

// Name returns the configured PLC name.
func (m *ManagedPLC) Name() string { return m.Config.Name }

// GetStatus returns the result of the last probe.
func (m *ManagedPLC) GetStatus() ConnectionStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// GetError returns the error of the last failed probe.
func (m *ManagedPLC) GetError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// GetIdentity returns the identity from the last successful probe.
func (m *ManagedPLC) GetIdentity() *eip.Identity {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity
}

// LastCheck returns when the PLC was last probed.
func (m *ManagedPLC) LastCheck() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastCheck
}

func (m *ManagedPLC) record(id *eip.Identity, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastCheck = time.Now()
	if err != nil {
		m.status = StatusError
		m.lastError = err
		return
	}
	m.status = StatusConnected
	m.identity = id
	m.lastError = nil
}

// Manager owns one plc.PLC per configured controller. When started with a
// non-zero probe interval a background worker checks every PLC with List
// Identity; tag traffic itself never waits on the prober.
type Manager struct {
	mu   sync.RWMutex
	plcs map[string]*ManagedPLC

	opts     []plc.Option
	identify IdentifyFunc
	interval time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager. opts are applied to every PLC client it
// builds, after the options derived from configuration.
func NewManager(opts ...plc.Option) *Manager {
	return &Manager{
		plcs:     make(map[string]*ManagedPLC),
		opts:     opts,
		identify: Identify,
	}
}

// SetIdentifier replaces the probe function.
func (m *Manager) SetIdentifier(fn IdentifyFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identify = fn
}

// AddPLC builds a client for cfg and registers it under cfg.Name.
func (m *Manager) AddPLC(cfg config.PLCConfig) (*ManagedPLC, error) {
	if !config.IsValidName(cfg.Name) {
		return nil, fmt.Errorf("invalid plc name %q", cfg.Name)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.plcs[cfg.Name]; exists {
		return nil, fmt.Errorf("%s: %w", cfg.Name, ErrExists)
	}

	opts := []plc.Option{
		plc.WithName(cfg.Name),
		plc.WithPath(cfg.Route()),
		plc.WithPLCKind(cfg.Family()),
		plc.WithTimeout(cfg.GetTimeout()),
	}
	opts = append(opts, m.opts...)

	mp := &ManagedPLC{
		Config: cfg,
		Client: plc.New(cfg.Address, opts...),
	}
	m.plcs[cfg.Name] = mp
	logging.DebugLog("plc", "added %s at %s path %s (%s)", cfg.Name, cfg.Address, cfg.Route(), cfg.Family())
	return mp, nil
}

// GetPLC returns the client registered under name.
func (m *Manager) GetPLC(name string) (*ManagedPLC, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mp, ok := m.plcs[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return mp, nil
}

// ListPLCs returns all managed PLCs sorted by name.
func (m *Manager) ListPLCs() []*ManagedPLC {
	m.mu.RLock()
	result := make([]*ManagedPLC, 0, len(m.plcs))
	for _, mp := range m.plcs {
		result = append(result, mp)
	}
	m.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Config.Name < result[j].Config.Name })
	return result
}

// RemovePLC unregisters name and releases every cached session it holds.
func (m *Manager) RemovePLC(name string) error {
	m.mu.Lock()
	mp, ok := m.plcs[name]
	delete(m.plcs, name)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	mp.Client.Close()
	return nil
}

// Probe checks one PLC and records the outcome.
func (m *Manager) Probe(ctx context.Context, name string) error {
	mp, err := m.GetPLC(name)
	if err != nil {
		return err
	}
	m.mu.RLock()
	identify := m.identify
	m.mu.RUnlock()

	id, err := identify(ctx, mp.Config.Address, mp.Config.GetTimeout())
	mp.record(id, err)
	if err != nil {
		logging.DebugError("plc", "probe "+name, err)
		return err
	}
	logging.DebugLog("plc", "probe %s: %s", name, id)
	return nil
}

// ProbeAll probes every PLC concurrently. Failures are recorded on each
// PLC; the returned error joins them.
func (m *Manager) ProbeAll(ctx context.Context) error {
	plcs := m.ListPLCs()
	errs := make([]error, len(plcs))

	var g errgroup.Group
	g.SetLimit(8)
	for i, mp := range plcs {
		g.Go(func() error {
			if err := m.Probe(ctx, mp.Config.Name); err != nil {
				errs[i] = fmt.Errorf("%s: %w", mp.Config.Name, err)
			}
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

// Start launches the probe worker. A zero interval disables probing.
func (m *Manager) Start(interval time.Duration) {
	if interval <= 0 {
		return
	}
	m.mu.Lock()
	if m.cancel != nil {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.interval = interval
	m.mu.Unlock()

	m.wg.Add(1)
	go m.probeLoop(ctx, interval)
}

func (m *Manager) probeLoop(ctx context.Context, interval time.Duration) {
	defer m.wg.Done()

	m.ProbeAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.ProbeAll(ctx)
		}
	}
}

// StopAll stops the probe worker and closes every PLC client. The manager
// is empty afterwards.
func (m *Manager) StopAll() {
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	plcs := m.plcs
	m.plcs = make(map[string]*ManagedPLC)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()

	for _, mp := range plcs {
		mp.Client.Close()
	}
}
