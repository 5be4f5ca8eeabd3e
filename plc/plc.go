// Package plc is the typed front end for one Logix controller connection.
//
// Every operation returns a tag.Response; faults never escape as errors or
// panics. Scalar and whole-array requests go through a per-name session
// cache. Indexed bits ("Flags[40]") and range slices use a short-lived
// channel that is disposed before the call returns.
package plc

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"clxtag/logging"
	"clxtag/logix"
	"clxtag/tag"
	"clxtag/tagcache"
)

// DefaultTimeout is attached to every channel unless WithTimeout is used.
const DefaultTimeout = 5 * time.Second

// DefaultPath routes through the backplane to the processor in slot 0.
const DefaultPath = "1,0"

// PLC dispatches typed tag requests against one controller.
type PLC struct {
	name     string
	attrs    tag.Attributes
	opener   tag.Opener
	observer Observer
	cache    *tagcache.Cache
}

// Option configures a PLC.
type Option func(*PLC)

// WithPath sets the CIP route path, e.g. "1,0".
func WithPath(path string) Option {
	return func(p *PLC) { p.attrs.Path = path }
}

// WithSlot routes through the backplane to the given processor slot.
func WithSlot(slot int) Option {
	return func(p *PLC) { p.attrs.Path = "1," + strconv.Itoa(slot) }
}

// WithTimeout sets the timeout attached to every channel.
func WithTimeout(d time.Duration) Option {
	return func(p *PLC) {
		if d > 0 {
			p.attrs.Timeout = d
		}
	}
}

// WithPLCKind sets the controller family (tag.PLCControlLogix, ...).
func WithPLCKind(kind string) Option {
	return func(p *PLC) { p.attrs.PLC = kind }
}

// WithOpener replaces the channel factory. Tests use tagtest controllers.
func WithOpener(o tag.Opener) Option {
	return func(p *PLC) { p.opener = o }
}

// WithObserver receives an Event for every successful read and write.
func WithObserver(o Observer) Option {
	return func(p *PLC) { p.observer = o }
}

// WithName sets the logical name reported in events. It defaults to the
// gateway address.
func WithName(name string) Option {
	return func(p *PLC) { p.name = name }
}

// New returns a client for the controller at gateway. No connection is made
// until the first request.
func New(gateway string, opts ...Option) *PLC {
	p := &PLC{
		name: gateway,
		attrs: tag.Attributes{
			Gateway:  gateway,
			Path:     DefaultPath,
			PLC:      tag.PLCControlLogix,
			Protocol: tag.ProtocolEIP,
			Timeout:  DefaultTimeout,
		},
		opener: logix.Open,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.cache = tagcache.New(p.opener, p.attrs)
	return p
}

// Name returns the logical name of the controller.
func (p *PLC) Name() string { return p.name }

// Gateway returns the controller address.
func (p *PLC) Gateway() string { return p.attrs.Gateway }

// Path returns the CIP route path.
func (p *PLC) Path() string { return p.attrs.Path }

// Timeout returns the per-channel timeout.
func (p *PLC) Timeout() time.Duration { return p.attrs.Timeout }

// CachedTags returns the names with a live cached session.
func (p *PLC) CachedTags() []string { return p.cache.Names() }

// ReleaseTagIfExists disposes the cached session for name. It reports
// whether one existed; releasing an unknown name is a no-op.
func (p *PLC) ReleaseTagIfExists(name string) bool {
	return p.cache.Release(name)
}

// Close disposes every cached session. The PLC cannot be used afterwards.
func (p *PLC) Close() {
	logging.DebugDisconnect("plc", p.attrs.Gateway, fmt.Sprintf("releasing %d cached tags", p.cache.Len()))
	p.cache.ReleaseAll()
}

// withAdhoc opens an uncached channel of count elements for one call and
// disposes it on every exit path.
func (p *PLC) withAdhoc(ctx context.Context, name string, count int, fn func(tag.Channel) error) error {
	attrs := p.attrs
	attrs.Name = name
	attrs.ElementCount = count

	ch := p.opener(attrs)
	defer ch.Dispose()

	if err := ch.Initialize(ctx); err != nil {
		return err
	}
	return fn(ch)
}

func (p *PLC) observe(op Op, name string, typ tag.Type, v any) {
	if p.observer == nil {
		return
	}
	p.observer.Observe(Event{
		PLC:   p.name,
		Tag:   name,
		Type:  typ,
		Op:    op,
		Value: v,
		Time:  time.Now(),
	})
}
