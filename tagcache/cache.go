// Package tagcache keeps at most one initialised controller session per tag
// name, so repeated scalar and whole-array requests reuse the same channel.
package tagcache

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"clxtag/logging"
	"clxtag/tag"
)

// Cache maps tag names to initialised sessions. It is safe for concurrent
// use; concurrent first requests for one name share a single Initialize.
type Cache struct {
	opener tag.Opener
	base   tag.Attributes

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	group singleflight.Group
}

// New returns an empty cache. base supplies the gateway, path, PLC kind,
// protocol and timeout for every session; Name and ElementCount are filled
// per tag.
func New(opener tag.Opener, base tag.Attributes) *Cache {
	return &Cache{
		opener:   opener,
		base:     base,
		sessions: make(map[string]*Session),
	}
}

// ErrClosed is returned by GetOrCreate after ReleaseAll.
var ErrClosed = errors.New("tag cache closed")

// GetOrCreate returns the session for name, creating and initialising it on
// first use. A failed Initialize is not cached. Asking for a cached name
// with a different type fails with tag.ErrWrongType without any I/O.
//
// Initialize runs detached from any single caller's cancellation, bounded
// by the base timeout. A caller whose ctx ends stops waiting; the others
// still receive the session.
func (c *Cache) GetOrCreate(ctx context.Context, name string, typ tag.Type) (*Session, error) {
	if s, ok, err := c.lookup(name); err != nil {
		return nil, err
	} else if ok {
		return checkType(s, typ)
	}

	done := c.group.DoChan(name, func() (interface{}, error) {
		if s, ok, err := c.lookup(name); err != nil {
			return nil, err
		} else if ok {
			return s, nil
		}

		ictx := context.WithoutCancel(ctx)
		if c.base.Timeout > 0 {
			var cancel context.CancelFunc
			ictx, cancel = context.WithTimeout(ictx, c.base.Timeout)
			defer cancel()
		}
		s, err := c.create(ictx, name, typ)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			s.Dispose()
			return nil, ErrClosed
		}
		c.sessions[name] = s
		return s, nil
	})

	select {
	case r := <-done:
		if r.Err != nil {
			return nil, r.Err
		}
		return checkType(r.Val.(*Session), typ)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) lookup(name string) (*Session, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, ErrClosed
	}
	s, ok := c.sessions[name]
	return s, ok, nil
}

func (c *Cache) create(ctx context.Context, name string, typ tag.Type) (*Session, error) {
	logging.DebugLog("tagcache", "creating tag %s for %s", name, c.base.Gateway)

	attrs := c.base
	attrs.Name = name
	attrs.ElementCount = 1
	ch := c.opener(attrs)
	if err := ch.Initialize(ctx); err != nil {
		ch.Dispose()
		logging.DebugError("tagcache", "initialize "+name, err)
		return nil, fmt.Errorf("initialize %s: %w", name, err)
	}
	return newSession(name, typ, ch), nil
}

func checkType(s *Session, typ tag.Type) (*Session, error) {
	if s.Type() != typ && !(s.Type().IsBit() && typ.IsBit()) {
		return nil, fmt.Errorf("%w: %s is cached as %s, requested %s", tag.ErrWrongType, s.Name(), s.Type(), typ)
	}
	return s, nil
}

// Release disposes and removes the session for name. It reports whether a
// session was present.
func (c *Cache) Release(name string) bool {
	c.mu.Lock()
	s, ok := c.sessions[name]
	delete(c.sessions, name)
	c.mu.Unlock()

	if !ok {
		return false
	}
	logging.DebugLog("tagcache", "releasing tag %s", name)
	s.Dispose()
	return true
}

// ReleaseAll disposes every session and closes the cache. Later calls to
// GetOrCreate fail with ErrClosed.
func (c *Cache) ReleaseAll() {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[string]*Session)
	c.closed = true
	c.mu.Unlock()

	for _, s := range sessions {
		s.Dispose()
	}
}

// Len returns the number of cached sessions.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}

// Names returns the cached tag names in sorted order.
func (c *Cache) Names() []string {
	c.mu.Lock()
	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	c.mu.Unlock()
	sort.Strings(names)
	return names
}
