package tagcache

import (
	"sync"

	"clxtag/tag"
)

// Session is a cached, initialised channel for one tag. Callers hold Lock
// across a dimension change and the transfer that depends on it.
type Session struct {
	sync.Mutex

	name string
	typ  tag.Type
	ch   tag.Channel

	disposeOnce sync.Once
	disposeErr  error
}

func newSession(name string, typ tag.Type, ch tag.Channel) *Session {
	return &Session{name: name, typ: typ, ch: ch}
}

func (s *Session) Name() string         { return s.name }
func (s *Session) Type() tag.Type       { return s.typ }
func (s *Session) Channel() tag.Channel { return s.ch }

// SetDimensions sizes the channel to the product of dims (at most three).
// Bit kinds are packed 32 to an element. Zero entries end the list.
func (s *Session) SetDimensions(dims ...int) error {
	total, err := tag.CheckDimensions(dims)
	if err != nil {
		return err
	}
	n := s.typ.ElementCount(total)
	if s.ch.ElementCount() == n {
		return nil
	}
	return s.ch.SetElementCount(n)
}

// Dispose releases the channel. Only the first call reaches it.
func (s *Session) Dispose() error {
	s.disposeOnce.Do(func() {
		s.disposeErr = s.ch.Dispose()
	})
	return s.disposeErr
}
