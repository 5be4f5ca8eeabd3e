package tagcache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"clxtag/tag"
	"clxtag/tagtest"
)

func newCache(t *testing.T) (*Cache, *tagtest.Controller) {
	t.Helper()
	ctrl := tagtest.NewController()
	ctrl.Define("Counter", tag.Dint, 0)
	ctrl.Define("Values", tag.Dint, 10)
	ctrl.Define("Flags", tag.Bool, 64)
	c := New(ctrl.Opener(), tag.Attributes{
		Gateway:  "192.168.1.196",
		Path:     "1,0",
		PLC:      tag.PLCControlLogix,
		Protocol: tag.ProtocolEIP,
		Timeout:  time.Second,
	})
	return c, ctrl
}

func TestGetOrCreate_Reuses(t *testing.T) {
	c, ctrl := newCache(t)
	ctx := context.Background()

	s1, err := c.GetOrCreate(ctx, "Counter", tag.Dint)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	s2, err := c.GetOrCreate(ctx, "Counter", tag.Dint)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if s1 != s2 {
		t.Error("expected the cached session to be reused")
	}
	if ctrl.Count(tagtest.OpInitialize) != 1 {
		t.Errorf("expected 1 initialize, got %d", ctrl.Count(tagtest.OpInitialize))
	}

	attrs := ctrl.Opened()[0]
	if attrs.Name != "Counter" || attrs.Gateway != "192.168.1.196" || attrs.ElementCount != 1 {
		t.Errorf("unexpected attributes %+v", attrs)
	}
	if c.Len() != 1 {
		t.Errorf("expected 1 cached session, got %d", c.Len())
	}
}

func TestGetOrCreate_WrongTypeNoIO(t *testing.T) {
	c, ctrl := newCache(t)
	ctx := context.Background()

	if _, err := c.GetOrCreate(ctx, "Counter", tag.Dint); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	ctrl.ResetCounts()

	_, err := c.GetOrCreate(ctx, "Counter", tag.Real)
	if !errors.Is(err, tag.ErrWrongType) {
		t.Fatalf("expected ErrWrongType, got %v", err)
	}
	if ctrl.Count(tagtest.OpInitialize)+ctrl.IO() != 0 {
		t.Error("expected no channel activity")
	}

	// Bool and Bit share a session
	if _, err := c.GetOrCreate(ctx, "Flags", tag.Bool); err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if _, err := c.GetOrCreate(ctx, "Flags", tag.Bit); err != nil {
		t.Errorf("expected Bit to reuse Bool session, got %v", err)
	}
}

func TestGetOrCreate_FailureNotCached(t *testing.T) {
	c, ctrl := newCache(t)
	ctx := context.Background()
	boom := errors.New("connection refused")
	ctrl.Fault("Counter", tagtest.OpInitialize, boom)

	if _, err := c.GetOrCreate(ctx, "Counter", tag.Dint); !errors.Is(err, boom) {
		t.Fatalf("expected initialize fault, got %v", err)
	}
	if c.Len() != 0 {
		t.Errorf("failed session was cached")
	}
	if ctrl.Live() != 0 {
		t.Errorf("failed channel was not disposed")
	}

	ctrl.Fault("Counter", tagtest.OpInitialize, nil)
	if _, err := c.GetOrCreate(ctx, "Counter", tag.Dint); err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if ctrl.Count(tagtest.OpInitialize) != 2 {
		t.Errorf("expected 2 initialize attempts, got %d", ctrl.Count(tagtest.OpInitialize))
	}
}

func TestGetOrCreate_ConcurrentSingleInitialize(t *testing.T) {
	c, ctrl := newCache(t)
	ctrl.SetInitDelay(50 * time.Millisecond)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	sessions := make([]*Session, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sessions[i], errs[i] = c.GetOrCreate(ctx, "Values", tag.Dint)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if sessions[i] != sessions[0] {
			t.Fatalf("caller %d got a different session", i)
		}
	}
	if ctrl.Count(tagtest.OpInitialize) != 1 {
		t.Errorf("expected 1 initialize, got %d", ctrl.Count(tagtest.OpInitialize))
	}
	if ctrl.Live() != 1 {
		t.Errorf("expected 1 live channel, got %d", ctrl.Live())
	}
}

func TestGetOrCreate_CallerDeadlineDoesNotFailOthers(t *testing.T) {
	c, ctrl := newCache(t)
	ctrl.SetInitDelay(100 * time.Millisecond)

	short, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var wg sync.WaitGroup
	var shortErr, longErr error
	var got *Session
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, shortErr = c.GetOrCreate(short, "Counter", tag.Dint)
	}()
	go func() {
		defer wg.Done()
		time.Sleep(5 * time.Millisecond)
		got, longErr = c.GetOrCreate(context.Background(), "Counter", tag.Dint)
	}()
	wg.Wait()

	if !errors.Is(shortErr, context.DeadlineExceeded) {
		t.Errorf("short caller: expected deadline exceeded, got %v", shortErr)
	}
	if longErr != nil || got == nil {
		t.Fatalf("background caller: %v", longErr)
	}
	if ctrl.Count(tagtest.OpInitialize) != 1 {
		t.Errorf("expected 1 initialize, got %d", ctrl.Count(tagtest.OpInitialize))
	}
	if c.Len() != 1 {
		t.Errorf("expected the session cached, got %d", c.Len())
	}
}

func TestGetOrCreate_AbandonedInitStillCached(t *testing.T) {
	c, ctrl := newCache(t)
	ctrl.SetInitDelay(50 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.GetOrCreate(ctx, "Counter", tag.Dint); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}

	s, err := c.GetOrCreate(context.Background(), "Counter", tag.Dint)
	if err != nil || s == nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if ctrl.Count(tagtest.OpInitialize) != 1 {
		t.Errorf("expected the first initialize to be reused, got %d", ctrl.Count(tagtest.OpInitialize))
	}
}

func TestRelease(t *testing.T) {
	c, ctrl := newCache(t)
	ctx := context.Background()

	if c.Release("Counter") {
		t.Error("release of an absent tag reported true")
	}
	s, err := c.GetOrCreate(ctx, "Counter", tag.Dint)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if !c.Release("Counter") {
		t.Error("expected release to report true")
	}
	if c.Release("Counter") {
		t.Error("second release reported true")
	}
	if ctrl.Live() != 0 {
		t.Errorf("expected channel disposed, %d live", ctrl.Live())
	}
	if err := s.Dispose(); err != nil {
		t.Errorf("repeat Dispose: %v", err)
	}
	if ctrl.Count(tagtest.OpDispose) != 1 {
		t.Errorf("expected 1 dispose, got %d", ctrl.Count(tagtest.OpDispose))
	}
}

func TestReleaseAll(t *testing.T) {
	c, ctrl := newCache(t)
	ctx := context.Background()
	for _, name := range []string{"Values", "Counter"} {
		if _, err := c.GetOrCreate(ctx, name, tag.Dint); err != nil {
			t.Fatalf("GetOrCreate %s: %v", name, err)
		}
	}
	names := c.Names()
	if len(names) != 2 || names[0] != "Counter" || names[1] != "Values" {
		t.Errorf("unexpected names %v", names)
	}

	c.ReleaseAll()
	if c.Len() != 0 || ctrl.Live() != 0 {
		t.Errorf("expected empty cache, len=%d live=%d", c.Len(), ctrl.Live())
	}
	if _, err := c.GetOrCreate(ctx, "Counter", tag.Dint); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestSession_SetDimensions(t *testing.T) {
	c, _ := newCache(t)
	ctx := context.Background()

	s, err := c.GetOrCreate(ctx, "Flags", tag.Bool)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := s.SetDimensions(64); err != nil {
		t.Fatalf("SetDimensions: %v", err)
	}
	if got := s.Channel().ElementCount(); got != 2 {
		t.Errorf("expected 2 packed elements, got %d", got)
	}

	v, err := c.GetOrCreate(ctx, "Values", tag.Dint)
	if err != nil {
		t.Fatalf("GetOrCreate: %v", err)
	}
	if err := v.SetDimensions(2, 5); err != nil {
		t.Fatalf("SetDimensions: %v", err)
	}
	if got := v.Channel().ElementCount(); got != 10 {
		t.Errorf("expected 10 elements, got %d", got)
	}
	if err := v.SetDimensions(1, 2, 3, 4); !errors.Is(err, tag.ErrInvalidArrayDim) {
		t.Errorf("expected ErrInvalidArrayDim, got %v", err)
	}
}
