package plcman

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"clxtag/config"
	"clxtag/eip"
	"clxtag/plc"
	"clxtag/tag"
	"clxtag/tagtest"
)

func newTestManager(t *testing.T) (*Manager, *tagtest.Controller) {
	t.Helper()
	ctrl := tagtest.NewController()
	ctrl.Define("Counter", tag.Dint, 0)
	ctrl.Define("Speed", tag.Real, 0)
	m := NewManager(plc.WithOpener(ctrl.Opener()))
	t.Cleanup(m.StopAll)
	return m, ctrl
}

func TestConnectionStatusString(t *testing.T) {
	tests := []struct {
		status ConnectionStatus
		want   string
	}{
		{StatusUnknown, "Unknown"},
		{StatusConnected, "Connected"},
		{StatusError, "Error"},
		{ConnectionStatus(99), "Unknown"},
	}
	for _, tc := range tests {
		if got := tc.status.String(); got != tc.want {
			t.Errorf("%d.String() = %q, want %q", tc.status, got, tc.want)
		}
	}
}

func TestAddPLCAppliesConfig(t *testing.T) {
	m, ctrl := newTestManager(t)

	mp, err := m.AddPLC(config.PLCConfig{Name: "line1", Address: "10.0.0.5", Slot: 2, Timeout: time.Second})
	if err != nil {
		t.Fatalf("AddPLC failed: %v", err)
	}
	if mp.Name() != "line1" || mp.Client.Gateway() != "10.0.0.5" || mp.Client.Path() != "1,2" || mp.Client.Timeout() != time.Second {
		t.Errorf("unexpected client: name=%s gw=%s path=%s timeout=%v",
			mp.Client.Name(), mp.Client.Gateway(), mp.Client.Path(), mp.Client.Timeout())
	}

	r := mp.Client.Write(context.Background(), "Counter", tag.Dint, tag.DintValue(7))
	if r.Err != nil {
		t.Fatalf("write failed: %v", r.Err)
	}
	opened := ctrl.Opened()
	if len(opened) == 0 {
		t.Fatal("expected a channel to be opened")
	}
	a := opened[0]
	if a.Gateway != "10.0.0.5" || a.Path != "1,2" || a.PLC != tag.PLCControlLogix || a.Timeout != time.Second {
		t.Errorf("unexpected attributes %+v", a)
	}
}

func TestAddPLCErrors(t *testing.T) {
	m, _ := newTestManager(t)

	if _, err := m.AddPLC(config.PLCConfig{Name: "a b", Address: "x"}); err == nil {
		t.Error("expected invalid name error")
	}
	if _, err := m.AddPLC(config.PLCConfig{Name: "a", Address: "x"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.AddPLC(config.PLCConfig{Name: "a", Address: "y"}); !errors.Is(err, ErrExists) {
		t.Errorf("expected ErrExists, got %v", err)
	}
}

func TestGetListRemove(t *testing.T) {
	m, ctrl := newTestManager(t)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if _, err := m.AddPLC(config.PLCConfig{Name: name, Address: "10.0.0.1"}); err != nil {
			t.Fatal(err)
		}
	}

	list := m.ListPLCs()
	if len(list) != 3 || list[0].Name() != "alpha" || list[2].Name() != "zeta" {
		t.Errorf("expected sorted list, got %v", names(list))
	}

	mp, err := m.GetPLC("mid")
	if err != nil {
		t.Fatal(err)
	}
	if r := mp.Client.Read(context.Background(), "Counter", tag.Dint); r.Err != nil {
		t.Fatal(r.Err)
	}
	if ctrl.Live() != 1 {
		t.Fatalf("expected one live session, got %d", ctrl.Live())
	}

	if err := m.RemovePLC("mid"); err != nil {
		t.Fatalf("RemovePLC failed: %v", err)
	}
	if ctrl.Live() != 0 {
		t.Errorf("expected sessions released, %d live", ctrl.Live())
	}
	if _, err := m.GetPLC("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if err := m.RemovePLC("mid"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound on second remove, got %v", err)
	}
}

func TestStopAllReleases(t *testing.T) {
	m, ctrl := newTestManager(t)
	for _, name := range []string{"a", "b"} {
		mp, err := m.AddPLC(config.PLCConfig{Name: name, Address: "10.0.0.1"})
		if err != nil {
			t.Fatal(err)
		}
		mp.Client.Read(context.Background(), "Speed", tag.Real)
	}
	if ctrl.Live() != 2 {
		t.Fatalf("expected 2 live sessions, got %d", ctrl.Live())
	}

	m.StopAll()
	if ctrl.Live() != 0 || len(m.ListPLCs()) != 0 {
		t.Errorf("expected empty manager, live=%d plcs=%d", ctrl.Live(), len(m.ListPLCs()))
	}
}

func TestProbe(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddPLC(config.PLCConfig{Name: "good", Address: "10.0.0.1"})
	m.AddPLC(config.PLCConfig{Name: "bad", Address: "10.0.0.2"})

	m.SetIdentifier(func(ctx context.Context, address string, timeout time.Duration) (*eip.Identity, error) {
		if timeout != config.DefaultTimeout {
			t.Errorf("expected default timeout, got %v", timeout)
		}
		if address == "10.0.0.2" {
			return nil, errors.New("connection refused")
		}
		return &eip.Identity{ProductName: "1756-L83E", VendorID: 1}, nil
	})

	err := m.ProbeAll(context.Background())
	if err == nil || !strings.Contains(err.Error(), "bad: connection refused") {
		t.Errorf("expected joined probe error, got %v", err)
	}

	good, _ := m.GetPLC("good")
	if good.GetStatus() != StatusConnected || good.GetIdentity().ProductName != "1756-L83E" || good.GetError() != nil {
		t.Errorf("unexpected good state: %v %v %v", good.GetStatus(), good.GetIdentity(), good.GetError())
	}
	bad, _ := m.GetPLC("bad")
	if bad.GetStatus() != StatusError || bad.GetError() == nil || bad.LastCheck().IsZero() {
		t.Errorf("unexpected bad state: %v %v", bad.GetStatus(), bad.GetError())
	}

	if err := m.Probe(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestProbeWorker(t *testing.T) {
	m, _ := newTestManager(t)
	m.AddPLC(config.PLCConfig{Name: "line1", Address: "10.0.0.1"})

	var calls atomic.Int32
	m.SetIdentifier(func(ctx context.Context, address string, timeout time.Duration) (*eip.Identity, error) {
		calls.Add(1)
		return &eip.Identity{ProductName: "L8"}, nil
	})

	m.Start(10 * time.Millisecond)
	m.Start(10 * time.Millisecond) // second start is a no-op

	deadline := time.Now().Add(2 * time.Second)
	for calls.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if calls.Load() < 3 {
		t.Fatalf("expected repeated probes, got %d", calls.Load())
	}

	m.StopAll()
	after := calls.Load()
	time.Sleep(30 * time.Millisecond)
	if calls.Load() != after {
		t.Error("probes continued after StopAll")
	}
}

func names(list []*ManagedPLC) []string {
	out := make([]string, len(list))
	for i, mp := range list {
		out[i] = mp.Name()
	}
	return out
}
