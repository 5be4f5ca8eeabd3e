package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func TestDebugLogger_Filter(t *testing.T) {
	tests := []struct {
		name    string
		filter  string
		proto   string
		visible bool
	}{
		{"empty logs all", "", "kafka", true},
		{"all logs all", "all", "eip", true},
		{"exact match", "plc", "plc", true},
		{"case insensitive", "LOGIX", "logix", true},
		{"logix pulls in eip", "logix", "eip", true},
		{"logix pulls in cip", "logix", "cip", true},
		{"plc pulls in tagcache", "plc", "tagcache", true},
		{"mirror pulls in valkey", "mirror", "valkey", true},
		{"unrelated filtered", "plc", "eip", false},
		{"list", "api, kafka", "kafka", true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			l := NewDebugLoggerWriter(&buf)
			l.SetFilter(tc.filter)
			buf.Reset()

			l.Log(tc.proto, "hello %d", 7)

			got := strings.Contains(buf.String(), "hello 7")
			if got != tc.visible {
				t.Errorf("filter %q proto %q: visible=%v, want %v (%q)", tc.filter, tc.proto, got, tc.visible, buf.String())
			}
		})
	}
}

func TestDebugLogger_DebugAlwaysPasses(t *testing.T) {
	var buf bytes.Buffer
	l := NewDebugLoggerWriter(&buf)
	l.SetFilter("api")
	buf.Reset()

	l.Log("DEBUG", "marker")
	if !strings.Contains(buf.String(), "marker") {
		t.Errorf("DEBUG lines must bypass the filter, got %q", buf.String())
	}
}

func TestDebugLogger_Packets(t *testing.T) {
	var buf bytes.Buffer
	l := NewDebugLoggerWriter(&buf)

	l.LogTX("eip", []byte{0x65, 0x00, 0x04, 0x00})
	out := buf.String()
	if !strings.Contains(out, "[eip] TX (4 bytes)") {
		t.Errorf("missing packet header: %q", out)
	}
	if !strings.Contains(out, "0000: 65 00 04 00") {
		t.Errorf("missing hex dump: %q", out)
	}
}

func TestHexDump(t *testing.T) {
	if got := hexDump(nil); got != "    (empty)" {
		t.Errorf("hexDump(nil) = %q", got)
	}

	data := []byte("ABCDEFGHIJKLMNOPQR")
	lines := strings.Split(hexDump(data), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), lines)
	}
	if !strings.HasSuffix(lines[0], "ABCDEFGHIJKLMNOP") {
		t.Errorf("first line ascii column wrong: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "    0010: 51 52") {
		t.Errorf("second line wrong: %q", lines[1])
	}
}

func TestDebugLogger_Close(t *testing.T) {
	path := filepath.Join(t.TempDir(), "debug.log")
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatalf("NewDebugLogger: %v", err)
	}

	l.Log("plc", "before close")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Errorf("second Close should be a no-op, got %v", err)
	}
	l.Log("plc", "after close")

	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(content), "before close") {
		t.Error("missing line written before close")
	}
	if strings.Contains(string(content), "after close") {
		t.Error("line written after close should be dropped")
	}
}

func TestNilLoggerIsSafe(t *testing.T) {
	var l *DebugLogger
	l.Log("plc", "x")
	l.LogRX("eip", []byte{1})
	l.SetFilter("plc")
	if err := l.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestGlobalHelpers(t *testing.T) {
	var buf bytes.Buffer
	l := NewDebugLoggerWriter(&buf)
	SetGlobalDebugLogger(l)
	defer SetGlobalDebugLogger(nil)

	DebugConnectError("eip", "10.0.0.1:44818", errors.New("refused"))
	if !strings.Contains(buf.String(), "CONNECT FAILED to 10.0.0.1:44818: refused") {
		t.Errorf("unexpected output %q", buf.String())
	}
}

func TestDebugLogger_Concurrent(t *testing.T) {
	var buf bytes.Buffer
	l := NewDebugLoggerWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Log("plc", "goroutine %d line %d", n, j)
			}
		}(i)
	}
	wg.Wait()

	// header + 500 lines
	if got := strings.Count(buf.String(), "\n"); got != 501 {
		t.Errorf("expected 501 lines, got %d", got)
	}
}
