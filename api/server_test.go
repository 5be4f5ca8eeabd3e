package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"clxtag/config"
	"clxtag/eip"
	"clxtag/mirror"
	"clxtag/plc"
	"clxtag/plcman"
	"clxtag/tag"
	"clxtag/tagtest"
)

func newTestManager(t *testing.T) (*plcman.Manager, *tagtest.Controller) {
	t.Helper()
	ctrl := tagtest.NewController()
	ctrl.Define("Counter", tag.Dint, 0)
	ctrl.Define("Values", tag.Dint, 6)
	ctrl.Define("Label", tag.String, 0)
	ctrl.Define("Flags", tag.Bool, 64)

	m := plcman.NewManager(plc.WithOpener(ctrl.Opener()))
	if _, err := m.AddPLC(config.PLCConfig{Name: "line1", Address: "10.0.0.5"}); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(m.StopAll)
	return m, ctrl
}

func newTestRouter(t *testing.T, opts Options) (http.Handler, *tagtest.Controller) {
	t.Helper()
	m, ctrl := newTestManager(t)
	opts.PLCs = m
	return NewRouter(opts), ctrl
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestServer_Address(t *testing.T) {
	m := plcman.NewManager()
	server := NewServer(m, config.APIConfig{Host: "localhost", Port: 9999}, nil)
	if addr := server.Address(); addr != "http://localhost:9999" {
		t.Errorf("expected 'http://localhost:9999', got %s", addr)
	}
	if server.IsRunning() {
		t.Error("server should not be running initially")
	}
}

func TestServer_StartAndStop(t *testing.T) {
	m, _ := newTestManager(t)
	server := NewServer(m, config.APIConfig{Host: "127.0.0.1", Port: 0}, NewEventHub())

	if err := server.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !server.IsRunning() {
		t.Error("server should be running after Start")
	}
	if err := server.Start(); err != nil {
		t.Errorf("second Start should be a no-op, got %v", err)
	}

	resp, err := http.Get(server.Address() + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	if err := server.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if server.IsRunning() {
		t.Error("server should not be running after Stop")
	}
	if err := server.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op, got %v", err)
	}
}

func TestServer_StartFailsOnBusyPort(t *testing.T) {
	ts := httptest.NewServer(http.NotFoundHandler())
	defer ts.Close()
	u, _ := url.Parse(ts.URL)
	host, port, _ := strings.Cut(u.Host, ":")

	n, err := strconv.Atoi(port)
	if err != nil {
		t.Fatal(err)
	}
	server := NewServer(plcman.NewManager(), config.APIConfig{Host: host, Port: n}, nil)
	if err := server.Start(); err == nil {
		server.Stop()
		t.Fatal("expected listen error on a busy port")
	}
	if server.IsRunning() {
		t.Error("server should not be running after a failed Start")
	}
}

func TestListAndDetails(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	w := do(t, h, http.MethodGet, "/", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	list := decode[[]PLCResponse](t, w)
	if len(list) != 1 || list[0].Name != "line1" || list[0].Path != "1,0" || list[0].Family != "controllogix" || list[0].Status != "Unknown" {
		t.Fatalf("unexpected list %+v", list)
	}
	if list[0].CachedTags != 0 {
		t.Errorf("expected no cached tags, got %d", list[0].CachedTags)
	}

	do(t, h, http.MethodGet, "/line1/tags/Counter?type=dint", "")

	w = do(t, h, http.MethodGet, "/line1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	details := decode[PLCResponse](t, w)
	if details.CachedTags != 1 || len(details.Tags) != 1 || details.Tags[0] != "Counter" {
		t.Errorf("unexpected details %+v", details)
	}

	w = do(t, h, http.MethodGet, "/line1/tags", "")
	if names := decode[[]string](t, w); len(names) != 1 || names[0] != "Counter" {
		t.Errorf("unexpected cached tags %v", names)
	}

	if w := do(t, h, http.MethodGet, "/nope", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown PLC, got %d", w.Code)
	}
}

func TestWriteThenRead(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		body   string
		code   int
		status string
	}{
		{"scalar", `{"tag":"Counter","type":"dint","value":42}`, http.StatusOK, tag.StatusSuccess},
		{"string", `{"tag":"Label","type":"string","value":"hello"}`, http.StatusOK, tag.StatusSuccess},
		{"whole array", `{"tag":"Values","type":"dint","value":[1,2,3,4,5,6]}`, http.StatusOK, tag.StatusSuccess},
		{"range", `{"tag":"Values","type":"dint","value":[50,60],"length":6,"start":4}`, http.StatusOK, tag.StatusSuccess},
		{"indexed bit", `{"tag":"Flags[33]","type":"bool","value":true}`, http.StatusOK, tag.StatusSuccess},
		{"range overflow", `{"tag":"Values","type":"dint","value":[1,2],"length":6,"start":5}`, http.StatusBadRequest, "mismatch length"},
		{"wrong type", `{"tag":"Counter","type":"udt","value":1}`, http.StatusBadRequest, "wrong type"},
		{"string overflow", `{"tag":"Label","type":"string","value":"` + strings.Repeat("x", 89) + `"}`, http.StatusBadRequest, ""},
		{"unknown tag", `{"tag":"Missing","type":"dint","value":1}`, http.StatusBadGateway, ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/line1/write", tc.body)
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
			resp := decode[mirror.WriteResponse](t, w)
			if resp.PLC != "line1" {
				t.Errorf("expected PLC from URL, got %q", resp.PLC)
			}
			if tc.status != "" && resp.Status != tc.status {
				t.Errorf("status = %q, want %q", resp.Status, tc.status)
			}
			if resp.Success != (tc.code == http.StatusOK) {
				t.Errorf("success = %v for code %d", resp.Success, tc.code)
			}
		})
	}

	reads := []struct {
		target string
		want   string
	}{
		{"/line1/tags/Counter?type=DINT", "42"},
		{"/line1/tags/Label?type=string", `"hello"`},
		{"/line1/tags/Values?type=dint&length=6", "[1,2,3,4,50,60]"},
		{"/line1/tags/Values?type=dint&length=6&start=3&count=2", "[4,50]"},
		{"/line1/tags/Values?type=dint&dims=2,3", "[1,2,3,4,50,60]"},
		{"/line1/tags/Flags%5B33%5D?type=bool", "true"},
		{"/line1/tags/Flags%5B32%5D?type=bool", "false"},
	}
	for _, tc := range reads {
		w := do(t, h, http.MethodGet, tc.target, "")
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d: %s", tc.target, w.Code, w.Body.String())
			continue
		}
		var resp struct {
			Value   json.RawMessage `json:"value"`
			Success bool            `json:"success"`
			Status  string          `json:"status"`
		}
		if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
			t.Fatal(err)
		}
		if string(resp.Value) != tc.want || !resp.Success || resp.Status != tag.StatusSuccess {
			t.Errorf("GET %s: value=%s success=%v status=%q, want %s", tc.target, resp.Value, resp.Success, resp.Status, tc.want)
		}
	}
}

func TestWriteRejectsBadRequests(t *testing.T) {
	h, _ := newTestRouter(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"tag":`},
		{"plc mismatch", `{"plc":"other","tag":"Counter","type":"dint","value":1}`},
		{"missing tag", `{"type":"dint","value":1}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodPost, "/line1/write", tc.body)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d", w.Code)
			}
		})
	}
	if w := do(t, h, http.MethodGet, "/line1/write", ""); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405 for GET /write, got %d", w.Code)
	}
}

func TestReadQueryErrors(t *testing.T) {
	h, ctrl := newTestRouter(t, Options{})

	tests := []struct {
		name   string
		target string
		code   int
	}{
		{"missing type", "/line1/tags/Counter", http.StatusBadRequest},
		{"unknown type", "/line1/tags/Counter?type=udt", http.StatusBadRequest},
		{"bad length", "/line1/tags/Values?type=dint&length=x", http.StatusBadRequest},
		{"negative start", "/line1/tags/Values?type=dint&length=6&start=-1&count=1", http.StatusBadRequest},
		{"count without length", "/line1/tags/Values?type=dint&count=2", http.StatusBadRequest},
		{"dims with length", "/line1/tags/Values?type=dint&dims=2,3&length=6", http.StatusBadRequest},
		{"range past end", "/line1/tags/Values?type=dint&length=6&start=5&count=2", http.StatusBadRequest},
		{"too many dims", "/line1/tags/Values?type=dint&dims=1,1,2,3", http.StatusBadRequest},
		{"malformed bit index", "/line1/tags/Flags%5Bx%5D?type=bool", http.StatusBadRequest},
		{"unknown tag", "/line1/tags/Missing?type=dint", http.StatusBadGateway},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, http.MethodGet, tc.target, "")
			if w.Code != tc.code {
				t.Errorf("expected %d, got %d: %s", tc.code, w.Code, w.Body.String())
			}
		})
	}

	ctrl.Fault("Counter", tagtest.OpRead, errors.New("connection reset"))
	w := do(t, h, http.MethodGet, "/line1/tags/Counter?type=dint", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502 on channel fault, got %d", w.Code)
	}
	resp := decode[TagResponse](t, w)
	if resp.Success || resp.Error == "" || !strings.Contains(resp.Status, "connection reset") {
		t.Errorf("expected fault text in envelope, got %+v", resp)
	}
}

func TestReleaseTag(t *testing.T) {
	h, ctrl := newTestRouter(t, Options{})

	do(t, h, http.MethodGet, "/line1/tags/Counter?type=dint", "")
	if ctrl.Live() != 1 {
		t.Fatalf("expected one live session, got %d", ctrl.Live())
	}

	w := do(t, h, http.MethodDelete, "/line1/tags/Counter", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ctrl.Live() != 0 {
		t.Errorf("expected session disposed, %d live", ctrl.Live())
	}

	if w := do(t, h, http.MethodDelete, "/line1/tags/Counter", ""); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 releasing an uncached tag, got %d", w.Code)
	}
}

func TestHealthProbes(t *testing.T) {
	m, _ := newTestManager(t)
	fail := true
	m.SetIdentifier(func(ctx context.Context, addr string, timeout time.Duration) (*eip.Identity, error) {
		if fail {
			return nil, errors.New("no route to host")
		}
		return &eip.Identity{ProductName: "1756-L83E", SerialNumber: 0xC0FFEE, RevisionMajor: 33, RevisionMinor: 11}, nil
	})
	h := NewRouter(Options{PLCs: m})

	w := do(t, h, http.MethodGet, "/line1/health", "")
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
	if resp := decode[PLCResponse](t, w); resp.Status != "Error" || resp.Error != "no route to host" {
		t.Errorf("unexpected health %+v", resp)
	}

	fail = false
	w = do(t, h, http.MethodGet, "/line1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	resp := decode[PLCResponse](t, w)
	if resp.Status != "Connected" || resp.ProductName != "1756-L83E" || resp.Serial != "00C0FFEE" || resp.Revision != "33.11" || resp.LastCheck == "" {
		t.Errorf("unexpected health %+v", resp)
	}
}

func TestAPIKey(t *testing.T) {
	hash, err := HashKey("secret")
	if err != nil {
		t.Fatal(err)
	}
	h, _ := newTestRouter(t, Options{APIKeyHash: hash})

	tests := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"wrong", "X-API-Key", "nope", http.StatusUnauthorized},
		{"header", "X-API-Key", "secret", http.StatusOK},
		{"cached", "X-API-Key", "secret", http.StatusOK},
		{"bearer", "Authorization", "Bearer secret", http.StatusOK},
		{"wrong after cached", "X-API-Key", "secreT", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(tc.header, tc.value)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != tc.code {
				t.Errorf("expected %d, got %d", tc.code, w.Code)
			}
		})
	}

	req := httptest.NewRequest(http.MethodOptions, "/line1/write", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("expected CORS preflight to pass without a key, got %d", w.Code)
	}
}

func TestEventsStream(t *testing.T) {
	m, _ := newTestManager(t)
	hub := NewEventHub()
	defer hub.Stop()
	ts := httptest.NewServer(NewRouter(Options{PLCs: m, Events: hub}))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/events?plc=line1&tags=Counter", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	lines := bufio.NewScanner(resp.Body)
	next := func() (string, string) {
		var event, data string
		for lines.Scan() {
			line := lines.Text()
			switch {
			case strings.HasPrefix(line, "event: "):
				event = strings.TrimPrefix(line, "event: ")
			case strings.HasPrefix(line, "data: "):
				data = strings.TrimPrefix(line, "data: ")
			case line == "" && event != "":
				return event, data
			}
		}
		t.Fatalf("stream ended: %v", lines.Err())
		return "", ""
	}

	if event, _ := next(); event != eventConnected {
		t.Fatalf("expected connected event, got %q", event)
	}
	if hub.ClientCount() != 1 {
		t.Errorf("expected one client, got %d", hub.ClientCount())
	}

	now := time.Now().UTC()
	hub.Publish(ctx, mirror.Message{PLC: "line2", Tag: "Counter", Type: "Dint", Op: "write", Value: int32(1), Timestamp: now})
	hub.Publish(ctx, mirror.Message{PLC: "line1", Tag: "Other", Type: "Dint", Op: "write", Value: int32(2), Timestamp: now})
	hub.Publish(ctx, mirror.Message{PLC: "line1", Tag: "Counter", Type: "Dint", Op: "write", Value: int32(3), Timestamp: now})

	event, data := next()
	if event != eventValueChange {
		t.Fatalf("expected value-change, got %q", event)
	}
	var msg mirror.Message
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		t.Fatal(err)
	}
	if msg.PLC != "line1" || msg.Tag != "Counter" || msg.Value != float64(3) {
		t.Errorf("filters not applied, got %+v", msg)
	}
}

func TestEventHubStopDisconnects(t *testing.T) {
	hub := NewEventHub()
	h := &handlers{events: hub}
	hub.Stop()
	hub.Stop()

	w := httptest.NewRecorder()
	h.handleSSE(w, httptest.NewRequest(http.MethodGet, "/events", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 after Stop, got %d", w.Code)
	}
	if err := hub.Publish(context.Background(), mirror.Message{}); err != nil {
		t.Errorf("Publish should never fail, got %v", err)
	}
}
