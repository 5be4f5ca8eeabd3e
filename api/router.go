package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"clxtag/logging"
	"clxtag/mirror"
	"clxtag/plc"
	"clxtag/plcman"
	"clxtag/tag"
)

// maxBodySize caps write request bodies.
const maxBodySize = 1 << 20

// PLCResponse is the JSON response for PLC info.
type PLCResponse struct {
	Name        string   `json:"name"`
	Address     string   `json:"address"`
	Path        string   `json:"path"`
	Family      string   `json:"plc"`
	Status      string   `json:"status"`
	ProductName string   `json:"product_name,omitempty"`
	Serial      string   `json:"serial,omitempty"`
	Revision    string   `json:"revision,omitempty"`
	Error       string   `json:"error,omitempty"`
	LastCheck   string   `json:"last_check,omitempty"`
	CachedTags  int      `json:"cached_tags"`
	Tags        []string `json:"tags,omitempty"`
}

// TagResponse is the JSON envelope returned for a read.
type TagResponse struct {
	PLC       string `json:"plc"`
	Tag       string `json:"tag"`
	Type      string `json:"type"`
	Value     any    `json:"value"`
	Success   bool   `json:"success"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	Timestamp string `json:"timestamp"`
}

// Options configures the router.
type Options struct {
	PLCs *plcman.Manager

	// Events enables GET /events when set.
	Events *EventHub

	// APIKeyHash, when set, requires a matching X-API-Key on every request.
	APIKeyHash string
}

// handlers holds the API handler functions.
type handlers struct {
	plcs   *plcman.Manager
	events *EventHub
}

// NewRouter creates the REST API router.
func NewRouter(opts Options) chi.Router {
	r := chi.NewRouter()
	r.Use(corsMiddleware)
	if opts.APIKeyHash != "" {
		r.Use(newKeyChecker(opts.APIKeyHash).middleware)
	}

	h := &handlers{plcs: opts.PLCs, events: opts.Events}

	r.Get("/", h.handleListPLCs)
	if h.events != nil {
		r.Get("/events", h.handleSSE)
	}

	r.Route("/{plc}", func(r chi.Router) {
		r.Get("/", h.handlePLCDetails)
		r.Get("/health", h.handlePLCHealth)
		r.Get("/tags", h.handleCachedTags)
		r.Get("/tags/*", h.handleRead)
		r.Delete("/tags/*", h.handleRelease)
		r.Post("/write", h.handleWrite)
	})

	return r
}

func (h *handlers) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *handlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

// lookup resolves the {plc} URL parameter, writing a 404 when unknown.
func (h *handlers) lookup(w http.ResponseWriter, r *http.Request) (*plcman.ManagedPLC, bool) {
	name, _ := url.PathUnescape(chi.URLParam(r, "plc"))
	mp, err := h.plcs.GetPLC(name)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "PLC not found")
		return nil, false
	}
	return mp, true
}

func tagParam(r *http.Request) string {
	name, _ := url.PathUnescape(chi.URLParam(r, "*"))
	return name
}

func plcResponse(mp *plcman.ManagedPLC) PLCResponse {
	resp := PLCResponse{
		Name:       mp.Config.Name,
		Address:    mp.Config.Address,
		Path:       mp.Client.Path(),
		Family:     mp.Config.Family(),
		Status:     mp.GetStatus().String(),
		CachedTags: len(mp.Client.CachedTags()),
	}
	if id := mp.GetIdentity(); id != nil {
		resp.ProductName = id.ProductName
		resp.Serial = fmt.Sprintf("%08X", id.SerialNumber)
		resp.Revision = fmt.Sprintf("%d.%d", id.RevisionMajor, id.RevisionMinor)
	}
	if err := mp.GetError(); err != nil {
		resp.Error = err.Error()
	}
	if t := mp.LastCheck(); !t.IsZero() {
		resp.LastCheck = t.UTC().Format(time.RFC3339)
	}
	return resp
}

func (h *handlers) handleListPLCs(w http.ResponseWriter, r *http.Request) {
	plcs := h.plcs.ListPLCs()
	response := make([]PLCResponse, 0, len(plcs))
	for _, mp := range plcs {
		response = append(response, plcResponse(mp))
	}
	h.writeJSON(w, http.StatusOK, response)
}

func (h *handlers) handlePLCDetails(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}
	resp := plcResponse(mp)
	resp.Tags = mp.Client.CachedTags()
	h.writeJSON(w, http.StatusOK, resp)
}

// handlePLCHealth probes the PLC now rather than reporting the last probe.
func (h *handlers) handlePLCHealth(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}
	status := http.StatusOK
	if err := h.plcs.Probe(r.Context(), mp.Name()); err != nil {
		status = http.StatusBadGateway
	}
	h.writeJSON(w, status, plcResponse(mp))
}

func (h *handlers) handleCachedTags(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, mp.Client.CachedTags())
}

// readQuery is the parsed query string of a tag read.
type readQuery struct {
	typ   tag.Type
	shape tag.Shape
	dims  []int
}

func parseReadQuery(q url.Values) (readQuery, error) {
	var rq readQuery
	if q.Get("type") == "" {
		return rq, errors.New("type is required")
	}
	typ, err := tag.ParseType(q.Get("type"))
	if err != nil {
		return rq, err
	}
	rq.typ = typ

	ints := make(map[string]int, 3)
	for _, key := range []string{"length", "start", "count"} {
		s := q.Get(key)
		if s == "" {
			continue
		}
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return rq, fmt.Errorf("%s must be a non-negative integer", key)
		}
		ints[key] = n
	}

	if d := q.Get("dims"); d != "" {
		if ints["length"] > 0 || ints["count"] > 0 {
			return rq, errors.New("dims cannot be combined with length or count")
		}
		for _, part := range strings.Split(d, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || n <= 0 {
				return rq, errors.New("dims must be positive integers")
			}
			rq.dims = append(rq.dims, n)
		}
		return rq, nil
	}

	switch {
	case ints["count"] > 0 && ints["length"] == 0:
		return rq, errors.New("count requires length")
	case ints["count"] > 0:
		rq.shape = tag.Range(ints["length"], ints["start"], ints["count"])
	case ints["length"] > 0:
		rq.shape = tag.Array(ints["length"])
	}
	return rq, nil
}

func (h *handlers) handleRead(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}
	name := tagParam(r)
	if name == "" {
		h.writeError(w, http.StatusBadRequest, "tag name required")
		return
	}
	rq, err := parseReadQuery(r.URL.Query())
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp tag.Response[any]
	switch {
	case len(rq.dims) > 0:
		vals := mp.Client.ReadDims(r.Context(), name, rq.typ, rq.dims...)
		resp = tag.Map(vals, func(v []tag.Value) any { return plc.NativeSlice(rq.typ, v) })
	case rq.shape.IsScalar():
		resp = mp.Client.DRead(r.Context(), name, rq.typ)
	default:
		resp = mp.Client.DReadArray(r.Context(), name, rq.typ, rq.shape)
	}

	if !resp.Success() {
		logging.DebugLog("api", "read %s/%s failed: %s", mp.Name(), name, resp.Status)
	}
	h.writeJSON(w, statusCode(resp.Kind()), TagResponse{
		PLC:       mp.Name(),
		Tag:       name,
		Type:      rq.typ.String(),
		Value:     resp.Value,
		Success:   resp.Success(),
		Status:    resp.Status,
		Error:     errorText(resp),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (h *handlers) handleRelease(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}
	name := tagParam(r)
	released := mp.Client.ReleaseTagIfExists(name)
	status := http.StatusOK
	if !released {
		status = http.StatusNotFound
	}
	h.writeJSON(w, status, map[string]any{
		"plc":      mp.Name(),
		"tag":      name,
		"released": released,
	})
}

func (h *handlers) handleWrite(w http.ResponseWriter, r *http.Request) {
	mp, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var req mirror.WriteRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.PLC != "" && req.PLC != mp.Name() {
		h.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("PLC name mismatch: URL has '%s', request has '%s'", mp.Name(), req.PLC))
		return
	}
	req.PLC = mp.Name()
	if req.Tag == "" {
		h.writeError(w, http.StatusBadRequest, "tag is required")
		return
	}

	result := mirror.Apply(r.Context(), mp.Client, req)
	if !result.Success() {
		logging.DebugLog("api", "write %s/%s failed: %s", req.PLC, req.Tag, result.Status)
	}
	h.writeJSON(w, statusCode(result.Kind()), mirror.NewWriteResponse(req, result))
}

// statusCode maps a tag failure kind onto an HTTP status. Validation
// failures are the caller's fault; channel faults are the controller's.
func statusCode(k tag.ErrorKind) int {
	switch k {
	case tag.KindNone:
		return http.StatusOK
	case tag.KindWrongType, tag.KindInvalidShape, tag.KindEncodingOverflow:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func errorText(r tag.Response[any]) string {
	if r.Success() {
		return ""
	}
	return r.Status
}
