package mirror

import (
	"context"
	"errors"
	"reflect"
	"time"

	"clxtag/logging"
	"clxtag/plc"
	"clxtag/tag"
)

// WriteRequest asks for a tag write. It arrives from a broker (Valkey
// queue, MQTT topic, Kafka topic) or the REST API. A list Value writes an
// array: the whole tag when Length is zero or equal to the list, otherwise
// the elements from Start within a tag of Length elements.
type WriteRequest struct {
	ID     string `json:"id,omitempty"`
	PLC    string `json:"plc"`
	Tag    string `json:"tag"`
	Type   string `json:"type"`
	Value  any    `json:"value"`
	Length int    `json:"length,omitempty"`
	Start  int    `json:"start,omitempty"`
}

// WriteResponse reports the outcome of a WriteRequest.
type WriteResponse struct {
	ID        string    `json:"id,omitempty"`
	PLC       string    `json:"plc"`
	Tag       string    `json:"tag"`
	Type      string    `json:"type,omitempty"`
	Value     any       `json:"value"`
	Success   bool      `json:"success"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrUnknownPLC is reported when a request names a PLC the lookup rejects.
var ErrUnknownPLC = errors.New("unknown plc")

// Lookup resolves a PLC name to its client.
type Lookup func(name string) (*plc.PLC, error)

// Writer executes write requests against the controllers.
type Writer interface {
	Write(ctx context.Context, req WriteRequest) WriteResponse
}

// Executor is the Writer used by every write-back path.
type Executor struct {
	lookup Lookup
}

// NewExecutor returns an Executor resolving PLCs through lookup.
func NewExecutor(lookup Lookup) *Executor {
	return &Executor{lookup: lookup}
}

// Write resolves the PLC and performs the write.
func (e *Executor) Write(ctx context.Context, req WriteRequest) WriteResponse {
	p, err := e.lookup(req.PLC)
	if err != nil || p == nil {
		if err == nil {
			err = ErrUnknownPLC
		}
		return NewWriteResponse(req, tag.Fail[any](req.Tag, err))
	}
	resp := NewWriteResponse(req, Apply(ctx, p, req))
	logging.DebugLog("mirror", "write %s/%s = %v -> %s", req.PLC, req.Tag, req.Value, resp.Status)
	return resp
}

// Apply performs req against p.
func Apply(ctx context.Context, p *plc.PLC, req WriteRequest) tag.Response[any] {
	typ, err := tag.ParseType(req.Type)
	if err != nil {
		return tag.Fail[any](req.Tag, err)
	}
	n, ok := listLen(req.Value)
	if !ok {
		return p.DWrite(ctx, req.Tag, typ, req.Value)
	}
	return p.DWriteArray(ctx, req.Tag, typ, req.Value, shapeOf(req.Length, req.Start, n))
}

// shapeOf picks the array shape for a list of n values.
func shapeOf(length, start, n int) tag.Shape {
	if length <= 0 {
		length = n
	}
	if start == 0 && n == length {
		return tag.Array(length)
	}
	return tag.Range(length, start, n)
}

func listLen(x any) (int, bool) {
	if x == nil {
		return 0, false
	}
	v := reflect.ValueOf(x)
	if v.Kind() != reflect.Slice {
		return 0, false
	}
	return v.Len(), true
}

// NewWriteResponse reports r as the outcome of req.
func NewWriteResponse(req WriteRequest, r tag.Response[any]) WriteResponse {
	resp := WriteResponse{
		ID:        req.ID,
		PLC:       req.PLC,
		Tag:       req.Tag,
		Type:      req.Type,
		Value:     req.Value,
		Success:   r.Success(),
		Status:    r.Status,
		Timestamp: time.Now().UTC(),
	}
	if r.Err != nil {
		resp.Error = r.Err.Error()
	}
	return resp
}
