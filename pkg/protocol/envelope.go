// Package protocol defines the wire envelopes exchanged between the ecan
// backend and its frontends (embedded shell web view or remote browsers)
// over a transport.
//
// All envelopes are JSON-encoded and share a common shape with a "type" field
// ("request" or "response") and a correlation id. Server-initiated pushes
// reuse the request shape: a request whose id the frontend never issued is a
// push, and frontend dispatchers keyed by method handle both uniformly.
package protocol

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Envelope type discriminators.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
)

// Status values for a Response.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPending Status = "pending"
	StatusError   Status = "error"
)

// Request is a method invocation envelope. The sender mints a fresh id;
// the timestamp is informational only.
type Request struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Meta      map[string]any  `json:"meta,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"` // unix milliseconds

	// Legacy token carriers: some frontends place the auth token at the
	// top level or under "args" instead of params.token.
	Args  json.RawMessage `json:"args,omitempty"`
	Token string          `json:"token,omitempty"`
}

// ErrorInfo describes a failed request.
type ErrorInfo struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Code is an error code. Peers may send codes as JSON strings or numbers;
// both decode to the textual form.
type Code string

func (c *Code) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = Code(s)
		return nil
	}
	var n int64
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*c = Code(strconv.FormatInt(n, 10))
	return nil
}

// Response answers a Request: same id, method echoed back, and exactly one
// of Result/Error populated according to Status (pending carries a
// result-shaped progress payload).
type Response struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Method    string         `json:"method"`
	Status    Status         `json:"status"`
	Result    any            `json:"result,omitempty"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Meta      map[string]any `json:"meta,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`

	// Deferred, when set, supplies the final envelope later. Only background
	// handlers may return one; the worker drives it to completion before
	// delivery. Never serialized.
	Deferred func() *Response `json:"-"`
}

// NewDeferred wraps fn as a background handler's result. The dispatcher's
// worker calls fn and delivers what it returns.
func NewDeferred(fn func() *Response) *Response {
	return &Response{Deferred: fn}
}

// NewRequest creates a request envelope with a fresh random id.
func NewRequest(method string, params any, meta map[string]any) *Request {
	var raw json.RawMessage
	if params != nil {
		raw, _ = json.Marshal(params)
	}
	return &Request{
		ID:        uuid.New().String(),
		Type:      TypeRequest,
		Method:    method,
		Params:    raw,
		Meta:      meta,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewSuccess creates a success response for req.
func NewSuccess(req *Request, result any, meta map[string]any) *Response {
	return &Response{
		ID:        reqID(req),
		Type:      TypeResponse,
		Method:    reqMethod(req),
		Status:    StatusSuccess,
		Result:    result,
		Meta:      meta,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewPending creates a pending response for req. Pending is terminal for the
// synchronous return path; the final envelope for the same id arrives later
// through the transport.
func NewPending(req *Request, message string, details any, meta map[string]any) *Response {
	result := map[string]any{"message": message}
	if details != nil {
		result["details"] = details
	}
	return &Response{
		ID:        reqID(req),
		Type:      TypeResponse,
		Method:    reqMethod(req),
		Status:    StatusPending,
		Result:    result,
		Meta:      meta,
		Timestamp: time.Now().UnixMilli(),
	}
}

// NewError creates an error response for req. An error response is terminal
// for its request id.
func NewError(req *Request, code Code, message string, details any) *Response {
	return &Response{
		ID:        reqID(req),
		Type:      TypeResponse,
		Method:    reqMethod(req),
		Status:    StatusError,
		Error:     &ErrorInfo{Code: code, Message: message, Details: details},
		Timestamp: time.Now().UnixMilli(),
	}
}

func reqID(req *Request) string {
	if req == nil {
		return ""
	}
	return req.ID
}

func reqMethod(req *Request) string {
	if req == nil {
		return "unknown"
	}
	return req.Method
}

// ParamsMap decodes params into a generic map. Returns nil if params are
// absent or not an object.
func (r *Request) ParamsMap() map[string]any {
	if r == nil || len(r.Params) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(r.Params, &m); err != nil {
		return nil
	}
	return m
}

// DecodeParams unmarshals params into v.
func (r *Request) DecodeParams(v any) error {
	if r == nil || len(r.Params) == 0 {
		return nil
	}
	return json.Unmarshal(r.Params, v)
}

// TokenValue extracts the auth token from, in order: params.token,
// args.token, the top-level token field. Empty string if none present.
func (r *Request) TokenValue() string {
	if r == nil {
		return ""
	}
	if t := stringField(r.Params, "token"); t != "" {
		return t
	}
	if t := stringField(r.Args, "token"); t != "" {
		return t
	}
	return r.Token
}

// SessionID extracts a session id from params.session_id or meta.session_id.
func (r *Request) SessionID() string {
	if r == nil {
		return ""
	}
	if s := stringField(r.Params, "session_id"); s != "" {
		return s
	}
	if v, ok := r.Meta["session_id"].(string); ok {
		return v
	}
	return ""
}

func stringField(raw json.RawMessage, key string) string {
	if len(raw) == 0 {
		return ""
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(m[key], &s); err != nil {
		return ""
	}
	return s
}

// Probe is the minimal decode used to discriminate incoming envelopes before
// full parsing. Unknown fields are tolerated and ignored.
type Probe struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Method string `json:"method"`
}
