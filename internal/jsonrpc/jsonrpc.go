package jsonrpc

import (
	"bytes"
	"encoding/json"
	"net/http"
)

const Version = "2.0"

// Error codes emitted by the gateway. -32403 and -32429 are application defined.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeInternalError  = -32603
	CodeForbidden      = -32403
	CodeRateLimited    = -32429
)

type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return e.Message
}

type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewErrorResponse builds an error response. A nil id is encoded as null.
func NewErrorResponse(id json.RawMessage, code int, message string, data any) Response {
	return Response{
		JSONRPC: Version,
		ID:      id,
		Error: &Error{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// WriteResponse writes resp as the JSON body of an HTTP response.
func WriteResponse(w http.ResponseWriter, status int, resp Response) error {
	body, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)

	return err
}

// Envelope is the decoded view of an inbound request body.
type Envelope struct {
	Raw      []byte
	Batch    bool
	Requests []Request
	Valid    bool
}

// Parse decodes a single request or a batch. Undecodable bodies yield an
// envelope with Valid set to false; the raw bytes are always kept.
func Parse(body []byte) Envelope {
	env := Envelope{Raw: body}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return env
	}

	if trimmed[0] == '[' {
		env.Batch = true
		if err := json.Unmarshal(trimmed, &env.Requests); err != nil {
			env.Requests = nil
			return env
		}
		env.Valid = true
		return env
	}

	var req Request
	if err := json.Unmarshal(trimmed, &req); err != nil {
		return env
	}
	env.Requests = []Request{req}
	env.Valid = true

	return env
}

// ID returns the id to echo in gateway generated responses. Batches and
// invalid bodies get null.
func (e Envelope) ID() json.RawMessage {
	if !e.Valid || e.Batch || len(e.Requests) != 1 {
		return nil
	}
	return e.Requests[0].ID
}

// Method returns the method name for logging.
func (e Envelope) Method() string {
	switch {
	case !e.Valid:
		return "<invalid>"
	case e.Batch:
		return "batch"
	case len(e.Requests) == 1:
		return e.Requests[0].Method
	default:
		return ""
	}
}

// Methods lists every method name in the envelope.
func (e Envelope) Methods() []string {
	methods := make([]string, 0, len(e.Requests))
	for _, r := range e.Requests {
		methods = append(methods, r.Method)
	}
	return methods
}
