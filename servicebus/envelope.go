package servicebus

import (
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/joeycumines/go-utilpkg/jsonenc"

	"github.com/fep3/participant/ferrors"
)

// Envelope is a single RPC call addressed to a named service and method,
// with arguments encoded as strings — the RPC surface only ever carries
// integers (stringified) and strings, so a single representation covers
// every method in the table without per-method protobuf messages.
type Envelope struct {
	Service string
	Method  string
	Args    []string
}

// Result is the outcome of dispatching an Envelope: either a value
// (possibly empty) or an error, never both — the "result sum type
// {ok(value), err(kind, msg)}" called for in place of exceptions crossing
// the RPC boundary.
type Result struct {
	Values []string
	Err    *RPCError
}

// RPCError is the wire form of a ferrors.Kind plus message, carried back
// across the RPC boundary instead of an exception.
type RPCError struct {
	Kind    string
	Message string
}

// OK constructs a successful Result.
func OK(values ...string) Result { return Result{Values: values} }

// Fail constructs a failed Result from a ferrors-flavoured error.
func Fail(err error) Result {
	kind, ok := ferrors.KindOf(err)
	if !ok {
		kind = ferrors.Unexpected
	}
	return Result{Err: &RPCError{Kind: kind.String(), Message: err.Error()}}
}

// AsError converts a failed Result back into an error, or nil if r
// succeeded.
func (r Result) AsError() error {
	if r.Err == nil {
		return nil
	}
	return fmt.Errorf("servicebus: %s: %s", r.Err.Kind, r.Err.Message)
}

// EncodeCSV joins values the way the data_registry/job_registry/
// scheduler_service methods return name lists ("→ CSV").
func EncodeCSV(values []string) string { return strings.Join(values, ",") }

// DecodeCSV splits a CSV string produced by EncodeCSV. An empty string
// decodes to an empty (not nil-with-one-element) slice.
func DecodeCSV(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// wireEnvelope/wireResult mirror Envelope/Result for JSON (de)serialization,
// matching the field-name style of streamtype's wire structs.
type wireEnvelope struct {
	Service string   `json:"service"`
	Method  string   `json:"method"`
	Args    []string `json:"args"`
}

type wireResult struct {
	Values []string  `json:"values,omitempty"`
	Err    *RPCError `json:"err,omitempty"`
}

// Marshal renders e as JSON, hand-rolled with jsonenc rather than
// encoding/json for the hot dispatch path (every RPC call marshals one of
// these), matching streamtype.Marshal's allocation-free append style.
func (e Envelope) Marshal() []byte {
	buf := make([]byte, 0, 64+16*len(e.Args))
	buf = append(buf, `{"service":`...)
	buf = jsonenc.AppendString(buf, e.Service)
	buf = append(buf, `,"method":`...)
	buf = jsonenc.AppendString(buf, e.Method)
	buf = append(buf, `,"args":[`...)
	for i, a := range e.Args {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = jsonenc.AppendString(buf, a)
	}
	buf = append(buf, `]}`...)
	return buf
}

// UnmarshalEnvelope parses the JSON object produced by Envelope.Marshal.
// Decoding uses encoding/json, not a hand-rolled scanner, since the
// decode side is not the performance-sensitive direction (mirrors
// streamtype.Unmarshal's rationale).
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return Envelope{}, fmt.Errorf("servicebus: %w", err)
	}
	return Envelope{Service: w.Service, Method: w.Method, Args: w.Args}, nil
}

// Marshal renders r as JSON.
func (r Result) Marshal() []byte {
	buf := make([]byte, 0, 64+16*len(r.Values))
	buf = append(buf, `{"values":[`...)
	for i, v := range r.Values {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = jsonenc.AppendString(buf, v)
	}
	buf = append(buf, ']')
	if r.Err != nil {
		buf = append(buf, `,"err":{"kind":`...)
		buf = jsonenc.AppendString(buf, r.Err.Kind)
		buf = append(buf, `,"message":`...)
		buf = jsonenc.AppendString(buf, r.Err.Message)
		buf = append(buf, '}')
	}
	buf = append(buf, '}')
	return buf
}

// UnmarshalResult parses the JSON object produced by Result.Marshal.
func UnmarshalResult(data []byte) (Result, error) {
	var w wireResult
	if err := json.Unmarshal(data, &w); err != nil {
		return Result{}, fmt.Errorf("servicebus: %w", err)
	}
	return Result{Values: w.Values, Err: w.Err}, nil
}

// ToBytesValue wraps an Envelope's wire bytes in a wrapperspb.BytesValue,
// the payload type carried by the hand-registered gRPC Invoke method (see
// server.go), so the envelope survives an actual protobuf-framed transport
// without a dedicated generated message per RPC method.
func ToBytesValue(data []byte) *wrapperspb.BytesValue { return wrapperspb.Bytes(data) }

// FromBytesValue unwraps a wrapperspb.BytesValue back into raw bytes.
func FromBytesValue(m proto.Message) ([]byte, error) {
	bv, ok := m.(*wrapperspb.BytesValue)
	if !ok {
		return nil, fmt.Errorf("servicebus: unexpected payload type %T", m)
	}
	return bv.GetValue(), nil
}
