// Copyright (C) 2025 Forrst Labs, Inc.
// See LICENSE for copying information.

package envelope

import (
	"bytes"
	"encoding/json"
	"unicode/utf8"

	"forrst.io/forrst/pkg/codes"
)

// DefaultMaxRequestSize caps parsed request documents.
const DefaultMaxRequestSize = 1 << 20 // 1 MiB

type callWire struct {
	Function  string                     `json:"function"`
	Version   string                     `json:"version"`
	Arguments map[string]json.RawMessage `json:"arguments"`
}

type declaredWire struct {
	URN     string                     `json:"urn"`
	Options map[string]json.RawMessage `json:"options"`
}

type requestWire struct {
	Protocol   Protocol                   `json:"protocol"`
	ID         string                     `json:"id"`
	Call       *callWire                  `json:"call"`
	Context    map[string]json.RawMessage `json:"context"`
	Extensions []declaredWire             `json:"extensions"`
}

// Parse parses a request envelope with the default size cap.
func Parse(data []byte) (*Request, error) {
	return ParseWithLimit(data, DefaultMaxRequestSize)
}

// ParseWithLimit parses a request envelope, rejecting documents over limit
// bytes. The input must be a single UTF-8 encoded JSON object; unknown
// top-level members are ignored.
func ParseWithLimit(data []byte, limit int) (*Request, error) {
	if limit > 0 && len(data) > limit {
		return nil, codes.New(codes.InvalidRequest, "request exceeds the %d byte limit", limit)
	}
	if !utf8.Valid(data) {
		return nil, codes.New(codes.ParseError, "request is not valid UTF-8")
	}

	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, codes.New(codes.ParseError, "empty request").WithPosition(0)
	}
	if trimmed[0] != '{' {
		if trimmed[0] == '[' {
			return nil, codes.New(codes.InvalidRequest, "request must be a single JSON object, not an array")
		}
		if json.Valid(data) {
			return nil, codes.New(codes.InvalidRequest, "request must be a single JSON object")
		}
		return nil, parseError(data, int64(len(data)-len(trimmed)))
	}

	var wire requestWire
	if err := json.Unmarshal(data, &wire); err != nil {
		switch cause := err.(type) {
		case *json.SyntaxError:
			return nil, parseError(data, cause.Offset)
		case *json.UnmarshalTypeError:
			return nil, codes.New(codes.InvalidRequest, "invalid %q member", cause.Field)
		default:
			return nil, codes.Wrap(codes.ParseError, err)
		}
	}

	request := &Request{
		Protocol: wire.Protocol,
		ID:       wire.ID,
	}

	if wire.Call == nil {
		return nil, codes.New(codes.InvalidRequest, "missing call member").WithPointer("/call")
	}
	if wire.Call.Function == "" {
		return nil, codes.New(codes.InvalidRequest, "missing call.function member").WithPointer("/call/function")
	}
	request.Call.Function = wire.Call.Function
	request.Call.Version = wire.Call.Version

	var err error
	request.Call.Arguments, err = parseValueMap(wire.Call.Arguments)
	if err != nil {
		return nil, codes.Wrap(codes.ParseError, err)
	}
	request.Context, err = parseValueMap(wire.Context)
	if err != nil {
		return nil, codes.Wrap(codes.ParseError, err)
	}

	for _, declared := range wire.Extensions {
		options, err := parseValueMap(declared.Options)
		if err != nil {
			return nil, codes.Wrap(codes.ParseError, err)
		}
		request.Extensions = append(request.Extensions, Declared{
			URN:     declared.URN,
			Options: options,
		})
	}

	return request, nil
}

func parseError(data []byte, offset int64) error {
	if offset < 0 {
		offset = 0
	}
	return codes.New(codes.ParseError, "malformed JSON at byte %d", offset).WithPosition(offset)
}

func parseValueMap(raw map[string]json.RawMessage) (map[string]Value, error) {
	if raw == nil {
		return nil, nil
	}
	values := make(map[string]Value, len(raw))
	for key, member := range raw {
		var value Value
		if err := value.UnmarshalJSON(member); err != nil {
			return nil, Error.Wrap(err)
		}
		values[key] = value
	}
	return values, nil
}

type errorSourceWire struct {
	Pointer  *string `json:"pointer,omitempty"`
	Position *int64  `json:"position,omitempty"`
}

type errorWire struct {
	Code    string           `json:"code"`
	Message string           `json:"message"`
	Source  *errorSourceWire `json:"source,omitempty"`
	Details map[string]Value `json:"details,omitempty"`

	// Deprecated on the wire; accepted and discarded.
	Retryable *bool `json:"retryable,omitempty"`
}

func (e ErrorObject) wire() errorWire {
	w := errorWire{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
	}
	if e.Source != nil {
		// pointer and position are mutually exclusive; pointer wins
		if e.Source.Pointer != "" {
			pointer := e.Source.Pointer
			w.Source = &errorSourceWire{Pointer: &pointer}
		} else {
			position := e.Source.Position
			w.Source = &errorSourceWire{Position: &position}
		}
	}
	return w
}

func (w errorWire) object() ErrorObject {
	e := ErrorObject{
		Code:    w.Code,
		Message: w.Message,
		Details: w.Details,
	}
	if w.Source != nil {
		source := &ErrorSource{}
		if w.Source.Pointer != nil {
			source.Pointer = *w.Source.Pointer
		} else if w.Source.Position != nil {
			source.Position = *w.Source.Position
		}
		e.Source = source
	}
	return e
}

type responseExtensionWire struct {
	URN  string `json:"urn"`
	Data Value  `json:"data,omitempty"`
}

// Serialize encodes a response envelope. Exactly one of result or errors is
// emitted; errors win when both are set.
func Serialize(response *Response) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	writeMember := func(name string, value interface{}) error {
		if buf.Len() > 1 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return err
		}
		buf.Write(key)
		buf.WriteByte(':')
		data, err := json.Marshal(value)
		if err != nil {
			return err
		}
		buf.Write(data)
		return nil
	}

	if err := writeMember("protocol", response.Protocol); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := writeMember("id", response.ID); err != nil {
		return nil, Error.Wrap(err)
	}

	if len(response.Errors) > 0 {
		wires := make([]errorWire, len(response.Errors))
		for i, errObject := range response.Errors {
			wires[i] = errObject.wire()
		}
		if err := writeMember("errors", wires); err != nil {
			return nil, Error.Wrap(err)
		}
	} else {
		if err := writeMember("result", response.Result); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	if len(response.Meta) > 0 {
		if err := writeMember("meta", Object(response.Meta)); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	if len(response.Extensions) > 0 {
		wires := make([]responseExtensionWire, len(response.Extensions))
		for i, ext := range response.Extensions {
			wires[i] = responseExtensionWire(ext)
		}
		if err := writeMember("extensions", wires); err != nil {
			return nil, Error.Wrap(err)
		}
	}

	buf.WriteByte('}')
	return buf.Bytes(), nil
}

type responseWire struct {
	Protocol   Protocol                `json:"protocol"`
	ID         *string                 `json:"id"`
	Result     json.RawMessage         `json:"result"`
	Errors     []errorWire             `json:"errors"`
	Meta       map[string]Value        `json:"meta"`
	Extensions []responseExtensionWire `json:"extensions"`
}

// ParseResponse parses a response envelope. Receivers ignore unknown
// top-level members.
func ParseResponse(data []byte) (*Response, error) {
	var wire responseWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, Error.Wrap(err)
	}

	response := &Response{
		Protocol: wire.Protocol,
		ID:       wire.ID,
		Meta:     wire.Meta,
	}
	if len(wire.Errors) > 0 {
		for _, w := range wire.Errors {
			response.Errors = append(response.Errors, w.object())
		}
	} else if wire.Result != nil {
		if err := response.Result.UnmarshalJSON(wire.Result); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	for _, ext := range wire.Extensions {
		response.Extensions = append(response.Extensions, ResponseExtension(ext))
	}
	return response, nil
}
