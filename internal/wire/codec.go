package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// eol is the frame terminator mandated by the wire protocol: CR LF.
var eol = []byte{0x0D, 0x0A}

// EncodeError reports that a frame could not be serialized.
type EncodeError struct {
	Err error
}

func (e *EncodeError) Error() string { return fmt.Sprintf("wire: encode: %v", e.Err) }
func (e *EncodeError) Unwrap() error { return e.Err }

// DecodeError reports that raw bytes could not be parsed as a single JSON
// object.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return fmt.Sprintf("wire: decode: %v", e.Err) }
func (e *DecodeError) Unwrap() error { return e.Err }

// ProtocolError reports that a decoded frame failed validation: it was
// missing a required field, or declared a major version newer than this
// library understands.
type ProtocolError struct {
	Reason string
}

func (e *ProtocolError) Error() string { return fmt.Sprintf("wire: protocol: %s", e.Reason) }

// Encode serializes fields to compact JSON after injecting the local
// protocol version, then appends the CR LF frame terminator. Encode is
// pure and stateless: Router and Client Session may both call it without
// coordination.
func Encode(fields map[string]any) ([]byte, error) {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["version"] = Version()

	body, err := json.Marshal(out)
	if err != nil {
		return nil, &EncodeError{Err: err}
	}
	return append(body, eol...), nil
}

// Decode parses a single JSON object from data. A trailing CR LF is
// trimmed, but Decode does not split frames - that is the Router's job,
// not the codec's - and fails if data does not contain exactly one JSON
// value, or if that value is not an object.
func Decode(data []byte) (Frame, error) {
	trimmed := bytes.TrimRight(data, "\r\n")
	if len(trimmed) == 0 {
		return nil, &DecodeError{Err: fmt.Errorf("empty frame")}
	}

	var raw any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	if err := dec.Decode(&raw); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if dec.More() {
		return nil, &DecodeError{Err: fmt.Errorf("trailing data after JSON value")}
	}

	obj, ok := raw.(map[string]any)
	if !ok {
		return nil, &DecodeError{Err: fmt.Errorf("top-level JSON value is not an object")}
	}
	coerceDottedVersion(obj)
	return Frame(obj), nil
}

// coerceDottedVersion tolerates a server that encodes version as a dotted
// string ("0.51") rather than the number this library always produces on
// Encode, so a future server following the same convention loosely still
// decodes. Anything that isn't a valid float is left untouched for
// Validate to reject.
func coerceDottedVersion(obj map[string]any) {
	s, ok := obj["version"].(string)
	if !ok {
		return
	}
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		obj["version"] = v
	}
}

// Validate reports whether msg carries a numeric version field whose
// major part is <= ProtocolMajor, and a string identifier field.
func Validate(msg Frame) error {
	versionVal, hasVersion := msg["version"]
	if !hasVersion {
		return &ProtocolError{Reason: "missing version field"}
	}
	version, ok := versionVal.(float64)
	if !ok {
		return &ProtocolError{Reason: "version field is not numeric"}
	}
	if int(version) > ProtocolMajor {
		return &ProtocolError{Reason: fmt.Sprintf("unsupported major version %d", int(version))}
	}

	identVal, hasIdent := msg["identifier"]
	if !hasIdent {
		return &ProtocolError{Reason: "missing identifier field"}
	}
	if _, ok := identVal.(string); !ok {
		return &ProtocolError{Reason: "identifier field is not a string"}
	}

	return nil
}

// DecodeValidated decodes and validates a frame in one step, the form
// both Router and Client Session actually use on the inbound path.
func DecodeValidated(data []byte) (Frame, error) {
	frame, err := Decode(data)
	if err != nil {
		return nil, err
	}
	if err := Validate(frame); err != nil {
		return nil, err
	}
	return frame, nil
}
