// Package wire implements the line-delimited JSON message format spoken
// between a consoled client and server: one JSON object per frame,
// terminated by CR LF, carrying a numeric protocol version and a
// lower-case identifier that selects the frame's remaining fields.
package wire

import "fmt"

// ProtocolMajor and ProtocolMinor are this library's declared protocol
// version. Outbound frames always carry version = Major + Minor/100.
// Inbound frames are accepted as long as their major part is <= Major.
const (
	ProtocolMajor = 0
	ProtocolMinor = 51
)

// Version returns the numeric version value injected into every outbound
// frame: MAJOR + MINOR/100.
func Version() float64 {
	return float64(ProtocolMajor) + float64(ProtocolMinor)/100
}

// Identifiers recognized on the wire. Client-to-server identifiers are
// produced by this library; server-to-client identifiers are consumed.
const (
	IdentStatus       = "status"
	IdentOpen         = "open"
	IdentClose        = "close"
	IdentWrite        = "write"
	IdentPingResponse = "ping-response"
	IdentData         = "data"
	IdentOk           = "ok"
	IdentFail         = "fail"
	IdentPingRequest  = "ping-request"
)

// Commands carried in the sub-field "command" of an "ok" frame.
const (
	CmdOpen   = "open"
	CmdClose  = "close"
	CmdStatus = "status"
	CmdWrite  = "write"
)

// Frame is a decoded or to-be-encoded message: a flexible field mapping
// keyed by JSON field name, mirroring the server's own duck-typed wire
// objects. The map holds every field including "version" and "identifier";
// the accessor helpers below just save callers repeated type assertions.
type Frame map[string]any

// NewFrame builds a Frame for the given identifier with the supplied
// extra fields, ready for Encode. The version field is injected by
// Encode, not here, so a Frame under construction can still be mutated
// freely before it goes on the wire.
func NewFrame(identifier string, fields map[string]any) Frame {
	f := make(Frame, len(fields)+1)
	for k, v := range fields {
		f[k] = v
	}
	f["identifier"] = identifier
	return f
}

// Identifier returns the frame's identifier field, or "" if absent or
// not a string.
func (f Frame) Identifier() string {
	s, _ := f["identifier"].(string)
	return s
}

// Command returns the frame's "command" sub-field, or "" if absent.
func (f Frame) Command() string {
	s, _ := f["command"].(string)
	return s
}

// Stream returns the frame's "stream" field, or "" if absent.
func (f Frame) Stream() string {
	s, _ := f["stream"].(string)
	return s
}

// String returns the frame's named field as a string, or "" if the field
// is absent or not a string.
func (f Frame) String(field string) string {
	s, _ := f[field].(string)
	return s
}

// Float returns the frame's named field as a float64, or 0 if the field
// is absent or not numeric. json.Unmarshal into map[string]any always
// decodes JSON numbers as float64, so this covers every inbound frame.
func (f Frame) Float(field string) float64 {
	v, _ := f[field].(float64)
	return v
}

// Int returns the frame's named field truncated to an int, or 0 if the
// field is absent or not numeric.
func (f Frame) Int(field string) int {
	return int(f.Float(field))
}

// VersionMajor returns the integer part of the frame's version field.
func (f Frame) VersionMajor() int {
	return int(f.Float("version"))
}

// StatusFrame builds an outbound {identifier: "status"} request.
func StatusFrame() Frame {
	return NewFrame(IdentStatus, nil)
}

// OpenFrame builds an outbound {identifier: "open", stream, mode} request.
func OpenFrame(stream, mode string) Frame {
	return NewFrame(IdentOpen, map[string]any{
		"stream": stream,
		"mode":   mode,
	})
}

// CloseFrame builds an outbound {identifier: "close", stream} request.
func CloseFrame(stream string) Frame {
	return NewFrame(IdentClose, map[string]any{
		"stream": stream,
	})
}

// WriteFrame builds an outbound {identifier: "write", stream, data}
// request. The caller is responsible for having appended CR LF to data
// per the wire contract (Client Session does this, not the codec).
func WriteFrame(stream, data string) Frame {
	return NewFrame(IdentWrite, map[string]any{
		"stream": stream,
		"data":   data,
	})
}

// PingResponseFrame builds the autonomous reply to a server ping-request.
func PingResponseFrame() Frame {
	return NewFrame(IdentPingResponse, nil)
}

// IsPingRequest reports whether f is a server-initiated liveness ping.
func (f Frame) IsPingRequest() bool {
	return f.Identifier() == IdentPingRequest
}

// DebugString renders a frame compactly for debug logs, eliding large
// data payloads down to a byte count.
func (f Frame) DebugString() string {
	if data, ok := f["data"].(string); ok && len(data) > 32 {
		trimmed := make(Frame, len(f))
		for k, v := range f {
			trimmed[k] = v
		}
		trimmed["data"] = fmt.Sprintf("<%d bytes>", len(data))
		f = trimmed
	}
	return fmt.Sprintf("%s/%s %v", f.Identifier(), f.Command(), map[string]any(f))
}
