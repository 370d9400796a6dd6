package wire

import (
	"strings"
	"testing"
)

func TestEncodeAppendsVersionAndTerminator(t *testing.T) {
	out, err := Encode(map[string]any{"identifier": "status"})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	if !strings.HasSuffix(string(out), "\r\n") {
		t.Errorf("encoded frame missing CR LF terminator: %q", out)
	}

	frame, err := Decode(out)
	if err != nil {
		t.Fatalf("Decode of our own Encode output failed: %v", err)
	}
	if frame.Float("version") != Version() {
		t.Errorf("version = %v, want %v", frame.Float("version"), Version())
	}
	if frame.Identifier() != "status" {
		t.Errorf("identifier = %q, want %q", frame.Identifier(), "status")
	}
}

func TestDecodeEncodeRoundTrip(t *testing.T) {
	want := map[string]any{
		"identifier": "open",
		"stream":     "CONSOLE1",
		"mode":       "read write",
	}
	encoded, err := Encode(want)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	got, err := Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("field %q = %v, want %v", k, got[k], v)
		}
	}
	if got.Float("version") != Version() {
		t.Errorf("version not preserved exactly: got %v, want %v", got.Float("version"), Version())
	}
}

func TestDecodeMalformedJSON(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"truncated object", []byte(`{"identifier":"status"`)},
		{"not an object", []byte(`["status"]`)},
		{"empty input", []byte(``)},
		{"bare string", []byte(`"status"`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode(tt.data); err == nil {
				t.Errorf("expected error decoding %q, got nil", tt.data)
			}
		})
	}
}

func TestValidateRequiresVersionAndIdentifier(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr bool
	}{
		{"valid", Frame{"version": 0.51, "identifier": "status"}, false},
		{"missing version", Frame{"identifier": "status"}, true},
		{"non-numeric version", Frame{"version": "0.51", "identifier": "status"}, true},
		{"missing identifier", Frame{"version": 0.51}, true},
		{"non-string identifier", Frame{"version": 0.51, "identifier": 7}, true},
		{"future major version rejected", Frame{"version": 1.0, "identifier": "status"}, true},
		{"older minor version accepted", Frame{"version": 0.1, "identifier": "status"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.frame)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%v) error = %v, wantErr %v", tt.frame, err, tt.wantErr)
			}
		})
	}
}

func TestDecodeValidatedRejectsUnversionedFrame(t *testing.T) {
	if _, err := DecodeValidated([]byte(`{"identifier":"data","stream":"A","data":"hi"}`)); err == nil {
		t.Error("expected ProtocolError for frame missing version")
	}
}

func TestPingRequestRoundTrip(t *testing.T) {
	encoded, err := Encode(map[string]any{"identifier": IdentPingRequest})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	frame, err := DecodeValidated(encoded)
	if err != nil {
		t.Fatalf("DecodeValidated failed: %v", err)
	}
	if !frame.IsPingRequest() {
		t.Error("expected IsPingRequest() to be true")
	}

	reply, err := Encode(PingResponseFrame())
	if err != nil {
		t.Fatalf("Encode of ping response failed: %v", err)
	}
	replyFrame, err := DecodeValidated(reply)
	if err != nil {
		t.Fatalf("DecodeValidated of ping response failed: %v", err)
	}
	if replyFrame.Identifier() != IdentPingResponse {
		t.Errorf("identifier = %q, want %q", replyFrame.Identifier(), IdentPingResponse)
	}
}

func TestFrameHelperConstructors(t *testing.T) {
	open := OpenFrame("console1", "read")
	if open.Identifier() != IdentOpen || open.Stream() != "console1" || open.String("mode") != "read" {
		t.Errorf("OpenFrame produced unexpected frame: %v", open)
	}

	closeFrame := CloseFrame("console1")
	if closeFrame.Identifier() != IdentClose || closeFrame.Stream() != "console1" {
		t.Errorf("CloseFrame produced unexpected frame: %v", closeFrame)
	}

	write := WriteFrame("console1", "hello\r\n")
	if write.Identifier() != IdentWrite || write.String("data") != "hello\r\n" {
		t.Errorf("WriteFrame produced unexpected frame: %v", write)
	}
}

func TestFrameDebugStringElidesLargePayloads(t *testing.T) {
	big := strings.Repeat("x", 100)
	f := NewFrame(IdentData, map[string]any{"stream": "A", "data": big})
	s := f.DebugString()
	if strings.Contains(s, big) {
		t.Error("DebugString should not include full payload for large data fields")
	}
	if !strings.Contains(s, "100 bytes") {
		t.Errorf("DebugString should report payload size, got %q", s)
	}
}
