package consoled

import (
	"bufio"
	"net"
	"strconv"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/gynnantonix/consoled-client/internal/wire"
)

// fakeServer is a scripted consoled server for one client connection,
// standing in for the real server the way router_test.go's loopback
// fixture stands in for it at the Router layer.
type fakeServer struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func acceptFakeServer(t *testing.T, ln net.Listener) *fakeServer {
	t.Helper()
	conn, err := ln.Accept()
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &fakeServer{t: t, conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeServer) readFrame() wire.Frame {
	f.t.Helper()
	_ = f.conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := f.r.ReadBytes('\n')
	if err != nil {
		f.t.Fatalf("fakeServer read: %v", err)
	}
	frame, err := wire.DecodeValidated(line)
	if err != nil {
		f.t.Fatalf("fakeServer decode: %v", err)
	}
	return frame
}

func (f *fakeServer) write(fields map[string]any) {
	f.t.Helper()
	encoded, err := wire.Encode(fields)
	if err != nil {
		f.t.Fatalf("fakeServer encode: %v", err)
	}
	if _, err := f.conn.Write(encoded); err != nil {
		f.t.Fatalf("fakeServer write: %v", err)
	}
}

func (f *fakeServer) writeGeneralStatus(streams ...string) {
	names := make([]any, len(streams))
	for i, s := range streams {
		names[i] = s
	}
	f.write(map[string]any{
		"identifier":   wire.IdentOk,
		"command":      wire.CmdStatus,
		"streams":      names,
		"uptime":       42.0,
		"client_count": 1.0,
	})
}

func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return ln
}

func hostPort(t *testing.T, ln net.Listener) (string, int) {
	t.Helper()
	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func TestSessionConnectWaitsForGeneralStatus(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	serverReady := make(chan *fakeServer, 1)
	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame() // the status request Connect sends
		srv.writeGeneralStatus("CONSOLE1", "CONSOLE2")
		serverReady <- srv
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	<-serverReady

	if !s.Connected() {
		t.Fatal("Connected() = false after Connect returned")
	}
	streams := s.ReadAvailableStreams()
	if len(streams) != 2 || streams[0] != "CONSOLE1" || streams[1] != "CONSOLE2" {
		t.Errorf("ReadAvailableStreams() = %v, want [CONSOLE1 CONSOLE2]", streams)
	}
	if got := s.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
	if got := s.Uptime(); got != 42 {
		t.Errorf("Uptime() = %v, want 42", got)
	}
}

func TestSessionConnectFailsAgainstClosedPort(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)
	_ = ln.Close()

	_, err := New(WithServer(host), WithPort(port), WithTimeout(500*time.Millisecond))
	if err == nil {
		t.Fatal("expected New to fail against a closed port")
	}
	var connErr *ConnectError
	if !isConnectError(err, &connErr) {
		t.Errorf("expected *ConnectError, got %T: %v", err, err)
	}
}

func isConnectError(err error, target **ConnectError) bool {
	ce, ok := err.(*ConnectError)
	if ok {
		*target = ce
	}
	return ok
}

func TestSessionSubscribeOpensAndConfirms(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	done := make(chan struct{})
	go func() {
		defer close(done)
		srv := acceptFakeServer(t, ln)
		srv.readFrame() // status request from Connect
		srv.writeGeneralStatus("CONSOLE1")

		openReq := srv.readFrame() // open request from Subscribe
		if openReq.Identifier() != wire.IdentOpen || openReq.Stream() != "CONSOLE1" {
			t.Errorf("unexpected open request: %v", openReq)
		}
		srv.write(map[string]any{
			"identifier": wire.IdentOk,
			"command":    wire.CmdOpen,
			"stream":     "CONSOLE1",
			"mode":       "read write",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if !s.Subscribe("console1", "write") {
		t.Fatalf("Subscribe failed: %s", s.GetError())
	}
	<-done
}

func TestSessionSubscribeRejectsUnknownStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus() // no streams at all
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if s.Subscribe("NOPE") {
		t.Fatal("Subscribe should have failed for an unknown stream")
	}
	if msg := s.GetError(); msg == "" {
		t.Error("GetError() = \"\", want a message describing the unknown stream")
	}
}

func TestSessionReadStreamDrainsDataFrames(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
		srv.readFrame() // open
		srv.write(map[string]any{
			"identifier": wire.IdentOk,
			"command":    wire.CmdOpen,
			"stream":     "CONSOLE1",
			"mode":       "read",
		})
		srv.write(map[string]any{
			"identifier": wire.IdentData,
			"stream":     "CONSOLE1",
			"data":       "hello\r\n",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if !s.Subscribe("CONSOLE1") {
		t.Fatalf("Subscribe failed: %s", s.GetError())
	}

	deadline := time.Now().Add(2 * time.Second)
	var data string
	for time.Now().Before(deadline) {
		data, err = s.ReadStream("CONSOLE1")
		if err != nil {
			t.Fatalf("ReadStream: %v", err)
		}
		if data != "" {
			break
		}
	}
	if data != "hello\r\n" {
		t.Errorf("ReadStream() = %q, want %q", data, "hello\r\n")
	}
}

func TestSessionReadStreamTimestampsLines(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
		srv.readFrame()
		srv.write(map[string]any{
			"identifier": wire.IdentOk,
			"command":    wire.CmdOpen,
			"stream":     "CONSOLE1",
			"mode":       "read",
		})
		srv.write(map[string]any{
			"identifier": wire.IdentData,
			"stream":     "CONSOLE1",
			"data":       "line one\r\nline two\r\n",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second), WithTimestampData(time.RFC3339))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if !s.Subscribe("CONSOLE1") {
		t.Fatalf("Subscribe failed: %s", s.GetError())
	}

	deadline := time.Now().Add(2 * time.Second)
	var data string
	for time.Now().Before(deadline) && data == "" {
		data, err = s.ReadStream("CONSOLE1")
		if err != nil {
			t.Fatalf("ReadStream: %v", err)
		}
	}
	if !stringsContainsTimestamp(data) {
		t.Errorf("ReadStream() = %q, want timestamp-prefixed lines", data)
	}
}

func stringsContainsTimestamp(s string) bool {
	// RFC3339 stamps start with a 4-digit year, e.g. "2026-".
	return len(s) > 5 && s[4] == '-'
}

func TestSessionWriteStreamRejectsWithoutWritePermission(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
		srv.readFrame() // open
		srv.write(map[string]any{
			"identifier": wire.IdentOk,
			"command":    wire.CmdOpen,
			"stream":     "CONSOLE1",
			"mode":       "read",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if !s.Subscribe("CONSOLE1") {
		t.Fatalf("Subscribe failed: %s", s.GetError())
	}

	err = s.WriteStream("CONSOLE1", "should be rejected")
	if err == nil {
		t.Fatal("expected WriteStream to reject a read-only subscription")
	}
	var nse *NotSubscribedError
	if ok := errorsAsNotSubscribed(err, &nse); !ok {
		t.Errorf("expected *NotSubscribedError, got %T: %v", err, err)
	}
}

func errorsAsNotSubscribed(err error, target **NotSubscribedError) bool {
	nse, ok := err.(*NotSubscribedError)
	if ok {
		*target = nse
	}
	return ok
}

func TestSessionWriteStreamRejectsUnsubscribedStream(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	if err := s.WriteStream("CONSOLE1", "data"); err == nil {
		t.Fatal("expected WriteStream to reject an unsubscribed stream")
	}
}

func TestSessionGetErrorDrainsFailMessages(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
		srv.readFrame() // open request
		srv.write(map[string]any{
			"identifier": wire.IdentFail,
			"command":    wire.CmdOpen,
			"stream":     "CONSOLE1",
			"error":      "permission denied",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	_ = s.ReqOpenStream("CONSOLE1")

	deadline := time.Now().Add(2 * time.Second)
	var msg string
	for time.Now().Before(deadline) && msg == "" {
		s.ProcessMessages(200 * time.Millisecond)
		msg = s.GetError()
	}
	if msg == "" {
		t.Fatal("GetError() returned empty, want the server's fail message")
	}
	if got := s.GetError(); got != "" {
		t.Errorf("GetError() after drain = %q, want empty", got)
	}
}

func TestSessionSelectStreamsFiltersByDescriptor(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1", "CONSOLE2")
		srv.write(map[string]any{
			"identifier":     wire.IdentOk,
			"command":        wire.CmdStatus,
			"stream":         "CONSOLE1",
			"listener_count": 0.0,
			"writer":         "",
		})
		srv.write(map[string]any{
			"identifier":     wire.IdentOk,
			"command":        wire.CmdStatus,
			"stream":         "CONSOLE2",
			"listener_count": 3.0,
			"writer":         "op1",
		})
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer func() { _ = s.Disconnect() }()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		s.ProcessMessages(200 * time.Millisecond)
		if names, _ := s.SelectStreams("listener_count == 0"); len(names) == 1 {
			break
		}
	}

	matches, err := s.SelectStreams("listener_count == 0")
	if err != nil {
		t.Fatalf("SelectStreams: %v", err)
	}
	if len(matches) != 1 || matches[0] != "CONSOLE1" {
		t.Errorf("SelectStreams(listener_count == 0) = %v, want [CONSOLE1]", matches)
	}
}

func TestSessionDisconnectClearsCachesAndIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	go func() {
		srv := acceptFakeServer(t, ln)
		srv.readFrame()
		srv.writeGeneralStatus("CONSOLE1")
	}()

	s, err := New(WithServer(host), WithPort(port), WithTimeout(2*time.Second))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := s.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	if s.Connected() {
		t.Error("Connected() = true after Disconnect")
	}
	if streams := s.ReadAvailableStreams(); len(streams) != 0 {
		t.Errorf("ReadAvailableStreams() after Disconnect = %v, want empty", streams)
	}

	if err := s.Disconnect(); err != nil {
		t.Errorf("second Disconnect should be a no-op, got: %v", err)
	}
}

func TestCheckServerReportsReachability(t *testing.T) {
	ln := listenLoopback(t)
	host, port := hostPort(t, ln)

	if !CheckServer(hostPortString(host, port), time.Second) {
		t.Error("CheckServer() = false for a listening port")
	}

	_ = ln.Close()
	if CheckServer(hostPortString(host, port), 200*time.Millisecond) {
		t.Error("CheckServer() = true for a closed port")
	}
}

func hostPortString(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
