// Package router owns the TCP connection to a consoled server: it dials,
// splits the incoming byte stream into CR LF delimited frames, answers
// server pings without bothering the application, and multiplexes reads
// and writes over channels so the client session never blocks on socket
// I/O directly.
package router

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gynnantonix/consoled-client/internal/debugstore"
	"github.com/gynnantonix/consoled-client/internal/wire"
)

// State is the Router's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDraining
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDraining:
		return "draining"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// ConnectError reports that Start failed to establish or validate the
// connection.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("router: connect %s: %v", e.Addr, e.Err) }
func (e *ConnectError) Unwrap() error { return e.Err }

// ConnectionLostError reports that an established connection failed while
// running, distinguishing it from a clean Shutdown-initiated close.
type ConnectionLostError struct {
	Err error
}

func (e *ConnectionLostError) Error() string { return fmt.Sprintf("router: connection lost: %v", e.Err) }
func (e *ConnectionLostError) Unwrap() error { return e.Err }

// Logger is the subset of log/slog.Logger the Router depends on, so tests
// can substitute a recording stub without dragging in slog's handler
// plumbing.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Metrics receives lifecycle counters. A nil Metrics is never called;
// callers that wire github.com/prometheus/client_golang supply an adapter.
type Metrics interface {
	IncFramesSent()
	IncFramesReceived()
	IncReconnects()
	IncPings()
}

// Inbound is one frame delivered up to the client session, plus a hint of
// how many further frames were already extracted from the same read and
// are queued behind it - the session uses this to decide whether to keep
// draining ProcessMessages without going back to the network.
type Inbound struct {
	Frame     wire.Frame
	Remaining int
}

// Config configures a Router. Addr is a host:port pair; DialTimeout bounds
// the initial TCP handshake. The multiplex loop is driven by channel
// selects, not polling, so a Shutdown request is observed as soon as the
// loop is back in its select.
type Config struct {
	Addr        string
	DialTimeout time.Duration
	Debug       bool
	DebugStore  *debugstore.Store
	Logger      Logger
	Metrics     Metrics
}

// Router owns a single TCP connection for the lifetime of one Start/
// Shutdown cycle. It is not reusable after Shutdown; callers needing to
// reconnect construct a new Router.
type Router struct {
	cfg Config

	mu    sync.Mutex
	state State
	conn  net.Conn

	outbound chan wire.Frame
	inbound  chan Inbound
	errc     chan error
	shutdown chan struct{}
	done     chan struct{}

	wg sync.WaitGroup
}

// New builds a Router in StateDisconnected. Call Start to dial.
func New(cfg Config) *Router {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Router{
		cfg:      cfg,
		state:    StateDisconnected,
		outbound: make(chan wire.Frame, 64),
		inbound:  make(chan Inbound, 64),
		errc:     make(chan error, 1),
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// State returns the Router's current lifecycle state.
func (r *Router) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Start dials Addr within DialTimeout and spawns the multiplex loop. It
// returns a *ConnectError on dial failure and leaves the Router in
// StateDisconnected so the caller may retry with a fresh Router.
func (r *Router) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.state != StateDisconnected {
		r.mu.Unlock()
		return fmt.Errorf("router: Start called in state %s", r.state)
	}
	r.state = StateConnecting
	r.mu.Unlock()

	dialer := net.Dialer{Timeout: r.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", r.cfg.Addr)
	if err != nil {
		r.mu.Lock()
		r.state = StateDisconnected
		r.mu.Unlock()
		return &ConnectError{Addr: r.cfg.Addr, Err: err}
	}

	r.mu.Lock()
	r.conn = conn
	r.state = StateConnected
	r.mu.Unlock()

	r.wg.Add(2)
	readResults := make(chan readResult, 8)
	go r.readPump(conn, readResults)
	go r.multiplex(readResults)

	return nil
}

// Outbound returns the channel the client session sends frames to for
// transmission.
func (r *Router) Outbound() chan<- wire.Frame { return r.outbound }

// Inbound returns the channel the multiplex loop delivers decoded,
// non-ping frames on.
func (r *Router) Inbound() <-chan Inbound { return r.inbound }

// Errc returns the channel a terminal connection error (as opposed to a
// clean Shutdown) is posted to, closed otherwise once the loop exits.
func (r *Router) Errc() <-chan error { return r.errc }

// Done is closed once the multiplex loop has fully exited and the
// underlying socket is closed.
func (r *Router) Done() <-chan struct{} { return r.done }

// Shutdown requests the multiplex loop drain and exit, then blocks up to
// timeout for it to do so. If the loop has not exited by then, the socket
// is closed out from under it so a blocked read or write fails and the
// loop can finish. Shutdown is idempotent.
func (r *Router) Shutdown(timeout time.Duration) error {
	r.mu.Lock()
	if r.state == StateTerminated {
		r.mu.Unlock()
		return nil
	}
	if r.state == StateDisconnected || r.state == StateConnecting {
		r.state = StateTerminated
		r.mu.Unlock()
		close(r.done)
		return nil
	}
	r.state = StateDraining
	r.mu.Unlock()

	select {
	case <-r.shutdown:
	default:
		close(r.shutdown)
	}

	select {
	case <-r.done:
		return nil
	case <-time.After(timeout):
		r.mu.Lock()
		if r.conn != nil {
			_ = r.conn.Close()
		}
		r.mu.Unlock()
		return errors.New("router: timed out waiting for multiplex loop to exit")
	}
}

type readResult struct {
	data []byte
	err  error
}

// readPump blocks on conn.Read and forwards every chunk (or the terminal
// error) to results. Closing conn from the multiplex loop is what
// unblocks a pending Read during shutdown.
func (r *Router) readPump(conn net.Conn, results chan<- readResult) {
	defer r.wg.Done()
	defer close(results)

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			results <- readResult{data: chunk}
		}
		if err != nil {
			results <- readResult{err: err}
			return
		}
	}
}

// multiplex is the Router's single owner of conn: it services outbound
// frames, inbound byte chunks, and shutdown requests from one select
// loop, so no lock is needed around socket access.
func (r *Router) multiplex(results <-chan readResult) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		r.state = StateTerminated
		_ = r.conn.Close()
		r.mu.Unlock()
		close(r.done)
	}()

	var reassembly bytes.Buffer
	var terminalErr error

loop:
	for {
		select {
		case <-r.shutdown:
			break loop

		case frame, ok := <-r.outbound:
			if !ok {
				break loop
			}
			if err := r.writeFrame(frame); err != nil {
				terminalErr = err
				break loop
			}

		case res, ok := <-results:
			if !ok {
				break loop
			}
			if res.err != nil {
				terminalErr = res.err
				break loop
			}
			frames := splitFrames(&reassembly, res.data)
			stopped := false
			for i, raw := range frames {
				if r.deliverFrame(raw, len(frames)-1-i) {
					stopped = true
					break
				}
			}
			if stopped {
				break loop
			}
		}
	}

	if terminalErr != nil {
		r.errc <- &ConnectionLostError{Err: terminalErr}
	}
	close(r.errc)
}

func (r *Router) writeFrame(frame wire.Frame) error {
	encoded, err := wire.Encode(frame)
	if err != nil {
		return err
	}
	if _, err := r.conn.Write(encoded); err != nil {
		return err
	}
	if r.cfg.Debug {
		r.logFrame("send", encoded)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncFramesSent()
	}
	return nil
}

// deliverFrame decodes one CR LF delimited frame, answers it directly if
// it is a ping, and otherwise pushes it to Inbound. It reports whether
// Shutdown was observed while trying to deliver the frame, so multiplex
// can stop draining the current read immediately instead of blocking on a
// full inbound channel past the shutdown deadline.
func (r *Router) deliverFrame(raw []byte, remaining int) (shutdownSeen bool) {
	if r.cfg.Debug {
		r.logFrame("recv", raw)
	}
	if r.cfg.Metrics != nil {
		r.cfg.Metrics.IncFramesReceived()
	}

	frame, err := wire.DecodeValidated(raw)
	if err != nil {
		if r.cfg.Logger != nil {
			r.cfg.Logger.Warn("router: dropping unparseable frame", "error", err)
		}
		return false
	}

	if frame.IsPingRequest() {
		if r.cfg.Metrics != nil {
			r.cfg.Metrics.IncPings()
		}
		if err := r.writeFrame(wire.PingResponseFrame()); err != nil && r.cfg.Logger != nil {
			r.cfg.Logger.Warn("router: failed to answer ping", "error", err)
		}
		return false
	}

	select {
	case r.inbound <- Inbound{Frame: frame, Remaining: remaining}:
		return false
	case <-r.shutdown:
		if r.cfg.Logger != nil {
			r.cfg.Logger.Warn("router: dropping frame on shutdown, inbound full", "identifier", frame.Identifier())
		}
		return true
	}
}

func (r *Router) logFrame(direction string, raw []byte) {
	if r.cfg.Logger != nil {
		r.cfg.Logger.Debug("router: frame", "direction", direction, "bytes", bytes.TrimRight(raw, "\r\n"))
	}
	if r.cfg.DebugStore != nil {
		_ = r.cfg.DebugStore.Record(direction, raw)
	}
}

// splitFrames appends chunk to reassembly and extracts every complete
// CR LF terminated frame currently buffered, leaving a partial trailing
// frame (if any) in reassembly for the next chunk.
func splitFrames(reassembly *bytes.Buffer, chunk []byte) [][]byte {
	reassembly.Write(chunk)

	var frames [][]byte
	for {
		data := reassembly.Bytes()
		idx := bytes.Index(data, []byte{0x0D, 0x0A})
		if idx < 0 {
			break
		}
		frame := make([]byte, idx)
		copy(frame, data[:idx])
		frames = append(frames, frame)
		reassembly.Next(idx + 2)
	}
	return frames
}
