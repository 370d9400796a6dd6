// Package consoled is a client library for a consoled server: a TCP
// service that multiplexes a set of named byte streams to many
// simultaneous readers and writers over a line-delimited JSON protocol.
// A Session owns a background Router goroutine that speaks the wire
// protocol and exposes blocking and non-blocking methods an application
// uses to subscribe to streams, read and write their data, and query
// server status.
package consoled

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gynnantonix/consoled-client/internal/debugstore"
	"github.com/gynnantonix/consoled-client/internal/router"
	"github.com/gynnantonix/consoled-client/internal/streamfilter"
	"github.com/gynnantonix/consoled-client/internal/wire"
)

// StreamDescriptor is the cached metadata the server reports for a stream:
// who (if anyone) holds write access, how many listeners it has, and when
// this information was last refreshed.
type StreamDescriptor struct {
	Name          string
	ListenerCount int
	Writer        string
	LastUpdate    time.Time
}

// Session is the foreground object an application holds. It owns the
// Router's lifecycle and every cache; the Router goroutine never touches
// these fields, so the one mutator (whichever goroutine calls
// ProcessMessages or the blocking helpers built on it) needs no locking
// around them.
type Session struct {
	cfg    *Config
	id     uuid.UUID
	filter *streamfilter.Filter

	router     *router.Router
	debugStore *debugstore.Store
	metrics    *sessionMetrics

	streams           map[string]*StreamDescriptor
	subscribed        map[string]string
	buffers           map[string]*bytes.Buffer
	errorList         []string
	singleShotErr     string
	lastGeneralStatus time.Time
	uptime            float64
	clientCount       int
}

// New allocates a Session and, unless WithNoConnect was supplied, connects
// it immediately. Config is validated before any goroutine starts.
func New(opts ...Option) (*Session, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	filter, err := streamfilter.New()
	if err != nil {
		return nil, fmt.Errorf("consoled: building stream filter: %w", err)
	}

	s := &Session{
		cfg:        cfg,
		id:         uuid.New(),
		filter:     filter,
		streams:    make(map[string]*StreamDescriptor),
		subscribed: make(map[string]string),
		buffers:    make(map[string]*bytes.Buffer),
	}
	s.cfg.Logger = s.cfg.Logger.With("session", s.id.String())

	if cfg.MetricsRegistry != nil {
		s.metrics = newSessionMetrics(cfg.MetricsRegistry)
	}

	if cfg.Debug {
		const dbPath = "consoled-debug.db"
		_ = removeIfExists(dbPath)
		store, err := debugstore.Open(dbPath, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("consoled: opening debug store: %w", err)
		}
		s.debugStore = store
	}

	if !cfg.NoConnect {
		if err := s.Connect(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// CheckServer opens and immediately closes a TCP connection to host,
// reporting reachability. host may carry its own port ("10.0.0.5:29168");
// otherwise DefaultPort is assumed. Used by front-ends before constructing
// a Session.
func CheckServer(host string, timeout ...time.Duration) bool {
	to := DefaultTimeout
	if len(timeout) > 0 && timeout[0] > 0 {
		to = timeout[0]
	}
	addr := host
	if _, _, err := net.SplitHostPort(host); err != nil {
		addr = fmt.Sprintf("%s:%d", host, DefaultPort)
	}
	conn, err := net.DialTimeout("tcp", addr, to)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

// Connect starts the Router and waits for the first general status or
// until Config.Timeout elapses. A second call while already connected is
// a no-op. An optional host overrides Config.Server for this connection.
func (s *Session) Connect(host ...string) error {
	if s.Connected() {
		return nil
	}

	ctx, span := s.cfg.Tracer.Start(context.Background(), "consoled.Connect")
	defer span.End()

	addr := s.cfg.Server
	if len(host) > 0 && host[0] != "" {
		addr = host[0]
	}
	s.cfg.Server = addr

	r := router.New(router.Config{
		Addr:        fmt.Sprintf("%s:%d", addr, s.cfg.Port),
		DialTimeout: connectTimeout,
		Debug:       s.cfg.Debug,
		DebugStore:  s.debugStore,
		Logger:      s.cfg.Logger,
		Metrics:     s.routerMetrics(),
	})

	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	if err := r.Start(dialCtx); err != nil {
		var ce *router.ConnectError
		if errors.As(err, &ce) {
			return &ConnectError{Addr: ce.Addr, Err: ce.Err}
		}
		return &ConnectError{Addr: s.cfg.Server, Err: err}
	}
	s.router = r
	if s.metrics != nil {
		s.metrics.reconnects.Inc()
	}

	s.ReqAvailableStreams()
	deadline := time.Now().Add(s.cfg.Timeout)
	for time.Now().Before(deadline) && s.lastGeneralStatus.IsZero() {
		if _, err := s.ProcessMessages(1 * time.Second); err != nil {
			return err
		}
	}
	return nil
}

// Disconnect issues close requests for every subscribed stream, signals
// the Router to shut down, waits up to Config.Timeout for it to exit, and
// clears all caches regardless of whether the Router exited cleanly.
func (s *Session) Disconnect() error {
	if s.router == nil {
		return nil
	}

	for name := range s.subscribed {
		s.ReqCloseStream(name)
	}
	_, _ = s.ProcessMessages(300 * time.Millisecond)

	err := s.router.Shutdown(s.cfg.Timeout)
	s.router = nil
	s.streams = make(map[string]*StreamDescriptor)
	s.subscribed = make(map[string]string)
	s.buffers = make(map[string]*bytes.Buffer)
	s.lastGeneralStatus = time.Time{}

	if s.debugStore != nil {
		_ = s.debugStore.Close()
		s.debugStore = nil
	}

	if err != nil {
		return &ConnectionLostError{Err: err}
	}
	return nil
}

// Connected reports whether the Router is alive and its socket connected.
func (s *Session) Connected() bool {
	return s.router != nil && s.router.State() == router.StateConnected
}

// Uptime returns the server uptime (seconds) reported by the last general
// status, or 0 if none has been received yet.
func (s *Session) Uptime() float64 { return s.uptime }

// ClientCount returns the client count reported by the last general
// status, or 0 if none has been received yet.
func (s *Session) ClientCount() int { return s.clientCount }

// ProcessMessages drains every inbound frame currently queued, dispatching
// each by identifier to update caches. It stops once the Router reports no
// further frames are queued behind the one just delivered, or once
// microTimeout (default 5s) elapses without a new frame arriving. It
// returns the number of frames processed.
func (s *Session) ProcessMessages(microTimeout ...time.Duration) (int, error) {
	if s.router == nil {
		return 0, nil
	}

	wait := 5 * time.Second
	if len(microTimeout) > 0 && microTimeout[0] > 0 {
		wait = microTimeout[0]
	}

	count := 0
	for {
		timer := time.NewTimer(wait)
		select {
		case in, ok := <-s.router.Inbound():
			timer.Stop()
			if !ok {
				return count, nil
			}
			s.dispatch(in.Frame)
			count++
			if s.metrics != nil {
				s.metrics.inboundQueueDepth.Set(float64(in.Remaining))
			}
			if in.Remaining == 0 {
				return count, nil
			}

		case err, ok := <-s.router.Errc():
			timer.Stop()
			if ok && err != nil {
				s.recordAsync(err.Error())
				return count, &ConnectionLostError{Err: err}
			}
			return count, nil

		case <-timer.C:
			return count, nil
		}
	}
}

// ReqAvailableStreams sends a status request without waiting for a reply.
func (s *Session) ReqAvailableStreams() {
	s.send(wire.StatusFrame())
}

// ReadAvailableStreams returns the cached stream names, sorted.
func (s *Session) ReadAvailableStreams() []string {
	names := make([]string, 0, len(s.streams))
	for name := range s.streams {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AvailableStreams refreshes the cached stream list if it is older than
// StatusLifetime or has never been populated, then returns it.
func (s *Session) AvailableStreams() []string {
	_, span := s.cfg.Tracer.Start(context.Background(), "consoled.AvailableStreams")
	defer span.End()

	if s.lastGeneralStatus.IsZero() || time.Since(s.lastGeneralStatus) > StatusLifetime {
		s.ReqAvailableStreams()
		deadline := time.Now().Add(2 * s.cfg.Timeout)
		for time.Now().Before(deadline) {
			s.ProcessMessages(1 * time.Second)
			if !s.lastGeneralStatus.IsZero() && time.Since(s.lastGeneralStatus) < StatusLifetime {
				break
			}
		}
		if s.lastGeneralStatus.IsZero() || time.Since(s.lastGeneralStatus) > StatusLifetime {
			s.recordAsync("available streams: status refresh did not arrive before deadline")
		}
	}
	return s.ReadAvailableStreams()
}

// ReqOpenStream sends an open request for name with the given mode
// (default "read"). It rejects streams absent from the cached stream
// list without sending anything.
func (s *Session) ReqOpenStream(name string, perms ...string) error {
	mode := "read"
	if len(perms) > 0 && perms[0] != "" {
		mode = perms[0]
	}
	name = strings.ToUpper(name)
	if _, ok := s.streams[name]; !ok {
		err := &ConfigError{Field: "name", Reason: fmt.Sprintf("unknown stream %q", name)}
		s.recordSingleShot(err.Error())
		return err
	}
	s.send(wire.OpenFrame(name, mode))
	return nil
}

// ReqCloseStream sends a close request for name. A stream with no current
// subscription is a no-op.
func (s *Session) ReqCloseStream(name string) {
	name = strings.ToUpper(name)
	if _, ok := s.subscribed[name]; !ok {
		return
	}
	s.send(wire.CloseFrame(name))
}

// Subscribe refreshes the stream list, opens name with the requested mode
// (default "read"), and waits up to Config.Timeout for the server to
// confirm a mode containing every requested permission.
func (s *Session) Subscribe(name string, mode ...string) bool {
	_, span := s.cfg.Tracer.Start(context.Background(), "consoled.Subscribe")
	defer span.End()

	requested := "read"
	if len(mode) > 0 && mode[0] != "" {
		requested = mode[0]
	}
	name = strings.ToUpper(name)

	s.AvailableStreams()
	if _, ok := s.streams[name]; !ok {
		s.recordSingleShot(fmt.Sprintf("subscribe %s: unknown stream", name))
		return false
	}
	if err := s.ReqOpenStream(name, requested); err != nil {
		return false
	}

	deadline := time.Now().Add(s.cfg.Timeout)
	for time.Now().Before(deadline) {
		s.ProcessMessages(1 * time.Second)
		if confirmed, ok := s.subscribed[name]; ok {
			if hasAllPerms(confirmed, requested) {
				return true
			}
			s.recordSingleShot(fmt.Sprintf("subscribe %s: confirmed mode %q lacks requested permission %q", name, confirmed, requested))
			return false
		}
	}
	s.recordSingleShot(fmt.Sprintf("subscribe %s: timed out waiting for acknowledgement", name))
	return false
}

// ReadStream drains pending frames for up to 300ms, then returns and
// clears name's receive buffer. If Config.TimestampData is set, every line
// is prefixed with the current time formatted per Config.TimestampFmt.
func (s *Session) ReadStream(name string) (string, error) {
	name = strings.ToUpper(name)
	if _, ok := s.subscribed[name]; !ok {
		return "", &NotSubscribedError{Stream: name}
	}

	s.ProcessMessages(300 * time.Millisecond)

	buf, ok := s.buffers[name]
	if !ok || buf.Len() == 0 {
		return "", nil
	}
	data := buf.String()
	buf.Reset()

	if s.cfg.TimestampData {
		data = timestampLines(data, s.cfg.TimestampFmt, time.Now())
	}
	return data, nil
}

// WriteStream sends data (with CR LF appended, per the wire contract) on
// name, rejecting the call if name is not subscribed with write
// permission.
func (s *Session) WriteStream(name, data string) error {
	name = strings.ToUpper(name)
	mode, ok := s.subscribed[name]
	if !ok || !hasPerm(mode, "write") {
		return &NotSubscribedError{Stream: name}
	}
	s.send(wire.WriteFrame(name, data+"\r\n"))
	return nil
}

// GetError returns the concatenation of the most recent single-shot
// error and any queued asynchronous errors, then clears both.
func (s *Session) GetError() string {
	var parts []string
	if s.singleShotErr != "" {
		parts = append(parts, s.singleShotErr)
		s.singleShotErr = ""
	}
	if len(s.errorList) > 0 {
		parts = append(parts, s.errorList...)
		s.errorList = nil
	}
	return strings.Join(parts, "; ")
}

// SelectStreams evaluates a CEL expression against cached Stream
// Descriptor metadata (name, listener_count, writer) and returns the
// matching stream names. It never inspects stream payload data.
func (s *Session) SelectStreams(expr string) ([]string, error) {
	descriptors := make(map[string]streamfilter.Descriptor, len(s.streams))
	for name, d := range s.streams {
		descriptors[name] = streamfilter.Descriptor{
			Name:          d.Name,
			ListenerCount: d.ListenerCount,
			Writer:        d.Writer,
		}
	}
	return s.filter.Select(expr, descriptors)
}

// removeIfExists deletes path if present; a missing debug database from a
// prior run is the common case and is not an error.
func removeIfExists(path string) error {
	err := os.Remove(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Session) send(f wire.Frame) {
	if s.router == nil {
		return
	}
	s.router.Outbound() <- f
}

func (s *Session) routerMetrics() router.Metrics {
	if s.metrics == nil {
		return nil
	}
	return s.metrics
}

func (s *Session) recordSingleShot(msg string) {
	s.singleShotErr = msg
	s.cfg.Logger.Warn("consoled: " + msg)
}

func (s *Session) recordAsync(msg string) {
	s.errorList = append(s.errorList, msg)
}

func (s *Session) dispatch(f wire.Frame) {
	switch f.Identifier() {
	case wire.IdentData:
		name := strings.ToUpper(f.Stream())
		if buf, ok := s.buffers[name]; ok {
			buf.WriteString(f.String("data"))
		}

	case wire.IdentOk:
		s.dispatchOk(f)

	case wire.IdentFail:
		cmd := f.Command()
		msg := f.String("error")
		if cmd != "" {
			msg = cmd + ": " + msg
		}
		s.recordAsync(msg)

	default:
		s.cfg.Logger.Debug("consoled: ignoring unrecognized frame", "identifier", f.Identifier())
	}
}

func (s *Session) dispatchOk(f wire.Frame) {
	switch f.Command() {
	case wire.CmdOpen:
		name := strings.ToUpper(f.Stream())
		s.subscribed[name] = f.String("mode")
		if _, ok := s.buffers[name]; !ok {
			s.buffers[name] = &bytes.Buffer{}
		}
		if s.metrics != nil {
			s.metrics.activeSubs.Set(float64(len(s.subscribed)))
		}

	case wire.CmdClose:
		name := strings.ToUpper(f.Stream())
		delete(s.subscribed, name)
		delete(s.buffers, name)
		if s.metrics != nil {
			s.metrics.activeSubs.Set(float64(len(s.subscribed)))
		}

	case wire.CmdStatus:
		if stream := f.Stream(); stream != "" {
			name := strings.ToUpper(stream)
			d, ok := s.streams[name]
			if !ok {
				d = &StreamDescriptor{Name: name}
				s.streams[name] = d
			}
			d.ListenerCount = f.Int("listener_count")
			d.Writer = f.String("writer")
			d.LastUpdate = time.Now()
			return
		}
		s.applyGeneralStatus(f)

	case wire.CmdWrite:
		// acknowledgement only, no cache effect

	default:
		s.cfg.Logger.Debug("consoled: ignoring ok frame with unrecognized command", "command", f.Command())
	}
}

func (s *Session) applyGeneralStatus(f wire.Frame) {
	s.lastGeneralStatus = time.Now()
	s.uptime = f.Float("uptime")
	s.clientCount = f.Int("client_count")

	present := make(map[string]bool)
	if raw, ok := f["streams"].([]any); ok {
		for _, v := range raw {
			if name, ok := v.(string); ok {
				present[strings.ToUpper(name)] = true
			}
		}
	}

	for name := range s.streams {
		if !present[name] {
			delete(s.streams, name)
		}
	}
	for name := range present {
		if _, ok := s.streams[name]; !ok {
			s.streams[name] = &StreamDescriptor{Name: name}
		}
	}
}

// timestampLines implements the prefix-on-line-start rule: data is
// normalized from CR CR LF and CR LF to LF, split into lines, and every complete line
// is re-terminated with LF after its timestamp prefix; a trailing partial
// line (no terminator yet) is prefixed but left unterminated so no
// dangling timestamp is ever emitted with nothing after it.
func timestampLines(data, format string, now time.Time) string {
	normalized := strings.ReplaceAll(data, "\r\r\n", "\n")
	normalized = strings.ReplaceAll(normalized, "\r\n", "\n")
	segments := strings.Split(normalized, "\n")
	stamp := now.Format(format)

	var b strings.Builder
	for i, seg := range segments {
		last := i == len(segments)-1
		if last && seg == "" {
			continue
		}
		b.WriteString(stamp)
		b.WriteString(" ")
		b.WriteString(seg)
		if !last {
			b.WriteString("\n")
		}
	}
	return b.String()
}

// splitPerms tokenizes a server mode string on whitespace, comma, and
// hyphen boundaries, e.g. "read-write" or "read, write" both yield
// ["read", "write"].
func splitPerms(mode string) []string {
	return strings.FieldsFunc(mode, func(r rune) bool {
		return r == ' ' || r == '\t' || r == ',' || r == '-'
	})
}

func hasAllPerms(confirmed, requested string) bool {
	have := make(map[string]bool)
	for _, p := range splitPerms(confirmed) {
		have[strings.ToLower(p)] = true
	}
	for _, p := range splitPerms(requested) {
		if !have[strings.ToLower(p)] {
			return false
		}
	}
	return true
}

func hasPerm(mode, perm string) bool {
	for _, p := range splitPerms(mode) {
		if strings.EqualFold(p, perm) {
			return true
		}
	}
	return false
}
